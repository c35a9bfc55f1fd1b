package service

import (
	"context"
	"fmt"
	"io"

	"github.com/kursadbilgin/message-dispatch/internal/domain"
	"github.com/kursadbilgin/message-dispatch/internal/repository"
)

// ReportService is the read-only statistics path over the outcome store.
type ReportService struct {
	attempts repository.AttemptRepository
}

func NewReportService(attempts repository.AttemptRepository) (*ReportService, error) {
	if attempts == nil {
		return nil, fmt.Errorf("attempt repository is required")
	}
	return &ReportService{attempts: attempts}, nil
}

func (s *ReportService) Summary(ctx context.Context) (domain.Summary, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	summary, err := s.attempts.Summarize(ctx)
	if err != nil {
		return domain.Summary{}, fmt.Errorf("failed to summarize attempts: %w", err)
	}
	return summary, nil
}

// WriteSummary renders summary as the human-readable delivery report.
func WriteSummary(w io.Writer, summary domain.Summary) error {
	_, err := fmt.Fprintf(w,
		"Delivery summary\n"+
			"  Total messages:   %d\n"+
			"  Text messages:    %d\n"+
			"  Media messages:   %d\n"+
			"  Average duration: %.2f ms\n"+
			"  Success rate:     %.2f%%\n",
		summary.Total,
		summary.TextCount,
		summary.MediaCount,
		summary.AvgDurationMs,
		summary.SuccessRatePct,
	)
	return err
}

// RunAttempts lists the attempts recorded by one run in send order.
func (s *ReportService) RunAttempts(ctx context.Context, runID string) ([]domain.Attempt, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if runID == "" {
		return nil, fmt.Errorf("%w: run id is required", domain.ErrValidation)
	}

	attempts, err := s.attempts.ListByRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts of run %s: %w", runID, err)
	}
	return attempts, nil
}

// WriteRunAttempts renders one line per attempt of a run.
func WriteRunAttempts(w io.Writer, attempts []domain.Attempt) error {
	for i, a := range attempts {
		status := "failed"
		if a.Succeeded {
			status = "ok"
		}
		if _, err := fmt.Fprintf(w, "  %d. %-5s %-6s %d ms\n", i+1, a.Kind, status, a.DurationMs); err != nil {
			return err
		}
	}
	return nil
}
