package queue

import (
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/message-dispatch/internal/domain"
)

// AttemptEvent is the broker payload announcing a recorded attempt.
type AttemptEvent struct {
	AttemptID  uint               `json:"attemptId"`
	RunID      string             `json:"runId,omitempty"`
	Kind       domain.AttemptKind `json:"kind"`
	Succeeded  bool               `json:"succeeded"`
	DurationMs int64              `json:"durationMs"`
	RecordedAt time.Time          `json:"recordedAt"`
}

func NewAttemptEvent(a domain.Attempt) AttemptEvent {
	return AttemptEvent{
		AttemptID:  a.ID,
		RunID:      a.RunID,
		Kind:       a.Kind,
		Succeeded:  a.Succeeded,
		DurationMs: a.DurationMs,
		RecordedAt: a.CreatedAt.UTC(),
	}
}

func (e AttemptEvent) Validate() error {
	if e.AttemptID == 0 {
		return fmt.Errorf("attemptId is required")
	}
	if !e.Kind.IsValid() {
		return fmt.Errorf("invalid kind %q", e.Kind)
	}
	if e.DurationMs < 0 {
		return fmt.Errorf("durationMs must be >= 0")
	}
	return nil
}

// MessageID is the broker message id, unique per attempt.
func (e AttemptEvent) MessageID() string {
	return fmt.Sprintf("attempt-%d", e.AttemptID)
}

func (e AttemptEvent) correlationID() string {
	return strings.TrimSpace(e.RunID)
}
