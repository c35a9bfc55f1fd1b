package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kursadbilgin/message-dispatch/internal/domain"
	"github.com/kursadbilgin/message-dispatch/internal/observability"
	"github.com/kursadbilgin/message-dispatch/internal/pacing"
	"github.com/kursadbilgin/message-dispatch/internal/queue"
	"github.com/kursadbilgin/message-dispatch/internal/repository"
	"go.uber.org/zap"
)

// Gateway is the outbound messaging port used by the dispatcher.
type Gateway interface {
	SendText(ctx context.Context, body string) (domain.Outcome, error)
	SendMedia(ctx context.Context) (domain.Outcome, error)
}

// EventPublisher announces recorded attempts. Publishing is best effort: the
// outcome store stays the source of truth.
type EventPublisher interface {
	Publish(ctx context.Context, event queue.AttemptEvent) error
}

const eventPublishTimeout = 5 * time.Second

// State is the lifecycle state of a dispatch run.
type State string

const (
	StatePending State = "PENDING"
	StateSending State = "SENDING"
	StateWaiting State = "WAITING"
	StateDone    State = "DONE"
	StateAborted State = "ABORTED"
)

func (s State) String() string { return string(s) }

// RunResult counts the attempts persisted by one run.
type RunResult struct {
	Attempted int
	Succeeded int
}

// DispatchService sends the text batch one message at a time, newest
// declaration first, followed by a single media message. Every attempt is
// persisted before the next one starts; a persistence failure aborts the run.
type DispatchService struct {
	gateway  Gateway
	attempts repository.AttemptRepository
	pacer    pacing.Pacer
	messages []string
	logger   *zap.Logger
	metrics  *observability.Metrics
	events   EventPublisher

	mu      sync.RWMutex
	state   State
	lastErr error
}

func NewDispatchService(
	gateway Gateway,
	attempts repository.AttemptRepository,
	pacer pacing.Pacer,
	messages []string,
	logger *zap.Logger,
) (*DispatchService, error) {
	if gateway == nil {
		return nil, fmt.Errorf("gateway is required")
	}
	if attempts == nil {
		return nil, fmt.Errorf("attempt repository is required")
	}
	if pacer == nil {
		pacer = pacing.NewFixedPacer(pacing.DefaultInterval)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DispatchService{
		gateway:  gateway,
		attempts: attempts,
		pacer:    pacer,
		messages: append([]string(nil), messages...),
		logger:   logger,
		state:    StatePending,
	}, nil
}

func (s *DispatchService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

func (s *DispatchService) SetEventPublisher(events EventPublisher) {
	if s == nil {
		return
	}
	s.events = events
}

func (s *DispatchService) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Err returns the error that aborted the last run, if any.
func (s *DispatchService) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// Run executes the batch. Cancelling ctx interrupts the pacing wait only;
// a send or persist already in progress is allowed to settle.
func (s *DispatchService) Run(ctx context.Context) (RunResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	logger := observability.WithContextLogger(s.logger, ctx)
	runID, _ := observability.RunIDFromContext(ctx)
	settleCtx := context.WithoutCancel(ctx)

	queue := reverseOrder(s.messages)
	pending := len(queue) + 1
	result := RunResult{}

	s.setState(logger, StatePending, nil)
	s.metrics.SetPending(pending)
	logger.Info("dispatch run started",
		zap.Int("textMessages", len(queue)),
		zap.String("order", "reverse declaration"),
	)

	for i, body := range queue {
		if err := ctx.Err(); err != nil {
			return result, s.abort(logger, fmt.Errorf("dispatch interrupted: %w", err))
		}

		s.setState(logger, StateSending, nil)
		outcome, err := s.gateway.SendText(settleCtx, body)
		if err != nil {
			return result, s.abort(logger, fmt.Errorf("text send failed unexpectedly: %w", err))
		}

		if err := s.persist(settleCtx, logger, runID, domain.AttemptKindText, outcome,
			zap.Int("position", i+1),
			zap.Int("payloadLength", len(body)),
		); err != nil {
			return result, s.abort(logger, err)
		}
		result.Attempted++
		if outcome.Succeeded {
			result.Succeeded++
		}
		pending--
		s.metrics.SetPending(pending)

		s.setState(logger, StateWaiting, nil)
		if err := s.pacer.Wait(ctx); err != nil {
			return result, s.abort(logger, fmt.Errorf("dispatch interrupted: %w", err))
		}
		s.setState(logger, StatePending, nil)
	}

	if err := ctx.Err(); err != nil {
		return result, s.abort(logger, fmt.Errorf("dispatch interrupted: %w", err))
	}

	s.setState(logger, StateSending, nil)
	outcome, err := s.gateway.SendMedia(settleCtx)
	if err != nil {
		return result, s.abort(logger, fmt.Errorf("media send failed unexpectedly: %w", err))
	}
	if err := s.persist(settleCtx, logger, runID, domain.AttemptKindMedia, outcome); err != nil {
		return result, s.abort(logger, err)
	}
	result.Attempted++
	if outcome.Succeeded {
		result.Succeeded++
	}
	s.metrics.SetPending(0)

	s.setState(logger, StateDone, nil)
	logger.Info("dispatch run completed",
		zap.Int("attempted", result.Attempted),
		zap.Int("succeeded", result.Succeeded),
	)

	return result, nil
}

func (s *DispatchService) persist(
	ctx context.Context,
	logger *zap.Logger,
	runID string,
	kind domain.AttemptKind,
	outcome domain.Outcome,
	fields ...zap.Field,
) error {
	s.metrics.ObserveAttempt(kind.String(), outcome.Succeeded, outcome.Duration)

	fields = append(fields, observability.OutcomeFields(kind, outcome)...)
	if outcome.Succeeded {
		logger.Info("message sent", fields...)
	} else {
		logger.Warn("message send failed", fields...)
	}

	attempt := &domain.Attempt{
		RunID:      runID,
		Kind:       kind,
		Succeeded:  outcome.Succeeded,
		DurationMs: outcome.DurationMs(),
	}
	if err := s.attempts.Record(ctx, attempt); err != nil {
		s.metrics.IncStoreFailure()
		return fmt.Errorf("failed to record %s attempt: %w", kind, err)
	}

	s.publish(ctx, logger, *attempt)
	return nil
}

func (s *DispatchService) publish(ctx context.Context, logger *zap.Logger, attempt domain.Attempt) {
	if s.events == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, eventPublishTimeout)
	defer cancel()

	if err := s.events.Publish(ctx, queue.NewAttemptEvent(attempt)); err != nil {
		logger.Warn("attempt event publish failed",
			append(observability.AttemptFields(attempt), zap.Error(err))...,
		)
	}
}

func (s *DispatchService) abort(logger *zap.Logger, err error) error {
	s.setState(logger, StateAborted, err)

	var storeErr *repository.StoreError
	if errors.As(err, &storeErr) {
		logger.Error("dispatch run aborted: outcome store failure", zap.Error(err))
	} else if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		logger.Warn("dispatch run interrupted", zap.Error(err))
	} else {
		logger.Error("dispatch run aborted", zap.Error(err))
	}
	return err
}

func (s *DispatchService) setState(logger *zap.Logger, state State, err error) {
	s.mu.Lock()
	previous := s.state
	s.state = state
	if state == StateAborted {
		s.lastErr = err
	}
	s.mu.Unlock()

	if previous != state {
		logger.Debug("dispatch state changed",
			zap.String("from", previous.String()),
			zap.String("to", state.String()),
		)
	}
}

func reverseOrder(messages []string) []string {
	reversed := make([]string, len(messages))
	for i, msg := range messages {
		reversed[len(messages)-1-i] = msg
	}
	return reversed
}
