package domain

import (
	"fmt"
	"strings"
	"time"
)

// AttemptKind represents the message kind of a dispatch attempt.
type AttemptKind string

const (
	AttemptKindText  AttemptKind = "TEXT"
	AttemptKindMedia AttemptKind = "MEDIA"
)

func (k AttemptKind) String() string { return string(k) }

func (k AttemptKind) IsValid() bool {
	switch k {
	case AttemptKindText, AttemptKindMedia:
		return true
	}
	return false
}

func ParseAttemptKindFromString(s string) (AttemptKind, error) {
	kind := AttemptKind(strings.ToUpper(strings.TrimSpace(s)))
	if !kind.IsValid() {
		return "", fmt.Errorf("%w: invalid attempt kind %q", ErrValidation, s)
	}
	return kind, nil
}

// Attempt records the settled outcome of a single gateway send.
// Attempts are append-only: once persisted they are never updated or deleted.
type Attempt struct {
	ID         uint
	RunID      string
	Kind       AttemptKind
	Succeeded  bool
	DurationMs int64
	CreatedAt  time.Time
}

func (a *Attempt) Validate() error {
	if !a.Kind.IsValid() {
		return fmt.Errorf("%w: invalid attempt kind %q", ErrValidation, a.Kind)
	}
	if a.DurationMs < 0 {
		return fmt.Errorf("%w: duration must be non-negative (got %d)", ErrValidation, a.DurationMs)
	}
	return nil
}

// Outcome is the in-memory result of a send before it is persisted.
type Outcome struct {
	Succeeded  bool
	Duration   time.Duration
	StatusCode int
	Err        error
}

// DurationMs returns the elapsed send time in whole milliseconds. Any
// measured time under one millisecond counts as 1 so a settled send never
// reports zero.
func (o Outcome) DurationMs() int64 {
	if o.Duration <= 0 {
		return 0
	}
	ms := o.Duration.Milliseconds()
	if ms == 0 {
		ms = 1
	}
	return ms
}

// Summary is the aggregate view over every persisted attempt.
type Summary struct {
	Total          int64   `json:"total"`
	TextCount      int64   `json:"textCount"`
	MediaCount     int64   `json:"mediaCount"`
	AvgDurationMs  float64 `json:"avgDurationMs"`
	SuccessRatePct float64 `json:"successRatePct"`
}

// NewSummary derives the summary from raw aggregates. An empty set yields zeroes.
func NewSummary(total, textCount, mediaCount, succeeded int64, durationSumMs float64) Summary {
	if total <= 0 {
		return Summary{}
	}

	return Summary{
		Total:          total,
		TextCount:      textCount,
		MediaCount:     mediaCount,
		AvgDurationMs:  durationSumMs / float64(total),
		SuccessRatePct: float64(succeeded) * 100 / float64(total),
	}
}
