package pacing

import (
	"context"
	"time"
)

// DefaultInterval is the gap enforced between consecutive gateway sends.
const DefaultInterval = 7500 * time.Millisecond

// Pacer blocks between consecutive sends.
type Pacer interface {
	Wait(ctx context.Context) error
}

// FixedPacer waits the same interval every time.
type FixedPacer struct {
	interval time.Duration
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewFixedPacer(interval time.Duration) *FixedPacer {
	if interval < 0 {
		interval = 0
	}
	return &FixedPacer{interval: interval, sleep: sleepWithContext}
}

func (p *FixedPacer) Interval() time.Duration {
	if p == nil {
		return 0
	}
	return p.interval
}

func (p *FixedPacer) Wait(ctx context.Context) error {
	if p == nil || p.interval <= 0 {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return p.sleep(ctx, p.interval)
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
