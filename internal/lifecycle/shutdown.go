package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
)

const DefaultTimeout = 10 * time.Second

// ExitInterrupted is the process exit code after SIGINT or SIGTERM.
const ExitInterrupted = 130

type hook struct {
	name string
	fn   func(ctx context.Context) error
}

// Shutdown collects cleanup hooks and runs them once, newest first, under a
// shared timeout.
type Shutdown struct {
	logger  *zap.Logger
	timeout time.Duration

	mu    sync.Mutex
	hooks []hook
	once  sync.Once
	err   error

	interrupted atomic.Bool
	trapped     atomic.Value
}

func NewShutdown(logger *zap.Logger, timeout time.Duration) *Shutdown {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Shutdown{logger: logger, timeout: timeout}
}

func (s *Shutdown) Register(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, hook{name: name, fn: fn})
}

// Run executes the registered hooks in reverse registration order. Later
// calls return the result of the first one.
func (s *Shutdown) Run(ctx context.Context) error {
	s.once.Do(func() {
		if ctx == nil {
			ctx = context.Background()
		}
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()

		s.mu.Lock()
		hooks := append([]hook(nil), s.hooks...)
		s.mu.Unlock()

		var errs []error
		for i := len(hooks) - 1; i >= 0; i-- {
			h := hooks[i]
			if err := h.fn(ctx); err != nil {
				s.logger.Warn("shutdown hook failed", zap.String("hook", h.name), zap.Error(err))
				errs = append(errs, fmt.Errorf("%s: %w", h.name, err))
				continue
			}
			s.logger.Debug("shutdown hook completed", zap.String("hook", h.name))
		}
		s.err = errors.Join(errs...)
	})
	return s.err
}

// Trap cancels the run on SIGINT or SIGTERM. The returned stop function
// releases the signal subscription.
func (s *Shutdown) Trap(cancel context.CancelFunc) (stop func()) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)

	done := make(chan struct{})
	go s.watch(signals, done, cancel)

	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(signals)
			close(done)
		})
	}
}

func (s *Shutdown) watch(signals <-chan os.Signal, done <-chan struct{}, cancel context.CancelFunc) {
	select {
	case sig := <-signals:
		s.interrupted.Store(true)
		s.trapped.Store(sig.String())
		s.logger.Warn("shutdown signal received, finishing in-flight message", zap.String("signal", sig.String()))
		if cancel != nil {
			cancel()
		}
	case <-done:
	}
}

// Interrupted reports whether a trapped signal cancelled the run.
func (s *Shutdown) Interrupted() bool {
	return s.interrupted.Load()
}

// Signal returns the name of the trapped signal, if any.
func (s *Shutdown) Signal() string {
	v, _ := s.trapped.Load().(string)
	return v
}
