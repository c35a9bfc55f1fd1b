package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

func TestRunLockAcquireRelease(t *testing.T) {
	t.Parallel()

	mr, rdb := newTestRedisClient(t)
	ctx := context.Background()

	first, err := NewRunLock(rdb, "acc-1", "run-1", time.Minute)
	if err != nil {
		t.Fatalf("NewRunLock() error = %v", err)
	}
	second, err := NewRunLock(rdb, "acc-1", "run-2", time.Minute)
	if err != nil {
		t.Fatalf("NewRunLock() error = %v", err)
	}

	if err := first.Acquire(ctx); err != nil {
		t.Fatalf("first Acquire() error = %v", err)
	}
	if got, _ := mr.Get(first.Key()); got != "run-1" {
		t.Fatalf("lock holder = %q, want run-1", got)
	}
	if ttl := mr.TTL(first.Key()); ttl != time.Minute {
		t.Fatalf("lock ttl = %s, want 1m", ttl)
	}

	err = second.Acquire(ctx)
	if !errors.Is(err, ErrRunLockHeld) {
		t.Fatalf("second Acquire() error = %v, want ErrRunLockHeld", err)
	}

	// A non-owner release must not drop the holder's lock.
	if err := second.Release(ctx); err != nil {
		t.Fatalf("second Release() error = %v", err)
	}
	if !mr.Exists(first.Key()) {
		t.Fatal("lock should survive release by non-owner")
	}

	if err := first.Release(ctx); err != nil {
		t.Fatalf("first Release() error = %v", err)
	}
	if mr.Exists(first.Key()) {
		t.Fatal("lock should be released by owner")
	}

	if err := second.Acquire(ctx); err != nil {
		t.Fatalf("second Acquire() after release error = %v", err)
	}
}

func TestRunLockPerAccount(t *testing.T) {
	t.Parallel()

	_, rdb := newTestRedisClient(t)
	ctx := context.Background()

	a, err := NewRunLock(rdb, "acc-a", "run-1", 0)
	if err != nil {
		t.Fatalf("NewRunLock() error = %v", err)
	}
	b, err := NewRunLock(rdb, "acc-b", "run-2", 0)
	if err != nil {
		t.Fatalf("NewRunLock() error = %v", err)
	}

	if err := a.Acquire(ctx); err != nil {
		t.Fatalf("Acquire(acc-a) error = %v", err)
	}
	if err := b.Acquire(ctx); err != nil {
		t.Fatalf("Acquire(acc-b) error = %v", err)
	}
}

func TestRunLockExpires(t *testing.T) {
	t.Parallel()

	mr, rdb := newTestRedisClient(t)
	ctx := context.Background()

	stale, err := NewRunLock(rdb, "acc-1", "run-stale", time.Second)
	if err != nil {
		t.Fatalf("NewRunLock() error = %v", err)
	}
	if err := stale.Acquire(ctx); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	mr.FastForward(2 * time.Second)

	fresh, err := NewRunLock(rdb, "acc-1", "run-fresh", time.Second)
	if err != nil {
		t.Fatalf("NewRunLock() error = %v", err)
	}
	if err := fresh.Acquire(ctx); err != nil {
		t.Fatalf("Acquire() after expiry error = %v", err)
	}
}

func TestNewRunLockValidation(t *testing.T) {
	t.Parallel()

	_, rdb := newTestRedisClient(t)

	if _, err := NewRunLock(nil, "acc", "run", time.Second); err == nil {
		t.Fatal("expected error for nil client")
	}
	if _, err := NewRunLock(rdb, " ", "run", time.Second); err == nil {
		t.Fatal("expected error for empty account")
	}
	if _, err := NewRunLock(rdb, "acc", "", time.Second); err == nil {
		t.Fatal("expected error for empty owner")
	}
}

func TestNewRedis(t *testing.T) {
	t.Parallel()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() error = %v", err)
	}
	t.Cleanup(mr.Close)

	client, err := NewRedis(context.Background(), "redis://"+mr.Addr()+"/0")
	if err != nil {
		t.Fatalf("NewRedis() error = %v", err)
	}
	_ = client.Close()

	if _, err := NewRedis(context.Background(), "://bad"); err == nil {
		t.Fatal("expected error for malformed url")
	}
}

func newTestRedisClient(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() error = %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := goredis.NewClient(&goredis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() {
		_ = rdb.Close()
	})

	return mr, rdb
}

func TestRunLockExtend(t *testing.T) {
	t.Parallel()

	mr, rdb := newTestRedisClient(t)
	ctx := context.Background()

	lock, err := NewRunLock(rdb, "acc-1", "run-1", time.Minute)
	if err != nil {
		t.Fatalf("NewRunLock() error = %v", err)
	}
	if err := lock.Acquire(ctx); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	mr.FastForward(50 * time.Second)
	if err := lock.Extend(ctx); err != nil {
		t.Fatalf("Extend() error = %v", err)
	}
	if ttl := mr.TTL(lock.Key()); ttl != time.Minute {
		t.Fatalf("lock ttl after Extend() = %s, want 1m", ttl)
	}

	if err := mr.Set(lock.Key(), "run-2"); err != nil {
		t.Fatalf("miniredis Set() error = %v", err)
	}
	if err := lock.Extend(ctx); !errors.Is(err, ErrRunLockLost) {
		t.Fatalf("Extend() error = %v, want ErrRunLockLost", err)
	}
	if got, _ := mr.Get(lock.Key()); got != "run-2" {
		t.Fatalf("lock holder = %q, want run-2 untouched", got)
	}

	mr.Del(lock.Key())
	if err := lock.Extend(ctx); !errors.Is(err, ErrRunLockLost) {
		t.Fatalf("Extend() on expired lock error = %v, want ErrRunLockLost", err)
	}
}

func TestRunLockHold(t *testing.T) {
	t.Parallel()

	t.Run("stops on cancel", func(t *testing.T) {
		t.Parallel()

		_, rdb := newTestRedisClient(t)
		lock, err := NewRunLock(rdb, "acc-1", "run-1", 30*time.Millisecond)
		if err != nil {
			t.Fatalf("NewRunLock() error = %v", err)
		}
		if err := lock.Acquire(context.Background()); err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		if err := lock.Hold(ctx); err != nil {
			t.Fatalf("Hold() error = %v, want nil after cancel", err)
		}
	})

	t.Run("reports a lost lease", func(t *testing.T) {
		t.Parallel()

		mr, rdb := newTestRedisClient(t)
		lock, err := NewRunLock(rdb, "acc-2", "run-1", 30*time.Millisecond)
		if err != nil {
			t.Fatalf("NewRunLock() error = %v", err)
		}
		if err := lock.Acquire(context.Background()); err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
		if err := mr.Set(lock.Key(), "run-2"); err != nil {
			t.Fatalf("miniredis Set() error = %v", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := lock.Hold(ctx); !errors.Is(err, ErrRunLockLost) {
			t.Fatalf("Hold() error = %v, want ErrRunLockLost", err)
		}
	})
}
