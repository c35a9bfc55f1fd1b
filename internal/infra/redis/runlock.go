package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const (
	runLockKeyPrefix  = "dispatch:run-lock:"
	defaultRunLockTTL = 15 * time.Minute
)

var (
	// ErrRunLockHeld is returned when another run already owns the gateway account.
	ErrRunLockHeld = errors.New("dispatch run lock is held by another process")

	// ErrRunLockLost is returned when the lease expired or changed owner mid-run.
	ErrRunLockLost = errors.New("dispatch run lock was lost")
)

var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

var extendScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RunLock keeps a single dispatch run per gateway account across processes.
type RunLock struct {
	client *goredis.Client
	key    string
	owner  string
	ttl    time.Duration
	script *goredis.Script
	extend *goredis.Script
}

func NewRunLock(client *goredis.Client, accountID string, owner string, ttl time.Duration) (*RunLock, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	account := strings.TrimSpace(accountID)
	if account == "" {
		return nil, fmt.Errorf("account id is required")
	}
	if strings.TrimSpace(owner) == "" {
		return nil, fmt.Errorf("lock owner is required")
	}
	if ttl <= 0 {
		ttl = defaultRunLockTTL
	}

	return &RunLock{
		client: client,
		key:    runLockKeyPrefix + account,
		owner:  owner,
		ttl:    ttl,
		script: releaseScript,
		extend: extendScript,
	}, nil
}

func (l *RunLock) Key() string {
	if l == nil {
		return ""
	}
	return l.key
}

func (l *RunLock) Acquire(ctx context.Context) error {
	if l == nil || l.client == nil {
		return fmt.Errorf("run lock is not initialized")
	}

	acquired, err := l.client.SetNX(ctx, l.key, l.owner, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to acquire run lock: %w", err)
	}
	if !acquired {
		holder, err := l.client.Get(ctx, l.key).Result()
		if err != nil && !errors.Is(err, goredis.Nil) {
			return fmt.Errorf("%w (holder lookup failed: %v)", ErrRunLockHeld, err)
		}
		return fmt.Errorf("%w: holder=%s", ErrRunLockHeld, holder)
	}

	return nil
}

// Release drops the lock only if this run still owns it.
func (l *RunLock) Release(ctx context.Context) error {
	if l == nil || l.client == nil || l.script == nil {
		return fmt.Errorf("run lock is not initialized")
	}

	if err := l.script.Run(ctx, l.client, []string{l.key}, l.owner).Err(); err != nil {
		return fmt.Errorf("failed to release run lock: %w", err)
	}
	return nil
}

// Extend pushes the lease out by another TTL while this run still owns it.
func (l *RunLock) Extend(ctx context.Context) error {
	if l == nil || l.client == nil || l.extend == nil {
		return fmt.Errorf("run lock is not initialized")
	}

	extended, err := l.extend.Run(ctx, l.client, []string{l.key}, l.owner, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("failed to extend run lock: %w", err)
	}
	if extended == 0 {
		return ErrRunLockLost
	}
	return nil
}

// Hold renews the lease every third of the TTL until ctx is done. It returns
// nil on cancellation and ErrRunLockLost once another owner shows up.
func (l *RunLock) Hold(ctx context.Context) error {
	if l == nil {
		return fmt.Errorf("run lock is not initialized")
	}

	ticker := time.NewTicker(l.RenewInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := l.Extend(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	}
}

func (l *RunLock) RenewInterval() time.Duration {
	if l == nil {
		return 0
	}
	interval := l.ttl / 3
	if interval <= 0 {
		interval = time.Millisecond
	}
	return interval
}
