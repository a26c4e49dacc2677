package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockWaitExceeded = errors.New("schedule lock wait exceeded")
)

// Locker serializes writers to one doctor's schedule. The ledger service
// runs its check-then-insert sequence inside the critical section; readers
// never take it.
type Locker interface {
	WithScheduleLock(ctx context.Context, doctorID uuid.UUID, fn func(ctx context.Context) error) error
}

type redisScheduleLocker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
}

// NewRedisScheduleLocker creates a locker backed by a per-doctor Redis key.
// The key carries a TTL so a crashed holder cannot wedge the schedule; wait
// bounds how long an acquirer polls before giving up with
// ErrLockWaitExceeded.
func NewRedisScheduleLocker(client *redis.Client, ttl, wait time.Duration) Locker {
	return &redisScheduleLocker{
		client: client,
		ttl:    ttl,
		wait:   wait,
	}
}

const acquireRetryInterval = 25 * time.Millisecond

func (l *redisScheduleLocker) WithScheduleLock(ctx context.Context, doctorID uuid.UUID, fn func(ctx context.Context) error) error {
	key := fmt.Sprintf("lock:schedule:%s", doctorID.String())
	token := uuid.NewString()

	if err := l.acquire(ctx, key, token); err != nil {
		return err
	}

	defer func() {
		_ = l.release(ctx, key, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

func (l *redisScheduleLocker) acquire(ctx context.Context, key, token string) error {
	deadline := time.Now().Add(l.wait)

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("acquire schedule lock: %w", err)
		}
		if ok {
			return nil
		}

		if time.Now().After(deadline) {
			return ErrLockWaitExceeded
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(acquireRetryInterval):
		}
	}
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisScheduleLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release schedule lock: %w", err)
	}
	return nil
}
