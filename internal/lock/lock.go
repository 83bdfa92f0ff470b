// Package lock provides keyed mutual exclusion for settlement and
// reconciliation, in-process or across instances through Redis.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	rediskey "points_engine/pkg/redis"

	"github.com/google/uuid"
	rd "github.com/redis/go-redis/v9"
)

// ErrTimeout is returned when a lock could not be taken within the wait budget.
var ErrTimeout = errors.New("lock: timed out waiting for lock")

// Locker serialises work per key. The returned unlock is safe to call more than once.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// SettlementKey guards one reference number.
func SettlementKey(reference string) string { return "settle:" + reference }

// BalanceKey guards one (user, store) balance row.
func BalanceKey(userID, storeID uint) string { return fmt.Sprintf("balance:%d:%d", userID, storeID) }

// Memory is an in-process Locker.
type Memory struct {
	wait time.Duration

	mu    sync.Mutex
	locks map[string]chan struct{}
}

// NewMemory returns a Locker that waits at most wait for a held key.
func NewMemory(wait time.Duration) *Memory {
	return &Memory{wait: wait, locks: make(map[string]chan struct{})}
}

func (m *Memory) Lock(ctx context.Context, key string) (func(), error) {
	if m.wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.wait)
		defer cancel()
	}
	for {
		m.mu.Lock()
		held, busy := m.locks[key]
		if !busy {
			ch := make(chan struct{})
			m.locks[key] = ch
			m.mu.Unlock()
			var once sync.Once
			return func() {
				once.Do(func() {
					m.mu.Lock()
					delete(m.locks, key)
					m.mu.Unlock()
					close(ch)
				})
			}, nil
		}
		m.mu.Unlock()

		select {
		case <-held:
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s", ErrTimeout, key)
		}
	}
}

// Redis is a Locker shared by every instance talking to the same Redis.
// Locks expire after ttl so a crashed holder cannot wedge a key.
type Redis struct {
	rdb  rd.Cmdable
	ttl  time.Duration
	wait time.Duration
	poll time.Duration
}

// NewRedis builds a Redis-backed Locker.
func NewRedis(rdb rd.Cmdable, ttl, wait time.Duration) *Redis {
	return &Redis{rdb: rdb, ttl: ttl, wait: wait, poll: 25 * time.Millisecond}
}

func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	deadline := time.Now().Add(r.wait)
	backoff := r.poll
	for {
		ok, err := rediskey.TryLock(ctx, r.rdb, key, token, r.ttl)
		if err != nil {
			return nil, fmt.Errorf("lock %s: %w", key, err)
		}
		if ok {
			var once sync.Once
			return func() {
				once.Do(func() {
					// Release with a fresh context: the caller's may already be cancelled.
					relCtx, cancel := context.WithTimeout(context.Background(), time.Second)
					defer cancel()
					_ = rediskey.ReleaseLockIfMatch(relCtx, r.rdb, key, token)
				})
			}, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s", ErrTimeout, key)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s", ErrTimeout, key)
		case <-time.After(backoff):
		}
		if backoff < 200*time.Millisecond {
			backoff *= 2
		}
	}
}
