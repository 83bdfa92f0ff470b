package pending

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	rediskey "points_engine/pkg/redis"

	rd "github.com/redis/go-redis/v9"
)

// Redis is a Store shared across instances. Redis key expiry garbage
// collects entries; Get still applies the ExpiresAt rule itself.
type Redis struct {
	rdb rd.Cmdable
	now func() time.Time
}

// NewRedis wraps a go-redis client. now may be nil.
func NewRedis(rdb rd.Cmdable, now func() time.Time) *Redis {
	if now == nil {
		now = time.Now
	}
	return &Redis{rdb: rdb, now: now}
}

func (r *Redis) Put(ctx context.Context, tx *Transaction, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := r.now()
	tx.CreatedAt = now
	tx.ExpiresAt = now.Add(ttl)

	b, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("pending: encode: %w", err)
	}
	ok, err := rediskey.PutPendingIfAbsent(ctx, r.rdb, tx.ShortCode, rediskey.PendingEntry{
		Reference:   tx.ReferenceNumber,
		Payload:     string(b),
		ExpiresAtMS: tx.ExpiresAt.UnixMilli(),
	}, ttl.Milliseconds())
	if err != nil {
		return fmt.Errorf("pending: put %s: %w", tx.ShortCode, err)
	}
	if !ok {
		return ErrAlreadyExists
	}
	return nil
}

func (r *Redis) Get(ctx context.Context, code string) (*Transaction, error) {
	e, found, err := rediskey.GetPending(ctx, r.rdb, code)
	if err != nil {
		return nil, fmt.Errorf("pending: get %s: %w", code, err)
	}
	if !found {
		return nil, ErrNotFound
	}
	var tx Transaction
	if err := json.Unmarshal([]byte(e.Payload), &tx); err != nil {
		return nil, fmt.Errorf("pending: decode %s: %w", code, err)
	}
	if tx.Expired(r.now()) {
		return nil, ErrNotFound
	}
	return &tx, nil
}

func (r *Redis) Remove(ctx context.Context, code string) error {
	if err := rediskey.DeletePending(ctx, r.rdb, code); err != nil {
		return fmt.Errorf("pending: remove %s: %w", code, err)
	}
	return nil
}

func (r *Redis) RemoveIfReference(ctx context.Context, code, reference string) error {
	if _, err := rediskey.DeletePendingIfMatch(ctx, r.rdb, code, reference); err != nil {
		return fmt.Errorf("pending: remove %s: %w", code, err)
	}
	return nil
}

func (r *Redis) MarkSettled(ctx context.Context, code string, marker SettledMarker, ttl time.Duration) error {
	return rediskey.PutSettledMarker(ctx, r.rdb, rediskey.SettledMarker{
		ShortCode:  code,
		Reference:  marker.Reference,
		CustomerID: marker.CustomerID,
		SettledAt:  marker.SettledAt,
	}, ttl)
}

func (r *Redis) Settled(ctx context.Context, code string) (SettledMarker, error) {
	mk, found, err := rediskey.GetSettledMarker(ctx, r.rdb, code)
	if err != nil {
		return SettledMarker{}, fmt.Errorf("pending: settled marker %s: %w", code, err)
	}
	if !found {
		return SettledMarker{}, ErrNotFound
	}
	return SettledMarker{Reference: mk.Reference, CustomerID: mk.CustomerID, SettledAt: mk.SettledAt}, nil
}
