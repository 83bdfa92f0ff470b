package redis

import (
	"context"
	"strconv"
	"time"

	rd "github.com/redis/go-redis/v9"
)

// SettledMarker records that a short code was consumed by a settlement.
type SettledMarker struct {
	ShortCode  string
	Reference  string
	CustomerID uint
	SettledAt  time.Time
}

// GetSettledMarker returns found=false when the code was never settled or the
// marker has expired.
func GetSettledMarker(ctx context.Context, rdb rd.Cmdable, shortCode string) (SettledMarker, bool, error) {
	m, err := rdb.HGetAll(ctx, SettledKey(shortCode)).Result()
	if err != nil {
		return SettledMarker{}, false, err
	}
	if len(m) == 0 || m["reference"] == "" {
		return SettledMarker{}, false, nil
	}
	return SettledMarker{
		ShortCode:  shortCode,
		Reference:  m["reference"],
		CustomerID: uint(parseInt64(m["customer_id"])),
		SettledAt:  time.UnixMilli(parseInt64(m["settled_at"])),
	}, true, nil
}

// PutSettledMarker writes the marker and refreshes its TTL.
func PutSettledMarker(ctx context.Context, rdb rd.Cmdable, marker SettledMarker, ttl time.Duration) error {
	key := SettledKey(marker.ShortCode)
	pipe := rdb.TxPipeline()
	pipe.HSet(ctx, key,
		"reference", marker.Reference,
		"customer_id", strconv.FormatUint(uint64(marker.CustomerID), 10),
		"settled_at", strconv.FormatInt(marker.SettledAt.UnixMilli(), 10),
	)
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func parseInt64(v string) int64 {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
