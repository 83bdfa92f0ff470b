package redis

import (
	"context"
	"errors"

	rd "github.com/redis/go-redis/v9"
)

// luaPutPendingIfAbsent stores the pending hash only when the code is free.
// KEYS[1]=pending key, ARGV[1]=reference, ARGV[2]=payload, ARGV[3]=expires_at (unix ms), ARGV[4]=ttl ms
const luaPutPendingIfAbsent = `
local key = KEYS[1]
if redis.call('EXISTS', key) == 1 then
  return 0
end
redis.call('HSET', key, 'reference', ARGV[1], 'payload', ARGV[2], 'expires_at', ARGV[3])
redis.call('PEXPIRE', key, tonumber(ARGV[4]))
return 1
`

// luaDeletePendingIfMatch deletes the pending hash only while it still belongs
// to the given reference, so a code that was re-issued is left alone.
const luaDeletePendingIfMatch = `
local key = KEYS[1]
if redis.call('HGET', key, 'reference') == ARGV[1] then
  return redis.call('DEL', key)
end
return 0
`

// PendingEntry is the raw hash stored under PendingKey.
type PendingEntry struct {
	Reference   string
	Payload     string
	ExpiresAtMS int64
}

// PutPendingIfAbsent returns false when the code is already taken.
func PutPendingIfAbsent(ctx context.Context, rdb rd.Cmdable, shortCode string, e PendingEntry, ttlMS int64) (bool, error) {
	n, err := rdb.Eval(ctx, luaPutPendingIfAbsent, []string{PendingKey(shortCode)},
		e.Reference, e.Payload, e.ExpiresAtMS, ttlMS).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// GetPending returns found=false when the key is absent.
func GetPending(ctx context.Context, rdb rd.Cmdable, shortCode string) (PendingEntry, bool, error) {
	m, err := rdb.HGetAll(ctx, PendingKey(shortCode)).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return PendingEntry{}, false, nil
		}
		return PendingEntry{}, false, err
	}
	if len(m) == 0 || m["payload"] == "" {
		return PendingEntry{}, false, nil
	}
	e := PendingEntry{Reference: m["reference"], Payload: m["payload"]}
	if v, ok := m["expires_at"]; ok {
		e.ExpiresAtMS = parseInt64(v)
	}
	return e, true, nil
}

// DeletePending removes the code unconditionally.
func DeletePending(ctx context.Context, rdb rd.Cmdable, shortCode string) error {
	return rdb.Del(ctx, PendingKey(shortCode)).Err()
}

// DeletePendingIfMatch removes the code only if it still carries reference.
func DeletePendingIfMatch(ctx context.Context, rdb rd.Cmdable, shortCode, reference string) (bool, error) {
	n, err := rdb.Eval(ctx, luaDeletePendingIfMatch, []string{PendingKey(shortCode)}, reference).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
