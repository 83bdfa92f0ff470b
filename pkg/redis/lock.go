package redis

import (
	"context"
	"time"

	rd "github.com/redis/go-redis/v9"
)

// luaReleaseLockIfMatch deletes the lock only while it still holds our token,
// so an expired holder never frees a lock someone else has since taken.
const luaReleaseLockIfMatch = `
local lockKey = KEYS[1]
local token = ARGV[1]
if redis.call('GET', lockKey) == token then
  return redis.call('DEL', lockKey)
end
return 0
`

// TryLock attempts to take name for ttl. It reports false when the lock is held.
func TryLock(ctx context.Context, rdb rd.Cmdable, name, token string, ttl time.Duration) (bool, error) {
	return rdb.SetNX(ctx, LockKey(name), token, ttl).Result()
}

// ReleaseLockIfMatch releases name when it is still held with token.
func ReleaseLockIfMatch(ctx context.Context, rdb rd.Cmdable, name, token string) error {
	_, err := rdb.Eval(ctx, luaReleaseLockIfMatch, []string{LockKey(name)}, token).Int()
	return err
}
