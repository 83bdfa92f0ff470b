package middleware

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	rediskey "points_engine/pkg/redis"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
)

// luaRateLimit is a sliding-window limiter over a sorted set.
// KEYS[1]=bucket, ARGV[1]=now ms, ARGV[2]=window start ms, ARGV[3]=window ms,
// ARGV[4]=member, ARGV[5]=limit. Returns the count in the window, or -1 when
// the request is refused.
const luaRateLimit = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local windowStart = tonumber(ARGV[2])
local windowMS = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', windowStart)

local count = redis.call('ZCARD', key)
if count < tonumber(ARGV[5]) then
  redis.call('ZADD', key, now, member)
  redis.call('PEXPIRE', key, windowMS)
  return count + 1
else
  return -1
end
`

// RedisRateLimit limits a route per customer_id found in the JSON body, falling
// back to the client IP. Redis errors let the request through.
func RedisRateLimit(rdb rd.Cmdable, scope string, limit int, window time.Duration, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var subject string
		if customerID, err := extractCustomerID(c); err == nil && customerID > 0 {
			subject = fmt.Sprintf("customer:%d", customerID)
		} else {
			subject = "ip:" + c.ClientIP()
		}
		key := rediskey.RateLimitKey(scope, subject)

		now := time.Now()
		nowMS := now.UnixMilli()
		windowMS := window.Milliseconds()
		member := fmt.Sprintf("%d-%d", nowMS, now.UnixNano())

		res, err := rdb.Eval(c.Request.Context(), luaRateLimit, []string{key},
			nowMS, nowMS-windowMS, windowMS, member, limit).Int()
		if err != nil {
			if log != nil {
				log.Warn("rate limiter unavailable", "key", key, "err", err)
			}
			c.Next()
			return
		}

		if res < 0 {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code": http.StatusTooManyRequests,
				"msg":  "too many requests, please retry later",
				"kind": "rate_limited",
			})
			return
		}
		c.Next()
	}
}

// extractCustomerID peeks at customer_id without consuming the body.
func extractCustomerID(c *gin.Context) (uint64, error) {
	if c.Request.Body == nil {
		return 0, io.EOF
	}
	bodyBytes, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return 0, err
	}
	c.Request.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))

	var req struct {
		CustomerID uint64 `json:"customer_id"`
	}
	if err := json.Unmarshal(bodyBytes, &req); err != nil {
		return 0, err
	}
	return req.CustomerID, nil
}
