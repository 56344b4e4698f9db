package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// One hash per key holding the bucket level and last-refill timestamp;
// evaluated atomically so concurrent gateway replicas share one bucket.
const bucketScript = `
local key   = KEYS[1]
local now   = tonumber(ARGV[1])
local rps   = tonumber(ARGV[2])
local burst = tonumber(ARGV[3])

local state  = redis.call("HMGET", key, "level", "at")
local level  = tonumber(state[1])
local at     = tonumber(state[2])

if level == nil then
  level = burst
  at = now
else
  local elapsed = math.max(0, now - at)
  level = math.min(burst, level + (elapsed / 1000.0) * rps)
  at = now
end

local allowed = 0
local wait_ms = 0
if level >= 1 then
  allowed = 1
  level = level - 1
elseif rps > 0 then
  wait_ms = math.ceil(((1 - level) / rps) * 1000.0)
else
  wait_ms = 1000
end

redis.call("HMSET", key, "level", level, "at", at)
redis.call("PEXPIRE", key, 300000)
return {allowed, tostring(level), wait_ms}
`

type RedisLimiter struct {
	rdb    *redis.Client
	script *redis.Script
}

func NewRedisLimiter(rdb *redis.Client) *RedisLimiter {
	return &RedisLimiter{rdb: rdb, script: redis.NewScript(bucketScript)}
}

func (r *RedisLimiter) Allow(ctx context.Context, key string, lim Limit) (Decision, error) {
	res, err := r.script.Run(ctx, r.rdb, []string{key}, time.Now().UnixMilli(), lim.RPS, lim.Burst).Result()
	if err != nil {
		return Decision{}, err
	}
	arr, ok := res.([]any)
	if !ok || len(arr) != 3 {
		return Decision{}, redis.Nil
	}

	dec := Decision{
		Allowed:   asInt(arr[0]) == 1,
		Remaining: asFloat(arr[1]),
	}
	if !dec.Allowed {
		dec.RetryAfterSeconds = int((asInt(arr[2]) + 999) / 1000)
	}
	return dec, nil
}

func (r *RedisLimiter) Close() error { return r.rdb.Close() }

func asInt(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case float64:
		return int64(t)
	case string:
		n, _ := strconv.ParseInt(t, 10, 64)
		return n
	default:
		return 0
	}
}

// Lua numbers passed through tostring arrive as strings.
func asFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int64:
		return float64(t)
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	default:
		return 0
	}
}
