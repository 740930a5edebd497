package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// OrgLimiter throttles job submissions per organization with a distributed
// token bucket in Redis, so the limit holds across API replicas.
type OrgLimiter struct {
	client   *redis.Client
	capacity int
	refill   float64 // tokens per second
	ttl      time.Duration
}

// NewOrgLimiter constructs a limiter with the provided capacity/refill.
func NewOrgLimiter(client *redis.Client, capacity int, refillPerSecond float64, ttl time.Duration) *OrgLimiter {
	return &OrgLimiter{
		client:   client,
		capacity: capacity,
		refill:   refillPerSecond,
		ttl:      ttl,
	}
}

// Allow consumes a single token for the org if available.
// Returns allowed flag and current token count.
func (l *OrgLimiter) Allow(ctx context.Context, orgID string) (bool, float64, error) {
	if orgID == "" {
		orgID = "global"
	}
	now := time.Now().UnixMilli()
	res, err := bucketScript.Run(ctx, l.client, []string{"ratelimit:org:" + orgID}, l.capacity, l.refill, now, l.ttl.Milliseconds()).Result()
	if err != nil {
		return false, 0, err
	}
	arr, ok := res.([]interface{})
	if !ok || len(arr) < 2 {
		return false, 0, err
	}
	allowed := arr[0].(int64) == 1
	var tokens float64
	switch v := arr[1].(type) {
	case int64:
		tokens = float64(v)
	case float64:
		tokens = v
	default:
		tokens = 0
	}
	return allowed, tokens, nil
}

var bucketScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill = tonumber(ARGV[2]) -- tokens per second
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local data = redis.call('HMGET', key, 'tokens', 'last_ms')
local tokens = tonumber(data[1])
local last = tonumber(data[2])
if tokens == nil then tokens = capacity end
if last == nil then last = now end

local delta = math.max(0, now - last)
local add = delta / 1000 * refill
tokens = math.min(capacity, tokens + add)

local allowed = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
end

redis.call('HMSET', key, 'tokens', tokens, 'last_ms', now)
if ttl > 0 then redis.call('PEXPIRE', key, ttl) end
return {allowed, tokens}
`)
