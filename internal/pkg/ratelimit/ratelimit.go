package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/PayFox/internal/pkg/cache"
)

// Result is the admission decision for one call.
type Result struct {
	Allowed        bool `json:"allowed"`
	Remaining      int  `json:"remaining"`
	ResetInSeconds int  `json:"reset_in_seconds"`
}

// Limiter implements sliding-window admission control over Redis sorted
// sets. One timestamp member per admitted call; the window slides with
// now instead of resetting at fixed boundaries.
type Limiter struct {
	client *redis.Client
}

// NewLimiter creates a limiter on the given Redis client.
func NewLimiter(client *redis.Client) *Limiter {
	return &Limiter{client: client}
}

// NewLimiterFromCache creates a limiter on the shared counter store.
func NewLimiterFromCache() *Limiter {
	return NewLimiter(cache.GetClient())
}

// slidingWindow runs purge-count-record as one atomic operation per key,
// so two concurrent callers can never both take the last slot.
//
// KEYS[1] window key; ARGV: now (ms), window (s), limit, member.
// Returns {allowed, remaining, resetInSeconds}.
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

local windowStart = now - window * 1000
redis.call("ZREMRANGEBYSCORE", key, 0, windowStart)

local count = redis.call("ZCARD", key)
if count >= limit then
	local reset = 1
	local oldest = redis.call("ZRANGE", key, 0, 0, "WITHSCORES")
	if oldest[2] then
		reset = math.ceil((tonumber(oldest[2]) + window * 1000 - now) / 1000)
		if reset < 1 then
			reset = 1
		end
	end
	return {0, 0, reset}
end

redis.call("ZADD", key, now, member)
redis.call("EXPIRE", key, window)
return {1, limit - count - 1, window}
`)

// Allow admits or denies one call for the key. Denied attempts are not
// recorded against the window.
func (l *Limiter) Allow(ctx context.Context, key string, limit, windowSeconds int) (*Result, error) {
	if limit <= 0 || windowSeconds <= 0 {
		return nil, fmt.Errorf("ratelimit: limit and window must be positive")
	}

	now := time.Now().UnixMilli()
	member := fmt.Sprintf("%d-%s", now, uuid.NewString())

	vals, err := slidingWindow.Run(ctx, l.client, []string{key}, now, windowSeconds, limit, member).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("ratelimit: %w", err)
	}
	if len(vals) != 3 {
		return nil, fmt.Errorf("ratelimit: unexpected script reply %v", vals)
	}

	return &Result{
		Allowed:        vals[0] == 1,
		Remaining:      int(vals[1]),
		ResetInSeconds: int(vals[2]),
	}, nil
}

// Login admission parameters: 5 attempts per 15 minutes per client IP.
const (
	LoginLimit         = 5
	LoginWindowSeconds = 900
)

// AllowLogin is the login specialization keyed by client IP.
func (l *Limiter) AllowLogin(ctx context.Context, clientIP string) (*Result, error) {
	return l.Allow(ctx, "login:"+clientIP, LoginLimit, LoginWindowSeconds)
}
