// Package ratelimit is a token bucket kept in Redis so every orchestrator
// process draws from the same budget.
package ratelimit

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-redis/redis/v8"
)

type Bucket struct {
	RequestsPerMinute int `yaml:"requestsPerMinute"`
	BurstSize         int `yaml:"burstSize"`
}

func (b Bucket) Enabled() bool {
	return b.RequestsPerMinute > 0 && b.BurstSize > 0
}

type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

type Limiter interface {
	Allow(ctx context.Context, scope string, bucket Bucket) (Decision, error)
}

type TokenBucketLimiter struct {
	rdb    *redis.Client
	prefix string
	now    func() time.Time
}

func NewTokenBucketLimiter(rdb *redis.Client) *TokenBucketLimiter {
	return &TokenBucketLimiter{rdb: rdb, prefix: "captureq:rl:", now: time.Now}
}

// WithClock swaps the time source, for tests.
func (l *TokenBucketLimiter) WithClock(now func() time.Time) *TokenBucketLimiter {
	l.now = now
	return l
}

// KEYS[1] bucket hash; ARGV rate (tokens/ms), capacity, now (ms), ttl (ms).
// Returns {allowed, retry_after_ms}.
var tokenBucketScript = redis.NewScript(`
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local state = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(state[1]) or capacity
local ts = tonumber(state[2]) or now
if now < ts then ts = now end

tokens = math.min(capacity, tokens + (now - ts) * rate)

local allowed = 0
local wait = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
elseif rate > 0 then
  wait = math.ceil((1 - tokens) / rate)
else
  wait = 60000
end

redis.call("HSET", KEYS[1], "tokens", tostring(tokens), "ts", now)
redis.call("PEXPIRE", KEYS[1], ARGV[4])
return {allowed, wait}
`)

func (l *TokenBucketLimiter) Allow(ctx context.Context, scope string, bucket Bucket) (Decision, error) {
	if l == nil || l.rdb == nil || !bucket.Enabled() {
		return Decision{Allowed: true}, nil
	}
	scope = strings.TrimSpace(scope)
	if scope == "" {
		scope = "default"
	}
	perMS := float64(bucket.RequestsPerMinute) / 60000.0
	capacity := float64(bucket.BurstSize)

	res, err := tokenBucketScript.Run(ctx, l.rdb, []string{l.prefix + scope},
		perMS, capacity, l.now().UnixMilli(), stateTTL(perMS, capacity).Milliseconds()).Result()
	if err != nil {
		return Decision{}, errors.Wrapf(err, "redis token bucket %s", scope)
	}
	vals, ok := res.([]any)
	if !ok || len(vals) != 2 {
		return Decision{}, errors.Newf("redis token bucket %s: unexpected reply %T", scope, res)
	}
	if allowed, _ := vals[0].(int64); allowed == 1 {
		return Decision{Allowed: true}, nil
	}
	waitMS, _ := vals[1].(int64)
	if waitMS < 1 {
		waitMS = 1
	}
	return Decision{RetryAfter: time.Duration(waitMS) * time.Millisecond}, nil
}

// stateTTL keeps an idle bucket around for two full refills, within bounds.
func stateTTL(perMS, capacity float64) time.Duration {
	if perMS <= 0 || capacity <= 0 {
		return 2 * time.Minute
	}
	ttl := time.Duration(math.Ceil(2*capacity/perMS))*time.Millisecond + 5*time.Second
	if ttl < 30*time.Second {
		return 30 * time.Second
	}
	if ttl > time.Hour {
		return time.Hour
	}
	return ttl
}
