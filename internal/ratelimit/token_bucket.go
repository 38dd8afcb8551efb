// Package ratelimit throttles emulator callers with a Redis token bucket.
package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strings"
	"time"

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
	Allow(ctx context.Context, subject string, bucket Bucket) (Decision, error)
}

type TokenBucketLimiter struct {
	rdb *redis.Client
	now func() time.Time
}

func NewTokenBucketLimiter(rdb *redis.Client, now func() time.Time) *TokenBucketLimiter {
	if now == nil {
		now = time.Now
	}
	return &TokenBucketLimiter{rdb: rdb, now: now}
}

// KEYS[1] bucket hash; ARGV: refill per ms, capacity, now ms, ttl ms.
// Returns {allowed, wait ms}.
var takeToken = redis.NewScript(`
local per_ms   = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local now      = tonumber(ARGV[3])

local state  = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(state[1]) or capacity
local ts     = tonumber(state[2]) or now
if now > ts then
  tokens = math.min(capacity, tokens + (now - ts) * per_ms)
end

local wait = 0
if tokens >= 1 then
  tokens = tokens - 1
elseif per_ms > 0 then
  wait = math.ceil((1 - tokens) / per_ms)
else
  wait = 60000
end

redis.call("HSET", KEYS[1], "tokens", tokens, "ts", math.max(now, ts))
redis.call("PEXPIRE", KEYS[1], ARGV[4])
if wait > 0 then return {0, wait} end
return {1, 0}
`)

// Allow takes one token from subject's bucket. Subjects are hashed so keys
// never hold credentials.
func (l *TokenBucketLimiter) Allow(ctx context.Context, subject string, bucket Bucket) (Decision, error) {
	if l == nil || l.rdb == nil || !bucket.Enabled() {
		return Decision{Allowed: true}, nil
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		subject = "anonymous"
	}
	sum := sha256.Sum256([]byte(subject))
	key := "docintel:emu:throttle:" + hex.EncodeToString(sum[:])

	perMS := float64(bucket.RequestsPerMinute) / 60000.0
	capacity := float64(bucket.BurstSize)
	res, err := takeToken.Run(ctx, l.rdb, []string{key},
		perMS, capacity, l.now().UnixMilli(), bucketTTL(perMS, capacity).Milliseconds()).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("throttle script: %w", err)
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) != 2 {
		return Decision{}, fmt.Errorf("unexpected throttle response: %T", res)
	}
	if allowed, _ := vals[0].(int64); allowed == 1 {
		return Decision{Allowed: true}, nil
	}
	waitMS, _ := vals[1].(int64)
	retry := time.Duration(math.Ceil(float64(waitMS)/1000)) * time.Second
	if retry < time.Second {
		retry = time.Second
	}
	return Decision{Allowed: false, RetryAfter: retry}, nil
}

// bucketTTL keeps idle state for two full refills, within [30s, 1h].
func bucketTTL(perMS, capacity float64) time.Duration {
	if perMS <= 0 || capacity <= 0 {
		return 2 * time.Minute
	}
	ttl := time.Duration(2*capacity/perMS)*time.Millisecond + 5*time.Second
	return min(max(ttl, 30*time.Second), time.Hour)
}
