package ownership

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Mindburn-Labs/exposure/pkg/screening/normalize"
)

// RedisCache shares successful lookups across processes. Failures are not
// cached here; per-run failure caching is Memo's job.
type RedisCache struct {
	store redisStore
	next  Lookup
}

func NewRedisCache(client redis.UniversalClient, next Lookup, ttl time.Duration) *RedisCache {
	return &RedisCache{store: newRedisStore(client, "exposure:ownership:", ttl), next: next}
}

// Lookup serves from Redis when possible. A Redis outage degrades to the
// wrapped lookup rather than failing.
func (c *RedisCache) Lookup(ctx context.Context, name string) (Ownership, error) {
	var o Ownership
	if c.store.get(ctx, name, &o) {
		o.Subject = name
		return o, nil
	}
	o, err := c.next.Lookup(ctx, name)
	if err != nil {
		return o, err
	}
	c.store.put(ctx, name, o)
	return o, nil
}

// RedisSiblingCache is RedisCache for sibling listings.
type RedisSiblingCache struct {
	store redisStore
	next  SiblingLister
}

func NewRedisSiblingCache(client redis.UniversalClient, next SiblingLister, ttl time.Duration) *RedisSiblingCache {
	return &RedisSiblingCache{store: newRedisStore(client, "exposure:siblings:", ttl), next: next}
}

func (c *RedisSiblingCache) Siblings(ctx context.Context, name string) ([]string, error) {
	var sibs []string
	if c.store.get(ctx, name, &sibs) {
		return sibs, nil
	}
	sibs, err := c.next.Siblings(ctx, name)
	if err != nil {
		return nil, err
	}
	c.store.put(ctx, name, sibs)
	return sibs, nil
}

// redisStore holds JSON values under normalized-name keys.
type redisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

func newRedisStore(client redis.UniversalClient, prefix string, ttl time.Duration) redisStore {
	return redisStore{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		logger: slog.Default().With("component", "ownership_cache"),
	}
}

func (s redisStore) key(name string) string {
	return s.prefix + normalize.Company(name)
}

// get reports whether a usable entry for name was decoded into v.
func (s redisStore) get(ctx context.Context, name string, v any) bool {
	key := s.key(name)
	raw, err := s.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		if jerr := json.Unmarshal(raw, v); jerr == nil {
			return true
		}
		s.logger.Warn("discarding corrupt cache entry", "key", key)
	case !errors.Is(err, redis.Nil):
		s.logger.Warn("ownership cache read failed", "key", key, "error", err)
	}
	return false
}

func (s redisStore) put(ctx context.Context, name string, v any) {
	key := s.key(name)
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := s.client.Set(ctx, key, data, s.ttl).Err(); err != nil {
		s.logger.Warn("ownership cache write failed", "key", key, "error", err)
	}
}

// redisTokenBucketScript handles the token bucket algorithm atomically in Redis.
// KEYS[1] = bucket key
// ARGV[1] = refill rate (tokens per second)
// ARGV[2] = capacity (max tokens)
// ARGV[3] = cost (tokens to consume)
// ARGV[4] = current unix timestamp (seconds, microsecond precision)
// Returns {allowed, tokens, wait_ms}.
var redisTokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])
local now = tonumber(ARGV[4])

local state = redis.call("HMGET", key, "tokens", "last_refill")
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if not tokens or not last_refill then
    tokens = capacity
    last_refill = now
end

local elapsed = now - last_refill
if elapsed > 0 then
    tokens = math.min(capacity, tokens + elapsed * rate)
    last_refill = now
end

local allowed = 0
local wait_ms = 0
if tokens >= cost then
    tokens = tokens - cost
    allowed = 1
else
    wait_ms = math.ceil((cost - tokens) / rate * 1000)
end

redis.call("HMSET", key, "tokens", tokens, "last_refill", last_refill)
redis.call("EXPIRE", key, 60)

return {allowed, tostring(tokens), wait_ms}
`)

// RedisLimiter is a token bucket shared by every process that screens
// against the same ownership provider.
type RedisLimiter struct {
	client redis.UniversalClient
	key    string
	rate   float64
	burst  int
	now    func() time.Time
}

// NewRedisLimiter allows rps lookups per second with the given burst.
func NewRedisLimiter(client redis.UniversalClient, provider string, rps float64, burst int) *RedisLimiter {
	if rps <= 0 {
		rps = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &RedisLimiter{
		client: client,
		key:    "exposure:limiter:" + provider,
		rate:   rps,
		burst:  burst,
		now:    time.Now,
	}
}

// Allow tries to take one token. When denied it returns how long to wait.
func (l *RedisLimiter) Allow(ctx context.Context) (bool, time.Duration, error) {
	now := float64(l.now().UnixMicro()) / 1e6
	res, err := redisTokenBucketScript.Run(ctx, l.client, []string{l.key}, l.rate, l.burst, 1, now).Result()
	if err != nil {
		return false, 0, fmt.Errorf("redis limiter error: %w", err)
	}
	results, ok := res.([]interface{})
	if !ok || len(results) != 3 {
		return false, 0, fmt.Errorf("invalid response from lua script")
	}
	allowed, _ := results[0].(int64)
	waitMS, _ := results[2].(int64)
	return allowed == 1, time.Duration(waitMS) * time.Millisecond, nil
}

// Wait blocks until a token is available or ctx is done.
func (l *RedisLimiter) Wait(ctx context.Context) error {
	for {
		ok, wait, err := l.Allow(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if wait <= 0 {
			wait = 10 * time.Millisecond
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}
