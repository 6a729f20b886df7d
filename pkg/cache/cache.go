// Package cache wraps the Redis client used as shared state across gateway
// replicas: circuit breaker state and sliding-window rate-limit counters.
// Grounded on the storm aggregator and rate-limit
// middleware's direct use of github.com/redis/go-redis/v9 against a real
// Redis (or miniredis) server.
package cache

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/sentinelops/remediator/internal/errors"
)

// Cache is the shared-state surface the safety fabric depends on. It is
// narrower than *redis.Client on purpose: callers name operations, not
// Redis commands, so a future backend swap doesn't leak through every call
// site.
type Cache interface {
	// Get returns the string value at key, ok=false if absent.
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// Set stores value at key with the given TTL (0 means no expiry).
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Incr atomically increments the integer counter at key (creating it
	// at 0 first if absent) and returns the post-increment value.
	Incr(ctx context.Context, key string) (int64, error)

	// CompareAndSwap atomically sets key to newValue only if its current
	// value equals oldValue (oldValue="" matches a missing key). Returns
	// swapped=false if the precondition didn't hold.
	CompareAndSwap(ctx context.Context, key, oldValue, newValue string, ttl time.Duration) (swapped bool, err error)

	// AddToWindow records one event at `now` in the sliding window keyed by
	// key, prunes entries older than window, and returns the resulting
	// count within the window — the sorted-set algorithm behind
	// pkg/safety/ratelimit.
	AddToWindow(ctx context.Context, key string, now time.Time, window time.Duration) (count int64, err error)

	// Ping verifies connectivity.
	Ping(ctx context.Context) error
}

// RedisCache implements Cache against github.com/redis/go-redis/v9.
type RedisCache struct {
	client    *redis.Client
	windowSeq atomic.Uint64
}

// New wraps an already-configured *redis.Client.
func New(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

var _ Cache = (*RedisCache)(nil)

func (c *RedisCache) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, apperrors.Wrapf(err, apperrors.ErrorTypeNetwork, "cache get failed: %s", key)
	}
	return val, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return apperrors.Wrapf(err, apperrors.ErrorTypeNetwork, "cache set failed: %s", key)
	}
	return nil
}

func (c *RedisCache) Incr(ctx context.Context, key string) (int64, error) {
	n, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, apperrors.Wrapf(err, apperrors.ErrorTypeNetwork, "cache incr failed: %s", key)
	}
	return n, nil
}

// compareAndSwapScript is a Lua script run atomically server-side: Redis
// doesn't offer a native CAS-on-string primitive, so the compare and the
// set must happen in one round trip to avoid a lost-update race between
// competing breaker-transition callers.
var compareAndSwapScript = redis.NewScript(`
local current = redis.call("GET", KEYS[1])
if (current == false and ARGV[1] == "") or current == ARGV[1] then
	if ARGV[3] == "0" then
		redis.call("SET", KEYS[1], ARGV[2])
	else
		redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
	end
	return 1
end
return 0
`)

func (c *RedisCache) CompareAndSwap(ctx context.Context, key, oldValue, newValue string, ttl time.Duration) (bool, error) {
	ttlMillis := int64(0)
	if ttl > 0 {
		ttlMillis = ttl.Milliseconds()
	}
	res, err := compareAndSwapScript.Run(ctx, c.client, []string{key}, oldValue, newValue, ttlMillis).Int()
	if err != nil {
		return false, apperrors.Wrapf(err, apperrors.ErrorTypeNetwork, "cache compare-and-swap failed: %s", key)
	}
	return res == 1, nil
}

// AddToWindow implements a sliding-window counter with a Redis sorted set:
// members are unique per call (scored by `now`), entries older than
// `window` are pruned before counting, and the key carries a TTL equal to
// `window` so abandoned keys self-clean.
func (c *RedisCache) AddToWindow(ctx context.Context, key string, now time.Time, window time.Duration) (int64, error) {
	seq := c.windowSeq.Add(1)
	member := now.Format(time.RFC3339Nano) + "-" + strconv.FormatUint(seq, 10)
	score := float64(now.UnixNano())
	cutoff := float64(now.Add(-window).UnixNano())

	pipe := c.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", formatScore(cutoff))
	pipe.ZAdd(ctx, key, redis.Z{Score: score, Member: member})
	countCmd := pipe.ZCard(ctx, key)
	pipe.Expire(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, apperrors.Wrapf(err, apperrors.ErrorTypeNetwork, "cache sliding window failed: %s", key)
	}
	return countCmd.Val(), nil
}

func (c *RedisCache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return apperrors.Wrapf(err, apperrors.ErrorTypeNetwork, "cache ping failed")
	}
	return nil
}

func formatScore(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
