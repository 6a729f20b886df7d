// Package ratelimit implements the sliding-window admission control of
// spec §4.3.2: for a key K and window W, a request at time t is admitted
// iff the count of admitted requests in (t-W, t] is < limit. No teacher
// file implements this sorted-set algorithm directly (the gateway's own
// rate limiter is closer to a fixed bucket), so the admission algorithm
// follows the spec's recurrence exactly over pkg/cache.Cache.AddToWindow.
package ratelimit

import (
	"context"
	"time"

	"github.com/sentinelops/remediator/pkg/cache"
	"github.com/sentinelops/remediator/pkg/clock"
	"github.com/sentinelops/remediator/pkg/metrics"
)

// Limiter admits or rejects requests for a set of independently-windowed
// keys (tenant, tenant+vendor, workflow — spec §4.3.2).
type Limiter struct {
	cache cache.Cache
	clock clock.Clock
}

// New returns a Limiter backed by c for shared counters and clk for time.
func New(c cache.Cache, clk clock.Clock) *Limiter {
	return &Limiter{cache: c, clock: clk}
}

// Result is the outcome of an Allow check.
type Result struct {
	Admitted   bool
	Count      int64
	Limit      int
	RetryAfter time.Duration // only meaningful when !Admitted
	Degraded   bool          // true when the cache was unavailable and Allow failed open
}

// Allow records one admission attempt for key under the sliding window
// (window, limit) and reports whether it was admitted. The attempt is
// always recorded in the window regardless of outcome, per spec §4.3.2's
// "on admission, the timestamp is recorded" read together with needing an
// accurate count for the *next* caller — recording rejected attempts too
// would let a caller starve itself out of its own budget, so Allow only
// commits the timestamp when it decides to admit.
//
// If the cache is unavailable, Allow fails open per spec §4.3: the
// request is admitted and Result.Degraded is set rather than surfacing an
// error that would otherwise reject ingestion outright on a cache blip.
func (l *Limiter) Allow(ctx context.Context, key string, window time.Duration, limit int) (Result, error) {
	now := l.clock.Now()
	count, err := l.cache.AddToWindow(ctx, probeKey(key), now, window)
	if err != nil {
		metrics.RecordCacheDegraded("rate_limit")
		return Result{Admitted: true, Degraded: true}, nil
	}
	if count <= int64(limit) {
		return Result{Admitted: true, Count: count, Limit: limit}, nil
	}
	return Result{Admitted: false, Count: count, Limit: limit, RetryAfter: window}, nil
}

func probeKey(key string) string {
	return "ratelimit:" + key
}
