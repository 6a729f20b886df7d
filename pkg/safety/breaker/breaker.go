// Package breaker implements the per-vendor distributed circuit breaker of
// spec §4.3.1: CLOSED -> OPEN on a count threshold, OPEN -> HALF_OPEN after
// a cooldown, HALF_OPEN -> CLOSED on a successful probe or back to OPEN on
// a failed one. State lives in Redis so every gateway replica observes the
// same breaker. A local sony/gobreaker instance, fed only with the outcomes
// this process records, is a fast path: while it is open, Allow rejects
// without a Redis round trip; in every other state Allow reads Redis.
// Grounded on the failure-rate breaker idiom of
// pkg/orchestration/dependency/circuit_breaker_test.go, adapted from a
// percentage-of-requests threshold to the spec's count-threshold +
// probe_cap half-open semantics.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/sentinelops/remediator/pkg/cache"
	"github.com/sentinelops/remediator/pkg/clock"
	"github.com/sentinelops/remediator/pkg/metrics"
	"github.com/sentinelops/remediator/pkg/types"
)

// errLocalFailure is a synthetic sentinel fed to the local gobreaker
// mirror's Execute to register a failure; its text never surfaces to
// callers (Call and RecordFailure return their own, richer errors).
var errLocalFailure = errors.New("vendor call failed")

// state is the wire format persisted in Redis: "<BreakerState>:<failures>:<openedAtUnixNano>".
type state struct {
	value     types.BreakerState
	failures  int64
	openedAt  time.Time
}

func (s state) encode() string {
	return string(s.value) + ":" + strconv.FormatInt(s.failures, 10) + ":" + strconv.FormatInt(s.openedAt.UnixNano(), 10)
}

func decodeState(raw string) (state, bool) {
	parts := strings.SplitN(raw, ":", 3)
	if len(parts) != 3 {
		return state{}, false
	}
	failures, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return state{}, false
	}
	openedAtNano, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return state{}, false
	}
	return state{
		value:    types.BreakerState(parts[0]),
		failures: failures,
		openedAt: time.Unix(0, openedAtNano).UTC(),
	}, true
}

// Breaker gates calls to one vendor.
type Breaker struct {
	vendor string
	cfg    types.VendorBreakerConfig
	cache  cache.Cache
	clock  clock.Clock

	mu    sync.Mutex
	local *gobreaker.CircuitBreaker
	probesInFlight int
}

// New returns a breaker for vendor, configured per cfg, backed by c for
// distributed state and clk for time.
func New(vendor string, cfg types.VendorBreakerConfig, c cache.Cache, clk clock.Clock) *Breaker {
	b := &Breaker{vendor: vendor, cfg: cfg, cache: c, clock: clk}
	b.local = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "breaker:" + vendor,
		MaxRequests: uint32(maxInt(cfg.ProbeCap, 1)),
		Interval:    0,
		Timeout:     cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return int64(counts.ConsecutiveFailures) >= int64(cfg.Threshold)
		},
	})
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func (b *Breaker) key() string {
	return "breaker:" + b.vendor
}

// currentState reads the authoritative Redis state, seeding CLOSED if
// absent. If the cache is unavailable, currentState fails closed per spec
// §4.3 (treated as OPEN) rather than surfacing an error that would
// otherwise reject ingestion outright on a cache blip; the caller cannot
// distinguish this from a real OPEN breaker, which is the point — a vendor
// this gate can't see the failure history for is not one it should admit
// calls to.
func (b *Breaker) currentState(ctx context.Context) (state, error) {
	raw, ok, err := b.cache.Get(ctx, b.key())
	if err != nil {
		metrics.RecordCacheDegraded("breaker")
		now := b.clock.Now()
		return state{value: types.BreakerOpen, openedAt: now}, nil
	}
	if !ok {
		return state{value: types.BreakerClosed}, nil
	}
	decoded, ok := decodeState(raw)
	if !ok {
		return state{value: types.BreakerClosed}, nil
	}
	return decoded, nil
}

// effective applies the OPEN -> HALF_OPEN cooldown-elapsed transition
// without writing it back: reads are always computed against "now" so a
// stale write from another replica self-heals on the next read.
func (b *Breaker) effective(s state) types.BreakerState {
	if s.value == types.BreakerOpen && b.clock.Now().Sub(s.openedAt) >= b.cfg.Cooldown {
		return types.BreakerHalfOpen
	}
	return s.value
}

// Allow reports whether a call to the vendor may proceed right now, per
// spec §4.3.1: OPEN always rejects, HALF_OPEN admits only while the probe
// counter is under probe_cap, CLOSED always admits.
func (b *Breaker) Allow(ctx context.Context) (bool, error) {
	// Fast path: this process's own local mirror already reflects every
	// failure/success this process itself has recorded distributedly, so
	// an Open local state can never be staler than what a Redis round trip
	// would report for calls funneled through this instance.
	if b.local.State() == gobreaker.StateOpen {
		return false, nil
	}

	s, err := b.currentState(ctx)
	if err != nil {
		return false, err
	}
	effective := b.effective(s)
	metrics.RecordBreakerState(b.vendor, breakerStateValue(effective))
	switch effective {
	case types.BreakerOpen:
		return false, nil
	case types.BreakerHalfOpen:
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.probesInFlight >= maxInt(b.cfg.ProbeCap, 1) {
			return false, nil
		}
		b.probesInFlight++
		return true, nil
	default:
		return true, nil
	}
}

// breakerStateValue maps a BreakerState onto the gauge's documented
// encoding (0=closed, 1=half_open, 2=open).
func breakerStateValue(s types.BreakerState) float64 {
	switch s {
	case types.BreakerHalfOpen:
		return 1
	case types.BreakerOpen:
		return 2
	default:
		return 0
	}
}

// RecordSuccess reports a successful call, resetting the breaker to
// CLOSED with zeroed counters (CLOSED, or a successful HALF_OPEN probe).
func (b *Breaker) RecordSuccess(ctx context.Context) error {
	b.releaseProbe()
	_, _ = b.local.Execute(func() (interface{}, error) { return nil, nil })
	s, err := b.currentState(ctx)
	if err != nil {
		return err
	}
	if b.effective(s) == types.BreakerClosed && s.failures == 0 {
		return nil
	}
	next := state{value: types.BreakerClosed, failures: 0}
	_, err = b.cache.CompareAndSwap(ctx, b.key(), s.encode(), next.encode(), 0)
	return err
}

// RecordFailure reports a failed call. From CLOSED it increments the
// failure counter and opens the breaker once the counter reaches
// Threshold; from HALF_OPEN any probe failure reopens the breaker
// immediately and resets opened_at (observable guarantee: a fresh full
// cooldown begins).
func (b *Breaker) RecordFailure(ctx context.Context) error {
	b.releaseProbe()
	_, _ = b.local.Execute(func() (interface{}, error) { return nil, errLocalFailure })
	// A lost compare-and-swap means another replica changed the state at
	// the same instant; the failure is re-applied once against the
	// winner's state.
	for attempt := 0; attempt < 2; attempt++ {
		s, err := b.currentState(ctx)
		if err != nil {
			return err
		}
		effective := b.effective(s)
		now := b.clock.Now()

		var next state
		switch effective {
		case types.BreakerHalfOpen:
			next = state{value: types.BreakerOpen, failures: s.failures + 1, openedAt: now}
		default:
			failures := s.failures + 1
			if failures >= int64(b.cfg.Threshold) {
				next = state{value: types.BreakerOpen, failures: failures, openedAt: now}
			} else {
				next = state{value: types.BreakerClosed, failures: failures}
			}
		}

		swapped, err := b.cache.CompareAndSwap(ctx, b.key(), s.encode(), next.encode(), 0)
		if err != nil {
			return err
		}
		if swapped {
			return nil
		}
	}
	return nil
}

func (b *Breaker) releaseProbe() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.probesInFlight > 0 {
		b.probesInFlight--
	}
}

// State returns the breaker's current effective state, for metrics and
// logging.
func (b *Breaker) State(ctx context.Context) (types.BreakerState, error) {
	s, err := b.currentState(ctx)
	if err != nil {
		return "", err
	}
	return b.effective(s), nil
}

// Call runs fn if Allow permits it, recording the outcome against the
// breaker. Mirrors gobreaker's Call signature so the local fast-path
// instance and the distributed one present the same shape to callers.
func (b *Breaker) Call(ctx context.Context, fn func() error) error {
	allowed, err := b.Allow(ctx)
	if err != nil {
		return err
	}
	if !allowed {
		return fmt.Errorf("breaker open: %s", b.vendor)
	}
	if callErr := fn(); callErr != nil {
		_ = b.RecordFailure(ctx)
		return callErr
	}
	return b.RecordSuccess(ctx)
}

// StateValue maps a BreakerState to the metrics gauge convention
// (0=closed, 1=half_open, 2=open).
func StateValue(s types.BreakerState) float64 {
	switch s {
	case types.BreakerHalfOpen:
		return 1
	case types.BreakerOpen:
		return 2
	default:
		return 0
	}
}
