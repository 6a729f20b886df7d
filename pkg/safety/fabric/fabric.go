// Package fabric composes the individual safety-fabric gates (kill switch,
// rate limiter, circuit breaker) into the single ordered check the
// ingestion pipeline runs at steps 3-5 of spec §4.1. Each gate remains
// independently testable in its own package; this package only sequences
// them and owns the per-vendor breaker instances (a breaker is stateful
// per vendor, so it must outlive any single request).
package fabric

import (
	"context"
	"sync"
	"time"

	"github.com/sentinelops/remediator/pkg/cache"
	"github.com/sentinelops/remediator/pkg/clock"
	"github.com/sentinelops/remediator/pkg/metrics"
	"github.com/sentinelops/remediator/pkg/safety/breaker"
	"github.com/sentinelops/remediator/pkg/safety/killswitch"
	"github.com/sentinelops/remediator/pkg/safety/ratelimit"
	"github.com/sentinelops/remediator/pkg/store"
	"github.com/sentinelops/remediator/pkg/types"
)

// RejectionReason names which gate rejected an ingestion attempt, matching
// the failure-mode vocabulary of spec §4.1.
type RejectionReason string

const (
	RejectionNone           RejectionReason = ""
	RejectionWorkflowDisabled RejectionReason = "workflow_disabled"
	RejectionRateLimited    RejectionReason = "rate_limited"
	RejectionBreakerOpen    RejectionReason = "breaker_open"
)

// Decision is the outcome of running an event through the gates.
type Decision struct {
	Admitted   bool
	Reason     RejectionReason
	RetryAfter time.Duration
}

// Fabric sequences the kill switch, rate limiter, and per-vendor breaker
// gates.
type Fabric struct {
	killSwitch *killswitch.Gate
	limiter    *ratelimit.Limiter

	tenantRateLimit int
	vendorRateLimit map[string]int

	mu       sync.Mutex
	breakers map[string]*breaker.Breaker
	cache    cache.Cache
	clock    clock.Clock
}

// Config is the static tuning the fabric needs beyond what it reads from
// the store at request time.
type Config struct {
	TenantRateLimitPerMinute int
	Vendors                  map[string]types.VendorBreakerConfig
	VendorRateLimitPerMinute map[string]int
}

// New constructs a Fabric backed by s for kill-switch lookups, c for
// shared rate-limit/breaker state, and clk for time.
func New(s store.Store, c cache.Cache, clk clock.Clock, cfg Config) *Fabric {
	f := &Fabric{
		killSwitch:      killswitch.New(s),
		limiter:         ratelimit.New(c, clk),
		tenantRateLimit: cfg.TenantRateLimitPerMinute,
		vendorRateLimit: cfg.VendorRateLimitPerMinute,
		breakers:        make(map[string]*breaker.Breaker, len(cfg.Vendors)),
		cache:           c,
		clock:           clk,
	}
	for name, vc := range cfg.Vendors {
		f.breakers[name] = breaker.New(name, vc, c, clk)
	}
	return f
}

// Breaker returns the breaker for vendor, or nil if the vendor has no
// configured breaker (spec §4.1 step 5 only applies "if the payload names
// a vendor").
func (f *Fabric) Breaker(vendor string) *breaker.Breaker {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.breakers[vendor]
}

// Check runs the kill-switch, rate-limit, and breaker gates in the order
// spec §4.1 mandates (steps 3-5), short-circuiting on the first rejection.
func (f *Fabric) Check(ctx context.Context, tenantID, workflowID, vendor string) (Decision, error) {
	blocked, _, err := f.killSwitch.Check(ctx, tenantID, workflowID)
	if err != nil {
		return Decision{}, err
	}
	if blocked {
		return Decision{Admitted: false, Reason: RejectionWorkflowDisabled}, nil
	}

	tenantRes, err := f.limiter.Allow(ctx, "tenant:"+tenantID, time.Minute, f.tenantRateLimit)
	if err != nil {
		return Decision{}, err
	}
	if !tenantRes.Admitted {
		metrics.RecordRateLimitRejection("tenant")
		return Decision{Admitted: false, Reason: RejectionRateLimited, RetryAfter: tenantRes.RetryAfter}, nil
	}

	if vendor != "" {
		if limit, ok := f.vendorRateLimit[vendor]; ok {
			vendorRes, err := f.limiter.Allow(ctx, "tenant:"+tenantID+":vendor:"+vendor, time.Minute, limit)
			if err != nil {
				return Decision{}, err
			}
			if !vendorRes.Admitted {
				metrics.RecordRateLimitRejection("tenant_vendor")
				return Decision{Admitted: false, Reason: RejectionRateLimited, RetryAfter: vendorRes.RetryAfter}, nil
			}
		}

		if b := f.Breaker(vendor); b != nil {
			allowed, err := b.Allow(ctx)
			if err != nil {
				return Decision{}, err
			}
			if !allowed {
				return Decision{Admitted: false, Reason: RejectionBreakerOpen}, nil
			}
		}
	}

	return Decision{Admitted: true}, nil
}
