// Package retrybudget enforces the two retry allowances of spec §4.3.3:
// a per-(tenant,workflow) budget on incident.retry_count and a rolling-hour
// per-vendor failure budget. Exceeding either forces the action coordinator
// to escalate instead of retry. Both checks are read-only against
// pkg/store, matching the teacher's own read-check-then-act pattern for
// budget enforcement.
package retrybudget

import (
	"context"

	"github.com/sentinelops/remediator/pkg/clock"
	"github.com/sentinelops/remediator/pkg/store"
	"github.com/sentinelops/remediator/pkg/types"
)

// Enforcer checks workflow and vendor retry budgets.
type Enforcer struct {
	store store.Store
	clock clock.Clock
}

// New returns an Enforcer backed by s for persisted counters and clk for
// the rolling-hour window's reference time.
func New(s store.Store, clk clock.Clock) *Enforcer {
	return &Enforcer{store: s, clock: clk}
}

// PermitWorkflowRetry reports whether incident may be charged another
// retry: true iff incident.RetryCount < maxRetriesPerWorkflow.
func (e *Enforcer) PermitWorkflowRetry(incident *types.Incident, maxRetriesPerWorkflow int) bool {
	return incident.RetryCount < maxRetriesPerWorkflow
}

// PermitVendorActivity reports whether vendor has capacity left in its
// rolling-hour failure budget.
func (e *Enforcer) PermitVendorActivity(ctx context.Context, vendor string, maxRetriesPerVendorPerHour int) (bool, error) {
	count, err := e.store.CountVendorFailuresInTrailingHour(ctx, vendor, e.clock.Now())
	if err != nil {
		return false, err
	}
	return count < maxRetriesPerVendorPerHour, nil
}

// RecordVendorFailure charges one failure against vendor's rolling-hour
// budget, at the enforcer's current time.
func (e *Enforcer) RecordVendorFailure(ctx context.Context, vendor string) error {
	return e.store.RecordVendorFailure(ctx, vendor, e.clock.Now())
}

// IncrementWorkflowRetryCount charges one retry against the incident's
// workflow budget and returns the post-increment count (spec §4.5
// "Failure semantics": failed retries increment incident.retry_count).
func (e *Enforcer) IncrementWorkflowRetryCount(ctx context.Context, incidentID string) (int, error) {
	return e.store.IncrementIncidentRetryCount(ctx, incidentID)
}
