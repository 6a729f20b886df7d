// Package store defines the durable, tenant-scoped persistence contract
// consumed by the ingestion pipeline, incident manager, decision recorder,
// and action coordinator. Entities relate to each other only by id; callers
// never hold in-memory pointers across a suspension point (SPEC_FULL.md §9:
// arena+id references via the store).
package store

import (
	"context"
	"time"

	"github.com/sentinelops/remediator/pkg/types"
)

// Store is the full persistence contract. pkg/store/postgres implements it
// against Postgres; pkg/store/memstore implements it in-memory for tests
// that don't need a real database.
type Store interface {
	// GetTenant returns the tenant, or a not_found AppError.
	GetTenant(ctx context.Context, tenantID string) (*types.Tenant, error)

	// GetWorkflow returns the workflow, or a not_found AppError.
	GetWorkflow(ctx context.Context, tenantID, workflowID string) (*types.Workflow, error)

	// ActiveKillSwitch returns the active kill switch applying to
	// (tenantID, workflowID) — workflow-specific takes precedence over
	// tenant-wide — or nil if none is active.
	ActiveKillSwitch(ctx context.Context, tenantID, workflowID string) (*types.KillSwitch, error)

	// GetVendor returns the named vendor's current state, or a not_found
	// AppError.
	GetVendor(ctx context.Context, name string) (*types.Vendor, error)

	// SaveVendorBreakerState persists the vendor's breaker fields.
	SaveVendorBreakerState(ctx context.Context, vendor *types.Vendor) error

	// FindEventByIdempotencyKey looks up a previously persisted event by
	// (tenantID, idempotencyKey). ok is false if none exists.
	FindEventByIdempotencyKey(ctx context.Context, tenantID, idempotencyKey string) (event *types.Event, ok bool, err error)

	// GetEvent returns the event by id, or a not_found AppError. Used by
	// the incident manager to resolve a correlation set into event records
	// for the classifier adapter.
	GetEvent(ctx context.Context, eventID string) (*types.Event, error)

	// InsertEvent persists a new event row. If a row with the same
	// (tenant_id, idempotency_key) already exists (a race with another
	// writer), InsertEvent returns that existing event and ok=true instead
	// of an error — the unique constraint is the final duplicate guard
	// (spec §4.1 step 6, Design Notes "check-then-act backed by the unique
	// constraint").
	InsertEvent(ctx context.Context, event *types.Event) (existing *types.Event, wasDuplicate bool, err error)

	// MarkEventDispatched records that the incident manager has finished
	// processing eventID, so the scheduler's catch-up sweep never
	// re-dispatches it.
	MarkEventDispatched(ctx context.Context, eventID string) error

	// UndispatchedEvents returns up to limit events with dispatched=false,
	// oldest received_at first, for the catch-up sweep to re-drive after a
	// crash between persist and dispatch.
	UndispatchedEvents(ctx context.Context, limit int) ([]*types.Event, error)

	// FindOpenIncident looks up the open (non-terminal) incident for
	// (tenantID, workflowID, signature).
	FindOpenIncident(ctx context.Context, tenantID, workflowID, signature string) (*types.Incident, bool, error)

	// CreateIncidentOrAppend atomically creates a new incident for
	// (tenantID, workflowID, signature) or, if an open one already exists
	// (a concurrent creator won the race), appends eventID to it instead.
	// This implements spec §4.4 rule 3's concurrency requirement without a
	// caller-visible check-then-act race.
	CreateIncidentOrAppend(ctx context.Context, incident *types.Incident, eventID string) (result *types.Incident, created bool, err error)

	// AppendEventToIncident increments event_count, advances last_seen_at
	// if occurredAt is later, and appends eventID to the correlation set.
	AppendEventToIncident(ctx context.Context, incidentID, eventID string, occurredAt time.Time) (*types.Incident, error)

	// UpdateIncidentSeverity persists a severity upgrade.
	UpdateIncidentSeverity(ctx context.Context, incidentID string, severity types.Severity) error

	// UpdateIncidentStatus persists a lifecycle transition.
	UpdateIncidentStatus(ctx context.Context, incidentID string, status types.IncidentStatus) error

	// IncrementIncidentRetryCount increments retry_count under a
	// transaction and returns the post-increment value (spec §4.5
	// "Failure semantics").
	IncrementIncidentRetryCount(ctx context.Context, incidentID string) (int, error)

	// GetIncident returns the incident by id.
	GetIncident(ctx context.Context, incidentID string) (*types.Incident, error)

	// InsertDecision persists an immutable decision record.
	InsertDecision(ctx context.Context, decision *types.Decision) error

	// InsertAction persists a new action if and only if the incident has
	// no existing action in {PENDING, IN_PROGRESS} — the single-flight
	// invariant (spec §4.5), enforced here as the authoritative guard.
	// conflict is true (err nil) if the invariant would be violated.
	InsertAction(ctx context.Context, action *types.Action) (conflict bool, err error)

	// GetAction returns the action by id.
	GetAction(ctx context.Context, actionID string) (*types.Action, error)

	// TransitionAction validates and persists status: from -> to. Returns
	// an invariant_violation AppError if the transition is illegal or the
	// stored status no longer matches from (lost a race).
	TransitionAction(ctx context.Context, actionID string, from, to types.ActionStatus, result string) (*types.Action, error)

	// ListDueActions returns PENDING actions whose scheduled_for <= now,
	// for the scheduler's poll loop.
	ListDueActions(ctx context.Context, now time.Time, limit int) ([]*types.Action, error)

	// LatestActionForIncident returns the most recently created action for
	// incidentID, or nil if none exists — used by reversal eligibility
	// checks (spec §4.5).
	LatestActionForIncident(ctx context.Context, incidentID string) (*types.Action, error)

	// ActionsForIncident returns every action recorded against incidentID,
	// oldest first.
	ActionsForIncident(ctx context.Context, incidentID string) ([]*types.Action, error)

	// CountVendorFailuresInTrailingHour returns the number of recorded
	// vendor-attributed action failures in the last hour, for the
	// retry-budget enforcer's permit_vendor_activity check.
	CountVendorFailuresInTrailingHour(ctx context.Context, vendor string, now time.Time) (int, error)

	// RecordVendorFailure records one vendor-attributed failure at the
	// given time, consulted by CountVendorFailuresInTrailingHour.
	RecordVendorFailure(ctx context.Context, vendor string, at time.Time) error
}

// legalActionTransitions enumerates the action state machine's allowed
// before/after pairs (spec §4.5, §8).
var legalActionTransitions = map[types.ActionStatus][]types.ActionStatus{
	types.ActionStatusPending:    {types.ActionStatusInProgress},
	types.ActionStatusInProgress: {types.ActionStatusSucceeded, types.ActionStatusFailed},
}

// IsLegalActionTransition reports whether from -> to is a legal action
// state transition per spec §4.5.
func IsLegalActionTransition(from, to types.ActionStatus) bool {
	for _, allowed := range legalActionTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
