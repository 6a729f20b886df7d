// Package action implements the action coordinator of spec §4.5: the
// state machine, retry scheduling, escalation dispatch, and reversal
// semantics driven by decision outcomes. Exactly one action is in flight
// per incident at a time (the single-flight invariant), enforced at the
// store via a unique partial index and surfaced here as a conflict.
package action

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/sentinelops/remediator/internal/config"
	"github.com/sentinelops/remediator/pkg/clock"
	"github.com/sentinelops/remediator/pkg/metrics"
	"github.com/sentinelops/remediator/pkg/notify"
	"github.com/sentinelops/remediator/pkg/randsrc"
	"github.com/sentinelops/remediator/pkg/safety/fabric"
	"github.com/sentinelops/remediator/pkg/safety/retrybudget"
	"github.com/sentinelops/remediator/pkg/safety/rules"
	"github.com/sentinelops/remediator/pkg/store"
	"github.com/sentinelops/remediator/pkg/types"
)

// Coordinator implements on_decision per spec §4.5.
type Coordinator struct {
	store       store.Store
	clock       clock.Clock
	rand        randsrc.Source
	rules       *rules.Lookup
	retryBudget *retrybudget.Enforcer
	dispatcher  notify.Dispatcher
	safety      config.SafetyConfig
	fabric      *fabric.Fabric
}

// New returns a Coordinator wiring the rules lookup, retry-budget
// enforcer, escalation dispatcher, and safety fabric together. f supplies
// the per-vendor breakers that CompleteRetry charges on each retry
// outcome; it may be nil in tests that don't exercise breaker wiring.
func New(s store.Store, clk clock.Clock, rnd randsrc.Source, rl *rules.Lookup, rb *retrybudget.Enforcer, d notify.Dispatcher, safety config.SafetyConfig, f *fabric.Fabric) *Coordinator {
	return &Coordinator{store: s, clock: clk, rand: rnd, rules: rl, retryBudget: rb, dispatcher: d, safety: safety, fabric: f}
}

// OnDecision selects and schedules a remediation action for incident given
// decision, per spec §4.5's selection policy. errorCode names the rule to
// resolve the retry policy from; vendor is the vendor the incident's
// failures are attributed to (empty if none, in which case
// permit_vendor_activity is not consulted). If an action is already in
// flight for incident, OnDecision creates nothing and returns (nil, nil) —
// the single-flight invariant (spec scenario 6: "the coordinator records
// a suppression note in the decision audit", satisfied here by simply not
// creating a conflicting row; the decision itself, already persisted
// immutably, is the audit record).
func (c *Coordinator) OnDecision(ctx context.Context, incident *types.Incident, decision *types.Decision, errorCode, vendor string) (*types.Action, error) {
	latest, err := c.store.LatestActionForIncident(ctx, incident.ID)
	if err != nil {
		return nil, err
	}
	if latest != nil && latest.InFlight() {
		return nil, nil
	}

	resolution := c.rules.Resolve(errorCode)
	kind, err := c.selectKind(ctx, incident, decision, resolution, vendor)
	if err != nil {
		return nil, err
	}

	switch kind {
	case types.ActionKindRetry:
		return c.createRetry(ctx, incident, resolution.Policy)
	case types.ActionKindEscalate:
		return c.createEscalation(ctx, incident)
	default:
		return c.createManual(ctx, incident)
	}
}

// selectKind implements spec §4.5's selection table, evaluated in
// priority order: a retry recommendation only survives if the workflow
// and vendor retry budgets both have room and the resolved policy is
// retryable and the incident isn't CRITICAL; anything that fails that
// bar, or that the classifier marked non-retryable outright, escalates;
// a human-review recommendation creates a manual action.
func (c *Coordinator) selectKind(ctx context.Context, incident *types.Incident, decision *types.Decision, resolution rules.Resolution, vendor string) (types.ActionKind, error) {
	if decision.Recommended == types.ActionKindRetry {
		if incident.Severity == types.SeverityCritical || !resolution.Rule.Retryable {
			return types.ActionKindEscalate, nil
		}
		if !c.retryBudget.PermitWorkflowRetry(incident, c.safety.MaxRetriesPerWorkflow) {
			return types.ActionKindEscalate, nil
		}
		if vendor != "" {
			ok, err := c.retryBudget.PermitVendorActivity(ctx, vendor, c.safety.MaxRetriesPerVendorPerHour)
			if err != nil {
				return "", err
			}
			if !ok {
				return types.ActionKindEscalate, nil
			}
		}
		return types.ActionKindRetry, nil
	}
	if decision.Recommended == types.ActionKindManual {
		return types.ActionKindManual, nil
	}
	return types.ActionKindEscalate, nil
}

func (c *Coordinator) createRetry(ctx context.Context, incident *types.Incident, policy config.RetryPolicy) (*types.Action, error) {
	attempt := incident.RetryCount + 1
	delay := delayForAttempt(policy, attempt, c.rand)
	now := c.clock.Now()

	act := &types.Action{
		ID:            "act_" + uuid.NewString(),
		Kind:          types.ActionKindRetry,
		IncidentID:    incident.ID,
		Status:        types.ActionStatusPending,
		Reversible:    true,
		ScheduledFor:  now.Add(delay),
		AttemptNumber: attempt,
		CreatedAt:     now,
	}
	return c.insertSingleFlight(ctx, act)
}

func (c *Coordinator) createManual(ctx context.Context, incident *types.Incident) (*types.Action, error) {
	now := c.clock.Now()
	act := &types.Action{
		ID:           "act_" + uuid.NewString(),
		Kind:         types.ActionKindManual,
		IncidentID:   incident.ID,
		Status:       types.ActionStatusPending,
		Reversible:   false,
		ScheduledFor: now,
		CreatedAt:    now,
	}
	return c.insertSingleFlight(ctx, act)
}

// createEscalation creates and immediately drives an escalation action
// through the dispatcher (spec §4.5: "the coordinator only ensures the
// escalation action is durably recorded and marked SUCCEEDED when dispatch
// is acknowledged"). The level is one more than the number of escalations
// already recorded for this incident, capped at 3 (management).
func (c *Coordinator) createEscalation(ctx context.Context, incident *types.Incident) (*types.Action, error) {
	priorEscalations, err := c.countEscalations(ctx, incident.ID)
	if err != nil {
		return nil, err
	}
	level := notify.Level(priorEscalations + 1)
	if level > notify.LevelManagement {
		level = notify.LevelManagement
	}

	now := c.clock.Now()
	act := &types.Action{
		ID:           "act_" + uuid.NewString(),
		Kind:         types.ActionKindEscalate,
		IncidentID:   incident.ID,
		Status:       types.ActionStatusPending,
		Parameters:   map[string]interface{}{"level": int(level)},
		Reversible:   false,
		ScheduledFor: now,
		CreatedAt:    now,
	}
	created, err := c.insertSingleFlight(ctx, act)
	if err != nil || created == nil {
		return created, err
	}

	return c.driveEscalation(ctx, created, level)
}

func (c *Coordinator) driveEscalation(ctx context.Context, act *types.Action, level notify.Level) (*types.Action, error) {
	inProgress, err := c.store.TransitionAction(ctx, act.ID, types.ActionStatusPending, types.ActionStatusInProgress, "")
	if err != nil {
		return nil, err
	}

	ack, dispatchErr := c.dispatcher.Dispatch(ctx, level, act.IncidentID, "escalation")
	if dispatchErr != nil {
		// Escalation dispatch failures are logged and the action marked
		// FAILED; the coordinator never auto-retries escalations (spec
		// §4.5 "Failure semantics").
		failed, err := c.store.TransitionAction(ctx, inProgress.ID, types.ActionStatusInProgress, types.ActionStatusFailed, dispatchErr.Error())
		if err != nil {
			return nil, err
		}
		metrics.RecordActionCompleted(string(failed.Kind), string(failed.Status))
		return failed, nil
	}

	succeeded, err := c.store.TransitionAction(ctx, inProgress.ID, types.ActionStatusInProgress, types.ActionStatusSucceeded, ack.Channel+":"+ack.Timestamp)
	if err != nil {
		return nil, err
	}
	metrics.RecordActionCompleted(string(succeeded.Kind), string(succeeded.Status))
	return succeeded, nil
}

func (c *Coordinator) countEscalations(ctx context.Context, incidentID string) (int, error) {
	actions, err := c.store.ActionsForIncident(ctx, incidentID)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, a := range actions {
		if a.Kind == types.ActionKindEscalate {
			count++
		}
	}
	return count, nil
}

// insertSingleFlight persists act, honoring the single-flight invariant.
// A conflict (another action won the race) is not an error: it means a
// concurrent caller already occupies the incident's single flight slot,
// so this call simply creates nothing.
func (c *Coordinator) insertSingleFlight(ctx context.Context, act *types.Action) (*types.Action, error) {
	conflict, err := c.store.InsertAction(ctx, act)
	if err != nil {
		return nil, err
	}
	if conflict {
		return nil, nil
	}
	metrics.RecordActionCreated(string(act.Kind))
	return act, nil
}

// CompleteRetry transitions a retry action from IN_PROGRESS to its
// terminal state, per the scheduler's execution outcome. A failed retry
// charges the workflow's retry budget (spec §4.5 "Failure semantics"); a
// failed retry attributed to a vendor also charges that vendor's
// rolling-hour budget.
func (c *Coordinator) CompleteRetry(ctx context.Context, act *types.Action, succeeded bool, result, vendor string) (*types.Action, error) {
	if act.Kind != types.ActionKindRetry {
		return nil, fmt.Errorf("action %s is not a retry action", act.ID)
	}
	to := types.ActionStatusSucceeded
	if !succeeded {
		to = types.ActionStatusFailed
	}
	updated, err := c.store.TransitionAction(ctx, act.ID, types.ActionStatusInProgress, to, result)
	if err != nil {
		return nil, err
	}
	metrics.RecordActionCompleted(string(updated.Kind), string(updated.Status))
	if !succeeded {
		if _, err := c.retryBudget.IncrementWorkflowRetryCount(ctx, act.IncidentID); err != nil {
			return nil, err
		}
		if vendor != "" {
			if err := c.retryBudget.RecordVendorFailure(ctx, vendor); err != nil {
				return nil, err
			}
		}
	}
	if vendor != "" && c.fabric != nil {
		if b := c.fabric.Breaker(vendor); b != nil {
			if succeeded {
				_ = b.RecordSuccess(ctx)
			} else {
				_ = b.RecordFailure(ctx)
			}
		}
	}
	return updated, nil
}

// Reverse creates a reversal action for a prior action, per spec §4.5:
// eligible iff the prior action is reversible, reached SUCCEEDED, has no
// subsequent action that reached IN_PROGRESS or beyond, and has not
// already been reversed.
func (c *Coordinator) Reverse(ctx context.Context, incidentID, actionID string) (*types.Action, error) {
	actions, err := c.store.ActionsForIncident(ctx, incidentID)
	if err != nil {
		return nil, err
	}

	var target *types.Action
	index := -1
	for i := range actions {
		if actions[i].ID == actionID {
			target = actions[i]
			index = i
			break
		}
	}
	if target == nil {
		return nil, fmt.Errorf("action %s not found on incident %s", actionID, incidentID)
	}
	if !target.Reversible || target.Status != types.ActionStatusSucceeded {
		return nil, fmt.Errorf("action %s is not eligible for reversal", actionID)
	}
	for i, a := range actions {
		if a.ReversalOf == actionID {
			return nil, fmt.Errorf("action %s has already been reversed", actionID)
		}
		if i > index && (a.Status == types.ActionStatusInProgress || a.Status == types.ActionStatusSucceeded || a.Status == types.ActionStatusFailed) {
			return nil, fmt.Errorf("action %s cannot be reversed: a later action on incident %s has already progressed", actionID, incidentID)
		}
	}

	now := c.clock.Now()
	reversal := &types.Action{
		ID:           "act_" + uuid.NewString(),
		Kind:         types.ActionKindReversal,
		IncidentID:   incidentID,
		Status:       types.ActionStatusPending,
		ReversalOf:   actionID,
		Reversible:   false,
		ScheduledFor: now,
		CreatedAt:    now,
	}
	return c.insertSingleFlight(ctx, reversal)
}
