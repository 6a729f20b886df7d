package classifier

import (
	"context"

	"github.com/sentinelops/remediator/pkg/safety/rules"
	"github.com/sentinelops/remediator/pkg/types"
)

// RuleBased classifies deterministically from the same rules table the
// safety fabric consults (spec SPEC_FULL §4.6): retryable rules recommend
// retry, non-retryable rules or CRITICAL severity recommend escalate.
type RuleBased struct {
	rules *rules.Lookup
}

// NewRuleBased returns a RuleBased classifier backed by l.
func NewRuleBased(l *rules.Lookup) *RuleBased {
	return &RuleBased{rules: l}
}

var _ Adapter = (*RuleBased)(nil)

// Classify resolves the incident's error code against the rules table. The
// error code is read from the most recent correlated event, falling back
// to "unknown" when none is available.
func (r *RuleBased) Classify(_ context.Context, incident *types.Incident, recentEvents []*types.Event) (Result, error) {
	errorCode := "unknown"
	if len(recentEvents) > 0 {
		errorCode = recentEvents[len(recentEvents)-1].ErrorCode()
	}
	res := r.rules.Resolve(errorCode)

	recommended := types.ActionKindEscalate
	if res.Rule.Retryable && incident.Severity != types.SeverityCritical {
		recommended = types.ActionKindRetry
	}

	return Result{
		Category:    errorCode,
		Confidence:  1,
		Recommended: recommended,
		Reasoning:   "rule_based:" + res.Rule.Severity,
		ModelTag:    "rule_based",
	}, nil
}
