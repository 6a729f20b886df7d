// Package classifier is the external classification boundary of spec
// §4.6: the core depends only on the Adapter interface, never on how a
// recommendation is produced. Three implementations ship, per the Design
// Notes' "one adapter, many implementations": RuleBased (deterministic,
// consults the same rules table as the safety fabric), Mock (fixed,
// test-controlled output), and LLM (an external model call, wrapped in its
// own breaker and timeout).
package classifier

import (
	"context"

	"github.com/sentinelops/remediator/pkg/types"
)

// Result is the classifier's output, persisted immutably by the decision
// recorder before the action coordinator acts on it.
type Result struct {
	Category    string
	Confidence  float64
	Recommended types.ActionKind // retry | escalate | manual
	Reasoning   string
	ModelTag    string
}

// TimeoutResult is the documented fallback when classify exceeds its
// timeout or otherwise fails (spec §4.6: "treat as escalate").
var TimeoutResult = Result{
	Recommended: types.ActionKindEscalate,
	Confidence:  0,
	Reasoning:   "classifier_timeout",
}

// Adapter classifies an incident, given its recent correlated events.
type Adapter interface {
	Classify(ctx context.Context, incident *types.Incident, recentEvents []*types.Event) (Result, error)
}
