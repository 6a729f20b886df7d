package classifier

import (
	"context"

	"github.com/sentinelops/remediator/pkg/types"
)

// Mock returns a fixed, caller-configured Result regardless of input, for
// tests that need precise control over the classifier's recommendation
// without exercising RuleBased's rule-table lookup or LLM's network call.
type Mock struct {
	Result Result
	Err    error
}

var _ Adapter = (*Mock)(nil)

// Classify returns m.Result (or m.Err, if set).
func (m *Mock) Classify(context.Context, *types.Incident, []*types.Event) (Result, error) {
	if m.Err != nil {
		return Result{}, m.Err
	}
	return m.Result, nil
}
