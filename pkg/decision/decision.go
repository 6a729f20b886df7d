// Package decision records classifier outputs immutably before the action
// coordinator acts on them (spec §4.4 rule 5, §4.6: "The decision recorder
// persists the returned record immutably before the action coordinator
// acts on it").
package decision

import (
	"context"

	"github.com/google/uuid"

	"github.com/sentinelops/remediator/pkg/classifier"
	"github.com/sentinelops/remediator/pkg/clock"
	"github.com/sentinelops/remediator/pkg/store"
	"github.com/sentinelops/remediator/pkg/types"
)

// Recorder persists classifier results as immutable Decision rows.
type Recorder struct {
	store store.Store
	clock clock.Clock
}

// New returns a Recorder backed by s for persistence and clk for CreatedAt.
func New(s store.Store, clk clock.Clock) *Recorder {
	return &Recorder{store: s, clock: clk}
}

// Record persists result as a classification decision against incident
// and returns the stored record.
func (r *Recorder) Record(ctx context.Context, incidentID string, result classifier.Result) (*types.Decision, error) {
	d := &types.Decision{
		ID:          "dec_" + uuid.NewString(),
		IncidentID:  incidentID,
		Kind:        types.DecisionKindClassification,
		Category:    result.Category,
		Recommended: result.Recommended,
		Reasoning:   result.Reasoning,
		Confidence:  result.Confidence,
		ModelTag:    result.ModelTag,
		CreatedAt:   r.clock.Now(),
	}
	if err := r.store.InsertDecision(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}
