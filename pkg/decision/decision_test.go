package decision

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sentinelops/remediator/pkg/classifier"
	"github.com/sentinelops/remediator/pkg/clock"
	"github.com/sentinelops/remediator/pkg/store/memstore"
	"github.com/sentinelops/remediator/pkg/types"
)

func TestRecord_PersistsImmutableDecision(t *testing.T) {
	ctx := context.Background()
	ms := memstore.New()
	ms.SeedTenant(types.Tenant{ID: "t1", Active: true})
	ms.SeedWorkflow(types.Workflow{ID: "w1", TenantID: "t1", Active: true})
	incident, _, err := ms.CreateIncidentOrAppend(ctx, &types.Incident{TenantID: "t1", WorkflowID: "w1", Signature: "sig"}, "ev1")
	require.NoError(t, err)

	now := time.Now()
	r := New(ms, clock.NewFake(now))

	d, err := r.Record(ctx, incident.ID, classifier.Result{
		Category:    "payment.declined",
		Confidence:  0.9,
		Recommended: types.ActionKindRetry,
		Reasoning:   "rule_based:high",
		ModelTag:    "rule_based",
	})
	require.NoError(t, err)
	require.NotEmpty(t, d.ID)
	require.Equal(t, types.DecisionKindClassification, d.Kind)
	require.Equal(t, types.ActionKindRetry, d.Recommended)
	require.Equal(t, now, d.CreatedAt)
}
