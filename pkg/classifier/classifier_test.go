package classifier

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sentinelops/remediator/internal/config"
	"github.com/sentinelops/remediator/pkg/safety/rules"
	"github.com/sentinelops/remediator/pkg/types"
)

func TestRuleBased_RetryableRuleRecommendsRetry(t *testing.T) {
	cfg := &config.Config{
		Rules: map[string]config.Rule{
			"payment.declined": {Severity: "high", RetryPolicy: "default", Retryable: true},
		},
		RetryPolicies: map[string]config.RetryPolicy{"default": config.DefaultRetryPolicy},
	}
	c := NewRuleBased(rules.New(cfg))

	incident := &types.Incident{Severity: types.SeverityHigh}
	events := []*types.Event{{Payload: map[string]interface{}{"error_code": "payment.declined"}}}

	res, err := c.Classify(context.Background(), incident, events)
	require.NoError(t, err)
	require.Equal(t, types.ActionKindRetry, res.Recommended)
	require.Equal(t, "payment.declined", res.Category)
}

func TestRuleBased_NonRetryableRuleRecommendsEscalate(t *testing.T) {
	cfg := &config.Config{
		Rules: map[string]config.Rule{
			"auth.expired": {Severity: "low", RetryPolicy: "default", Retryable: false},
		},
		RetryPolicies: map[string]config.RetryPolicy{"default": config.DefaultRetryPolicy},
	}
	c := NewRuleBased(rules.New(cfg))

	incident := &types.Incident{Severity: types.SeverityLow}
	events := []*types.Event{{Payload: map[string]interface{}{"error_code": "auth.expired"}}}

	res, err := c.Classify(context.Background(), incident, events)
	require.NoError(t, err)
	require.Equal(t, types.ActionKindEscalate, res.Recommended)
}

func TestRuleBased_CriticalSeverityAlwaysEscalates(t *testing.T) {
	cfg := &config.Config{
		Rules: map[string]config.Rule{
			"payment.declined": {Severity: "high", RetryPolicy: "default", Retryable: true},
		},
		RetryPolicies: map[string]config.RetryPolicy{"default": config.DefaultRetryPolicy},
	}
	c := NewRuleBased(rules.New(cfg))

	incident := &types.Incident{Severity: types.SeverityCritical}
	events := []*types.Event{{Payload: map[string]interface{}{"error_code": "payment.declined"}}}

	res, err := c.Classify(context.Background(), incident, events)
	require.NoError(t, err)
	require.Equal(t, types.ActionKindEscalate, res.Recommended)
}

func TestRuleBased_NoEventsFallsBackToUnknown(t *testing.T) {
	c := NewRuleBased(rules.New(&config.Config{
		RetryPolicies: map[string]config.RetryPolicy{"default": config.DefaultRetryPolicy},
	}))

	res, err := c.Classify(context.Background(), &types.Incident{}, nil)
	require.NoError(t, err)
	require.Equal(t, "unknown", res.Category)
}

func TestMock_ReturnsConfiguredResult(t *testing.T) {
	m := &Mock{Result: Result{Recommended: types.ActionKindManual, Reasoning: "forced"}}
	res, err := m.Classify(context.Background(), &types.Incident{}, nil)
	require.NoError(t, err)
	require.Equal(t, types.ActionKindManual, res.Recommended)
	require.Equal(t, "forced", res.Reasoning)
}

func TestMock_ReturnsConfiguredError(t *testing.T) {
	m := &Mock{Err: context.DeadlineExceeded}
	_, err := m.Classify(context.Background(), &types.Incident{}, nil)
	require.Error(t, err)
}
