package rules

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sentinelops/remediator/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		Rules: map[string]config.Rule{
			"payment.declined": {Severity: "high", RetryPolicy: "fast", Retryable: true},
			"auth.expired":     {Severity: "low", RetryPolicy: "default", Retryable: false},
		},
		RetryPolicies: map[string]config.RetryPolicy{
			"default": config.DefaultRetryPolicy,
			"fast": {
				Retryable:    true,
				MaxRetries:   5,
				InitialDelay: 500 * time.Millisecond,
				MaxDelay:     10 * time.Second,
				Multiplier:   1.5,
				Jitter:       0.2,
			},
		},
	}
}

func TestResolve_KnownErrorCode(t *testing.T) {
	l := New(testConfig())
	res := l.Resolve("payment.declined")
	require.Equal(t, "high", res.Rule.Severity)
	require.Equal(t, 5, res.Policy.MaxRetries)
}

func TestResolve_UnknownErrorCodeFallsBackToDefault(t *testing.T) {
	l := New(testConfig())
	res := l.Resolve("some.unmapped.code")
	require.Equal(t, config.DefaultRule, res.Rule)
	require.Equal(t, config.DefaultRetryPolicy, res.Policy)
}

func TestResolve_NonRetryableRuleKeepsDefaultPolicyWhenNamed(t *testing.T) {
	l := New(testConfig())
	res := l.Resolve("auth.expired")
	require.False(t, res.Rule.Retryable)
	require.Equal(t, config.DefaultRetryPolicy, res.Policy)
}
