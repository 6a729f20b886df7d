// Package rules is the read-only lookup of error-code -> (severity,
// retry policy, retryable) the classifier and action coordinator consult
// (spec §4.3.4). It is a thin typed wrapper over internal/config's already
// loaded, already-defaulted table — the table itself is plain Go
// structs+maps (internal/config.Config), the same pattern the teacher uses
// throughout pkg/datastorage for static lookup tables, rather than a rules
// engine: the spec describes this as a read-only table, not an evaluator.
package rules

import (
	"github.com/sentinelops/remediator/internal/config"
)

// Lookup resolves error codes against a loaded configuration.
type Lookup struct {
	cfg *config.Config
}

// New returns a Lookup backed by cfg.
func New(cfg *config.Config) *Lookup {
	return &Lookup{cfg: cfg}
}

// Resolution is the outcome of looking up an error code: its rule plus the
// concrete retry policy it names, already resolved so callers never
// re-index RetryPolicies themselves.
type Resolution struct {
	Rule   config.Rule
	Policy config.RetryPolicy
}

// Resolve returns the rule and retry policy for errorCode, falling back to
// config.DefaultRule/DefaultRetryPolicy when errorCode is unconfigured.
func (l *Lookup) Resolve(errorCode string) Resolution {
	rule := l.cfg.RuleFor(errorCode)
	return Resolution{Rule: rule, Policy: l.cfg.PolicyFor(rule.RetryPolicy)}
}
