// Package fingerprint derives the canonical error signature used to group
// events into incidents (spec §4.2). Fingerprint is pure, total, and has no
// external side effects: same input always yields the same output.
package fingerprint

import (
	"regexp"
	"strings"

	"github.com/sentinelops/remediator/pkg/types"
)

// substitution is one normalize() token-class replacement, fixed at
// construction time and recorded on the Deriver's audit trail.
type substitution struct {
	name    string
	pattern *regexp.Regexp
	replace string
}

// defaultSubstitutions is the fixed substitution set from spec §4.2:
// numeric ids (3+ digits) -> "N", hex strings of 8+ chars -> "H".
var defaultSubstitutions = []substitution{
	{name: "numeric_id", pattern: regexp.MustCompile(`\b[0-9]{3,}\b`), replace: "N"},
	{name: "hex_id", pattern: regexp.MustCompile(`\b[0-9a-f]{8,}\b`), replace: "H"},
}

// Deriver computes fingerprints with a fixed substitution set. The set is
// part of the audit record (spec §4.2: "forms part of the audit record").
type Deriver struct {
	substitutions []substitution
}

// New returns a Deriver using the spec's documented default substitution
// set.
func New() *Deriver {
	return &Deriver{substitutions: defaultSubstitutions}
}

// SubstitutionNames returns the names of the substitutions applied by this
// Deriver, in application order, for inclusion in a decision's audit trail.
func (d *Deriver) SubstitutionNames() []string {
	names := make([]string, len(d.substitutions))
	for i, s := range d.substitutions {
		names[i] = s.name
	}
	return names
}

// Normalize lowercases, trims, and strips volatile suffixes from s by
// token-class substitution.
func (d *Deriver) Normalize(s string) string {
	out := strings.ToLower(strings.TrimSpace(s))
	for _, sub := range d.substitutions {
		out = sub.pattern.ReplaceAllString(out, sub.replace)
	}
	return out
}

// Derive computes the fingerprint for e:
// lower(event_type) ":" normalize(error_code) ":" workflow_id
func (d *Deriver) Derive(e types.Event) string {
	eventType := strings.ToLower(e.EventType)
	errorCode := d.Normalize(e.ErrorCode())
	return eventType + ":" + errorCode + ":" + e.WorkflowID
}
