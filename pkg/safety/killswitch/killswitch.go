// Package killswitch is the ingestion pipeline's kill-switch gate (spec
// §4.1 step 3): a manually-activated, per-workflow or tenant-wide block on
// ingestion. The gate itself is a thin read against pkg/store — the store
// already resolves workflow-vs-tenant-wide precedence
// (store.Store.ActiveKillSwitch) — so this package's job is just naming
// the check the ingestion pipeline calls and shaping its result.
package killswitch

import (
	"context"

	"github.com/sentinelops/remediator/pkg/store"
)

// Gate checks for an active kill switch ahead of ingestion.
type Gate struct {
	store store.Store
}

// New returns a Gate backed by s.
func New(s store.Store) *Gate {
	return &Gate{store: s}
}

// Check reports whether ingestion for (tenantID, workflowID) is currently
// blocked, and if so, the reason recorded when the kill switch was
// activated.
func (g *Gate) Check(ctx context.Context, tenantID, workflowID string) (blocked bool, reason string, err error) {
	ks, err := g.store.ActiveKillSwitch(ctx, tenantID, workflowID)
	if err != nil {
		return false, "", err
	}
	if ks == nil {
		return false, "", nil
	}
	return true, ks.Reason, nil
}
