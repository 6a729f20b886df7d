package postgres

import (
	"context"

	apperrors "github.com/sentinelops/remediator/internal/errors"
)

// schemaDDL creates the tables and the partial unique indexes the safety
// invariants depend on: one open incident per (tenant, workflow, signature)
// (spec §4.4(3)) and at most one in-flight action per incident (spec §4.5).
const schemaDDL = `
CREATE TABLE IF NOT EXISTS tenants (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	active BOOLEAN NOT NULL DEFAULT true
);

CREATE TABLE IF NOT EXISTS workflows (
	id TEXT NOT NULL,
	tenant_id TEXT NOT NULL REFERENCES tenants(id),
	name TEXT NOT NULL,
	active BOOLEAN NOT NULL DEFAULT true,
	webhook_url TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (tenant_id, id)
);

CREATE TABLE IF NOT EXISTS kill_switches (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	workflow_id TEXT NOT NULL DEFAULT '',
	active BOOLEAN NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	activated_by TEXT NOT NULL DEFAULT '',
	activated_at TIMESTAMPTZ NOT NULL,
	deactivated_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_kill_switches_lookup ON kill_switches (tenant_id, workflow_id) WHERE active;

CREATE TABLE IF NOT EXISTS vendors (
	id TEXT PRIMARY KEY,
	name TEXT UNIQUE NOT NULL,
	breaker_state TEXT NOT NULL DEFAULT 'CLOSED',
	breaker_failures BIGINT NOT NULL DEFAULT 0,
	breaker_opened_at TIMESTAMPTZ,
	rate_limit_per_minute INT NOT NULL DEFAULT 0,
	breaker_threshold INT NOT NULL DEFAULT 5,
	breaker_cooldown_ms BIGINT NOT NULL DEFAULT 30000,
	breaker_probe_cap INT NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS events (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	workflow_id TEXT NOT NULL,
	event_type TEXT NOT NULL,
	payload JSONB NOT NULL DEFAULT '{}',
	idempotency_key TEXT NOT NULL,
	occurred_at TIMESTAMPTZ NOT NULL,
	received_at TIMESTAMPTZ NOT NULL,
	correlation_id TEXT NOT NULL DEFAULT '',
	vendor TEXT NOT NULL DEFAULT '',
	dispatched BOOLEAN NOT NULL DEFAULT false
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_events_idempotency ON events (tenant_id, idempotency_key);
CREATE INDEX IF NOT EXISTS idx_events_undispatched ON events (received_at) WHERE NOT dispatched;

CREATE TABLE IF NOT EXISTS incidents (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	workflow_id TEXT NOT NULL,
	signature TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	severity TEXT NOT NULL,
	event_count BIGINT NOT NULL DEFAULT 0,
	first_seen_at TIMESTAMPTZ NOT NULL,
	last_seen_at TIMESTAMPTZ NOT NULL,
	retry_count INT NOT NULL DEFAULT 0,
	metadata JSONB NOT NULL DEFAULT '{}',
	correlation JSONB NOT NULL DEFAULT '[]'
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_incidents_open_signature
	ON incidents (tenant_id, workflow_id, signature)
	WHERE status NOT IN ('RESOLVED', 'IGNORED');

CREATE TABLE IF NOT EXISTS decisions (
	id TEXT PRIMARY KEY,
	incident_id TEXT NOT NULL REFERENCES incidents(id),
	kind TEXT NOT NULL,
	category TEXT NOT NULL DEFAULT '',
	recommended TEXT NOT NULL DEFAULT '',
	reasoning TEXT NOT NULL DEFAULT '',
	confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
	model_tag TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS actions (
	id TEXT PRIMARY KEY,
	incident_id TEXT NOT NULL REFERENCES incidents(id),
	kind TEXT NOT NULL,
	status TEXT NOT NULL,
	parameters JSONB NOT NULL DEFAULT '{}',
	result TEXT NOT NULL DEFAULT '',
	reversible BOOLEAN NOT NULL DEFAULT false,
	reversal_of TEXT NOT NULL DEFAULT '',
	scheduled_for TIMESTAMPTZ NOT NULL,
	attempt_number INT NOT NULL DEFAULT 1,
	created_at TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_actions_single_flight
	ON actions (incident_id)
	WHERE status IN ('PENDING', 'IN_PROGRESS');
CREATE INDEX IF NOT EXISTS idx_actions_due ON actions (status, scheduled_for);

CREATE TABLE IF NOT EXISTS vendor_failures (
	vendor TEXT NOT NULL,
	occurred_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_vendor_failures_lookup ON vendor_failures (vendor, occurred_at);
`

// EnsureSchema creates every table and index this package depends on, if
// they don't already exist. Idempotent; safe to call on every process
// start.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaDDL); err != nil {
		return apperrors.NewDatabaseError("ensure_schema", err)
	}
	return nil
}
