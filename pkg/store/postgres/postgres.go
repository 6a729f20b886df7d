// Package postgres implements store.Store against PostgreSQL via sqlx and
// the pgx stdlib driver, following the per-entity repository layout visible
// across the wider pack's datastorage/repository packages.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	apperrors "github.com/sentinelops/remediator/internal/errors"
	"github.com/sentinelops/remediator/pkg/store"
	"github.com/sentinelops/remediator/pkg/types"
)

// uniqueViolation is Postgres's SQLSTATE for a unique constraint breach.
const uniqueViolation = "23505"

// Store implements store.Store against a *sqlx.DB.
type Store struct {
	db *sqlx.DB
}

// New wraps an already-connected sqlx.DB. Callers obtain db via
// internal/database.Config.Open (or equivalent) so connection lifecycle
// stays outside this package.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

var _ store.Store = (*Store)(nil)

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func toJSON(v map[string]interface{}) ([]byte, error) {
	if v == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(v)
}

func fromJSON(raw []byte) map[string]interface{} {
	if len(raw) == 0 {
		return nil
	}
	var v map[string]interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return v
}

type tenantRow struct {
	ID     string `db:"id"`
	Name   string `db:"name"`
	Active bool   `db:"active"`
}

func (s *Store) GetTenant(ctx context.Context, tenantID string) (*types.Tenant, error) {
	var row tenantRow
	err := s.db.GetContext(ctx, &row, `SELECT id, name, active FROM tenants WHERE id = $1`, tenantID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("tenant")
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("get_tenant", err)
	}
	return &types.Tenant{ID: row.ID, Name: row.Name, Active: row.Active}, nil
}

type workflowRow struct {
	ID         string `db:"id"`
	TenantID   string `db:"tenant_id"`
	Name       string `db:"name"`
	Active     bool   `db:"active"`
	WebhookURL string `db:"webhook_url"`
}

func (s *Store) GetWorkflow(ctx context.Context, tenantID, workflowID string) (*types.Workflow, error) {
	var row workflowRow
	err := s.db.GetContext(ctx, &row,
		`SELECT id, tenant_id, name, active, webhook_url FROM workflows WHERE tenant_id = $1 AND id = $2`,
		tenantID, workflowID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("workflow")
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("get_workflow", err)
	}
	return &types.Workflow{ID: row.ID, TenantID: row.TenantID, Name: row.Name, Active: row.Active, WebhookURL: row.WebhookURL}, nil
}

type killSwitchRow struct {
	ID            string       `db:"id"`
	TenantID      string       `db:"tenant_id"`
	WorkflowID    string       `db:"workflow_id"`
	Active        bool         `db:"active"`
	Reason        string       `db:"reason"`
	ActivatedBy   string       `db:"activated_by"`
	ActivatedAt   time.Time    `db:"activated_at"`
	DeactivatedAt sql.NullTime `db:"deactivated_at"`
}

func (k killSwitchRow) toType() types.KillSwitch {
	ks := types.KillSwitch{
		ID:          k.ID,
		TenantID:    k.TenantID,
		WorkflowID:  k.WorkflowID,
		Active:      k.Active,
		Reason:      k.Reason,
		ActivatedBy: k.ActivatedBy,
		ActivatedAt: k.ActivatedAt,
	}
	if k.DeactivatedAt.Valid {
		ks.DeactivatedAt = &k.DeactivatedAt.Time
	}
	return ks
}

// ActiveKillSwitch prefers a workflow-specific switch over a tenant-wide
// one — ORDER BY workflow_id DESC NULLS LAST puts the workflow-scoped row
// (non-empty string) first.
func (s *Store) ActiveKillSwitch(ctx context.Context, tenantID, workflowID string) (*types.KillSwitch, error) {
	var row killSwitchRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, tenant_id, workflow_id, active, reason, activated_by, activated_at, deactivated_at
		FROM kill_switches
		WHERE tenant_id = $1 AND active = true AND (workflow_id = $2 OR workflow_id = '')
		ORDER BY workflow_id DESC
		LIMIT 1`, tenantID, workflowID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("active_kill_switch", err)
	}
	ks := row.toType()
	return &ks, nil
}

type vendorRow struct {
	ID                 string    `db:"id"`
	Name               string    `db:"name"`
	BreakerState       string    `db:"breaker_state"`
	BreakerFailures    int64     `db:"breaker_failures"`
	BreakerOpenedAt    time.Time `db:"breaker_opened_at"`
	RateLimitPerMinute int       `db:"rate_limit_per_minute"`
	BreakerThreshold   int       `db:"breaker_threshold"`
	BreakerCooldownMS  int64     `db:"breaker_cooldown_ms"`
	BreakerProbeCap    int       `db:"breaker_probe_cap"`
}

func (v vendorRow) toType() types.Vendor {
	return types.Vendor{
		ID:                 v.ID,
		Name:               v.Name,
		BreakerState:       types.BreakerState(v.BreakerState),
		BreakerFailures:    v.BreakerFailures,
		BreakerOpenedAt:    v.BreakerOpenedAt,
		RateLimitPerMinute: v.RateLimitPerMinute,
		Breaker: types.VendorBreakerConfig{
			Threshold: v.BreakerThreshold,
			Cooldown:  time.Duration(v.BreakerCooldownMS) * time.Millisecond,
			ProbeCap:  v.BreakerProbeCap,
		},
	}
}

func (s *Store) GetVendor(ctx context.Context, name string) (*types.Vendor, error) {
	var row vendorRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, name, breaker_state, breaker_failures, breaker_opened_at,
		       rate_limit_per_minute, breaker_threshold, breaker_cooldown_ms, breaker_probe_cap
		FROM vendors WHERE name = $1`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("vendor")
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("get_vendor", err)
	}
	v := row.toType()
	return &v, nil
}

func (s *Store) SaveVendorBreakerState(ctx context.Context, vendor *types.Vendor) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE vendors
		SET breaker_state = $1, breaker_failures = $2, breaker_opened_at = $3
		WHERE name = $4`,
		string(vendor.BreakerState), vendor.BreakerFailures, vendor.BreakerOpenedAt, vendor.Name)
	if err != nil {
		return apperrors.NewDatabaseError("save_vendor_breaker_state", err)
	}
	return nil
}

type eventRow struct {
	ID             string    `db:"id"`
	TenantID       string    `db:"tenant_id"`
	WorkflowID     string    `db:"workflow_id"`
	EventType      string    `db:"event_type"`
	Payload        []byte    `db:"payload"`
	IdempotencyKey string    `db:"idempotency_key"`
	OccurredAt     time.Time `db:"occurred_at"`
	ReceivedAt     time.Time `db:"received_at"`
	CorrelationID  string    `db:"correlation_id"`
	Vendor         string    `db:"vendor"`
	Dispatched     bool      `db:"dispatched"`
}

func (e eventRow) toType() types.Event {
	return types.Event{
		ID:             e.ID,
		TenantID:       e.TenantID,
		WorkflowID:     e.WorkflowID,
		EventType:      e.EventType,
		Payload:        fromJSON(e.Payload),
		IdempotencyKey: e.IdempotencyKey,
		OccurredAt:     e.OccurredAt,
		ReceivedAt:     e.ReceivedAt,
		CorrelationID:  e.CorrelationID,
		Vendor:         e.Vendor,
		Dispatched:     e.Dispatched,
	}
}

const eventColumns = `id, tenant_id, workflow_id, event_type, payload, idempotency_key,
		       occurred_at, received_at, correlation_id, vendor, dispatched`

func (s *Store) FindEventByIdempotencyKey(ctx context.Context, tenantID, idempotencyKey string) (*types.Event, bool, error) {
	var row eventRow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+eventColumns+` FROM events WHERE tenant_id = $1 AND idempotency_key = $2`, tenantID, idempotencyKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apperrors.NewDatabaseError("find_event_by_idempotency_key", err)
	}
	e := row.toType()
	return &e, true, nil
}

func (s *Store) GetEvent(ctx context.Context, eventID string) (*types.Event, error) {
	var row eventRow
	err := s.db.GetContext(ctx, &row, `SELECT `+eventColumns+` FROM events WHERE id = $1`, eventID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("event")
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("get_event", err)
	}
	e := row.toType()
	return &e, nil
}

// InsertEvent relies on a unique index on (tenant_id, idempotency_key): a
// losing concurrent writer re-reads the winning row instead of erroring.
func (s *Store) InsertEvent(ctx context.Context, event *types.Event) (*types.Event, bool, error) {
	payload, err := toJSON(event.Payload)
	if err != nil {
		return nil, false, apperrors.NewValidationError("event payload is not valid JSON").WithDetails(err.Error())
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO events (id, tenant_id, workflow_id, event_type, payload, idempotency_key,
		                     occurred_at, received_at, correlation_id, vendor, dispatched)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, false)`,
		event.ID, event.TenantID, event.WorkflowID, event.EventType, payload, event.IdempotencyKey,
		event.OccurredAt, event.ReceivedAt, event.CorrelationID, event.Vendor)
	if err == nil {
		return nil, false, nil
	}
	if isUniqueViolation(err) {
		existing, ok, findErr := s.FindEventByIdempotencyKey(ctx, event.TenantID, event.IdempotencyKey)
		if findErr != nil {
			return nil, false, findErr
		}
		if ok {
			return existing, true, nil
		}
	}
	return nil, false, apperrors.NewDatabaseError("insert_event", err)
}

// MarkEventDispatched sets dispatched=true for eventID.
func (s *Store) MarkEventDispatched(ctx context.Context, eventID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE events SET dispatched = true WHERE id = $1`, eventID)
	if err != nil {
		return apperrors.NewDatabaseError("mark_event_dispatched", err)
	}
	return nil
}

// UndispatchedEvents returns up to limit events with dispatched=false,
// oldest received_at first.
func (s *Store) UndispatchedEvents(ctx context.Context, limit int) ([]*types.Event, error) {
	var rows []eventRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+eventColumns+` FROM events WHERE NOT dispatched ORDER BY received_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, apperrors.NewDatabaseError("undispatched_events", err)
	}
	events := make([]*types.Event, 0, len(rows))
	for _, row := range rows {
		e := row.toType()
		events = append(events, &e)
	}
	return events, nil
}

type incidentRow struct {
	ID          string    `db:"id"`
	TenantID    string    `db:"tenant_id"`
	WorkflowID  string    `db:"workflow_id"`
	Signature   string    `db:"signature"`
	Title       string    `db:"title"`
	Status      string    `db:"status"`
	Severity    string    `db:"severity"`
	EventCount  int64     `db:"event_count"`
	FirstSeenAt time.Time `db:"first_seen_at"`
	LastSeenAt  time.Time `db:"last_seen_at"`
	RetryCount  int       `db:"retry_count"`
	Metadata    []byte    `db:"metadata"`
	Correlation []byte    `db:"correlation"`
}

func (i incidentRow) toType() types.Incident {
	var correlation []string
	_ = json.Unmarshal(i.Correlation, &correlation)
	return types.Incident{
		ID:          i.ID,
		TenantID:    i.TenantID,
		WorkflowID:  i.WorkflowID,
		Signature:   i.Signature,
		Title:       i.Title,
		Status:      types.IncidentStatus(i.Status),
		Severity:    types.Severity(i.Severity),
		EventCount:  i.EventCount,
		FirstSeenAt: i.FirstSeenAt,
		LastSeenAt:  i.LastSeenAt,
		RetryCount:  i.RetryCount,
		Metadata:    fromJSON(i.Metadata),
		Correlation: correlation,
	}
}

func (s *Store) FindOpenIncident(ctx context.Context, tenantID, workflowID, signature string) (*types.Incident, bool, error) {
	var row incidentRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, tenant_id, workflow_id, signature, title, status, severity, event_count,
		       first_seen_at, last_seen_at, retry_count, metadata, correlation
		FROM incidents
		WHERE tenant_id = $1 AND workflow_id = $2 AND signature = $3
		  AND status NOT IN ('RESOLVED', 'IGNORED')
		LIMIT 1`, tenantID, workflowID, signature)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apperrors.NewDatabaseError("find_open_incident", err)
	}
	inc := row.toType()
	return &inc, true, nil
}

// CreateIncidentOrAppend leans on a partial unique index covering
// (tenant_id, workflow_id, signature) WHERE status NOT IN ('RESOLVED',
// 'IGNORED') (spec §4.4(3)): the insert either succeeds (created=true) or
// collides, in which case the caller's event is appended to the winner.
func (s *Store) CreateIncidentOrAppend(ctx context.Context, incident *types.Incident, eventID string) (*types.Incident, bool, error) {
	metadata, err := toJSON(incident.Metadata)
	if err != nil {
		return nil, false, apperrors.NewValidationError("incident metadata is not valid JSON").WithDetails(err.Error())
	}
	correlation, _ := json.Marshal([]string{eventID})
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO incidents (id, tenant_id, workflow_id, signature, title, status, severity,
		                        event_count, first_seen_at, last_seen_at, retry_count, metadata, correlation)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9, 0, $10, $11)`,
		incident.ID, incident.TenantID, incident.WorkflowID, incident.Signature, incident.Title,
		incident.Status, incident.Severity, incident.EventCount, incident.FirstSeenAt, metadata, correlation)
	if err == nil {
		incident.LastSeenAt = incident.FirstSeenAt
		incident.Correlation = []string{eventID}
		return incident, true, nil
	}
	if !isUniqueViolation(err) {
		return nil, false, apperrors.NewDatabaseError("create_incident", err)
	}
	existing, ok, findErr := s.FindOpenIncident(ctx, incident.TenantID, incident.WorkflowID, incident.Signature)
	if findErr != nil {
		return nil, false, findErr
	}
	if !ok {
		return nil, false, apperrors.NewDatabaseError("create_incident", err).
			WithDetails("unique violation but no open incident found on retry")
	}
	appended, appendErr := s.AppendEventToIncident(ctx, existing.ID, eventID, incident.FirstSeenAt)
	if appendErr != nil {
		return nil, false, appendErr
	}
	return appended, false, nil
}

func (s *Store) AppendEventToIncident(ctx context.Context, incidentID, eventID string, occurredAt time.Time) (*types.Incident, error) {
	var row incidentRow
	err := s.db.GetContext(ctx, &row, `
		UPDATE incidents
		SET event_count = event_count + 1,
		    last_seen_at = GREATEST(last_seen_at, $2),
		    correlation = correlation || to_jsonb($3::text)
		WHERE id = $1
		RETURNING id, tenant_id, workflow_id, signature, title, status, severity, event_count,
		          first_seen_at, last_seen_at, retry_count, metadata, correlation`,
		incidentID, occurredAt, eventID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("incident")
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("append_event_to_incident", err)
	}
	inc := row.toType()
	return &inc, nil
}

func (s *Store) UpdateIncidentSeverity(ctx context.Context, incidentID string, severity types.Severity) error {
	_, err := s.db.ExecContext(ctx, `UPDATE incidents SET severity = $1 WHERE id = $2`, string(severity), incidentID)
	if err != nil {
		return apperrors.NewDatabaseError("update_incident_severity", err)
	}
	return nil
}

func (s *Store) UpdateIncidentStatus(ctx context.Context, incidentID string, status types.IncidentStatus) error {
	_, err := s.db.ExecContext(ctx, `UPDATE incidents SET status = $1 WHERE id = $2`, string(status), incidentID)
	if err != nil {
		return apperrors.NewDatabaseError("update_incident_status", err)
	}
	return nil
}

func (s *Store) IncrementIncidentRetryCount(ctx context.Context, incidentID string) (int, error) {
	var retryCount int
	err := s.db.GetContext(ctx, &retryCount, `
		UPDATE incidents SET retry_count = retry_count + 1 WHERE id = $1
		RETURNING retry_count`, incidentID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, apperrors.NewNotFoundError("incident")
	}
	if err != nil {
		return 0, apperrors.NewDatabaseError("increment_incident_retry_count", err)
	}
	return retryCount, nil
}

func (s *Store) GetIncident(ctx context.Context, incidentID string) (*types.Incident, error) {
	var row incidentRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, tenant_id, workflow_id, signature, title, status, severity, event_count,
		       first_seen_at, last_seen_at, retry_count, metadata, correlation
		FROM incidents WHERE id = $1`, incidentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("incident")
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("get_incident", err)
	}
	inc := row.toType()
	return &inc, nil
}

func (s *Store) InsertDecision(ctx context.Context, decision *types.Decision) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO decisions (id, incident_id, kind, category, recommended, reasoning, confidence, model_tag, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		decision.ID, decision.IncidentID, string(decision.Kind), decision.Category,
		string(decision.Recommended), decision.Reasoning,
		decision.Confidence, decision.ModelTag, decision.CreatedAt)
	if err != nil {
		return apperrors.NewDatabaseError("insert_decision", err)
	}
	return nil
}

// InsertAction relies on a partial unique index on (incident_id) WHERE
// status IN ('PENDING', 'IN_PROGRESS') to enforce the single-flight
// invariant (spec §4.5) even under concurrent coordinators.
func (s *Store) InsertAction(ctx context.Context, action *types.Action) (bool, error) {
	parameters, err := toJSON(action.Parameters)
	if err != nil {
		return false, apperrors.NewValidationError("action parameters is not valid JSON").WithDetails(err.Error())
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO actions (id, incident_id, kind, status, parameters, result, reversible,
		                      reversal_of, scheduled_for, attempt_number, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		action.ID, action.IncidentID, string(action.Kind), string(action.Status), parameters,
		action.Result, action.Reversible, action.ReversalOf, action.ScheduledFor,
		action.AttemptNumber, action.CreatedAt)
	if err == nil {
		return false, nil
	}
	if isUniqueViolation(err) {
		return true, nil
	}
	return false, apperrors.NewDatabaseError("insert_action", err)
}

type actionRow struct {
	ID            string       `db:"id"`
	IncidentID    string       `db:"incident_id"`
	Kind          string       `db:"kind"`
	Status        string       `db:"status"`
	Parameters    []byte       `db:"parameters"`
	Result        string       `db:"result"`
	Reversible    bool         `db:"reversible"`
	ReversalOf    string       `db:"reversal_of"`
	ScheduledFor  time.Time    `db:"scheduled_for"`
	AttemptNumber int          `db:"attempt_number"`
	CreatedAt     time.Time    `db:"created_at"`
	CompletedAt   sql.NullTime `db:"completed_at"`
}

func (a actionRow) toType() types.Action {
	act := types.Action{
		ID:            a.ID,
		IncidentID:    a.IncidentID,
		Kind:          types.ActionKind(a.Kind),
		Status:        types.ActionStatus(a.Status),
		Parameters:    fromJSON(a.Parameters),
		Result:        a.Result,
		Reversible:    a.Reversible,
		ReversalOf:    a.ReversalOf,
		ScheduledFor:  a.ScheduledFor,
		AttemptNumber: a.AttemptNumber,
		CreatedAt:     a.CreatedAt,
	}
	if a.CompletedAt.Valid {
		act.CompletedAt = &a.CompletedAt.Time
	}
	return act
}

const actionColumns = `id, incident_id, kind, status, parameters, result, reversible, reversal_of,
	       scheduled_for, attempt_number, created_at, completed_at`

func (s *Store) GetAction(ctx context.Context, actionID string) (*types.Action, error) {
	var row actionRow
	err := s.db.GetContext(ctx, &row, `SELECT `+actionColumns+` FROM actions WHERE id = $1`, actionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("action")
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("get_action", err)
	}
	a := row.toType()
	return &a, nil
}

// TransitionAction guards the state machine with an explicit WHERE
// status = $from clause: a concurrent transition that won the race leaves
// rows-affected at 0, which this method reports as an invariant violation
// rather than silently succeeding.
func (s *Store) TransitionAction(ctx context.Context, actionID string, from, to types.ActionStatus, result string) (*types.Action, error) {
	if !store.IsLegalActionTransition(from, to) {
		return nil, apperrors.NewInvariantViolation("illegal action transition").
			WithDetailsf("action=%s from=%s to=%s", actionID, from, to)
	}
	var completedAt interface{}
	if to == types.ActionStatusSucceeded || to == types.ActionStatusFailed {
		completedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE actions SET status = $1, result = $2, completed_at = $3
		WHERE id = $4 AND status = $5`,
		string(to), result, completedAt, actionID, string(from))
	if err != nil {
		return nil, apperrors.NewDatabaseError("transition_action", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, apperrors.NewDatabaseError("transition_action", err)
	}
	if rows == 0 {
		return nil, apperrors.NewInvariantViolation("action transition lost a race").
			WithDetailsf("action=%s from=%s to=%s", actionID, from, to)
	}
	return s.GetAction(ctx, actionID)
}

func (s *Store) ListDueActions(ctx context.Context, now time.Time, limit int) ([]*types.Action, error) {
	var rows []actionRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+actionColumns+` FROM actions
		WHERE status = 'PENDING' AND scheduled_for <= $1
		ORDER BY scheduled_for ASC
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list_due_actions", err)
	}
	out := make([]*types.Action, len(rows))
	for i, r := range rows {
		a := r.toType()
		out[i] = &a
	}
	return out, nil
}

func (s *Store) LatestActionForIncident(ctx context.Context, incidentID string) (*types.Action, error) {
	var row actionRow
	err := s.db.GetContext(ctx, &row, `
		SELECT `+actionColumns+` FROM actions
		WHERE incident_id = $1 ORDER BY created_at DESC LIMIT 1`, incidentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("latest_action_for_incident", err)
	}
	a := row.toType()
	return &a, nil
}

func (s *Store) ActionsForIncident(ctx context.Context, incidentID string) ([]*types.Action, error) {
	var rows []actionRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+actionColumns+` FROM actions
		WHERE incident_id = $1 ORDER BY created_at ASC`, incidentID)
	if err != nil {
		return nil, apperrors.NewDatabaseError("actions_for_incident", err)
	}
	out := make([]*types.Action, len(rows))
	for i, r := range rows {
		a := r.toType()
		out[i] = &a
	}
	return out, nil
}

func (s *Store) CountVendorFailuresInTrailingHour(ctx context.Context, vendor string, now time.Time) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM vendor_failures
		WHERE vendor = $1 AND occurred_at > $2 AND occurred_at <= $3`,
		vendor, now.Add(-time.Hour), now)
	if err != nil {
		return 0, apperrors.NewDatabaseError("count_vendor_failures_in_trailing_hour", err)
	}
	return count, nil
}

func (s *Store) RecordVendorFailure(ctx context.Context, vendor string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO vendor_failures (vendor, occurred_at) VALUES ($1, $2)`, vendor, at)
	if err != nil {
		return apperrors.NewDatabaseError("record_vendor_failure", err)
	}
	return nil
}
