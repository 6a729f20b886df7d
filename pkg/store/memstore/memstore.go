// Package memstore is an in-memory store.Store used by unit tests for the
// ingestion pipeline, incident manager, and action coordinator that don't
// need a real Postgres instance.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	apperrors "github.com/sentinelops/remediator/internal/errors"
	"github.com/sentinelops/remediator/pkg/store"
	"github.com/sentinelops/remediator/pkg/types"
)

// Store is a mutex-guarded, in-memory implementation of store.Store.
type Store struct {
	mu sync.Mutex

	tenants     map[string]types.Tenant
	workflows   map[string]types.Workflow // key: tenantID+"/"+workflowID
	killSwitches []types.KillSwitch
	vendors     map[string]types.Vendor

	events          map[string]types.Event // key: event id
	eventByIdemKey  map[string]string      // key: tenantID+"/"+idempotencyKey -> event id

	incidents map[string]types.Incident // key: incident id

	decisions []types.Decision

	actions   map[string]types.Action
	actionSeq int

	vendorFailures []vendorFailure

	seq int
}

type vendorFailure struct {
	vendor string
	at     time.Time
}

// New returns an empty Store, ready to have fixtures seeded via the Seed*
// helpers.
func New() *Store {
	return &Store{
		tenants:        make(map[string]types.Tenant),
		workflows:      make(map[string]types.Workflow),
		vendors:        make(map[string]types.Vendor),
		events:         make(map[string]types.Event),
		eventByIdemKey: make(map[string]string),
		incidents:      make(map[string]types.Incident),
		actions:        make(map[string]types.Action),
	}
}

var _ store.Store = (*Store)(nil)

func (s *Store) nextID(prefix string) string {
	s.seq++
	return prefix + "-" + itoa(s.seq)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// SeedTenant inserts or replaces a tenant fixture.
func (s *Store) SeedTenant(t types.Tenant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenants[t.ID] = t
}

// SeedWorkflow inserts or replaces a workflow fixture.
func (s *Store) SeedWorkflow(w types.Workflow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workflows[w.TenantID+"/"+w.ID] = w
}

// SeedKillSwitch inserts a kill switch fixture.
func (s *Store) SeedKillSwitch(k types.KillSwitch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.killSwitches = append(s.killSwitches, k)
}

// SeedVendor inserts or replaces a vendor fixture.
func (s *Store) SeedVendor(v types.Vendor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vendors[v.Name] = v
}

func (s *Store) GetTenant(ctx context.Context, tenantID string) (*types.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[tenantID]
	if !ok {
		return nil, apperrors.NewNotFoundError("tenant")
	}
	return &t, nil
}

func (s *Store) GetWorkflow(ctx context.Context, tenantID, workflowID string) (*types.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workflows[tenantID+"/"+workflowID]
	if !ok {
		return nil, apperrors.NewNotFoundError("workflow")
	}
	return &w, nil
}

func (s *Store) ActiveKillSwitch(ctx context.Context, tenantID, workflowID string) (*types.KillSwitch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var tenantWide *types.KillSwitch
	for i := range s.killSwitches {
		k := s.killSwitches[i]
		if k.TenantID != tenantID || !k.Active {
			continue
		}
		if k.WorkflowID == workflowID && workflowID != "" {
			return &k, nil
		}
		if k.TenantWide() && tenantWide == nil {
			kk := k
			tenantWide = &kk
		}
	}
	return tenantWide, nil
}

func (s *Store) GetVendor(ctx context.Context, name string) (*types.Vendor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vendors[name]
	if !ok {
		return nil, apperrors.NewNotFoundError("vendor")
	}
	return &v, nil
}

func (s *Store) SaveVendorBreakerState(ctx context.Context, vendor *types.Vendor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vendors[vendor.Name] = *vendor
	return nil
}

func (s *Store) FindEventByIdempotencyKey(ctx context.Context, tenantID, idempotencyKey string) (*types.Event, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.eventByIdemKey[tenantID+"/"+idempotencyKey]
	if !ok {
		return nil, false, nil
	}
	e := s.events[id]
	return &e, true, nil
}

func (s *Store) GetEvent(ctx context.Context, eventID string) (*types.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[eventID]
	if !ok {
		return nil, apperrors.NewNotFoundError("event")
	}
	return &e, nil
}

func (s *Store) InsertEvent(ctx context.Context, event *types.Event) (*types.Event, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := event.TenantID + "/" + event.IdempotencyKey
	if existingID, ok := s.eventByIdemKey[key]; ok {
		existing := s.events[existingID]
		return &existing, true, nil
	}
	if event.ID == "" {
		event.ID = s.nextID("evt")
	}
	s.events[event.ID] = *event
	s.eventByIdemKey[key] = event.ID
	return nil, false, nil
}

func (s *Store) MarkEventDispatched(ctx context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[eventID]
	if !ok {
		return apperrors.NewNotFoundError("event")
	}
	e.Dispatched = true
	s.events[eventID] = e
	return nil
}

func (s *Store) UndispatchedEvents(ctx context.Context, limit int) ([]*types.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.Event
	for _, e := range s.events {
		e := e
		if !e.Dispatched {
			out = append(out, &e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) FindOpenIncident(ctx context.Context, tenantID, workflowID, signature string) (*types.Incident, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, inc := range s.incidents {
		if inc.TenantID == tenantID && inc.WorkflowID == workflowID && inc.Signature == signature && inc.Status.Open() {
			incCopy := inc
			return &incCopy, true, nil
		}
	}
	return nil, false, nil
}

func (s *Store) CreateIncidentOrAppend(ctx context.Context, incident *types.Incident, eventID string) (*types.Incident, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, inc := range s.incidents {
		if inc.TenantID == incident.TenantID && inc.WorkflowID == incident.WorkflowID && inc.Signature == incident.Signature && inc.Status.Open() {
			inc.EventCount++
			inc.Correlation = append(inc.Correlation, eventID)
			s.incidents[id] = inc
			incCopy := inc
			return &incCopy, false, nil
		}
	}
	if incident.ID == "" {
		incident.ID = s.nextID("inc")
	}
	incident.Correlation = append(incident.Correlation, eventID)
	s.incidents[incident.ID] = *incident
	incCopy := *incident
	return &incCopy, true, nil
}

func (s *Store) AppendEventToIncident(ctx context.Context, incidentID, eventID string, occurredAt time.Time) (*types.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inc, ok := s.incidents[incidentID]
	if !ok {
		return nil, apperrors.NewNotFoundError("incident")
	}
	inc.EventCount++
	if occurredAt.After(inc.LastSeenAt) {
		inc.LastSeenAt = occurredAt
	}
	inc.Correlation = append(inc.Correlation, eventID)
	s.incidents[incidentID] = inc
	incCopy := inc
	return &incCopy, nil
}

func (s *Store) UpdateIncidentSeverity(ctx context.Context, incidentID string, severity types.Severity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inc, ok := s.incidents[incidentID]
	if !ok {
		return apperrors.NewNotFoundError("incident")
	}
	inc.Severity = severity
	s.incidents[incidentID] = inc
	return nil
}

func (s *Store) UpdateIncidentStatus(ctx context.Context, incidentID string, status types.IncidentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inc, ok := s.incidents[incidentID]
	if !ok {
		return apperrors.NewNotFoundError("incident")
	}
	inc.Status = status
	s.incidents[incidentID] = inc
	return nil
}

func (s *Store) IncrementIncidentRetryCount(ctx context.Context, incidentID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inc, ok := s.incidents[incidentID]
	if !ok {
		return 0, apperrors.NewNotFoundError("incident")
	}
	inc.RetryCount++
	s.incidents[incidentID] = inc
	return inc.RetryCount, nil
}

func (s *Store) GetIncident(ctx context.Context, incidentID string) (*types.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inc, ok := s.incidents[incidentID]
	if !ok {
		return nil, apperrors.NewNotFoundError("incident")
	}
	return &inc, nil
}

func (s *Store) InsertDecision(ctx context.Context, decision *types.Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if decision.ID == "" {
		decision.ID = s.nextID("dec")
	}
	s.decisions = append(s.decisions, *decision)
	return nil
}

func (s *Store) InsertAction(ctx context.Context, action *types.Action) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.actions {
		if a.IncidentID == action.IncidentID && a.InFlight() {
			return true, nil
		}
	}
	if action.ID == "" {
		s.actionSeq++
		action.ID = s.nextID("act")
	}
	s.actions[action.ID] = *action
	return false, nil
}

func (s *Store) GetAction(ctx context.Context, actionID string) (*types.Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actions[actionID]
	if !ok {
		return nil, apperrors.NewNotFoundError("action")
	}
	return &a, nil
}

func (s *Store) TransitionAction(ctx context.Context, actionID string, from, to types.ActionStatus, result string) (*types.Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actions[actionID]
	if !ok {
		return nil, apperrors.NewNotFoundError("action")
	}
	if a.Status != from || !store.IsLegalActionTransition(from, to) {
		return nil, apperrors.NewInvariantViolation("illegal action transition").
			WithDetailsf("action=%s from=%s to=%s stored=%s", actionID, from, to, a.Status)
	}
	a.Status = to
	a.Result = result
	if to == types.ActionStatusSucceeded || to == types.ActionStatusFailed {
		now := a.ScheduledFor
		a.CompletedAt = &now
	}
	s.actions[actionID] = a
	return &a, nil
}

func (s *Store) ListDueActions(ctx context.Context, now time.Time, limit int) ([]*types.Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*types.Action
	for _, a := range s.actions {
		a := a
		if a.Status == types.ActionStatusPending && !a.ScheduledFor.After(now) {
			due = append(due, &a)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ScheduledFor.Before(due[j].ScheduledFor) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *Store) LatestActionForIncident(ctx context.Context, incidentID string) (*types.Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *types.Action
	for _, a := range s.actions {
		a := a
		if a.IncidentID != incidentID {
			continue
		}
		if latest == nil || a.CreatedAt.After(latest.CreatedAt) {
			latest = &a
		}
	}
	return latest, nil
}

func (s *Store) ActionsForIncident(ctx context.Context, incidentID string) ([]*types.Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.Action
	for _, a := range s.actions {
		a := a
		if a.IncidentID == incidentID {
			out = append(out, &a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) CountVendorFailuresInTrailingHour(ctx context.Context, vendor string, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := now.Add(-time.Hour)
	count := 0
	for _, f := range s.vendorFailures {
		if f.vendor == vendor && f.at.After(cutoff) && !f.at.After(now) {
			count++
		}
	}
	return count, nil
}

func (s *Store) RecordVendorFailure(ctx context.Context, vendor string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vendorFailures = append(s.vendorFailures, vendorFailure{vendor: vendor, at: at})
	return nil
}
