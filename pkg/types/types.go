// Package types defines the entities shared across the ingestion pipeline,
// safety fabric, incident manager, and action coordinator. Entities are
// plain structs related by id; navigation between them always goes through
// the store, never through in-memory pointers (see SPEC_FULL.md §9, "arena+id
// references via the store").
package types

import "time"

// IncidentStatus is the incident lifecycle state.
type IncidentStatus string

const (
	IncidentStatusNew       IncidentStatus = "NEW"
	IncidentStatusAnalyzing IncidentStatus = "ANALYZING"
	IncidentStatusActioned  IncidentStatus = "ACTIONED"
	IncidentStatusResolved  IncidentStatus = "RESOLVED"
	IncidentStatusIgnored   IncidentStatus = "IGNORED"
)

// Open reports whether an incident in this status can still receive events
// and actions (i.e. it is not in one of the terminal states).
func (s IncidentStatus) Open() bool {
	return s != IncidentStatusResolved && s != IncidentStatusIgnored
}

// Severity is the incident severity level, ordered low to high.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Upgrade returns the next severity level, capped at SeverityCritical.
func (s Severity) Upgrade() Severity {
	switch s {
	case SeverityLow:
		return SeverityMedium
	case SeverityMedium:
		return SeverityHigh
	case SeverityHigh, SeverityCritical:
		return SeverityCritical
	default:
		return SeverityMedium
	}
}

// BreakerState is the circuit breaker state for a vendor.
type BreakerState string

const (
	BreakerClosed   BreakerState = "CLOSED"
	BreakerOpen     BreakerState = "OPEN"
	BreakerHalfOpen BreakerState = "HALF_OPEN"
)

// ActionKind identifies what an Action does.
type ActionKind string

const (
	ActionKindRetry    ActionKind = "retry"
	ActionKindEscalate ActionKind = "escalate"
	ActionKindManual   ActionKind = "manual"
	ActionKindReversal ActionKind = "reversal"
)

// ActionStatus is the action state machine's state.
type ActionStatus string

const (
	ActionStatusPending             ActionStatus = "PENDING"
	ActionStatusInProgress          ActionStatus = "IN_PROGRESS"
	ActionStatusSucceeded           ActionStatus = "SUCCEEDED"
	ActionStatusFailed              ActionStatus = "FAILED"
	ActionStatusInvariantViolation  ActionStatus = "INVARIANT_VIOLATION"
)

// DecisionKind identifies what a Decision records.
type DecisionKind string

const (
	DecisionKindClassification DecisionKind = "classification"
	DecisionKindRCA            DecisionKind = "rca"
	DecisionKindRecommendation DecisionKind = "recommendation"
)

// Tenant is a multi-tenancy boundary. All data is tenant-scoped.
type Tenant struct {
	ID     string
	Name   string
	Active bool
}

// Workflow belongs to a tenant and may be independently kill-switched.
type Workflow struct {
	ID         string
	TenantID   string
	Name       string
	Active     bool
	WebhookURL string // remediation target the scheduler's executor calls
}

// KillSwitch disables ingestion for a workflow (WorkflowID set) or an
// entire tenant (WorkflowID empty).
type KillSwitch struct {
	ID           string
	TenantID     string
	WorkflowID   string // empty means tenant-wide
	Active       bool
	Reason       string
	ActivatedBy  string
	ActivatedAt  time.Time
	DeactivatedAt *time.Time
}

// TenantWide reports whether this kill switch applies to the whole tenant.
func (k KillSwitch) TenantWide() bool {
	return k.WorkflowID == ""
}

// VendorBreakerConfig is the per-vendor breaker tuning loaded from config.
type VendorBreakerConfig struct {
	Threshold int           // consecutive/windowed failure count that opens the breaker
	Cooldown  time.Duration // time OPEN must elapse before probing HALF_OPEN
	ProbeCap  int           // max concurrent probes permitted in HALF_OPEN
}

// Vendor is an external dependency protected by the safety fabric.
type Vendor struct {
	ID                 string
	Name               string
	BreakerState       BreakerState
	BreakerFailures    int64
	BreakerOpenedAt    time.Time
	RateLimitPerMinute int
	Breaker            VendorBreakerConfig
}

// Event is an immutable, append-only record of a workflow failure signal.
type Event struct {
	ID             string
	TenantID       string
	WorkflowID     string
	EventType      string
	Payload        map[string]interface{}
	IdempotencyKey string
	OccurredAt     time.Time
	ReceivedAt     time.Time
	CorrelationID  string
	Vendor         string // empty if the event names no vendor
	Dispatched     bool   // true once the incident manager has processed this event
}

// ErrorCode extracts the documented error_code key from the payload, or the
// literal "unknown" if absent. Used by fingerprinting and rules lookup.
func (e Event) ErrorCode() string {
	if e.Payload == nil {
		return "unknown"
	}
	v, ok := e.Payload["error_code"]
	if !ok {
		return "unknown"
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "unknown"
	}
	return s
}

// Incident groups morally-equivalent failures under one signature.
type Incident struct {
	ID            string
	TenantID      string
	WorkflowID    string
	Signature     string
	Title         string
	Status        IncidentStatus
	Severity      Severity
	EventCount    int64
	FirstSeenAt   time.Time
	LastSeenAt    time.Time
	RetryCount    int
	Metadata      map[string]interface{}
	Correlation   []string // event ids, insertion order
}

// Decision is an immutable audit record of a classifier recommendation.
type Decision struct {
	ID          string
	IncidentID  string
	Kind        DecisionKind
	Category    string
	Recommended ActionKind // retry | escalate | manual, per the classifier contract (spec §4.6)
	Reasoning   string
	Confidence  float64
	ModelTag    string
	CreatedAt   time.Time
}

// Action is a step of automated (or manual) remediation.
type Action struct {
	ID            string
	IncidentID    string
	Kind          ActionKind
	Status        ActionStatus
	Parameters    map[string]interface{}
	Result        string
	Reversible    bool
	ReversalOf    string // empty unless Kind == reversal
	ScheduledFor  time.Time
	AttemptNumber int
	CreatedAt     time.Time
	CompletedAt   *time.Time
}

// InFlight reports whether this action occupies the incident's single flight
// slot (§4.5).
func (a Action) InFlight() bool {
	return a.Status == ActionStatusPending || a.Status == ActionStatusInProgress
}
