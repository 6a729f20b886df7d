// Package ingestion implements the event intake pipeline of spec §4.1: a
// validated, idempotent, durable write that fires detection asynchronously
// after commit. Submit never trusts its caller's own validation — it is
// reachable from the HTTP gateway and from tests, so it re-validates and
// re-runs every gate itself.
package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	apperrors "github.com/sentinelops/remediator/internal/errors"
	"github.com/sentinelops/remediator/pkg/clock"
	"github.com/sentinelops/remediator/pkg/incident"
	"github.com/sentinelops/remediator/pkg/logging"
	"github.com/sentinelops/remediator/pkg/metrics"
	"github.com/sentinelops/remediator/pkg/safety/fabric"
	"github.com/sentinelops/remediator/pkg/store"
	"github.com/sentinelops/remediator/pkg/types"
)

// Request is the shape-validated event record Submit accepts. Struct tags
// enforce the same shape the HTTP layer already checked, since Submit is
// also reachable from non-HTTP callers.
type Request struct {
	TenantID       string                 `validate:"required"`
	WorkflowID     string                 `validate:"required"`
	EventType      string                 `validate:"required,max=255"`
	Payload        map[string]interface{} `validate:"omitempty"`
	IdempotencyKey string                 `validate:"required,max=255"`
	OccurredAt     time.Time              `validate:"required"`
	CorrelationID  string                 `validate:"omitempty,max=255"`
	Vendor         string                 `validate:"omitempty,max=255"`
}

// Result is Submit's success-shaped outcome, covering both a fresh write
// and a detected duplicate (spec §4.1 step 1: "the client MUST treat this
// as success").
type Result struct {
	EventID   string
	Duplicate bool
}

// Pipeline is the ingestion pipeline. One Pipeline is shared by every
// request; it holds no per-request state.
type Pipeline struct {
	store    store.Store
	fabric   *fabric.Fabric
	incident *incident.Manager
	clock    clock.Clock
	validate *validator.Validate
	log      *logging.BoundSink

	// onDispatched, if set, is invoked after the asynchronous detection
	// hand-off completes. Tests use it to observe dispatch without
	// racing the goroutine; production leaves it nil.
	onDispatched func(*types.Incident, error)
}

// New returns a Pipeline wiring the safety fabric and incident manager
// behind the store's idempotent write.
func New(s store.Store, f *fabric.Fabric, im *incident.Manager, clk clock.Clock, log *logging.Sink) *Pipeline {
	return &Pipeline{
		store:    s,
		fabric:   f,
		incident: im,
		clock:    clk,
		validate: validator.New(),
		log:      log.WithCorrelation("ingestion"),
	}
}

// Submit runs req through the ordered gates of spec §4.1 steps 1-6 and, on
// a successful persist, hands the event to the incident manager
// asynchronously (step 7). A later step never executes if an earlier one
// fails or rejects. Outcome and latency are recorded to pkg/metrics
// regardless of how Submit returns.
func (p *Pipeline) Submit(ctx context.Context, req Request) (Result, error) {
	start := p.clock.Now()
	res, err := p.submit(ctx, req)
	metrics.RecordIngestionDuration(p.clock.Now().Sub(start))
	if err != nil {
		metrics.RecordRejected(rejectionCode(err))
		return res, err
	}
	if res.Duplicate {
		metrics.RecordIngested("duplicate")
	} else {
		metrics.RecordIngested("accepted")
	}
	return res, nil
}

func rejectionCode(err error) string {
	if ae, ok := err.(*apperrors.AppError); ok {
		return string(ae.Type)
	}
	return "internal"
}

func (p *Pipeline) submit(ctx context.Context, req Request) (Result, error) {
	if err := p.validate.Struct(req); err != nil {
		return Result{}, apperrors.New(apperrors.ErrorTypeValidation, err.Error())
	}

	// Step 1: idempotency check.
	if existing, ok, err := p.store.FindEventByIdempotencyKey(ctx, req.TenantID, req.IdempotencyKey); err != nil {
		return Result{}, err
	} else if ok {
		return Result{EventID: existing.ID, Duplicate: true}, nil
	}

	// Step 2: tenant gate.
	tenant, err := p.store.GetTenant(ctx, req.TenantID)
	if err != nil {
		return Result{}, err
	}
	if !tenant.Active {
		return Result{}, apperrors.New(apperrors.ErrorTypeTenantInactive, "tenant is inactive")
	}

	// Step 3: workflow gate (active flag; kill switch is checked as part
	// of the fabric below).
	workflow, err := p.store.GetWorkflow(ctx, req.TenantID, req.WorkflowID)
	if err != nil {
		return Result{}, err
	}
	if !workflow.Active {
		return Result{}, apperrors.New(apperrors.ErrorTypeWorkflowDisabled, "workflow is inactive")
	}

	// Steps 3(kill switch)-5: rate limit and breaker gates.
	decision, err := p.fabric.Check(ctx, req.TenantID, req.WorkflowID, req.Vendor)
	if err != nil {
		return Result{}, err
	}
	if !decision.Admitted {
		return Result{}, p.rejectionError(decision)
	}

	// Step 6: persist. A unique-constraint collision here is step 1's
	// outcome under a lost race, not a failure.
	event := &types.Event{
		ID:             "evt_" + uuid.NewString(),
		TenantID:       req.TenantID,
		WorkflowID:     req.WorkflowID,
		EventType:      req.EventType,
		Payload:        req.Payload,
		IdempotencyKey: req.IdempotencyKey,
		OccurredAt:     req.OccurredAt,
		ReceivedAt:     p.clock.Now(),
		CorrelationID:  req.CorrelationID,
		Vendor:         req.Vendor,
	}
	existing, wasDuplicate, err := p.store.InsertEvent(ctx, event)
	if err != nil {
		return Result{}, apperrors.NewDatabaseError("insert_event", err)
	}
	if wasDuplicate {
		return Result{EventID: existing.ID, Duplicate: true}, nil
	}

	// Step 7: dispatch detection, asynchronously and after commit. A
	// dispatch failure never fails ingestion — the scheduler's catch-up
	// sweep re-derives incidents from persisted events on recovery.
	p.dispatch(event)

	return Result{EventID: event.ID}, nil
}

func (p *Pipeline) dispatch(event *types.Event) {
	fields := logging.NewFields().Component("ingestion").Resource("event", event.ID).Tenant(event.TenantID)
	go func() {
		inc, err := p.incident.OnEvent(context.Background(), event)
		if err != nil {
			p.log.Error("detection dispatch failed", fields.Error(err))
		} else if markErr := p.store.MarkEventDispatched(context.Background(), event.ID); markErr != nil {
			p.log.Error("mark event dispatched failed", fields.Error(markErr))
		}
		if p.onDispatched != nil {
			p.onDispatched(inc, err)
		}
	}()
}

// Sweep re-drives every event still marked undispatched through the
// incident manager, up to limit per call. It is meant to run once at
// process startup, before the scheduler begins polling for due actions,
// to close the window between an event's persist and a crash before its
// asynchronous dispatch goroutine ran (spec §4.1 step 7's durability
// note). Sweep runs synchronously and returns the count it re-drove.
func (p *Pipeline) Sweep(ctx context.Context, limit int) (int, error) {
	events, err := p.store.UndispatchedEvents(ctx, limit)
	if err != nil {
		return 0, err
	}
	swept := 0
	for _, event := range events {
		fields := logging.NewFields().Component("ingestion").Resource("event", event.ID).Tenant(event.TenantID)
		if _, err := p.incident.OnEvent(ctx, event); err != nil {
			p.log.Error("catch-up sweep dispatch failed", fields.Error(err))
			continue
		}
		if err := p.store.MarkEventDispatched(ctx, event.ID); err != nil {
			p.log.Error("catch-up sweep mark dispatched failed", fields.Error(err))
			continue
		}
		swept++
	}
	return swept, nil
}

func (p *Pipeline) rejectionError(d fabric.Decision) error {
	switch d.Reason {
	case fabric.RejectionWorkflowDisabled:
		return apperrors.New(apperrors.ErrorTypeWorkflowDisabled, "workflow is kill-switched")
	case fabric.RejectionRateLimited:
		return apperrors.New(apperrors.ErrorTypeRateLimit, "rate limit exceeded").
			WithDetailsf("retry_after=%s", d.RetryAfter)
	case fabric.RejectionBreakerOpen:
		return apperrors.New(apperrors.ErrorTypeBreakerOpen, "vendor circuit breaker is open")
	default:
		return apperrors.New(apperrors.ErrorTypeInternal, fmt.Sprintf("unhandled rejection reason %q", d.Reason))
	}
}
