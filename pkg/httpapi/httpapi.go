// Package httpapi implements the HTTP surface of spec §6: event
// submission, health/readiness probes, and the rejection-category to
// HTTP-status mapping. It depends only on pkg/ingestion.Pipeline, so it
// can be exercised in tests against an in-memory store without a real
// server.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	apperrors "github.com/sentinelops/remediator/internal/errors"
	"github.com/sentinelops/remediator/pkg/ingestion"
	"github.com/sentinelops/remediator/pkg/logging"
)

// correlationIDHeader is the inbound/outbound header carrying the request's
// correlation id (spec §6 "Correlation IDs").
const correlationIDHeader = "X-Correlation-ID"

type ctxKey int

const correlationIDKey ctxKey = 0

// signalRequest is the wire shape of an event submission (spec §6 "Event
// submission request").
type signalRequest struct {
	TenantID       string                 `json:"tenant_id"`
	WorkflowID     string                 `json:"workflow_id"`
	EventType      string                 `json:"event_type"`
	Payload        map[string]interface{} `json:"payload"`
	IdempotencyKey string                 `json:"idempotency_key"`
	OccurredAt     time.Time              `json:"occurred_at"`
	Vendor         string                 `json:"vendor,omitempty"`
}

// signalResponse is the wire shape of a successful submission (spec §6
// "Event submission response").
type signalResponse struct {
	EventID       string `json:"event_id"`
	Status        string `json:"status"`
	CorrelationID string `json:"correlation_id"`
}

// errorResponse is the wire shape of a rejected submission (spec §6
// "Rejection categories").
type errorResponse struct {
	Code          string `json:"code"`
	Message       string `json:"message"`
	Details       string `json:"details,omitempty"`
	CorrelationID string `json:"correlation_id"`
	RetryAfter    string `json:"retry_after,omitempty"`
}

// Server is the gateway's chi-backed HTTP handler, wrapping one
// ingestion.Pipeline.
type Server struct {
	router   chi.Router
	pipeline *ingestion.Pipeline
	log      *logging.Sink
}

// New builds the router: correlation-id propagation and CORS first, then
// the health/readiness probes and the signal submission endpoint.
func New(pipeline *ingestion.Pipeline, log *logging.Sink, allowedOrigins []string) *Server {
	s := &Server{pipeline: pipeline, log: log}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(correlationMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost},
		AllowedHeaders:   []string{"Accept", "Content-Type", correlationIDHeader},
		ExposedHeaders:   []string{correlationIDHeader},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Post("/api/v1/signals", s.handleSubmit)

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// correlationMiddleware reads X-Correlation-ID if present, else generates a
// fresh opaque token, and stamps it onto the response as well as the
// request context (spec §6 "Correlation IDs").
func correlationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(correlationIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(correlationIDHeader, id)
		ctx := contextWithCorrelationID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func contextWithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

func correlationIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDKey).(string)
	return id
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy"}`))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ready"}`))
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	correlationID := correlationIDFromContext(r.Context())

	var req signalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, correlationID, apperrors.New(apperrors.ErrorTypeValidation, "request body is not valid JSON"))
		return
	}

	res, err := s.pipeline.Submit(r.Context(), ingestion.Request{
		TenantID:       req.TenantID,
		WorkflowID:     req.WorkflowID,
		EventType:      req.EventType,
		Payload:        req.Payload,
		IdempotencyKey: req.IdempotencyKey,
		OccurredAt:     req.OccurredAt,
		CorrelationID:  correlationID,
		Vendor:         req.Vendor,
	})
	if err != nil {
		s.writeError(w, correlationID, err)
		return
	}

	status := "accepted"
	if res.Duplicate {
		status = "duplicate"
	}
	s.writeJSON(w, http.StatusOK, signalResponse{
		EventID:       res.EventID,
		Status:        status,
		CorrelationID: correlationID,
	})
}

func (s *Server) writeError(w http.ResponseWriter, correlationID string, err error) {
	ae, ok := err.(*apperrors.AppError)
	if !ok {
		ae = apperrors.New(apperrors.ErrorTypeInternal, "an internal error occurred")
	}
	body := errorResponse{
		Code:          string(ae.Type),
		Message:       apperrors.SafeErrorMessage(ae),
		Details:       ae.Details,
		CorrelationID: correlationID,
	}
	if ae.Type == apperrors.ErrorTypeRateLimit && ae.Details != "" {
		body.RetryAfter = ae.Details
	}
	s.writeJSON(w, ae.StatusCode, body)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
