// Package logging provides a structured field builder bound to logrus, so
// call sites build a Fields map instead of holding an ambient singleton
// logger (SPEC_FULL.md §9: a structured logging sink bound with a
// correlation id at task creation). Correlation ids are bound once at task creation and threaded
// through every subsequent field set for that task.
package logging

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Fields is a structured logging field set, chainable for readability at
// call sites.
type Fields map[string]interface{}

// NewFields returns an empty Fields set.
func NewFields() Fields {
	return Fields{}
}

// Component sets the emitting component name.
func (f Fields) Component(name string) Fields {
	f["component"] = name
	return f
}

// Operation sets the operation name (e.g. "ingest", "schedule_retry").
func (f Fields) Operation(op string) Fields {
	f["operation"] = op
	return f
}

// Resource records the resource type and, if non-empty, its name/id.
func (f Fields) Resource(resourceType, name string) Fields {
	f["resource_type"] = resourceType
	if name != "" {
		f["resource_name"] = name
	}
	return f
}

// Duration records d in milliseconds.
func (f Fields) Duration(d time.Duration) Fields {
	f["duration_ms"] = d.Milliseconds()
	return f
}

// Error records err's message, if non-nil.
func (f Fields) Error(err error) Fields {
	if err != nil {
		f["error"] = err.Error()
	}
	return f
}

// Correlation records the correlation id bound to the current task.
func (f Fields) Correlation(id string) Fields {
	if id != "" {
		f["correlation_id"] = id
	}
	return f
}

// Tenant records the tenant id.
func (f Fields) Tenant(id string) Fields {
	if id != "" {
		f["tenant_id"] = id
	}
	return f
}

// Sink is a structured event sink: the only thing components log through.
// It is bound with a correlation id at task creation via WithCorrelation.
type Sink struct {
	logger *logrus.Logger
}

// NewSink wraps a *logrus.Logger as a Sink.
func NewSink(logger *logrus.Logger) *Sink {
	if logger == nil {
		logger = logrus.New()
	}
	return &Sink{logger: logger}
}

// WithCorrelation returns a bound Sink that stamps correlationID onto every
// field set it logs, so a task's whole call chain shares one id without
// threading it through every function signature.
func (s *Sink) WithCorrelation(correlationID string) *BoundSink {
	return &BoundSink{sink: s, correlationID: correlationID}
}

// BoundSink is a Sink bound to one task's correlation id.
type BoundSink struct {
	sink          *Sink
	correlationID string
}

func (b *BoundSink) withCorrelation(f Fields) logrus.Fields {
	f.Correlation(b.correlationID)
	return logrus.Fields(f)
}

// Info logs msg at info level with fields.
func (b *BoundSink) Info(msg string, f Fields) {
	b.sink.logger.WithFields(b.withCorrelation(f)).Info(msg)
}

// Warn logs msg at warn level with fields.
func (b *BoundSink) Warn(msg string, f Fields) {
	b.sink.logger.WithFields(b.withCorrelation(f)).Warn(msg)
}

// Error logs msg at error level with fields.
func (b *BoundSink) Error(msg string, f Fields) {
	b.sink.logger.WithFields(b.withCorrelation(f)).Error(msg)
}

// Debug logs msg at debug level with fields.
func (b *BoundSink) Debug(msg string, f Fields) {
	b.sink.logger.WithFields(b.withCorrelation(f)).Debug(msg)
}
