package notify

import "context"

// NoopDispatcher acknowledges every escalation immediately without
// effecting any channel, for environments with no configured
// webhook/token and for tests that exercise the coordinator's own logic
// independent of Slack availability.
type NoopDispatcher struct{}

var _ Dispatcher = NoopDispatcher{}

// Dispatch always succeeds with a synthetic acknowledgement.
func (NoopDispatcher) Dispatch(_ context.Context, level Level, incidentID, _ string) (Ack, error) {
	return Ack{Channel: "noop", Timestamp: incidentID}, nil
}
