// Package executor implements scheduler.Executor against a workflow's
// configured webhook: the HTTP remediation target the scheduler's
// poll loop invokes for every due retry or manual action. Grounded on
// the plain net/http client idiom of pkg/ai/http and pkg/slm in the
// wider pack — both call out to an external service with a bounded
// timeout and no client wrapper library.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sentinelops/remediator/pkg/store"
	"github.com/sentinelops/remediator/pkg/types"
)

// maxResultBytes bounds how much of a webhook's response body is kept as
// the action's persisted result string.
const maxResultBytes = 2048

// request is the payload POSTed to a workflow's webhook for every action
// execution.
type request struct {
	ActionID      string                 `json:"action_id"`
	IncidentID    string                 `json:"incident_id"`
	Kind          string                 `json:"kind"`
	AttemptNumber int                    `json:"attempt_number"`
	Parameters    map[string]interface{} `json:"parameters,omitempty"`
}

// WebhookExecutor calls the webhook URL configured on the incident's
// workflow, treating any 2xx response as success and anything else
// (including a transport error or timeout) as failure.
type WebhookExecutor struct {
	store   store.Store
	client  *http.Client
	timeout time.Duration
}

// New returns a WebhookExecutor backed by s to resolve an action's
// incident/workflow/vendor, bounding every call to timeout.
func New(s store.Store, timeout time.Duration) *WebhookExecutor {
	return &WebhookExecutor{
		store:   s,
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
	}
}

// Execute resolves act's incident and workflow, posts the action to the
// workflow's webhook, and reports the outcome plus the vendor attributed
// to the incident's most recent correlated event (empty if none), so the
// caller can charge the right vendor's retry budget on failure.
func (e *WebhookExecutor) Execute(ctx context.Context, act *types.Action) (succeeded bool, result string, vendor string, err error) {
	incident, err := e.store.GetIncident(ctx, act.IncidentID)
	if err != nil {
		return false, "", "", err
	}
	workflow, err := e.store.GetWorkflow(ctx, incident.TenantID, incident.WorkflowID)
	if err != nil {
		return false, "", "", err
	}
	vendor = e.resolveVendor(ctx, incident)

	if workflow.WebhookURL == "" {
		return false, "no webhook configured for workflow " + workflow.ID, vendor, nil
	}

	body, err := json.Marshal(request{
		ActionID:      act.ID,
		IncidentID:    act.IncidentID,
		Kind:          string(act.Kind),
		AttemptNumber: act.AttemptNumber,
		Parameters:    act.Parameters,
	})
	if err != nil {
		return false, "", vendor, fmt.Errorf("executor: marshal request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, workflow.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return false, "", vendor, fmt.Errorf("executor: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return false, err.Error(), vendor, nil
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResultBytes))
	succeeded = resp.StatusCode >= 200 && resp.StatusCode < 300
	return succeeded, fmt.Sprintf("%d: %s", resp.StatusCode, string(respBody)), vendor, nil
}

// resolveVendor reads the vendor named by the incident's most recently
// correlated event, tolerating a missing event the same way the incident
// manager's correlatedEvents does.
func (e *WebhookExecutor) resolveVendor(ctx context.Context, incident *types.Incident) string {
	if len(incident.Correlation) == 0 {
		return ""
	}
	last := incident.Correlation[len(incident.Correlation)-1]
	event, err := e.store.GetEvent(ctx, last)
	if err != nil {
		return ""
	}
	return event.Vendor
}
