package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/sony/gobreaker"

	"github.com/sentinelops/remediator/pkg/types"
)

// LLM classifies incidents via an Anthropic Messages API model. It wraps
// its own gobreaker.CircuitBreaker — independent of the per-vendor
// breakers in pkg/safety/breaker — because this breaker protects the
// core's own call path into the classifier, not a downstream remediation
// target (SPEC_FULL §4.6).
type LLM struct {
	client  anthropic.Client
	model   anthropic.Model
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker
}

// NewLLM returns an LLM classifier calling model with apiKey, bounding
// every call to timeout and tripping its own breaker after 5 consecutive
// failures with a 30s cooldown.
func NewLLM(apiKey, model string, timeout time.Duration) *LLM {
	l := &LLM{
		client:  anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:   anthropic.Model(model),
		timeout: timeout,
	}
	l.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "classifier-llm",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return l
}

var _ Adapter = (*LLM)(nil)

type llmResponse struct {
	Category    string  `json:"category"`
	Confidence  float64 `json:"confidence"`
	Recommended string  `json:"recommended"`
	Reasoning   string  `json:"reasoning"`
}

// Classify asks the model to classify the incident, honoring spec §4.6:
// a timeout or any failure (including an open breaker) is treated as
// classifier_timeout rather than propagated.
func (l *LLM) Classify(ctx context.Context, incident *types.Incident, recentEvents []*types.Event) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	out, err := l.breaker.Execute(func() (interface{}, error) {
		return l.call(ctx, incident, recentEvents)
	})
	if err != nil {
		return TimeoutResult, nil
	}
	return out.(Result), nil
}

func (l *LLM) call(ctx context.Context, incident *types.Incident, recentEvents []*types.Event) (Result, error) {
	prompt := buildPrompt(incident, recentEvents)

	msg, err := l.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     l.model,
		MaxTokens: 512,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return Result{}, fmt.Errorf("classifier llm call failed: %w", err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	var parsed llmResponse
	if err := json.Unmarshal([]byte(text.String()), &parsed); err != nil {
		return Result{}, fmt.Errorf("classifier llm returned unparseable output: %w", err)
	}

	recommended := types.ActionKind(parsed.Recommended)
	switch recommended {
	case types.ActionKindRetry, types.ActionKindEscalate, types.ActionKindManual:
	default:
		recommended = types.ActionKindEscalate
	}

	return Result{
		Category:    parsed.Category,
		Confidence:  parsed.Confidence,
		Recommended: recommended,
		Reasoning:   parsed.Reasoning,
		ModelTag:    string(l.model),
	}, nil
}

func buildPrompt(incident *types.Incident, recentEvents []*types.Event) string {
	var b strings.Builder
	b.WriteString("Classify this incident and respond with JSON only: ")
	b.WriteString(`{"category":"","confidence":0.0,"recommended":"retry|escalate|manual","reasoning":""}`)
	b.WriteString("\n\nIncident signature: ")
	b.WriteString(incident.Signature)
	b.WriteString("\nSeverity: ")
	b.WriteString(string(incident.Severity))
	b.WriteString("\nEvent count: ")
	fmt.Fprintf(&b, "%d", incident.EventCount)
	b.WriteString("\nRecent events: ")
	fmt.Fprintf(&b, "%d", len(recentEvents))
	return b.String()
}
