package notify

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
)

// SlackDispatcher posts escalations to a channel named by escalation
// level, returning the message timestamp as the acknowledgement.
type SlackDispatcher struct {
	client   *slack.Client
	channels map[Level]string
}

// NewSlackDispatcher returns a SlackDispatcher authenticated with token,
// posting level L's escalations to channels[L].
func NewSlackDispatcher(token string, channels map[Level]string) *SlackDispatcher {
	return &SlackDispatcher{client: slack.New(token), channels: channels}
}

var _ Dispatcher = (*SlackDispatcher)(nil)

// Dispatch posts a message describing the escalation to the channel
// configured for level.
func (d *SlackDispatcher) Dispatch(ctx context.Context, level Level, incidentID, reason string) (Ack, error) {
	channel, ok := d.channels[level]
	if !ok {
		return Ack{}, fmt.Errorf("notify: no channel configured for escalation level %d", level)
	}

	text := fmt.Sprintf("Incident %s escalated (level %d): %s", incidentID, level, reason)
	_, timestamp, err := d.client.PostMessageContext(ctx, channel, slack.MsgOptionText(text, false))
	if err != nil {
		return Ack{}, fmt.Errorf("notify: slack dispatch failed: %w", err)
	}
	return Ack{Channel: channel, Timestamp: timestamp}, nil
}
