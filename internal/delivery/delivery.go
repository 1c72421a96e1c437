// Package delivery defines how committed chat events reach connected clients.
//
// Two strategies are supported. With "realtime" the websocket hub pushes
// events into conversation rooms. With "poll" nothing is pushed and clients
// re-fetch the conversation on a fixed interval. The HTTP API behaves the
// same under both.
package delivery

import (
	"context"
	"time"

	"bookhaven/server/internal/models"
)

const (
	StrategyRealtime = "realtime"
	StrategyPoll     = "poll"
)

// MessageDeliveryNotifier publishes committed state changes. Implementations
// must not block on slow clients and never fail the caller.
type MessageDeliveryNotifier interface {
	// MessageCreated announces a stored message followed by the updated
	// conversation summary.
	MessageCreated(ctx context.Context, msg models.MessageWithSender, summary models.ConversationSummary)

	// MessagesRead announces that userID read conversationID up to at.
	MessagesRead(ctx context.Context, conversationID, userID string, at time.Time)
}

// PollNotifier is the notifier for polling clients. It publishes nothing.
type PollNotifier struct{}

func (PollNotifier) MessageCreated(context.Context, models.MessageWithSender, models.ConversationSummary) {
}

func (PollNotifier) MessagesRead(context.Context, string, string, time.Time) {}

// Info is advertised to clients so they know whether to open a websocket or
// poll.
type Info struct {
	Strategy       string `json:"deliveryStrategy"`
	PollIntervalMs int64  `json:"pollIntervalMs"`
}

// NewInfo describes the configured strategy.
func NewInfo(strategy string, pollInterval time.Duration) Info {
	return Info{Strategy: strategy, PollIntervalMs: pollInterval.Milliseconds()}
}
