// Package notify turns committed messages into mobile and browser push
// notifications.
//
// The chat service publishes a message.created event after each send. A
// fan-out handler expands it into one push.requested job per recipient
// device, and a dispatch handler delivers each job through its provider.
// Every failure past the publish is logged and counted here; nothing is
// reported back to the sender.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	natsgo "github.com/nats-io/nats.go"

	"bookhaven/server/internal/config"
	"bookhaven/server/internal/logging"
	"bookhaven/server/internal/models"
)

const (
	TopicMessageCreated = "bookhaven.message.created"
	TopicPushRequested  = "bookhaven.push.requested"

	metadataRequestID = "request_id"
)

// MessageCreatedEvent is the payload of TopicMessageCreated.
type MessageCreatedEvent struct {
	MessageID      string             `json:"messageId"`
	ConversationID string             `json:"conversationId"`
	SenderID       string             `json:"senderId"`
	MessageType    models.MessageType `json:"messageType"`
	Content        string             `json:"content"`
	CreatedAt      time.Time          `json:"createdAt"`
}

// Message rebuilds the parts of the stored message the fan-out needs.
func (e MessageCreatedEvent) Message() models.Message {
	return models.Message{
		ID:             e.MessageID,
		ConversationID: e.ConversationID,
		SenderID:       e.SenderID,
		MessageType:    e.MessageType,
		Content:        e.Content,
		CreatedAt:      e.CreatedAt,
	}
}

// PushJob is the payload of TopicPushRequested: one notification for one
// device.
type PushJob struct {
	RecipientID string            `json:"recipientId"`
	Provider    string            `json:"provider"`
	Token       string            `json:"token"`
	Title       string            `json:"title"`
	Body        string            `json:"body"`
	Data        map[string]string `json:"data,omitempty"`
}

// PubSub holds the publisher and subscriber for the configured backend.
type PubSub struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber

	closers []func() error
}

// NewPubSub builds the in-process gochannel backend or a core NATS backend.
// NATS runs without JetStream, so jobs are not persisted across restarts.
func NewPubSub(cfg config.NotifyConfig, logger watermill.LoggerAdapter) (*PubSub, error) {
	switch cfg.Backend {
	case "", "gochannel":
		ch := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 256}, logger)
		return &PubSub{Publisher: ch, Subscriber: ch, closers: []func() error{ch.Close}}, nil

	case "nats":
		natsOpts := []natsgo.Option{
			natsgo.Name("bookhaven-notify"),
			natsgo.RetryOnFailedConnect(true),
			natsgo.MaxReconnects(-1),
			natsgo.ReconnectWait(2 * time.Second),
			natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
				if err != nil {
					logger.Error("NATS disconnected", err, nil)
				}
			}),
			natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
				logger.Info("NATS reconnected", watermill.LogFields{"url": nc.ConnectedUrl()})
			}),
		}

		pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
			URL:         cfg.NATSURL,
			NatsOptions: natsOpts,
			Marshaler:   &wmNats.NATSMarshaler{},
			JetStream:   wmNats.JetStreamConfig{Disabled: true},
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("create nats publisher: %w", err)
		}

		sub, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
			URL:              cfg.NATSURL,
			QueueGroupPrefix: cfg.QueueGroup,
			SubscribersCount: 4,
			CloseTimeout:     10 * time.Second,
			AckWaitTimeout:   cfg.DispatchTimeout * time.Duration(cfg.MaxAttempts+1),
			NatsOptions:      natsOpts,
			Unmarshaler:      &wmNats.NATSMarshaler{},
			JetStream:        wmNats.JetStreamConfig{Disabled: true},
		}, logger)
		if err != nil {
			_ = pub.Close()
			return nil, fmt.Errorf("create nats subscriber: %w", err)
		}
		return &PubSub{Publisher: pub, Subscriber: sub, closers: []func() error{sub.Close, pub.Close}}, nil

	default:
		return nil, fmt.Errorf("unknown notify backend %q", cfg.Backend)
	}
}

// Close releases the backend.
func (p *PubSub) Close() error {
	var errs []error
	for _, c := range p.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Queue publishes message.created events. It satisfies the chat service's
// notification queue.
type Queue struct {
	publisher message.Publisher
}

func NewQueue(publisher message.Publisher) *Queue {
	return &Queue{publisher: publisher}
}

// PublishMessageCreated hands msg to the fan-out. The request context is not
// attached to the event; only its request id travels as metadata.
func (q *Queue) PublishMessageCreated(ctx context.Context, msg models.Message) error {
	payload, err := json.Marshal(MessageCreatedEvent{
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		MessageType:    msg.MessageType,
		Content:        msg.Content,
		CreatedAt:      msg.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("encode message.created: %w", err)
	}

	wm := message.NewMessage(watermill.NewUUID(), payload)
	if id := logging.RequestIDFromContext(ctx); id != "" {
		wm.Metadata.Set(metadataRequestID, id)
	}
	if err := q.publisher.Publish(TopicMessageCreated, wm); err != nil {
		return fmt.Errorf("publish message.created: %w", err)
	}
	return nil
}
