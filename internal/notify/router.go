package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"

	"bookhaven/server/internal/logging"
)

// Router runs the fan-out and dispatch handlers. It is a suture service:
// Serve builds a fresh watermill router each time it is started.
type Router struct {
	pubsub     *PubSub
	fanout     *FanOut
	dispatcher *Dispatcher
	logger     watermill.LoggerAdapter

	ready     chan struct{}
	readyOnce sync.Once
}

func NewRouter(pubsub *PubSub, fanout *FanOut, dispatcher *Dispatcher, logger watermill.LoggerAdapter) *Router {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &Router{
		pubsub:     pubsub,
		fanout:     fanout,
		dispatcher: dispatcher,
		logger:     logger,
		ready:      make(chan struct{}),
	}
}

// Ready is closed once the first router run has subscribed its handlers.
func (r *Router) Ready() <-chan struct{} {
	return r.ready
}

func (r *Router) Serve(ctx context.Context) error {
	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: 10 * time.Second}, r.logger)
	if err != nil {
		return fmt.Errorf("create notification router: %w", err)
	}

	router.AddMiddleware(containFailures, middleware.Recoverer)

	router.AddHandler(
		"push_fanout",
		TopicMessageCreated,
		r.pubsub.Subscriber,
		TopicPushRequested,
		r.pubsub.Publisher,
		r.fanout.Handle,
	)
	router.AddConsumerHandler(
		"push_dispatch",
		TopicPushRequested,
		r.pubsub.Subscriber,
		r.dispatcher.Handle,
	)

	go func() {
		select {
		case <-router.Running():
			r.readyOnce.Do(func() { close(r.ready) })
		case <-ctx.Done():
		}
	}()

	logging.Info().Msg("notification router starting")
	if err := router.Run(ctx); err != nil {
		return fmt.Errorf("notification router: %w", err)
	}
	return ctx.Err()
}

func (r *Router) String() string { return "notification-router" }

// containFailures logs handler errors and acks the message anyway. Push is
// best effort and the in-process backend would otherwise redeliver forever.
func containFailures(h message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		out, err := h(msg)
		if err != nil {
			logging.Error().Err(err).
				Str("handler", message.HandlerNameFromCtx(msg.Context())).
				Str("request_id", msg.Metadata.Get(metadataRequestID)).
				Msg("notification handler failed")
			return nil, nil
		}
		return out, nil
	}
}
