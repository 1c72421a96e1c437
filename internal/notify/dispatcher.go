package notify

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"bookhaven/server/internal/config"
	"bookhaven/server/internal/logging"
	"bookhaven/server/internal/metrics"
)

// ErrTokenExpired means the provider rejected the device token for good.
// It is never retried and does not count against the circuit breaker.
var ErrTokenExpired = errors.New("notify: push token expired")

// Dispatch outcomes, used as metric labels.
const (
	OutcomeSent        = "sent"
	OutcomeFailed      = "failed"
	OutcomeExpired     = "expired"
	OutcomeRejected    = "rejected"
	OutcomeUnsupported = "unsupported"
)

// Provider delivers a single push job.
type Provider interface {
	Name() string
	Send(ctx context.Context, job PushJob) error
}

type guardedProvider struct {
	Provider
	breaker *gobreaker.CircuitBreaker[struct{}]
	limiter *rate.Limiter
}

// Dispatcher sends push jobs through their provider with a per-provider
// circuit breaker and rate limiter.
type Dispatcher struct {
	providers   map[string]*guardedProvider
	timeout     time.Duration
	maxAttempts int
	backoff     time.Duration
}

// NewDispatcher guards each provider with the breaker and limiter settings
// from cfg.
func NewDispatcher(cfg config.NotifyConfig, providers ...Provider) *Dispatcher {
	d := &Dispatcher{
		providers:   make(map[string]*guardedProvider, len(providers)),
		timeout:     cfg.DispatchTimeout,
		maxAttempts: max(cfg.MaxAttempts, 1),
		backoff:     250 * time.Millisecond,
	}
	if d.timeout <= 0 {
		d.timeout = 5 * time.Second
	}

	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	limit := rate.Inf
	burst := 1
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
		burst = max(1, int(math.Ceil(cfg.RateLimit)))
	}

	for _, p := range providers {
		d.providers[p.Name()] = &guardedProvider{
			Provider: p,
			limiter:  rate.NewLimiter(limit, burst),
			breaker: gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
				Name:        "push-" + p.Name(),
				MaxRequests: 1,
				Interval:    time.Minute,
				Timeout:     cfg.BreakerTimeout,
				ReadyToTrip: func(counts gobreaker.Counts) bool {
					return counts.ConsecutiveFailures >= failures
				},
				IsSuccessful: func(err error) bool {
					return err == nil || errors.Is(err, ErrTokenExpired)
				},
				OnStateChange: func(name string, from, to gobreaker.State) {
					logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("push circuit breaker state change")
				},
			}),
		}
	}
	return d
}

// Handle is the watermill handler for TopicPushRequested. The job is acked
// whatever the outcome.
func (d *Dispatcher) Handle(msg *message.Message) error {
	var job PushJob
	if err := json.Unmarshal(msg.Payload, &job); err != nil {
		logging.Error().Err(err).Str("watermill_uuid", msg.UUID).Msg("dropping undecodable push job")
		return nil
	}

	outcome, err := d.Dispatch(msg.Context(), job)
	event := logging.Debug()
	if err != nil {
		event = logging.Warn().Err(err)
	}
	event.Str("provider", job.Provider).
		Str("recipient_id", job.RecipientID).
		Str("outcome", outcome).
		Str("request_id", msg.Metadata.Get(metadataRequestID)).
		Msg("push dispatched")
	return nil
}

// Dispatch sends job and reports the outcome. Each attempt is bounded by the
// dispatch timeout; expired tokens and an open breaker end the attempts
// early.
func (d *Dispatcher) Dispatch(ctx context.Context, job PushJob) (string, error) {
	p, ok := d.providers[job.Provider]
	if !ok {
		metrics.RecordDispatch(job.Provider, OutcomeUnsupported, 0)
		return OutcomeUnsupported, fmt.Errorf("no push provider %q", job.Provider)
	}

	var err error
	for attempt := 1; ; attempt++ {
		start := time.Now()
		err = d.attempt(ctx, p, job)
		outcome := classify(err)
		metrics.RecordDispatch(p.Name(), outcome, time.Since(start))

		if outcome != OutcomeFailed || attempt >= d.maxAttempts || ctx.Err() != nil {
			return outcome, err
		}

		select {
		case <-ctx.Done():
			return OutcomeFailed, ctx.Err()
		case <-time.After(d.backoff * time.Duration(attempt)):
		}
	}
}

func (d *Dispatcher) attempt(ctx context.Context, p *guardedProvider, job PushJob) error {
	actx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if err := p.limiter.Wait(actx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	_, err := p.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, p.Send(actx, job)
	})
	return err
}

func classify(err error) string {
	switch {
	case err == nil:
		return OutcomeSent
	case errors.Is(err, ErrTokenExpired):
		return OutcomeExpired
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return OutcomeRejected
	default:
		return OutcomeFailed
	}
}
