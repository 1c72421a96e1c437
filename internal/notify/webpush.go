package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/goccy/go-json"

	"bookhaven/server/internal/models"
)

type webPushPayload struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// WebPushProvider sends to browser subscriptions signed with VAPID keys.
type WebPushProvider struct {
	publicKey  string
	privateKey string
	subscriber string
	ttl        int
	client     *http.Client
}

func NewWebPushProvider(publicKey, privateKey, subscriber string, timeout time.Duration) *WebPushProvider {
	if subscriber == "" {
		subscriber = "mailto:admin@bookhaven.app"
	}
	return &WebPushProvider{
		publicKey:  publicKey,
		privateKey: privateKey,
		subscriber: subscriber,
		ttl:        30,
		client:     &http.Client{Timeout: timeout},
	}
}

func (w *WebPushProvider) Name() string { return models.PushProviderWebPush }

// Send expects job.Token to hold the subscription JSON the browser produced.
func (w *WebPushProvider) Send(ctx context.Context, job PushJob) error {
	var sub webpush.Subscription
	if err := json.Unmarshal([]byte(job.Token), &sub); err != nil || sub.Endpoint == "" {
		return fmt.Errorf("%w: unreadable web push subscription", ErrTokenExpired)
	}

	payload, err := json.Marshal(webPushPayload{Title: job.Title, Body: job.Body, Data: job.Data})
	if err != nil {
		return fmt.Errorf("encode web push payload: %w", err)
	}

	resp, err := webpush.SendNotificationWithContext(ctx, payload, &sub, &webpush.Options{
		HTTPClient:      w.client,
		Subscriber:      w.subscriber,
		VAPIDPublicKey:  w.publicKey,
		VAPIDPrivateKey: w.privateKey,
		TTL:             w.ttl,
	})
	if err != nil {
		return fmt.Errorf("web push: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: subscription gone (%d)", ErrTokenExpired, resp.StatusCode)
	case resp.StatusCode >= 300:
		return fmt.Errorf("web push returned %d", resp.StatusCode)
	}
	return nil
}
