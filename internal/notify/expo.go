package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"bookhaven/server/internal/models"
)

const DefaultExpoURL = "https://exp.host/--/api/v2/push/send"

type expoMessage struct {
	To    string            `json:"to"`
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
	Sound string            `json:"sound"`
}

type expoResponse struct {
	Data []struct {
		Status  string `json:"status"`
		ID      string `json:"id"`
		Message string `json:"message"`
		Details struct {
			Error string `json:"error"`
		} `json:"details"`
	} `json:"data"`
	Errors []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

// ExpoProvider sends through the Expo push API.
type ExpoProvider struct {
	url         string
	accessToken string
	client      *http.Client
}

func NewExpoProvider(url, accessToken string, timeout time.Duration) *ExpoProvider {
	if url == "" {
		url = DefaultExpoURL
	}
	return &ExpoProvider{
		url:         url,
		accessToken: accessToken,
		client:      &http.Client{Timeout: timeout},
	}
}

func (e *ExpoProvider) Name() string { return models.PushProviderExpo }

// IsExpoToken reports whether token has the shape Expo issues.
func IsExpoToken(token string) bool {
	return (strings.HasPrefix(token, "ExponentPushToken[") || strings.HasPrefix(token, "ExpoPushToken[")) &&
		strings.HasSuffix(token, "]")
}

func (e *ExpoProvider) Send(ctx context.Context, job PushJob) error {
	if !IsExpoToken(job.Token) {
		return fmt.Errorf("%w: malformed expo token", ErrTokenExpired)
	}

	body, err := json.Marshal([]expoMessage{{
		To:    job.Token,
		Title: job.Title,
		Body:  job.Body,
		Data:  job.Data,
		Sound: "default",
	}})
	if err != nil {
		return fmt.Errorf("encode expo message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build expo request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if e.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+e.accessToken)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("expo request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read expo response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("expo returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out expoResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("decode expo response: %w", err)
	}
	if len(out.Errors) > 0 {
		return fmt.Errorf("expo error %s: %s", out.Errors[0].Code, out.Errors[0].Message)
	}
	if len(out.Data) == 0 {
		return fmt.Errorf("expo returned no ticket")
	}

	ticket := out.Data[0]
	if ticket.Status == "ok" {
		return nil
	}
	if ticket.Details.Error == "DeviceNotRegistered" {
		return fmt.Errorf("%w: %s", ErrTokenExpired, ticket.Message)
	}
	return fmt.Errorf("expo ticket %s: %s", ticket.Details.Error, ticket.Message)
}
