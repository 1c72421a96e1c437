package notify

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/goccy/go-json"
)

func TestIsExpoToken(t *testing.T) {
	tests := []struct {
		token string
		want  bool
	}{
		{"ExponentPushToken[abc]", true},
		{"ExpoPushToken[abc]", true},
		{"ExponentPushToken[abc", false},
		{"abc", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsExpoToken(tt.token); got != tt.want {
			t.Errorf("IsExpoToken(%q) = %v, want %v", tt.token, got, tt.want)
		}
	}
}

func TestExpoProviderSend(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		response    string
		wantErr     bool
		wantExpired bool
	}{
		{"ok", http.StatusOK, `{"data":[{"status":"ok","id":"t1"}]}`, false, false},
		{"not registered", http.StatusOK, `{"data":[{"status":"error","message":"gone","details":{"error":"DeviceNotRegistered"}}]}`, true, true},
		{"rate limited ticket", http.StatusOK, `{"data":[{"status":"error","message":"slow down","details":{"error":"MessageRateExceeded"}}]}`, true, false},
		{"request error", http.StatusOK, `{"errors":[{"code":"VALIDATION_ERROR","message":"bad"}]}`, true, false},
		{"server error", http.StatusInternalServerError, `oops`, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []expoMessage
			var auth string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				auth = r.Header.Get("Authorization")
				body, _ := io.ReadAll(r.Body)
				_ = json.Unmarshal(body, &got)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.response))
			}))
			defer srv.Close()

			p := NewExpoProvider(srv.URL, "secret", time.Second)
			err := p.Send(context.Background(), PushJob{
				Token: "ExponentPushToken[x]",
				Title: "Alice",
				Body:  "hello",
				Data:  map[string]string{"conversationId": "c1"},
			})

			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if errors.Is(err, ErrTokenExpired) != tt.wantExpired {
				t.Errorf("expired = %v, want %v", errors.Is(err, ErrTokenExpired), tt.wantExpired)
			}
			if auth != "Bearer secret" {
				t.Errorf("Authorization = %q", auth)
			}
			if len(got) != 1 || got[0].To != "ExponentPushToken[x]" || got[0].Title != "Alice" || got[0].Sound != "default" {
				t.Errorf("request body = %+v", got)
			}
		})
	}
}

func TestExpoProviderRejectsMalformedToken(t *testing.T) {
	p := NewExpoProvider("http://127.0.0.1:0", "", time.Second)
	if err := p.Send(context.Background(), PushJob{Token: "not-a-token"}); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("err = %v, want ErrTokenExpired", err)
	}
}

func browserSubscription(t *testing.T, endpoint string) string {
	t.Helper()
	key, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	secret := make([]byte, 16)
	if _, err := rand.Read(secret); err != nil {
		t.Fatal(err)
	}
	sub := webpush.Subscription{
		Endpoint: endpoint,
		Keys: webpush.Keys{
			P256dh: base64.RawURLEncoding.EncodeToString(key.PublicKey().Bytes()),
			Auth:   base64.RawURLEncoding.EncodeToString(secret),
		},
	}
	raw, err := json.Marshal(sub)
	if err != nil {
		t.Fatal(err)
	}
	return string(raw)
}

func TestWebPushProviderSend(t *testing.T) {
	privateKey, publicKey, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name        string
		status      int
		wantErr     bool
		wantExpired bool
	}{
		{"created", http.StatusCreated, false, false},
		{"gone", http.StatusGone, true, true},
		{"server error", http.StatusInternalServerError, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ttl string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				ttl = r.Header.Get("TTL")
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			p := NewWebPushProvider(publicKey, privateKey, "", time.Second)
			err := p.Send(context.Background(), PushJob{
				Token: browserSubscription(t, srv.URL),
				Title: "Alice",
				Body:  "hello",
			})
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if errors.Is(err, ErrTokenExpired) != tt.wantExpired {
				t.Errorf("expired = %v, want %v", errors.Is(err, ErrTokenExpired), tt.wantExpired)
			}
			if ttl != "30" {
				t.Errorf("TTL header = %q, want 30", ttl)
			}
		})
	}
}

func TestWebPushProviderRejectsBadSubscription(t *testing.T) {
	p := NewWebPushProvider("pub", "priv", "", time.Second)
	if err := p.Send(context.Background(), PushJob{Token: "ExponentPushToken[x]"}); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("err = %v, want ErrTokenExpired", err)
	}
}
