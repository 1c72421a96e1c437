package routes

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"

	"bookhaven/server/internal/chat"
	"bookhaven/server/internal/config"
	"bookhaven/server/internal/delivery"
	"bookhaven/server/internal/models"
	"bookhaven/server/internal/store"
	"bookhaven/server/internal/utils"
	ws "bookhaven/server/internal/websocket"
)

func newApp(t *testing.T, realtime bool) (*fiber.App, string) {
	t.Helper()

	st := store.NewMemory()
	st.AddUser(models.User{ID: "alice", Username: "alice"})
	st.AddUser(models.User{ID: "bob", Username: "bob"})

	deps := Deps{
		Service:       chat.NewService(st, nil, nil, chat.Options{}),
		Verifier:      utils.NewTokenVerifier("routes-test-secret"),
		Store:         st,
		Delivery:      delivery.NewInfo("poll", 5*time.Second),
		SendRateLimit: 2,
	}
	if realtime {
		deps.Hub = ws.NewHub()
		deps.Delivery = delivery.NewInfo("realtime", 5*time.Second)
	}

	app := NewApp(config.ServerConfig{AppName: "test"})
	SetupRoutes(app, deps)

	token, err := deps.Verifier.GenerateToken("alice", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	return app, token
}

func call(t *testing.T, app *fiber.App, method, target, token, body string) (*http.Response, string) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	return resp, string(data)
}

func TestRoutes(t *testing.T) {
	app, token := newApp(t, false)

	tests := []struct {
		name       string
		method     string
		target     string
		token      string
		wantStatus int
	}{
		{"health is public", http.MethodGet, "/health", "", 200},
		{"versioned health is public", http.MethodGet, "/api/v1/health", "", 200},
		{"metrics is public", http.MethodGet, "/metrics", "", 200},
		{"conversations need a token", http.MethodGet, "/api/v1/conversations", "", 401},
		{"config needs a token", http.MethodGet, "/api/v1/chat/config", "", 401},
		{"conversations", http.MethodGet, "/api/v1/conversations", token, 200},
		{"config", http.MethodGet, "/api/v1/chat/config", token, 200},
		{"no websocket when polling", http.MethodGet, "/api/v1/ws", token, 404},
		{"unknown route", http.MethodGet, "/api/v1/nope", token, 404},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := call(t, app, tt.method, tt.target, tt.token, "")
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d (%s)", resp.StatusCode, tt.wantStatus, body)
			}
			if resp.Header.Get(fiber.HeaderXRequestID) == "" {
				t.Error("missing X-Request-ID")
			}
		})
	}
}

func TestWebSocketRouteRequiresUpgrade(t *testing.T) {
	app, token := newApp(t, true)

	resp, body := call(t, app, http.MethodGet, "/api/v1/ws", token, "")
	if resp.StatusCode != fiber.StatusUpgradeRequired {
		t.Errorf("status = %d (%s)", resp.StatusCode, body)
	}

	resp, _ = call(t, app, http.MethodGet, "/api/v1/ws", "", "")
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d", resp.StatusCode)
	}

	resp, body = call(t, app, http.MethodGet, "/api/v1/chat/config", token, "")
	if resp.StatusCode != 200 || !strings.Contains(body, `"deliveryStrategy":"realtime"`) {
		t.Errorf("config = %d %s", resp.StatusCode, body)
	}
}

func TestSendIsRateLimited(t *testing.T) {
	app, token := newApp(t, false)

	resp, body := call(t, app, http.MethodPost, "/api/v1/conversations", token, `{"participantIds":["bob"]}`)
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("create: %d (%s)", resp.StatusCode, body)
	}
	var view models.ConversationView
	if err := json.Unmarshal([]byte(body), &view); err != nil {
		t.Fatal(err)
	}

	for i, want := range []int{201, 201, 429} {
		resp, body := call(t, app, http.MethodPost, "/api/v1/conversations/"+view.ID, token, `{"content":"hi"}`)
		if resp.StatusCode != want {
			t.Errorf("send %d: status = %d, want %d (%s)", i, resp.StatusCode, want, body)
		}
	}
}
