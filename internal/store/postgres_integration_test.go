//go:build integration

package store

import (
	"context"
	"fmt"
	"os/exec"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"bookhaven/server/internal/config"
	"bookhaven/server/internal/database"
	"bookhaven/server/internal/models"
)

func skipIfNoDocker(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if exec.CommandContext(ctx, "docker", "info").Run() != nil {
		t.Skip("Skipping test: Docker not available")
	}
}

func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	skipIfNoDocker(t)
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "bookhaven",
				"POSTGRES_PASSWORD": "bookhaven",
				"POSTGRES_DB":       "bookhaven",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("failed to start postgres: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("Warning: failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatal(err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatal(err)
	}

	pool, err := database.Connect(ctx, config.DatabaseConfig{
		URL:          fmt.Sprintf("postgres://bookhaven:bookhaven@%s:%s/bookhaven?sslmode=disable", host, port.Port()),
		MaxConns:     10,
		QueryTimeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(pool.Close)

	if err := database.Migrate(ctx, pool); err != nil {
		t.Fatal(err)
	}
	// Running twice must be harmless.
	if err := database.Migrate(ctx, pool); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	return pool
}

func TestPostgresContract(t *testing.T) {
	pool := startPostgres(t)

	runStoreContract(t, fixture{
		store: NewPostgres(pool, 5*time.Second),
		addUser: func(t *testing.T, u models.User) {
			if _, err := pool.Exec(context.Background(),
				`INSERT INTO users (id, username, avatar) VALUES ($1, $2, $3)`, u.ID, u.Username, u.Avatar); err != nil {
				t.Fatal(err)
			}
		},
		addPush: func(t *testing.T, tok models.PushToken) {
			if _, err := pool.Exec(context.Background(),
				`INSERT INTO push_tokens (user_id, provider, token) VALUES ($1, $2, $3)`,
				tok.UserID, tok.Provider, tok.Token); err != nil {
				t.Fatal(err)
			}
		},
	})
}

func TestPostgresRejectsForeignMediaFields(t *testing.T) {
	pool := startPostgres(t)
	s := NewPostgres(pool, 5*time.Second)
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		if _, err := pool.Exec(ctx, `INSERT INTO users (id, username) VALUES ($1, $1)`, id); err != nil {
			t.Fatal(err)
		}
	}
	conv := createDirect(t, s, "a", "b")

	url := "https://cdn.example/a.jpg"
	msg := models.NewMessage(newID(t), conv.ID, "a", models.TextBody{Content: "hi"})
	msg.ImageURL = &url
	if _, _, err := s.InsertMessage(ctx, msg); err == nil {
		t.Fatal("TEXT message with imageUrl should violate the check constraint")
	}

	got, _ := s.ListMessages(ctx, conv.ID, 0, 10)
	if len(got) != 0 {
		t.Errorf("failed insert left %d messages", len(got))
	}
	c, _ := s.GetConversation(ctx, conv.ID)
	if c.LastMessage != nil {
		t.Errorf("failed insert updated the summary to %q", *c.LastMessage)
	}
}
