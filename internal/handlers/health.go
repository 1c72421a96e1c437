package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"bookhaven/server/internal/delivery"
	"bookhaven/server/internal/logging"
)

// Pinger is satisfied by the store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Health reports whether the API and its database are reachable.
func Health(db Pinger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()

		if err := db.Ping(ctx); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Msg("health check failed")
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"success": false,
				"error":   "Database unavailable",
				"code":    "UNAVAILABLE",
			})
		}

		return c.JSON(fiber.Map{
			"status":  "ok",
			"message": "BookHaven chat API is running",
		})
	}
}

// ChatConfig tells clients whether to open a websocket or poll.
func ChatConfig(info delivery.Info) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(info)
	}
}
