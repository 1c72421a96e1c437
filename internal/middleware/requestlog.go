package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/requestid"

	"bookhaven/server/internal/logging"
	"bookhaven/server/internal/metrics"
)

// RequestLogger writes one structured access log line per request and
// records its duration. It must run after requestid so the id reaches the
// logging context.
func RequestLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		if id, ok := c.Locals(requestid.ConfigDefault.ContextKey).(string); ok && id != "" {
			c.SetUserContext(logging.ContextWithRequestID(c.UserContext(), id))
		}

		err := c.Next()
		if err != nil {
			// Let the app's error handler set the status before we read it.
			if herr := c.App().ErrorHandler(c, err); herr != nil {
				_ = c.SendStatus(fiber.StatusInternalServerError)
			}
			err = nil
		}

		status := c.Response().StatusCode()
		elapsed := time.Since(start)
		route := c.Route().Path
		metrics.RecordHTTPRequest(c.Method(), route, status, elapsed)

		event := logging.Ctx(c.UserContext()).Info()
		if status >= fiber.StatusInternalServerError {
			event = logging.Ctx(c.UserContext()).Error()
		}
		event.Str("method", c.Method()).
			Str("path", c.Path()).
			Str("route", route).
			Int("status", status).
			Dur("latency", elapsed).
			Str("ip", c.IP()).
			Msg("request")
		return err
	}
}
