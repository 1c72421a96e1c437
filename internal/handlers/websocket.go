package handlers

import (
	"context"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"bookhaven/server/internal/logging"
	"bookhaven/server/internal/middleware"
	ws "bookhaven/server/internal/websocket"
)

// WebSocketUpgrade checks if the request should be upgraded to WebSocket
func WebSocketUpgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}

	return c.Status(fiber.StatusUpgradeRequired).JSON(fiber.Map{
		"success": false,
		"error":   "WebSocket upgrade required",
		"code":    "UPGRADE_REQUIRED",
	})
}

// WebSocketHandler runs an authenticated connection. Auth has already
// rejected bad credentials before the upgrade.
func WebSocketHandler(hub *ws.Hub, svc ws.ChatService) fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		userID, _ := conn.Locals("userID").(string)
		ws.NewClient(userID, conn, hub, svc).Run(connContext(conn))
	})
}

// localsReader is the Locals accessor of *websocket.Conn, which takes
// string keys unlike fiber.Ctx.
type localsReader interface {
	Locals(key string, value ...interface{}) interface{}
}

// requestIDLocal is the key the requestid middleware stores the id under.
const requestIDLocal = "requestid"

// connContext carries the upgrade request's id into the connection's
// lifetime context.
func connContext(conn localsReader) context.Context {
	ctx := context.Background()
	if id, ok := conn.Locals(requestIDLocal).(string); ok && id != "" {
		ctx = logging.ContextWithRequestID(ctx, id)
	}
	return ctx
}

// WebSocketStats reports the number of open connections.
func WebSocketStats(hub *ws.Hub) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"connections": hub.ConnectionCount(),
			"userId":      middleware.GetUserID(c),
		})
	}
}
