package routes

import (
	"strings"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bookhaven/server/internal/chat"
	"bookhaven/server/internal/config"
	"bookhaven/server/internal/delivery"
	"bookhaven/server/internal/handlers"
	"bookhaven/server/internal/media"
	"bookhaven/server/internal/middleware"
	"bookhaven/server/internal/utils"
	ws "bookhaven/server/internal/websocket"
)

// Deps is everything the routes need. Hub is nil under the poll strategy
// and Uploads is nil when no bucket is configured.
type Deps struct {
	Service       *chat.Service
	Verifier      *utils.TokenVerifier
	Store         handlers.Pinger
	Delivery      delivery.Info
	Hub           *ws.Hub
	Uploads       *media.Uploads
	SendRateLimit int
}

// NewApp creates the fiber app with the shared middleware stack.
func NewApp(cfg config.ServerConfig) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ErrorHandler: handlers.ErrorHandler,
		JSONEncoder:  json.Marshal,
		JSONDecoder:  json.Unmarshal,
	})

	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(middleware.RequestLogger())

	origins := "*"
	if len(cfg.CORSOrigins) > 0 {
		origins = strings.Join(cfg.CORSOrigins, ",")
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: origins != "*",
	}))

	return app
}

// SetupRoutes configures all application routes
func SetupRoutes(app *fiber.App, d Deps) {
	auth := middleware.Auth(d.Verifier)
	health := handlers.Health(d.Store)

	// Public
	app.Get("/health", health)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := app.Group("/api/v1")
	api.Get("/health", health)
	api.Get("/chat/config", auth, handlers.ChatConfig(d.Delivery))

	conv := handlers.NewConversationHandler(d.Service)
	conversations := api.Group("/conversations", auth)
	conversations.Get("/", conv.List)
	conversations.Post("/", conv.Create)
	conversations.Get("/:id", conv.Messages)
	conversations.Post("/:id", middleware.SendRateLimiter(d.SendRateLimit), conv.Send)
	conversations.Post("/:id/read", conv.MarkRead)

	uploads := api.Group("/uploads", auth)
	uploads.Post("/presign", middleware.UploadRateLimiter(), handlers.NewUploadHandler(d.Uploads).Presign)

	// The websocket only exists under the realtime strategy.
	if d.Hub != nil {
		api.Get("/ws", auth, handlers.WebSocketUpgrade, handlers.WebSocketHandler(d.Hub, d.Service))
		api.Get("/ws/stats", auth, handlers.WebSocketStats(d.Hub))
	}
}
