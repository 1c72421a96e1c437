package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"bookhaven/server/internal/chat"
	"bookhaven/server/internal/config"
	"bookhaven/server/internal/database"
	"bookhaven/server/internal/delivery"
	"bookhaven/server/internal/logging"
	"bookhaven/server/internal/media"
	"bookhaven/server/internal/notify"
	"bookhaven/server/internal/routes"
	"bookhaven/server/internal/store"
	"bookhaven/server/internal/supervisor"
	"bookhaven/server/internal/utils"
	ws "bookhaven/server/internal/websocket"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		logging.Debug().Msg("no .env file found")
	}

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}
	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		logging.Fatal().Err(err).Msg("server stopped with error")
	}
	logging.Info().Msg("server stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	st, closeStore, err := openStore(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer closeStore()

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})

	var (
		queue       chat.NotificationQueue
		notifyReady <-chan struct{}
	)
	if cfg.Notify.Enabled {
		pubsub, err := notify.NewPubSub(cfg.Notify, logging.NewWatermillLogger("pubsub"))
		if err != nil {
			return err
		}
		defer func() {
			if err := pubsub.Close(); err != nil {
				logging.Warn().Err(err).Msg("closing pubsub")
			}
		}()

		providers := []notify.Provider{
			notify.NewExpoProvider(cfg.Push.ExpoURL, cfg.Push.ExpoAccessToken, cfg.Notify.DispatchTimeout),
		}
		if cfg.Push.WebPushEnabled() {
			providers = append(providers, notify.NewWebPushProvider(
				cfg.Push.VAPIDPublicKey,
				cfg.Push.VAPIDPrivateKey,
				cfg.Push.VAPIDSubscriber,
				cfg.Notify.DispatchTimeout,
			))
		}

		router := notify.NewRouter(
			pubsub,
			notify.NewFanOut(st, cfg.Notify.BodyMaxLength),
			notify.NewDispatcher(cfg.Notify, providers...),
			logging.NewWatermillLogger("notify"),
		)
		tree.AddMessagingService(router)
		queue = notify.NewQueue(pubsub.Publisher)
		// gochannel drops publishes that arrive before the router subscribes.
		notifyReady = router.Ready()

		logging.Info().
			Str("backend", cfg.Notify.Backend).
			Int("providers", len(providers)).
			Msg("push notifications enabled")
	}

	var (
		notifier delivery.MessageDeliveryNotifier = delivery.PollNotifier{}
		hub      *ws.Hub
	)
	if cfg.Delivery.Strategy == "realtime" {
		hub = ws.NewHub()
		notifier = hub
		tree.AddMessagingService(hub)
	}

	svc := chat.NewService(st, notifier, queue, chat.Options{
		DefaultPageSize:  cfg.Chat.DefaultPageSize,
		MaxPageSize:      cfg.Chat.MaxPageSize,
		MaxContentLength: cfg.Chat.MaxContentLength,
		MarkReadOnFetch:  cfg.Chat.MarkReadOnFetch,
	})

	var uploads *media.Uploads
	if cfg.Storage.Enabled() {
		uploads, err = media.New(ctx, cfg.Storage)
		if err != nil {
			return err
		}
	}

	app := routes.NewApp(cfg.Server)
	routes.SetupRoutes(app, routes.Deps{
		Service:       svc,
		Verifier:      utils.NewTokenVerifier(cfg.Auth.JWTSecret),
		Store:         st,
		Delivery:      delivery.NewInfo(cfg.Delivery.Strategy, cfg.Delivery.PollInterval),
		Hub:           hub,
		Uploads:       uploads,
		SendRateLimit: cfg.Chat.SendRateLimit,
	})
	httpSvc := supervisor.NewHTTPService(app, cfg.Server.Addr(), cfg.Server.ShutdownTimeout)
	if notifyReady != nil {
		httpSvc.After(notifyReady)
	}
	tree.AddAPIService(httpSvc)

	logging.Info().
		Str("addr", cfg.Server.Addr()).
		Str("delivery", cfg.Delivery.Strategy).
		Str("database", cfg.Database.Driver).
		Bool("uploads", uploads != nil).
		Msg("server starting")

	err = tree.Serve(ctx)
	if report, rerr := tree.UnstoppedServiceReport(); rerr == nil && len(report) > 0 {
		for _, u := range report {
			logging.Warn().Str("service", u.Name).Msg("service did not stop in time")
		}
	}
	return err
}

func openStore(ctx context.Context, cfg config.DatabaseConfig) (store.Store, func(), error) {
	if cfg.Driver == "memory" {
		logging.Warn().Msg("using in-memory store; data is lost on restart")
		return store.NewMemory(), func() {}, nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	pool, err := database.Connect(connectCtx, cfg)
	if err != nil {
		return nil, nil, err
	}
	if err := database.Migrate(connectCtx, pool); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return store.NewPostgres(pool, cfg.QueryTimeout), pool.Close, nil
}
