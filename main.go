package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/vipogroup/vipo_backend/config"
	"github.com/vipogroup/vipo_backend/controllers"
	"github.com/vipogroup/vipo_backend/metrics"
	"github.com/vipogroup/vipo_backend/middleware"
	"github.com/vipogroup/vipo_backend/repositories"
	"github.com/vipogroup/vipo_backend/routes"
	"github.com/vipogroup/vipo_backend/services"
	"github.com/vipogroup/vipo_backend/websocket"
)

const (
	shutdownTimeout     = 15 * time.Second
	rateLimitCleanupInt = 5 * time.Minute
	bodyLimit           = "1M"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("loading configuration")
	}
	config.InitLogger(cfg.App)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Connect to database
	client, err := config.ConnectDB(cfg.Mongo)
	if err != nil {
		log.Fatal().Err(err).Msg("connecting to MongoDB")
	}
	db := client.Database(cfg.Mongo.Database)
	config.SetupCollections(ctx, db)

	// Connect to Redis
	redisClient := config.ConnectRedis(cfg.Redis)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	settlementMetrics := metrics.NewSettlementMetrics(registry)
	httpMetrics := metrics.NewHTTPMetrics(registry)

	// Create WebSocket hub
	wsHub := websocket.NewHub()
	go wsHub.Run()

	// Initialize repositories
	userRepo := repositories.NewUserRepository(db)
	withdrawalRepo := repositories.NewWithdrawalRepository(db)
	orderRepo := repositories.NewOrderRepository(db)
	ledgerRepo := repositories.NewLedgerRepository(db)
	outboxRepo := repositories.NewOutboxRepository(db)
	notificationRepo := repositories.NewNotificationRepository(db)
	txRunner := repositories.NewTxRunner(client, cfg.Mongo.Transactions)

	// Initialize services
	channels := []services.Channel{services.NewRealtimeChannel(wsHub)}
	if push := newPushChannel(ctx, cfg.Firebase); push != nil {
		channels = append(channels, push)
	}
	if cfg.SMTP.Configured() {
		channels = append(channels, services.NewEmailChannel(cfg.SMTP))
	} else {
		log.Info().Msg("SMTP not configured, e-mail notifications disabled")
	}
	notificationService := services.NewNotificationService(notificationRepo, userRepo, settlementMetrics, channels...)

	ledgerService := services.NewLedgerService(userRepo, ledgerRepo)
	withdrawalService := services.NewWithdrawalService(services.WithdrawalDeps{
		Withdrawals: withdrawalRepo,
		Users:       userRepo,
		Orders:      orderRepo,
		Ledger:      ledgerService,
		Outbox:      outboxRepo,
		Tx:          txRunner,
		Payouts:     services.NewPriorityPayoutService(services.NewPriorityClient(cfg.Priority)),
		Realtime:    wsHub,
		Metrics:     settlementMetrics,
		MinAmount:   cfg.Withdrawal.MinAmount,
	})

	dispatcher := services.NewOutboxDispatcher(outboxRepo, notificationService, cfg.Outbox)
	dispatcherDone := make(chan struct{})
	go func() {
		defer close(dispatcherDone)
		if err := dispatcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("outbox dispatcher stopped")
		}
	}()

	// Initialize rate limiters
	var limiterStore middleware.LimiterStore
	if redisClient != nil {
		limiterStore = middleware.NewRedisStore(redisClient)
	} else {
		memoryStore := middleware.NewMemoryStore()
		go memoryStore.RunCleanup(ctx, rateLimitCleanupInt)
		limiterStore = memoryStore
	}
	adminLimiter := middleware.NewRateLimiter(limiterStore, "admin", cfg.RateLimit.AdminLimit, cfg.RateLimit.AdminWindow)
	agentLimiter := middleware.NewRateLimiter(limiterStore, "withdrawals", cfg.RateLimit.AgentLimit, cfg.RateLimit.AgentWindow)

	// Create a new Echo instance
	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = controllers.HTTPErrorHandler
	e.Validator = controllers.NewValidator()

	// Middleware
	e.Use(echoMiddleware.Recover())
	e.Use(echoMiddleware.RequestID())
	e.Use(middleware.RequestLogger(httpMetrics))
	e.Use(middleware.CORSWithConfig(middleware.NewCORSConfig(cfg.App.CORSOrigins)))
	e.Use(middleware.SecurityHeaders())
	e.Use(echoMiddleware.BodyLimit(bodyLimit))
	e.Use(middleware.RequireJSONBody())

	routes.SetupRoutes(e, routes.Dependencies{
		JWTSecret:    cfg.JWT.Secret,
		Withdrawals:  controllers.NewWithdrawalController(withdrawalService, ledgerService),
		Health:       controllers.NewHealthController(cfg.App.ServiceName, healthChecks(client, redisClient)),
		Hub:          wsHub,
		AdminLimiter: adminLimiter,
		AgentLimiter: agentLimiter,
		Metrics:      promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	})

	// Start server
	go func() {
		log.Info().Str("port", cfg.App.Port).Str("env", cfg.App.Env).Msg("starting server")
		if err := e.Start(":" + cfg.App.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	wsHub.Stop()
	<-dispatcherDone
	if redisClient != nil {
		_ = redisClient.Close()
	}
	if err := client.Disconnect(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("mongo disconnect")
	}
}

func newPushChannel(ctx context.Context, cfg config.FirebaseConfig) services.Channel {
	app, err := config.InitFirebase(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("Firebase unavailable, push notifications disabled")
		return nil
	}
	if app == nil {
		return nil
	}
	messagingClient, err := app.Messaging(ctx)
	if err != nil {
		log.Error().Err(err).Msg("initializing Firebase messaging")
		return nil
	}
	return services.NewPushChannel(messagingClient)
}

func healthChecks(client *mongo.Client, redisClient *redis.Client) map[string]controllers.Check {
	checks := map[string]controllers.Check{
		"database": func(ctx context.Context) error { return client.Ping(ctx, nil) },
	}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}
	return checks
}
