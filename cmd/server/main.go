package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/huntred/chatflow/internal/channel"
	"github.com/huntred/chatflow/internal/classify"
	"github.com/huntred/chatflow/internal/config"
	"github.com/huntred/chatflow/internal/database"
	"github.com/huntred/chatflow/internal/delivery"
	"github.com/huntred/chatflow/internal/dispatch"
	"github.com/huntred/chatflow/internal/events"
	"github.com/huntred/chatflow/internal/flow"
	"github.com/huntred/chatflow/internal/handler"
	"github.com/huntred/chatflow/internal/intercept"
	"github.com/huntred/chatflow/internal/jobs"
	"github.com/huntred/chatflow/internal/lock"
	"github.com/huntred/chatflow/internal/middleware"
	"github.com/huntred/chatflow/internal/ratelimit"
	"github.com/huntred/chatflow/internal/redis"
	"github.com/huntred/chatflow/internal/repository"
	"github.com/huntred/chatflow/internal/service"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file found, using process environment")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	isProduction := os.Getenv("FLY_APP_NAME") != ""
	if err := cfg.Validate(isProduction); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	if err := db.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	cancel()
	log.Info().Msg("database connected")

	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	convRepo := repository.NewConversationRepository(db.DB)
	profileRepo := repository.NewProfileRepository(db.DB)
	flowRepo := repository.NewFlowRepository(db.DB)
	outboundRepo := repository.NewOutboundMessageRepository(db.DB)
	attemptRepo := repository.NewDeliveryAttemptRepository(db.DB)
	catalogRepo := repository.NewJobCatalogRepository(db.DB)

	broker := events.NewBroker(redisClient)
	defer broker.Close()

	providerClient := &http.Client{Timeout: cfg.ProviderTimeout()}
	registry := channel.NewRegistry(buildAdapters(cfg, providerClient)...)
	log.Info().Interface("channels", registry.Channels()).Msg("channel adapters registered")

	limiter := ratelimit.NewLimiter(redisClient.Client, cfg.MinSendInterval())
	window := classify.NewWindow(redisClient.Client)
	locker := lock.NewLocker(redisClient.Client)

	manager := delivery.NewManager(attemptRepo, cfg.MaxDeliveryAttempts)
	dispatcher := dispatch.NewDispatcher(registry, limiter, window, manager, outboundRepo, broker)

	convService := service.NewConversationService(convRepo)
	interceptMiddleware := intercept.NewMiddleware(convRepo)
	notificationService := service.NewNotificationService(
		convService, interceptMiddleware, dispatcher, cfg.GracePeriod(),
	)

	gamificationService := service.NewGamificationService(redisClient)

	engine := flow.NewEngine(
		convRepo,
		profileRepo,
		flow.NewGraphCache(flowRepo),
		service.NewJobMatchingService(catalogRepo),
		service.NewSchedulingService(catalogRepo),
		gamificationService,
		service.NewEmailRelayService(cfg.EmailRelayURL, providerClient),
	)

	metaSignatureMiddleware := middleware.NewMetaSignatureMiddleware(map[string]string{
		"whatsapp":  cfg.WhatsAppAppSecret,
		"messenger": cfg.MessengerAppSecret,
		"instagram": cfg.MessengerAppSecret,
	})
	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(0)

	webhookHandler := handler.NewWebhookHandler(
		registry, convService, window, interceptMiddleware, locker,
		engine, dispatcher, cfg.WebhookVerifyTokens, cfg.WebhookVerifyToken,
	)
	notifyHandler := handler.NewNotifyHandler(notificationService)
	monitorHandler := handler.NewMonitorHandler(convService, outboundRepo, attemptRepo, broker, gamificationService)
	eventsHandler := handler.NewEventsHandler(broker)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
	r.Use(bodyLimitMiddleware.Handler)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"timestamp": time.Now().UnixMilli(),
		})
	})

	r.Route("/webhooks/{businessUnit}/{channel}", func(r chi.Router) {
		r.Use(metaSignatureMiddleware.Handler)
		r.Get("/", webhookHandler.Verify)
		r.Post("/", webhookHandler.Receive)
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/notifications", notifyHandler.Send)
		r.Get("/stats", monitorHandler.Stats)
		r.Get("/messages/{channel}/{recipientID}", monitorHandler.Messages)
		r.Get("/messages/{messageID}/attempts", monitorHandler.Attempts)
		r.Get("/leaderboard", monitorHandler.Leaderboard)
		r.Get("/events/{businessUnit}", eventsHandler.ServeHTTP)
	})

	cleanupJob := jobs.NewCleanupJob(convRepo, attemptRepo, config.CleanupJobInterval)
	cleanupJob.Start()
	defer cleanupJob.Stop()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

// buildAdapters registers an adapter for every channel with credentials
// configured. Channels without credentials stay unregistered and surface as
// unsupported-channel errors, never as silent drops.
func buildAdapters(cfg *config.Config, client *http.Client) []channel.Adapter {
	var adapters []channel.Adapter

	if cfg.WhatsAppToken != "" && cfg.WhatsAppPhoneID != "" {
		adapters = append(adapters, channel.NewWhatsAppAdapter(cfg.WhatsAppToken, cfg.WhatsAppPhoneID, "", client))
	}
	if cfg.TelegramBotToken != "" {
		adapters = append(adapters, channel.NewTelegramAdapter(cfg.TelegramBotToken, "", client))
	}
	if cfg.MessengerPageToken != "" {
		adapters = append(adapters, channel.NewMessengerAdapter(cfg.MessengerPageToken, "", client))
	}
	if cfg.InstagramPageToken != "" {
		adapters = append(adapters, channel.NewInstagramAdapter(cfg.InstagramPageToken, "", client))
	}

	if len(adapters) == 0 {
		log.Warn().Msg("no channel credentials configured, all webhooks will be rejected")
	}
	return adapters
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
