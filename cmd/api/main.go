package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"

	"wabroadcast/internal/config"
	"wabroadcast/internal/delivery"
	"wabroadcast/internal/dispatch"
	"wabroadcast/internal/handler"
	"wabroadcast/internal/logging"
	"wabroadcast/internal/provider"
	"wabroadcast/internal/queue"
	"wabroadcast/internal/ratelimit"
	"wabroadcast/internal/reconciler"
	"wabroadcast/internal/repository"
	"wabroadcast/internal/service"
)

const version = "1.0.0"

func main() {
	// Load .env file (ignore error in production)
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		// logger config is not known yet
		boot := logging.New(config.LogConfig{Level: "info", Console: true}, "api")
		boot.Fatal().Err(err).Msg("failed to load config")
	}

	log := logging.New(cfg.Log, "api")

	db, err := sql.Open("postgres", cfg.GetDatabaseDSN())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	log.Info().Str("host", cfg.Database.Host).Msg("connected to database")

	// Repositories
	contactRepo := repository.NewContactRepository(db)
	templateRepo := repository.NewTemplateRepository(db)
	campaignRepo := repository.NewCampaignRepository(db)
	messageRepo := repository.NewMessageRepository(db)

	// Provider, limiter and state machine
	p, err := provider.New(cfg.Provider, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build provider")
	}
	limiter, err := ratelimit.New(cfg.Dispatch.RatePerSecond, cfg.Dispatch.Burst)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid rate limit")
	}
	machine := delivery.NewMachine(messageRepo, log)
	templateSvc := service.NewTemplateService()

	// The API only uses the dispatcher for one-off test sends
	dispatcher := dispatch.NewDispatcher(
		dispatch.Repositories{
			Campaigns: campaignRepo,
			Templates: templateRepo,
			Contacts:  contactRepo,
			Messages:  messageRepo,
		},
		machine, p, limiter, templateSvc,
		dispatch.NewConfig(cfg.Dispatch, cfg.Provider.Timeout),
		log,
	)

	conn, err := queue.NewConnection(context.Background(), cfg.GetRabbitMQURL(), "wabroadcast-api", log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to rabbitmq")
	}
	defer conn.Close()

	publisher, err := queue.NewPublisher(conn, cfg.RabbitMQ.Queue)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create publisher")
	}
	defer publisher.Close()

	// Services
	campaignSvc := service.NewCampaignService(
		campaignRepo, contactRepo, templateRepo, messageRepo,
		templateSvc, publisher, dispatcher, log,
	)
	contactSvc := service.NewContactService(contactRepo)
	catalog := service.NewTemplateCatalog(templateRepo, templateSvc)
	healthSvc := service.NewHealthService(db, conn.Probe, p.Name(), cfg.Dispatch.DryRun, version)

	var verifier provider.SubscriptionVerifier
	if v, ok := p.(provider.SubscriptionVerifier); ok {
		verifier = v
	}
	rec := reconciler.New(p, messageRepo, contactRepo, machine, log)

	router := handler.NewRouter(handler.Handlers{
		Campaigns: handler.NewCampaignHandler(campaignSvc),
		Contacts:  handler.NewContactHandler(contactSvc),
		Templates: handler.NewTemplateHandler(catalog),
		Preview:   handler.NewPreviewHandler(campaignSvc),
		Webhook:   handler.NewWebhookHandler(rec, verifier, cfg.Webhook.MaxUnmatchedRetries),
		Health:    handler.NewHealthHandler(healthSvc),
	}, log)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().
			Str("addr", srv.Addr).
			Str("provider", p.Name()).
			Bool("dry_run", cfg.Dispatch.DryRun).
			Str("env", cfg.Env).
			Msg("api server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	waitForShutdown(srv, log)
}

func waitForShutdown(srv *http.Server, log zerolog.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
	log.Info().Msg("api server stopped")
}
