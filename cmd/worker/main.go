package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"wabroadcast/internal/config"
	"wabroadcast/internal/delivery"
	"wabroadcast/internal/dispatch"
	"wabroadcast/internal/logging"
	"wabroadcast/internal/provider"
	"wabroadcast/internal/queue"
	"wabroadcast/internal/ratelimit"
	"wabroadcast/internal/repository"
	"wabroadcast/internal/service"
)

func main() {
	// Load .env file (ignore error in production)
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		boot := logging.New(config.LogConfig{Level: "info", Console: true}, "worker")
		boot.Fatal().Err(err).Msg("failed to load config")
	}

	log := logging.New(cfg.Log, "worker")

	db, err := sql.Open("postgres", cfg.GetDatabaseDSN())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	log.Info().Msg("connected to database")

	repos := dispatch.Repositories{
		Campaigns: repository.NewCampaignRepository(db),
		Templates: repository.NewTemplateRepository(db),
		Contacts:  repository.NewContactRepository(db),
		Messages:  repository.NewMessageRepository(db),
	}

	p, err := provider.New(cfg.Provider, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build provider")
	}

	// One limiter for the whole process: every campaign shares the provider quota
	limiter, err := ratelimit.New(cfg.Dispatch.RatePerSecond, cfg.Dispatch.Burst)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid rate limit")
	}

	dispatcher := dispatch.NewDispatcher(
		repos,
		delivery.NewMachine(repos.Messages, log),
		p, limiter, service.NewTemplateService(),
		dispatch.NewConfig(cfg.Dispatch, cfg.Provider.Timeout),
		log,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner := dispatch.NewRunner(ctx, dispatcher, repos.Campaigns, log)

	conn, err := queue.NewConnection(ctx, cfg.GetRabbitMQURL(), "wabroadcast-worker", log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to rabbitmq")
	}
	defer conn.Close()

	consumer, err := queue.NewConsumer(conn, cfg.RabbitMQ.Queue, jobHandler(runner, log), log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create consumer")
	}
	if err := consumer.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start consumer")
	}

	// Pick up campaigns left running by a previous process
	if _, err := runner.ResumeRunning(ctx); err != nil {
		log.Error().Err(err).Msg("failed to resume running campaigns")
	}

	sweeper := cron.New()
	if _, err := sweeper.AddFunc(cfg.Worker.SweepSchedule, func() {
		if _, err := runner.ResumeRunning(ctx); err != nil {
			log.Error().Err(err).Msg("sweep failed")
		}
	}); err != nil {
		log.Fatal().Err(err).Str("schedule", cfg.Worker.SweepSchedule).Msg("invalid sweep schedule")
	}
	sweeper.Start()

	log.Info().
		Str("queue", cfg.RabbitMQ.Queue).
		Str("provider", p.Name()).
		Float64("rate_per_second", cfg.Dispatch.RatePerSecond).
		Bool("dry_run", cfg.Dispatch.DryRun).
		Msg("worker started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("shutting down")

	<-sweeper.Stop().Done()
	if err := consumer.Stop(); err != nil {
		log.Error().Err(err).Msg("error stopping consumer")
	}
	runner.Stop()
	cancel()

	log.Info().Msg("worker stopped")
}

// jobHandler hands a published campaign to the runner. A job for a
// campaign that already has a worker is acknowledged and dropped.
func jobHandler(runner *dispatch.Runner, log zerolog.Logger) queue.JobHandler {
	return func(ctx context.Context, job *queue.CampaignJob) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !runner.Start(job.CampaignID) {
			log.Debug().Int("campaign_id", job.CampaignID).Msg("campaign already dispatching")
			return nil
		}
		log.Info().Int("campaign_id", job.CampaignID).Str("job_id", job.JobID).Msg("campaign dispatch started")
		return nil
	}
}
