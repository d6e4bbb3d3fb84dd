package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"live-poll-service/internal/app"
	"live-poll-service/internal/config"
	"live-poll-service/internal/infra/amqp"
	"live-poll-service/internal/infra/generator"
	"live-poll-service/internal/infra/memory"
	"live-poll-service/internal/infra/postgres"
	redisstore "live-poll-service/internal/infra/redis"
	"live-poll-service/internal/infra/sqlite"
	"live-poll-service/internal/telemetry"
	transport "live-poll-service/internal/transport/http"
)

const serviceName = "live-poll-service"

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the live poll server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func settingsFromConfig(cfg config.Config) app.Settings {
	settings := app.DefaultSettings()
	if cfg.Session.MaxParticipants > 0 {
		settings.MaxParticipants = cfg.Session.MaxParticipants
	}
	settings.InactivityTimeout = config.TTLDuration(cfg.Session.InactivityTimeout, settings.InactivityTimeout)
	settings.SweepInterval = config.TTLDuration(cfg.Session.SweepInterval, settings.SweepInterval)
	if cfg.Session.SubscriberBuffer > 0 {
		settings.SubscriberBuffer = cfg.Session.SubscriberBuffer
	}
	if cfg.Poll.DefaultTimeLimit > 0 {
		settings.DefaultTimeLimit = cfg.Poll.DefaultTimeLimit
	}
	if cfg.Poll.MaxTimeLimit > 0 {
		settings.MaxTimeLimit = cfg.Poll.MaxTimeLimit
	}
	return settings
}

// newGenerator picks the draft generator: the model behind a fallback when a
// key is configured, canned demo drafts otherwise. cache, if set, wraps the
// model only, so canned drafts served after a failure are never memoized.
func newGenerator(cfg config.Config, logger *slog.Logger, cache func(app.DraftGenerator) app.DraftGenerator) app.DraftGenerator {
	if cfg.OpenAI.APIKey == "" {
		logger.Warn("no OpenAI key configured, serving demo drafts")
		return generator.Demo{}
	}
	var primary app.DraftGenerator = generator.NewOpenAIGenerator(generator.Config{
		APIKey:      cfg.OpenAI.APIKey,
		BaseURL:     cfg.OpenAI.BaseURL,
		Model:       cfg.OpenAI.Model,
		Temperature: cfg.OpenAI.Temperature,
		MaxTokens:   cfg.OpenAI.MaxTokens,
		Timeout:     config.TTLDuration(cfg.OpenAI.Timeout, 30*time.Second),
	})
	if cache != nil {
		primary = cache(primary)
	}
	return generator.NewFallback(primary, logger)
}

func resolvePort(flag string, cfg config.Config) string {
	if flag != "" {
		return flag
	}
	if cfg.Server.Port != "" {
		return cfg.Server.Port
	}
	return "8080"
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, serviceName, cfg.Telemetry.Endpoint)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg, logger); err != nil {
			return err
		}
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}

	var archive app.ArchiveStore
	switch {
	case cfg.Postgres.URL != "":
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
		archive = postgres.NewArchiveStore(pool)
	case cfg.SQLite.Path != "":
		store, err := sqlite.Open(cfg.SQLite.Path)
		if err != nil {
			return err
		}
		defer store.Close()
		archive = store
	}

	var publisher app.ResultsPublisher
	if cfg.AMQP.URL != "" {
		p, err := amqp.Dial(cfg.AMQP.URL, cfg.AMQP.ResultsQueue, cfg.AMQP.SessionsQueue)
		if err != nil {
			return err
		}
		defer p.Close()
		publisher = p
	}

	var recorder *app.AsyncRecorder
	if archive != nil || publisher != nil {
		recorder = app.NewAsyncRecorder(archive, publisher, cfg.Archive.QueueSize, cfg.Archive.Workers, logger)
	}

	cacheTTL := config.TTLDuration(cfg.Drafts.CacheTTL, time.Hour)
	queueTTL := config.TTLDuration(cfg.Drafts.QueueTTL, 12*time.Hour)

	var (
		store  app.SessionRepository
		drafts app.DraftQueue
		cache  func(app.DraftGenerator) app.DraftGenerator
	)
	if redisClient != nil {
		store = redisstore.NewSessionStore(redisClient, config.TTLDuration(cfg.Redis.TTL, 10*time.Minute), uuid.NewString())
		drafts = redisstore.NewDraftQueue(redisClient, queueTTL)
		cache = func(next app.DraftGenerator) app.DraftGenerator {
			return redisstore.NewDraftCache(redisClient, next, cacheTTL)
		}
	} else {
		store = memory.NewSessionStore()
		drafts = memory.NewDraftQueue()
		cache = func(next app.DraftGenerator) app.DraftGenerator {
			return memory.NewDraftCache(next, cacheTTL)
		}
	}
	draftGen := newGenerator(cfg, logger, cache)

	opts := []app.Option{
		app.WithLogger(logger),
		app.WithDrafts(drafts, draftGen),
	}
	if recorder != nil {
		opts = append(opts, app.WithRecorder(recorder))
	}
	if archive != nil {
		opts = append(opts, app.WithHistory(archive))
	}
	service := app.NewLiveService(store, settingsFromConfig(cfg), opts...)

	mux := http.NewServeMux()
	transport.NewAPIHandler(service, logger).Register(mux)
	mux.HandleFunc("/ws", transport.NewWSHandler(service, logger, cfg.Server.AllowedOrigins).ServeWS)

	finalPort := resolvePort(portFlag, cfg)
	server := &http.Server{
		Addr:              ":" + finalPort,
		Handler:           mux,
		ReadHeaderTimeout: 15 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting live poll service", "port", finalPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return service.Run(gctx)
	})
	if recorder != nil {
		g.Go(func() error {
			return recorder.Run(gctx)
		})
	}
	return g.Wait()
}
