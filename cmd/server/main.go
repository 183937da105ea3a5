package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/chanderbawa/AI-Story-Agents/internal/agent"
	"github.com/chanderbawa/AI-Story-Agents/internal/api"
	"github.com/chanderbawa/AI-Story-Agents/internal/broker"
	"github.com/chanderbawa/AI-Story-Agents/internal/config"
	"github.com/chanderbawa/AI-Story-Agents/internal/handlers"
	"github.com/chanderbawa/AI-Story-Agents/internal/models"
	"github.com/chanderbawa/AI-Story-Agents/internal/orchestrator"
	"github.com/chanderbawa/AI-Story-Agents/internal/service"
	"github.com/chanderbawa/AI-Story-Agents/internal/store"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	ctx := context.Background()

	msgLog, err := openMessageLog(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("message log unavailable")
	}

	b, err := broker.New(ctx, cfg.RedisURL, broker.Options{
		Log:            msgLog,
		SubscriberPool: cfg.SubscriberPool,
		Logger:         logger,
	})
	if err != nil {
		msgLog.Close()
		logger.Fatal().Err(err).Msg("broker connection failed")
	}
	defer b.Close()

	var redisClient *redis.Client
	if rb, ok := b.(*broker.RedisBroker); ok {
		redisClient = rb.Client()
		logger.Info().Msg("connected to Redis")
	} else {
		logger.Info().Msg("using in-memory broker")
	}

	base := handlers.NewHandler(b, msgLog, logger)

	var services []*service.Service
	var servers []*http.Server

	for _, w := range workersFor(cfg, logger) {
		svc := service.New(w.worker.Name(), w.worker, b, logger)
		if err := svc.Start(ctx); err != nil {
			logger.Fatal().Err(err).Str("agent", w.worker.Name()).Msg("service failed to start")
		}
		services = append(services, svc)

		router := api.NewAgentRouter(logger, redisClient, handlers.NewAgentHandler(base, svc))
		servers = append(servers, newServer(w.port, router, 15*time.Second))
	}

	if cfg.Runs(config.RoleOrchestrator) {
		orch := orchestrator.New(b, orchestrator.Config{PendingTTL: cfg.PendingTTL}, logger)
		if err := orch.Start(ctx); err != nil {
			logger.Fatal().Err(err).Msg("orchestrator failed to start")
		}

		if err := orch.Watch(); err != nil {
			logger.Warn().Err(err).Msg("orchestrator subscription failed")
		}

		router := api.NewOrchestratorRouter(logger, redisClient, handlers.NewStoryHandler(base, orch, cfg.StoryTimeout))
		// Story requests block until the pipeline finishes.
		servers = append(servers, newServer(cfg.Port, router, cfg.StoryTimeout+15*time.Second))
	}

	for _, srv := range servers {
		go func(srv *http.Server) {
			logger.Info().
				Str("addr", srv.Addr).
				Str("env", cfg.Env).
				Str("role", cfg.Role).
				Msg("starting story server")

			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Fatal().Err(err).Str("addr", srv.Addr).Msg("server failed to start")
			}
		}(srv)
	}

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Str("addr", srv.Addr).Msg("server forced to shutdown")
		}
	}
	for _, svc := range services {
		if err := svc.Stop(); err != nil {
			logger.Warn().Err(err).Str("agent", svc.Name()).Msg("service did not stop cleanly")
		}
	}

	logger.Info().Msg("stopped")
}

type hostedWorker struct {
	worker agent.Worker
	port   string
}

// workersFor builds the workers this process hosts for its role.
func workersFor(cfg *config.Config, logger zerolog.Logger) []hostedWorker {
	var out []hostedWorker
	if cfg.Runs(config.RoleAuthor) {
		out = append(out, hostedWorker{
			worker: agent.NewAuthor(models.ParticipantAuthor, logger),
			port:   cfg.AuthorPort,
		})
	}
	if cfg.Runs(config.RoleIllustrator) {
		out = append(out, hostedWorker{
			worker: agent.NewIllustrator(models.ParticipantIllustrator, cfg.IllustrationsDir(), logger),
			port:   cfg.IllustratorPort,
		})
	}
	if cfg.Runs(config.RolePublisher) {
		out = append(out, hostedWorker{
			worker: agent.NewPublisher(models.ParticipantPublisher, cfg.PublicationsDir(), cfg.PublishFormats, logger),
			port:   cfg.PublisherPort,
		})
	}
	return out
}

// openMessageLog picks Postgres, then SQLite, then JSON files.
func openMessageLog(ctx context.Context, cfg *config.Config) (store.MessageLog, error) {
	switch {
	case cfg.DatabaseURL != "":
		return store.NewPostgresLog(ctx, cfg.DatabaseURL)
	case cfg.SQLitePath != "":
		return store.NewSQLiteLog(ctx, cfg.SQLitePath)
	default:
		return store.NewFileLog(cfg.MessageLogDir)
	}
}

func newServer(port string, handler http.Handler, writeTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:         ":" + port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}
}
