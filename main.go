package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/aurelia-health/scribe-engine/pkg/config"
	"github.com/aurelia-health/scribe-engine/pkg/database"
	"github.com/aurelia-health/scribe-engine/pkg/handlers"
	"github.com/aurelia-health/scribe-engine/pkg/jobs"
	"github.com/aurelia-health/scribe-engine/pkg/llm"
	"github.com/aurelia-health/scribe-engine/pkg/logging"
	"github.com/aurelia-health/scribe-engine/pkg/middleware"
	"github.com/aurelia-health/scribe-engine/pkg/redaction"
	"github.com/aurelia-health/scribe-engine/pkg/repositories"
	"github.com/aurelia-health/scribe-engine/pkg/services"
	"github.com/aurelia-health/scribe-engine/pkg/storage"
	"github.com/aurelia-health/scribe-engine/pkg/transcription"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("version", cfg.Version),
		zap.Bool("auth_verification", cfg.Auth.EnableVerification),
		zap.String("database", logging.SanitizeConnectionString(cfg.Database.URL())),
		zap.String("llm_provider", cfg.LLM.Provider),
		zap.String("llm_model", cfg.LLM.Model))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("scribe-engine exited with error", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	// Database + migrations. Migrations use database/sql via the pgx stdlib
	// driver; the application itself uses the pgx pool.
	migrationDB, err := sql.Open("pgx", cfg.Database.URL())
	if err != nil {
		return err
	}
	if err := database.RunMigrations(migrationDB, cfg.Database.MigrationsPath, logger); err != nil {
		_ = migrationDB.Close()
		return err
	}
	_ = migrationDB.Close()

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.URL(),
		MaxConnections: cfg.Database.MaxConnections,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	redisClient, err := database.NewRedisClient(ctx, &cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient == nil {
		return errors.New("redis is required for the job queue; set REDIS_HOST")
	}
	defer func() { _ = redisClient.Close() }()

	// Repositories
	encounters := repositories.NewEncounterRepository(db)
	transcripts := repositories.NewTranscriptRepository(db)
	notes := repositories.NewSOAPNoteRepository(db)
	metrics := repositories.NewQualityMetricsRepository(db)

	// Collaborators
	store, err := storage.NewLocalStore(cfg.Storage.AudioDir)
	if err != nil {
		return err
	}
	transcriber, err := transcription.NewClient(&transcription.Config{
		BaseURL:      cfg.Transcription.BaseURL,
		APIKey:       cfg.Transcription.APIKey,
		PollInterval: cfg.Transcription.PollInterval,
		Timeout:      cfg.Transcription.Timeout,
	}, logger)
	if err != nil {
		return err
	}
	redactor, err := redaction.NewEngine(logger)
	if err != nil {
		return err
	}
	llmClient, err := llm.NewClient(&llm.Config{
		Provider:    cfg.LLM.Provider,
		Endpoint:    cfg.LLM.Endpoint,
		Model:       cfg.LLM.Model,
		APIKey:      cfg.LLM.APIKey,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
	}, logger)
	if err != nil {
		return err
	}
	generator := services.NewSOAPGenerator(llmClient, logger)

	// Pipeline + workers
	pipeline := services.NewPipeline(
		encounters, transcripts, notes, metrics,
		store, transcriber, redactor, generator, logger)

	queue := jobs.NewRedisQueue(redisClient)
	// Jobs in flight when the previous process died are still on the
	// processing list; put them back before workers start popping.
	reclaimed, err := queue.Reclaim(ctx)
	if err != nil {
		return err
	}
	if reclaimed > 0 {
		logger.Info("reclaimed orphaned jobs", zap.Int("count", reclaimed))
	}
	workers := jobs.NewWorkerPool(queue, pipeline, &cfg.Pipeline, logger)
	workers.Start(ctx)

	// HTTP surface: health endpoints are open, the API requires auth.
	apiMux := http.NewServeMux()
	encounterHandler := handlers.NewEncounterHandler(
		encounters, transcripts, notes, store, queue, &cfg.Storage, logger)
	encounterHandler.RegisterRoutes(apiMux)

	mux := http.NewServeMux()
	healthHandler := handlers.NewHealthHandler(cfg, logger)
	healthHandler.RegisterRoutes(mux)
	mux.Handle("/api/", middleware.Auth(&cfg.Auth, logger)(apiMux))

	server := &http.Server{
		Addr:              cfg.BindAddr + ":" + cfg.Port,
		Handler:           middleware.RequestLogger(logger)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting scribe-engine",
			zap.String("addr", server.Addr),
			zap.String("version", cfg.Version))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown incomplete", zap.Error(err))
	}

	// Workers observe ctx cancellation; wait for in-flight jobs to settle.
	workers.Wait()
	logger.Info("shutdown complete")
	return nil
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "local" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
