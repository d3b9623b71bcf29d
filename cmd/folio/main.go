package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"folio/internal/archive"
	"folio/internal/config"
	"folio/internal/db"
	"folio/internal/expire"
	"folio/internal/expire/expirepg"
	"folio/internal/logger"
	"folio/internal/server"
	"folio/internal/storage"
	"folio/internal/uploads"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	// .env is a development convenience; production sets real env vars.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logger.New("server", "info").Fatal().Err(err).Msg("invalid configuration")
	}

	log := logger.New("server", cfg.LogLevel)

	// Database and schema for the expiration task store.
	dbConn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer func() { _ = dbConn.Close() }()

	log.Info().Msg("running migrations")
	if err := db.RunMigrations(dbConn); err != nil {
		log.Fatal().Err(err).Msg("migrations failed")
	}

	// File storage rooted at the uploads directory.
	files, err := storage.NewOSStore(cfg.UploadsDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open storage root")
	}

	// Optional archive target for expiring files.
	var archiver expire.Archiver
	if cfg.Archive.Enabled() {
		a, err := archive.New(context.Background(), cfg.Archive)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to init archive storage")
		}
		archiver = a
		log.Info().Str("bucket", cfg.Archive.Bucket).Msg("archive-on-expire enabled")
	}

	metrics := server.NewMetrics()
	taskStore := expirepg.New(dbConn)
	scheduler := expire.NewScheduler(taskStore, expire.SystemClock, log.With("scheduler"))
	worker := expire.NewWorker(taskStore, files, archiver, expire.SystemClock, metrics,
		logger.New("worker", cfg.LogLevel), expire.WorkerConfig{
			PollInterval:    cfg.Scheduler.PollInterval,
			ActivityTimeout: cfg.Scheduler.ActivityTimeout,
			MaxAttempts:     cfg.Scheduler.MaxAttempts,
			ClaimLimit:      cfg.Scheduler.ClaimLimit,
		})

	coordinator := uploads.NewCoordinator(files,
		uploads.NewIDGenerator(cfg.IDLength), scheduler, log.With("uploads"))

	srv := server.New(server.Config{
		Addr:        cfg.Addr,
		Build:       server.BuildInfo{Version: version, Commit: commit},
		Files:       files,
		Uploads:     coordinator,
		DB:          dbConn,
		DefaultTTL:  cfg.DefaultTTL,
		CORSOrigins: cfg.CORSOrigins,
		WebFS:       webFS(cfg.WebDir, log),
		Log:         log,
		Metrics:     metrics,
	})

	// The worker loop runs until shutdown cancels its context.
	workerCtx, stopWorker := context.WithCancel(context.Background())
	go worker.Run(workerCtx)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Str("version", version).Str("commit", commit).Msg("starting")
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
		stopWorker()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("shutdown error")
			os.Exit(1)
		}
		log.Info().Msg("shutdown complete")
	case err := <-errCh:
		stopWorker()
		if err != nil {
			log.Fatal().Err(err).Msg("server error")
		}
	}
}

// webFS returns the static frontend filesystem, or nil when the directory is
// not present (API-only deployments).
func webFS(dir string, log *logger.Logger) http.FileSystem {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		log.Info().Str("dir", dir).Msg("web assets directory not found, static serving disabled")
		return nil
	}
	return http.Dir(dir)
}
