// Package main is the entry point for the uploadplane API server.
// Besides the HTTP API it hosts the checksum daemon for re-checksum requests.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"uploadplane/internal/app"
	"uploadplane/internal/config"
	"uploadplane/internal/controller"
	"uploadplane/internal/controller/handlers"
	"uploadplane/internal/logger"
	"uploadplane/internal/observability"
	"uploadplane/internal/store/postgres"
)

func main() {
	migrateFlag := flag.Bool("migrate", false, "Run database migrations before starting")
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logr := logger.New(cfg.LogLevel)

	ctx := context.Background()
	store, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer store.Close()

	if *migrateFlag {
		logr.Info("running database migrations")
		if err := postgres.Migrate(store.DB()); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
		logr.Info("migrations completed")
	}

	shutdownTracer, err := observability.InitTracer(ctx, "uploadplane-api", cfg.OTELEndpoint)
	if err != nil {
		log.Fatalf("Failed to init tracing: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logr.Error("failed to shutdown tracer", "error", err)
		}
	}()

	metricsHandler, shutdownMetrics, err := observability.InitMetrics(ctx, "uploadplane-api")
	if err != nil {
		log.Fatalf("Failed to init metrics: %v", err)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			logr.Error("failed to shutdown metrics", "error", err)
		}
	}()

	objects, err := app.OpenStorage(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to create storage client: %v", err)
	}
	backend, err := app.OpenBackend(ctx, cfg, store, logr)
	if err != nil {
		log.Fatalf("Failed to create batch backend: %v", err)
	}
	notifier, closeNotifier, err := app.OpenNotifier(cfg, logr)
	if err != nil {
		log.Fatalf("Failed to connect to ingest: %v", err)
	}
	defer closeNotifier()

	checksums, err := app.NewDaemon(cfg, store, objects, backend, notifier, logr)
	if err != nil {
		log.Fatalf("Failed to create checksum daemon: %v", err)
	}

	deps := handlers.Dependencies{
		Store:       store,
		Objects:     objects,
		Validations: app.NewValidationScheduler(cfg, store, backend, logr),
		Checksums:   checksums,
		Notifier:    notifier,
		Bucket:      cfg.BucketName,
		Logger:      logr,
	}
	opts := controller.Options{
		APIKeys:        cfg.APIKeys,
		InternalKey:    cfg.InternalKey,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	}
	if len(opts.APIKeys) == 0 {
		logr.Warn("no API keys configured, every authenticated route will answer 401")
	}

	addr := fmt.Sprintf(":%d", cfg.HTTPPort)
	srv := controller.New(addr, deps, opts, metricsHandler)

	go func() {
		logr.Info("uploadplane API starting", "addr", addr, "stage", cfg.DeploymentStage)
		if err := srv.Run(ctx); err != nil {
			logr.Error("server stopped", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logr.Info("shutting down API")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}
	logr.Info("server exited properly")
}
