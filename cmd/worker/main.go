package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dunamismax/artprep/internal/bootstrap"
	"github.com/dunamismax/artprep/internal/config"
	"github.com/dunamismax/artprep/internal/imaging"
	"github.com/dunamismax/artprep/internal/storage"
	"github.com/dunamismax/artprep/internal/telemetry"
	"github.com/dunamismax/artprep/internal/webhook"
	"github.com/dunamismax/artprep/internal/worker"
)

var version = "dev"

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[worker] ", log.LstdFlags|log.Lmsgprefix)

	if err := run(cfg, logger); err != nil {
		logger.Fatalf("worker failed: %v", err)
	}
}

func run(cfg config.Config, logger *log.Logger) error {
	ctx := context.Background()

	if err := imaging.Startup(); err != nil {
		return fmt.Errorf("start imaging runtime: %w", err)
	}
	defer imaging.Shutdown()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		Component:      "worker",
		Environment:    cfg.Telemetry.Environment,
		Exporter:       cfg.Telemetry.Exporter,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure:   cfg.Telemetry.OTLPInsecure,
		SampleRatio:    cfg.Telemetry.SampleRatio,
	}, logger)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Printf("tracing shutdown error: %v", err)
		}
	}()

	registry := telemetry.NewRegistry()

	orchestrator, err := bootstrap.Orchestrator(ctx, logger, cfg, registry)
	if err != nil {
		return err
	}

	journal, closeJournal, err := bootstrap.Journal(ctx, logger, cfg.Database, bootstrap.FallbackNone)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeJournal(); err != nil {
			logger.Printf("job journal close error: %v", err)
		}
	}()

	staging, err := storage.NewClient(storage.Config{
		Endpoint: cfg.Storage.Endpoint,
		Access:   cfg.Storage.AccessKey,
		Secret:   cfg.Storage.SecretKey,
		Bucket:   cfg.Storage.Bucket,
		UseSSL:   cfg.Storage.UseSSL,
	})
	if err != nil {
		return fmt.Errorf("create storage client: %w", err)
	}

	callbacks := webhook.NewClient(webhook.Config{
		SigningSecret: cfg.Webhook.SigningSecret,
		Timeout:       cfg.Webhook.Timeout,
	})
	runner := worker.NewRunner(logger, worker.BackendQueue, orchestrator, callbacks, journal, worker.NewMetrics(registry))

	srv, err := worker.NewServer(logger, cfg.Queue, cfg.Worker, staging, runner)
	if err != nil {
		return err
	}

	metricsServer := &http.Server{
		Addr:              cfg.Worker.MetricsAddr,
		Handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Printf("metrics listening on %s", cfg.Worker.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("metrics server failed: %v", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	logger.Printf(
		"starting worker concurrency=%d queue=%s redis=%s bucket=%s",
		cfg.Worker.Concurrency,
		cfg.Queue.Name,
		cfg.Queue.RedisAddr,
		staging.Bucket(),
	)
	return srv.Run()
}
