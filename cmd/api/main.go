package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/dunamismax/artprep/internal/api"
	"github.com/dunamismax/artprep/internal/bootstrap"
	"github.com/dunamismax/artprep/internal/config"
	"github.com/dunamismax/artprep/internal/execution"
	"github.com/dunamismax/artprep/internal/fetch"
	"github.com/dunamismax/artprep/internal/imaging"
	"github.com/dunamismax/artprep/internal/queue"
	"github.com/dunamismax/artprep/internal/ratelimit"
	"github.com/dunamismax/artprep/internal/storage"
	"github.com/dunamismax/artprep/internal/telemetry"
	"github.com/dunamismax/artprep/internal/webhook"
	"github.com/dunamismax/artprep/internal/worker"
)

var version = "dev"

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[api] ", log.LstdFlags|log.Lmsgprefix)

	if err := run(cfg, logger); err != nil {
		logger.Fatalf("api failed: %v", err)
	}
}

func run(cfg config.Config, logger *log.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := imaging.Startup(); err != nil {
		return fmt.Errorf("start imaging runtime: %w", err)
	}
	defer imaging.Shutdown()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		Component:      "api",
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

	journal, closeJournal, err := bootstrap.Journal(ctx, logger, cfg.Database, bootstrap.FallbackMemory)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeJournal(); err != nil {
			logger.Printf("job journal close error: %v", err)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)

	var (
		dispatcher execution.Dispatcher
		pool       *worker.Pool
	)
	switch cfg.Detached.Backend {
	case config.DetachedBackendQueue:
		queueClient := queue.NewClient(cfg.Queue.RedisClientOpt(), cfg.Queue.Name, cfg.Queue.TaskTimeout)
		defer func() {
			if err := queueClient.Close(); err != nil {
				logger.Printf("queue client close error: %v", err)
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
		if err := staging.EnsureBucket(ctx); err != nil {
			return fmt.Errorf("ensure staging bucket: %w", err)
		}

		dispatcher = queue.NewDispatcher(logger, queueClient, staging)
		logger.Printf("detached backend=queue queue=%s redis=%s", cfg.Queue.Name, cfg.Queue.RedisAddr)
	case config.DetachedBackendPool:
		metrics := worker.NewMetrics(registry)
		callbacks := webhook.NewClient(webhook.Config{
			SigningSecret: cfg.Webhook.SigningSecret,
			Timeout:       cfg.Webhook.Timeout,
		})
		runner := worker.NewRunner(logger, worker.BackendPool, orchestrator, callbacks, journal, metrics)

		pool = worker.NewPool(logger, cfg.Detached.Workers, cfg.Detached.Backlog, runner.Run, metrics)
		pool.Start(gctx)
		dispatcher = pool
		logger.Printf("detached backend=pool workers=%d backlog=%d", cfg.Detached.Workers, cfg.Detached.Backlog)
	default:
		return fmt.Errorf("unsupported detached backend: %s", cfg.Detached.Backend)
	}

	opts := []api.Option{
		api.WithRegistry(registry),
		api.WithTracer(otel.Tracer("github.com/dunamismax/artprep/internal/api")),
	}
	if cfg.RateLimit.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Queue.RedisAddr,
			Password: cfg.Queue.RedisPassword,
			DB:       cfg.Queue.RedisDB,
		})
		defer redisClient.Close()

		limiter, err := ratelimit.NewTokenBucket(redisClient, ratelimit.Config{
			Capacity: cfg.RateLimit.Requests,
			Window:   cfg.RateLimit.Window,
		})
		if err != nil {
			return fmt.Errorf("create rate limiter: %w", err)
		}
		opts = append(opts, api.WithRateLimiter(limiter))
		logger.Printf("rate limiting enabled requests=%d window=%s header=%s", cfg.RateLimit.Requests, cfg.RateLimit.Window, cfg.RateLimit.Header)
	}

	controller := execution.NewController(logger, orchestrator, dispatcher, journal)
	fetcher := fetch.NewFetcher(fetch.Config{
		Timeout:  cfg.Fetch.Timeout,
		MaxBytes: cfg.Fetch.MaxBytes,
	})
	app := api.NewServer(logger, api.Config{
		Version:         version,
		MaxUploadBytes:  cfg.API.MaxUploadBytes,
		CORSOrigin:      cfg.API.CORSOrigin,
		RateLimitHeader: cfg.RateLimit.Header,
	}, controller, fetcher, orchestrator, opts...)

	httpServer := &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      app.Handler(),
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	g.Go(func() error {
		logger.Printf("listening on %s version=%s", cfg.API.Addr, version)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Println("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.API.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Printf("graceful shutdown failed: %v", err)
		}

		if pool != nil {
			drainCtx, cancelDrain := context.WithTimeout(context.Background(), cfg.Detached.DrainFor)
			defer cancelDrain()
			if err := pool.Shutdown(drainCtx); err != nil {
				logger.Printf("warning: detached jobs abandoned err=%v", err)
			}
		}
		return nil
	})

	return g.Wait()
}
