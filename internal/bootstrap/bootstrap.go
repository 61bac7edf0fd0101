// Package bootstrap assembles the components shared by the api and worker
// binaries.
package bootstrap

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"

	"github.com/dunamismax/artprep/internal/capability"
	"github.com/dunamismax/artprep/internal/config"
	"github.com/dunamismax/artprep/internal/pipeline"
	"github.com/dunamismax/artprep/internal/store"
)

// Orchestrator probes the three model endpoints once and returns a pipeline
// wired to the resulting adapters.
func Orchestrator(ctx context.Context, logger *log.Logger, cfg config.Config, reg prometheus.Registerer) (*pipeline.Orchestrator, error) {
	caps := cfg.Capabilities

	upscaler := capability.NewUpscaler(ctx, logger, capability.NewInferenceClient(endpoint(caps.Upscaler)), capability.UpscalerConfig{
		TargetDPI:    cfg.Pipeline.TargetDPI,
		MaxDimension: cfg.Pipeline.MaxDimension,
		ProbeTimeout: caps.ProbeTimeout,
	})
	remover := capability.NewBackgroundRemover(ctx, logger, capability.NewInferenceClient(endpoint(caps.Segmenter)), capability.BackgroundConfig{
		InputSize:    cfg.Pipeline.SegmentationSize,
		Threshold:    clampThreshold(cfg.Pipeline.BrightnessThreshold),
		ProbeTimeout: caps.ProbeTimeout,
	})
	vectorizer := capability.NewVectorizer(ctx, logger, capability.NewInferenceClient(endpoint(caps.Vectorizer)), capability.VectorizerConfig{
		Mode:         cfg.Pipeline.VectorMode,
		ProbeTimeout: caps.ProbeTimeout,
	})

	return pipeline.NewOrchestrator(logger, upscaler, remover, vectorizer,
		pipeline.WithTracer(otel.Tracer("github.com/dunamismax/artprep/internal/pipeline")),
		pipeline.WithMetrics(pipeline.NewMetrics(reg)),
		pipeline.WithOriginal(cfg.Pipeline.IncludeOriginal),
	)
}

// Fallback selects the journal used when no Postgres DSN is configured.
type Fallback int

const (
	// FallbackMemory keeps a bounded in-process journal. The api binary uses
	// it because it creates the records it later updates.
	FallbackMemory Fallback = iota
	// FallbackNone disables journaling. A queue worker never sees the
	// api's in-process records, so updating a local journal would only fail.
	FallbackNone
)

// Journal opens the Postgres job journal when a DSN is configured and uses
// fallback otherwise. A nil store means journaling is off. The returned close
// func is never nil.
func Journal(ctx context.Context, logger *log.Logger, cfg config.DatabaseConfig, fallback Fallback) (store.JobStore, func() error, error) {
	noop := func() error { return nil }
	if strings.TrimSpace(cfg.DSN) == "" {
		if fallback == FallbackNone {
			logger.Printf("job journal disabled reason=no POSTGRES_DSN")
			return nil, noop, nil
		}
		logger.Printf("job journal backend=memory capacity=%d", cfg.MemoryJournalSize)
		return store.NewMemoryJobStore(cfg.MemoryJournalSize), noop, nil
	}

	pg, err := store.NewPostgresJobStore(ctx, cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open job journal: %w", err)
	}
	if err := pg.EnsureSchema(ctx); err != nil {
		_ = pg.Close()
		return nil, nil, fmt.Errorf("ensure job journal schema: %w", err)
	}
	logger.Printf("job journal backend=postgres")
	return pg, pg.Close, nil
}

func endpoint(cfg config.EndpointConfig) capability.EndpointConfig {
	return capability.EndpointConfig{
		URL:     cfg.URL,
		Token:   cfg.Token,
		Timeout: cfg.Timeout,
	}
}

func clampThreshold(v int) uint8 {
	return uint8(min(max(v, 0), 255))
}
