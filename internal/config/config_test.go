package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ARTPREP_TARGET_DPI", "")
	t.Setenv("ARTPREP_DETACHED_BACKEND", "")
	t.Setenv("ARTPREP_FETCH_TIMEOUT", "")

	cfg := Load()
	if cfg.Pipeline.TargetDPI != 300 {
		t.Fatalf("expected target dpi 300, got %v", cfg.Pipeline.TargetDPI)
	}
	if cfg.Pipeline.MaxDimension != 4096 || cfg.Pipeline.SegmentationSize != 1024 || cfg.Pipeline.BrightnessThreshold != 240 {
		t.Fatalf("unexpected pipeline defaults %+v", cfg.Pipeline)
	}
	if cfg.Detached.Backend != DetachedBackendPool {
		t.Fatalf("expected pool backend, got %s", cfg.Detached.Backend)
	}
	if cfg.Fetch.Timeout != 30*time.Second {
		t.Fatalf("expected 30s fetch timeout, got %s", cfg.Fetch.Timeout)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ARTPREP_TARGET_DPI", "600")
	t.Setenv("ARTPREP_DETACHED_BACKEND", "Queue")
	t.Setenv("ARTPREP_UPSCALER_URL", "http://models:9000/realesrgan")
	t.Setenv("ARTPREP_UPSCALER_TIMEOUT", "90s")
	t.Setenv("ARTPREP_RATE_LIMIT_ENABLED", "true")

	cfg := Load()
	if cfg.Pipeline.TargetDPI != 600 {
		t.Fatalf("expected 600, got %v", cfg.Pipeline.TargetDPI)
	}
	if cfg.Detached.Backend != DetachedBackendQueue {
		t.Fatalf("expected queue backend, got %s", cfg.Detached.Backend)
	}
	if cfg.Capabilities.Upscaler.URL != "http://models:9000/realesrgan" || cfg.Capabilities.Upscaler.Timeout != 90*time.Second {
		t.Fatalf("unexpected upscaler endpoint %+v", cfg.Capabilities.Upscaler)
	}
	if !cfg.RateLimit.Enabled {
		t.Fatal("expected rate limiting enabled")
	}
}

func TestMalformedValuesFallBack(t *testing.T) {
	t.Setenv("ARTPREP_MAX_DIMENSION", "huge")
	t.Setenv("ARTPREP_WEBHOOK_TIMEOUT", "soon")

	cfg := Load()
	if cfg.Pipeline.MaxDimension != 4096 {
		t.Fatalf("expected fallback 4096, got %d", cfg.Pipeline.MaxDimension)
	}
	if cfg.Webhook.Timeout != 30*time.Second {
		t.Fatalf("expected fallback 30s, got %s", cfg.Webhook.Timeout)
	}
}

func TestLoadTelemetry(t *testing.T) {
	t.Setenv("ARTPREP_ENV", "production")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "0.1")

	cfg := Load()
	if cfg.Telemetry.Environment != "production" {
		t.Fatalf("expected production, got %q", cfg.Telemetry.Environment)
	}
	if cfg.Telemetry.SampleRatio != 0.1 {
		t.Fatalf("expected sample ratio 0.1, got %v", cfg.Telemetry.SampleRatio)
	}
}
