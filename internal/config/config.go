package config

import (
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
)

const (
	DetachedBackendPool  = "pool"
	DetachedBackendQueue = "queue"
)

type Config struct {
	API          APIConfig
	Pipeline     PipelineConfig
	Capabilities CapabilitiesConfig
	Detached     DetachedConfig
	Webhook      WebhookConfig
	Fetch        FetchConfig
	Queue        QueueConfig
	Worker       WorkerConfig
	Storage      StorageConfig
	Database     DatabaseConfig
	RateLimit    RateLimitConfig
	Telemetry    TelemetryConfig
}

type APIConfig struct {
	Addr            string
	MaxUploadBytes  int64
	CORSOrigin      string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type PipelineConfig struct {
	TargetDPI           float64
	MaxDimension        int
	SegmentationSize    int
	BrightnessThreshold int
	VectorMode          string
	IncludeOriginal     bool
}

type EndpointConfig struct {
	URL     string
	Token   string
	Timeout time.Duration
}

type CapabilitiesConfig struct {
	Upscaler     EndpointConfig
	Segmenter    EndpointConfig
	Vectorizer   EndpointConfig
	ProbeTimeout time.Duration
}

type DetachedConfig struct {
	Backend  string
	Workers  int
	Backlog  int
	DrainFor time.Duration
}

type WebhookConfig struct {
	Timeout       time.Duration
	SigningSecret string
}

type FetchConfig struct {
	Timeout  time.Duration
	MaxBytes int64
}

type QueueConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Name          string
	TaskTimeout   time.Duration
}

func (q QueueConfig) RedisClientOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     q.RedisAddr,
		Password: q.RedisPassword,
		DB:       q.RedisDB,
	}
}

type WorkerConfig struct {
	Concurrency int
	MetricsAddr string
}

type StorageConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type DatabaseConfig struct {
	DSN string
	// MemoryJournalSize bounds the in-process journal used when DSN is empty.
	MemoryJournalSize int
}

type RateLimitConfig struct {
	Enabled  bool
	Requests int
	Window   time.Duration
	Header   string
}

type TelemetryConfig struct {
	ServiceName  string
	Environment  string
	Exporter     string
	OTLPEndpoint string
	OTLPInsecure bool
	SampleRatio  float64
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present; real environment variables win.
func Load() Config {
	_ = godotenv.Load()

	cpus := runtime.NumCPU()

	return Config{
		API: APIConfig{
			Addr:            env("ARTPREP_API_ADDR", ":8000"),
			MaxUploadBytes:  envInt64("ARTPREP_MAX_UPLOAD_BYTES", 50<<20),
			CORSOrigin:      env("ARTPREP_CORS_ORIGIN", "*"),
			ReadTimeout:     envDuration("ARTPREP_READ_TIMEOUT", 60*time.Second),
			WriteTimeout:    envDuration("ARTPREP_WRITE_TIMEOUT", 10*time.Minute),
			ShutdownTimeout: envDuration("ARTPREP_SHUTDOWN_TIMEOUT", 2*time.Minute),
		},
		Pipeline: PipelineConfig{
			TargetDPI:           envFloat("ARTPREP_TARGET_DPI", 300),
			MaxDimension:        envInt("ARTPREP_MAX_DIMENSION", 4096),
			SegmentationSize:    envInt("ARTPREP_SEGMENTATION_SIZE", 1024),
			BrightnessThreshold: envInt("ARTPREP_BRIGHTNESS_THRESHOLD", 240),
			VectorMode:          env("ARTPREP_VECTOR_MODE", "spline"),
			IncludeOriginal:     envBool("ARTPREP_INCLUDE_ORIGINAL", true),
		},
		Capabilities: CapabilitiesConfig{
			Upscaler:     endpoint("ARTPREP_UPSCALER"),
			Segmenter:    endpoint("ARTPREP_SEGMENTER"),
			Vectorizer:   endpoint("ARTPREP_VECTORIZER"),
			ProbeTimeout: envDuration("ARTPREP_PROBE_TIMEOUT", 5*time.Second),
		},
		Detached: DetachedConfig{
			Backend:  strings.ToLower(env("ARTPREP_DETACHED_BACKEND", DetachedBackendPool)),
			Workers:  envInt("ARTPREP_DETACHED_WORKERS", max(2, cpus/2)),
			Backlog:  envInt("ARTPREP_DETACHED_BACKLOG", 64),
			DrainFor: envDuration("ARTPREP_DETACHED_DRAIN_TIMEOUT", 5*time.Minute),
		},
		Webhook: WebhookConfig{
			Timeout:       envDuration("ARTPREP_WEBHOOK_TIMEOUT", 30*time.Second),
			SigningSecret: env("ARTPREP_WEBHOOK_SECRET", ""),
		},
		Fetch: FetchConfig{
			Timeout:  envDuration("ARTPREP_FETCH_TIMEOUT", 30*time.Second),
			MaxBytes: envInt64("ARTPREP_FETCH_MAX_BYTES", 50<<20),
		},
		Queue: QueueConfig{
			RedisAddr:     env("REDIS_ADDR", "localhost:6379"),
			RedisPassword: env("REDIS_PASSWORD", ""),
			RedisDB:       envInt("REDIS_DB", 0),
			Name:          env("ASYNC_QUEUE", "artprep"),
			TaskTimeout:   envDuration("ASYNC_TASK_TIMEOUT", 15*time.Minute),
		},
		Worker: WorkerConfig{
			Concurrency: envInt("WORKER_CONCURRENCY", max(1, cpus/2)),
			MetricsAddr: env("WORKER_METRICS_ADDR", ":9091"),
		},
		Storage: StorageConfig{
			Endpoint:  env("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey: env("MINIO_ACCESS_KEY", "minioadmin"),
			SecretKey: env("MINIO_SECRET_KEY", "minioadmin"),
			Bucket:    env("MINIO_BUCKET", "artprep-uploads"),
			UseSSL:    envBool("MINIO_USE_SSL", false),
		},
		Database: DatabaseConfig{
			DSN:               env("POSTGRES_DSN", ""),
			MemoryJournalSize: envInt("ARTPREP_MEMORY_JOURNAL_SIZE", 1024),
		},
		RateLimit: RateLimitConfig{
			Enabled:  envBool("ARTPREP_RATE_LIMIT_ENABLED", false),
			Requests: envInt("ARTPREP_RATE_LIMIT_REQUESTS", 30),
			Window:   envDuration("ARTPREP_RATE_LIMIT_WINDOW", time.Minute),
			Header:   env("ARTPREP_RATE_LIMIT_HEADER", "X-Client-ID"),
		},
		Telemetry: TelemetryConfig{
			ServiceName:  env("OTEL_SERVICE_NAME", "artprep"),
			Environment:  env("ARTPREP_ENV", "development"),
			Exporter:     env("OTEL_TRACES_EXPORTER", "none"),
			OTLPEndpoint: env("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			OTLPInsecure: envBool("OTEL_EXPORTER_OTLP_INSECURE", true),
			SampleRatio:  envFloat("OTEL_TRACES_SAMPLER_ARG", 1),
		},
	}
}

func endpoint(prefix string) EndpointConfig {
	return EndpointConfig{
		URL:     env(prefix+"_URL", ""),
		Token:   env(prefix+"_TOKEN", ""),
		Timeout: envDuration(prefix+"_TIMEOUT", 2*time.Minute),
	}
}

func env(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	return value
}

func envInt(key string, fallback int) int {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envInt64(key string, fallback int64) int64 {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envFloat(key string, fallback float64) float64 {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(key string, fallback bool) bool {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envDuration(key string, fallback time.Duration) time.Duration {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
