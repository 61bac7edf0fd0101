package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/dunamismax/artprep/internal/domain"
	"github.com/dunamismax/artprep/internal/execution"
	"github.com/dunamismax/artprep/internal/fetch"
	"github.com/dunamismax/artprep/internal/imaging"
	"github.com/dunamismax/artprep/internal/worker"
)

const ServiceName = "artprep"

type processor interface {
	Sync(ctx context.Context, upload []byte, opts domain.StageOptions) (domain.ProcessResponse, error)
	Async(ctx context.Context, job domain.Job) (domain.AcceptedAck, error)
}

type imageFetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

type readiness interface {
	Ready() domain.ServiceStatus
}

type Config struct {
	Version         string
	MaxUploadBytes  int64
	CORSOrigin      string
	RateLimitHeader string
}

type Server struct {
	logger      *log.Logger
	cfg         Config
	controller  processor
	fetcher     imageFetcher
	health      readiness
	rateLimiter RateLimiter
	metrics     *metrics
	tracer      trace.Tracer
	mux         *http.ServeMux
	now         func() time.Time
}

type Option func(*Server)

func WithRateLimiter(l RateLimiter) Option {
	return func(s *Server) { s.rateLimiter = l }
}

// WithRegistry registers the HTTP metrics on reg and serves reg on /metrics.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) { s.metrics = newMetrics(reg) }
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Server) { s.tracer = t }
}

func NewServer(logger *log.Logger, cfg Config, controller processor, fetcher imageFetcher, health readiness, opts ...Option) *Server {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 50 << 20
	}
	if strings.TrimSpace(cfg.CORSOrigin) == "" {
		cfg.CORSOrigin = "*"
	}
	if strings.TrimSpace(cfg.RateLimitHeader) == "" {
		cfg.RateLimitHeader = "X-Client-ID"
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}

	s := &Server{
		logger:     logger,
		cfg:        cfg,
		controller: controller,
		fetcher:    fetcher,
		health:     health,
		tracer:     otel.Tracer("github.com/dunamismax/artprep/internal/api"),
		mux:        http.NewServeMux(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = newMetrics(prometheus.NewRegistry())
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.withCORS(s.metrics.withHTTPMetrics(s.withTracing(s.withRateLimit(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /{$}", s.handleRoot)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /process", s.handleProcess)
	s.mux.HandleFunc("POST /process-async", s.handleProcessAsync)
	s.mux.HandleFunc("POST /process-url", s.handleProcessURL)
	s.mux.Handle("GET /metrics", s.metrics.metricsHandler())
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": ServiceName,
		"version": s.cfg.Version,
		"status":  "running",
		"endpoints": map[string]string{
			"health":        "GET /health",
			"process":       "POST /process",
			"process_async": "POST /process-async",
			"process_url":   "POST /process-url",
			"metrics":       "GET /metrics",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	now := s.now()
	writeJSON(w, http.StatusOK, domain.HealthResponse{
		Status:    domain.HealthStatusHealthy,
		Timestamp: float64(now.UnixNano()) / float64(time.Second),
		Services:  s.health.Ready(),
	})
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	upload, err := s.readUpload(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	opts, err := parseStageOptions(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp, err := s.controller.Sync(r.Context(), upload, opts)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleProcessAsync(w http.ResponseWriter, r *http.Request) {
	upload, err := s.readUpload(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.dispatch(w, r, upload)
}

// handleProcessURL fetches the image and then behaves like /process, or like
// /process-async when both jobId and webhookUrl are supplied.
func (s *Server) handleProcessURL(w http.ResponseWriter, r *http.Request) {
	if err := s.parseForm(w, r); err != nil {
		s.writeError(w, r, err)
		return
	}
	opts, err := parseStageOptions(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	source, err := s.fetcher.Fetch(r.Context(), r.FormValue("url"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if formValue(r, "jobId", "job_id") != "" || formValue(r, "webhookUrl", "webhook_url") != "" {
		s.dispatch(w, r, source)
		return
	}

	resp, err := s.controller.Sync(r.Context(), source, opts)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, source []byte) {
	opts, err := parseStageOptions(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	ack, err := s.controller.Async(r.Context(), domain.Job{
		ID:          formValue(r, "jobId", "job_id"),
		CallbackURL: formValue(r, "webhookUrl", "webhook_url"),
		Source:      source,
		Options:     opts,
		AcceptedAt:  s.now().UTC(),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.metrics.jobsAccepted.Inc()
	writeJSON(w, http.StatusOK, ack)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Printf("request failed method=%s path=%s status=%d err=%v", r.Method, r.URL.Path, status, err)
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "5")
	}
	writeJSON(w, status, domain.ErrorResponse{Detail: err.Error()})
}

func statusFor(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, errBadForm),
		errors.Is(err, imaging.ErrDecode),
		errors.Is(err, execution.ErrInvalidRequest),
		errors.Is(err, fetch.ErrInvalidURL):
		return http.StatusBadRequest
	case errors.Is(err, fetch.ErrUpstream):
		return http.StatusBadGateway
	case errors.Is(err, worker.ErrPoolSaturated), errors.Is(err, worker.ErrPoolClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
