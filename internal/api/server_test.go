package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dunamismax/artprep/internal/domain"
	"github.com/dunamismax/artprep/internal/execution"
	"github.com/dunamismax/artprep/internal/fetch"
	"github.com/dunamismax/artprep/internal/imaging"
	"github.com/dunamismax/artprep/internal/ratelimit"
	"github.com/dunamismax/artprep/internal/worker"
)

type fakeController struct {
	mu       sync.Mutex
	syncErr  error
	asyncErr error
	uploads  [][]byte
	opts     []domain.StageOptions
	jobs     []domain.Job
}

func (f *fakeController) Sync(_ context.Context, upload []byte, opts domain.StageOptions) (domain.ProcessResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, upload)
	f.opts = append(f.opts, opts)
	if f.syncErr != nil {
		return domain.ProcessResponse{}, f.syncErr
	}
	return domain.ProcessResponse{
		Success: true,
		Results: domain.ProcessResults{
			ProcessedImage: "data:image/png;base64,AAAA",
			OriginalSize:   [2]int{200, 100},
			ProcessedSize:  [2]int{833, 416},
		},
		Metrics:        domain.Timings{domain.TimingTotal: 0.5},
		StepsCompleted: opts.Steps(),
	}, nil
}

func (f *fakeController) Async(_ context.Context, job domain.Job) (domain.AcceptedAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if job.ID == "" || job.CallbackURL == "" {
		return domain.AcceptedAck{}, fmt.Errorf("%w: jobId and webhookUrl are required", execution.ErrInvalidRequest)
	}
	if f.asyncErr != nil {
		return domain.AcceptedAck{}, f.asyncErr
	}
	f.jobs = append(f.jobs, job)
	return domain.AcceptedAck{Success: true, JobID: job.ID}, nil
}

type fakeFetcher struct {
	data []byte
	err  error
	urls []string
}

func (f *fakeFetcher) Fetch(_ context.Context, rawURL string) ([]byte, error) {
	f.urls = append(f.urls, rawURL)
	return f.data, f.err
}

type staticReadiness domain.ServiceStatus

func (s staticReadiness) Ready() domain.ServiceStatus { return domain.ServiceStatus(s) }

type fakeLimiter struct {
	decision ratelimit.Decision
	err      error
	subjects []string
}

func (f *fakeLimiter) Allow(_ context.Context, subject string) (ratelimit.Decision, error) {
	f.subjects = append(f.subjects, subject)
	return f.decision, f.err
}

func newTestServer(t *testing.T, controller *fakeController, fetcher *fakeFetcher, opts ...Option) *Server {
	t.Helper()
	health := staticReadiness{
		BackgroundRemoval: domain.ServiceReady,
		Vectorization:     domain.ServiceUnavailable,
		Upscaling:         domain.ServiceReady,
	}
	return NewServer(log.New(io.Discard, "", 0), Config{Version: "test"}, controller, fetcher, health, opts...)
}

func multipartBody(t *testing.T, fileField string, file []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	if fileField != "" {
		part, err := mw.CreateFormFile(fileField, "art.png")
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := part.Write(file); err != nil {
			t.Fatalf("write form file: %v", err)
		}
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("write field %s: %v", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	return body, mw.FormDataContentType()
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeDetail(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var payload domain.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return payload.Detail
}

func TestHealthReportsServiceReadiness(t *testing.T) {
	s := newTestServer(t, &fakeController{}, &fakeFetcher{})
	s.now = func() time.Time { return time.Unix(1700000000, 500_000_000) }

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var payload domain.HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if payload.Status != "healthy" {
		t.Fatalf("expected healthy, got %q", payload.Status)
	}
	if payload.Timestamp != 1700000000.5 {
		t.Fatalf("unexpected timestamp %v", payload.Timestamp)
	}
	if payload.Services.Vectorization != "unavailable" || payload.Services.Upscaling != "ready" {
		t.Fatalf("unexpected services %+v", payload.Services)
	}
}

func TestRootDescribesService(t *testing.T) {
	s := newTestServer(t, &fakeController{}, &fakeFetcher{})
	rec := serve(s, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"service":"artprep"`) {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}

	rec = serve(s, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown path, got %d", rec.Code)
	}
}

func TestProcessParsesFlags(t *testing.T) {
	controller := &fakeController{}
	s := newTestServer(t, controller, &fakeFetcher{})

	body, contentType := multipartBody(t, "file", []byte("png-bytes"), map[string]string{
		"upscale":           "true",
		"remove_background": "false",
		"vectorize":         "0",
		"target_dpi":        "600",
	})
	req := httptest.NewRequest(http.MethodPost, "/process", body)
	req.Header.Set("Content-Type", contentType)

	rec := serve(s, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}
	if len(controller.opts) != 1 {
		t.Fatalf("expected one sync call, got %d", len(controller.opts))
	}
	got := controller.opts[0]
	want := domain.StageOptions{Upscale: true, RemoveBackground: false, Vectorize: false, TargetDPI: 600}
	if got != want {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
	if string(controller.uploads[0]) != "png-bytes" {
		t.Fatalf("unexpected upload %q", controller.uploads[0])
	}

	var resp domain.ProcessResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success || resp.Results.ProcessedSize != [2]int{833, 416} {
		t.Fatalf("unexpected response %+v", resp)
	}
	if !resp.StepsCompleted.Upscale || resp.StepsCompleted.Vectorize {
		t.Fatalf("unexpected steps %+v", resp.StepsCompleted)
	}
}

func TestProcessDefaultsAndImageField(t *testing.T) {
	controller := &fakeController{}
	s := newTestServer(t, controller, &fakeFetcher{})

	body, contentType := multipartBody(t, "image", []byte("png-bytes"), nil)
	req := httptest.NewRequest(http.MethodPost, "/process", body)
	req.Header.Set("Content-Type", contentType)

	rec := serve(s, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}
	if controller.opts[0] != domain.DefaultStageOptions() {
		t.Fatalf("expected defaults, got %+v", controller.opts[0])
	}
}

func TestProcessRejectsInvalidForm(t *testing.T) {
	cases := []struct {
		name   string
		field  string
		fields map[string]string
	}{
		{name: "missing file", field: ""},
		{name: "bad boolean", field: "file", fields: map[string]string{"upscale": "maybe"}},
		{name: "bad dpi", field: "file", fields: map[string]string{"targetDpi": "lots"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			controller := &fakeController{}
			s := newTestServer(t, controller, &fakeFetcher{})
			body, contentType := multipartBody(t, tc.field, []byte("png-bytes"), tc.fields)
			req := httptest.NewRequest(http.MethodPost, "/process", body)
			req.Header.Set("Content-Type", contentType)

			rec := serve(s, req)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d body=%s", rec.Code, rec.Body.String())
			}
			if len(controller.opts) != 0 {
				t.Fatal("controller must not be called for invalid input")
			}
		})
	}
}

func TestProcessMapsErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{name: "decode", err: fmt.Errorf("%w: unknown format", imaging.ErrDecode), status: http.StatusBadRequest},
		{name: "invalid", err: fmt.Errorf("%w: target dpi", execution.ErrInvalidRequest), status: http.StatusBadRequest},
		{name: "internal", err: errors.New("pipeline panic: boom"), status: http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestServer(t, &fakeController{syncErr: tc.err}, &fakeFetcher{})
			body, contentType := multipartBody(t, "file", []byte("x"), nil)
			req := httptest.NewRequest(http.MethodPost, "/process", body)
			req.Header.Set("Content-Type", contentType)

			rec := serve(s, req)
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rec.Code)
			}
			if detail := decodeDetail(t, rec); detail != tc.err.Error() {
				t.Fatalf("expected detail %q, got %q", tc.err.Error(), detail)
			}
		})
	}
}

func TestProcessRejectsOversizedUpload(t *testing.T) {
	controller := &fakeController{}
	s := NewServer(log.New(io.Discard, "", 0), Config{MaxUploadBytes: 1024}, controller, &fakeFetcher{}, staticReadiness{})

	body, contentType := multipartBody(t, "file", bytes.Repeat([]byte("a"), 4096), nil)
	req := httptest.NewRequest(http.MethodPost, "/process", body)
	req.Header.Set("Content-Type", contentType)

	rec := serve(s, req)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestProcessAsyncAcknowledges(t *testing.T) {
	controller := &fakeController{}
	s := newTestServer(t, controller, &fakeFetcher{})

	body, contentType := multipartBody(t, "file", []byte("png-bytes"), map[string]string{
		"jobId":      "job-1",
		"webhookUrl": "https://example.com/hook",
		"upscale":    "true",
	})
	req := httptest.NewRequest(http.MethodPost, "/process-async", body)
	req.Header.Set("Content-Type", contentType)

	rec := serve(s, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}

	var ack domain.AcceptedAck
	if err := json.Unmarshal(rec.Body.Bytes(), &ack); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if !ack.Success || ack.JobID != "job-1" {
		t.Fatalf("unexpected ack %+v", ack)
	}
	if len(controller.jobs) != 1 {
		t.Fatalf("expected one job, got %d", len(controller.jobs))
	}
	job := controller.jobs[0]
	if job.CallbackURL != "https://example.com/hook" || !job.Options.Upscale || string(job.Source) != "png-bytes" {
		t.Fatalf("unexpected job %+v", job)
	}
}

func TestProcessAsyncErrors(t *testing.T) {
	t.Run("missing fields", func(t *testing.T) {
		s := newTestServer(t, &fakeController{}, &fakeFetcher{})
		body, contentType := multipartBody(t, "file", []byte("x"), map[string]string{"jobId": "job-1"})
		req := httptest.NewRequest(http.MethodPost, "/process-async", body)
		req.Header.Set("Content-Type", contentType)

		rec := serve(s, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("saturated", func(t *testing.T) {
		s := newTestServer(t, &fakeController{asyncErr: worker.ErrPoolSaturated}, &fakeFetcher{})
		body, contentType := multipartBody(t, "file", []byte("x"), map[string]string{
			"jobId":      "job-1",
			"webhookUrl": "https://example.com/hook",
		})
		req := httptest.NewRequest(http.MethodPost, "/process-async", body)
		req.Header.Set("Content-Type", contentType)

		rec := serve(s, req)
		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected 503, got %d", rec.Code)
		}
		if rec.Header().Get("Retry-After") == "" {
			t.Fatal("expected Retry-After header")
		}
	})
}

func TestProcessURL(t *testing.T) {
	t.Run("inline", func(t *testing.T) {
		controller := &fakeController{}
		fetcher := &fakeFetcher{data: []byte("remote-bytes")}
		s := newTestServer(t, controller, fetcher)

		form := strings.NewReader("url=https%3A%2F%2Fcdn.example.com%2Fart.png&vectorize=false")
		req := httptest.NewRequest(http.MethodPost, "/process-url", form)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		rec := serve(s, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d body=%s", rec.Code, rec.Body.String())
		}
		if len(fetcher.urls) != 1 || fetcher.urls[0] != "https://cdn.example.com/art.png" {
			t.Fatalf("unexpected fetched urls %v", fetcher.urls)
		}
		if string(controller.uploads[0]) != "remote-bytes" || controller.opts[0].Vectorize {
			t.Fatalf("unexpected sync call upload=%q opts=%+v", controller.uploads[0], controller.opts[0])
		}
	})

	t.Run("detached", func(t *testing.T) {
		controller := &fakeController{}
		s := newTestServer(t, controller, &fakeFetcher{data: []byte("remote-bytes")})

		body, contentType := multipartBody(t, "", nil, map[string]string{
			"url":        "https://cdn.example.com/art.png",
			"jobId":      "job-9",
			"webhookUrl": "https://example.com/hook",
		})
		req := httptest.NewRequest(http.MethodPost, "/process-url", body)
		req.Header.Set("Content-Type", contentType)

		rec := serve(s, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d body=%s", rec.Code, rec.Body.String())
		}
		if len(controller.jobs) != 1 || controller.jobs[0].ID != "job-9" {
			t.Fatalf("unexpected jobs %+v", controller.jobs)
		}
		if len(controller.uploads) != 0 {
			t.Fatal("detached request must not run inline")
		}
	})

	t.Run("upstream failure", func(t *testing.T) {
		fetcher := &fakeFetcher{err: fmt.Errorf("%w: status=404", fetch.ErrUpstream)}
		s := newTestServer(t, &fakeController{}, fetcher)

		req := httptest.NewRequest(http.MethodPost, "/process-url", strings.NewReader("url=https%3A%2F%2Fcdn.example.com%2Fgone.png"))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		rec := serve(s, req)
		if rec.Code != http.StatusBadGateway {
			t.Fatalf("expected 502, got %d", rec.Code)
		}
	})

	t.Run("invalid url", func(t *testing.T) {
		fetcher := &fakeFetcher{err: fmt.Errorf("%w: scheme ftp", fetch.ErrInvalidURL)}
		s := newTestServer(t, &fakeController{}, fetcher)

		req := httptest.NewRequest(http.MethodPost, "/process-url", strings.NewReader("url=ftp%3A%2F%2Fhost%2Fa.png"))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		rec := serve(s, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
	})
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, &fakeController{}, &fakeFetcher{})
	req := httptest.NewRequest(http.MethodOptions, "/process", nil)
	req.Header.Set("Origin", "https://shop.example.com")

	rec := serve(s, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("expected wildcard origin, got %q", got)
	}
	if !strings.Contains(rec.Header().Get("Access-Control-Allow-Methods"), "POST") {
		t.Fatalf("unexpected methods %q", rec.Header().Get("Access-Control-Allow-Methods"))
	}
}

func TestRateLimitRejectsProcessRequests(t *testing.T) {
	limiter := &fakeLimiter{decision: ratelimit.Decision{Allowed: false, RetryAfter: 2500 * time.Millisecond}}
	controller := &fakeController{}
	s := newTestServer(t, controller, &fakeFetcher{}, WithRateLimiter(limiter))

	body, contentType := multipartBody(t, "file", []byte("x"), nil)
	req := httptest.NewRequest(http.MethodPost, "/process", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Client-ID", "shop-7")

	rec := serve(s, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "3" {
		t.Fatalf("expected Retry-After 3, got %q", rec.Header().Get("Retry-After"))
	}
	if len(limiter.subjects) != 1 || limiter.subjects[0] != "shop-7:/process" {
		t.Fatalf("unexpected subjects %v", limiter.subjects)
	}
	if len(controller.uploads) != 0 {
		t.Fatal("rejected request reached the controller")
	}

	rec = serve(s, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK || len(limiter.subjects) != 1 {
		t.Fatalf("health must bypass the limiter, code=%d subjects=%v", rec.Code, limiter.subjects)
	}
}

func TestRateLimitFailsOpen(t *testing.T) {
	limiter := &fakeLimiter{err: errors.New("redis down")}
	s := newTestServer(t, &fakeController{}, &fakeFetcher{}, WithRateLimiter(limiter))

	body, contentType := multipartBody(t, "file", []byte("x"), nil)
	req := httptest.NewRequest(http.MethodPost, "/process", body)
	req.Header.Set("Content-Type", contentType)

	rec := serve(s, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if limiter.subjects[0] != "192.0.2.1:/process" {
		t.Fatalf("expected remote address subject, got %v", limiter.subjects)
	}
}

func TestRequestIDHeader(t *testing.T) {
	s := newTestServer(t, &fakeController{}, &fakeFetcher{})

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected generated request id")
	}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc")
	rec = serve(s, req)
	if rec.Header().Get("X-Request-ID") != "abc" {
		t.Fatalf("expected propagated request id, got %q", rec.Header().Get("X-Request-ID"))
	}
}

func TestRouteLabel(t *testing.T) {
	cases := map[string]string{
		"/process":       "/process",
		"/process-async": "/process-async",
		"/health":        "/health",
		"/":              "/",
		"/v1/jobs/abc":   "other",
		"/process/extra": "other",
	}
	for path, want := range cases {
		if got := routeLabel(path); got != want {
			t.Fatalf("routeLabel(%q) = %q, want %q", path, got, want)
		}
	}
}
