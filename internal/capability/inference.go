package capability

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const maxInferenceResponseBytes = 256 << 20

type EndpointConfig struct {
	URL     string
	Token   string
	Timeout time.Duration
}

// InferenceClient talks to a model server exposing GET /health and
// POST /infer. The model is considered loaded when /health answers 2xx.
type InferenceClient struct {
	endpoint   string
	token      string
	httpClient *http.Client
}

func NewInferenceClient(cfg EndpointConfig) *InferenceClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &InferenceClient{
		endpoint: strings.TrimRight(strings.TrimSpace(cfg.URL), "/"),
		token:    strings.TrimSpace(cfg.Token),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *InferenceClient) Configured() bool {
	return c != nil && c.endpoint != ""
}

func (c *InferenceClient) Probe(ctx context.Context) error {
	if !c.Configured() {
		return errors.New("endpoint is not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/health", nil)
	if err != nil {
		return fmt.Errorf("build probe request: %w", err)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("probe %s: %w", c.endpoint, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("probe %s returned status=%d", c.endpoint, resp.StatusCode)
	}
	return nil
}

func (c *InferenceClient) Infer(ctx context.Context, payload []byte, contentType string, params url.Values) ([]byte, error) {
	if !c.Configured() {
		return nil, errors.New("endpoint is not configured")
	}

	target := c.endpoint + "/infer"
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build inference request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", c.endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxInferenceResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read inference response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("inference returned status=%d body=%q", resp.StatusCode, snippet(body))
	}
	if len(body) == 0 {
		return nil, errors.New("inference returned an empty body")
	}
	return body, nil
}

func (c *InferenceClient) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// resolveReady probes the endpoint once. Adapters keep the answer for the
// process lifetime.
func resolveReady(ctx context.Context, name string, client *InferenceClient, probeTimeout time.Duration, logger *log.Logger) bool {
	if !client.Configured() {
		logger.Printf("warning: capability unavailable name=%s reason=no endpoint configured", name)
		return false
	}
	if probeTimeout <= 0 {
		probeTimeout = 5 * time.Second
	}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	if err := client.Probe(probeCtx); err != nil {
		logger.Printf("warning: capability unavailable name=%s err=%v", name, err)
		return false
	}

	logger.Printf("capability ready name=%s endpoint=%s", name, client.endpoint)
	return true
}

func snippet(body []byte) string {
	const limit = 200
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}
