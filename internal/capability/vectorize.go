package capability

import (
	"context"
	"errors"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/dunamismax/artprep/internal/imaging"
)

const NameVectorization = "vectorization"

type VectorizerConfig struct {
	// Mode is passed through to the tracer service (e.g. "spline", "polygon").
	Mode         string
	ProbeTimeout time.Duration
}

// Vectorizer traces a raster into an SVG document. It has no fallback; when
// the service is not reachable at startup the stage stays disabled until the
// process restarts.
type Vectorizer struct {
	client *InferenceClient
	ready  bool
	cfg    VectorizerConfig
}

var _ Vector = (*Vectorizer)(nil)

func NewVectorizer(ctx context.Context, logger *log.Logger, client *InferenceClient, cfg VectorizerConfig) *Vectorizer {
	if strings.TrimSpace(cfg.Mode) == "" {
		cfg.Mode = "spline"
	}
	return &Vectorizer{
		client: client,
		ready:  resolveReady(ctx, NameVectorization, client, cfg.ProbeTimeout, logger),
		cfg:    cfg,
	}
}

func (v *Vectorizer) Name() string { return NameVectorization }

func (v *Vectorizer) Ready() bool { return v.ready }

func (v *Vectorizer) Apply(ctx context.Context, img *imaging.Buffer) VectorResult {
	if !v.ready {
		return vectorUnavailable(NameVectorization)
	}

	payload, err := imaging.EncodePNG(img)
	if err != nil {
		return vectorFailed(NameVectorization, err)
	}
	body, err := v.client.Infer(ctx, payload, "image/png", url.Values{"mode": {v.cfg.Mode}})
	if err != nil {
		return vectorFailed(NameVectorization, err)
	}

	doc := strings.TrimSpace(string(body))
	if !strings.Contains(strings.ToLower(doc), "<svg") {
		return vectorFailed(NameVectorization, errors.New("response is not an svg document"))
	}
	return VectorResult{Document: doc, Status: StatusOK}
}
