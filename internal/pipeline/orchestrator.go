package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dunamismax/artprep/internal/capability"
	"github.com/dunamismax/artprep/internal/domain"
	"github.com/dunamismax/artprep/internal/imaging"
)

const tracerName = "github.com/dunamismax/artprep/internal/pipeline"

const (
	pathPrimary  = "primary"
	pathFallback = "fallback"
	pathSkipped  = "skipped"
)

// Outcome is the artifact set of one run. It is serialized and discarded.
type Outcome struct {
	Image         *imaging.Buffer
	OriginalURI   string
	ProcessedURI  string
	Vector        *string
	OriginalSize  [2]int
	ProcessedSize [2]int
	Timings       domain.Timings
	Steps         domain.StepsCompleted
	Degraded      []string
}

func (o Outcome) Response() domain.ProcessResponse {
	return domain.ProcessResponse{
		Success: true,
		Results: domain.ProcessResults{
			Original:        o.OriginalURI,
			ProcessedImage:  o.ProcessedURI,
			ProcessedVector: o.Vector,
			OriginalSize:    o.OriginalSize,
			ProcessedSize:   o.ProcessedSize,
		},
		Metrics:        o.Timings,
		StepsCompleted: o.Steps,
		Degraded:       o.Degraded,
	}
}

// Orchestrator runs the enabled stages in the fixed order upscale,
// background removal, vectorize. Stage failures never escape Run: raster
// stages fall back, the vector stage is skipped.
type Orchestrator struct {
	logger          *log.Logger
	upscaler        capability.Raster
	remover         capability.Raster
	vectorizer      capability.Vector
	tracer          trace.Tracer
	metrics         *Metrics
	includeOriginal bool
}

type Option func(*Orchestrator)

func WithTracer(tracer trace.Tracer) Option {
	return func(o *Orchestrator) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithOriginal controls whether the decoded input is echoed back as a data URI.
func WithOriginal(include bool) Option {
	return func(o *Orchestrator) { o.includeOriginal = include }
}

func NewOrchestrator(logger *log.Logger, upscaler, remover capability.Raster, vectorizer capability.Vector, opts ...Option) (*Orchestrator, error) {
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	if upscaler == nil || remover == nil || vectorizer == nil {
		return nil, errors.New("all three capability adapters are required")
	}

	o := &Orchestrator{
		logger:          logger,
		upscaler:        upscaler,
		remover:         remover,
		vectorizer:      vectorizer,
		tracer:          otel.Tracer(tracerName),
		includeOriginal: true,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Run transforms img according to opts. The only errors are encoding
// failures of the final artifacts.
func (o *Orchestrator) Run(ctx context.Context, img *imaging.Buffer, opts domain.StageOptions) (Outcome, error) {
	start := time.Now()
	if img == nil || img.Pixels == nil {
		return Outcome{}, errors.New("image is required")
	}

	ctx, span := o.tracer.Start(ctx, "pipeline.run")
	defer span.End()
	span.SetAttributes(
		attribute.Bool("artprep.upscale", opts.Upscale),
		attribute.Bool("artprep.remove_background", opts.RemoveBackground),
		attribute.Bool("artprep.vectorize", opts.Vectorize),
		attribute.Int("artprep.width", img.Width()),
		attribute.Int("artprep.height", img.Height()),
	)

	dpi := img.EffectiveDPI()
	printW, printH := imaging.PrintSize(img, dpi)
	o.logger.Printf(
		"pipeline start size=%dx%d dpi=%.0f print=%.2fx%.2fin stages=%s",
		img.Width(), img.Height(), dpi, printW, printH, stageList(opts),
	)

	out := Outcome{
		OriginalSize: img.Size(),
		Timings:      domain.Timings{},
		Steps:        opts.Steps(),
	}
	if o.includeOriginal {
		uri, err := imaging.EncodeDataURI(img, imaging.FormatPNG)
		if err != nil {
			return o.fail(span, fmt.Errorf("encode original image: %w", err))
		}
		out.OriginalURI = uri
	}

	current := img
	if opts.Upscale {
		upscaler := o.upscaler
		if t, ok := upscaler.(capability.Targeted); ok && opts.TargetDPI > 0 {
			upscaler = t.WithTargetDPI(opts.TargetDPI)
		}
		current = o.runRaster(ctx, domain.StageUpscale, upscaler, current, &out)
	}
	if opts.RemoveBackground {
		current = o.runRaster(ctx, domain.StageRemoveBackground, o.remover, current, &out)
	}
	if opts.Vectorize {
		out.Vector = o.runVector(ctx, current, &out)
	}

	uri, err := imaging.EncodeDataURI(current, imaging.FormatPNG)
	if err != nil {
		return o.fail(span, fmt.Errorf("encode processed image: %w", err))
	}
	out.Image = current
	out.ProcessedURI = uri
	out.ProcessedSize = current.Size()

	elapsed := time.Since(start)
	out.Timings.Record(domain.TimingTotal, elapsed)
	o.metrics.observeRun(elapsed, len(out.Degraded) > 0)

	span.SetAttributes(
		attribute.Int("artprep.processed_width", out.ProcessedSize[0]),
		attribute.Int("artprep.processed_height", out.ProcessedSize[1]),
		attribute.StringSlice("artprep.degraded", out.Degraded),
	)
	o.logger.Printf(
		"pipeline done size=%dx%d total=%.2fs degraded=%s",
		out.ProcessedSize[0], out.ProcessedSize[1], out.Timings[domain.TimingTotal], strings.Join(out.Degraded, ","),
	)
	return out, nil
}

func (o *Orchestrator) Ready() domain.ServiceStatus {
	return domain.ServiceStatus{
		BackgroundRemoval: domain.ServiceState(o.remover.Ready()),
		Vectorization:     domain.ServiceState(o.vectorizer.Ready()),
		Upscaling:         domain.ServiceState(o.upscaler.Ready()),
	}
}

func (o *Orchestrator) runRaster(ctx context.Context, stage string, adapter capability.Raster, img *imaging.Buffer, out *Outcome) *imaging.Buffer {
	ctx, span := o.tracer.Start(ctx, "pipeline.stage."+stage)
	defer span.End()

	start := time.Now()
	res := adapter.Apply(ctx, img)
	if res.Status == capability.StatusOK && res.Image == nil {
		res = capability.RasterResult{Status: capability.StatusInferenceFailed, Err: errors.New("adapter returned no image")}
	}

	result, path := res.Image, pathPrimary
	if res.Status != capability.StatusOK {
		path = pathFallback
		o.logger.Printf("warning: stage fallback stage=%s adapter=%s status=%s err=%v", stage, adapter.Name(), res.Status, res.Err)
		span.RecordError(res.Err)
		if result = adapter.Fallback(ctx, img); result == nil {
			result = img
		}
		out.Degraded = append(out.Degraded, stage)
	}

	elapsed := time.Since(start)
	out.Timings.Record(stage, elapsed)
	o.metrics.observeStage(stage, path, elapsed)
	span.SetAttributes(
		attribute.String("artprep.path", path),
		attribute.String("artprep.status", res.Status.String()),
	)
	return result
}

func (o *Orchestrator) runVector(ctx context.Context, img *imaging.Buffer, out *Outcome) *string {
	const stage = domain.StageVectorize

	ctx, span := o.tracer.Start(ctx, "pipeline.stage."+stage)
	defer span.End()

	start := time.Now()
	res := o.vectorizer.Apply(ctx, img)
	elapsed := time.Since(start)
	out.Timings.Record(stage, elapsed)
	span.SetAttributes(attribute.String("artprep.status", res.Status.String()))

	switch res.Status {
	case capability.StatusOK:
		o.metrics.observeStage(stage, pathPrimary, elapsed)
		doc := res.Document
		return &doc
	case capability.StatusUnavailable:
		o.logger.Printf("warning: vectorization disabled, skipping stage stage=%s", stage)
	default:
		o.logger.Printf("warning: stage skipped stage=%s status=%s err=%v", stage, res.Status, res.Err)
		span.RecordError(res.Err)
	}
	o.metrics.observeStage(stage, pathSkipped, elapsed)
	out.Degraded = append(out.Degraded, stage)
	return nil
}

func (o *Orchestrator) fail(span trace.Span, err error) (Outcome, error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return Outcome{}, err
}

func stageList(opts domain.StageOptions) string {
	stages := make([]string, 0, 3)
	if opts.Upscale {
		stages = append(stages, domain.StageUpscale)
	}
	if opts.RemoveBackground {
		stages = append(stages, domain.StageRemoveBackground)
	}
	if opts.Vectorize {
		stages = append(stages, domain.StageVectorize)
	}
	if len(stages) == 0 {
		return "none"
	}
	return strings.Join(stages, ",")
}
