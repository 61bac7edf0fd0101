package capability

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"strconv"
	"time"

	"github.com/dunamismax/artprep/internal/imaging"
)

const NameUpscale = "upscaling"

type UpscalerConfig struct {
	TargetDPI    float64
	MaxDimension int
	ModelScale   int
	ProbeTimeout time.Duration
}

// Upscaler raises an image to the target print resolution. It never
// downscales.
type Upscaler struct {
	client *InferenceClient
	ready  bool
	cfg    UpscalerConfig
	logger *log.Logger
}

var (
	_ Raster   = (*Upscaler)(nil)
	_ Targeted = (*Upscaler)(nil)
)

func NewUpscaler(ctx context.Context, logger *log.Logger, client *InferenceClient, cfg UpscalerConfig) *Upscaler {
	if cfg.TargetDPI <= 0 {
		cfg.TargetDPI = 300
	}
	if cfg.MaxDimension <= 0 {
		cfg.MaxDimension = 4096
	}
	if cfg.ModelScale <= 0 {
		cfg.ModelScale = 4
	}
	return &Upscaler{
		client: client,
		ready:  resolveReady(ctx, NameUpscale, client, cfg.ProbeTimeout, logger),
		cfg:    cfg,
		logger: logger,
	}
}

func (u *Upscaler) Name() string { return NameUpscale }

func (u *Upscaler) Ready() bool { return u.ready }

func (u *Upscaler) TargetDPI() float64 { return u.cfg.TargetDPI }

func (u *Upscaler) WithTargetDPI(dpi float64) Raster {
	if dpi <= 0 || dpi == u.cfg.TargetDPI {
		return u
	}
	clone := *u
	clone.cfg.TargetDPI = dpi
	return &clone
}

func (u *Upscaler) Apply(ctx context.Context, img *imaging.Buffer) RasterResult {
	p := u.plan(img)
	if !p.Needed {
		return rasterOK(img)
	}
	if p.Clamped {
		u.logger.Printf(
			"warning: limiting upscale requested=%dx%d size=%dx%d factor=%.2f max=%d",
			p.RequestedWidth, p.RequestedHeight, p.Width, p.Height, p.Factor, u.cfg.MaxDimension,
		)
	}
	w, h := p.Width, p.Height
	if !u.ready {
		return rasterUnavailable(NameUpscale)
	}

	source, err := imaging.EncodePNG(img)
	if err != nil {
		return rasterFailed(NameUpscale, err)
	}
	params := url.Values{
		"scale":  {strconv.Itoa(u.cfg.ModelScale)},
		"width":  {strconv.Itoa(w)},
		"height": {strconv.Itoa(h)},
	}
	body, err := u.client.Infer(ctx, source, "image/png", params)
	if err != nil {
		return rasterFailed(NameUpscale, err)
	}

	out, err := imaging.Decode(body)
	if err != nil {
		return rasterFailed(NameUpscale, fmt.Errorf("model output: %w", err))
	}
	if out.Width() != w || out.Height() != h {
		out = imaging.Resize(out, w, h)
	}
	if img.Layout == imaging.LayoutRGB {
		out.ToRGB()
	}
	out.DPI = u.cfg.TargetDPI
	return rasterOK(out)
}

// Fallback resamples to the planned dimensions.
func (u *Upscaler) Fallback(_ context.Context, img *imaging.Buffer) *imaging.Buffer {
	p := u.plan(img)
	if !p.Needed {
		return img
	}
	out := imaging.Resize(img, p.Width, p.Height)
	out.DPI = u.cfg.TargetDPI
	return out
}

func (u *Upscaler) plan(img *imaging.Buffer) UpscalePlan {
	return PlanUpscale(img.Width(), img.Height(), img.EffectiveDPI(), u.cfg.TargetDPI, u.cfg.MaxDimension)
}

type UpscalePlan struct {
	Width   int
	Height  int
	Factor  float64
	Needed  bool
	Clamped bool
	// RequestedWidth and RequestedHeight are the DPI-scaled dimensions before
	// the maximum is applied.
	RequestedWidth  int
	RequestedHeight int
}

// PlanUpscale computes output dimensions for a DPI change. Dimensions are
// truncated. When either side would exceed maxDim, the longer side is pinned
// to maxDim and the other scaled by the same ratio, even if that leaves the
// result smaller than the input. A factor of 1 or less is a no-op.
func PlanUpscale(width, height int, currentDPI, targetDPI float64, maxDim int) UpscalePlan {
	if currentDPI <= 0 {
		currentDPI = imaging.DefaultDPI
	}
	factor := targetDPI / currentDPI
	plan := UpscalePlan{Width: width, Height: height, Factor: factor}
	if factor <= 1.0 || width <= 0 || height <= 0 {
		return plan
	}

	newW := int(float64(width) * factor)
	newH := int(float64(height) * factor)
	plan.RequestedWidth, plan.RequestedHeight = newW, newH

	if maxDim > 0 && (newW > maxDim || newH > maxDim) {
		if newW >= newH {
			newW, newH = maxDim, max(1, int(int64(newH)*int64(maxDim)/int64(newW)))
		} else {
			newW, newH = max(1, int(int64(newW)*int64(maxDim)/int64(newH))), maxDim
		}
		plan.Width, plan.Height, plan.Needed, plan.Clamped = newW, newH, true, true
		return plan
	}
	if newW <= width && newH <= height {
		return plan
	}

	plan.Width, plan.Height, plan.Needed = newW, newH, true
	return plan
}
