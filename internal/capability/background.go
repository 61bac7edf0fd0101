package capability

import (
	"context"
	"fmt"
	"image"
	"log"
	"net/url"
	"strconv"
	"time"

	"github.com/dunamismax/artprep/internal/imaging"
)

const NameBackgroundRemoval = "background_removal"

type BackgroundConfig struct {
	// InputSize is the square resolution the segmentation model expects.
	InputSize int
	// Threshold is the brightness above which the fallback treats a pixel as
	// background on all three channels.
	Threshold    uint8
	ProbeTimeout time.Duration
}

type BackgroundRemover struct {
	client *InferenceClient
	ready  bool
	cfg    BackgroundConfig
	logger *log.Logger
}

var _ Raster = (*BackgroundRemover)(nil)

func NewBackgroundRemover(ctx context.Context, logger *log.Logger, client *InferenceClient, cfg BackgroundConfig) *BackgroundRemover {
	if cfg.InputSize <= 0 {
		cfg.InputSize = 1024
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = 240
	}
	return &BackgroundRemover{
		client: client,
		ready:  resolveReady(ctx, NameBackgroundRemoval, client, cfg.ProbeTimeout, logger),
		cfg:    cfg,
		logger: logger,
	}
}

func (r *BackgroundRemover) Name() string { return NameBackgroundRemoval }

func (r *BackgroundRemover) Ready() bool { return r.ready }

// Apply segments the subject and writes the probability mask as alpha.
func (r *BackgroundRemover) Apply(ctx context.Context, img *imaging.Buffer) RasterResult {
	if !r.ready {
		return rasterUnavailable(NameBackgroundRemoval)
	}

	size := r.cfg.InputSize
	modelInput := imaging.Resize(img, size, size).ToRGB()
	payload, err := imaging.EncodePNG(modelInput)
	if err != nil {
		return rasterFailed(NameBackgroundRemoval, err)
	}

	body, err := r.client.Infer(ctx, payload, "image/png", url.Values{"size": {strconv.Itoa(size)}})
	if err != nil {
		return rasterFailed(NameBackgroundRemoval, err)
	}
	mask, err := imaging.DecodeMask(body)
	if err != nil {
		return rasterFailed(NameBackgroundRemoval, err)
	}
	if mask.Rect.Dx() == 0 || mask.Rect.Dy() == 0 {
		return rasterFailed(NameBackgroundRemoval, fmt.Errorf("empty mask"))
	}

	mask = imaging.ResizeGray(mask, img.Width(), img.Height())
	return rasterOK(applyMask(img, mask))
}

// Fallback makes near-white pixels transparent and everything else opaque.
// It is a best-effort heuristic and does poorly on non-white backgrounds.
func (r *BackgroundRemover) Fallback(_ context.Context, img *imaging.Buffer) *imaging.Buffer {
	return ThresholdAlpha(img, r.cfg.Threshold)
}

// ThresholdAlpha returns an RGBA copy where pixels with R, G and B all above
// threshold get alpha 0 and all others alpha 255.
func ThresholdAlpha(img *imaging.Buffer, threshold uint8) *imaging.Buffer {
	out := img.Clone()
	out.Layout = imaging.LayoutRGBA
	pix := out.Pixels.Pix
	for i := 0; i+3 < len(pix); i += 4 {
		if pix[i] > threshold && pix[i+1] > threshold && pix[i+2] > threshold {
			pix[i+3] = 0
		} else {
			pix[i+3] = 0xff
		}
	}
	return out
}

func applyMask(img *imaging.Buffer, mask *image.Gray) *imaging.Buffer {
	out := img.Clone()
	out.Layout = imaging.LayoutRGBA
	w, h := out.Width(), out.Height()
	for y := 0; y < h; y++ {
		row := out.Pixels.Pix[y*out.Pixels.Stride:]
		maskRow := mask.Pix[y*mask.Stride:]
		for x := 0; x < w; x++ {
			row[x*4+3] = maskRow[x]
		}
	}
	return out
}
