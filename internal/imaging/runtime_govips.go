//go:build govips && cgo

package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"sync"

	"github.com/davidbyttow/govips/v2/vips"
)

var (
	startupOnce sync.Once
	shutdownMu  sync.Mutex
	started     bool
)

var defaultScaler scaler = govipsScaler{}

func Startup() error {
	startupOnce.Do(func() {
		vips.LoggingSettings(nil, vips.LogLevelWarning)
		vips.Startup(&vips.Config{
			MaxCacheFiles: 0,
			MaxCacheMem:   128 * 1024 * 1024,
			MaxCacheSize:  100,
		})

		shutdownMu.Lock()
		started = true
		shutdownMu.Unlock()
	})
	return nil
}

func Shutdown() {
	shutdownMu.Lock()
	defer shutdownMu.Unlock()
	if !started {
		return
	}
	vips.Shutdown()
	started = false
}

func Kernel() string {
	return "lanczos3"
}

// govipsScaler resizes with libvips Lanczos3 and drops to the pure-Go kernel
// whenever libvips rejects the input, so callers never see an error.
type govipsScaler struct{}

func (s govipsScaler) scaleNRGBA(src *image.NRGBA, w, h int) *image.NRGBA {
	out, err := vipsScale(src, w, h)
	if err != nil {
		return catmullRomScaler{}.scaleNRGBA(src, w, h)
	}
	return toNRGBA(out)
}

func (s govipsScaler) scaleGray(src *image.Gray, w, h int) *image.Gray {
	out, err := vipsScale(src, w, h)
	if err != nil {
		return catmullRomScaler{}.scaleGray(src, w, h)
	}
	if g, ok := out.(*image.Gray); ok && g.Rect.Dx() == w && g.Rect.Dy() == h {
		return g
	}
	return catmullRomScaler{}.scaleGray(src, w, h)
}

func vipsScale(src image.Image, w, h int) (image.Image, error) {
	var buf bytes.Buffer
	if err := (&png.Encoder{CompressionLevel: png.NoCompression}).Encode(&buf, src); err != nil {
		return nil, fmt.Errorf("stage png for vips: %w", err)
	}

	ref, err := vips.NewImageFromBuffer(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("load vips image: %w", err)
	}
	defer ref.Close()

	hscale := float64(w) / float64(ref.Width())
	vscale := float64(h) / float64(ref.Height())
	if err := ref.ResizeWithVScale(hscale, vscale, vips.KernelLanczos3); err != nil {
		return nil, fmt.Errorf("resize image: %w", err)
	}
	if ref.Width() != w || ref.Height() != h {
		return nil, fmt.Errorf("vips produced %dx%d, want %dx%d", ref.Width(), ref.Height(), w, h)
	}

	data, _, err := ref.ExportPng(vips.NewPngExportParams())
	if err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode vips output: %w", err)
	}
	return img, nil
}
