// Package capability wraps the AI-backed transformations behind a uniform
// apply/fallback contract. Adapters are constructed once at process start and
// are safe for concurrent use: they hold no per-call state.
package capability

import (
	"context"
	"errors"
	"fmt"

	"github.com/dunamismax/artprep/internal/imaging"
)

var (
	ErrUnavailable = errors.New("capability unavailable")
	ErrInference   = errors.New("inference failed")
)

type Status int

const (
	StatusOK Status = iota
	StatusUnavailable
	StatusInferenceFailed
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusUnavailable:
		return "unavailable"
	case StatusInferenceFailed:
		return "inference_failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// RasterResult is the tagged outcome of a raster-producing Apply call.
type RasterResult struct {
	Image  *imaging.Buffer
	Status Status
	Err    error
}

// VectorResult is the tagged outcome of a vectorization call.
type VectorResult struct {
	Document string
	Status   Status
	Err      error
}

type Raster interface {
	Name() string
	Ready() bool
	Apply(ctx context.Context, img *imaging.Buffer) RasterResult
	// Fallback is the deterministic non-ML path. It cannot fail.
	Fallback(ctx context.Context, img *imaging.Buffer) *imaging.Buffer
}

type Vector interface {
	Name() string
	Ready() bool
	Apply(ctx context.Context, img *imaging.Buffer) VectorResult
}

// Targeted is implemented by adapters whose output resolution can be chosen
// per run. The returned adapter shares all read-only state with the receiver.
type Targeted interface {
	WithTargetDPI(dpi float64) Raster
}

func rasterOK(img *imaging.Buffer) RasterResult {
	return RasterResult{Image: img, Status: StatusOK}
}

func rasterUnavailable(name string) RasterResult {
	return RasterResult{Status: StatusUnavailable, Err: fmt.Errorf("%s: %w", name, ErrUnavailable)}
}

func rasterFailed(name string, err error) RasterResult {
	return RasterResult{Status: StatusInferenceFailed, Err: fmt.Errorf("%s: %w: %v", name, ErrInference, err)}
}

func vectorUnavailable(name string) VectorResult {
	return VectorResult{Status: StatusUnavailable, Err: fmt.Errorf("%s: %w", name, ErrUnavailable)}
}

func vectorFailed(name string, err error) VectorResult {
	return VectorResult{Status: StatusInferenceFailed, Err: fmt.Errorf("%s: %w: %v", name, ErrInference, err)}
}
