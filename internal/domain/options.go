package domain

import (
	"fmt"
	"math"
	"time"
)

// Stage keys used in metrics and stepsCompleted.
const (
	StageUpscale          = "upscale"
	StageRemoveBackground = "removeBackground"
	StageVectorize        = "vectorize"
	TimingTotal           = "total"
)

const MaxTargetDPI = 2400

// StageOptions selects which stages run. It is fixed for the lifetime of a run.
type StageOptions struct {
	Upscale          bool    `json:"upscale"`
	RemoveBackground bool    `json:"removeBackground"`
	Vectorize        bool    `json:"vectorize"`
	TargetDPI        float64 `json:"targetDpi,omitempty"`
}

func DefaultStageOptions() StageOptions {
	return StageOptions{
		RemoveBackground: true,
		Vectorize:        true,
	}
}

func (o StageOptions) Validate() error {
	if math.IsNaN(o.TargetDPI) || math.IsInf(o.TargetDPI, 0) {
		return fmt.Errorf("target_dpi must be a finite number")
	}
	if o.TargetDPI < 0 || o.TargetDPI > MaxTargetDPI {
		return fmt.Errorf("target_dpi must be between 0 and %d", MaxTargetDPI)
	}
	return nil
}

func (o StageOptions) Steps() StepsCompleted {
	return StepsCompleted{
		Upscale:          o.Upscale,
		RemoveBackground: o.RemoveBackground,
		Vectorize:        o.Vectorize,
	}
}

// StepsCompleted echoes which stages were requested. A requested stage counts
// as completed even when it was skipped or served by its fallback.
type StepsCompleted struct {
	Upscale          bool `json:"upscale"`
	RemoveBackground bool `json:"removeBackground"`
	Vectorize        bool `json:"vectorize"`
}

// Timings maps stage keys to elapsed wall-clock seconds.
type Timings map[string]float64

func (t Timings) Record(stage string, d time.Duration) {
	t[stage] = RoundSeconds(d)
}

func RoundSeconds(d time.Duration) float64 {
	return math.Round(d.Seconds()*100) / 100
}
