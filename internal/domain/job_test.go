package domain

import (
	"errors"
	"math"
	"testing"
	"time"
)

func TestJobValidate(t *testing.T) {
	valid := Job{
		ID:          "job-1",
		CallbackURL: "https://example.com/hooks/artprep",
		Source:      []byte{0x89, 'P', 'N', 'G'},
		Options:     DefaultStageOptions(),
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid job, got error: %v", err)
	}

	invalid := Job{}
	if err := invalid.Validate(); err == nil {
		t.Fatal("expected validation error for empty job")
	}

	badScheme := valid
	badScheme.CallbackURL = "ftp://example.com/hook"
	if err := badScheme.Validate(); err == nil {
		t.Fatal("expected validation error for non-http callback")
	}

	noHost := valid
	noHost.CallbackURL = "http:///hook"
	if err := noHost.Validate(); err == nil {
		t.Fatal("expected validation error for callback without host")
	}

	noSource := valid
	noSource.Source = nil
	if err := noSource.Validate(); err == nil {
		t.Fatal("expected validation error for empty source")
	}
}

func TestStageOptionsValidate(t *testing.T) {
	for _, dpi := range []float64{0, 72, 300, MaxTargetDPI} {
		if err := (StageOptions{TargetDPI: dpi}).Validate(); err != nil {
			t.Fatalf("target dpi %v: unexpected error %v", dpi, err)
		}
	}
	for _, dpi := range []float64{-1, MaxTargetDPI + 1, math.NaN(), math.Inf(1)} {
		if err := (StageOptions{TargetDPI: dpi}).Validate(); err == nil {
			t.Fatalf("target dpi %v: expected error", dpi)
		}
	}
}

func TestDefaultStageOptions(t *testing.T) {
	opts := DefaultStageOptions()
	if opts.Upscale || !opts.RemoveBackground || !opts.Vectorize {
		t.Fatalf("unexpected defaults: %+v", opts)
	}
	steps := opts.Steps()
	if steps.Upscale || !steps.RemoveBackground || !steps.Vectorize {
		t.Fatalf("steps do not mirror options: %+v", steps)
	}
}

func TestTimingsRecordRoundsToHundredths(t *testing.T) {
	tm := Timings{}
	tm.Record(StageUpscale, 1234*time.Millisecond)
	tm.Record(StageVectorize, 4*time.Millisecond)

	if tm[StageUpscale] != 1.23 {
		t.Fatalf("expected 1.23, got %v", tm[StageUpscale])
	}
	if tm[StageVectorize] != 0 {
		t.Fatalf("expected 0, got %v", tm[StageVectorize])
	}
}

func TestCallbackPayloads(t *testing.T) {
	ok := SuccessCallback("job-7", ProcessResponse{
		Success: true,
		Results: ProcessResults{ProcessedImage: "data:image/png;base64,AA==", ProcessedSize: [2]int{1, 1}},
		Metrics: Timings{TimingTotal: 0.5},
	})
	if !ok.Success || ok.Results == nil || ok.Error != "" {
		t.Fatalf("unexpected success payload: %+v", ok)
	}

	failed := FailureCallback("job-7", errors.New("decode image: unsupported format"))
	if failed.Success || failed.Results != nil || failed.Metrics != nil {
		t.Fatalf("failure payload must carry only the error: %+v", failed)
	}
	if failed.Error != "decode image: unsupported format" {
		t.Fatalf("unexpected error message %q", failed.Error)
	}
}
