package domain

const (
	ServiceReady       = "ready"
	ServiceUnavailable = "unavailable"

	HealthStatusHealthy = "healthy"
)

type ProcessResults struct {
	Original        string  `json:"original,omitempty"`
	ProcessedImage  string  `json:"processedImage"`
	ProcessedVector *string `json:"processedVector"`
	OriginalSize    [2]int  `json:"originalSize"`
	ProcessedSize   [2]int  `json:"processedSize"`
}

type ProcessResponse struct {
	Success        bool           `json:"success"`
	Results        ProcessResults `json:"results"`
	Metrics        Timings        `json:"metrics"`
	StepsCompleted StepsCompleted `json:"stepsCompleted"`
	Degraded       []string       `json:"degraded,omitempty"`
}

// CallbackPayload is posted to a job's callback URL. Exactly one of Results
// or Error is set.
type CallbackPayload struct {
	JobID          string          `json:"jobId"`
	Success        bool            `json:"success"`
	Results        *ProcessResults `json:"results,omitempty"`
	Metrics        Timings         `json:"metrics,omitempty"`
	StepsCompleted *StepsCompleted `json:"stepsCompleted,omitempty"`
	Error          string          `json:"error,omitempty"`
}

func SuccessCallback(jobID string, resp ProcessResponse) CallbackPayload {
	steps := resp.StepsCompleted
	results := resp.Results
	return CallbackPayload{
		JobID:          jobID,
		Success:        true,
		Results:        &results,
		Metrics:        resp.Metrics,
		StepsCompleted: &steps,
	}
}

func FailureCallback(jobID string, err error) CallbackPayload {
	msg := "processing failed"
	if err != nil {
		msg = err.Error()
	}
	return CallbackPayload{
		JobID:   jobID,
		Success: false,
		Error:   msg,
	}
}

type AcceptedAck struct {
	Success bool   `json:"success"`
	JobID   string `json:"jobId"`
}

type HealthResponse struct {
	Status    string        `json:"status"`
	Timestamp float64       `json:"timestamp"`
	Services  ServiceStatus `json:"services"`
}

type ServiceStatus struct {
	BackgroundRemoval string `json:"backgroundRemoval"`
	Vectorization     string `json:"vectorization"`
	Upscaling         string `json:"upscaling"`
}

func ServiceState(ready bool) string {
	if ready {
		return ServiceReady
	}
	return ServiceUnavailable
}

type ErrorResponse struct {
	Detail string `json:"detail"`
}
