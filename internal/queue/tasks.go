package queue

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	"github.com/dunamismax/artprep/internal/domain"
)

const TypeProcessArtwork = "artwork:process"

// ProcessArtworkPayload references staged upload bytes; the image itself is
// never put on the queue.
type ProcessArtworkPayload struct {
	JobID       string              `json:"job_id"`
	WebhookURL  string              `json:"webhook_url"`
	ObjectKey   string              `json:"object_key"`
	Options     domain.StageOptions `json:"options"`
	RequestedAt time.Time           `json:"requested_at"`
}

func (p ProcessArtworkPayload) Validate() error {
	if strings.TrimSpace(p.JobID) == "" {
		return fmt.Errorf("job_id is required")
	}
	if strings.TrimSpace(p.ObjectKey) == "" {
		return fmt.Errorf("object_key is required")
	}
	return domain.ValidateCallbackURL(p.WebhookURL)
}

// Job rebuilds the detached job around bytes read back from storage.
func (p ProcessArtworkPayload) Job(source []byte) domain.Job {
	return domain.Job{
		ID:          p.JobID,
		CallbackURL: p.WebhookURL,
		Source:      source,
		Options:     p.Options,
		AcceptedAt:  p.RequestedAt,
	}
}

func NewProcessArtworkTask(payload ProcessArtworkPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal process payload: %w", err)
	}
	return asynq.NewTask(TypeProcessArtwork, body), nil
}

func ParseProcessArtworkPayload(task *asynq.Task) (ProcessArtworkPayload, error) {
	var payload ProcessArtworkPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return ProcessArtworkPayload{}, fmt.Errorf("unmarshal process payload: %w", err)
	}
	if err := payload.Validate(); err != nil {
		return ProcessArtworkPayload{}, fmt.Errorf("invalid process payload: %w", err)
	}
	return payload, nil
}
