package executor

import (
	"encoding/json"
	"fmt"

	"github.com/aicg/aicg/internal/models"
)

// TaskPayload is the JSON body of every executor task. Stage doubles as
// the union tag: the dispatcher switches on it and reads only the fields
// that stage uses. Artifact identity lives in Task.ArtifactID; the
// payload carries the job-level generation parameters so a task is
// self-contained when a worker picks it up.
type TaskPayload struct {
	Stage     string      `json:"stage"`
	JobID     models.ULID `json:"job_id"`
	ChapterID models.ULID `json:"chapter_id"`

	APIKeyID models.ULID `json:"api_key_id,omitempty"`
	Model    string      `json:"model,omitempty"`

	// Narrative generation parameters.
	Voice string  `json:"voice,omitempty"`
	Speed float64 `json:"speed,omitempty"`
	Style string  `json:"style,omitempty"`
}

// Encode serializes the payload for storage on a task row.
func (p TaskPayload) Encode() (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encoding task payload: %w", err)
	}
	return string(data), nil
}

// DecodePayload parses a task's payload body.
func DecodePayload(task *models.Task) (TaskPayload, error) {
	var p TaskPayload
	if err := json.Unmarshal([]byte(task.Payload), &p); err != nil {
		return TaskPayload{}, models.WrapError(models.ErrKindValidation,
			fmt.Errorf("decoding payload of task %s: %w", task.ID, err))
	}
	return p, nil
}
