package models

// TaskKind classifies executor work for queue routing, concurrency caps
// and retry policy.
type TaskKind string

const (
	// TaskKindText is an LLM text-generation task.
	TaskKindText TaskKind = "text"
	// TaskKindImage is a synchronous image-generation task.
	TaskKindImage TaskKind = "image"
	// TaskKindTTS is a text-to-speech task.
	TaskKindTTS TaskKind = "tts"
	// TaskKindVideoSubmit submits a long-running video-generation task.
	TaskKindVideoSubmit TaskKind = "video_submit"
	// TaskKindVideoPoll polls a long-running video-generation task.
	TaskKindVideoPoll TaskKind = "video_poll"
	// TaskKindAssembly is a final video-assembly task.
	TaskKindAssembly TaskKind = "assembly"
)

// AllTaskKinds lists every task kind for worker registration.
var AllTaskKinds = []TaskKind{
	TaskKindText, TaskKindImage, TaskKindTTS,
	TaskKindVideoSubmit, TaskKindVideoPoll, TaskKindAssembly,
}

// TaskStatus is the lifecycle of an executor task.
type TaskStatus string

const (
	// TaskStatusPending means the task is queued.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusRunning means a worker holds the task.
	TaskStatusRunning TaskStatus = "running"
	// TaskStatusSuccess means the task completed.
	TaskStatusSuccess TaskStatus = "success"
	// TaskStatusFailed means the task failed terminally.
	TaskStatusFailed TaskStatus = "failed"
	// TaskStatusCancelled means the task was cancelled.
	TaskStatusCancelled TaskStatus = "cancelled"
	// TaskStatusSkipped means resumption found the artifact already present.
	TaskStatusSkipped TaskStatus = "skipped"
)

// Task is the executor's unit of work. Payload is a JSON-encoded tagged
// union (see executor.TaskPayload); Stage and ArtifactID let the executor
// recompute readiness without decoding payloads.
type Task struct {
	BaseModel

	JobID ULID     `gorm:"type:varchar(26);not null;index" json:"job_id"`
	Kind  TaskKind `gorm:"not null;size:20;index" json:"kind"`
	Stage string   `gorm:"not null;size:50;index" json:"stage"`

	// ArtifactID is the primary artifact this task produces or mutates
	// (sentence, scene, shot, character or transition ID).
	ArtifactID ULID `gorm:"type:varchar(26);index" json:"artifact_id,omitempty"`

	Payload string `gorm:"type:text" json:"payload"`

	Status  TaskStatus `gorm:"not null;default:'pending';size:20;index" json:"status"`
	Retries int        `gorm:"default:0" json:"retries"`

	// Weight is the cost estimate used for job progress rollup.
	Weight int `gorm:"default:1" json:"weight"`

	CancelRequested bool `gorm:"default:false;index" json:"cancel_requested"`

	// NotBefore delays re-delivery for backoff between retries.
	NotBefore *Time  `gorm:"index" json:"not_before,omitempty"`
	LockedBy  string `gorm:"size:100;index" json:"locked_by,omitempty"`
	LockedAt  *Time  `json:"locked_at,omitempty"`

	Result       string `gorm:"size:4096" json:"result,omitempty"`
	ErrorCode    string `gorm:"size:50" json:"error_code,omitempty"`
	ErrorMessage string `gorm:"size:4096" json:"error_message,omitempty"`

	StartedAt   *Time `json:"started_at,omitempty"`
	CompletedAt *Time `json:"completed_at,omitempty"`
}

// TableName returns the table name for Task.
func (Task) TableName() string {
	return "tasks"
}

// IsTerminal reports whether the task has finished.
func (t *Task) IsTerminal() bool {
	switch t.Status {
	case TaskStatusSuccess, TaskStatusFailed, TaskStatusCancelled, TaskStatusSkipped:
		return true
	}
	return false
}

// MarkRunning locks the task to a worker.
func (t *Task) MarkRunning(workerID string) {
	t.Status = TaskStatusRunning
	now := Now()
	t.StartedAt = &now
	t.LockedBy = workerID
	t.LockedAt = &now
}

// MarkTerminal finishes the task.
func (t *Task) MarkTerminal(status TaskStatus, code, message string) {
	t.Status = status
	t.ErrorCode = code
	t.ErrorMessage = Truncate(message, maxErrorMessageLen)
	t.LockedBy = ""
	t.LockedAt = nil
	now := Now()
	t.CompletedAt = &now
}

// TaskWeight returns the progress weight for a task kind. Video work
// dominates wall-clock time, assembly dominates everything.
func TaskWeight(kind TaskKind) int {
	switch kind {
	case TaskKindVideoSubmit, TaskKindVideoPoll:
		return 8
	case TaskKindImage:
		return 2
	case TaskKindAssembly:
		return 10
	default:
		return 1
	}
}
