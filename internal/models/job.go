package models

// JobStatus is the lifecycle of a submitted pipeline job.
type JobStatus string

const (
	// JobStatusPending means the job is waiting to start.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning means the job's task tree is executing.
	JobStatusRunning JobStatus = "running"
	// JobStatusSuccess means every task succeeded (or partial-success
	// policy accepted the outcome).
	JobStatusSuccess JobStatus = "success"
	// JobStatusFailed means the job terminated with failures.
	JobStatusFailed JobStatus = "failed"
	// JobStatusCancelled means the job was cancelled cooperatively.
	JobStatusCancelled JobStatus = "cancelled"
)

// JobStatistics aggregates terminal task outcomes for a job.
type JobStatistics struct {
	Total   int `json:"total"`
	Success int `json:"success"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// Job is a user-submitted request to drive part of the pipeline for one
// chapter, e.g. "run the movie graph up to compose_video".
type Job struct {
	BaseModel

	Kind      string `gorm:"not null;size:50;index" json:"kind"`
	ChapterID ULID   `gorm:"type:varchar(26);not null;index" json:"chapter_id"`

	// TargetStage names the stage the job must reach (see executor stage
	// identifiers); empty means the full graph.
	TargetStage string `gorm:"size:50" json:"target_stage,omitempty"`

	Status   JobStatus `gorm:"not null;default:'pending';size:20;index" json:"status"`
	Progress float64   `gorm:"default:0" json:"progress"`

	Statistics JobStatistics `gorm:"embedded;embeddedPrefix:stat_" json:"statistics"`

	// ContinueOnPartial releases downstream stages when a stage finished
	// with a mix of successes and failures.
	ContinueOnPartial bool `gorm:"default:false" json:"continue_on_partial"`

	// CancelRequested is the cooperative cancel flag; workers check it
	// before each suspension point.
	CancelRequested bool `gorm:"default:false;index" json:"cancel_requested"`

	APIKeyID ULID   `gorm:"type:varchar(26)" json:"api_key_id,omitempty"`
	Model    string `gorm:"size:100" json:"model,omitempty"`

	// Narrative generation parameters, copied into each task payload.
	Voice string  `gorm:"size:100" json:"voice,omitempty"`
	Speed float64 `gorm:"default:1" json:"speed,omitempty"`
	Style string  `gorm:"size:50" json:"style,omitempty"`

	ResultRef string `gorm:"size:500" json:"result_ref,omitempty"`

	ErrorCode    string `gorm:"size:50" json:"error_code,omitempty"`
	ErrorMessage string `gorm:"size:4096" json:"error_message,omitempty"`

	StartedAt   *Time `json:"started_at,omitempty"`
	CompletedAt *Time `json:"completed_at,omitempty"`
}

// TableName returns the table name for Job.
func (Job) TableName() string {
	return "jobs"
}

// IsTerminal reports whether the job has finished.
func (j *Job) IsTerminal() bool {
	return j.Status == JobStatusSuccess || j.Status == JobStatusFailed || j.Status == JobStatusCancelled
}

// MarkRunning transitions the job to running.
func (j *Job) MarkRunning() {
	j.Status = JobStatusRunning
	now := Now()
	j.StartedAt = &now
}

// MarkTerminal finishes the job with the given status and error.
func (j *Job) MarkTerminal(status JobStatus, code, message string) {
	j.Status = status
	j.ErrorCode = code
	j.ErrorMessage = Truncate(message, maxErrorMessageLen)
	now := Now()
	j.CompletedAt = &now
	if status == JobStatusSuccess {
		j.Progress = 1
	}
}
