package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/aicg/aicg/internal/executor"
	"github.com/aicg/aicg/internal/models"
	"github.com/aicg/aicg/internal/repository"
)

// JobController is the executor surface the job API drives.
type JobController interface {
	SubmitJob(ctx context.Context, req executor.SubmitRequest) (*models.Job, error)
	CancelJob(ctx context.Context, jobID models.ULID) error
}

// JobHandler handles pipeline job endpoints.
type JobHandler struct {
	control JobController
	jobs    repository.JobRepository
	tasks   repository.TaskRepository
}

// NewJobHandler creates a new job handler.
func NewJobHandler(control JobController, jobs repository.JobRepository, tasks repository.TaskRepository) *JobHandler {
	return &JobHandler{
		control: control,
		jobs:    jobs,
		tasks:   tasks,
	}
}

// Register registers the job routes with the API.
func (h *JobHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "submitJob",
		Method:        "POST",
		Path:          "/api/v1/jobs",
		Summary:       "Submit job",
		Description:   "Submits a pipeline job for a chapter, optionally bounded at a target stage",
		Tags:          []string{"Jobs"},
		DefaultStatus: 201,
	}, h.Submit)

	huma.Register(api, huma.Operation{
		OperationID: "getJob",
		Method:      "GET",
		Path:        "/api/v1/jobs/{id}",
		Summary:     "Get job",
		Description: "Returns a job with its progress and statistics",
		Tags:        []string{"Jobs"},
	}, h.GetByID)

	huma.Register(api, huma.Operation{
		OperationID: "cancelJob",
		Method:      "POST",
		Path:        "/api/v1/jobs/{id}/cancel",
		Summary:     "Cancel job",
		Description: "Requests cooperative cancellation of a running job",
		Tags:        []string{"Jobs"},
	}, h.Cancel)

	huma.Register(api, huma.Operation{
		OperationID: "listJobTasks",
		Method:      "GET",
		Path:        "/api/v1/jobs/{id}/tasks",
		Summary:     "List job tasks",
		Description: "Returns every task created for a job",
		Tags:        []string{"Jobs"},
	}, h.ListTasks)

	huma.Register(api, huma.Operation{
		OperationID: "listChapterJobs",
		Method:      "GET",
		Path:        "/api/v1/chapters/{id}/jobs",
		Summary:     "List chapter jobs",
		Description: "Returns all jobs submitted for a chapter",
		Tags:        []string{"Jobs"},
	}, h.ListByChapter)
}

// SubmitJobInput is the input for submitting a job.
type SubmitJobInput struct {
	Body struct {
		ChapterID         string   `json:"chapter_id" doc:"Chapter ID (ULID)"`
		TargetStage       string   `json:"target_stage,omitempty" doc:"Stage to stop at; empty runs the full graph"`
		APIKeyID          string   `json:"api_key_id" doc:"Provider credential ID (ULID)"`
		Model             string   `json:"model,omitempty" doc:"Provider model override"`
		ContinueOnPartial bool     `json:"continue_on_partial,omitempty" doc:"Release downstream stages on partial stage success"`
		Voice             string   `json:"voice,omitempty" doc:"TTS voice"`
		Speed             float64  `json:"speed,omitempty" doc:"TTS speed multiplier"`
		Style             string   `json:"style,omitempty" doc:"Image style"`
		Resolution        string   `json:"resolution,omitempty" doc:"Assembly resolution, e.g. 1920x1080"`
		FPS               int      `json:"fps,omitempty" doc:"Assembly frame rate"`
		BGMRef            string   `json:"bgm_ref,omitempty" doc:"Background music URL"`
		BGMVolume         *float64 `json:"bgm_volume,omitempty" maximum:"0.5" minimum:"0" doc:"Background music gain; 0 mutes"`
	}
}

// SubmitJobOutput is the output for submitting a job.
type SubmitJobOutput struct {
	Body models.Job
}

// Submit creates and starts a pipeline job.
func (h *JobHandler) Submit(ctx context.Context, input *SubmitJobInput) (*SubmitJobOutput, error) {
	chapterID, err := models.ParseULID(input.Body.ChapterID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid chapter_id format", err)
	}
	var apiKeyID models.ULID
	if input.Body.APIKeyID != "" {
		apiKeyID, err = models.ParseULID(input.Body.APIKeyID)
		if err != nil {
			return nil, huma.Error400BadRequest("invalid api_key_id format", err)
		}
	}

	job, err := h.control.SubmitJob(ctx, executor.SubmitRequest{
		ChapterID:         chapterID,
		TargetStage:       input.Body.TargetStage,
		APIKeyID:          apiKeyID,
		Model:             input.Body.Model,
		ContinueOnPartial: input.Body.ContinueOnPartial,
		Voice:             input.Body.Voice,
		Speed:             input.Body.Speed,
		Style:             input.Body.Style,
		Resolution:        input.Body.Resolution,
		FPS:               input.Body.FPS,
		BGMRef:            input.Body.BGMRef,
		BGMVolume:         input.Body.BGMVolume,
	})
	if err != nil {
		return nil, apiError(err, "failed to submit job")
	}

	return &SubmitJobOutput{Body: *job}, nil
}

// GetJobInput is the input for getting a job.
type GetJobInput struct {
	ID string `path:"id" doc:"Job ID (ULID)"`
}

// GetJobOutput is the output for getting a job.
type GetJobOutput struct {
	Body models.Job
}

// GetByID returns a job by ID.
func (h *JobHandler) GetByID(ctx context.Context, input *GetJobInput) (*GetJobOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid ID format", err)
	}

	job, err := h.jobs.GetByID(ctx, id)
	if err != nil {
		return nil, apiError(err, "failed to get job")
	}

	return &GetJobOutput{Body: *job}, nil
}

// CancelJobInput is the input for cancelling a job.
type CancelJobInput struct {
	ID string `path:"id" doc:"Job ID (ULID)"`
}

// CancelJobOutput is the output for cancelling a job.
type CancelJobOutput struct {
	Body struct {
		Message string `json:"message"`
	}
}

// Cancel requests cancellation of a running job.
func (h *JobHandler) Cancel(ctx context.Context, input *CancelJobInput) (*CancelJobOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid ID format", err)
	}

	if err := h.control.CancelJob(ctx, id); err != nil {
		return nil, apiError(err, "failed to cancel job")
	}

	resp := &CancelJobOutput{}
	resp.Body.Message = "job " + input.ID + " cancellation requested"
	return resp, nil
}

// ListJobTasksInput is the input for listing a job's tasks.
type ListJobTasksInput struct {
	ID string `path:"id" doc:"Job ID (ULID)"`
}

// ListJobTasksOutput is the output for listing a job's tasks.
type ListJobTasksOutput struct {
	Body struct {
		Tasks []models.Task `json:"tasks"`
	}
}

// ListTasks returns every task created for a job.
func (h *JobHandler) ListTasks(ctx context.Context, input *ListJobTasksInput) (*ListJobTasksOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid ID format", err)
	}

	if _, err := h.jobs.GetByID(ctx, id); err != nil {
		return nil, apiError(err, "failed to get job")
	}
	tasks, err := h.tasks.GetByJobID(ctx, id)
	if err != nil {
		return nil, apiError(err, "failed to list tasks")
	}

	resp := &ListJobTasksOutput{}
	resp.Body.Tasks = make([]models.Task, 0, len(tasks))
	for _, task := range tasks {
		resp.Body.Tasks = append(resp.Body.Tasks, *task)
	}
	return resp, nil
}

// ListChapterJobsInput is the input for listing a chapter's jobs.
type ListChapterJobsInput struct {
	ID string `path:"id" doc:"Chapter ID (ULID)"`
}

// ListChapterJobsOutput is the output for listing a chapter's jobs.
type ListChapterJobsOutput struct {
	Body struct {
		Jobs []models.Job `json:"jobs"`
	}
}

// ListByChapter returns all jobs submitted for a chapter.
func (h *JobHandler) ListByChapter(ctx context.Context, input *ListChapterJobsInput) (*ListChapterJobsOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid ID format", err)
	}

	jobs, err := h.jobs.GetByChapterID(ctx, id)
	if err != nil {
		return nil, apiError(err, "failed to list jobs")
	}

	resp := &ListChapterJobsOutput{}
	resp.Body.Jobs = make([]models.Job, 0, len(jobs))
	for _, job := range jobs {
		resp.Body.Jobs = append(resp.Body.Jobs, *job)
	}
	return resp, nil
}
