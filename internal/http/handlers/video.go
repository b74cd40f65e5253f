package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/aicg/aicg/internal/models"
	"github.com/aicg/aicg/internal/repository"
)

// VideoHandler handles assembly status endpoints.
type VideoHandler struct {
	videoTasks repository.VideoTaskRepository
}

// NewVideoHandler creates a new video handler.
func NewVideoHandler(videoTasks repository.VideoTaskRepository) *VideoHandler {
	return &VideoHandler{videoTasks: videoTasks}
}

// Register registers the video routes with the API.
func (h *VideoHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getChapterVideoTask",
		Method:      "GET",
		Path:        "/api/v1/chapters/{id}/video",
		Summary:     "Get chapter video task",
		Description: "Returns the assembly record for a chapter, including clip-level progress",
		Tags:        []string{"Video"},
	}, h.GetByChapter)
}

// GetVideoTaskInput is the input for getting a chapter's video task.
type GetVideoTaskInput struct {
	ID string `path:"id" doc:"Chapter ID (ULID)"`
}

// GetVideoTaskOutput is the output for getting a chapter's video task.
type GetVideoTaskOutput struct {
	Body models.VideoTask
}

// GetByChapter returns the assembly record for a chapter.
func (h *VideoHandler) GetByChapter(ctx context.Context, input *GetVideoTaskInput) (*GetVideoTaskOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid ID format", err)
	}

	vt, err := h.videoTasks.GetByChapterID(ctx, id)
	if err != nil {
		return nil, apiError(err, "failed to get video task")
	}

	return &GetVideoTaskOutput{Body: *vt}, nil
}
