package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/aicg/aicg/internal/models"
)

// HistoryService is the generation-history surface the API exposes.
type HistoryService interface {
	ListHistory(ctx context.Context, rt models.ResourceType, resourceID models.ULID) ([]*models.GenerationHistory, error)
	SelectHistory(ctx context.Context, historyID models.ULID) error
	DeleteHistory(ctx context.Context, historyID models.ULID) error
}

// HistoryHandler handles generation history endpoints.
type HistoryHandler struct {
	svc HistoryService
}

// NewHistoryHandler creates a new history handler.
func NewHistoryHandler(svc HistoryService) *HistoryHandler {
	return &HistoryHandler{svc: svc}
}

// Register registers the history routes with the API.
func (h *HistoryHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listGenerationHistory",
		Method:      "GET",
		Path:        "/api/v1/history/{resource_type}/{resource_id}",
		Summary:     "List generation history",
		Description: "Returns an artifact's prior generation results, newest first",
		Tags:        []string{"History"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "selectGenerationHistory",
		Method:      "POST",
		Path:        "/api/v1/history/{id}/select",
		Summary:     "Select history entry",
		Description: "Restores a history entry as the artifact's live result, swapping the displaced result into its place",
		Tags:        []string{"History"},
	}, h.Select)

	huma.Register(api, huma.Operation{
		OperationID: "deleteGenerationHistory",
		Method:      "DELETE",
		Path:        "/api/v1/history/{id}",
		Summary:     "Delete history entry",
		Description: "Removes a history entry; the underlying blob is kept",
		Tags:        []string{"History"},
	}, h.Delete)
}

// ListHistoryInput is the input for listing generation history.
type ListHistoryInput struct {
	ResourceType string `path:"resource_type" doc:"Artifact family" enum:"sentence_image,sentence_audio,scene_image,shot_keyframe,character_avatar,transition_video"`
	ResourceID   string `path:"resource_id" doc:"Artifact ID (ULID)"`
}

// ListHistoryOutput is the output for listing generation history.
type ListHistoryOutput struct {
	Body struct {
		History []models.GenerationHistory `json:"history"`
	}
}

// List returns an artifact's generation history.
func (h *HistoryHandler) List(ctx context.Context, input *ListHistoryInput) (*ListHistoryOutput, error) {
	id, err := models.ParseULID(input.ResourceID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid resource_id format", err)
	}

	entries, err := h.svc.ListHistory(ctx, models.ResourceType(input.ResourceType), id)
	if err != nil {
		return nil, apiError(err, "failed to list history")
	}

	resp := &ListHistoryOutput{}
	resp.Body.History = make([]models.GenerationHistory, 0, len(entries))
	for _, entry := range entries {
		resp.Body.History = append(resp.Body.History, *entry)
	}
	return resp, nil
}

// SelectHistoryInput is the input for selecting a history entry.
type SelectHistoryInput struct {
	ID string `path:"id" doc:"History entry ID (ULID)"`
}

// SelectHistoryOutput is the output for selecting a history entry.
type SelectHistoryOutput struct {
	Body struct {
		Message string `json:"message"`
	}
}

// Select restores a history entry as the live artifact result.
func (h *HistoryHandler) Select(ctx context.Context, input *SelectHistoryInput) (*SelectHistoryOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid ID format", err)
	}

	if err := h.svc.SelectHistory(ctx, id); err != nil {
		return nil, apiError(err, "failed to select history entry")
	}

	resp := &SelectHistoryOutput{}
	resp.Body.Message = "history entry " + input.ID + " selected"
	return resp, nil
}

// DeleteHistoryInput is the input for deleting a history entry.
type DeleteHistoryInput struct {
	ID string `path:"id" doc:"History entry ID (ULID)"`
}

// DeleteHistoryOutput is the output for deleting a history entry.
type DeleteHistoryOutput struct{}

// Delete removes a history entry.
func (h *HistoryHandler) Delete(ctx context.Context, input *DeleteHistoryInput) (*DeleteHistoryOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid ID format", err)
	}

	if err := h.svc.DeleteHistory(ctx, id); err != nil {
		return nil, apiError(err, "failed to delete history entry")
	}

	return &DeleteHistoryOutput{}, nil
}
