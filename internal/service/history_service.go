package service

import (
	"context"

	"github.com/aicg/aicg/internal/models"
)

// ListHistory returns an artifact's generation history, newest first.
func (s *Service) ListHistory(ctx context.Context, rt models.ResourceType, resourceID models.ULID) ([]*models.GenerationHistory, error) {
	return s.repos.History.List(ctx, rt, resourceID)
}

// SelectHistory restores a history entry as the artifact's live result,
// swapping the displaced result into the entry's place.
func (s *Service) SelectHistory(ctx context.Context, historyID models.ULID) error {
	if err := s.repos.History.Select(ctx, historyID); err != nil {
		return err
	}
	s.logger.Info("history entry selected", "history_id", historyID.String())
	return nil
}

// DeleteHistory removes a history entry. The blob itself is kept; other
// entries may still reference the same object.
func (s *Service) DeleteHistory(ctx context.Context, historyID models.ULID) error {
	return s.repos.History.Delete(ctx, historyID)
}
