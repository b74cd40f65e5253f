package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/aicg/aicg/internal/models"
)

// historyRepo implements HistoryRepository using GORM.
type historyRepo struct {
	db *gorm.DB
}

// NewHistoryRepository creates a GORM-backed generation history repository.
func NewHistoryRepository(db *gorm.DB) HistoryRepository {
	return &historyRepo{db: db}
}

func (r *historyRepo) List(ctx context.Context, resourceType models.ResourceType, resourceID models.ULID) ([]*models.GenerationHistory, error) {
	var rows []*models.GenerationHistory
	err := r.db.WithContext(ctx).
		Where("resource_type = ? AND resource_id = ?", resourceType, resourceID).
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("listing generation history: %w", err)
	}
	return rows, nil
}

func (r *historyRepo) Count(ctx context.Context, resourceType models.ResourceType, resourceID models.ULID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.GenerationHistory{}).
		Where("resource_type = ? AND resource_id = ?", resourceType, resourceID).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("counting generation history: %w", err)
	}
	return count, nil
}

// liveArtifact is the projection of an artifact's current URL and prompt
// used by the select swap.
type liveArtifact struct {
	URL    string
	Prompt string
}

func (r *historyRepo) Select(ctx context.Context, historyID models.ULID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row models.GenerationHistory
		err := tx.First(&row, "id = ?", historyID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return notFound("history entry", historyID)
		}
		if err != nil {
			return fmt.Errorf("getting history entry: %w", err)
		}
		if row.Orphaned {
			return models.NewError(models.ErrKindConflict,
				fmt.Sprintf("history entry %s is orphaned; its artifact no longer exists", historyID))
		}

		target, ok := historyTargets[row.ResourceType]
		if !ok {
			return models.NewError(models.ErrKindValidation,
				fmt.Sprintf("unknown resource type %q", row.ResourceType))
		}

		var live liveArtifact
		err = tx.Table(target.table).
			Select(fmt.Sprintf("%s AS url, %s AS prompt", target.urlCol, target.promptCol)).
			Where("id = ?", row.ResourceID).
			Take(&live).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return notFound(string(row.ResourceType), row.ResourceID)
		}
		if err != nil {
			return fmt.Errorf("getting live artifact: %w", err)
		}
		if live.URL == row.URL {
			return nil
		}

		// Swap: the entry's generation goes live and the displaced one
		// takes its place, keeping the row count stable.
		err = tx.Table(target.table).
			Where("id = ?", row.ResourceID).
			Updates(map[string]any{
				target.urlCol:    row.URL,
				target.promptCol: row.Prompt,
				"version":        gorm.Expr("version + 1"),
			}).Error
		if err != nil {
			return fmt.Errorf("promoting history entry: %w", err)
		}

		err = tx.Model(&row).Updates(map[string]any{
			"url":    live.URL,
			"prompt": live.Prompt,
		}).Error
		if err != nil {
			return fmt.Errorf("demoting live artifact: %w", err)
		}
		return nil
	})
}

func (r *historyRepo) Delete(ctx context.Context, historyID models.ULID) error {
	res := r.db.WithContext(ctx).Delete(&models.GenerationHistory{}, "id = ?", historyID)
	if res.Error != nil {
		return fmt.Errorf("deleting history entry: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return notFound("history entry", historyID)
	}
	return nil
}
