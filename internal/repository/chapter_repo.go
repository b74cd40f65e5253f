package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/aicg/aicg/internal/models"
)

// chapterRepo implements ChapterRepository using GORM.
type chapterRepo struct {
	db *gorm.DB
}

// NewChapterRepository creates a GORM-backed chapter repository.
func NewChapterRepository(db *gorm.DB) ChapterRepository {
	return &chapterRepo{db: db}
}

func (r *chapterRepo) Create(ctx context.Context, chapter *models.Chapter) error {
	if chapter.ProjectID.IsZero() {
		return models.WrapError(models.ErrKindValidation, models.ErrProjectIDRequired)
	}
	if err := r.db.WithContext(ctx).Create(chapter).Error; err != nil {
		return fmt.Errorf("creating chapter: %w", err)
	}
	return nil
}

func (r *chapterRepo) GetByID(ctx context.Context, id models.ULID) (*models.Chapter, error) {
	var chapter models.Chapter
	err := r.db.WithContext(ctx).First(&chapter, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("chapter", id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting chapter: %w", err)
	}
	return &chapter, nil
}

func (r *chapterRepo) GetByProjectID(ctx context.Context, projectID models.ULID) ([]*models.Chapter, error) {
	var chapters []*models.Chapter
	err := r.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("order_index ASC").
		Find(&chapters).Error
	if err != nil {
		return nil, fmt.Errorf("listing chapters: %w", err)
	}
	return chapters, nil
}

func (r *chapterRepo) Update(ctx context.Context, chapter *models.Chapter) error {
	if err := r.db.WithContext(ctx).Save(chapter).Error; err != nil {
		return fmt.Errorf("updating chapter: %w", err)
	}
	return nil
}

func (r *chapterRepo) AdvanceStatus(ctx context.Context, id models.ULID, target models.PipelineStatus) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var chapter models.Chapter
		err := tx.First(&chapter, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return notFound("chapter", id)
		}
		if err != nil {
			return fmt.Errorf("getting chapter: %w", err)
		}
		if !chapter.CanTransitionTo(target) {
			return models.NewError(models.ErrKindConflict,
				fmt.Sprintf("chapter %s: illegal pipeline transition %s -> %s", id, chapter.PipelineStatus, target))
		}
		if err := tx.Model(&chapter).Update("pipeline_status", target).Error; err != nil {
			return fmt.Errorf("advancing pipeline status: %w", err)
		}
		return nil
	})
}

func (r *chapterRepo) ForceStatus(ctx context.Context, id models.ULID, target models.PipelineStatus) error {
	res := r.db.WithContext(ctx).Model(&models.Chapter{}).
		Where("id = ?", id).
		Update("pipeline_status", target)
	if res.Error != nil {
		return fmt.Errorf("forcing pipeline status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return notFound("chapter", id)
	}
	return nil
}

func (r *chapterRepo) SetVideo(ctx context.Context, id models.ULID, url string, durationMs int64) error {
	res := r.db.WithContext(ctx).Model(&models.Chapter{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"video_url":         url,
			"video_duration_ms": durationMs,
		})
	if res.Error != nil {
		return fmt.Errorf("setting chapter video: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return notFound("chapter", id)
	}
	return nil
}

func (r *chapterRepo) Delete(ctx context.Context, id models.ULID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Chapter{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return fmt.Errorf("checking chapter: %w", err)
		}
		if count == 0 {
			return notFound("chapter", id)
		}
		return deleteChapterTree(tx, id)
	})
}
