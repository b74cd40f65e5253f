package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/aicg/aicg/internal/models"
)

// videoTaskRepo implements VideoTaskRepository using GORM.
type videoTaskRepo struct {
	db *gorm.DB
}

// NewVideoTaskRepository creates a GORM-backed video task repository.
func NewVideoTaskRepository(db *gorm.DB) VideoTaskRepository {
	return &videoTaskRepo{db: db}
}

func (r *videoTaskRepo) Create(ctx context.Context, task *models.VideoTask) error {
	if err := task.Validate(); err != nil {
		return models.WrapError(models.ErrKindValidation, err)
	}
	if err := r.db.WithContext(ctx).Create(task).Error; err != nil {
		return fmt.Errorf("creating video task: %w", err)
	}
	return nil
}

func (r *videoTaskRepo) GetByID(ctx context.Context, id models.ULID) (*models.VideoTask, error) {
	var task models.VideoTask
	err := r.db.WithContext(ctx).First(&task, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("video task", id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting video task: %w", err)
	}
	return &task, nil
}

func (r *videoTaskRepo) GetByChapterID(ctx context.Context, chapterID models.ULID) (*models.VideoTask, error) {
	var task models.VideoTask
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		First(&task, "chapter_id = ?", chapterID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting video task by chapter: %w", err)
	}
	return &task, nil
}

func (r *videoTaskRepo) Update(ctx context.Context, task *models.VideoTask) error {
	if err := r.db.WithContext(ctx).Save(task).Error; err != nil {
		return fmt.Errorf("updating video task: %w", err)
	}
	return nil
}

func (r *videoTaskRepo) SetStatus(ctx context.Context, id models.ULID, status models.VideoTaskStatus, progress float64) error {
	res := r.db.WithContext(ctx).Model(&models.VideoTask{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":   status,
			"progress": progress,
		})
	if res.Error != nil {
		return fmt.Errorf("setting video task status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return notFound("video task", id)
	}
	return nil
}

func (r *videoTaskRepo) SetClipProgress(ctx context.Context, id models.ULID, current, total int) error {
	res := r.db.WithContext(ctx).Model(&models.VideoTask{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"current_clip_index": current,
			"total_clips":        total,
		})
	if res.Error != nil {
		return fmt.Errorf("setting video task clip progress: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return notFound("video task", id)
	}
	return nil
}

func (r *videoTaskRepo) MarkCompleted(ctx context.Context, id models.ULID, videoURL string, durationMs int64) error {
	res := r.db.WithContext(ctx).Model(&models.VideoTask{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        models.VideoTaskStatusCompleted,
			"progress":      1.0,
			"video_url":     videoURL,
			"duration_ms":   durationMs,
			"error_message": "",
		})
	if res.Error != nil {
		return fmt.Errorf("marking video task completed: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return notFound("video task", id)
	}
	return nil
}

func (r *videoTaskRepo) MarkFailed(ctx context.Context, id models.ULID, errMsg string) error {
	res := r.db.WithContext(ctx).Model(&models.VideoTask{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        models.VideoTaskStatusFailed,
			"error_message": models.Truncate(errMsg, 4096),
		})
	if res.Error != nil {
		return fmt.Errorf("marking video task failed: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return notFound("video task", id)
	}
	return nil
}
