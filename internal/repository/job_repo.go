package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/aicg/aicg/internal/models"
)

// jobRepo implements JobRepository using GORM.
type jobRepo struct {
	db *gorm.DB
}

// NewJobRepository creates a GORM-backed job repository.
func NewJobRepository(db *gorm.DB) JobRepository {
	return &jobRepo{db: db}
}

func (r *jobRepo) Create(ctx context.Context, job *models.Job) error {
	if job.ChapterID.IsZero() {
		return models.WrapError(models.ErrKindValidation, models.ErrChapterIDRequired)
	}
	if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("creating job: %w", err)
	}
	return nil
}

func (r *jobRepo) GetByID(ctx context.Context, id models.ULID) (*models.Job, error) {
	var job models.Job
	err := r.db.WithContext(ctx).First(&job, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("job", id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting job: %w", err)
	}
	return &job, nil
}

func (r *jobRepo) GetByChapterID(ctx context.Context, chapterID models.ULID) ([]*models.Job, error) {
	var jobs []*models.Job
	err := r.db.WithContext(ctx).
		Where("chapter_id = ?", chapterID).
		Order("created_at DESC").
		Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	return jobs, nil
}

func (r *jobRepo) Update(ctx context.Context, job *models.Job) error {
	if err := r.db.WithContext(ctx).Save(job).Error; err != nil {
		return fmt.Errorf("updating job: %w", err)
	}
	return nil
}

func (r *jobRepo) RequestCancel(ctx context.Context, id models.ULID) error {
	res := r.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ?", id).
		Update("cancel_requested", true)
	if res.Error != nil {
		return fmt.Errorf("requesting job cancel: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return notFound("job", id)
	}
	return nil
}

func (r *jobRepo) UpdateProgress(ctx context.Context, id models.ULID, progress float64) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}
	// Progress never moves backwards; concurrent rollups may race and the
	// larger value wins.
	err := r.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ? AND progress < ?", id, progress).
		Update("progress", progress).Error
	if err != nil {
		return fmt.Errorf("updating job progress: %w", err)
	}
	return nil
}

func (r *jobRepo) DeleteTerminalBefore(ctx context.Context, successBefore, failureBefore time.Time) (int64, error) {
	var deleted int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var jobIDs []models.ULID
		err := tx.Model(&models.Job{}).
			Where("(status = ? AND completed_at < ?) OR (status IN ? AND completed_at < ?)",
				models.JobStatusSuccess, successBefore,
				[]models.JobStatus{models.JobStatusFailed, models.JobStatusCancelled}, failureBefore).
			Pluck("id", &jobIDs).Error
		if err != nil {
			return fmt.Errorf("listing expired jobs: %w", err)
		}
		if len(jobIDs) == 0 {
			return nil
		}
		if err := tx.Where("job_id IN ?", jobIDs).Delete(&models.Task{}).Error; err != nil {
			return fmt.Errorf("deleting expired tasks: %w", err)
		}
		res := tx.Where("id IN ?", jobIDs).Delete(&models.Job{})
		if res.Error != nil {
			return fmt.Errorf("deleting expired jobs: %w", res.Error)
		}
		deleted = res.RowsAffected
		return nil
	})
	return deleted, err
}
