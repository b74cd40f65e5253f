package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/aicg/aicg/internal/models"
)

// taskRepo implements TaskRepository using GORM.
type taskRepo struct {
	db *gorm.DB
}

// NewTaskRepository creates a GORM-backed task repository.
func NewTaskRepository(db *gorm.DB) TaskRepository {
	return &taskRepo{db: db}
}

func (r *taskRepo) Create(ctx context.Context, task *models.Task) error {
	if err := r.db.WithContext(ctx).Create(task).Error; err != nil {
		return fmt.Errorf("creating task: %w", err)
	}
	return nil
}

func (r *taskRepo) CreateBatch(ctx context.Context, tasks []*models.Task) error {
	if len(tasks) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).CreateInBatches(&tasks, 100).Error; err != nil {
		return fmt.Errorf("creating tasks: %w", err)
	}
	return nil
}

func (r *taskRepo) GetByID(ctx context.Context, id models.ULID) (*models.Task, error) {
	var task models.Task
	err := r.db.WithContext(ctx).First(&task, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("task", id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting task: %w", err)
	}
	return &task, nil
}

func (r *taskRepo) GetByJobID(ctx context.Context, jobID models.ULID) ([]*models.Task, error) {
	var tasks []*models.Task
	err := r.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("created_at ASC").
		Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	return tasks, nil
}

func (r *taskRepo) GetByJobAndStage(ctx context.Context, jobID models.ULID, stage string) ([]*models.Task, error) {
	var tasks []*models.Task
	err := r.db.WithContext(ctx).
		Where("job_id = ? AND stage = ?", jobID, stage).
		Order("created_at ASC").
		Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("listing tasks by stage: %w", err)
	}
	return tasks, nil
}

func (r *taskRepo) Update(ctx context.Context, task *models.Task) error {
	if err := r.db.WithContext(ctx).Save(task).Error; err != nil {
		return fmt.Errorf("updating task: %w", err)
	}
	return nil
}

func (r *taskRepo) Acquire(ctx context.Context, id models.ULID, workerID string) (*models.Task, error) {
	now := models.Now()
	// Single conditional UPDATE so concurrent workers cannot both win.
	res := r.db.WithContext(ctx).Model(&models.Task{}).
		Where("id = ? AND status = ? AND cancel_requested = ?", id, models.TaskStatusPending, false).
		Where("not_before IS NULL OR not_before <= ?", now).
		Updates(map[string]any{
			"status":     models.TaskStatusRunning,
			"locked_by":  workerID,
			"locked_at":  now,
			"started_at": now,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("acquiring task: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		// Lost the race, cancelled, delayed, or gone. Settle a pending
		// cancel request so the row reaches a terminal state.
		var task models.Task
		err := r.db.WithContext(ctx).First(&task, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("getting task: %w", err)
		}
		if task.Status == models.TaskStatusPending && task.CancelRequested {
			task.MarkTerminal(models.TaskStatusCancelled, string(models.ErrKindCancelled), "cancelled before start")
			if err := r.db.WithContext(ctx).Save(&task).Error; err != nil {
				return nil, fmt.Errorf("cancelling task: %w", err)
			}
		}
		return nil, nil
	}

	var task models.Task
	if err := r.db.WithContext(ctx).First(&task, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("reloading acquired task: %w", err)
	}
	return &task, nil
}

func (r *taskRepo) ReleaseStale(ctx context.Context, olderThan time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.Task{}).
		Where("status = ? AND locked_at < ?", models.TaskStatusRunning, olderThan).
		Updates(map[string]any{
			"status":    models.TaskStatusPending,
			"locked_by": "",
			"locked_at": nil,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("releasing stale tasks: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (r *taskRepo) ListRunnable(ctx context.Context, limit int) ([]*models.Task, error) {
	var tasks []*models.Task
	err := r.db.WithContext(ctx).
		Where("status = ? AND cancel_requested = ?", models.TaskStatusPending, false).
		Where("not_before IS NULL OR not_before <= ?", models.Now()).
		Order("created_at ASC").
		Limit(limit).
		Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("listing runnable tasks: %w", err)
	}
	return tasks, nil
}

func (r *taskRepo) RequestCancel(ctx context.Context, id models.ULID) error {
	res := r.db.WithContext(ctx).Model(&models.Task{}).
		Where("id = ?", id).
		Update("cancel_requested", true)
	if res.Error != nil {
		return fmt.Errorf("requesting task cancel: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return notFound("task", id)
	}
	return nil
}

func (r *taskRepo) RequestCancelByJobID(ctx context.Context, jobID models.ULID) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.Task{}).
		Where("job_id = ? AND status IN ?", jobID,
			[]models.TaskStatus{models.TaskStatusPending, models.TaskStatusRunning}).
		Update("cancel_requested", true)
	if res.Error != nil {
		return 0, fmt.Errorf("requesting job task cancel: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (r *taskRepo) DeleteByJobID(ctx context.Context, jobID models.ULID) error {
	if err := r.db.WithContext(ctx).Where("job_id = ?", jobID).Delete(&models.Task{}).Error; err != nil {
		return fmt.Errorf("deleting tasks: %w", err)
	}
	return nil
}
