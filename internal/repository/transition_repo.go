package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/aicg/aicg/internal/models"
)

// transitionRepo implements TransitionRepository using GORM.
type transitionRepo struct {
	db *gorm.DB
}

// NewTransitionRepository creates a GORM-backed transition repository.
func NewTransitionRepository(db *gorm.DB) TransitionRepository {
	return &transitionRepo{db: db}
}

func (r *transitionRepo) Create(ctx context.Context, transition *models.Transition) error {
	if err := r.db.WithContext(ctx).Create(transition).Error; err != nil {
		return fmt.Errorf("creating transition: %w", err)
	}
	return nil
}

func (r *transitionRepo) GetByID(ctx context.Context, id models.ULID) (*models.Transition, error) {
	var transition models.Transition
	err := r.db.WithContext(ctx).First(&transition, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("transition", id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting transition: %w", err)
	}
	return &transition, nil
}

func (r *transitionRepo) GetByScriptID(ctx context.Context, scriptID models.ULID) ([]*models.Transition, error) {
	var transitions []*models.Transition
	err := r.db.WithContext(ctx).
		Where("script_id = ?", scriptID).
		Order("order_index ASC").
		Find(&transitions).Error
	if err != nil {
		return nil, fmt.Errorf("listing transitions: %w", err)
	}
	return transitions, nil
}

func (r *transitionRepo) GetByShotPair(ctx context.Context, fromShotID, toShotID models.ULID) (*models.Transition, error) {
	var transition models.Transition
	err := r.db.WithContext(ctx).
		First(&transition, "from_shot_id = ? AND to_shot_id = ?", fromShotID, toShotID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting transition by shot pair: %w", err)
	}
	return &transition, nil
}

func (r *transitionRepo) GetInFlight(ctx context.Context) ([]*models.Transition, error) {
	var transitions []*models.Transition
	err := r.db.WithContext(ctx).
		Where("status = ? AND external_task_id <> ''", models.ArtifactStatusProcessing).
		Order("updated_at ASC").
		Find(&transitions).Error
	if err != nil {
		return nil, fmt.Errorf("listing in-flight transitions: %w", err)
	}
	return transitions, nil
}

func (r *transitionRepo) Update(ctx context.Context, transition *models.Transition) error {
	if err := r.db.WithContext(ctx).Save(transition).Error; err != nil {
		return fmt.Errorf("updating transition: %w", err)
	}
	return nil
}

func (r *transitionRepo) MarkSubmitted(ctx context.Context, id models.ULID, externalTaskID string, apiKeyID models.ULID) error {
	res := r.db.WithContext(ctx).Model(&models.Transition{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":           models.ArtifactStatusProcessing,
			"external_task_id": externalTaskID,
			"api_key_id":       apiKeyID,
			"error_message":    "",
		})
	if res.Error != nil {
		return fmt.Errorf("marking transition submitted: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return notFound("transition", id)
	}
	return nil
}

func (r *transitionRepo) MarkCompleted(ctx context.Context, id models.ULID, upd ArtifactUpdate) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var transition models.Transition
		err := tx.First(&transition, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return notFound("transition", id)
		}
		if err != nil {
			return fmt.Errorf("getting transition: %w", err)
		}
		if err := appendHistory(tx, models.ResourceTransitionVideo, id, transition.VideoURL, transition.VideoPrompt, ""); err != nil {
			return err
		}
		prompt := upd.Prompt
		if prompt == "" {
			prompt = transition.VideoPrompt
		}
		if err := tx.Model(&transition).Updates(map[string]any{
			"status":        models.ArtifactStatusCompleted,
			"video_url":     upd.URL,
			"video_prompt":  prompt,
			"error_message": "",
			"version":       gorm.Expr("version + 1"),
		}).Error; err != nil {
			return fmt.Errorf("marking transition completed: %w", err)
		}
		return nil
	})
}

func (r *transitionRepo) MarkFailed(ctx context.Context, id models.ULID, errMsg string) error {
	res := r.db.WithContext(ctx).Model(&models.Transition{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        models.ArtifactStatusFailed,
			"error_message": models.Truncate(errMsg, 4096),
		})
	if res.Error != nil {
		return fmt.Errorf("marking transition failed: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return notFound("transition", id)
	}
	return nil
}
