package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/aicg/aicg/internal/models"
)

// scriptRepo implements ScriptRepository using GORM.
type scriptRepo struct {
	db *gorm.DB
}

// NewScriptRepository creates a GORM-backed script repository.
func NewScriptRepository(db *gorm.DB) ScriptRepository {
	return &scriptRepo{db: db}
}

func (r *scriptRepo) Create(ctx context.Context, script *models.Script) error {
	if script.ChapterID.IsZero() {
		return models.WrapError(models.ErrKindValidation, models.ErrChapterIDRequired)
	}
	err := r.db.WithContext(ctx).Create(script).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return models.NewError(models.ErrKindConflict,
				fmt.Sprintf("chapter %s already has a script", script.ChapterID))
		}
		return fmt.Errorf("creating script: %w", err)
	}
	return nil
}

func (r *scriptRepo) GetByID(ctx context.Context, id models.ULID) (*models.Script, error) {
	var script models.Script
	err := r.preloaded(r.db.WithContext(ctx)).First(&script, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("script", id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting script: %w", err)
	}
	return &script, nil
}

func (r *scriptRepo) GetByChapterID(ctx context.Context, chapterID models.ULID) (*models.Script, error) {
	var script models.Script
	err := r.preloaded(r.db.WithContext(ctx)).First(&script, "chapter_id = ?", chapterID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting script by chapter: %w", err)
	}
	return &script, nil
}

// preloaded attaches ordered scene and shot preloads.
func (r *scriptRepo) preloaded(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Scenes", func(db *gorm.DB) *gorm.DB {
			return db.Order("order_index ASC")
		}).
		Preload("Scenes.Shots", func(db *gorm.DB) *gorm.DB {
			return db.Order("order_index ASC")
		})
}

func (r *scriptRepo) UpdateStatus(ctx context.Context, id models.ULID, status models.ScriptStatus) error {
	res := r.db.WithContext(ctx).Model(&models.Script{}).
		Where("id = ?", id).
		Update("status", status)
	if res.Error != nil {
		return fmt.Errorf("updating script status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return notFound("script", id)
	}
	return nil
}

func (r *scriptRepo) Delete(ctx context.Context, id models.ULID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Script{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return fmt.Errorf("checking script: %w", err)
		}
		if count == 0 {
			return notFound("script", id)
		}
		return deleteScriptTree(tx, id)
	})
}

func (r *scriptRepo) CreateScenes(ctx context.Context, scenes []*models.Scene) error {
	if len(scenes) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).Create(&scenes).Error; err != nil {
		return fmt.Errorf("creating scenes: %w", err)
	}
	return nil
}

func (r *scriptRepo) GetSceneByID(ctx context.Context, id models.ULID) (*models.Scene, error) {
	var scene models.Scene
	err := r.db.WithContext(ctx).Preload("Shots", func(db *gorm.DB) *gorm.DB {
		return db.Order("order_index ASC")
	}).First(&scene, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("scene", id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting scene: %w", err)
	}
	return &scene, nil
}

func (r *scriptRepo) UpdateSceneImage(ctx context.Context, id models.ULID, upd ArtifactUpdate) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var scene models.Scene
		err := tx.First(&scene, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return notFound("scene", id)
		}
		if err != nil {
			return fmt.Errorf("getting scene: %w", err)
		}
		if err := appendHistory(tx, models.ResourceSceneImage, id, scene.SceneImageURL, scene.ImagePrompt, ""); err != nil {
			return err
		}
		if err := tx.Model(&scene).Updates(map[string]any{
			"scene_image_url": upd.URL,
			"image_prompt":    upd.Prompt,
			"version":         gorm.Expr("version + 1"),
		}).Error; err != nil {
			return fmt.Errorf("updating scene image: %w", err)
		}
		return nil
	})
}

func (r *scriptRepo) CreateShots(ctx context.Context, shots []*models.Shot) error {
	if len(shots) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).Create(&shots).Error; err != nil {
		return fmt.Errorf("creating shots: %w", err)
	}
	return nil
}

func (r *scriptRepo) GetShotByID(ctx context.Context, id models.ULID) (*models.Shot, error) {
	var shot models.Shot
	err := r.db.WithContext(ctx).Preload("Scene").First(&shot, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("shot", id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting shot: %w", err)
	}
	return &shot, nil
}

func (r *scriptRepo) GetShotsByScriptID(ctx context.Context, scriptID models.ULID) ([]*models.Shot, error) {
	var shots []*models.Shot
	err := r.db.WithContext(ctx).
		Joins("JOIN scenes ON scenes.id = shots.scene_id").
		Where("scenes.script_id = ?", scriptID).
		Order("scenes.order_index ASC, shots.order_index ASC").
		Find(&shots).Error
	if err != nil {
		return nil, fmt.Errorf("listing shots: %w", err)
	}
	return shots, nil
}

func (r *scriptRepo) UpdateShot(ctx context.Context, shot *models.Shot) error {
	if err := r.db.WithContext(ctx).Save(shot).Error; err != nil {
		return fmt.Errorf("updating shot: %w", err)
	}
	return nil
}

func (r *scriptRepo) UpdateShotKeyframe(ctx context.Context, id models.ULID, upd ArtifactUpdate) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var shot models.Shot
		err := tx.First(&shot, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return notFound("shot", id)
		}
		if err != nil {
			return fmt.Errorf("getting shot: %w", err)
		}
		if err := appendHistory(tx, models.ResourceShotKeyframe, id, shot.KeyframeURL, shot.KeyframePrompt, ""); err != nil {
			return err
		}
		if err := tx.Model(&shot).Updates(map[string]any{
			"keyframe_url":    upd.URL,
			"keyframe_prompt": upd.Prompt,
			"status":          models.ArtifactStatusCompleted,
			"error_message":   "",
			"version":         gorm.Expr("version + 1"),
		}).Error; err != nil {
			return fmt.Errorf("updating shot keyframe: %w", err)
		}
		return nil
	})
}

func (r *scriptRepo) SetShotStatus(ctx context.Context, id models.ULID, status models.ArtifactStatus, errMsg string) error {
	res := r.db.WithContext(ctx).Model(&models.Shot{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        status,
			"error_message": models.Truncate(errMsg, 4096),
		})
	if res.Error != nil {
		return fmt.Errorf("setting shot status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return notFound("shot", id)
	}
	return nil
}

func (r *scriptRepo) DeleteShot(ctx context.Context, id models.ULID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var inFlight int64
		err := tx.Model(&models.Transition{}).
			Where("(from_shot_id = ? OR to_shot_id = ?)", id, id).
			Where("status = ? AND external_task_id <> ''", models.ArtifactStatusProcessing).
			Count(&inFlight).Error
		if err != nil {
			return fmt.Errorf("checking in-flight transitions: %w", err)
		}
		if inFlight > 0 {
			return models.NewError(models.ErrKindConflict,
				fmt.Sprintf("shot %s has an in-flight transition video", id))
		}

		var transitionIDs []models.ULID
		if err := tx.Model(&models.Transition{}).
			Where("from_shot_id = ? OR to_shot_id = ?", id, id).
			Pluck("id", &transitionIDs).Error; err != nil {
			return fmt.Errorf("listing transitions: %w", err)
		}
		if err := markOrphaned(tx, transitionIDs); err != nil {
			return err
		}
		if err := markOrphaned(tx, []models.ULID{id}); err != nil {
			return err
		}
		if err := tx.Where("from_shot_id = ? OR to_shot_id = ?", id, id).
			Delete(&models.Transition{}).Error; err != nil {
			return fmt.Errorf("deleting transitions: %w", err)
		}

		res := tx.Delete(&models.Shot{}, "id = ?", id)
		if res.Error != nil {
			return fmt.Errorf("deleting shot: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return notFound("shot", id)
		}
		return nil
	})
}
