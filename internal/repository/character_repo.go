package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/aicg/aicg/internal/models"
)

// characterRepo implements CharacterRepository using GORM.
type characterRepo struct {
	db *gorm.DB
}

// NewCharacterRepository creates a GORM-backed character repository.
func NewCharacterRepository(db *gorm.DB) CharacterRepository {
	return &characterRepo{db: db}
}

func (r *characterRepo) Create(ctx context.Context, character *models.Character) error {
	if err := character.Validate(); err != nil {
		return models.WrapError(models.ErrKindValidation, err)
	}
	err := r.db.WithContext(ctx).Create(character).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return models.NewError(models.ErrKindConflict,
				fmt.Sprintf("character %q already exists in project %s", character.Name, character.ProjectID))
		}
		return fmt.Errorf("creating character: %w", err)
	}
	return nil
}

func (r *characterRepo) GetByID(ctx context.Context, id models.ULID) (*models.Character, error) {
	var character models.Character
	err := r.db.WithContext(ctx).First(&character, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("character", id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting character: %w", err)
	}
	return &character, nil
}

func (r *characterRepo) GetByName(ctx context.Context, projectID models.ULID, name string) (*models.Character, error) {
	var character models.Character
	err := r.db.WithContext(ctx).
		First(&character, "project_id = ? AND name = ?", projectID, name).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting character by name: %w", err)
	}
	return &character, nil
}

func (r *characterRepo) GetByProjectID(ctx context.Context, projectID models.ULID) ([]*models.Character, error) {
	var characters []*models.Character
	err := r.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("name ASC").
		Find(&characters).Error
	if err != nil {
		return nil, fmt.Errorf("listing characters: %w", err)
	}
	return characters, nil
}

func (r *characterRepo) Update(ctx context.Context, character *models.Character) error {
	err := r.db.WithContext(ctx).Save(character).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return models.NewError(models.ErrKindConflict,
				fmt.Sprintf("character %q already exists in project %s", character.Name, character.ProjectID))
		}
		return fmt.Errorf("updating character: %w", err)
	}
	return nil
}

func (r *characterRepo) UpdateAvatar(ctx context.Context, id models.ULID, upd ArtifactUpdate) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var character models.Character
		err := tx.First(&character, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return notFound("character", id)
		}
		if err != nil {
			return fmt.Errorf("getting character: %w", err)
		}
		if err := appendHistory(tx, models.ResourceCharacterAvatar, id, character.AvatarURL, character.GeneratedPrompt, ""); err != nil {
			return err
		}
		if err := tx.Model(&character).Updates(map[string]any{
			"avatar_url":       upd.URL,
			"generated_prompt": upd.Prompt,
			"status":           models.ArtifactStatusCompleted,
			"error_message":    "",
			"version":          gorm.Expr("version + 1"),
		}).Error; err != nil {
			return fmt.Errorf("updating character avatar: %w", err)
		}
		return nil
	})
}

func (r *characterRepo) SetStatus(ctx context.Context, id models.ULID, status models.ArtifactStatus, errMsg string) error {
	res := r.db.WithContext(ctx).Model(&models.Character{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        status,
			"error_message": models.Truncate(errMsg, 4096),
		})
	if res.Error != nil {
		return fmt.Errorf("setting character status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return notFound("character", id)
	}
	return nil
}

func (r *characterRepo) Delete(ctx context.Context, id models.ULID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := markOrphaned(tx, []models.ULID{id}); err != nil {
			return err
		}
		res := tx.Delete(&models.Character{}, "id = ?", id)
		if res.Error != nil {
			return fmt.Errorf("deleting character: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return notFound("character", id)
		}
		return nil
	})
}
