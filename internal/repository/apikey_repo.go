package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/aicg/aicg/internal/models"
)

// apiKeyRepo implements APIKeyRepository using GORM.
type apiKeyRepo struct {
	db *gorm.DB
}

// NewAPIKeyRepository creates a GORM-backed API key repository.
func NewAPIKeyRepository(db *gorm.DB) APIKeyRepository {
	return &apiKeyRepo{db: db}
}

func (r *apiKeyRepo) Create(ctx context.Context, key *models.APIKey) error {
	if err := key.Validate(); err != nil {
		return models.WrapError(models.ErrKindValidation, err)
	}
	if err := r.db.WithContext(ctx).Create(key).Error; err != nil {
		return fmt.Errorf("creating api key: %w", err)
	}
	return nil
}

func (r *apiKeyRepo) GetByID(ctx context.Context, id models.ULID) (*models.APIKey, error) {
	var key models.APIKey
	err := r.db.WithContext(ctx).First(&key, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("api key", id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting api key: %w", err)
	}
	return &key, nil
}

func (r *apiKeyRepo) GetByOwnerID(ctx context.Context, ownerID models.ULID) ([]*models.APIKey, error) {
	var keys []*models.APIKey
	err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at ASC").
		Find(&keys).Error
	if err != nil {
		return nil, fmt.Errorf("listing api keys: %w", err)
	}
	return keys, nil
}

func (r *apiKeyRepo) Update(ctx context.Context, key *models.APIKey) error {
	if err := r.db.WithContext(ctx).Save(key).Error; err != nil {
		return fmt.Errorf("updating api key: %w", err)
	}
	return nil
}

func (r *apiKeyRepo) Delete(ctx context.Context, id models.ULID) error {
	res := r.db.WithContext(ctx).Delete(&models.APIKey{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("deleting api key: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return notFound("api key", id)
	}
	return nil
}
