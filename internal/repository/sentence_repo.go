package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/aicg/aicg/internal/models"
)

// sentenceRepo implements SentenceRepository using GORM.
type sentenceRepo struct {
	db *gorm.DB
}

// NewSentenceRepository creates a GORM-backed sentence repository.
func NewSentenceRepository(db *gorm.DB) SentenceRepository {
	return &sentenceRepo{db: db}
}

func (r *sentenceRepo) CreateBatch(ctx context.Context, sentences []*models.Sentence) error {
	if len(sentences) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).Create(&sentences).Error; err != nil {
		return fmt.Errorf("creating sentences: %w", err)
	}
	return nil
}

func (r *sentenceRepo) GetByID(ctx context.Context, id models.ULID) (*models.Sentence, error) {
	var sentence models.Sentence
	err := r.db.WithContext(ctx).First(&sentence, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("sentence", id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting sentence: %w", err)
	}
	return &sentence, nil
}

func (r *sentenceRepo) GetByChapterID(ctx context.Context, chapterID models.ULID) ([]*models.Sentence, error) {
	var sentences []*models.Sentence
	err := r.db.WithContext(ctx).
		Where("chapter_id = ?", chapterID).
		Order("order_index ASC").
		Find(&sentences).Error
	if err != nil {
		return nil, fmt.Errorf("listing sentences: %w", err)
	}
	return sentences, nil
}

func (r *sentenceRepo) Update(ctx context.Context, sentence *models.Sentence) error {
	if err := r.db.WithContext(ctx).Save(sentence).Error; err != nil {
		return fmt.Errorf("updating sentence: %w", err)
	}
	return nil
}

func (r *sentenceRepo) UpdateImage(ctx context.Context, id models.ULID, upd ArtifactUpdate) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sentence models.Sentence
		err := tx.First(&sentence, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return notFound("sentence", id)
		}
		if err != nil {
			return fmt.Errorf("getting sentence: %w", err)
		}
		if err := appendHistory(tx, models.ResourceSentenceImage, id, sentence.ImageURL, sentence.ImagePrompt, ""); err != nil {
			return err
		}
		if err := tx.Model(&sentence).Updates(map[string]any{
			"image_url":    upd.URL,
			"image_prompt": upd.Prompt,
			"version":      gorm.Expr("version + 1"),
		}).Error; err != nil {
			return fmt.Errorf("updating sentence image: %w", err)
		}
		return nil
	})
}

func (r *sentenceRepo) UpdateAudio(ctx context.Context, id models.ULID, upd ArtifactUpdate, durationMs int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sentence models.Sentence
		err := tx.First(&sentence, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return notFound("sentence", id)
		}
		if err != nil {
			return fmt.Errorf("getting sentence: %w", err)
		}
		if err := appendHistory(tx, models.ResourceSentenceAudio, id, sentence.AudioURL, sentence.VoicePrompt, ""); err != nil {
			return err
		}
		if err := tx.Model(&sentence).Updates(map[string]any{
			"audio_url":    upd.URL,
			"voice_prompt": upd.Prompt,
			"duration_ms":  durationMs,
			"version":      gorm.Expr("version + 1"),
		}).Error; err != nil {
			return fmt.Errorf("updating sentence audio: %w", err)
		}
		return nil
	})
}
