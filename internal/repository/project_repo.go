package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/aicg/aicg/internal/models"
)

// projectRepo implements ProjectRepository using GORM.
type projectRepo struct {
	db *gorm.DB
}

// NewProjectRepository creates a GORM-backed project repository.
func NewProjectRepository(db *gorm.DB) ProjectRepository {
	return &projectRepo{db: db}
}

func (r *projectRepo) Create(ctx context.Context, project *models.Project) error {
	if err := project.Validate(); err != nil {
		return models.WrapError(models.ErrKindValidation, err)
	}
	if err := r.db.WithContext(ctx).Create(project).Error; err != nil {
		return fmt.Errorf("creating project: %w", err)
	}
	return nil
}

func (r *projectRepo) GetByID(ctx context.Context, id models.ULID) (*models.Project, error) {
	var project models.Project
	err := r.db.WithContext(ctx).Preload("Chapters", func(db *gorm.DB) *gorm.DB {
		return db.Order("order_index ASC")
	}).First(&project, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("project", id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting project: %w", err)
	}
	return &project, nil
}

func (r *projectRepo) Update(ctx context.Context, project *models.Project) error {
	if err := project.Validate(); err != nil {
		return models.WrapError(models.ErrKindValidation, err)
	}
	if err := r.db.WithContext(ctx).Save(project).Error; err != nil {
		return fmt.Errorf("updating project: %w", err)
	}
	return nil
}

func (r *projectRepo) Delete(ctx context.Context, id models.ULID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var chapterIDs []models.ULID
		if err := tx.Model(&models.Chapter{}).Where("project_id = ?", id).
			Pluck("id", &chapterIDs).Error; err != nil {
			return fmt.Errorf("listing chapters: %w", err)
		}
		for _, chapterID := range chapterIDs {
			if err := deleteChapterTree(tx, chapterID); err != nil {
				return err
			}
		}

		var characterIDs []models.ULID
		if err := tx.Model(&models.Character{}).Where("project_id = ?", id).
			Pluck("id", &characterIDs).Error; err != nil {
			return fmt.Errorf("listing characters: %w", err)
		}
		if err := markOrphaned(tx, characterIDs); err != nil {
			return err
		}
		if err := tx.Where("project_id = ?", id).Delete(&models.Character{}).Error; err != nil {
			return fmt.Errorf("deleting characters: %w", err)
		}

		res := tx.Delete(&models.Project{}, "id = ?", id)
		if res.Error != nil {
			return fmt.Errorf("deleting project: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return notFound("project", id)
		}
		return nil
	})
}

// deleteChapterTree purges a chapter and everything hanging off it:
// sentences, the script with its scenes, shots and transitions, jobs with
// their tasks, and the assembly record. History rows for purged artifacts
// are orphan-marked, never deleted.
func deleteChapterTree(tx *gorm.DB, chapterID models.ULID) error {
	var sentenceIDs []models.ULID
	if err := tx.Model(&models.Sentence{}).Where("chapter_id = ?", chapterID).
		Pluck("id", &sentenceIDs).Error; err != nil {
		return fmt.Errorf("listing sentences: %w", err)
	}
	if err := markOrphaned(tx, sentenceIDs); err != nil {
		return err
	}
	if err := tx.Where("chapter_id = ?", chapterID).Delete(&models.Sentence{}).Error; err != nil {
		return fmt.Errorf("deleting sentences: %w", err)
	}

	var script models.Script
	err := tx.First(&script, "chapter_id = ?", chapterID).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("getting script: %w", err)
	}
	if err == nil {
		if err := deleteScriptTree(tx, script.ID); err != nil {
			return err
		}
	}

	var jobIDs []models.ULID
	if err := tx.Model(&models.Job{}).Where("chapter_id = ?", chapterID).
		Pluck("id", &jobIDs).Error; err != nil {
		return fmt.Errorf("listing jobs: %w", err)
	}
	if len(jobIDs) > 0 {
		if err := tx.Where("job_id IN ?", jobIDs).Delete(&models.Task{}).Error; err != nil {
			return fmt.Errorf("deleting tasks: %w", err)
		}
		if err := tx.Where("id IN ?", jobIDs).Delete(&models.Job{}).Error; err != nil {
			return fmt.Errorf("deleting jobs: %w", err)
		}
	}

	if err := tx.Where("chapter_id = ?", chapterID).Delete(&models.VideoTask{}).Error; err != nil {
		return fmt.Errorf("deleting video tasks: %w", err)
	}
	if err := tx.Delete(&models.Chapter{}, "id = ?", chapterID).Error; err != nil {
		return fmt.Errorf("deleting chapter: %w", err)
	}
	return nil
}

// deleteScriptTree purges a script with its scenes, shots and transitions,
// orphan-marking history for every removed artifact.
func deleteScriptTree(tx *gorm.DB, scriptID models.ULID) error {
	var sceneIDs []models.ULID
	if err := tx.Model(&models.Scene{}).Where("script_id = ?", scriptID).
		Pluck("id", &sceneIDs).Error; err != nil {
		return fmt.Errorf("listing scenes: %w", err)
	}

	var shotIDs []models.ULID
	if len(sceneIDs) > 0 {
		if err := tx.Model(&models.Shot{}).Where("scene_id IN ?", sceneIDs).
			Pluck("id", &shotIDs).Error; err != nil {
			return fmt.Errorf("listing shots: %w", err)
		}
	}

	var transitionIDs []models.ULID
	if err := tx.Model(&models.Transition{}).Where("script_id = ?", scriptID).
		Pluck("id", &transitionIDs).Error; err != nil {
		return fmt.Errorf("listing transitions: %w", err)
	}

	for _, ids := range [][]models.ULID{sceneIDs, shotIDs, transitionIDs} {
		if err := markOrphaned(tx, ids); err != nil {
			return err
		}
	}

	if err := tx.Where("script_id = ?", scriptID).Delete(&models.Transition{}).Error; err != nil {
		return fmt.Errorf("deleting transitions: %w", err)
	}
	if len(sceneIDs) > 0 {
		if err := tx.Where("scene_id IN ?", sceneIDs).Delete(&models.Shot{}).Error; err != nil {
			return fmt.Errorf("deleting shots: %w", err)
		}
	}
	if err := tx.Where("script_id = ?", scriptID).Delete(&models.Scene{}).Error; err != nil {
		return fmt.Errorf("deleting scenes: %w", err)
	}
	if err := tx.Delete(&models.Script{}, "id = ?", scriptID).Error; err != nil {
		return fmt.Errorf("deleting script: %w", err)
	}
	return nil
}
