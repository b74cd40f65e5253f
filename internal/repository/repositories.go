package repository

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/aicg/aicg/internal/database"
	"github.com/aicg/aicg/internal/models"
)

// New wires every repository over a single database handle.
func New(db *database.DB) *Repositories {
	g := db.DB
	return &Repositories{
		Projects:    NewProjectRepository(g),
		Chapters:    NewChapterRepository(g),
		Sentences:   NewSentenceRepository(g),
		Scripts:     NewScriptRepository(g),
		Transitions: NewTransitionRepository(g),
		Characters:  NewCharacterRepository(g),
		APIKeys:     NewAPIKeyRepository(g),
		History:     NewHistoryRepository(g),
		Jobs:        NewJobRepository(g),
		Tasks:       NewTaskRepository(g),
		VideoTasks:  NewVideoTaskRepository(g),
	}
}

// historyTarget maps a resource type to the table and columns that hold
// its live URL, prompt and version.
type historyTarget struct {
	table     string
	urlCol    string
	promptCol string
}

var historyTargets = map[models.ResourceType]historyTarget{
	models.ResourceSentenceImage:    {table: "sentences", urlCol: "image_url", promptCol: "image_prompt"},
	models.ResourceSentenceAudio:    {table: "sentences", urlCol: "audio_url", promptCol: "voice_prompt"},
	models.ResourceSceneImage:       {table: "scenes", urlCol: "scene_image_url", promptCol: "image_prompt"},
	models.ResourceShotKeyframe:     {table: "shots", urlCol: "keyframe_url", promptCol: "keyframe_prompt"},
	models.ResourceCharacterAvatar:  {table: "characters", urlCol: "avatar_url", promptCol: "generated_prompt"},
	models.ResourceTransitionVideo:  {table: "transitions", urlCol: "video_url", promptCol: "video_prompt"},
}

// appendHistory records the displaced generation inside the caller's
// transaction. A blank prior URL means the artifact had never been
// generated, so nothing is recorded.
func appendHistory(tx *gorm.DB, rt models.ResourceType, resourceID models.ULID, priorURL, priorPrompt, priorModel string) error {
	if priorURL == "" {
		return nil
	}
	row := &models.GenerationHistory{
		ResourceType: rt,
		ResourceID:   resourceID,
		URL:          priorURL,
		Prompt:       priorPrompt,
		Model:        priorModel,
	}
	if err := tx.Create(row).Error; err != nil {
		return fmt.Errorf("appending generation history: %w", err)
	}
	return nil
}

// markOrphaned flags history rows whose parent artifacts are being purged.
// ULIDs are globally unique, so no resource-type filter is needed.
func markOrphaned(tx *gorm.DB, resourceIDs []models.ULID) error {
	if len(resourceIDs) == 0 {
		return nil
	}
	if err := tx.Model(&models.GenerationHistory{}).
		Where("resource_id IN ?", resourceIDs).
		Update("orphaned", true).Error; err != nil {
		return fmt.Errorf("orphaning generation history: %w", err)
	}
	return nil
}

// notFound builds the typed not-found error every repository returns for
// missing rows.
func notFound(entity string, id models.ULID) error {
	return models.NewError(models.ErrKindNotFound, fmt.Sprintf("%s %s not found", entity, id))
}
