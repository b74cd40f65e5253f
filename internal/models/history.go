package models

// ResourceType identifies the artifact family a history row belongs to.
type ResourceType string

const (
	// ResourceSentenceImage is a sentence's image asset.
	ResourceSentenceImage ResourceType = "sentence_image"
	// ResourceSentenceAudio is a sentence's audio asset.
	ResourceSentenceAudio ResourceType = "sentence_audio"
	// ResourceSceneImage is a scene's establishing image.
	ResourceSceneImage ResourceType = "scene_image"
	// ResourceShotKeyframe is a shot's keyframe image.
	ResourceShotKeyframe ResourceType = "shot_keyframe"
	// ResourceCharacterAvatar is a character's avatar image.
	ResourceCharacterAvatar ResourceType = "character_avatar"
	// ResourceTransitionVideo is a transition's generated video.
	ResourceTransitionVideo ResourceType = "transition_video"
	// ResourceChapterVideo is a chapter's assembled final video. Used for
	// object-key pathing; chapter videos keep no generation history.
	ResourceChapterVideo ResourceType = "chapter_video"
)

// GenerationHistory is the append-only log of prior results for an
// artifact. Rows never point upward at the live artifact; the live record
// holds only its current URL. Rows outlive deleted parents and are marked
// orphaned instead of being purged.
type GenerationHistory struct {
	BaseModel

	ResourceType ResourceType `gorm:"not null;size:30;index:idx_history_resource" json:"resource_type"`
	ResourceID   ULID         `gorm:"type:varchar(26);not null;index:idx_history_resource" json:"resource_id"`

	URL      string `gorm:"not null;size:500" json:"url"`
	Prompt   string `gorm:"type:text" json:"prompt,omitempty"`
	Model    string `gorm:"size:100" json:"model,omitempty"`
	Orphaned bool   `gorm:"default:false;index" json:"orphaned"`
}

// TableName returns the table name for GenerationHistory.
func (GenerationHistory) TableName() string {
	return "generation_history"
}
