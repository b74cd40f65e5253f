package models

// StringList is a JSON-serialized string slice column.
type StringList []string

// ScriptStatus tracks script generation.
type ScriptStatus string

const (
	// ScriptStatusPending means generation has not started.
	ScriptStatusPending ScriptStatus = "pending"
	// ScriptStatusGenerating means extraction is in flight.
	ScriptStatusGenerating ScriptStatus = "generating"
	// ScriptStatusCompleted means scenes and shots exist.
	ScriptStatusCompleted ScriptStatus = "completed"
	// ScriptStatusFailed means extraction failed.
	ScriptStatusFailed ScriptStatus = "failed"
)

// Script is the movie-pipeline screenplay for one chapter. Exactly one
// script exists per chapter; it owns ordered scenes.
type Script struct {
	BaseModel

	ChapterID ULID         `gorm:"type:varchar(26);not null;uniqueIndex" json:"chapter_id"`
	Status    ScriptStatus `gorm:"not null;default:'pending';size:20;index" json:"status"`

	Scenes []Scene `gorm:"foreignKey:ScriptID;constraint:OnDelete:CASCADE" json:"scenes,omitempty"`
}

// TableName returns the table name for Script.
func (Script) TableName() string {
	return "scripts"
}

// Scene is an ordered group of shots sharing a location and time.
type Scene struct {
	BaseModel

	ScriptID   ULID `gorm:"type:varchar(26);not null;index" json:"script_id"`
	OrderIndex int  `gorm:"not null" json:"order_index"`

	Location    string `gorm:"size:200" json:"location,omitempty"`
	TimeOfDay   string `gorm:"size:50" json:"time_of_day,omitempty"`
	Atmosphere  string `gorm:"size:200" json:"atmosphere,omitempty"`
	Description string `gorm:"type:text" json:"description,omitempty"`

	// SceneImageURL is the environment-only establishing image.
	SceneImageURL string `gorm:"size:500" json:"scene_image_url,omitempty"`
	ImagePrompt   string `gorm:"type:text" json:"image_prompt,omitempty"`

	Version int `gorm:"default:0" json:"version"`

	Shots []Shot `gorm:"foreignKey:SceneID;constraint:OnDelete:CASCADE" json:"shots,omitempty"`
}

// TableName returns the table name for Scene.
func (Scene) TableName() string {
	return "scenes"
}

// Shot is the smallest filmable unit: one keyframe plus optional dialogue.
// CharacterRefs holds character names referenced by this shot; matching is
// exact-string against project characters, dangling names are tolerated.
type Shot struct {
	BaseModel

	SceneID    ULID `gorm:"type:varchar(26);not null;index" json:"scene_id"`
	OrderIndex int  `gorm:"not null" json:"order_index"`

	VisualDescription string     `gorm:"type:text;not null" json:"visual_description"`
	CameraMovement    string     `gorm:"size:200" json:"camera_movement,omitempty"`
	Dialogue          string     `gorm:"type:text" json:"dialogue,omitempty"`
	PerformancePrompt string     `gorm:"type:text" json:"performance_prompt,omitempty"`
	CharacterRefs     StringList `gorm:"type:text;serializer:json" json:"character_refs,omitempty"`

	KeyframePrompt string `gorm:"type:text" json:"keyframe_prompt,omitempty"`
	KeyframeURL    string `gorm:"size:500" json:"keyframe_url,omitempty"`

	// Status tracks keyframe generation for this shot.
	Status       ArtifactStatus `gorm:"not null;default:'pending';size:20;index" json:"status"`
	ErrorMessage string         `gorm:"size:4096" json:"error_message,omitempty"`

	Version int `gorm:"default:0" json:"version"`

	Scene *Scene `gorm:"foreignKey:SceneID" json:"scene,omitempty"`
}

// TableName returns the table name for Shot.
func (Shot) TableName() string {
	return "shots"
}

// ArtifactStatus is the shared lifecycle for generated artifacts.
type ArtifactStatus string

const (
	// ArtifactStatusPending means generation has not started.
	ArtifactStatusPending ArtifactStatus = "pending"
	// ArtifactStatusProcessing means generation is in flight.
	ArtifactStatusProcessing ArtifactStatus = "processing"
	// ArtifactStatusCompleted means the artifact URL is populated.
	ArtifactStatusCompleted ArtifactStatus = "completed"
	// ArtifactStatusFailed means generation failed terminally.
	ArtifactStatusFailed ArtifactStatus = "failed"
)

// Transition is the directed edge between two consecutive shots within a
// script: an interpolated video generated from the two shots' keyframes.
// Exactly one transition exists per consecutive ordered shot pair.
type Transition struct {
	BaseModel

	ScriptID   ULID `gorm:"type:varchar(26);not null;index" json:"script_id"`
	FromShotID ULID `gorm:"type:varchar(26);not null;index" json:"from_shot_id"`
	ToShotID   ULID `gorm:"type:varchar(26);not null;index" json:"to_shot_id"`
	OrderIndex int  `gorm:"not null" json:"order_index"`

	VideoPrompt string `gorm:"type:text" json:"video_prompt,omitempty"`
	VideoURL    string `gorm:"size:500" json:"video_url,omitempty"`

	Status ArtifactStatus `gorm:"not null;default:'pending';size:20;index" json:"status"`

	// ExternalTaskID is the provider-side long-running task handle; the
	// polling sweeper drives it to completion.
	ExternalTaskID string `gorm:"size:100;index" json:"external_task_id,omitempty"`
	APIKeyID       ULID   `gorm:"type:varchar(26)" json:"api_key_id,omitempty"`
	ErrorMessage   string `gorm:"size:4096" json:"error_message,omitempty"`

	Version int `gorm:"default:0" json:"version"`
}

// TableName returns the table name for Transition.
func (Transition) TableName() string {
	return "transitions"
}

// InFlight reports whether the transition has a live external task.
func (t *Transition) InFlight() bool {
	return t.Status == ArtifactStatusProcessing && t.ExternalTaskID != ""
}
