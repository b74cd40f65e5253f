package models

// Sentence is an ordered leaf of chapter text in the narrative pipeline.
// The asset fields form the SentenceAsset tuple; DurationMs must hold the
// measured length of AudioURL by the time assembly runs.
type Sentence struct {
	BaseModel

	ChapterID  ULID   `gorm:"type:varchar(26);not null;index" json:"chapter_id"`
	OrderIndex int    `gorm:"not null" json:"order_index"`
	Text       string `gorm:"type:text;not null" json:"text"`

	ImagePrompt  string `gorm:"type:text" json:"image_prompt,omitempty"`
	VoicePrompt  string `gorm:"type:text" json:"voice_prompt,omitempty"`
	ImageURL     string `gorm:"size:500" json:"image_url,omitempty"`
	AudioURL     string `gorm:"size:500" json:"audio_url,omitempty"`
	DurationMs   int64  `json:"duration_ms,omitempty"`
	SubtitleText string `gorm:"type:text" json:"subtitle_text,omitempty"`

	// Version supports optimistic concurrency on asset updates.
	Version int `gorm:"default:0" json:"version"`

	Chapter *Chapter `gorm:"foreignKey:ChapterID" json:"chapter,omitempty"`
}

// TableName returns the table name for Sentence.
func (Sentence) TableName() string {
	return "sentences"
}

// HasAssets reports whether both generation assets exist.
func (s *Sentence) HasAssets() bool {
	return s.ImageURL != "" && s.AudioURL != ""
}
