package models

// VideoTaskStatus is the assembly pipeline's own stage progression.
type VideoTaskStatus string

const (
	// VideoTaskStatusPending means assembly has not started.
	VideoTaskStatusPending VideoTaskStatus = "pending"
	// VideoTaskStatusValidating means upstream materials are being checked.
	VideoTaskStatusValidating VideoTaskStatus = "validating"
	// VideoTaskStatusDownloading means clips are being fetched.
	VideoTaskStatusDownloading VideoTaskStatus = "downloading"
	// VideoTaskStatusSynthesizing means per-sentence clips are rendering.
	VideoTaskStatusSynthesizing VideoTaskStatus = "synthesizing"
	// VideoTaskStatusConcatenating means the final concat is running.
	VideoTaskStatusConcatenating VideoTaskStatus = "concatenating"
	// VideoTaskStatusUploading means the result is being uploaded.
	VideoTaskStatusUploading VideoTaskStatus = "uploading"
	// VideoTaskStatusCompleted is the terminal success state.
	VideoTaskStatusCompleted VideoTaskStatus = "completed"
	// VideoTaskStatusFailed is the terminal failure state.
	VideoTaskStatusFailed VideoTaskStatus = "failed"
)

// MaxBGMVolume caps background music gain during mixing.
const MaxBGMVolume = 0.5

// DefaultBGMVolume is the gain used when music is set without choosing
// a volume.
const DefaultBGMVolume = 0.15

// VideoTask is the terminal assembly record for a chapter.
type VideoTask struct {
	BaseModel

	ChapterID ULID `gorm:"type:varchar(26);not null;index" json:"chapter_id"`

	Resolution string `gorm:"size:20;default:'1920x1080'" json:"resolution"`
	FPS        int    `gorm:"default:24" json:"fps"`
	BGMRef     string `gorm:"size:500" json:"bgm_ref,omitempty"`

	// BGMVolume is a pointer so an explicit zero (mute the music bed)
	// survives persistence; nil means the caller left it unset.
	BGMVolume *float64 `json:"bgm_volume,omitempty"`

	Status   VideoTaskStatus `gorm:"not null;default:'pending';size:20;index" json:"status"`
	Progress float64         `gorm:"default:0" json:"progress"`

	CurrentClipIndex int `json:"current_clip_index"`
	TotalClips       int `json:"total_clips"`

	VideoURL     string `gorm:"size:500" json:"video_url,omitempty"`
	DurationMs   int64  `json:"duration_ms,omitempty"`
	ErrorMessage string `gorm:"size:4096" json:"error_message,omitempty"`
}

// TableName returns the table name for VideoTask.
func (VideoTask) TableName() string {
	return "video_tasks"
}

// Validate checks assembly parameters.
func (v *VideoTask) Validate() error {
	if v.ChapterID.IsZero() {
		return ErrChapterIDRequired
	}
	if v.BGMVolume != nil && (*v.BGMVolume < 0 || *v.BGMVolume > MaxBGMVolume) {
		return ErrInvalidBGMVolume
	}
	return nil
}

// EffectiveBGMVolume resolves the mixing gain: unset falls back to the
// default, an explicit zero disables the music bed entirely.
func (v *VideoTask) EffectiveBGMVolume() float64 {
	if v.BGMVolume == nil {
		return DefaultBGMVolume
	}
	return *v.BGMVolume
}

// IsTerminal reports whether assembly has finished.
func (v *VideoTask) IsTerminal() bool {
	return v.Status == VideoTaskStatusCompleted || v.Status == VideoTaskStatusFailed
}
