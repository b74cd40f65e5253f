package models

// PipelineStatus tracks a chapter's progress through the production
// pipeline. Transitions are monotonic: a chapter only moves forward along
// the ordered enum, except for the failed sink and explicit admin reset.
type PipelineStatus string

const (
	// PipelineStatusDraft is the initial state.
	PipelineStatusDraft PipelineStatus = "draft"
	// PipelineStatusParsed means the chapter text has been split.
	PipelineStatusParsed PipelineStatus = "parsed"
	// PipelineStatusScriptGenerated means scenes and shots exist.
	PipelineStatusScriptGenerated PipelineStatus = "script_generated"
	// PipelineStatusMaterialsPrepared means all generation assets exist.
	PipelineStatusMaterialsPrepared PipelineStatus = "materials_prepared"
	// PipelineStatusCompleted is the terminal success state.
	PipelineStatusCompleted PipelineStatus = "completed"
	// PipelineStatusFailed is the failure sink.
	PipelineStatusFailed PipelineStatus = "failed"
)

// pipelineOrder maps each non-failed status to its position in the
// monotonic progression.
var pipelineOrder = map[PipelineStatus]int{
	PipelineStatusDraft:             0,
	PipelineStatusParsed:            1,
	PipelineStatusScriptGenerated:   2,
	PipelineStatusMaterialsPrepared: 3,
	PipelineStatusCompleted:         4,
}

// Chapter is an ordered slice of project text and the unit of production.
type Chapter struct {
	BaseModel

	ProjectID  ULID   `gorm:"type:varchar(26);not null;index" json:"project_id"`
	OrderIndex int    `gorm:"not null" json:"order_index"`
	Title      string `gorm:"size:255" json:"title"`
	Content    string `gorm:"type:text" json:"content"`

	PipelineStatus PipelineStatus `gorm:"not null;default:'draft';size:30;index" json:"pipeline_status"`

	// VideoURL points at the finished chapter video once assembly completes.
	VideoURL        string `gorm:"size:500" json:"video_url,omitempty"`
	VideoDurationMs int64  `json:"video_duration_ms,omitempty"`

	Project *Project `gorm:"foreignKey:ProjectID" json:"project,omitempty"`
}

// TableName returns the table name for Chapter.
func (Chapter) TableName() string {
	return "chapters"
}

// CanTransitionTo reports whether moving to the target status is a legal
// forward transition. The failed sink is reachable from any state; leaving
// it requires an explicit admin reset (ForceStatus at the repository).
func (c *Chapter) CanTransitionTo(target PipelineStatus) bool {
	if target == PipelineStatusFailed {
		return true
	}
	cur, ok := pipelineOrder[c.PipelineStatus]
	if !ok {
		// Recovering from failed: only a reset to draft is allowed here.
		return target == PipelineStatusDraft
	}
	next, ok := pipelineOrder[target]
	if !ok {
		return false
	}
	return next > cur
}

// IsTerminal reports whether the chapter has finished its pipeline.
func (c *Chapter) IsTerminal() bool {
	return c.PipelineStatus == PipelineStatusCompleted || c.PipelineStatus == PipelineStatusFailed
}
