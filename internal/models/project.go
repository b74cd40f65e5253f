package models

// ProjectType distinguishes the two production pipelines.
type ProjectType string

const (
	// ProjectTypeNarrative produces an image+voice explanation video.
	ProjectTypeNarrative ProjectType = "narrative"
	// ProjectTypeMovie produces a multi-shot stylized film.
	ProjectTypeMovie ProjectType = "movie"
)

// Project is a user-owned container of chapters.
type Project struct {
	BaseModel

	OwnerID ULID        `gorm:"type:varchar(26);index" json:"owner_id"`
	Name    string      `gorm:"not null;size:255" json:"name"`
	Type    ProjectType `gorm:"not null;default:'narrative';size:20;index" json:"type"`

	Chapters []Chapter `gorm:"foreignKey:ProjectID;constraint:OnDelete:CASCADE" json:"chapters,omitempty"`
}

// TableName returns the table name for Project.
func (Project) TableName() string {
	return "projects"
}

// Validate checks required fields.
func (p *Project) Validate() error {
	if p.Name == "" {
		return ErrNameRequired
	}
	if p.Type != ProjectTypeNarrative && p.Type != ProjectTypeMovie {
		return ErrInvalidProjectType
	}
	return nil
}
