package models

// Character is a project-scoped cast member. Name is unique within its
// project; shots reference characters by exact name, so renames must be
// explicit. GeneratedPrompt holds the three-view reference-sheet prompt
// produced during extraction.
type Character struct {
	BaseModel

	ProjectID ULID   `gorm:"type:varchar(26);not null;index:idx_characters_project_name,unique" json:"project_id"`
	Name      string `gorm:"not null;size:100;index:idx_characters_project_name,unique" json:"name"`

	RoleDescription string `gorm:"type:text" json:"role_description,omitempty"`
	VisualTraits    string `gorm:"type:text" json:"visual_traits,omitempty"`
	KeyVisualTraits string `gorm:"type:text" json:"key_visual_traits,omitempty"`
	DialogueTraits  string `gorm:"type:text" json:"dialogue_traits,omitempty"`

	GeneratedPrompt string     `gorm:"type:text" json:"generated_prompt,omitempty"`
	AvatarURL       string     `gorm:"size:500" json:"avatar_url,omitempty"`
	ReferenceImages StringList `gorm:"type:text;serializer:json" json:"reference_images,omitempty"`

	Status       ArtifactStatus `gorm:"not null;default:'pending';size:20;index" json:"status"`
	ErrorMessage string         `gorm:"size:4096" json:"error_message,omitempty"`

	Version int `gorm:"default:0" json:"version"`
}

// TableName returns the table name for Character.
func (Character) TableName() string {
	return "characters"
}

// Validate checks required fields.
func (c *Character) Validate() error {
	if c.Name == "" {
		return ErrNameRequired
	}
	if c.ProjectID.IsZero() {
		return ErrProjectIDRequired
	}
	return nil
}
