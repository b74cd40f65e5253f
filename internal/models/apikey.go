package models

// APIKeyStatus is the lifecycle of a provider credential.
type APIKeyStatus string

const (
	// APIKeyStatusActive means the credential is usable.
	APIKeyStatusActive APIKeyStatus = "active"
	// APIKeyStatusDisabled means the credential must not be used.
	APIKeyStatusDisabled APIKeyStatus = "disabled"
)

// APIKey is a per-user credential for a named provider. The Secret is
// never surfaced beyond the provider adapter layer; the masq tag keeps it
// out of structured logs.
type APIKey struct {
	BaseModel

	OwnerID  ULID   `gorm:"type:varchar(26);not null;index" json:"owner_id"`
	Name     string `gorm:"not null;size:100" json:"name"`
	Provider string `gorm:"not null;size:50;index" json:"provider"`
	BaseURL  string `gorm:"size:500" json:"base_url,omitempty"`

	Secret string `gorm:"not null;size:500" json:"-" masq:"secret"`

	Status APIKeyStatus `gorm:"not null;default:'active';size:20" json:"status"`
}

// TableName returns the table name for APIKey.
func (APIKey) TableName() string {
	return "api_keys"
}

// Validate checks required fields.
func (k *APIKey) Validate() error {
	if k.Name == "" {
		return ErrNameRequired
	}
	if k.Provider == "" {
		return ErrProviderRequired
	}
	if k.Secret == "" {
		return ErrSecretRequired
	}
	return nil
}

// IsActive reports whether the credential may be used.
func (k *APIKey) IsActive() bool {
	return k.Status == APIKeyStatusActive
}
