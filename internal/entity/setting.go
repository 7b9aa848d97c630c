package entity

import "time"

// Setting is one configuration key/value with display metadata. Inactive
// settings are ignored by readers but kept for the admin UI.
type Setting struct {
	Key         string    `gorm:"primaryKey" json:"key"`
	Value       string    `gorm:"type:text" json:"value"`
	Name        string    `json:"name,omitempty"`
	Description string    `gorm:"type:text" json:"description,omitempty"`
	IsActive    bool      `gorm:"not null;default:true" json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
