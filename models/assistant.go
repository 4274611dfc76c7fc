package models

import (
	"time"

	"gorm.io/datatypes"
)

// Assistant is a selectable AI profile. Rows with a NULL UserID are public
// templates visible to everyone; rows with a UserID are custom assistants
// owned by that user.
type Assistant struct {
	ID           string         `gorm:"primaryKey;type:char(36)" json:"id"`
	Name         string         `gorm:"size:100;not null" json:"name"`
	Tagline      string         `gorm:"size:255" json:"tagline"`
	Description  string         `gorm:"type:text" json:"description"`
	Category     string         `gorm:"size:50;index" json:"category"`
	Price        string         `gorm:"size:20" json:"price"`
	ImageURL     string         `gorm:"column:image_url;size:512" json:"image_url"`
	Features     datatypes.JSON `gorm:"type:json" json:"features"` // JSON array of strings
	SystemPrompt string         `gorm:"column:system_prompt;type:text;not null" json:"system_prompt"`
	AccentColor  string         `gorm:"column:accent_color;size:50" json:"accent_color"`
	UserID       *uint          `gorm:"column:user_id;index" json:"user_id,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"-"`
}

func (Assistant) TableName() string {
	return "assistants"
}
