package models

import (
	"time"

	"gorm.io/datatypes"
)

// Conversation holds the persisted transcript for one (user, assistant)
// pair. History is the full ordered message list as a JSON document; writes
// replace the whole document (last writer wins, no concurrency token).
type Conversation struct {
	ID            uint           `gorm:"primaryKey" json:"id"`
	UserID        uint           `gorm:"column:user_id;not null;uniqueIndex:idx_user_assistant" json:"user_id"`
	AssistantID   string         `gorm:"column:assistant_id;type:char(36);not null;uniqueIndex:idx_user_assistant" json:"assistant_id"`
	History       datatypes.JSON `gorm:"type:json" json:"history"`
	LastUpdatedAt time.Time      `gorm:"column:last_updated_at" json:"last_updated_at"`
	CreatedAt     time.Time      `json:"created_at"`
}

func (Conversation) TableName() string {
	return "user_assistant_conversations"
}
