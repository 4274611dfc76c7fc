package models

import "time"

// UserMessageLog records one row per message an authenticated user sends.
// The rolling 24-hour quota is derived by counting rows with SentAt within
// the window; rows are never updated.
type UserMessageLog struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	UserID      uint      `gorm:"column:user_id;not null;index:idx_user_sent" json:"user_id"`
	AssistantID string    `gorm:"column:assistant_id;type:char(36);not null" json:"assistant_id"`
	SentAt      time.Time `gorm:"column:sent_at;not null;index:idx_user_sent" json:"sent_at"`
}

func (UserMessageLog) TableName() string {
	return "user_message_log"
}
