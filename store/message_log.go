package store

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/RadAdrian/ai-marketplace-app/models"
)

// MessageLogStore is the authoritative usage log backing the authenticated
// rolling-window quota.
type MessageLogStore struct {
	db *gorm.DB
}

func NewMessageLogStore(db *gorm.DB) *MessageLogStore {
	return &MessageLogStore{db: db}
}

// Insert appends one row with a server-assigned timestamp.
func (s *MessageLogStore) Insert(ctx context.Context, userID uint, assistantID string) error {
	row := models.UserMessageLog{
		UserID:      userID,
		AssistantID: assistantID,
		SentAt:      time.Now(),
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

func (s *MessageLogStore) CountSince(ctx context.Context, userID uint, since time.Time) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.UserMessageLog{}).
		Where("user_id = ? AND sent_at >= ?", userID, since).
		Count(&count).Error
	return count, err
}
