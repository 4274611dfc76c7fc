package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/RadAdrian/ai-marketplace-app/chat"
	"github.com/RadAdrian/ai-marketplace-app/models"
)

// ConversationStore persists transcripts as one JSON history document per
// (user, assistant) pair. Writes are last-writer-wins; there is no
// optimistic-concurrency token.
type ConversationStore struct {
	db *gorm.DB
}

func NewConversationStore(db *gorm.DB) *ConversationStore {
	return &ConversationStore{db: db}
}

func (s *ConversationStore) Fetch(ctx context.Context, userID uint, assistantID string) ([]chat.Message, error) {
	var conv models.Conversation
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND assistant_id = ?", userID, assistantID).
		First(&conv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if len(conv.History) == 0 {
		return nil, nil
	}
	var history []chat.Message
	if err := json.Unmarshal(conv.History, &history); err != nil {
		return nil, err
	}
	return history, nil
}

func (s *ConversationStore) Upsert(ctx context.Context, userID uint, assistantID string, history []chat.Message) error {
	raw, err := json.Marshal(history)
	if err != nil {
		return err
	}
	conv := models.Conversation{
		UserID:        userID,
		AssistantID:   assistantID,
		History:       raw,
		LastUpdatedAt: time.Now(),
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "assistant_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"history", "last_updated_at"}),
		}).
		Create(&conv).Error
}

func (s *ConversationStore) Delete(ctx context.Context, userID uint, assistantID string) error {
	return s.db.WithContext(ctx).
		Where("user_id = ? AND assistant_id = ?", userID, assistantID).
		Delete(&models.Conversation{}).Error
}
