package store

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/RadAdrian/ai-marketplace-app/models"
)

// AssistantStore serves the catalog: public templates (owner is NULL) for
// guests, the user's own assistants when an owner is given.
type AssistantStore struct {
	db *gorm.DB
}

func NewAssistantStore(db *gorm.DB) *AssistantStore {
	return &AssistantStore{db: db}
}

func (s *AssistantStore) List(ctx context.Context, ownerID *uint) ([]models.Assistant, error) {
	var assistants []models.Assistant
	q := s.db.WithContext(ctx).Order("created_at DESC")
	if ownerID != nil {
		q = q.Where("user_id = ?", *ownerID)
	} else {
		q = q.Where("user_id IS NULL")
	}
	if err := q.Find(&assistants).Error; err != nil {
		return nil, err
	}
	return assistants, nil
}

func (s *AssistantStore) Get(ctx context.Context, id string) (*models.Assistant, error) {
	var assistant models.Assistant
	if err := s.db.WithContext(ctx).First(&assistant, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &assistant, nil
}

// NewAssistantInput is the creatable subset of an assistant profile; id,
// owner and timestamps are assigned here.
type NewAssistantInput struct {
	Name         string
	Tagline      string
	Description  string
	Category     string
	Price        string
	ImageURL     string
	Features     []string
	SystemPrompt string
	AccentColor  string
}

func (s *AssistantStore) Add(ctx context.Context, in NewAssistantInput, ownerID uint) (*models.Assistant, error) {
	features, err := json.Marshal(in.Features)
	if err != nil {
		return nil, err
	}
	assistant := models.Assistant{
		ID:           uuid.NewString(),
		Name:         in.Name,
		Tagline:      in.Tagline,
		Description:  in.Description,
		Category:     in.Category,
		Price:        in.Price,
		ImageURL:     in.ImageURL,
		Features:     features,
		SystemPrompt: in.SystemPrompt,
		AccentColor:  in.AccentColor,
		UserID:       &ownerID,
	}
	if err := s.db.WithContext(ctx).Create(&assistant).Error; err != nil {
		return nil, err
	}
	return &assistant, nil
}
