package repository

import (
	"spotlight/backend/internal/models"

	"gorm.io/gorm"
)

type MessageRepository interface {
	Create(message *models.Message) error
	GetConversation(userA, userB int64) ([]models.Message, error)
	GetConversationPaginated(userA, userB int64, limit, offset int) ([]models.Message, error)
}

type GormMessageRepository struct {
	db *gorm.DB
}

func NewGormMessageRepository(db *gorm.DB) *GormMessageRepository {
	return &GormMessageRepository{db: db}
}

func (r *GormMessageRepository) Create(message *models.Message) error {
	return r.db.Create(message).Error
}

// GetConversation returns every message exchanged between the two users,
// regardless of direction, in chronological order.
func (r *GormMessageRepository) GetConversation(userA, userB int64) ([]models.Message, error) {
	var messages []models.Message
	err := r.db.
		Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)",
			userA, userB, userB, userA).
		Order("created_at ASC").
		Find(&messages).Error
	return messages, err
}

// GetConversationPaginated returns one page of the conversation in
// chronological order. Bounds the fetch for conversations too large to load
// whole.
func (r *GormMessageRepository) GetConversationPaginated(userA, userB int64, limit, offset int) ([]models.Message, error) {
	var messages []models.Message
	err := r.db.
		Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)",
			userA, userB, userB, userA).
		Order("created_at ASC").
		Limit(limit).
		Offset(offset).
		Find(&messages).Error
	return messages, err
}
