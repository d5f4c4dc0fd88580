package repository

import (
	"gorm.io/gorm"

	"edulearn_backend/internal/model"
)

type MessageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

func (r *MessageRepository) Create(tx *gorm.DB, msg *model.Message) error {
	if tx == nil {
		tx = r.db
	}
	return tx.Create(msg).Error
}

func (r *MessageRepository) ListByThread(threadID string) ([]model.Message, error) {
	var msgs []model.Message
	err := r.db.Where("thread_id = ?", threadID).Order("created_at ASC, id ASC").Find(&msgs).Error
	return msgs, err
}
