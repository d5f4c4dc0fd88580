package repository

import (
	"time"

	"gorm.io/gorm"

	"edulearn_backend/internal/model"
)

type LearningEventRepository struct {
	db *gorm.DB
}

func NewLearningEventRepository(db *gorm.DB) *LearningEventRepository {
	return &LearningEventRepository{db: db}
}

func (r *LearningEventRepository) Create(tx *gorm.DB, event *model.LearningEvent) error {
	if tx == nil {
		tx = r.db
	}
	return tx.Create(event).Error
}

// FindRecentByType 去重窗口内同学生同类型的事件，新的在前
func (r *LearningEventRepository) FindRecentByType(tx *gorm.DB, studentID uint, eventType model.EventType, since time.Time) ([]model.LearningEvent, error) {
	if tx == nil {
		tx = r.db
	}
	var events []model.LearningEvent
	err := tx.Where("student_id = ? AND event_type = ? AND created_at >= ?", studentID, eventType, since).
		Order("created_at DESC, id DESC").
		Find(&events).Error
	return events, err
}

func (r *LearningEventRepository) FindByID(id uint) (*model.LearningEvent, error) {
	var event model.LearningEvent
	err := r.db.First(&event, id).Error
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *LearningEventRepository) ListByStudent(studentID uint, limit, offset int) ([]model.LearningEvent, error) {
	var events []model.LearningEvent
	err := r.db.Where("student_id = ?", studentID).
		Order("created_at DESC, id DESC").
		Limit(limit).Offset(offset).
		Find(&events).Error
	return events, err
}
