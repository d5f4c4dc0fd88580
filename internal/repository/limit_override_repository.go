package repository

import (
	"errors"

	"gorm.io/gorm"

	"edulearn_backend/internal/model"
)

type LimitOverrideRepository struct {
	db *gorm.DB
}

func NewLimitOverrideRepository(db *gorm.DB) *LimitOverrideRepository {
	return &LimitOverrideRepository{db: db}
}

func (r *LimitOverrideRepository) Find(studentID, taskID uint) (*model.StudentTaskLimitOverride, error) {
	var override model.StudentTaskLimitOverride
	err := r.db.Where("student_id = ? AND task_id = ?", studentID, taskID).First(&override).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &override, nil
}

// Upsert 已存在则更新上限与原因
func (r *LimitOverrideRepository) Upsert(tx *gorm.DB, override *model.StudentTaskLimitOverride) error {
	if tx == nil {
		tx = r.db
	}
	var existing model.StudentTaskLimitOverride
	err := tx.Where("student_id = ? AND task_id = ?", override.StudentID, override.TaskID).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return tx.Create(override).Error
	}
	if err != nil {
		return err
	}
	existing.MaxAttempts = override.MaxAttempts
	existing.SetBy = override.SetBy
	existing.Reason = override.Reason
	if err := tx.Save(&existing).Error; err != nil {
		return err
	}
	*override = existing
	return nil
}
