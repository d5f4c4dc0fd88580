package repository

import (
	"errors"

	"gorm.io/gorm"

	"edulearn_backend/internal/model"
)

type AttemptRepository struct {
	db *gorm.DB
}

func NewAttemptRepository(db *gorm.DB) *AttemptRepository {
	return &AttemptRepository{db: db}
}

func (r *AttemptRepository) Create(attempt *model.Attempt) error {
	return r.db.Create(attempt).Error
}

func (r *AttemptRepository) FindByID(id uint) (*model.Attempt, error) {
	var attempt model.Attempt
	err := r.db.First(&attempt, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &attempt, nil
}

// FindOpenByUserCourse 查找用户在某课程下未结束的会话
func (r *AttemptRepository) FindOpenByUserCourse(tx *gorm.DB, userID uint, courseID *uint) (*model.Attempt, error) {
	if tx == nil {
		tx = r.db
	}
	q := tx.Where("user_id = ? AND finished_at IS NULL AND cancelled_at IS NULL", userID)
	if courseID != nil {
		q = q.Where("course_id = ?", *courseID)
	} else {
		q = q.Where("course_id IS NULL")
	}
	var attempt model.Attempt
	err := q.Order("created_at ASC").First(&attempt).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &attempt, nil
}

// ListOpenByUser 用户所有未结束的会话
func (r *AttemptRepository) ListOpenByUser(userID uint) ([]model.Attempt, error) {
	var attempts []model.Attempt
	err := r.db.Where("user_id = ? AND finished_at IS NULL AND cancelled_at IS NULL", userID).
		Order("created_at ASC").
		Find(&attempts).Error
	return attempts, err
}

// ListOpen 全部未结束的会话，供超时清扫脚本使用
func (r *AttemptRepository) ListOpen() ([]model.Attempt, error) {
	var attempts []model.Attempt
	err := r.db.Where("finished_at IS NULL AND cancelled_at IS NULL").
		Order("created_at ASC").
		Find(&attempts).Error
	return attempts, err
}

func (r *AttemptRepository) ListByUser(userID uint, courseID *uint, limit, offset int) ([]model.Attempt, int64, error) {
	filter := func(q *gorm.DB) *gorm.DB {
		q = q.Where("user_id = ?", userID)
		if courseID != nil {
			q = q.Where("course_id = ?", *courseID)
		}
		return q
	}
	var total int64
	if err := filter(r.db.Model(&model.Attempt{})).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var attempts []model.Attempt
	err := filter(r.db).
		Order("created_at DESC").
		Limit(limit).Offset(offset).
		Find(&attempts).Error
	return attempts, total, err
}

func (r *AttemptRepository) Save(attempt *model.Attempt) error {
	return r.db.Save(attempt).Error
}
