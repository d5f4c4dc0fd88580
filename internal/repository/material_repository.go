package repository

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"edulearn_backend/internal/model"
)

type MaterialRepository struct {
	db *gorm.DB
}

func NewMaterialRepository(db *gorm.DB) *MaterialRepository {
	return &MaterialRepository{db: db}
}

func (r *MaterialRepository) FindByID(id uint) (*model.Material, error) {
	var material model.Material
	err := r.db.First(&material, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &material, nil
}

// ListByCourse 课程下的生效材料，按顺序，空值最后
func (r *MaterialRepository) ListByCourse(courseID uint) ([]model.Material, error) {
	var materials []model.Material
	err := r.db.Where("course_id = ? AND is_active = ?", courseID, true).
		Order("CASE WHEN order_number IS NULL THEN 1 ELSE 0 END, order_number ASC, id ASC").
		Find(&materials).Error
	return materials, err
}

func (r *MaterialRepository) FindProgress(userID, materialID uint) (*model.MaterialProgress, error) {
	var progress model.MaterialProgress
	err := r.db.Where("user_id = ? AND material_id = ?", userID, materialID).First(&progress).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &progress, nil
}

// MarkCompleted 标记材料完成，重复调用保留首次完成时间
func (r *MaterialRepository) MarkCompleted(tx *gorm.DB, userID, materialID uint, now time.Time) (*model.MaterialProgress, error) {
	if tx == nil {
		tx = r.db
	}
	var progress model.MaterialProgress
	err := tx.Where("user_id = ? AND material_id = ?", userID, materialID).First(&progress).Error
	if err == nil {
		return &progress, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	progress = model.MaterialProgress{
		UserID:      userID,
		MaterialID:  materialID,
		CompletedAt: now,
	}
	if err := tx.Create(&progress).Error; err != nil {
		return nil, err
	}
	return &progress, nil
}

func (r *MaterialRepository) Save(material *model.Material) error {
	return r.db.Save(material).Error
}

// CompletedMaterialIDs 已完成的材料 ID 集合
func (r *MaterialRepository) CompletedMaterialIDs(userID uint, materialIDs []uint) ([]uint, error) {
	if len(materialIDs) == 0 {
		return nil, nil
	}
	var ids []uint
	err := r.db.Model(&model.MaterialProgress{}).
		Where("user_id = ? AND material_id IN ?", userID, materialIDs).
		Pluck("material_id", &ids).Error
	return ids, err
}
