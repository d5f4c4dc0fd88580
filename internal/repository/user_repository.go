package repository

import (
	"errors"

	"gorm.io/gorm"

	"edulearn_backend/internal/model"
)

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) FindByID(id uint) (*model.User, error) {
	var user model.User
	err := r.db.First(&user, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// AssignedTeacherID 学生的带教教师，不存在返回 nil
func (r *UserRepository) AssignedTeacherID(studentID uint) (*uint, error) {
	var link model.StudentTeacherLink
	err := r.db.Where("student_id = ?", studentID).Order("id ASC").First(&link).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &link.TeacherID, nil
}

// IsLinked 学生与教师是否存在带教关系
func (r *UserRepository) IsLinked(studentID, teacherID uint) (bool, error) {
	var count int64
	err := r.db.Model(&model.StudentTeacherLink{}).
		Where("student_id = ? AND teacher_id = ?", studentID, teacherID).
		Count(&count).Error
	return count > 0, err
}

// IsMethodist 用户角色是否为教研员（看见全部队列）
func (r *UserRepository) IsMethodist(userID uint) (bool, error) {
	var user model.User
	err := r.db.Select("role").First(&user, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return user.Role == model.RoleMethodist, nil
}
