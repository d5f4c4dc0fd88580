package repository

import (
	"errors"

	"gorm.io/gorm"

	"edulearn_backend/internal/model"
)

type TaskRepository struct {
	db *gorm.DB
}

func NewTaskRepository(db *gorm.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

func (r *TaskRepository) FindByID(id uint) (*model.Task, error) {
	var task model.Task
	err := r.db.First(&task, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func (r *TaskRepository) FindByIDs(ids []uint) ([]model.Task, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var tasks []model.Task
	err := r.db.Where("id IN ?", ids).Find(&tasks).Error
	return tasks, err
}

// ListByCourse 课程下的生效任务，按 id 升序扫描
func (r *TaskRepository) ListByCourse(courseID uint) ([]model.Task, error) {
	var tasks []model.Task
	err := r.db.Where("course_id = ? AND is_active = ?", courseID, true).
		Order("id ASC").
		Find(&tasks).Error
	return tasks, err
}

// ListByCourses 多个课程下的全部生效任务
func (r *TaskRepository) ListByCourses(courseIDs []uint) ([]model.Task, error) {
	if len(courseIDs) == 0 {
		return nil, nil
	}
	var tasks []model.Task
	err := r.db.Where("course_id IN ? AND is_active = ?", courseIDs, true).Find(&tasks).Error
	return tasks, err
}
