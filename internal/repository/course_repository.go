package repository

import (
	"errors"

	"gorm.io/gorm"

	"edulearn_backend/internal/model"
)

type CourseRepository struct {
	db *gorm.DB
}

func NewCourseRepository(db *gorm.DB) *CourseRepository {
	return &CourseRepository{db: db}
}

func (r *CourseRepository) FindByID(id uint) (*model.Course, error) {
	var course model.Course
	err := r.db.First(&course, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &course, nil
}

// Children 子课程，按 order_number 排序，空值最后
func (r *CourseRepository) Children(courseID uint) ([]model.Course, error) {
	var courses []model.Course
	err := r.db.
		Joins("JOIN course_parents ON course_parents.course_id = courses.id").
		Where("course_parents.parent_id = ? AND courses.is_active = ?", courseID, true).
		Order("CASE WHEN course_parents.order_number IS NULL THEN 1 ELSE 0 END, course_parents.order_number ASC, courses.id ASC").
		Find(&courses).Error
	return courses, err
}

// SubtreeIDs 根节点及全部后代的 ID，迭代工作表遍历，visited 防环
func (r *CourseRepository) SubtreeIDs(rootID uint) ([]uint, error) {
	visited := map[uint]bool{rootID: true}
	ids := []uint{rootID}
	frontier := []uint{rootID}

	for len(frontier) > 0 {
		var children []uint
		err := r.db.Model(&model.CourseParent{}).
			Where("parent_id IN ?", frontier).
			Pluck("course_id", &children).Error
		if err != nil {
			return nil, err
		}
		frontier = frontier[:0]
		for _, id := range children {
			if visited[id] {
				continue
			}
			visited[id] = true
			ids = append(ids, id)
			frontier = append(frontier, id)
		}
	}
	return ids, nil
}

// Dependencies 课程的前置依赖课程 ID
func (r *CourseRepository) Dependencies(courseID uint) ([]uint, error) {
	var ids []uint
	err := r.db.Model(&model.CourseDependency{}).
		Where("course_id = ?", courseID).
		Pluck("depends_on_id", &ids).Error
	return ids, err
}

// ActivePlanEntries 学生学习计划中的生效条目，按顺序
func (r *CourseRepository) ActivePlanEntries(userID uint) ([]model.CoursePlanEntry, error) {
	var entries []model.CoursePlanEntry
	err := r.db.Where("user_id = ? AND is_active = ?", userID, true).
		Order("CASE WHEN order_number IS NULL THEN 1 ELSE 0 END, order_number ASC, id ASC").
		Find(&entries).Error
	return entries, err
}

// IsTeacherOfCourse 教师是否负责该课程
func (r *CourseRepository) IsTeacherOfCourse(teacherID, courseID uint) (bool, error) {
	var count int64
	err := r.db.Model(&model.TeacherCourse{}).
		Where("teacher_id = ? AND course_id = ?", teacherID, courseID).
		Count(&count).Error
	return count > 0, err
}
