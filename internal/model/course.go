package model

// Course 课程节点，通过 CourseParent 形成树状结构
type Course struct {
	BaseModel
	Title       string `gorm:"size:255;not null" json:"title"`
	Description string `gorm:"type:text" json:"description"`
	IsActive    bool   `gorm:"default:true" json:"is_active"`
}

func (Course) TableName() string {
	return "courses"
}

// CourseParent 课程父子关系，一个课程可以有多个父节点
type CourseParent struct {
	BaseModel
	CourseID    uint `gorm:"not null;uniqueIndex:idx_course_parent" json:"course_id"`
	ParentID    uint `gorm:"not null;uniqueIndex:idx_course_parent" json:"parent_id"`
	OrderNumber *int `json:"order_number"`
}

func (CourseParent) TableName() string {
	return "course_parents"
}

// CourseDependency 课程前置依赖，DependsOnID 完成后 CourseID 才解锁
type CourseDependency struct {
	BaseModel
	CourseID    uint `gorm:"not null;uniqueIndex:idx_course_dep" json:"course_id"`
	DependsOnID uint `gorm:"not null;uniqueIndex:idx_course_dep" json:"depends_on_id"`
}

func (CourseDependency) TableName() string {
	return "course_dependencies"
}

// TeacherCourse 教师负责的课程，用于工单的范围校验
type TeacherCourse struct {
	BaseModel
	TeacherID uint `gorm:"not null;uniqueIndex:idx_teacher_course" json:"teacher_id"`
	CourseID  uint `gorm:"not null;uniqueIndex:idx_teacher_course" json:"course_id"`
}

func (TeacherCourse) TableName() string {
	return "teacher_courses"
}

// CoursePlanEntry 学生学习计划中的顶层课程条目
type CoursePlanEntry struct {
	BaseModel
	UserID      uint `gorm:"not null;index:idx_plan_user" json:"user_id"`
	CourseID    uint `gorm:"not null" json:"course_id"`
	IsActive    bool `gorm:"default:true" json:"is_active"`
	OrderNumber *int `json:"order_number"`
}

func (CoursePlanEntry) TableName() string {
	return "course_plan_entries"
}
