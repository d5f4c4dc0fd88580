package model

type Role string

const (
	RoleStudent   Role = "student"
	RoleTeacher   Role = "teacher"
	RoleMethodist Role = "methodist"
	RoleAdmin     Role = "admin"
)

type User struct {
	BaseModel
	Name     string `gorm:"size:255;not null" json:"name"`
	Email    string `gorm:"size:255;uniqueIndex" json:"email"`
	Role     Role   `gorm:"size:32;not null;default:'student'" json:"role"`
	IsActive bool   `gorm:"default:true" json:"is_active"`
}

func (User) TableName() string {
	return "users"
}

// StudentTeacherLink 学生与教师的直接关联（个人辅导关系）
type StudentTeacherLink struct {
	BaseModel
	StudentID uint `gorm:"not null;uniqueIndex:idx_student_teacher" json:"student_id"`
	TeacherID uint `gorm:"not null;uniqueIndex:idx_student_teacher" json:"teacher_id"`
}

func (StudentTeacherLink) TableName() string {
	return "student_teacher_links"
}
