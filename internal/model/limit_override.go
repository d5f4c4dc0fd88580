package model

// StudentTaskLimitOverride 学生在单个任务上的尝试次数上限覆盖
type StudentTaskLimitOverride struct {
	BaseModel
	StudentID   uint   `gorm:"not null;uniqueIndex:idx_limit_student_task" json:"student_id"`
	TaskID      uint   `gorm:"not null;uniqueIndex:idx_limit_student_task" json:"task_id"`
	MaxAttempts int    `gorm:"not null" json:"max_attempts"`
	SetBy       uint   `gorm:"not null" json:"set_by"`
	Reason      string `gorm:"size:512" json:"reason"`
}

func (StudentTaskLimitOverride) TableName() string {
	return "student_task_limit_overrides"
}
