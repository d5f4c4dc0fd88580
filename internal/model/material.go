package model

import "time"

type Material struct {
	BaseModel
	CourseID    uint   `gorm:"not null;index" json:"course_id"`
	Title       string `gorm:"size:255;not null" json:"title"`
	ContentURL  string `gorm:"size:512" json:"content_url"`
	OrderNumber *int   `json:"order_number"`
	IsActive    bool   `gorm:"default:true" json:"is_active"`
}

func (Material) TableName() string {
	return "materials"
}

// MaterialProgress 材料完成标记，首次完成时间不可覆盖
type MaterialProgress struct {
	BaseModel
	UserID      uint      `gorm:"not null;uniqueIndex:idx_material_user" json:"user_id"`
	MaterialID  uint      `gorm:"not null;uniqueIndex:idx_material_user" json:"material_id"`
	CompletedAt time.Time `gorm:"not null" json:"completed_at"`
}

func (MaterialProgress) TableName() string {
	return "material_progress"
}
