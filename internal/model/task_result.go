package model

import "time"

// TaskResult 单题提交结果。IsCorrect 为空表示等待人工评审
type TaskResult struct {
	ID           uint      `gorm:"primarykey" json:"id"`
	AttemptID    uint      `gorm:"not null;index:idx_result_attempt" json:"attempt_id"`
	TaskID       uint      `gorm:"not null;index:idx_result_task" json:"task_id"`
	UserID       uint      `gorm:"not null;index:idx_result_user" json:"user_id"`
	Answer       string    `gorm:"type:text" json:"answer"` // JSON: 学生作答原文
	Score        float64   `gorm:"default:0" json:"score"`
	MaxScore     float64   `gorm:"default:1" json:"max_score"`
	IsCorrect    *bool     `json:"is_correct"`
	SourceSystem string    `gorm:"size:64;default:'lms'" json:"source_system"`
	SubmittedAt  time.Time `gorm:"not null" json:"submitted_at"`

	// 人工评审字段
	CheckedAt *time.Time `json:"checked_at"`
	CheckedBy *uint      `json:"checked_by"`

	// 评审工单租约
	ReviewClaimedBy      *uint      `json:"review_claimed_by"`
	ReviewClaimToken     *string    `gorm:"size:128" json:"-"`
	ReviewClaimExpiresAt *time.Time `json:"review_claim_expires_at"`
}

func (TaskResult) TableName() string {
	return "task_results"
}
