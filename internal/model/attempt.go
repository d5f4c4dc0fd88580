package model

import (
	"encoding/json"
	"time"
)

// Attempt 一次做题会话。Meta 为 JSON 字符串，结构见 AttemptMeta
type Attempt struct {
	ID           uint       `gorm:"primarykey" json:"id"`
	UserID       uint       `gorm:"not null;index:idx_attempt_user" json:"user_id"`
	CourseID     *uint      `gorm:"index" json:"course_id"`
	Meta         string     `gorm:"type:text" json:"meta"`
	SourceSystem string     `gorm:"size:64;default:'lms'" json:"source_system"`
	TimeExpired  bool       `gorm:"default:false" json:"time_expired"`
	CancelReason *string    `gorm:"size:255" json:"cancel_reason"`
	CreatedAt    time.Time  `json:"created_at"`
	FinishedAt   *time.Time `json:"finished_at"`
	CancelledAt  *time.Time `json:"cancelled_at"`
}

func (Attempt) TableName() string {
	return "attempts"
}

// IsOpen 未完成且未取消
func (a *Attempt) IsOpen() bool {
	return a.FinishedAt == nil && a.CancelledAt == nil
}

// AttemptMeta attempts.meta 的结构化视图
type AttemptMeta struct {
	TaskIDs          []uint `json:"task_ids,omitempty"`
	TimeLimitSeconds int    `json:"time_limit_seconds,omitempty"`
}

func (a *Attempt) DecodeMeta() (AttemptMeta, error) {
	var m AttemptMeta
	if a.Meta == "" {
		return m, nil
	}
	err := json.Unmarshal([]byte(a.Meta), &m)
	return m, err
}

func (a *Attempt) EncodeMeta(m AttemptMeta) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	a.Meta = string(data)
	return nil
}
