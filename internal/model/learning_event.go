package model

import (
	"encoding/json"
	"time"
)

type EventType string

const (
	EventHelpRequested     EventType = "help_requested"
	EventHintOpen          EventType = "hint_open"
	EventAttemptStarted    EventType = "attempt_started"
	EventAttemptFinished   EventType = "attempt_finished"
	EventAttemptCancelled  EventType = "attempt_cancelled"
	EventDeadlineExpired   EventType = "deadline_expired"
	EventLimitOverrideSet  EventType = "limit_override_set"
	EventMaterialCompleted EventType = "material_completed"
)

// LearningEvent 学习行为事件，追加写入，payload 为 JSON 字符串
type LearningEvent struct {
	ID           uint      `gorm:"primarykey" json:"id"`
	EventType    EventType `gorm:"size:64;not null;index:idx_event_type" json:"event_type"`
	StudentID    uint      `gorm:"not null;index:idx_event_student" json:"student_id"`
	CourseID     *uint     `json:"course_id"`
	TaskID       *uint     `json:"task_id"`
	AttemptID    *uint     `json:"attempt_id"`
	Payload      string    `gorm:"type:text" json:"payload"`
	SourceSystem string    `gorm:"size:64;default:'lms'" json:"source_system"`
	CreatedAt    time.Time `gorm:"index:idx_event_created" json:"created_at"`
}

func (LearningEvent) TableName() string {
	return "learning_events"
}

func (e *LearningEvent) DecodePayload() (map[string]interface{}, error) {
	out := map[string]interface{}{}
	if e.Payload == "" {
		return out, nil
	}
	err := json.Unmarshal([]byte(e.Payload), &out)
	return out, err
}
