package model

import "time"

type HelpRequestStatus string

const (
	HelpStatusOpen       HelpRequestStatus = "open"
	HelpStatusInProgress HelpRequestStatus = "in_progress"
	HelpStatusClosed     HelpRequestStatus = "closed"
)

type HelpRequestType string

const (
	HelpTypeManual       HelpRequestType = "manual_help"
	HelpTypeBlockedLimit HelpRequestType = "blocked_limit"
)

// HelpRequest 学生求助工单，教师队列的主要内容
type HelpRequest struct {
	ID          uint              `gorm:"primarykey" json:"id"`
	StudentID   uint              `gorm:"not null;index:idx_help_student" json:"student_id"`
	TaskID      uint              `gorm:"not null;index:idx_help_task" json:"task_id"`
	CourseID    *uint             `json:"course_id"`
	AttemptID   *uint             `json:"attempt_id"`
	EventID     *uint             `gorm:"uniqueIndex" json:"event_id"`
	RequestType HelpRequestType   `gorm:"size:32;not null;index" json:"request_type"`
	Status      HelpRequestStatus `gorm:"size:32;not null;default:'open';index" json:"status"`
	Message     string            `gorm:"type:text" json:"message"`
	Context     string            `gorm:"type:text" json:"context"` // JSON: 附加上下文
	AutoCreated bool              `gorm:"default:false" json:"auto_created"`
	Priority    int               `gorm:"default:100" json:"priority"`
	DueAt       *time.Time        `json:"due_at"`

	ThreadID          *string `gorm:"size:64" json:"thread_id"`
	AssignedTeacherID *uint   `gorm:"index" json:"assigned_teacher_id"`

	// 领取租约
	ClaimedBy      *uint      `json:"claimed_by"`
	ClaimToken     *string    `gorm:"size:128" json:"-"`
	ClaimExpiresAt *time.Time `json:"claim_expires_at"`

	ClosedAt          *time.Time `json:"closed_at"`
	ClosedBy          *uint      `json:"closed_by"`
	ResolutionComment *string    `gorm:"type:text" json:"resolution_comment"`

	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (HelpRequest) TableName() string {
	return "help_requests"
}

// HelpRequestReply 教师回复的幂等记录，同一 key 复用同一条消息
type HelpRequestReply struct {
	ID              uint      `gorm:"primarykey" json:"id"`
	HelpRequestID   uint      `gorm:"not null;uniqueIndex:idx_reply_idem" json:"help_request_id"`
	TeacherID       uint      `gorm:"not null" json:"teacher_id"`
	IdempotencyKey  string    `gorm:"size:128;not null;uniqueIndex:idx_reply_idem" json:"idempotency_key"`
	MessageID       uint      `gorm:"not null" json:"message_id"`
	CloseAfterReply bool      `gorm:"default:false" json:"close_after_reply"`
	CreatedAt       time.Time `json:"created_at"`
}

func (HelpRequestReply) TableName() string {
	return "help_request_replies"
}
