package model

type TaskType string

const (
	TaskTypeSingleChoice TaskType = "single_choice"
	TaskTypeMultiChoice  TaskType = "multi_choice"
	TaskTypeShortAnswer  TaskType = "short_answer"
	TaskTypeTextAnswer   TaskType = "text_answer"
)

// TaskState 任务的派生状态，不落库，由结果历史计算得出
type TaskState string

const (
	TaskStateOpen          TaskState = "OPEN"
	TaskStateInProgress    TaskState = "IN_PROGRESS"
	TaskStatePendingReview TaskState = "PENDING_REVIEW"
	TaskStatePassed        TaskState = "PASSED"
	TaskStateFailed        TaskState = "FAILED"
	TaskStateBlockedLimit  TaskState = "BLOCKED_LIMIT"
)

// CourseState 课程的派生状态
type CourseState string

const (
	CourseStateNotStarted CourseState = "NOT_STARTED"
	CourseStateInProgress CourseState = "IN_PROGRESS"
	CourseStateCompleted  CourseState = "COMPLETED"
)

type Task struct {
	BaseModel
	CourseID      uint     `gorm:"not null;index" json:"course_id"`
	Title         string   `gorm:"size:255;not null" json:"title"`
	Type          TaskType `gorm:"size:32;not null" json:"type"`
	Content       string   `gorm:"type:text" json:"content"`        // JSON: 题干、选项等
	SolutionRules string   `gorm:"type:text" json:"solution_rules"` // JSON: 自动判分规则
	MaxScore      float64  `gorm:"default:1" json:"max_score"`
	MaxAttempts   *int     `json:"max_attempts"`
	// 任务时限（秒），会话创建时折算进 meta
	TimeLimitSeconds *int `json:"time_limit_seconds"`
	OrderNumber      *int `json:"order_number"`
	IsActive         bool `gorm:"default:true" json:"is_active"`
}

func (Task) TableName() string {
	return "tasks"
}
