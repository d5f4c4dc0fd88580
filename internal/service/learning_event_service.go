package service

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"edulearn_backend/internal/model"
	"edulearn_backend/internal/repository"
	"edulearn_backend/internal/util"
	"edulearn_backend/pkg/logger"
	"edulearn_backend/pkg/monitoring"
)

// 去重窗口的默认值，可被配置覆盖
const DefaultDedupWindow = 5 * time.Minute

type LearningEventService struct {
	EventRepo   *repository.LearningEventRepository
	DB          *gorm.DB
	DedupWindow time.Duration
}

func NewLearningEventService(eventRepo *repository.LearningEventRepository, db *gorm.DB, dedupWindow time.Duration) *LearningEventService {
	if dedupWindow <= 0 {
		dedupWindow = DefaultDedupWindow
	}
	return &LearningEventService{
		EventRepo:   eventRepo,
		DB:          db,
		DedupWindow: dedupWindow,
	}
}

type RecordEventRequest struct {
	EventType    string                 `json:"event_type" binding:"required"`
	StudentID    uint                   `json:"student_id" binding:"required"`
	CourseID     *uint                  `json:"course_id"`
	TaskID       *uint                  `json:"task_id"`
	AttemptID    *uint                  `json:"attempt_id"`
	Payload      map[string]interface{} `json:"payload"`
	SourceSystem string                 `json:"source_system"`
}

type RecordEventResult struct {
	Event      *model.LearningEvent `json:"event"`
	Duplicated bool                 `json:"duplicated"`
}

// RecordEvent 记录学习事件。help_requested 与 hint_open 在窗口内按语义键去重，
// 命中时返回已有事件并置 Duplicated。其余类型只追加，不去重
func (s *LearningEventService) RecordEvent(req RecordEventRequest) (*RecordEventResult, error) {
	eventType := model.EventType(req.EventType)

	if err := s.validate(eventType, req); err != nil {
		return nil, err
	}

	payload := "{}"
	if req.Payload != nil {
		data, err := json.Marshal(req.Payload)
		if err != nil {
			return nil, util.ValidationError("invalid payload: %v", err)
		}
		payload = string(data)
	}

	source := req.SourceSystem
	if source == "" {
		source = "lms"
	}

	var result RecordEventResult
	write := func(tx *gorm.DB) error {
		if s.dedupable(eventType) {
			existing, err := s.findDuplicate(tx, eventType, req)
			if err != nil {
				return err
			}
			if existing != nil {
				result.Event = existing
				result.Duplicated = true
				return nil
			}
		}

		event := &model.LearningEvent{
			EventType:    eventType,
			StudentID:    req.StudentID,
			CourseID:     req.CourseID,
			TaskID:       req.TaskID,
			AttemptID:    req.AttemptID,
			Payload:      payload,
			SourceSystem: source,
		}
		if err := s.EventRepo.Create(tx, event); err != nil {
			return err
		}
		result.Event = event
		return nil
	}

	// 去重比较在 (student, task) 锁下进行，锁跨提交持有，并发重复只落一条
	var err error
	if req.TaskID != nil {
		err = repository.WithPairLock(s.DB, req.StudentID, *req.TaskID, write)
	} else {
		err = s.DB.Transaction(write)
	}
	if err != nil {
		return nil, err
	}

	if result.Duplicated {
		monitoring.EventsDeduplicated.WithLabelValues(req.EventType).Inc()
		logger.Log.Debug("learning event deduplicated",
			zap.String("event_type", req.EventType),
			zap.Uint("student_id", req.StudentID),
			zap.Uint("event_id", result.Event.ID),
		)
	}
	return &result, nil
}

func (s *LearningEventService) validate(eventType model.EventType, req RecordEventRequest) error {
	switch eventType {
	case model.EventHelpRequested:
		if req.TaskID == nil {
			return util.ValidationError("help_requested requires task_id")
		}
		if msg, ok := req.Payload["message"].(string); !ok || msg == "" {
			return util.ValidationError("help_requested requires payload.message")
		}
	case model.EventHintOpen:
		if req.TaskID == nil {
			return util.ValidationError("hint_open requires task_id")
		}
		idx, ok := payloadNumber(req.Payload, "hint_index")
		if !ok {
			return util.ValidationError("hint_open requires payload.hint_index")
		}
		if idx < 0 {
			return util.ValidationError("hint_index must be non-negative")
		}
	}
	return nil
}

func (s *LearningEventService) dedupable(eventType model.EventType) bool {
	return eventType == model.EventHelpRequested || eventType == model.EventHintOpen
}

// findDuplicate 在窗口内按语义键比较。help_requested 比较 task_id+message，
// hint_open 比较 attempt_id+task_id+hint_index+action
func (s *LearningEventService) findDuplicate(tx *gorm.DB, eventType model.EventType, req RecordEventRequest) (*model.LearningEvent, error) {
	since := time.Now().Add(-s.DedupWindow)
	recent, err := s.EventRepo.FindRecentByType(tx, req.StudentID, eventType, since)
	if err != nil {
		return nil, err
	}

	for i := range recent {
		e := &recent[i]
		if !uintPtrEqual(e.TaskID, req.TaskID) {
			continue
		}
		existing, err := e.DecodePayload()
		if err != nil {
			continue
		}
		switch eventType {
		case model.EventHelpRequested:
			if existing["message"] == req.Payload["message"] {
				return e, nil
			}
		case model.EventHintOpen:
			if !uintPtrEqual(e.AttemptID, req.AttemptID) {
				continue
			}
			idxA, _ := payloadNumber(existing, "hint_index")
			idxB, _ := payloadNumber(req.Payload, "hint_index")
			if idxA == idxB && existing["action"] == req.Payload["action"] {
				return e, nil
			}
		}
	}
	return nil, nil
}

func payloadNumber(payload map[string]interface{}, key string) (float64, bool) {
	if payload == nil {
		return 0, false
	}
	switch v := payload[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	}
	return 0, false
}

func uintPtrEqual(a, b *uint) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
