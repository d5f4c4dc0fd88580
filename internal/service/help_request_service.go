package service

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"edulearn_backend/internal/model"
	"edulearn_backend/internal/repository"
	"edulearn_backend/internal/util"
	"edulearn_backend/pkg/logger"
)

// 自动生成的 blocked_limit 工单优先级高于普通求助
const blockedLimitPriority = 50

type HelpRequestService struct {
	HelpRepo    *repository.HelpRequestRepository
	MessageRepo *repository.MessageRepository
	UserRepo    *repository.UserRepository
	CourseRepo  *repository.CourseRepository
	TaskRepo    *repository.TaskRepository
	DB          *gorm.DB
}

func NewHelpRequestService(
	helpRepo *repository.HelpRequestRepository,
	messageRepo *repository.MessageRepository,
	userRepo *repository.UserRepository,
	courseRepo *repository.CourseRepository,
	taskRepo *repository.TaskRepository,
	db *gorm.DB,
) *HelpRequestService {
	return &HelpRequestService{
		HelpRepo:    helpRepo,
		MessageRepo: messageRepo,
		UserRepo:    userRepo,
		CourseRepo:  courseRepo,
		TaskRepo:    taskRepo,
		DB:          db,
	}
}

// GetOrCreateFromEvent 由 help_requested 事件生成人工求助工单。
// 工单以事件 ID 为幂等键：事件去重命中时这里自然命中同一工单
func (s *HelpRequestService) GetOrCreateFromEvent(event *model.LearningEvent) (*model.HelpRequest, bool, error) {
	if event.EventType != model.EventHelpRequested || event.TaskID == nil {
		return nil, false, util.ValidationError("event %d is not a help request", event.ID)
	}

	payload, err := event.DecodePayload()
	if err != nil {
		return nil, false, err
	}
	message, _ := payload["message"].(string)

	var hr *model.HelpRequest
	created := false
	err = s.DB.Transaction(func(tx *gorm.DB) error {
		existing, err := s.HelpRepo.FindByEventID(tx, event.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			hr = existing
			return nil
		}

		assigned, err := s.UserRepo.AssignedTeacherID(event.StudentID)
		if err != nil {
			return err
		}

		threadID := uuid.NewString()
		hr = &model.HelpRequest{
			StudentID:         event.StudentID,
			TaskID:            *event.TaskID,
			CourseID:          event.CourseID,
			AttemptID:         event.AttemptID,
			EventID:           &event.ID,
			RequestType:       model.HelpTypeManual,
			Status:            model.HelpStatusOpen,
			Message:           message,
			ThreadID:          &threadID,
			AssignedTeacherID: assigned,
		}
		if err := s.HelpRepo.Create(tx, hr); err != nil {
			return err
		}
		created = true

		// 学生的求助文本作为线程首条消息
		if message != "" {
			return s.MessageRepo.Create(tx, &model.Message{
				ThreadID: threadID,
				SenderID: event.StudentID,
				Body:     message,
			})
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	if created {
		logger.Log.Info("manual help request created",
			zap.Uint("help_request_id", hr.ID),
			zap.Uint("student_id", event.StudentID),
		)
	}
	return hr, created, nil
}

// GetOrCreateBlockedLimit 学生在任务上撞到尝试上限时自动开单。
// 每对 (student, task) 至多一条未关闭工单，重复触发只刷新上下文
func (s *HelpRequestService) GetOrCreateBlockedLimit(studentID, taskID uint, context map[string]interface{}) (*model.HelpRequest, bool, error) {
	task, err := s.TaskRepo.FindByID(taskID)
	if err != nil {
		return nil, false, err
	}
	if task == nil {
		return nil, false, util.NotFoundError("task %d not found", taskID)
	}

	contextJSON := "{}"
	if context != nil {
		data, err := json.Marshal(context)
		if err != nil {
			return nil, false, util.ValidationError("invalid context: %v", err)
		}
		contextJSON = string(data)
	}

	var hr *model.HelpRequest
	created := false
	err = repository.WithPairLock(s.DB, studentID, taskID, func(tx *gorm.DB) error {
		existing, err := s.HelpRepo.FindOpenBlockedLimit(tx, studentID, taskID)
		if err != nil {
			return err
		}
		if existing != nil {
			existing.Context = contextJSON
			if err := s.HelpRepo.Save(tx, existing); err != nil {
				return err
			}
			hr = existing
			return nil
		}

		assigned, err := s.UserRepo.AssignedTeacherID(studentID)
		if err != nil {
			return err
		}

		threadID := uuid.NewString()
		hr = &model.HelpRequest{
			StudentID:         studentID,
			TaskID:            taskID,
			CourseID:          &task.CourseID,
			RequestType:       model.HelpTypeBlockedLimit,
			Status:            model.HelpStatusOpen,
			Context:           contextJSON,
			AutoCreated:       true,
			Priority:          blockedLimitPriority,
			ThreadID:          &threadID,
			AssignedTeacherID: assigned,
		}
		if err := s.HelpRepo.Create(tx, hr); err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return hr, created, nil
}

func (s *HelpRequestService) List(teacherID uint, status, requestType string, limit, offset int) ([]model.HelpRequest, int64, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	methodist, err := s.UserRepo.IsMethodist(teacherID)
	if err != nil {
		return nil, 0, err
	}
	return s.HelpRepo.List(teacherID, methodist, status, requestType, limit, offset)
}

type HelpRequestDetail struct {
	Request  *model.HelpRequest `json:"request"`
	Messages []model.Message    `json:"messages"`
}

func (s *HelpRequestService) Detail(id, viewerID uint) (*HelpRequestDetail, error) {
	hr, err := s.HelpRepo.FindByID(id)
	if err != nil {
		return nil, err
	}
	if hr == nil {
		return nil, util.NotFoundError("help request %d not found", id)
	}

	if hr.StudentID != viewerID {
		allowed, err := s.inTeacherScope(viewerID, hr)
		if err != nil {
			return nil, err
		}
		if !allowed {
			return nil, util.NotFoundError("help request %d not found", id)
		}
	}

	detail := &HelpRequestDetail{Request: hr}
	if hr.ThreadID != nil {
		msgs, err := s.MessageRepo.ListByThread(*hr.ThreadID)
		if err != nil {
			return nil, err
		}
		detail.Messages = msgs
	}
	return detail, nil
}

// Close 关闭工单，重复关闭幂等
func (s *HelpRequestService) Close(id, teacherID uint, resolutionComment string) (*model.HelpRequest, error) {
	hr, err := s.HelpRepo.FindByID(id)
	if err != nil {
		return nil, err
	}
	if hr == nil {
		return nil, util.NotFoundError("help request %d not found", id)
	}

	allowed, err := s.inTeacherScope(teacherID, hr)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, util.NotFoundError("help request %d not found", id)
	}

	if hr.Status == model.HelpStatusClosed {
		return hr, nil
	}

	now := time.Now()
	hr.Status = model.HelpStatusClosed
	hr.ClosedAt = &now
	hr.ClosedBy = &teacherID
	if resolutionComment != "" {
		hr.ResolutionComment = &resolutionComment
	}
	hr.ClaimedBy = nil
	hr.ClaimToken = nil
	hr.ClaimExpiresAt = nil

	if err := s.HelpRepo.Save(nil, hr); err != nil {
		return nil, err
	}
	return hr, nil
}

type ReplyResult struct {
	Message *model.Message `json:"message"`
	Reused  bool           `json:"reused"`
}

// Reply 教师回复。相同幂等键重复提交返回同一条消息。
// closeAfterReply 为真时回复与关单在同一事务内完成
func (s *HelpRequestService) Reply(id, teacherID uint, body, idempotencyKey string, closeAfterReply bool) (*ReplyResult, error) {
	if body == "" {
		return nil, util.ValidationError("reply body must not be empty")
	}
	if idempotencyKey == "" {
		return nil, util.ValidationError("idempotency_key is required")
	}

	hr, err := s.HelpRepo.FindByID(id)
	if err != nil {
		return nil, err
	}
	if hr == nil {
		return nil, util.NotFoundError("help request %d not found", id)
	}
	if hr.Status == model.HelpStatusClosed {
		return nil, util.ConflictError("help request %d is closed", id)
	}

	allowed, err := s.inTeacherScope(teacherID, hr)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, util.NotFoundError("help request %d not found", id)
	}

	var result ReplyResult
	err = s.DB.Transaction(func(tx *gorm.DB) error {
		existing, err := s.HelpRepo.FindReply(tx, hr.ID, idempotencyKey)
		if err != nil {
			return err
		}
		if existing != nil {
			var msg model.Message
			if err := tx.First(&msg, existing.MessageID).Error; err != nil {
				return err
			}
			result.Message = &msg
			result.Reused = true
			return nil
		}

		threadID := ""
		if hr.ThreadID != nil {
			threadID = *hr.ThreadID
		} else {
			threadID = uuid.NewString()
			hr.ThreadID = &threadID
		}

		msg := &model.Message{
			ThreadID: threadID,
			SenderID: teacherID,
			Body:     body,
		}
		if err := s.MessageRepo.Create(tx, msg); err != nil {
			return err
		}
		if err := s.HelpRepo.CreateReply(tx, &model.HelpRequestReply{
			HelpRequestID:   hr.ID,
			TeacherID:       teacherID,
			IdempotencyKey:  idempotencyKey,
			MessageID:       msg.ID,
			CloseAfterReply: closeAfterReply,
		}); err != nil {
			return err
		}

		if closeAfterReply {
			now := time.Now()
			hr.Status = model.HelpStatusClosed
			hr.ClosedAt = &now
			hr.ClosedBy = &teacherID
			hr.ClaimedBy = nil
			hr.ClaimToken = nil
			hr.ClaimExpiresAt = nil
		} else if hr.Status == model.HelpStatusOpen {
			hr.Status = model.HelpStatusInProgress
		}
		if err := s.HelpRepo.Save(tx, hr); err != nil {
			return err
		}
		result.Message = msg
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (s *HelpRequestService) inTeacherScope(teacherID uint, hr *model.HelpRequest) (bool, error) {
	methodist, err := s.UserRepo.IsMethodist(teacherID)
	if err != nil {
		return false, err
	}
	if methodist {
		return true, nil
	}
	if hr.AssignedTeacherID != nil && *hr.AssignedTeacherID == teacherID {
		return true, nil
	}
	linked, err := s.UserRepo.IsLinked(hr.StudentID, teacherID)
	if err != nil {
		return false, err
	}
	if linked {
		return true, nil
	}
	if hr.CourseID != nil {
		return s.CourseRepo.IsTeacherOfCourse(teacherID, *hr.CourseID)
	}
	return false, nil
}
