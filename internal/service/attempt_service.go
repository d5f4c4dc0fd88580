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
)

type AttemptService struct {
	AttemptRepo *repository.AttemptRepository
	ResultRepo  *repository.TaskResultRepository
	TaskRepo    *repository.TaskRepository
	EventRepo   *repository.LearningEventRepository
	Engine      *LearningEngineService
	HelpSvc     *HelpRequestService
	Checker     AnswerChecker
	DB          *gorm.DB
}

func NewAttemptService(
	attemptRepo *repository.AttemptRepository,
	resultRepo *repository.TaskResultRepository,
	taskRepo *repository.TaskRepository,
	eventRepo *repository.LearningEventRepository,
	engine *LearningEngineService,
	helpSvc *HelpRequestService,
	checker AnswerChecker,
	db *gorm.DB,
) *AttemptService {
	return &AttemptService{
		AttemptRepo: attemptRepo,
		ResultRepo:  resultRepo,
		TaskRepo:    taskRepo,
		EventRepo:   eventRepo,
		Engine:      engine,
		HelpSvc:     helpSvc,
		Checker:     checker,
		DB:          db,
	}
}

type CreateAttemptRequest struct {
	UserID           uint   `json:"user_id" binding:"required"`
	CourseID         *uint  `json:"course_id"`
	TaskIDs          []uint `json:"task_ids" binding:"required,min=1"`
	TimeLimitSeconds int    `json:"time_limit_seconds"`
	SourceSystem     string `json:"source_system"`
}

// Create 创建做题会话。范围内任意任务已达尝试上限则拒绝
func (s *AttemptService) Create(req CreateAttemptRequest) (*model.Attempt, error) {
	tasks, err := s.TaskRepo.FindByIDs(req.TaskIDs)
	if err != nil {
		return nil, err
	}
	if len(tasks) != len(req.TaskIDs) {
		return nil, util.ValidationError("some tasks do not exist")
	}

	for i := range tasks {
		info, err := s.Engine.resolveTaskState(req.UserID, &tasks[i])
		if err != nil {
			return nil, err
		}
		if info.State == model.TaskStateBlockedLimit {
			return nil, util.ConflictError("task %d is blocked by attempt limit", tasks[i].ID)
		}
	}

	timeLimit := req.TimeLimitSeconds
	if timeLimit <= 0 {
		timeLimit = tightestTimeLimit(tasks)
	}

	attempt := &model.Attempt{
		UserID:       req.UserID,
		CourseID:     req.CourseID,
		SourceSystem: sourceOrDefault(req.SourceSystem),
	}
	if err := attempt.EncodeMeta(model.AttemptMeta{
		TaskIDs:          req.TaskIDs,
		TimeLimitSeconds: timeLimit,
	}); err != nil {
		return nil, err
	}

	err = s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(attempt).Error; err != nil {
			return err
		}
		return s.recordAttemptEvent(tx, attempt, model.EventAttemptStarted, nil)
	})
	if err != nil {
		return nil, err
	}

	logger.Log.Info("attempt created",
		zap.Uint("attempt_id", attempt.ID),
		zap.Uint("user_id", req.UserID),
	)
	return attempt, nil
}

// StartOrGet 以任务为入口获取或创建会话。
// 同一学生同一课程的并发调用在 (student, course) 锁下串行，只产生一个会话。
// 已有会话但范围不含该任务时，把任务并入 meta
func (s *AttemptService) StartOrGet(userID, taskID uint) (*model.Attempt, bool, error) {
	task, err := s.TaskRepo.FindByID(taskID)
	if err != nil {
		return nil, false, err
	}
	if task == nil {
		return nil, false, util.NotFoundError("task %d not found", taskID)
	}

	info, err := s.Engine.resolveTaskState(userID, task)
	if err != nil {
		return nil, false, err
	}
	if info.State == model.TaskStateBlockedLimit {
		return nil, false, util.ConflictError("task %d is blocked by attempt limit", taskID)
	}

	var attempt *model.Attempt
	created := false
	err = repository.WithPairLock(s.DB, userID, task.CourseID, func(tx *gorm.DB) error {
		existing, err := s.AttemptRepo.FindOpenByUserCourse(tx, userID, &task.CourseID)
		if err != nil {
			return err
		}
		if existing != nil {
			meta, err := existing.DecodeMeta()
			if err != nil {
				return err
			}
			if !containsUint(meta.TaskIDs, taskID) {
				meta.TaskIDs = append(meta.TaskIDs, taskID)
				// 并入任务带来的更紧时限也要生效
				if l := taskTimeLimit(task); l > 0 && (meta.TimeLimitSeconds <= 0 || l < meta.TimeLimitSeconds) {
					meta.TimeLimitSeconds = l
				}
				if err := existing.EncodeMeta(meta); err != nil {
					return err
				}
				if err := tx.Model(&model.Attempt{}).Where("id = ?", existing.ID).
					Update("meta", existing.Meta).Error; err != nil {
					return err
				}
			}
			attempt = existing
			return nil
		}

		attempt = &model.Attempt{
			UserID:       userID,
			CourseID:     &task.CourseID,
			SourceSystem: "lms",
		}
		if err := attempt.EncodeMeta(model.AttemptMeta{
			TaskIDs:          []uint{taskID},
			TimeLimitSeconds: taskTimeLimit(task),
		}); err != nil {
			return err
		}
		if err := tx.Create(attempt).Error; err != nil {
			return err
		}
		created = true
		return s.recordAttemptEvent(tx, attempt, model.EventAttemptStarted, &taskID)
	})
	if err != nil {
		return nil, false, err
	}
	return attempt, created, nil
}

type SubmitItem struct {
	TaskID uint            `json:"task_id" binding:"required"`
	Answer json.RawMessage `json:"answer" binding:"required"`
}

type SubmitAnswersRequest struct {
	Items []SubmitItem `json:"items" binding:"required"`
}

// SubmitAnswers 批量提交作答，全部成功或全部回滚。
// 无法自动判分的结果 is_correct 留空，进入人工评审队列
func (s *AttemptService) SubmitAnswers(attemptID uint, req SubmitAnswersRequest) ([]model.TaskResult, error) {
	if len(req.Items) == 0 {
		return nil, util.ValidationError("items must not be empty")
	}

	attempt, err := s.AttemptRepo.FindByID(attemptID)
	if err != nil {
		return nil, err
	}
	if attempt == nil {
		return nil, util.NotFoundError("attempt %d not found", attemptID)
	}
	if !attempt.IsOpen() {
		return nil, util.ConflictError("attempt %d is already closed", attemptID)
	}

	meta, err := attempt.DecodeMeta()
	if err != nil {
		return nil, err
	}
	if expired(attempt, meta, time.Now()) {
		// 超时提交按截止处理：关闭会话并拒绝本次提交
		if _, err := s.DeadlineExpired(attemptID); err != nil {
			return nil, err
		}
		return nil, util.ConflictError("attempt %d time limit exceeded", attemptID)
	}

	taskIDs := make([]uint, len(req.Items))
	for i, item := range req.Items {
		taskIDs[i] = item.TaskID
	}
	tasks, err := s.TaskRepo.FindByIDs(taskIDs)
	if err != nil {
		return nil, err
	}
	taskByID := make(map[uint]*model.Task, len(tasks))
	for i := range tasks {
		taskByID[tasks[i].ID] = &tasks[i]
	}

	now := time.Now()
	results := make([]model.TaskResult, 0, len(req.Items))
	for _, item := range req.Items {
		task, ok := taskByID[item.TaskID]
		if !ok {
			return nil, util.ValidationError("task %d does not exist", item.TaskID)
		}
		if len(meta.TaskIDs) > 0 && !containsUint(meta.TaskIDs, item.TaskID) {
			return nil, util.ValidationError("task %d is not in attempt scope", item.TaskID)
		}

		check, err := s.Checker.Check(task, item.Answer)
		if err != nil {
			return nil, util.ValidationError("invalid answer for task %d: %v", item.TaskID, err)
		}

		result := model.TaskResult{
			AttemptID:    attemptID,
			TaskID:       item.TaskID,
			UserID:       attempt.UserID,
			Answer:       string(item.Answer),
			MaxScore:     check.MaxScore,
			SourceSystem: attempt.SourceSystem,
			SubmittedAt:  now,
		}
		if check.Gradable {
			correct := check.IsCorrect
			result.IsCorrect = &correct
			result.Score = check.Score
			result.CheckedAt = &now
		}
		results = append(results, result)
	}

	err = s.DB.Transaction(func(tx *gorm.DB) error {
		for i := range results {
			if err := tx.Create(&results[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, id := range taskIDs {
		s.Engine.invalidateTaskState(attempt.UserID, id)
	}
	return results, nil
}

// Finish 结束会话，重复调用返回当前状态，不报错
func (s *AttemptService) Finish(attemptID uint) (*model.Attempt, error) {
	attempt, err := s.AttemptRepo.FindByID(attemptID)
	if err != nil {
		return nil, err
	}
	if attempt == nil {
		return nil, util.NotFoundError("attempt %d not found", attemptID)
	}
	if attempt.CancelledAt != nil {
		return nil, util.ConflictError("attempt %d is cancelled", attemptID)
	}
	if attempt.FinishedAt != nil {
		return attempt, nil
	}

	now := time.Now()
	err = s.DB.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Attempt{}).
			Where("id = ? AND finished_at IS NULL AND cancelled_at IS NULL", attemptID).
			Update("finished_at", now)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// 并发下已被他处关闭，按幂等处理
			return nil
		}
		attempt.FinishedAt = &now
		return s.recordAttemptEvent(tx, attempt, model.EventAttemptFinished, nil)
	})
	if err != nil {
		return nil, err
	}

	s.invalidateScope(attempt)
	s.openBlockedLimitRequests(attempt)
	return attempt, nil
}

// openBlockedLimitRequests 结束会话后，对撞到尝试上限的任务自动开工单。
// 开单失败只记日志，不影响结束结果
func (s *AttemptService) openBlockedLimitRequests(attempt *model.Attempt) {
	if s.HelpSvc == nil {
		return
	}
	meta, err := attempt.DecodeMeta()
	if err != nil {
		return
	}
	for _, taskID := range meta.TaskIDs {
		task, err := s.TaskRepo.FindByID(taskID)
		if err != nil || task == nil {
			continue
		}
		info, err := s.Engine.resolveTaskState(attempt.UserID, task)
		if err != nil {
			continue
		}
		if info.State != model.TaskStateBlockedLimit {
			continue
		}
		ctx := map[string]interface{}{
			"attempt_id":    attempt.ID,
			"attempts_used": info.AttemptsUsed,
			"max_attempts":  info.MaxAttempts,
		}
		if _, _, err := s.HelpSvc.GetOrCreateBlockedLimit(attempt.UserID, taskID, ctx); err != nil {
			logger.Log.Warn("failed to open blocked limit help request",
				zap.Uint("user_id", attempt.UserID),
				zap.Uint("task_id", taskID),
				zap.Error(err),
			)
		}
	}
}

// Cancel 取消会话。重复取消幂等，已结束的会话不可取消。
// alreadyCancelled 供调用方区分首次取消和重复取消
func (s *AttemptService) Cancel(attemptID uint, reason string) (attempt *model.Attempt, alreadyCancelled bool, err error) {
	attempt, err = s.AttemptRepo.FindByID(attemptID)
	if err != nil {
		return nil, false, err
	}
	if attempt == nil {
		return nil, false, util.NotFoundError("attempt %d not found", attemptID)
	}
	if attempt.FinishedAt != nil {
		return nil, false, util.ConflictError("attempt %d is already finished", attemptID)
	}
	if attempt.CancelledAt != nil {
		return attempt, true, nil
	}

	now := time.Now()
	err = s.DB.Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{"cancelled_at": now}
		if reason != "" {
			updates["cancel_reason"] = reason
		}
		res := tx.Model(&model.Attempt{}).
			Where("id = ? AND finished_at IS NULL AND cancelled_at IS NULL", attemptID).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		attempt.CancelledAt = &now
		if reason != "" {
			attempt.CancelReason = &reason
		}
		return s.recordAttemptEvent(tx, attempt, model.EventAttemptCancelled, nil)
	})
	if err != nil {
		return nil, false, err
	}
	return attempt, false, nil
}

// DeadlineExpired 截止处理：标记超时并结束会话。重复调用幂等
func (s *AttemptService) DeadlineExpired(attemptID uint) (*model.Attempt, error) {
	attempt, err := s.AttemptRepo.FindByID(attemptID)
	if err != nil {
		return nil, err
	}
	if attempt == nil {
		return nil, util.NotFoundError("attempt %d not found", attemptID)
	}
	if attempt.CancelledAt != nil {
		return nil, util.ConflictError("attempt %d is cancelled", attemptID)
	}
	if attempt.FinishedAt != nil {
		if attempt.TimeExpired {
			return attempt, nil
		}
		return nil, util.ConflictError("attempt %d is already finished", attemptID)
	}

	now := time.Now()
	err = s.DB.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Attempt{}).
			Where("id = ? AND finished_at IS NULL AND cancelled_at IS NULL", attemptID).
			Updates(map[string]interface{}{"finished_at": now, "time_expired": true})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		attempt.FinishedAt = &now
		attempt.TimeExpired = true
		return s.recordAttemptEvent(tx, attempt, model.EventDeadlineExpired, nil)
	})
	if err != nil {
		return nil, err
	}

	s.invalidateScope(attempt)
	s.openBlockedLimitRequests(attempt)
	return attempt, nil
}

type AttemptWithResults struct {
	Attempt *model.Attempt     `json:"attempt"`
	Results []model.TaskResult `json:"results"`
}

func (s *AttemptService) GetWithResults(attemptID uint) (*AttemptWithResults, error) {
	attempt, err := s.AttemptRepo.FindByID(attemptID)
	if err != nil {
		return nil, err
	}
	if attempt == nil {
		return nil, util.NotFoundError("attempt %d not found", attemptID)
	}
	results, err := s.ResultRepo.ListByAttempt(attemptID)
	if err != nil {
		return nil, err
	}
	return &AttemptWithResults{Attempt: attempt, Results: results}, nil
}

func (s *AttemptService) ListByUser(userID uint, courseID *uint, limit, offset int) ([]model.Attempt, int64, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.AttemptRepo.ListByUser(userID, courseID, limit, offset)
}

func (s *AttemptService) recordAttemptEvent(tx *gorm.DB, attempt *model.Attempt, eventType model.EventType, taskID *uint) error {
	payload, _ := json.Marshal(map[string]interface{}{
		"attempt_id":   attempt.ID,
		"time_expired": attempt.TimeExpired,
	})
	return s.EventRepo.Create(tx, &model.LearningEvent{
		EventType: eventType,
		StudentID: attempt.UserID,
		CourseID:  attempt.CourseID,
		TaskID:    taskID,
		AttemptID: &attempt.ID,
		Payload:   string(payload),
	})
}

func (s *AttemptService) invalidateScope(attempt *model.Attempt) {
	meta, err := attempt.DecodeMeta()
	if err != nil {
		return
	}
	for _, id := range meta.TaskIDs {
		s.Engine.invalidateTaskState(attempt.UserID, id)
	}
}

func taskTimeLimit(task *model.Task) int {
	if task.TimeLimitSeconds == nil {
		return 0
	}
	return *task.TimeLimitSeconds
}

// tightestTimeLimit 范围内任务的最小时限，均未设置时为 0
func tightestTimeLimit(tasks []model.Task) int {
	limit := 0
	for i := range tasks {
		v := taskTimeLimit(&tasks[i])
		if v > 0 && (limit == 0 || v < limit) {
			limit = v
		}
	}
	return limit
}

func expired(attempt *model.Attempt, meta model.AttemptMeta, now time.Time) bool {
	if meta.TimeLimitSeconds <= 0 {
		return false
	}
	return now.After(attempt.CreatedAt.Add(time.Duration(meta.TimeLimitSeconds) * time.Second))
}

func containsUint(ids []uint, id uint) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func sourceOrDefault(source string) string {
	if source == "" {
		return "lms"
	}
	return source
}
