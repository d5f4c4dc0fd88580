package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"edulearn_backend/internal/model"
	"edulearn_backend/internal/repository"
	"edulearn_backend/internal/util"
	"edulearn_backend/pkg/logger"
)

// PassThresholdRatio 得分达到满分的该比例即视为通过
const PassThresholdRatio = 0.5

// DefaultMaxAttempts 任务未配置上限时的默认尝试次数
const DefaultMaxAttempts = 3

// LearningEngineService 状态解析与选路。任务/课程状态均为派生值，每次读取时计算
type LearningEngineService struct {
	TaskRepo     *repository.TaskRepository
	MaterialRepo *repository.MaterialRepository
	CourseRepo   *repository.CourseRepository
	ResultRepo   *repository.TaskResultRepository
	AttemptRepo  *repository.AttemptRepository
	OverrideRepo *repository.LimitOverrideRepository
	EventRepo    *repository.LearningEventRepository
	UserRepo     *repository.UserRepository
	DB           *gorm.DB

	// Redis 为空则不启用状态缓存
	Redis    *redis.Client
	CacheTTL time.Duration

	MaxAttemptsDefault int
}

func NewLearningEngineService(
	taskRepo *repository.TaskRepository,
	materialRepo *repository.MaterialRepository,
	courseRepo *repository.CourseRepository,
	resultRepo *repository.TaskResultRepository,
	attemptRepo *repository.AttemptRepository,
	overrideRepo *repository.LimitOverrideRepository,
	eventRepo *repository.LearningEventRepository,
	userRepo *repository.UserRepository,
	db *gorm.DB,
	rdb *redis.Client,
	cacheTTL time.Duration,
	maxAttemptsDefault int,
) *LearningEngineService {
	if maxAttemptsDefault <= 0 {
		maxAttemptsDefault = DefaultMaxAttempts
	}
	return &LearningEngineService{
		TaskRepo:           taskRepo,
		MaterialRepo:       materialRepo,
		CourseRepo:         courseRepo,
		ResultRepo:         resultRepo,
		AttemptRepo:        attemptRepo,
		OverrideRepo:       overrideRepo,
		EventRepo:          eventRepo,
		UserRepo:           userRepo,
		DB:                 db,
		Redis:              rdb,
		CacheTTL:           cacheTTL,
		MaxAttemptsDefault: maxAttemptsDefault,
	}
}

// EffectiveMaxAttempts 优先级：学生级覆盖 > 任务配置 > 全局默认
func (s *LearningEngineService) EffectiveMaxAttempts(studentID uint, task *model.Task) (int, error) {
	override, err := s.OverrideRepo.Find(studentID, task.ID)
	if err != nil {
		return 0, err
	}
	if override != nil {
		return override.MaxAttempts, nil
	}
	if task.MaxAttempts != nil && *task.MaxAttempts > 0 {
		return *task.MaxAttempts, nil
	}
	return s.MaxAttemptsDefault, nil
}

// TaskStateInfo 任务状态快照
type TaskStateInfo struct {
	TaskID       uint            `json:"task_id"`
	State        model.TaskState `json:"state"`
	AttemptsUsed int             `json:"attempts_used"`
	MaxAttempts  int             `json:"max_attempts"`
	LatestScore  *float64        `json:"latest_score,omitempty"`
}

// TaskState 解析单个任务的当前状态
func (s *LearningEngineService) TaskState(studentID, taskID uint) (*TaskStateInfo, error) {
	if cached := s.cachedTaskState(studentID, taskID); cached != nil {
		return cached, nil
	}

	task, err := s.TaskRepo.FindByID(taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, util.NotFoundError("task %d not found", taskID)
	}

	info, err := s.resolveTaskState(studentID, task)
	if err != nil {
		return nil, err
	}

	s.cacheTaskState(studentID, taskID, info)
	return info, nil
}

func (s *LearningEngineService) resolveTaskState(studentID uint, task *model.Task) (*TaskStateInfo, error) {
	maxAttempts, err := s.EffectiveMaxAttempts(studentID, task)
	if err != nil {
		return nil, err
	}

	used, err := s.ResultRepo.DistinctFinishedAttemptCount(studentID, task.ID)
	if err != nil {
		return nil, err
	}

	info := &TaskStateInfo{
		TaskID:       task.ID,
		AttemptsUsed: int(used),
		MaxAttempts:  maxAttempts,
	}

	latest, err := s.ResultRepo.LatestFinishedResult(studentID, task.ID)
	if err != nil {
		return nil, err
	}

	if latest != nil {
		info.LatestScore = &latest.Score
		switch {
		case latest.IsCorrect == nil && latest.CheckedAt == nil:
			info.State = model.TaskStatePendingReview
		case resultPassed(latest):
			info.State = model.TaskStatePassed
		case int(used) >= maxAttempts:
			info.State = model.TaskStateBlockedLimit
		default:
			info.State = model.TaskStateFailed
		}
		return info, nil
	}

	if int(used) >= maxAttempts {
		info.State = model.TaskStateBlockedLimit
		return info, nil
	}

	inProgress, err := s.taskInOpenAttempt(studentID, task.ID)
	if err != nil {
		return nil, err
	}
	if inProgress {
		info.State = model.TaskStateInProgress
	} else {
		info.State = model.TaskStateOpen
	}
	return info, nil
}

// resultPassed 显式判对或按得分比例通过
func resultPassed(r *model.TaskResult) bool {
	if r.IsCorrect != nil && *r.IsCorrect {
		return true
	}
	maxScore := r.MaxScore
	if maxScore <= 0 {
		maxScore = 1
	}
	return r.Score >= maxScore*PassThresholdRatio
}

func (s *LearningEngineService) taskInOpenAttempt(studentID, taskID uint) (bool, error) {
	open, err := s.AttemptRepo.ListOpenByUser(studentID)
	if err != nil {
		return false, err
	}
	for i := range open {
		meta, err := open[i].DecodeMeta()
		if err != nil {
			continue
		}
		for _, id := range meta.TaskIDs {
			if id == taskID {
				return true, nil
			}
		}
	}
	return false, nil
}

// CourseStateInfo 课程状态快照
type CourseStateInfo struct {
	CourseID       uint              `json:"course_id"`
	State          model.CourseState `json:"state"`
	TotalTasks     int               `json:"total_tasks"`
	CompletedTasks int               `json:"completed_tasks"`
}

// CourseState 解析课程状态，范围为课程及其全部后代。
// 任务有至少一条提交记录即计入 completed
func (s *LearningEngineService) CourseState(studentID, courseID uint) (*CourseStateInfo, error) {
	course, err := s.CourseRepo.FindByID(courseID)
	if err != nil {
		return nil, err
	}
	if course == nil {
		return nil, util.NotFoundError("course %d not found", courseID)
	}

	subtree, err := s.CourseRepo.SubtreeIDs(courseID)
	if err != nil {
		return nil, err
	}

	tasks, err := s.TaskRepo.ListByCourses(subtree)
	if err != nil {
		return nil, err
	}

	info := &CourseStateInfo{CourseID: courseID, TotalTasks: len(tasks)}
	if len(tasks) == 0 {
		info.State = model.CourseStateNotStarted
		return info, nil
	}

	taskIDs := make([]uint, len(tasks))
	for i, t := range tasks {
		taskIDs[i] = t.ID
	}
	withResults, err := s.ResultRepo.TaskIDsWithResults(studentID, taskIDs)
	if err != nil {
		return nil, err
	}
	info.CompletedTasks = len(withResults)

	switch {
	case info.CompletedTasks == 0:
		info.State = model.CourseStateNotStarted
	case info.CompletedTasks == info.TotalTasks:
		info.State = model.CourseStateCompleted
	default:
		info.State = model.CourseStateInProgress
	}
	return info, nil
}

type NextItemKind string

const (
	NextItemMaterial          NextItemKind = "material"
	NextItemTask              NextItemKind = "task"
	NextItemBlockedDependency NextItemKind = "blocked_dependency"
	NextItemBlocked           NextItemKind = "blocked_limit"
	NextItemNone              NextItemKind = "none"
)

type NextItemResult struct {
	Kind               NextItemKind    `json:"kind"`
	CourseID           *uint           `json:"course_id,omitempty"`
	MaterialID         *uint           `json:"material_id,omitempty"`
	TaskID             *uint           `json:"task_id,omitempty"`
	DependencyCourseID *uint           `json:"dependency_course_id,omitempty"`
	TaskState          model.TaskState `json:"task_state,omitempty"`
	Reason             string          `json:"reason,omitempty"`
}

// NextItem 为学生选出下一个学习项。
// 按学习计划顺序遍历课程子树：先给未完成的材料，再给可做的任务。
// 前置课程未完成时立即返回 blocked_dependency 并指明阻塞课程；
// 碰到 BLOCKED_LIMIT 任务时立即返回阻塞信息，不再继续找
func (s *LearningEngineService) NextItem(studentID uint) (*NextItemResult, error) {
	entries, err := s.CourseRepo.ActivePlanEntries(studentID)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return &NextItemResult{Kind: NextItemNone, Reason: "no active courses in plan"}, nil
	}

	for i := range entries {
		courseID := entries[i].CourseID
		unmet, err := s.unmetDependency(studentID, courseID)
		if err != nil {
			return nil, err
		}
		if unmet != nil {
			return &NextItemResult{
				Kind:               NextItemBlockedDependency,
				CourseID:           &courseID,
				DependencyCourseID: unmet,
				Reason:             "prerequisite course not completed",
			}, nil
		}

		item, err := s.nextInSubtree(studentID, courseID)
		if err != nil {
			return nil, err
		}
		if item != nil {
			return item, nil
		}
	}

	return &NextItemResult{Kind: NextItemNone, Reason: "all items completed or blocked"}, nil
}

// unmetDependency 返回首个未完成的前置课程
func (s *LearningEngineService) unmetDependency(studentID, courseID uint) (*uint, error) {
	deps, err := s.CourseRepo.Dependencies(courseID)
	if err != nil {
		return nil, err
	}
	for _, dep := range deps {
		state, err := s.CourseState(studentID, dep)
		if err != nil {
			return nil, err
		}
		if state.State != model.CourseStateCompleted {
			d := dep
			return &d, nil
		}
	}
	return nil, nil
}

// nextInSubtree 深度优先遍历课程子树，显式栈加 visited 集合防环
func (s *LearningEngineService) nextInSubtree(studentID, rootID uint) (*NextItemResult, error) {
	stack := []uint{rootID}
	visited := map[uint]bool{}

	for len(stack) > 0 {
		courseID := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[courseID] {
			continue
		}
		visited[courseID] = true

		item, err := s.nextInCourse(studentID, courseID)
		if err != nil {
			return nil, err
		}
		if item != nil {
			return item, nil
		}

		children, err := s.CourseRepo.Children(courseID)
		if err != nil {
			return nil, err
		}
		// 栈为后进先出，逆序压栈保持子课程的既定顺序
		for i := len(children) - 1; i >= 0; i-- {
			if !visited[children[i].ID] {
				stack = append(stack, children[i].ID)
			}
		}
	}
	return nil, nil
}

func (s *LearningEngineService) nextInCourse(studentID, courseID uint) (*NextItemResult, error) {
	materials, err := s.MaterialRepo.ListByCourse(courseID)
	if err != nil {
		return nil, err
	}
	if len(materials) > 0 {
		ids := make([]uint, len(materials))
		for i, m := range materials {
			ids[i] = m.ID
		}
		completed, err := s.MaterialRepo.CompletedMaterialIDs(studentID, ids)
		if err != nil {
			return nil, err
		}
		done := make(map[uint]bool, len(completed))
		for _, id := range completed {
			done[id] = true
		}
		for i := range materials {
			if !done[materials[i].ID] {
				return &NextItemResult{
					Kind:       NextItemMaterial,
					CourseID:   &courseID,
					MaterialID: &materials[i].ID,
					Reason:     "next material",
				}, nil
			}
		}
	}

	tasks, err := s.TaskRepo.ListByCourse(courseID)
	if err != nil {
		return nil, err
	}
	for i := range tasks {
		info, err := s.resolveTaskState(studentID, &tasks[i])
		if err != nil {
			return nil, err
		}
		switch info.State {
		case model.TaskStateBlockedLimit:
			return &NextItemResult{
				Kind:      NextItemBlocked,
				CourseID:  &courseID,
				TaskID:    &tasks[i].ID,
				TaskState: model.TaskStateBlockedLimit,
				Reason:    "attempt limit reached",
			}, nil
		case model.TaskStateOpen, model.TaskStateInProgress, model.TaskStateFailed:
			return &NextItemResult{
				Kind:      NextItemTask,
				CourseID:  &courseID,
				TaskID:    &tasks[i].ID,
				TaskState: info.State,
				Reason:    "next task",
			}, nil
		}
	}
	return nil, nil
}

// MarkMaterialCompleted 标记材料完成并记录事件。重复标记保留首次完成时间
func (s *LearningEngineService) MarkMaterialCompleted(studentID, materialID uint) (*model.MaterialProgress, error) {
	material, err := s.MaterialRepo.FindByID(materialID)
	if err != nil {
		return nil, err
	}
	if material == nil {
		return nil, util.NotFoundError("material %d not found", materialID)
	}

	var progress *model.MaterialProgress
	err = s.DB.Transaction(func(tx *gorm.DB) error {
		existing, err := s.MaterialRepo.FindProgress(studentID, materialID)
		if err != nil {
			return err
		}
		progress, err = s.MaterialRepo.MarkCompleted(tx, studentID, materialID, time.Now())
		if err != nil {
			return err
		}
		if existing != nil {
			return nil
		}
		payload, _ := json.Marshal(map[string]interface{}{"material_id": materialID})
		return s.EventRepo.Create(tx, &model.LearningEvent{
			EventType: model.EventMaterialCompleted,
			StudentID: studentID,
			CourseID:  &material.CourseID,
			Payload:   string(payload),
		})
	})
	if err != nil {
		return nil, err
	}
	return progress, nil
}

// SetLimitOverride 教师为学生调整任务尝试上限
func (s *LearningEngineService) SetLimitOverride(teacherID, studentID, taskID uint, maxAttempts int, reason string) (*model.StudentTaskLimitOverride, error) {
	if maxAttempts < 1 {
		return nil, util.ValidationError("max_attempts must be at least 1")
	}

	task, err := s.TaskRepo.FindByID(taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, util.NotFoundError("task %d not found", taskID)
	}

	allowed, err := s.canTeacherActOnStudent(teacherID, studentID, task.CourseID)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, util.ConflictError("teacher %d has no access to student %d", teacherID, studentID)
	}

	override := &model.StudentTaskLimitOverride{
		StudentID:   studentID,
		TaskID:      taskID,
		MaxAttempts: maxAttempts,
		SetBy:       teacherID,
		Reason:      reason,
	}
	err = s.DB.Transaction(func(tx *gorm.DB) error {
		if err := s.OverrideRepo.Upsert(tx, override); err != nil {
			return err
		}
		payload, _ := json.Marshal(map[string]interface{}{
			"max_attempts": maxAttempts,
			"set_by":       teacherID,
			"reason":       reason,
		})
		return s.EventRepo.Create(tx, &model.LearningEvent{
			EventType: model.EventLimitOverrideSet,
			StudentID: studentID,
			TaskID:    &taskID,
			CourseID:  &task.CourseID,
			Payload:   string(payload),
		})
	})
	if err != nil {
		return nil, err
	}

	s.invalidateTaskState(studentID, taskID)
	return override, nil
}

func (s *LearningEngineService) canTeacherActOnStudent(teacherID, studentID, courseID uint) (bool, error) {
	methodist, err := s.UserRepo.IsMethodist(teacherID)
	if err != nil {
		return false, err
	}
	if methodist {
		return true, nil
	}
	assigned, err := s.UserRepo.AssignedTeacherID(studentID)
	if err != nil {
		return false, err
	}
	if assigned != nil && *assigned == teacherID {
		return true, nil
	}
	return s.CourseRepo.IsTeacherOfCourse(teacherID, courseID)
}

// ---- Redis 状态缓存，TTL 很短，只为吸收热点读 ----

func (s *LearningEngineService) stateCacheKey(studentID, taskID uint) string {
	return fmt.Sprintf("task_state:%d:%d", studentID, taskID)
}

func (s *LearningEngineService) cachedTaskState(studentID, taskID uint) *TaskStateInfo {
	if s.Redis == nil || s.CacheTTL <= 0 {
		return nil
	}
	data, err := s.Redis.Get(context.Background(), s.stateCacheKey(studentID, taskID)).Bytes()
	if err != nil {
		return nil
	}
	var info TaskStateInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil
	}
	return &info
}

func (s *LearningEngineService) cacheTaskState(studentID, taskID uint, info *TaskStateInfo) {
	if s.Redis == nil || s.CacheTTL <= 0 {
		return
	}
	data, err := json.Marshal(info)
	if err != nil {
		return
	}
	if err := s.Redis.Set(context.Background(), s.stateCacheKey(studentID, taskID), data, s.CacheTTL).Err(); err != nil {
		logger.Log.Debug("task state cache write failed", zap.Error(err))
	}
}

func (s *LearningEngineService) invalidateTaskState(studentID, taskID uint) {
	if s.Redis == nil {
		return
	}
	s.Redis.Del(context.Background(), s.stateCacheKey(studentID, taskID))
}
