package service

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"edulearn_backend/internal/model"
	"edulearn_backend/internal/repository"
	"edulearn_backend/internal/util"
	"edulearn_backend/pkg/database"
	"edulearn_backend/pkg/logger"
)

func init() {
	logger.Log = zap.NewNop()
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	return db
}

// testServices 全部服务共用一个测试库
type testServices struct {
	DB      *gorm.DB
	Engine  *LearningEngineService
	Attempt *AttemptService
	Events  *LearningEventService
	Help    *HelpRequestService
	Queue   *TeacherQueueService
}

func newTestServices(t *testing.T) *testServices {
	t.Helper()
	db := newTestDB(t)

	userRepo := repository.NewUserRepository(db)
	courseRepo := repository.NewCourseRepository(db)
	taskRepo := repository.NewTaskRepository(db)
	materialRepo := repository.NewMaterialRepository(db)
	attemptRepo := repository.NewAttemptRepository(db)
	resultRepo := repository.NewTaskResultRepository(db)
	eventRepo := repository.NewLearningEventRepository(db)
	helpRepo := repository.NewHelpRequestRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	overrideRepo := repository.NewLimitOverrideRepository(db)

	engine := NewLearningEngineService(
		taskRepo, materialRepo, courseRepo, resultRepo, attemptRepo,
		overrideRepo, eventRepo, userRepo,
		db, nil, 0, DefaultMaxAttempts,
	)
	events := NewLearningEventService(eventRepo, db, DefaultDedupWindow)
	help := NewHelpRequestService(helpRepo, messageRepo, userRepo, courseRepo, taskRepo, db)
	attempt := NewAttemptService(attemptRepo, resultRepo, taskRepo, eventRepo, engine, help, NewRuleChecker(), db)
	queue := NewTeacherQueueService(helpRepo, resultRepo, userRepo, db, DefaultClaimTTL)

	return &testServices{
		DB:      db,
		Engine:  engine,
		Attempt: attempt,
		Events:  events,
		Help:    help,
		Queue:   queue,
	}
}

var testUserSeq atomic.Uint64

func createUser(t *testing.T, db *gorm.DB, role model.Role) *model.User {
	t.Helper()
	seq := testUserSeq.Add(1)
	user := &model.User{
		Name:     fmt.Sprintf("%s-%d", role, seq),
		Email:    fmt.Sprintf("%s-%d@test.local", role, seq),
		Role:     role,
		IsActive: true,
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

func createCourse(t *testing.T, db *gorm.DB, title string) *model.Course {
	t.Helper()
	course := &model.Course{Title: title, IsActive: true}
	require.NoError(t, db.Create(course).Error)
	return course
}

func createChildCourse(t *testing.T, db *gorm.DB, parent *model.Course, title string, order int) *model.Course {
	t.Helper()
	child := createCourse(t, db, title)
	require.NoError(t, db.Create(&model.CourseParent{CourseID: child.ID, ParentID: parent.ID, OrderNumber: &order}).Error)
	return child
}

func createTask(t *testing.T, db *gorm.DB, courseID uint, taskType model.TaskType, order int) *model.Task {
	t.Helper()
	task := &model.Task{
		CourseID:    courseID,
		Title:       fmt.Sprintf("task-%d", order),
		Type:        taskType,
		MaxScore:    10,
		OrderNumber: &order,
		IsActive:    true,
	}
	if taskType == model.TaskTypeSingleChoice {
		task.SolutionRules = `{"correct":["a"]}`
		task.Content = `{"options":["a","b","c"]}`
	}
	require.NoError(t, db.Create(task).Error)
	return task
}

func createMaterial(t *testing.T, db *gorm.DB, courseID uint, order int) *model.Material {
	t.Helper()
	material := &model.Material{
		CourseID:    courseID,
		Title:       fmt.Sprintf("material-%d", order),
		OrderNumber: &order,
		IsActive:    true,
	}
	require.NoError(t, db.Create(material).Error)
	return material
}

func addToPlan(t *testing.T, db *gorm.DB, userID, courseID uint, order int) {
	t.Helper()
	require.NoError(t, db.Create(&model.CoursePlanEntry{
		UserID:      userID,
		CourseID:    courseID,
		IsActive:    true,
		OrderNumber: &order,
	}).Error)
}

func linkStudentTeacher(t *testing.T, db *gorm.DB, studentID, teacherID uint) {
	t.Helper()
	require.NoError(t, db.Create(&model.StudentTeacherLink{StudentID: studentID, TeacherID: teacherID}).Error)
}

// finishedResult 造一条已结束会话里的结果
func finishedResult(t *testing.T, db *gorm.DB, userID, taskID uint, score, maxScore float64, isCorrect *bool) *model.TaskResult {
	t.Helper()
	now := time.Now()
	attempt := &model.Attempt{UserID: userID, FinishedAt: &now, SourceSystem: "lms"}
	require.NoError(t, attempt.EncodeMeta(model.AttemptMeta{TaskIDs: []uint{taskID}}))
	require.NoError(t, db.Create(attempt).Error)

	result := &model.TaskResult{
		AttemptID:   attempt.ID,
		TaskID:      taskID,
		UserID:      userID,
		Score:       score,
		MaxScore:    maxScore,
		IsCorrect:   isCorrect,
		SubmittedAt: now,
	}
	if isCorrect != nil {
		result.CheckedAt = &now
	}
	require.NoError(t, db.Create(result).Error)
	return result
}

func requireKind(t *testing.T, err error, kind util.ErrorKind) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, kind, util.KindOf(err))
}
