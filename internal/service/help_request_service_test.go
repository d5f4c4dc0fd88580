package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edulearn_backend/internal/model"
	"edulearn_backend/internal/util"
)

// recordHelpEvent 走事件入口造一条 help_requested 事件
func recordHelpEvent(t *testing.T, s *testServices, studentID, taskID uint, message string) *model.LearningEvent {
	t.Helper()
	res, err := s.Events.RecordEvent(RecordEventRequest{
		EventType: string(model.EventHelpRequested),
		StudentID: studentID,
		TaskID:    &taskID,
		Payload:   map[string]interface{}{"message": message},
	})
	require.NoError(t, err)
	return res.Event
}

func TestGetOrCreateFromEventIdempotent(t *testing.T) {
	s := newTestServices(t)
	student := createUser(t, s.DB, model.RoleStudent)
	teacher := createUser(t, s.DB, model.RoleTeacher)
	linkStudentTeacher(t, s.DB, student.ID, teacher.ID)
	course := createCourse(t, s.DB, "c")
	task := createTask(t, s.DB, course.ID, model.TaskTypeSingleChoice, 1)

	event := recordHelpEvent(t, s, student.ID, task.ID, "need help here")

	hr, created, err := s.Help.GetOrCreateFromEvent(event)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, model.HelpTypeManual, hr.RequestType)
	assert.Equal(t, model.HelpStatusOpen, hr.Status)
	require.NotNil(t, hr.AssignedTeacherID)
	assert.Equal(t, teacher.ID, *hr.AssignedTeacherID)

	// 学生求助文本成为线程首条消息
	require.NotNil(t, hr.ThreadID)
	msgs, err := s.Help.MessageRepo.ListByThread(*hr.ThreadID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "need help here", msgs[0].Body)
	assert.Equal(t, student.ID, msgs[0].SenderID)

	again, created2, err := s.Help.GetOrCreateFromEvent(event)
	require.NoError(t, err)
	assert.False(t, created2)
	assert.Equal(t, hr.ID, again.ID)

	var count int64
	s.DB.Model(&model.HelpRequest{}).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestBlockedLimitSingleOpenPerPair(t *testing.T) {
	s := newTestServices(t)
	student := createUser(t, s.DB, model.RoleStudent)
	course := createCourse(t, s.DB, "c")
	task := createTask(t, s.DB, course.ID, model.TaskTypeSingleChoice, 1)

	hr, created, err := s.Help.GetOrCreateBlockedLimit(student.ID, task.ID,
		map[string]interface{}{"attempts_used": 3})
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, hr.AutoCreated)
	assert.Equal(t, blockedLimitPriority, hr.Priority)
	assert.Equal(t, model.HelpTypeBlockedLimit, hr.RequestType)

	// 重复触发不建新单，只刷新上下文
	again, created2, err := s.Help.GetOrCreateBlockedLimit(student.ID, task.ID,
		map[string]interface{}{"attempts_used": 4})
	require.NoError(t, err)
	assert.False(t, created2)
	assert.Equal(t, hr.ID, again.ID)
	assert.Contains(t, again.Context, "4")

	var count int64
	s.DB.Model(&model.HelpRequest{}).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestBlockedLimitReopensAfterClose(t *testing.T) {
	s := newTestServices(t)
	student := createUser(t, s.DB, model.RoleStudent)
	methodist := createUser(t, s.DB, model.RoleMethodist)
	course := createCourse(t, s.DB, "c")
	task := createTask(t, s.DB, course.ID, model.TaskTypeSingleChoice, 1)

	hr, _, err := s.Help.GetOrCreateBlockedLimit(student.ID, task.ID, nil)
	require.NoError(t, err)
	_, err = s.Help.Close(hr.ID, methodist.ID, "limit raised")
	require.NoError(t, err)

	reopened, created, err := s.Help.GetOrCreateBlockedLimit(student.ID, task.ID, nil)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, hr.ID, reopened.ID)
}

func TestReplyIdempotencyKey(t *testing.T) {
	s := newTestServices(t)
	student := createUser(t, s.DB, model.RoleStudent)
	teacher := createUser(t, s.DB, model.RoleTeacher)
	linkStudentTeacher(t, s.DB, student.ID, teacher.ID)
	course := createCourse(t, s.DB, "c")
	task := createTask(t, s.DB, course.ID, model.TaskTypeSingleChoice, 1)

	event := recordHelpEvent(t, s, student.ID, task.ID, "stuck")
	hr, _, err := s.Help.GetOrCreateFromEvent(event)
	require.NoError(t, err)

	first, err := s.Help.Reply(hr.ID, teacher.ID, "try the hint", "key-1", false)
	require.NoError(t, err)
	assert.False(t, first.Reused)

	// 回复后工单进入 in_progress
	updated, err := s.Help.HelpRepo.FindByID(hr.ID)
	require.NoError(t, err)
	assert.Equal(t, model.HelpStatusInProgress, updated.Status)

	second, err := s.Help.Reply(hr.ID, teacher.ID, "try the hint", "key-1", false)
	require.NoError(t, err)
	assert.True(t, second.Reused)
	assert.Equal(t, first.Message.ID, second.Message.ID)

	third, err := s.Help.Reply(hr.ID, teacher.ID, "another note", "key-2", false)
	require.NoError(t, err)
	assert.False(t, third.Reused)
	assert.NotEqual(t, first.Message.ID, third.Message.ID)
}

func TestReplyValidationAndClosed(t *testing.T) {
	s := newTestServices(t)
	student := createUser(t, s.DB, model.RoleStudent)
	teacher := createUser(t, s.DB, model.RoleTeacher)
	linkStudentTeacher(t, s.DB, student.ID, teacher.ID)
	course := createCourse(t, s.DB, "c")
	task := createTask(t, s.DB, course.ID, model.TaskTypeSingleChoice, 1)

	event := recordHelpEvent(t, s, student.ID, task.ID, "stuck")
	hr, _, err := s.Help.GetOrCreateFromEvent(event)
	require.NoError(t, err)

	_, err = s.Help.Reply(hr.ID, teacher.ID, "", "key-1", false)
	requireKind(t, err, util.KindValidation)

	_, err = s.Help.Reply(hr.ID, teacher.ID, "body", "", false)
	requireKind(t, err, util.KindValidation)

	_, err = s.Help.Close(hr.ID, teacher.ID, "resolved")
	require.NoError(t, err)

	_, err = s.Help.Reply(hr.ID, teacher.ID, "too late", "key-3", false)
	requireKind(t, err, util.KindConflict)
}

func TestCloseIdempotentAndScoped(t *testing.T) {
	s := newTestServices(t)
	student := createUser(t, s.DB, model.RoleStudent)
	teacher := createUser(t, s.DB, model.RoleTeacher)
	stranger := createUser(t, s.DB, model.RoleTeacher)
	linkStudentTeacher(t, s.DB, student.ID, teacher.ID)
	course := createCourse(t, s.DB, "c")
	task := createTask(t, s.DB, course.ID, model.TaskTypeSingleChoice, 1)

	event := recordHelpEvent(t, s, student.ID, task.ID, "stuck")
	hr, _, err := s.Help.GetOrCreateFromEvent(event)
	require.NoError(t, err)

	// 范围外的教师对工单不可见
	_, err = s.Help.Close(hr.ID, stranger.ID, "nope")
	requireKind(t, err, util.KindNotFound)

	closed, err := s.Help.Close(hr.ID, teacher.ID, "answered in thread")
	require.NoError(t, err)
	assert.Equal(t, model.HelpStatusClosed, closed.Status)
	require.NotNil(t, closed.ClosedBy)
	assert.Equal(t, teacher.ID, *closed.ClosedBy)
	require.NotNil(t, closed.ResolutionComment)

	again, err := s.Help.Close(hr.ID, teacher.ID, "second attempt")
	require.NoError(t, err)
	assert.Equal(t, closed.ClosedAt.Unix(), again.ClosedAt.Unix())
}

func TestDetailVisibility(t *testing.T) {
	s := newTestServices(t)
	student := createUser(t, s.DB, model.RoleStudent)
	teacher := createUser(t, s.DB, model.RoleTeacher)
	stranger := createUser(t, s.DB, model.RoleTeacher)
	methodist := createUser(t, s.DB, model.RoleMethodist)
	otherStudent := createUser(t, s.DB, model.RoleStudent)
	linkStudentTeacher(t, s.DB, student.ID, teacher.ID)
	course := createCourse(t, s.DB, "c")
	task := createTask(t, s.DB, course.ID, model.TaskTypeSingleChoice, 1)

	event := recordHelpEvent(t, s, student.ID, task.ID, "stuck")
	hr, _, err := s.Help.GetOrCreateFromEvent(event)
	require.NoError(t, err)

	detail, err := s.Help.Detail(hr.ID, student.ID)
	require.NoError(t, err)
	require.Len(t, detail.Messages, 1)

	_, err = s.Help.Detail(hr.ID, teacher.ID)
	require.NoError(t, err)

	_, err = s.Help.Detail(hr.ID, methodist.ID)
	require.NoError(t, err)

	// 无关角色一律按不存在处理
	_, err = s.Help.Detail(hr.ID, stranger.ID)
	requireKind(t, err, util.KindNotFound)
	_, err = s.Help.Detail(hr.ID, otherStudent.ID)
	requireKind(t, err, util.KindNotFound)
}

func TestListScopesAndFilters(t *testing.T) {
	s := newTestServices(t)
	studentA := createUser(t, s.DB, model.RoleStudent)
	studentB := createUser(t, s.DB, model.RoleStudent)
	teacherA := createUser(t, s.DB, model.RoleTeacher)
	teacherB := createUser(t, s.DB, model.RoleTeacher)
	methodist := createUser(t, s.DB, model.RoleMethodist)
	linkStudentTeacher(t, s.DB, studentA.ID, teacherA.ID)
	linkStudentTeacher(t, s.DB, studentB.ID, teacherB.ID)
	course := createCourse(t, s.DB, "c")
	task := createTask(t, s.DB, course.ID, model.TaskTypeSingleChoice, 1)

	eventA := recordHelpEvent(t, s, studentA.ID, task.ID, "from A")
	_, _, err := s.Help.GetOrCreateFromEvent(eventA)
	require.NoError(t, err)
	eventB := recordHelpEvent(t, s, studentB.ID, task.ID, "from B")
	_, _, err = s.Help.GetOrCreateFromEvent(eventB)
	require.NoError(t, err)
	_, _, err = s.Help.GetOrCreateBlockedLimit(studentA.ID, task.ID, nil)
	require.NoError(t, err)

	itemsA, totalA, err := s.Help.List(teacherA.ID, "", "", 20, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), totalA)
	for _, hr := range itemsA {
		assert.Equal(t, studentA.ID, hr.StudentID)
	}

	_, totalManual, err := s.Help.List(teacherA.ID, "", string(model.HelpTypeManual), 20, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), totalManual)

	_, totalAll, err := s.Help.List(methodist.ID, "", "", 20, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(3), totalAll)
}

func TestReplyCloseAfterReply(t *testing.T) {
	s := newTestServices(t)
	student := createUser(t, s.DB, model.RoleStudent)
	teacher := createUser(t, s.DB, model.RoleTeacher)
	linkStudentTeacher(t, s.DB, student.ID, teacher.ID)
	course := createCourse(t, s.DB, "c")
	task := createTask(t, s.DB, course.ID, model.TaskTypeSingleChoice, 1)

	event := recordHelpEvent(t, s, student.ID, task.ID, "stuck")
	hr, _, err := s.Help.GetOrCreateFromEvent(event)
	require.NoError(t, err)

	result, err := s.Help.Reply(hr.ID, teacher.ID, "fixed, closing", "key-1", true)
	require.NoError(t, err)
	assert.False(t, result.Reused)

	closed, err := s.Help.HelpRepo.FindByID(hr.ID)
	require.NoError(t, err)
	assert.Equal(t, model.HelpStatusClosed, closed.Status)
	require.NotNil(t, closed.ClosedBy)
	assert.Equal(t, teacher.ID, *closed.ClosedBy)
}
