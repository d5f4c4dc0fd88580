package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edulearn_backend/internal/model"
	"edulearn_backend/internal/util"
)

func openHelpRequest(t *testing.T, s *testServices, studentID, taskID uint) *model.HelpRequest {
	t.Helper()
	var task model.Task
	require.NoError(t, s.DB.First(&task, taskID).Error)
	event := &model.LearningEvent{
		EventType: model.EventHelpRequested,
		StudentID: studentID,
		TaskID:    &taskID,
		CourseID:  &task.CourseID,
		Payload:   `{"message":"help me"}`,
	}
	require.NoError(t, s.DB.Create(event).Error)
	hr, created, err := s.Help.GetOrCreateFromEvent(event)
	require.NoError(t, err)
	require.True(t, created)
	return hr
}

func pendingReview(t *testing.T, s *testServices, studentID, taskID uint) *model.TaskResult {
	t.Helper()
	return finishedResult(t, s.DB, studentID, taskID, 0, 10, nil)
}

func TestClaimAssignsLease(t *testing.T) {
	s := newTestServices(t)
	teacher := createUser(t, s.DB, model.RoleTeacher)
	student := createUser(t, s.DB, model.RoleStudent)
	linkStudentTeacher(t, s.DB, student.ID, teacher.ID)
	course := createCourse(t, s.DB, "c")
	task := createTask(t, s.DB, course.ID, model.TaskTypeSingleChoice, 1)
	hr := openHelpRequest(t, s, student.ID, task.ID)

	result, err := s.Queue.Claim(teacher.ID, QueueHelp, ClaimFilters{}, "")
	require.NoError(t, err)
	require.False(t, result.Empty)
	assert.Equal(t, hr.ID, result.HelpRequest.ID)
	assert.NotEmpty(t, result.Token)
	assert.True(t, result.ExpiresAt.After(time.Now()))
	assert.Equal(t, model.HelpStatusInProgress, result.HelpRequest.Status)
}

func TestClaimContentionSingleItem(t *testing.T) {
	s := newTestServices(t)
	teacherA := createUser(t, s.DB, model.RoleMethodist)
	teacherB := createUser(t, s.DB, model.RoleMethodist)
	student := createUser(t, s.DB, model.RoleStudent)
	course := createCourse(t, s.DB, "c")
	task := createTask(t, s.DB, course.ID, model.TaskTypeSingleChoice, 1)
	openHelpRequest(t, s, student.ID, task.ID)

	first, err := s.Queue.Claim(teacherA.ID, QueueHelp, ClaimFilters{}, "")
	require.NoError(t, err)
	require.False(t, first.Empty)

	second, err := s.Queue.Claim(teacherB.ID, QueueHelp, ClaimFilters{}, "")
	require.NoError(t, err)
	assert.True(t, second.Empty)
}

func TestClaimOutOfScopeIsEmpty(t *testing.T) {
	s := newTestServices(t)
	stranger := createUser(t, s.DB, model.RoleTeacher)
	student := createUser(t, s.DB, model.RoleStudent)
	course := createCourse(t, s.DB, "c")
	task := createTask(t, s.DB, course.ID, model.TaskTypeSingleChoice, 1)
	openHelpRequest(t, s, student.ID, task.ID)

	result, err := s.Queue.Claim(stranger.ID, QueueHelp, ClaimFilters{}, "")
	require.NoError(t, err)
	assert.True(t, result.Empty)
}

func TestClaimIdempotencyKey(t *testing.T) {
	s := newTestServices(t)
	teacher := createUser(t, s.DB, model.RoleMethodist)
	student := createUser(t, s.DB, model.RoleStudent)
	course := createCourse(t, s.DB, "c")
	taskA := createTask(t, s.DB, course.ID, model.TaskTypeSingleChoice, 1)
	taskB := createTask(t, s.DB, course.ID, model.TaskTypeSingleChoice, 2)
	openHelpRequest(t, s, student.ID, taskA.ID)
	openHelpRequest(t, s, student.ID, taskB.ID)

	first, err := s.Queue.Claim(teacher.ID, QueueHelp, ClaimFilters{}, "retry-key")
	require.NoError(t, err)
	require.False(t, first.Empty)

	// 相同幂等键的重试拿到同一项同一令牌，不领第二项
	second, err := s.Queue.Claim(teacher.ID, QueueHelp, ClaimFilters{}, "retry-key")
	require.NoError(t, err)
	assert.Equal(t, first.HelpRequest.ID, second.HelpRequest.ID)
	assert.Equal(t, first.Token, second.Token)

	// 不同键领到下一项
	third, err := s.Queue.Claim(teacher.ID, QueueHelp, ClaimFilters{}, "other-key")
	require.NoError(t, err)
	require.False(t, third.Empty)
	assert.NotEqual(t, first.HelpRequest.ID, third.HelpRequest.ID)
}

func TestClaimOrderByPriorityAndAge(t *testing.T) {
	s := newTestServices(t)
	teacher := createUser(t, s.DB, model.RoleMethodist)
	student := createUser(t, s.DB, model.RoleStudent)
	course := createCourse(t, s.DB, "c")
	taskA := createTask(t, s.DB, course.ID, model.TaskTypeSingleChoice, 1)
	taskB := createTask(t, s.DB, course.ID, model.TaskTypeSingleChoice, 2)

	hrOld := openHelpRequest(t, s, student.ID, taskA.ID)
	hrUrgent := openHelpRequest(t, s, student.ID, taskB.ID)
	require.NoError(t, s.DB.Model(hrUrgent).Update("priority", 10).Error)

	first, err := s.Queue.Claim(teacher.ID, QueueHelp, ClaimFilters{}, "")
	require.NoError(t, err)
	assert.Equal(t, hrUrgent.ID, first.HelpRequest.ID)

	second, err := s.Queue.Claim(teacher.ID, QueueHelp, ClaimFilters{}, "")
	require.NoError(t, err)
	assert.Equal(t, hrOld.ID, second.HelpRequest.ID)
}

func TestReleaseMatrix(t *testing.T) {
	s := newTestServices(t)
	teacher := createUser(t, s.DB, model.RoleMethodist)
	other := createUser(t, s.DB, model.RoleMethodist)
	student := createUser(t, s.DB, model.RoleStudent)
	course := createCourse(t, s.DB, "c")
	task := createTask(t, s.DB, course.ID, model.TaskTypeSingleChoice, 1)
	hr := openHelpRequest(t, s, student.ID, task.ID)

	// 不存在
	_, err := s.Queue.Release(teacher.ID, QueueHelp, 99999, "whatever")
	requireKind(t, err, util.KindNotFound)

	// 未被领取
	status, err := s.Queue.Release(teacher.ID, QueueHelp, hr.ID, "whatever")
	require.NoError(t, err)
	assert.Equal(t, ReleaseAlreadyReleased, status)

	claimed, err := s.Queue.Claim(teacher.ID, QueueHelp, ClaimFilters{}, "")
	require.NoError(t, err)
	require.False(t, claimed.Empty)

	// 令牌不匹配
	_, err = s.Queue.Release(teacher.ID, QueueHelp, hr.ID, "wrong-token")
	requireKind(t, err, util.KindConflict)

	// 非持有人
	_, err = s.Queue.Release(other.ID, QueueHelp, hr.ID, claimed.Token)
	requireKind(t, err, util.KindConflict)

	// 正常释放，回到队列
	status, err = s.Queue.Release(teacher.ID, QueueHelp, hr.ID, claimed.Token)
	require.NoError(t, err)
	assert.Equal(t, ReleaseOK, status)

	reloaded, err := s.Help.Detail(hr.ID, teacher.ID)
	require.NoError(t, err)
	assert.Nil(t, reloaded.Request.ClaimedBy)
	assert.Equal(t, model.HelpStatusOpen, reloaded.Request.Status)
}

func TestReleaseExpiredLease(t *testing.T) {
	s := newTestServices(t)
	teacher := createUser(t, s.DB, model.RoleMethodist)
	other := createUser(t, s.DB, model.RoleMethodist)
	student := createUser(t, s.DB, model.RoleStudent)
	course := createCourse(t, s.DB, "c")
	task := createTask(t, s.DB, course.ID, model.TaskTypeSingleChoice, 1)
	hr := openHelpRequest(t, s, student.ID, task.ID)

	claimed, err := s.Queue.Claim(teacher.ID, QueueHelp, ClaimFilters{}, "")
	require.NoError(t, err)
	require.False(t, claimed.Empty)

	expired := time.Now().Add(-time.Minute)
	require.NoError(t, s.DB.Model(&model.HelpRequest{}).Where("id = ?", hr.ID).
		Update("claim_expires_at", expired).Error)

	// 过期租约任何人都能清理
	status, err := s.Queue.Release(other.ID, QueueHelp, hr.ID, "irrelevant")
	require.NoError(t, err)
	assert.Equal(t, ReleaseOK, status)
}

func TestExpiredLeaseReclaimable(t *testing.T) {
	s := newTestServices(t)
	teacherA := createUser(t, s.DB, model.RoleMethodist)
	teacherB := createUser(t, s.DB, model.RoleMethodist)
	student := createUser(t, s.DB, model.RoleStudent)
	course := createCourse(t, s.DB, "c")
	task := createTask(t, s.DB, course.ID, model.TaskTypeSingleChoice, 1)
	hr := openHelpRequest(t, s, student.ID, task.ID)

	first, err := s.Queue.Claim(teacherA.ID, QueueHelp, ClaimFilters{}, "")
	require.NoError(t, err)
	require.False(t, first.Empty)

	expired := time.Now().Add(-time.Minute)
	require.NoError(t, s.DB.Model(&model.HelpRequest{}).Where("id = ?", hr.ID).
		Update("claim_expires_at", expired).Error)

	second, err := s.Queue.Claim(teacherB.ID, QueueHelp, ClaimFilters{}, "")
	require.NoError(t, err)
	require.False(t, second.Empty)
	assert.Equal(t, hr.ID, second.HelpRequest.ID)
	assert.Equal(t, teacherB.ID, *second.HelpRequest.ClaimedBy)
}

func TestReviewQueueClaimAndFinalize(t *testing.T) {
	s := newTestServices(t)
	teacher := createUser(t, s.DB, model.RoleMethodist)
	student := createUser(t, s.DB, model.RoleStudent)
	course := createCourse(t, s.DB, "c")
	task := createTask(t, s.DB, course.ID, model.TaskTypeTextAnswer, 1)
	review := pendingReview(t, s, student.ID, task.ID)

	claimed, err := s.Queue.Claim(teacher.ID, QueueReview, ClaimFilters{}, "")
	require.NoError(t, err)
	require.False(t, claimed.Empty)
	assert.Equal(t, review.ID, claimed.Review.ID)

	// 无令牌不能定稿
	_, err = s.Queue.FinalizeReview(teacher.ID, review.ID, FinalizeReviewRequest{
		IsCorrect: true, Score: 8, Token: "wrong",
	})
	requireKind(t, err, util.KindConflict)

	finalized, err := s.Queue.FinalizeReview(teacher.ID, review.ID, FinalizeReviewRequest{
		IsCorrect: true, Score: 8, Token: claimed.Token,
	})
	require.NoError(t, err)
	require.NotNil(t, finalized.IsCorrect)
	assert.True(t, *finalized.IsCorrect)
	assert.Equal(t, float64(8), finalized.Score)
	assert.NotNil(t, finalized.CheckedAt)
	assert.Equal(t, teacher.ID, *finalized.CheckedBy)

	// 评审后任务通过
	info, err := s.Engine.TaskState(student.ID, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatePassed, info.State)

	// 不能重复定稿
	_, err = s.Queue.FinalizeReview(teacher.ID, review.ID, FinalizeReviewRequest{
		IsCorrect: false, Score: 0, Token: claimed.Token,
	})
	requireKind(t, err, util.KindConflict)
}

func TestFinalizeReviewScoreBounds(t *testing.T) {
	s := newTestServices(t)
	teacher := createUser(t, s.DB, model.RoleMethodist)
	student := createUser(t, s.DB, model.RoleStudent)
	course := createCourse(t, s.DB, "c")
	task := createTask(t, s.DB, course.ID, model.TaskTypeTextAnswer, 1)
	review := pendingReview(t, s, student.ID, task.ID)

	claimed, err := s.Queue.Claim(teacher.ID, QueueReview, ClaimFilters{}, "")
	require.NoError(t, err)

	_, err = s.Queue.FinalizeReview(teacher.ID, review.ID, FinalizeReviewRequest{
		IsCorrect: true, Score: 11, Token: claimed.Token,
	})
	requireKind(t, err, util.KindValidation)
}

func TestWorkloadCounts(t *testing.T) {
	s := newTestServices(t)
	teacher := createUser(t, s.DB, model.RoleTeacher)
	student := createUser(t, s.DB, model.RoleStudent)
	linkStudentTeacher(t, s.DB, student.ID, teacher.ID)
	course := createCourse(t, s.DB, "c")
	taskA := createTask(t, s.DB, course.ID, model.TaskTypeSingleChoice, 1)
	taskB := createTask(t, s.DB, course.ID, model.TaskTypeSingleChoice, 2)
	taskC := createTask(t, s.DB, course.ID, model.TaskTypeTextAnswer, 3)

	openHelpRequest(t, s, student.ID, taskA.ID)
	_, _, err := s.Help.GetOrCreateBlockedLimit(student.ID, taskB.ID, nil)
	require.NoError(t, err)
	pendingReview(t, s, student.ID, taskC.ID)

	// 一条逾期工单
	overdue := openHelpRequest(t, s, student.ID, taskB.ID)
	due := time.Now().Add(-time.Hour)
	require.NoError(t, s.DB.Model(overdue).Update("due_at", due).Error)

	workload, err := s.Queue.Workload(teacher.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), workload.OpenManualHelp)
	assert.Equal(t, int64(1), workload.OpenBlockedLimit)
	assert.Equal(t, int64(3), workload.OpenTotal)
	assert.Equal(t, int64(1), workload.PendingReviews)
	assert.Equal(t, int64(1), workload.Overdue)
}

func TestClaimDefaultSpansRequestTypes(t *testing.T) {
	s := newTestServices(t)
	teacher := createUser(t, s.DB, model.RoleMethodist)
	student := createUser(t, s.DB, model.RoleStudent)
	course := createCourse(t, s.DB, "c")
	taskA := createTask(t, s.DB, course.ID, model.TaskTypeSingleChoice, 1)
	taskB := createTask(t, s.DB, course.ID, model.TaskTypeSingleChoice, 2)

	manual := openHelpRequest(t, s, student.ID, taskA.ID)
	blocked, _, err := s.Help.GetOrCreateBlockedLimit(student.ID, taskB.ID, nil)
	require.NoError(t, err)

	// 不带类型过滤时两类工单都可领取，按优先级出队
	first, err := s.Queue.Claim(teacher.ID, QueueHelp, ClaimFilters{}, "")
	require.NoError(t, err)
	require.False(t, first.Empty)
	assert.Equal(t, blocked.ID, first.HelpRequest.ID)

	second, err := s.Queue.Claim(teacher.ID, QueueHelp, ClaimFilters{}, "")
	require.NoError(t, err)
	require.False(t, second.Empty)
	assert.Equal(t, manual.ID, second.HelpRequest.ID)
}

func TestClaimRequestTypeFilter(t *testing.T) {
	s := newTestServices(t)
	teacher := createUser(t, s.DB, model.RoleMethodist)
	student := createUser(t, s.DB, model.RoleStudent)
	course := createCourse(t, s.DB, "c")
	taskA := createTask(t, s.DB, course.ID, model.TaskTypeSingleChoice, 1)
	taskB := createTask(t, s.DB, course.ID, model.TaskTypeSingleChoice, 2)

	manual := openHelpRequest(t, s, student.ID, taskA.ID)
	_, _, err := s.Help.GetOrCreateBlockedLimit(student.ID, taskB.ID, nil)
	require.NoError(t, err)

	// 类型过滤越过优先级更高的限额工单
	result, err := s.Queue.Claim(teacher.ID, QueueHelp, ClaimFilters{RequestType: string(model.HelpTypeManual)}, "")
	require.NoError(t, err)
	require.False(t, result.Empty)
	assert.Equal(t, manual.ID, result.HelpRequest.ID)

	_, err = s.Queue.Claim(teacher.ID, QueueHelp, ClaimFilters{RequestType: "bogus"}, "")
	requireKind(t, err, util.KindValidation)
}

func TestClaimCourseFilter(t *testing.T) {
	s := newTestServices(t)
	teacher := createUser(t, s.DB, model.RoleMethodist)
	student := createUser(t, s.DB, model.RoleStudent)
	courseA := createCourse(t, s.DB, "a")
	courseB := createCourse(t, s.DB, "b")
	taskA := createTask(t, s.DB, courseA.ID, model.TaskTypeSingleChoice, 1)
	taskB := createTask(t, s.DB, courseB.ID, model.TaskTypeSingleChoice, 1)

	openHelpRequest(t, s, student.ID, taskA.ID)
	wanted := openHelpRequest(t, s, student.ID, taskB.ID)

	result, err := s.Queue.Claim(teacher.ID, QueueHelp, ClaimFilters{CourseID: &courseB.ID}, "")
	require.NoError(t, err)
	require.False(t, result.Empty)
	assert.Equal(t, wanted.ID, result.HelpRequest.ID)
}

func TestClaimReviewFilters(t *testing.T) {
	s := newTestServices(t)
	teacher := createUser(t, s.DB, model.RoleMethodist)
	studentA := createUser(t, s.DB, model.RoleStudent)
	studentB := createUser(t, s.DB, model.RoleStudent)
	courseA := createCourse(t, s.DB, "a")
	courseB := createCourse(t, s.DB, "b")
	taskA := createTask(t, s.DB, courseA.ID, model.TaskTypeTextAnswer, 1)
	taskB := createTask(t, s.DB, courseB.ID, model.TaskTypeTextAnswer, 1)

	pendingReview(t, s, studentA.ID, taskA.ID)
	wanted := pendingReview(t, s, studentB.ID, taskB.ID)

	// 按学生过滤，跳过更早提交的评审
	byStudent, err := s.Queue.Claim(teacher.ID, QueueReview, ClaimFilters{StudentID: &studentB.ID}, "")
	require.NoError(t, err)
	require.False(t, byStudent.Empty)
	assert.Equal(t, wanted.ID, byStudent.Review.ID)

	_, err = s.Queue.Release(teacher.ID, QueueReview, wanted.ID, byStudent.Token)
	require.NoError(t, err)

	byCourse, err := s.Queue.Claim(teacher.ID, QueueReview, ClaimFilters{CourseID: &courseB.ID}, "")
	require.NoError(t, err)
	require.False(t, byCourse.Empty)
	assert.Equal(t, wanted.ID, byCourse.Review.ID)
}

func TestFinalizeReviewStaleTokenAfterReclaim(t *testing.T) {
	s := newTestServices(t)
	teacherA := createUser(t, s.DB, model.RoleMethodist)
	teacherB := createUser(t, s.DB, model.RoleMethodist)
	student := createUser(t, s.DB, model.RoleStudent)
	course := createCourse(t, s.DB, "c")
	task := createTask(t, s.DB, course.ID, model.TaskTypeTextAnswer, 1)
	review := pendingReview(t, s, student.ID, task.ID)

	first, err := s.Queue.Claim(teacherA.ID, QueueReview, ClaimFilters{}, "")
	require.NoError(t, err)
	require.False(t, first.Empty)

	expired := time.Now().Add(-time.Minute)
	require.NoError(t, s.DB.Model(&model.TaskResult{}).Where("id = ?", review.ID).
		Update("review_claim_expires_at", expired).Error)

	second, err := s.Queue.Claim(teacherB.ID, QueueReview, ClaimFilters{}, "")
	require.NoError(t, err)
	require.False(t, second.Empty)

	// 旧令牌定稿被拒，结果保持未评审
	_, err = s.Queue.FinalizeReview(teacherA.ID, review.ID, FinalizeReviewRequest{
		IsCorrect: true, Score: 10, Token: first.Token,
	})
	requireKind(t, err, util.KindConflict)

	reloaded, err := s.Queue.ResultRepo.FindByID(review.ID)
	require.NoError(t, err)
	assert.Nil(t, reloaded.CheckedAt)

	finalized, err := s.Queue.FinalizeReview(teacherB.ID, review.ID, FinalizeReviewRequest{
		IsCorrect: true, Score: 10, Token: second.Token,
	})
	require.NoError(t, err)
	assert.NotNil(t, finalized.CheckedAt)
}
