package repository

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"edulearn_backend/internal/model"
)

type TaskResultRepository struct {
	db *gorm.DB
}

func NewTaskResultRepository(db *gorm.DB) *TaskResultRepository {
	return &TaskResultRepository{db: db}
}

func (r *TaskResultRepository) Create(tx *gorm.DB, result *model.TaskResult) error {
	if tx == nil {
		tx = r.db
	}
	return tx.Create(result).Error
}

func (r *TaskResultRepository) FindByID(id uint) (*model.TaskResult, error) {
	var result model.TaskResult
	err := r.db.First(&result, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (r *TaskResultRepository) ListByAttempt(attemptID uint) ([]model.TaskResult, error) {
	var results []model.TaskResult
	err := r.db.Where("attempt_id = ?", attemptID).Order("id ASC").Find(&results).Error
	return results, err
}

// DistinctFinishedAttemptCount 统计该任务已消耗的尝试次数：
// 只计已结束的会话，同一会话多次提交算一次
func (r *TaskResultRepository) DistinctFinishedAttemptCount(userID, taskID uint) (int64, error) {
	var count int64
	err := r.db.Model(&model.TaskResult{}).
		Joins("JOIN attempts ON attempts.id = task_results.attempt_id").
		Where("task_results.user_id = ? AND task_results.task_id = ?", userID, taskID).
		Where("attempts.finished_at IS NOT NULL").
		Distinct("task_results.attempt_id").
		Count(&count).Error
	return count, err
}

// LatestFinishedResult 最近一次已结束会话中的结果，决定任务当前状态
func (r *TaskResultRepository) LatestFinishedResult(userID, taskID uint) (*model.TaskResult, error) {
	var result model.TaskResult
	err := r.db.
		Joins("JOIN attempts ON attempts.id = task_results.attempt_id").
		Where("task_results.user_id = ? AND task_results.task_id = ?", userID, taskID).
		Where("attempts.finished_at IS NOT NULL").
		Order("attempts.finished_at DESC, task_results.id DESC").
		First(&result).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// TaskIDsWithResults 给定任务集中在已结束会话里有提交记录的任务。
// 未结束会话里的结果不算，否则课程会在 Finish 之前提前解锁
func (r *TaskResultRepository) TaskIDsWithResults(userID uint, taskIDs []uint) ([]uint, error) {
	if len(taskIDs) == 0 {
		return nil, nil
	}
	var ids []uint
	err := r.db.Model(&model.TaskResult{}).
		Joins("JOIN attempts ON attempts.id = task_results.attempt_id").
		Where("task_results.user_id = ? AND task_results.task_id IN ?", userID, taskIDs).
		Where("attempts.finished_at IS NOT NULL").
		Distinct().
		Pluck("task_results.task_id", &ids).Error
	return ids, err
}

// ClaimNextReview 领取下一条待人工评审的结果。
// 过滤条件：未判分、未评审、无有效租约，且学生或课程在教师可见范围内。
// courseID、studentID 非空时进一步收窄领取范围。
// MySQL 下使用 FOR UPDATE SKIP LOCKED 避免评审端互相阻塞。
func (r *TaskResultRepository) ClaimNextReview(tx *gorm.DB, teacherID uint, methodist bool, courseID, studentID *uint, now time.Time, ttl time.Duration, token string) (*model.TaskResult, error) {
	q := tx.Model(&model.TaskResult{}).
		Where("task_results.is_correct IS NULL AND task_results.checked_at IS NULL").
		Where("task_results.review_claimed_by IS NULL OR task_results.review_claim_expires_at < ?", now)

	if !methodist || courseID != nil {
		q = q.Joins("JOIN tasks ON tasks.id = task_results.task_id")
	}
	if !methodist {
		q = q.Where("task_results.user_id IN (SELECT student_id FROM student_teacher_links WHERE teacher_id = ?) OR tasks.course_id IN (SELECT course_id FROM teacher_courses WHERE teacher_id = ?)", teacherID, teacherID)
	}
	if courseID != nil {
		q = q.Where("tasks.course_id = ?", *courseID)
	}
	if studentID != nil {
		q = q.Where("task_results.user_id = ?", *studentID)
	}

	q = q.Order("task_results.submitted_at ASC, task_results.id ASC")
	if tx.Dialector.Name() == "mysql" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
	}

	var result model.TaskResult
	err := q.First(&result).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	expires := now.Add(ttl)
	res := tx.Model(&model.TaskResult{}).
		Where("id = ?", result.ID).
		Where("review_claimed_by IS NULL OR review_claim_expires_at < ?", now).
		Updates(map[string]interface{}{
			"review_claimed_by":       teacherID,
			"review_claim_token":      token,
			"review_claim_expires_at": expires,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		// 并发下被其他评审者抢先
		return nil, nil
	}

	result.ReviewClaimedBy = &teacherID
	result.ReviewClaimToken = &token
	result.ReviewClaimExpiresAt = &expires
	return &result, nil
}

// PendingReviewCount 教师范围内等待评审的数量
func (r *TaskResultRepository) PendingReviewCount(teacherID uint, methodist bool) (int64, error) {
	q := r.db.Model(&model.TaskResult{}).
		Where("task_results.is_correct IS NULL AND task_results.checked_at IS NULL")
	if !methodist {
		q = q.Joins("JOIN tasks ON tasks.id = task_results.task_id").
			Where("task_results.user_id IN (SELECT student_id FROM student_teacher_links WHERE teacher_id = ?) OR tasks.course_id IN (SELECT course_id FROM teacher_courses WHERE teacher_id = ?)", teacherID, teacherID)
	}
	var count int64
	err := q.Count(&count).Error
	return count, err
}

func (r *TaskResultRepository) Save(result *model.TaskResult) error {
	return r.db.Save(result).Error
}
