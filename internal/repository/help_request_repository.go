package repository

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"edulearn_backend/internal/model"
)

type HelpRequestRepository struct {
	db *gorm.DB
}

func NewHelpRequestRepository(db *gorm.DB) *HelpRequestRepository {
	return &HelpRequestRepository{db: db}
}

func (r *HelpRequestRepository) Create(tx *gorm.DB, hr *model.HelpRequest) error {
	if tx == nil {
		tx = r.db
	}
	return tx.Create(hr).Error
}

func (r *HelpRequestRepository) FindByID(id uint) (*model.HelpRequest, error) {
	var hr model.HelpRequest
	err := r.db.First(&hr, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &hr, nil
}

func (r *HelpRequestRepository) FindByEventID(tx *gorm.DB, eventID uint) (*model.HelpRequest, error) {
	if tx == nil {
		tx = r.db
	}
	var hr model.HelpRequest
	err := tx.Where("event_id = ?", eventID).First(&hr).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &hr, nil
}

// FindOpenBlockedLimit 学生在某任务上未关闭的 blocked_limit 工单；这类工单每对 (student, task) 至多一条
func (r *HelpRequestRepository) FindOpenBlockedLimit(tx *gorm.DB, studentID, taskID uint) (*model.HelpRequest, error) {
	if tx == nil {
		tx = r.db
	}
	var hr model.HelpRequest
	err := tx.Where("student_id = ? AND task_id = ? AND request_type = ? AND status <> ?",
		studentID, taskID, model.HelpTypeBlockedLimit, model.HelpStatusClosed).
		First(&hr).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &hr, nil
}

// teacherScope 教师可见范围：负责的工单、带教的学生、负责的课程。methodist 全量可见
func (r *HelpRequestRepository) teacherScope(q *gorm.DB, teacherID uint, methodist bool) *gorm.DB {
	if methodist {
		return q
	}
	return q.Where(
		"help_requests.assigned_teacher_id = ? OR help_requests.student_id IN (SELECT student_id FROM student_teacher_links WHERE teacher_id = ?) OR help_requests.course_id IN (SELECT course_id FROM teacher_courses WHERE teacher_id = ?)",
		teacherID, teacherID, teacherID,
	)
}

// ClaimNext 领取下一条可处理的工单。
// requestType 为空表示不按类型过滤，courseID 非空时只在该课程内领取。
// 排序：priority 升序，due_at 升序（空值最后），创建时间升序。
// MySQL 下加 FOR UPDATE SKIP LOCKED，多教师并发领取互不阻塞。
func (r *HelpRequestRepository) ClaimNext(tx *gorm.DB, teacherID uint, methodist bool, requestType model.HelpRequestType, courseID *uint, now time.Time, ttl time.Duration, token string) (*model.HelpRequest, error) {
	q := tx.Model(&model.HelpRequest{}).
		Where("help_requests.status <> ?", model.HelpStatusClosed).
		Where("help_requests.claimed_by IS NULL OR help_requests.claim_expires_at < ?", now)
	if requestType != "" {
		q = q.Where("help_requests.request_type = ?", requestType)
	}
	if courseID != nil {
		q = q.Where("help_requests.course_id = ?", *courseID)
	}
	q = r.teacherScope(q, teacherID, methodist)

	q = q.Order("help_requests.priority ASC").
		Order("CASE WHEN help_requests.due_at IS NULL THEN 1 ELSE 0 END, help_requests.due_at ASC").
		Order("help_requests.created_at ASC, help_requests.id ASC")
	if tx.Dialector.Name() == "mysql" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
	}

	var hr model.HelpRequest
	err := q.First(&hr).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	expires := now.Add(ttl)
	res := tx.Model(&model.HelpRequest{}).
		Where("id = ?", hr.ID).
		Where("claimed_by IS NULL OR claim_expires_at < ?", now).
		Updates(map[string]interface{}{
			"claimed_by":       teacherID,
			"claim_token":      token,
			"claim_expires_at": expires,
			"status":           model.HelpStatusInProgress,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}

	hr.ClaimedBy = &teacherID
	hr.ClaimToken = &token
	hr.ClaimExpiresAt = &expires
	hr.Status = model.HelpStatusInProgress
	return &hr, nil
}

// WorkloadCounts 教师工作台计数
type WorkloadCounts struct {
	OpenManualHelp   int64 `json:"open_manual_help"`
	OpenBlockedLimit int64 `json:"open_blocked_limit"`
	OpenTotal        int64 `json:"open_total"`
	Overdue          int64 `json:"overdue"`
}

func (r *HelpRequestRepository) CountWorkload(teacherID uint, methodist bool, now time.Time) (*WorkloadCounts, error) {
	var row struct {
		OpenManualHelp   int64
		OpenBlockedLimit int64
		OpenTotal        int64
		Overdue          int64
	}
	q := r.db.Model(&model.HelpRequest{}).
		Select(
			"SUM(CASE WHEN request_type = ? AND status <> ? THEN 1 ELSE 0 END) AS open_manual_help, "+
				"SUM(CASE WHEN request_type = ? AND status <> ? THEN 1 ELSE 0 END) AS open_blocked_limit, "+
				"SUM(CASE WHEN status <> ? THEN 1 ELSE 0 END) AS open_total, "+
				"SUM(CASE WHEN status <> ? AND due_at IS NOT NULL AND due_at < ? THEN 1 ELSE 0 END) AS overdue",
			model.HelpTypeManual, model.HelpStatusClosed,
			model.HelpTypeBlockedLimit, model.HelpStatusClosed,
			model.HelpStatusClosed,
			model.HelpStatusClosed, now,
		)
	q = r.teacherScope(q, teacherID, methodist)
	if err := q.Scan(&row).Error; err != nil {
		return nil, err
	}
	return &WorkloadCounts{
		OpenManualHelp:   row.OpenManualHelp,
		OpenBlockedLimit: row.OpenBlockedLimit,
		OpenTotal:        row.OpenTotal,
		Overdue:          row.Overdue,
	}, nil
}

// List 教师范围内的工单列表
func (r *HelpRequestRepository) List(teacherID uint, methodist bool, status string, requestType string, limit, offset int) ([]model.HelpRequest, int64, error) {
	q := r.db.Model(&model.HelpRequest{})
	q = r.teacherScope(q, teacherID, methodist)
	if status != "" {
		q = q.Where("help_requests.status = ?", status)
	}
	if requestType != "" {
		q = q.Where("help_requests.request_type = ?", requestType)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var items []model.HelpRequest
	err := q.Order("help_requests.created_at DESC, help_requests.id DESC").
		Limit(limit).Offset(offset).
		Find(&items).Error
	return items, total, err
}

func (r *HelpRequestRepository) Save(tx *gorm.DB, hr *model.HelpRequest) error {
	if tx == nil {
		tx = r.db
	}
	return tx.Save(hr).Error
}

// FindReply 回复幂等记录
func (r *HelpRequestRepository) FindReply(tx *gorm.DB, helpRequestID uint, idempotencyKey string) (*model.HelpRequestReply, error) {
	if tx == nil {
		tx = r.db
	}
	var reply model.HelpRequestReply
	err := tx.Where("help_request_id = ? AND idempotency_key = ?", helpRequestID, idempotencyKey).First(&reply).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &reply, nil
}

func (r *HelpRequestRepository) CreateReply(tx *gorm.DB, reply *model.HelpRequestReply) error {
	if tx == nil {
		tx = r.db
	}
	return tx.Create(reply).Error
}
