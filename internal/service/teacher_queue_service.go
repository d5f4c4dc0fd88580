package service

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"edulearn_backend/internal/model"
	"edulearn_backend/internal/repository"
	"edulearn_backend/internal/util"
	"edulearn_backend/pkg/logger"
	"edulearn_backend/pkg/monitoring"
)

type QueueKind string

const (
	QueueHelp   QueueKind = "help"
	QueueReview QueueKind = "review"
)

const (
	// DefaultClaimTTL 租约时长
	DefaultClaimTTL = 120 * time.Second

	// 幂等缓存：空结果短缓存，成功结果缓存到租约过期后一小段时间
	emptyCacheTTL      = 30 * time.Second
	successCacheBuffer = 60 * time.Second

	maxIdempotencyKeyLen = 128
)

// ClaimResult 领取结果。Empty 表示队列当前无可领取项
type ClaimResult struct {
	Queue       QueueKind          `json:"queue"`
	Empty       bool               `json:"empty"`
	Token       string             `json:"token,omitempty"`
	ExpiresAt   *time.Time         `json:"expires_at,omitempty"`
	HelpRequest *model.HelpRequest `json:"help_request,omitempty"`
	Review      *model.TaskResult  `json:"review,omitempty"`
}

type claimCacheEntry struct {
	result     *ClaimResult
	cacheUntil time.Time
}

// TeacherQueueService 教师工单/评审队列的领取与释放协议
type TeacherQueueService struct {
	HelpRepo   *repository.HelpRequestRepository
	ResultRepo *repository.TaskResultRepository
	UserRepo   *repository.UserRepository
	DB         *gorm.DB
	ClaimTTL   time.Duration

	mu    sync.Mutex
	cache map[string]claimCacheEntry
}

func NewTeacherQueueService(
	helpRepo *repository.HelpRequestRepository,
	resultRepo *repository.TaskResultRepository,
	userRepo *repository.UserRepository,
	db *gorm.DB,
	claimTTL time.Duration,
) *TeacherQueueService {
	if claimTTL <= 0 {
		claimTTL = DefaultClaimTTL
	}
	return &TeacherQueueService{
		HelpRepo:   helpRepo,
		ResultRepo: resultRepo,
		UserRepo:   userRepo,
		DB:         db,
		ClaimTTL:   claimTTL,
		cache:      make(map[string]claimCacheEntry),
	}
}

// ClaimFilters 领取时的可选过滤条件。
// RequestType 为空或 "all" 时不按工单类型过滤。
// CourseID 两个队列都生效，StudentID 仅评审队列生效
type ClaimFilters struct {
	RequestType string
	CourseID    *uint
	StudentID   *uint
}

// Claim 领取队列中的下一项。
// 带幂等键的重复调用在缓存窗口内返回完全相同的结果（同一项、同一令牌），
// 客户端超时重试不会领走第二项
func (s *TeacherQueueService) Claim(teacherID uint, queue QueueKind, filters ClaimFilters, idempotencyKey string) (*ClaimResult, error) {
	if queue != QueueHelp && queue != QueueReview {
		return nil, util.ValidationError("unknown queue %q", queue)
	}

	var reqType model.HelpRequestType
	switch filters.RequestType {
	case "", "all":
		// 不过滤
	case string(model.HelpTypeManual), string(model.HelpTypeBlockedLimit):
		reqType = model.HelpRequestType(filters.RequestType)
	default:
		return nil, util.ValidationError("unknown request_type %q", filters.RequestType)
	}

	cacheKey := ""
	if idempotencyKey != "" {
		if len(idempotencyKey) > maxIdempotencyKeyLen {
			idempotencyKey = idempotencyKey[:maxIdempotencyKeyLen]
		}
		cacheKey = fmt.Sprintf("%d:%s:%s", teacherID, queue, idempotencyKey)
		if cached := s.cachedClaim(cacheKey); cached != nil {
			monitoring.ClaimCacheHits.WithLabelValues(string(queue)).Inc()
			return cached, nil
		}
		monitoring.ClaimCacheMisses.WithLabelValues(string(queue)).Inc()
	}

	methodist, err := s.UserRepo.IsMethodist(teacherID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	token := uuid.NewString()
	result := &ClaimResult{Queue: queue, Empty: true}

	err = s.DB.Transaction(func(tx *gorm.DB) error {
		switch queue {
		case QueueHelp:
			hr, err := s.HelpRepo.ClaimNext(tx, teacherID, methodist, reqType, filters.CourseID, now, s.ClaimTTL, token)
			if err != nil {
				return err
			}
			if hr != nil {
				result.Empty = false
				result.Token = token
				result.ExpiresAt = hr.ClaimExpiresAt
				result.HelpRequest = hr
			}
		case QueueReview:
			review, err := s.ResultRepo.ClaimNextReview(tx, teacherID, methodist, filters.CourseID, filters.StudentID, now, s.ClaimTTL, token)
			if err != nil {
				return err
			}
			if review != nil {
				result.Empty = false
				result.Token = token
				result.ExpiresAt = review.ReviewClaimExpiresAt
				result.Review = review
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !result.Empty {
		monitoring.ClaimsIssued.WithLabelValues(string(queue)).Inc()
		logger.Log.Info("queue item claimed",
			zap.String("queue", string(queue)),
			zap.Uint("teacher_id", teacherID),
		)
	}

	if cacheKey != "" {
		until := now.Add(emptyCacheTTL)
		if !result.Empty {
			until = result.ExpiresAt.Add(successCacheBuffer)
		}
		s.storeClaim(cacheKey, result, until)
	}
	return result, nil
}

// ReleaseStatus 释放结果
type ReleaseStatus string

const (
	ReleaseOK              ReleaseStatus = "released"
	ReleaseAlreadyReleased ReleaseStatus = "already_released"
)

// Release 释放租约，把项退回队列。
// 无租约视为已释放；租约已过期直接清除；令牌或持有人不匹配报冲突
func (s *TeacherQueueService) Release(teacherID uint, queue QueueKind, itemID uint, token string) (ReleaseStatus, error) {
	now := time.Now()
	switch queue {
	case QueueHelp:
		return s.releaseHelp(teacherID, itemID, token, now)
	case QueueReview:
		return s.releaseReview(teacherID, itemID, token, now)
	}
	return "", util.ValidationError("unknown queue %q", queue)
}

func (s *TeacherQueueService) releaseHelp(teacherID, itemID uint, token string, now time.Time) (ReleaseStatus, error) {
	hr, err := s.HelpRepo.FindByID(itemID)
	if err != nil {
		return "", err
	}
	if hr == nil {
		return "", util.NotFoundError("help request %d not found", itemID)
	}
	if hr.ClaimedBy == nil {
		return ReleaseAlreadyReleased, nil
	}

	expired := hr.ClaimExpiresAt != nil && hr.ClaimExpiresAt.Before(now)
	if !expired {
		if *hr.ClaimedBy != teacherID || hr.ClaimToken == nil || *hr.ClaimToken != token {
			return "", util.ConflictError("claim token mismatch for help request %d", itemID)
		}
	}

	updates := map[string]interface{}{
		"claimed_by":       nil,
		"claim_token":      nil,
		"claim_expires_at": nil,
	}
	if hr.Status == model.HelpStatusInProgress {
		updates["status"] = model.HelpStatusOpen
	}
	if err := s.DB.Model(&model.HelpRequest{}).Where("id = ?", itemID).Updates(updates).Error; err != nil {
		return "", err
	}
	return ReleaseOK, nil
}

func (s *TeacherQueueService) releaseReview(teacherID, itemID uint, token string, now time.Time) (ReleaseStatus, error) {
	review, err := s.ResultRepo.FindByID(itemID)
	if err != nil {
		return "", err
	}
	if review == nil {
		return "", util.NotFoundError("task result %d not found", itemID)
	}
	if review.ReviewClaimedBy == nil {
		return ReleaseAlreadyReleased, nil
	}

	expired := review.ReviewClaimExpiresAt != nil && review.ReviewClaimExpiresAt.Before(now)
	if !expired {
		if *review.ReviewClaimedBy != teacherID || review.ReviewClaimToken == nil || *review.ReviewClaimToken != token {
			return "", util.ConflictError("claim token mismatch for task result %d", itemID)
		}
	}

	err = s.DB.Model(&model.TaskResult{}).Where("id = ?", itemID).Updates(map[string]interface{}{
		"review_claimed_by":       nil,
		"review_claim_token":      nil,
		"review_claim_expires_at": nil,
	}).Error
	if err != nil {
		return "", err
	}
	return ReleaseOK, nil
}

type FinalizeReviewRequest struct {
	IsCorrect bool    `json:"is_correct"`
	Score     float64 `json:"score"`
	Token     string  `json:"token" binding:"required"`
}

// FinalizeReview 提交人工评审结论。要求持有有效租约
func (s *TeacherQueueService) FinalizeReview(teacherID, resultID uint, req FinalizeReviewRequest) (*model.TaskResult, error) {
	review, err := s.ResultRepo.FindByID(resultID)
	if err != nil {
		return nil, err
	}
	if review == nil {
		return nil, util.NotFoundError("task result %d not found", resultID)
	}
	if review.CheckedAt != nil {
		return nil, util.ConflictError("task result %d is already reviewed", resultID)
	}
	if review.ReviewClaimedBy == nil || *review.ReviewClaimedBy != teacherID ||
		review.ReviewClaimToken == nil || *review.ReviewClaimToken != req.Token {
		return nil, util.ConflictError("claim token mismatch for task result %d", resultID)
	}
	if review.ReviewClaimExpiresAt != nil && review.ReviewClaimExpiresAt.Before(time.Now()) {
		return nil, util.ConflictError("claim on task result %d has expired", resultID)
	}
	if req.Score < 0 || req.Score > review.MaxScore {
		return nil, util.ValidationError("score must be within [0, %g]", review.MaxScore)
	}

	now := time.Now()
	// 预检后到更新之间租约可能易主或已定稿，更新本身再校验一次
	res := s.DB.Model(&model.TaskResult{}).
		Where("id = ? AND checked_at IS NULL AND review_claim_token = ?", resultID, req.Token).
		Updates(map[string]interface{}{
			"is_correct":              req.IsCorrect,
			"score":                   req.Score,
			"checked_at":              now,
			"checked_by":              teacherID,
			"review_claimed_by":       nil,
			"review_claim_token":      nil,
			"review_claim_expires_at": nil,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, util.ConflictError("claim on task result %d changed, review not applied", resultID)
	}

	correct := req.IsCorrect
	review.IsCorrect = &correct
	review.Score = req.Score
	review.CheckedAt = &now
	review.CheckedBy = &teacherID
	review.ReviewClaimedBy = nil
	review.ReviewClaimToken = nil
	review.ReviewClaimExpiresAt = nil
	return review, nil
}

// Workload 教师工作台计数
type Workload struct {
	OpenManualHelp   int64 `json:"open_manual_help"`
	OpenBlockedLimit int64 `json:"open_blocked_limit"`
	OpenTotal        int64 `json:"open_total"`
	PendingReviews   int64 `json:"pending_reviews"`
	Overdue          int64 `json:"overdue"`
}

func (s *TeacherQueueService) Workload(teacherID uint) (*Workload, error) {
	methodist, err := s.UserRepo.IsMethodist(teacherID)
	if err != nil {
		return nil, err
	}
	counts, err := s.HelpRepo.CountWorkload(teacherID, methodist, time.Now())
	if err != nil {
		return nil, err
	}
	pending, err := s.ResultRepo.PendingReviewCount(teacherID, methodist)
	if err != nil {
		return nil, err
	}
	return &Workload{
		OpenManualHelp:   counts.OpenManualHelp,
		OpenBlockedLimit: counts.OpenBlockedLimit,
		OpenTotal:        counts.OpenTotal,
		PendingReviews:   pending,
		Overdue:          counts.Overdue,
	}, nil
}

func (s *TeacherQueueService) cachedClaim(key string) *ClaimResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	// 顺带清理过期条目，缓存量与在途领取成正比
	for k, e := range s.cache {
		if e.cacheUntil.Before(now) {
			delete(s.cache, k)
		}
	}

	entry, ok := s.cache[key]
	if !ok {
		return nil
	}
	return entry.result
}

func (s *TeacherQueueService) storeClaim(key string, result *ClaimResult, until time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[key] = claimCacheEntry{result: result, cacheUntil: until}
}
