package controller

import (
	"github.com/gin-gonic/gin"

	"edulearn_backend/internal/service"
	"edulearn_backend/internal/util"
)

type TeacherController struct {
	QueueService *service.TeacherQueueService
	Engine       *service.LearningEngineService
}

func NewTeacherController(queueService *service.TeacherQueueService, engine *service.LearningEngineService) *TeacherController {
	return &TeacherController{QueueService: queueService, Engine: engine}
}

type claimRequest struct {
	TeacherID      uint   `json:"teacher_id" binding:"required"`
	Queue          string `json:"queue" binding:"required"`
	RequestType    string `json:"request_type"`
	CourseID       *uint  `json:"course_id"`
	StudentID      *uint  `json:"student_id"`
	IdempotencyKey string `json:"idempotency_key"`
}

// Claim 领取队列中的下一项
// @Summary 领取队列项
// @Tags teacher
// @Accept json
// @Produce json
// @Param request body claimRequest true "领取参数"
// @Success 200 {object} util.Response
// @Router /api/teacher/queue/claim [post]
func (ctl *TeacherController) Claim(c *gin.Context) {
	var req claimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.BadRequest(c, err.Error())
		return
	}

	filters := service.ClaimFilters{
		RequestType: req.RequestType,
		CourseID:    req.CourseID,
		StudentID:   req.StudentID,
	}
	result, err := ctl.QueueService.Claim(req.TeacherID, service.QueueKind(req.Queue), filters, req.IdempotencyKey)
	if err != nil {
		util.HandleError(c, err)
		return
	}
	util.SuccessResponse(c, result)
}

type releaseRequest struct {
	TeacherID uint   `json:"teacher_id" binding:"required"`
	Queue     string `json:"queue" binding:"required"`
	ItemID    uint   `json:"item_id" binding:"required"`
	Token     string `json:"token" binding:"required"`
}

// Release 释放租约，项退回队列
// @Summary 释放队列项
// @Tags teacher
// @Accept json
// @Produce json
// @Param request body releaseRequest true "释放参数"
// @Success 200 {object} util.Response
// @Router /api/teacher/queue/release [post]
func (ctl *TeacherController) Release(c *gin.Context) {
	var req releaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.BadRequest(c, err.Error())
		return
	}

	status, err := ctl.QueueService.Release(req.TeacherID, service.QueueKind(req.Queue), req.ItemID, req.Token)
	if err != nil {
		util.HandleError(c, err)
		return
	}
	util.SuccessResponse(c, gin.H{"status": status})
}

type finalizeReviewRequest struct {
	TeacherID uint    `json:"teacher_id" binding:"required"`
	IsCorrect bool    `json:"is_correct"`
	Score     float64 `json:"score"`
	Token     string  `json:"token" binding:"required"`
}

// FinalizeReview 提交人工评审结论
// @Summary 提交评审结论
// @Tags teacher
// @Accept json
// @Produce json
// @Param id path int true "结果 ID"
// @Param request body finalizeReviewRequest true "评审结论"
// @Success 200 {object} util.Response
// @Router /api/teacher/reviews/{id}/finalize [post]
func (ctl *TeacherController) FinalizeReview(c *gin.Context) {
	id, err := util.ParseUintParam(c.Param("id"))
	if err != nil {
		util.BadRequest(c, "invalid result id")
		return
	}

	var req finalizeReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.BadRequest(c, err.Error())
		return
	}

	result, err := ctl.QueueService.FinalizeReview(req.TeacherID, id, service.FinalizeReviewRequest{
		IsCorrect: req.IsCorrect,
		Score:     req.Score,
		Token:     req.Token,
	})
	if err != nil {
		util.HandleError(c, err)
		return
	}
	util.SuccessResponse(c, result)
}

// Workload 教师工作台计数
// @Summary 工作台计数
// @Tags teacher
// @Produce json
// @Param teacher_id query int true "教师 ID"
// @Success 200 {object} util.Response
// @Router /api/teacher/workload [get]
func (ctl *TeacherController) Workload(c *gin.Context) {
	teacherID, ok := uintQuery(c, "teacher_id")
	if !ok {
		util.BadRequest(c, "teacher_id is required")
		return
	}

	workload, err := ctl.QueueService.Workload(teacherID)
	if err != nil {
		util.HandleError(c, err)
		return
	}
	util.SuccessResponse(c, workload)
}

type limitOverrideRequest struct {
	TeacherID   uint   `json:"teacher_id" binding:"required"`
	StudentID   uint   `json:"student_id" binding:"required"`
	TaskID      uint   `json:"task_id" binding:"required"`
	MaxAttempts int    `json:"max_attempts" binding:"required"`
	Reason      string `json:"reason"`
}

// SetLimitOverride 调整学生在任务上的尝试上限
// @Summary 调整尝试上限
// @Tags teacher
// @Accept json
// @Produce json
// @Param request body limitOverrideRequest true "上限参数"
// @Success 200 {object} util.Response
// @Router /api/teacher/limit-overrides [post]
func (ctl *TeacherController) SetLimitOverride(c *gin.Context) {
	var req limitOverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.BadRequest(c, err.Error())
		return
	}

	override, err := ctl.Engine.SetLimitOverride(req.TeacherID, req.StudentID, req.TaskID, req.MaxAttempts, req.Reason)
	if err != nil {
		util.HandleError(c, err)
		return
	}
	util.SuccessResponse(c, override)
}
