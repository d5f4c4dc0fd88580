package controller

import (
	"github.com/gin-gonic/gin"

	"edulearn_backend/internal/service"
	"edulearn_backend/internal/util"
)

type AttemptController struct {
	AttemptService *service.AttemptService
}

func NewAttemptController(attemptService *service.AttemptService) *AttemptController {
	return &AttemptController{AttemptService: attemptService}
}

// Create 创建做题会话
// @Summary 创建做题会话
// @Tags attempts
// @Accept json
// @Produce json
// @Param request body service.CreateAttemptRequest true "会话参数"
// @Success 201 {object} util.Response
// @Router /api/attempts [post]
func (ctl *AttemptController) Create(c *gin.Context) {
	var req service.CreateAttemptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.BadRequest(c, err.Error())
		return
	}

	attempt, err := ctl.AttemptService.Create(req)
	if err != nil {
		util.HandleError(c, err)
		return
	}
	util.CreatedResponse(c, attempt)
}

type startOrGetRequest struct {
	UserID uint `json:"user_id" binding:"required"`
	TaskID uint `json:"task_id" binding:"required"`
}

// StartOrGet 以任务为入口获取或创建会话，幂等
// @Summary 获取或创建会话
// @Tags attempts
// @Accept json
// @Produce json
// @Param request body startOrGetRequest true "入口任务"
// @Success 200 {object} util.Response
// @Router /api/attempts/start-or-get [post]
func (ctl *AttemptController) StartOrGet(c *gin.Context) {
	var req startOrGetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.BadRequest(c, err.Error())
		return
	}

	attempt, created, err := ctl.AttemptService.StartOrGet(req.UserID, req.TaskID)
	if err != nil {
		util.HandleError(c, err)
		return
	}
	if created {
		util.CreatedResponse(c, attempt)
		return
	}
	util.SuccessResponse(c, attempt)
}

// SubmitAnswers 批量提交作答
// @Summary 批量提交作答
// @Tags attempts
// @Accept json
// @Produce json
// @Param id path int true "会话 ID"
// @Param request body service.SubmitAnswersRequest true "作答内容"
// @Success 201 {object} util.Response
// @Router /api/attempts/{id}/answers [post]
func (ctl *AttemptController) SubmitAnswers(c *gin.Context) {
	id, err := util.ParseUintParam(c.Param("id"))
	if err != nil {
		util.BadRequest(c, "invalid attempt id")
		return
	}

	var req service.SubmitAnswersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.BadRequest(c, err.Error())
		return
	}

	results, err := ctl.AttemptService.SubmitAnswers(id, req)
	if err != nil {
		util.HandleError(c, err)
		return
	}
	util.CreatedResponse(c, results)
}

// Finish 结束会话，幂等
// @Summary 结束会话
// @Tags attempts
// @Produce json
// @Param id path int true "会话 ID"
// @Success 200 {object} util.Response
// @Router /api/attempts/{id}/finish [post]
func (ctl *AttemptController) Finish(c *gin.Context) {
	id, err := util.ParseUintParam(c.Param("id"))
	if err != nil {
		util.BadRequest(c, "invalid attempt id")
		return
	}

	attempt, err := ctl.AttemptService.Finish(id)
	if err != nil {
		util.HandleError(c, err)
		return
	}
	util.SuccessResponse(c, attempt)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

// Cancel 取消会话，幂等
// @Summary 取消会话
// @Tags attempts
// @Accept json
// @Produce json
// @Param id path int true "会话 ID"
// @Param request body cancelRequest false "取消原因"
// @Success 200 {object} util.Response
// @Router /api/attempts/{id}/cancel [post]
func (ctl *AttemptController) Cancel(c *gin.Context) {
	id, err := util.ParseUintParam(c.Param("id"))
	if err != nil {
		util.BadRequest(c, "invalid attempt id")
		return
	}

	var req cancelRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			util.BadRequest(c, err.Error())
			return
		}
	}

	attempt, alreadyCancelled, err := ctl.AttemptService.Cancel(id, req.Reason)
	if err != nil {
		util.HandleError(c, err)
		return
	}
	util.SuccessResponse(c, gin.H{"attempt": attempt, "already_cancelled": alreadyCancelled})
}

// DeadlineExpired 按截止处理会话
// @Summary 截止处理
// @Tags attempts
// @Produce json
// @Param id path int true "会话 ID"
// @Success 200 {object} util.Response
// @Router /api/attempts/{id}/deadline-expired [post]
func (ctl *AttemptController) DeadlineExpired(c *gin.Context) {
	id, err := util.ParseUintParam(c.Param("id"))
	if err != nil {
		util.BadRequest(c, "invalid attempt id")
		return
	}

	attempt, err := ctl.AttemptService.DeadlineExpired(id)
	if err != nil {
		util.HandleError(c, err)
		return
	}
	util.SuccessResponse(c, attempt)
}

// Get 会话详情及其结果
// @Summary 会话详情
// @Tags attempts
// @Produce json
// @Param id path int true "会话 ID"
// @Success 200 {object} util.Response
// @Router /api/attempts/{id} [get]
func (ctl *AttemptController) Get(c *gin.Context) {
	id, err := util.ParseUintParam(c.Param("id"))
	if err != nil {
		util.BadRequest(c, "invalid attempt id")
		return
	}

	detail, err := ctl.AttemptService.GetWithResults(id)
	if err != nil {
		util.HandleError(c, err)
		return
	}
	util.SuccessResponse(c, detail)
}

// ListByUser 用户的会话列表
// @Summary 用户会话列表
// @Tags attempts
// @Produce json
// @Param id path int true "用户 ID"
// @Param course_id query int false "按课程过滤"
// @Param limit query int false "每页数量"
// @Param offset query int false "偏移量"
// @Success 200 {object} util.Response
// @Router /api/users/{id}/attempts [get]
func (ctl *AttemptController) ListByUser(c *gin.Context) {
	userID, err := util.ParseUintParam(c.Param("id"))
	if err != nil {
		util.BadRequest(c, "invalid user id")
		return
	}

	var courseID *uint
	if v, ok := uintQuery(c, "course_id"); ok {
		courseID = &v
	}
	limit := intQuery(c, "limit", 20)
	offset := intQuery(c, "offset", 0)

	attempts, total, err := ctl.AttemptService.ListByUser(userID, courseID, limit, offset)
	if err != nil {
		util.HandleError(c, err)
		return
	}
	util.SuccessResponse(c, gin.H{"items": attempts, "total": total})
}
