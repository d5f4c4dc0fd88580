package controller

import (
	"github.com/gin-gonic/gin"

	"edulearn_backend/internal/service"
	"edulearn_backend/internal/util"
)

type HelpRequestController struct {
	HelpService *service.HelpRequestService
}

func NewHelpRequestController(helpService *service.HelpRequestService) *HelpRequestController {
	return &HelpRequestController{HelpService: helpService}
}

// List 教师可见范围内的工单列表
// @Summary 工单列表
// @Tags help-requests
// @Produce json
// @Param teacher_id query int true "教师 ID"
// @Param status query string false "状态过滤"
// @Param type query string false "类型过滤"
// @Success 200 {object} util.Response
// @Router /api/help-requests [get]
func (ctl *HelpRequestController) List(c *gin.Context) {
	teacherID, ok := uintQuery(c, "teacher_id")
	if !ok {
		util.BadRequest(c, "teacher_id is required")
		return
	}

	items, total, err := ctl.HelpService.List(
		teacherID,
		c.Query("status"),
		c.Query("type"),
		intQuery(c, "limit", 20),
		intQuery(c, "offset", 0),
	)
	if err != nil {
		util.HandleError(c, err)
		return
	}
	util.SuccessResponse(c, gin.H{"items": items, "total": total})
}

// Detail 工单详情及消息线程
// @Summary 工单详情
// @Tags help-requests
// @Produce json
// @Param id path int true "工单 ID"
// @Param viewer_id query int true "查看者 ID"
// @Success 200 {object} util.Response
// @Router /api/help-requests/{id} [get]
func (ctl *HelpRequestController) Detail(c *gin.Context) {
	id, err := util.ParseUintParam(c.Param("id"))
	if err != nil {
		util.BadRequest(c, "invalid help request id")
		return
	}
	viewerID, ok := uintQuery(c, "viewer_id")
	if !ok {
		util.BadRequest(c, "viewer_id is required")
		return
	}

	detail, err := ctl.HelpService.Detail(id, viewerID)
	if err != nil {
		util.HandleError(c, err)
		return
	}
	util.SuccessResponse(c, detail)
}

type closeRequest struct {
	TeacherID         uint   `json:"teacher_id" binding:"required"`
	ResolutionComment string `json:"resolution_comment"`
}

// Close 关闭工单，幂等
// @Summary 关闭工单
// @Tags help-requests
// @Accept json
// @Produce json
// @Param id path int true "工单 ID"
// @Param request body closeRequest true "关闭参数"
// @Success 200 {object} util.Response
// @Router /api/help-requests/{id}/close [post]
func (ctl *HelpRequestController) Close(c *gin.Context) {
	id, err := util.ParseUintParam(c.Param("id"))
	if err != nil {
		util.BadRequest(c, "invalid help request id")
		return
	}

	var req closeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.BadRequest(c, err.Error())
		return
	}

	hr, err := ctl.HelpService.Close(id, req.TeacherID, req.ResolutionComment)
	if err != nil {
		util.HandleError(c, err)
		return
	}
	util.SuccessResponse(c, hr)
}

type replyRequest struct {
	TeacherID       uint   `json:"teacher_id" binding:"required"`
	Body            string `json:"body" binding:"required"`
	IdempotencyKey  string `json:"idempotency_key" binding:"required"`
	CloseAfterReply bool   `json:"close_after_reply"`
}

// Reply 教师回复工单，相同幂等键返回同一条消息
// @Summary 回复工单
// @Tags help-requests
// @Accept json
// @Produce json
// @Param id path int true "工单 ID"
// @Param request body replyRequest true "回复内容"
// @Success 201 {object} util.Response
// @Router /api/help-requests/{id}/reply [post]
func (ctl *HelpRequestController) Reply(c *gin.Context) {
	id, err := util.ParseUintParam(c.Param("id"))
	if err != nil {
		util.BadRequest(c, "invalid help request id")
		return
	}

	var req replyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.BadRequest(c, err.Error())
		return
	}

	result, err := ctl.HelpService.Reply(id, req.TeacherID, req.Body, req.IdempotencyKey, req.CloseAfterReply)
	if err != nil {
		util.HandleError(c, err)
		return
	}
	if result.Reused {
		util.SuccessResponse(c, result)
		return
	}
	util.CreatedResponse(c, result)
}
