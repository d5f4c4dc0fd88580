package controller

import (
	"github.com/gin-gonic/gin"

	"edulearn_backend/internal/model"
	"edulearn_backend/internal/service"
	"edulearn_backend/internal/util"
)

type LearningController struct {
	Engine       *service.LearningEngineService
	EventService *service.LearningEventService
	HelpService  *service.HelpRequestService
}

func NewLearningController(
	engine *service.LearningEngineService,
	eventService *service.LearningEventService,
	helpService *service.HelpRequestService,
) *LearningController {
	return &LearningController{
		Engine:       engine,
		EventService: eventService,
		HelpService:  helpService,
	}
}

// NextItem 学生的下一个学习项
// @Summary 下一个学习项
// @Tags learning
// @Produce json
// @Param student_id query int true "学生 ID"
// @Success 200 {object} util.Response
// @Router /api/learning/next-item [get]
func (ctl *LearningController) NextItem(c *gin.Context) {
	studentID, ok := uintQuery(c, "student_id")
	if !ok {
		util.BadRequest(c, "student_id is required")
		return
	}

	item, err := ctl.Engine.NextItem(studentID)
	if err != nil {
		util.HandleError(c, err)
		return
	}

	// 选路撞到阻塞任务时确保有对应工单
	if item.Kind == service.NextItemBlocked && item.TaskID != nil {
		if _, _, err := ctl.HelpService.GetOrCreateBlockedLimit(studentID, *item.TaskID, nil); err != nil {
			util.HandleError(c, err)
			return
		}
	}
	util.SuccessResponse(c, item)
}

// TaskState 任务状态
// @Summary 任务状态
// @Tags learning
// @Produce json
// @Param id path int true "任务 ID"
// @Param student_id query int true "学生 ID"
// @Success 200 {object} util.Response
// @Router /api/learning/tasks/{id}/state [get]
func (ctl *LearningController) TaskState(c *gin.Context) {
	taskID, err := util.ParseUintParam(c.Param("id"))
	if err != nil {
		util.BadRequest(c, "invalid task id")
		return
	}
	studentID, ok := uintQuery(c, "student_id")
	if !ok {
		util.BadRequest(c, "student_id is required")
		return
	}

	info, err := ctl.Engine.TaskState(studentID, taskID)
	if err != nil {
		util.HandleError(c, err)
		return
	}
	util.SuccessResponse(c, info)
}

// CourseState 课程状态
// @Summary 课程状态
// @Tags learning
// @Produce json
// @Param id path int true "课程 ID"
// @Param student_id query int true "学生 ID"
// @Success 200 {object} util.Response
// @Router /api/learning/courses/{id}/state [get]
func (ctl *LearningController) CourseState(c *gin.Context) {
	courseID, err := util.ParseUintParam(c.Param("id"))
	if err != nil {
		util.BadRequest(c, "invalid course id")
		return
	}
	studentID, ok := uintQuery(c, "student_id")
	if !ok {
		util.BadRequest(c, "student_id is required")
		return
	}

	info, err := ctl.Engine.CourseState(studentID, courseID)
	if err != nil {
		util.HandleError(c, err)
		return
	}
	util.SuccessResponse(c, info)
}

type completeMaterialRequest struct {
	StudentID uint `json:"student_id" binding:"required"`
}

// CompleteMaterial 标记材料完成，幂等
// @Summary 标记材料完成
// @Tags learning
// @Accept json
// @Produce json
// @Param id path int true "材料 ID"
// @Param request body completeMaterialRequest true "学生"
// @Success 200 {object} util.Response
// @Router /api/learning/materials/{id}/complete [post]
func (ctl *LearningController) CompleteMaterial(c *gin.Context) {
	materialID, err := util.ParseUintParam(c.Param("id"))
	if err != nil {
		util.BadRequest(c, "invalid material id")
		return
	}

	var req completeMaterialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.BadRequest(c, err.Error())
		return
	}

	progress, err := ctl.Engine.MarkMaterialCompleted(req.StudentID, materialID)
	if err != nil {
		util.HandleError(c, err)
		return
	}
	util.SuccessResponse(c, progress)
}

// RecordEvent 记录学习事件。help_requested 事件同时返回对应工单
// @Summary 记录学习事件
// @Tags learning
// @Accept json
// @Produce json
// @Param request body service.RecordEventRequest true "事件"
// @Success 201 {object} util.Response
// @Router /api/learning/events [post]
func (ctl *LearningController) RecordEvent(c *gin.Context) {
	var req service.RecordEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.BadRequest(c, err.Error())
		return
	}

	result, err := ctl.EventService.RecordEvent(req)
	if err != nil {
		util.HandleError(c, err)
		return
	}

	response := gin.H{
		"event":      result.Event,
		"duplicated": result.Duplicated,
	}

	if result.Event.EventType == model.EventHelpRequested {
		hr, _, err := ctl.HelpService.GetOrCreateFromEvent(result.Event)
		if err != nil {
			util.HandleError(c, err)
			return
		}
		response["help_request"] = hr
	}

	if result.Duplicated {
		util.SuccessResponse(c, response)
		return
	}
	util.CreatedResponse(c, response)
}
