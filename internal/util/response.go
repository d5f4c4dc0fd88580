package util

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"edulearn_backend/pkg/logger"
)

// Response 统一响应结构
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func SuccessResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{Success: true, Data: data})
}

func CreatedResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{Success: true, Data: data})
}

func ErrorResponse(c *gin.Context, code int, message string) {
	c.JSON(code, Response{Success: false, Message: message})
}

func BadRequest(c *gin.Context, message string) {
	ErrorResponse(c, http.StatusBadRequest, message)
}

func NotFound(c *gin.Context, message string) {
	ErrorResponse(c, http.StatusNotFound, message)
}

func Conflict(c *gin.Context, message string) {
	ErrorResponse(c, http.StatusConflict, message)
}

func Unauthorized(c *gin.Context, message string) {
	ErrorResponse(c, http.StatusUnauthorized, message)
}

func Forbidden(c *gin.Context, message string) {
	ErrorResponse(c, http.StatusForbidden, message)
}

func InternalServerError(c *gin.Context, message string) {
	ErrorResponse(c, http.StatusInternalServerError, message)
}

// HandleError 按领域错误分类映射 HTTP 状态码
func HandleError(c *gin.Context, err error) {
	switch KindOf(err) {
	case KindNotFound:
		NotFound(c, err.Error())
	case KindConflict:
		Conflict(c, err.Error())
	case KindValidation:
		BadRequest(c, err.Error())
	case KindTransient:
		ErrorResponse(c, http.StatusServiceUnavailable, err.Error())
	default:
		LogInternalError(c, err, "internal error")
	}
}

// LogInternalError 记录内部错误详情，对外隐藏细节
func LogInternalError(c *gin.Context, err error, message string) {
	logger.Log.Error(message,
		zap.Error(err),
		zap.String("path", c.Request.URL.Path),
		zap.String("method", c.Request.Method),
	)
	InternalServerError(c, message)
}
