package controller

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"edulearn_backend/internal/util"
)

type HealthController struct {
	DB *gorm.DB
}

func NewHealthController(db *gorm.DB) *HealthController {
	return &HealthController{DB: db}
}

// Health 健康检查，探活数据库连接
// @Summary 健康检查
// @Tags system
// @Produce json
// @Success 200 {object} util.Response
// @Router /health [get]
func (ctl *HealthController) Health(c *gin.Context) {
	sqlDB, err := ctl.DB.DB()
	if err == nil {
		err = sqlDB.Ping()
	}
	if err != nil {
		util.ErrorResponse(c, 503, "database unavailable")
		return
	}
	util.SuccessResponse(c, gin.H{"status": "ok"})
}
