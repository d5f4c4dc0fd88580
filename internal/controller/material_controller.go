package controller

import (
	"time"

	"github.com/gin-gonic/gin"

	"edulearn_backend/internal/repository"
	"edulearn_backend/internal/service"
	"edulearn_backend/internal/util"
)

type MaterialController struct {
	MaterialRepo   *repository.MaterialRepository
	StorageService *service.StorageService
}

func NewMaterialController(materialRepo *repository.MaterialRepository, storageService *service.StorageService) *MaterialController {
	return &MaterialController{MaterialRepo: materialRepo, StorageService: storageService}
}

// UploadContent 上传材料附件
// @Summary 上传材料附件
// @Tags materials
// @Accept multipart/form-data
// @Produce json
// @Param id path int true "材料 ID"
// @Param file formData file true "附件"
// @Success 200 {object} util.Response
// @Router /api/materials/{id}/content [post]
func (ctl *MaterialController) UploadContent(c *gin.Context) {
	id, err := util.ParseUintParam(c.Param("id"))
	if err != nil {
		util.BadRequest(c, "invalid material id")
		return
	}

	material, err := ctl.MaterialRepo.FindByID(id)
	if err != nil {
		util.LogInternalError(c, err, "failed to load material")
		return
	}
	if material == nil {
		util.NotFound(c, "material not found")
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		util.BadRequest(c, "file is required")
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		util.LogInternalError(c, err, "failed to open upload")
		return
	}
	defer file.Close()

	contentType := fileHeader.Header.Get("Content-Type")
	url, err := ctl.StorageService.SaveMaterialContent(c.Request.Context(), id, fileHeader.Filename, file, fileHeader.Size, contentType)
	if err != nil {
		util.LogInternalError(c, err, "failed to store material content")
		return
	}

	material.ContentURL = url
	if err := ctl.MaterialRepo.Save(material); err != nil {
		util.LogInternalError(c, err, "failed to update material")
		return
	}

	util.SuccessResponse(c, gin.H{"content_url": url})
}

// ContentURL 材料内容的临时下载地址
// @Summary 材料下载地址
// @Tags materials
// @Produce json
// @Param id path int true "材料 ID"
// @Success 200 {object} util.Response
// @Router /api/materials/{id}/content [get]
func (ctl *MaterialController) ContentURL(c *gin.Context) {
	id, err := util.ParseUintParam(c.Param("id"))
	if err != nil {
		util.BadRequest(c, "invalid material id")
		return
	}

	material, err := ctl.MaterialRepo.FindByID(id)
	if err != nil {
		util.LogInternalError(c, err, "failed to load material")
		return
	}
	if material == nil {
		util.NotFound(c, "material not found")
		return
	}
	if material.ContentURL == "" {
		util.NotFound(c, "material has no content")
		return
	}

	url, err := ctl.StorageService.PresignedURL(c.Request.Context(), material.ContentURL, 15*time.Minute)
	if err != nil {
		util.HandleError(c, err)
		return
	}
	util.SuccessResponse(c, gin.H{"url": url})
}
