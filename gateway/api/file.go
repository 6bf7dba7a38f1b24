package api

import (
	"net/http"

	"github.com/ceyewan/rchat/logic/service"
	"github.com/gin-gonic/gin"
)

type registerFileRequest struct {
	OriginalName string `json:"original_name"`
	ContentType  string `json:"content_type"`
	Size         int64  `json:"size"`
}

// RegisterFile 登记上传文件的元数据
func (h *Handler) RegisterFile(c *gin.Context) {
	var req registerFileRequest
	if !h.bind(c, &req) {
		return
	}
	file, err := h.logic.Files.RegisterFile(c.Request.Context(), service.RegisterFileRequest{
		Uploader:     requester(c),
		OriginalName: req.OriginalName,
		ContentType:  req.ContentType,
		Size:         req.Size,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, file)
}

// ListFiles 列出当前用户的文件
func (h *Handler) ListFiles(c *gin.Context) {
	files, err := h.logic.Files.ListFiles(c.Request.Context(), requester(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"files": files})
}

// DeleteFile 删除当前用户的文件
func (h *Handler) DeleteFile(c *gin.Context) {
	if err := h.logic.Files.DeleteFile(c.Request.Context(), c.Param("id"), requester(c)); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
