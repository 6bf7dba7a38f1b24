package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ListChannels 列出社区的活跃频道
func (h *Handler) ListChannels(c *gin.Context) {
	channels, err := h.logic.Channel.ListChannels(c.Request.Context(), c.Param("name"), requester(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"channels": channels})
}

// CreateChannel 在社区中创建频道
func (h *Handler) CreateChannel(c *gin.Context) {
	var req nameRequest
	if !h.bind(c, &req) {
		return
	}
	channel, err := h.logic.Channel.CreateChannel(c.Request.Context(), c.Param("name"), req.Name, requester(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, channel)
}

// RenameChannel 重命名频道
func (h *Handler) RenameChannel(c *gin.Context) {
	var req nameRequest
	if !h.bind(c, &req) {
		return
	}
	channel, err := h.logic.Channel.RenameChannel(c.Request.Context(), c.Param("id"), req.Name, requester(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, channel)
}

// DeleteChannel 删除频道
func (h *Handler) DeleteChannel(c *gin.Context) {
	if err := h.logic.Channel.DeleteChannel(c.Request.Context(), c.Param("id"), requester(c)); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
