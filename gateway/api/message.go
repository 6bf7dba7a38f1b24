package api

import (
	"net/http"

	"github.com/ceyewan/rchat/logic/service"
	"github.com/ceyewan/rchat/model"
	"github.com/gin-gonic/gin"
)

type sendMessageRequest struct {
	Content     string `json:"content"`
	ContentType string `json:"content_type"`
	FileID      string `json:"file_id"`
}

// target 由路由决定消息目标
type target func(id string) model.Target

// SendMessage 返回向指定目标发送消息的处理函数
func (h *Handler) SendMessage(to target) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req sendMessageRequest
		if !h.bind(c, &req) {
			return
		}
		msg, err := h.logic.Messaging.SendMessage(c.Request.Context(), service.SendMessageRequest{
			Target:      to(c.Param("id")),
			Sender:      requester(c),
			Content:     req.Content,
			ContentType: req.ContentType,
			FileID:      req.FileID,
		})
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusCreated, msg)
	}
}

// ListMessages 返回分页拉取历史消息的处理函数，最新的在前
func (h *Handler) ListMessages(to target) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, offset, ok := h.page(c)
		if !ok {
			return
		}
		messages, err := h.logic.Messaging.ListMessages(c.Request.Context(), to(c.Param("id")), requester(c), limit, offset)
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"messages": messages})
	}
}

// DeleteMessage 返回软删除消息的处理函数
func (h *Handler) DeleteMessage(to target) gin.HandlerFunc {
	return func(c *gin.Context) {
		_, err := h.logic.Messaging.DeleteMessage(c.Request.Context(), to(c.Param("id")), c.Param("message_id"), requester(c))
		if err != nil {
			h.fail(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}
