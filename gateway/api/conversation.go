package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type conversationRequest struct {
	Username string `json:"username"`
}

// ListConversations 列出当前用户的私聊会话
func (h *Handler) ListConversations(c *gin.Context) {
	dms, err := h.logic.Conversation.ListConversations(c.Request.Context(), requester(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": dms})
}

// OpenConversation 获取或创建与另一用户的私聊会话
func (h *Handler) OpenConversation(c *gin.Context) {
	var req conversationRequest
	if !h.bind(c, &req) {
		return
	}
	dm, err := h.logic.Conversation.GetOrCreateConversation(c.Request.Context(), requester(c), req.Username)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dm)
}
