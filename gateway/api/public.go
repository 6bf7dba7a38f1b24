package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// 只读接口，未登录时以访客身份访问

// LookupCommunity 查询社区及其成员数、频道数
func (h *Handler) LookupCommunity(c *gin.Context) {
	server, err := h.logic.Community.LookupCommunity(c.Request.Context(), c.Param("name"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"name":             server.Name,
		"creator_username": server.CreatorUsername,
		"created_at":       server.CreatedAt,
		"member_count":     server.MemberCount,
		"channel_count":    server.ChannelCount,
	})
}

// ListPublicChannels 列出社区的活跃频道
func (h *Handler) ListPublicChannels(c *gin.Context) {
	channels, err := h.logic.Channel.ListPublicChannels(c.Request.Context(), c.Param("name"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"channels": channels})
}

// ListPublicMembers 列出社区成员
func (h *Handler) ListPublicMembers(c *gin.Context) {
	members, err := h.logic.Community.ListPublicMembers(c.Request.Context(), c.Param("name"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"members": members})
}

// ListPublicMessages 分页拉取频道历史，最新的在前
func (h *Handler) ListPublicMessages(c *gin.Context) {
	limit, offset, ok := h.page(c)
	if !ok {
		return
	}
	messages, err := h.logic.Messaging.ListPublicMessages(c.Request.Context(), c.Param("id"), limit, offset)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}
