package api

import (
	"net/http"

	"github.com/ceyewan/rchat/logic/service"
	"github.com/gin-gonic/gin"
)

type banRequest struct {
	Username string `json:"username"`
	Reason   string `json:"reason"`
}

// SiteBan 全站封禁
func (h *Handler) SiteBan(c *gin.Context) {
	var req banRequest
	if !h.bind(c, &req) {
		return
	}
	if err := h.logic.Moderation.SiteBan(c.Request.Context(), req.Username, requester(c), req.Reason); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ResumeSiteBan 重放中断的全站封禁级联
func (h *Handler) ResumeSiteBan(c *gin.Context) {
	if err := h.logic.Moderation.ResumeSiteBan(c.Request.Context(), c.Param("username"), requester(c)); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListSiteBans 分页列出封禁日志
func (h *Handler) ListSiteBans(c *gin.Context) {
	limit, offset, ok := h.page(c)
	if !ok {
		return
	}
	bans, err := h.logic.Moderation.ListSiteBans(c.Request.Context(), requester(c), limit, offset)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bans": bans})
}

// RecomputeCounts 以实际行数修正全部社区计数
func (h *Handler) RecomputeCounts(c *gin.Context) {
	ctx := c.Request.Context()
	if err := h.logic.Authz.RequireSiteAdmin(ctx, requester(c)); err != nil {
		h.fail(c, err)
		return
	}
	changed, err := h.logic.Community.RecomputeCounts(ctx)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"changed": changed})
}

// CommunityBan 社区封禁
func (h *Handler) CommunityBan(c *gin.Context) {
	var req banRequest
	if !h.bind(c, &req) {
		return
	}
	err := h.logic.Moderation.CommunityBan(c.Request.Context(), service.CommunityBanRequest{
		Community: c.Param("name"),
		Target:    req.Username,
		Requester: requester(c),
		Reason:    req.Reason,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// CommunityUnban 解除社区封禁
func (h *Handler) CommunityUnban(c *gin.Context) {
	if err := h.logic.Moderation.CommunityUnban(c.Request.Context(), c.Param("name"), c.Param("username"), requester(c)); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListCommunityBans 列出社区封禁
func (h *Handler) ListCommunityBans(c *gin.Context) {
	bans, err := h.logic.Moderation.ListCommunityBans(c.Request.Context(), c.Param("name"), requester(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bans": bans})
}
