package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type nameRequest struct {
	Name string `json:"name"`
}

type reorderRequest struct {
	Names []string `json:"names"`
}

type roleRequest struct {
	Role string `json:"role"`
}

type transferRequest struct {
	NewOwner string `json:"new_owner"`
}

// ListCommunities 按用户排序列出已加入的社区
func (h *Handler) ListCommunities(c *gin.Context) {
	servers, err := h.logic.Community.ListCommunities(c.Request.Context(), requester(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"servers": servers})
}

// CreateCommunity 创建社区
func (h *Handler) CreateCommunity(c *gin.Context) {
	var req nameRequest
	if !h.bind(c, &req) {
		return
	}
	server, err := h.logic.Community.CreateCommunity(c.Request.Context(), req.Name, requester(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, server)
}

// ReorderCommunities 保存社区排序
func (h *Handler) ReorderCommunities(c *gin.Context) {
	var req reorderRequest
	if !h.bind(c, &req) {
		return
	}
	if err := h.logic.Community.ReorderCommunities(c.Request.Context(), requester(c), req.Names); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// JoinCommunity 加入社区
func (h *Handler) JoinCommunity(c *gin.Context) {
	server, err := h.logic.Community.JoinCommunity(c.Request.Context(), c.Param("name"), requester(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, server)
}

// DeleteCommunity 删除社区
func (h *Handler) DeleteCommunity(c *gin.Context) {
	if err := h.logic.Community.DeleteCommunity(c.Request.Context(), c.Param("name"), requester(c)); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListMembers 列出社区成员
func (h *Handler) ListMembers(c *gin.Context) {
	members, err := h.logic.Community.ListMembers(c.Request.Context(), c.Param("name"), requester(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"members": members})
}

// RemoveMember 离开社区（目标为自己）或移除成员
func (h *Handler) RemoveMember(c *gin.Context) {
	err := h.logic.Community.RemoveMember(c.Request.Context(), c.Param("name"), c.Param("username"), requester(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// UpdateMemberRole 修改成员角色
func (h *Handler) UpdateMemberRole(c *gin.Context) {
	var req roleRequest
	if !h.bind(c, &req) {
		return
	}
	err := h.logic.Community.UpdateMemberRole(c.Request.Context(), c.Param("name"), c.Param("username"), req.Role, requester(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// TransferOwnership 转让社区所有权
func (h *Handler) TransferOwnership(c *gin.Context) {
	var req transferRequest
	if !h.bind(c, &req) {
		return
	}
	if err := h.logic.Community.TransferOwnership(c.Request.Context(), c.Param("name"), req.NewOwner, requester(c)); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
