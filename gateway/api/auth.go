package api

import (
	"net/http"

	"github.com/ceyewan/rchat/logic/service"
	"github.com/gin-gonic/gin"
)

type registerRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	ProfileType string `json:"profile_type"`
	AvatarColor string `json:"avatar_color"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type authResponse struct {
	Token string `json:"token"`
	User  any    `json:"user"`
}

// Register 注册新用户
func (h *Handler) Register(c *gin.Context) {
	var req registerRequest
	if !h.bind(c, &req) {
		return
	}
	res, err := h.logic.Auth.Register(c.Request.Context(), service.RegisterRequest{
		Username:    req.Username,
		Password:    req.Password,
		ProfileType: req.ProfileType,
		AvatarColor: req.AvatarColor,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, authResponse{Token: res.Token, User: res.User})
}

// Login 用户名密码登录
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if !h.bind(c, &req) {
		return
	}
	res, err := h.logic.Auth.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, authResponse{Token: res.Token, User: res.User})
}
