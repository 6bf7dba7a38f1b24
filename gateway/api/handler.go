// Package api 实现 rchat 的 HTTP 接口与 WebSocket 接入点。
//
// 所有业务错误统一映射为 {"error": <文案>, "code": <分类>}，
// 内部错误只返回通用文案，详细原因写入日志。
package api

import (
	"net/http"
	"strconv"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/rchat/gateway/middleware"
	"github.com/ceyewan/rchat/logic"
	"github.com/ceyewan/rchat/pkg/apperr"
	"github.com/gin-gonic/gin"
)

const (
	defaultPageSize = 50
	maxPageSize     = 100
)

// Handler HTTP 业务接口
type Handler struct {
	logic  *logic.Logic
	logger clog.Logger
}

// NewHandler 创建 HTTP 处理器
func NewHandler(l *logic.Logic, logger clog.Logger) *Handler {
	return &Handler{
		logic:  l,
		logger: logger.WithNamespace("api"),
	}
}

// fail 将业务错误写回响应
func (h *Handler) fail(c *gin.Context, err error) {
	code := apperr.CodeOf(err)
	status := apperr.HTTPStatus(code)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(c.Request.Context(), "request failed",
			clog.String("path", c.FullPath()),
			clog.String("method", c.Request.Method),
			clog.Error(err))
	}
	c.AbortWithStatusJSON(status, gin.H{
		"error": apperr.PublicMessage(err),
		"code":  string(code),
	})
}

// bind 解析 JSON 请求体
func (h *Handler) bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		h.fail(c, apperr.Validation("Invalid request body"))
		return false
	}
	return true
}

// page 解析 limit/offset 查询参数
func (h *Handler) page(c *gin.Context) (limit, offset int, ok bool) {
	limit, offset = defaultPageSize, 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			h.fail(c, apperr.Validation("limit must be a positive integer"))
			return 0, 0, false
		}
		limit = min(n, maxPageSize)
	}
	if v := c.Query("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.fail(c, apperr.Validation("offset must be a non-negative integer"))
			return 0, 0, false
		}
		offset = n
	}
	return limit, offset, true
}

func requester(c *gin.Context) string {
	return middleware.MustGetUsername(c)
}
