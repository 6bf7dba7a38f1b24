package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/rchat/model"
	"github.com/gin-gonic/gin"
)

const (
	// UsernameKey 是上下文中存储用户名的键
	UsernameKey = "username"
)

// IdentityResolver 将令牌解析为用户名
type IdentityResolver interface {
	ResolveIdentity(ctx context.Context, token string) (string, error)
}

// AuthConfig 认证中间件配置
type AuthConfig struct {
	resolver IdentityResolver
	logger   clog.Logger
}

// NewAuthConfig 创建认证配置
func NewAuthConfig(resolver IdentityResolver, logger clog.Logger) *AuthConfig {
	return &AuthConfig{
		resolver: resolver,
		logger:   logger,
	}
}

// RequireAuth 返回一个需要认证的中间件
// 从请求头或查询参数中获取 token 并验证，访客身份不能通过
func (a *AuthConfig) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		username, err := a.extractAndValidate(c)
		if err != nil {
			a.logger.Warn("authentication failed",
				clog.String("client_ip", c.ClientIP()),
				clog.Error(err),
			)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": err.Error(),
			})
			return
		}

		// 将用户名存入上下文
		c.Set(UsernameKey, username)
		c.Next()
	}
}

// OptionalAuth 返回一个可选认证的中间件
// 没有 token 或 token 无效时以访客身份继续
func (a *AuthConfig) OptionalAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		username, err := a.extractAndValidate(c)
		if err != nil {
			username = model.GuestUsername
		}
		c.Set(UsernameKey, username)
		c.Next()
	}
}

// extractAndValidate 从请求中提取并验证 token
func (a *AuthConfig) extractAndValidate(c *gin.Context) (string, error) {
	token := ExtractToken(c)
	if token == "" {
		return "", ErrMissingToken
	}

	username, err := a.resolver.ResolveIdentity(c.Request.Context(), token)
	if err != nil || username == "" || username == model.GuestUsername {
		return "", ErrInvalidToken
	}
	return username, nil
}

// ExtractToken 从 Authorization 头（支持 "Bearer <token>"）或 token 查询参数中读取令牌
func ExtractToken(c *gin.Context) string {
	if token := c.GetHeader("Authorization"); token != "" {
		return strings.TrimPrefix(token, "Bearer ")
	}
	return c.Query("token")
}

// GetUsername 从上下文获取用户名
func GetUsername(c *gin.Context) (string, bool) {
	username, exists := c.Get(UsernameKey)
	if !exists {
		return "", false
	}
	s, ok := username.(string)
	return s, ok
}

// MustGetUsername 从上下文获取用户名，如果不存在则 panic
func MustGetUsername(c *gin.Context) string {
	username, exists := GetUsername(c)
	if !exists {
		panic("username not found in context")
	}
	return username
}

// 错误定义
var (
	ErrMissingToken = &AuthError{Message: "missing authentication token"}
	ErrInvalidToken = &AuthError{Message: "invalid authentication token"}
)

// AuthError 认证错误
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	return e.Message
}
