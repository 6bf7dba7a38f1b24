package middleware

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/genesis/ratelimit"
	"github.com/gin-gonic/gin"
)

// Limiter 限流器，genesis ratelimit.Limiter 满足该接口
type Limiter interface {
	Allow(ctx context.Context, key string, limit ratelimit.Limit) (bool, error)
}

// RateLimitConfig 限流中间件配置
type RateLimitConfig struct {
	limiter Limiter
	logger  clog.Logger
}

// NewRateLimitConfig 创建限流配置
func NewRateLimitConfig(limiter Limiter, logger clog.Logger) *RateLimitConfig {
	return &RateLimitConfig{
		limiter: limiter,
		logger:  logger,
	}
}

// check 执行限流检查；限流器出错时放行
func (r *RateLimitConfig) check(c *gin.Context, key string, limit ratelimit.Limit, fields ...clog.Field) {
	allowed, err := r.limiter.Allow(c.Request.Context(), key, limit)
	if err != nil {
		r.logger.Error("ratelimit check failed", clog.Error(err))
		c.Next()
		return
	}

	if !allowed {
		r.logger.Warn("rate limit exceeded", fields...)
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": "rate limit exceeded",
		})
		return
	}

	c.Next()
}

// IPBased 基于路径的 IP 限流中间件
// 不同路径有不同的限流规则，适用于注册登录等公开接口
func (r *RateLimitConfig) IPBased(pathLimits map[string]ratelimit.Limit, defaultLimit ratelimit.Limit) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, ok := pathLimits[c.FullPath()]
		if !ok {
			limit = defaultLimit
		}

		key := fmt.Sprintf("ip:%s:path:%s", c.ClientIP(), c.FullPath())
		r.check(c, key, limit,
			clog.String("client_ip", c.ClientIP()),
			clog.String("path", c.FullPath()),
		)
	}
}

// UserBased 基于用户的限流中间件
// 必须在 Auth 中间件之后使用，从上下文获取用户名进行限流
func (r *RateLimitConfig) UserBased(pathLimits map[string]ratelimit.Limit, defaultLimit ratelimit.Limit) gin.HandlerFunc {
	return func(c *gin.Context) {
		username, ok := GetUsername(c)
		if !ok {
			r.logger.Warn("user-based ratelimit used without auth middleware",
				clog.String("path", c.FullPath()),
			)
			c.Next()
			return
		}

		limit, ok := pathLimits[c.FullPath()]
		if !ok {
			limit = defaultLimit
		}

		key := fmt.Sprintf("user:%s:path:%s", username, c.FullPath())
		r.check(c, key, limit,
			clog.String("username", username),
			clog.String("path", c.FullPath()),
		)
	}
}

// GlobalIP 全局 IP 限流中间件
// 所有请求共享一个限流池
func (r *RateLimitConfig) GlobalIP(limit ratelimit.Limit) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := fmt.Sprintf("global_ip:%s", c.ClientIP())
		r.check(c, key, limit, clog.String("client_ip", c.ClientIP()))
	}
}

// PredefinedRateLimits 预定义的限流规则，键为 gin 路由模板
var PredefinedRateLimits = struct {
	// 认证相关接口（IP 级别限流）
	AuthIPLimits map[string]ratelimit.Limit
	// 业务接口（用户级别限流）
	UserLimits map[string]ratelimit.Limit
	// 默认限流规则
	DefaultLimit ratelimit.Limit
}{
	AuthIPLimits: map[string]ratelimit.Limit{
		"/api/auth/login": {
			Rate:  10, // 登录：10 QPS
			Burst: 20,
		},
		"/api/auth/register": {
			Rate:  5, // 注册：5 QPS (防刷注册)
			Burst: 10,
		},
	},
	UserLimits: map[string]ratelimit.Limit{
		"/api/channels/:id/messages": {
			Rate:  20, // 频道发消息与拉取历史
			Burst: 40,
		},
		"/api/conversations/:id/messages": {
			Rate:  20,
			Burst: 40,
		},
		"/api/communities": {
			Rate:  10, // 创建与列出社区
			Burst: 20,
		},
		"/api/admin/bans": {
			Rate:  5,
			Burst: 10,
		},
	},
	DefaultLimit: ratelimit.Limit{
		Rate:  100,
		Burst: 200,
	},
}
