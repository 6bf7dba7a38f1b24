package api

import (
	"github.com/ceyewan/rchat/gateway/middleware"
	"github.com/ceyewan/rchat/model"
	"github.com/gin-gonic/gin"
)

// RouteConfig 路由配置
type RouteConfig struct {
	RecoveryMiddleware        gin.HandlerFunc
	TraceMiddleware           gin.HandlerFunc
	LoggerMiddleware          gin.HandlerFunc
	SlowQueryMiddleware       gin.HandlerFunc
	GlobalRateLimitMiddleware gin.HandlerFunc
	IPRateLimitMiddleware     gin.HandlerFunc
	UserRateLimitMiddleware   gin.HandlerFunc
}

// RouteOption 路由选项函数
type RouteOption func(*RouteConfig)

// WithRecovery 设置 Recovery 中间件
func WithRecovery(m gin.HandlerFunc) RouteOption {
	return func(cfg *RouteConfig) { cfg.RecoveryMiddleware = m }
}

// WithTrace 设置链路追踪中间件
func WithTrace(m gin.HandlerFunc) RouteOption {
	return func(cfg *RouteConfig) { cfg.TraceMiddleware = m }
}

// WithLogger 设置 Logger 中间件
func WithLogger(m gin.HandlerFunc) RouteOption {
	return func(cfg *RouteConfig) { cfg.LoggerMiddleware = m }
}

// WithSlowQuery 设置慢查询检测中间件
func WithSlowQuery(m gin.HandlerFunc) RouteOption {
	return func(cfg *RouteConfig) { cfg.SlowQueryMiddleware = m }
}

// WithGlobalRateLimit 设置全局限流中间件
func WithGlobalRateLimit(m gin.HandlerFunc) RouteOption {
	return func(cfg *RouteConfig) { cfg.GlobalRateLimitMiddleware = m }
}

// WithIPRateLimit 设置 IP 限流中间件
func WithIPRateLimit(m gin.HandlerFunc) RouteOption {
	return func(cfg *RouteConfig) { cfg.IPRateLimitMiddleware = m }
}

// WithUserRateLimit 设置用户限流中间件
func WithUserRateLimit(m gin.HandlerFunc) RouteOption {
	return func(cfg *RouteConfig) { cfg.UserRateLimitMiddleware = m }
}

func (cfg *RouteConfig) common() []gin.HandlerFunc {
	var out []gin.HandlerFunc
	for _, m := range []gin.HandlerFunc{
		cfg.RecoveryMiddleware,
		cfg.TraceMiddleware,
		cfg.LoggerMiddleware,
		cfg.SlowQueryMiddleware,
		cfg.GlobalRateLimitMiddleware,
	} {
		if m != nil {
			out = append(out, m)
		}
	}
	return out
}

// RegisterRoutes 注册路由到 Gin，使用路由分组和中间件
func RegisterRoutes(router *gin.Engine, h *Handler, ws *WebSocket, auth *middleware.AuthConfig, opts ...RouteOption) {
	cfg := &RouteConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	// 公开路由（不需要认证）
	public := router.Group("", cfg.common()...)
	if cfg.IPRateLimitMiddleware != nil {
		public.Use(cfg.IPRateLimitMiddleware)
	}
	public.POST("/api/auth/register", h.Register)
	public.POST("/api/auth/login", h.Login)
	if ws != nil {
		public.GET("/ws", ws.Handle)
	}

	// 只读路由，token 可选，未登录时以访客身份访问
	guest := router.Group("/api/public", cfg.common()...)
	if cfg.IPRateLimitMiddleware != nil {
		guest.Use(cfg.IPRateLimitMiddleware)
	}
	guest.Use(auth.OptionalAuth())
	guest.GET("/communities/:name", h.LookupCommunity)
	guest.GET("/communities/:name/channels", h.ListPublicChannels)
	guest.GET("/communities/:name/members", h.ListPublicMembers)
	guest.GET("/channels/:id/messages", h.ListPublicMessages)

	// 需要认证的路由
	authed := router.Group("/api", cfg.common()...)
	authed.Use(auth.RequireAuth())
	if cfg.UserRateLimitMiddleware != nil {
		authed.Use(cfg.UserRateLimitMiddleware)
	}

	communities := authed.Group("/communities")
	communities.GET("", h.ListCommunities)
	communities.POST("", h.CreateCommunity)
	communities.PUT("/order", h.ReorderCommunities)
	communities.DELETE("/:name", h.DeleteCommunity)
	communities.POST("/:name/join", h.JoinCommunity)
	communities.POST("/:name/transfer", h.TransferOwnership)
	communities.GET("/:name/members", h.ListMembers)
	communities.DELETE("/:name/members/:username", h.RemoveMember)
	communities.PUT("/:name/members/:username/role", h.UpdateMemberRole)
	communities.GET("/:name/channels", h.ListChannels)
	communities.POST("/:name/channels", h.CreateChannel)
	communities.GET("/:name/bans", h.ListCommunityBans)
	communities.POST("/:name/bans", h.CommunityBan)
	communities.DELETE("/:name/bans/:username", h.CommunityUnban)

	channels := authed.Group("/channels")
	channels.PATCH("/:id", h.RenameChannel)
	channels.DELETE("/:id", h.DeleteChannel)
	channels.GET("/:id/messages", h.ListMessages(model.ChannelTarget))
	channels.POST("/:id/messages", h.SendMessage(model.ChannelTarget))
	channels.DELETE("/:id/messages/:message_id", h.DeleteMessage(model.ChannelTarget))

	conversations := authed.Group("/conversations")
	conversations.GET("", h.ListConversations)
	conversations.POST("", h.OpenConversation)
	conversations.GET("/:id/messages", h.ListMessages(model.ConversationTarget))
	conversations.POST("/:id/messages", h.SendMessage(model.ConversationTarget))
	conversations.DELETE("/:id/messages/:message_id", h.DeleteMessage(model.ConversationTarget))

	files := authed.Group("/files")
	files.GET("", h.ListFiles)
	files.POST("", h.RegisterFile)
	files.DELETE("/:id", h.DeleteFile)

	admin := authed.Group("/admin")
	admin.GET("/bans", h.ListSiteBans)
	admin.POST("/bans", h.SiteBan)
	admin.POST("/bans/:username/resume", h.ResumeSiteBan)
	admin.POST("/recompute", h.RecomputeCounts)
}
