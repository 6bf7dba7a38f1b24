package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/rchat/gateway/api"
	"github.com/ceyewan/rchat/gateway/middleware"
	"github.com/ceyewan/rchat/pkg/health"
	"github.com/gin-gonic/gin"
)

// HTTPServer HTTP 服务包装器
type HTTPServer struct {
	addr   string
	logger clog.Logger
	router *gin.Engine
	server *http.Server
}

// NewHTTPServer 创建 HTTP 服务并注册全部路由
func NewHTTPServer(
	addr string,
	logger clog.Logger,
	h *api.Handler,
	ws *api.WebSocket,
	auth *middleware.AuthConfig,
	probe *health.Probe,
	opts ...api.RouteOption,
) *HTTPServer {
	router := gin.New()

	// 注册 API 路由
	api.RegisterRoutes(router, h, ws, auth, opts...)

	// 健康检查
	router.GET("/health", gin.WrapF(probe.LivenessHandler()))
	router.GET("/ready", gin.WrapF(probe.ReadinessHandler()))

	return &HTTPServer{
		addr:   addr,
		logger: logger,
		router: router,
		server: &http.Server{
			Addr:    addr,
			Handler: router,
		},
	}
}

// Handler 返回路由，便于测试直接驱动
func (s *HTTPServer) Handler() http.Handler {
	return s.router
}

// Start 启动 HTTP 服务，阻塞直到服务关闭
func (s *HTTPServer) Start() error {
	s.logger.Info("http server started", clog.String("addr", s.addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop 停止 HTTP 服务
func (s *HTTPServer) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
