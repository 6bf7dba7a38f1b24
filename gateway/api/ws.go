package api

import (
	"context"
	"net/http"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/rchat/gateway/connection"
	"github.com/ceyewan/rchat/gateway/middleware"
	"github.com/ceyewan/rchat/model"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// WSConfig WebSocket 接入配置
type WSConfig struct {
	ReadBufferSize  int
	WriteBufferSize int
	Conn            connection.Config
}

// WebSocket 处理 WebSocket 接入：解析身份、升级连接、交给连接管理器
type WebSocket struct {
	ctx      context.Context
	resolver middleware.IdentityResolver
	connMgr  *connection.Manager
	upgrader *websocket.Upgrader
	config   WSConfig
	logger   clog.Logger
}

// NewWebSocket 创建 WebSocket 处理器
// ctx 为进程生命周期，取消后所有连接随之关闭
func NewWebSocket(
	ctx context.Context,
	resolver middleware.IdentityResolver,
	connMgr *connection.Manager,
	cfg WSConfig,
	logger clog.Logger,
) *WebSocket {
	upgrader := &websocket.Upgrader{
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}

	return &WebSocket{
		ctx:      ctx,
		resolver: resolver,
		connMgr:  connMgr,
		upgrader: upgrader,
		config:   cfg,
		logger:   logger.WithNamespace("ws"),
	}
}

// Handle 处理 WebSocket 连接请求
// 令牌缺失或无效时以访客身份接入，访客只接收广播，不参与在线状态
func (ws *WebSocket) Handle(c *gin.Context) {
	r := c.Request
	username := model.GuestUsername
	if token := middleware.ExtractToken(c); token != "" {
		resolved, err := ws.resolver.ResolveIdentity(r.Context(), token)
		if err != nil {
			ws.logger.Warn("websocket token rejected, connecting as guest",
				clog.String("remote_addr", r.RemoteAddr),
				clog.Error(err))
		} else {
			username = resolved
		}
	}

	wsConn, err := ws.upgrader.Upgrade(c.Writer, r, nil)
	if err != nil {
		ws.logger.Error("failed to upgrade websocket",
			clog.String("username", username),
			clog.String("remote_addr", r.RemoteAddr),
			clog.Error(err))
		return
	}

	handle, err := ws.connMgr.Connect(r.Context(), username)
	if err != nil {
		ws.logger.Error("failed to register connection",
			clog.String("username", username),
			clog.Error(err))
		_ = wsConn.Close()
		return
	}

	conn := connection.NewConn(wsConn, ws.connMgr, handle, ws.config.Conn)
	go conn.Serve(ws.ctx)

	ws.logger.Info("websocket connection established",
		clog.String("username", username),
		clog.String("conn_id", handle.ID),
		clog.String("remote_addr", r.RemoteAddr))
}
