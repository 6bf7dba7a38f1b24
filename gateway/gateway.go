// Package gateway 组装 rchat 服务：HTTP 接口、WebSocket 推送、业务层与后台任务。
package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/genesis/connector"
	"github.com/ceyewan/genesis/db"
	"github.com/ceyewan/genesis/ratelimit"
	"github.com/ceyewan/rchat/gateway/api"
	"github.com/ceyewan/rchat/gateway/config"
	"github.com/ceyewan/rchat/gateway/connection"
	"github.com/ceyewan/rchat/gateway/middleware"
	"github.com/ceyewan/rchat/gateway/observability"
	"github.com/ceyewan/rchat/gateway/server"
	"github.com/ceyewan/rchat/logic"
	"github.com/ceyewan/rchat/pkg/health"
	"github.com/ceyewan/rchat/pkg/profanity"
	"github.com/ceyewan/rchat/pkg/token"
)

// Gateway 服务生命周期管理器
type Gateway struct {
	config *config.Config
	logger clog.Logger

	// 服务实例
	httpServer  *server.HTTPServer
	healthProbe *health.Probe

	// 核心资源
	resources *resources
	ctx       context.Context
	cancel    context.CancelFunc
}

// resources 内部资源聚合，方便统一管理
type resources struct {
	postgresConn connector.PostgreSQLConnector
	db           db.DB
	repos        *logic.Repositories
	limiter      ratelimit.Limiter
	logic        *logic.Logic
	connMgr      *connection.Manager
}

// New 创建 Gateway 实例
func New() (*Gateway, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	g := &Gateway{
		config:    cfg,
		ctx:       ctx,
		cancel:    cancel,
		resources: &resources{},
	}
	if err := g.initComponents(); err != nil {
		g.Close()
		return nil, err
	}
	return g, nil
}

// initComponents 初始化所有组件
func (g *Gateway) initComponents() error {
	// 1. 初始化可观测性（Trace + Metrics）
	if err := observability.Init(&g.config.Observability); err != nil {
		return fmt.Errorf("init observability: %w", err)
	}

	// 2. 初始化 Logger（带 Trace Context 支持）
	logger, err := observability.NewLogger(&g.config.Log)
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	g.logger = logger

	// 3. 初始化数据库
	if err := g.initBaseResources(); err != nil {
		return err
	}

	// 4. 初始化业务层与连接管理
	if err := g.initLogic(); err != nil {
		return err
	}

	// 5. 初始化服务接口
	g.healthProbe = health.NewProbe()
	g.healthProbe.AddCheck("postgres", g.pingDB)
	g.initServers()
	return nil
}

// initBaseResources 初始化外部连接 (PostgreSQL)
func (g *Gateway) initBaseResources() error {
	postgresConn, err := connector.NewPostgreSQL(&g.config.PostgreSQL, connector.WithLogger(g.logger))
	if err != nil {
		return fmt.Errorf("postgresql init: %w", err)
	}
	g.resources.postgresConn = postgresConn
	if err := postgresConn.Connect(g.ctx); err != nil {
		return fmt.Errorf("postgresql connect: %w", err)
	}

	database, err := db.New(&db.Config{Driver: "postgresql"},
		db.WithPostgreSQLConnector(postgresConn),
		db.WithLogger(g.logger))
	if err != nil {
		return fmt.Errorf("db init: %w", err)
	}
	g.resources.db = database

	repos, err := logic.NewRepositories(database, g.logger)
	if err != nil {
		return fmt.Errorf("repositories init: %w", err)
	}
	g.resources.repos = repos
	return nil
}

// initLogic 创建事件总线、连接管理器与业务层
func (g *Gateway) initLogic() error {
	recorder := observability.NewRecorder()
	bus := connection.NewBus(g.config.WS.GetSendBuffer(), recorder)
	connMgr := connection.NewManager(bus, g.resources.repos.Communities, g.logger, connection.WithRecorder(recorder))
	g.resources.connMgr = connMgr

	tokens, err := token.New(&g.config.Auth)
	if err != nil {
		return fmt.Errorf("token manager init: %w", err)
	}

	limiter, err := ratelimit.New(&ratelimit.Config{
		Driver: ratelimit.DriverStandalone,
	}, ratelimit.WithLogger(g.logger))
	if err != nil {
		return fmt.Errorf("rate limiter init: %w", err)
	}
	g.resources.limiter = limiter

	g.resources.logic = logic.New(
		g.resources.repos,
		connMgr,
		tokens,
		limiter,
		profanity.New(),
		logic.Options{
			DefaultCommunity:    g.config.Community.GetDefaultName(),
			Login:               g.config.Login.ToPolicy(),
			Cascade:             g.config.Moderation.ToCascade(),
			FileCleanupInterval: g.config.Jobs.FileCleanupInterval,
			FileCleanupBatch:    g.config.Jobs.FileCleanupBatch,
			CountRepairInterval: g.config.Jobs.CountRepairInterval,
		},
		g.logger,
	)
	return nil
}

// initServers 初始化 HTTP 与 WebSocket 接入
func (g *Gateway) initServers() {
	l := g.resources.logic
	auth := middleware.NewAuthConfig(l.Auth, g.logger)
	rl := middleware.NewRateLimitConfig(g.resources.limiter, g.logger)

	wsHandler := api.NewWebSocket(g.ctx, l.Auth, g.resources.connMgr, api.WSConfig{
		ReadBufferSize:  g.config.WS.GetReadBufferSize(),
		WriteBufferSize: g.config.WS.GetWriteBufferSize(),
		Conn:            g.config.WS.ToConnConfig(),
	}, g.logger)

	g.httpServer = server.NewHTTPServer(
		g.config.GetHTTPAddr(),
		g.logger,
		api.NewHandler(l, g.logger),
		wsHandler,
		auth,
		g.healthProbe,
		api.WithRecovery(middleware.Recovery(g.logger)),
		api.WithTrace(middleware.Trace()),
		api.WithLogger(middleware.Logger(g.logger)),
		api.WithSlowQuery(middleware.SlowQueryDetector(g.logger, 500*time.Millisecond)),
		api.WithGlobalRateLimit(rl.GlobalIP(g.config.RateLimit.GetGlobalLimit())),
		api.WithIPRateLimit(rl.IPBased(middleware.PredefinedRateLimits.AuthIPLimits, middleware.PredefinedRateLimits.DefaultLimit)),
		api.WithUserRateLimit(rl.UserBased(middleware.PredefinedRateLimits.UserLimits, middleware.PredefinedRateLimits.DefaultLimit)),
	)
}

func (g *Gateway) pingDB(ctx context.Context) error {
	sqlDB, err := g.resources.db.DB(ctx).DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Run 启动所有服务与后台任务
func (g *Gateway) Run() error {
	g.logger.Info("starting rchat servers...")
	g.healthProbe.SetReady(false)
	g.healthProbe.SetShutdown(false)

	// 此时还没有任何连接，上次运行遗留的在线标记和计数漂移在这里修正
	if err := g.resources.logic.Prepare(g.ctx); err != nil {
		return fmt.Errorf("prepare logic: %w", err)
	}
	g.resources.logic.StartJobs(g.ctx)

	go func() {
		if err := g.httpServer.Start(); err != nil {
			g.logger.Error("http server stopped unexpectedly", clog.Error(err))
			g.cancel()
		}
	}()

	g.healthProbe.SetReady(true)
	return nil
}

// Close 优雅关闭资源
func (g *Gateway) Close() error {
	if g.logger != nil {
		g.logger.Info("shutting down rchat...")
	}
	if g.healthProbe != nil {
		g.healthProbe.SetReady(false)
		g.healthProbe.SetShutdown(true)
	}
	g.cancel()

	// 1. 停止 HTTP 服务
	httpShutdownCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer httpCancel()
	if g.httpServer != nil {
		if err := g.httpServer.Stop(httpShutdownCtx); err != nil && g.logger != nil {
			g.logger.Warn("http server shutdown failed", clog.Error(err))
		}
	}

	// 2. 释放核心资源（带超时控制）
	if g.resources != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		done := make(chan struct{})
		go func() {
			if g.resources.logic != nil {
				g.resources.logic.Close()
			}
			if g.resources.connMgr != nil {
				g.resources.connMgr.Close()
			}
			if g.resources.repos != nil {
				g.resources.repos.Close()
			}
			if g.resources.db != nil {
				g.resources.db.Close()
			}
			if g.resources.postgresConn != nil {
				g.resources.postgresConn.Close()
			}
			close(done)
		}()

		select {
		case <-done:
		case <-shutdownCtx.Done():
			if g.logger != nil {
				g.logger.Warn("resource shutdown timed out after 10s, some connections may not be closed cleanly")
			}
		}
	}

	// 3. 关闭可观测性组件
	if err := observability.Shutdown(context.Background()); err != nil && g.logger != nil {
		g.logger.Error("observability shutdown failed", clog.Error(err))
	}
	return nil
}
