package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/genesis/config"
	"github.com/ceyewan/genesis/connector"
	"github.com/ceyewan/genesis/ratelimit"
	"github.com/ceyewan/rchat/gateway/connection"
	"github.com/ceyewan/rchat/gateway/observability"
	"github.com/ceyewan/rchat/logic/service"
	"github.com/ceyewan/rchat/pkg/token"
)

// Config rchat 服务配置
type Config struct {
	// 服务基础配置
	Service struct {
		Name     string `mapstructure:"name"`      // 服务名称
		Host     string `mapstructure:"host"`      // 服务主机名（环境变量 HOSTNAME）
		HTTPPort int    `mapstructure:"http_port"` // HTTP 服务端口
	} `mapstructure:"service"`

	// 基础组件配置
	Log        clog.Config                `mapstructure:"log"`      // 日志配置
	PostgreSQL connector.PostgreSQLConfig `mapstructure:"postgres"` // PostgreSQL 配置

	WS         WSConfig         `mapstructure:"ws"`
	Auth       token.Config     `mapstructure:"auth"`
	Login      LoginConfig      `mapstructure:"login"`
	Community  CommunityConfig  `mapstructure:"community"`
	Moderation ModerationConfig `mapstructure:"moderation"`
	Jobs       JobsConfig       `mapstructure:"jobs"`
	Admin      AdminConfig      `mapstructure:"admin"`
	RateLimit  RateLimitConfig  `mapstructure:"ratelimit"`

	// 可观测性配置
	Observability observability.Config `mapstructure:"observability"`
}

// WSConfig WebSocket 相关配置
type WSConfig struct {
	ReadBufferSize  int           `mapstructure:"read_buffer_size"`  // 读缓冲区大小
	WriteBufferSize int           `mapstructure:"write_buffer_size"` // 写缓冲区大小
	MaxMessageSize  int64         `mapstructure:"max_message_size"`  // 最大入站消息（KB）
	PingInterval    time.Duration `mapstructure:"ping_interval"`     // 心跳间隔
	PongTimeout     time.Duration `mapstructure:"pong_timeout"`      // 心跳超时
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`     // 单次写超时
	SendBuffer      int           `mapstructure:"send_buffer"`       // 每个订阅者的队列容量
}

// GetReadBufferSize 默认 1024
func (c *WSConfig) GetReadBufferSize() int {
	if c.ReadBufferSize <= 0 {
		return 1024
	}
	return c.ReadBufferSize
}

// GetWriteBufferSize 默认 1024
func (c *WSConfig) GetWriteBufferSize() int {
	if c.WriteBufferSize <= 0 {
		return 1024
	}
	return c.WriteBufferSize
}

// GetSendBuffer 默认 256
func (c *WSConfig) GetSendBuffer() int {
	if c.SendBuffer <= 0 {
		return 256
	}
	return c.SendBuffer
}

// ToConnConfig 转换为连接配置，零值由 connection 包补默认值
func (c *WSConfig) ToConnConfig() connection.Config {
	return connection.Config{
		MaxMessageSize: c.MaxMessageSize * 1024,
		PingInterval:   c.PingInterval,
		PongTimeout:    c.PongTimeout,
		WriteTimeout:   c.WriteTimeout,
	}
}

// LoginConfig 登录限流与锁定
type LoginConfig struct {
	Rate         float64       `mapstructure:"rate"`          // 每秒允许的登录尝试
	Burst        int           `mapstructure:"burst"`         // 突发容量
	MaxAttempts  int           `mapstructure:"max_attempts"`  // 连续失败多少次后锁定
	LockDuration time.Duration `mapstructure:"lock_duration"` // 锁定时长
}

// ToPolicy 转换为登录策略
func (c *LoginConfig) ToPolicy() service.LoginPolicy {
	limit := ratelimit.Limit{Rate: c.Rate, Burst: c.Burst}
	if limit.Rate <= 0 {
		limit.Rate = 1
	}
	if limit.Burst <= 0 {
		limit.Burst = 5
	}
	return service.LoginPolicy{
		Limit:        limit,
		MaxAttempts:  c.MaxAttempts,
		LockDuration: c.LockDuration,
	}
}

// CommunityConfig 社区配置
type CommunityConfig struct {
	DefaultName string `mapstructure:"default_name"` // 默认社区名
}

// GetDefaultName 默认 "RChat"
func (c *CommunityConfig) GetDefaultName() string {
	if c.DefaultName == "" {
		return "RChat"
	}
	return c.DefaultName
}

// ModerationConfig 全站封禁级联的重试策略
type ModerationConfig struct {
	CascadeMaxRetries      int           `mapstructure:"cascade_max_retries"`
	CascadeInitialInterval time.Duration `mapstructure:"cascade_initial_interval"`
	CascadeMaxInterval     time.Duration `mapstructure:"cascade_max_interval"`
}

// ToCascade 转换为级联配置；未配置时重试 3 次
func (c *ModerationConfig) ToCascade() service.CascadeConfig {
	retries := c.CascadeMaxRetries
	if retries < 0 {
		retries = 0
	} else if retries == 0 {
		retries = 3
	}
	initial := c.CascadeInitialInterval
	if initial <= 0 {
		initial = 100 * time.Millisecond
	}
	maxInterval := c.CascadeMaxInterval
	if maxInterval <= 0 {
		maxInterval = 2 * time.Second
	}
	return service.CascadeConfig{
		MaxRetries:      retries,
		InitialInterval: initial,
		MaxInterval:     maxInterval,
	}
}

// JobsConfig 定时任务配置
type JobsConfig struct {
	FileCleanupInterval time.Duration `mapstructure:"file_cleanup_interval"` // 过期文件清理间隔
	FileCleanupBatch    int           `mapstructure:"file_cleanup_batch"`    // 每批处理的文件数
	CountRepairInterval time.Duration `mapstructure:"count_repair_interval"` // 计数修复间隔，0 表示禁用
}

// AdminConfig 管理员初始化配置
type AdminConfig struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// RateLimitConfig HTTP 限流配置
type RateLimitConfig struct {
	GlobalRate  float64 `mapstructure:"global_rate"`  // 单 IP 全局速率
	GlobalBurst int     `mapstructure:"global_burst"` // 单 IP 全局突发
}

// GetGlobalLimit 默认 100/s，突发 200
func (c *RateLimitConfig) GetGlobalLimit() ratelimit.Limit {
	limit := ratelimit.Limit{Rate: c.GlobalRate, Burst: c.GlobalBurst}
	if limit.Rate <= 0 {
		limit.Rate = 100
	}
	if limit.Burst <= 0 {
		limit.Burst = 200
	}
	return limit
}

// GetName 获取服务名称，默认 "rchat"
func (c *Config) GetName() string {
	if c.Service.Name != "" {
		return c.Service.Name
	}
	return "rchat"
}

// GetHost 获取服务主机名，优先使用配置，其次环境变量 HOSTNAME，最后 "localhost"
func (c *Config) GetHost() string {
	if c.Service.Host != "" {
		return c.Service.Host
	}
	if host := os.Getenv("HOSTNAME"); host != "" {
		return host
	}
	return "localhost"
}

// GetHTTPPort 获取 HTTP 端口
func (c *Config) GetHTTPPort() int {
	if c.Service.HTTPPort > 0 && c.Service.HTTPPort < 65536 {
		return c.Service.HTTPPort
	}
	return 8080
}

// GetHTTPAddr 获取 HTTP 绑定地址
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.GetHTTPPort())
}

// Load 创建并加载配置
// 配置加载顺序：环境变量 > .env > rchat.{env}.yaml > rchat.yaml
func Load() (*Config, error) {
	loader, err := config.New(&config.Config{
		Name:      "rchat",
		FileType:  "yaml",
		Paths:     []string{"./configs"},
		EnvPrefix: "RCHAT",
	})
	if err != nil {
		return nil, err
	}

	// 必须先 Load 才能读取配置
	if err := loader.Load(context.Background()); err != nil {
		return nil, err
	}

	var cfg Config
	if err := loader.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// 在 debug 模式下，打印最终生效的配置
	if os.Getenv("DEBUG_CONFIG") == "true" || os.Getenv("RCHAT_DEBUG_CONFIG") == "true" {
		dumpConfig(&cfg)
	}

	return &cfg, nil
}

// sanitize 返回脱敏后的副本
func sanitize(cfg *Config) Config {
	sanitized := *cfg
	if sanitized.PostgreSQL.Password != "" {
		sanitized.PostgreSQL.Password = "***"
	}
	if sanitized.Auth.Secret != "" {
		sanitized.Auth.Secret = "***"
	}
	if sanitized.Admin.Password != "" {
		sanitized.Admin.Password = "***"
	}
	return sanitized
}

// dumpConfig 以 JSON 格式打印配置（脱敏敏感字段）
func dumpConfig(cfg *Config) {
	data, _ := json.MarshalIndent(sanitize(cfg), "", "  ")
	fmt.Fprintf(os.Stderr, "\n=== RChat Configuration ===\n%s\n=== End of Configuration ===\n\n", data)
}
