package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaults(t *testing.T) {
	var cfg Config

	assert.Equal(t, "rchat", cfg.GetName())
	assert.Equal(t, ":8080", cfg.GetHTTPAddr())
	assert.Equal(t, 1024, cfg.WS.GetReadBufferSize())
	assert.Equal(t, 256, cfg.WS.GetSendBuffer())
	assert.Equal(t, "RChat", cfg.Community.GetDefaultName())

	limit := cfg.RateLimit.GetGlobalLimit()
	assert.EqualValues(t, 100, limit.Rate)
	assert.EqualValues(t, 200, limit.Burst)

	policy := cfg.Login.ToPolicy()
	assert.EqualValues(t, 1, policy.Limit.Rate)
	assert.EqualValues(t, 5, policy.Limit.Burst)

	cascade := cfg.Moderation.ToCascade()
	assert.Equal(t, 3, cascade.MaxRetries)
	assert.Equal(t, 100*time.Millisecond, cascade.InitialInterval)
	assert.Equal(t, 2*time.Second, cascade.MaxInterval)
}

func TestOverrides(t *testing.T) {
	var cfg Config
	cfg.Service.HTTPPort = 9000
	cfg.Service.Host = "node-1"
	cfg.WS.MaxMessageSize = 8
	cfg.WS.PingInterval = 5 * time.Second
	cfg.Moderation.CascadeMaxRetries = -1

	assert.Equal(t, ":9000", cfg.GetHTTPAddr())
	assert.Equal(t, "node-1", cfg.GetHost())

	conn := cfg.WS.ToConnConfig()
	assert.EqualValues(t, 8*1024, conn.MaxMessageSize)
	assert.Equal(t, 5*time.Second, conn.PingInterval)

	// 负数表示关闭自动重试
	assert.Equal(t, 0, cfg.Moderation.ToCascade().MaxRetries)

	cfg.Service.HTTPPort = 70000
	assert.Equal(t, 8080, cfg.GetHTTPPort())
}

func TestSanitize(t *testing.T) {
	var cfg Config
	cfg.PostgreSQL.Password = "pg-secret"
	cfg.Auth.Secret = "jwt-secret"
	cfg.Admin.Password = "admin-secret"
	cfg.Admin.Username = "root"

	out := sanitize(&cfg)
	assert.Equal(t, "***", out.PostgreSQL.Password)
	assert.Equal(t, "***", out.Auth.Secret)
	assert.Equal(t, "***", out.Admin.Password)
	assert.Equal(t, "root", out.Admin.Username)

	// 原配置不受影响
	assert.Equal(t, "pg-secret", cfg.PostgreSQL.Password)
}
