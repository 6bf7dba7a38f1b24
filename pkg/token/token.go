// Package token 签发与校验身份令牌（HS256 JWT）。
package token

import (
	"fmt"
	"time"

	"github.com/ceyewan/genesis/xerrors"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidToken 令牌无效或已过期
var ErrInvalidToken = xerrors.New("invalid token")

// Config 令牌配置
type Config struct {
	Secret string        `mapstructure:"secret" json:"secret"`
	TTL    time.Duration `mapstructure:"ttl" json:"ttl"`
	Issuer string        `mapstructure:"issuer" json:"issuer"`
}

// Manager 令牌签发与校验
type Manager struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

// New 创建令牌管理器
func New(cfg *Config) (*Manager, error) {
	if cfg == nil || cfg.Secret == "" {
		return nil, fmt.Errorf("token secret cannot be empty")
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	issuer := cfg.Issuer
	if issuer == "" {
		issuer = "rchat"
	}
	return &Manager{
		secret: []byte(cfg.Secret),
		ttl:    ttl,
		issuer: issuer,
		now:    time.Now,
	}, nil
}

// Issue 为用户签发令牌
func (m *Manager) Issue(username string) (string, error) {
	now := m.now()
	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   username,
		Issuer:    m.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Resolve 校验令牌并返回其中的用户名
func (m *Manager) Resolve(tokenString string) (string, error) {
	if tokenString == "" {
		return "", ErrInvalidToken
	}
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (any, error) { return m.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil || !parsed.Valid || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}
