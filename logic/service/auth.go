package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/genesis/ratelimit"
	"github.com/ceyewan/rchat/model"
	"github.com/ceyewan/rchat/pkg/apperr"
	"github.com/ceyewan/rchat/repo"
	"golang.org/x/crypto/bcrypt"
)

// TokenManager 令牌签发与校验
type TokenManager interface {
	Issue(username string) (string, error)
	Resolve(token string) (string, error)
}

// Limiter 限流器，genesis ratelimit.Limiter 满足该接口
type Limiter interface {
	Allow(ctx context.Context, key string, limit ratelimit.Limit) (bool, error)
}

// LoginPolicy 登录限流与锁定策略
type LoginPolicy struct {
	Limit        ratelimit.Limit
	MaxAttempts  int
	LockDuration time.Duration
}

// RegisterRequest 注册请求
type RegisterRequest struct {
	Username    string
	Password    string
	ProfileType string
	AvatarColor string
}

// AuthResult 注册或登录结果
type AuthResult struct {
	User  *model.User
	Token string
}

// AuthService 身份注册、登录与令牌解析
type AuthService struct {
	users         repo.UserRepo
	bans          repo.BanRepo
	community     *CommunityService
	conversations *ConversationService
	tokens        TokenManager
	limiter       Limiter
	filter        Filter
	policy        LoginPolicy
	logger        clog.Logger
}

// NewAuthService 创建认证服务
func NewAuthService(
	users repo.UserRepo,
	bans repo.BanRepo,
	community *CommunityService,
	conversations *ConversationService,
	tokens TokenManager,
	limiter Limiter,
	filter Filter,
	policy LoginPolicy,
	logger clog.Logger,
) *AuthService {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 10
	}
	if policy.LockDuration <= 0 {
		policy.LockDuration = 15 * time.Minute
	}
	return &AuthService{
		users:         users,
		bans:          bans,
		community:     community,
		conversations: conversations,
		tokens:        tokens,
		limiter:       limiter,
		filter:        filterOrNop(filter),
		policy:        policy,
		logger:        logger.WithNamespace("auth"),
	}
}

func isReserved(username string) bool {
	return sameName(username, model.GuestUsername) || sameName(username, model.SystemUsername)
}

// Register 注册新身份；第一个注册的身份成为全站管理员
func (s *AuthService) Register(ctx context.Context, req RegisterRequest) (*AuthResult, error) {
	if err := validateName("Username", req.Username, s.filter); err != nil {
		return nil, err
	}
	if isReserved(req.Username) {
		return nil, apperr.Validation("Username is reserved")
	}
	if len(req.Password) < 8 {
		return nil, apperr.Validation("Password must be at least 8 characters long")
	}
	if len(req.Password) > 72 {
		return nil, apperr.Validation("Password must be at most 72 bytes long")
	}

	banned, err := s.bans.IsSiteBanned(ctx, req.Username)
	if err != nil {
		return nil, internal(err)
	}
	if banned {
		return nil, apperr.Forbidden("This username has been banned")
	}
	if _, err := s.users.GetUser(ctx, req.Username); err == nil {
		return nil, apperr.Conflict("Username already exists")
	} else if !errors.Is(err, repo.ErrNotFound) {
		return nil, internal(err)
	}

	count, err := s.users.CountUsers(ctx)
	if err != nil {
		return nil, internal(err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, apperr.Internal(err, "failed to hash password")
	}

	profileType := req.ProfileType
	if profileType == "" {
		profileType = "identicon"
	}
	user := &model.User{
		Username:     req.Username,
		PasswordHash: string(hash),
		PasswordType: "text",
		ProfileType:  profileType,
		AvatarColor:  req.AvatarColor,
		IsAdmin:      count == 0,
		CreatedAt:    time.Now(),
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if _, getErr := s.users.GetUser(ctx, req.Username); getErr == nil {
			return nil, apperr.Conflict("Username already exists")
		}
		return nil, internal(err)
	}

	if _, err := s.community.JoinCommunity(ctx, s.community.DefaultCommunity(), user.Username); err != nil {
		s.logger.ErrorContext(ctx, "自动加入默认社区失败",
			clog.String("username", user.Username),
			clog.Error(err))
		return nil, err
	}
	if _, err := s.conversations.GetOrCreateConversation(ctx, user.Username, user.Username); err != nil {
		s.logger.WarnContext(ctx, "创建自聊会话失败",
			clog.String("username", user.Username),
			clog.Error(err))
	}

	token, err := s.tokens.Issue(user.Username)
	if err != nil {
		return nil, apperr.Internal(err, "failed to issue token")
	}
	s.logger.InfoContext(ctx, "用户注册成功",
		clog.String("username", user.Username),
		clog.Any("is_admin", user.IsAdmin))
	return &AuthResult{User: user, Token: token}, nil
}

// Login 校验凭据并签发令牌；限流在访问凭据存储之前检查
func (s *AuthService) Login(ctx context.Context, username, password string) (*AuthResult, error) {
	if username == "" || password == "" {
		return nil, apperr.Validation("Username and password are required")
	}
	if s.limiter != nil {
		allowed, err := s.limiter.Allow(ctx, "login:"+strings.ToLower(username), s.policy.Limit)
		if err != nil {
			s.logger.WarnContext(ctx, "登录限流检查失败", clog.Error(err))
		} else if !allowed {
			return nil, apperr.RateLimited("Too many login attempts, please slow down")
		}
	}

	user, err := s.users.GetUser(ctx, username)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, apperr.Unauthenticated("Invalid credentials")
		}
		return nil, internal(err)
	}
	if sameName(user.Username, model.SystemUsername) {
		return nil, apperr.Unauthenticated("Invalid credentials")
	}

	now := time.Now()
	if user.LockedUntil != nil && now.Before(*user.LockedUntil) {
		return nil, apperr.Forbidden("Account is locked. Try again later.")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		attempts := user.LoginAttempts + 1
		var lockedUntil *time.Time
		if attempts >= s.policy.MaxAttempts {
			until := now.Add(s.policy.LockDuration)
			lockedUntil = &until
			attempts = 0
			s.logger.WarnContext(ctx, "账号已锁定",
				clog.String("username", user.Username),
				clog.Duration("lock", s.policy.LockDuration))
		}
		if err := s.users.UpdateLoginState(ctx, user.Username, attempts, lockedUntil, nil); err != nil {
			return nil, internal(err)
		}
		return nil, apperr.Unauthenticated("Invalid credentials")
	}

	if err := s.users.UpdateLoginState(ctx, user.Username, 0, nil, &now); err != nil {
		return nil, internal(err)
	}
	user.LoginAttempts = 0
	user.LockedUntil = nil
	user.LastLogin = &now

	if _, err := s.community.JoinCommunity(ctx, s.community.DefaultCommunity(), user.Username); err != nil &&
		!apperr.IsCode(err, apperr.CodeForbidden) {
		s.logger.WarnContext(ctx, "确保默认社区成员关系失败",
			clog.String("username", user.Username),
			clog.Error(err))
	}

	token, err := s.tokens.Issue(user.Username)
	if err != nil {
		return nil, apperr.Internal(err, "failed to issue token")
	}
	return &AuthResult{User: user, Token: token}, nil
}

// ResolveIdentity 解析令牌中的身份，空令牌视为访客
func (s *AuthService) ResolveIdentity(ctx context.Context, token string) (string, error) {
	if token == "" {
		return model.GuestUsername, nil
	}
	username, err := s.tokens.Resolve(token)
	if err != nil {
		return "", apperr.Unauthenticated("Invalid or expired token")
	}
	banned, err := s.bans.IsSiteBanned(ctx, username)
	if err != nil {
		return "", internal(err)
	}
	if banned {
		return "", apperr.Unauthenticated("Invalid or expired token")
	}
	return username, nil
}
