package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/genesis/db"
	"github.com/ceyewan/rchat/model"
	"gorm.io/gorm"
)

// userRepo 实现 UserRepo 接口
type userRepo struct {
	db     db.DB
	logger clog.Logger
}

// NewUserRepo 创建 UserRepo 实例
func NewUserRepo(database db.DB, opts ...Option) (UserRepo, error) {
	if database == nil {
		return nil, fmt.Errorf("database cannot be nil")
	}
	logger, err := newLogger("user_repo", opts)
	if err != nil {
		return nil, err
	}
	return &userRepo{db: database, logger: logger}, nil
}

// CreateUser 创建用户
func (r *userRepo) CreateUser(ctx context.Context, user *model.User) error {
	if user == nil {
		return fmt.Errorf("user cannot be nil")
	}
	if user.Username == "" {
		return fmt.Errorf("username cannot be empty")
	}

	if err := r.db.DB(ctx).Create(user).Error; err != nil {
		r.logger.Error("创建用户失败",
			clog.String("username", user.Username),
			clog.Error(err))
		return fmt.Errorf("failed to create user: %w", err)
	}

	r.logger.Info("创建用户成功", clog.String("username", user.Username))
	return nil
}

// GetUser 按用户名查询（不区分大小写）
func (r *userRepo) GetUser(ctx context.Context, username string) (*model.User, error) {
	if username == "" {
		return nil, fmt.Errorf("username cannot be empty")
	}

	var user model.User
	if err := r.db.DB(ctx).Where("LOWER(username) = LOWER(?)", username).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("user %s: %w", username, ErrNotFound)
		}
		r.logger.Error("获取用户失败",
			clog.String("username", username),
			clog.Error(err))
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

// CountUsers 统计注册用户数，不含系统账号
func (r *userRepo) CountUsers(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.DB(ctx).Model(&model.User{}).
		Where("LOWER(username) <> ?", model.SystemUsername).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return count, nil
}

// UpdateLoginState 更新登录失败计数、锁定时间与最近登录时间
func (r *userRepo) UpdateLoginState(ctx context.Context, username string, attempts int, lockedUntil, lastLogin *time.Time) error {
	updates := map[string]any{
		"login_attempts": attempts,
		"locked_until":   lockedUntil,
	}
	if lastLogin != nil {
		updates["last_login"] = lastLogin
	}
	if err := r.db.DB(ctx).Model(&model.User{}).
		Where("LOWER(username) = LOWER(?)", username).
		Updates(updates).Error; err != nil {
		r.logger.Error("更新登录状态失败",
			clog.String("username", username),
			clog.Error(err))
		return fmt.Errorf("failed to update login state: %w", err)
	}
	return nil
}

// DeleteUser 删除用户，不存在时视为成功
func (r *userRepo) DeleteUser(ctx context.Context, username string) error {
	if err := r.db.DB(ctx).
		Where("LOWER(username) = LOWER(?)", username).
		Delete(&model.User{}).Error; err != nil {
		r.logger.Error("删除用户失败",
			clog.String("username", username),
			clog.Error(err))
		return fmt.Errorf("failed to delete user: %w", err)
	}
	return nil
}

// Close 释放资源
func (r *userRepo) Close() error {
	// db 实例由外部管理，这里不需要关闭
	return nil
}
