package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/genesis/db"
	"github.com/ceyewan/rchat/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// banRepo 实现 BanRepo 接口
type banRepo struct {
	db     db.DB
	logger clog.Logger
}

// NewBanRepo 创建 BanRepo 实例
func NewBanRepo(database db.DB, opts ...Option) (BanRepo, error) {
	if database == nil {
		return nil, fmt.Errorf("database cannot be nil")
	}
	logger, err := newLogger("ban_repo", opts)
	if err != nil {
		return nil, err
	}
	return &banRepo{db: database, logger: logger}, nil
}

// IsSiteBanned 判断用户名是否在全站封禁日志中（不区分大小写）
func (r *banRepo) IsSiteBanned(ctx context.Context, username string) (bool, error) {
	var count int64
	if err := r.db.DB(ctx).Model(&model.BannedUsername{}).
		Where("LOWER(username) = LOWER(?)", username).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check site ban: %w", err)
	}
	return count > 0, nil
}

// AddSiteBan 写入封禁日志，重复写入被忽略
func (r *banRepo) AddSiteBan(ctx context.Context, ban *model.BannedUsername) error {
	if ban == nil || ban.Username == "" {
		return fmt.Errorf("ban username cannot be empty")
	}
	banned, err := r.IsSiteBanned(ctx, ban.Username)
	if err != nil {
		return err
	}
	if banned {
		return nil
	}
	if err := r.db.DB(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(ban).Error; err != nil {
		r.logger.Error("写入封禁日志失败",
			clog.String("username", ban.Username),
			clog.Error(err))
		return fmt.Errorf("failed to add site ban: %w", err)
	}
	r.logger.Info("写入封禁日志成功",
		clog.String("username", ban.Username),
		clog.String("banned_by", ban.BannedBy))
	return nil
}

// ListSiteBans 分页列出封禁日志
func (r *banRepo) ListSiteBans(ctx context.Context, limit, offset int) ([]*model.BannedUsername, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var bans []*model.BannedUsername
	if err := r.db.DB(ctx).Order("banned_at DESC").
		Limit(limit).Offset(offset).
		Find(&bans).Error; err != nil {
		return nil, fmt.Errorf("failed to list site bans: %w", err)
	}
	return bans, nil
}

// IsCommunityBanned 判断用户是否被社区封禁
func (r *banRepo) IsCommunityBanned(ctx context.Context, name, username string) (bool, error) {
	var count int64
	if err := r.db.DB(ctx).Model(&model.ServerBan{}).
		Where("LOWER(server_name) = LOWER(?) AND LOWER(username) = LOWER(?)", name, username).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check server ban: %w", err)
	}
	return count > 0, nil
}

// BanFromCommunity 写入社区封禁并移除成员关系
func (r *banRepo) BanFromCommunity(ctx context.Context, ban *model.ServerBan) (bool, error) {
	if ban == nil {
		return false, fmt.Errorf("ban cannot be nil")
	}

	var removed bool
	err := r.db.Transaction(ctx, func(ctx context.Context, tx *gorm.DB) error {
		if err := lockServerTx(tx, ban.ServerName); err != nil {
			return err
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(ban)
		if res.Error != nil {
			return fmt.Errorf("failed to create server ban: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("ban %s of %s: %w", ban.Username, ban.ServerName, ErrAlreadyBanned)
		}
		var err error
		removed, err = removeMemberTx(tx, ban.ServerName, ban.Username)
		return err
	})
	if errors.Is(err, ErrAlreadyBanned) {
		return false, err
	}
	if err != nil {
		r.logger.Error("社区封禁失败",
			clog.String("server_name", ban.ServerName),
			clog.String("username", ban.Username),
			clog.Error(err))
		return false, err
	}

	r.logger.Info("社区封禁成功",
		clog.String("server_name", ban.ServerName),
		clog.String("username", ban.Username),
		clog.String("banned_by", ban.BannedBy))
	return removed, nil
}

// UnbanFromCommunity 解除社区封禁
func (r *banRepo) UnbanFromCommunity(ctx context.Context, name, username string) (bool, error) {
	res := r.db.DB(ctx).
		Where("server_name = ? AND LOWER(username) = LOWER(?)", name, username).
		Delete(&model.ServerBan{})
	if res.Error != nil {
		return false, fmt.Errorf("failed to delete server ban: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// ListCommunityBans 列出社区封禁
func (r *banRepo) ListCommunityBans(ctx context.Context, name string) ([]*model.ServerBan, error) {
	var bans []*model.ServerBan
	if err := r.db.DB(ctx).
		Where("server_name = ?", name).
		Order("banned_at DESC").
		Find(&bans).Error; err != nil {
		return nil, fmt.Errorf("failed to list server bans: %w", err)
	}
	return bans, nil
}

// Close 释放资源
func (r *banRepo) Close() error {
	return nil
}
