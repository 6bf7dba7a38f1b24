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

// channelRepo 实现 ChannelRepo 接口
type channelRepo struct {
	db     db.DB
	logger clog.Logger
}

// NewChannelRepo 创建 ChannelRepo 实例
func NewChannelRepo(database db.DB, opts ...Option) (ChannelRepo, error) {
	if database == nil {
		return nil, fmt.Errorf("database cannot be nil")
	}
	logger, err := newLogger("channel_repo", opts)
	if err != nil {
		return nil, err
	}
	return &channelRepo{db: database, logger: logger}, nil
}

// lockServer 对社区行加锁，串行化同一社区的频道增删
func lockServer(tx *gorm.DB, name string) (*model.Server, error) {
	var server model.Server
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("name = ?", name).
		First(&server).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("server %s: %w", name, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to lock server: %w", err)
	}
	return &server, nil
}

// CreateChannel 创建频道，位置为当前最大值加一
func (r *channelRepo) CreateChannel(ctx context.Context, channel *model.Channel) error {
	if channel == nil {
		return fmt.Errorf("channel cannot be nil")
	}

	err := r.db.Transaction(ctx, func(ctx context.Context, tx *gorm.DB) error {
		if _, err := lockServer(tx, channel.ServerName); err != nil {
			return err
		}

		var maxPosition int
		if err := tx.Model(&model.Channel{}).
			Select("COALESCE(MAX(position), -1)").
			Where("server_name = ?", channel.ServerName).
			Scan(&maxPosition).Error; err != nil {
			return fmt.Errorf("failed to read channel position: %w", err)
		}
		channel.Position = maxPosition + 1
		channel.IsActive = true

		if err := tx.Create(channel).Error; err != nil {
			return fmt.Errorf("failed to create channel: %w", err)
		}
		if err := tx.Model(&model.Server{}).Where("name = ?", channel.ServerName).
			UpdateColumn("channel_count", gorm.Expr("channel_count + 1")).Error; err != nil {
			return fmt.Errorf("failed to increment channel count: %w", err)
		}
		return nil
	})
	if err != nil {
		r.logger.Error("创建频道失败",
			clog.String("server_name", channel.ServerName),
			clog.String("channel_name", channel.Name),
			clog.Error(err))
		return err
	}

	r.logger.Info("创建频道成功",
		clog.String("server_name", channel.ServerName),
		clog.String("channel_id", channel.ID))
	return nil
}

// GetChannel 查询活跃频道
func (r *channelRepo) GetChannel(ctx context.Context, id string) (*model.Channel, error) {
	if id == "" {
		return nil, fmt.Errorf("channel id cannot be empty")
	}

	var channel model.Channel
	if err := r.db.DB(ctx).Where("id = ? AND is_active = ?", id, true).First(&channel).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("channel %s: %w", id, ErrNotFound)
		}
		r.logger.Error("获取频道失败",
			clog.String("channel_id", id),
			clog.Error(err))
		return nil, fmt.Errorf("failed to get channel: %w", err)
	}
	return &channel, nil
}

// ListChannels 按位置列出社区的活跃频道
func (r *channelRepo) ListChannels(ctx context.Context, serverName string) ([]*model.Channel, error) {
	var channels []*model.Channel
	if err := r.db.DB(ctx).
		Where("server_name = ? AND is_active = ?", serverName, true).
		Order("position ASC").
		Find(&channels).Error; err != nil {
		return nil, fmt.Errorf("failed to list channels: %w", err)
	}
	return channels, nil
}

// DeactivateChannel 软删除频道；计数校验与扣减在社区行锁内完成
func (r *channelRepo) DeactivateChannel(ctx context.Context, id string) error {
	err := r.db.Transaction(ctx, func(ctx context.Context, tx *gorm.DB) error {
		var channel model.Channel
		if err := tx.Where("id = ? AND is_active = ?", id, true).First(&channel).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("channel %s: %w", id, ErrNotFound)
			}
			return fmt.Errorf("failed to get channel: %w", err)
		}
		if _, err := lockServer(tx, channel.ServerName); err != nil {
			return err
		}

		var active int64
		if err := tx.Model(&model.Channel{}).
			Where("server_name = ? AND is_active = ?", channel.ServerName, true).
			Count(&active).Error; err != nil {
			return fmt.Errorf("failed to count active channels: %w", err)
		}
		if active <= 1 {
			return ErrLastChannel
		}

		res := tx.Model(&model.Channel{}).Where("id = ? AND is_active = ?", id, true).Update("is_active", false)
		if res.Error != nil {
			return fmt.Errorf("failed to deactivate channel: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("channel %s: %w", id, ErrNotFound)
		}
		if err := tx.Model(&model.Server{}).Where("name = ?", channel.ServerName).
			UpdateColumn("channel_count", gorm.Expr("GREATEST(channel_count - 1, 0)")).Error; err != nil {
			return fmt.Errorf("failed to decrement channel count: %w", err)
		}
		return nil
	})
	if err != nil {
		if !errors.Is(err, ErrLastChannel) && !errors.Is(err, ErrNotFound) {
			r.logger.Error("删除频道失败",
				clog.String("channel_id", id),
				clog.Error(err))
		}
		return err
	}

	r.logger.Info("删除频道成功", clog.String("channel_id", id))
	return nil
}

// RenameChannel 重命名活跃频道
func (r *channelRepo) RenameChannel(ctx context.Context, id, name string) error {
	res := r.db.DB(ctx).Model(&model.Channel{}).
		Where("id = ? AND is_active = ?", id, true).
		Update("name", name)
	if res.Error != nil {
		r.logger.Error("重命名频道失败",
			clog.String("channel_id", id),
			clog.Error(res.Error))
		return fmt.Errorf("failed to rename channel: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("channel %s: %w", id, ErrNotFound)
	}
	return nil
}

// Close 释放资源
func (r *channelRepo) Close() error {
	return nil
}
