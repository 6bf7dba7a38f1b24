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

// conversationRepo 实现 ConversationRepo 接口
type conversationRepo struct {
	db     db.DB
	logger clog.Logger
}

// NewConversationRepo 创建 ConversationRepo 实例
func NewConversationRepo(database db.DB, opts ...Option) (ConversationRepo, error) {
	if database == nil {
		return nil, fmt.Errorf("database cannot be nil")
	}
	logger, err := newLogger("conversation_repo", opts)
	if err != nil {
		return nil, err
	}
	return &conversationRepo{db: database, logger: logger}, nil
}

// GetOrCreateConversation 按规范化参与者对查找会话，不存在则创建
// 并发创建依赖 uniq_dm_pair 唯一索引，冲突方回读已有记录
func (r *conversationRepo) GetOrCreateConversation(ctx context.Context, dm *model.DirectMessage) (*model.DirectMessage, bool, error) {
	if dm == nil || dm.Username1 == "" || dm.Username2 == "" {
		return nil, false, fmt.Errorf("conversation participants cannot be empty")
	}

	gormDB := r.db.DB(ctx)
	res := gormDB.Clauses(clause.OnConflict{DoNothing: true}).Create(dm)
	if res.Error != nil {
		r.logger.Error("创建私聊会话失败",
			clog.String("username1", dm.Username1),
			clog.String("username2", dm.Username2),
			clog.Error(res.Error))
		return nil, false, fmt.Errorf("failed to create conversation: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		r.logger.Info("创建私聊会话成功", clog.String("dm_id", dm.ID))
		return dm, true, nil
	}

	var existing model.DirectMessage
	if err := gormDB.Where("username1 = ? AND username2 = ?", dm.Username1, dm.Username2).
		First(&existing).Error; err != nil {
		return nil, false, fmt.Errorf("failed to load conversation: %w", err)
	}
	return &existing, false, nil
}

// GetConversation 按 ID 查询会话
func (r *conversationRepo) GetConversation(ctx context.Context, id string) (*model.DirectMessage, error) {
	if id == "" {
		return nil, fmt.Errorf("conversation id cannot be empty")
	}

	var dm model.DirectMessage
	if err := r.db.DB(ctx).Where("id = ?", id).First(&dm).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
		}
		r.logger.Error("获取私聊会话失败",
			clog.String("dm_id", id),
			clog.Error(err))
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return &dm, nil
}

// ListConversations 列出用户参与的会话，最近有消息的在前
func (r *conversationRepo) ListConversations(ctx context.Context, username string) ([]*model.DirectMessage, error) {
	var dms []*model.DirectMessage
	if err := r.db.DB(ctx).
		Where("LOWER(username1) = LOWER(?) OR LOWER(username2) = LOWER(?)", username, username).
		Order("last_message_at DESC NULLS LAST, created_at DESC").
		Find(&dms).Error; err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	return dms, nil
}

// DeleteConversationsOf 删除用户参与的全部会话及其消息
func (r *conversationRepo) DeleteConversationsOf(ctx context.Context, username string) error {
	err := r.db.Transaction(ctx, func(ctx context.Context, tx *gorm.DB) error {
		dmIDs := tx.Model(&model.DirectMessage{}).Select("id").
			Where("LOWER(username1) = LOWER(?) OR LOWER(username2) = LOWER(?)", username, username)
		messageIDs := tx.Model(&model.Message{}).Select("id").Where("dm_id IN (?)", dmIDs)

		if err := tx.Where("message_id IN (?)", messageIDs).Delete(&model.FileAttachment{}).Error; err != nil {
			return fmt.Errorf("failed to delete attachments: %w", err)
		}
		if err := tx.Where("dm_id IN (?)", dmIDs).Delete(&model.Message{}).Error; err != nil {
			return fmt.Errorf("failed to delete conversation messages: %w", err)
		}
		if err := tx.Where("LOWER(username1) = LOWER(?) OR LOWER(username2) = LOWER(?)", username, username).
			Delete(&model.DirectMessage{}).Error; err != nil {
			return fmt.Errorf("failed to delete conversations: %w", err)
		}
		return nil
	})
	if err != nil {
		r.logger.Error("删除私聊会话失败",
			clog.String("username", username),
			clog.Error(err))
		return err
	}
	return nil
}

// Close 释放资源
func (r *conversationRepo) Close() error {
	return nil
}
