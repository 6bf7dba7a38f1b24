package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/genesis/db"
	"github.com/ceyewan/rchat/model"
	"gorm.io/gorm"
)

// messageRepo 实现 MessageRepo 接口
type messageRepo struct {
	db     db.DB
	logger clog.Logger
}

// NewMessageRepo 创建 MessageRepo 实例
func NewMessageRepo(database db.DB, opts ...Option) (MessageRepo, error) {
	if database == nil {
		return nil, fmt.Errorf("database cannot be nil")
	}
	logger, err := newLogger("message_repo", opts)
	if err != nil {
		return nil, err
	}
	return &messageRepo{db: database, logger: logger}, nil
}

// CreateMessage 事务内保存消息、附件关联，并刷新私聊会话的最后消息时间
func (r *messageRepo) CreateMessage(ctx context.Context, msg *model.Message, fileID string) error {
	if msg == nil {
		return fmt.Errorf("message cannot be nil")
	}
	if (msg.ChannelID == nil) == (msg.DMID == nil) {
		return fmt.Errorf("message must target exactly one of channel or conversation")
	}

	err := r.db.Transaction(ctx, func(ctx context.Context, tx *gorm.DB) error {
		if err := tx.Create(msg).Error; err != nil {
			return fmt.Errorf("failed to save message: %w", err)
		}
		if fileID != "" {
			if err := tx.Create(&model.FileAttachment{FileID: fileID, MessageID: msg.ID}).Error; err != nil {
				return fmt.Errorf("failed to save attachment: %w", err)
			}
		}
		if msg.DMID != nil {
			if err := tx.Model(&model.DirectMessage{}).Where("id = ?", *msg.DMID).
				Update("last_message_at", msg.CreatedAt).Error; err != nil {
				return fmt.Errorf("failed to touch conversation: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		r.logger.Error("保存消息失败",
			clog.String("msg_id", msg.ID),
			clog.String("sender", msg.SenderUsername),
			clog.Error(err))
		return err
	}
	return nil
}

// GetMessage 按 ID 查询消息（包含已删除）
func (r *messageRepo) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	if id == "" {
		return nil, fmt.Errorf("message id cannot be empty")
	}

	var msg model.Message
	if err := r.db.DB(ctx).Where("id = ?", id).First(&msg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("message %s: %w", id, ErrNotFound)
		}
		r.logger.Error("获取消息失败",
			clog.String("msg_id", id),
			clog.Error(err))
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return &msg, nil
}

// ListMessages 拉取目标的未删除消息，最新的在前
func (r *messageRepo) ListMessages(ctx context.Context, target model.Target, limit, offset int) ([]*model.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}

	query := r.db.DB(ctx).Where("is_deleted = ?", false)
	switch target.Kind {
	case model.TargetChannel:
		query = query.Where("channel_id = ?", target.ID)
	case model.TargetConversation:
		query = query.Where("dm_id = ?", target.ID)
	default:
		return nil, fmt.Errorf("unknown target kind: %s", target.Kind)
	}

	var messages []*model.Message
	if err := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&messages).Error; err != nil {
		r.logger.Error("拉取历史消息失败",
			clog.String("target", target.ID),
			clog.Error(err))
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return messages, nil
}

// SoftDeleteMessage 标记消息已删除
func (r *messageRepo) SoftDeleteMessage(ctx context.Context, id string) error {
	if err := r.db.DB(ctx).Model(&model.Message{}).
		Where("id = ?", id).
		Update("is_deleted", true).Error; err != nil {
		r.logger.Error("删除消息失败",
			clog.String("msg_id", id),
			clog.Error(err))
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

// DeleteMessagesBySender 物理删除用户发送的全部消息及其附件关联
func (r *messageRepo) DeleteMessagesBySender(ctx context.Context, username string) error {
	err := r.db.Transaction(ctx, func(ctx context.Context, tx *gorm.DB) error {
		messageIDs := tx.Model(&model.Message{}).Select("id").
			Where("LOWER(sender_username) = LOWER(?)", username)
		if err := tx.Where("message_id IN (?)", messageIDs).Delete(&model.FileAttachment{}).Error; err != nil {
			return fmt.Errorf("failed to delete attachments: %w", err)
		}
		if err := tx.Where("LOWER(sender_username) = LOWER(?)", username).Delete(&model.Message{}).Error; err != nil {
			return fmt.Errorf("failed to delete messages: %w", err)
		}
		return nil
	})
	if err != nil {
		r.logger.Error("删除用户消息失败",
			clog.String("username", username),
			clog.Error(err))
		return err
	}
	return nil
}

// Close 释放资源
func (r *messageRepo) Close() error {
	// db 实例由外部管理，这里不需要关闭
	return nil
}
