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

// fileRepo 实现 FileRepo 接口
type fileRepo struct {
	db     db.DB
	logger clog.Logger
}

// NewFileRepo 创建 FileRepo 实例
func NewFileRepo(database db.DB, opts ...Option) (FileRepo, error) {
	if database == nil {
		return nil, fmt.Errorf("database cannot be nil")
	}
	logger, err := newLogger("file_repo", opts)
	if err != nil {
		return nil, err
	}
	return &fileRepo{db: database, logger: logger}, nil
}

// CreateFile 写入文件元数据，未设置过期时间时按保留时长计算
func (r *fileRepo) CreateFile(ctx context.Context, file *model.File) error {
	if file == nil || file.ID == "" {
		return fmt.Errorf("file id cannot be empty")
	}
	if file.ExpiresAt.IsZero() {
		file.ExpiresAt = time.Now().Add(model.FileRetention)
	}
	if err := r.db.DB(ctx).Create(file).Error; err != nil {
		r.logger.Error("写入文件元数据失败",
			clog.String("file_id", file.ID),
			clog.Error(err))
		return fmt.Errorf("failed to create file: %w", err)
	}
	return nil
}

// GetFile 查询未删除的文件
func (r *fileRepo) GetFile(ctx context.Context, id string) (*model.File, error) {
	var file model.File
	if err := r.db.DB(ctx).Where("id = ? AND is_deleted = ?", id, false).First(&file).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("file %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get file: %w", err)
	}
	return &file, nil
}

// ListFilesByUploader 列出用户上传且未删除的文件
func (r *fileRepo) ListFilesByUploader(ctx context.Context, username string) ([]*model.File, error) {
	var files []*model.File
	if err := r.db.DB(ctx).
		Where("LOWER(uploader_username) = LOWER(?) AND is_deleted = ?", username, false).
		Order("created_at DESC").
		Find(&files).Error; err != nil {
		r.logger.Error("获取用户文件列表失败",
			clog.String("username", username),
			clog.Error(err))
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	return files, nil
}

// MarkFileDeleted 标记文件删除
func (r *fileRepo) MarkFileDeleted(ctx context.Context, id string) error {
	res := r.db.DB(ctx).Model(&model.File{}).
		Where("id = ? AND is_deleted = ?", id, false).
		Update("is_deleted", true)
	if res.Error != nil {
		r.logger.Error("标记文件删除失败",
			clog.String("file_id", id),
			clog.Error(res.Error))
		return fmt.Errorf("failed to mark file deleted: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("file %s: %w", id, ErrNotFound)
	}
	return nil
}

// ListAttachments 批量查询消息附件（避免 N+1 查询）
func (r *fileRepo) ListAttachments(ctx context.Context, messageIDs []string) (map[string][]*model.Attachment, error) {
	result := make(map[string][]*model.Attachment)
	if len(messageIDs) == 0 {
		return result, nil
	}

	type attachmentRow struct {
		MessageID    string
		FileID       string
		OriginalName string
		ContentType  string
		Size         int64
		IsDeleted    bool
	}

	var rows []*attachmentRow
	if err := r.db.DB(ctx).Table("t_file_attachment a").
		Select(`
			a.message_id AS message_id,
			f.id AS file_id,
			f.original_name AS original_name,
			f.content_type AS content_type,
			f.size AS size,
			f.is_deleted AS is_deleted
		`).
		Joins("INNER JOIN t_file f ON f.id = a.file_id").
		Where("a.message_id IN ?", messageIDs).
		Order("a.position ASC").
		Scan(&rows).Error; err != nil {
		r.logger.Error("批量获取附件失败",
			clog.Int("count", len(messageIDs)),
			clog.Error(err))
		return nil, fmt.Errorf("failed to list attachments: %w", err)
	}

	for _, row := range rows {
		result[row.MessageID] = append(result[row.MessageID], &model.Attachment{
			FileID:       row.FileID,
			OriginalName: row.OriginalName,
			ContentType:  row.ContentType,
			Size:         row.Size,
			IsDeleted:    row.IsDeleted,
		})
	}
	return result, nil
}

// DeleteFilesByUploader 删除用户上传的全部文件元数据及关联
func (r *fileRepo) DeleteFilesByUploader(ctx context.Context, username string) error {
	err := r.db.Transaction(ctx, func(ctx context.Context, tx *gorm.DB) error {
		fileIDs := tx.Model(&model.File{}).Select("id").
			Where("LOWER(uploader_username) = LOWER(?)", username)
		if err := tx.Where("file_id IN (?)", fileIDs).Delete(&model.FileAttachment{}).Error; err != nil {
			return fmt.Errorf("failed to delete attachments: %w", err)
		}
		if err := tx.Where("LOWER(uploader_username) = LOWER(?)", username).Delete(&model.File{}).Error; err != nil {
			return fmt.Errorf("failed to delete files: %w", err)
		}
		return nil
	})
	if err != nil {
		r.logger.Error("删除用户文件失败",
			clog.String("username", username),
			clog.Error(err))
		return err
	}
	return nil
}

// ListExpiredFiles 查询已过期但未删除的文件
func (r *fileRepo) ListExpiredFiles(ctx context.Context, now time.Time, limit int) ([]*model.File, error) {
	if limit <= 0 {
		limit = 100
	}
	var files []*model.File
	if err := r.db.DB(ctx).
		Where("is_deleted = ? AND expires_at <= ?", false, now).
		Order("expires_at ASC").
		Limit(limit).
		Find(&files).Error; err != nil {
		return nil, fmt.Errorf("failed to list expired files: %w", err)
	}
	return files, nil
}

// ExpireFile 标记文件删除，将关联消息内容替换为提示并移除关联
func (r *fileRepo) ExpireFile(ctx context.Context, file *model.File, notice string) ([]string, error) {
	var messageIDs []string
	err := r.db.Transaction(ctx, func(ctx context.Context, tx *gorm.DB) error {
		if err := tx.Model(&model.File{}).Where("id = ?", file.ID).
			Update("is_deleted", true).Error; err != nil {
			return fmt.Errorf("failed to mark file deleted: %w", err)
		}
		if err := tx.Model(&model.FileAttachment{}).
			Where("file_id = ?", file.ID).
			Pluck("message_id", &messageIDs).Error; err != nil {
			return fmt.Errorf("failed to list attached messages: %w", err)
		}
		if len(messageIDs) > 0 {
			if err := tx.Model(&model.Message{}).Where("id IN ?", messageIDs).
				Updates(map[string]any{
					"content":          notice,
					"filtered_content": nil,
				}).Error; err != nil {
				return fmt.Errorf("failed to replace message content: %w", err)
			}
		}
		if err := tx.Where("file_id = ?", file.ID).Delete(&model.FileAttachment{}).Error; err != nil {
			return fmt.Errorf("failed to delete attachments: %w", err)
		}
		return nil
	})
	if err != nil {
		r.logger.Error("清理过期文件失败",
			clog.String("file_id", file.ID),
			clog.Error(err))
		return nil, err
	}
	return messageIDs, nil
}

// Close 释放资源
func (r *fileRepo) Close() error {
	return nil
}
