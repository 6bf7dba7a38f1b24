package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/rchat/model"
	"github.com/ceyewan/rchat/pkg/apperr"
	"github.com/ceyewan/rchat/repo"
	"github.com/google/uuid"
)

const defaultContentType = "application/octet-stream"

// RegisterFileRequest 登记一个已上传文件的元数据
type RegisterFileRequest struct {
	Uploader     string
	OriginalName string
	ContentType  string
	Size         int64
}

// FileService 文件元数据管理，文件内容本身不经过服务端
type FileService struct {
	users  repo.UserRepo
	files  repo.FileRepo
	logger clog.Logger
}

// NewFileService 创建文件服务
func NewFileService(users repo.UserRepo, files repo.FileRepo, logger clog.Logger) *FileService {
	return &FileService{
		users:  users,
		files:  files,
		logger: logger.WithNamespace("file"),
	}
}

// RegisterFile 登记文件，保留 model.FileRetention 后由清理任务过期
func (s *FileService) RegisterFile(ctx context.Context, req RegisterFileRequest) (*model.File, error) {
	name := strings.TrimSpace(req.OriginalName)
	if name == "" {
		return nil, apperr.Validation("File name cannot be empty")
	}
	if len(name) > 255 {
		return nil, apperr.Validation("File name must be at most 255 characters long")
	}
	if req.Size <= 0 {
		return nil, apperr.Validation("File size must be positive")
	}
	if req.Size > model.MaxFileSize {
		return nil, apperr.Validation("File size exceeds the %d MiB limit", model.MaxFileSize>>20)
	}
	contentType := strings.TrimSpace(req.ContentType)
	if contentType == "" {
		contentType = defaultContentType
	}

	user, err := s.users.GetUser(ctx, req.Uploader)
	if err != nil {
		return nil, storeErr(err, "User not found")
	}

	now := time.Now()
	id := uuid.NewString()
	file := &model.File{
		ID:               id,
		OriginalName:     name,
		FileName:         id + ".bin",
		ContentType:      contentType,
		Size:             req.Size,
		UploaderUsername: user.Username,
		ExpiresAt:        now.Add(model.FileRetention),
		CreatedAt:        now,
	}
	if err := s.files.CreateFile(ctx, file); err != nil {
		return nil, internal(err)
	}
	s.logger.InfoContext(ctx, "文件已登记",
		clog.String("file_id", file.ID),
		clog.String("uploader", file.UploaderUsername),
		clog.Int64("size", file.Size))
	return file, nil
}

// ListFiles 列出用户自己未删除的文件，最新的在前
func (s *FileService) ListFiles(ctx context.Context, uploader string) ([]*model.File, error) {
	files, err := s.files.ListFilesByUploader(ctx, uploader)
	if err != nil {
		return nil, internal(err)
	}
	return files, nil
}

// DeleteFile 只有上传者可以删除，其他人看到的与文件不存在相同
func (s *FileService) DeleteFile(ctx context.Context, id, requester string) error {
	file, err := s.files.GetFile(ctx, id)
	if errors.Is(err, repo.ErrNotFound) || (err == nil && !sameName(file.UploaderUsername, requester)) {
		return apperr.NotFound("File not found or access denied")
	}
	if err != nil {
		return internal(err)
	}
	if err := s.files.MarkFileDeleted(ctx, id); err != nil {
		return storeErr(err, "File not found or access denied")
	}
	s.logger.InfoContext(ctx, "文件已删除",
		clog.String("file_id", id),
		clog.String("uploader", file.UploaderUsername))
	return nil
}
