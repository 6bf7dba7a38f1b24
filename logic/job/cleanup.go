package job

import (
	"context"
	"fmt"
	"time"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/rchat/repo"
)

const (
	// DefaultCleanupInterval 默认每小时扫描一次
	DefaultCleanupInterval = time.Hour
	// DefaultCleanupBatch 单次扫描处理的文件数上限
	DefaultCleanupBatch = 100
)

// RemovalNotice 过期文件关联消息的替换内容
func RemovalNotice(originalName string) string {
	return fmt.Sprintf("[File '%s' was removed after 1 day of posting]", originalName)
}

// FileCleanup 清理过期文件：标记删除、替换关联消息内容并解除关联
type FileCleanup struct {
	files    repo.FileRepo
	interval time.Duration
	batch    int
	logger   clog.Logger
	now      func() time.Time
}

// NewFileCleanup 创建过期文件清理任务
func NewFileCleanup(files repo.FileRepo, interval time.Duration, batch int, logger clog.Logger) *FileCleanup {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	if batch <= 0 {
		batch = DefaultCleanupBatch
	}
	return &FileCleanup{
		files:    files,
		interval: interval,
		batch:    batch,
		logger:   logger.WithNamespace("file_cleanup"),
		now:      time.Now,
	}
}

// Start 启动清理任务，阻塞直到 ctx 结束
func (j *FileCleanup) Start(ctx context.Context) {
	j.logger.Info("starting file cleanup job", clog.Duration("interval", j.interval))
	runEvery(ctx, j.interval, j.logger, func(ctx context.Context) {
		if _, err := j.RunOnce(ctx); err != nil {
			j.logger.Error("file cleanup failed", clog.Error(err))
		}
	})
}

// RunOnce 处理当前所有已过期的文件，返回处理的文件数
func (j *FileCleanup) RunOnce(ctx context.Context) (int, error) {
	processed := 0
	for {
		files, err := j.files.ListExpiredFiles(ctx, j.now(), j.batch)
		if err != nil {
			return processed, fmt.Errorf("list expired files: %w", err)
		}
		if len(files) == 0 {
			break
		}

		for _, file := range files {
			messageIDs, err := j.files.ExpireFile(ctx, file, RemovalNotice(file.OriginalName))
			if err != nil {
				return processed, fmt.Errorf("expire file %s: %w", file.ID, err)
			}
			processed++
			j.logger.Debug("file expired",
				clog.String("file_id", file.ID),
				clog.Int("messages", len(messageIDs)))
		}
		if len(files) < j.batch {
			break
		}
	}

	if processed > 0 {
		j.logger.Info("file cleanup completed", clog.Int("files", processed))
	}
	return processed, nil
}
