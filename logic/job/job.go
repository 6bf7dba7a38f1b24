// Package job 周期任务：过期文件清理与社区计数修正。
package job

import (
	"context"
	"time"

	"github.com/ceyewan/genesis/clog"
)

// runEvery 按固定间隔执行 fn，直到 ctx 结束；单次执行的 panic 被捕获并记录
func runEvery(ctx context.Context, interval time.Duration, logger clog.Logger, fn func(ctx context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("job stopped")
			return
		case <-ticker.C:
			func() {
				defer func() {
					if r := recover(); r != nil {
						logger.Error("panic in job", clog.Any("panic", r))
					}
				}()
				fn(ctx)
			}()
		}
	}
}
