package job

import (
	"context"
	"time"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/rchat/model"
)

// CountRecomputer 以实际行数修正社区计数，由社区服务实现
type CountRecomputer interface {
	RecomputeCounts(ctx context.Context) ([]*model.Server, error)
}

// CountRepair 周期性修正社区的成员数与频道数
type CountRepair struct {
	recomputer CountRecomputer
	interval   time.Duration
	logger     clog.Logger
}

// NewCountRepair 创建计数修正任务，interval <= 0 时 Start 直接返回
func NewCountRepair(recomputer CountRecomputer, interval time.Duration, logger clog.Logger) *CountRepair {
	return &CountRepair{
		recomputer: recomputer,
		interval:   interval,
		logger:     logger.WithNamespace("count_repair"),
	}
}

// Start 启动修正任务，阻塞直到 ctx 结束
func (j *CountRepair) Start(ctx context.Context) {
	if j.interval <= 0 {
		j.logger.Info("count repair job disabled")
		return
	}
	j.logger.Info("starting count repair job", clog.Duration("interval", j.interval))
	runEvery(ctx, j.interval, j.logger, func(ctx context.Context) {
		j.RunOnce(ctx)
	})
}

// RunOnce 执行一次修正，返回计数发生变化的社区数
func (j *CountRepair) RunOnce(ctx context.Context) int {
	changed, err := j.recomputer.RecomputeCounts(ctx)
	if err != nil {
		j.logger.Error("count repair failed", clog.Error(err))
		return 0
	}
	return len(changed)
}
