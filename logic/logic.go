// Package logic 组装仓储、业务服务与后台任务。
package logic

import (
	"context"
	"sync"
	"time"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/genesis/db"
	"github.com/ceyewan/genesis/xerrors"
	"github.com/ceyewan/rchat/logic/job"
	"github.com/ceyewan/rchat/logic/service"
	"github.com/ceyewan/rchat/repo"
)

// Repositories 全部仓储
type Repositories struct {
	Users         repo.UserRepo
	Communities   repo.CommunityRepo
	Bans          repo.BanRepo
	Channels      repo.ChannelRepo
	Conversations repo.ConversationRepo
	Messages      repo.MessageRepo
	Files         repo.FileRepo
}

// NewRepositories 基于同一个数据库连接创建全部仓储
func NewRepositories(database db.DB, logger clog.Logger) (*Repositories, error) {
	opt := repo.WithLogger(logger)
	r := &Repositories{}
	var err error

	if r.Users, err = repo.NewUserRepo(database, opt); err != nil {
		return nil, xerrors.Wrapf(err, "create user repo")
	}
	if r.Communities, err = repo.NewCommunityRepo(database, opt); err != nil {
		return nil, xerrors.Wrapf(err, "create community repo")
	}
	if r.Bans, err = repo.NewBanRepo(database, opt); err != nil {
		return nil, xerrors.Wrapf(err, "create ban repo")
	}
	if r.Channels, err = repo.NewChannelRepo(database, opt); err != nil {
		return nil, xerrors.Wrapf(err, "create channel repo")
	}
	if r.Conversations, err = repo.NewConversationRepo(database, opt); err != nil {
		return nil, xerrors.Wrapf(err, "create conversation repo")
	}
	if r.Messages, err = repo.NewMessageRepo(database, opt); err != nil {
		return nil, xerrors.Wrapf(err, "create message repo")
	}
	if r.Files, err = repo.NewFileRepo(database, opt); err != nil {
		return nil, xerrors.Wrapf(err, "create file repo")
	}
	return r, nil
}

// Close 关闭全部仓储
func (r *Repositories) Close() error {
	closers := []interface{ Close() error }{
		r.Users, r.Communities, r.Bans, r.Channels, r.Conversations, r.Messages, r.Files,
	}
	var firstErr error
	for _, c := range closers {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Options 业务层参数
type Options struct {
	DefaultCommunity    string
	Login               service.LoginPolicy
	Cascade             service.CascadeConfig
	FileCleanupInterval time.Duration
	FileCleanupBatch    int
	// CountRepairInterval 为 0 时不启动计数修复任务
	CountRepairInterval time.Duration
}

// Logic 业务层聚合
type Logic struct {
	Authz        *service.Authorizer
	Auth         *service.AuthService
	Messaging    *service.MessagingService
	Moderation   *service.ModerationService
	Community    *service.CommunityService
	Channel      *service.ChannelService
	Conversation *service.ConversationService
	Files        *service.FileService

	fileCleanup *job.FileCleanup
	countRepair *job.CountRepair

	logger clog.Logger
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New 创建业务层
// publisher 通常是连接管理器；filter 为 nil 时不做脏话过滤
func New(
	repos *Repositories,
	publisher service.Publisher,
	tokens service.TokenManager,
	limiter service.Limiter,
	filter service.Filter,
	opts Options,
	logger clog.Logger,
) *Logic {
	if opts.DefaultCommunity == "" {
		opts.DefaultCommunity = "RChat"
	}

	authz := service.NewAuthorizer(repos.Users, repos.Communities, repos.Channels)
	community := service.NewCommunityService(
		repos.Users, repos.Communities, repos.Bans, authz, filter, publisher, logger, opts.DefaultCommunity,
	)
	conversation := service.NewConversationService(repos.Users, repos.Conversations, publisher, logger)

	l := &Logic{
		Authz:        authz,
		Community:    community,
		Conversation: conversation,
		Channel: service.NewChannelService(
			repos.Communities, repos.Channels, authz, filter, publisher, logger,
		),
		Messaging: service.NewMessagingService(
			repos.Users, repos.Channels, repos.Conversations, repos.Messages, repos.Files,
			authz, filter, publisher, logger,
		),
		Moderation: service.NewModerationService(
			repos.Users, repos.Communities, repos.Bans, repos.Conversations, repos.Messages, repos.Files,
			authz, publisher, logger, opts.Cascade, opts.DefaultCommunity,
		),
		Files: service.NewFileService(repos.Users, repos.Files, logger),
		Auth: service.NewAuthService(
			repos.Users, repos.Bans, community, conversation, tokens, limiter, filter, opts.Login, logger,
		),
		fileCleanup: job.NewFileCleanup(repos.Files, opts.FileCleanupInterval, opts.FileCleanupBatch, logger),
		countRepair: job.NewCountRepair(community, opts.CountRepairInterval, logger),
		logger:      logger,
	}
	return l
}

// Prepare 启动前的一致性修复：清除遗留在线状态并重算社区计数
func (l *Logic) Prepare(ctx context.Context) error {
	if err := l.Community.ResetPresence(ctx); err != nil {
		return xerrors.Wrapf(err, "reset presence")
	}
	if _, err := l.Community.RecomputeCounts(ctx); err != nil {
		return xerrors.Wrapf(err, "recompute counts")
	}
	return nil
}

// StartJobs 在后台启动定时任务，Close 时停止
func (l *Logic) StartJobs(ctx context.Context) {
	ctx, l.cancel = context.WithCancel(ctx)
	for _, start := range []func(context.Context){l.fileCleanup.Start, l.countRepair.Start} {
		l.wg.Add(1)
		go func(start func(context.Context)) {
			defer l.wg.Done()
			start(ctx)
		}(start)
	}
	l.logger.Info("background jobs started")
}

// Close 停止定时任务并等待其退出
func (l *Logic) Close() error {
	if l.cancel != nil {
		l.cancel()
	}
	l.wg.Wait()
	return nil
}
