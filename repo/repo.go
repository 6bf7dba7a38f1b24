// Package repo 提供基于 GORM 的持久化实现。
//
// 所有按用户名、社区名的匹配都不区分大小写（LOWER(col) = LOWER(?)）。
package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/genesis/xerrors"
	"github.com/ceyewan/rchat/model"
)

var (
	// ErrNotFound 记录不存在
	ErrNotFound = xerrors.New("record not found")
	// ErrLastChannel 社区只剩最后一个活跃频道，不允许删除
	ErrLastChannel = xerrors.New("cannot delete the last active channel")
	// ErrAlreadyBanned 社区封禁已存在
	ErrAlreadyBanned = xerrors.New("user is already banned from this server")
	// ErrBanned 用户被社区封禁，不能加入
	ErrBanned = xerrors.New("user is banned from this server")
)

// UserRepo 用户仓储
type UserRepo interface {
	CreateUser(ctx context.Context, user *model.User) error
	GetUser(ctx context.Context, username string) (*model.User, error)
	CountUsers(ctx context.Context) (int64, error)
	UpdateLoginState(ctx context.Context, username string, attempts int, lockedUntil, lastLogin *time.Time) error
	DeleteUser(ctx context.Context, username string) error
	Close() error
}

// CommunityRepo 社区与成员仓储
type CommunityRepo interface {
	// CreateCommunity 在同一事务中创建社区、创建者的管理员成员关系和默认频道
	CreateCommunity(ctx context.Context, server *model.Server, owner *model.ServerMember, general *model.Channel) error
	GetCommunity(ctx context.Context, name string) (*model.Server, error)
	ListCommunities(ctx context.Context) ([]*model.Server, error)
	ListUserCommunities(ctx context.Context, username string) ([]*model.Server, error)
	DeleteCommunity(ctx context.Context, name string) error
	TransferOwnership(ctx context.Context, name, from, to string) error
	// RecomputeCounts 从实际行数重建计数，names 为空时处理全部社区；返回计数发生变化的社区
	RecomputeCounts(ctx context.Context, names ...string) ([]*model.Server, error)

	GetMember(ctx context.Context, name, username string) (*model.ServerMember, error)
	ListMembers(ctx context.Context, name string) ([]*model.ServerMember, error)
	// AddMember 幂等加入，返回是否新建了成员关系；用户被社区封禁时返回 ErrBanned
	AddMember(ctx context.Context, member *model.ServerMember) (bool, error)
	// RemoveMember 删除成员关系并扣减计数，返回是否确实删除了
	RemoveMember(ctx context.Context, name, username string) (bool, error)
	UpdateMemberRole(ctx context.Context, name, username, role string) error
	UpdatePositions(ctx context.Context, username string, names []string) error
	// SetPresence 更新用户在所有社区的在线状态，返回其所在社区名
	SetPresence(ctx context.Context, username string, online bool) ([]string, error)
	// ResetPresence 将全部成员标记为离线，返回被修改的行数；进程启动时没有任何在线连接
	ResetPresence(ctx context.Context) (int64, error)
	ListMemberCommunityNames(ctx context.Context, username string) ([]string, error)
	DeleteMembershipsOf(ctx context.Context, username string) error
	Close() error
}

// BanRepo 封禁仓储
type BanRepo interface {
	IsSiteBanned(ctx context.Context, username string) (bool, error)
	// AddSiteBan 写入封禁日志，已存在时忽略
	AddSiteBan(ctx context.Context, ban *model.BannedUsername) error
	ListSiteBans(ctx context.Context, limit, offset int) ([]*model.BannedUsername, error)
	IsCommunityBanned(ctx context.Context, name, username string) (bool, error)
	// BanFromCommunity 在同一事务中写入社区封禁、删除成员关系并扣减计数，返回是否删除了成员关系；
	// 封禁已存在时返回 ErrAlreadyBanned
	BanFromCommunity(ctx context.Context, ban *model.ServerBan) (bool, error)
	UnbanFromCommunity(ctx context.Context, name, username string) (bool, error)
	ListCommunityBans(ctx context.Context, name string) ([]*model.ServerBan, error)
	Close() error
}

// ChannelRepo 频道仓储
type ChannelRepo interface {
	// CreateChannel 追加到社区末尾并增加频道计数
	CreateChannel(ctx context.Context, channel *model.Channel) error
	// GetChannel 只返回活跃频道
	GetChannel(ctx context.Context, id string) (*model.Channel, error)
	ListChannels(ctx context.Context, serverName string) ([]*model.Channel, error)
	// DeactivateChannel 软删除频道并扣减计数，社区最后一个活跃频道返回 ErrLastChannel
	DeactivateChannel(ctx context.Context, id string) error
	RenameChannel(ctx context.Context, id, name string) error
	Close() error
}

// ConversationRepo 私聊会话仓储
type ConversationRepo interface {
	// GetOrCreateConversation 参与者对须已规范化，返回会话以及是否新建
	GetOrCreateConversation(ctx context.Context, dm *model.DirectMessage) (*model.DirectMessage, bool, error)
	GetConversation(ctx context.Context, id string) (*model.DirectMessage, error)
	ListConversations(ctx context.Context, username string) ([]*model.DirectMessage, error)
	// DeleteConversationsOf 删除用户参与的全部会话及其消息
	DeleteConversationsOf(ctx context.Context, username string) error
	Close() error
}

// MessageRepo 消息仓储
type MessageRepo interface {
	// CreateMessage 写入消息，fileID 非空时在同一事务中写入附件关联
	CreateMessage(ctx context.Context, msg *model.Message, fileID string) error
	GetMessage(ctx context.Context, id string) (*model.Message, error)
	ListMessages(ctx context.Context, target model.Target, limit, offset int) ([]*model.Message, error)
	SoftDeleteMessage(ctx context.Context, id string) error
	DeleteMessagesBySender(ctx context.Context, username string) error
	Close() error
}

// FileRepo 文件元数据仓储
type FileRepo interface {
	CreateFile(ctx context.Context, file *model.File) error
	// GetFile 只返回未删除的文件
	GetFile(ctx context.Context, id string) (*model.File, error)
	// ListFilesByUploader 列出用户上传且未删除的文件，最新的在前
	ListFilesByUploader(ctx context.Context, username string) ([]*model.File, error)
	// MarkFileDeleted 标记文件删除，附件关联保留并显示为已删除
	MarkFileDeleted(ctx context.Context, id string) error
	ListAttachments(ctx context.Context, messageIDs []string) (map[string][]*model.Attachment, error)
	DeleteFilesByUploader(ctx context.Context, username string) error
	ListExpiredFiles(ctx context.Context, now time.Time, limit int) ([]*model.File, error)
	// ExpireFile 标记文件删除、替换关联消息内容并移除关联，返回受影响的消息 ID
	ExpireFile(ctx context.Context, file *model.File, notice string) ([]string, error)
	Close() error
}

// Option 仓储构造选项
type Option func(*options)

type options struct {
	logger clog.Logger
}

// WithLogger 设置日志记录器
func WithLogger(logger clog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// newLogger 返回带命名空间的 logger，未注入时丢弃输出
func newLogger(namespace string, opts []Option) (clog.Logger, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger != nil {
		return o.logger.WithNamespace(namespace), nil
	}
	logger, err := clog.New(&clog.Config{
		Level:  "info",
		Format: "json",
		Output: "/dev/null",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create default logger: %w", err)
	}
	return logger.WithNamespace(namespace), nil
}
