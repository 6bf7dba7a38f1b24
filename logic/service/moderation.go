package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/rchat/event"
	"github.com/ceyewan/rchat/model"
	"github.com/ceyewan/rchat/pkg/apperr"
	"github.com/ceyewan/rchat/repo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// CascadeConfig 全站封禁级联步骤的重试策略
type CascadeConfig struct {
	// MaxRetries 单步失败后的重试次数，0 表示不自动重试，由运维调用 ResumeSiteBan 重放
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func (c CascadeConfig) backOff(ctx context.Context) backoff.BackOff {
	if c.MaxRetries <= 0 {
		return backoff.WithContext(&backoff.StopBackOff{}, ctx)
	}
	b := backoff.NewExponentialBackOff()
	if c.InitialInterval > 0 {
		b.InitialInterval = c.InitialInterval
	}
	if c.MaxInterval > 0 {
		b.MaxInterval = c.MaxInterval
	}
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.MaxRetries)), ctx)
}

// ModerationService 全站封禁与社区封禁
type ModerationService struct {
	users            repo.UserRepo
	communities      repo.CommunityRepo
	bans             repo.BanRepo
	conversations    repo.ConversationRepo
	messages         repo.MessageRepo
	files            repo.FileRepo
	authz            *Authorizer
	publisher        Publisher
	logger           clog.Logger
	tracer           trace.Tracer
	cascade          CascadeConfig
	defaultCommunity string
}

// NewModerationService 创建审核服务
func NewModerationService(
	users repo.UserRepo,
	communities repo.CommunityRepo,
	bans repo.BanRepo,
	conversations repo.ConversationRepo,
	messages repo.MessageRepo,
	files repo.FileRepo,
	authz *Authorizer,
	publisher Publisher,
	logger clog.Logger,
	cascade CascadeConfig,
	defaultCommunity string,
) *ModerationService {
	return &ModerationService{
		users:            users,
		communities:      communities,
		bans:             bans,
		conversations:    conversations,
		messages:         messages,
		files:            files,
		authz:            authz,
		publisher:        publisherOrNop(publisher),
		logger:           logger.WithNamespace("moderation"),
		tracer:           otel.Tracer("rchat/moderation"),
		cascade:          cascade,
		defaultCommunity: defaultCommunity,
	}
}

// SiteBan 全站封禁：写入封禁日志并删除该身份的全部数据
func (s *ModerationService) SiteBan(ctx context.Context, target, requester, reason string) error {
	ctx, span := s.tracer.Start(ctx, "moderation.SiteBan",
		trace.WithAttributes(attribute.String("target", target), attribute.String("requester", requester)))
	defer span.End()

	if err := s.authz.RequireSiteAdmin(ctx, requester); err != nil {
		return err
	}
	user, err := s.users.GetUser(ctx, target)
	if err != nil {
		return storeErr(err, "User not found")
	}
	if sameName(user.Username, requester) {
		return apperr.BadRequest("You cannot ban yourself")
	}

	changed, err := s.runCascade(ctx, user.Username, requester, reason)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "cascade failed")
		return err
	}

	s.publisher.Publish(event.IdentityBanned{Username: user.Username})
	s.publishStats(changed)
	s.logger.InfoContext(ctx, "用户已被全站封禁",
		clog.String("username", user.Username),
		clog.String("banned_by", requester))
	return nil
}

// ResumeSiteBan 重放封禁日志中某个用户名的级联删除，身份行已不存在时同样可用
func (s *ModerationService) ResumeSiteBan(ctx context.Context, target, requester string) error {
	ctx, span := s.tracer.Start(ctx, "moderation.ResumeSiteBan",
		trace.WithAttributes(attribute.String("target", target)))
	defer span.End()

	if err := s.authz.RequireSiteAdmin(ctx, requester); err != nil {
		return err
	}
	banned, err := s.bans.IsSiteBanned(ctx, target)
	if err != nil {
		return internal(err)
	}
	if !banned {
		return apperr.NotFound("Username is not in the ban log")
	}

	changed, err := s.runCascade(ctx, target, requester, "")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "cascade failed")
		return err
	}
	s.publisher.Publish(event.IdentityBanned{Username: target})
	s.publishStats(changed)
	return nil
}

func (s *ModerationService) publishStats(servers []*model.Server) {
	for _, server := range servers {
		s.publisher.Publish(event.ServerStatsUpdated{
			ServerName:   server.Name,
			MemberCount:  server.MemberCount,
			ChannelCount: server.ChannelCount,
		})
	}
}

// ListSiteBans 分页列出封禁日志
func (s *ModerationService) ListSiteBans(ctx context.Context, requester string, limit, offset int) ([]*model.BannedUsername, error) {
	if err := s.authz.RequireSiteAdmin(ctx, requester); err != nil {
		return nil, err
	}
	bans, err := s.bans.ListSiteBans(ctx, limit, offset)
	if err != nil {
		return nil, internal(err)
	}
	return bans, nil
}

type cascadeStep struct {
	name string
	run  func(ctx context.Context) error
}

// runCascade 依次执行级联步骤，每一步都是幂等的，可以安全重试或重放。
// 返回计数被修正的社区。
func (s *ModerationService) runCascade(ctx context.Context, username, requester, reason string) ([]*model.Server, error) {
	var communities []string
	steps := []cascadeStep{
		{"ban_log", func(ctx context.Context) error {
			return s.bans.AddSiteBan(ctx, &model.BannedUsername{
				Username: username,
				BannedBy: requester,
				Reason:   reason,
				BannedAt: time.Now(),
			})
		}},
		{"messages", func(ctx context.Context) error {
			return s.messages.DeleteMessagesBySender(ctx, username)
		}},
		{"memberships", func(ctx context.Context) error {
			names, err := s.communities.ListMemberCommunityNames(ctx, username)
			if err != nil {
				return err
			}
			if len(names) > 0 {
				communities = names
			}
			return s.communities.DeleteMembershipsOf(ctx, username)
		}},
		{"conversations", func(ctx context.Context) error {
			return s.conversations.DeleteConversationsOf(ctx, username)
		}},
		{"files", func(ctx context.Context) error {
			return s.files.DeleteFilesByUploader(ctx, username)
		}},
		{"identity", func(ctx context.Context) error {
			return s.users.DeleteUser(ctx, username)
		}},
	}

	for _, step := range steps {
		attempt := 0
		op := func() error {
			attempt++
			return step.run(ctx)
		}
		notify := func(err error, wait time.Duration) {
			s.logger.WarnContext(ctx, "封禁级联步骤失败，准备重试",
				clog.String("username", username),
				clog.String("step", step.name),
				clog.Int("attempt", attempt),
				clog.Duration("wait", wait),
				clog.Error(err))
		}
		if err := backoff.RetryNotify(op, s.cascade.backOff(ctx), notify); err != nil {
			s.logger.ErrorContext(ctx, "封禁级联中断",
				clog.String("username", username),
				clog.String("step", step.name),
				clog.Error(err))
			return nil, apperr.Internal(fmt.Errorf("cascade step %s: %w", step.name, err), "site ban did not complete")
		}
	}

	// 成员行已在此前的尝试中删除时无从得知涉及哪些社区，退化为全量重算
	changed, err := s.communities.RecomputeCounts(ctx, communities...)
	if err != nil {
		s.logger.WarnContext(ctx, "封禁后重算社区计数失败",
			clog.String("username", username),
			clog.Error(err))
		return nil, nil
	}
	return changed, nil
}

// CommunityBanRequest 社区封禁请求
type CommunityBanRequest struct {
	Community string
	Target    string
	Requester string
	Reason    string
}

// CommunityBan 将用户移出社区并禁止再次加入
func (s *ModerationService) CommunityBan(ctx context.Context, req CommunityBanRequest) error {
	if sameName(req.Community, s.defaultCommunity) {
		return apperr.BadRequest("Cannot ban users from the default server")
	}
	server, err := s.communities.GetCommunity(ctx, req.Community)
	if err != nil {
		return storeErr(err, "Server not found")
	}
	if sameName(req.Target, server.CreatorUsername) {
		return apperr.BadRequest("Cannot ban the server creator")
	}
	if err := s.authz.RequireCommunityAdmin(ctx, req.Requester, server.Name); err != nil {
		return err
	}

	user, err := s.users.GetUser(ctx, req.Target)
	if err != nil {
		return storeErr(err, "User not found")
	}
	username := user.Username

	banned, err := s.bans.IsCommunityBanned(ctx, server.Name, username)
	if err != nil {
		return internal(err)
	}
	if banned {
		return apperr.Conflict("User is already banned from this server")
	}

	if _, err := s.bans.BanFromCommunity(ctx, &model.ServerBan{
		ServerName: server.Name,
		Username:   username,
		BannedBy:   req.Requester,
		Reason:     req.Reason,
		BannedAt:   time.Now(),
	}); err != nil {
		// 并发封禁同一用户时，后提交的一方落在这里
		if errors.Is(err, repo.ErrAlreadyBanned) {
			return apperr.Conflict("User is already banned from this server")
		}
		return internal(err)
	}

	updated, err := s.communities.GetCommunity(ctx, server.Name)
	if err != nil {
		return internal(err)
	}
	s.publisher.Publish(event.ServerMemberBanned{
		ServerName:  server.Name,
		Username:    username,
		MemberCount: updated.MemberCount,
	})
	return nil
}

// CommunityUnban 解除社区封禁
func (s *ModerationService) CommunityUnban(ctx context.Context, community, target, requester string) error {
	server, err := s.communities.GetCommunity(ctx, community)
	if err != nil {
		return storeErr(err, "Server not found")
	}
	if err := s.authz.RequireCommunityAdmin(ctx, requester, server.Name); err != nil {
		return err
	}
	removed, err := s.bans.UnbanFromCommunity(ctx, server.Name, target)
	if err != nil {
		return internal(err)
	}
	if !removed {
		return apperr.NotFound("User is not banned from this server")
	}
	return nil
}

// ListCommunityBans 列出社区封禁
func (s *ModerationService) ListCommunityBans(ctx context.Context, community, requester string) ([]*model.ServerBan, error) {
	server, err := s.communities.GetCommunity(ctx, community)
	if err != nil {
		return nil, storeErr(err, "Server not found")
	}
	if err := s.authz.RequireCommunityAdmin(ctx, requester, server.Name); err != nil {
		return nil, err
	}
	bans, err := s.bans.ListCommunityBans(ctx, server.Name)
	if err != nil {
		return nil, internal(err)
	}
	return bans, nil
}
