package service

import (
	"context"
	"errors"
	"time"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/rchat/event"
	"github.com/ceyewan/rchat/model"
	"github.com/ceyewan/rchat/pkg/apperr"
	"github.com/ceyewan/rchat/repo"
	"github.com/google/uuid"
)

// CommunityService 社区生命周期与成员管理
type CommunityService struct {
	users            repo.UserRepo
	communities      repo.CommunityRepo
	bans             repo.BanRepo
	authz            *Authorizer
	filter           Filter
	publisher        Publisher
	logger           clog.Logger
	defaultCommunity string
}

// NewCommunityService 创建社区服务
func NewCommunityService(
	users repo.UserRepo,
	communities repo.CommunityRepo,
	bans repo.BanRepo,
	authz *Authorizer,
	filter Filter,
	publisher Publisher,
	logger clog.Logger,
	defaultCommunity string,
) *CommunityService {
	return &CommunityService{
		users:            users,
		communities:      communities,
		bans:             bans,
		authz:            authz,
		filter:           filterOrNop(filter),
		publisher:        publisherOrNop(publisher),
		logger:           logger.WithNamespace("community"),
		defaultCommunity: defaultCommunity,
	}
}

// DefaultCommunity 默认社区名
func (s *CommunityService) DefaultCommunity() string {
	return s.defaultCommunity
}

// CreateCommunity 创建社区，创建者成为管理员并自动创建 general 频道
func (s *CommunityService) CreateCommunity(ctx context.Context, name, creator string) (*model.Server, error) {
	if err := validateName("Server name", name, s.filter); err != nil {
		return nil, err
	}
	if _, err := s.communities.GetCommunity(ctx, name); err == nil {
		return nil, apperr.Conflict("Server name already exists")
	} else if !errors.Is(err, repo.ErrNotFound) {
		return nil, internal(err)
	}

	now := time.Now()
	server := &model.Server{
		Name:            name,
		CreatorUsername: creator,
		IsActive:        true,
		CreatedAt:       now,
	}
	owner := &model.ServerMember{
		ServerName: name,
		Username:   creator,
		Role:       model.RoleAdmin,
		JoinedAt:   now,
		LastSeen:   now,
	}
	general := &model.Channel{
		ID:         uuid.NewString(),
		ServerName: name,
		Name:       model.DefaultChannelName,
		IsActive:   true,
		CreatedAt:  now,
	}
	if err := s.communities.CreateCommunity(ctx, server, owner, general); err != nil {
		// 并发创建同名社区时由主键冲突兜底
		if _, getErr := s.communities.GetCommunity(ctx, name); getErr == nil {
			return nil, apperr.Conflict("Server name already exists")
		}
		return nil, internal(err)
	}

	s.publisher.Publish(event.ServerCreated{ServerName: server.Name, OwnerUsername: creator})
	s.logger.InfoContext(ctx, "社区已创建",
		clog.String("server_name", server.Name),
		clog.String("creator", creator))
	return server, nil
}

// JoinCommunity 加入社区，已是成员时幂等返回
func (s *CommunityService) JoinCommunity(ctx context.Context, name, username string) (*model.Server, error) {
	server, err := s.communities.GetCommunity(ctx, name)
	if err != nil {
		return nil, storeErr(err, "Server not found")
	}
	banned, err := s.bans.IsCommunityBanned(ctx, server.Name, username)
	if err != nil {
		return nil, internal(err)
	}
	if banned {
		return nil, apperr.Forbidden("You are banned from this server")
	}

	now := time.Now()
	created, err := s.communities.AddMember(ctx, &model.ServerMember{
		ServerName: server.Name,
		Username:   username,
		Role:       model.RoleMember,
		JoinedAt:   now,
		LastSeen:   now,
	})
	if errors.Is(err, repo.ErrBanned) {
		return nil, apperr.Forbidden("You are banned from this server")
	}
	if err != nil {
		return nil, internal(err)
	}
	if !created {
		return server, nil
	}

	updated, err := s.communities.GetCommunity(ctx, server.Name)
	if err != nil {
		return nil, internal(err)
	}
	s.publisher.Publish(event.ServerMemberJoined{
		ServerName:  updated.Name,
		Username:    username,
		MemberCount: updated.MemberCount,
	})
	return updated, nil
}

// RemoveMember 离开社区或移除他人；移除他人需要管理员权限
func (s *CommunityService) RemoveMember(ctx context.Context, name, username, requester string) error {
	if sameName(name, s.defaultCommunity) {
		return apperr.BadRequest("Cannot leave the default server")
	}
	server, err := s.communities.GetCommunity(ctx, name)
	if err != nil {
		return storeErr(err, "Server not found")
	}
	if sameName(username, server.CreatorUsername) {
		return apperr.BadRequest("The server creator cannot be removed")
	}
	if !sameName(username, requester) {
		if err := s.authz.RequireCommunityAdmin(ctx, requester, server.Name); err != nil {
			return err
		}
	}

	removed, err := s.communities.RemoveMember(ctx, server.Name, username)
	if err != nil {
		return internal(err)
	}
	if !removed {
		return apperr.NotFound("User is not a member of this server")
	}

	updated, err := s.communities.GetCommunity(ctx, server.Name)
	if err != nil {
		return internal(err)
	}
	s.publisher.Publish(event.ServerMemberLeft{
		ServerName:  updated.Name,
		Username:    username,
		MemberCount: updated.MemberCount,
	})
	return nil
}

// UpdateMemberRole 修改成员角色，创建者的角色不可修改
func (s *CommunityService) UpdateMemberRole(ctx context.Context, name, username, role, requester string) error {
	if role != model.RoleMember && role != model.RoleAdmin {
		return apperr.Validation("Role must be either member or admin")
	}
	server, err := s.communities.GetCommunity(ctx, name)
	if err != nil {
		return storeErr(err, "Server not found")
	}
	if err := s.authz.RequireCommunityAdmin(ctx, requester, server.Name); err != nil {
		return err
	}
	if sameName(username, server.CreatorUsername) {
		return apperr.BadRequest("Cannot change the role of the server creator")
	}
	member, err := s.communities.GetMember(ctx, server.Name, username)
	if err != nil {
		return storeErr(err, "User is not a member of this server")
	}
	if err := s.communities.UpdateMemberRole(ctx, server.Name, member.Username, role); err != nil {
		return storeErr(err, "User is not a member of this server")
	}

	s.publisher.Publish(event.ServerMemberRoleUpdated{
		ServerName: server.Name,
		Username:   member.Username,
		NewRole:    role,
	})
	return nil
}

// TransferOwnership 转让社区所有权，只有创建者可以操作
func (s *CommunityService) TransferOwnership(ctx context.Context, name, newOwner, requester string) error {
	server, err := s.communities.GetCommunity(ctx, name)
	if err != nil {
		return storeErr(err, "Server not found")
	}
	if !sameName(requester, server.CreatorUsername) {
		return apperr.InsufficientRole("Only the server creator can transfer ownership")
	}
	if sameName(newOwner, server.CreatorUsername) {
		return apperr.BadRequest("User already owns this server")
	}
	member, err := s.communities.GetMember(ctx, server.Name, newOwner)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return apperr.BadRequest("New owner must be a member of the server")
		}
		return internal(err)
	}
	if err := s.communities.TransferOwnership(ctx, server.Name, server.CreatorUsername, member.Username); err != nil {
		return internal(err)
	}

	s.publisher.Publish(event.ServerOwnershipTransferred{
		ServerName:    server.Name,
		PreviousOwner: server.CreatorUsername,
		NewOwner:      member.Username,
	})
	return nil
}

// DeleteCommunity 删除社区及其全部数据，默认社区不可删除
func (s *CommunityService) DeleteCommunity(ctx context.Context, name, requester string) error {
	if sameName(name, s.defaultCommunity) {
		return apperr.BadRequest("Cannot delete the default server")
	}
	server, err := s.communities.GetCommunity(ctx, name)
	if err != nil {
		return storeErr(err, "Server not found")
	}
	if !sameName(requester, server.CreatorUsername) {
		if err := s.authz.RequireSiteAdmin(ctx, requester); err != nil {
			return apperr.InsufficientRole("Only the server creator or a site admin can delete the server")
		}
	}
	if err := s.communities.DeleteCommunity(ctx, server.Name); err != nil {
		return internal(err)
	}

	s.publisher.Publish(event.ServerDeleted{ServerName: server.Name})
	s.logger.InfoContext(ctx, "社区已删除",
		clog.String("server_name", server.Name),
		clog.String("requester", requester))
	return nil
}

// ReorderCommunities 保存用户的社区排序，不广播
func (s *CommunityService) ReorderCommunities(ctx context.Context, username string, names []string) error {
	for _, name := range names {
		if _, err := s.communities.GetMember(ctx, name, username); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return apperr.NotMember("You are not a member of server %s", name)
			}
			return internal(err)
		}
	}
	if err := s.communities.UpdatePositions(ctx, username, names); err != nil {
		return internal(err)
	}
	return nil
}

// ListCommunities 按用户排序列出其加入的社区
func (s *CommunityService) ListCommunities(ctx context.Context, username string) ([]*model.Server, error) {
	servers, err := s.communities.ListUserCommunities(ctx, username)
	if err != nil {
		return nil, internal(err)
	}
	return servers, nil
}

// ListMembers 列出社区成员，调用方须是成员或全站管理员
func (s *CommunityService) ListMembers(ctx context.Context, name, requester string) ([]*model.ServerMember, error) {
	server, err := s.communities.GetCommunity(ctx, name)
	if err != nil {
		return nil, storeErr(err, "Server not found")
	}
	isAdmin, err := s.authz.IsSiteAdmin(ctx, requester)
	if err != nil {
		return nil, err
	}
	if !isAdmin {
		if _, err := s.authz.RequireMember(ctx, requester, server.Name); err != nil {
			return nil, err
		}
	}
	members, err := s.communities.ListMembers(ctx, server.Name)
	if err != nil {
		return nil, internal(err)
	}
	return members, nil
}

// LookupCommunity 查询社区及其成员数、频道数，无需身份
func (s *CommunityService) LookupCommunity(ctx context.Context, name string) (*model.Server, error) {
	server, err := s.communities.GetCommunity(ctx, name)
	if err != nil {
		return nil, storeErr(err, "Server not found")
	}
	return server, nil
}

// ListPublicMembers 只读的成员列表，访客可用
func (s *CommunityService) ListPublicMembers(ctx context.Context, name string) ([]*model.ServerMember, error) {
	server, err := s.communities.GetCommunity(ctx, name)
	if err != nil {
		return nil, storeErr(err, "Server not found")
	}
	members, err := s.communities.ListMembers(ctx, server.Name)
	if err != nil {
		return nil, internal(err)
	}
	return members, nil
}

// RecomputeCounts 以实际行数修正社区计数，计数有变化的社区各广播一次 ServerStatsUpdated
func (s *CommunityService) RecomputeCounts(ctx context.Context) ([]*model.Server, error) {
	changed, err := s.communities.RecomputeCounts(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "重算社区计数失败", clog.Error(err))
		return nil, internal(err)
	}
	for _, server := range changed {
		s.publisher.Publish(event.ServerStatsUpdated{
			ServerName:   server.Name,
			MemberCount:  server.MemberCount,
			ChannelCount: server.ChannelCount,
		})
	}
	if len(changed) > 0 {
		s.logger.InfoContext(ctx, "社区计数已修正", clog.Int("changed", len(changed)))
	}
	return changed, nil
}

// ResetPresence 清除上次运行遗留的在线标记，须在接受连接之前调用
func (s *CommunityService) ResetPresence(ctx context.Context) error {
	n, err := s.communities.ResetPresence(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "重置在线状态失败", clog.Error(err))
		return internal(err)
	}
	if n > 0 {
		s.logger.InfoContext(ctx, "已清除遗留的在线状态", clog.Int64("rows", n))
	}
	return nil
}
