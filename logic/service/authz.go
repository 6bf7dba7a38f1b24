package service

import (
	"context"
	"errors"

	"github.com/ceyewan/rchat/model"
	"github.com/ceyewan/rchat/pkg/apperr"
	"github.com/ceyewan/rchat/repo"
)

// Authorizer 解析身份在全站、社区、频道范围内的角色
// 全站管理员满足任意范围的管理员要求
type Authorizer struct {
	users       repo.UserRepo
	communities repo.CommunityRepo
	channels    repo.ChannelRepo
}

// NewAuthorizer 创建鉴权器
func NewAuthorizer(users repo.UserRepo, communities repo.CommunityRepo, channels repo.ChannelRepo) *Authorizer {
	return &Authorizer{users: users, communities: communities, channels: channels}
}

// IsSiteAdmin 判断是否为全站管理员，身份不存在时返回 false
func (a *Authorizer) IsSiteAdmin(ctx context.Context, username string) (bool, error) {
	user, err := a.users.GetUser(ctx, username)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return false, nil
		}
		return false, internal(err)
	}
	return user.IsAdmin, nil
}

// RequireSiteAdmin 要求全站管理员
func (a *Authorizer) RequireSiteAdmin(ctx context.Context, username string) error {
	ok, err := a.IsSiteAdmin(ctx, username)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.InsufficientRole("Site admin privileges required")
	}
	return nil
}

// RequireMember 要求是社区成员，返回成员关系
func (a *Authorizer) RequireMember(ctx context.Context, username, community string) (*model.ServerMember, error) {
	member, err := a.communities.GetMember(ctx, community, username)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, apperr.NotMember("You must be a member of the server")
		}
		return nil, internal(err)
	}
	return member, nil
}

// RequireCommunityAdmin 要求全站管理员或社区管理员
func (a *Authorizer) RequireCommunityAdmin(ctx context.Context, username, community string) error {
	ok, err := a.IsSiteAdmin(ctx, username)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	member, err := a.RequireMember(ctx, username, community)
	if err != nil {
		return err
	}
	if member.Role != model.RoleAdmin {
		return apperr.InsufficientRole("Server admin privileges required")
	}
	return nil
}

// RequireChannelAdmin 要求对频道所属社区具有管理员权限，返回频道
func (a *Authorizer) RequireChannelAdmin(ctx context.Context, username, channelID string) (*model.Channel, error) {
	channel, err := a.channels.GetChannel(ctx, channelID)
	if err != nil {
		return nil, storeErr(err, "Channel not found")
	}
	if err := a.RequireCommunityAdmin(ctx, username, channel.ServerName); err != nil {
		return nil, err
	}
	return channel, nil
}
