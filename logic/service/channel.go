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

// ChannelService 频道管理
type ChannelService struct {
	communities repo.CommunityRepo
	channels    repo.ChannelRepo
	authz       *Authorizer
	filter      Filter
	publisher   Publisher
	logger      clog.Logger
}

// NewChannelService 创建频道服务
func NewChannelService(
	communities repo.CommunityRepo,
	channels repo.ChannelRepo,
	authz *Authorizer,
	filter Filter,
	publisher Publisher,
	logger clog.Logger,
) *ChannelService {
	return &ChannelService{
		communities: communities,
		channels:    channels,
		authz:       authz,
		filter:      filterOrNop(filter),
		publisher:   publisherOrNop(publisher),
		logger:      logger.WithNamespace("channel"),
	}
}

// CreateChannel 在社区末尾创建频道
func (s *ChannelService) CreateChannel(ctx context.Context, community, name, requester string) (*model.Channel, error) {
	if err := validateName("Channel name", name, s.filter); err != nil {
		return nil, err
	}
	server, err := s.communities.GetCommunity(ctx, community)
	if err != nil {
		return nil, storeErr(err, "Server not found")
	}
	if err := s.authz.RequireCommunityAdmin(ctx, requester, server.Name); err != nil {
		return nil, err
	}

	channel := &model.Channel{
		ID:         uuid.NewString(),
		ServerName: server.Name,
		Name:       name,
		IsActive:   true,
		CreatedAt:  time.Now(),
	}
	if err := s.channels.CreateChannel(ctx, channel); err != nil {
		return nil, storeErr(err, "Server not found")
	}

	updated, err := s.communities.GetCommunity(ctx, server.Name)
	if err != nil {
		return nil, internal(err)
	}
	s.publisher.Publish(event.ChannelCreated{
		ServerName:   server.Name,
		ChannelID:    channel.ID,
		ChannelName:  channel.Name,
		ChannelCount: updated.ChannelCount,
	})
	return channel, nil
}

// DeleteChannel 停用频道，社区最后一个活跃频道不可删除
func (s *ChannelService) DeleteChannel(ctx context.Context, channelID, requester string) error {
	channel, err := s.authz.RequireChannelAdmin(ctx, requester, channelID)
	if err != nil {
		return err
	}
	if err := s.channels.DeactivateChannel(ctx, channel.ID); err != nil {
		if errors.Is(err, repo.ErrLastChannel) {
			return apperr.BadRequest("Cannot delete the last channel of a server")
		}
		return storeErr(err, "Channel not found")
	}

	server, err := s.communities.GetCommunity(ctx, channel.ServerName)
	if err != nil {
		return internal(err)
	}
	s.publisher.Publish(event.ChannelDeleted{
		ServerName:   channel.ServerName,
		ChannelID:    channel.ID,
		ChannelCount: server.ChannelCount,
	})
	s.logger.InfoContext(ctx, "频道已删除",
		clog.String("channel_id", channel.ID),
		clog.String("server_name", channel.ServerName))
	return nil
}

// RenameChannel 重命名频道
func (s *ChannelService) RenameChannel(ctx context.Context, channelID, name, requester string) (*model.Channel, error) {
	if err := validateName("Channel name", name, s.filter); err != nil {
		return nil, err
	}
	channel, err := s.authz.RequireChannelAdmin(ctx, requester, channelID)
	if err != nil {
		return nil, err
	}
	if err := s.channels.RenameChannel(ctx, channel.ID, name); err != nil {
		return nil, storeErr(err, "Channel not found")
	}
	channel.Name = name

	s.publisher.Publish(event.ChannelRenamed{
		ServerName: channel.ServerName,
		ChannelID:  channel.ID,
		NewName:    name,
	})
	return channel, nil
}

// ListChannels 按位置列出社区的活跃频道
func (s *ChannelService) ListChannels(ctx context.Context, community, requester string) ([]*model.Channel, error) {
	server, err := s.communities.GetCommunity(ctx, community)
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
	channels, err := s.channels.ListChannels(ctx, server.Name)
	if err != nil {
		return nil, internal(err)
	}
	return channels, nil
}

// ListPublicChannels 只读的频道列表，访客可用
func (s *ChannelService) ListPublicChannels(ctx context.Context, community string) ([]*model.Channel, error) {
	server, err := s.communities.GetCommunity(ctx, community)
	if err != nil {
		return nil, storeErr(err, "Server not found")
	}
	channels, err := s.channels.ListChannels(ctx, server.Name)
	if err != nil {
		return nil, internal(err)
	}
	return channels, nil
}
