package service

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/rchat/event"
	"github.com/ceyewan/rchat/model"
	"github.com/ceyewan/rchat/pkg/apperr"
	"github.com/ceyewan/rchat/repo"
	"github.com/google/uuid"
)

// SendMessageRequest 发送消息请求
type SendMessageRequest struct {
	Target      model.Target
	Sender      string
	Content     string
	ContentType string
	FileID      string
}

// MessagingService 消息收发
type MessagingService struct {
	users         repo.UserRepo
	channels      repo.ChannelRepo
	conversations repo.ConversationRepo
	messages      repo.MessageRepo
	files         repo.FileRepo
	authz         *Authorizer
	filter        Filter
	publisher     Publisher
	logger        clog.Logger
}

// NewMessagingService 创建消息服务
func NewMessagingService(
	users repo.UserRepo,
	channels repo.ChannelRepo,
	conversations repo.ConversationRepo,
	messages repo.MessageRepo,
	files repo.FileRepo,
	authz *Authorizer,
	filter Filter,
	publisher Publisher,
	logger clog.Logger,
) *MessagingService {
	return &MessagingService{
		users:         users,
		channels:      channels,
		conversations: conversations,
		messages:      messages,
		files:         files,
		authz:         authz,
		filter:        filterOrNop(filter),
		publisher:     publisherOrNop(publisher),
		logger:        logger.WithNamespace("messaging"),
	}
}

func validateContent(content, contentType string) error {
	if strings.TrimSpace(content) == "" {
		return apperr.Validation("Message content cannot be empty")
	}
	if utf8.RuneCountInString(content) > model.MaxContentLength {
		return apperr.Validation("Message content must be at most %d characters long", model.MaxContentLength)
	}
	switch contentType {
	case model.ContentTypeText, model.ContentTypeMarkdown, model.ContentTypeFileAttachment:
		return nil
	}
	return apperr.Validation("Unsupported content type: %s", contentType)
}

// SendMessage 校验、鉴权、过滤、持久化并广播一条消息
func (s *MessagingService) SendMessage(ctx context.Context, req SendMessageRequest) (*model.EnrichedMessage, error) {
	if req.ContentType == "" {
		req.ContentType = model.ContentTypeText
	}
	if err := validateContent(req.Content, req.ContentType); err != nil {
		return nil, err
	}

	msg := &model.Message{
		ID:             uuid.NewString(),
		SenderUsername: req.Sender,
		Content:        req.Content,
		ContentType:    req.ContentType,
		FilterStatus:   model.FilterStatusClean,
		CreatedAt:      time.Now().UTC(),
	}

	switch req.Target.Kind {
	case model.TargetChannel:
		channel, err := s.channels.GetChannel(ctx, req.Target.ID)
		if err != nil {
			return nil, storeErr(err, "Channel not found")
		}
		if _, err := s.authz.RequireMember(ctx, req.Sender, channel.ServerName); err != nil {
			return nil, err
		}
		channelID := channel.ID
		msg.ChannelID = &channelID
		// 只有频道消息做脏话过滤，私聊保持原文
		if censored, hit := s.filter.Filter(req.Content); hit {
			msg.FilterStatus = model.FilterStatusFiltered
			msg.FilteredContent = &censored
		}
	case model.TargetConversation:
		dm, err := s.conversations.GetConversation(ctx, req.Target.ID)
		if err != nil {
			return nil, storeErr(err, "Direct message conversation not found")
		}
		if !dm.HasParticipant(req.Sender) {
			return nil, apperr.NotMember("You are not part of this conversation")
		}
		dmID := dm.ID
		msg.DMID = &dmID
	default:
		return nil, apperr.Validation("Unknown message target: %s", req.Target.Kind)
	}

	if req.FileID != "" {
		if _, err := s.files.GetFile(ctx, req.FileID); err != nil {
			return nil, storeErr(err, "File not found")
		}
	}

	if err := s.messages.CreateMessage(ctx, msg, req.FileID); err != nil {
		s.logger.ErrorContext(ctx, "保存消息失败",
			clog.String("sender", req.Sender),
			clog.String("target", req.Target.ID),
			clog.Error(err))
		return nil, internal(err)
	}

	enriched, err := s.enrich(ctx, []*model.Message{msg})
	if err != nil {
		return nil, err
	}
	out := enriched[0]

	payload := event.NewMessagePayload(out)
	if msg.ChannelID != nil {
		s.publisher.Publish(event.NewMessage{ChannelID: *msg.ChannelID, MessagePayload: payload})
	} else {
		s.publisher.Publish(event.NewConversationMessage{DMID: *msg.DMID, MessagePayload: payload})
	}

	s.logger.Debug("message sent",
		clog.String("msg_id", msg.ID),
		clog.String("sender", req.Sender),
		clog.String("filter_status", msg.FilterStatus))
	return out, nil
}

// DeleteMessage 软删除消息
// 授权顺序：发送者、全站管理员、（仅频道）社区管理员
func (s *MessagingService) DeleteMessage(ctx context.Context, target model.Target, messageID, requester string) (*model.Message, error) {
	msg, err := s.messages.GetMessage(ctx, messageID)
	if err != nil {
		return nil, storeErr(err, "Message not found")
	}
	// 仓储返回已软删除的行，重复删除按不存在处理
	if msg.IsDeleted {
		return nil, apperr.NotFound("Message not found")
	}
	if !target.Matches(msg) {
		switch target.Kind {
		case model.TargetChannel:
			return nil, apperr.BadRequest("Message does not belong to this channel")
		case model.TargetConversation:
			return nil, apperr.BadRequest("Message does not belong to this DM")
		default:
			return nil, apperr.Validation("Unknown message target: %s", target.Kind)
		}
	}

	authorized, err := s.canDelete(ctx, target, msg, requester)
	if err != nil {
		return nil, err
	}
	if !authorized {
		return nil, apperr.InsufficientRole("You do not have permission to delete this message")
	}

	if err := s.messages.SoftDeleteMessage(ctx, msg.ID); err != nil {
		return nil, internal(err)
	}
	msg.IsDeleted = true

	s.publisher.Publish(event.MessageDeleted{
		MessageID: msg.ID,
		ChannelID: msg.ChannelID,
		DMID:      msg.DMID,
	})
	return msg, nil
}

func (s *MessagingService) canDelete(ctx context.Context, target model.Target, msg *model.Message, requester string) (bool, error) {
	if sameName(msg.SenderUsername, requester) {
		return true, nil
	}
	isAdmin, err := s.authz.IsSiteAdmin(ctx, requester)
	if err != nil {
		return false, err
	}
	if isAdmin {
		return true, nil
	}
	if target.Kind != model.TargetChannel {
		return false, nil
	}
	channel, err := s.channels.GetChannel(ctx, target.ID)
	if err != nil {
		return false, storeErr(err, "Channel not found")
	}
	err = s.authz.RequireCommunityAdmin(ctx, requester, channel.ServerName)
	switch {
	case err == nil:
		return true, nil
	case apperr.IsCode(err, apperr.CodeNotMember), apperr.IsCode(err, apperr.CodeInsufficientRole):
		return false, nil
	default:
		return false, err
	}
}

// ListMessages 拉取历史消息，最新的在前
func (s *MessagingService) ListMessages(ctx context.Context, target model.Target, requester string, limit, offset int) ([]*model.EnrichedMessage, error) {
	switch target.Kind {
	case model.TargetChannel:
		channel, err := s.channels.GetChannel(ctx, target.ID)
		if err != nil {
			return nil, storeErr(err, "Channel not found")
		}
		isAdmin, err := s.authz.IsSiteAdmin(ctx, requester)
		if err != nil {
			return nil, err
		}
		if !isAdmin {
			if _, err := s.authz.RequireMember(ctx, requester, channel.ServerName); err != nil {
				return nil, err
			}
		}
	case model.TargetConversation:
		dm, err := s.conversations.GetConversation(ctx, target.ID)
		if err != nil {
			return nil, storeErr(err, "Direct message conversation not found")
		}
		if !dm.HasParticipant(requester) {
			return nil, apperr.NotMember("You are not part of this conversation")
		}
	default:
		return nil, apperr.Validation("Unknown message target: %s", target.Kind)
	}
	if offset < 0 {
		offset = 0
	}

	messages, err := s.messages.ListMessages(ctx, target, limit, offset)
	if err != nil {
		return nil, internal(err)
	}
	return s.enrich(ctx, messages)
}

// ListPublicMessages 只读地拉取频道历史，访客可用；私聊不对外开放
func (s *MessagingService) ListPublicMessages(ctx context.Context, channelID string, limit, offset int) ([]*model.EnrichedMessage, error) {
	channel, err := s.channels.GetChannel(ctx, channelID)
	if err != nil {
		return nil, storeErr(err, "Channel not found")
	}
	if offset < 0 {
		offset = 0
	}
	messages, err := s.messages.ListMessages(ctx, model.ChannelTarget(channel.ID), limit, offset)
	if err != nil {
		return nil, internal(err)
	}
	return s.enrich(ctx, messages)
}

// enrich 附加发送者资料和附件元数据
func (s *MessagingService) enrich(ctx context.Context, messages []*model.Message) ([]*model.EnrichedMessage, error) {
	ids := make([]string, 0, len(messages))
	for _, m := range messages {
		ids = append(ids, m.ID)
	}
	attachments, err := s.files.ListAttachments(ctx, ids)
	if err != nil {
		return nil, internal(err)
	}

	profiles := make(map[string]*model.User)
	out := make([]*model.EnrichedMessage, 0, len(messages))
	for _, m := range messages {
		key := strings.ToLower(m.SenderUsername)
		user, ok := profiles[key]
		if !ok {
			user, err = s.users.GetUser(ctx, m.SenderUsername)
			if err != nil && !errors.Is(err, repo.ErrNotFound) {
				return nil, internal(err)
			}
			profiles[key] = user
		}
		em := &model.EnrichedMessage{Message: m, Attachments: attachments[m.ID]}
		if user != nil {
			em.SenderProfileType = user.ProfileType
			em.SenderAvatarColor = user.AvatarColor
		}
		out = append(out, em)
	}
	return out, nil
}
