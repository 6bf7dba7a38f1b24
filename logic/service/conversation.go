package service

import (
	"context"
	"strings"
	"time"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/rchat/event"
	"github.com/ceyewan/rchat/model"
	"github.com/ceyewan/rchat/repo"
	"github.com/google/uuid"
)

// ConversationService 私聊会话
type ConversationService struct {
	users         repo.UserRepo
	conversations repo.ConversationRepo
	publisher     Publisher
	logger        clog.Logger
}

// NewConversationService 创建私聊服务
func NewConversationService(users repo.UserRepo, conversations repo.ConversationRepo, publisher Publisher, logger clog.Logger) *ConversationService {
	return &ConversationService{
		users:         users,
		conversations: conversations,
		publisher:     publisherOrNop(publisher),
		logger:        logger.WithNamespace("conversation"),
	}
}

// canonicalPair 按小写字典序排列参与者，保证同一对用户只有一条会话
func canonicalPair(a, b string) (string, string) {
	if strings.ToLower(a) <= strings.ToLower(b) {
		return a, b
	}
	return b, a
}

// GetOrCreateConversation 获取或创建与 other 的私聊，新建时广播 ConversationCreated
func (s *ConversationService) GetOrCreateConversation(ctx context.Context, requester, other string) (*model.DirectMessage, error) {
	self, err := s.users.GetUser(ctx, requester)
	if err != nil {
		return nil, storeErr(err, "User not found")
	}
	peer, err := s.users.GetUser(ctx, other)
	if err != nil {
		return nil, storeErr(err, "User not found")
	}

	u1, u2 := canonicalPair(self.Username, peer.Username)
	dm, created, err := s.conversations.GetOrCreateConversation(ctx, &model.DirectMessage{
		ID:        uuid.NewString(),
		Username1: u1,
		Username2: u2,
		CreatedAt: time.Now(),
	})
	if err != nil {
		return nil, internal(err)
	}
	if created {
		s.publisher.Publish(event.ConversationCreated{
			DMID:      dm.ID,
			Username1: dm.Username1,
			Username2: dm.Username2,
		})
	}
	return dm, nil
}

// ListConversations 列出用户参与的会话
func (s *ConversationService) ListConversations(ctx context.Context, username string) ([]*model.DirectMessage, error) {
	dms, err := s.conversations.ListConversations(ctx, username)
	if err != nil {
		return nil, internal(err)
	}
	return dms, nil
}
