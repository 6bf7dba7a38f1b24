package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/genesis/ratelimit"
	"github.com/ceyewan/rchat/event"
	"github.com/ceyewan/rchat/model"
	"github.com/ceyewan/rchat/repo"
	"github.com/ceyewan/rchat/repo/memrepo"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// ---------------------------------------------------------------- helpers

// recordingPublisher 记录发布的事件
type recordingPublisher struct {
	mu     sync.Mutex
	events []event.Event
}

func (p *recordingPublisher) Publish(ev event.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *recordingPublisher) all() []event.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]event.Event(nil), p.events...)
}

func (p *recordingPublisher) kinds() []event.Kind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]event.Kind, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Kind())
	}
	return out
}

func (p *recordingPublisher) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = nil
}

// wordFilter 把命中的词替换为星号
type wordFilter struct {
	words []string
}

func (f wordFilter) Filter(text string) (string, bool) {
	out, hit := text, false
	for _, w := range f.words {
		if strings.Contains(strings.ToLower(out), w) {
			hit = true
			out = strings.ReplaceAll(out, w, strings.Repeat("*", len(w)))
		}
	}
	return out, hit
}

func (f wordFilter) Contains(text string) bool {
	_, hit := f.Filter(text)
	return hit
}

// stubLimiter 固定放行或拒绝
type stubLimiter struct {
	allow bool
	err   error
	calls int
}

func (l *stubLimiter) Allow(context.Context, string, ratelimit.Limit) (bool, error) {
	l.calls++
	return l.allow, l.err
}

// stubTokens 以 "tok:" 前缀编码用户名
type stubTokens struct{}

func (stubTokens) Issue(username string) (string, error) { return "tok:" + username, nil }

func (stubTokens) Resolve(token string) (string, error) {
	if !strings.HasPrefix(token, "tok:") {
		return "", fmt.Errorf("bad token")
	}
	return strings.TrimPrefix(token, "tok:"), nil
}

// staleBans 让封禁预检查总是读到旧值，模拟检查与写入之间有并发封禁提交
type staleBans struct {
	repo.BanRepo
}

func (staleBans) IsCommunityBanned(context.Context, string, string) (bool, error) {
	return false, nil
}

const testDefaultCommunity = "RChat"

// fixture 组装全部业务服务，共享同一内存仓储与发布者
type fixture struct {
	store        *memrepo.Store
	pub          *recordingPublisher
	limiter      *stubLimiter
	authz        *Authorizer
	messaging    *MessagingService
	moderation   *ModerationService
	community    *CommunityService
	channel      *ChannelService
	conversation *ConversationService
	files        *FileService
	auth         *AuthService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithCascade(t, CascadeConfig{})
}

func newFixtureWithCascade(t *testing.T, cascade CascadeConfig) *fixture {
	t.Helper()
	store := memrepo.New()
	pub := &recordingPublisher{}
	limiter := &stubLimiter{allow: true}
	logger := clog.Discard()
	filter := wordFilter{words: []string{"darn"}}

	authz := NewAuthorizer(store, store, store)
	f := &fixture{store: store, pub: pub, limiter: limiter, authz: authz}
	f.messaging = NewMessagingService(store, store, store, store, store, authz, filter, pub, logger)
	f.moderation = NewModerationService(store, store, store, store, store, store, authz, pub, logger, cascade, testDefaultCommunity)
	f.community = NewCommunityService(store, store, store, authz, filter, pub, logger, testDefaultCommunity)
	f.channel = NewChannelService(store, store, authz, filter, pub, logger)
	f.conversation = NewConversationService(store, store, pub, logger)
	f.files = NewFileService(store, store, logger)
	f.auth = NewAuthService(store, store, f.community, f.conversation, stubTokens{}, limiter, filter,
		LoginPolicy{Limit: ratelimit.Limit{Rate: 5, Burst: 5}, MaxAttempts: 3, LockDuration: time.Minute}, logger)

	// 默认社区由 system 创建
	f.addUser(t, model.SystemUsername, false)
	f.seedCommunity(t, testDefaultCommunity, model.SystemUsername)
	return f
}

// addUser 直接写入用户，密码固定为 password123
func (f *fixture) addUser(t *testing.T, username string, admin bool) *model.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("生成密码哈希失败: %v", err)
	}
	user := &model.User{
		Username:     username,
		PasswordHash: string(hash),
		ProfileType:  "identicon",
		IsAdmin:      admin,
		CreatedAt:    time.Now(),
	}
	if err := f.store.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("写入用户失败: %v", err)
	}
	return user
}

// seedCommunity 直接写入社区，返回 general 频道
func (f *fixture) seedCommunity(t *testing.T, name, creator string) *model.Channel {
	t.Helper()
	now := time.Now()
	general := &model.Channel{ID: uuid.NewString(), ServerName: name, Name: model.DefaultChannelName, IsActive: true}
	err := f.store.CreateCommunity(context.Background(),
		&model.Server{Name: name, CreatorUsername: creator, IsActive: true, CreatedAt: now},
		&model.ServerMember{ServerName: name, Username: creator, Role: model.RoleAdmin, JoinedAt: now},
		general)
	if err != nil {
		t.Fatalf("写入社区失败: %v", err)
	}
	return general
}

// join 直接加入社区
func (f *fixture) join(t *testing.T, community, username, role string) {
	t.Helper()
	if _, err := f.store.AddMember(context.Background(), &model.ServerMember{
		ServerName: community, Username: username, Role: role, JoinedAt: time.Now(),
	}); err != nil {
		t.Fatalf("加入社区失败: %v", err)
	}
}
