package connection

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/rchat/event"
	"github.com/ceyewan/rchat/model"
	"github.com/google/uuid"
)

// Handle 一个已注册的连接
type Handle struct {
	ID        string
	Username  string
	CreatedAt time.Time

	sub     *Subscription
	closeMu sync.Mutex
	closeFn func()
	closed  bool
}

// Subscription 连接的事件队列
func (h *Handle) Subscription() *Subscription {
	return h.sub
}

// IsGuest 是否为未认证连接
func (h *Handle) IsGuest() bool {
	return strings.EqualFold(h.Username, model.GuestUsername)
}

// OnClose 注册关闭回调，Manager.Close 时调用；
// Handle 在注册前已被关闭时立即执行
func (h *Handle) OnClose(fn func()) {
	h.closeMu.Lock()
	closed := h.closed
	h.closeFn = fn
	h.closeMu.Unlock()
	if closed && fn != nil {
		fn()
	}
}

func (h *Handle) close() {
	h.closeMu.Lock()
	h.closed = true
	fn := h.closeFn
	h.closeMu.Unlock()
	if fn != nil {
		fn()
	}
}

// Manager 管理所有 WebSocket 连接及在线状态
type Manager struct {
	bus      *Bus
	presence PresenceStore
	logger   clog.Logger
	recorder Recorder
	locks    *keyedMutex

	mu      sync.Mutex
	handles map[string]*Handle            // handle id -> handle
	byUser  map[string]map[string]*Handle // lower(username) -> handles
	closed  bool
}

// ManagerOption Manager 构造选项
type ManagerOption func(*Manager)

// WithRecorder 设置指标回调
func WithRecorder(r Recorder) ManagerOption {
	return func(m *Manager) {
		if r != nil {
			m.recorder = r
		}
	}
}

// NewManager 创建连接管理器
func NewManager(bus *Bus, presence PresenceStore, logger clog.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = clog.Discard()
	}
	m := &Manager{
		bus:      bus,
		presence: presence,
		logger:   logger.WithNamespace("connection"),
		recorder: noopRecorder{},
		locks:    newKeyedMutex(),
		handles:  make(map[string]*Handle),
		byUser:   make(map[string]map[string]*Handle),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Connect 注册连接并订阅总线；非访客用户每次连接都会标记上线
func (m *Manager) Connect(ctx context.Context, username string) (*Handle, error) {
	if username == "" {
		username = model.GuestUsername
	}
	h := &Handle{
		ID:        uuid.NewString(),
		Username:  username,
		CreatedAt: time.Now(),
	}

	key := presenceKey(username)
	unlock := m.locks.Lock(key)
	defer unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, fmt.Errorf("connection manager closed")
	}
	h.sub = m.bus.Subscribe()
	m.handles[h.ID] = h
	if m.byUser[key] == nil {
		m.byUser[key] = make(map[string]*Handle)
	}
	m.byUser[key][h.ID] = h
	m.mu.Unlock()

	m.recorder.ConnectionOpened()
	m.logger.InfoContext(ctx, "user connected",
		clog.String("username", username),
		clog.String("conn_id", h.ID))

	if !h.IsGuest() && m.presence != nil {
		m.setPresence(ctx, username, true)
	}
	return h, nil
}

// Disconnect 注销连接，同一 Handle 只生效一次
// 用户最后一个连接断开时标记下线
func (m *Manager) Disconnect(ctx context.Context, h *Handle) {
	if h == nil {
		return
	}
	key := presenceKey(h.Username)
	unlock := m.locks.Lock(key)
	defer unlock()

	m.mu.Lock()
	if _, ok := m.handles[h.ID]; !ok {
		m.mu.Unlock()
		return
	}
	delete(m.handles, h.ID)
	remaining := 0
	if conns := m.byUser[key]; conns != nil {
		delete(conns, h.ID)
		remaining = len(conns)
		if remaining == 0 {
			delete(m.byUser, key)
		}
	}
	m.mu.Unlock()

	m.bus.Unsubscribe(h.sub)
	m.recorder.ConnectionClosed()
	m.logger.InfoContext(ctx, "user disconnected",
		clog.String("username", h.Username),
		clog.String("conn_id", h.ID),
		clog.Int("remaining", remaining))

	if remaining == 0 && !h.IsGuest() && m.presence != nil {
		m.setPresence(ctx, h.Username, false)
	}
}

// Publish 广播事件
func (m *Manager) Publish(ev event.Event) {
	m.bus.Publish(ev)
}

// IsOnline 用户是否至少有一个活跃连接
func (m *Manager) IsOnline(username string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byUser[presenceKey(username)]) > 0
}

// ConnectionCount 当前连接总数
func (m *Manager) ConnectionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handles)
}

// Close 拒绝新连接并关闭所有现有连接
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closed = true
	handles := make([]*Handle, 0, len(m.handles))
	for _, h := range m.handles {
		handles = append(handles, h)
	}
	m.mu.Unlock()

	for _, h := range handles {
		h.close()
	}
	m.logger.Info("connection manager closed", clog.Int("connections", len(handles)))
	return nil
}
