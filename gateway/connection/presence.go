package connection

import (
	"context"
	"strings"
	"sync"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/rchat/event"
)

// PresenceStore 持久化在线状态
type PresenceStore interface {
	// SetPresence 更新用户在所有社区的在线标记，返回其所在社区名
	SetPresence(ctx context.Context, username string, online bool) ([]string, error)
}

// keyedMutex 按 key 串行化，空闲的锁会被回收
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

// Lock 获取 key 对应的锁，返回解锁函数
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}

func presenceKey(username string) string {
	return strings.ToLower(username)
}

// setPresence 写入在线状态并为每个社区广播一条 PresenceChanged
// 调用方须持有该用户的 presence 锁
func (m *Manager) setPresence(ctx context.Context, username string, online bool) {
	names, err := m.presence.SetPresence(ctx, username, online)
	if err != nil {
		m.logger.ErrorContext(ctx, "更新在线状态失败",
			clog.String("username", username),
			clog.Any("online", online),
			clog.Error(err))
		return
	}
	for _, name := range names {
		m.bus.Publish(event.PresenceChanged{
			ServerName: name,
			Username:   username,
			IsOnline:   online,
		})
	}
}
