package connection

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/rchat/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePresence 记录在线状态写入
type fakePresence struct {
	mu          sync.Mutex
	communities map[string][]string
	online      map[string]bool
	calls       []bool
	err         error
}

func newFakePresence() *fakePresence {
	return &fakePresence{
		communities: map[string][]string{"alice": {"Gophers", "RChat"}},
		online:      map[string]bool{},
	}
}

func (f *fakePresence) SetPresence(_ context.Context, username string, online bool) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, online)
	if f.err != nil {
		return nil, f.err
	}
	key := strings.ToLower(username)
	f.online[key] = online
	return f.communities[key], nil
}

func (f *fakePresence) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func presenceEvents(events []event.Event) []event.PresenceChanged {
	var out []event.PresenceChanged
	for _, ev := range events {
		if p, ok := ev.(event.PresenceChanged); ok {
			out = append(out, p)
		}
	}
	return out
}

func TestManager_Presence(t *testing.T) {
	ctx := context.Background()
	bus := NewBus(64, nil)
	store := newFakePresence()
	manager := NewManager(bus, store, clog.Discard())
	observer := bus.Subscribe()

	first, err := manager.Connect(ctx, "alice")
	require.NoError(t, err)

	t.Run("上线为每个社区广播一次", func(t *testing.T) {
		changes := presenceEvents(observer.Drain())
		require.Len(t, changes, 2)
		assert.Equal(t, "Gophers", changes[0].ServerName)
		assert.Equal(t, "RChat", changes[1].ServerName)
		for _, c := range changes {
			assert.True(t, c.IsOnline)
			assert.Equal(t, "alice", c.Username)
		}
		assert.True(t, manager.IsOnline("Alice"))
	})

	second, err := manager.Connect(ctx, "alice")
	require.NoError(t, err)
	observer.Drain()
	assert.Equal(t, 2, manager.ConnectionCount())

	t.Run("仍有连接时断开不下线", func(t *testing.T) {
		manager.Disconnect(ctx, first)
		assert.Empty(t, presenceEvents(observer.Drain()))
		assert.True(t, manager.IsOnline("alice"))
		assert.True(t, store.online["alice"])
	})

	t.Run("重复断开只生效一次", func(t *testing.T) {
		calls := store.callCount()
		manager.Disconnect(ctx, first)
		assert.Equal(t, calls, store.callCount())
		assert.Equal(t, 1, manager.ConnectionCount())
	})

	t.Run("最后一个连接断开时下线", func(t *testing.T) {
		manager.Disconnect(ctx, second)
		changes := presenceEvents(observer.Drain())
		require.Len(t, changes, 2)
		for _, c := range changes {
			assert.False(t, c.IsOnline)
		}
		assert.False(t, manager.IsOnline("alice"))
		assert.False(t, store.online["alice"])

		manager.Disconnect(ctx, second)
		assert.Empty(t, observer.Drain())
	})

	assert.Zero(t, manager.locks.size())
}

func TestManager_GuestNeverTouchesPresence(t *testing.T) {
	ctx := context.Background()
	bus := NewBus(16, nil)
	store := newFakePresence()
	manager := NewManager(bus, store, clog.Discard())

	h, err := manager.Connect(ctx, "")
	require.NoError(t, err)
	assert.True(t, h.IsGuest())
	manager.Disconnect(ctx, h)

	assert.Zero(t, store.callCount())
}

func TestManager_PresenceStoreFailure(t *testing.T) {
	ctx := context.Background()
	bus := NewBus(16, nil)
	store := newFakePresence()
	store.err = errors.New("db down")
	manager := NewManager(bus, store, clog.Discard())
	observer := bus.Subscribe()

	h, err := manager.Connect(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, observer.Drain())
	assert.True(t, manager.IsOnline("alice"))
	manager.Disconnect(ctx, h)
	assert.False(t, manager.IsOnline("alice"))
}

func TestManager_ConcurrentConnectDisconnect(t *testing.T) {
	ctx := context.Background()
	bus := NewBus(4096, nil)
	store := newFakePresence()
	rec := &countingRecorder{}
	manager := NewManager(bus, store, clog.Discard(), WithRecorder(rec))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := manager.Connect(ctx, "alice")
			if err != nil {
				return
			}
			manager.Disconnect(ctx, h)
		}()
	}
	wg.Wait()

	assert.Zero(t, manager.ConnectionCount())
	assert.False(t, store.online["alice"])
	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, 20, rec.opened)
	assert.Equal(t, 20, rec.closed)
}

func TestManager_Close(t *testing.T) {
	ctx := context.Background()
	manager := NewManager(NewBus(16, nil), newFakePresence(), clog.Discard())

	h, err := manager.Connect(ctx, "alice")
	require.NoError(t, err)
	closed := make(chan struct{})
	h.OnClose(func() { close(closed) })

	require.NoError(t, manager.Close())
	<-closed

	_, err = manager.Connect(ctx, "bob")
	assert.Error(t, err)
}

func TestManager_CloseBeforeServe(t *testing.T) {
	ctx := context.Background()
	manager := NewManager(NewBus(16, nil), newFakePresence(), clog.Discard())

	// Connect 返回后、注册关闭回调之前管理器已关闭
	h, err := manager.Connect(ctx, "alice")
	require.NoError(t, err)
	require.NoError(t, manager.Close())

	called := make(chan struct{})
	h.OnClose(func() { close(called) })
	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("close hook registered after Close was never called")
	}
}
