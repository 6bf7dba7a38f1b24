package connection

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/rchat/event"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	*httptest.Server
	manager *Manager
	store   *fakePresence
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := newFakePresence()
	manager := NewManager(NewBus(64, nil), store, clog.Discard())
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		h, err := manager.Connect(r.Context(), r.URL.Query().Get("user"))
		if err != nil {
			_ = ws.Close()
			return
		}
		NewConn(ws, manager, h, Config{PingInterval: time.Second, PongTimeout: 5 * time.Second}).
			Serve(context.Background())
	}))
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, manager: manager, store: store}
}

func (s *testServer) dial(t *testing.T, user string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.URL, "http") + "/ws?user=" + user
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

// readType 读取下一个指定类型的事件，跳过其他事件
func readType(t *testing.T, ws *websocket.Conn, kind event.Kind) map[string]any {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, data, err := ws.ReadMessage()
		require.NoError(t, err)
		var payload map[string]any
		require.NoError(t, json.Unmarshal(data, &payload))
		if payload["type"] == string(kind) {
			return payload
		}
	}
}

func TestConn_ConnectedFirstThenHeartbeat(t *testing.T) {
	srv := newTestServer(t)
	ws := srv.dial(t, "alice")

	_ = ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	var first map[string]any
	require.NoError(t, json.Unmarshal(data, &first))
	assert.Equal(t, "connected", first["type"])
	assert.Equal(t, "alice", first["username"])

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"heartbeat"}`)))
	readType(t, ws, event.KindPong)
}

func TestConn_ReceivesBroadcastAndTyping(t *testing.T) {
	srv := newTestServer(t)
	alice := srv.dial(t, "alice")
	bob := srv.dial(t, "bob")
	readType(t, alice, event.KindConnected)
	readType(t, bob, event.KindConnected)

	srv.manager.Publish(event.ServerCreated{ServerName: "Gophers", OwnerUsername: "alice"})
	got := readType(t, bob, event.KindServerCreated)
	assert.Equal(t, "Gophers", got["server_name"])

	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte(`{"type":"typing","channel_id":"c-1"}`)))
	typing := readType(t, bob, event.KindUserTyping)
	assert.Equal(t, "alice", typing["username"])
	assert.Equal(t, "c-1", typing["channel_id"])
}

func TestConn_InvalidFrameGetsError(t *testing.T) {
	srv := newTestServer(t)
	ws := srv.dial(t, "alice")
	readType(t, ws, event.KindConnected)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	readType(t, ws, event.KindError)
}

func TestConn_DisconnectMarksOffline(t *testing.T) {
	srv := newTestServer(t)
	first := srv.dial(t, "alice")
	second := srv.dial(t, "alice")
	readType(t, first, event.KindConnected)
	readType(t, second, event.KindConnected)

	require.Eventually(t, func() bool {
		return srv.manager.ConnectionCount() == 2
	}, 3*time.Second, 20*time.Millisecond)

	require.NoError(t, first.Close())
	require.Eventually(t, func() bool {
		return srv.manager.ConnectionCount() == 1
	}, 3*time.Second, 20*time.Millisecond)
	assert.True(t, srv.manager.IsOnline("alice"))

	require.NoError(t, second.Close())
	require.Eventually(t, func() bool {
		return !srv.manager.IsOnline("alice") && srv.store.callCount() == 3
	}, 3*time.Second, 20*time.Millisecond)

	srv.store.mu.Lock()
	defer srv.store.mu.Unlock()
	assert.False(t, srv.store.online["alice"])
	// 两次上线，一次下线
	assert.Equal(t, []bool{true, true, false}, srv.store.calls)
}

func TestConn_ManagerCloseTerminatesConnections(t *testing.T) {
	srv := newTestServer(t)
	ws := srv.dial(t, "alice")
	readType(t, ws, event.KindConnected)
	require.Eventually(t, func() bool {
		return srv.manager.ConnectionCount() == 1
	}, 3*time.Second, 20*time.Millisecond)

	require.NoError(t, srv.manager.Close())

	_ = ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			break
		}
	}
	require.Eventually(t, func() bool {
		return srv.manager.ConnectionCount() == 0
	}, 3*time.Second, 20*time.Millisecond)
}

func TestConn_ServeAfterManagerClosed(t *testing.T) {
	manager := NewManager(NewBus(16, nil), newFakePresence(), clog.Discard())
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	served := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		h, err := manager.Connect(r.Context(), "alice")
		if err != nil {
			_ = ws.Close()
			return
		}
		_ = manager.Close()
		NewConn(ws, manager, h, Config{PingInterval: time.Second, PongTimeout: 5 * time.Second}).
			Serve(context.Background())
		close(served)
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	select {
	case <-served:
	case <-time.After(3 * time.Second):
		t.Fatal("Serve kept running after the manager was closed")
	}
	assert.Equal(t, 0, manager.ConnectionCount())
}
