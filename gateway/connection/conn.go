package connection

import (
	"context"
	"sync"
	"time"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/rchat/event"
	"github.com/gorilla/websocket"
)

// Config 单个连接的读写参数
type Config struct {
	MaxMessageSize int64
	PingInterval   time.Duration
	PongTimeout    time.Duration
	WriteTimeout   time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 64 * 1024
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = 60 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	return c
}

// Conn 表示一个 WebSocket 连接
type Conn struct {
	ws      *websocket.Conn
	manager *Manager
	handle  *Handle
	logger  clog.Logger
	cfg     Config

	// 只发给本连接的事件（connected、pong、error）
	direct    chan event.Event
	closeOnce sync.Once
}

// NewConn 包装已升级的 WebSocket 连接
func NewConn(ws *websocket.Conn, manager *Manager, handle *Handle, cfg Config) *Conn {
	return &Conn{
		ws:      ws,
		manager: manager,
		handle:  handle,
		logger:  manager.logger,
		cfg:     cfg.withDefaults(),
		direct:  make(chan event.Event, 16),
	}
}

// Serve 运行读写协程直到任一方结束，然后关闭连接并从 Manager 注销
func (c *Conn) Serve(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.handle.OnClose(cancel)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer cancel()
		c.writePump(ctx)
	}()
	go func() {
		defer wg.Done()
		defer cancel()
		c.readPump(ctx)
	}()

	<-ctx.Done()
	c.closeSocket()
	wg.Wait()

	c.manager.Disconnect(context.WithoutCancel(ctx), c.handle)
}

func (c *Conn) closeSocket() {
	c.closeOnce.Do(func() {
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = c.ws.Close()
	})
}

// sendDirect 非阻塞地投递给本连接
func (c *Conn) sendDirect(ev event.Event) {
	select {
	case c.direct <- ev:
	default:
		c.logger.Warn("direct queue full, dropping",
			clog.String("conn_id", c.handle.ID),
			clog.String("type", string(ev.Kind())))
	}
}

// readPump 从 WebSocket 读取客户端消息
func (c *Conn) readPump(ctx context.Context) {
	c.ws.SetReadLimit(c.cfg.MaxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read error",
					clog.String("username", c.handle.Username),
					clog.String("conn_id", c.handle.ID),
					clog.Error(err))
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))

		msg, err := event.DecodeClientMessage(data)
		if err != nil {
			c.sendDirect(event.Error{Message: "invalid message"})
			continue
		}

		switch msg.Type {
		case event.ClientHeartbeat:
			c.sendDirect(event.Pong{})
		case event.ClientTyping:
			if c.handle.IsGuest() || msg.ChannelID == "" {
				continue
			}
			c.manager.Publish(event.UserTyping{
				Username:  c.handle.Username,
				ChannelID: msg.ChannelID,
			})
		default:
			c.logger.Debug("ignore client message",
				clog.String("conn_id", c.handle.ID),
				clog.String("type", string(msg.Type)))
		}
	}
}

// writePump 向 WebSocket 写入事件与心跳
func (c *Conn) writePump(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	if err := c.write(event.Connected{Username: c.handle.Username}); err != nil {
		return
	}

	sub := c.handle.Subscription()
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Done():
			return
		case ev := <-c.direct:
			if err := c.write(ev); err != nil {
				return
			}
		case <-sub.Ready():
			for _, ev := range sub.Drain() {
				if err := c.write(ev); err != nil {
					return
				}
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteTimeout)); err != nil {
				return
			}
		}
	}
}

func (c *Conn) write(ev event.Event) error {
	data, err := event.Marshal(ev)
	if err != nil {
		c.logger.Error("failed to encode event",
			clog.String("type", string(ev.Kind())),
			clog.Error(err))
		return nil
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		c.logger.Warn("failed to write message",
			clog.String("username", c.handle.Username),
			clog.String("conn_id", c.handle.ID),
			clog.Error(err))
		return err
	}
	return nil
}
