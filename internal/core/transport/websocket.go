package transport

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/zeusync/tablesync/internal/core/observability/log"
)

var _ Dialer = (*WebSocketDialer)(nil)

// WebSocketDialer opens text-frame websocket connections.
type WebSocketDialer struct {
	dialer         *websocket.Dialer
	writeTimeout   time.Duration
	maxMessageSize int64
	logger         log.Log
}

func NewWebSocketDialer(cfg Config, logger log.Log) *WebSocketDialer {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = log.NewNop()
	}
	return &WebSocketDialer{
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
		},
		writeTimeout:   cfg.WriteTimeout,
		maxMessageSize: cfg.MaxMessageSize,
		logger:         logger,
	}
}

// Dial connects in the background. A failed handshake is reported as a
// single OnClose without OnOpen.
func (d *WebSocketDialer) Dial(ctx context.Context, url string, h SocketHandler) {
	go func() {
		conn, _, err := d.dialer.DialContext(ctx, url, nil)
		if err != nil {
			d.logger.Debug("Websocket dial failed", log.String("url", url), log.Error(err))
			h.OnClose(errors.Wrap(err, "failed to dial websocket"))
			return
		}
		if d.maxMessageSize > 0 {
			conn.SetReadLimit(d.maxMessageSize)
		}

		ws := &webSocketConn{conn: conn, writeTimeout: d.writeTimeout}
		h.OnOpen(ws)
		ws.readLoop(h)
	}()
}

type webSocketConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	writeMu      sync.Mutex
	closed       atomic.Bool
}

func (c *webSocketConn) Write(data []byte) error {
	if c.closed.Load() {
		return errors.New("connection is closed")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return errors.Wrap(err, "failed to write message")
	}
	return nil
}

func (c *webSocketConn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.writeMu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client closed")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	c.writeMu.Unlock()

	return c.conn.Close()
}

func (c *webSocketConn) readLoop(h SocketHandler) {
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			c.closed.Store(true)
			_ = c.conn.Close()
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				h.OnClose(nil)
				return
			}
			h.OnClose(errors.Wrap(err, "failed to read message"))
			return
		}
		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}
		h.OnMessage(data)
	}
}
