package gateway

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/smallnest/napcatbridge/correlation"
	"github.com/smallnest/napcatbridge/onebot"
	"go.uber.org/zap"
)

// Connection 一条来自 Napcat 的 WebSocket 连接
type Connection struct {
	*websocket.Conn
	ID     string
	caller *onebot.Caller

	mu      sync.Mutex
	stateMu sync.Mutex
	selfID  onebot.ID
	closed  bool
}

func newConnection(ws *websocket.Conn, store *correlation.Store[*onebot.Response], timeout time.Duration, log *zap.Logger) *Connection {
	c := &Connection{
		Conn: ws,
		ID:   uuid.New().String(),
	}
	c.caller = onebot.NewCaller(c, store, timeout, log.With(zap.String("conn_id", c.ID)))
	return c
}

// SelfID 返回连接对应的机器人账号
func (c *Connection) SelfID() (onebot.ID, bool) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.selfID, c.selfID != 0
}

func (c *Connection) setSelfID(id onebot.ID) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.selfID = id
}

// observe 从事件中记下 self_id
func (c *Connection) observe(id onebot.ID) {
	if id == 0 {
		return
	}
	c.stateMu.Lock()
	if c.selfID == 0 {
		c.selfID = id
	}
	c.stateMu.Unlock()
}

// SendJSON 发送 JSON 消息
func (c *Connection) SendJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
		return err
	}
	return c.WriteJSON(v)
}

// keepalive 定期发送 ping
func (c *Connection) keepalive(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		if c.isClosed() {
			return
		}
		c.mu.Lock()
		if err := c.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
			c.mu.Unlock()
			return
		}
		if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()
	}
}

func (c *Connection) isClosed() bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.closed
}

// Close 关闭连接，可重复调用
func (c *Connection) Close() error {
	c.stateMu.Lock()
	if c.closed {
		c.stateMu.Unlock()
		return nil
	}
	c.closed = true
	c.stateMu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	message := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.SetWriteDeadline(time.Now().Add(time.Second))
	_ = c.WriteMessage(websocket.CloseMessage, message)

	return c.Conn.Close()
}

func parseSelfID(s string) (onebot.ID, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v == 0 {
		return 0, false
	}
	return onebot.ID(v), true
}
