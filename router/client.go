package router

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"github.com/smallnest/napcatbridge/metrics"
	"github.com/smallnest/napcatbridge/types"
	"go.uber.org/zap"
)

// DefaultReconnectInterval 固定重连间隔
const DefaultReconnectInterval = 5 * time.Second

// State 客户端连接状态
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

// String 实现 fmt.Stringer
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Handler 处理下游发来的一帧
type Handler func(platform string, payload []byte)

// Client 到单个下游平台的持久连接
type Client struct {
	platform  string
	target    Target
	handler   Handler
	reconnect time.Duration
	dialer    *websocket.Dialer
	log       *zap.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	state     State
	downSince time.Time
	retries   int
	connected chan struct{}

	writeMu sync.Mutex

	cancel context.CancelFunc
	done   chan struct{}
}

func newClient(platform string, target Target, handler Handler, reconnect time.Duration, dialer *websocket.Dialer, log *zap.Logger) *Client {
	if reconnect <= 0 {
		reconnect = DefaultReconnectInterval
	}
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	return &Client{
		platform:  platform,
		target:    target,
		handler:   handler,
		reconnect: reconnect,
		dialer:    dialer,
		log:       log.With(zap.String("platform", platform)),
		downSince: time.Now(),
		connected: make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Platform 返回平台名
func (c *Client) Platform() string {
	return c.platform
}

// State 返回当前状态
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Retries 返回连续失败次数
func (c *Client) Retries() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retries
}

// disconnectedFor 未处于已连接状态的时长，已连接时为 0
func (c *Client) disconnectedFor(now time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateConnected {
		return 0
	}
	return now.Sub(c.downSince)
}

// start 在独立 goroutine 中运行
func (c *Client) start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	c.cancel = cancel
	go c.run(ctx)
}

// stop 取消运行循环并等待退出
func (c *Client) stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.mu.Unlock()
	<-c.done
}

func (c *Client) run(ctx context.Context) {
	defer close(c.done)
	defer c.setState(StateDisconnected)

	_, _ = backoff.Retry(ctx, func() (struct{}, error) {
		err := c.session(ctx)
		if ctx.Err() != nil {
			return struct{}{}, backoff.Permanent(ctx.Err())
		}
		if !types.IsRetryable(err) {
			c.log.Error("Connection to core failed permanently", zap.Error(err))
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(c.reconnect)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.mu.Lock()
			c.retries++
			retries := c.retries
			c.mu.Unlock()
			metrics.RouterReconnects.WithLabelValues(c.platform).Inc()
			c.log.Warn("Connection to core failed, retrying",
				zap.String("url", c.target.URL),
				zap.Int("retry", retries),
				zap.Duration("next", next),
				zap.Error(err))
		}),
	)
}

// session 建立一次连接并读取直到断开
func (c *Client) session(ctx context.Context) error {
	c.setState(StateConnecting)

	header := http.Header{}
	header.Set("platform", c.platform)
	if c.target.Token != "" {
		header.Set("Authorization", c.target.Token)
	}

	conn, _, err := c.dialer.DialContext(ctx, c.target.URL, header)
	if err != nil {
		c.setState(StateDisconnected)
		return &types.ConnectionLostError{Peer: c.platform, Err: err}
	}

	c.mu.Lock()
	c.conn = conn
	c.retries = 0
	c.mu.Unlock()
	c.setState(StateConnected)
	c.log.Info("Connected to core", zap.String("url", c.target.URL))

	stopClose := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stopClose()
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		_ = conn.Close()
		c.setState(StateDisconnected)
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Info("Core closed the connection")
			}
			return &types.ConnectionLostError{Peer: c.platform, Err: err}
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		if c.handler != nil {
			c.handler(c.platform, data)
		}
	}
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == s {
		return
	}
	if c.state == StateConnected {
		c.connected = make(chan struct{})
		c.downSince = time.Now()
	}
	c.state = s
	if s == StateConnected {
		close(c.connected)
	}
	metrics.RouterState.WithLabelValues(c.platform).Set(float64(s))
}

// WaitConnected 等待连接建立
func (c *Client) WaitConnected(ctx context.Context) error {
	c.mu.Lock()
	ch := c.connected
	c.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-c.done:
		return &types.ConnectionLostError{Peer: c.platform, Err: fmt.Errorf("client stopped")}
	case <-ctx.Done():
		return &types.ConnectionLostError{Peer: c.platform, Err: ctx.Err()}
	}
}

// SendJSON 发送一帧 JSON
func (c *Client) SendJSON(v interface{}) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return &types.ConnectionLostError{Peer: c.platform, Err: fmt.Errorf("not connected")}
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteJSON(v); err != nil {
		_ = conn.Close()
		return &types.ConnectionLostError{Peer: c.platform, Err: err}
	}
	return nil
}
