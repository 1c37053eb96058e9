// Package router 为每个下游平台维护一条持久的 WebSocket 客户端连接
package router

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/smallnest/napcatbridge/bus"
	"github.com/smallnest/napcatbridge/internal/logger"
	"github.com/smallnest/napcatbridge/message"
	"github.com/smallnest/napcatbridge/metrics"
	"github.com/smallnest/napcatbridge/types"
	"go.uber.org/zap"
)

// DefaultMonitorInterval 连接巡检间隔
const DefaultMonitorInterval = 5 * time.Second

// Options 路由器选项
type Options struct {
	ReconnectInterval time.Duration
	MonitorInterval   time.Duration
	Dialer            *websocket.Dialer
}

// Router 连接路由器
type Router struct {
	mu      sync.Mutex
	table   RouteTable
	clients map[string]*Client
	running bool

	handler Handler
	opts    Options

	ctx    context.Context
	cancel context.CancelFunc
	log    *zap.Logger
}

// New 创建路由器
func New(table RouteTable, handler Handler, opts Options) *Router {
	if opts.MonitorInterval <= 0 {
		opts.MonitorInterval = DefaultMonitorInterval
	}
	if opts.ReconnectInterval <= 0 {
		opts.ReconnectInterval = DefaultReconnectInterval
	}
	if table == nil {
		table = RouteTable{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Router{
		table:   table.Clone(),
		clients: make(map[string]*Client),
		handler: handler,
		opts:    opts,
		ctx:     ctx,
		cancel:  cancel,
		log:     logger.L().Named("router"),
	}
}

// Run 连接所有平台并巡检，直到 ctx 结束
func (r *Router) Run(ctx context.Context) error {
	r.mu.Lock()
	r.running = true
	for _, platform := range r.table.Platforms() {
		if _, ok := r.clients[platform]; !ok {
			r.connectLocked(platform)
		}
	}
	r.mu.Unlock()

	ticker := time.NewTicker(r.opts.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.Close()
			return nil
		case <-ticker.C:
			r.monitor()
		}
	}
}

// connectLocked 创建并启动客户端，调用方持有 r.mu
func (r *Router) connectLocked(platform string) *Client {
	c := newClient(platform, r.table[platform], r.handler, r.opts.ReconnectInterval, r.opts.Dialer, r.log)
	r.clients[platform] = c
	c.start(r.ctx)
	return c
}

// monitor 拆掉超过一个巡检周期仍未连上的客户端并重新创建
func (r *Router) monitor() {
	var stale []*Client
	now := time.Now()

	r.mu.Lock()
	for _, c := range r.clients {
		if c.disconnectedFor(now) >= r.opts.MonitorInterval {
			stale = append(stale, c)
		}
	}
	for _, c := range stale {
		r.log.Warn("Client not connected, recreating",
			zap.String("platform", c.platform),
			zap.String("state", c.State().String()))
		delete(r.clients, c.platform)
		if _, ok := r.table[c.platform]; ok && r.running {
			r.connectLocked(c.platform)
		}
	}
	r.mu.Unlock()

	for _, c := range stale {
		c.stop()
	}
}

// AddPlatform 添加或替换一个平台
func (r *Router) AddPlatform(platform string, target Target) {
	r.mu.Lock()
	old, hadClient := r.clients[platform]
	if prev, ok := r.table[platform]; ok && prev == target && hadClient {
		r.mu.Unlock()
		return
	}
	r.table[platform] = target
	delete(r.clients, platform)
	if r.running {
		r.connectLocked(platform)
	}
	r.mu.Unlock()

	if hadClient {
		old.stop()
	}
	r.log.Info("Platform added", zap.String("platform", platform), zap.String("url", target.URL))
}

// RemovePlatform 移除平台并断开连接
func (r *Router) RemovePlatform(platform string) {
	r.mu.Lock()
	delete(r.table, platform)
	c, ok := r.clients[platform]
	delete(r.clients, platform)
	r.mu.Unlock()

	if ok {
		c.stop()
	}
	r.log.Info("Platform removed", zap.String("platform", platform))
}

// UpdateConfig 用新路由表替换旧表，只重建发生变化的平台
func (r *Router) UpdateConfig(next RouteTable) {
	r.mu.Lock()
	added, removed, changed := r.table.Diff(next)
	r.table = next.Clone()

	var stale []*Client
	for _, platform := range append(removed, changed...) {
		if c, ok := r.clients[platform]; ok {
			stale = append(stale, c)
			delete(r.clients, platform)
		}
	}
	if r.running {
		for _, platform := range append(added, changed...) {
			r.connectLocked(platform)
		}
	}
	r.mu.Unlock()

	for _, c := range stale {
		c.stop()
	}
	r.log.Info("Route table updated",
		zap.Strings("added", added),
		zap.Strings("removed", removed),
		zap.Strings("changed", changed))
}

// Table 返回当前路由表副本
func (r *Router) Table() RouteTable {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.table.Clone()
}

// Client 返回平台对应的客户端
func (r *Router) Client(platform string) (*Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[platform]
	return c, ok
}

// Send 把 v 发送到指定平台，客户端不存在时按需创建并等待连接
func (r *Router) Send(ctx context.Context, platform string, v interface{}) error {
	for {
		c, err := r.clientFor(platform)
		if err != nil {
			return err
		}
		err = c.WaitConnected(ctx)
		if err == nil {
			return c.SendJSON(v)
		}
		// 客户端被巡检替换时换用新客户端
		if ctx.Err() != nil || !types.IsRetryable(err) {
			return err
		}
	}
}

// clientFor 返回平台当前的客户端，不存在时创建
func (r *Router) clientFor(platform string) (*Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.table[platform]; !ok {
		return nil, &types.NoRouteError{Platform: platform}
	}
	if r.ctx.Err() != nil {
		return nil, &types.ConnectionLostError{Peer: platform, Err: r.ctx.Err()}
	}
	c, ok := r.clients[platform]
	if !ok {
		c = r.connectLocked(platform)
	}
	return c, nil
}

// Submit 把信封发往其平台对应的核心
func (r *Router) Submit(ctx context.Context, env *message.Envelope) error {
	return r.Send(ctx, env.Platform(), env)
}

// Close 断开所有客户端
func (r *Router) Close() {
	r.mu.Lock()
	r.running = false
	clients := make([]*Client, 0, len(r.clients))
	for platform, c := range r.clients {
		clients = append(clients, c)
		delete(r.clients, platform)
	}
	r.mu.Unlock()

	r.cancel()
	for _, c := range clients {
		c.stop()
	}
}

// BusHandler 把核心发来的信封解码后投入出站队列
func BusHandler(mb *bus.MessageBus) Handler {
	log := logger.L().Named("router")
	return func(platform string, payload []byte) {
		env, err := message.Decode(payload)
		if err != nil {
			metrics.EnvelopesTotal.WithLabelValues("outbound", "invalid").Inc()
			log.Warn("Dropping invalid envelope from core",
				zap.String("platform", platform),
				zap.Error(err))
			return
		}
		msg := &bus.OutboundMessage{
			ID:        uuid.NewString(),
			Platform:  platform,
			Envelope:  env,
			Timestamp: time.Now(),
		}
		if err := mb.PublishOutbound(context.Background(), msg); err != nil {
			log.Error("Failed to queue outbound envelope", zap.String("platform", platform), zap.Error(err))
		}
	}
}
