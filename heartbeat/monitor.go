// Package heartbeat 跟踪每个机器人账号的网关心跳
package heartbeat

import (
	"sync"
	"time"

	"github.com/smallnest/napcatbridge/internal/logger"
	"github.com/smallnest/napcatbridge/metrics"
	"github.com/smallnest/napcatbridge/onebot"
	"go.uber.org/zap"
)

const (
	// DefaultInterval 收到 lifecycle 后、首个心跳前使用的间隔
	DefaultInterval = 30 * time.Second
	// DefaultGrace 判定丢失前的额外宽限
	DefaultGrace = 3 * time.Second
)

// State 连接状态
type State int

const (
	StateConnecting State = iota
	StateAlive
	StateLost
)

// String 实现 fmt.Stringer
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAlive:
		return "alive"
	case StateLost:
		return "lost"
	default:
		return "unknown"
	}
}

// Info Watch 的只读快照
type Info struct {
	SelfID   onebot.ID
	State    State
	LastSeen time.Time
	Interval time.Duration
}

// Watch 单个账号的心跳记录
type Watch struct {
	mu       sync.Mutex
	selfID   onebot.ID
	state    State
	lastSeen time.Time
	interval time.Duration

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func newWatch(selfID onebot.ID, interval time.Duration, now time.Time) *Watch {
	return &Watch{
		selfID:   selfID,
		state:    StateConnecting,
		lastSeen: now,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Info 返回快照
func (w *Watch) Info() Info {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Info{SelfID: w.selfID, State: w.state, LastSeen: w.lastSeen, Interval: w.interval}
}

func (w *Watch) currentInterval() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.interval
}

func (w *Watch) halt() {
	w.stopOnce.Do(func() { close(w.stop) })
}

// Option Monitor 选项
type Option func(*Monitor)

// WithClock 注入时钟
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		if now != nil {
			m.now = now
		}
	}
}

// WithGrace 设置宽限时间
func WithGrace(d time.Duration) Option {
	return func(m *Monitor) {
		if d >= 0 {
			m.grace = d
		}
	}
}

// WithDefaultInterval 设置默认心跳间隔
func WithDefaultInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.defaultInterval = d
		}
	}
}

// Monitor 心跳监视器
type Monitor struct {
	mu              sync.Mutex
	watches         map[onebot.ID]*Watch
	defaultInterval time.Duration
	grace           time.Duration
	now             func() time.Time
	log             *zap.Logger
}

// NewMonitor 创建监视器
func NewMonitor(opts ...Option) *Monitor {
	m := &Monitor{
		watches:         make(map[onebot.ID]*Watch),
		defaultInterval: DefaultInterval,
		grace:           DefaultGrace,
		now:             time.Now,
		log:             logger.L().Named("heartbeat"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// HandleMeta 处理 meta_event
func (m *Monitor) HandleMeta(e *onebot.Event) {
	switch e.MetaEventType {
	case onebot.MetaLifecycle:
		if e.SubType == onebot.LifecycleConnect {
			m.Connect(e.SelfID)
		} else {
			m.log.Debug("Ignoring lifecycle event", zap.String("sub_type", e.SubType))
		}
	case onebot.MetaHeartbeat:
		m.Heartbeat(e.SelfID, e.Status, e.Interval)
	default:
		m.log.Debug("Unknown meta event", zap.String("meta_event_type", e.MetaEventType))
	}
}

// Expect 网关连接建立但尚未收到 lifecycle 时登记为 Connecting
func (m *Monitor) Expect(selfID onebot.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.watches[selfID]; ok && w.Info().State != StateLost {
		return
	}
	w := newWatch(selfID, m.defaultInterval, m.now())
	// 没有看门狗
	close(w.done)
	m.watches[selfID] = w
}

// Connect 收到 lifecycle/connect，用新的 Watch 替换旧的并启动看门狗
func (m *Monitor) Connect(selfID onebot.ID) {
	m.start(selfID, m.defaultInterval)
	m.log.Info("Gateway connected", zap.Stringer("self_id", selfID))
}

func (m *Monitor) start(selfID onebot.ID, interval time.Duration) *Watch {
	w := newWatch(selfID, interval, m.now())
	w.state = StateAlive

	m.mu.Lock()
	old := m.watches[selfID]
	m.watches[selfID] = w
	m.mu.Unlock()

	if old != nil {
		old.halt()
	}
	go m.watchdog(w)
	return w
}

// Heartbeat 处理心跳，interval 单位为毫秒
func (m *Monitor) Heartbeat(selfID onebot.ID, status *onebot.Status, intervalMS int64) {
	if status == nil || !status.Healthy() {
		m.log.Warn("Gateway reports degraded status", zap.Stringer("self_id", selfID))
		return
	}
	interval := time.Duration(intervalMS) * time.Millisecond
	if interval <= 0 {
		interval = m.defaultInterval
	}

	m.mu.Lock()
	w, ok := m.watches[selfID]
	m.mu.Unlock()

	if !ok || w.Info().State != StateAlive {
		if ok && w.Info().State == StateLost {
			m.log.Info("Heartbeat resumed", zap.Stringer("self_id", selfID))
		}
		m.start(selfID, interval)
		return
	}

	w.mu.Lock()
	w.lastSeen = m.now()
	w.interval = interval
	w.mu.Unlock()
	m.log.Debug("Heartbeat", zap.Stringer("self_id", selfID), zap.Duration("interval", interval))
}

// MarkLost 连接关闭时直接判定丢失
func (m *Monitor) MarkLost(selfID onebot.ID, reason string) {
	m.mu.Lock()
	w, ok := m.watches[selfID]
	m.mu.Unlock()
	if !ok {
		return
	}
	m.lose(w, reason)
}

// lose 转为 Lost，已经 Lost 时返回 false
func (m *Monitor) lose(w *Watch, reason string) bool {
	w.mu.Lock()
	if w.state == StateLost {
		w.mu.Unlock()
		return false
	}
	w.state = StateLost
	lastSeen := w.lastSeen
	w.mu.Unlock()

	w.halt()
	metrics.HeartbeatLost.WithLabelValues(w.selfID.String()).Inc()
	m.log.Error("Gateway connection lost",
		zap.Stringer("self_id", w.selfID),
		zap.Time("last_seen", lastSeen),
		zap.String("reason", reason))
	return true
}

// Check 检查所有 Watch，返回本次新判定为丢失的账号
func (m *Monitor) Check() []onebot.ID {
	m.mu.Lock()
	watches := make([]*Watch, 0, len(m.watches))
	for _, w := range m.watches {
		watches = append(watches, w)
	}
	m.mu.Unlock()

	var lost []onebot.ID
	for _, w := range watches {
		if m.expired(w) {
			lost = append(lost, w.selfID)
		}
	}
	return lost
}

// expired 超过 interval + grace 未收到心跳时判定丢失
func (m *Monitor) expired(w *Watch) bool {
	info := w.Info()
	if info.State != StateAlive {
		return false
	}
	if m.now().Sub(info.LastSeen) <= info.Interval+m.grace {
		return false
	}
	return m.lose(w, "heartbeat timeout")
}

func (m *Monitor) watchdog(w *Watch) {
	defer close(w.done)
	timer := time.NewTimer(w.currentInterval())
	defer timer.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-timer.C:
			m.expired(w)
			if w.Info().State == StateLost {
				return
			}
			timer.Reset(w.currentInterval())
		}
	}
}

// Get 返回指定账号的快照
func (m *Monitor) Get(selfID onebot.ID) (Info, bool) {
	m.mu.Lock()
	w, ok := m.watches[selfID]
	m.mu.Unlock()
	if !ok {
		return Info{}, false
	}
	return w.Info(), true
}

// Snapshot 返回所有账号的快照
func (m *Monitor) Snapshot() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Info, 0, len(m.watches))
	for _, w := range m.watches {
		out = append(out, w.Info())
	}
	return out
}

// Stop 停止所有看门狗
func (m *Monitor) Stop() {
	m.mu.Lock()
	watches := make([]*Watch, 0, len(m.watches))
	for _, w := range m.watches {
		watches = append(watches, w)
	}
	m.mu.Unlock()

	for _, w := range watches {
		w.halt()
		<-w.done
	}
}
