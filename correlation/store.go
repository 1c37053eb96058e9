// Package correlation 把请求 echo 与异步到达的响应配对
package correlation

import (
	"context"
	"sync"
	"time"

	"github.com/smallnest/napcatbridge/internal/logger"
	"github.com/smallnest/napcatbridge/metrics"
	"github.com/smallnest/napcatbridge/types"
	"go.uber.org/zap"
)

// DefaultTimeout 默认等待窗口
const DefaultTimeout = 10 * time.Second

// entry 一个挂起的请求
type entry[T any] struct {
	ready     chan struct{}
	value     T
	issuedAt  time.Time
	arrivedAt time.Time
	resolved  bool
	waiters   int
}

// Store 响应关联表
type Store[T any] struct {
	mu      sync.Mutex
	entries map[string]*entry[T]
	window  time.Duration
	now     func() time.Time
	log     *zap.Logger
}

// Option Store 选项
type Option func(*options)

type options struct {
	window time.Duration
	now    func() time.Time
}

// WithWindow 设置超时窗口，清扫时超过该窗口的条目会被移除
func WithWindow(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.window = d
		}
	}
}

// WithClock 注入时钟
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// NewStore 创建关联表
func NewStore[T any](opts ...Option) *Store[T] {
	o := options{window: DefaultTimeout, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Store[T]{
		entries: make(map[string]*entry[T]),
		window:  o.window,
		now:     o.now,
		log:     logger.L().Named("correlation"),
	}
}

// Window 返回超时窗口
func (s *Store[T]) Window() time.Duration {
	return s.window
}

// lookup 取得或创建条目，调用方必须持有锁
func (s *Store[T]) lookup(token string) *entry[T] {
	e, ok := s.entries[token]
	if !ok {
		e = &entry[T]{ready: make(chan struct{}), issuedAt: s.now()}
		s.entries[token] = e
		metrics.PendingRequests.Inc()
	}
	return e
}

// Issue 登记一个即将发出的请求
func (s *Store[T]) Issue(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookup(token)
}

// Put 记录响应并唤醒等待者
func (s *Store[T]) Put(token string, v T) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.lookup(token)
	if e.resolved {
		s.log.Warn("Duplicate response token, overwriting", zap.String("echo", token))
		e.value = v
		e.arrivedAt = s.now()
		return
	}
	e.value = v
	e.arrivedAt = s.now()
	e.resolved = true
	close(e.ready)
}

// Get 等待 token 对应的响应，超时返回 CorrelationTimeoutError
func (s *Store[T]) Get(ctx context.Context, token string, timeout time.Duration) (T, error) {
	var zero T
	if timeout <= 0 {
		timeout = s.window
	}

	s.mu.Lock()
	e := s.lookup(token)
	e.waiters++
	ready := e.ready
	s.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ready:
		s.mu.Lock()
		e.waiters--
		v := e.value
		if cur, ok := s.entries[token]; ok && cur == e {
			delete(s.entries, token)
			metrics.PendingRequests.Dec()
		}
		s.mu.Unlock()
		return v, nil
	case <-timer.C:
		s.release(e)
		metrics.CorrelationTimeouts.Inc()
		return zero, &types.CorrelationTimeoutError{Token: token, Timeout: timeout}
	case <-ctx.Done():
		s.release(e)
		return zero, ctx.Err()
	}
}

func (s *Store[T]) release(e *entry[T]) {
	s.mu.Lock()
	e.waiters--
	s.mu.Unlock()
}

// Sweep 清除超过窗口的条目，返回清除数量
func (s *Store[T]) Sweep() int {
	s.mu.Lock()
	now := s.now()
	removed := 0
	for token, e := range s.entries {
		if e.waiters > 0 {
			continue
		}
		stamp := e.issuedAt
		if e.resolved {
			stamp = e.arrivedAt
		}
		if now.Sub(stamp) > s.window {
			delete(s.entries, token)
			removed++
		}
	}
	s.mu.Unlock()

	if removed > 0 {
		metrics.PendingRequests.Sub(float64(removed))
		metrics.SweptEntries.Add(float64(removed))
		s.log.Info("Swept expired responses", zap.Int("removed", removed))
	}
	return removed
}

// Pending 当前条目数
func (s *Store[T]) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Run 按固定间隔清扫，直到 ctx 结束
func (s *Store[T]) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = s.window
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Sweep()
		}
	}
}
