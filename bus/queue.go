package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/smallnest/napcatbridge/internal/logger"
	"go.uber.org/zap"
)

// MessageBus 消息总线
// 入站是无界 FIFO，读循环永远不会因为消费者阻塞；出站是有界 channel
type MessageBus struct {
	inbound  []*InboundEvent
	inMu     sync.Mutex
	inNotify chan struct{}
	outbound chan *OutboundMessage
	mu       sync.RWMutex
	closed   bool
	closeCh  chan struct{}
}

// NewMessageBus 创建消息总线
func NewMessageBus(bufferSize int) *MessageBus {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	return &MessageBus{
		inNotify: make(chan struct{}, 1),
		outbound: make(chan *OutboundMessage, bufferSize),
		closeCh:  make(chan struct{}),
	}
}

// PublishInbound 发布入站事件，不会阻塞
func (b *MessageBus) PublishInbound(ctx context.Context, ev *InboundEvent) error {
	if ev == nil {
		return fmt.Errorf("inbound event is nil")
	}

	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return ErrBusClosed
	}

	// 设置ID和时间戳
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now()
	}

	b.inMu.Lock()
	b.inbound = append(b.inbound, ev)
	b.inMu.Unlock()

	select {
	case b.inNotify <- struct{}{}:
	default:
	}
	return nil
}

// ConsumeInbound 按发布顺序取出入站事件
func (b *MessageBus) ConsumeInbound(ctx context.Context) (*InboundEvent, error) {
	for {
		b.inMu.Lock()
		if len(b.inbound) > 0 {
			ev := b.inbound[0]
			b.inbound[0] = nil
			b.inbound = b.inbound[1:]
			b.inMu.Unlock()
			return ev, nil
		}
		b.inMu.Unlock()

		if b.IsClosed() {
			return nil, ErrBusClosed
		}

		select {
		case <-b.inNotify:
		case <-b.closeCh:
			return nil, ErrBusClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// PublishOutbound 发布出站消息
func (b *MessageBus) PublishOutbound(ctx context.Context, msg *OutboundMessage) error {
	if msg == nil {
		return fmt.Errorf("outbound message is nil")
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		logger.Warn("Message bus is closed, cannot publish outbound")
		return ErrBusClosed
	}
	outbound := b.outbound
	closeCh := b.closeCh
	b.mu.RUnlock()

	// 设置ID和时间戳
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	logger.Debug("Publishing outbound message to bus",
		zap.String("id", msg.ID),
		zap.String("platform", msg.Platform),
		zap.Int("outbound_queue_size", len(outbound)))

	select {
	case outbound <- msg:
		return nil
	case <-closeCh:
		return ErrBusClosed
	case <-ctx.Done():
		logger.Warn("PublishOutbound context cancelled",
			zap.String("id", msg.ID))
		return ctx.Err()
	}
}

// ConsumeOutbound 消费出站消息
func (b *MessageBus) ConsumeOutbound(ctx context.Context) (*OutboundMessage, error) {
	b.mu.RLock()
	closed := b.closed
	outbound := b.outbound
	closeCh := b.closeCh
	b.mu.RUnlock()

	if closed {
		return nil, ErrBusClosed
	}

	select {
	case msg := <-outbound:
		return msg, nil
	case <-closeCh:
		return nil, ErrBusClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close 关闭消息总线
func (b *MessageBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}

	b.closed = true
	close(b.closeCh)
	return nil
}

// IsClosed 检查是否已关闭
func (b *MessageBus) IsClosed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}

// InboundCount 获取入站事件数量
func (b *MessageBus) InboundCount() int {
	b.inMu.Lock()
	defer b.inMu.Unlock()
	return len(b.inbound)
}

// OutboundCount 获取出站消息数量
func (b *MessageBus) OutboundCount() int {
	return len(b.outbound)
}

// Errors
var (
	ErrBusClosed = &BusError{Message: "message bus is closed"}
)

// BusError 总线错误
type BusError struct {
	Message string
}

func (e *BusError) Error() string {
	return e.Message
}
