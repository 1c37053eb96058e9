package bus

import (
	"context"
	"testing"
	"time"

	"github.com/smallnest/napcatbridge/message"
	"github.com/smallnest/napcatbridge/onebot"
)

func TestMessageBusCloseNotBlockedByPendingConsumeInbound(t *testing.T) {
	b := NewMessageBus(1)

	consumeStarted := make(chan struct{})
	go func() {
		close(consumeStarted)
		_, _ = b.ConsumeInbound(context.Background())
	}()
	<-consumeStarted
	time.Sleep(20 * time.Millisecond)

	closeDone := make(chan struct{})
	go func() {
		_ = b.Close()
		close(closeDone)
	}()

	select {
	case <-closeDone:
	case <-time.After(300 * time.Millisecond):
		t.Fatalf("Close is blocked by pending ConsumeInbound")
	}
}

func TestPublishInboundSetsIDAndTimestamp(t *testing.T) {
	b := NewMessageBus(2)
	defer func() { _ = b.Close() }()

	ev := &InboundEvent{
		ConnID: "c1",
		Event:  &onebot.Event{PostType: onebot.PostTypeMessage},
	}
	if err := b.PublishInbound(context.Background(), ev); err != nil {
		t.Fatalf("publish inbound failed: %v", err)
	}
	if ev.ID == "" {
		t.Fatalf("expected publish to set event ID")
	}
	if ev.ReceivedAt.IsZero() {
		t.Fatalf("expected publish to set timestamp")
	}
	if ev.PostType() != onebot.PostTypeMessage {
		t.Fatalf("unexpected post type %q", ev.PostType())
	}
}

func TestPublishInboundNeverBlocks(t *testing.T) {
	b := NewMessageBus(1)
	defer func() { _ = b.Close() }()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			_ = b.PublishInbound(context.Background(), &InboundEvent{Event: &onebot.Event{}})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("PublishInbound blocked without a consumer")
	}
	if got := b.InboundCount(); got != 1000 {
		t.Fatalf("expected 1000 queued events, got %d", got)
	}
}

func TestConsumeInboundPreservesOrder(t *testing.T) {
	b := NewMessageBus(1)
	defer func() { _ = b.Close() }()

	ctx := context.Background()
	const n = 200
	go func() {
		for i := 0; i < n; i++ {
			_ = b.PublishInbound(ctx, &InboundEvent{Event: &onebot.Event{MessageID: onebot.ID(i)}})
		}
	}()

	for i := 0; i < n; i++ {
		cctx, cancel := context.WithTimeout(ctx, time.Second)
		ev, err := b.ConsumeInbound(cctx)
		cancel()
		if err != nil {
			t.Fatalf("consume %d failed: %v", i, err)
		}
		if ev.Event.MessageID != onebot.ID(i) {
			t.Fatalf("out of order: expected %d, got %d", i, ev.Event.MessageID)
		}
	}
}

func TestPublishAfterClose(t *testing.T) {
	b := NewMessageBus(1)
	_ = b.Close()

	if err := b.PublishInbound(context.Background(), &InboundEvent{}); err != ErrBusClosed {
		t.Fatalf("expected ErrBusClosed, got %v", err)
	}
	if err := b.PublishOutbound(context.Background(), &OutboundMessage{}); err != ErrBusClosed {
		t.Fatalf("expected ErrBusClosed, got %v", err)
	}
	if _, err := b.ConsumeOutbound(context.Background()); err != ErrBusClosed {
		t.Fatalf("expected ErrBusClosed, got %v", err)
	}
}

func TestPublishInboundNilMessageShouldNotPanic(t *testing.T) {
	b := NewMessageBus(1)
	defer func() { _ = b.Close() }()

	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("publish inbound with nil event should return error, got panic: %v", r)
		}
	}()

	if err := b.PublishInbound(context.Background(), nil); err == nil {
		t.Fatalf("expected error for nil event")
	}
}

func TestConsumeOutboundCanReadPreviouslyPublishedMessage(t *testing.T) {
	b := NewMessageBus(2)
	defer func() { _ = b.Close() }()

	msg := &OutboundMessage{
		Platform: "qq",
		Envelope: &message.Envelope{
			MessageInfo:    message.BaseMessageInfo{Platform: "qq"},
			MessageSegment: message.Text("hello"),
		},
	}
	if err := b.PublishOutbound(context.Background(), msg); err != nil {
		t.Fatalf("publish outbound failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	got, err := b.ConsumeOutbound(ctx)
	if err != nil {
		t.Fatalf("expected to consume previously published message, got error: %v", err)
	}
	if got == nil || got.Envelope.MessageSegment.Data != "hello" {
		t.Fatalf("unexpected consumed message: %+v", got)
	}
	if got.ID == "" || got.Timestamp.IsZero() {
		t.Fatalf("expected publish to set ID and timestamp")
	}
}

func TestConsumeInboundContextCancel(t *testing.T) {
	b := NewMessageBus(1)
	defer func() { _ = b.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := b.ConsumeInbound(ctx); err != context.DeadlineExceeded {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
