package adapter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/smallnest/napcatbridge/bus"
	"github.com/smallnest/napcatbridge/internal/logger"
	"github.com/smallnest/napcatbridge/message"
	"github.com/smallnest/napcatbridge/metrics"
	"github.com/smallnest/napcatbridge/onebot"
	"github.com/smallnest/napcatbridge/transcode"
	"github.com/smallnest/napcatbridge/types"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Destination 出站消息的目标，GroupID 非 0 时发群消息
type Destination struct {
	GroupID onebot.ID
	UserID  onebot.ID
}

// IsGroup 是否群目标
func (d Destination) IsGroup() bool {
	return d.GroupID != 0
}

// DestinationOf 从信封推导目标：有群信息发群，否则发给用户
func DestinationOf(env *message.Envelope) (Destination, error) {
	info := env.MessageInfo
	if info.GroupInfo != nil && info.GroupInfo.GroupID != "" {
		id, ok := info.GroupInfo.GroupID.Int64()
		if !ok {
			return Destination{}, fmt.Errorf("invalid group_id %q", info.GroupInfo.GroupID)
		}
		return Destination{GroupID: onebot.ID(id)}, nil
	}
	if info.UserInfo != nil && info.UserInfo.UserID != "" {
		id, ok := info.UserInfo.UserID.Int64()
		if !ok {
			return Destination{}, fmt.Errorf("invalid user_id %q", info.UserInfo.UserID)
		}
		return Destination{UserID: onebot.ID(id)}, nil
	}
	return Destination{}, errors.New("envelope has neither group_info nor user_info")
}

// CallerSource 提供当前可用的网关调用器
type CallerSource interface {
	ActiveCaller() (onebot.API, bool)
}

// SenderConfig 出站投递配置
type SenderConfig struct {
	// Rate 每秒最多发送的消息数，0 表示不限
	Rate  float64
	Burst int
}

// Sender 出站队列的消费者
type Sender struct {
	bus      *bus.MessageBus
	outbound *transcode.Outbound
	callers  CallerSource
	limiter  *rate.Limiter
	log      *zap.Logger
}

// NewSender 创建出站投递器
func NewSender(cfg SenderConfig, messageBus *bus.MessageBus, outbound *transcode.Outbound, callers CallerSource) *Sender {
	limit := rate.Inf
	if cfg.Rate > 0 {
		limit = rate.Limit(cfg.Rate)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &Sender{
		bus:      messageBus,
		outbound: outbound,
		callers:  callers,
		limiter:  rate.NewLimiter(limit, cfg.Burst),
		log:      logger.L().Named("sender"),
	}
}

// Run 消费出站队列直到 ctx 结束或队列关闭
func (s *Sender) Run(ctx context.Context) error {
	for {
		msg, err := s.bus.ConsumeOutbound(ctx)
		if err != nil {
			if errors.Is(err, bus.ErrBusClosed) || ctx.Err() != nil {
				return nil
			}
			s.log.Error("Failed to consume outbound message", zap.Error(err))
			continue
		}

		dest, err := DestinationOf(msg.Envelope)
		if err != nil {
			metrics.EnvelopesTotal.WithLabelValues("outbound", "invalid").Inc()
			s.log.Error("Cannot route outbound envelope", zap.String("id", msg.ID), zap.Error(err))
			continue
		}
		if err := s.Deliver(ctx, msg.Envelope.MessageSegment, dest); err != nil {
			metrics.EnvelopesTotal.WithLabelValues("outbound", "failed").Inc()
			s.log.Error("Failed to deliver message",
				zap.String("id", msg.ID),
				zap.Int64("group_id", int64(dest.GroupID)),
				zap.Int64("user_id", int64(dest.UserID)),
				zap.Error(err))
			continue
		}
		metrics.EnvelopesTotal.WithLabelValues("outbound", "delivered").Inc()
	}
}

// Deliver 展平消息段树并通过网关发送一次，不重试
func (s *Sender) Deliver(ctx context.Context, tree message.Seg, dest Destination) error {
	elems := s.outbound.Flatten(tree)
	if len(elems) == 0 {
		s.log.Warn("Nothing to send after flattening", zap.String("text", message.PlainText(tree)))
		return nil
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	api, ok := s.callers.ActiveCaller()
	if !ok {
		return &types.ConnectionLostError{Peer: "gateway", Err: errors.New("no gateway connection")}
	}

	start := time.Now()
	var (
		resp   *onebot.Response
		err    error
		action string
	)
	if dest.IsGroup() {
		action = onebot.ActionSendGroupMsg
		resp, err = api.SendGroupMsg(ctx, dest.GroupID, elems)
	} else {
		action = onebot.ActionSendPrivateMsg
		resp, err = api.SendPrivateMsg(ctx, dest.UserID, elems)
	}
	if err != nil {
		return err
	}
	if !resp.OK() {
		failure := &types.ActionFailureError{
			Action:  action,
			Status:  resp.Status,
			RetCode: resp.RetCode,
			Message: resp.Wording,
		}
		if failure.Message == "" {
			failure.Message = resp.Message
		}
		s.log.Warn("Gateway rejected message", zap.Error(failure))
		return failure
	}

	s.log.Info("Message sent",
		zap.String("action", action),
		zap.Int("segments", len(elems)),
		zap.Duration("took", time.Since(start)))
	return nil
}
