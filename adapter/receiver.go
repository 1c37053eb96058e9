// Package adapter 把网关事件转换为信封交给核心，并把核心的回复投递回网关
package adapter

import (
	"context"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/smallnest/napcatbridge/bus"
	"github.com/smallnest/napcatbridge/internal/logger"
	"github.com/smallnest/napcatbridge/message"
	"github.com/smallnest/napcatbridge/metrics"
	"github.com/smallnest/napcatbridge/onebot"
	"github.com/smallnest/napcatbridge/transcode"
	"go.uber.org/zap"
)

const (
	defaultNickname = "QQ用户"
	pokeSuffix      = "（这是一个类似摸摸头的友善行为，不是恶意行为，请不要作出攻击发言）"
)

// Submitter 信封的接收方
type Submitter interface {
	Submit(ctx context.Context, env *message.Envelope) error
}

// ReceiverConfig 入站消费者配置
type ReceiverConfig struct {
	Platform       string
	GroupCacheSize int
	GroupCacheTTL  time.Duration
	SubmitTimeout  time.Duration
}

type cachedGroup struct {
	name     string
	cachedAt time.Time
}

// Receiver 入站队列的唯一消费者，按接收顺序逐个处理事件
type Receiver struct {
	cfg       ReceiverConfig
	bus       *bus.MessageBus
	inbound   *transcode.Inbound
	submitter Submitter
	groups    *lru.Cache
	now       func() time.Time
	log       *zap.Logger
}

// NewReceiver 创建入站消费者
func NewReceiver(cfg ReceiverConfig, messageBus *bus.MessageBus, inbound *transcode.Inbound, submitter Submitter) (*Receiver, error) {
	if cfg.Platform == "" {
		cfg.Platform = "qq"
	}
	if cfg.GroupCacheSize <= 0 {
		cfg.GroupCacheSize = 256
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = 30 * time.Second
	}
	groups, err := lru.New(cfg.GroupCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create group cache: %w", err)
	}
	return &Receiver{
		cfg:       cfg,
		bus:       messageBus,
		inbound:   inbound,
		submitter: submitter,
		groups:    groups,
		now:       time.Now,
		log:       logger.L().Named("receiver"),
	}, nil
}

// Run 消费入站队列直到 ctx 结束或队列关闭
func (r *Receiver) Run(ctx context.Context) error {
	for {
		ev, err := r.bus.ConsumeInbound(ctx)
		if err != nil {
			if errors.Is(err, bus.ErrBusClosed) || ctx.Err() != nil {
				return nil
			}
			r.log.Error("Failed to consume inbound event", zap.Error(err))
			continue
		}
		r.Handle(ctx, ev)
	}
}

// Handle 处理一个入站事件
func (r *Receiver) Handle(ctx context.Context, in *bus.InboundEvent) {
	if in == nil || in.Event == nil {
		return
	}

	var (
		env *message.Envelope
		ok  bool
	)
	switch in.PostType() {
	case onebot.PostTypeMessage:
		env, ok = r.fromMessage(ctx, in)
	case onebot.PostTypeNotice:
		env, ok = r.fromNotice(ctx, in)
	default:
		r.log.Debug("Ignoring event", zap.String("post_type", in.PostType()))
		return
	}
	if !ok {
		metrics.EnvelopesTotal.WithLabelValues("inbound", "skipped").Inc()
		return
	}

	submitCtx, cancel := context.WithTimeout(ctx, r.cfg.SubmitTimeout)
	defer cancel()
	if err := r.submitter.Submit(submitCtx, env); err != nil {
		metrics.EnvelopesTotal.WithLabelValues("inbound", "failed").Inc()
		r.log.Error("Failed to submit envelope",
			zap.String("message_id", env.MessageInfo.MessageID.String()),
			zap.Error(err))
		return
	}
	metrics.EnvelopesTotal.WithLabelValues("inbound", "submitted").Inc()
	r.log.Info("Envelope submitted",
		zap.String("message_id", env.MessageInfo.MessageID.String()),
		zap.String("text", message.PlainText(env.MessageSegment)))
}

// fromMessage 私聊只接受好友消息，群聊只接受普通消息
func (r *Receiver) fromMessage(ctx context.Context, in *bus.InboundEvent) (*message.Envelope, bool) {
	ev := in.Event
	info := message.BaseMessageInfo{
		Platform:   r.cfg.Platform,
		MessageID:  message.FlexIDFromInt(int64(ev.MessageID)),
		Time:       message.Timestamp(r.now()),
		FormatInfo: message.DefaultFormatInfo(),
		UserInfo: &message.UserInfo{
			Platform:     r.cfg.Platform,
			UserID:       message.FlexIDFromInt(int64(ev.Sender.UserID)),
			UserNickname: ev.Sender.Nickname,
			UserCardname: ev.Sender.Card,
		},
	}
	if ev.Sender.UserID == 0 {
		info.UserInfo.UserID = message.FlexIDFromInt(int64(ev.UserID))
	}

	switch ev.MessageType {
	case onebot.MessageTypePrivate:
		if ev.SubType != onebot.SubTypeFriend {
			r.log.Warn("Unsupported private message", zap.String("sub_type", ev.SubType))
			return nil, false
		}
		if info.UserInfo.UserNickname == "" {
			info.UserInfo.UserNickname = r.strangerName(ctx, in.API, ev.UserID)
		}
	case onebot.MessageTypeGroup:
		if ev.SubType != onebot.SubTypeNormal {
			r.log.Warn("Unsupported group message", zap.String("sub_type", ev.SubType))
			return nil, false
		}
		info.GroupInfo = &message.GroupInfo{
			Platform:  r.cfg.Platform,
			GroupID:   message.FlexIDFromInt(int64(ev.GroupID)),
			GroupName: r.groupName(ctx, in.API, ev.GroupID),
		}
	default:
		r.log.Warn("Unsupported message type", zap.String("message_type", ev.MessageType))
		return nil, false
	}

	if len(ev.Message) == 0 {
		r.log.Warn("Empty message", zap.Stringer("message_id", ev.MessageID))
		return nil, false
	}
	segs := r.inbound.Transcode(ctx, ev.Message, transcode.Context{
		API:     in.API,
		SelfID:  ev.SelfID,
		GroupID: ev.GroupID,
	})
	if len(segs) == 0 {
		r.log.Warn("Message has no usable segment", zap.Stringer("message_id", ev.MessageID))
		return nil, false
	}

	return &message.Envelope{
		MessageInfo:    info,
		MessageSegment: message.List(segs...),
		RawMessage:     ev.RawMessage,
	}, true
}

// groupName 带 TTL 的群名缓存，查询失败返回空串
func (r *Receiver) groupName(ctx context.Context, api onebot.API, groupID onebot.ID) string {
	if v, ok := r.groups.Get(groupID); ok {
		c := v.(cachedGroup)
		if r.cfg.GroupCacheTTL <= 0 || r.now().Sub(c.cachedAt) < r.cfg.GroupCacheTTL {
			return c.name
		}
		r.groups.Remove(groupID)
	}
	if api == nil {
		return ""
	}

	info, err := api.GetGroupInfo(ctx, groupID)
	if err != nil {
		r.log.Warn("Failed to fetch group info", zap.Stringer("group_id", groupID), zap.Error(err))
		return ""
	}
	r.groups.Add(groupID, cachedGroup{name: info.GroupName, cachedAt: r.now()})
	return info.GroupName
}

func (r *Receiver) strangerName(ctx context.Context, api onebot.API, userID onebot.ID) string {
	if api == nil {
		return defaultNickname
	}
	info, err := api.GetStrangerInfo(ctx, userID)
	if err != nil || info.Nickname == "" {
		r.log.Warn("Failed to fetch sender nickname", zap.Stringer("user_id", userID), zap.Error(err))
		return defaultNickname
	}
	return info.Nickname
}
