// Package transcode 在 OneBot 消息数组和内部消息段树之间转换
package transcode

import (
	"context"
	"fmt"
	"strconv"

	"github.com/smallnest/napcatbridge/message"
	"github.com/smallnest/napcatbridge/onebot"
	"github.com/smallnest/napcatbridge/types"
	"go.uber.org/zap"
)

// 占位文本
const (
	placeholderImage        = "[图片]"
	placeholderEmoji        = "[表情包]"
	placeholderForwardImage = "【图片】"
	placeholderForwardEmoji = "【动画表情】"
	defaultNickname         = "QQ用户"
)

// DefaultForwardImageLimit 合并转发中达到该数量的图片时全部替换为占位符
const DefaultForwardImageLimit = 5

// Context 单次转换的上下文
type Context struct {
	API     onebot.API
	SelfID  onebot.ID
	GroupID onebot.ID
	// InReply 正在展开被引用的消息，此时不再展开 reply
	InReply bool
}

// Inbound 入站消息转换器
type Inbound struct {
	images     ImageFetcher
	imageLimit int
	log        *zap.Logger
}

// NewInbound 创建入站转换器
func NewInbound(images ImageFetcher, forwardImageLimit int, log *zap.Logger) *Inbound {
	if forwardImageLimit <= 0 {
		forwardImageLimit = DefaultForwardImageLimit
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Inbound{
		images:     images,
		imageLimit: forwardImageLimit,
		log:        log,
	}
}

// Transcode 把消息数组转换为消息段列表，单个元素失败不影响其余元素
func (t *Inbound) Transcode(ctx context.Context, elems onebot.Elements, c Context) []message.Seg {
	out := make([]message.Seg, 0, len(elems))
	for _, el := range elems {
		switch el.Type {
		case "text":
			out = append(out, message.Text(el.Str("text")))
		case "image":
			out = append(out, t.image(ctx, el))
		case "at":
			if seg, ok := t.at(ctx, el, c); ok {
				out = append(out, seg)
			}
		case "reply":
			if c.InReply {
				continue
			}
			out = append(out, t.reply(ctx, el, c)...)
		case "forward":
			if seg, ok := t.forward(ctx, el, c); ok {
				out = append(out, seg)
			}
		default:
			t.log.Warn("Skipping segment",
				zap.Error(&types.UnsupportedSegmentError{Type: el.Type}))
		}
	}
	return out
}

// isEmoji sub_type 非 0 为表情包
func isEmoji(el onebot.Element) bool {
	return el.Get("sub_type").Int() != 0
}

func (t *Inbound) image(ctx context.Context, el onebot.Element) message.Seg {
	emoji := isEmoji(el)
	b64, err := t.images.FetchBase64(ctx, el.Str("url"))
	if err != nil {
		t.log.Error("Image fetch failed", zap.String("url", el.Str("url")), zap.Error(err))
		if emoji {
			return message.Text(placeholderEmoji)
		}
		return message.Text(placeholderImage)
	}
	if emoji {
		return message.Emoji(b64)
	}
	return message.Image(b64)
}

func (t *Inbound) at(ctx context.Context, el onebot.Element, c Context) (message.Seg, bool) {
	qq := el.Str("qq")
	if qq == "all" {
		return message.Text("@全体成员"), true
	}
	target, err := strconv.ParseInt(qq, 10, 64)
	if err != nil {
		t.log.Warn("Invalid mention target", zap.String("qq", qq))
		return message.Seg{}, false
	}

	if onebot.ID(target) == c.SelfID {
		self, err := c.API.GetLoginInfo(ctx)
		if err != nil {
			t.log.Warn("Failed to resolve self mention", zap.Error(err))
			return message.Seg{}, false
		}
		return message.Text(fmt.Sprintf("@%s(%s)", self.Nickname, self.UserID)), true
	}

	if c.GroupID == 0 {
		return message.Seg{}, false
	}
	member, err := c.API.GetGroupMemberInfo(ctx, c.GroupID, onebot.ID(target))
	if err != nil {
		t.log.Warn("Failed to resolve mention",
			zap.Int64("group_id", int64(c.GroupID)),
			zap.Int64("user_id", target),
			zap.Error(err))
		return message.Seg{}, false
	}
	return message.Text(fmt.Sprintf("@%s(%s)", member.DisplayName(), member.UserID)), true
}

func (t *Inbound) reply(ctx context.Context, el onebot.Element, c Context) []message.Seg {
	id := el.Str("id")
	detail, err := c.API.GetMessage(ctx, id)
	if err != nil {
		t.log.Warn("Failed to fetch quoted message", zap.String("message_id", id), zap.Error(err))
		return nil
	}

	inner := c
	inner.InReply = true
	quoted := t.Transcode(ctx, detail.Message, inner)

	head := "[回复 QQ用户(未知id)："
	if detail.Sender.Nickname != "" {
		head = fmt.Sprintf("[回复 %s(%s)：", detail.Sender.Nickname, detail.Sender.UserID)
	}
	segs := make([]message.Seg, 0, len(quoted)+2)
	segs = append(segs, message.Text(head))
	segs = append(segs, quoted...)
	segs = append(segs, message.Text("]，说："))
	return segs
}

func (t *Inbound) forward(ctx context.Context, el onebot.Element, c Context) (message.Seg, bool) {
	id := el.Str("id")
	nodes, err := c.API.GetForwardMessage(ctx, id)
	if err != nil {
		t.log.Error("Failed to fetch forward message", zap.String("id", id), zap.Error(err))
		return message.Seg{}, false
	}
	seg, ok := t.ExpandForward(ctx, nodes, c)
	if !ok {
		t.log.Warn("Forward message is empty", zap.String("id", id))
	}
	return seg, ok
}
