package transcode

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/smallnest/napcatbridge/message"
	"github.com/smallnest/napcatbridge/onebot"
	"go.uber.org/zap"
)

// MaxForwardDepth 合并转发最多展开的嵌套层数
const MaxForwardDepth = 3

// ExpandForward 展开一条合并转发并对整棵树统一应用图片策略
func (t *Inbound) ExpandForward(ctx context.Context, nodes []onebot.ForwardNode, c Context) (message.Seg, bool) {
	tree := t.expandNodes(ctx, nodes, c, 0)
	if len(tree.Children) == 0 {
		return message.Seg{}, false
	}
	return t.applyImagePolicy(ctx, tree), true
}

func (t *Inbound) expandNodes(ctx context.Context, nodes []onebot.ForwardNode, c Context, depth int) message.Seg {
	dash := strings.Repeat("--", depth)
	children := make([]message.Seg, 0, len(nodes))

	for _, node := range nodes {
		nick := node.Sender.Nickname
		if nick == "" {
			nick = defaultNickname
		}
		elems := node.Elements()

		if fwd, ok := firstForward(elems); ok {
			if depth >= MaxForwardDepth {
				children = append(children, message.Text(dash+"【"+nick+"】:【转发消息】\n"))
				continue
			}
			inner := t.nestedNodes(ctx, fwd, c)
			head := message.Text(dash + "【" + nick + "】: 合并转发消息内容：\n")
			children = append(children, message.List(head, t.expandNodes(ctx, inner, c, depth+1)))
			continue
		}

		parts := []message.Seg{message.Text(dash + "【" + nick + "】:")}
		for _, el := range elems {
			switch el.Type {
			case "text":
				parts = append(parts, message.Text(el.Str("text")))
			case "image":
				// 先保存 URL，是否下载由图片策略决定
				if isEmoji(el) {
					parts = append(parts, message.Emoji(el.Str("url")))
				} else {
					parts = append(parts, message.Image(el.Str("url")))
				}
			case "at":
				name := el.Str("name")
				if name == "" {
					name = el.Str("qq")
				}
				parts = append(parts, message.Text("@"+name))
			}
		}
		if len(parts) == 1 {
			continue
		}
		parts = append(parts, message.Text("\n"))
		children = append(children, message.List(parts...))
	}
	return message.List(children...)
}

// nestedNodes 嵌套转发优先使用内联的 content，缺失时按 id 再请求一次
func (t *Inbound) nestedNodes(ctx context.Context, fwd onebot.Element, c Context) []onebot.ForwardNode {
	var nodes []onebot.ForwardNode
	if raw := fwd.Get("content"); raw.IsArray() {
		if err := json.Unmarshal([]byte(raw.Raw), &nodes); err != nil {
			t.log.Warn("Invalid nested forward content", zap.Error(err))
		}
	}
	if len(nodes) > 0 || c.API == nil {
		return nodes
	}
	id := fwd.Str("id")
	if id == "" {
		return nil
	}
	fetched, err := c.API.GetForwardMessage(ctx, id)
	if err != nil {
		t.log.Warn("Failed to fetch nested forward message", zap.String("id", id), zap.Error(err))
		return nil
	}
	return fetched
}

func firstForward(elems onebot.Elements) (onebot.Element, bool) {
	for _, el := range elems {
		if el.Type == "forward" {
			return el, true
		}
	}
	return onebot.Element{}, false
}

// applyImagePolicy 按整棵树的图片数量决定：0 不变，少于上限下载为 base64，否则全部占位
func (t *Inbound) applyImagePolicy(ctx context.Context, tree message.Seg) message.Seg {
	count := message.CountImages(tree)
	switch {
	case count == 0:
		return tree
	case count < t.imageLimit:
		return message.Map(tree, func(s message.Seg) message.Seg {
			if !s.IsImage() {
				return s
			}
			b64, err := t.images.FetchBase64(ctx, s.Data)
			if err != nil {
				t.log.Error("Forward image fetch failed", zap.String("url", s.Data), zap.Error(err))
				if s.Type == message.TypeEmoji {
					return message.Text(placeholderEmoji)
				}
				return message.Text(placeholderImage)
			}
			return message.Seg{Type: s.Type, Data: b64}
		})
	default:
		return message.Map(tree, func(s message.Seg) message.Seg {
			switch s.Type {
			case message.TypeImage:
				return message.Text(placeholderForwardImage)
			case message.TypeEmoji:
				return message.Text(placeholderForwardEmoji)
			}
			return s
		})
	}
}
