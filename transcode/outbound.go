package transcode

import (
	"github.com/smallnest/napcatbridge/message"
	"github.com/smallnest/napcatbridge/onebot"
	"github.com/smallnest/napcatbridge/types"
	"go.uber.org/zap"
)

// Outbound 出站消息转换器
type Outbound struct {
	log *zap.Logger
}

// NewOutbound 创建出站转换器
func NewOutbound(log *zap.Logger) *Outbound {
	if log == nil {
		log = zap.NewNop()
	}
	return &Outbound{log: log}
}

// Flatten 把消息段树展平为网关消息数组，reply 总是排在第一位
func (o *Outbound) Flatten(tree message.Seg) []onebot.Element {
	var (
		reply *onebot.Element
		body  []onebot.Element
	)

	var walk func(s message.Seg)
	walk = func(s message.Seg) {
		switch s.Type {
		case message.TypeSeglist:
			for _, c := range s.Children {
				walk(c)
			}
		case message.TypeText:
			if s.Data == "" {
				return
			}
			body = append(body, onebot.NewElement("text", map[string]interface{}{"text": s.Data}))
		case message.TypeImage:
			body = append(body, onebot.NewElement("image", map[string]interface{}{
				"file":    "base64://" + s.Data,
				"subtype": 0,
			}))
		case message.TypeEmoji:
			data, err := ToGIF(s.Data)
			if err != nil {
				o.log.Warn("Emoji GIF conversion failed, sending original", zap.Error(err))
			}
			body = append(body, onebot.NewElement("image", map[string]interface{}{
				"file":    "base64://" + data,
				"subtype": 1,
				"summary": "[动画表情]",
			}))
		case message.TypeAt:
			body = append(body, onebot.NewElement("at", map[string]interface{}{"qq": s.Data}))
		case message.TypeReply:
			if s.Data == "" || s.Data == message.NoticeMessageID {
				return
			}
			if reply != nil {
				o.log.Warn("Dropping extra reply segment", zap.String("id", s.Data))
				return
			}
			el := onebot.NewElement("reply", map[string]interface{}{"id": s.Data})
			reply = &el
		case message.TypeFace:
			o.log.Debug("Dropping face segment")
		default:
			o.log.Warn("Skipping outbound segment",
				zap.Error(&types.UnsupportedSegmentError{Type: s.Type}))
		}
	}
	walk(tree)

	if reply == nil {
		return body
	}
	return append([]onebot.Element{*reply}, body...)
}
