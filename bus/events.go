package bus

import (
	"time"

	"github.com/smallnest/napcatbridge/message"
	"github.com/smallnest/napcatbridge/onebot"
)

// InboundEvent 入站事件（message / meta_event / notice）
type InboundEvent struct {
	ID         string        `json:"id"`
	ConnID     string        `json:"conn_id"` // 来源网关连接
	Event      *onebot.Event `json:"event"`
	API        onebot.API    `json:"-"` // 绑定到来源连接的动作调用器
	ReceivedAt time.Time     `json:"received_at"`
}

// PostType 返回事件类别
func (e *InboundEvent) PostType() string {
	if e.Event == nil {
		return ""
	}
	return e.Event.PostType
}

// OutboundMessage 核心发来的待投递消息
type OutboundMessage struct {
	ID        string            `json:"id"`
	Platform  string            `json:"platform"`
	Envelope  *message.Envelope `json:"envelope"`
	Timestamp time.Time         `json:"timestamp"`
}
