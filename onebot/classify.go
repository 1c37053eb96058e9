package onebot

import (
	"encoding/json"

	"github.com/smallnest/napcatbridge/types"
	"github.com/tidwall/gjson"
)

// FrameKind 帧类别
type FrameKind int

const (
	// KindUnknown 未知的 post_type
	KindUnknown FrameKind = iota
	// KindEvent message / meta_event / notice
	KindEvent
	// KindResponse 没有 post_type 的动作响应
	KindResponse
)

// String 实现 fmt.Stringer
func (k FrameKind) String() string {
	switch k {
	case KindEvent:
		return "event"
	case KindResponse:
		return "response"
	default:
		return "unknown"
	}
}

// Frame 分类后的帧
type Frame struct {
	Kind     FrameKind
	PostType string
	Event    *Event
	Response *Response
}

// Classify 解析一帧并按 post_type 分类
func Classify(payload []byte) (Frame, error) {
	if !gjson.ValidBytes(payload) {
		return Frame{}, &types.ProtocolDecodeError{Reason: "invalid json"}
	}
	root := gjson.ParseBytes(payload)
	if !root.IsObject() {
		return Frame{}, &types.ProtocolDecodeError{Reason: "frame is not an object"}
	}

	postType := root.Get("post_type")
	if !postType.Exists() {
		var resp Response
		if err := json.Unmarshal(payload, &resp); err != nil {
			return Frame{}, &types.ProtocolDecodeError{Reason: "bad response", Err: err}
		}
		if resp.Echo == "" {
			return Frame{}, &types.ProtocolDecodeError{Reason: "response without echo"}
		}
		return Frame{Kind: KindResponse, Response: &resp}, nil
	}

	pt := postType.String()
	switch pt {
	case PostTypeMessage, PostTypeMetaEvent, PostTypeNotice:
	default:
		return Frame{Kind: KindUnknown, PostType: pt}, nil
	}

	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return Frame{}, &types.ProtocolDecodeError{Reason: "bad " + pt + " event", Err: err}
	}
	if err := ev.validate(); err != nil {
		return Frame{}, &types.ProtocolDecodeError{Reason: err.Error()}
	}
	ev.Raw = append(json.RawMessage(nil), payload...)
	return Frame{Kind: KindEvent, PostType: pt, Event: &ev}, nil
}
