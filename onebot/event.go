// Package onebot 是 OneBot v11 网关帧的强类型模型
package onebot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// 事件类别
const (
	PostTypeMessage   = "message"
	PostTypeMetaEvent = "meta_event"
	PostTypeNotice    = "notice"
)

// 消息类别与子类别
const (
	MessageTypePrivate = "private"
	MessageTypeGroup   = "group"

	SubTypeFriend = "friend"
	SubTypeNormal = "normal"
)

// 元事件
const (
	MetaLifecycle = "lifecycle"
	MetaHeartbeat = "heartbeat"

	LifecycleConnect = "connect"
)

// 通知
const (
	NoticeFriendRecall = "friend_recall"
	NoticeGroupRecall  = "group_recall"
	NoticeNotify       = "notify"

	NotifyPoke = "poke"
)

// ID 兼容数字和数字字符串的 QQ 号/群号/消息 ID
type ID int64

// UnmarshalJSON 实现 json.Unmarshaler
func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*id = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*id = 0
			return nil
		}
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("cannot parse id %q: %w", s, err)
		}
		*id = ID(v)
		return nil
	}
	var v int64
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("cannot parse id %s: %w", b, err)
	}
	*id = ID(v)
	return nil
}

// String 实现 fmt.Stringer
func (id ID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// Element 消息数组中的一个元素
type Element struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// NewElement 构造元素
func NewElement(typ string, data map[string]interface{}) Element {
	raw, err := json.Marshal(data)
	if err != nil || data == nil {
		raw = []byte("{}")
	}
	return Element{Type: typ, Data: raw}
}

// Get 读取 data 中的字段
func (e Element) Get(key string) gjson.Result {
	return gjson.GetBytes(e.Data, key)
}

// Str 读取字符串字段，数字会被格式化为字符串
func (e Element) Str(key string) string {
	return e.Get(key).String()
}

// Elements 消息数组，字符串形式的消息被视为单个文本元素
type Elements []Element

// UnmarshalJSON 实现 json.Unmarshaler
func (es *Elements) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*es = nil
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*es = Elements{NewElement("text", map[string]interface{}{"text": s})}
		return nil
	}
	var list []Element
	if err := json.Unmarshal(b, &list); err != nil {
		return err
	}
	*es = list
	return nil
}

// Sender 消息发送者
type Sender struct {
	UserID   ID     `json:"user_id"`
	Nickname string `json:"nickname"`
	Card     string `json:"card"`
	Role     string `json:"role"`
}

// Status 心跳中的机器人状态，兼容对象和字符串两种形式
type Status struct {
	Online bool
	Good   bool
	Text   string
}

// UnmarshalJSON 实现 json.Unmarshaler
func (s *Status) UnmarshalJSON(b []byte) error {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*s = Status{}
		return nil
	}
	if trimmed[0] == '"' {
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return err
		}
		*s = Status{Text: strings.TrimSpace(text)}
		return nil
	}
	var obj struct {
		Online bool `json:"online"`
		Good   bool `json:"good"`
	}
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return err
	}
	*s = Status{Online: obj.Online, Good: obj.Good}
	return nil
}

// Healthy 在线且状态良好
func (s *Status) Healthy() bool {
	return s != nil && s.Online && s.Good
}

// Event message / meta_event / notice 事件
type Event struct {
	PostType      string          `json:"post_type"`
	Time          int64           `json:"time"`
	SelfID        ID              `json:"self_id"`
	MessageType   string          `json:"message_type,omitempty"`
	SubType       string          `json:"sub_type,omitempty"`
	MessageID     ID              `json:"message_id,omitempty"`
	UserID        ID              `json:"user_id,omitempty"`
	GroupID       ID              `json:"group_id,omitempty"`
	Message       Elements        `json:"message,omitempty"`
	RawMessage    string          `json:"raw_message,omitempty"`
	Sender        Sender          `json:"sender"`
	MetaEventType string          `json:"meta_event_type,omitempty"`
	Status        *Status         `json:"status,omitempty"`
	Interval      int64           `json:"interval,omitempty"`
	NoticeType    string          `json:"notice_type,omitempty"`
	TargetID      ID              `json:"target_id,omitempty"`
	RawInfo       json.RawMessage `json:"raw_info,omitempty"`

	// Raw 原始帧
	Raw json.RawMessage `json:"-"`
}

// validate 检查各类别事件的必需字段
func (e *Event) validate() error {
	switch e.PostType {
	case PostTypeMessage:
		if e.MessageType == "" {
			return fmt.Errorf("message event without message_type")
		}
		if e.MessageType == MessageTypeGroup && e.GroupID == 0 {
			return fmt.Errorf("group message without group_id")
		}
	case PostTypeMetaEvent:
		if e.MetaEventType == "" {
			return fmt.Errorf("meta event without meta_event_type")
		}
	case PostTypeNotice:
		if e.NoticeType == "" {
			return fmt.Errorf("notice event without notice_type")
		}
	}
	return nil
}

// IsGroup 是否群消息
func (e *Event) IsGroup() bool {
	return e.MessageType == MessageTypeGroup
}

// RawInfoText 读取 raw_info[i].txt，戳一戳通知用它描述动作
func (e *Event) RawInfoText(i int, fallback string) string {
	if len(e.RawInfo) == 0 {
		return fallback
	}
	r := gjson.GetBytes(e.RawInfo, strconv.Itoa(i))
	if !r.Exists() {
		return fallback
	}
	if t := r.Get("txt"); t.Exists() {
		return t.String()
	}
	if t := r.Get("text"); t.Exists() {
		return t.String()
	}
	return fallback
}

// Response 动作响应
type Response struct {
	Status  string          `json:"status"`
	RetCode int             `json:"retcode"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
	Wording string          `json:"wording,omitempty"`
	Echo    string          `json:"echo"`
}

// UnmarshalJSON 兼容数字形式的 echo
func (r *Response) UnmarshalJSON(b []byte) error {
	type alias Response
	aux := struct {
		*alias
		Echo json.RawMessage `json:"echo"`
	}{alias: (*alias)(r)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	r.Echo = ""
	if len(aux.Echo) > 0 {
		r.Echo = gjson.ParseBytes(aux.Echo).String()
	}
	return nil
}

// OK 是否成功
func (r *Response) OK() bool {
	return r != nil && r.Status == "ok" && r.RetCode == 0
}

// Get 读取 data 中的字段
func (r *Response) Get(path string) gjson.Result {
	return gjson.GetBytes(r.Data, path)
}

// Decode 把 data 解析到 v
func (r *Response) Decode(v interface{}) error {
	if len(r.Data) == 0 || bytes.Equal(bytes.TrimSpace(r.Data), []byte("null")) {
		return fmt.Errorf("response %s has no data", r.Echo)
	}
	return json.Unmarshal(r.Data, v)
}

// Request 动作请求
type Request struct {
	Action string      `json:"action"`
	Params interface{} `json:"params"`
	Echo   string      `json:"echo"`
}
