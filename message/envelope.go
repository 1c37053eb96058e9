package message

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// FlexID 既可能是数字也可能是字符串的 ID，纯数字时按数字输出
type FlexID string

// FlexIDFromInt 由整数构造
func FlexIDFromInt(v int64) FlexID {
	return FlexID(strconv.FormatInt(v, 10))
}

// Int64 尝试转换为整数
func (id FlexID) Int64() (int64, bool) {
	v, err := strconv.ParseInt(string(id), 10, 64)
	return v, err == nil
}

// String 实现 fmt.Stringer
func (id FlexID) String() string { return string(id) }

// MarshalJSON 实现 json.Marshaler
func (id FlexID) MarshalJSON() ([]byte, error) {
	if v, ok := id.Int64(); ok {
		return []byte(strconv.FormatInt(v, 10)), nil
	}
	return json.Marshal(string(id))
}

// UnmarshalJSON 实现 json.Unmarshaler
func (id *FlexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = FlexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("invalid id %s: %w", b, err)
	}
	*id = FlexID(n.String())
	return nil
}

// UserInfo 发送者信息
type UserInfo struct {
	Platform     string `json:"platform,omitempty"`
	UserID       FlexID `json:"user_id,omitempty"`
	UserNickname string `json:"user_nickname,omitempty"`
	UserCardname string `json:"user_cardname,omitempty"`
}

// GroupInfo 群信息
type GroupInfo struct {
	Platform  string `json:"platform,omitempty"`
	GroupID   FlexID `json:"group_id,omitempty"`
	GroupName string `json:"group_name,omitempty"`
}

// FormatInfo 内容格式声明
type FormatInfo struct {
	ContentFormat []string `json:"content_format,omitempty"`
	AcceptFormat  []string `json:"accept_format,omitempty"`
}

// TemplateInfo 模板信息
type TemplateInfo struct {
	TemplateItems   map[string]string `json:"template_items,omitempty"`
	TemplateName    string            `json:"template_name,omitempty"`
	TemplateDefault bool              `json:"template_default"`
}

// BaseMessageInfo 消息元信息
type BaseMessageInfo struct {
	Platform         string                 `json:"platform,omitempty"`
	MessageID        FlexID                 `json:"message_id,omitempty"`
	Time             float64                `json:"time,omitempty"`
	GroupInfo        *GroupInfo             `json:"group_info,omitempty"`
	UserInfo         *UserInfo              `json:"user_info,omitempty"`
	FormatInfo       *FormatInfo            `json:"format_info,omitempty"`
	TemplateInfo     *TemplateInfo          `json:"template_info,omitempty"`
	AdditionalConfig map[string]interface{} `json:"additional_config,omitempty"`
}

// Envelope 交给核心的消息单元，创建后不再修改
type Envelope struct {
	MessageInfo    BaseMessageInfo `json:"message_info"`
	MessageSegment Seg             `json:"message_segment"`
	RawMessage     string          `json:"raw_message,omitempty"`
}

// NoticeMessageID 通知类信封使用的固定消息 ID
const NoticeMessageID = "notice"

// DefaultFormatInfo 适配器声明的内容格式
func DefaultFormatInfo() *FormatInfo {
	return &FormatInfo{
		ContentFormat: []string{TypeText, TypeImage, TypeEmoji},
		AcceptFormat:  []string{TypeText, TypeImage, TypeEmoji, TypeReply},
	}
}

// Timestamp 以秒为单位的浮点时间
func Timestamp(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// Platform 信封所属平台
func (e *Envelope) Platform() string {
	return e.MessageInfo.Platform
}

// Validate 检查信封必需字段
func (e *Envelope) Validate() error {
	if e.MessageInfo.Platform == "" {
		return fmt.Errorf("envelope platform is empty")
	}
	if e.MessageSegment.Type == "" {
		return fmt.Errorf("envelope segment is empty")
	}
	return nil
}

// Decode 解析信封
func Decode(b []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("failed to decode envelope: %w", err)
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return &env, nil
}
