// Package message 定义交给核心的消息段树和消息信封
package message

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// 消息段类型
const (
	TypeText    = "text"
	TypeImage   = "image"
	TypeEmoji   = "emoji"
	TypeAt      = "at"
	TypeReply   = "reply"
	TypeFace    = "face"
	TypeSeglist = "seglist"
)

// Seg 消息段，seglist 只携带 Children，其余类型只携带 Data
type Seg struct {
	Type     string
	Data     string
	Children []Seg
}

// Text 文本段
func Text(s string) Seg { return Seg{Type: TypeText, Data: s} }

// Image 图片段，data 为 base64
func Image(b64 string) Seg { return Seg{Type: TypeImage, Data: b64} }

// Emoji 表情包段，data 为 base64
func Emoji(b64 string) Seg { return Seg{Type: TypeEmoji, Data: b64} }

// At 提及段
func At(id string) Seg { return Seg{Type: TypeAt, Data: id} }

// Reply 回复段，data 为被回复的消息 ID
func Reply(messageID string) Seg { return Seg{Type: TypeReply, Data: messageID} }

// List 组合段
func List(children ...Seg) Seg {
	if children == nil {
		children = []Seg{}
	}
	return Seg{Type: TypeSeglist, Children: children}
}

// IsList 是否为组合段
func (s Seg) IsList() bool { return s.Type == TypeSeglist }

// IsImage 是否为图片或表情包
func (s Seg) IsImage() bool { return s.Type == TypeImage || s.Type == TypeEmoji }

type wireSeg struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// MarshalJSON 输出 {"type":..., "data":...}，seglist 的 data 为数组
func (s Seg) MarshalJSON() ([]byte, error) {
	var data []byte
	var err error
	if s.IsList() {
		children := s.Children
		if children == nil {
			children = []Seg{}
		}
		data, err = json.Marshal(children)
	} else {
		data, err = json.Marshal(s.Data)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireSeg{Type: s.Type, Data: data})
}

// UnmarshalJSON 解析消息段
func (s *Seg) UnmarshalJSON(b []byte) error {
	var w wireSeg
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	if w.Type == "" {
		return fmt.Errorf("segment type is empty")
	}
	s.Type = w.Type
	s.Data = ""
	s.Children = nil

	raw := bytes.TrimSpace(w.Data)
	if w.Type == TypeSeglist {
		if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
			s.Children = []Seg{}
			return nil
		}
		var children []Seg
		if err := json.Unmarshal(raw, &children); err != nil {
			return fmt.Errorf("seglist data: %w", err)
		}
		s.Children = children
		return nil
	}

	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	if raw[0] == '"' {
		return json.Unmarshal(raw, &s.Data)
	}
	// 数字等标量按原文保存
	s.Data = string(raw)
	return nil
}

// Walk 先序遍历，fn 返回 false 时不再深入该节点的子节点
func Walk(s Seg, fn func(Seg) bool) {
	if !fn(s) {
		return
	}
	for _, c := range s.Children {
		Walk(c, fn)
	}
}

// Map 返回一棵新树，叶子节点经过 fn 变换，原树不变
func Map(s Seg, fn func(Seg) Seg) Seg {
	if !s.IsList() {
		return fn(s)
	}
	children := make([]Seg, 0, len(s.Children))
	for _, c := range s.Children {
		children = append(children, Map(c, fn))
	}
	return Seg{Type: TypeSeglist, Children: children}
}

// CountImages 统计图片和表情包叶子
func CountImages(s Seg) int {
	n := 0
	Walk(s, func(c Seg) bool {
		if c.IsImage() {
			n++
		}
		return true
	})
	return n
}

// PlainText 拼接所有文本叶子，用于日志
func PlainText(s Seg) string {
	var buf bytes.Buffer
	Walk(s, func(c Seg) bool {
		switch c.Type {
		case TypeText:
			buf.WriteString(c.Data)
		case TypeImage:
			buf.WriteString("[图片]")
		case TypeEmoji:
			buf.WriteString("[表情包]")
		}
		return true
	})
	return buf.String()
}
