package onebot

import (
	"context"
)

// 网关动作
const (
	ActionGetLoginInfo       = "get_login_info"
	ActionGetGroupInfo       = "get_group_info"
	ActionGetGroupMemberInfo = "get_group_member_info"
	ActionGetStrangerInfo    = "get_stranger_info"
	ActionGetMsg             = "get_msg"
	ActionGetForwardMsg      = "get_forward_msg"
	ActionSendGroupMsg       = "send_group_msg"
	ActionSendPrivateMsg     = "send_private_msg"
)

// API 适配器用到的网关动作
type API interface {
	GetLoginInfo(ctx context.Context) (*LoginInfo, error)
	GetGroupInfo(ctx context.Context, groupID ID) (*GroupInfo, error)
	GetGroupMemberInfo(ctx context.Context, groupID, userID ID) (*MemberInfo, error)
	GetStrangerInfo(ctx context.Context, userID ID) (*StrangerInfo, error)
	GetMessage(ctx context.Context, messageID string) (*MessageDetail, error)
	GetForwardMessage(ctx context.Context, id string) ([]ForwardNode, error)
	SendGroupMsg(ctx context.Context, groupID ID, msg []Element) (*Response, error)
	SendPrivateMsg(ctx context.Context, userID ID, msg []Element) (*Response, error)
}

var _ API = (*Caller)(nil)

// LoginInfo 机器人自身信息
type LoginInfo struct {
	UserID   ID     `json:"user_id"`
	Nickname string `json:"nickname"`
}

// GroupInfo 群信息
type GroupInfo struct {
	GroupID     ID     `json:"group_id"`
	GroupName   string `json:"group_name"`
	MemberCount int    `json:"member_count"`
}

// MemberInfo 群成员信息
type MemberInfo struct {
	GroupID  ID     `json:"group_id"`
	UserID   ID     `json:"user_id"`
	Nickname string `json:"nickname"`
	Card     string `json:"card"`
	Role     string `json:"role"`
}

// DisplayName 群名片优先
func (m *MemberInfo) DisplayName() string {
	if m.Card != "" {
		return m.Card
	}
	return m.Nickname
}

// StrangerInfo 陌生人信息
type StrangerInfo struct {
	UserID   ID     `json:"user_id"`
	Nickname string `json:"nickname"`
}

// MessageDetail get_msg 返回的消息
type MessageDetail struct {
	MessageID   ID       `json:"message_id"`
	MessageType string   `json:"message_type"`
	Time        int64    `json:"time"`
	Sender      Sender   `json:"sender"`
	Message     Elements `json:"message"`
	RawMessage  string   `json:"raw_message"`
}

// ForwardNode 转发消息中的一个节点
type ForwardNode struct {
	Sender  Sender   `json:"sender"`
	Message Elements `json:"message"`
	Content Elements `json:"content"`
}

// Elements 节点内容，兼容 message 和 content 两种字段
func (n *ForwardNode) Elements() Elements {
	if len(n.Message) > 0 {
		return n.Message
	}
	return n.Content
}

// SendResult 发送结果
type SendResult struct {
	MessageID ID `json:"message_id"`
}

// GetLoginInfo 获取机器人自身信息
func (c *Caller) GetLoginInfo(ctx context.Context) (*LoginInfo, error) {
	var out LoginInfo
	if err := c.Do(ctx, ActionGetLoginInfo, map[string]interface{}{}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetGroupInfo 获取群信息
func (c *Caller) GetGroupInfo(ctx context.Context, groupID ID) (*GroupInfo, error) {
	var out GroupInfo
	params := map[string]interface{}{"group_id": int64(groupID)}
	if err := c.Do(ctx, ActionGetGroupInfo, params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetGroupMemberInfo 获取群成员信息
func (c *Caller) GetGroupMemberInfo(ctx context.Context, groupID, userID ID) (*MemberInfo, error) {
	var out MemberInfo
	params := map[string]interface{}{
		"group_id": int64(groupID),
		"user_id":  int64(userID),
		"no_cache": true,
	}
	if err := c.Do(ctx, ActionGetGroupMemberInfo, params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetStrangerInfo 获取陌生人信息
func (c *Caller) GetStrangerInfo(ctx context.Context, userID ID) (*StrangerInfo, error) {
	var out StrangerInfo
	params := map[string]interface{}{"user_id": int64(userID)}
	if err := c.Do(ctx, ActionGetStrangerInfo, params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetMessage 获取单条消息
func (c *Caller) GetMessage(ctx context.Context, messageID string) (*MessageDetail, error) {
	var out MessageDetail
	params := map[string]interface{}{"message_id": messageID}
	if err := c.Do(ctx, ActionGetMsg, params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetForwardMessage 获取合并转发的节点列表
func (c *Caller) GetForwardMessage(ctx context.Context, id string) ([]ForwardNode, error) {
	var out struct {
		Messages []ForwardNode `json:"messages"`
	}
	params := map[string]interface{}{"message_id": id, "id": id}
	if err := c.Do(ctx, ActionGetForwardMsg, params, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

// SendGroupMsg 发送群消息
func (c *Caller) SendGroupMsg(ctx context.Context, groupID ID, msg []Element) (*Response, error) {
	params := map[string]interface{}{
		"group_id": int64(groupID),
		"message":  msg,
	}
	return c.Call(ctx, ActionSendGroupMsg, params)
}

// SendPrivateMsg 发送私聊消息
func (c *Caller) SendPrivateMsg(ctx context.Context, userID ID, msg []Element) (*Response, error) {
	params := map[string]interface{}{
		"user_id": int64(userID),
		"message": msg,
	}
	return c.Call(ctx, ActionSendPrivateMsg, params)
}
