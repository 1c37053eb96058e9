package adapter

import (
	"context"
	"encoding/json"

	"github.com/smallnest/napcatbridge/bus"
	"github.com/smallnest/napcatbridge/message"
	"github.com/smallnest/napcatbridge/onebot"
	"go.uber.org/zap"
)

// fromNotice 只有戳一戳会生成信封，撤回只记录日志
func (r *Receiver) fromNotice(ctx context.Context, in *bus.InboundEvent) (*message.Envelope, bool) {
	ev := in.Event

	var seg message.Seg
	switch ev.NoticeType {
	case onebot.NoticeFriendRecall, onebot.NoticeGroupRecall:
		r.log.Info("Message recalled",
			zap.String("notice_type", ev.NoticeType),
			zap.Stringer("message_id", ev.MessageID),
			zap.Int64("time", ev.Time))
		return nil, false
	case onebot.NoticeNotify:
		if ev.SubType != onebot.NotifyPoke {
			r.log.Warn("Unsupported notify", zap.String("sub_type", ev.SubType))
			return nil, false
		}
		seg = message.Text(r.pokeText(ctx, in))
	default:
		r.log.Warn("Unsupported notice", zap.String("notice_type", ev.NoticeType))
		return nil, false
	}

	user := &message.UserInfo{
		Platform: r.cfg.Platform,
		UserID:   message.FlexIDFromInt(int64(ev.UserID)),
	}
	if ev.GroupID != 0 {
		user.UserNickname, user.UserCardname = r.memberName(ctx, in.API, ev.GroupID, ev.UserID)
	} else {
		user.UserNickname = r.strangerName(ctx, in.API, ev.UserID)
	}

	info := message.BaseMessageInfo{
		Platform:   r.cfg.Platform,
		MessageID:  message.NoticeMessageID,
		Time:       message.Timestamp(r.now()),
		UserInfo:   user,
		FormatInfo: message.DefaultFormatInfo(),
	}
	if ev.GroupID != 0 {
		info.GroupInfo = &message.GroupInfo{
			Platform:  r.cfg.Platform,
			GroupID:   message.FlexIDFromInt(int64(ev.GroupID)),
			GroupName: r.groupName(ctx, in.API, ev.GroupID),
		}
	}

	raw := string(ev.Raw)
	if raw == "" {
		if b, err := json.Marshal(ev); err == nil {
			raw = string(b)
		}
	}
	return &message.Envelope{
		MessageInfo:    info,
		MessageSegment: seg,
		RawMessage:     raw,
	}, true
}

// pokeText 生成 "{动作}{对象}{后缀}" 文本
func (r *Receiver) pokeText(ctx context.Context, in *bus.InboundEvent) string {
	ev := in.Event
	action := ev.RawInfoText(2, "戳了戳")
	suffix := ev.RawInfoText(4, "")

	var target string
	if ev.TargetID == ev.SelfID {
		target = "你"
		if in.API != nil {
			if self, err := in.API.GetLoginInfo(ctx); err == nil && self.Nickname != "" {
				target = self.Nickname
			} else {
				r.log.Warn("Failed to fetch bot nickname for poke", zap.Error(err))
			}
		}
	} else {
		target = ev.TargetID.String()
		if ev.GroupID != 0 {
			if nick, card := r.memberName(ctx, in.API, ev.GroupID, ev.TargetID); card != "" {
				target = card
			} else if nick != defaultNickname {
				target = nick
			}
		}
	}
	return action + target + suffix + pokeSuffix
}

// memberName 返回群成员昵称和群名片，查询失败时昵称为默认值
func (r *Receiver) memberName(ctx context.Context, api onebot.API, groupID, userID onebot.ID) (string, string) {
	if api == nil {
		return defaultNickname, ""
	}
	m, err := api.GetGroupMemberInfo(ctx, groupID, userID)
	if err != nil {
		r.log.Warn("Failed to fetch member info",
			zap.Stringer("group_id", groupID),
			zap.Stringer("user_id", userID),
			zap.Error(err))
		return defaultNickname, ""
	}
	return m.Nickname, m.Card
}
