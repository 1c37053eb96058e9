package gateway

import (
	"context"
	"time"

	"github.com/smallnest/napcatbridge/bus"
	"github.com/smallnest/napcatbridge/metrics"
	"github.com/smallnest/napcatbridge/onebot"
	"go.uber.org/zap"
)

// dispatch 分类一帧：响应交给关联表，元事件交给心跳监视器，其余事件进入入站队列
func (s *Server) dispatch(conn *Connection, payload []byte) {
	frame, err := onebot.Classify(payload)
	if err != nil {
		metrics.DecodeErrors.Inc()
		s.log.Warn("Dropping malformed frame",
			zap.String("conn_id", conn.ID),
			zap.Error(err))
		return
	}
	metrics.FramesTotal.WithLabelValues(frame.Kind.String()).Inc()

	switch frame.Kind {
	case onebot.KindResponse:
		s.store.Put(frame.Response.Echo, frame.Response)

	case onebot.KindEvent:
		ev := frame.Event
		conn.observe(ev.SelfID)

		// 元事件不排队，心跳不会被慢事件拖成超时，代价是不再与其他事件保序
		if ev.PostType == onebot.PostTypeMetaEvent {
			if s.monitor != nil {
				s.monitor.HandleMeta(ev)
			}
			return
		}

		err := s.bus.PublishInbound(context.Background(), &bus.InboundEvent{
			ConnID:     conn.ID,
			Event:      ev,
			API:        conn.caller,
			ReceivedAt: time.Now(),
		})
		if err != nil {
			s.log.Error("Failed to queue inbound event",
				zap.String("post_type", ev.PostType),
				zap.Error(err))
		}

	default:
		s.log.Debug("Dropping frame with unknown post_type",
			zap.String("post_type", frame.PostType))
	}
}
