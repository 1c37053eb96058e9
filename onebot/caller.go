package onebot

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/smallnest/napcatbridge/correlation"
	"github.com/smallnest/napcatbridge/metrics"
	"github.com/smallnest/napcatbridge/types"
	"go.uber.org/zap"
)

// Conn 能写出 JSON 帧的连接
type Conn interface {
	SendJSON(v interface{}) error
}

// Caller 在一条网关连接上发起动作并等待关联响应
type Caller struct {
	conn    Conn
	store   *correlation.Store[*Response]
	timeout time.Duration
	log     *zap.Logger
}

// NewCaller 创建 Caller
func NewCaller(conn Conn, store *correlation.Store[*Response], timeout time.Duration, log *zap.Logger) *Caller {
	if timeout <= 0 {
		timeout = correlation.DefaultTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Caller{
		conn:    conn,
		store:   store,
		timeout: timeout,
		log:     log,
	}
}

// Call 发出动作，返回网关的原始响应（无论状态是否为 ok）
func (c *Caller) Call(ctx context.Context, action string, params interface{}) (*Response, error) {
	echo := uuid.New().String()
	c.store.Issue(echo)

	req := Request{Action: action, Params: params, Echo: echo}
	if err := c.conn.SendJSON(req); err != nil {
		metrics.Actions.WithLabelValues(action, "write_error").Inc()
		return nil, &types.ConnectionLostError{Peer: "gateway", Err: fmt.Errorf("write %s: %w", action, err)}
	}

	resp, err := c.store.Get(ctx, echo, c.timeout)
	if err != nil {
		metrics.Actions.WithLabelValues(action, "timeout").Inc()
		return nil, fmt.Errorf("%s: %w", action, err)
	}

	status := resp.Status
	if status == "" {
		status = "unknown"
	}
	metrics.Actions.WithLabelValues(action, status).Inc()
	c.log.Debug("Action response",
		zap.String("action", action),
		zap.String("echo", echo),
		zap.String("status", resp.Status),
		zap.Int("retcode", resp.RetCode))
	return resp, nil
}

// Do 发出动作，非 ok 返回 ActionFailureError，成功时把 data 解析到 out
func (c *Caller) Do(ctx context.Context, action string, params interface{}, out interface{}) error {
	resp, err := c.Call(ctx, action, params)
	if err != nil {
		return err
	}
	if !resp.OK() {
		return &types.ActionFailureError{
			Action:  action,
			Status:  resp.Status,
			RetCode: resp.RetCode,
			Message: firstNonEmpty(resp.Wording, resp.Message),
		}
	}
	if out == nil {
		return nil
	}
	if err := resp.Decode(out); err != nil {
		return &types.ProtocolDecodeError{Reason: action + " data", Err: err}
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
