package types

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind 错误类别
type ErrorKind string

const (
	// ErrorKindProtocolDecode 帧解析失败
	ErrorKindProtocolDecode ErrorKind = "protocol_decode"
	// ErrorKindCorrelationTimeout 等待响应超时
	ErrorKindCorrelationTimeout ErrorKind = "correlation_timeout"
	// ErrorKindUnsupportedSegment 不支持的消息段
	ErrorKindUnsupportedSegment ErrorKind = "unsupported_segment"
	// ErrorKindConnectionLost 连接丢失
	ErrorKindConnectionLost ErrorKind = "connection_lost"
	// ErrorKindActionFailure 动作执行失败
	ErrorKindActionFailure ErrorKind = "action_failure"
	// ErrorKindNoRoute 没有路由
	ErrorKindNoRoute ErrorKind = "no_route"
	// ErrorKindUnknown 未知错误
	ErrorKindUnknown ErrorKind = "unknown"
)

// ProtocolDecodeError 网关帧格式错误
type ProtocolDecodeError struct {
	Reason string
	Err    error
}

func (e *ProtocolDecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol decode: %s: %v", e.Reason, e.Err)
	}
	return "protocol decode: " + e.Reason
}

func (e *ProtocolDecodeError) Unwrap() error { return e.Err }

// CorrelationTimeoutError 在等待窗口内没有收到响应
type CorrelationTimeoutError struct {
	Token   string
	Timeout time.Duration
}

func (e *CorrelationTimeoutError) Error() string {
	return fmt.Sprintf("no response for %s within %s", e.Token, e.Timeout)
}

// UnsupportedSegmentError 消息段类型不受支持
type UnsupportedSegmentError struct {
	Type string
}

func (e *UnsupportedSegmentError) Error() string {
	return "unsupported segment type: " + e.Type
}

// ConnectionLostError 连接丢失（心跳超时或 I/O 失败）
type ConnectionLostError struct {
	Peer string
	Err  error
}

func (e *ConnectionLostError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("connection to %s lost: %v", e.Peer, e.Err)
	}
	return fmt.Sprintf("connection to %s lost", e.Peer)
}

func (e *ConnectionLostError) Unwrap() error { return e.Err }

// ActionFailureError 网关返回非 ok 状态
type ActionFailureError struct {
	Action  string
	Status  string
	RetCode int
	Message string
}

func (e *ActionFailureError) Error() string {
	msg := fmt.Sprintf("action %s failed: status=%s retcode=%d", e.Action, e.Status, e.RetCode)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// NoRouteError 目标平台没有配置路由
type NoRouteError struct {
	Platform string
}

func (e *NoRouteError) Error() string {
	return "no route for platform " + e.Platform
}

// KindOf 返回错误链中第一个可识别错误的类别
func KindOf(err error) ErrorKind {
	if err == nil {
		return ErrorKindUnknown
	}

	var (
		decodeErr      *ProtocolDecodeError
		timeoutErr     *CorrelationTimeoutError
		unsupportedErr *UnsupportedSegmentError
		lostErr        *ConnectionLostError
		actionErr      *ActionFailureError
		routeErr       *NoRouteError
	)
	switch {
	case errors.As(err, &decodeErr):
		return ErrorKindProtocolDecode
	case errors.As(err, &timeoutErr):
		return ErrorKindCorrelationTimeout
	case errors.As(err, &unsupportedErr):
		return ErrorKindUnsupportedSegment
	case errors.As(err, &lostErr):
		return ErrorKindConnectionLost
	case errors.As(err, &actionErr):
		return ErrorKindActionFailure
	case errors.As(err, &routeErr):
		return ErrorKindNoRoute
	}
	return ErrorKindUnknown
}

// IsRetryable 仅连接丢失会自动重试
func IsRetryable(err error) bool {
	return KindOf(err) == ErrorKindConnectionLost
}
