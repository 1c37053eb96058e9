// Package metrics 汇总适配器的 Prometheus 指标
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "napcatbridge"

var (
	// PendingRequests 关联表中的挂起条目
	PendingRequests = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "correlation",
		Name:      "pending",
		Help:      "Number of request tokens waiting in the correlation store",
	})

	// CorrelationTimeouts 等待超时次数
	CorrelationTimeouts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "correlation",
		Name:      "timeouts_total",
		Help:      "Total number of correlated requests that timed out",
	})

	// SweptEntries 被清扫移除的条目
	SweptEntries = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "correlation",
		Name:      "swept_total",
		Help:      "Total number of expired entries removed by the sweeper",
	})

	// FramesTotal 按类别统计的网关帧
	FramesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "gateway",
		Name:      "frames_total",
		Help:      "Total number of gateway frames by classification",
	}, []string{"kind"})

	// DecodeErrors 解析失败的帧
	DecodeErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "gateway",
		Name:      "decode_errors_total",
		Help:      "Total number of malformed gateway frames",
	})

	// GatewayConnections 当前网关连接数
	GatewayConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "gateway",
		Name:      "connections",
		Help:      "Number of live inbound gateway connections",
	})

	// HeartbeatLost 心跳丢失次数
	HeartbeatLost = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "heartbeat",
		Name:      "lost_total",
		Help:      "Total number of gateway connections declared lost",
	}, []string{"self_id"})

	// Actions 按动作和结果统计的网关调用
	Actions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "onebot",
		Name:      "actions_total",
		Help:      "Total number of gateway actions by result",
	}, []string{"action", "status"})

	// RouterReconnects 路由客户端重连次数
	RouterReconnects = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "router",
		Name:      "reconnects_total",
		Help:      "Total number of outbound client reconnect attempts",
	}, []string{"platform"})

	// RouterState 路由客户端状态 (0=disconnected, 1=connecting, 2=connected)
	RouterState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "router",
		Name:      "state",
		Help:      "Outbound client state (0=disconnected, 1=connecting, 2=connected)",
	}, []string{"platform"})

	// EnvelopesTotal 按方向统计的消息信封
	EnvelopesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "adapter",
		Name:      "envelopes_total",
		Help:      "Total number of envelopes by direction and result",
	}, []string{"direction", "result"})
)

var registry = prometheus.NewRegistry()

func init() {
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		PendingRequests,
		CorrelationTimeouts,
		SweptEntries,
		FramesTotal,
		DecodeErrors,
		GatewayConnections,
		HeartbeatLost,
		Actions,
		RouterReconnects,
		RouterState,
		EnvelopesTotal,
	)
}

// Registry 返回适配器使用的注册表
func Registry() *prometheus.Registry {
	return registry
}

// Handler 返回 /metrics 处理器
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
