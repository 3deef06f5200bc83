// Package metrics 代理运行指标
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hammerhead"

// Metrics 代理指标集合，注册在独立的 Registry 上
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	UpstreamLatency *prometheus.HistogramVec
	RewrittenBytes  *prometheus.CounterVec
	SessionsActive  prometheus.Gauge
	WSConnections   prometheus.Gauge
	WSMessages      *prometheus.CounterVec
	SideEffects     *prometheus.CounterVec
}

// New 创建指标集合
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		RequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Proxied requests by resource kind and final result",
			},
			[]string{"kind", "result"},
		),
		UpstreamLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "upstream_duration_seconds",
				Help:      "Time until upstream response headers",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"kind"},
		),
		RewrittenBytes: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rewritten_bytes_total",
				Help:      "Bytes of textual bodies passed through the rewriter",
			},
			[]string{"kind"},
		),
		SessionsActive: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sessions_active",
				Help:      "Number of live sessions",
			},
		),
		WSConnections: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "websocket_connections",
				Help:      "Open proxied websocket connections",
			},
		),
		WSMessages: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "websocket_messages_total",
				Help:      "Relayed websocket messages by direction",
			},
			[]string{"direction"},
		),
		SideEffects: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "side_effects_total",
				Help:      "Download and page error callbacks by outcome",
			},
			[]string{"type", "outcome"},
		),
	}
}

// ObserveRequest 记录一次代理请求
func (m *Metrics) ObserveRequest(kind, result string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(kind, result).Inc()
}

// ObserveUpstream 记录上游响应耗时
func (m *Metrics) ObserveUpstream(kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.UpstreamLatency.WithLabelValues(kind).Observe(d.Seconds())
}

// ObserveRewrite 记录改写的字节数
func (m *Metrics) ObserveRewrite(kind string, n int) {
	if m == nil {
		return
	}
	m.RewrittenBytes.WithLabelValues(kind).Add(float64(n))
}

// SetSessions 设置活跃会话数
func (m *Metrics) SetSessions(n int) {
	if m == nil {
		return
	}
	m.SessionsActive.Set(float64(n))
}

// WSOpened 记录 websocket 建立
func (m *Metrics) WSOpened() {
	if m == nil {
		return
	}
	m.WSConnections.Inc()
}

// WSClosed 记录 websocket 关闭
func (m *Metrics) WSClosed() {
	if m == nil {
		return
	}
	m.WSConnections.Dec()
}

// WSMessage 记录一条转发的 websocket 消息，direction 为 up 或 down
func (m *Metrics) WSMessage(direction string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction).Inc()
}

// SideEffect 记录副作用回调结果
func (m *Metrics) SideEffect(typ, outcome string) {
	if m == nil {
		return
	}
	m.SideEffects.WithLabelValues(typ, outcome).Inc()
}

// Registry 返回底层 Registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler 返回 /metrics 处理器
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
