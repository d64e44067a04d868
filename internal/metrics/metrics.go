// Package metrics 定义库存账本、订单与 HTTP 层的 Prometheus 指标。
// 所有方法对 nil 接收者安全，未启用指标时传 nil 即可。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "caseshop"

// 结果标签取值
const (
	ResultOK           = "ok"
	ResultInsufficient = "insufficient"
	ResultNotFound     = "not_found"
	ResultConflict     = "conflict"
	ResultRejected     = "rejected"
	ResultError        = "error"
)

// Metrics 应用指标集合
type Metrics struct {
	registry *prometheus.Registry

	ledgerOps        *prometheus.CounterVec
	ledgerRetries    *prometheus.CounterVec
	ledgerFloor      *prometheus.CounterVec
	orderTransitions *prometheus.CounterVec
	checkouts        *prometheus.CounterVec
	eventFailures    *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
}

// New 在独立的 Registry 上注册全部指标
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		ledgerOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ledger", Name: "operations_total",
			Help: "Stock ledger operations by operation and result.",
		}, []string{"op", "result"}),
		ledgerRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ledger", Name: "lock_retries_total",
			Help: "Retries caused by lock conflicts.",
		}, []string{"op"}),
		ledgerFloor: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ledger", Name: "reserved_floor_total",
			Help: "Times reserved stock was floored at zero.",
		}, []string{"op"}),
		orderTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "orders", Name: "transitions_total",
			Help: "Order status transitions by source, target and result.",
		}, []string{"from", "to", "result"}),
		checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "orders", Name: "checkouts_total",
			Help: "Checkout attempts by result.",
		}, []string{"result"}),
		eventFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "orders", Name: "event_publish_failures_total",
			Help: "Order events that failed to publish.",
		}, []string{"event"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "HTTP requests by route and status code.",
		}, []string{"route", "method", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}

	reg.MustRegister(
		m.ledgerOps, m.ledgerRetries, m.ledgerFloor,
		m.orderTransitions, m.checkouts, m.eventFailures,
		m.httpRequests, m.httpDuration,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return m
}

// Handler 暴露 /metrics
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// LedgerOp 记录一次账本操作结果
func (m *Metrics) LedgerOp(op, result string) {
	if m == nil {
		return
	}
	m.ledgerOps.WithLabelValues(op, result).Inc()
}

// LedgerRetry 记录一次锁冲突重试
func (m *Metrics) LedgerRetry(op string) {
	if m == nil {
		return
	}
	m.ledgerRetries.WithLabelValues(op).Inc()
}

// ReservedFloored 记录 reserved 被截断到0
func (m *Metrics) ReservedFloored(op string) {
	if m == nil {
		return
	}
	m.ledgerFloor.WithLabelValues(op).Inc()
}

// OrderTransition 记录订单状态迁移
func (m *Metrics) OrderTransition(from, to, result string) {
	if m == nil {
		return
	}
	m.orderTransitions.WithLabelValues(from, to, result).Inc()
}

// Checkout 记录结算结果
func (m *Metrics) Checkout(result string) {
	if m == nil {
		return
	}
	m.checkouts.WithLabelValues(result).Inc()
}

// EventPublishFailed 记录事件发布失败
func (m *Metrics) EventPublishFailed(event string) {
	if m == nil {
		return
	}
	m.eventFailures.WithLabelValues(event).Inc()
}

// ObserveHTTP 记录一次 HTTP 请求
func (m *Metrics) ObserveHTTP(route, method, code string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, method, code).Inc()
	m.httpDuration.WithLabelValues(route, method).Observe(elapsed.Seconds())
}
