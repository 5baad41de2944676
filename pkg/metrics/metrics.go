// Package metrics 定义了服务暴露给 Prometheus 的指标。
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RelayDispatches 按结果（ok/timeout/rejected）统计转发次数。
var RelayDispatches = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "estate_assist_relay_dispatch_total",
	Help: "Automation engine dispatches by outcome.",
}, []string{"outcome"})

// CallbackResults 统计回调处理结果：appended、duplicate、rejected、failed。
var CallbackResults = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "estate_assist_callback_total",
	Help: "Automation callbacks by result and delivery source.",
}, []string{"source", "result"})

// StoreAppends 统计会话存储的追加结果。
var StoreAppends = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "estate_assist_store_append_total",
	Help: "Conversation store appends by role and result.",
}, []string{"role", "result"})

var HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "estate_assist_http_request_duration_seconds",
	Help:    "HTTP request latency.",
	Buckets: prometheus.DefBuckets,
}, []string{"method", "route", "status"})
