// Package bridge Prometheus 指标导出
package bridge

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 包含所有 Worker 指标
type Metrics struct {
	// 任务消费指标
	TasksTotal   *prometheus.CounterVec
	TaskDuration *prometheus.HistogramVec
	TasksPending prometheus.Gauge

	// 重投递指标
	ReclaimedTotal    prometheus.Counter
	DeadLetteredTotal prometheus.Counter
	RequeuedTotal     prometheus.Counter

	// Run 指标
	RunsTotal   *prometheus.CounterVec
	RunDuration prometheus.Histogram

	// HTTP 指标（API Server 侧记录）
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics 创建 Worker 指标实例
func NewMetrics(namespace, consumerID string) *Metrics {
	labels := prometheus.Labels{"consumer_id": consumerID}

	return &Metrics{
		TasksTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Name:        "tasks_total",
				Help:        "Total tasks processed by kind and outcome",
				ConstLabels: labels,
			},
			[]string{"kind", "outcome"},
		),
		TaskDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace:   namespace,
				Name:        "task_duration_seconds",
				Help:        "Task processing duration in seconds",
				Buckets:     []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
				ConstLabels: labels,
			},
			[]string{"kind"},
		),
		TasksPending: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace:   namespace,
				Name:        "tasks_pending",
				Help:        "Number of delivered but unacknowledged tasks",
				ConstLabels: labels,
			},
		),
		ReclaimedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Name:        "tasks_reclaimed_total",
				Help:        "Total stale tasks reclaimed from the pending set",
				ConstLabels: labels,
			},
		),
		DeadLetteredTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Name:        "tasks_dead_lettered_total",
				Help:        "Total tasks moved to the dead letter stream",
				ConstLabels: labels,
			},
		),
		RequeuedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Name:        "runs_requeued_total",
				Help:        "Total stale pending runs re-enqueued by the fallback loop",
				ConstLabels: labels,
			},
		),
		RunsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Name:        "runs_total",
				Help:        "Total run executions by resulting status",
				ConstLabels: labels,
			},
			[]string{"status"},
		),
		RunDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace:   namespace,
				Name:        "run_duration_seconds",
				Help:        "Run execution duration in seconds",
				Buckets:     []float64{0.5, 1, 2.5, 5, 10, 30, 60, 300, 600},
				ConstLabels: labels,
			},
		),
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Name:        "http_requests_total",
				Help:        "Total HTTP requests by method and status code",
				ConstLabels: labels,
			},
			[]string{"method", "status"},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace:   namespace,
				Name:        "http_request_duration_seconds",
				Help:        "HTTP request handling duration in seconds",
				Buckets:     []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
				ConstLabels: labels,
			},
			[]string{"method"},
		),
	}
}

// RecordTask 记录一次任务处理
func (m *Metrics) RecordTask(kind, outcome string, duration time.Duration) {
	m.TasksTotal.WithLabelValues(kind, outcome).Inc()
	m.TaskDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordRun 记录一次 Run 执行结果
func (m *Metrics) RecordRun(status string, duration time.Duration) {
	m.RunsTotal.WithLabelValues(status).Inc()
	m.RunDuration.Observe(duration.Seconds())
}

// RecordHTTPRequest 记录一次 HTTP 请求
func (m *Metrics) RecordHTTPRequest(method string, status int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// MetricsHandler 返回 Prometheus HTTP Handler
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
