// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// 调用指标
	invocationsTotal   *prometheus.CounterVec
	invocationDuration *prometheus.HistogramVec
	attemptsTotal      *prometheus.CounterVec
	attemptDuration    *prometheus.HistogramVec
	tokensUsed         *prometheus.CounterVec
	costTotal          *prometheus.CounterVec

	// 准入指标
	admissionWait       *prometheus.HistogramVec
	admissionQueueDepth *prometheus.GaugeVec

	// 预算指标
	budgetDenialsTotal *prometheus.CounterVec

	// 缓存指标
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	// 账本指标
	journalWritesTotal   *prometheus.CounterVec
	journalWriteDuration prometheus.Histogram

	logger *zap.Logger
}

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.httpRequestSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_size_bytes",
			Help:      "HTTP request size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	// 调用指标
	c.invocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invocations_total",
			Help:      "Total number of logical invocations",
		},
		[]string{"endpoint", "outcome"},
	)

	c.invocationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "invocation_duration_seconds",
			Help:      "Logical invocation duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"endpoint"},
	)

	c.attemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempts_total",
			Help:      "Total number of provider attempts",
		},
		[]string{"endpoint", "outcome"},
	)

	c.attemptDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "attempt_duration_seconds",
			Help:      "Single provider attempt duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"endpoint"},
	)

	c.tokensUsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_used_total",
			Help:      "Total number of tokens used",
		},
		[]string{"endpoint", "type"}, // type: prompt, completion
	)

	c.costTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cost_total",
			Help:      "Total invocation cost in USD",
		},
		[]string{"endpoint"},
	)

	// 准入指标
	c.admissionWait = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "admission_wait_seconds",
			Help:      "Time spent waiting for rate-limit admission",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
		},
		[]string{"endpoint"},
	)

	c.admissionQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "admission_queue_depth",
			Help:      "Number of callers waiting for admission",
		},
		[]string{"endpoint"},
	)

	// 预算指标
	c.budgetDenialsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "budget_denials_total",
			Help:      "Total number of budget denials",
		},
		[]string{"kind"}, // kind: blocked, detected
	)

	// 缓存指标
	c.cacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of response cache hits",
		},
		[]string{"endpoint"},
	)

	c.cacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of response cache misses",
		},
		[]string{"endpoint"},
	)

	// 账本指标
	c.journalWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "journal_writes_total",
			Help:      "Total number of journal writes",
		},
		[]string{"status"},
	)

	c.journalWriteDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "journal_write_duration_seconds",
			Help:      "Journal write duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// =============================================================================
// 🤖 调用指标记录
// =============================================================================

// RecordInvocation 记录一次逻辑调用的终态
func (c *Collector) RecordInvocation(endpoint, outcome string, duration time.Duration, promptTokens, completionTokens int, cost float64) {
	c.invocationsTotal.WithLabelValues(endpoint, outcome).Inc()
	c.invocationDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
	if promptTokens > 0 {
		c.tokensUsed.WithLabelValues(endpoint, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		c.tokensUsed.WithLabelValues(endpoint, "completion").Add(float64(completionTokens))
	}
	if cost > 0 {
		c.costTotal.WithLabelValues(endpoint).Add(cost)
	}
}

// RecordAttempt 记录单次提供方尝试
func (c *Collector) RecordAttempt(endpoint, outcome string, duration time.Duration) {
	c.attemptsTotal.WithLabelValues(endpoint, outcome).Inc()
	c.attemptDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// =============================================================================
// 🚦 准入指标记录
// =============================================================================

// RecordAdmissionWait 记录等待准入的耗时与当前队列深度
func (c *Collector) RecordAdmissionWait(endpoint string, wait time.Duration, queueDepth int) {
	c.admissionWait.WithLabelValues(endpoint).Observe(wait.Seconds())
	c.admissionQueueDepth.WithLabelValues(endpoint).Set(float64(queueDepth))
}

// =============================================================================
// 💰 预算指标记录
// =============================================================================

// RecordBudgetDenial 记录预算拒绝
// kind 为 "blocked"（调用前拦截）或 "detected"（计费后发现超限）
func (c *Collector) RecordBudgetDenial(kind string) {
	c.budgetDenialsTotal.WithLabelValues(kind).Inc()
}

// =============================================================================
// 💾 缓存指标记录
// =============================================================================

// RecordCacheHit 记录缓存命中
func (c *Collector) RecordCacheHit(endpoint string) {
	c.cacheHits.WithLabelValues(endpoint).Inc()
}

// RecordCacheMiss 记录缓存未命中
func (c *Collector) RecordCacheMiss(endpoint string) {
	c.cacheMisses.WithLabelValues(endpoint).Inc()
}

// =============================================================================
// 🗄️ 账本指标记录
// =============================================================================

// RecordJournalWrite 记录账本写入
func (c *Collector) RecordJournalWrite(duration time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.journalWritesTotal.WithLabelValues(status).Inc()
	c.journalWriteDuration.Observe(duration.Seconds())
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
