package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/BaSui01/valuationflow/workflow"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器，同时实现 workflow.Observer
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// 管道指标
	runsTotal        *prometheus.CounterVec
	runDuration      *prometheus.HistogramVec
	runsInFlight     prometheus.Gauge
	recallHits       prometheus.Counter
	resumesTotal     prometheus.Counter
	stageAttempts    *prometheus.CounterVec
	stageCommits     *prometheus.CounterVec
	stageDuration    *prometheus.HistogramVec
	failedAttempts   *prometheus.CounterVec
	violationsByRule *prometheus.CounterVec

	// 存储指标
	storeOpDuration   *prometheus.HistogramVec
	storeOpErrors     *prometheus.CounterVec
	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec

	logger *zap.Logger

	mu          sync.Mutex
	stageStarts map[stageKey]time.Time
}

type stageKey struct {
	session string
	ordinal int
}

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger:      logger.With(zap.String("component", "metrics")),
		stageStarts: make(map[stageKey]time.Time),
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

	// 管道指标
	c.runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_runs_total",
			Help:      "Total number of finished pipeline runs",
		},
		[]string{"status", "class"},
	)

	c.runDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_run_duration_seconds",
			Help:      "Pipeline run duration in seconds",
			Buckets:   []float64{0.1, 1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"status"},
	)

	c.runsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_runs_in_flight",
			Help:      "Number of pipeline runs currently executing",
		},
	)

	c.recallHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_recall_hits_total",
			Help:      "Runs answered from the recall index",
		},
	)

	c.resumesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_resumes_total",
			Help:      "Runs resumed from a checkpoint",
		},
	)

	c.stageAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_started_total",
			Help:      "Stages started",
		},
		[]string{"stage"},
	)

	c.stageCommits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_commits_total",
			Help:      "Stages validated and checkpointed",
		},
		[]string{"stage"},
	)

	c.stageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Stage duration from start to commit in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"stage"},
	)

	c.failedAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_failed_attempts_total",
			Help:      "Stage attempts rejected or failed, by failure class",
		},
		[]string{"stage", "class"},
	)

	c.violationsByRule = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_violations_total",
			Help:      "Validation violations by stage and rule",
		},
		[]string{"stage", "rule"},
	)

	// 存储指标
	c.storeOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_operation_duration_seconds",
			Help:      "Checkpoint store operation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	c.storeOpErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_operation_errors_total",
			Help:      "Checkpoint store operation errors",
		},
		[]string{"backend", "operation"},
	)

	c.dbConnectionsOpen = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open database connections",
		},
		[]string{"database"},
	)

	c.dbConnectionsIdle = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Number of idle database connections",
		},
		[]string{"database"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

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
// 🔁 管道事件
// =============================================================================

// OnEvent 实现 workflow.Observer
func (c *Collector) OnEvent(_ context.Context, ev workflow.Event) {
	switch ev.Type {
	case workflow.EventRunStarted:
		c.runsInFlight.Inc()
	case workflow.EventRecallHit:
		c.recallHits.Inc()
	case workflow.EventRunResumed:
		c.resumesTotal.Inc()
	case workflow.EventStageStarted:
		c.stageAttempts.WithLabelValues(ev.Stage).Inc()
		c.mu.Lock()
		c.stageStarts[stageKey{ev.SessionID, ev.Ordinal}] = ev.Time
		c.mu.Unlock()
	case workflow.EventAttemptFailed:
		c.failedAttempts.WithLabelValues(ev.Stage, string(ev.Class)).Inc()
		for _, v := range ev.Violations {
			c.violationsByRule.WithLabelValues(ev.Stage, v.Rule).Inc()
		}
	case workflow.EventStageCommitted:
		c.stageCommits.WithLabelValues(ev.Stage).Inc()
		key := stageKey{ev.SessionID, ev.Ordinal}
		c.mu.Lock()
		started, ok := c.stageStarts[key]
		delete(c.stageStarts, key)
		c.mu.Unlock()
		if ok {
			c.stageDuration.WithLabelValues(ev.Stage).Observe(ev.Time.Sub(started).Seconds())
		}
	case workflow.EventRunCompleted:
		c.finishRun("completed", "", ev)
	case workflow.EventRunFailed:
		c.finishRun("failed", string(ev.Class), ev)
	}
}

func (c *Collector) finishRun(status, class string, ev workflow.Event) {
	c.runsInFlight.Dec()
	c.runsTotal.WithLabelValues(status, class).Inc()
	c.runDuration.WithLabelValues(status).Observe(ev.Duration.Seconds())

	// 失败的运行不会再提交阶段，清理残留的开始时间
	c.mu.Lock()
	for k := range c.stageStarts {
		if k.session == ev.SessionID {
			delete(c.stageStarts, k)
		}
	}
	c.mu.Unlock()
}

// =============================================================================
// 🗄️ 存储指标记录
// =============================================================================

// RecordStoreOperation 记录检查点存储操作
func (c *Collector) RecordStoreOperation(backend, operation string, duration time.Duration, err error) {
	c.storeOpDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
	if err != nil {
		c.storeOpErrors.WithLabelValues(backend, operation).Inc()
	}
}

// RecordDBConnections 记录数据库连接数
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
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
