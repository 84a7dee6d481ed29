package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器。nil *Collector 的所有记录方法均为空操作。
type Collector struct {
	// 触发判定
	decisionsTotal *prometheus.CounterVec
	decisionScore  *prometheus.HistogramVec

	// 生成网关
	generationRequestsTotal *prometheus.CounterVec
	generationDuration      *prometheus.HistogramVec
	generationAttemptsTotal *prometheus.CounterVec
	promptTokens            *prometheus.CounterVec

	// 一致性检查
	consistencyChecksTotal *prometheus.CounterVec
	consistencyScore       prometheus.Histogram
	regenerationsTotal     *prometheus.CounterVec

	// 回复流水线
	pipelinesTotal   *prometheus.CounterVec
	pipelineDuration *prometheus.HistogramVec

	// 消息存储
	messagesAppended *prometheus.CounterVec
	appendDuration   *prometheus.HistogramVec

	// 缓存
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	// 数据库连接池
	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器，注册到默认 Registerer
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	return NewCollectorWithRegisterer(namespace, prometheus.DefaultRegisterer, logger)
}

// NewCollectorWithRegisterer 创建指标收集器，注册到指定 Registerer
func NewCollectorWithRegisterer(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// 触发判定指标
	c.decisionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relevance_decisions_total",
			Help:      "Total number of relevance decisions",
		},
		[]string{"reason", "triggered"},
	)

	c.decisionScore = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "relevance_score",
			Help:      "Distribution of relevance scores",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		},
		[]string{"reason"},
	)

	// 生成网关指标
	c.generationRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_requests_total",
			Help:      "Total number of generation requests by final status",
		},
		[]string{"model", "status"},
	)

	c.generationDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      "Generation duration in seconds including the retry",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"model"},
	)

	c.generationAttemptsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_attempts_total",
			Help:      "Total number of upstream calls",
		},
		[]string{"model", "attempt", "outcome"},
	)

	c.promptTokens = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prompt_tokens_total",
			Help:      "Total number of prompt tokens sent upstream",
		},
		[]string{"model"},
	)

	// 一致性指标
	c.consistencyChecksTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consistency_checks_total",
			Help:      "Total number of consistency checks by outcome",
		},
		[]string{"outcome"}, // skipped, accepted, drift
	)

	c.consistencyScore = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "consistency_score",
			Help:      "Distribution of overall consistency scores",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		},
	)

	c.regenerationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "regenerations_total",
			Help:      "Total number of corrective regenerations",
		},
		[]string{"status"},
	)

	// 流水线指标
	c.pipelinesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "response_pipelines_total",
			Help:      "Total number of response pipelines by status",
		},
		[]string{"status"},
	)

	c.pipelineDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "response_pipeline_duration_seconds",
			Help:      "Response pipeline duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"status"},
	)

	// 存储指标
	c.messagesAppended = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_appended_total",
			Help:      "Total number of messages appended to the log",
		},
		[]string{"backend", "status"},
	)

	c.appendDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "message_append_duration_seconds",
			Help:      "Message append duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"backend"},
	)

	// 缓存指标
	c.cacheHits = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	c.cacheMisses = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	// 数据库指标
	c.dbConnectionsOpen = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open database connections",
		},
		[]string{"database"},
	)

	c.dbConnectionsIdle = factory.NewGaugeVec(
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
// 🎯 触发判定
// =============================================================================

// RecordDecision 记录一次触发判定
func (c *Collector) RecordDecision(reason string, triggered bool, score float64) {
	if c == nil {
		return
	}
	c.decisionsTotal.WithLabelValues(reason, strconv.FormatBool(triggered)).Inc()
	c.decisionScore.WithLabelValues(reason).Observe(score)
}

// =============================================================================
// 🤖 生成网关
// =============================================================================

// RecordGenerationAttempt 记录一次上游调用
func (c *Collector) RecordGenerationAttempt(model string, attempt int, outcome string) {
	if c == nil {
		return
	}
	c.generationAttemptsTotal.WithLabelValues(model, strconv.Itoa(attempt), outcome).Inc()
}

// RecordGeneration 记录一次完整生成（含重试）
func (c *Collector) RecordGeneration(model, status string, duration time.Duration, promptTokens int) {
	if c == nil {
		return
	}
	c.generationRequestsTotal.WithLabelValues(model, status).Inc()
	c.generationDuration.WithLabelValues(model).Observe(duration.Seconds())
	c.promptTokens.WithLabelValues(model).Add(float64(promptTokens))
}

// =============================================================================
// 🎭 一致性检查
// =============================================================================

// RecordConsistencyCheck 记录一致性检查结果
func (c *Collector) RecordConsistencyCheck(outcome string, overall float64) {
	if c == nil {
		return
	}
	c.consistencyChecksTotal.WithLabelValues(outcome).Inc()
	if outcome != "skipped" {
		c.consistencyScore.Observe(overall)
	}
}

// RecordRegeneration 记录纠偏重生成
func (c *Collector) RecordRegeneration(status string) {
	if c == nil {
		return
	}
	c.regenerationsTotal.WithLabelValues(status).Inc()
}

// =============================================================================
// 🔁 流水线与存储
// =============================================================================

// RecordPipeline 记录回复流水线
func (c *Collector) RecordPipeline(status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.pipelinesTotal.WithLabelValues(status).Inc()
	c.pipelineDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordAppend 记录消息追加
func (c *Collector) RecordAppend(backend string, err error, duration time.Duration) {
	if c == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	c.messagesAppended.WithLabelValues(backend, status).Inc()
	c.appendDuration.WithLabelValues(backend).Observe(duration.Seconds())
}

// RecordCacheHit 记录缓存命中
func (c *Collector) RecordCacheHit(cacheType string) {
	if c == nil {
		return
	}
	c.cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss 记录缓存未命中
func (c *Collector) RecordCacheMiss(cacheType string) {
	if c == nil {
		return
	}
	c.cacheMisses.WithLabelValues(cacheType).Inc()
}

// RecordDBConnections 记录数据库连接数
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	if c == nil {
		return
	}
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}
