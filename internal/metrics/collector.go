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

// Collector 指标收集器。nil Collector 上的所有记录方法都是空操作，
// 组件在未启用指标时可以直接传 nil。
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// 任务协调指标
	claimsTotal      *prometheus.CounterVec
	claimDuration    prometheus.Histogram
	taskTransitions  *prometheus.CounterVec
	escalationsTotal *prometheus.CounterVec

	// 治理指标
	breakerTrips *prometheus.CounterVec
	costTotal    *prometheus.CounterVec

	// 信任层指标
	credentialValidations  *prometheus.CounterVec
	signatureVerifications *prometheus.CounterVec

	// 数据库指标
	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec

	logger *zap.Logger
}

// NewCollector 使用默认 Registry 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	return NewCollectorWithRegistry(namespace, prometheus.DefaultRegisterer, logger)
}

// NewCollectorWithRegistry 在指定 Registry 上注册指标，便于测试隔离
func NewCollectorWithRegistry(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := promauto.With(reg)
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// 任务协调指标
	c.claimsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_claims_total",
			Help:      "Total number of task claim attempts",
		},
		[]string{"result"}, // won, lost, error
	)

	c.claimDuration = f.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_claim_duration_seconds",
			Help:      "Task claim latency in seconds",
			Buckets:   []float64{0.0005, 0.001, 0.002, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5},
		},
	)

	c.taskTransitions = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_transitions_total",
			Help:      "Total number of task state transitions",
		},
		[]string{"from_state", "to_state"},
	)

	c.escalationsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escalations_total",
			Help:      "Total number of blocker escalations",
		},
		[]string{"source"},
	)

	// 治理指标
	c.breakerTrips = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_trips_total",
			Help:      "Total number of swarm circuit breaker trips",
		},
		[]string{"reason"},
	)

	c.costTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "swarm_cost_total",
			Help:      "Total cost charged to swarms",
		},
		[]string{"swarm_id"},
	)

	// 信任层指标
	c.credentialValidations = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credential_validations_total",
			Help:      "Total number of credential validations",
		},
		[]string{"result"},
	)

	c.signatureVerifications = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signature_verifications_total",
			Help:      "Total number of signature verifications",
		},
		[]string{"status", "cached"},
	)

	// 数据库指标
	c.dbConnectionsOpen = f.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open database connections",
		},
		[]string{"database"},
	)

	c.dbConnectionsIdle = f.NewGaugeVec(
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
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	if c == nil {
		return
	}
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// =============================================================================
// 📋 任务协调指标记录
// =============================================================================

// RecordClaim 记录一次认领尝试
func (c *Collector) RecordClaim(result string, duration time.Duration) {
	if c == nil {
		return
	}
	c.claimsTotal.WithLabelValues(result).Inc()
	c.claimDuration.Observe(duration.Seconds())
}

// RecordTaskTransition 记录任务状态转换
func (c *Collector) RecordTaskTransition(from, to string) {
	if c == nil {
		return
	}
	c.taskTransitions.WithLabelValues(from, to).Inc()
}

// RecordEscalation 记录升级
func (c *Collector) RecordEscalation(source string) {
	if c == nil {
		return
	}
	c.escalationsTotal.WithLabelValues(source).Inc()
}

// =============================================================================
// 🛡️ 治理指标记录
// =============================================================================

// RecordBreakerTrip 记录熔断
func (c *Collector) RecordBreakerTrip(reason string) {
	if c == nil {
		return
	}
	c.breakerTrips.WithLabelValues(reason).Inc()
}

// RecordCost 记录成本扣减
func (c *Collector) RecordCost(swarmID string, cost float64) {
	if c == nil || cost < 0 {
		return
	}
	c.costTotal.WithLabelValues(swarmID).Add(cost)
}

// =============================================================================
// 🔐 信任层指标记录
// =============================================================================

// RecordCredentialValidation 记录凭证校验结果
func (c *Collector) RecordCredentialValidation(result string) {
	if c == nil {
		return
	}
	c.credentialValidations.WithLabelValues(result).Inc()
}

// RecordSignatureVerification 记录签名校验结果
func (c *Collector) RecordSignatureVerification(status string, cached bool) {
	if c == nil {
		return
	}
	cachedLabel := "false"
	if cached {
		cachedLabel = "true"
	}
	c.signatureVerifications.WithLabelValues(status, cachedLabel).Inc()
}

// =============================================================================
// 🗄️ 数据库指标记录
// =============================================================================

// RecordDBConnections 记录数据库连接数
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	if c == nil {
		return
	}
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
