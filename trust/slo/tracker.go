package slo

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/swarmplane/audit"
	"github.com/BaSui01/swarmplane/types"
)

const component = "slo"

// ServiceLevelObjective 每个 swarm 的服务水平目标
type ServiceLevelObjective struct {
	P99LatencyMs float64 `json:"p99_latency_ms" yaml:"p99_latency_ms"`
	SuccessRate  float64 `json:"success_rate" yaml:"success_rate"`
	Availability float64 `json:"availability" yaml:"availability"`
}

// DefaultObjective 未设置目标的 swarm 使用的默认值
func DefaultObjective() ServiceLevelObjective {
	return ServiceLevelObjective{
		P99LatencyMs: 1000,
		SuccessRate:  0.95,
		Availability: 0.99,
	}
}

// Validate 校验目标取值范围
func (o ServiceLevelObjective) Validate() error {
	if !(o.P99LatencyMs > 0) || math.IsInf(o.P99LatencyMs, 0) {
		return fmt.Errorf("p99_latency_ms must be positive, got %v", o.P99LatencyMs)
	}
	if !(o.SuccessRate >= 0 && o.SuccessRate <= 1) {
		return fmt.Errorf("success_rate must be in [0,1], got %v", o.SuccessRate)
	}
	if !(o.Availability >= 0 && o.Availability <= 1) {
		return fmt.Errorf("availability must be in [0,1], got %v", o.Availability)
	}
	return nil
}

// PerformanceMetric 单次观测。LatencyMs 为空的样本只参与成功率统计。
type PerformanceMetric struct {
	Timestamp time.Time `json:"timestamp"`
	LatencyMs *float64  `json:"latency_ms,omitempty"`
	Success   bool      `json:"success"`
}

// SLOCompliance 按需计算的合规快照，不持久化
type SLOCompliance struct {
	SwarmID        string                `json:"swarm_id"`
	SuccessRate    float64               `json:"success_rate"`
	P99LatencyMs   float64               `json:"p99_latency_ms"`
	SampleCount    int                   `json:"sample_count"`
	LatencySamples int                   `json:"latency_samples"`
	Compliant      bool                  `json:"compliant"`
	Violations     []string              `json:"violations,omitempty"`
	Objective      ServiceLevelObjective `json:"objective"`
	ComputedAt     time.Time             `json:"computed_at"`
}

// Violation 违规日志条目
type Violation struct {
	SwarmID    string    `json:"swarm_id"`
	Kind       string    `json:"kind"`
	Measured   float64   `json:"measured"`
	Target     float64   `json:"target"`
	DetectedAt time.Time `json:"detected_at"`
}

// 违规类型
const (
	ViolationSuccessRate = "success_rate"
	ViolationP99Latency  = "p99_latency"
)

// TrackerConfig 跟踪器配置
type TrackerConfig struct {
	// WindowSize 每个 swarm 保留的最近样本数
	WindowSize int `yaml:"window_size" json:"window_size"`

	// ViolationLogSize 违规日志容量（全局）
	ViolationLogSize int `yaml:"violation_log_size" json:"violation_log_size"`

	// Default 未单独设置目标时使用，为 nil 或取值非法时回退到 DefaultObjective
	Default *ServiceLevelObjective `yaml:"default" json:"default,omitempty"`
}

// DefaultTrackerConfig 返回默认配置
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		WindowSize:       1000,
		ViolationLogSize: 1000,
	}
}

// Option 可选协作方，Tracker 与 ReputationSystem 共用
type Option func(*options)

type options struct {
	logger *zap.Logger
	audit  audit.Sink
	now    func() time.Time
	sink   ReputationSink
}

func buildOptions(opts []Option) options {
	o := options{logger: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = o.logger.With(zap.String("component", component))
	o.audit = audit.OrLog(o.audit, o.logger)
	return o
}

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithAuditSink 设置审计接收端
func WithAuditSink(sink audit.Sink) Option {
	return func(o *options) { o.audit = sink }
}

// WithClock 替换时间源
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithReputationSink 设置信誉分发布目标，仅 ReputationSystem 使用
func WithReputationSink(sink ReputationSink) Option {
	return func(o *options) { o.sink = sink }
}

// =============================================================================
// 📈 Tracker
// =============================================================================

// Tracker SLO 跟踪器
type Tracker struct {
	config TrackerConfig
	opts   options

	mu         sync.RWMutex
	objectives map[string]ServiceLevelObjective
	windows    map[string]*ring[PerformanceMetric]
	violations *ring[Violation]
}

// NewTracker 创建跟踪器
func NewTracker(cfg TrackerConfig, opts ...Option) *Tracker {
	def := DefaultTrackerConfig()
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = def.WindowSize
	}
	if cfg.ViolationLogSize <= 0 {
		cfg.ViolationLogSize = def.ViolationLogSize
	}
	if cfg.Default == nil || cfg.Default.Validate() != nil {
		o := DefaultObjective()
		cfg.Default = &o
	}
	return &Tracker{
		config:     cfg,
		opts:       buildOptions(opts),
		objectives: make(map[string]ServiceLevelObjective),
		windows:    make(map[string]*ring[PerformanceMetric]),
		violations: newRing[Violation](cfg.ViolationLogSize),
	}
}

// SetSLO 设置 swarm 的目标
func (t *Tracker) SetSLO(swarmID string, objective ServiceLevelObjective) error {
	if swarmID == "" {
		return types.NewError(types.ErrInvalidRequest, "swarm id is required").WithComponent(component)
	}
	if err := objective.Validate(); err != nil {
		return types.NewError(types.ErrInvalidRequest, err.Error()).WithComponent(component)
	}
	t.mu.Lock()
	t.objectives[swarmID] = objective
	t.mu.Unlock()
	t.opts.logger.Debug("slo set", zap.String("swarm_id", swarmID), zap.Any("objective", objective))
	return nil
}

// Objective 返回 swarm 的目标，未设置时返回默认目标
func (t *Tracker) Objective(swarmID string) ServiceLevelObjective {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.objectiveLocked(swarmID)
}

func (t *Tracker) objectiveLocked(swarmID string) ServiceLevelObjective {
	if o, ok := t.objectives[swarmID]; ok {
		return o
	}
	return *t.config.Default
}

// RecordMetric 追加一条观测，窗口满时淘汰最旧样本。latencyMs 可为 nil。
func (t *Tracker) RecordMetric(swarmID string, latencyMs *float64, success bool) {
	m := PerformanceMetric{Timestamp: t.opts.now().UTC(), Success: success}
	if latencyMs != nil && !math.IsNaN(*latencyMs) {
		v := *latencyMs
		m.LatencyMs = &v
	}

	t.mu.Lock()
	w, ok := t.windows[swarmID]
	if !ok {
		w = newRing[PerformanceMetric](t.config.WindowSize)
		t.windows[swarmID] = w
	}
	w.push(m)
	t.mu.Unlock()
}

// Metrics 返回窗口内样本副本
func (t *Tracker) Metrics(swarmID string) []PerformanceMetric {
	t.mu.RLock()
	defer t.mu.RUnlock()
	w, ok := t.windows[swarmID]
	if !ok {
		return nil
	}
	return w.items()
}

// ComputeCompliance 计算合规快照。没有任何样本时返回 (nil, false)。
func (t *Tracker) ComputeCompliance(swarmID string) (*SLOCompliance, bool) {
	t.mu.RLock()
	w, ok := t.windows[swarmID]
	if !ok || w.len() == 0 {
		t.mu.RUnlock()
		return nil, false
	}
	samples := w.items()
	objective := t.objectiveLocked(swarmID)
	t.mu.RUnlock()

	successes := 0
	latencies := make([]float64, 0, len(samples))
	for _, s := range samples {
		if s.Success {
			successes++
		}
		if s.LatencyMs != nil {
			latencies = append(latencies, *s.LatencyMs)
		}
	}

	now := t.opts.now().UTC()
	c := &SLOCompliance{
		SwarmID:        swarmID,
		SuccessRate:    float64(successes) / float64(len(samples)),
		P99LatencyMs:   p99(latencies),
		SampleCount:    len(samples),
		LatencySamples: len(latencies),
		Objective:      objective,
		ComputedAt:     now,
	}

	var found []Violation
	if c.SuccessRate < objective.SuccessRate {
		found = append(found, Violation{SwarmID: swarmID, Kind: ViolationSuccessRate, Measured: c.SuccessRate, Target: objective.SuccessRate, DetectedAt: now})
	}
	if c.P99LatencyMs > objective.P99LatencyMs {
		found = append(found, Violation{SwarmID: swarmID, Kind: ViolationP99Latency, Measured: c.P99LatencyMs, Target: objective.P99LatencyMs, DetectedAt: now})
	}
	c.Compliant = len(found) == 0
	if !c.Compliant {
		t.logViolations(found)
		for _, v := range found {
			c.Violations = append(c.Violations, fmt.Sprintf("%s %.4g exceeds target %.4g", v.Kind, v.Measured, v.Target))
		}
	}
	return c, true
}

func (t *Tracker) logViolations(found []Violation) {
	t.mu.Lock()
	for _, v := range found {
		t.violations.push(v)
	}
	t.mu.Unlock()

	for _, v := range found {
		t.opts.logger.Warn("slo violation",
			zap.String("swarm_id", v.SwarmID),
			zap.String("kind", v.Kind),
			zap.Float64("measured", v.Measured),
			zap.Float64("target", v.Target),
		)
		t.opts.audit.LogOperation(component, "slo_violation", map[string]any{
			"actor":    v.SwarmID,
			"kind":     v.Kind,
			"measured": v.Measured,
			"target":   v.Target,
		}, audit.SeverityWarning)
	}
}

// Violations 返回违规日志（旧到新），swarmID 为空时返回全部
func (t *Tracker) Violations(swarmID string) []Violation {
	t.mu.RLock()
	all := t.violations.items()
	t.mu.RUnlock()
	if swarmID == "" {
		return all
	}
	out := all[:0]
	for _, v := range all {
		if v.SwarmID == swarmID {
			out = append(out, v)
		}
	}
	return out
}

// p99 最近秩 p99：sorted[floor(n*0.99)]，下标截断到最后一个元素。无样本时为 0。
func p99(latencies []float64) float64 {
	n := len(latencies)
	if n == 0 {
		return 0
	}
	sorted := append([]float64(nil), latencies...)
	sort.Float64s(sorted)
	idx := int(math.Floor(float64(n) * 0.99))
	if idx >= n {
		idx = n - 1
	}
	return sorted[idx]
}
