package governor

import (
	"context"
	"math"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/swarmplane/audit"
	"github.com/BaSui01/swarmplane/internal/metrics"
	"github.com/BaSui01/swarmplane/ledger"
	"github.com/BaSui01/swarmplane/types"
)

const component = "governor"

// CapabilityExternalHTTPProxy 出站 HTTP 代理所需的能力
const CapabilityExternalHTTPProxy = "network.http.proxy.external"

// SwarmProfile 治理视角下的 swarm 画像
type SwarmProfile struct {
	SwarmID                string   `json:"swarm_id"`
	Capabilities           []string `json:"capabilities"`
	CostPerHour            float64  `json:"cost_per_hour"`
	ReputationScore        float64  `json:"reputation_score"`
	CurrentBudgetRemaining float64  `json:"current_budget_remaining"`
	Model                  string   `json:"model,omitempty"`
	MaxConcurrentTasks     int      `json:"max_concurrent_tasks,omitempty"`
}

// ResourcePolicy 治理策略，构造后不可变
type ResourcePolicy struct {
	MaxSwarmsPerTask               int     `yaml:"max_swarms_per_task" json:"max_swarms_per_task"`
	MaxCostPerTask                 float64 `yaml:"max_cost_per_task" json:"max_cost_per_task"`
	MinCapabilityMatch             float64 `yaml:"min_capability_match" json:"min_capability_match"`
	CircuitBreakerFailureThreshold int     `yaml:"circuit_breaker_failure_threshold" json:"circuit_breaker_failure_threshold"`
	EnableCostTracking             bool    `yaml:"enable_cost_tracking" json:"enable_cost_tracking"`
	EnableAuditLogging             bool    `yaml:"enable_audit_logging" json:"enable_audit_logging"`
}

// DefaultResourcePolicy 返回默认策略
func DefaultResourcePolicy() ResourcePolicy {
	return ResourcePolicy{
		MaxSwarmsPerTask:               3,
		MaxCostPerTask:                 0,
		MinCapabilityMatch:             0.7,
		CircuitBreakerFailureThreshold: 3,
		EnableCostTracking:             true,
		EnableAuditLogging:             true,
	}
}

// Escalator 熔断时写入升级记录
type Escalator interface {
	Escalate(ctx context.Context, swarmID, reason string, details map[string]any) error
}

// Option 可选协作方
type Option func(*Governor)

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(g *Governor) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithAuditSink 设置审计接收端
func WithAuditSink(sink audit.Sink) Option {
	return func(g *Governor) { g.audit = sink }
}

// WithCostTracker 设置成本账本
func WithCostTracker(tracker ledger.CostTracker) Option {
	return func(g *Governor) { g.ledger = tracker }
}

// WithEscalator 设置熔断升级接收方
func WithEscalator(e Escalator) Option {
	return func(g *Governor) { g.escalator = e }
}

// WithMetrics 设置指标收集器
func WithMetrics(collector *metrics.Collector) Option {
	return func(g *Governor) { g.metrics = collector }
}

type swarmEntry struct {
	profile SwarmProfile
	caps    map[string]struct{}
	breaker breaker
}

// Governor 能力与预算治理器
type Governor struct {
	policy    ResourcePolicy
	logger    *zap.Logger
	audit     audit.Sink
	ledger    ledger.CostTracker
	escalator Escalator
	metrics   *metrics.Collector

	mu     sync.RWMutex
	swarms map[string]*swarmEntry
}

// New 创建治理器
func New(policy ResourcePolicy, opts ...Option) *Governor {
	if policy.MinCapabilityMatch < 0 {
		policy.MinCapabilityMatch = 0
	}
	if policy.MinCapabilityMatch > 1 {
		policy.MinCapabilityMatch = 1
	}
	g := &Governor{
		policy: policy,
		logger: zap.NewNop(),
		swarms: make(map[string]*swarmEntry),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With(zap.String("component", component))
	g.audit = audit.OrLog(g.audit, g.logger)
	return g
}

// Policy 返回治理策略
func (g *Governor) Policy() ResourcePolicy {
	return g.policy
}

func swarmNotFound(swarmID string) error {
	return types.Errorf(types.ErrSwarmNotFound, "swarm %s is not registered with governor", swarmID).
		WithHTTPStatus(404).
		WithComponent(component)
}

func invalidProfile(format string, args ...any) error {
	return types.Errorf(types.ErrInvalidRequest, format, args...).
		WithHTTPStatus(400).
		WithComponent(component)
}

// routineAudit 受 EnableAuditLogging 控制；熔断与重置不经过这里。
func (g *Governor) routineAudit(operation string, params map[string]any) {
	if g.policy.EnableAuditLogging {
		g.audit.LogOperation(component, operation, params, audit.SeverityInfo)
	}
}

// =============================================================================
// 注册
// =============================================================================

// RegisterSwarm 登记 swarm 画像。新 swarm 的熔断器为 closed、失败计数为 0；
// 重复登记只替换画像，已有的熔断状态保留，必须显式重置。
func (g *Governor) RegisterSwarm(profile SwarmProfile) error {
	if profile.SwarmID == "" {
		return invalidProfile("swarm id is required")
	}
	if profile.CostPerHour <= 0 || math.IsNaN(profile.CostPerHour) || math.IsInf(profile.CostPerHour, 0) {
		return invalidProfile("swarm %s: cost_per_hour must be positive, got %v", profile.SwarmID, profile.CostPerHour)
	}
	profile.ReputationScore = clamp01(profile.ReputationScore)
	profile.Capabilities = append([]string(nil), profile.Capabilities...)

	caps := make(map[string]struct{}, len(profile.Capabilities))
	for _, c := range profile.Capabilities {
		caps[c] = struct{}{}
	}

	g.mu.Lock()
	entry, exists := g.swarms[profile.SwarmID]
	if exists {
		entry.profile = profile
		entry.caps = caps
	} else {
		g.swarms[profile.SwarmID] = &swarmEntry{profile: profile, caps: caps}
	}
	g.mu.Unlock()

	g.logger.Info("swarm profile registered",
		zap.String("swarm_id", profile.SwarmID),
		zap.Float64("cost_per_hour", profile.CostPerHour),
		zap.Float64("budget", profile.CurrentBudgetRemaining),
		zap.Bool("replaced", exists),
	)
	g.routineAudit("register_swarm", map[string]any{
		"actor":         profile.SwarmID,
		"capabilities":  profile.Capabilities,
		"cost_per_hour": profile.CostPerHour,
		"budget":        profile.CurrentBudgetRemaining,
	})
	return nil
}

// UnregisterSwarm 移除画像与熔断状态
func (g *Governor) UnregisterSwarm(swarmID string) bool {
	g.mu.Lock()
	_, ok := g.swarms[swarmID]
	delete(g.swarms, swarmID)
	g.mu.Unlock()
	if ok {
		g.routineAudit("unregister_swarm", map[string]any{"actor": swarmID})
	}
	return ok
}

// Profile 返回画像副本
func (g *Governor) Profile(swarmID string) (SwarmProfile, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	entry, ok := g.swarms[swarmID]
	if !ok {
		return SwarmProfile{}, false
	}
	p := entry.profile
	p.Capabilities = append([]string(nil), p.Capabilities...)
	return p, true
}

// Swarms 按 ID 排序返回全部画像
func (g *Governor) Swarms() []SwarmProfile {
	g.mu.RLock()
	out := make([]SwarmProfile, 0, len(g.swarms))
	for _, entry := range g.swarms {
		p := entry.profile
		p.Capabilities = append([]string(nil), p.Capabilities...)
		out = append(out, p)
	}
	g.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].SwarmID < out[j].SwarmID })
	return out
}

// HasCapability 报告 swarm 是否声明了某项能力。熔断中的 swarm 一律返回 false。
func (g *Governor) HasCapability(swarmID, capability string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	entry, ok := g.swarms[swarmID]
	if !ok || entry.breaker.tripped() {
		return false
	}
	_, has := entry.caps[capability]
	return has
}

// UpdateReputation 写入信誉分，超出 [0,1] 的值会被截断。
func (g *Governor) UpdateReputation(swarmID string, score float64) error {
	if math.IsNaN(score) {
		return invalidProfile("reputation score is NaN")
	}
	g.mu.Lock()
	entry, ok := g.swarms[swarmID]
	if ok {
		entry.profile.ReputationScore = clamp01(score)
	}
	g.mu.Unlock()
	if !ok {
		return swarmNotFound(swarmID)
	}
	g.logger.Debug("reputation updated", zap.String("swarm_id", swarmID), zap.Float64("score", score))
	return nil
}

// BreakerStatus 返回熔断器快照
func (g *Governor) BreakerStatus(swarmID string) (BreakerStatus, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	entry, ok := g.swarms[swarmID]
	if !ok {
		return BreakerStatus{}, false
	}
	return entry.breaker.status(), true
}

// IsTripped 报告 swarm 是否处于熔断
func (g *Governor) IsTripped(swarmID string) bool {
	st, ok := g.BreakerStatus(swarmID)
	return ok && st.State == BreakerTripped
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
