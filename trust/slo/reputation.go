package slo

import (
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/swarmplane/audit"
	"github.com/BaSui01/swarmplane/types"
)

// 扣分上限
const (
	maxSuccessPenalty = 0.30
	maxLatencyPenalty = 0.20
)

// 扣分类型
const (
	PenaltySuccessShortfall = "success_shortfall"
	PenaltyLatencyOverage   = "latency_overage"
	PenaltyDecay            = "decay"
)

// Penalty 一次扣分明细
type Penalty struct {
	Kind   string  `json:"kind"`
	Amount float64 `json:"amount"`
}

// ReputationScore 信誉分快照
type ReputationScore struct {
	SwarmID        string         `json:"swarm_id"`
	Score          float64        `json:"score"`
	Timestamp      time.Time      `json:"timestamp"`
	ComplianceUsed *SLOCompliance `json:"compliance_used,omitempty"`
	Penalties      []Penalty      `json:"penalties,omitempty"`
}

// ReputationSink 接收发布的信誉分，governor.Governor 满足该接口
type ReputationSink interface {
	UpdateReputation(swarmID string, score float64) error
}

// ReputationConfig 信誉系统配置
type ReputationConfig struct {
	// HistorySize 每个 swarm 保留的历史条数
	HistorySize int `yaml:"history_size" json:"history_size"`
}

// DefaultReputationConfig 返回默认配置
func DefaultReputationConfig() ReputationConfig {
	return ReputationConfig{HistorySize: 100}
}

// ReputationSystem 基于 SLO 合规的信誉评分
type ReputationSystem struct {
	tracker *Tracker
	config  ReputationConfig
	opts    options

	mu      sync.RWMutex
	history map[string]*ring[ReputationScore]
}

// NewReputationSystem 创建信誉系统
func NewReputationSystem(tracker *Tracker, cfg ReputationConfig, opts ...Option) *ReputationSystem {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultReputationConfig().HistorySize
	}
	return &ReputationSystem{
		tracker: tracker,
		config:  cfg,
		opts:    buildOptions(opts),
		history: make(map[string]*ring[ReputationScore]),
	}
}

// Score 根据当前合规快照计算信誉分并追加到历史。
// 没有任何样本的 swarm 得 1.0。
func (r *ReputationSystem) Score(swarmID string) ReputationScore {
	compliance, ok := r.tracker.ComputeCompliance(swarmID)
	snapshot := ReputationScore{
		SwarmID:   swarmID,
		Score:     1.0,
		Timestamp: r.opts.now().UTC(),
	}
	if ok {
		snapshot.Score, snapshot.Penalties = scoreCompliance(compliance)
		snapshot.ComplianceUsed = compliance
	}
	r.append(snapshot)
	return snapshot
}

// scoreCompliance 从 1.0 起扣除成功率与延迟罚分，再乘以成功率，最后截断到 [0,1]。
func scoreCompliance(c *SLOCompliance) (float64, []Penalty) {
	score := 1.0
	var penalties []Penalty

	if shortfall := c.Objective.SuccessRate - c.SuccessRate; shortfall > 0 {
		p := math.Min(2*shortfall, maxSuccessPenalty)
		score -= p
		penalties = append(penalties, Penalty{Kind: PenaltySuccessShortfall, Amount: p})
	}
	if c.Objective.P99LatencyMs > 0 && c.P99LatencyMs > c.Objective.P99LatencyMs {
		ratio := c.P99LatencyMs / c.Objective.P99LatencyMs
		p := math.Min(0.2*(ratio-1), maxLatencyPenalty)
		score -= p
		penalties = append(penalties, Penalty{Kind: PenaltyLatencyOverage, Amount: p})
	}

	score *= c.SuccessRate
	return clamp01(score), penalties
}

func (r *ReputationSystem) append(s ReputationScore) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.history[s.SwarmID]
	if !ok {
		h = newRing[ReputationScore](r.config.HistorySize)
		r.history[s.SwarmID] = h
	}
	h.push(s)
}

// Current 返回最新一条历史记录
func (r *ReputationSystem) Current(swarmID string) (ReputationScore, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.history[swarmID]
	if !ok {
		return ReputationScore{}, false
	}
	return h.last()
}

// History 返回历史记录（旧到新）
func (r *ReputationSystem) History(swarmID string) []ReputationScore {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.history[swarmID]
	if !ok {
		return nil
	}
	return h.items()
}

// ApplyDecay 对当前分数施加时间衰减 score *= (1-rate)^daysInactive，并作为新条目追加。
// 没有历史的 swarm 以 1.0 为基数。只在显式调用时执行。
func (r *ReputationSystem) ApplyDecay(swarmID string, rate, daysInactive float64) (ReputationScore, error) {
	if !(rate >= 0 && rate <= 1) {
		return ReputationScore{}, types.Errorf(types.ErrInvalidRequest, "decay rate must be in [0,1], got %v", rate).WithComponent(component)
	}
	if !(daysInactive >= 0) || math.IsInf(daysInactive, 0) {
		return ReputationScore{}, types.Errorf(types.ErrInvalidRequest, "days inactive must be a non-negative number, got %v", daysInactive).WithComponent(component)
	}

	base := 1.0
	if cur, ok := r.Current(swarmID); ok {
		base = cur.Score
	}
	decayed := clamp01(base * math.Pow(1-rate, daysInactive))
	snapshot := ReputationScore{
		SwarmID:   swarmID,
		Score:     decayed,
		Timestamp: r.opts.now().UTC(),
		Penalties: []Penalty{{Kind: PenaltyDecay, Amount: base - decayed}},
	}
	r.append(snapshot)
	r.opts.logger.Info("reputation decayed",
		zap.String("swarm_id", swarmID),
		zap.Float64("from", base),
		zap.Float64("to", decayed),
		zap.Float64("days_inactive", daysInactive),
	)
	return snapshot, nil
}

// Publish 重新评分并推送给 ReputationSink
func (r *ReputationSystem) Publish(swarmID string) (ReputationScore, error) {
	snapshot := r.Score(swarmID)
	if r.opts.sink == nil {
		return snapshot, nil
	}
	if err := r.opts.sink.UpdateReputation(swarmID, snapshot.Score); err != nil {
		return snapshot, fmt.Errorf("publish reputation for %s: %w", swarmID, err)
	}
	r.opts.audit.LogOperation(component, "publish_reputation", map[string]any{
		"actor":     swarmID,
		"score":     snapshot.Score,
		"penalties": len(snapshot.Penalties),
	}, audit.SeverityInfo)
	return snapshot, nil
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
