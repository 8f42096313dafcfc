package governor

import (
	"math"
	"sort"

	"go.uber.org/zap"
)

// Candidate 一个合格的候选 swarm
type Candidate struct {
	SwarmID     string  `json:"swarm_id"`
	Coverage    float64 `json:"coverage"`
	Reputation  float64 `json:"reputation"`
	CostPerHour float64 `json:"cost_per_hour"`
	Score       float64 `json:"score"`
}

// coverage 计算需求能力集合被覆盖的比例，空需求视为完全覆盖。
func coverage(required []string, available map[string]struct{}) float64 {
	if len(required) == 0 {
		return 1.0
	}
	seen := make(map[string]struct{}, len(required))
	matched := 0
	for _, r := range required {
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		if _, ok := available[r]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(seen))
}

// effectiveMaxCost 取调用方上限与策略 MaxCostPerTask（大于 0 时）中较小者。
func (g *Governor) effectiveMaxCost(maxCost float64) float64 {
	if g.policy.MaxCostPerTask > 0 && g.policy.MaxCostPerTask < maxCost {
		return g.policy.MaxCostPerTask
	}
	return maxCost
}

// RankQualifiedSwarms 返回所有合格候选，按分数降序、同分按 swarm ID 升序。
// 合格条件：未熔断、预算大于 0、覆盖率不低于 MinCapabilityMatch、单价不超过 maxCost。
func (g *Governor) RankQualifiedSwarms(required []string, maxCost float64) []Candidate {
	maxCost = g.effectiveMaxCost(maxCost)

	g.mu.RLock()
	candidates := make([]Candidate, 0, len(g.swarms))
	for id, entry := range g.swarms {
		if entry.breaker.tripped() || entry.profile.CurrentBudgetRemaining <= 0 {
			continue
		}
		cov := coverage(required, entry.caps)
		if cov < g.policy.MinCapabilityMatch {
			continue
		}
		if entry.profile.CostPerHour > maxCost {
			continue
		}
		candidates = append(candidates, Candidate{
			SwarmID:     id,
			Coverage:    cov,
			Reputation:  entry.profile.ReputationScore,
			CostPerHour: entry.profile.CostPerHour,
			Score:       cov * entry.profile.ReputationScore / entry.profile.CostPerHour,
		})
	}
	g.mu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].SwarmID < candidates[j].SwarmID
	})
	return candidates
}

// FindQualifiedSwarm 返回得分最高的合格 swarm；没有合格者时返回 ("", false)。
func (g *Governor) FindQualifiedSwarm(required []string, maxCost float64) (string, bool) {
	if math.IsNaN(maxCost) {
		return "", false
	}
	ranked := g.RankQualifiedSwarms(required, maxCost)
	if len(ranked) == 0 {
		g.logger.Debug("no qualified swarm", zap.Strings("required", required))
		return "", false
	}
	return ranked[0].SwarmID, true
}

// FindQualifiedSwarms 返回最多 MaxSwarmsPerTask 个合格 swarm，用于多 swarm 协作任务。
func (g *Governor) FindQualifiedSwarms(required []string, maxCost float64) []string {
	ranked := g.RankQualifiedSwarms(required, maxCost)
	limit := g.policy.MaxSwarmsPerTask
	if limit <= 0 || limit > len(ranked) {
		limit = len(ranked)
	}
	out := make([]string, 0, limit)
	for _, c := range ranked[:limit] {
		out = append(out, c.SwarmID)
	}
	return out
}
