package governor

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/swarmplane/audit"
)

// TrackCost 从 swarm 预算中扣减 cost（允许变为负数），转发给账本并审计。
// 扣减后余额不大于 0 时以 budget_exhausted 熔断。返回扣减后的余额。
func (g *Governor) TrackCost(ctx context.Context, swarmID, operation string, cost float64, metadata map[string]any) (float64, error) {
	if math.IsNaN(cost) || math.IsInf(cost, 0) {
		return 0, invalidProfile("cost must be a finite number, got %v", cost)
	}

	g.mu.Lock()
	entry, ok := g.swarms[swarmID]
	if !ok {
		g.mu.Unlock()
		return 0, swarmNotFound(swarmID)
	}
	entry.profile.CurrentBudgetRemaining -= cost
	remaining := entry.profile.CurrentBudgetRemaining
	tripped := false
	if remaining <= 0 {
		tripped = entry.breaker.trip(ReasonBudgetExhausted)
	}
	g.mu.Unlock()

	g.metrics.RecordCost(swarmID, cost)

	if g.policy.EnableCostTracking && g.ledger != nil {
		if err := g.ledger.TrackOperationCost(ctx, swarmID, operation, cost, metadata); err != nil {
			// 账本是纯记录方，写入失败不回滚已扣减的预算
			g.logger.Error("cost ledger write failed",
				zap.String("swarm_id", swarmID),
				zap.String("operation", operation),
				zap.Error(err),
			)
		}
	}

	g.routineAudit("track_cost", map[string]any{
		"actor":     swarmID,
		"operation": operation,
		"cost":      cost,
		"remaining": remaining,
	})

	if tripped {
		g.onTrip(ctx, swarmID, ReasonBudgetExhausted, map[string]any{
			"remaining": remaining,
			"operation": operation,
		})
	}
	return remaining, nil
}

// RecordTaskFailure 递增连续失败计数，达到阈值时熔断。返回本次调用是否触发熔断。
func (g *Governor) RecordTaskFailure(ctx context.Context, swarmID string) (bool, error) {
	g.mu.Lock()
	entry, ok := g.swarms[swarmID]
	if !ok {
		g.mu.Unlock()
		return false, swarmNotFound(swarmID)
	}
	tripped := entry.breaker.recordFailure(g.policy.CircuitBreakerFailureThreshold)
	failures := entry.breaker.failures
	g.mu.Unlock()

	g.logger.Debug("task failure recorded", zap.String("swarm_id", swarmID), zap.Int("consecutive_failures", failures))
	if tripped {
		g.onTrip(ctx, swarmID, ReasonFailureThreshold, map[string]any{
			"consecutive_failures": failures,
			"threshold":            g.policy.CircuitBreakerFailureThreshold,
		})
	}
	return tripped, nil
}

// RecordTaskSuccess 清零连续失败计数
func (g *Governor) RecordTaskSuccess(swarmID string) error {
	g.mu.Lock()
	entry, ok := g.swarms[swarmID]
	if ok {
		entry.breaker.recordSuccess()
	}
	g.mu.Unlock()
	if !ok {
		return swarmNotFound(swarmID)
	}
	return nil
}

// ResetCircuitBreaker 显式恢复熔断器，可同时设置新预算。始终审计。
func (g *Governor) ResetCircuitBreaker(ctx context.Context, swarmID string, newBudget *float64, actor string) error {
	if newBudget != nil && (math.IsNaN(*newBudget) || math.IsInf(*newBudget, 0)) {
		return invalidProfile("budget must be a finite number")
	}

	g.mu.Lock()
	entry, ok := g.swarms[swarmID]
	if !ok {
		g.mu.Unlock()
		return swarmNotFound(swarmID)
	}
	prev := entry.breaker.status()
	entry.breaker.reset()
	if newBudget != nil {
		entry.profile.CurrentBudgetRemaining = *newBudget
	}
	budget := entry.profile.CurrentBudgetRemaining
	g.mu.Unlock()

	g.logger.Warn("circuit breaker reset",
		zap.String("swarm_id", swarmID),
		zap.String("actor", actor),
		zap.String("previous_state", prev.State.String()),
		zap.Float64("budget", budget),
	)
	g.audit.LogOperation(component, "reset_circuit_breaker", map[string]any{
		"actor":           actor,
		"swarm_id":        swarmID,
		"previous_state":  prev.State.String(),
		"previous_reason": string(prev.Reason),
		"budget":          budget,
		"budget_replaced": newBudget != nil,
	}, audit.SeverityHigh)
	return nil
}

// onTrip 熔断是高调事件：高等级审计、指标，并写入升级记录。
func (g *Governor) onTrip(ctx context.Context, swarmID string, reason TripReason, details map[string]any) {
	g.metrics.RecordBreakerTrip(string(reason))
	g.logger.Error("circuit breaker tripped",
		zap.String("swarm_id", swarmID),
		zap.String("reason", string(reason)),
		zap.Any("details", details),
	)

	params := map[string]any{
		"swarm_id":   swarmID,
		"reason":     string(reason),
		"tripped_at": time.Now().UTC().Format(time.RFC3339Nano),
	}
	for k, v := range details {
		params[k] = v
	}
	g.audit.LogOperation(component, "circuit_breaker_tripped", params, audit.SeverityCritical)

	if g.escalator != nil {
		if err := g.escalator.Escalate(ctx, swarmID, string(reason), params); err != nil {
			g.logger.Error("failed to escalate circuit breaker trip",
				zap.String("swarm_id", swarmID),
				zap.Error(err),
			)
		}
	}
}
