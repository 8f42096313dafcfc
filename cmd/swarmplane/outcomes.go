package main

import (
	"context"

	"go.uber.org/zap"

	"github.com/BaSui01/swarmplane/governor"
	"github.com/BaSui01/swarmplane/trust/slo"
)

// outcomeRecorder 把任务终态同时写入熔断器与 SLO 样本
type outcomeRecorder struct {
	gov     *governor.Governor
	tracker *slo.Tracker
	logger  *zap.Logger
}

// RecordOutcome 实现 handlers.OutcomeRecorder。swarm 只在协调器注册、未在治理器登记时只记 SLO。
func (o *outcomeRecorder) RecordOutcome(ctx context.Context, swarmID string, success bool, latencyMs *float64) {
	var err error
	if success {
		err = o.gov.RecordTaskSuccess(swarmID)
	} else {
		_, err = o.gov.RecordTaskFailure(ctx, swarmID)
	}
	if err != nil {
		o.logger.Debug("breaker not updated", zap.String("swarm_id", swarmID), zap.Error(err))
	}
	o.tracker.RecordMetric(swarmID, latencyMs, success)
}
