package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/swarmplane/audit"
	"github.com/BaSui01/swarmplane/coordination"
	"github.com/BaSui01/swarmplane/types"
)

// DetectBlocker 写入阻塞记录和待处理升级记录，然后异步通知编排方。
// 通知失败或队列已满只记录日志，不影响返回值。
func (c *Coordinator) DetectBlocker(ctx context.Context, swarmID string, info BlockerInfo) (*Escalation, error) {
	start := time.Now()
	if !coordination.ValidID(swarmID) {
		return nil, invalidRequest("invalid swarm id %q", swarmID)
	}
	if info.Severity == "" {
		info.Severity = "high"
	}

	at := time.Now().UTC()
	esc := &Escalation{
		SwarmID:    swarmID,
		TaskID:     info.TaskID,
		Reason:     info.Reason,
		Severity:   info.Severity,
		Details:    info.Details,
		DetectedAt: at,
		BlockerKey: coordination.BlockerKey(swarmID, at),
		PendingKey: coordination.PendingBlockerKey(swarmID, at),
	}
	data, err := json.Marshal(esc)
	if err != nil {
		return nil, fmt.Errorf("marshal escalation: %w", err)
	}

	if err := c.store.Put(ctx, esc.BlockerKey, data); err != nil {
		return nil, err
	}
	if err := c.store.Put(ctx, esc.PendingKey, data); err != nil {
		return nil, err
	}
	if err := c.updatePendingIndex(ctx, func(keys []string) []string {
		return append(keys, esc.PendingKey)
	}); err != nil {
		return nil, err
	}

	c.metrics.RecordEscalation(component)
	c.logger.Warn("blocker detected",
		zap.String("swarm_id", swarmID),
		zap.String("task_id", info.TaskID),
		zap.String("reason", info.Reason),
	)
	c.audit.LogOperation(component, "detect_blocker", map[string]any{
		"actor":       swarmID,
		"task_id":     info.TaskID,
		"reason":      info.Reason,
		"severity":    info.Severity,
		"pending_key": esc.PendingKey,
		"duration_ms": time.Since(start).Milliseconds(),
	}, audit.SeverityHigh)

	if c.notifier != nil {
		notified := *esc
		if err := c.pool.Submit("notify_escalation", func(ctx context.Context) error {
			return c.notifier.NotifyEscalation(ctx, &notified)
		}); err != nil {
			c.logger.Warn("escalation notification dropped", zap.String("pending_key", esc.PendingKey), zap.Error(err))
		}
	}
	return esc, nil
}

// Escalate 供治理器在熔断时记录升级，签名与 governor.Escalator 一致。
func (c *Coordinator) Escalate(ctx context.Context, swarmID, reason string, details map[string]any) error {
	_, err := c.DetectBlocker(ctx, swarmID, BlockerInfo{
		Reason:   reason,
		Severity: "critical",
		Details:  details,
	})
	return err
}

// PendingEscalations 返回所有待处理升级记录，按检测顺序排列。
func (c *Coordinator) PendingEscalations(ctx context.Context) ([]*Escalation, error) {
	keys, _, err := c.readPendingIndex(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*Escalation, 0, len(keys))
	for _, key := range keys {
		data, ok, err := c.store.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		var esc Escalation
		if err := json.Unmarshal(data, &esc); err != nil {
			c.logger.Warn("malformed escalation record", zap.String("key", key), zap.Error(err))
			continue
		}
		out = append(out, &esc)
	}
	return out, nil
}

// ResolveEscalation 删除待处理记录并从索引中移除，阻塞记录本身保留。
func (c *Coordinator) ResolveEscalation(ctx context.Context, pendingKey, actor string) error {
	if err := c.store.Delete(ctx, pendingKey); err != nil {
		return err
	}
	if err := c.updatePendingIndex(ctx, func(keys []string) []string {
		out := keys[:0]
		for _, k := range keys {
			if k != pendingKey {
				out = append(out, k)
			}
		}
		return out
	}); err != nil {
		return err
	}
	c.audit.LogOperation(component, "resolve_escalation", map[string]any{
		"actor":       actor,
		"pending_key": pendingKey,
	}, audit.SeverityInfo)
	return nil
}

func (c *Coordinator) readPendingIndex(ctx context.Context) ([]string, []byte, error) {
	raw, ok, err := c.store.Get(ctx, coordination.PendingBlockersIndexKey())
	if err != nil {
		return nil, nil, err
	}
	if !ok || len(raw) == 0 {
		return nil, raw, nil
	}
	var keys []string
	if err := json.Unmarshal(raw, &keys); err != nil {
		return nil, nil, fmt.Errorf("decode pending escalation index: %w", err)
	}
	return keys, raw, nil
}

// updatePendingIndex 以比较交换循环更新索引，基座只提供单键事务。
func (c *Coordinator) updatePendingIndex(ctx context.Context, mutate func([]string) []string) error {
	key := coordination.PendingBlockersIndexKey()
	for i := 0; i < c.config.IndexRetries; i++ {
		keys, raw, err := c.readPendingIndex(ctx)
		if err != nil {
			return err
		}
		next, err := json.Marshal(mutate(keys))
		if err != nil {
			return fmt.Errorf("encode pending escalation index: %w", err)
		}
		ok, err := c.store.Txn(ctx, coordination.Equal(key, raw), []coordination.Op{coordination.PutOp(key, next)}, nil)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return types.Errorf(types.ErrServiceUnavailable, "pending escalation index contended after %d attempts", c.config.IndexRetries).
		WithRetryable(true).
		WithComponent(component)
}
