package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/swarmplane/audit"
	"github.com/BaSui01/swarmplane/coordination"
)

var unclaimed = []byte(coordination.Unclaimed)

// CreateTask 写入任务数据与 owner=unclaimed，返回任务 ID。
// 两个键在同一事务内写入，已存在的任务 ID 会被拒绝。
func (c *Coordinator) CreateTask(ctx context.Context, spec TaskSpec) (string, error) {
	start := time.Now()
	taskID := spec.TaskID
	if taskID == "" {
		taskID = uuid.NewString()
	}
	if !coordination.ValidID(taskID) {
		return "", invalidRequest("invalid task id %q", taskID)
	}

	task := Task{
		TaskID:               taskID,
		TaskType:             spec.TaskType,
		Status:               StatusUnclaimed,
		RequiredCapabilities: append([]string(nil), spec.RequiredCapabilities...),
		CreatedAt:            time.Now().UTC(),
		Metadata:             spec.Metadata,
	}
	data, err := json.Marshal(task)
	if err != nil {
		return "", fmt.Errorf("marshal task: %w", err)
	}

	ownerKey := coordination.TaskOwnerKey(taskID)
	created, err := c.store.Txn(ctx,
		coordination.Equal(ownerKey, nil),
		[]coordination.Op{
			coordination.PutOp(coordination.TaskDataKey(taskID), data),
			coordination.PutOp(ownerKey, unclaimed),
		}, nil)
	if err != nil {
		return "", err
	}
	if !created {
		return "", invalidRequest("task %s already exists", taskID)
	}

	c.logger.Debug("task created", zap.String("task_id", taskID), zap.String("task_type", spec.TaskType))
	c.audit.LogOperation(component, "create_task", map[string]any{
		"task_id":     taskID,
		"task_type":   spec.TaskType,
		"duration_ms": time.Since(start).Milliseconds(),
	}, audit.SeverityInfo)
	return taskID, nil
}

// GetTask 读取任务数据
func (c *Coordinator) GetTask(ctx context.Context, taskID string) (*Task, error) {
	data, ok, err := c.store.Get(ctx, coordination.TaskDataKey(taskID))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, taskNotFound(taskID)
	}
	var task Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("decode task %s: %w", taskID, err)
	}
	return &task, nil
}

// ClaimTask 原子认领任务。只有一个并发调用者返回 true；
// 竞争失败返回 false 且不产生任何副作用。
func (c *Coordinator) ClaimTask(ctx context.Context, swarmID, taskID string) (won bool, err error) {
	start := time.Now()
	ctx, span := c.startSpan(ctx, "claim_task", swarmID, taskID)
	defer func() {
		result := "lost"
		switch {
		case err != nil:
			result = "error"
		case won:
			result = "won"
		}
		c.metrics.RecordClaim(result, time.Since(start))
		endSpan(span, err)
	}()

	if !validSwarmID(swarmID) {
		return false, invalidRequest("invalid swarm id %q", swarmID)
	}
	task, err := c.GetTask(ctx, taskID)
	if err != nil {
		return false, err
	}
	// owner 与任务数据总在同一事务中变更，数据非 unclaimed 说明已被认领
	if task.Status != StatusUnclaimed {
		return false, nil
	}

	now := time.Now().UTC()
	from := task.Status
	task.Status = StatusClaimed
	task.Owner = swarmID
	task.ClaimedAt = &now
	task.CompletedAt = nil
	task.Attempts++
	data, err := json.Marshal(task)
	if err != nil {
		return false, fmt.Errorf("marshal task: %w", err)
	}

	ownerKey := coordination.TaskOwnerKey(taskID)
	won, err = c.store.Txn(ctx,
		coordination.Equal(ownerKey, unclaimed),
		[]coordination.Op{
			coordination.PutOp(ownerKey, []byte(swarmID)),
			coordination.PutOp(coordination.TaskDataKey(taskID), data),
		},
		nil)
	if err != nil || !won {
		return false, err
	}

	c.bumpTaskCount(ctx, swarmID)
	c.metrics.RecordTaskTransition(string(from), string(StatusClaimed))
	c.logger.Debug("task claimed", zap.String("task_id", taskID), zap.String("swarm_id", swarmID))
	c.audit.LogOperation(component, "claim_task", map[string]any{
		"actor":       swarmID,
		"task_id":     taskID,
		"attempt":     task.Attempts,
		"duration_ms": time.Since(start).Milliseconds(),
	}, audit.SeverityInfo)
	return true, nil
}

// StartTask claimed → in_progress，仅 owner 可调用。
func (c *Coordinator) StartTask(ctx context.Context, swarmID, taskID string) (err error) {
	start := time.Now()
	ctx, span := c.startSpan(ctx, "start_task", swarmID, taskID)
	defer func() { endSpan(span, err) }()

	task, err := c.ownedTask(ctx, "start_task", swarmID, taskID)
	if err != nil {
		return err
	}
	if task.Status != StatusClaimed {
		return invalidTransition(taskID, task.Status, StatusInProgress)
	}
	task.Status = StatusInProgress
	if err := c.writeIfOwner(ctx, task, swarmID); err != nil {
		return err
	}

	c.metrics.RecordTaskTransition(string(StatusClaimed), string(StatusInProgress))
	c.audit.LogOperation(component, "start_task", map[string]any{
		"actor":       swarmID,
		"task_id":     taskID,
		"duration_ms": time.Since(start).Milliseconds(),
	}, audit.SeverityInfo)
	return nil
}

// CompleteTask 将任务置为 completed 并记录结果，仅 owner 可调用。
func (c *Coordinator) CompleteTask(ctx context.Context, swarmID, taskID string, result any) (err error) {
	start := time.Now()
	ctx, span := c.startSpan(ctx, "complete_task", swarmID, taskID)
	defer func() { endSpan(span, err) }()

	task, err := c.ownedTask(ctx, "complete_task", swarmID, taskID)
	if err != nil {
		return err
	}
	if task.Status != StatusClaimed && task.Status != StatusInProgress {
		return invalidTransition(taskID, task.Status, StatusCompleted)
	}

	if result != nil {
		raw, err := json.Marshal(result)
		if err != nil {
			return invalidRequest("result is not serializable: %v", err)
		}
		task.Result = raw
	}
	from := task.Status
	now := time.Now().UTC()
	task.Status = StatusCompleted
	task.CompletedAt = &now
	task.Error = ""
	if err := c.writeIfOwner(ctx, task, swarmID); err != nil {
		return err
	}

	c.metrics.RecordTaskTransition(string(from), string(StatusCompleted))
	c.logger.Debug("task completed", zap.String("task_id", taskID), zap.String("swarm_id", swarmID))
	c.audit.LogOperation(component, "complete_task", map[string]any{
		"actor":       swarmID,
		"task_id":     taskID,
		"duration_ms": time.Since(start).Milliseconds(),
	}, audit.SeverityInfo)
	return nil
}

// FailTask 记录失败原因。未达到 MaxAttempts 时任务回到 unclaimed 并释放所有权；
// 达到上限后停留在 failed，owner 保留。返回值表示任务是否被重新排队。
func (c *Coordinator) FailTask(ctx context.Context, swarmID, taskID, reason string) (requeued bool, err error) {
	start := time.Now()
	ctx, span := c.startSpan(ctx, "fail_task", swarmID, taskID)
	defer func() { endSpan(span, err) }()

	task, err := c.ownedTask(ctx, "fail_task", swarmID, taskID)
	if err != nil {
		return false, err
	}
	if task.Status != StatusClaimed && task.Status != StatusInProgress {
		return false, invalidTransition(taskID, task.Status, StatusFailed)
	}

	from := task.Status
	task.Error = reason
	exhausted := c.config.MaxAttempts > 0 && task.Attempts >= c.config.MaxAttempts

	ownerKey := coordination.TaskOwnerKey(taskID)
	var ops []coordination.Op
	if exhausted {
		now := time.Now().UTC()
		task.Status = StatusFailed
		task.CompletedAt = &now
		data, err := json.Marshal(task)
		if err != nil {
			return false, fmt.Errorf("marshal task: %w", err)
		}
		ops = []coordination.Op{coordination.PutOp(coordination.TaskDataKey(taskID), data)}
	} else {
		task.Status = StatusUnclaimed
		task.Owner = ""
		task.ClaimedAt = nil
		data, err := json.Marshal(task)
		if err != nil {
			return false, fmt.Errorf("marshal task: %w", err)
		}
		ops = []coordination.Op{
			coordination.PutOp(ownerKey, unclaimed),
			coordination.PutOp(coordination.TaskDataKey(taskID), data),
		}
	}

	ok, err := c.store.Txn(ctx, coordination.Equal(ownerKey, []byte(swarmID)), ops, nil)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, c.rejectOwnership(ctx, "fail_task", swarmID, taskID)
	}

	c.metrics.RecordTaskTransition(string(from), string(StatusFailed))
	if !exhausted {
		c.metrics.RecordTaskTransition(string(StatusFailed), string(StatusUnclaimed))
	}
	c.logger.Info("task failed",
		zap.String("task_id", taskID),
		zap.String("swarm_id", swarmID),
		zap.String("reason", reason),
		zap.Bool("requeued", !exhausted),
	)
	c.audit.LogOperation(component, "fail_task", map[string]any{
		"actor":       swarmID,
		"task_id":     taskID,
		"reason":      reason,
		"attempts":    task.Attempts,
		"requeued":    !exhausted,
		"duration_ms": time.Since(start).Milliseconds(),
	}, audit.SeverityWarning)
	return !exhausted, nil
}

// ownedTask 重新读取 owner 键并校验调用方是否为当前 owner。
func (c *Coordinator) ownedTask(ctx context.Context, op, swarmID, taskID string) (*Task, error) {
	owner, ok, err := c.store.Get(ctx, coordination.TaskOwnerKey(taskID))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, taskNotFound(taskID)
	}
	if string(owner) != swarmID || !validSwarmID(swarmID) {
		return nil, c.ownershipError(op, swarmID, taskID, string(owner))
	}
	return c.GetTask(ctx, taskID)
}

// writeIfOwner 仅当 owner 仍为 swarmID 时写入任务数据。
func (c *Coordinator) writeIfOwner(ctx context.Context, task *Task, swarmID string) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	ok, err := c.store.Txn(ctx,
		coordination.Equal(coordination.TaskOwnerKey(task.TaskID), []byte(swarmID)),
		[]coordination.Op{coordination.PutOp(coordination.TaskDataKey(task.TaskID), data)},
		nil)
	if err != nil {
		return err
	}
	if !ok {
		return c.rejectOwnership(ctx, "write_task", swarmID, task.TaskID)
	}
	return nil
}

func (c *Coordinator) rejectOwnership(ctx context.Context, op, swarmID, taskID string) error {
	owner, _, err := c.store.Get(ctx, coordination.TaskOwnerKey(taskID))
	if err != nil {
		return err
	}
	return c.ownershipError(op, swarmID, taskID, string(owner))
}

func (c *Coordinator) ownershipError(op, swarmID, taskID, owner string) error {
	c.logger.Warn("ownership violation",
		zap.String("operation", op),
		zap.String("task_id", taskID),
		zap.String("swarm_id", swarmID),
		zap.String("owner", owner),
	)
	c.audit.LogOperation(component, "ownership_violation", map[string]any{
		"actor":     swarmID,
		"task_id":   taskID,
		"operation": op,
		"owner":     owner,
	}, audit.SeverityWarning)
	return ownershipViolation(taskID, swarmID, owner)
}

// validSwarmID 在键合法性之外还排除保留值 "unclaimed"。
func validSwarmID(id string) bool {
	return coordination.ValidID(id) && id != coordination.Unclaimed
}
