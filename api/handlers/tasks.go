package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/swarmplane/coordinator"
	"github.com/BaSui01/swarmplane/types"
)

// =============================================================================
// 📋 Task Handler
// =============================================================================

// OutcomeRecorder 接收任务的终态结果，用于驱动熔断器与 SLO 统计
type OutcomeRecorder interface {
	RecordOutcome(ctx context.Context, swarmID string, success bool, latencyMs *float64)
}

// TaskHandler 任务生命周期处理器
type TaskHandler struct {
	coord    *coordinator.Coordinator
	outcomes OutcomeRecorder
	logger   *zap.Logger
}

// NewTaskHandler 创建任务处理器，outcomes 可以为 nil
func NewTaskHandler(coord *coordinator.Coordinator, outcomes OutcomeRecorder, logger *zap.Logger) *TaskHandler {
	return &TaskHandler{
		coord:    coord,
		outcomes: outcomes,
		logger:   orNop(logger).With(zap.String("handler", "tasks")),
	}
}

// SwarmActionRequest 认领与启动的请求体
type SwarmActionRequest struct {
	SwarmID string `json:"swarm_id"`
}

// CompleteTaskRequest 完成任务
type CompleteTaskRequest struct {
	SwarmID   string          `json:"swarm_id"`
	Result    json.RawMessage `json:"result,omitempty"`
	LatencyMs *float64        `json:"latency_ms,omitempty"`
}

// FailTaskRequest 任务失败
type FailTaskRequest struct {
	SwarmID   string   `json:"swarm_id"`
	Reason    string   `json:"reason"`
	LatencyMs *float64 `json:"latency_ms,omitempty"`
}

// HandleCreate 创建任务
// @Summary Create task
// @Tags tasks
// @Accept json
// @Produce json
// @Param request body coordinator.TaskSpec true "Task spec"
// @Success 201 {object} Response{data=map[string]string}
// @Failure 400 {object} Response
// @Router /api/v1/tasks [post]
func (h *TaskHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var spec coordinator.TaskSpec
	if !decodeRequest(w, r, &spec, h.logger) {
		return
	}

	taskID, err := h.coord.CreateTask(r.Context(), spec)
	if err != nil {
		WriteFailure(w, r, err, h.logger)
		return
	}
	WriteCreated(w, r, map[string]string{"task_id": taskID})
}

// HandleGet 查询任务
// @Router /api/v1/tasks/{id} [get]
func (h *TaskHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	taskID, ok := pathID(w, r, "id", h.logger)
	if !ok {
		return
	}

	task, err := h.coord.GetTask(r.Context(), taskID)
	if err != nil {
		WriteFailure(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, task)
}

// HandleClaim 认领任务。竞争失败不是错误，返回 claimed=false。
// @Router /api/v1/tasks/{id}/claim [post]
func (h *TaskHandler) HandleClaim(w http.ResponseWriter, r *http.Request) {
	taskID, req, ok := h.swarmAction(w, r)
	if !ok {
		return
	}

	won, err := h.coord.ClaimTask(r.Context(), req.SwarmID, taskID)
	if err != nil {
		WriteFailure(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, map[string]any{"task_id": taskID, "claimed": won})
}

// HandleStart 认领后开始执行
// @Router /api/v1/tasks/{id}/start [post]
func (h *TaskHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	taskID, req, ok := h.swarmAction(w, r)
	if !ok {
		return
	}

	if err := h.coord.StartTask(r.Context(), req.SwarmID, taskID); err != nil {
		WriteFailure(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, map[string]any{"task_id": taskID, "status": coordinator.StatusInProgress})
}

// HandleComplete 完成任务并记录成功结果
// @Router /api/v1/tasks/{id}/complete [post]
func (h *TaskHandler) HandleComplete(w http.ResponseWriter, r *http.Request) {
	taskID, ok := pathID(w, r, "id", h.logger)
	if !ok {
		return
	}
	var req CompleteTaskRequest
	if !decodeRequest(w, r, &req, h.logger) {
		return
	}
	if req.SwarmID == "" {
		WriteErrorMessage(w, r, http.StatusBadRequest, types.ErrInvalidRequest, "swarm_id is required", h.logger)
		return
	}

	var result any
	if len(req.Result) > 0 {
		result = req.Result
	}
	if err := h.coord.CompleteTask(r.Context(), req.SwarmID, taskID, result); err != nil {
		WriteFailure(w, r, err, h.logger)
		return
	}

	h.recordOutcome(r.Context(), taskID, req.SwarmID, true, req.LatencyMs)
	WriteSuccess(w, r, map[string]any{"task_id": taskID, "status": coordinator.StatusCompleted})
}

// HandleFail 报告任务失败，按重试上限决定是否重新排队
// @Router /api/v1/tasks/{id}/fail [post]
func (h *TaskHandler) HandleFail(w http.ResponseWriter, r *http.Request) {
	taskID, ok := pathID(w, r, "id", h.logger)
	if !ok {
		return
	}
	var req FailTaskRequest
	if !decodeRequest(w, r, &req, h.logger) {
		return
	}
	if req.SwarmID == "" {
		WriteErrorMessage(w, r, http.StatusBadRequest, types.ErrInvalidRequest, "swarm_id is required", h.logger)
		return
	}

	requeued, err := h.coord.FailTask(r.Context(), req.SwarmID, taskID, req.Reason)
	if err != nil {
		WriteFailure(w, r, err, h.logger)
		return
	}

	h.recordOutcome(r.Context(), taskID, req.SwarmID, false, req.LatencyMs)
	WriteSuccess(w, r, map[string]any{"task_id": taskID, "requeued": requeued})
}

func (h *TaskHandler) swarmAction(w http.ResponseWriter, r *http.Request) (string, SwarmActionRequest, bool) {
	var req SwarmActionRequest
	taskID, ok := pathID(w, r, "id", h.logger)
	if !ok {
		return "", req, false
	}
	if !decodeRequest(w, r, &req, h.logger) {
		return "", req, false
	}
	if req.SwarmID == "" {
		WriteErrorMessage(w, r, http.StatusBadRequest, types.ErrInvalidRequest, "swarm_id is required", h.logger)
		return "", req, false
	}
	return taskID, req, true
}

// recordOutcome 未提供延迟时用认领到完成的时间差估算
func (h *TaskHandler) recordOutcome(ctx context.Context, taskID, swarmID string, success bool, latencyMs *float64) {
	if h.outcomes == nil {
		return
	}
	if latencyMs == nil {
		if task, err := h.coord.GetTask(ctx, taskID); err == nil && task.ClaimedAt != nil && task.CompletedAt != nil {
			ms := float64(task.CompletedAt.Sub(*task.ClaimedAt).Microseconds()) / 1000
			latencyMs = &ms
		}
	}
	h.outcomes.RecordOutcome(ctx, swarmID, success, latencyMs)
}
