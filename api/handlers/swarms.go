package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/BaSui01/swarmplane/coordinator"
	"github.com/BaSui01/swarmplane/governor"
	"github.com/BaSui01/swarmplane/types"
)

// =============================================================================
// 🐝 Swarm Handler
// =============================================================================

// SwarmHandlerConfig 推送通道参数
type SwarmHandlerConfig struct {
	// PushBuffer 每个 WebSocket 连接的任务缓冲
	PushBuffer int
	// WriteTimeout 单条推送的写超时
	WriteTimeout time.Duration
	// OriginPatterns 允许的跨域来源，为空时只接受同源
	OriginPatterns []string
}

// DefaultSwarmHandlerConfig 默认推送参数
func DefaultSwarmHandlerConfig() SwarmHandlerConfig {
	return SwarmHandlerConfig{
		PushBuffer:   64,
		WriteTimeout: 10 * time.Second,
	}
}

// SwarmHandler swarm 注册、画像与推送处理器
type SwarmHandler struct {
	coord  *coordinator.Coordinator
	gov    *governor.Governor
	config SwarmHandlerConfig
	logger *zap.Logger
}

// NewSwarmHandler 创建 swarm 处理器
func NewSwarmHandler(coord *coordinator.Coordinator, gov *governor.Governor, cfg SwarmHandlerConfig, logger *zap.Logger) *SwarmHandler {
	defaults := DefaultSwarmHandlerConfig()
	if cfg.PushBuffer <= 0 {
		cfg.PushBuffer = defaults.PushBuffer
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	return &SwarmHandler{
		coord:  coord,
		gov:    gov,
		config: cfg,
		logger: orNop(logger).With(zap.String("handler", "swarms")),
	}
}

// RegisterSwarmRequest 同时写入协调器注册记录与治理画像
type RegisterSwarmRequest struct {
	SwarmID                string         `json:"swarm_id"`
	Capabilities           []string       `json:"capabilities"`
	Metadata               map[string]any `json:"metadata,omitempty"`
	CostPerHour            float64        `json:"cost_per_hour"`
	ReputationScore        *float64       `json:"reputation_score,omitempty"`
	CurrentBudgetRemaining float64        `json:"current_budget_remaining"`
	Model                  string         `json:"model,omitempty"`
	MaxConcurrentTasks     int            `json:"max_concurrent_tasks,omitempty"`
}

// SwarmDetail 单个 swarm 的完整视图
type SwarmDetail struct {
	Registration *coordinator.SwarmRegistration `json:"registration"`
	Profile      *governor.SwarmProfile         `json:"profile,omitempty"`
	Breaker      *governor.BreakerStatus        `json:"breaker,omitempty"`
}

// HandleRegister 注册或替换 swarm。画像校验先于注册记录写入。
// 重复注册保留熔断状态，已有的推送监听会被取消。
// @Router /api/v1/swarms [post]
func (h *SwarmHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterSwarmRequest
	if !decodeRequest(w, r, &req, h.logger) {
		return
	}

	reputation := 1.0
	if req.ReputationScore != nil {
		reputation = *req.ReputationScore
	}
	_, existed := h.gov.Profile(req.SwarmID)
	err := h.gov.RegisterSwarm(governor.SwarmProfile{
		SwarmID:                req.SwarmID,
		Capabilities:           req.Capabilities,
		CostPerHour:            req.CostPerHour,
		ReputationScore:        reputation,
		CurrentBudgetRemaining: req.CurrentBudgetRemaining,
		Model:                  req.Model,
		MaxConcurrentTasks:     req.MaxConcurrentTasks,
	})
	if err != nil {
		WriteFailure(w, r, err, h.logger)
		return
	}

	if err := h.coord.RegisterSwarm(r.Context(), req.SwarmID, req.Capabilities, req.Metadata, nil); err != nil {
		if !existed {
			h.gov.UnregisterSwarm(req.SwarmID)
		}
		WriteFailure(w, r, err, h.logger)
		return
	}

	WriteCreated(w, r, map[string]any{"swarm_id": req.SwarmID, "replaced": existed})
}

// HandleList 按 ID 排序列出治理画像
// @Router /api/v1/swarms [get]
func (h *SwarmHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, r, h.gov.Swarms())
}

// HandleGet 注册记录、画像与熔断器状态
// @Router /api/v1/swarms/{id} [get]
func (h *SwarmHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	swarmID, ok := pathID(w, r, "id", h.logger)
	if !ok {
		return
	}

	reg, err := h.coord.Swarm(r.Context(), swarmID)
	if err != nil {
		WriteFailure(w, r, err, h.logger)
		return
	}
	detail := SwarmDetail{Registration: reg}
	if profile, ok := h.gov.Profile(swarmID); ok {
		detail.Profile = &profile
	}
	if status, ok := h.gov.BreakerStatus(swarmID); ok {
		detail.Breaker = &status
	}
	WriteSuccess(w, r, detail)
}

// HandleUnregister 删除注册记录、画像与熔断状态
// @Router /api/v1/swarms/{id} [delete]
func (h *SwarmHandler) HandleUnregister(w http.ResponseWriter, r *http.Request) {
	swarmID, ok := pathID(w, r, "id", h.logger)
	if !ok {
		return
	}

	if err := h.coord.UnregisterSwarm(r.Context(), swarmID); err != nil {
		WriteFailure(w, r, err, h.logger)
		return
	}
	removed := h.gov.UnregisterSwarm(swarmID)
	WriteSuccess(w, r, map[string]any{"swarm_id": swarmID, "profile_removed": removed})
}

// HandlePushTask 向 swarm 的广播键写入任务通知，不保证送达
// @Router /api/v1/swarms/{id}/push [post]
func (h *SwarmHandler) HandlePushTask(w http.ResponseWriter, r *http.Request) {
	swarmID, ok := pathID(w, r, "id", h.logger)
	if !ok {
		return
	}
	var task coordinator.Task
	if !decodeRequest(w, r, &task, h.logger) {
		return
	}
	if task.TaskID == "" {
		WriteErrorMessage(w, r, http.StatusBadRequest, types.ErrInvalidRequest, "task_id is required", h.logger)
		return
	}

	if err := h.coord.PushTaskToSwarm(r.Context(), swarmID, &task); err != nil {
		WriteFailure(w, r, err, h.logger)
		return
	}
	WriteJSON(w, http.StatusAccepted, Response{Success: true, Data: map[string]string{"task_id": task.TaskID}, Timestamp: time.Now(), RequestID: requestID(r)})
}

// HandlePushStream 把推送通道桥接到 WebSocket。连接断开时只解除本连接的监听。
// @Router /api/v1/swarms/{id}/push [get]
func (h *SwarmHandler) HandlePushStream(w http.ResponseWriter, r *http.Request) {
	swarmID, ok := pathID(w, r, "id", h.logger)
	if !ok {
		return
	}
	// 升级前确认已注册，未注册时返回普通 404
	if _, err := h.coord.Swarm(r.Context(), swarmID); err != nil {
		WriteFailure(w, r, err, h.logger)
		return
	}

	// 长连接不受 http.Server 的读写超时约束，写超时由 writeTask 单独控制
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.config.OriginPatterns})
	if err != nil {
		h.logger.Warn("websocket accept failed", zap.String("swarm_id", swarmID), zap.Error(err))
		return
	}
	defer conn.CloseNow()

	// 客户端不发送数据，CloseRead 在对端关闭时取消 ctx
	ctx := conn.CloseRead(r.Context())

	push := make(chan *coordinator.Task, h.config.PushBuffer)
	if err := h.coord.AttachPush(ctx, swarmID, push); err != nil {
		h.logger.Warn("attach push failed", zap.String("swarm_id", swarmID), zap.Error(err))
		conn.Close(websocket.StatusInternalError, "attach push failed")
		return
	}
	defer h.coord.DetachPush(swarmID, push)

	h.logger.Info("push stream opened", zap.String("swarm_id", swarmID))
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("push stream closed", zap.String("swarm_id", swarmID))
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case task := <-push:
			if err := h.writeTask(ctx, conn, task); err != nil {
				h.logger.Warn("push write failed",
					zap.String("swarm_id", swarmID),
					zap.String("task_id", task.TaskID),
					zap.Error(err),
				)
				return
			}
		}
	}
}

func (h *SwarmHandler) writeTask(ctx context.Context, conn *websocket.Conn, task *coordinator.Task) error {
	ctx, cancel := context.WithTimeout(ctx, h.config.WriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, task)
}
