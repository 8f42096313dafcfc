package handlers

import (
	"math"
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/swarmplane/governor"
	"github.com/BaSui01/swarmplane/internal/ctxkeys"
	"github.com/BaSui01/swarmplane/types"
)

// =============================================================================
// ⚖️ Governor Handler
// =============================================================================

// GovernorHandler 能力匹配、成本与熔断器处理器
type GovernorHandler struct {
	gov    *governor.Governor
	logger *zap.Logger
}

// NewGovernorHandler 创建治理处理器
func NewGovernorHandler(gov *governor.Governor, logger *zap.Logger) *GovernorHandler {
	return &GovernorHandler{
		gov:    gov,
		logger: orNop(logger).With(zap.String("handler", "governor")),
	}
}

// MatchRequest 能力匹配查询，max_cost 缺省表示不限
type MatchRequest struct {
	RequiredCapabilities []string `json:"required_capabilities"`
	MaxCost              *float64 `json:"max_cost,omitempty"`
}

// MatchResponse 最优 swarm、协作组与完整排名
type MatchResponse struct {
	SwarmID    string               `json:"swarm_id,omitempty"`
	Found      bool                 `json:"found"`
	Selected   []string             `json:"selected"`
	Candidates []governor.Candidate `json:"candidates"`
}

// TrackCostRequest 成本上报
type TrackCostRequest struct {
	Operation string         `json:"operation"`
	Cost      float64        `json:"cost"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// ResetBreakerRequest 熔断器重置，budget 缺省时保留当前余额
type ResetBreakerRequest struct {
	Budget *float64 `json:"budget,omitempty"`
}

// HandleMatch 查找合格 swarm
// @Router /api/v1/governor/match [post]
func (h *GovernorHandler) HandleMatch(w http.ResponseWriter, r *http.Request) {
	var req MatchRequest
	if !decodeRequest(w, r, &req, h.logger) {
		return
	}
	maxCost := math.Inf(1)
	if req.MaxCost != nil {
		maxCost = *req.MaxCost
	}
	if math.IsNaN(maxCost) || maxCost < 0 {
		WriteErrorMessage(w, r, http.StatusBadRequest, types.ErrInvalidRequest, "max_cost must be non-negative", h.logger)
		return
	}

	swarmID, found := h.gov.FindQualifiedSwarm(req.RequiredCapabilities, maxCost)
	WriteSuccess(w, r, MatchResponse{
		SwarmID:    swarmID,
		Found:      found,
		Selected:   h.gov.FindQualifiedSwarms(req.RequiredCapabilities, maxCost),
		Candidates: h.gov.RankQualifiedSwarms(req.RequiredCapabilities, maxCost),
	})
}

// HandlePolicy 返回生效的资源策略
// @Router /api/v1/governor/policy [get]
func (h *GovernorHandler) HandlePolicy(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, r, h.gov.Policy())
}

// HandleTrackCost 扣减预算，余额耗尽时熔断
// @Router /api/v1/swarms/{id}/cost [post]
func (h *GovernorHandler) HandleTrackCost(w http.ResponseWriter, r *http.Request) {
	swarmID, ok := pathID(w, r, "id", h.logger)
	if !ok {
		return
	}
	var req TrackCostRequest
	if !decodeRequest(w, r, &req, h.logger) {
		return
	}
	if req.Operation == "" {
		WriteErrorMessage(w, r, http.StatusBadRequest, types.ErrInvalidRequest, "operation is required", h.logger)
		return
	}

	remaining, err := h.gov.TrackCost(r.Context(), swarmID, req.Operation, req.Cost, req.Metadata)
	if err != nil {
		WriteFailure(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, map[string]any{
		"swarm_id":  swarmID,
		"remaining": remaining,
		"tripped":   h.gov.IsTripped(swarmID),
	})
}

// HandleBreakerStatus 熔断器快照
// @Router /api/v1/swarms/{id}/breaker [get]
func (h *GovernorHandler) HandleBreakerStatus(w http.ResponseWriter, r *http.Request) {
	swarmID, ok := pathID(w, r, "id", h.logger)
	if !ok {
		return
	}
	status, found := h.gov.BreakerStatus(swarmID)
	if !found {
		WriteErrorMessage(w, r, http.StatusNotFound, types.ErrSwarmNotFound, "swarm "+swarmID+" not registered", h.logger)
		return
	}
	WriteSuccess(w, r, status)
}

// HandleResetBreaker 显式恢复熔断器，操作者取自认证主体
// @Router /api/v1/swarms/{id}/breaker/reset [post]
func (h *GovernorHandler) HandleResetBreaker(w http.ResponseWriter, r *http.Request) {
	swarmID, ok := pathID(w, r, "id", h.logger)
	if !ok {
		return
	}
	var req ResetBreakerRequest
	if r.ContentLength != 0 && !decodeRequest(w, r, &req, h.logger) {
		return
	}

	actor := ctxkeys.ActorOr(r.Context(), "api")
	if err := h.gov.ResetCircuitBreaker(r.Context(), swarmID, req.Budget, actor); err != nil {
		WriteFailure(w, r, err, h.logger)
		return
	}
	status, _ := h.gov.BreakerStatus(swarmID)
	WriteSuccess(w, r, status)
}
