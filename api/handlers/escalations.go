package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/swarmplane/coordinator"
	"github.com/BaSui01/swarmplane/internal/ctxkeys"
	"github.com/BaSui01/swarmplane/types"
)

// EscalationHandler 阻塞上报与升级处理
type EscalationHandler struct {
	coord  *coordinator.Coordinator
	logger *zap.Logger
}

// NewEscalationHandler 创建升级处理器
func NewEscalationHandler(coord *coordinator.Coordinator, logger *zap.Logger) *EscalationHandler {
	return &EscalationHandler{
		coord:  coord,
		logger: orNop(logger).With(zap.String("handler", "escalations")),
	}
}

// ResolveEscalationRequest 待处理键包含路径分隔符，放在请求体中
type ResolveEscalationRequest struct {
	PendingKey string `json:"pending_key"`
}

// HandleReportBlocker swarm 上报阻塞
// @Router /api/v1/swarms/{id}/blockers [post]
func (h *EscalationHandler) HandleReportBlocker(w http.ResponseWriter, r *http.Request) {
	swarmID, ok := pathID(w, r, "id", h.logger)
	if !ok {
		return
	}
	var info coordinator.BlockerInfo
	if !decodeRequest(w, r, &info, h.logger) {
		return
	}
	if info.Reason == "" {
		WriteErrorMessage(w, r, http.StatusBadRequest, types.ErrInvalidRequest, "reason is required", h.logger)
		return
	}

	esc, err := h.coord.DetectBlocker(r.Context(), swarmID, info)
	if err != nil {
		WriteFailure(w, r, err, h.logger)
		return
	}
	WriteCreated(w, r, esc)
}

// HandleList 待处理升级，按检测顺序
// @Router /api/v1/escalations [get]
func (h *EscalationHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	pending, err := h.coord.PendingEscalations(r.Context())
	if err != nil {
		WriteFailure(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, pending)
}

// HandleResolve 关闭一条待处理升级
// @Router /api/v1/escalations/resolve [post]
func (h *EscalationHandler) HandleResolve(w http.ResponseWriter, r *http.Request) {
	var req ResolveEscalationRequest
	if !decodeRequest(w, r, &req, h.logger) {
		return
	}
	if req.PendingKey == "" {
		WriteErrorMessage(w, r, http.StatusBadRequest, types.ErrInvalidRequest, "pending_key is required", h.logger)
		return
	}

	actor := ctxkeys.ActorOr(r.Context(), "api")
	if err := h.coord.ResolveEscalation(r.Context(), req.PendingKey, actor); err != nil {
		WriteFailure(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, map[string]string{"pending_key": req.PendingKey, "resolved_by": actor})
}
