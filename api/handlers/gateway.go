package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/swarmplane/gateway"
	"github.com/BaSui01/swarmplane/types"
)

// GatewayHandler 出站准入查询，供出口代理在转发前调用
type GatewayHandler struct {
	admission *gateway.Admission
	logger    *zap.Logger
}

// NewGatewayHandler 创建准入处理器
func NewGatewayHandler(admission *gateway.Admission, logger *zap.Logger) *GatewayHandler {
	return &GatewayHandler{
		admission: admission,
		logger:    orNop(logger).With(zap.String("handler", "gateway")),
	}
}

// AdmitRequest 准入请求
type AdmitRequest struct {
	Token    string `json:"token"`
	SwarmID  string `json:"swarm_id"`
	Endpoint string `json:"endpoint"`
}

// HandleAdmit 校验凭证、归属与出站能力
// @Router /api/v1/gateway/admit [post]
func (h *GatewayHandler) HandleAdmit(w http.ResponseWriter, r *http.Request) {
	var req AdmitRequest
	if !decodeRequest(w, r, &req, h.logger) {
		return
	}
	if req.SwarmID == "" || req.Endpoint == "" {
		WriteErrorMessage(w, r, http.StatusBadRequest, types.ErrInvalidRequest, "swarm_id and endpoint are required", h.logger)
		return
	}

	decision, err := h.admission.Admit(r.Context(), req.Token, req.SwarmID, req.Endpoint)
	if err != nil {
		WriteFailure(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, decision)
}
