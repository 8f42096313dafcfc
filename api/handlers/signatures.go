package handlers

import (
	"crypto/ed25519"
	"encoding/base64"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/swarmplane/trust/signature"
	"github.com/BaSui01/swarmplane/types"
)

// =============================================================================
// ✍️ Signature Handler
// =============================================================================

// SignatureHandler 公钥登记与消息校验
type SignatureHandler struct {
	verifier *signature.Verifier
	logger   *zap.Logger
}

// NewSignatureHandler 创建签名处理器
func NewSignatureHandler(verifier *signature.Verifier, logger *zap.Logger) *SignatureHandler {
	return &SignatureHandler{
		verifier: verifier,
		logger:   orNop(logger).With(zap.String("handler", "signatures")),
	}
}

// RegisterKeyRequest 公钥以标准 base64 编码
type RegisterKeyRequest struct {
	AgentID   string `json:"agent_id"`
	PublicKey string `json:"public_key"`
}

// HandleRegisterKey 登记发送方公钥。注册表写入失败时内存兜底仍生效，返回 persisted=false。
// @Router /api/v1/signatures/keys [post]
func (h *SignatureHandler) HandleRegisterKey(w http.ResponseWriter, r *http.Request) {
	var req RegisterKeyRequest
	if !decodeRequest(w, r, &req, h.logger) {
		return
	}
	if req.AgentID == "" {
		WriteErrorMessage(w, r, http.StatusBadRequest, types.ErrInvalidRequest, "agent_id is required", h.logger)
		return
	}
	raw, err := base64.StdEncoding.DecodeString(req.PublicKey)
	if err != nil {
		WriteErrorMessage(w, r, http.StatusBadRequest, types.ErrInvalidRequest, "public_key must be base64", h.logger)
		return
	}

	persisted := true
	if err := h.verifier.RegisterKey(r.Context(), req.AgentID, ed25519.PublicKey(raw)); err != nil {
		if types.IsErrorCode(err, types.ErrInvalidRequest) {
			WriteFailure(w, r, err, h.logger)
			return
		}
		persisted = false
	}
	WriteCreated(w, r, map[string]any{"agent_id": req.AgentID, "persisted": persisted})
}

// HandleRevokeKey 移除公钥
// @Router /api/v1/signatures/keys/{id} [delete]
func (h *SignatureHandler) HandleRevokeKey(w http.ResponseWriter, r *http.Request) {
	agentID, ok := pathID(w, r, "id", h.logger)
	if !ok {
		return
	}
	if err := h.verifier.RevokeKey(r.Context(), agentID); err != nil {
		WriteFailure(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, map[string]string{"agent_id": agentID})
}

// HandleVerify 校验请求体中的签名消息。通过时返回结果，拒绝时返回对应错误码。
// @Router /api/v1/signatures/verify [post]
func (h *SignatureHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		WriteErrorMessage(w, r, http.StatusBadRequest, types.ErrInvalidRequest, "request body too large or unreadable", h.logger)
		return
	}

	result := h.verifier.Verify(r.Context(), raw)
	if !result.Valid {
		WriteFailure(w, r, result.Err(), h.logger)
		return
	}
	WriteSuccess(w, r, result)
}
