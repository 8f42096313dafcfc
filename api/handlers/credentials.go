package handlers

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/swarmplane/coordinator"
	"github.com/BaSui01/swarmplane/trust/credential"
	"github.com/BaSui01/swarmplane/types"
)

// =============================================================================
// 🔑 Credential Handler
// =============================================================================

// TaskLookup 签发前用于确认任务归属
type TaskLookup interface {
	GetTask(ctx context.Context, taskID string) (*coordinator.Task, error)
}

// CredentialHandler 作用域凭证的签发、校验、吊销与轮换。
// 令牌只出现在请求体中，不进入 URL 与访问日志。
type CredentialHandler struct {
	manager *credential.Manager
	tasks   TaskLookup
	logger  *zap.Logger
}

// NewCredentialHandler 创建凭证处理器
func NewCredentialHandler(manager *credential.Manager, tasks TaskLookup, logger *zap.Logger) *CredentialHandler {
	return &CredentialHandler{
		manager: manager,
		tasks:   tasks,
		logger:  orNop(logger).With(zap.String("handler", "credentials")),
	}
}

// GenerateCredentialRequest 签发请求，ttl_seconds <= 0 使用默认 TTL
type GenerateCredentialRequest struct {
	SwarmID          string   `json:"swarm_id"`
	TaskID           string   `json:"task_id"`
	TTLSeconds       int      `json:"ttl_seconds,omitempty"`
	AllowedEndpoints []string `json:"allowed_endpoints,omitempty"`
}

// TokenRequest 只携带令牌的请求
type TokenRequest struct {
	Token string `json:"token"`
}

// ValidateCredentialRequest 校验请求
type ValidateCredentialRequest struct {
	Token    string `json:"token"`
	Endpoint string `json:"endpoint"`
}

// RotateCredentialRequest 轮换请求，ttl_seconds 缺省沿用旧 TTL
type RotateCredentialRequest struct {
	Token      string `json:"token"`
	TTLSeconds *int   `json:"ttl_seconds,omitempty"`
}

// CredentialView 校验通过后返回的归属信息，不含令牌
type CredentialView struct {
	SwarmID   string    `json:"swarm_id"`
	TaskID    string    `json:"task_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// HandleGenerate 签发凭证，响应中包含明文令牌。
// 只为任务的当前 owner 签发，任务须处于 claimed 或 in_progress。
// @Router /api/v1/credentials [post]
func (h *CredentialHandler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	var req GenerateCredentialRequest
	if !decodeRequest(w, r, &req, h.logger) {
		return
	}

	task, err := h.tasks.GetTask(r.Context(), req.TaskID)
	if err != nil {
		WriteFailure(w, r, err, h.logger)
		return
	}
	if task.Owner != req.SwarmID || !task.Status.Owned() || task.Status.Terminal() {
		WriteFailure(w, r, types.Errorf(types.ErrOwnershipViolation,
			"swarm %s does not hold task %s", req.SwarmID, req.TaskID).WithHTTPStatus(http.StatusForbidden), h.logger)
		return
	}

	cred, err := h.manager.Generate(r.Context(), req.SwarmID, req.TaskID, req.TTLSeconds, req.AllowedEndpoints)
	if err != nil {
		WriteFailure(w, r, err, h.logger)
		return
	}
	WriteCreated(w, r, cred)
}

// HandleValidate 校验令牌对 endpoint 是否有效
// @Router /api/v1/credentials/validate [post]
func (h *CredentialHandler) HandleValidate(w http.ResponseWriter, r *http.Request) {
	var req ValidateCredentialRequest
	if !decodeRequest(w, r, &req, h.logger) {
		return
	}

	cred, err := h.manager.Lookup(r.Context(), req.Token, req.Endpoint)
	if err != nil {
		WriteFailure(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, CredentialView{
		SwarmID:   cred.SwarmID,
		TaskID:    cred.TaskID,
		ExpiresAt: cred.ExpiresAt(),
	})
}

// HandleRevoke 永久吊销令牌
// @Router /api/v1/credentials/revoke [post]
func (h *CredentialHandler) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if !decodeRequest(w, r, &req, h.logger) {
		return
	}

	if err := h.manager.Revoke(r.Context(), req.Token); err != nil {
		WriteFailure(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, map[string]bool{"revoked": true})
}

// HandleRotate 以相同作用域换发令牌。旧令牌未知或已吊销时返回 rotated=false。
// @Router /api/v1/credentials/rotate [post]
func (h *CredentialHandler) HandleRotate(w http.ResponseWriter, r *http.Request) {
	var req RotateCredentialRequest
	if !decodeRequest(w, r, &req, h.logger) {
		return
	}
	if req.Token == "" {
		WriteErrorMessage(w, r, http.StatusBadRequest, types.ErrInvalidRequest, "token is required", h.logger)
		return
	}

	fresh, rotated, err := h.manager.Rotate(r.Context(), req.Token, req.TTLSeconds)
	if err != nil {
		WriteFailure(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, map[string]any{"rotated": rotated, "credential": fresh})
}

// HandlePurge 清理已过期凭证
// @Router /api/v1/credentials/purge [post]
func (h *CredentialHandler) HandlePurge(w http.ResponseWriter, r *http.Request) {
	n, err := h.manager.PurgeExpired(r.Context())
	if err != nil {
		WriteFailure(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, map[string]int{"purged": n})
}
