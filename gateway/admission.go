package gateway

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/swarmplane/audit"
	"github.com/BaSui01/swarmplane/governor"
	"github.com/BaSui01/swarmplane/trust/credential"
	"github.com/BaSui01/swarmplane/types"
)

const component = "gateway"

// ErrCapabilityDenied swarm 缺少出站能力或处于熔断
var ErrCapabilityDenied = types.NewError(types.ErrCapabilityDenied, "swarm lacks external proxy capability").WithHTTPStatus(403)

// CredentialValidator 凭证查询，credential.Manager 满足该接口
type CredentialValidator interface {
	Lookup(ctx context.Context, token, endpoint string) (*credential.ScopedCredentials, error)
}

// CapabilityChecker 能力查询，governor.Governor 满足该接口
type CapabilityChecker interface {
	HasCapability(swarmID, capability string) bool
}

// Decision 一次准入的结果
type Decision struct {
	SwarmID  string    `json:"swarm_id"`
	TaskID   string    `json:"task_id"`
	Endpoint string    `json:"endpoint"`
	Expires  time.Time `json:"expires"`
}

// Admission 出站准入检查
type Admission struct {
	credentials  CredentialValidator
	capabilities CapabilityChecker
	logger       *zap.Logger
	audit        audit.Sink
}

// NewAdmission 创建准入检查器
func NewAdmission(credentials CredentialValidator, capabilities CapabilityChecker, sink audit.Sink, logger *zap.Logger) *Admission {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", component))
	return &Admission{
		credentials:  credentials,
		capabilities: capabilities,
		logger:       logger,
		audit:        audit.OrLog(sink, logger),
	}
}

// Admit 依次检查凭证、归属与能力，全部通过时返回 Decision。
// 凭证错误原样返回（INVALID_CREDENTIAL / CREDENTIAL_EXPIRED / UNAUTHORIZED_ENDPOINT）。
func (a *Admission) Admit(ctx context.Context, token, swarmID, endpoint string) (*Decision, error) {
	cred, err := a.credentials.Lookup(ctx, token, endpoint)
	if err != nil {
		return nil, err
	}

	if cred.SwarmID != swarmID {
		a.deny(swarmID, endpoint, "credential issued to another swarm")
		return nil, types.Errorf(types.ErrInvalidCredential, "credential is not issued to swarm %s", swarmID).
			WithHTTPStatus(401).
			WithComponent(component)
	}

	if !a.capabilities.HasCapability(swarmID, governor.CapabilityExternalHTTPProxy) {
		a.deny(swarmID, endpoint, "missing "+governor.CapabilityExternalHTTPProxy)
		return nil, ErrCapabilityDenied
	}

	a.logger.Debug("egress admitted", zap.String("swarm_id", swarmID), zap.String("endpoint", endpoint))
	return &Decision{
		SwarmID:  cred.SwarmID,
		TaskID:   cred.TaskID,
		Endpoint: endpoint,
		Expires:  cred.ExpiresAt(),
	}, nil
}

func (a *Admission) deny(swarmID, endpoint, reason string) {
	a.logger.Info("egress denied", zap.String("swarm_id", swarmID), zap.String("endpoint", endpoint), zap.String("reason", reason))
	a.audit.LogOperation(component, "admit_denied", map[string]any{
		"actor":    swarmID,
		"endpoint": endpoint,
		"reason":   reason,
	}, audit.SeverityHigh)
}
