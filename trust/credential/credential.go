package credential

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/swarmplane/audit"
	"github.com/BaSui01/swarmplane/internal/metrics"
	"github.com/BaSui01/swarmplane/types"
)

const (
	component = "credential"

	// tokenBytes 令牌熵长度
	tokenBytes = 32
)

// 校验失败的哨兵错误，可用 errors.Is 判断
var (
	ErrInvalidCredential    = types.NewError(types.ErrInvalidCredential, "invalid credential").WithHTTPStatus(401)
	ErrCredentialExpired    = types.NewError(types.ErrCredentialExpired, "credential expired").WithHTTPStatus(401)
	ErrUnauthorizedEndpoint = types.NewError(types.ErrUnauthorizedEndpoint, "endpoint not allowed").WithHTTPStatus(403)
)

// ScopedCredentials 限定任务与端点的短期凭证，创建后不再修改
type ScopedCredentials struct {
	SwarmID          string    `json:"swarm_id"`
	TaskID           string    `json:"task_id"`
	Token            string    `json:"token"`
	TTLSeconds       int       `json:"ttl_seconds"`
	AllowedEndpoints []string  `json:"allowed_endpoints"`
	CreatedAt        time.Time `json:"created_at"`
}

// ExpiresAt 返回过期时刻
func (c *ScopedCredentials) ExpiresAt() time.Time {
	return c.CreatedAt.Add(time.Duration(c.TTLSeconds) * time.Second)
}

// Expired 报告 now 是否已超过 created_at + ttl
func (c *ScopedCredentials) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt())
}

// Allows 报告端点是否在白名单内。空白名单允许全部端点。
func (c *ScopedCredentials) Allows(endpoint string) bool {
	return len(c.AllowedEndpoints) == 0 || slices.Contains(c.AllowedEndpoints, endpoint)
}

// Redacted 返回隐藏令牌后的副本，用于日志与 API 输出
func (c *ScopedCredentials) Redacted() ScopedCredentials {
	out := *c
	out.AllowedEndpoints = slices.Clone(c.AllowedEndpoints)
	out.Token = redact(c.Token)
	return out
}

func redact(token string) string {
	if len(token) <= 6 {
		return "***"
	}
	return token[:6] + "***"
}

// Config 凭证管理器配置
type Config struct {
	// DefaultTTL Generate 传入 ttl <= 0 时使用
	DefaultTTL time.Duration `yaml:"default_ttl" json:"default_ttl"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{DefaultTTL: time.Hour}
}

// Option 可选协作方
type Option func(*Manager)

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithAuditSink 设置审计接收端
func WithAuditSink(sink audit.Sink) Option {
	return func(m *Manager) { m.audit = sink }
}

// WithMetrics 设置指标收集器
func WithMetrics(collector *metrics.Collector) Option {
	return func(m *Manager) { m.metrics = collector }
}

// WithClock 替换时间源，测试用
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// Manager 凭证管理器
type Manager struct {
	store   Store
	config  Config
	logger  *zap.Logger
	audit   audit.Sink
	metrics *metrics.Collector
	now     func() time.Time
}

// NewManager 创建凭证管理器
func NewManager(store Store, cfg Config, opts ...Option) *Manager {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultConfig().DefaultTTL
	}
	m := &Manager{
		store:  store,
		config: cfg,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(zap.String("component", component))
	m.audit = audit.OrLog(m.audit, m.logger)
	return m
}

// =============================================================================
// 🔑 签发
// =============================================================================

// Generate 为 swarm 的某个任务签发凭证。ttlSeconds <= 0 时使用默认 TTL。
func (m *Manager) Generate(ctx context.Context, swarmID, taskID string, ttlSeconds int, endpoints []string) (*ScopedCredentials, error) {
	if swarmID == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "swarm id is required").WithHTTPStatus(400).WithComponent(component)
	}
	if ttlSeconds <= 0 {
		ttlSeconds = int(m.config.DefaultTTL / time.Second)
	}

	token, err := newToken()
	if err != nil {
		return nil, err
	}
	cred := &ScopedCredentials{
		SwarmID:          swarmID,
		TaskID:           taskID,
		Token:            token,
		TTLSeconds:       ttlSeconds,
		AllowedEndpoints: slices.Clone(endpoints),
		CreatedAt:        m.now().UTC(),
	}
	if err := m.store.Save(ctx, cred); err != nil {
		return nil, fmt.Errorf("save credential: %w", err)
	}

	m.logger.Debug("credential generated",
		zap.String("swarm_id", swarmID),
		zap.String("task_id", taskID),
		zap.Int("ttl_seconds", ttlSeconds),
		zap.Int("endpoints", len(endpoints)),
	)
	m.audit.LogOperation(component, "generate", map[string]any{
		"actor":       swarmID,
		"task_id":     taskID,
		"ttl_seconds": ttlSeconds,
		"endpoints":   endpoints,
	}, audit.SeverityInfo)
	return cred, nil
}

func newToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// =============================================================================
// ✅ 校验
// =============================================================================

// Validate 校验令牌对 endpoint 是否有效，有效时返回 nil。
// 存储不可用时原样返回存储错误，不做降级放行。
func (m *Manager) Validate(ctx context.Context, token, endpoint string) error {
	_, err := m.Lookup(ctx, token, endpoint)
	return err
}

// Lookup 与 Validate 规则相同，成功时返回凭证本身，供网关取得 swarm 与任务归属。
func (m *Manager) Lookup(ctx context.Context, token, endpoint string) (*ScopedCredentials, error) {
	if token == "" {
		m.reject("invalid", "validate", "", "", endpoint, "empty token")
		return nil, ErrInvalidCredential
	}

	revoked, err := m.store.IsRevoked(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("check revocation: %w", err)
	}
	if revoked {
		m.reject("invalid", "validate", token, "", endpoint, "revoked")
		return nil, ErrInvalidCredential
	}

	cred, ok, err := m.store.Load(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("load credential: %w", err)
	}
	if !ok {
		m.reject("invalid", "validate", token, "", endpoint, "unknown")
		return nil, ErrInvalidCredential
	}

	if cred.Expired(m.now()) {
		if err := m.store.Delete(ctx, token); err != nil {
			m.logger.Warn("failed to evict expired credential", zap.Error(err))
		}
		m.reject("expired", "validate", token, cred.SwarmID, endpoint, "expired")
		return nil, ErrCredentialExpired
	}

	if !cred.Allows(endpoint) {
		m.reject("unauthorized_endpoint", "validate", token, cred.SwarmID, endpoint, "endpoint not in whitelist")
		return nil, ErrUnauthorizedEndpoint
	}

	m.metrics.RecordCredentialValidation("valid")
	return cred, nil
}

// reject 记录一次安全相关拒绝：指标、日志与审计。
func (m *Manager) reject(result, operation, token, swarmID, endpoint, reason string) {
	m.metrics.RecordCredentialValidation(result)
	m.logger.Info("credential rejected",
		zap.String("result", result),
		zap.String("swarm_id", swarmID),
		zap.String("endpoint", endpoint),
		zap.String("reason", reason),
	)
	severity := audit.SeverityWarning
	if result == "unauthorized_endpoint" {
		severity = audit.SeverityHigh
	}
	m.audit.LogOperation(component, operation+"_rejected", map[string]any{
		"actor":    swarmID,
		"token":    redact(token),
		"endpoint": endpoint,
		"result":   result,
		"reason":   reason,
	}, severity)
}

// =============================================================================
// 🚫 吊销与轮换
// =============================================================================

// Revoke 永久吊销令牌。未知令牌同样写入吊销集合。
func (m *Manager) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return ErrInvalidCredential
	}
	cred, _, err := m.store.Load(ctx, token)
	if err != nil {
		return fmt.Errorf("load credential: %w", err)
	}
	if err := m.store.MarkRevoked(ctx, token); err != nil {
		return fmt.Errorf("revoke credential: %w", err)
	}
	if err := m.store.Delete(ctx, token); err != nil {
		m.logger.Warn("failed to delete revoked credential", zap.Error(err))
	}

	swarmID := ""
	if cred != nil {
		swarmID = cred.SwarmID
	}
	m.logger.Info("credential revoked", zap.String("swarm_id", swarmID))
	m.audit.LogOperation(component, "revoke", map[string]any{
		"actor":    swarmID,
		"token":    redact(token),
		"swarm_id": swarmID,
	}, audit.SeverityWarning)
	return nil
}

// Rotate 以相同作用域签发新令牌并吊销旧令牌。newTTL 为 nil 时沿用旧 TTL。
// 旧令牌未知（或已吊销、已过期被清理）时返回 (nil, false, nil)。
func (m *Manager) Rotate(ctx context.Context, token string, newTTL *int) (*ScopedCredentials, bool, error) {
	if token == "" {
		return nil, false, nil
	}
	revoked, err := m.store.IsRevoked(ctx, token)
	if err != nil {
		return nil, false, fmt.Errorf("check revocation: %w", err)
	}
	if revoked {
		return nil, false, nil
	}
	old, ok, err := m.store.Load(ctx, token)
	if err != nil {
		return nil, false, fmt.Errorf("load credential: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	ttl := old.TTLSeconds
	if newTTL != nil {
		ttl = *newTTL
	}
	fresh, err := m.Generate(ctx, old.SwarmID, old.TaskID, ttl, old.AllowedEndpoints)
	if err != nil {
		return nil, false, err
	}
	if err := m.Revoke(ctx, token); err != nil {
		return nil, false, err
	}

	m.audit.LogOperation(component, "rotate", map[string]any{
		"actor":       old.SwarmID,
		"task_id":     old.TaskID,
		"old_token":   redact(token),
		"new_token":   redact(fresh.Token),
		"ttl_seconds": fresh.TTLSeconds,
	}, audit.SeverityInfo)
	return fresh, true, nil
}

// PurgeExpired 清理所有已过期凭证，返回清理数量。吊销集合不受影响。
func (m *Manager) PurgeExpired(ctx context.Context) (int, error) {
	purged, err := m.store.DeleteExpired(ctx, m.now())
	if err != nil {
		return purged, fmt.Errorf("delete expired credentials: %w", err)
	}
	if purged > 0 {
		m.logger.Info("expired credentials purged", zap.Int("count", purged))
		m.audit.LogOperation(component, "purge_expired", map[string]any{"count": purged}, audit.SeverityInfo)
	}
	return purged, nil
}
