package signature

import (
	"context"
	"crypto/ed25519"
	"crypto/subtle"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/zeebo/blake3"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/BaSui01/swarmplane/audit"
	"github.com/BaSui01/swarmplane/internal/metrics"
	"github.com/BaSui01/swarmplane/types"
)

const component = "signature"

// Status 校验结果状态
type Status string

const (
	StatusValid        Status = "valid"
	StatusUnsigned     Status = "unsigned"
	StatusInvalid      Status = "invalid"
	StatusUnknownAgent Status = "unknown_agent"
	StatusReplayAttack Status = "replay_attack"
	StatusError        Status = "error"
)

// VerificationResult 一次校验的结果，只存在于短期缓存与审计日志中
type VerificationResult struct {
	Status     Status    `json:"status"`
	Valid      bool      `json:"valid"`
	MessageID  string    `json:"message_id,omitempty"`
	From       string    `json:"from,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Warning    string    `json:"warning,omitempty"`
	VerifiedAt time.Time `json:"verified_at"`
	Cached     bool      `json:"cached"`
}

// Err 把拒绝结果映射为 types.Error，通过时返回 nil
func (r *VerificationResult) Err() error {
	switch r.Status {
	case StatusValid:
		return nil
	case StatusUnknownAgent:
		return types.NewError(types.ErrUnknownAgent, r.Reason).WithHTTPStatus(401).WithComponent(component)
	case StatusReplayAttack:
		return types.NewError(types.ErrReplayAttack, r.Reason).WithHTTPStatus(401).WithComponent(component)
	case StatusError:
		return types.NewError(types.ErrInvalidRequest, r.Reason).WithHTTPStatus(400).WithComponent(component)
	default:
		return types.NewError(types.ErrInvalidSignature, r.Reason).WithHTTPStatus(401).WithComponent(component)
	}
}

// Config 校验器配置
type Config struct {
	// Strict 为 true 时拒绝无签名消息
	Strict bool `yaml:"strict" json:"strict"`

	// ReplayWindow 时间戳最大年龄
	ReplayWindow time.Duration `yaml:"replay_window" json:"replay_window"`

	// CacheTTL 成功结果缓存时长
	CacheTTL time.Duration `yaml:"cache_ttl" json:"cache_ttl"`

	// KeyCacheTTL 公钥进程内缓存时长
	KeyCacheTTL time.Duration `yaml:"key_cache_ttl" json:"key_cache_ttl"`

	// MaxCacheEntries 两级缓存各自的容量
	MaxCacheEntries int `yaml:"max_cache_entries" json:"max_cache_entries"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Strict:          true,
		ReplayWindow:    300 * time.Second,
		CacheTTL:        60 * time.Second,
		KeyCacheTTL:     60 * time.Second,
		MaxCacheEntries: 10000,
	}
}

// Option 可选协作方
type Option func(*Verifier)

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(v *Verifier) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithAuditSink 设置审计接收端
func WithAuditSink(sink audit.Sink) Option {
	return func(v *Verifier) { v.audit = sink }
}

// WithMetrics 设置指标收集器
func WithMetrics(collector *metrics.Collector) Option {
	return func(v *Verifier) { v.metrics = collector }
}

// WithKeyRegistry 设置第二级公钥注册表
func WithKeyRegistry(registry KeyRegistry) Option {
	return func(v *Verifier) { v.registry = registry }
}

// WithClock 替换时间源
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) {
		if now != nil {
			v.now = now
		}
	}
}

// Verifier 签名校验器
type Verifier struct {
	config   Config
	logger   *zap.Logger
	audit    audit.Sink
	metrics  *metrics.Collector
	registry KeyRegistry
	now      func() time.Time

	results *ttlCache[cachedResult]
	keys    *ttlCache[ed25519.PublicKey]
	lookups singleflight.Group

	mu       sync.RWMutex
	fallback map[string]ed25519.PublicKey
}

// NewVerifier 创建校验器
func NewVerifier(cfg Config, opts ...Option) *Verifier {
	def := DefaultConfig()
	if cfg.ReplayWindow <= 0 {
		cfg.ReplayWindow = def.ReplayWindow
	}
	if cfg.MaxCacheEntries <= 0 {
		cfg.MaxCacheEntries = def.MaxCacheEntries
	}
	v := &Verifier{
		config:   cfg,
		logger:   zap.NewNop(),
		now:      time.Now,
		fallback: make(map[string]ed25519.PublicKey),
	}
	for _, opt := range opts {
		opt(v)
	}
	v.logger = v.logger.With(zap.String("component", component))
	v.audit = audit.OrLog(v.audit, v.logger)
	v.results = newTTLCache[cachedResult](cfg.CacheTTL, cfg.MaxCacheEntries, v.now)
	v.keys = newTTLCache[ed25519.PublicKey](cfg.KeyCacheTTL, cfg.MaxCacheEntries, v.now)
	return v
}

// =============================================================================
// 🔑 公钥管理
// =============================================================================

// RegisterKey 登记发送方公钥：写入注册表（若有）、内存兜底与进程内缓存。
// 注册表写入失败时返回错误，兜底与缓存仍然生效。
func (v *Verifier) RegisterKey(ctx context.Context, agentID string, pub ed25519.PublicKey) error {
	if err := validKey(pub); err != nil {
		return types.NewError(types.ErrInvalidRequest, err.Error()).WithHTTPStatus(400).WithComponent(component)
	}
	pub = append(ed25519.PublicKey(nil), pub...)

	v.mu.Lock()
	v.fallback[agentID] = pub
	v.mu.Unlock()
	v.keys.set(agentID, pub)

	v.audit.LogOperation(component, "register_key", map[string]any{"actor": agentID}, audit.SeverityInfo)
	if v.registry != nil {
		if err := v.registry.RegisterKey(ctx, agentID, pub); err != nil {
			v.logger.Warn("key registry write failed, using in-memory fallback",
				zap.String("agent_id", agentID), zap.Error(err))
			return err
		}
	}
	return nil
}

// RevokeKey 从三级存储中移除公钥
func (v *Verifier) RevokeKey(ctx context.Context, agentID string) error {
	v.mu.Lock()
	delete(v.fallback, agentID)
	v.mu.Unlock()
	v.keys.remove(agentID)
	// 已缓存的校验结果随公钥一起失效
	v.results.removeIf(func(c cachedResult) bool { return c.result.From == agentID })

	v.audit.LogOperation(component, "revoke_key", map[string]any{"actor": agentID}, audit.SeverityWarning)
	if v.registry != nil {
		return v.registry.RevokeKey(ctx, agentID)
	}
	return nil
}

// resolveKey 三级查找：进程内缓存 → 注册表 → 内存兜底。
// 并发的同 ID 未命中由 singleflight 合并为一次注册表查询。
func (v *Verifier) resolveKey(ctx context.Context, agentID string) (ed25519.PublicKey, bool) {
	if pub, ok := v.keys.get(agentID); ok {
		return pub, true
	}

	res, _, _ := v.lookups.Do(agentID, func() (any, error) {
		if v.registry != nil {
			pub, ok, err := v.registry.LookupKey(ctx, agentID)
			if err != nil {
				v.logger.Warn("key registry lookup failed, trying fallback",
					zap.String("agent_id", agentID), zap.Error(err))
			} else if ok {
				v.keys.set(agentID, pub)
				return pub, nil
			}
		}
		v.mu.RLock()
		pub, ok := v.fallback[agentID]
		v.mu.RUnlock()
		if ok {
			v.keys.set(agentID, pub)
			return pub, nil
		}
		return ed25519.PublicKey(nil), nil
	})
	pub := res.(ed25519.PublicKey)
	return pub, pub != nil
}

// =============================================================================
// ✅ 校验
// =============================================================================

// Verify 解析原始 JSON 并校验
func (v *Verifier) Verify(ctx context.Context, raw []byte) VerificationResult {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return v.finish(VerificationResult{Status: StatusError, Reason: "malformed message: " + err.Error()})
	}
	return v.VerifyMessage(ctx, &msg)
}

// VerifyMessage 按固定顺序校验消息，遇到第一个失败即返回
func (v *Verifier) VerifyMessage(ctx context.Context, msg *Message) VerificationResult {
	if msg == nil || msg.From == "" || len(msg.Payload) == 0 {
		return v.finish(VerificationResult{Status: StatusError, Reason: "message must carry from and payload"})
	}
	base := VerificationResult{From: msg.From}

	if msg.Signature == "" {
		base.MessageID = msg.MessageID()
		if v.config.Strict {
			base.Status = StatusUnsigned
			base.Reason = "unsigned message rejected in strict mode"
			return v.reject(base)
		}
		base.Status = StatusValid
		base.Valid = true
		base.Warning = "unsigned message accepted in permissive mode"
		return v.finish(base)
	}

	sig, err := base64.StdEncoding.DecodeString(msg.Signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		base.Status = StatusInvalid
		base.Reason = "signature must decode to 64 bytes"
		return v.reject(base)
	}

	base.MessageID = msg.MessageID()
	fp := fingerprint(msg)
	if cached, ok := v.results.get(base.MessageID); ok && cached.fingerprint == fp {
		hit := cached.result
		hit.Cached = true
		v.metrics.RecordSignatureVerification(string(hit.Status), true)
		return hit
	}

	pub, ok := v.resolveKey(ctx, msg.From)
	if !ok {
		base.Status = StatusUnknownAgent
		base.Reason = "no public key registered for sender"
		return v.reject(base)
	}

	if msg.Timestamp != nil {
		if age := v.now().Sub(*msg.Timestamp); age > v.config.ReplayWindow {
			base.Status = StatusReplayAttack
			base.Reason = "timestamp is older than replay window"
			return v.reject(base)
		}
	}

	sum, err := CanonicalHash(msg.Payload)
	if err != nil {
		base.Status = StatusError
		base.Reason = err.Error()
		return v.finish(base)
	}
	claimed, err := hex.DecodeString(msg.PayloadHash)
	if err != nil || subtle.ConstantTimeCompare(claimed, sum[:]) != 1 {
		base.Status = StatusInvalid
		base.Reason = "payload hash mismatch"
		return v.reject(base)
	}

	if !ed25519.Verify(pub, sum[:], sig) {
		base.Status = StatusInvalid
		base.Reason = "signature verification failed"
		return v.reject(base)
	}

	base.Status = StatusValid
	base.Valid = true
	result := v.finish(base)
	v.results.set(result.MessageID, cachedResult{result: result, fingerprint: fp})
	return result
}

// cachedResult 缓存项绑定其计算时的消息内容，id 相同但内容不同的消息不会命中。
type cachedResult struct {
	result      VerificationResult
	fingerprint [32]byte
}

func fingerprint(msg *Message) [32]byte {
	h := blake3.New()
	for _, part := range [][]byte{[]byte(msg.From), []byte(msg.PayloadHash), []byte(msg.Signature), msg.Payload} {
		var n [8]byte
		binary.BigEndian.PutUint64(n[:], uint64(len(part)))
		_, _ = h.Write(n[:])
		_, _ = h.Write(part)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func (v *Verifier) finish(r VerificationResult) VerificationResult {
	r.VerifiedAt = v.now().UTC()
	v.metrics.RecordSignatureVerification(string(r.Status), false)
	if r.Warning != "" {
		v.logger.Warn("message accepted with warning", zap.String("from", r.From), zap.String("warning", r.Warning))
	}
	return r
}

// reject 安全相关拒绝：记录日志并审计
func (v *Verifier) reject(r VerificationResult) VerificationResult {
	r = v.finish(r)
	severity := audit.SeverityWarning
	if r.Status == StatusReplayAttack || r.Status == StatusInvalid {
		severity = audit.SeverityHigh
	}
	v.logger.Info("message rejected",
		zap.String("status", string(r.Status)),
		zap.String("from", r.From),
		zap.String("message_id", r.MessageID),
		zap.String("reason", r.Reason),
	)
	v.audit.LogOperation(component, "verify_rejected", map[string]any{
		"actor":      r.From,
		"status":     string(r.Status),
		"message_id": r.MessageID,
		"reason":     r.Reason,
	}, severity)
	return r
}

// IsRejection 报告错误是否来自签名校验拒绝
func IsRejection(err error) bool {
	var e *types.Error
	if !errors.As(err, &e) {
		return false
	}
	switch e.Code {
	case types.ErrInvalidSignature, types.ErrUnknownAgent, types.ErrReplayAttack:
		return true
	}
	return false
}
