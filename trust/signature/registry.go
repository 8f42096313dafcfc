package signature

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/swarmplane/internal/cache"
)

// DefaultKeyTTL 公钥注册记录的有效期
const DefaultKeyTTL = 30 * 24 * time.Hour

// KeyRegistry 公钥注册表。LookupKey 未找到时返回 (nil, false, nil)。
type KeyRegistry interface {
	RegisterKey(ctx context.Context, agentID string, pub ed25519.PublicKey) error
	LookupKey(ctx context.Context, agentID string) (ed25519.PublicKey, bool, error)
	RevokeKey(ctx context.Context, agentID string) error
}

func validKey(pub ed25519.PublicKey) error {
	if len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("public key must be %d bytes, got %d", ed25519.PublicKeySize, len(pub))
	}
	return nil
}

// =============================================================================
// 🧠 内存注册表
// =============================================================================

type memoryKey struct {
	pub     ed25519.PublicKey
	expires time.Time
}

// MemoryKeyRegistry 进程内注册表，记录按 TTL 过期
type MemoryKeyRegistry struct {
	mu   sync.RWMutex
	ttl  time.Duration
	now  func() time.Time
	keys map[string]memoryKey
}

// NewMemoryKeyRegistry 创建内存注册表，ttl <= 0 时使用 DefaultKeyTTL
func NewMemoryKeyRegistry(ttl time.Duration) *MemoryKeyRegistry {
	if ttl <= 0 {
		ttl = DefaultKeyTTL
	}
	return &MemoryKeyRegistry{ttl: ttl, now: time.Now, keys: make(map[string]memoryKey)}
}

func (r *MemoryKeyRegistry) RegisterKey(ctx context.Context, agentID string, pub ed25519.PublicKey) error {
	if err := validKey(pub); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys[agentID] = memoryKey{pub: append(ed25519.PublicKey(nil), pub...), expires: r.now().Add(r.ttl)}
	return nil
}

func (r *MemoryKeyRegistry) LookupKey(ctx context.Context, agentID string) (ed25519.PublicKey, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	k, ok := r.keys[agentID]
	if !ok || !r.now().Before(k.expires) {
		return nil, false, nil
	}
	return k.pub, true, nil
}

func (r *MemoryKeyRegistry) RevokeKey(ctx context.Context, agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.keys, agentID)
	return nil
}

// =============================================================================
// 🗄️ Redis 注册表
// =============================================================================

type keyRecord struct {
	AgentID      string    `json:"agent_id"`
	PublicKey    string    `json:"public_key"`
	RegisteredAt time.Time `json:"registered_at"`
}

// RedisKeyRegistry 基于 Redis 的注册表，每条记录带 TTL（默认 30 天）
type RedisKeyRegistry struct {
	cache  *cache.Manager
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisKeyRegistry 创建 Redis 注册表
func NewRedisKeyRegistry(manager *cache.Manager, ttl time.Duration, logger *zap.Logger) *RedisKeyRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = DefaultKeyTTL
	}
	return &RedisKeyRegistry{
		cache:  manager,
		prefix: "swarmplane:agent_keys:",
		ttl:    ttl,
		logger: logger.With(zap.String("component", "signature_key_registry")),
	}
}

func (r *RedisKeyRegistry) RegisterKey(ctx context.Context, agentID string, pub ed25519.PublicKey) error {
	if err := validKey(pub); err != nil {
		return err
	}
	rec := keyRecord{
		AgentID:      agentID,
		PublicKey:    base64.StdEncoding.EncodeToString(pub),
		RegisteredAt: time.Now().UTC(),
	}
	return r.cache.SetJSON(ctx, r.prefix+agentID, rec, r.ttl)
}

func (r *RedisKeyRegistry) LookupKey(ctx context.Context, agentID string) (ed25519.PublicKey, bool, error) {
	var rec keyRecord
	if err := r.cache.GetJSON(ctx, r.prefix+agentID, &rec); err != nil {
		if cache.IsCacheMiss(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	pub, err := base64.StdEncoding.DecodeString(rec.PublicKey)
	if err != nil || validKey(pub) != nil {
		r.logger.Warn("corrupt key record", zap.String("agent_id", agentID))
		return nil, false, nil
	}
	return ed25519.PublicKey(pub), true, nil
}

func (r *RedisKeyRegistry) RevokeKey(ctx context.Context, agentID string) error {
	return r.cache.Delete(ctx, r.prefix+agentID)
}
