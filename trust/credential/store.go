package credential

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/zeebo/blake3"
	"go.uber.org/zap"
)

// Store 凭证存储。实现必须支持并发访问。
type Store interface {
	Save(ctx context.Context, cred *ScopedCredentials) error
	Load(ctx context.Context, token string) (*ScopedCredentials, bool, error)
	Delete(ctx context.Context, token string) error
	// DeleteExpired 删除在 now 之前已过期的记录，返回删除条数
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
	MarkRevoked(ctx context.Context, token string) error
	IsRevoked(ctx context.Context, token string) (bool, error)
}

func cloneCredential(c *ScopedCredentials) *ScopedCredentials {
	out := *c
	out.AllowedEndpoints = slices.Clone(c.AllowedEndpoints)
	return &out
}

// =============================================================================
// 🧠 内存存储
// =============================================================================

// MemoryStore 进程内凭证存储
type MemoryStore struct {
	mu      sync.RWMutex
	active  map[string]*ScopedCredentials
	revoked map[string]struct{}
}

// NewMemoryStore 创建内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		active:  make(map[string]*ScopedCredentials),
		revoked: make(map[string]struct{}),
	}
}

func (s *MemoryStore) Save(ctx context.Context, cred *ScopedCredentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[cred.Token] = cloneCredential(cred)
	return nil
}

func (s *MemoryStore) Load(ctx context.Context, token string) (*ScopedCredentials, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.active[token]
	if !ok {
		return nil, false, nil
	}
	return cloneCredential(c), true, nil
}

func (s *MemoryStore) Delete(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, token)
	return nil
}

func (s *MemoryStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for token, c := range s.active {
		if c.Expired(now) {
			delete(s.active, token)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) MarkRevoked(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revoked[token] = struct{}{}
	return nil
}

func (s *MemoryStore) IsRevoked(ctx context.Context, token string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.revoked[token]
	return ok, nil
}

// Len 返回活动凭证数
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.active)
}

// =============================================================================
// 🗄️ Redis 存储
// =============================================================================

// RedisStoreConfig Redis 凭证存储配置
type RedisStoreConfig struct {
	// KeyPrefix 键前缀
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix"`

	// ExpiredRetention 过期后记录继续保留的时长，期间校验返回 CREDENTIAL_EXPIRED 而不是 INVALID_CREDENTIAL
	ExpiredRetention time.Duration `yaml:"expired_retention" json:"expired_retention"`

	// ScanCount SCAN 每批数量
	ScanCount int64 `yaml:"scan_count" json:"scan_count"`
}

// DefaultRedisStoreConfig 返回默认配置
func DefaultRedisStoreConfig() RedisStoreConfig {
	return RedisStoreConfig{
		KeyPrefix:        "swarmplane:cred:",
		ExpiredRetention: time.Hour,
		ScanCount:        100,
	}
}

// RedisStore 基于 Redis 的凭证存储。令牌只以 BLAKE3 摘要出现在键与记录中，
// 记录带 Redis TTL，吊销集合是一个永不过期的 SET。
type RedisStore struct {
	client *redis.Client
	config RedisStoreConfig
	logger *zap.Logger
}

// NewRedisStore 创建 Redis 凭证存储
func NewRedisStore(client *redis.Client, cfg RedisStoreConfig, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultRedisStoreConfig().KeyPrefix
	}
	if cfg.ScanCount <= 0 {
		cfg.ScanCount = DefaultRedisStoreConfig().ScanCount
	}
	return &RedisStore{
		client: client,
		config: cfg,
		logger: logger.With(zap.String("component", "credential_redis_store")),
	}
}

func tokenDigest(token string) string {
	sum := blake3.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func (s *RedisStore) tokenKey(token string) string {
	return s.digestKey(tokenDigest(token))
}

func (s *RedisStore) digestKey(digest string) string {
	return s.config.KeyPrefix + "token:" + digest
}

// redisRecord 持久化形态，不含明文令牌
type redisRecord struct {
	SwarmID          string    `json:"swarm_id"`
	TaskID           string    `json:"task_id"`
	TokenDigest      string    `json:"token_digest"`
	TTLSeconds       int       `json:"ttl_seconds"`
	AllowedEndpoints []string  `json:"allowed_endpoints"`
	CreatedAt        time.Time `json:"created_at"`
}

func (r *redisRecord) credential(token string) *ScopedCredentials {
	return &ScopedCredentials{
		SwarmID:          r.SwarmID,
		TaskID:           r.TaskID,
		Token:            token,
		TTLSeconds:       r.TTLSeconds,
		AllowedEndpoints: r.AllowedEndpoints,
		CreatedAt:        r.CreatedAt,
	}
}

func (s *RedisStore) revokedKey() string {
	return s.config.KeyPrefix + "revoked"
}

func (s *RedisStore) Save(ctx context.Context, cred *ScopedCredentials) error {
	digest := tokenDigest(cred.Token)
	data, err := json.Marshal(redisRecord{
		SwarmID:          cred.SwarmID,
		TaskID:           cred.TaskID,
		TokenDigest:      digest,
		TTLSeconds:       cred.TTLSeconds,
		AllowedEndpoints: cred.AllowedEndpoints,
		CreatedAt:        cred.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal credential: %w", err)
	}
	ttl := time.Until(cred.ExpiresAt()) + s.config.ExpiredRetention
	if ttl <= 0 {
		ttl = time.Second
	}
	if err := s.client.Set(ctx, s.digestKey(digest), data, ttl).Err(); err != nil {
		s.logger.Error("credential save failed", zap.Error(err))
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context, token string) (*ScopedCredentials, bool, error) {
	data, err := s.client.Get(ctx, s.tokenKey(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	var rec redisRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, false, fmt.Errorf("unmarshal credential: %w", err)
	}
	return rec.credential(token), true, nil
}

func (s *RedisStore) Delete(ctx context.Context, token string) error {
	if err := s.client.Del(ctx, s.tokenKey(token)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// DeleteExpired 用 SCAN 遍历令牌记录，按摘要键删除已过期的记录。
// 解码失败的记录跳过并记录日志。
func (s *RedisStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	n := 0
	iter := s.client.Scan(ctx, 0, s.config.KeyPrefix+"token:*", s.config.ScanCount).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		data, err := s.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return n, fmt.Errorf("redis get: %w", err)
		}
		var rec redisRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			s.logger.Warn("skipping undecodable credential record", zap.String("key", key), zap.Error(err))
			continue
		}
		if !rec.credential("").Expired(now) {
			continue
		}
		if err := s.client.Del(ctx, key).Err(); err != nil {
			return n, fmt.Errorf("redis del: %w", err)
		}
		n++
	}
	if err := iter.Err(); err != nil {
		return n, fmt.Errorf("redis scan: %w", err)
	}
	return n, nil
}

func (s *RedisStore) MarkRevoked(ctx context.Context, token string) error {
	if err := s.client.SAdd(ctx, s.revokedKey(), tokenDigest(token)).Err(); err != nil {
		return fmt.Errorf("redis sadd: %w", err)
	}
	return nil
}

func (s *RedisStore) IsRevoked(ctx context.Context, token string) (bool, error) {
	ok, err := s.client.SIsMember(ctx, s.revokedKey(), tokenDigest(token)).Result()
	if err != nil {
		return false, fmt.Errorf("redis sismember: %w", err)
	}
	return ok, nil
}
