package coordination

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisStoreConfig Redis 基座配置
type RedisStoreConfig struct {
	// KeyPrefix 数据键前缀
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix"`

	// ChannelPrefix 事件频道前缀
	ChannelPrefix string `yaml:"channel_prefix" json:"channel_prefix"`

	// WatchBuffer 每个订阅的事件缓冲
	WatchBuffer int `yaml:"watch_buffer" json:"watch_buffer"`
}

// DefaultRedisStoreConfig 返回默认配置
func DefaultRedisStoreConfig() RedisStoreConfig {
	return RedisStoreConfig{
		KeyPrefix:     "swarmplane:kv:",
		ChannelPrefix: "swarmplane:events:",
		WatchBuffer:   256,
	}
}

// 事件消息首字节：p = put（其后为值），d = delete
const (
	eventMarkPut    = "p"
	eventMarkDelete = "d"
)

// txnScript 在一个 Lua 脚本内完成比较、写入与事件发布，Redis 单线程执行保证原子性。
//
// KEYS[1] 比较键，KEYS[2..] 依次为 onSuccess 与 onFailure 的操作键。
// ARGV[1] 比较方式 eq|ne|any，ARGV[2] 期望值，ARGV[3] 成功分支操作数，
// ARGV[4] 失败分支操作数，ARGV[5] 频道前缀，其后每个操作占三个参数：类型、值、逻辑键。
var txnScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if not cur then cur = '' end
local ok
if ARGV[1] == 'any' then
  ok = true
elseif ARGV[1] == 'eq' then
  ok = (cur == ARGV[2])
else
  ok = (cur ~= ARGV[2])
end
local nSucc = tonumber(ARGV[3])
local nFail = tonumber(ARGV[4])
local first, last
if ok then
  first = 1
  last = nSucc
else
  first = nSucc + 1
  last = nSucc + nFail
end
for i = first, last do
  local base = 6 + (i - 1) * 3
  local key = KEYS[i + 1]
  local logical = ARGV[base + 2]
  if ARGV[base] == 'put' then
    redis.call('SET', key, ARGV[base + 1])
    redis.call('PUBLISH', ARGV[5] .. logical, 'p' .. ARGV[base + 1])
  elseif redis.call('DEL', key) > 0 then
    redis.call('PUBLISH', ARGV[5] .. logical, 'd')
  end
end
if ok then return 1 end
return 0
`)

// RedisStore 基于 Redis 的基座实现。
type RedisStore struct {
	client *redis.Client
	config RedisStoreConfig
	logger *zap.Logger

	mu      sync.Mutex
	watches map[string]*Watch
	closed  bool

	seq atomic.Uint64
}

// NewRedisStore 使用已有的 Redis 客户端创建基座。Close 会关闭该客户端。
func NewRedisStore(client *redis.Client, config RedisStoreConfig, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultRedisStoreConfig()
	if config.KeyPrefix == "" {
		config.KeyPrefix = defaults.KeyPrefix
	}
	if config.ChannelPrefix == "" {
		config.ChannelPrefix = defaults.ChannelPrefix
	}
	if config.WatchBuffer <= 0 {
		config.WatchBuffer = defaults.WatchBuffer
	}
	return &RedisStore{
		client:  client,
		config:  config,
		logger:  logger.With(zap.String("component", "redis_store")),
		watches: make(map[string]*Watch),
	}
}

func (s *RedisStore) dataKey(key string) string {
	return s.config.KeyPrefix + key
}

func (s *RedisStore) channel(key string) string {
	return s.config.ChannelPrefix + key
}

// Put 实现 Store.Put
func (s *RedisStore) Put(ctx context.Context, key string, value []byte) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.dataKey(key), value, 0)
		pipe.Publish(ctx, s.channel(key), eventMarkPut+string(value))
		return nil
	})
	if err != nil {
		return unavailable("put", err)
	}
	return nil
}

// Get 实现 Store.Get
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := s.client.Get(ctx, s.dataKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, unavailable("get", err)
	}
	return val, true, nil
}

// Delete 实现 Store.Delete
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	_, err := txnScript.Run(ctx, s.client,
		[]string{s.dataKey(key), s.dataKey(key)},
		"any", "", 1, 0, s.config.ChannelPrefix, "del", "", key,
	).Result()
	if err != nil {
		return unavailable("delete", err)
	}
	return nil
}

// Txn 实现 Store.Txn
func (s *RedisStore) Txn(ctx context.Context, cmp Compare, onSuccess, onFailure []Op) (bool, error) {
	keys := make([]string, 0, 1+len(onSuccess)+len(onFailure))
	keys = append(keys, s.dataKey(cmp.Key))

	mode := "eq"
	if cmp.Result == CompareNotEqual {
		mode = "ne"
	}
	args := make([]any, 0, 5+3*(len(onSuccess)+len(onFailure)))
	args = append(args, mode, string(cmp.Value), len(onSuccess), len(onFailure), s.config.ChannelPrefix)

	for _, ops := range [][]Op{onSuccess, onFailure} {
		for _, op := range ops {
			keys = append(keys, s.dataKey(op.Key))
			kind := "put"
			if op.Type == OpDelete {
				kind = "del"
			}
			args = append(args, kind, string(op.Value), op.Key)
		}
	}

	res, err := txnScript.Run(ctx, s.client, keys, args...).Int64()
	if err != nil {
		return false, unavailable("txn", err)
	}
	return res == 1, nil
}

// Watch 实现 Store.Watch。订阅确认后才返回，之后的写入都会被观察到。
func (s *RedisStore) Watch(ctx context.Context, prefix string) (*Watch, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, unavailable("watch", errStoreClosed)
	}
	s.mu.Unlock()

	pattern := s.config.ChannelPrefix + escapeGlob(prefix) + "*"
	pubsub := s.client.PSubscribe(ctx, pattern)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, unavailable("watch", err)
	}

	w := newWatch(watchID(s.seq.Add(1)), prefix, s.config.WatchBuffer)
	w.onStop = func() { _ = pubsub.Close() }

	s.mu.Lock()
	s.watches[w.id] = w
	s.mu.Unlock()

	go s.forward(ctx, w, pubsub.Channel())

	s.logger.Debug("watch started", zap.String("watch_id", w.id), zap.String("pattern", pattern))
	return w, nil
}

// forward 是订阅唯一的发送方，退出时负责关闭事件通道。
func (s *RedisStore) forward(ctx context.Context, w *Watch, msgs <-chan *redis.Message) {
	defer func() {
		s.mu.Lock()
		delete(s.watches, w.id)
		s.mu.Unlock()
		w.stop()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.cancelled():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			ev, valid := s.decode(msg)
			if !valid {
				s.logger.Warn("malformed event message", zap.String("channel", msg.Channel))
				continue
			}
			select {
			case w.events <- ev:
			case <-ctx.Done():
				return
			case <-w.cancelled():
				return
			}
		}
	}
}

func (s *RedisStore) decode(msg *redis.Message) (Event, bool) {
	key := strings.TrimPrefix(msg.Channel, s.config.ChannelPrefix)
	if msg.Payload == "" {
		return Event{}, false
	}
	switch msg.Payload[:1] {
	case eventMarkPut:
		return Event{Key: key, Value: []byte(msg.Payload[1:]), Kind: EventPut}, true
	case eventMarkDelete:
		return Event{Key: key, Kind: EventDelete}, true
	default:
		return Event{}, false
	}
}

// CancelWatch 实现 Store.CancelWatch
func (s *RedisStore) CancelWatch(id string) {
	s.mu.Lock()
	w, ok := s.watches[id]
	s.mu.Unlock()
	if ok {
		w.requestCancel()
	}
}

// Health 实现 Store.Health
func (s *RedisStore) Health(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return unavailable("health", err)
	}
	return nil
}

// Close 结束所有订阅并关闭 Redis 客户端
func (s *RedisStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	watches := make([]*Watch, 0, len(s.watches))
	for _, w := range s.watches {
		watches = append(watches, w)
	}
	s.mu.Unlock()

	for _, w := range watches {
		w.requestCancel()
	}
	return s.client.Close()
}

// escapeGlob 转义 PSUBSCRIBE 模式中的通配字符。
func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
