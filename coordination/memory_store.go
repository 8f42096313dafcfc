package coordination

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// MemoryStoreConfig 内存基座配置
type MemoryStoreConfig struct {
	// WatchBuffer 每个订阅的事件缓冲，满时丢弃新事件
	WatchBuffer int `yaml:"watch_buffer" json:"watch_buffer"`
}

// DefaultMemoryStoreConfig 返回默认配置
func DefaultMemoryStoreConfig() MemoryStoreConfig {
	return MemoryStoreConfig{WatchBuffer: 256}
}

// MemoryStore 进程内线性一致实现。所有写操作与事件分发在同一把锁内完成，
// 因此同一个键的事件顺序与写入顺序一致。
type MemoryStore struct {
	config MemoryStoreConfig
	logger *zap.Logger

	mu       sync.RWMutex
	data     map[string][]byte
	watchers map[string]*Watch
	closed   bool

	seq atomic.Uint64
}

// NewMemoryStore 创建内存基座
func NewMemoryStore(config MemoryStoreConfig, logger *zap.Logger) *MemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.WatchBuffer <= 0 {
		config.WatchBuffer = DefaultMemoryStoreConfig().WatchBuffer
	}
	return &MemoryStore{
		config:   config,
		logger:   logger.With(zap.String("component", "memory_store")),
		data:     make(map[string][]byte),
		watchers: make(map[string]*Watch),
	}
}

var errStoreClosed = errors.New("store is closed")

// Put 实现 Store.Put
func (s *MemoryStore) Put(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return unavailable("put", errStoreClosed)
	}
	s.apply(PutOp(key, value))
	return nil
}

// Get 实现 Store.Get
func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, false, unavailable("get", errStoreClosed)
	}
	v, ok := s.data[key]
	if !ok {
		return nil, false, nil
	}
	return cloneBytes(v), true, nil
}

// Delete 实现 Store.Delete
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return unavailable("delete", errStoreClosed)
	}
	s.apply(DeleteOp(key))
	return nil
}

// Txn 实现 Store.Txn
func (s *MemoryStore) Txn(ctx context.Context, cmp Compare, onSuccess, onFailure []Op) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, unavailable("txn", errStoreClosed)
	}

	ok := cmp.matches(s.data[cmp.Key])
	ops := onFailure
	if ok {
		ops = onSuccess
	}
	for _, op := range ops {
		s.apply(op)
	}
	return ok, nil
}

// apply 在持锁状态下执行写操作并分发事件。
func (s *MemoryStore) apply(op Op) {
	switch op.Type {
	case OpPut:
		s.data[op.Key] = cloneBytes(op.Value)
		s.notify(Event{Key: op.Key, Value: cloneBytes(op.Value), Kind: EventPut})
	case OpDelete:
		if _, exists := s.data[op.Key]; !exists {
			return
		}
		delete(s.data, op.Key)
		s.notify(Event{Key: op.Key, Kind: EventDelete})
	}
}

func (s *MemoryStore) notify(ev Event) {
	for _, w := range s.watchers {
		if !strings.HasPrefix(ev.Key, w.prefix) {
			continue
		}
		select {
		case w.events <- ev:
		default:
			s.logger.Warn("watch buffer full, dropping event",
				zap.String("watch_id", w.id),
				zap.String("key", ev.Key),
			)
		}
	}
}

// Watch 实现 Store.Watch。ctx 结束时订阅自动取消。
func (s *MemoryStore) Watch(ctx context.Context, prefix string) (*Watch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, unavailable("watch", errStoreClosed)
	}

	w := newWatch(watchID(s.seq.Add(1)), prefix, s.config.WatchBuffer)
	s.watchers[w.id] = w

	go func() {
		select {
		case <-ctx.Done():
			s.CancelWatch(w.id)
		case <-w.done:
		}
	}()

	s.logger.Debug("watch started", zap.String("watch_id", w.id), zap.String("prefix", prefix))
	return w, nil
}

// CancelWatch 实现 Store.CancelWatch
func (s *MemoryStore) CancelWatch(id string) {
	s.mu.Lock()
	w, ok := s.watchers[id]
	if ok {
		delete(s.watchers, id)
		// 持锁关闭，保证 notify 不会向已关闭通道发送
		w.stop()
	}
	s.mu.Unlock()

	if ok {
		s.logger.Debug("watch cancelled", zap.String("watch_id", id))
	}
}

// Health 实现 Store.Health
func (s *MemoryStore) Health(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return unavailable("health", errStoreClosed)
	}
	return nil
}

// Close 关闭基座并结束所有订阅
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for id, w := range s.watchers {
		delete(s.watchers, id)
		w.stop()
	}
	return nil
}

// Len 返回当前键数量（用于测试与诊断）
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
