package audit

import (
	"context"
	"sync"
)

// MemoryBackend 在内存中保存审计事件，超出容量时淘汰最旧的 10%。
type MemoryBackend struct {
	mu      sync.RWMutex
	events  []*Event
	maxSize int
}

// NewMemoryBackend 创建内存后端
func NewMemoryBackend(maxSize int) *MemoryBackend {
	if maxSize <= 0 {
		maxSize = 100000
	}
	return &MemoryBackend{maxSize: maxSize}
}

func (m *MemoryBackend) Write(ctx context.Context, event *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.events) >= m.maxSize {
		n := m.maxSize / 10
		if n < 1 {
			n = 1
		}
		m.events = m.events[n:]
	}
	m.events = append(m.events, event)
	return nil
}

func (m *MemoryBackend) Query(ctx context.Context, filter *Filter) ([]*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]*Event, 0)
	for _, e := range m.events {
		if filter.matches(e) {
			results = append(results, e)
		}
	}
	if filter == nil {
		return results, nil
	}
	if filter.Offset > 0 {
		if filter.Offset >= len(results) {
			return []*Event{}, nil
		}
		results = results[filter.Offset:]
	}
	if filter.Limit > 0 && len(results) > filter.Limit {
		results = results[:filter.Limit]
	}
	return results, nil
}

// Len 返回当前事件数
func (m *MemoryBackend) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.events)
}

func (m *MemoryBackend) Close() error { return nil }

// Recorder 同步记录事件的 Sink，用于测试与嵌入式场景。
type Recorder struct {
	mu     sync.Mutex
	events []*Event
}

// NewRecorder 创建同步记录器
func NewRecorder() *Recorder {
	return &Recorder{}
}

// LogOperation 实现 Sink
func (r *Recorder) LogOperation(component, operation string, params map[string]any, severity Severity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, NewEvent(component, operation, params, severity))
}

// Events 返回匹配过滤条件的事件副本
func (r *Recorder) Events(filter *Filter) []*Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Event, 0, len(r.events))
	for _, e := range r.events {
		if filter.matches(e) {
			out = append(out, e)
		}
	}
	return out
}

// Count 统计某组件某操作的事件数
func (r *Recorder) Count(component, operation string) int {
	return len(r.Events(&Filter{Component: component, Operation: operation}))
}
