package audit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Severity 审计事件严重级别
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Sink 审计接收端。实现必须不阻塞、不失败。
type Sink interface {
	LogOperation(component, operation string, params map[string]any, severity Severity)
}

// Event 一条审计记录
type Event struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Component string         `json:"component"`
	Operation string         `json:"operation"`
	Actor     string         `json:"actor,omitempty"`
	Severity  Severity       `json:"severity"`
	Params    map[string]any `json:"params,omitempty"`
}

// Filter 查询条件
type Filter struct {
	Component string     `json:"component,omitempty"`
	Operation string     `json:"operation,omitempty"`
	Actor     string     `json:"actor,omitempty"`
	Severity  Severity   `json:"severity,omitempty"`
	Since     *time.Time `json:"since,omitempty"`
	Until     *time.Time `json:"until,omitempty"`
	Limit     int        `json:"limit,omitempty"`
	Offset    int        `json:"offset,omitempty"`
}

func (f *Filter) matches(e *Event) bool {
	if f == nil {
		return true
	}
	if f.Component != "" && e.Component != f.Component {
		return false
	}
	if f.Operation != "" && e.Operation != f.Operation {
		return false
	}
	if f.Actor != "" && e.Actor != f.Actor {
		return false
	}
	if f.Severity != "" && e.Severity != f.Severity {
		return false
	}
	if f.Since != nil && e.Timestamp.Before(*f.Since) {
		return false
	}
	if f.Until != nil && e.Timestamp.After(*f.Until) {
		return false
	}
	return true
}

// Backend 审计存储后端
type Backend interface {
	Write(ctx context.Context, event *Event) error
	Query(ctx context.Context, filter *Filter) ([]*Event, error)
	Close() error
}

// Config 异步审计配置
type Config struct {
	// QueueSize 异步队列容量
	QueueSize int `yaml:"queue_size" json:"queue_size"`

	// Workers 写入 worker 数量
	Workers int `yaml:"workers" json:"workers"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{QueueSize: 10000, Workers: 4}
}

// Logger 异步审计实现，满足 Sink。
type Logger struct {
	backends []Backend
	queue    chan *Event
	wg       sync.WaitGroup
	logger   *zap.Logger

	// mu 保护 closed，读锁期间允许入队，Close 持写锁后才关闭队列
	mu     sync.RWMutex
	closed bool

	dropped atomic.Uint64
}

// NewLogger 创建异步审计并启动 worker。
func NewLogger(cfg Config, logger *zap.Logger, backends ...Backend) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaults.QueueSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaults.Workers
	}

	l := &Logger{
		backends: backends,
		queue:    make(chan *Event, cfg.QueueSize),
		logger:   logger.With(zap.String("component", "audit_logger")),
	}
	for i := 0; i < cfg.Workers; i++ {
		l.wg.Add(1)
		go l.worker()
	}
	return l
}

func (l *Logger) worker() {
	defer l.wg.Done()
	for event := range l.queue {
		if err := l.write(context.Background(), event); err != nil {
			l.logger.Error("failed to write audit event",
				zap.String("event_id", event.ID),
				zap.Error(err),
			)
		}
	}
}

func (l *Logger) write(ctx context.Context, event *Event) error {
	var lastErr error
	for _, b := range l.backends {
		if err := b.Write(ctx, event); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// LogOperation 实现 Sink。队列满或已关闭时丢弃。
func (l *Logger) LogOperation(component, operation string, params map[string]any, severity Severity) {
	event := NewEvent(component, operation, params, severity)

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		l.dropped.Add(1)
		l.logger.Warn("audit logger is closed, dropping event",
			zap.String("operation", operation))
		return
	}

	select {
	case l.queue <- event:
	default:
		l.dropped.Add(1)
		l.logger.Warn("audit queue full, dropping event",
			zap.String("component", component),
			zap.String("operation", operation),
		)
	}
}

// Log 同步写入所有后端
func (l *Logger) Log(ctx context.Context, event *Event) error {
	l.mu.RLock()
	closed := l.closed
	l.mu.RUnlock()
	if closed {
		return fmt.Errorf("audit logger is closed")
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	return l.write(ctx, event)
}

// Query 从第一个后端查询
func (l *Logger) Query(ctx context.Context, filter *Filter) ([]*Event, error) {
	if len(l.backends) == 0 {
		return nil, fmt.Errorf("no audit backends configured")
	}
	return l.backends[0].Query(ctx, filter)
}

// Dropped 返回被丢弃的事件数
func (l *Logger) Dropped() uint64 {
	return l.dropped.Load()
}

// Close 排空队列并关闭后端
func (l *Logger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.queue)
	l.mu.Unlock()

	l.wg.Wait()

	var lastErr error
	for _, b := range l.backends {
		if err := b.Close(); err != nil {
			lastErr = err
		}
	}
	l.logger.Info("audit logger closed")
	return lastErr
}

// NewEvent 构造事件，params 中的 "actor" 提升为 Actor 字段。
func NewEvent(component, operation string, params map[string]any, severity Severity) *Event {
	e := &Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Component: component,
		Operation: operation,
		Severity:  severity,
		Params:    params,
	}
	if actor, ok := params["actor"].(string); ok {
		e.Actor = actor
	}
	return e
}

// =============================================================================
// Zap fallback
// =============================================================================

type zapSink struct {
	logger *zap.Logger
}

// NewZapSink 返回只写本地日志的 Sink。
func NewZapSink(logger *zap.Logger) Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &zapSink{logger: logger.With(zap.String("component", "audit"))}
}

func (s *zapSink) LogOperation(component, operation string, params map[string]any, severity Severity) {
	fields := []zap.Field{
		zap.String("audit_component", component),
		zap.String("operation", operation),
		zap.String("severity", string(severity)),
		zap.Any("params", params),
	}
	switch severity {
	case SeverityCritical:
		s.logger.Error("audit", fields...)
	case SeverityHigh, SeverityWarning:
		s.logger.Warn("audit", fields...)
	default:
		s.logger.Info("audit", fields...)
	}
}

// OrLog 在 sink 为 nil 时退化为本地日志。
func OrLog(sink Sink, logger *zap.Logger) Sink {
	if sink == nil {
		return NewZapSink(logger)
	}
	return sink
}
