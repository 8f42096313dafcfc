package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/swarmplane/audit"
	"github.com/BaSui01/swarmplane/coordination"
	"github.com/BaSui01/swarmplane/internal/metrics"
	"github.com/BaSui01/swarmplane/internal/pool"
)

const (
	component           = "coordinator"
	instrumentationName = "github.com/BaSui01/swarmplane/coordinator"
)

// EscalationNotifier 外部编排方的升级通知接口，调用在后台任务池中执行。
type EscalationNotifier interface {
	NotifyEscalation(ctx context.Context, esc *Escalation) error
}

// Config 协调器配置
type Config struct {
	// MaxAttempts 任务最多被认领的次数，0 表示失败后无限重新排队
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`

	// IndexRetries 待处理升级索引 CAS 更新的最大重试次数
	IndexRetries int `yaml:"index_retries" json:"index_retries"`

	// Notifications 升级通知任务池
	Notifications pool.Config `yaml:"notifications" json:"notifications"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		MaxAttempts:   0,
		IndexRetries:  16,
		Notifications: pool.DefaultConfig(),
	}
}

// Option 配置可选协作方
type Option func(*Coordinator)

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithAuditSink 设置审计接收端
func WithAuditSink(sink audit.Sink) Option {
	return func(c *Coordinator) { c.audit = sink }
}

// WithMetrics 设置指标收集器
func WithMetrics(collector *metrics.Collector) Option {
	return func(c *Coordinator) { c.metrics = collector }
}

// WithEscalationNotifier 设置升级通知接收方
func WithEscalationNotifier(n EscalationNotifier) Option {
	return func(c *Coordinator) { c.notifier = n }
}

// WithTracer 设置 tracer，默认使用全局 TracerProvider
func WithTracer(tracer trace.Tracer) Option {
	return func(c *Coordinator) { c.tracer = tracer }
}

type pushSubscription struct {
	push   chan<- *Task
	cancel context.CancelFunc
	done   chan struct{}
}

// Coordinator 任务协调器
type Coordinator struct {
	store    coordination.Store
	config   Config
	logger   *zap.Logger
	audit    audit.Sink
	metrics  *metrics.Collector
	tracer   trace.Tracer
	notifier EscalationNotifier
	pool     *pool.Pool

	mu   sync.Mutex
	subs map[string]*pushSubscription
}

// New 创建协调器
func New(store coordination.Store, config Config, opts ...Option) *Coordinator {
	defaults := DefaultConfig()
	if config.MaxAttempts < 0 {
		config.MaxAttempts = 0
	}
	if config.IndexRetries <= 0 {
		config.IndexRetries = defaults.IndexRetries
	}

	c := &Coordinator{
		store:  store,
		config: config,
		logger: zap.NewNop(),
		subs:   make(map[string]*pushSubscription),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("component", component))
	c.audit = audit.OrLog(c.audit, c.logger)
	if c.tracer == nil {
		c.tracer = otel.Tracer(instrumentationName)
	}
	c.pool = pool.New(config.Notifications, c.logger)
	return c
}

// Close 取消所有推送监听并等待后台通知完成
func (c *Coordinator) Close(ctx context.Context) error {
	c.mu.Lock()
	subs := c.subs
	c.subs = make(map[string]*pushSubscription)
	c.mu.Unlock()

	for _, sub := range subs {
		sub.cancel()
		<-sub.done
	}
	return c.pool.Close(ctx)
}

// =============================================================================
// Swarm 注册与推送
// =============================================================================

// RegisterSwarm 注册或替换 swarm。push 非空时监听该 swarm 的广播键并转发任务，
// 重新注册会取消之前的监听。
func (c *Coordinator) RegisterSwarm(ctx context.Context, swarmID string, capabilities []string, metadata map[string]any, push chan<- *Task) error {
	start := time.Now()
	if !validSwarmID(swarmID) {
		return invalidRequest("invalid swarm id %q", swarmID)
	}

	reg := SwarmRegistration{
		SwarmID:      swarmID,
		Capabilities: append([]string(nil), capabilities...),
		RegisteredAt: time.Now().UTC(),
		Metadata:     metadata,
	}
	data, err := json.Marshal(reg)
	if err != nil {
		return fmt.Errorf("marshal registration: %w", err)
	}
	if err := c.store.Put(ctx, coordination.SwarmRegistrationKey(swarmID), data); err != nil {
		return err
	}

	c.mu.Lock()
	prev := c.subs[swarmID]
	delete(c.subs, swarmID)
	c.mu.Unlock()
	if prev != nil {
		prev.cancel()
		<-prev.done
	}

	if push != nil {
		if err := c.subscribe(swarmID, push); err != nil {
			return err
		}
	}

	c.logger.Info("swarm registered",
		zap.String("swarm_id", swarmID),
		zap.Strings("capabilities", capabilities),
		zap.Bool("push", push != nil),
	)
	c.audit.LogOperation(component, "register_swarm", map[string]any{
		"actor":        swarmID,
		"capabilities": capabilities,
		"push":         push != nil,
		"duration_ms":  time.Since(start).Milliseconds(),
	}, audit.SeverityInfo)
	return nil
}

func (c *Coordinator) subscribe(swarmID string, push chan<- *Task) error {
	// 监听生命周期独立于注册请求的 ctx
	watchCtx, cancel := context.WithCancel(context.Background())
	key := coordination.BroadcastKey(swarmID)
	w, err := c.store.Watch(watchCtx, key)
	if err != nil {
		cancel()
		return err
	}

	sub := &pushSubscription{push: push, cancel: cancel, done: make(chan struct{})}
	c.mu.Lock()
	old := c.subs[swarmID]
	c.subs[swarmID] = sub
	c.mu.Unlock()
	if old != nil {
		// 并发注册同一 swarm 时只保留最后一个监听
		old.cancel()
	}

	go func() {
		defer close(sub.done)
		defer c.store.CancelWatch(w.ID())
		for ev := range w.Events() {
			// 前缀监听会匹配 swarm-1 与 swarm-10，只接受精确键
			if ev.Kind != coordination.EventPut || ev.Key != key {
				continue
			}
			var task Task
			if err := json.Unmarshal(ev.Value, &task); err != nil {
				c.logger.Warn("malformed broadcast task", zap.String("swarm_id", swarmID), zap.Error(err))
				continue
			}
			select {
			case push <- &task:
			case <-watchCtx.Done():
				return
			}
		}
	}()
	return nil
}

// UnregisterSwarm 删除注册记录并停止推送
func (c *Coordinator) UnregisterSwarm(ctx context.Context, swarmID string) error {
	c.mu.Lock()
	sub := c.subs[swarmID]
	delete(c.subs, swarmID)
	c.mu.Unlock()
	if sub != nil {
		sub.cancel()
		<-sub.done
	}

	if err := c.store.Delete(ctx, coordination.SwarmRegistrationKey(swarmID)); err != nil {
		return err
	}
	c.logger.Info("swarm unregistered", zap.String("swarm_id", swarmID))
	c.audit.LogOperation(component, "unregister_swarm", map[string]any{"actor": swarmID}, audit.SeverityInfo)
	return nil
}

// AttachPush 为已注册的 swarm 开启推送并替换已有监听，注册记录保持不变。
func (c *Coordinator) AttachPush(ctx context.Context, swarmID string, push chan<- *Task) error {
	if push == nil {
		return invalidRequest("push channel is required")
	}
	if _, err := c.Swarm(ctx, swarmID); err != nil {
		return err
	}

	c.mu.Lock()
	prev := c.subs[swarmID]
	delete(c.subs, swarmID)
	c.mu.Unlock()
	if prev != nil {
		prev.cancel()
		<-prev.done
	}

	if err := c.subscribe(swarmID, push); err != nil {
		return err
	}
	c.logger.Debug("push channel attached", zap.String("swarm_id", swarmID))
	return nil
}

// DetachPush 停止向 push 转发任务，注册记录保持不变。
// 只有当前监听仍使用该通道时才会取消，返回值表示是否取消了监听。
func (c *Coordinator) DetachPush(swarmID string, push chan<- *Task) bool {
	c.mu.Lock()
	sub := c.subs[swarmID]
	if sub == nil || sub.push != push {
		c.mu.Unlock()
		return false
	}
	delete(c.subs, swarmID)
	c.mu.Unlock()

	sub.cancel()
	<-sub.done
	c.logger.Debug("push channel detached", zap.String("swarm_id", swarmID))
	return true
}

// Swarm 读取注册记录
func (c *Coordinator) Swarm(ctx context.Context, swarmID string) (*SwarmRegistration, error) {
	data, ok, err := c.store.Get(ctx, coordination.SwarmRegistrationKey(swarmID))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("swarm %s: %w", swarmID, ErrSwarmNotFound)
	}
	var reg SwarmRegistration
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("decode registration: %w", err)
	}
	return &reg, nil
}

// PushTaskToSwarm 写入 swarm 的广播键。这是通知而非持久投递。
func (c *Coordinator) PushTaskToSwarm(ctx context.Context, swarmID string, task *Task) error {
	if !coordination.ValidID(swarmID) {
		return invalidRequest("invalid swarm id %q", swarmID)
	}
	if task == nil {
		return invalidRequest("task is required")
	}
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	if err := c.store.Put(ctx, coordination.BroadcastKey(swarmID), data); err != nil {
		return err
	}
	c.audit.LogOperation(component, "push_task", map[string]any{
		"swarm_id": swarmID,
		"task_id":  task.TaskID,
	}, audit.SeverityInfo)
	return nil
}

// bumpTaskCount 以 CAS 方式递增注册记录的任务计数，未注册时忽略。
func (c *Coordinator) bumpTaskCount(ctx context.Context, swarmID string) {
	key := coordination.SwarmRegistrationKey(swarmID)
	for i := 0; i < c.config.IndexRetries; i++ {
		data, ok, err := c.store.Get(ctx, key)
		if err != nil || !ok {
			return
		}
		var reg SwarmRegistration
		if err := json.Unmarshal(data, &reg); err != nil {
			return
		}
		reg.TaskCount++
		next, err := json.Marshal(reg)
		if err != nil {
			return
		}
		swapped, err := c.store.Txn(ctx, coordination.Equal(key, data), []coordination.Op{coordination.PutOp(key, next)}, nil)
		if err != nil || swapped {
			return
		}
	}
	c.logger.Debug("task count update lost to contention", zap.String("swarm_id", swarmID))
}

// =============================================================================
// 追踪辅助
// =============================================================================

func (c *Coordinator) startSpan(ctx context.Context, name, swarmID, taskID string) (context.Context, trace.Span) {
	return c.tracer.Start(ctx, "coordinator."+name,
		trace.WithAttributes(
			attribute.String("swarm.id", swarmID),
			attribute.String("task.id", taskID),
		))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
