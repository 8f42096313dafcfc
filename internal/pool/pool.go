// Package pool 提供有界的后台任务池，用于即发即弃的通知（升级通知、推送等）。
//
// 提交永不阻塞：队列满或已关闭时立即返回错误，由调用方决定是否记录。
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var (
	ErrPoolClosed = errors.New("pool is closed")
	ErrPoolFull   = errors.New("pool is full")
)

// Task 一个后台任务
type Task func(ctx context.Context) error

type taskWrapper struct {
	name string
	task Task
}

// Config 任务池配置
type Config struct {
	Workers     int           `yaml:"workers" json:"workers"`
	QueueSize   int           `yaml:"queue_size" json:"queue_size"`
	TaskTimeout time.Duration `yaml:"task_timeout" json:"task_timeout"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Workers:     4,
		QueueSize:   256,
		TaskTimeout: 10 * time.Second,
	}
}

// Pool 固定 worker 数量的有界任务池
type Pool struct {
	config Config
	queue  chan taskWrapper
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	// 根上下文，Close 时取消，用于中止仍在执行的任务
	ctx    context.Context
	cancel context.CancelFunc

	active    atomic.Int32
	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64
}

// New 创建任务池并启动 worker
func New(config Config, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultConfig()
	if config.Workers <= 0 {
		config.Workers = defaults.Workers
	}
	if config.QueueSize <= 0 {
		config.QueueSize = defaults.QueueSize
	}
	if config.TaskTimeout <= 0 {
		config.TaskTimeout = defaults.TaskTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		config: config,
		queue:  make(chan taskWrapper, config.QueueSize),
		logger: logger.With(zap.String("component", "task_pool")),
		ctx:    ctx,
		cancel: cancel,
	}
	for i := 0; i < config.Workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// Submit 提交任务。队列满时返回 ErrPoolFull，不阻塞调用方。
func (p *Pool) Submit(name string, task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.rejected.Add(1)
		return ErrPoolClosed
	}

	p.submitted.Add(1)
	select {
	case p.queue <- taskWrapper{name: name, task: task}:
		return nil
	default:
		p.rejected.Add(1)
		p.logger.Warn("task queue full, dropping task", zap.String("task", name))
		return ErrPoolFull
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for w := range p.queue {
		p.active.Add(1)
		err := p.execute(w)
		p.active.Add(-1)

		if err != nil {
			p.failed.Add(1)
			p.logger.Warn("background task failed", zap.String("task", w.name), zap.Error(err))
		} else {
			p.completed.Add(1)
		}
	}
}

func (p *Pool) execute(w taskWrapper) (err error) {
	ctx, cancel := context.WithTimeout(p.ctx, p.config.TaskTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("background task panicked", zap.String("task", w.name), zap.Any("panic", r))
			err = fmt.Errorf("task %s panicked: %v", w.name, r)
		}
	}()
	return w.task(ctx)
}

// Close 停止接收新任务，等待已排队任务执行完毕；
// ctx 到期时取消仍在运行的任务。
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}

// Stats 任务池统计
type Stats struct {
	Workers   int   `json:"workers"`
	Active    int   `json:"active"`
	Queued    int   `json:"queued"`
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Rejected  int64 `json:"rejected"`
}

// Stats 返回统计快照
func (p *Pool) Stats() Stats {
	return Stats{
		Workers:   p.config.Workers,
		Active:    int(p.active.Load()),
		Queued:    len(p.queue),
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Rejected:  p.rejected.Load(),
	}
}
