package coordination

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/BaSui01/swarmplane/types"
)

// ErrUnavailable 表示后端存储不可达。基座不重试，调用方用 errors.Is 判断。
var ErrUnavailable = types.NewError(types.ErrServiceUnavailable, "coordination substrate unavailable").
	WithRetryable(true).
	WithComponent("coordination")

// unavailable 将底层错误包装为 ErrUnavailable。
func unavailable(op string, cause error) error {
	return types.Errorf(types.ErrServiceUnavailable, "coordination %s failed", op).
		WithRetryable(true).
		WithComponent("coordination").
		WithCause(cause)
}

// EventKind 事件类型
type EventKind string

const (
	EventPut    EventKind = "put"
	EventDelete EventKind = "delete"
)

// Event 是 Watch 流中的一条变更。
type Event struct {
	Key   string    `json:"key"`
	Value []byte    `json:"value,omitempty"`
	Kind  EventKind `json:"kind"`
}

// CompareResult 比较方式
type CompareResult int

const (
	CompareEqual CompareResult = iota
	CompareNotEqual
)

// Compare 是事务的单键比较条件。键不存在时按空值参与比较。
type Compare struct {
	Key    string
	Result CompareResult
	Value  []byte
}

// Equal 构造 "当前值 == value" 的比较条件。
func Equal(key string, value []byte) Compare {
	return Compare{Key: key, Result: CompareEqual, Value: value}
}

// NotEqual 构造 "当前值 != value" 的比较条件。
func NotEqual(key string, value []byte) Compare {
	return Compare{Key: key, Result: CompareNotEqual, Value: value}
}

func (c Compare) matches(current []byte) bool {
	eq := bytes.Equal(current, c.Value)
	if c.Result == CompareNotEqual {
		return !eq
	}
	return eq
}

// OpType 事务内操作类型
type OpType int

const (
	OpPut OpType = iota
	OpDelete
)

// Op 是事务分支内的一个写操作。
type Op struct {
	Type  OpType
	Key   string
	Value []byte
}

// PutOp 构造写入操作。
func PutOp(key string, value []byte) Op {
	return Op{Type: OpPut, Key: key, Value: value}
}

// DeleteOp 构造删除操作。
func DeleteOp(key string) Op {
	return Op{Type: OpDelete, Key: key}
}

// Store 线性一致的键值存储契约。
type Store interface {
	// Put 写入键值
	Put(ctx context.Context, key string, value []byte) error

	// Get 读取键值，键不存在时 ok 为 false
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)

	// Delete 删除键
	Delete(ctx context.Context, key string) error

	// Txn 原子执行：比较成立时应用 onSuccess，否则应用 onFailure。
	// 返回值表示比较是否成立。
	Txn(ctx context.Context, cmp Compare, onSuccess, onFailure []Op) (bool, error)

	// Watch 订阅前缀下的变更，不回放历史事件
	Watch(ctx context.Context, prefix string) (*Watch, error)

	// CancelWatch 按订阅 ID 取消监听
	CancelWatch(id string)

	// Health 廉价的状态查询
	Health(ctx context.Context) error

	// Close 释放资源
	Close() error
}

// Watch 一次前缀订阅。
type Watch struct {
	id     string
	prefix string
	events chan Event

	once   sync.Once
	done   chan struct{}
	onStop func()

	cancelOnce sync.Once
	cancelCh   chan struct{}
}

func newWatch(id, prefix string, buffer int) *Watch {
	if buffer <= 0 {
		buffer = 64
	}
	return &Watch{
		id:       id,
		prefix:   prefix,
		events:   make(chan Event, buffer),
		done:     make(chan struct{}),
		cancelCh: make(chan struct{}),
	}
}

// ID 返回订阅 ID，用于 CancelWatch。
func (w *Watch) ID() string { return w.id }

// Prefix 返回监听的键前缀。
func (w *Watch) Prefix() string { return w.prefix }

// Events 返回事件流。订阅取消后通道被关闭。
func (w *Watch) Events() <-chan Event { return w.events }

// Done 在订阅结束后关闭。
func (w *Watch) Done() <-chan struct{} { return w.done }

// stop 只执行一次：关闭 done、调用 onStop 并关闭事件通道。
// 调用方必须保证此后不再向 events 发送。
func (w *Watch) stop() {
	w.once.Do(func() {
		close(w.done)
		if w.onStop != nil {
			w.onStop()
		}
		close(w.events)
	})
}

// requestCancel 通知发送方停止，由发送方负责调用 stop。
func (w *Watch) requestCancel() {
	w.cancelOnce.Do(func() { close(w.cancelCh) })
}

func (w *Watch) cancelled() <-chan struct{} { return w.cancelCh }

func watchID(seq uint64) string {
	return fmt.Sprintf("watch-%d", seq)
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
