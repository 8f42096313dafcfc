package coordination

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runStoreContract 对任意 Store 实现运行同一组契约测试。
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("put get delete", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, ok, err := s.Get(ctx, "a")
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, s.Put(ctx, "a", []byte("1")))
		v, ok, err := s.Get(ctx, "a")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, []byte("1"), v)

		require.NoError(t, s.Delete(ctx, "a"))
		_, ok, err = s.Get(ctx, "a")
		require.NoError(t, err)
		assert.False(t, ok)

		// 删除不存在的键不报错
		require.NoError(t, s.Delete(ctx, "missing"))
	})

	t.Run("txn equal applies success branch", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Put(ctx, "owner", []byte(Unclaimed)))

		ok, err := s.Txn(ctx, Equal("owner", []byte(Unclaimed)),
			[]Op{PutOp("owner", []byte("swarm-a"))},
			[]Op{PutOp("lost", []byte("yes"))},
		)
		require.NoError(t, err)
		assert.True(t, ok)

		v, _, _ := s.Get(ctx, "owner")
		assert.Equal(t, "swarm-a", string(v))
		_, lost, _ := s.Get(ctx, "lost")
		assert.False(t, lost)
	})

	t.Run("txn mismatch applies failure branch", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Put(ctx, "owner", []byte("swarm-a")))

		ok, err := s.Txn(ctx, Equal("owner", []byte(Unclaimed)),
			[]Op{PutOp("owner", []byte("swarm-b"))},
			[]Op{PutOp("lost", []byte("yes"))},
		)
		require.NoError(t, err)
		assert.False(t, ok)

		v, _, _ := s.Get(ctx, "owner")
		assert.Equal(t, "swarm-a", string(v))
		lost, ok2, _ := s.Get(ctx, "lost")
		assert.True(t, ok2)
		assert.Equal(t, "yes", string(lost))
	})

	t.Run("txn not equal and absent key", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		// 不存在的键按空值比较
		ok, err := s.Txn(ctx, Equal("absent", nil), []Op{PutOp("absent", []byte("x"))}, nil)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.Txn(ctx, NotEqual("absent", []byte("x")), []Op{DeleteOp("absent")}, nil)
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = s.Txn(ctx, NotEqual("absent", []byte("y")), []Op{DeleteOp("absent")}, nil)
		require.NoError(t, err)
		assert.True(t, ok)
		_, exists, _ := s.Get(ctx, "absent")
		assert.False(t, exists)
	})

	t.Run("concurrent cas has exactly one winner", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Put(ctx, "owner", []byte(Unclaimed)))

		const n = 32
		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				ok, err := s.Txn(ctx, Equal("owner", []byte(Unclaimed)),
					[]Op{PutOp("owner", []byte(fmt.Sprintf("swarm-%d", i)))}, nil)
				assert.NoError(t, err)
				if ok {
					wins.Add(1)
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
	})

	t.Run("watch delivers prefix events in order", func(t *testing.T) {
		s := newStore(t)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		w, err := s.Watch(ctx, "tasks/broadcast/")
		require.NoError(t, err)
		require.NotEmpty(t, w.ID())

		require.NoError(t, s.Put(ctx, "other/key", []byte("ignored")))
		require.NoError(t, s.Put(ctx, "tasks/broadcast/s1", []byte("v1")))
		require.NoError(t, s.Put(ctx, "tasks/broadcast/s1", []byte("v2")))
		require.NoError(t, s.Delete(ctx, "tasks/broadcast/s1"))

		want := []Event{
			{Key: "tasks/broadcast/s1", Value: []byte("v1"), Kind: EventPut},
			{Key: "tasks/broadcast/s1", Value: []byte("v2"), Kind: EventPut},
			{Key: "tasks/broadcast/s1", Kind: EventDelete},
		}
		for _, exp := range want {
			select {
			case ev := <-w.Events():
				assert.Equal(t, exp.Key, ev.Key)
				assert.Equal(t, exp.Kind, ev.Kind)
				if exp.Kind == EventPut {
					assert.Equal(t, exp.Value, ev.Value)
				}
			case <-ctx.Done():
				t.Fatal("timed out waiting for watch event")
			}
		}
	})

	t.Run("cancel watch closes stream", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		w, err := s.Watch(ctx, "p/")
		require.NoError(t, err)
		s.CancelWatch(w.ID())

		select {
		case <-w.Done():
		case <-time.After(5 * time.Second):
			t.Fatal("watch did not stop")
		}
		// 事件通道最终关闭
		for range w.Events() {
		}
	})

	t.Run("context cancellation stops watch", func(t *testing.T) {
		s := newStore(t)
		ctx, cancel := context.WithCancel(context.Background())

		w, err := s.Watch(ctx, "p/")
		require.NoError(t, err)
		cancel()

		select {
		case <-w.Done():
		case <-time.After(5 * time.Second):
			t.Fatal("watch did not stop after context cancellation")
		}
	})

	t.Run("health", func(t *testing.T) {
		s := newStore(t)
		assert.NoError(t, s.Health(context.Background()))
	})
}

func TestMemoryStore_Contract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		s := NewMemoryStore(DefaultMemoryStoreConfig(), nil)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestMemoryStore_ClosedIsUnavailable(t *testing.T) {
	s := NewMemoryStore(DefaultMemoryStoreConfig(), nil)
	require.NoError(t, s.Close())

	ctx := context.Background()
	err := s.Put(ctx, "a", []byte("1"))
	assert.True(t, errors.Is(err, ErrUnavailable))

	_, _, err = s.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = s.Txn(ctx, Equal("a", nil), nil, nil)
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = s.Watch(ctx, "a")
	assert.ErrorIs(t, err, ErrUnavailable)

	assert.ErrorIs(t, s.Health(ctx), ErrUnavailable)
}

func TestMemoryStore_CloseStopsWatches(t *testing.T) {
	s := NewMemoryStore(DefaultMemoryStoreConfig(), nil)
	w, err := s.Watch(context.Background(), "")
	require.NoError(t, err)

	require.NoError(t, s.Close())
	select {
	case <-w.Done():
	case <-time.After(time.Second):
		t.Fatal("close did not stop watch")
	}
}

func TestMemoryStore_SlowWatcherDoesNotBlockWriters(t *testing.T) {
	s := NewMemoryStore(MemoryStoreConfig{WatchBuffer: 1}, nil)
	defer s.Close()
	ctx := context.Background()

	_, err := s.Watch(ctx, "k")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			_ = s.Put(ctx, "k", []byte(fmt.Sprint(i)))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("writer blocked on slow watcher")
	}
}

func TestMemoryStore_ValuesAreCopied(t *testing.T) {
	s := NewMemoryStore(DefaultMemoryStoreConfig(), nil)
	defer s.Close()
	ctx := context.Background()

	buf := []byte("abc")
	require.NoError(t, s.Put(ctx, "k", buf))
	buf[0] = 'x'

	v, _, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(v))
	assert.Equal(t, 1, s.Len())
}

func TestKeys(t *testing.T) {
	at := time.Unix(0, 42)
	assert.Equal(t, "swarms/s1/registration", SwarmRegistrationKey("s1"))
	assert.Equal(t, "tasks/t1/data", TaskDataKey("t1"))
	assert.Equal(t, "tasks/t1/owner", TaskOwnerKey("t1"))
	assert.Equal(t, "tasks/broadcast/s1", BroadcastKey("s1"))
	assert.Equal(t, "blockers/s1/42", BlockerKey("s1", at))
	assert.Equal(t, "orchestrator/blockers/pending/s1/42", PendingBlockerKey("s1", at))

	assert.True(t, ValidID("swarm-1"))
	assert.False(t, ValidID(""))
	assert.False(t, ValidID("a/b"))
	assert.False(t, ValidID("a*"))
}
