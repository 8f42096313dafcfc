package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// =============================================================================
// 🧪 Manager 测试
// =============================================================================

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *Manager) {
	t.Helper()
	mr := miniredis.RunT(t)

	config := DefaultConfig()
	config.Addr = mr.Addr()
	config.DefaultTTL = time.Minute
	config.HealthCheckInterval = 0

	manager, err := NewManager(config, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })
	return mr, manager
}

func TestNewManager(t *testing.T) {
	_, manager := setupTestRedis(t)
	assert.NotNil(t, manager.Client())
	assert.NoError(t, manager.Ping(context.Background()))
}

func TestNewManager_Unreachable(t *testing.T) {
	config := DefaultConfig()
	config.Addr = "localhost:1"
	config.MaxRetries = -1

	manager, err := NewManager(config, nil)
	assert.Nil(t, manager)
	assert.Error(t, err)
}

func TestManager_SetGetDelete(t *testing.T) {
	_, manager := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, manager.Set(ctx, "k", "v", time.Minute))
	value, err := manager.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", value)

	require.NoError(t, manager.Delete(ctx, "k"))
	_, err = manager.Get(ctx, "k")
	assert.True(t, IsCacheMiss(err))

	assert.NoError(t, manager.Delete(ctx))
}

func TestManager_DefaultTTLApplied(t *testing.T) {
	mr, manager := setupTestRedis(t)
	require.NoError(t, manager.Set(context.Background(), "k", "v", 0))
	assert.Equal(t, time.Minute, mr.TTL("k"))
}

func TestManager_JSON(t *testing.T) {
	_, manager := setupTestRedis(t)
	ctx := context.Background()

	type record struct {
		Name  string `json:"name"`
		Value int    `json:"value"`
	}
	require.NoError(t, manager.SetJSON(ctx, "j", record{Name: "a", Value: 7}, time.Minute))

	var got record
	require.NoError(t, manager.GetJSON(ctx, "j", &got))
	assert.Equal(t, record{Name: "a", Value: 7}, got)

	var missing record
	assert.ErrorIs(t, manager.GetJSON(ctx, "absent", &missing), ErrCacheMiss)

	assert.Error(t, manager.SetJSON(ctx, "bad", make(chan int), time.Minute))

	require.NoError(t, manager.Set(ctx, "not-json", "{", time.Minute))
	assert.Error(t, manager.GetJSON(ctx, "not-json", &got))
}

func TestManager_ExpireAndTTL(t *testing.T) {
	mr, manager := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, manager.Set(ctx, "k", "v", time.Hour))
	require.NoError(t, manager.Expire(ctx, "k", 2*time.Second))
	assert.Equal(t, 2*time.Second, mr.TTL("k"))

	mr.FastForward(time.Second)
	v, err := manager.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)

	mr.FastForward(2 * time.Second)

	_, err = manager.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)

	// 不足 1s 的 TTL 不被取整
	require.NoError(t, manager.Set(ctx, "short", "v", time.Hour))
	require.NoError(t, manager.Expire(ctx, "short", 100*time.Millisecond))
	assert.Equal(t, 100*time.Millisecond, mr.TTL("short"))
	mr.FastForward(200 * time.Millisecond)
	_, err = manager.Get(ctx, "short")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestManager_ClosedRejectsOperations(t *testing.T) {
	mr := miniredis.RunT(t)
	config := DefaultConfig()
	config.Addr = mr.Addr()
	config.HealthCheckInterval = 10 * time.Millisecond

	manager, err := NewManager(config, nil)
	require.NoError(t, err)
	require.NoError(t, manager.Close())
	require.NoError(t, manager.Close())

	ctx := context.Background()
	_, err = manager.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, manager.Set(ctx, "k", "v", 0), ErrClosed)
	assert.ErrorIs(t, manager.Ping(ctx), ErrClosed)
}

func TestManager_ConcurrentOperations(t *testing.T) {
	_, manager := setupTestRedis(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			key := fmt.Sprintf("concurrent-%d", id)
			assert.NoError(t, manager.Set(ctx, key, "value", time.Minute))
			value, err := manager.Get(ctx, key)
			assert.NoError(t, err)
			assert.Equal(t, "value", value)
		}(i)
	}
	wg.Wait()
}
