package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/BaSui01/swarmplane/audit"
	"github.com/BaSui01/swarmplane/coordination"
)

func newPropertyCoordinator(cfg Config) (*Coordinator, func()) {
	store := coordination.NewMemoryStore(coordination.DefaultMemoryStoreConfig(), nil)
	c := New(store, cfg, WithAuditSink(audit.NewRecorder()))
	return c, func() {
		_ = c.Close(context.Background())
		_ = store.Close()
	}
}

// Property: N 个并发认领同一个 unclaimed 任务，恰好一个返回 true。
func TestProperty_ClaimTask_AtMostOneWinner(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(2, 24).Draw(rt, "claimants")
		c, cleanup := newPropertyCoordinator(DefaultConfig())
		defer cleanup()
		ctx := context.Background()

		id, err := c.CreateTask(ctx, TaskSpec{TaskType: "p"})
		require.NoError(rt, err)

		results := make([]bool, n)
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				won, err := c.ClaimTask(ctx, fmt.Sprintf("swarm-%d", i), id)
				if err == nil {
					results[i] = won
				}
			}(i)
		}
		wg.Wait()

		wins := 0
		winner := ""
		for i, won := range results {
			if won {
				wins++
				winner = fmt.Sprintf("swarm-%d", i)
			}
		}
		require.Equal(rt, 1, wins)

		task, err := c.GetTask(ctx, id)
		require.NoError(rt, err)
		assert.Equal(rt, winner, task.Owner)
		assert.Equal(rt, StatusClaimed, task.Status)
	})
}

// Property: 任意操作序列之后，owner 有值当且仅当状态属于
// {claimed, in_progress, completed, failed}，且 owner 键与任务数据一致。
func TestProperty_TaskOwnershipInvariant(t *testing.T) {
	swarms := []string{"a", "b", "c"}
	ops := []string{"claim", "start", "complete", "fail"}

	rapid.Check(t, func(rt *rapid.T) {
		cfg := DefaultConfig()
		cfg.MaxAttempts = rapid.IntRange(0, 3).Draw(rt, "maxAttempts")
		c, cleanup := newPropertyCoordinator(cfg)
		defer cleanup()
		ctx := context.Background()

		id, err := c.CreateTask(ctx, TaskSpec{})
		require.NoError(rt, err)

		steps := rapid.IntRange(1, 30).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			swarm := rapid.SampledFrom(swarms).Draw(rt, fmt.Sprintf("swarm_%d", i))
			op := rapid.SampledFrom(ops).Draw(rt, fmt.Sprintf("op_%d", i))

			switch op {
			case "claim":
				_, err = c.ClaimTask(ctx, swarm, id)
			case "start":
				err = c.StartTask(ctx, swarm, id)
			case "complete":
				err = c.CompleteTask(ctx, swarm, id, nil)
			case "fail":
				_, err = c.FailTask(ctx, swarm, id, "boom")
			}
			// 预期内的拒绝不影响不变量
			if err != nil {
				expected := errors.Is(err, ErrOwnershipViolation) || errors.Is(err, ErrInvalidTransition)
				require.True(rt, expected, "op=%s err=%v", op, err)
			}

			task, err := c.GetTask(ctx, id)
			require.NoError(rt, err)
			assert.Equal(rt, task.Status.Owned(), task.Owner != "", "status=%s owner=%q", task.Status, task.Owner)

			ownerKey, _, err := c.store.Get(ctx, coordination.TaskOwnerKey(id))
			require.NoError(rt, err)
			if task.Owner == "" {
				assert.Equal(rt, coordination.Unclaimed, string(ownerKey))
			} else {
				assert.Equal(rt, task.Owner, string(ownerKey))
			}
		}
	})
}
