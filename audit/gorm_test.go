package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/swarmplane/testutil"
)

func TestGormBackend_WriteAndQuery(t *testing.T) {
	db := testutil.NewTestDB(t, &eventRecord{})
	backend := NewGormBackend(db, nil)
	ctx := context.Background()

	base := time.Now().Add(-time.Minute)
	for i, op := range []string{"claim_task", "complete_task", "claim_task"} {
		e := NewEvent("coordinator", op, map[string]any{"actor": "swarm-a", "n": i}, SeverityInfo)
		e.Timestamp = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, backend.Write(ctx, e))
	}
	require.NoError(t, backend.Write(ctx, NewEvent("governor", "reset", nil, SeverityHigh)))

	claims, err := backend.Query(ctx, &Filter{Component: "coordinator", Operation: "claim_task"})
	require.NoError(t, err)
	require.Len(t, claims, 2)
	assert.Equal(t, "swarm-a", claims[0].Actor)
	// JSON 数值解码为 float64
	assert.Equal(t, float64(0), claims[0].Params["n"])
	assert.Equal(t, float64(2), claims[1].Params["n"])

	high, err := backend.Query(ctx, &Filter{Severity: SeverityHigh})
	require.NoError(t, err)
	require.Len(t, high, 1)
	assert.Nil(t, high[0].Params)

	since := base.Add(1500 * time.Millisecond)
	recent, err := backend.Query(ctx, &Filter{Component: "coordinator", Since: &since, Limit: 5})
	require.NoError(t, err)
	assert.Len(t, recent, 1)

	all, err := backend.Query(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestGormBackend_UnmarshalableParams(t *testing.T) {
	db := testutil.NewTestDB(t, &eventRecord{})
	backend := NewGormBackend(db, nil)
	ctx := context.Background()

	e := NewEvent("c", "op", map[string]any{"ch": make(chan int)}, SeverityInfo)
	require.NoError(t, backend.Write(ctx, e))

	events, err := backend.Query(ctx, nil)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Contains(t, events[0].Params, "marshal_error")
}

func TestLogger_WithGormBackend(t *testing.T) {
	db := testutil.NewTestDB(t, &eventRecord{})
	l := NewLogger(Config{QueueSize: 8, Workers: 1}, nil, NewGormBackend(db, nil))

	l.LogOperation("credential", "revoke", map[string]any{"actor": "admin"}, SeverityWarning)
	require.NoError(t, l.Close())

	events, err := NewGormBackend(db, nil).Query(context.Background(), &Filter{Actor: "admin"})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}
