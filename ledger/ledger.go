// Package ledger 记录按 provider（swarm）维度的成本流水。
//
// 账本只追加记录，不回写治理器的预算状态。
package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// CostTracker 成本记账协作方
type CostTracker interface {
	TrackOperationCost(ctx context.Context, provider, operation string, cost float64, metadata map[string]any) error
	TotalCost(ctx context.Context, provider string) (float64, error)
}

// Record 单条成本记录
type Record struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Provider  string         `json:"provider"`
	Operation string         `json:"operation"`
	Cost      float64        `json:"cost"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func newRecord(provider, operation string, cost float64, metadata map[string]any) (*Record, error) {
	if provider == "" {
		return nil, fmt.Errorf("provider is required")
	}
	return &Record{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Provider:  provider,
		Operation: operation,
		Cost:      cost,
		Metadata:  metadata,
	}, nil
}

// MemoryLedger 进程内账本
type MemoryLedger struct {
	mu      sync.RWMutex
	records []*Record
	totals  map[string]float64
}

// NewMemoryLedger 创建内存账本
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{totals: make(map[string]float64)}
}

func (m *MemoryLedger) TrackOperationCost(ctx context.Context, provider, operation string, cost float64, metadata map[string]any) error {
	rec, err := newRecord(provider, operation, cost, metadata)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	m.totals[provider] += cost
	return nil
}

func (m *MemoryLedger) TotalCost(ctx context.Context, provider string) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.totals[provider], nil
}

// Records 返回某 provider 的流水副本，provider 为空时返回全部
func (m *MemoryLedger) Records(provider string) []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Record, 0, len(m.records))
	for _, r := range m.records {
		if provider == "" || r.Provider == provider {
			out = append(out, *r)
		}
	}
	return out
}
