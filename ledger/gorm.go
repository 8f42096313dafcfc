package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// costRecord 对应 cost_records 表
type costRecord struct {
	ID         string    `gorm:"primaryKey;size:36"`
	RecordedAt time.Time `gorm:"index"`
	Provider   string    `gorm:"size:128;index"`
	Operation  string    `gorm:"size:128"`
	Cost       float64
	Metadata   string `gorm:"type:text"`
}

func (costRecord) TableName() string { return "cost_records" }

// GormLedger 基于关系数据库的账本
type GormLedger struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewGormLedger 创建 gorm 账本
func NewGormLedger(db *gorm.DB, logger *zap.Logger) *GormLedger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GormLedger{db: db, logger: logger.With(zap.String("component", "cost_ledger"))}
}

func (g *GormLedger) TrackOperationCost(ctx context.Context, provider, operation string, cost float64, metadata map[string]any) error {
	rec, err := newRecord(provider, operation, cost, metadata)
	if err != nil {
		return err
	}
	meta := ""
	if len(metadata) > 0 {
		b, err := json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("marshal cost metadata: %w", err)
		}
		meta = string(b)
	}
	row := costRecord{
		ID:         rec.ID,
		RecordedAt: rec.Timestamp,
		Provider:   provider,
		Operation:  operation,
		Cost:       cost,
		Metadata:   meta,
	}
	if err := g.db.WithContext(ctx).Create(&row).Error; err != nil {
		g.logger.Error("failed to persist cost record",
			zap.String("provider", provider),
			zap.String("operation", operation),
			zap.Error(err),
		)
		return fmt.Errorf("insert cost record: %w", err)
	}
	return nil
}

func (g *GormLedger) TotalCost(ctx context.Context, provider string) (float64, error) {
	var total float64
	err := g.db.WithContext(ctx).
		Model(&costRecord{}).
		Where("provider = ?", provider).
		Select("COALESCE(SUM(cost), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, fmt.Errorf("sum cost records: %w", err)
	}
	return total, nil
}

// Records 按时间顺序返回某 provider 的流水
func (g *GormLedger) Records(ctx context.Context, provider string, limit int) ([]Record, error) {
	q := g.db.WithContext(ctx).Where("provider = ?", provider).Order("recorded_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []costRecord
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query cost records: %w", err)
	}
	out := make([]Record, 0, len(rows))
	for _, r := range rows {
		rec := Record{
			ID:        r.ID,
			Timestamp: r.RecordedAt,
			Provider:  r.Provider,
			Operation: r.Operation,
			Cost:      r.Cost,
		}
		if r.Metadata != "" {
			if err := json.Unmarshal([]byte(r.Metadata), &rec.Metadata); err != nil {
				g.logger.Warn("corrupt cost metadata", zap.String("id", r.ID), zap.Error(err))
			}
		}
		out = append(out, rec)
	}
	return out, nil
}
