package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// eventRecord 对应 audit_events 表，表结构由 internal/migration 维护。
type eventRecord struct {
	ID        string    `gorm:"primaryKey;size:36"`
	Timestamp time.Time `gorm:"column:occurred_at;index"`
	Component string    `gorm:"size:64;index"`
	Operation string    `gorm:"size:128"`
	Actor     string    `gorm:"size:128"`
	Severity  string    `gorm:"size:16"`
	Params    string    `gorm:"type:text"`
}

func (eventRecord) TableName() string { return "audit_events" }

// GormBackend 将审计事件持久化到关系数据库。
type GormBackend struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewGormBackend 创建 gorm 后端
func NewGormBackend(db *gorm.DB, logger *zap.Logger) *GormBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GormBackend{
		db:     db,
		logger: logger.With(zap.String("component", "audit_gorm")),
	}
}

func (g *GormBackend) Write(ctx context.Context, event *Event) error {
	params, err := json.Marshal(event.Params)
	if err != nil {
		// 参数不可序列化时保留错误描述，事件本身不丢
		params, _ = json.Marshal(map[string]string{"marshal_error": err.Error()})
	}
	rec := eventRecord{
		ID:        event.ID,
		Timestamp: event.Timestamp,
		Component: event.Component,
		Operation: event.Operation,
		Actor:     event.Actor,
		Severity:  string(event.Severity),
		Params:    string(params),
	}
	if err := g.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func (g *GormBackend) Query(ctx context.Context, filter *Filter) ([]*Event, error) {
	q := g.db.WithContext(ctx).Model(&eventRecord{}).Order("occurred_at ASC")
	if filter != nil {
		if filter.Component != "" {
			q = q.Where("component = ?", filter.Component)
		}
		if filter.Operation != "" {
			q = q.Where("operation = ?", filter.Operation)
		}
		if filter.Actor != "" {
			q = q.Where("actor = ?", filter.Actor)
		}
		if filter.Severity != "" {
			q = q.Where("severity = ?", string(filter.Severity))
		}
		if filter.Since != nil {
			q = q.Where("occurred_at >= ?", *filter.Since)
		}
		if filter.Until != nil {
			q = q.Where("occurred_at <= ?", *filter.Until)
		}
		if filter.Offset > 0 {
			q = q.Offset(filter.Offset)
		}
		if filter.Limit > 0 {
			q = q.Limit(filter.Limit)
		}
	}

	var recs []eventRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}

	events := make([]*Event, 0, len(recs))
	for _, r := range recs {
		e := &Event{
			ID:        r.ID,
			Timestamp: r.Timestamp,
			Component: r.Component,
			Operation: r.Operation,
			Actor:     r.Actor,
			Severity:  Severity(r.Severity),
		}
		if r.Params != "" {
			if err := json.Unmarshal([]byte(r.Params), &e.Params); err != nil {
				g.logger.Warn("corrupt audit params", zap.String("event_id", r.ID), zap.Error(err))
			}
		}
		events = append(events, e)
	}
	return events, nil
}

// Close 不关闭共享的数据库连接
func (g *GormBackend) Close() error { return nil }
