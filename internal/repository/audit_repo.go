package repository

import (
	"context"
	"time"

	"treasury/internal/model"

	"gorm.io/gorm"
)

type AuditRepository struct {
	db *gorm.DB
}

func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) Create(ctx context.Context, entry *model.AuditLog) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

// AuditFilter 审计查询条件，零值字段不参与过滤
type AuditFilter struct {
	ActorID  *int64
	Action   string
	TargetID string
	Since    time.Time
}

func (r *AuditRepository) List(ctx context.Context, filter AuditFilter, page Page) ([]*model.AuditLog, int64, error) {
	var entries []*model.AuditLog
	var total int64

	query := r.db.WithContext(ctx).Model(&model.AuditLog{})
	if filter.ActorID != nil {
		query = query.Where("actor_id = ?", *filter.ActorID)
	}
	if filter.Action != "" {
		query = query.Where("action = ?", filter.Action)
	}
	if filter.TargetID != "" {
		query = query.Where("target_id = ?", filter.TargetID)
	}
	if !filter.Since.IsZero() {
		query = query.Where("created_at >= ?", utc(filter.Since))
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset, limit := page.normalize()
	err := query.Order("id DESC").Offset(offset).Limit(limit).Find(&entries).Error
	return entries, total, err
}
