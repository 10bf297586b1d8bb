package repository

import (
	"context"
	"errors"

	"treasury/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SettingsRepository struct {
	db *gorm.DB
}

func NewSettingsRepository(db *gorm.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// GetByAccountID 未配置时返回 nil
func (r *SettingsRepository) GetByAccountID(ctx context.Context, accountID int64) (*model.TreasurySettings, error) {
	var s model.TreasurySettings
	err := r.db.WithContext(ctx).Where("account_id = ?", accountID).First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// Upsert 按 account_id 覆盖写入
func (r *SettingsRepository) Upsert(ctx context.Context, s *model.TreasurySettings) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "account_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"approval_threshold",
				"risk_flag_threshold",
				"auto_approval_enabled",
				"auto_approval_limit",
				"approval_workflow",
				"custom_steps",
				"rejections_required",
				"updated_at",
			}),
		}).
		Create(s).Error
}
