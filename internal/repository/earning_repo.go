package repository

import (
	"context"
	"errors"
	"time"

	"treasury/internal/model"

	"gorm.io/gorm"
)

type EarningRepository struct {
	db *gorm.DB
}

func NewEarningRepository(db *gorm.DB) *EarningRepository {
	return &EarningRepository{db: db}
}

func (r *EarningRepository) Create(ctx context.Context, tx *gorm.DB, earning *model.Earning) error {
	return dbOr(tx, r.db).WithContext(ctx).Create(earning).Error
}

// LastAccrualDate 质押最近一次计息覆盖到的时间点，没有记录时返回 nil
func (r *EarningRepository) LastAccrualDate(ctx context.Context, tx *gorm.DB, stakeID int64) (*time.Time, error) {
	var earning model.Earning
	err := dbOr(tx, r.db).WithContext(ctx).
		Where("stake_id = ?", stakeID).
		Order("accrual_date DESC").
		First(&earning).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	date := earning.AccrualDate
	return &date, nil
}

func (r *EarningRepository) ListByStake(ctx context.Context, stakeID int64) ([]*model.Earning, error) {
	var earnings []*model.Earning
	err := r.db.WithContext(ctx).
		Where("stake_id = ?", stakeID).
		Order("accrual_date ASC").
		Find(&earnings).Error
	return earnings, err
}

func (r *EarningRepository) ListRecentByAccount(ctx context.Context, accountID int64, limit int) ([]*model.Earning, error) {
	var earnings []*model.Earning
	err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("accrual_date DESC, id DESC").
		Limit(limit).
		Find(&earnings).Error
	return earnings, err
}
