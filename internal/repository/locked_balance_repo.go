package repository

import (
	"context"
	"errors"
	"time"

	"treasury/internal/model"
	"treasury/pkg/errs"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type LockedBalanceRepository struct {
	db *gorm.DB
}

func NewLockedBalanceRepository(db *gorm.DB) *LockedBalanceRepository {
	return &LockedBalanceRepository{db: db}
}

func (r *LockedBalanceRepository) Create(ctx context.Context, tx *gorm.DB, lock *model.LockedBalance) error {
	return dbOr(tx, r.db).WithContext(ctx).Create(lock).Error
}

func (r *LockedBalanceRepository) GetByIDForUpdate(ctx context.Context, tx *gorm.DB, id int64) (*model.LockedBalance, error) {
	var lock model.LockedBalance
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&lock).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.Wrap(errs.ErrPaymentNotFound, "lock id=%d", id)
		}
		return nil, err
	}
	return &lock, nil
}

// GetBySourceForUpdate 按来源查找并锁定锁记录，不存在返回 nil
func (r *LockedBalanceRepository) GetBySourceForUpdate(ctx context.Context, tx *gorm.DB, sourceType string, sourceID int64) (*model.LockedBalance, error) {
	var lock model.LockedBalance
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("source_type = ? AND source_id = ?", sourceType, sourceID).
		First(&lock).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &lock, nil
}

// ListDue 按 id 游标分批取到期待释放的锁，仅作为候选集，是否真正处理以 Consume 的条件更新为准
func (r *LockedBalanceRepository) ListDue(ctx context.Context, now time.Time, afterID int64, limit int) ([]*model.LockedBalance, error) {
	var locks []*model.LockedBalance
	err := r.db.WithContext(ctx).
		Where("status = ? AND release_at <= ? AND id > ?", model.LockStatusLocked, utc(now), afterID).
		Order("id ASC").
		Limit(limit).
		Find(&locks).Error
	return locks, err
}

// Consume locked -> consumed，认领成功的事务负责后续释放
func (r *LockedBalanceRepository) Consume(ctx context.Context, tx *gorm.DB, id int64, releasedAt time.Time) error {
	return transit(ctx, tx, &model.LockedBalance{}, model.LockTransitions, id,
		model.LockStatusLocked, model.LockStatusConsumed,
		map[string]interface{}{"released_at": utc(releasedAt)})
}

func (r *LockedBalanceRepository) ListByAccount(ctx context.Context, accountID int64, status string) ([]*model.LockedBalance, error) {
	var locks []*model.LockedBalance
	query := r.db.WithContext(ctx).Where("account_id = ?", accountID)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	err := query.Order("release_at ASC").Find(&locks).Error
	return locks, err
}
