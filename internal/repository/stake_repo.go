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

type StakeRepository struct {
	db *gorm.DB
}

func NewStakeRepository(db *gorm.DB) *StakeRepository {
	return &StakeRepository{db: db}
}

func (r *StakeRepository) Create(ctx context.Context, tx *gorm.DB, stake *model.Stake) error {
	return dbOr(tx, r.db).WithContext(ctx).Create(stake).Error
}

func (r *StakeRepository) GetByID(ctx context.Context, id int64) (*model.Stake, error) {
	var stake model.Stake
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&stake).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.Wrap(errs.ErrStakeNotFound, "id=%d", id)
		}
		return nil, err
	}
	return &stake, nil
}

func (r *StakeRepository) GetByIDForUpdate(ctx context.Context, tx *gorm.DB, id int64) (*model.Stake, error) {
	var stake model.Stake
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&stake).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.Wrap(errs.ErrStakeNotFound, "id=%d", id)
		}
		return nil, err
	}
	return &stake, nil
}

// Unlock active -> unlocked，只有一个事务能成功
func (r *StakeRepository) Unlock(ctx context.Context, tx *gorm.DB, id int64, unlockedAt time.Time) error {
	return transit(ctx, tx, &model.Stake{}, model.StakeTransitions, id,
		model.StakeStatusActive, model.StakeStatusUnlocked,
		map[string]interface{}{"unlocked_at": utc(unlockedAt)})
}

func (r *StakeRepository) ListByAccount(ctx context.Context, accountID int64, status string) ([]*model.Stake, error) {
	var stakes []*model.Stake
	query := r.db.WithContext(ctx).Where("account_id = ?", accountID)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	err := query.Order("id ASC").Find(&stakes).Error
	return stakes, err
}

// ListActiveAfter 按 id 游标分批扫描未释放的质押
func (r *StakeRepository) ListActiveAfter(ctx context.Context, afterID int64, limit int) ([]*model.Stake, error) {
	var stakes []*model.Stake
	err := r.db.WithContext(ctx).
		Where("status = ? AND id > ?", model.StakeStatusActive, afterID).
		Order("id ASC").
		Limit(limit).
		Find(&stakes).Error
	return stakes, err
}

// ListMatured 按 id 游标分批取已到期但未释放的质押
func (r *StakeRepository) ListMatured(ctx context.Context, now time.Time, afterID int64, limit int) ([]*model.Stake, error) {
	var stakes []*model.Stake
	err := r.db.WithContext(ctx).
		Where("status = ? AND end_time <= ? AND id > ?", model.StakeStatusActive, utc(now), afterID).
		Order("id ASC").
		Limit(limit).
		Find(&stakes).Error
	return stakes, err
}
