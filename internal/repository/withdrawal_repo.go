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

type WithdrawalRepository struct {
	db *gorm.DB
}

func NewWithdrawalRepository(db *gorm.DB) *WithdrawalRepository {
	return &WithdrawalRepository{db: db}
}

func (r *WithdrawalRepository) Create(ctx context.Context, tx *gorm.DB, w *model.Withdrawal) error {
	return dbOr(tx, r.db).WithContext(ctx).Create(w).Error
}

func (r *WithdrawalRepository) GetByID(ctx context.Context, id int64) (*model.Withdrawal, error) {
	var w model.Withdrawal
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&w).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.Wrap(errs.ErrWithdrawalNotFound, "id=%d", id)
		}
		return nil, err
	}
	return &w, nil
}

func (r *WithdrawalRepository) GetByIDForUpdate(ctx context.Context, tx *gorm.DB, id int64) (*model.Withdrawal, error) {
	var w model.Withdrawal
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&w).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.Wrap(errs.ErrWithdrawalNotFound, "id=%d", id)
		}
		return nil, err
	}
	return &w, nil
}

func (r *WithdrawalRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, id int64, fromStatus, toStatus string, extra map[string]interface{}) error {
	return transit(ctx, dbOr(tx, r.db), &model.Withdrawal{}, model.WithdrawalTransitions, id, fromStatus, toStatus, extra)
}

func (r *WithdrawalRepository) AttachWorkflow(ctx context.Context, tx *gorm.DB, id, workflowID int64) error {
	return tx.WithContext(ctx).
		Model(&model.Withdrawal{}).
		Where("id = ?", id).
		Update("workflow_id", workflowID).Error
}

// ListSince 统计日限额用：since 之后发起且未被拒绝/失败的提现
func (r *WithdrawalRepository) ListSince(ctx context.Context, tx *gorm.DB, accountID int64, since time.Time) ([]*model.Withdrawal, error) {
	var list []*model.Withdrawal
	err := dbOr(tx, r.db).WithContext(ctx).
		Where("account_id = ? AND created_at >= ?", accountID, utc(since)).
		Where("status NOT IN ?", []string{model.WithdrawalStatusRejected, model.WithdrawalStatusFailed}).
		Find(&list).Error
	return list, err
}

func (r *WithdrawalRepository) ListByAccount(ctx context.Context, accountID int64, page Page) ([]*model.Withdrawal, int64, error) {
	var list []*model.Withdrawal
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Withdrawal{}).Where("account_id = ?", accountID)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset, limit := page.normalize()
	err := query.Order("id DESC").Offset(offset).Limit(limit).Find(&list).Error
	return list, total, err
}
