package repository

import (
	"context"
	"errors"

	"treasury/internal/model"
	"treasury/pkg/errs"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) Create(ctx context.Context, tx *gorm.DB, account *model.Account) error {
	return dbOr(tx, r.db).WithContext(ctx).Create(account).Error
}

func (r *AccountRepository) GetByID(ctx context.Context, tx *gorm.DB, id int64) (*model.Account, error) {
	var account model.Account
	err := dbOr(tx, r.db).WithContext(ctx).Where("id = ?", id).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.Wrap(errs.ErrAccountNotFound, "id=%d", id)
		}
		return nil, err
	}
	return &account, nil
}

// GetByIDForUpdate 行锁读取，必须在事务内调用
func (r *AccountRepository) GetByIDForUpdate(ctx context.Context, tx *gorm.DB, id int64) (*model.Account, error) {
	var account model.Account
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.Wrap(errs.ErrAccountNotFound, "id=%d", id)
		}
		return nil, err
	}
	return &account, nil
}

// SaveBalances 写回余额字段，以 version 做乐观锁校验；成功后 account.Version 自增
func (r *AccountRepository) SaveBalances(ctx context.Context, tx *gorm.DB, account *model.Account) error {
	result := tx.WithContext(ctx).
		Model(&model.Account{}).
		Where("id = ? AND version = ?", account.ID, account.Version).
		Updates(map[string]interface{}{
			"stable_balance": account.StableBalance,
			"token_balance":  account.TokenBalance,
			"frozen_amount":  account.FrozenAmount,
			"total_earnings": account.TotalEarnings,
			"version":        gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrVersionConflict
	}
	account.Version++
	return nil
}

// ListByParent 企业下属子账户
func (r *AccountRepository) ListByParent(ctx context.Context, parentID int64) ([]*model.Account, error) {
	var accounts []*model.Account
	err := r.db.WithContext(ctx).
		Where("parent_account_id = ?", parentID).
		Order("id ASC").
		Find(&accounts).Error
	return accounts, err
}

func (r *AccountRepository) UpdateKYCStatus(ctx context.Context, id int64, status string) error {
	result := r.db.WithContext(ctx).
		Model(&model.Account{}).
		Where("id = ?", id).
		Update("kyc_status", status)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return errs.Wrap(errs.ErrAccountNotFound, "id=%d", id)
	}
	return nil
}
