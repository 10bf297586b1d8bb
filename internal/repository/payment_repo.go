package repository

import (
	"context"
	"errors"

	"treasury/internal/model"
	"treasury/pkg/errs"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PaymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) Create(ctx context.Context, tx *gorm.DB, payment *model.Payment) error {
	return dbOr(tx, r.db).WithContext(ctx).Create(payment).Error
}

func (r *PaymentRepository) GetByID(ctx context.Context, id int64) (*model.Payment, error) {
	var payment model.Payment
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.Wrap(errs.ErrPaymentNotFound, "id=%d", id)
		}
		return nil, err
	}
	return &payment, nil
}

func (r *PaymentRepository) GetByIDForUpdate(ctx context.Context, tx *gorm.DB, id int64) (*model.Payment, error) {
	var payment model.Payment
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.Wrap(errs.ErrPaymentNotFound, "id=%d", id)
		}
		return nil, err
	}
	return &payment, nil
}

func (r *PaymentRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, id int64, fromStatus, toStatus string, extra map[string]interface{}) error {
	return transit(ctx, dbOr(tx, r.db), &model.Payment{}, model.PaymentTransitions, id, fromStatus, toStatus, extra)
}

// AttachWorkflow 记录付款对应的审批流程
func (r *PaymentRepository) AttachWorkflow(ctx context.Context, tx *gorm.DB, id, workflowID int64) error {
	return tx.WithContext(ctx).
		Model(&model.Payment{}).
		Where("id = ?", id).
		Update("workflow_id", workflowID).Error
}

// ListByAccount 作为付款方或收款方参与的付款
func (r *PaymentRepository) ListByAccount(ctx context.Context, accountID int64, page Page) ([]*model.Payment, int64, error) {
	var payments []*model.Payment
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Payment{}).
		Where("from_id = ? OR to_id = ?", accountID, accountID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset, limit := page.normalize()
	err := query.
		Order("id DESC").
		Offset(offset).
		Limit(limit).
		Find(&payments).Error

	return payments, total, err
}
