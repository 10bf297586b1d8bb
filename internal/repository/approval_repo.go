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

type ApprovalRepository struct {
	db *gorm.DB
}

func NewApprovalRepository(db *gorm.DB) *ApprovalRepository {
	return &ApprovalRepository{db: db}
}

func (r *ApprovalRepository) CreateWorkflow(ctx context.Context, tx *gorm.DB, wf *model.ApprovalWorkflow) error {
	return dbOr(tx, r.db).WithContext(ctx).Create(wf).Error
}

func (r *ApprovalRepository) GetWorkflow(ctx context.Context, id int64) (*model.ApprovalWorkflow, error) {
	var wf model.ApprovalWorkflow
	err := r.db.WithContext(ctx).
		Preload("Approvals").
		Where("id = ?", id).
		First(&wf).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.Wrap(errs.ErrWorkflowNotFound, "id=%d", id)
		}
		return nil, err
	}
	return &wf, nil
}

func (r *ApprovalRepository) GetWorkflowForUpdate(ctx context.Context, tx *gorm.DB, id int64) (*model.ApprovalWorkflow, error) {
	var wf model.ApprovalWorkflow
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&wf).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.Wrap(errs.ErrWorkflowNotFound, "id=%d", id)
		}
		return nil, err
	}
	return &wf, nil
}

// HasDecided 审批人是否已对流程做出过决定
func (r *ApprovalRepository) HasDecided(ctx context.Context, tx *gorm.DB, workflowID, approverID int64) (bool, error) {
	var count int64
	err := dbOr(tx, r.db).WithContext(ctx).
		Model(&model.Approval{}).
		Where("workflow_id = ? AND approver_id = ?", workflowID, approverID).
		Count(&count).Error
	return count > 0, err
}

func (r *ApprovalRepository) CreateApproval(ctx context.Context, tx *gorm.DB, approval *model.Approval) error {
	return dbOr(tx, r.db).WithContext(ctx).Create(approval).Error
}

// IncrementCounts 仅在流程仍为 pending 时累加计数
func (r *ApprovalRepository) IncrementCounts(ctx context.Context, tx *gorm.DB, id int64, approvals, rejections int) error {
	result := tx.WithContext(ctx).
		Model(&model.ApprovalWorkflow{}).
		Where("id = ? AND status = ?", id, model.WorkflowStatusPending).
		Updates(map[string]interface{}{
			"current_approvals": gorm.Expr("current_approvals + ?", approvals),
			"rejections":        gorm.Expr("rejections + ?", rejections),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStatusInvalid
	}
	return nil
}

// Close pending -> approved / rejected / expired
func (r *ApprovalRepository) Close(ctx context.Context, tx *gorm.DB, id int64, toStatus string, closedAt time.Time) error {
	return transit(ctx, tx, &model.ApprovalWorkflow{}, model.WorkflowTransitions, id,
		model.WorkflowStatusPending, toStatus,
		map[string]interface{}{"closed_at": utc(closedAt)})
}

func (r *ApprovalRepository) ListPending(ctx context.Context, companyID int64) ([]*model.ApprovalWorkflow, error) {
	var list []*model.ApprovalWorkflow
	err := r.db.WithContext(ctx).
		Preload("Approvals").
		Where("company_id = ? AND status = ?", companyID, model.WorkflowStatusPending).
		Order("id ASC").
		Find(&list).Error
	return list, err
}

// ListStale 按 id 游标分批取创建时间早于 cutoff 仍未结束的流程
func (r *ApprovalRepository) ListStale(ctx context.Context, cutoff time.Time, afterID int64, limit int) ([]*model.ApprovalWorkflow, error) {
	var list []*model.ApprovalWorkflow
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ? AND id > ?", model.WorkflowStatusPending, utc(cutoff), afterID).
		Order("id ASC").
		Limit(limit).
		Find(&list).Error
	return list, err
}
