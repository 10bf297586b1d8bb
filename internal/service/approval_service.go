package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"treasury/internal/authz"
	"treasury/internal/config"
	"treasury/internal/infrastructure/metrics"
	"treasury/internal/model"
	"treasury/internal/repository"
	"treasury/pkg/errs"
	"treasury/pkg/idgen"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ApprovalExecutor 审批结束后执行或撤销底层操作，与状态迁移在同一事务内调用
type ApprovalExecutor interface {
	ExecuteApproved(ctx context.Context, tx *gorm.DB, wf *model.ApprovalWorkflow) error
	CancelRequest(ctx context.Context, tx *gorm.DB, wf *model.ApprovalWorkflow) error
}

// ApprovalService 多人审批状态机
//
// pending -> approved：审批数达到 TotalSteps，底层操作随状态迁移在同一事务内执行一次
// pending -> rejected：拒绝数达到 RejectionsRequired，底层操作撤销
// pending -> expired：超过有效期未完成，底层操作撤销
type ApprovalService struct {
	db           *gorm.DB
	cfg          config.TreasuryConfig
	ids          *idgen.Snowflake
	audit        *AuditService
	events       *eventWriter
	metrics      *metrics.Metrics
	approvalRepo *repository.ApprovalRepository
	accountRepo  *repository.AccountRepository
	executors    map[string]ApprovalExecutor
	now          func() time.Time
	batchSize    int
	itemTimeout  time.Duration
}

func NewApprovalService(d Deps, audit *AuditService) *ApprovalService {
	return &ApprovalService{
		db:           d.DB,
		cfg:          d.Config.Treasury,
		ids:          d.IDs,
		audit:        audit,
		events:       newEventWriter(d),
		metrics:      d.Metrics,
		approvalRepo: repository.NewApprovalRepository(d.DB),
		accountRepo:  repository.NewAccountRepository(d.DB),
		executors:    make(map[string]ApprovalExecutor),
		now:          d.now,
		batchSize:    d.Config.Jobs.BatchSize,
		itemTimeout:  d.Config.Jobs.ItemTimeout,
	}
}

// Register 按流程类型注册执行器，只在启动时调用
func (s *ApprovalService) Register(workflowType string, executor ApprovalExecutor) {
	s.executors[workflowType] = executor
}

// ApprovalRequest 需要审批的操作
type ApprovalRequest struct {
	Type        string
	RequestID   int64
	CompanyID   int64
	RequesterID int64
	Amount      decimal.Decimal
}

// RequestApproval 按企业策略判断是否需要审批；需要时在调用方事务内创建流程，否则返回 nil 由调用方直接执行
// settings 必须在事务开始前读取
func (s *ApprovalService) RequestApproval(ctx context.Context, tx *gorm.DB, settings *model.TreasurySettings, req ApprovalRequest) (*model.ApprovalWorkflow, error) {
	if !settings.RequiresApproval(req.Amount) {
		return nil, nil
	}
	if _, ok := s.executors[req.Type]; !ok {
		return nil, fmt.Errorf("未注册的审批类型: %s", req.Type)
	}

	now := s.now()
	wf := &model.ApprovalWorkflow{
		WorkflowNo:         s.ids.BusinessNo(idgen.PrefixWorkflow),
		CompanyID:          req.CompanyID,
		RequesterID:        req.RequesterID,
		Type:               req.Type,
		RequestID:          req.RequestID,
		Amount:             req.Amount,
		TotalSteps:         settings.TotalSteps(),
		RejectionsRequired: settings.Rejections(),
		Status:             model.WorkflowStatusPending,
		CreatedAt:          now,
	}
	if err := s.approvalRepo.CreateWorkflow(ctx, tx, wf); err != nil {
		return nil, fmt.Errorf("创建审批流程失败: %w", err)
	}
	if err := s.events.emit(ctx, tx, model.EventWorkflowStatusChange, wf.WorkflowNo, now, wf); err != nil {
		return nil, err
	}
	return wf, nil
}

type RecordApprovalRequest struct {
	Decision string `json:"decision" binding:"required,oneof=approved rejected"`
	Notes    string `json:"notes"`
}

// RecordApproval 记录一位审批人的决定
func (s *ApprovalService) RecordApproval(ctx context.Context, actor authz.Actor, workflowID int64, req *RecordApprovalRequest) (*model.ApprovalWorkflow, error) {
	if err := authz.Authorize(actor, authz.CapApprove); err != nil {
		return nil, err
	}
	if req.Decision != model.DecisionApproved && req.Decision != model.DecisionRejected {
		return nil, errs.Wrap(errs.ErrInvalidRequest, "decision=%s", req.Decision)
	}

	now := s.now()
	var closedAs string
	err := s.db.Transaction(func(tx *gorm.DB) error {
		wf, err := s.approvalRepo.GetWorkflowForUpdate(ctx, tx, workflowID)
		if err != nil {
			return err
		}
		if wf.Status != model.WorkflowStatusPending {
			return errs.Wrap(errs.ErrAlreadyTerminal, "workflow=%s, status=%s", wf.WorkflowNo, wf.Status)
		}

		if actor.Role != authz.RoleSystemAdmin {
			approver, err := s.accountRepo.GetByID(ctx, tx, actor.AccountID)
			if err != nil {
				return err
			}
			if approver.CompanyID() != wf.CompanyID {
				return errs.Wrap(errs.ErrNotAuthorized, "approver=%d 不属于企业 %d", actor.AccountID, wf.CompanyID)
			}
		}

		decided, err := s.approvalRepo.HasDecided(ctx, tx, wf.ID, actor.AccountID)
		if err != nil {
			return err
		}
		if decided {
			return errs.Wrap(errs.ErrDuplicateApproval, "workflow=%s, approver=%d", wf.WorkflowNo, actor.AccountID)
		}

		approval := &model.Approval{
			WorkflowID: wf.ID,
			ApproverID: actor.AccountID,
			Decision:   req.Decision,
			Notes:      req.Notes,
		}
		if err := s.approvalRepo.CreateApproval(ctx, tx, approval); err != nil {
			return fmt.Errorf("记录审批失败: %w", err)
		}

		approvals, rejections := 0, 0
		if req.Decision == model.DecisionApproved {
			approvals = 1
		} else {
			rejections = 1
		}
		if err := s.approvalRepo.IncrementCounts(ctx, tx, wf.ID, approvals, rejections); err != nil {
			return mapTransitionErr(err, errs.ErrAlreadyTerminal, "workflow=%s", wf.WorkflowNo)
		}
		wf.CurrentApprovals += approvals
		wf.Rejections += rejections

		switch {
		case wf.CurrentApprovals >= wf.TotalSteps:
			closedAs = model.WorkflowStatusApproved
		case wf.Rejections >= wf.RejectionsRequired:
			closedAs = model.WorkflowStatusRejected
		default:
			return nil
		}
		return s.close(ctx, tx, wf, closedAs, now)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.ApprovalDecision(req.Decision)
	s.audit.Record(ctx, actor.AccountID, model.AuditWorkflowDecision, idString(workflowID), map[string]interface{}{
		"decision": req.Decision,
		"notes":    req.Notes,
	})
	switch closedAs {
	case model.WorkflowStatusApproved:
		s.audit.Record(ctx, actor.AccountID, model.AuditWorkflowApproved, idString(workflowID), nil)
		log.Printf("审批通过并已执行: workflowID=%d", workflowID)
	case model.WorkflowStatusRejected:
		s.audit.Record(ctx, actor.AccountID, model.AuditWorkflowRejected, idString(workflowID), nil)
		log.Printf("审批被拒绝: workflowID=%d", workflowID)
	}

	return s.approvalRepo.GetWorkflow(ctx, workflowID)
}

// close 以条件更新结束流程，只有迁移成功的事务会调用执行器，保证底层操作最多执行一次
func (s *ApprovalService) close(ctx context.Context, tx *gorm.DB, wf *model.ApprovalWorkflow, status string, now time.Time) error {
	executor, ok := s.executors[wf.Type]
	if !ok {
		return fmt.Errorf("未注册的审批类型: %s", wf.Type)
	}

	if err := s.approvalRepo.Close(ctx, tx, wf.ID, status, now); err != nil {
		return mapTransitionErr(err, errs.ErrAlreadyTerminal, "workflow=%s", wf.WorkflowNo)
	}
	wf.Status = status
	wf.ClosedAt = &now

	if status == model.WorkflowStatusApproved {
		if err := executor.ExecuteApproved(ctx, tx, wf); err != nil {
			return fmt.Errorf("执行审批操作失败: %w", err)
		}
	} else {
		if err := executor.CancelRequest(ctx, tx, wf); err != nil {
			return fmt.Errorf("撤销审批操作失败: %w", err)
		}
	}
	return s.events.emit(ctx, tx, model.EventWorkflowStatusChange, wf.WorkflowNo, now, wf)
}

func (s *ApprovalService) GetWorkflow(ctx context.Context, workflowID int64) (*model.ApprovalWorkflow, error) {
	return s.approvalRepo.GetWorkflow(ctx, workflowID)
}

// ListPending 企业待审批流程
func (s *ApprovalService) ListPending(ctx context.Context, actor authz.Actor, companyID int64) ([]*model.ApprovalWorkflow, error) {
	if err := authz.Authorize(actor, authz.CapApprove); err != nil {
		return nil, err
	}
	return s.approvalRepo.ListPending(ctx, companyID)
}

// Expire 将单个超时流程置为 expired 并撤销底层操作；流程已结束时返回 AlreadyTerminal
func (s *ApprovalService) Expire(ctx context.Context, workflowID int64) error {
	now := s.now()
	err := s.db.Transaction(func(tx *gorm.DB) error {
		wf, err := s.approvalRepo.GetWorkflowForUpdate(ctx, tx, workflowID)
		if err != nil {
			return err
		}
		if wf.Status != model.WorkflowStatusPending {
			return errs.Wrap(errs.ErrAlreadyTerminal, "workflow=%s, status=%s", wf.WorkflowNo, wf.Status)
		}
		return s.close(ctx, tx, wf, model.WorkflowStatusExpired, now)
	})
	if err != nil {
		return err
	}
	s.audit.Record(ctx, model.SystemActorID, model.AuditWorkflowExpired, idString(workflowID), nil)
	return nil
}

// ExpireStale 关闭所有创建时间超过有效期的待审批流程
func (s *ApprovalService) ExpireStale(ctx context.Context) (*BatchReport, error) {
	report := &BatchReport{}
	if s.cfg.ApprovalExpiryHours <= 0 {
		return report, nil
	}
	cutoff := s.now().Add(-time.Duration(s.cfg.ApprovalExpiryHours) * time.Hour)

	var cursor int64
	for {
		stale, err := s.approvalRepo.ListStale(ctx, cutoff, cursor, s.batchSize)
		if err != nil {
			return report, err
		}
		if len(stale) == 0 {
			return report, nil
		}

		for _, wf := range stale {
			cursor = wf.ID
			report.Scanned++

			itemCtx, cancel := withItemTimeout(ctx, s.itemTimeout)
			err := s.Expire(itemCtx, wf.ID)
			cancel()

			switch {
			case err == nil:
				report.Succeeded++
				log.Printf("[ApprovalService] 审批超时关闭: workflowNo=%s", wf.WorkflowNo)
			case errs.IsKind(err, errs.KindAlreadyTerminal):
				report.Skipped++
			default:
				report.Failed++
				log.Printf("[ApprovalService] 关闭超时审批失败: workflowID=%d, err=%v", wf.ID, err)
			}
		}

		if ctx.Err() != nil {
			return report, ctx.Err()
		}
	}
}
