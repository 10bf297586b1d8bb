package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"treasury/internal/authz"
	"treasury/internal/config"
	"treasury/internal/model"
	"treasury/internal/repository"
	"treasury/pkg/errs"
	"treasury/pkg/idgen"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// WithdrawalService 稳定币赎回：销毁代币并请求外部通道打款
type WithdrawalService struct {
	deps           Deps
	db             *gorm.DB
	ids            *idgen.Snowflake
	singleLimit    decimal.Decimal
	dailyLimit     decimal.Decimal
	ledger         *Ledger
	audit          *AuditService
	settings       *SettingsProvider
	approvals      *ApprovalService
	events         *eventWriter
	accountRepo    *repository.AccountRepository
	withdrawalRepo *repository.WithdrawalRepository
	now            func() time.Time
}

func NewWithdrawalService(d Deps, ledger *Ledger, audit *AuditService, settings *SettingsProvider, approvals *ApprovalService) *WithdrawalService {
	return &WithdrawalService{
		deps:           d,
		db:             d.DB,
		ids:            d.IDs,
		singleLimit:    config.Decimal(d.Config.Treasury.WithdrawalSingleLimit),
		dailyLimit:     config.Decimal(d.Config.Treasury.WithdrawalDailyLimit),
		ledger:         ledger,
		audit:          audit,
		settings:       settings,
		approvals:      approvals,
		events:         newEventWriter(d),
		accountRepo:    repository.NewAccountRepository(d.DB),
		withdrawalRepo: repository.NewWithdrawalRepository(d.DB),
		now:            d.now,
	}
}

type WithdrawalRequest struct {
	AccountID int64           `json:"account_id" binding:"required"`
	Amount    decimal.Decimal `json:"amount" binding:"required"`
	BankRef   string          `json:"bank_ref" binding:"required"`
}

type WithdrawalResult struct {
	Withdrawal *model.Withdrawal       `json:"withdrawal"`
	Workflow   *model.ApprovalWorkflow `json:"workflow,omitempty"`
	Balance    *BalanceView            `json:"balance"`
}

// RequestWithdrawal 校验 KYC 与限额后发起提现；需要审批时先冻结金额
func (s *WithdrawalService) RequestWithdrawal(ctx context.Context, actor authz.Actor, req *WithdrawalRequest) (*WithdrawalResult, error) {
	if err := authz.AuthorizeAccount(actor, authz.CapTransact, req.AccountID); err != nil {
		return nil, err
	}
	if !req.Amount.IsPositive() {
		return nil, errs.ErrInvalidAmount
	}
	if strings.TrimSpace(req.BankRef) == "" {
		return nil, errs.Wrap(errs.ErrInvalidRequest, "缺少收款银行账户")
	}
	if req.Amount.GreaterThan(s.singleLimit) {
		return nil, errs.Wrap(errs.ErrLimitExceeded, "单笔限额 %s", s.singleLimit)
	}

	account, err := s.accountRepo.GetByID(ctx, nil, req.AccountID)
	if err != nil {
		return nil, err
	}
	if account.KYCStatus != model.KYCStatusApproved {
		return nil, errs.Wrap(errs.ErrKYCRequired, "kyc_status=%s", account.KYCStatus)
	}

	settings, err := s.settings.Get(ctx, account.CompanyID())
	if err != nil {
		return nil, fmt.Errorf("读取资金策略失败: %w", err)
	}

	unlock, err := accountLock(ctx, s.deps, req.AccountID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	now := s.now()
	w := &model.Withdrawal{
		WithdrawalNo: s.ids.BusinessNo(idgen.PrefixWithdrawal),
		AccountID:    req.AccountID,
		Amount:       req.Amount,
		BankRef:      req.BankRef,
		Status:       model.WithdrawalStatusAwaitingApproval,
		CreatedAt:    now,
	}

	var wf *model.ApprovalWorkflow
	var balance *model.Account
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if _, err := s.ledger.LockAccounts(ctx, tx, req.AccountID); err != nil {
			return err
		}

		today, err := s.withdrawalRepo.ListSince(ctx, tx, req.AccountID, dayStart(now))
		if err != nil {
			return err
		}
		used := decimal.Zero
		for _, prev := range today {
			used = used.Add(prev.Amount)
		}
		if used.Add(req.Amount).GreaterThan(s.dailyLimit) {
			return errs.Wrap(errs.ErrLimitExceeded, "日限额 %s，今日已提现 %s", s.dailyLimit, used)
		}

		if err := s.withdrawalRepo.Create(ctx, tx, w); err != nil {
			return fmt.Errorf("创建提现失败: %w", err)
		}

		wf, err = s.approvals.RequestApproval(ctx, tx, settings, ApprovalRequest{
			Type:        model.WorkflowTypeWithdrawal,
			RequestID:   w.ID,
			CompanyID:   account.CompanyID(),
			RequesterID: actor.AccountID,
			Amount:      req.Amount,
		})
		if err != nil {
			return err
		}

		if wf != nil {
			if balance, err = s.ledger.Freeze(ctx, tx, req.AccountID, req.Amount); err != nil {
				return err
			}
			if err := s.withdrawalRepo.AttachWorkflow(ctx, tx, w.ID, wf.ID); err != nil {
				return err
			}
			w.WorkflowID = &wf.ID
			return nil
		}

		balance, err = s.burn(ctx, tx, w, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	if settings.RiskFlagged(req.Amount) {
		s.audit.Record(ctx, actor.AccountID, model.AuditRiskFlagged, w.WithdrawalNo, map[string]interface{}{
			"amount":    req.Amount,
			"threshold": settings.RiskFlagThreshold,
		})
	}
	s.audit.Record(ctx, actor.AccountID, model.AuditWithdrawalCreated, w.WithdrawalNo, map[string]interface{}{
		"amount":   req.Amount,
		"bank_ref": req.BankRef,
		"status":   w.Status,
	})
	if wf != nil {
		s.audit.Record(ctx, actor.AccountID, model.AuditWorkflowCreated, idString(wf.ID), map[string]interface{}{
			"type":        wf.Type,
			"request_id":  w.ID,
			"total_steps": wf.TotalSteps,
		})
	}
	log.Printf("提现申请: withdrawalNo=%s, accountID=%d, amount=%s, status=%s", w.WithdrawalNo, req.AccountID, req.Amount, w.Status)

	return &WithdrawalResult{Withdrawal: w, Workflow: wf, Balance: newBalanceView(balance)}, nil
}

// burn 销毁代币并转为 processing，等待支付通道回调
func (s *WithdrawalService) burn(ctx context.Context, tx *gorm.DB, w *model.Withdrawal, now time.Time) (*model.Account, error) {
	account, err := s.ledger.Debit(ctx, tx, w.AccountID, model.BalanceToken, w.Amount, Entry{
		Type:      model.TransactionTypeWithdraw,
		Reference: w.WithdrawalNo,
		Remark:    "提现-" + w.BankRef,
	})
	if err != nil {
		return nil, err
	}
	if err := s.withdrawalRepo.UpdateStatus(ctx, tx, w.ID, model.WithdrawalStatusAwaitingApproval, model.WithdrawalStatusProcessing, nil); err != nil {
		return nil, mapTransitionErr(err, errs.ErrAlreadyTerminal, "withdrawal=%s", w.WithdrawalNo)
	}
	w.Status = model.WithdrawalStatusProcessing
	if err := s.events.emit(ctx, tx, model.EventPayoutRequested, w.WithdrawalNo, now, w); err != nil {
		return nil, err
	}
	return account, nil
}

func (s *WithdrawalService) ExecuteApproved(ctx context.Context, tx *gorm.DB, wf *model.ApprovalWorkflow) error {
	w, err := s.withdrawalRepo.GetByIDForUpdate(ctx, tx, wf.RequestID)
	if err != nil {
		return err
	}
	if _, err := s.ledger.Unfreeze(ctx, tx, w.AccountID, w.Amount); err != nil {
		return err
	}
	_, err = s.burn(ctx, tx, w, s.now())
	return err
}

func (s *WithdrawalService) CancelRequest(ctx context.Context, tx *gorm.DB, wf *model.ApprovalWorkflow) error {
	w, err := s.withdrawalRepo.GetByIDForUpdate(ctx, tx, wf.RequestID)
	if err != nil {
		return err
	}
	if err := s.withdrawalRepo.UpdateStatus(ctx, tx, w.ID, model.WithdrawalStatusAwaitingApproval, model.WithdrawalStatusRejected, nil); err != nil {
		return mapTransitionErr(err, errs.ErrAlreadyTerminal, "withdrawal=%s", w.WithdrawalNo)
	}
	if _, err := s.ledger.Unfreeze(ctx, tx, w.AccountID, w.Amount); err != nil {
		return err
	}
	w.Status = model.WithdrawalStatusRejected
	return s.events.emit(ctx, tx, model.EventWithdrawalRejected, w.WithdrawalNo, s.now(), w)
}

// ConfirmPayout 支付通道确认打款成功
func (s *WithdrawalService) ConfirmPayout(ctx context.Context, withdrawalID int64, payoutRef string) (*model.Withdrawal, error) {
	now := s.now()
	var w *model.Withdrawal
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		w, err = s.withdrawalRepo.GetByIDForUpdate(ctx, tx, withdrawalID)
		if err != nil {
			return err
		}
		if err := s.withdrawalRepo.UpdateStatus(ctx, tx, w.ID, model.WithdrawalStatusProcessing, model.WithdrawalStatusCompleted,
			map[string]interface{}{"payout_ref": payoutRef, "processed_at": now}); err != nil {
			return mapTransitionErr(err, errs.ErrAlreadyTerminal, "withdrawal=%s, status=%s", w.WithdrawalNo, w.Status)
		}
		w.Status = model.WithdrawalStatusCompleted
		w.PayoutRef = payoutRef
		w.ProcessedAt = &now
		return s.events.emit(ctx, tx, model.EventWithdrawalCompleted, w.WithdrawalNo, now, w)
	})
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, model.SystemActorID, model.AuditWithdrawalDone, w.WithdrawalNo, map[string]interface{}{
		"payout_ref": payoutRef,
	})
	return w, nil
}

// FailPayout 打款失败，已销毁的代币原路退回
func (s *WithdrawalService) FailPayout(ctx context.Context, withdrawalID int64, reason string) (*model.Withdrawal, error) {
	now := s.now()
	var w *model.Withdrawal
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		w, err = s.withdrawalRepo.GetByIDForUpdate(ctx, tx, withdrawalID)
		if err != nil {
			return err
		}
		if err := s.withdrawalRepo.UpdateStatus(ctx, tx, w.ID, model.WithdrawalStatusProcessing, model.WithdrawalStatusFailed,
			map[string]interface{}{"failure_reason": reason, "processed_at": now}); err != nil {
			return mapTransitionErr(err, errs.ErrAlreadyTerminal, "withdrawal=%s, status=%s", w.WithdrawalNo, w.Status)
		}
		if _, err := s.ledger.Credit(ctx, tx, w.AccountID, model.BalanceToken, w.Amount, Entry{
			Type:      model.TransactionTypeWithdrawRefund,
			Reference: w.WithdrawalNo,
			Remark:    "提现失败退回-" + reason,
		}); err != nil {
			return err
		}
		w.Status = model.WithdrawalStatusFailed
		w.FailureReason = reason
		w.ProcessedAt = &now
		return s.events.emit(ctx, tx, model.EventWithdrawalFailed, w.WithdrawalNo, now, w)
	})
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, model.SystemActorID, model.AuditWithdrawalFailed, w.WithdrawalNo, map[string]interface{}{
		"reason": reason,
		"amount": w.Amount,
	})
	log.Printf("提现失败已退回: withdrawalNo=%s, amount=%s, reason=%s", w.WithdrawalNo, w.Amount, reason)
	return w, nil
}

func (s *WithdrawalService) GetWithdrawal(ctx context.Context, withdrawalID int64) (*model.Withdrawal, error) {
	return s.withdrawalRepo.GetByID(ctx, withdrawalID)
}

func (s *WithdrawalService) ListWithdrawals(ctx context.Context, accountID int64, page repository.Page) ([]*model.Withdrawal, int64, error) {
	return s.withdrawalRepo.ListByAccount(ctx, accountID, page)
}

var _ ApprovalExecutor = (*WithdrawalService)(nil)
