package service

import (
	"context"
	"fmt"
	"log"
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

// PaymentService 账户间转账与收款锁定
type PaymentService struct {
	deps        Deps
	db          *gorm.DB
	cfg         config.TreasuryConfig
	jobs        config.JobsConfig
	ids         *idgen.Snowflake
	ledger      *Ledger
	audit       *AuditService
	settings    *SettingsProvider
	approvals   *ApprovalService
	events      *eventWriter
	accountRepo *repository.AccountRepository
	paymentRepo *repository.PaymentRepository
	lockRepo    *repository.LockedBalanceRepository
	now         func() time.Time
}

func NewPaymentService(d Deps, ledger *Ledger, audit *AuditService, settings *SettingsProvider, approvals *ApprovalService) *PaymentService {
	return &PaymentService{
		deps:        d,
		db:          d.DB,
		cfg:         d.Config.Treasury,
		jobs:        d.Config.Jobs,
		ids:         d.IDs,
		ledger:      ledger,
		audit:       audit,
		settings:    settings,
		approvals:   approvals,
		events:      newEventWriter(d),
		accountRepo: repository.NewAccountRepository(d.DB),
		paymentRepo: repository.NewPaymentRepository(d.DB),
		lockRepo:    repository.NewLockedBalanceRepository(d.DB),
		now:         d.now,
	}
}

type SendPaymentRequest struct {
	FromID   int64           `json:"from_id" binding:"required"`
	ToID     int64           `json:"to_id" binding:"required"`
	Amount   decimal.Decimal `json:"amount" binding:"required"`
	LockDays int             `json:"lock_days" binding:"gte=0"`
	Memo     string          `json:"memo"`
}

type PaymentResult struct {
	Payment  *model.Payment          `json:"payment"`
	Workflow *model.ApprovalWorkflow `json:"workflow,omitempty"`
	Balance  *BalanceView            `json:"balance"`
}

// SendPayment 付款方扣款、收款方入账并按 LockDays 锁定，全部在一个事务内完成
// 超过企业审批阈值时只冻结付款方金额，审批通过后再执行
func (s *PaymentService) SendPayment(ctx context.Context, actor authz.Actor, req *SendPaymentRequest) (*PaymentResult, error) {
	if err := authz.AuthorizeAccount(actor, authz.CapTransact, req.FromID); err != nil {
		return nil, err
	}
	if !req.Amount.IsPositive() {
		return nil, errs.ErrInvalidAmount
	}
	if req.FromID == req.ToID {
		return nil, errs.ErrSelfPayment
	}
	if req.LockDays < 0 || req.LockDays > s.cfg.MaxLockDays {
		return nil, errs.Wrap(errs.ErrInvalidDuration, "lock_days=%d，允许范围 [0, %d]", req.LockDays, s.cfg.MaxLockDays)
	}

	sender, err := s.accountRepo.GetByID(ctx, nil, req.FromID)
	if err != nil {
		return nil, err
	}
	if _, err := s.accountRepo.GetByID(ctx, nil, req.ToID); err != nil {
		if errs.IsKind(err, errs.KindAccountNotFound) {
			return nil, errs.Wrap(errs.ErrRecipientNotFound, "id=%d", req.ToID)
		}
		return nil, err
	}

	settings, err := s.settings.Get(ctx, sender.CompanyID())
	if err != nil {
		return nil, fmt.Errorf("读取资金策略失败: %w", err)
	}

	unlock, err := accountLock(ctx, s.deps, req.FromID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	now := s.now()
	payment := &model.Payment{
		PaymentNo: s.ids.BusinessNo(idgen.PrefixPayment),
		FromID:    req.FromID,
		ToID:      req.ToID,
		Amount:    req.Amount,
		LockDays:  req.LockDays,
		Status:    model.PaymentStatusAwaitingApproval,
		ReleaseAt: now.Add(time.Duration(req.LockDays) * day),
		Memo:      req.Memo,
	}

	var wf *model.ApprovalWorkflow
	var balance *model.Account
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if _, err := s.ledger.LockAccounts(ctx, tx, req.FromID, req.ToID); err != nil {
			if errs.IsKind(err, errs.KindAccountNotFound) {
				return errs.Wrap(errs.ErrRecipientNotFound, "id=%d", req.ToID)
			}
			return err
		}

		if err := s.paymentRepo.Create(ctx, tx, payment); err != nil {
			return fmt.Errorf("创建付款失败: %w", err)
		}

		var err error
		wf, err = s.approvals.RequestApproval(ctx, tx, settings, ApprovalRequest{
			Type:        model.WorkflowTypePayment,
			RequestID:   payment.ID,
			CompanyID:   sender.CompanyID(),
			RequesterID: actor.AccountID,
			Amount:      req.Amount,
		})
		if err != nil {
			return err
		}

		if wf != nil {
			if balance, err = s.ledger.Freeze(ctx, tx, req.FromID, req.Amount); err != nil {
				return err
			}
			if err := s.paymentRepo.AttachWorkflow(ctx, tx, payment.ID, wf.ID); err != nil {
				return err
			}
			payment.WorkflowID = &wf.ID
			return nil
		}

		if balance, err = s.settle(ctx, tx, payment, now); err != nil {
			return err
		}
		return s.events.emit(ctx, tx, model.EventPaymentSent, payment.PaymentNo, now, payment)
	})
	if err != nil {
		return nil, err
	}

	if settings.RiskFlagged(req.Amount) {
		s.audit.Record(ctx, actor.AccountID, model.AuditRiskFlagged, payment.PaymentNo, map[string]interface{}{
			"amount":    req.Amount,
			"threshold": settings.RiskFlagThreshold,
		})
	}
	if wf != nil {
		s.audit.Record(ctx, actor.AccountID, model.AuditPaymentQueued, payment.PaymentNo, map[string]interface{}{
			"workflow_id": wf.ID,
			"amount":      req.Amount,
			"to_id":       req.ToID,
		})
		s.audit.Record(ctx, actor.AccountID, model.AuditWorkflowCreated, idString(wf.ID), map[string]interface{}{
			"type":        wf.Type,
			"request_id":  payment.ID,
			"total_steps": wf.TotalSteps,
		})
		log.Printf("付款待审批: paymentNo=%s, workflowID=%d, amount=%s", payment.PaymentNo, wf.ID, req.Amount)
	} else {
		s.audit.Record(ctx, actor.AccountID, model.AuditPaymentSent, payment.PaymentNo, map[string]interface{}{
			"from_id":   req.FromID,
			"to_id":     req.ToID,
			"amount":    req.Amount,
			"lock_days": req.LockDays,
		})
		log.Printf("付款成功: paymentNo=%s, from=%d, to=%d, amount=%s, lockDays=%d",
			payment.PaymentNo, req.FromID, req.ToID, req.Amount, req.LockDays)
	}

	return &PaymentResult{Payment: payment, Workflow: wf, Balance: newBalanceView(balance)}, nil
}

// settle 在事务内完成资金划转并建立收款锁定，返回付款方最新账户
// lockDays 为 0 时直接到账，付款状态为 released
func (s *PaymentService) settle(ctx context.Context, tx *gorm.DB, payment *model.Payment, now time.Time) (*model.Account, error) {
	sender, err := s.ledger.Debit(ctx, tx, payment.FromID, model.BalanceToken, payment.Amount, Entry{
		Type:      model.TransactionTypePaymentOut,
		Reference: payment.PaymentNo,
		Remark:    fmt.Sprintf("付款给账户 %d", payment.ToID),
	})
	if err != nil {
		return nil, err
	}
	if _, err := s.ledger.Credit(ctx, tx, payment.ToID, model.BalanceToken, payment.Amount, Entry{
		Type:      model.TransactionTypePaymentIn,
		Reference: payment.PaymentNo,
		Remark:    fmt.Sprintf("收到账户 %d 付款", payment.FromID),
	}); err != nil {
		return nil, err
	}

	releaseAt := now.Add(time.Duration(payment.LockDays) * day)
	target := model.PaymentStatusPending
	extra := map[string]interface{}{"release_at": releaseAt}

	if payment.LockDays == 0 {
		target = model.PaymentStatusReleased
		extra["released_at"] = now
		payment.ReleasedAt = &now
	} else {
		if _, err := s.ledger.Freeze(ctx, tx, payment.ToID, payment.Amount); err != nil {
			return nil, err
		}
		lock := &model.LockedBalance{
			AccountID:  payment.ToID,
			Amount:     payment.Amount,
			SourceType: model.LockSourcePayment,
			SourceID:   payment.ID,
			Status:     model.LockStatusLocked,
			ReleaseAt:  releaseAt,
		}
		if err := s.lockRepo.Create(ctx, tx, lock); err != nil {
			return nil, fmt.Errorf("创建锁定记录失败: %w", err)
		}
	}

	if err := s.paymentRepo.UpdateStatus(ctx, tx, payment.ID, model.PaymentStatusAwaitingApproval, target, extra); err != nil {
		return nil, mapTransitionErr(err, errs.ErrAlreadyTerminal, "payment=%s", payment.PaymentNo)
	}
	payment.Status = target
	payment.ReleaseAt = releaseAt
	return sender, nil
}

// ExecuteApproved 审批通过后解冻付款方金额并完成划转
func (s *PaymentService) ExecuteApproved(ctx context.Context, tx *gorm.DB, wf *model.ApprovalWorkflow) error {
	payment, err := s.paymentRepo.GetByIDForUpdate(ctx, tx, wf.RequestID)
	if err != nil {
		return err
	}
	if payment.Status != model.PaymentStatusAwaitingApproval {
		return errs.Wrap(errs.ErrAlreadyTerminal, "payment=%s, status=%s", payment.PaymentNo, payment.Status)
	}

	now := s.now()
	if _, err := s.ledger.Unfreeze(ctx, tx, payment.FromID, payment.Amount); err != nil {
		return err
	}
	if _, err := s.settle(ctx, tx, payment, now); err != nil {
		return err
	}
	return s.events.emit(ctx, tx, model.EventPaymentSent, payment.PaymentNo, now, payment)
}

// CancelRequest 审批被拒绝或过期，解冻付款方金额
func (s *PaymentService) CancelRequest(ctx context.Context, tx *gorm.DB, wf *model.ApprovalWorkflow) error {
	payment, err := s.paymentRepo.GetByIDForUpdate(ctx, tx, wf.RequestID)
	if err != nil {
		return err
	}
	if err := s.paymentRepo.UpdateStatus(ctx, tx, payment.ID, model.PaymentStatusAwaitingApproval, model.PaymentStatusRejected, nil); err != nil {
		return mapTransitionErr(err, errs.ErrAlreadyTerminal, "payment=%s", payment.PaymentNo)
	}
	if _, err := s.ledger.Unfreeze(ctx, tx, payment.FromID, payment.Amount); err != nil {
		return err
	}
	payment.Status = model.PaymentStatusRejected
	return s.events.emit(ctx, tx, model.EventPaymentRejected, payment.PaymentNo, s.now(), payment)
}

// ReleasePayment 收款方主动释放已到期的锁定
// 校验顺序：付款不存在 -> 非收款方 -> 已释放 -> 未到期
// 行锁顺序与 ReleaseLock 一致：先锁定记录，再付款
func (s *PaymentService) ReleasePayment(ctx context.Context, actor authz.Actor, paymentID int64) (*PaymentResult, error) {
	if err := authz.Authorize(actor, authz.CapTransact); err != nil {
		return nil, err
	}

	now := s.now()
	var payment *model.Payment
	var account *model.Account
	err := s.db.Transaction(func(tx *gorm.DB) error {
		lock, err := s.lockRepo.GetBySourceForUpdate(ctx, tx, model.LockSourcePayment, paymentID)
		if err != nil {
			return err
		}
		payment, err = s.paymentRepo.GetByIDForUpdate(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		if payment.ToID != actor.AccountID {
			return errs.Wrap(errs.ErrNotAuthorized, "只有收款方可以释放付款")
		}
		switch payment.Status {
		case model.PaymentStatusReleased:
			return errs.Wrap(errs.ErrAlreadyReleased, "payment=%s", payment.PaymentNo)
		case model.PaymentStatusAwaitingApproval:
			return errs.Wrap(errs.ErrNotMatured, "payment=%s 仍在审批中", payment.PaymentNo)
		case model.PaymentStatusRejected:
			return errs.Wrap(errs.ErrAlreadyTerminal, "payment=%s 已被拒绝", payment.PaymentNo)
		}

		if lock == nil {
			return fmt.Errorf("付款 %s 缺少锁定记录", payment.PaymentNo)
		}
		if lock.Status == model.LockStatusConsumed {
			return errs.Wrap(errs.ErrAlreadyReleased, "payment=%s", payment.PaymentNo)
		}
		if now.Before(lock.ReleaseAt) {
			return errs.Wrap(errs.ErrNotMatured, "payment=%s, releaseAt=%s", payment.PaymentNo, lock.ReleaseAt.Format(time.RFC3339))
		}

		account, err = s.releaseLock(ctx, tx, lock, payment, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, actor.AccountID, model.AuditPaymentReleased, payment.PaymentNo, map[string]interface{}{
		"amount": payment.Amount,
		"by":     "recipient",
	})
	return &PaymentResult{Payment: payment, Balance: newBalanceView(account)}, nil
}

// ReleaseLock 后台任务释放单个到期锁定
// 先以 locked -> consumed 的条件更新认领，认领失败说明已被其他事务处理，返回 AlreadyReleased
// 行锁顺序：锁定记录 -> 付款
func (s *PaymentService) ReleaseLock(ctx context.Context, lockID int64) error {
	now := s.now()
	var payment *model.Payment
	err := s.db.Transaction(func(tx *gorm.DB) error {
		lock, err := s.lockRepo.GetByIDForUpdate(ctx, tx, lockID)
		if err != nil {
			return err
		}
		if lock.Status != model.LockStatusLocked {
			return errs.Wrap(errs.ErrAlreadyReleased, "lock=%d", lockID)
		}
		if now.Before(lock.ReleaseAt) {
			return errs.Wrap(errs.ErrNotMatured, "lock=%d", lockID)
		}
		if lock.SourceType != model.LockSourcePayment {
			return fmt.Errorf("未知的锁定来源: %s", lock.SourceType)
		}

		payment, err = s.paymentRepo.GetByIDForUpdate(ctx, tx, lock.SourceID)
		if err != nil {
			return err
		}
		_, err = s.releaseLock(ctx, tx, lock, payment, now)
		return err
	})
	if err != nil {
		return err
	}

	s.audit.Record(ctx, model.SystemActorID, model.AuditPaymentReleased, payment.PaymentNo, map[string]interface{}{
		"amount": payment.Amount,
		"by":     "scheduler",
	})
	return nil
}

func (s *PaymentService) releaseLock(ctx context.Context, tx *gorm.DB, lock *model.LockedBalance, payment *model.Payment, now time.Time) (*model.Account, error) {
	if err := s.lockRepo.Consume(ctx, tx, lock.ID, now); err != nil {
		return nil, mapTransitionErr(err, errs.ErrAlreadyReleased, "lock=%d", lock.ID)
	}
	if err := s.paymentRepo.UpdateStatus(ctx, tx, payment.ID, model.PaymentStatusPending, model.PaymentStatusReleased,
		map[string]interface{}{"released_at": now}); err != nil {
		return nil, mapTransitionErr(err, errs.ErrAlreadyReleased, "payment=%s", payment.PaymentNo)
	}
	account, err := s.ledger.Unfreeze(ctx, tx, lock.AccountID, lock.Amount)
	if err != nil {
		return nil, err
	}

	payment.Status = model.PaymentStatusReleased
	payment.ReleasedAt = &now
	if err := s.events.emit(ctx, tx, model.EventPaymentReleased, payment.PaymentNo, now, payment); err != nil {
		return nil, err
	}
	return account, nil
}

// ReleaseDue 释放全部到期锁定，每个锁一个事务，单条失败不影响其他
// 按 id 游标翻页直到取空，失败的锁不会挡住后面的锁
func (s *PaymentService) ReleaseDue(ctx context.Context) (*BatchReport, error) {
	now := s.now()
	report := &BatchReport{}

	var cursor int64
	for {
		locks, err := s.lockRepo.ListDue(ctx, now, cursor, s.jobs.BatchSize)
		if err != nil {
			return report, err
		}
		if len(locks) == 0 {
			return report, nil
		}

		for _, l := range locks {
			cursor = l.ID
			report.Scanned++

			itemCtx, cancel := withItemTimeout(ctx, s.jobs.ItemTimeout)
			err := s.ReleaseLock(itemCtx, l.ID)
			cancel()

			switch {
			case err == nil:
				report.Succeeded++
			case errs.IsKind(err, errs.KindAlreadyReleased), errs.IsKind(err, errs.KindNotMatured):
				report.Skipped++
			default:
				report.Failed++
				log.Printf("[PaymentService] 释放锁定失败，跳过: lockID=%d, err=%v", l.ID, err)
			}
		}

		if ctx.Err() != nil {
			return report, ctx.Err()
		}
	}
}

func (s *PaymentService) GetPayment(ctx context.Context, paymentID int64) (*model.Payment, error) {
	return s.paymentRepo.GetByID(ctx, paymentID)
}

func (s *PaymentService) ListPayments(ctx context.Context, accountID int64, page repository.Page) ([]*model.Payment, int64, error) {
	return s.paymentRepo.ListByAccount(ctx, accountID, page)
}

func (s *PaymentService) ListLocks(ctx context.Context, accountID int64, status string) ([]*model.LockedBalance, error) {
	return s.lockRepo.ListByAccount(ctx, accountID, status)
}

var _ ApprovalExecutor = (*PaymentService)(nil)

