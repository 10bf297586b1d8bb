package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"treasury/internal/model"
	"treasury/internal/repository"
	"treasury/pkg/errs"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ProcessorService 处理外部支付通道的异步事件，每个事件一个独立事务
type ProcessorService struct {
	db          *gorm.DB
	ledger      *Ledger
	audit       *AuditService
	withdrawals *WithdrawalService
	events      *eventWriter
	depositRepo *repository.DepositRepository
	now         func() time.Time
}

func NewProcessorService(d Deps, ledger *Ledger, audit *AuditService, withdrawals *WithdrawalService) *ProcessorService {
	return &ProcessorService{
		db:          d.DB,
		ledger:      ledger,
		audit:       audit,
		withdrawals: withdrawals,
		events:      newEventWriter(d),
		depositRepo: repository.NewDepositRepository(d.DB),
		now:         d.now,
	}
}

// FundsReceived 法币到账后铸造等额代币；referenceID 重复的回调直接忽略
func (s *ProcessorService) FundsReceived(ctx context.Context, accountID int64, amount decimal.Decimal, referenceID string) error {
	if !amount.IsPositive() {
		return errs.ErrInvalidAmount
	}
	if strings.TrimSpace(referenceID) == "" {
		return errs.Wrap(errs.ErrInvalidRequest, "缺少 reference_id")
	}

	now := s.now()
	minted := false
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if _, err := s.ledger.LockAccounts(ctx, tx, accountID); err != nil {
			return err
		}
		deposit := &model.Deposit{
			ReferenceID: referenceID,
			AccountID:   accountID,
			Amount:      amount,
			CreatedAt:   now,
		}
		created, err := s.depositRepo.CreateIfAbsent(ctx, tx, deposit)
		if err != nil {
			return fmt.Errorf("记录到账失败: %w", err)
		}
		if !created {
			return nil
		}

		if _, err := s.ledger.Credit(ctx, tx, accountID, model.BalanceToken, amount, Entry{
			Type:      model.TransactionTypeMint,
			Reference: referenceID,
			Remark:    "法币到账铸币",
		}); err != nil {
			return err
		}
		minted = true
		return s.events.emit(ctx, tx, model.EventDepositMinted, referenceID, now, deposit)
	})
	if err != nil {
		return err
	}

	if !minted {
		log.Printf("[ProcessorService] 重复的到账回调，已忽略: referenceID=%s", referenceID)
		return nil
	}
	s.audit.Record(ctx, model.SystemActorID, model.AuditDepositMinted, referenceID, map[string]interface{}{
		"account_id": accountID,
		"amount":     amount,
	})
	log.Printf("铸币成功: accountID=%d, amount=%s, referenceID=%s", accountID, amount, referenceID)
	return nil
}

// PayoutConfirmed 重复回调视为成功
func (s *ProcessorService) PayoutConfirmed(ctx context.Context, withdrawalID int64, payoutRef string) error {
	_, err := s.withdrawals.ConfirmPayout(ctx, withdrawalID, payoutRef)
	if errs.IsKind(err, errs.KindAlreadyTerminal) {
		log.Printf("[ProcessorService] 提现已结束，忽略回调: withdrawalID=%d", withdrawalID)
		return nil
	}
	return err
}

func (s *ProcessorService) PayoutFailed(ctx context.Context, withdrawalID int64, reason string) error {
	_, err := s.withdrawals.FailPayout(ctx, withdrawalID, reason)
	if errs.IsKind(err, errs.KindAlreadyTerminal) {
		log.Printf("[ProcessorService] 提现已结束，忽略回调: withdrawalID=%d", withdrawalID)
		return nil
	}
	return err
}
