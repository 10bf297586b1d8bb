package service

import (
	"context"
	"log"
	"time"

	"treasury/internal/config"
	"treasury/internal/model"
	"treasury/internal/repository"
	"treasury/pkg/errs"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// EarningService 计息调度入口
type EarningService struct {
	db          *gorm.DB
	cfg         config.JobsConfig
	stakes      *StakeService
	stakeRepo   *repository.StakeRepository
	earningRepo *repository.EarningRepository
	accountRepo *repository.AccountRepository
	audit       *AuditService
	now         func() time.Time
}

func NewEarningService(d Deps, stakes *StakeService) *EarningService {
	return &EarningService{
		db:          d.DB,
		cfg:         d.Config.Jobs,
		stakes:      stakes,
		stakeRepo:   repository.NewStakeRepository(d.DB),
		earningRepo: repository.NewEarningRepository(d.DB),
		accountRepo: repository.NewAccountRepository(d.DB),
		audit:       stakes.audit,
		now:         d.now,
	}
}

// AccrueStake 为单个质押计提利息，每次调用在独立事务中完成
// 已释放或不足一整天时返回 nil
func (s *EarningService) AccrueStake(ctx context.Context, stakeID int64, asOf time.Time) (*model.Earning, error) {
	var earning *model.Earning
	err := s.db.Transaction(func(tx *gorm.DB) error {
		stake, err := s.stakeRepo.GetByIDForUpdate(ctx, tx, stakeID)
		if err != nil {
			return err
		}
		if stake.Unlocked() {
			return nil
		}
		earning, err = s.stakes.accrueInTx(ctx, tx, stake, asOf)
		return err
	})
	if err != nil {
		return nil, err
	}
	if earning != nil {
		s.audit.Record(ctx, model.SystemActorID, model.AuditEarningAccrued, idString(stakeID), map[string]interface{}{
			"amount":       earning.Amount,
			"days":         earning.Days,
			"accrual_date": earning.AccrualDate,
		})
	}
	return earning, nil
}

// AccrueAll 遍历全部未释放的质押，单条失败记日志后继续
func (s *EarningService) AccrueAll(ctx context.Context) (*BatchReport, error) {
	asOf := s.now()
	report := &BatchReport{}

	var cursor int64
	for {
		stakes, err := s.stakeRepo.ListActiveAfter(ctx, cursor, s.cfg.BatchSize)
		if err != nil {
			return report, err
		}
		if len(stakes) == 0 {
			return report, nil
		}

		for _, stake := range stakes {
			cursor = stake.ID
			report.Scanned++

			itemCtx, cancel := withItemTimeout(ctx, s.cfg.ItemTimeout)
			earning, err := s.AccrueStake(itemCtx, stake.ID, asOf)
			cancel()

			switch {
			case err != nil:
				report.Failed++
				log.Printf("[EarningService] 计息失败: stakeID=%d, kind=%s, err=%v", stake.ID, errs.KindOf(err), err)
			case earning == nil:
				report.Skipped++
			default:
				report.Succeeded++
			}
		}

		if ctx.Err() != nil {
			return report, ctx.Err()
		}
	}
}

// EarningsSummary 收益概览
type EarningsSummary struct {
	AccountID       int64            `json:"account_id"`
	TotalEarnings   decimal.Decimal  `json:"total_earnings"`
	DailyEarning    decimal.Decimal  `json:"daily_earning"` // 当前未释放质押每日应计利息之和
	ActiveStakes    int              `json:"active_stakes"`
	ActivePrincipal decimal.Decimal  `json:"active_principal"`
	Recent          []*model.Earning `json:"recent"`
}

func (s *EarningService) Summary(ctx context.Context, accountID int64) (*EarningsSummary, error) {
	account, err := s.accountRepo.GetByID(ctx, nil, accountID)
	if err != nil {
		return nil, err
	}
	stakes, err := s.stakeRepo.ListByAccount(ctx, accountID, model.StakeStatusActive)
	if err != nil {
		return nil, err
	}
	recent, err := s.earningRepo.ListRecentByAccount(ctx, accountID, 10)
	if err != nil {
		return nil, err
	}

	summary := &EarningsSummary{
		AccountID:       accountID,
		TotalEarnings:   account.TotalEarnings,
		DailyEarning:    decimal.Zero,
		ActiveStakes:    len(stakes),
		ActivePrincipal: decimal.Zero,
		Recent:          recent,
	}
	for _, st := range stakes {
		summary.ActivePrincipal = summary.ActivePrincipal.Add(st.Amount)
		summary.DailyEarning = summary.DailyEarning.Add(
			st.Amount.Mul(st.AnnualRate).DivRound(decimal.NewFromInt(daysPerYear), 18))
	}
	return summary, nil
}
