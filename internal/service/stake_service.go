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

const daysPerYear = 365

const day = 24 * time.Hour

// AccrueDaily 计算 since 之后到 asOf 为止、尚未计提的整日利息
//
// amount * annualRate / 365 * floor(天数)，单利，不足一整天返回 0。
// 计息区间截止到 min(到期日, 释放时间)。返回利息、计提天数与本次计提覆盖到的时间点。
func AccrueDaily(stake *model.Stake, since time.Time, asOf time.Time) (decimal.Decimal, int, time.Time) {
	end := stake.AccrualEnd()
	if asOf.Before(end) {
		end = asOf
	}
	if !end.After(since) {
		return decimal.Zero, 0, since
	}

	days := int(end.Sub(since) / day)
	if days < 1 {
		return decimal.Zero, 0, since
	}

	amount := stake.Amount.
		Mul(stake.AnnualRate).
		Mul(decimal.NewFromInt(int64(days))).
		DivRound(decimal.NewFromInt(daysPerYear), 18)
	if amount.IsNegative() {
		amount = decimal.Zero
	}
	return amount, days, since.Add(time.Duration(days) * day)
}

// StakeService 质押与计息
type StakeService struct {
	db          *gorm.DB
	cfg         config.TreasuryConfig
	jobs        config.JobsConfig
	ids         *idgen.Snowflake
	ledger      *Ledger
	audit       *AuditService
	events      *eventWriter
	stakeRepo   *repository.StakeRepository
	earningRepo *repository.EarningRepository
	now         func() time.Time
}

func NewStakeService(d Deps, ledger *Ledger, audit *AuditService) *StakeService {
	return &StakeService{
		db:          d.DB,
		cfg:         d.Config.Treasury,
		jobs:        d.Config.Jobs,
		ids:         d.IDs,
		ledger:      ledger,
		audit:       audit,
		events:      newEventWriter(d),
		stakeRepo:   repository.NewStakeRepository(d.DB),
		earningRepo: repository.NewEarningRepository(d.DB),
		now:         d.now,
	}
}

type OpenStakeRequest struct {
	AccountID  int64           `json:"account_id" binding:"required"`
	Amount     decimal.Decimal `json:"amount" binding:"required"`
	Days       int             `json:"days" binding:"required"`
	AnnualRate decimal.Decimal `json:"annual_rate"` // 为 0 时使用默认年化
}

// StakeResult 质押操作结果，附带最新余额
type StakeResult struct {
	Stake   *model.Stake `json:"stake"`
	Balance *BalanceView `json:"balance"`
}

// OpenStake 从可用余额划出本金建立质押
func (s *StakeService) OpenStake(ctx context.Context, actor authz.Actor, req *OpenStakeRequest) (*StakeResult, error) {
	if err := authz.AuthorizeAccount(actor, authz.CapTransact, req.AccountID); err != nil {
		return nil, err
	}
	if !req.Amount.IsPositive() {
		return nil, errs.ErrInvalidAmount
	}
	if req.Days < s.cfg.MinStakeDays || req.Days > s.cfg.MaxStakeDays {
		return nil, errs.Wrap(errs.ErrInvalidDuration, "days=%d，允许范围 [%d, %d]", req.Days, s.cfg.MinStakeDays, s.cfg.MaxStakeDays)
	}
	rate := req.AnnualRate
	if rate.IsZero() {
		rate = config.Decimal(s.cfg.DefaultAnnualRate)
	}
	if rate.IsNegative() {
		return nil, errs.Wrap(errs.ErrInvalidAmount, "annual_rate=%s", rate)
	}

	now := s.now()
	stake := &model.Stake{
		StakeNo:    s.ids.BusinessNo(idgen.PrefixStake),
		AccountID:  req.AccountID,
		Amount:     req.Amount,
		AnnualRate: rate,
		Source:     model.StakeSourceManual,
		Status:     model.StakeStatusActive,
		StartTime:  now,
		EndTime:    now.Add(time.Duration(req.Days) * day),
	}

	var account *model.Account
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		account, err = s.ledger.Debit(ctx, tx, req.AccountID, model.BalanceToken, req.Amount, Entry{
			Type:      model.TransactionTypeStake,
			Reference: stake.StakeNo,
			Remark:    fmt.Sprintf("质押-%d天", req.Days),
		})
		if err != nil {
			return err
		}
		if err := s.stakeRepo.Create(ctx, tx, stake); err != nil {
			return fmt.Errorf("创建质押失败: %w", err)
		}
		return s.events.emit(ctx, tx, model.EventStakeOpened, stake.StakeNo, now, stake)
	})
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, actor.AccountID, model.AuditStakeOpened, stake.StakeNo, map[string]interface{}{
		"account_id":  req.AccountID,
		"amount":      req.Amount,
		"days":        req.Days,
		"annual_rate": rate,
	})
	log.Printf("质押成功: stakeNo=%s, accountID=%d, amount=%s, days=%d", stake.StakeNo, req.AccountID, req.Amount, req.Days)

	return &StakeResult{Stake: stake, Balance: newBalanceView(account)}, nil
}

// ReleaseStake 到期后归还本金；已释放返回 AlreadyReleased，不会重复入账
func (s *StakeService) ReleaseStake(ctx context.Context, actor authz.Actor, stakeID int64) (*StakeResult, error) {
	stake, err := s.stakeRepo.GetByID(ctx, stakeID)
	if err != nil {
		return nil, err
	}
	if err := authz.AuthorizeAccount(actor, authz.CapTransact, stake.AccountID); err != nil {
		return nil, err
	}
	return s.release(ctx, actor.AccountID, stakeID)
}

// ReleaseMatured 后台任务释放到期质押
func (s *StakeService) ReleaseMatured(ctx context.Context, stakeID int64) (*StakeResult, error) {
	return s.release(ctx, model.SystemActorID, stakeID)
}

func (s *StakeService) release(ctx context.Context, actorID, stakeID int64) (*StakeResult, error) {
	now := s.now()

	var stake *model.Stake
	var account *model.Account
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		stake, err = s.stakeRepo.GetByIDForUpdate(ctx, tx, stakeID)
		if err != nil {
			return err
		}
		if stake.Unlocked() {
			return errs.Wrap(errs.ErrAlreadyReleased, "stake=%s", stake.StakeNo)
		}
		if !stake.Matured(now) {
			return errs.Wrap(errs.ErrNotMatured, "stake=%s, endTime=%s", stake.StakeNo, stake.EndTime.Format(time.RFC3339))
		}

		// 释放前补齐到期日之前尚未计提的利息
		if _, err := s.accrueInTx(ctx, tx, stake, now); err != nil {
			return err
		}

		if err := s.stakeRepo.Unlock(ctx, tx, stake.ID, now); err != nil {
			return mapTransitionErr(err, errs.ErrAlreadyReleased, "stake=%s", stake.StakeNo)
		}
		stake.Status = model.StakeStatusUnlocked
		stake.UnlockedAt = &now

		account, err = s.ledger.Credit(ctx, tx, stake.AccountID, model.BalanceToken, stake.Amount, Entry{
			Type:      model.TransactionTypeUnstake,
			Reference: stake.StakeNo,
			Remark:    "质押到期释放",
		})
		if err != nil {
			return err
		}
		return s.events.emit(ctx, tx, model.EventStakeReleased, stake.StakeNo, now, stake)
	})
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, actorID, model.AuditStakeReleased, stake.StakeNo, map[string]interface{}{
		"account_id": stake.AccountID,
		"amount":     stake.Amount,
	})
	log.Printf("质押释放: stakeNo=%s, accountID=%d, amount=%s", stake.StakeNo, stake.AccountID, stake.Amount)

	return &StakeResult{Stake: stake, Balance: newBalanceView(account)}, nil
}

// accrueInTx 在调用方事务内计提利息，调用方须已锁定 stake 行
// 计提起点为该质押最后一条收益记录覆盖到的时间，保证同一天不会被计提两次
func (s *StakeService) accrueInTx(ctx context.Context, tx *gorm.DB, stake *model.Stake, asOf time.Time) (*model.Earning, error) {
	since := stake.StartTime
	last, err := s.earningRepo.LastAccrualDate(ctx, tx, stake.ID)
	if err != nil {
		return nil, fmt.Errorf("查询最近计息日期失败: %w", err)
	}
	if last != nil {
		since = *last
	}

	amount, days, through := AccrueDaily(stake, since, asOf)
	if days < 1 || !amount.IsPositive() {
		return nil, nil
	}

	earning := &model.Earning{
		StakeID:     stake.ID,
		AccountID:   stake.AccountID,
		Amount:      amount,
		Days:        days,
		AccrualDate: through,
		Strategy:    s.cfg.EarningStrategy,
	}
	if err := s.earningRepo.Create(ctx, tx, earning); err != nil {
		return nil, fmt.Errorf("写入收益记录失败: %w", err)
	}

	_, err = s.ledger.AddEarnings(ctx, tx, stake.AccountID, amount, Entry{
		Type:      model.TransactionTypeInterest,
		Reference: stake.StakeNo,
		Remark:    fmt.Sprintf("质押收益-%d天", days),
	})
	if err != nil {
		return nil, err
	}

	if err := s.events.emit(ctx, tx, model.EventEarningAccrued, stake.StakeNo, asOf, earning); err != nil {
		return nil, err
	}
	return earning, nil
}

// StakeView 质押列表项，AccruedInterest 为按当前时间推算的累计利息，不落库
type StakeView struct {
	*model.Stake
	AccruedInterest decimal.Decimal `json:"accrued_interest"`
	EarningsPaid    decimal.Decimal `json:"earnings_paid"`
}

func (s *StakeService) view(ctx context.Context, stake *model.Stake, now time.Time) (*StakeView, error) {
	projected, _, _ := AccrueDaily(stake, stake.StartTime, now)

	earnings, err := s.earningRepo.ListByStake(ctx, stake.ID)
	if err != nil {
		return nil, err
	}
	paid := decimal.Zero
	for _, e := range earnings {
		paid = paid.Add(e.Amount)
	}
	return &StakeView{Stake: stake, AccruedInterest: projected, EarningsPaid: paid}, nil
}

func (s *StakeService) GetStake(ctx context.Context, stakeID int64) (*StakeView, error) {
	stake, err := s.stakeRepo.GetByID(ctx, stakeID)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, stake, s.now())
}

// ListStakes status 为空时返回全部
func (s *StakeService) ListStakes(ctx context.Context, accountID int64, status string) ([]*StakeView, error) {
	stakes, err := s.stakeRepo.ListByAccount(ctx, accountID, status)
	if err != nil {
		return nil, err
	}
	now := s.now()
	views := make([]*StakeView, 0, len(stakes))
	for _, st := range stakes {
		v, err := s.view(ctx, st, now)
		if err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	return views, nil
}

// ReleaseDue 自动释放已到期的质押，单条失败记日志后继续，按 id 游标翻页直到取空
func (s *StakeService) ReleaseDue(ctx context.Context) (*BatchReport, error) {
	now := s.now()
	report := &BatchReport{}

	var cursor int64
	for {
		stakes, err := s.stakeRepo.ListMatured(ctx, now, cursor, s.jobs.BatchSize)
		if err != nil {
			return report, err
		}
		if len(stakes) == 0 {
			return report, nil
		}

		for _, st := range stakes {
			cursor = st.ID
			report.Scanned++

			itemCtx, cancel := withItemTimeout(ctx, s.jobs.ItemTimeout)
			_, err := s.ReleaseMatured(itemCtx, st.ID)
			cancel()

			switch {
			case err == nil:
				report.Succeeded++
			case errs.IsKind(err, errs.KindAlreadyReleased), errs.IsKind(err, errs.KindNotMatured):
				report.Skipped++
			default:
				report.Failed++
				log.Printf("[StakeService] 自动释放质押失败，跳过: stakeID=%d, err=%v", st.ID, err)
			}
		}

		if ctx.Err() != nil {
			return report, ctx.Err()
		}
	}
}
