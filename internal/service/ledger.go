package service

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"treasury/internal/infrastructure/metrics"
	"treasury/internal/model"
	"treasury/internal/repository"
	"treasury/pkg/errs"
	"treasury/pkg/idgen"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Entry 余额变动对应的流水信息
type Entry struct {
	Type      string
	Reference string
	Remark    string
}

// Ledger 余额读写的唯一入口
//
// 所有方法都必须在调用方开启的事务内执行：先行锁读取账户，在内存中计算，
// 再以 version 条件写回，同时写入流水。任何一步失败都由调用方回滚整个事务。
type Ledger struct {
	accountRepo     *repository.AccountRepository
	transactionRepo *repository.TransactionRepository
	ids             *idgen.Snowflake
	metrics         *metrics.Metrics
}

func NewLedger(d Deps) *Ledger {
	return &Ledger{
		accountRepo:     repository.NewAccountRepository(d.DB),
		transactionRepo: repository.NewTransactionRepository(d.DB),
		ids:             d.IDs,
		metrics:         d.Metrics,
	}
}

// LockAccounts 按 id 升序加行锁，避免两个方向相反的转账互相等待
func (l *Ledger) LockAccounts(ctx context.Context, tx *gorm.DB, ids ...int64) (map[int64]*model.Account, error) {
	sorted := append([]int64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	accounts := make(map[int64]*model.Account, len(sorted))
	for _, id := range sorted {
		if _, ok := accounts[id]; ok {
			continue
		}
		account, err := l.accountRepo.GetByIDForUpdate(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		accounts[id] = account
	}
	return accounts, nil
}

// Debit 扣减可用余额，不足时返回 InsufficientFunds，不做任何截断
func (l *Ledger) Debit(ctx context.Context, tx *gorm.DB, accountID int64, kind model.BalanceKind, amount decimal.Decimal, entry Entry) (*model.Account, error) {
	if !amount.IsPositive() {
		return nil, errs.ErrInvalidAmount
	}
	return l.apply(ctx, tx, accountID, kind, amount.Neg(), entry)
}

// Credit 增加余额
func (l *Ledger) Credit(ctx context.Context, tx *gorm.DB, accountID int64, kind model.BalanceKind, amount decimal.Decimal, entry Entry) (*model.Account, error) {
	if !amount.IsPositive() {
		return nil, errs.ErrInvalidAmount
	}
	return l.apply(ctx, tx, accountID, kind, amount, entry)
}

func (l *Ledger) apply(ctx context.Context, tx *gorm.DB, accountID int64, kind model.BalanceKind, delta decimal.Decimal, entry Entry) (*model.Account, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("未知余额类型: %s", kind)
	}
	account, err := l.accountRepo.GetByIDForUpdate(ctx, tx, accountID)
	if err != nil {
		return nil, err
	}

	if delta.IsNegative() && account.Available(kind).LessThan(delta.Neg()) {
		return nil, errs.Wrap(errs.ErrInsufficientFunds, "account=%d, kind=%s, available=%s, amount=%s",
			accountID, kind, account.Available(kind), delta.Neg())
	}

	before := account.Balance(kind)
	after := before.Add(delta)
	switch kind {
	case model.BalanceStable:
		account.StableBalance = after
	case model.BalanceToken:
		account.TokenBalance = after
	}

	if err := l.save(ctx, tx, account); err != nil {
		return nil, err
	}

	trans := &model.AccountTransaction{
		TransactionNo: l.ids.BusinessNo(idgen.PrefixTransaction),
		AccountID:     accountID,
		BalanceKind:   kind,
		Type:          entry.Type,
		Amount:        delta,
		BalanceBefore: before,
		BalanceAfter:  after,
		Reference:     entry.Reference,
		Remark:        entry.Remark,
	}
	if err := l.transactionRepo.Create(ctx, tx, trans); err != nil {
		return nil, fmt.Errorf("记录流水失败: %w", err)
	}

	op := "credit"
	if delta.IsNegative() {
		op = "debit"
	}
	l.metrics.LedgerOp(op, string(kind))
	return account, nil
}

// Freeze 将代币余额中的一部分标记为锁定，锁定部分不能被扣减
func (l *Ledger) Freeze(ctx context.Context, tx *gorm.DB, accountID int64, amount decimal.Decimal) (*model.Account, error) {
	if !amount.IsPositive() {
		return nil, errs.ErrInvalidAmount
	}
	account, err := l.accountRepo.GetByIDForUpdate(ctx, tx, accountID)
	if err != nil {
		return nil, err
	}
	if account.Available(model.BalanceToken).LessThan(amount) {
		return nil, errs.Wrap(errs.ErrInsufficientFunds, "account=%d, available=%s, amount=%s",
			accountID, account.Available(model.BalanceToken), amount)
	}
	account.FrozenAmount = account.FrozenAmount.Add(amount)
	if err := l.save(ctx, tx, account); err != nil {
		return nil, err
	}
	l.metrics.LedgerOp("freeze", string(model.BalanceToken))
	return account, nil
}

// Unfreeze 解除锁定；锁定额不足说明账实不符，直接报错回滚
func (l *Ledger) Unfreeze(ctx context.Context, tx *gorm.DB, accountID int64, amount decimal.Decimal) (*model.Account, error) {
	account, err := l.accountRepo.GetByIDForUpdate(ctx, tx, accountID)
	if err != nil {
		return nil, err
	}
	if account.FrozenAmount.LessThan(amount) {
		return nil, fmt.Errorf("账户 %d 锁定金额 %s 小于待解锁金额 %s", accountID, account.FrozenAmount, amount)
	}
	account.FrozenAmount = account.FrozenAmount.Sub(amount)
	if err := l.save(ctx, tx, account); err != nil {
		return nil, err
	}
	l.metrics.LedgerOp("unfreeze", string(model.BalanceToken))
	return account, nil
}

// AddEarnings 利息计入可生息余额并累加 TotalEarnings
func (l *Ledger) AddEarnings(ctx context.Context, tx *gorm.DB, accountID int64, amount decimal.Decimal, entry Entry) (*model.Account, error) {
	account, err := l.Credit(ctx, tx, accountID, model.BalanceStable, amount, entry)
	if err != nil {
		return nil, err
	}
	account.TotalEarnings = account.TotalEarnings.Add(amount)
	if err := l.save(ctx, tx, account); err != nil {
		return nil, err
	}
	return account, nil
}

func (l *Ledger) save(ctx context.Context, tx *gorm.DB, account *model.Account) error {
	if err := l.accountRepo.SaveBalances(ctx, tx, account); err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			return errs.WithCause(errs.ErrConflict, err)
		}
		return fmt.Errorf("更新余额失败: %w", err)
	}
	return nil
}
