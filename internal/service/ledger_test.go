package service

import (
	"context"
	"testing"

	"treasury/internal/model"
	"treasury/pkg/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestLedgerDebitNeverGoesNegative(t *testing.T) {
	e := newTestEnv(t)
	a := e.account(t, "100")
	ctx := context.Background()
	entry := Entry{Type: model.TransactionTypePaymentOut, Reference: "ref-1"}

	err := e.db.Transaction(func(tx *gorm.DB) error {
		_, err := e.svc.Ledger.Debit(ctx, tx, a.ID, model.BalanceToken, dec("150"), entry)
		return err
	})
	assert.ErrorIs(t, err, errs.ErrInsufficientFunds)
	assertDec(t, "100", e.reload(t, a.ID).TokenBalance)

	require.NoError(t, e.db.Transaction(func(tx *gorm.DB) error {
		_, err := e.svc.Ledger.Debit(ctx, tx, a.ID, model.BalanceToken, dec("100"), entry)
		return err
	}))
	assertDec(t, "0", e.reload(t, a.ID).TokenBalance)

	var trans model.AccountTransaction
	require.NoError(t, e.db.Where("account_id = ?", a.ID).First(&trans).Error)
	assertDec(t, "100", trans.BalanceBefore)
	assertDec(t, "0", trans.BalanceAfter)
	assertDec(t, "-100", trans.Amount)
}

func TestLedgerDebitRespectsFrozenAmount(t *testing.T) {
	e := newTestEnv(t)
	a := e.frozenAccount(t, "100", "80")
	ctx := context.Background()
	entry := Entry{Type: model.TransactionTypeWithdraw}

	err := e.db.Transaction(func(tx *gorm.DB) error {
		_, err := e.svc.Ledger.Debit(ctx, tx, a.ID, model.BalanceToken, dec("30"), entry)
		return err
	})
	assert.True(t, errs.IsKind(err, errs.KindInsufficientFunds))

	require.NoError(t, e.db.Transaction(func(tx *gorm.DB) error {
		_, err := e.svc.Ledger.Debit(ctx, tx, a.ID, model.BalanceToken, dec("20"), entry)
		return err
	}))
	got := e.reload(t, a.ID)
	assertDec(t, "80", got.TokenBalance)
	assertDec(t, "0", got.Available(model.BalanceToken))
}

func TestLedgerRejectsInvalidInput(t *testing.T) {
	e := newTestEnv(t)
	a := e.account(t, "100")
	ctx := context.Background()

	err := e.db.Transaction(func(tx *gorm.DB) error {
		_, err := e.svc.Ledger.Credit(ctx, tx, a.ID, model.BalanceToken, dec("0"), Entry{})
		return err
	})
	assert.ErrorIs(t, err, errs.ErrInvalidAmount)

	err = e.db.Transaction(func(tx *gorm.DB) error {
		_, err := e.svc.Ledger.Credit(ctx, tx, 424242, model.BalanceToken, dec("1"), Entry{})
		return err
	})
	assert.ErrorIs(t, err, errs.ErrAccountNotFound)

	err = e.db.Transaction(func(tx *gorm.DB) error {
		_, err := e.svc.Ledger.Freeze(ctx, tx, a.ID, dec("101"))
		return err
	})
	assert.ErrorIs(t, err, errs.ErrInsufficientFunds)
}

func TestLedgerStableBalanceIndependentOfToken(t *testing.T) {
	e := newTestEnv(t)
	a := e.account(t, "100")
	ctx := context.Background()

	require.NoError(t, e.db.Transaction(func(tx *gorm.DB) error {
		_, err := e.svc.Ledger.AddEarnings(ctx, tx, a.ID, dec("2.5"), Entry{Type: model.TransactionTypeInterest})
		return err
	}))
	err := e.db.Transaction(func(tx *gorm.DB) error {
		_, err := e.svc.Ledger.Debit(ctx, tx, a.ID, model.BalanceStable, dec("3"), Entry{})
		return err
	})
	assert.ErrorIs(t, err, errs.ErrInsufficientFunds)

	got := e.reload(t, a.ID)
	assertDec(t, "2.5", got.StableBalance)
	assertDec(t, "2.5", got.TotalEarnings)
	assertDec(t, "100", got.TokenBalance)
}

func (e *testEnv) frozenAccount(t *testing.T, token, frozen string) *model.Account {
	t.Helper()
	a := e.account(t, token)
	require.NoError(t, e.db.Model(&model.Account{}).Where("id = ?", a.ID).Update("frozen_amount", dec(frozen)).Error)
	return e.reload(t, a.ID)
}
