package service

import (
	"context"
	"testing"

	"treasury/internal/model"
	"treasury/pkg/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFundsReceivedMintsOnce(t *testing.T) {
	e := newTestEnv(t)
	a := e.account(t, "100")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, e.svc.Processor.FundsReceived(ctx, a.ID, dec("250.5"), "wire-2026-0001"))
	}

	assertDec(t, "350.5", e.reload(t, a.ID).TokenBalance)
	assert.Equal(t, int64(1), e.count(t, &model.Deposit{}, "reference_id = ?", "wire-2026-0001"))
	assert.Equal(t, int64(1), e.count(t, &model.AccountTransaction{}, "type = ?", model.TransactionTypeMint))
	assert.Equal(t, int64(1), e.count(t, &model.OutboxMessage{}, "event_type = ?", model.EventDepositMinted))
	assert.Equal(t, int64(1), e.count(t, &model.AuditLog{}, "action = ?", model.AuditDepositMinted))
}

func TestFundsReceivedRejectsBadInput(t *testing.T) {
	e := newTestEnv(t)
	a := e.account(t, "0")
	ctx := context.Background()

	assert.ErrorIs(t, e.svc.Processor.FundsReceived(ctx, 999999, dec("10"), "wire-x"), errs.ErrAccountNotFound)
	assert.ErrorIs(t, e.svc.Processor.FundsReceived(ctx, a.ID, dec("-1"), "wire-y"), errs.ErrInvalidAmount)
	assert.ErrorIs(t, e.svc.Processor.FundsReceived(ctx, a.ID, dec("10"), " "), errs.ErrInvalidRequest)
	assert.Zero(t, e.count(t, &model.Deposit{}, "1 = 1"))
}

func TestPayoutCallbacksAreIdempotent(t *testing.T) {
	e := newTestEnv(t)
	a := e.account(t, "1000")
	ctx := context.Background()

	ok, err := withdraw(e, a, "100")
	require.NoError(t, err)
	bad, err := withdraw(e, a, "200")
	require.NoError(t, err)

	require.NoError(t, e.svc.Processor.PayoutConfirmed(ctx, ok.Withdrawal.ID, "ref-1"))
	require.NoError(t, e.svc.Processor.PayoutConfirmed(ctx, ok.Withdrawal.ID, "ref-1"))

	require.NoError(t, e.svc.Processor.PayoutFailed(ctx, bad.Withdrawal.ID, "closed account"))
	require.NoError(t, e.svc.Processor.PayoutFailed(ctx, bad.Withdrawal.ID, "closed account"))
	assertDec(t, "900", e.reload(t, a.ID).TokenBalance)

	assert.ErrorIs(t, e.svc.Processor.PayoutConfirmed(ctx, 555, "ref-x"), errs.ErrWithdrawalNotFound)
}
