package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"treasury/internal/config"
	"treasury/internal/model"
	"treasury/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func smallBatches(cfg *config.Config) {
	cfg.Jobs.BatchSize = 2
}

func TestReleaseDueSkipsDanglingLocks(t *testing.T) {
	e := newTestEnvWithConfig(t, nil, smallBatches)
	a := e.account(t, "500")
	b := e.account(t, "0")
	ctx := context.Background()

	// 来源付款不存在的锁排在最前面，占满第一页
	locks := repository.NewLockedBalanceRepository(e.db)
	for _, sourceID := range []int64{900000, 900001} {
		require.NoError(t, locks.Create(ctx, nil, &model.LockedBalance{
			AccountID:  b.ID,
			Amount:     dec("10"),
			SourceType: model.LockSourcePayment,
			SourceID:   sourceID,
			Status:     model.LockStatusLocked,
			ReleaseAt:  t0.Add(-day),
		}))
	}

	result, err := e.svc.Payments.SendPayment(ctx, treasurer(a), &SendPaymentRequest{
		FromID: a.ID, ToID: b.ID, Amount: dec("200"), LockDays: 1,
	})
	require.NoError(t, err)

	e.clock.Advance(2 * day)
	report, err := e.svc.Payments.ReleaseDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Scanned)
	assert.Equal(t, 2, report.Failed)
	assert.Equal(t, 1, report.Succeeded)

	payment, err := e.svc.Payments.GetPayment(ctx, result.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusReleased, payment.Status)
	gotB := e.reload(t, b.ID)
	assertDec(t, "200", gotB.TokenBalance)
	assertDec(t, "0", gotB.FrozenAmount)

	// 坏锁留在原处，下一轮仍只计失败
	report, err = e.svc.Payments.ReleaseDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Scanned)
	assert.Equal(t, 2, report.Failed)
	assert.Equal(t, int64(2), e.count(t, &model.LockedBalance{}, "status = ?", model.LockStatusLocked))
}

func TestStakeReleaseDueSkipsDanglingStakes(t *testing.T) {
	e := newTestEnvWithConfig(t, nil, smallBatches)
	a := e.account(t, "1000")
	ctx := context.Background()

	// 账户不存在的质押只能绕过外键写入
	require.NoError(t, e.db.Exec("PRAGMA foreign_keys = OFF").Error)
	stakes := repository.NewStakeRepository(e.db)
	for i, accountID := range []int64{900000, 900001} {
		require.NoError(t, stakes.Create(ctx, nil, &model.Stake{
			StakeNo:    fmt.Sprintf("STK-ORPHAN-%d", i),
			AccountID:  accountID,
			Amount:     dec("100"),
			AnnualRate: dec("0.05"),
			Source:     model.StakeSourceManual,
			Status:     model.StakeStatusActive,
			StartTime:  t0.Add(-10 * day),
			EndTime:    t0.Add(-day),
		}))
	}
	require.NoError(t, e.db.Exec("PRAGMA foreign_keys = ON").Error)

	opened, err := e.svc.Stakes.OpenStake(ctx, treasurer(a), &OpenStakeRequest{AccountID: a.ID, Amount: dec("1000"), Days: 1})
	require.NoError(t, err)

	e.clock.Advance(2 * day)
	report, err := e.svc.Stakes.ReleaseDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Scanned)
	assert.Equal(t, 2, report.Failed)
	assert.Equal(t, 1, report.Succeeded)

	view, err := e.svc.Stakes.GetStake(ctx, opened.Stake.ID)
	require.NoError(t, err)
	assert.True(t, view.Unlocked())
	assert.Equal(t, int64(2), e.count(t, &model.Stake{}, "status = ?", model.StakeStatusActive))
}

func TestExpireStaleSkipsBrokenWorkflows(t *testing.T) {
	e := newTestEnvWithConfig(t, nil, func(cfg *config.Config) { cfg.Jobs.BatchSize = 1 })
	c := e.company(t, "5000", 1, dualAbove1000())
	b := e.account(t, "0")
	ctx := context.Background()

	workflows := repository.NewApprovalRepository(e.db)
	for i, requestID := range []int64{900000, 900001} {
		require.NoError(t, workflows.CreateWorkflow(ctx, nil, &model.ApprovalWorkflow{
			WorkflowNo:         fmt.Sprintf("WF-ORPHAN-%d", i),
			CompanyID:          c.admin.ID,
			RequesterID:        c.admin.ID,
			Type:               model.WorkflowTypePayment,
			RequestID:          requestID,
			Amount:             dec("1500"),
			TotalSteps:         2,
			RejectionsRequired: 1,
			Status:             model.WorkflowStatusPending,
			CreatedAt:          t0,
		}))
	}

	result, err := e.svc.Payments.SendPayment(ctx, treasurer(c.admin), &SendPaymentRequest{
		FromID: c.admin.ID, ToID: b.ID, Amount: dec("1500"),
	})
	require.NoError(t, err)
	require.NotNil(t, result.Workflow)

	e.clock.Advance(73 * time.Hour)
	report, err := e.svc.Approvals.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Scanned)
	assert.Equal(t, 2, report.Failed)
	assert.Equal(t, 1, report.Succeeded)

	payment, err := e.svc.Payments.GetPayment(ctx, result.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusRejected, payment.Status)
	assertDec(t, "0", e.reload(t, c.admin.ID).FrozenAmount)
	assertDec(t, "5000", e.reload(t, c.admin.ID).TokenBalance)
}
