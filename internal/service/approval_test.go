package service

import (
	"context"
	"testing"
	"time"

	"treasury/internal/authz"
	"treasury/internal/model"
	"treasury/internal/testutil"
	"treasury/pkg/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type company struct {
	admin     *model.Account
	approvers []*model.Account
}

func (e *testEnv) company(t *testing.T, token string, approvers int, settings SettingsInput) *company {
	t.Helper()
	c := &company{admin: e.account(t, token)}
	for i := 0; i < approvers; i++ {
		c.approvers = append(c.approvers, e.member(t, c.admin))
	}
	e.useSettings(t, c.admin.ID, settings)
	return c
}

func dualAbove1000() SettingsInput {
	return SettingsInput{ApprovalThreshold: dec("1000"), ApprovalWorkflow: model.ApprovalFlowDual}
}

func approve(notes string) *RecordApprovalRequest {
	return &RecordApprovalRequest{Decision: model.DecisionApproved, Notes: notes}
}

func reject(notes string) *RecordApprovalRequest {
	return &RecordApprovalRequest{Decision: model.DecisionRejected, Notes: notes}
}

func TestDualApprovalExecutesWithdrawalExactlyOnce(t *testing.T) {
	e := newTestEnv(t)
	c := e.company(t, "5000", 3, dualAbove1000())
	ctx := context.Background()

	result, err := e.svc.Withdrawals.RequestWithdrawal(ctx, treasurer(c.admin), &WithdrawalRequest{
		AccountID: c.admin.ID, Amount: dec("1500"), BankRef: "DE89 3704 0044 0532 0130 00",
	})
	require.NoError(t, err)
	require.NotNil(t, result.Workflow)
	assert.Equal(t, 2, result.Workflow.TotalSteps)
	assert.Equal(t, model.WithdrawalStatusAwaitingApproval, result.Withdrawal.Status)
	assertDec(t, "1500", e.reload(t, c.admin.ID).FrozenAmount)
	wfID := result.Workflow.ID

	wf, err := e.svc.Approvals.RecordApproval(ctx, financeManager(c.approvers[0]), wfID, approve("ok"))
	require.NoError(t, err)
	assert.Equal(t, model.WorkflowStatusPending, wf.Status)
	assert.Equal(t, 1, wf.CurrentApprovals)

	w, err := e.svc.Withdrawals.GetWithdrawal(ctx, result.Withdrawal.ID)
	require.NoError(t, err)
	assert.Equal(t, model.WithdrawalStatusAwaitingApproval, w.Status)
	assertDec(t, "5000", e.reload(t, c.admin.ID).TokenBalance)

	wf, err = e.svc.Approvals.RecordApproval(ctx, financeManager(c.approvers[1]), wfID, approve("ok"))
	require.NoError(t, err)
	assert.Equal(t, model.WorkflowStatusApproved, wf.Status)
	assert.Len(t, wf.Approvals, 2)
	require.NotNil(t, wf.ClosedAt)

	w, err = e.svc.Withdrawals.GetWithdrawal(ctx, result.Withdrawal.ID)
	require.NoError(t, err)
	assert.Equal(t, model.WithdrawalStatusProcessing, w.Status)
	got := e.reload(t, c.admin.ID)
	assertDec(t, "3500", got.TokenBalance)
	assertDec(t, "0", got.FrozenAmount)

	// 第三次审批不会再次执行
	_, err = e.svc.Approvals.RecordApproval(ctx, financeManager(c.approvers[2]), wfID, approve("late"))
	assert.ErrorIs(t, err, errs.ErrAlreadyTerminal)
	assertDec(t, "3500", e.reload(t, c.admin.ID).TokenBalance)
	assert.Equal(t, int64(1), e.count(t, &model.AccountTransaction{}, "reference = ? AND type = ?", w.WithdrawalNo, model.TransactionTypeWithdraw))
	assert.Equal(t, int64(1), e.count(t, &model.OutboxMessage{}, "event_type = ?", model.EventPayoutRequested))
}

func TestRejectionCancelsPaymentAndUnfreezes(t *testing.T) {
	e := newTestEnv(t)
	c := e.company(t, "5000", 1, dualAbove1000())
	vendor := e.account(t, "0")
	ctx := context.Background()

	result, err := e.svc.Payments.SendPayment(ctx, treasurer(c.admin), &SendPaymentRequest{
		FromID: c.admin.ID, ToID: vendor.ID, Amount: dec("2000"), LockDays: 7,
	})
	require.NoError(t, err)
	require.NotNil(t, result.Workflow)
	assert.Equal(t, model.PaymentStatusAwaitingApproval, result.Payment.Status)
	assertDec(t, "3000", result.Balance.Available)

	// 审批中的付款不能被收款方领取
	_, err = e.svc.Payments.ReleasePayment(ctx, treasurer(vendor), result.Payment.ID)
	assert.ErrorIs(t, err, errs.ErrNotMatured)

	wf, err := e.svc.Approvals.RecordApproval(ctx, financeManager(c.approvers[0]), result.Workflow.ID, reject("unknown vendor"))
	require.NoError(t, err)
	assert.Equal(t, model.WorkflowStatusRejected, wf.Status)

	payment, err := e.svc.Payments.GetPayment(ctx, result.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusRejected, payment.Status)

	got := e.reload(t, c.admin.ID)
	assertDec(t, "5000", got.TokenBalance)
	assertDec(t, "0", got.FrozenAmount)
	assertDec(t, "0", e.reload(t, vendor.ID).TokenBalance)
}

func TestApprovedPaymentSettlesWithLock(t *testing.T) {
	e := newTestEnv(t)
	c := e.company(t, "5000", 1, SettingsInput{ApprovalThreshold: dec("1000"), ApprovalWorkflow: model.ApprovalFlowSingle})
	vendor := e.account(t, "0")
	ctx := context.Background()

	result, err := e.svc.Payments.SendPayment(ctx, treasurer(c.admin), &SendPaymentRequest{
		FromID: c.admin.ID, ToID: vendor.ID, Amount: dec("1500"), LockDays: 2,
	})
	require.NoError(t, err)
	require.NotNil(t, result.Workflow)

	e.clock.Advance(time.Hour)
	_, err = e.svc.Approvals.RecordApproval(ctx, financeManager(c.approvers[0]), result.Workflow.ID, approve(""))
	require.NoError(t, err)

	payment, err := e.svc.Payments.GetPayment(ctx, result.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusPending, payment.Status)
	assert.True(t, payment.ReleaseAt.Equal(t0.Add(time.Hour+2*day)))

	assertDec(t, "3500", e.reload(t, c.admin.ID).TokenBalance)
	assertDec(t, "0", e.reload(t, c.admin.ID).FrozenAmount)
	gotV := e.reload(t, vendor.ID)
	assertDec(t, "1500", gotV.TokenBalance)
	assertDec(t, "1500", gotV.FrozenAmount)
}

func TestRecordApprovalGuards(t *testing.T) {
	e := newTestEnv(t)
	c := e.company(t, "5000", 2, dualAbove1000())
	outsider := e.account(t, "0")
	ctx := context.Background()

	result, err := e.svc.Withdrawals.RequestWithdrawal(ctx, treasurer(c.admin), &WithdrawalRequest{
		AccountID: c.admin.ID, Amount: dec("1200"), BankRef: "acct-1",
	})
	require.NoError(t, err)
	wfID := result.Workflow.ID

	_, err = e.svc.Approvals.RecordApproval(ctx, treasurer(c.approvers[0]), wfID, approve(""))
	assert.ErrorIs(t, err, errs.ErrNotAuthorized)

	_, err = e.svc.Approvals.RecordApproval(ctx, financeManager(outsider), wfID, approve(""))
	assert.ErrorIs(t, err, errs.ErrNotAuthorized)

	_, err = e.svc.Approvals.RecordApproval(ctx, financeManager(c.approvers[0]), 424242, approve(""))
	assert.ErrorIs(t, err, errs.ErrWorkflowNotFound)

	_, err = e.svc.Approvals.RecordApproval(ctx, financeManager(c.approvers[0]), wfID, &RecordApprovalRequest{Decision: "maybe"})
	assert.ErrorIs(t, err, errs.ErrInvalidRequest)

	_, err = e.svc.Approvals.RecordApproval(ctx, financeManager(c.approvers[0]), wfID, approve(""))
	require.NoError(t, err)
	_, err = e.svc.Approvals.RecordApproval(ctx, financeManager(c.approvers[0]), wfID, approve("again"))
	assert.ErrorIs(t, err, errs.ErrDuplicateApproval)

	// 系统管理员不受企业归属限制
	wf, err := e.svc.Approvals.RecordApproval(ctx, authz.Actor{AccountID: outsider.ID, Role: authz.RoleSystemAdmin}, wfID, approve(""))
	require.NoError(t, err)
	assert.Equal(t, model.WorkflowStatusApproved, wf.Status)
}

func TestCommitteeNeedsConfiguredRejections(t *testing.T) {
	e := newTestEnv(t)
	c := e.company(t, "5000", 3, SettingsInput{
		ApprovalThreshold:  dec("100"),
		ApprovalWorkflow:   model.ApprovalFlowCommittee,
		RejectionsRequired: 2,
	})
	ctx := context.Background()

	result, err := e.svc.Withdrawals.RequestWithdrawal(ctx, treasurer(c.admin), &WithdrawalRequest{
		AccountID: c.admin.ID, Amount: dec("500"), BankRef: "acct-1",
	})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Workflow.TotalSteps)

	wf, err := e.svc.Approvals.RecordApproval(ctx, financeManager(c.approvers[0]), result.Workflow.ID, reject(""))
	require.NoError(t, err)
	assert.Equal(t, model.WorkflowStatusPending, wf.Status)

	wf, err = e.svc.Approvals.RecordApproval(ctx, financeManager(c.approvers[1]), result.Workflow.ID, reject(""))
	require.NoError(t, err)
	assert.Equal(t, model.WorkflowStatusRejected, wf.Status)

	w, err := e.svc.Withdrawals.GetWithdrawal(ctx, result.Withdrawal.ID)
	require.NoError(t, err)
	assert.Equal(t, model.WithdrawalStatusRejected, w.Status)
	assertDec(t, "0", e.reload(t, c.admin.ID).FrozenAmount)
}

func TestAutoApprovalBypassesWorkflow(t *testing.T) {
	e := newTestEnv(t)
	c := e.company(t, "5000", 0, SettingsInput{
		ApprovalThreshold:   dec("1000"),
		AutoApprovalEnabled: true,
		AutoApprovalLimit:   dec("2000"),
		ApprovalWorkflow:    model.ApprovalFlowDual,
	})
	vendor := e.account(t, "0")
	ctx := context.Background()

	result, err := e.svc.Payments.SendPayment(ctx, treasurer(c.admin), &SendPaymentRequest{
		FromID: c.admin.ID, ToID: vendor.ID, Amount: dec("1500"),
	})
	require.NoError(t, err)
	assert.Nil(t, result.Workflow)
	assert.Equal(t, model.PaymentStatusReleased, result.Payment.Status)

	result, err = e.svc.Payments.SendPayment(ctx, treasurer(c.admin), &SendPaymentRequest{
		FromID: c.admin.ID, ToID: vendor.ID, Amount: dec("2500"),
	})
	require.NoError(t, err)
	assert.NotNil(t, result.Workflow)
	assert.Zero(t, e.count(t, &model.ApprovalWorkflow{}, "status <> ?", model.WorkflowStatusPending))
}

func TestSubsidiaryUsesParentSettings(t *testing.T) {
	e := newTestEnv(t)
	c := e.company(t, "0", 1, dualAbove1000())
	sub := testutil.SeedAccount(t, e.db, &model.Account{ParentAccountID: &c.admin.ID, TokenBalance: dec("3000")})
	ctx := context.Background()

	result, err := e.svc.Withdrawals.RequestWithdrawal(ctx, treasurer(sub), &WithdrawalRequest{
		AccountID: sub.ID, Amount: dec("1100"), BankRef: "acct-sub",
	})
	require.NoError(t, err)
	require.NotNil(t, result.Workflow)
	assert.Equal(t, c.admin.ID, result.Workflow.CompanyID)

	pending, err := e.svc.Approvals.ListPending(ctx, financeManager(c.approvers[0]), c.admin.ID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, result.Workflow.ID, pending[0].ID)

	_, err = e.svc.Approvals.ListPending(ctx, treasurer(c.approvers[0]), c.admin.ID)
	assert.ErrorIs(t, err, errs.ErrNotAuthorized)
}

func TestExpireStaleWorkflows(t *testing.T) {
	e := newTestEnv(t)
	c := e.company(t, "5000", 1, dualAbove1000())
	ctx := context.Background()

	result, err := e.svc.Withdrawals.RequestWithdrawal(ctx, treasurer(c.admin), &WithdrawalRequest{
		AccountID: c.admin.ID, Amount: dec("1500"), BankRef: "acct-1",
	})
	require.NoError(t, err)

	e.clock.Advance(71 * time.Hour)
	report, err := e.svc.Approvals.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Scanned)

	e.clock.Advance(2 * time.Hour)
	report, err = e.svc.Approvals.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)

	wf, err := e.svc.Approvals.GetWorkflow(ctx, result.Workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, model.WorkflowStatusExpired, wf.Status)

	w, err := e.svc.Withdrawals.GetWithdrawal(ctx, result.Withdrawal.ID)
	require.NoError(t, err)
	assert.Equal(t, model.WithdrawalStatusRejected, w.Status)
	assertDec(t, "0", e.reload(t, c.admin.ID).FrozenAmount)

	_, err = e.svc.Approvals.RecordApproval(ctx, financeManager(c.approvers[0]), result.Workflow.ID, approve(""))
	assert.ErrorIs(t, err, errs.ErrAlreadyTerminal)

	report, err = e.svc.Approvals.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Scanned)
	assert.ErrorIs(t, e.svc.Approvals.Expire(ctx, result.Workflow.ID), errs.ErrAlreadyTerminal)
}
