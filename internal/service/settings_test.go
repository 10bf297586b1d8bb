package service

import (
	"context"
	"testing"

	"treasury/internal/infrastructure/cache"
	"treasury/internal/model"
	"treasury/internal/testutil"
	"treasury/pkg/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettingsDefaultsAreCached(t *testing.T) {
	mr, rdb := testutil.NewRedis(t)
	e := newTestEnvWithRedis(t, rdb)
	a := e.account(t, "0")
	ctx := context.Background()

	settings, err := e.svc.Settings.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ApprovalFlowSingle, settings.ApprovalWorkflow)
	assertDec(t, "10000", settings.ApprovalThreshold)
	assert.True(t, mr.Exists(cache.SettingsKey(a.ID)))
	assert.Equal(t, e.cfg.Treasury.SettingsCacheTTL, mr.TTL(cache.SettingsKey(a.ID)))
}

func TestSettingsUpdateInvalidatesCache(t *testing.T) {
	mr, rdb := testutil.NewRedis(t)
	e := newTestEnvWithRedis(t, rdb)
	c := e.company(t, "0", 0, SettingsInput{ApprovalThreshold: dec("500"), ApprovalWorkflow: model.ApprovalFlowSingle})
	ctx := context.Background()

	_, err := e.svc.Settings.Get(ctx, c.admin.ID)
	require.NoError(t, err)
	require.True(t, mr.Exists(cache.SettingsKey(c.admin.ID)))

	admin := e.member(t, c.admin)
	updated, err := e.svc.Settings.Update(ctx, enterpriseAdmin(admin), c.admin.ID, &SettingsInput{
		ApprovalThreshold: dec("2500"),
		ApprovalWorkflow:  model.ApprovalFlowCommittee,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, updated.RejectionsRequired)
	assert.False(t, mr.Exists(cache.SettingsKey(c.admin.ID)))

	settings, err := e.svc.Settings.Get(ctx, c.admin.ID)
	require.NoError(t, err)
	assertDec(t, "2500", settings.ApprovalThreshold)
	assert.Equal(t, 3, settings.TotalSteps())
	assert.Equal(t, int64(1), e.count(t, &model.TreasurySettings{}, "account_id = ?", c.admin.ID))
}

func TestSettingsWithoutRedisReadDatabase(t *testing.T) {
	e := newTestEnv(t)
	c := e.company(t, "0", 0, SettingsInput{ApprovalThreshold: dec("750"), ApprovalWorkflow: model.ApprovalFlowDual})

	settings, err := e.svc.Settings.Get(context.Background(), c.admin.ID)
	require.NoError(t, err)
	assertDec(t, "750", settings.ApprovalThreshold)
	assert.Equal(t, 2, settings.TotalSteps())
}

func TestSettingsUpdateGuards(t *testing.T) {
	e := newTestEnv(t)
	c := e.company(t, "0", 1, dualAbove1000())
	outsider := e.account(t, "0")
	ctx := context.Background()
	in := &SettingsInput{ApprovalThreshold: dec("1"), ApprovalWorkflow: model.ApprovalFlowSingle}

	_, err := e.svc.Settings.Update(ctx, financeManager(c.approvers[0]), c.admin.ID, in)
	assert.ErrorIs(t, err, errs.ErrNotAuthorized)

	_, err = e.svc.Settings.Update(ctx, enterpriseAdmin(outsider), c.admin.ID, in)
	assert.ErrorIs(t, err, errs.ErrNotAuthorized)

	_, err = e.svc.Settings.Update(ctx, enterpriseAdmin(c.admin), c.admin.ID, &SettingsInput{ApprovalWorkflow: "quorum"})
	assert.ErrorIs(t, err, errs.ErrInvalidRequest)

	_, err = e.svc.Settings.Update(ctx, enterpriseAdmin(c.admin), c.admin.ID, &SettingsInput{
		ApprovalThreshold: dec("-1"), ApprovalWorkflow: model.ApprovalFlowSingle,
	})
	assert.ErrorIs(t, err, errs.ErrInvalidAmount)

	settings, err := e.svc.Settings.Get(ctx, c.admin.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ApprovalFlowDual, settings.ApprovalWorkflow)
}
