package service

import (
	"context"
	"testing"
	"time"

	"treasury/internal/authz"
	"treasury/internal/config"
	"treasury/internal/model"
	"treasury/internal/testutil"
	"treasury/pkg/idgen"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var t0 = time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)

type testEnv struct {
	db    *gorm.DB
	cfg   *config.Config
	clock *testutil.Clock
	svc   *Services
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWithRedis(t, nil)
}

func newTestEnvWithRedis(t *testing.T, rdb *redis.Client) *testEnv {
	return newTestEnvWithConfig(t, rdb, nil)
}

// newTestEnvWithConfig 在构造服务前修改默认配置
func newTestEnvWithConfig(t *testing.T, rdb *redis.Client, configure func(cfg *config.Config)) *testEnv {
	t.Helper()
	db := testutil.NewDB(t)
	cfg := config.Default()
	if configure != nil {
		configure(cfg)
	}
	ids, err := idgen.New(1)
	require.NoError(t, err)
	clock := testutil.NewClock(t0)

	svc := New(Deps{DB: db, Redis: rdb, Config: cfg, IDs: ids, Now: clock.Now})
	return &testEnv{db: db, cfg: cfg, clock: clock, svc: svc}
}

func (e *testEnv) account(t *testing.T, token string) *model.Account {
	t.Helper()
	return testutil.SeedAccount(t, e.db, &model.Account{TokenBalance: testutil.Dec(token)})
}

func (e *testEnv) member(t *testing.T, parent *model.Account) *model.Account {
	t.Helper()
	return testutil.SeedAccount(t, e.db, &model.Account{ParentAccountID: &parent.ID})
}

func (e *testEnv) reload(t *testing.T, id int64) *model.Account {
	return testutil.Reload(t, e.db, id)
}

// useSettings 以系统管理员身份覆盖企业资金策略
func (e *testEnv) useSettings(t *testing.T, companyID int64, in SettingsInput) {
	t.Helper()
	_, err := e.svc.Settings.Update(context.Background(), authz.System(), companyID, &in)
	require.NoError(t, err)
}

func (e *testEnv) count(t *testing.T, m interface{}, query string, args ...interface{}) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Model(m).Where(query, args...).Count(&n).Error)
	return n
}

func treasurer(a *model.Account) authz.Actor {
	return authz.Actor{AccountID: a.ID, Role: authz.RoleTreasurer}
}

func financeManager(a *model.Account) authz.Actor {
	return authz.Actor{AccountID: a.ID, Role: authz.RoleFinanceManager}
}

func enterpriseAdmin(a *model.Account) authz.Actor {
	return authz.Actor{AccountID: a.ID, Role: authz.RoleEnterpriseAdmin}
}

func dec(s string) decimal.Decimal {
	return testutil.Dec(s)
}

func assertDec(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	require.Truef(t, dec(want).Equal(got), "want %s, got %s %v", want, got, msgAndArgs)
}
