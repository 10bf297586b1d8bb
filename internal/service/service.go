package service

import (
	"context"
	"errors"
	"strconv"
	"time"

	"treasury/internal/config"
	"treasury/internal/infrastructure/lock"
	"treasury/internal/infrastructure/metrics"
	"treasury/internal/model"
	"treasury/internal/repository"
	"treasury/pkg/errs"
	"treasury/pkg/idgen"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// Deps 进程入口构造的依赖，逐个传入各服务，不使用包级单例
type Deps struct {
	DB      *gorm.DB
	Redis   *redis.Client // 可为 nil：不加分布式锁、不缓存资金策略
	Config  *config.Config
	IDs     *idgen.Snowflake
	Metrics *metrics.Metrics
	Now     func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now().UTC()
	}
	return time.Now().UTC()
}

// Services 资金引擎的全部服务
type Services struct {
	Ledger      *Ledger
	Audit       *AuditService
	Settings    *SettingsProvider
	Accounts    *AccountService
	Stakes      *StakeService
	Earnings    *EarningService
	Payments    *PaymentService
	Approvals   *ApprovalService
	Withdrawals *WithdrawalService
	Processor   *ProcessorService
}

// New 组装服务并注册审批执行器
func New(d Deps) *Services {
	ledger := NewLedger(d)
	audit := NewAuditService(d)
	settings := NewSettingsProvider(d, audit)
	accounts := NewAccountService(d)
	approvals := NewApprovalService(d, audit)
	stakes := NewStakeService(d, ledger, audit)
	earnings := NewEarningService(d, stakes)
	payments := NewPaymentService(d, ledger, audit, settings, approvals)
	withdrawals := NewWithdrawalService(d, ledger, audit, settings, approvals)

	approvals.Register(model.WorkflowTypePayment, payments)
	approvals.Register(model.WorkflowTypeWithdrawal, withdrawals)

	return &Services{
		Ledger:      ledger,
		Audit:       audit,
		Settings:    settings,
		Accounts:    accounts,
		Stakes:      stakes,
		Earnings:    earnings,
		Payments:    payments,
		Approvals:   approvals,
		Withdrawals: withdrawals,
		Processor:   NewProcessorService(d, ledger, audit, withdrawals),
	}
}

// BatchReport 后台批处理结果
type BatchReport struct {
	Scanned   int `json:"scanned"`
	Succeeded int `json:"succeeded"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// withItemTimeout 单条记录的处理时限，超时的记录记日志后跳过
func withItemTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// accountLock 按账户串行化资金请求；未配置 Redis 时只依赖数据库行锁
func accountLock(ctx context.Context, d Deps, accountID int64) (func(), error) {
	if d.Redis == nil {
		return func() {}, nil
	}
	l := lock.NewAccountLock(d.Redis, accountID)
	if err := l.Lock(ctx, d.Config.Treasury.LockRetryInterval, d.Config.Treasury.LockMaxRetries); err != nil {
		return nil, errs.WithCause(errs.Wrap(errs.ErrConflict, "系统繁忙，请稍后重试"), err)
	}
	return func() { _ = l.Unlock(context.Background()) }, nil
}

// mapTransitionErr 条件更新未命中时转换为对调用方有意义的错误类别
func mapTransitionErr(err error, base *errs.Error, format string, args ...interface{}) error {
	if errors.Is(err, repository.ErrStatusInvalid) {
		return errs.Wrap(base, format, args...)
	}
	if errors.Is(err, repository.ErrVersionConflict) {
		return errs.WithCause(errs.ErrConflict, err)
	}
	return err
}

func dayStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func idString(id int64) string {
	return strconv.FormatInt(id, 10)
}
