package job

import (
	"context"
	"log"
	"time"

	"treasury/internal/config"
	"treasury/internal/service"
)

const (
	EarningsJobName       = "EarningsJob"
	LockReleaseJobName    = "LockReleaseJob"
	ApprovalExpiryJobName = "ApprovalExpiryJob"
	OutboxSenderName      = "OutboxSender"
)

// Accruer 每日计息
type Accruer interface {
	AccrueAll(ctx context.Context) (*service.BatchReport, error)
}

// LockReleaser 释放到期的付款锁定
type LockReleaser interface {
	ReleaseDue(ctx context.Context) (*service.BatchReport, error)
}

// StakeReleaser 释放到期质押，与 LockReleaser 形状相同
type StakeReleaser interface {
	ReleaseDue(ctx context.Context) (*service.BatchReport, error)
}

// WorkflowExpirer 关闭超时未决的审批流程
type WorkflowExpirer interface {
	ExpireStale(ctx context.Context) (*service.BatchReport, error)
}

type batchStep func(ctx context.Context) (*service.BatchReport, error)

// newBatchRunner 依次执行各步骤，每步的处理结果计入日志和指标；某步出错时不再执行后续步骤
func newBatchRunner(name string, interval time.Duration, opts []Option, steps ...batchStep) *Runner {
	r := NewRunner(name, interval, nil, opts...)
	r.task = func(ctx context.Context) error {
		for _, step := range steps {
			report, err := step(ctx)
			r.observe(report)
			if err != nil {
				return err
			}
		}
		return nil
	}
	return r
}

func (r *Runner) observe(report *service.BatchReport) {
	if report == nil || report.Scanned == 0 {
		return
	}
	r.metrics.JobItem(r.name, "succeeded", report.Succeeded)
	r.metrics.JobItem(r.name, "skipped", report.Skipped)
	r.metrics.JobItem(r.name, "failed", report.Failed)
	log.Printf("[%s] 本轮处理完成: 扫描=%d, 成功=%d, 跳过=%d, 失败=%d",
		r.name, report.Scanned, report.Succeeded, report.Skipped, report.Failed)
}

// NewEarningsJob 对所有进行中的质押补记到今天为止的利息
func NewEarningsJob(earnings Accruer, cfg *config.JobsConfig, opts ...Option) *Runner {
	return newBatchRunner(EarningsJobName, cfg.EarningsInterval, opts, earnings.AccrueAll)
}

// NewLockReleaseJob 释放到期的付款锁定；stakes 不为 nil 时顺带释放到期质押
func NewLockReleaseJob(payments LockReleaser, stakes StakeReleaser, cfg *config.JobsConfig, opts ...Option) *Runner {
	steps := []batchStep{payments.ReleaseDue}
	if stakes != nil {
		steps = append(steps, stakes.ReleaseDue)
	}
	return newBatchRunner(LockReleaseJobName, cfg.LockReleaseInterval, opts, steps...)
}

func NewApprovalExpiryJob(approvals WorkflowExpirer, cfg *config.JobsConfig, opts ...Option) *Runner {
	return newBatchRunner(ApprovalExpiryJobName, cfg.ApprovalExpiryInterval, opts, approvals.ExpireStale)
}
