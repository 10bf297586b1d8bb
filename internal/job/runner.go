package job

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"treasury/internal/infrastructure/lock"
	"treasury/internal/infrastructure/metrics"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// ErrSkipped 上一轮仍在运行，或其他实例持有任务锁
var ErrSkipped = errors.New("任务正在运行，本轮跳过")

// Task 一轮任务
type Task func(ctx context.Context) error

// Runner 定时任务调度器
//
// 由进程入口 Start / Stop，测试中直接调用 RunOnce。
// 同一时刻最多一轮在运行：上一轮未结束时新的 tick 直接跳过；
// 配置了 Redis 时再加一把分布式锁，保证多实例部署下同样只有一轮。
type Runner struct {
	name       string
	interval   time.Duration
	task       Task
	runOnStart bool
	redis      *redis.Client
	lockTTL    time.Duration
	metrics    *metrics.Metrics
	running    atomic.Bool
	stopCh     chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
}

type Option func(*Runner)

// WithRunOnStart 启动后立即执行一轮
func WithRunOnStart() Option {
	return func(r *Runner) { r.runOnStart = true }
}

// WithDistributedLock 多实例互斥，ttl 应大于单轮最长耗时
func WithDistributedLock(client *redis.Client, ttl time.Duration) Option {
	return func(r *Runner) {
		r.redis = client
		r.lockTTL = ttl
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

func NewRunner(name string, interval time.Duration, task Task, opts ...Option) *Runner {
	r := &Runner{
		name:     name,
		interval: interval,
		task:     task,
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Runner) Name() string {
	return r.name
}

// Start 阻塞运行直到 ctx 取消或 Stop 被调用，返回前等待进行中的一轮结束
func (r *Runner) Start(ctx context.Context) {
	log.Printf("[%s] 任务启动，间隔 %s", r.name, r.interval)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	defer r.wg.Wait()

	if r.runOnStart {
		r.dispatch(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			log.Printf("[%s] 收到停止信号，任务退出", r.name)
			return
		case <-r.stopCh:
			log.Printf("[%s] 任务停止", r.name)
			return
		case <-ticker.C:
			r.dispatch(ctx)
		}
	}
}

func (r *Runner) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

func (r *Runner) dispatch(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		_ = r.RunOnce(ctx)
	}()
}

// RunOnce 执行一轮；已有一轮在运行时立即返回 ErrSkipped
func (r *Runner) RunOnce(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		r.metrics.JobRun(r.name, "skipped", 0)
		return ErrSkipped
	}
	defer r.running.Store(false)

	if r.redis != nil {
		l := lock.NewJobLock(r.redis, r.name, r.lockTTL)
		ok, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if !ok {
			r.metrics.JobRun(r.name, "skipped", 0)
			return ErrSkipped
		}
		defer func() {
			if err := l.Unlock(context.Background()); err != nil {
				log.Printf("[%s] 释放任务锁失败: %v", r.name, err)
			}
		}()
	}

	runID := uuid.NewString()
	start := time.Now()
	err := r.task(ctx)
	result := "ok"
	if err != nil {
		result = "error"
		log.Printf("[%s] 本轮执行失败: run=%s, err=%v", r.name, runID, err)
	}
	r.metrics.JobRun(r.name, result, time.Since(start))
	return err
}
