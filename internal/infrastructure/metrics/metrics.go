package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics 资金引擎与后台任务的 Prometheus 指标
type Metrics struct {
	LedgerOps         *prometheus.CounterVec
	ApprovalDecisions *prometheus.CounterVec
	JobRuns           *prometheus.CounterVec
	JobItems          *prometheus.CounterVec
	JobDuration       *prometheus.HistogramVec
	OutboxSent        *prometheus.CounterVec
}

// New 在 reg 上注册全部指标；生产环境传 prometheus.DefaultRegisterer，测试传独立 Registry
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		LedgerOps: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "treasury_ledger_operations_total",
			Help: "Balance mutations applied by the ledger, by operation and balance kind",
		}, []string{"op", "kind"}),
		ApprovalDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "treasury_approval_decisions_total",
			Help: "Approval decisions recorded, by decision",
		}, []string{"decision"}),
		JobRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "treasury_job_runs_total",
			Help: "Background job runs, by job and result (ok, skipped, error)",
		}, []string{"job", "result"}),
		JobItems: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "treasury_job_items_total",
			Help: "Items processed by background jobs, by job and result",
		}, []string{"job", "result"}),
		JobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "treasury_job_duration_seconds",
			Help:    "Duration of background job runs",
			Buckets: prometheus.DefBuckets,
		}, []string{"job"}),
		OutboxSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "treasury_outbox_messages_total",
			Help: "Outbox messages relayed to Kafka, by result",
		}, []string{"result"}),
	}
}

// 以下方法允许 nil 接收者，未启用指标时直接跳过
func (m *Metrics) LedgerOp(op, kind string) {
	if m == nil {
		return
	}
	m.LedgerOps.WithLabelValues(op, kind).Inc()
}

func (m *Metrics) ApprovalDecision(decision string) {
	if m == nil {
		return
	}
	m.ApprovalDecisions.WithLabelValues(decision).Inc()
}

func (m *Metrics) JobRun(job, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.JobRuns.WithLabelValues(job, result).Inc()
	if result != "skipped" {
		m.JobDuration.WithLabelValues(job).Observe(elapsed.Seconds())
	}
}

func (m *Metrics) JobItem(job, result string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.JobItems.WithLabelValues(job, result).Add(float64(n))
}

func (m *Metrics) OutboxResult(result string) {
	if m == nil {
		return
	}
	m.OutboxSent.WithLabelValues(result).Inc()
}
