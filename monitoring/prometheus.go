package monitoring

import (
	"net/http"
	"time"

	"github.com/mezonai/stakepool/logx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type TxRejectedReason string

var (
	TxInvalidSignature TxRejectedReason = "invalid_signature"
	TxExpired          TxRejectedReason = "expired"
	TxDuplicated       TxRejectedReason = "duplicated"
	TxRateLimited      TxRejectedReason = "rate_limited"
	TxMalformed        TxRejectedReason = "malformed"
	TxRejectedUnknown  TxRejectedReason = "other"
)

// Outcome labels for executed transactions. Caller errors are labelled with
// their error code so that, for example, lock rejections can be graphed.
const (
	OutcomeSuccess = "success"
	OutcomeSystem  = "system_error"
)

type nodePromMetrics struct {
	nodeUpUnixSeconds prometheus.Gauge
	executedTxCount   *prometheus.CounterVec
	rejectedTxCount   *prometheus.CounterVec
	executionLatency  *prometheus.HistogramVec
	lockWait          prometheus.Histogram
	totalStaked       prometheus.Gauge
	totalRewards      prometheus.Gauge
	batchSize         prometheus.Histogram
	panicCount        prometheus.Counter
}

func newNodePromMetrics() *nodePromMetrics {
	return &nodePromMetrics{
		nodeUpUnixSeconds: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "stakepool_node_up_timestamp_unix_seconds",
				Help: "Unix timestamp of the node start",
			},
		),
		executedTxCount: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stakepool_executed_tx_count",
				Help: "Executed staking transactions by instruction and outcome",
			},
			[]string{"instruction", "outcome"},
		),
		rejectedTxCount: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stakepool_rejected_tx_count",
				Help: "Transactions rejected before execution",
			},
			[]string{"reason"},
		),
		executionLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stakepool_execution_latency_seconds",
				Help:    "Time from lock acquisition to commit or discard",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
			},
			[]string{"instruction"},
		),
		lockWait: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "stakepool_account_lock_wait_seconds",
				Help:    "Time spent waiting for per-account locks",
				Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
			},
		),
		totalStaked: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "stakepool_pool_total_staked",
				Help: "Pool total_staked after the latest commit, in base units",
			},
		),
		totalRewards: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "stakepool_pool_total_rewards",
				Help: "Pool total_rewards after the latest commit, in base units",
			},
		),
		batchSize: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "stakepool_batch_size",
				Help:    "Number of transactions per executed batch",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12),
			},
		),
		panicCount: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "stakepool_panic_count",
				Help: "Recovered panics in background goroutines",
			},
		),
	}
}

var nodeMetrics = newNodePromMetrics()

// MarkNodeUp records the node start time.
func MarkNodeUp() {
	nodeMetrics.nodeUpUnixSeconds.SetToCurrentTime()
}

// Handler serves the default registry for mounting at /metrics.
func Handler() http.Handler {
	logx.Info("MONITORING", "Registering prometheus metrics")
	return promhttp.Handler()
}

func RecordExecutedTx(instruction, outcome string) {
	nodeMetrics.executedTxCount.With(prometheus.Labels{
		"instruction": instruction,
		"outcome":     outcome,
	}).Inc()
}

func RecordRejectedTx(reason TxRejectedReason) {
	nodeMetrics.rejectedTxCount.With(prometheus.Labels{
		"reason": string(reason),
	}).Inc()
}

func RecordExecutionLatency(instruction string, duration time.Duration) {
	nodeMetrics.executionLatency.With(prometheus.Labels{
		"instruction": instruction,
	}).Observe(duration.Seconds())
}

func RecordLockWait(duration time.Duration) {
	nodeMetrics.lockWait.Observe(duration.Seconds())
}

func SetPoolTotals(totalStaked, totalRewards uint64) {
	nodeMetrics.totalStaked.Set(float64(totalStaked))
	nodeMetrics.totalRewards.Set(float64(totalRewards))
}

func RecordBatchSize(n int) {
	nodeMetrics.batchSize.Observe(float64(n))
}

func IncreasePanicCount() {
	nodeMetrics.panicCount.Inc()
}
