package metrics

import "github.com/prometheus/client_golang/prometheus"

// Label values of the strategy label.
const (
	Pessimistic = "pessimistic"
	Optimistic  = "optimistic"
)

// Label values of the result label.
const (
	ResultCommit   = "commit"
	ResultRollback = "rollback"
	ResultFailure  = "failure"
)

var (
	TxnCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "txnkv",
			Subsystem: "txn",
			Name:      "finished_total",
			Help:      "Counter of finished transactions.",
		}, []string{"strategy", "result"})

	FailureCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "txnkv",
			Subsystem: "txn",
			Name:      "failure_total",
			Help:      "Counter of concurrency failures by kind.",
		}, []string{"strategy", "kind"})

	LatchWaitHistogram = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "txnkv",
			Subsystem: "latch",
			Name:      "wait_seconds",
			Help:      "Bucketed histogram of time spent waiting for latches.",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 2, 20),
		}, []string{"strategy"})

	GCPurgedCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "txnkv",
			Subsystem: "gc",
			Name:      "purged_versions_total",
			Help:      "Counter of versions dropped from version chains.",
		})

	SafeVersionGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "txnkv",
			Subsystem: "gc",
			Name:      "safe_version",
			Help:      "Version new optimistic snapshots read at.",
		})

	RetryAttemptHistogram = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "txnkv",
			Subsystem: "retry",
			Name:      "attempts",
			Help:      "Bucketed histogram of attempts needed to finish a region.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		})
)

func init() {
	prometheus.MustRegister(TxnCounter)
	prometheus.MustRegister(FailureCounter)
	prometheus.MustRegister(LatchWaitHistogram)
	prometheus.MustRegister(GCPurgedCounter)
	prometheus.MustRegister(SafeVersionGauge)
	prometheus.MustRegister(RetryAttemptHistogram)
}
