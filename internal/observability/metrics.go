package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for PariLedger.
type Metrics struct {
	// --- Queue / jobs ---
	JobsProcessed *prometheus.CounterVec // result: done|failed
	JobDuration   prometheus.Histogram
	QueueDepth    prometheus.Gauge
	QueueRetries  prometheus.Counter
	StaleReclaims prometheus.Counter
	LockedItems   prometheus.Counter

	// --- Markets ---
	MarketsProcessed *prometheus.CounterVec // status: settled|void|skipped|failed
	ForcedLocks      prometheus.Counter

	// --- Money movement ---
	PayoutsQueued    prometheus.Counter
	RefundsIssued    prometheus.Counter
	ReceiptSkips     prometheus.Counter
	ReceiptFailures  prometheus.Counter
	FeesCollected    prometheus.Counter // monetary units, not events
	TreasuryWriteErr prometheus.Counter

	// --- Ingestion ---
	EventsEnqueued *prometheus.CounterVec // result: created|duplicate
	EventsRejected *prometheus.CounterVec // reason
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	jobBuckets := []float64{
		0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
	}

	return &Metrics{
		JobsProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pari_settlement_jobs_total",
			Help: "Settlement queue items processed, by terminal result",
		}, []string{"result"}),

		JobDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "pari_settlement_job_duration_seconds",
			Help:    "Wall time to process one settlement queue item",
			Buckets: jobBuckets,
		}),

		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pari_settlement_queue_depth",
			Help: "Queue items currently eligible for locking",
		}),

		QueueRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pari_settlement_queue_retries_total",
			Help: "Queue items rescheduled with backoff after failure",
		}),

		StaleReclaims: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pari_settlement_stale_reclaims_total",
			Help: "PROCESSING items reclaimed after a stale lock",
		}),

		LockedItems: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pari_settlement_items_locked_total",
			Help: "Queue items successfully locked by this worker",
		}),

		MarketsProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pari_settlement_markets_total",
			Help: "Markets handled during settlement, by status",
		}, []string{"status"}),

		ForcedLocks: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pari_settlement_forced_locks_total",
			Help: "Markets force-locked because trading was still open at settlement",
		}),

		PayoutsQueued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pari_settlement_payouts_queued_total",
			Help: "Winner payouts written with status queued",
		}),

		RefundsIssued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pari_settlement_refunds_total",
			Help: "Full-stake refunds written for voided markets",
		}),

		ReceiptSkips: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pari_settlement_receipt_skips_total",
			Help: "Trades skipped because a receipt already existed",
		}),

		ReceiptFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pari_settlement_receipt_failures_total",
			Help: "Receipts marked FAILED after a money-movement write error",
		}),

		FeesCollected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pari_settlement_fees_collected_total",
			Help: "Platform fee amount recorded in the treasury ledger",
		}),

		TreasuryWriteErr: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pari_settlement_treasury_write_errors_total",
			Help: "Best-effort treasury ledger writes that failed",
		}),

		EventsEnqueued: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pari_ingestion_enqueued_total",
			Help: "Game finalization events enqueued, by result",
		}, []string{"result"}),

		EventsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pari_ingestion_rejected_total",
			Help: "Game finalization events rejected at parse/validation",
		}, []string{"reason"}),
	}
}
