package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the clearing service.
type Metrics struct {
	// --- Core Processing ---
	CoreCommandsApplied  *prometheus.CounterVec
	CoreCommandsRejected *prometheus.CounterVec
	CoreCommandDuration  *prometheus.HistogramVec
	CoreJournals         prometheus.Counter
	CoreSequence         prometheus.Gauge

	// --- Channel & Backpressure ---
	ChannelSize     *prometheus.GaugeVec
	ChannelCapacity *prometheus.GaugeVec
	ProjectionDrops prometheus.Counter
	PublishDrops    prometheus.Counter

	// --- Idempotency & Ordering ---
	DedupLRUSize      prometheus.Gauge
	DedupLRUEvictions prometheus.Gauge
	DedupTier2Errors  prometheus.Gauge

	// --- Markets ---
	SwapTicksCrossed *prometheus.HistogramVec
	FundingGrowth    *prometheus.GaugeVec

	// --- Liquidation & insurance ---
	Liquidations         *prometheus.CounterVec
	BadDebtTotal         *prometheus.CounterVec
	InsuranceFundBalance prometheus.Gauge

	// --- Persistence ---
	PersistEventsWritten   prometheus.Counter
	PersistJournalsWritten prometheus.Counter
	PersistRecordsWritten  prometheus.Counter
	PersistBatchSize       prometheus.Histogram
	PersistBatchDur        prometheus.Histogram
	PersistErrors          *prometheus.CounterVec
	PersistLastSequence    prometheus.Gauge

	// --- Projection ---
	ProjectionUpdateDur *prometheus.HistogramVec
	ProjectionLastSeq   prometheus.Gauge

	// --- Snapshot ---
	SnapshotTaken     prometheus.Counter
	SnapshotDuration  prometheus.Histogram
	SnapshotSizeBytes prometheus.Gauge
	SnapshotLastSeq   prometheus.Gauge
	ReplayEventsTotal prometheus.Counter

	// --- Query API ---
	QueryRequests    *prometheus.CounterVec
	QueryDuration    *prometheus.HistogramVec
	QueryErrors      *prometheus.CounterVec
	QueryCacheResult *prometheus.CounterVec
}

// NewMetrics creates all metrics on the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers the metrics on reg. Tests pass a fresh
// prometheus.NewRegistry() so repeated construction does not collide.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		// Core Processing
		CoreCommandsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_clearing_commands_applied_total",
			Help: "Commands committed by the clearing engine",
		}, []string{"command"}),

		CoreCommandsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_clearing_commands_rejected_total",
			Help: "Commands rejected (dedup, gap, guard failures)",
		}, []string{"command", "reason"}),

		CoreCommandDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "perp_clearing_command_apply_duration_seconds",
			Help:    "Time to apply a single command",
			Buckets: latencyBuckets,
		}, []string{"command"}),

		CoreJournals: f.NewCounter(prometheus.CounterOpts{
			Name: "perp_clearing_journals_generated_total",
			Help: "Journal entries generated",
		}),

		CoreSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "perp_clearing_sequence",
			Help: "Next global sequence number",
		}),

		// Channels
		ChannelSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perp_clearing_channel_size",
			Help: "Buffered items per channel",
		}, []string{"channel"}),

		ChannelCapacity: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perp_clearing_channel_capacity",
			Help: "Channel buffer capacity",
		}, []string{"channel"}),

		ProjectionDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "perp_clearing_projection_drops_total",
			Help: "Outputs dropped because the projection channel was full",
		}),

		PublishDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "perp_clearing_publish_drops_total",
			Help: "Records dropped because the publish channel was full",
		}),

		// Idempotency
		DedupLRUSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "perp_clearing_dedup_lru_size",
			Help: "Idempotency keys held in memory",
		}),

		DedupLRUEvictions: f.NewGauge(prometheus.GaugeOpts{
			Name: "perp_clearing_dedup_lru_evictions",
			Help: "Idempotency keys evicted from the LRU",
		}),

		DedupTier2Errors: f.NewGauge(prometheus.GaugeOpts{
			Name: "perp_clearing_dedup_tier2_errors",
			Help: "Postgres idempotency lookups that failed",
		}),

		// Markets
		SwapTicksCrossed: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "perp_clearing_swap_ticks_crossed",
			Help:    "Initialized ticks crossed by one swap",
			Buckets: []float64{0, 1, 2, 4, 8, 16, 32, 64},
		}, []string{"market"}),

		FundingGrowth: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perp_clearing_funding_growth",
			Help: "Cumulative funding growth per unit of base (price scale)",
		}, []string{"market"}),

		// Liquidation
		Liquidations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_clearing_liquidations_total",
			Help: "Liquidations by outcome",
		}, []string{"market", "outcome"}),

		BadDebtTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_clearing_bad_debt_total",
			Help: "Bad debt absorbed by the insurance fund (quote units)",
		}, []string{"market"}),

		InsuranceFundBalance: f.NewGauge(prometheus.GaugeOpts{
			Name: "perp_clearing_insurance_fund_balance",
			Help: "Insurance fund balance, negative while in deficit",
		}),

		// Persistence
		PersistEventsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "perp_clearing_persist_events_written_total",
			Help: "Envelopes written to the event log",
		}),

		PersistJournalsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "perp_clearing_persist_journals_written_total",
			Help: "Journal rows written",
		}),

		PersistRecordsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "perp_clearing_persist_records_written_total",
			Help: "Emitted records written",
		}),

		PersistBatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "perp_clearing_persist_batch_size",
			Help:    "Outputs per persistence transaction",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250},
		}),

		PersistBatchDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "perp_clearing_persist_batch_duration_seconds",
			Help:    "Time to write one persistence batch",
			Buckets: prometheus.DefBuckets,
		}),

		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_clearing_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistLastSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "perp_clearing_persist_last_sequence",
			Help: "Highest sequence durably written",
		}),

		// Projection
		ProjectionUpdateDur: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "perp_clearing_projection_update_duration_seconds",
			Help:    "Time to apply one output to a projection",
			Buckets: prometheus.DefBuckets,
		}, []string{"projection"}),

		ProjectionLastSeq: f.NewGauge(prometheus.GaugeOpts{
			Name: "perp_clearing_projection_last_sequence",
			Help: "Highest sequence applied to the projections",
		}),

		// Snapshot
		SnapshotTaken: f.NewCounter(prometheus.CounterOpts{
			Name: "perp_clearing_snapshots_taken_total",
			Help: "Snapshots saved",
		}),

		SnapshotDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "perp_clearing_snapshot_duration_seconds",
			Help:    "Time to capture and save a snapshot",
			Buckets: prometheus.DefBuckets,
		}),

		SnapshotSizeBytes: f.NewGauge(prometheus.GaugeOpts{
			Name: "perp_clearing_snapshot_size_bytes",
			Help: "Encoded size of the latest snapshot",
		}),

		SnapshotLastSeq: f.NewGauge(prometheus.GaugeOpts{
			Name: "perp_clearing_snapshot_last_sequence",
			Help: "Sequence of the latest snapshot",
		}),

		ReplayEventsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "perp_clearing_replay_events_total",
			Help: "Commands replayed from the event log at startup",
		}),

		// Query API
		QueryRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_clearing_query_requests_total",
			Help: "Query API requests",
		}, []string{"method"}),

		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "perp_clearing_query_duration_seconds",
			Help:    "Query API latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),

		QueryErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_clearing_query_errors_total",
			Help: "Query API errors",
		}, []string{"method", "code"}),

		QueryCacheResult: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_clearing_query_cache_total",
			Help: "Query cache lookups by result",
		}, []string{"result"}),
	}
}

// ObserveChannel records depth and capacity of a buffered channel.
func (m *Metrics) ObserveChannel(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
}
