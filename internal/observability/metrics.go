package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for SpotLedger.
type Metrics struct {
	// --- Engine ---
	EventsApplied  *prometheus.CounterVec
	CallsRejected  *prometheus.CounterVec
	CallDuration   *prometheus.HistogramVec
	EngineSequence prometheus.Gauge

	// --- Settlement activity ---
	TradesSettled      *prometheus.CounterVec
	DepositsAccepted   prometheus.Counter
	WithdrawalsSettled prometheus.Counter
	LiquidityChanges   *prometheus.CounterVec
	WalletExits        prometheus.Counter
	PoolBaseReserve    *prometheus.GaugeVec
	PoolQuoteReserve   *prometheus.GaugeVec

	// --- Latency ---
	IngestToApply       *prometheus.HistogramVec
	NATSPullLatency     *prometheus.HistogramVec
	PersistBatchDur     prometheus.Histogram
	ProjectionUpdateDur *prometheus.HistogramVec

	// --- Channel & Backpressure ---
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec
	ChannelUtilization  *prometheus.GaugeVec
	ProjectionDrops     *prometheus.CounterVec
	PublishDrops        prometheus.Counter
	PersistBackpressure prometheus.Counter

	// --- Persistence & Replay ---
	PersistEventsWritten    prometheus.Counter
	PersistTransfersWritten prometheus.Counter
	PersistBatchSize        prometheus.Histogram
	PersistErrors           *prometheus.CounterVec
	PersistRetry            prometheus.Counter
	PersistLastSequence     prometheus.Gauge
	ReplayEventsTotal       prometheus.Counter
	ReplayDuration          prometheus.Gauge

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	ingestBuckets := []float64{
		0.00001, 0.000025, 0.00005, 0.0001, 0.00025,
		0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		// Engine
		EventsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "spot_engine_events_applied_total",
			Help: "Settlement events successfully applied",
		}, []string{"event_type"}),

		CallsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "spot_engine_calls_rejected_total",
			Help: "Settlement calls rejected before any state change",
		}, []string{"operation"}),

		CallDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "spot_engine_call_duration_seconds",
			Help:    "Time to validate and apply a single settlement call",
			Buckets: latencyBuckets,
		}, []string{"operation"}),

		EngineSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "spot_engine_sequence",
			Help: "Current global sequence number",
		}),

		// Settlement activity
		TradesSettled: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "spot_trades_settled_total",
			Help: "Trades settled by liquidity source",
		}, []string{"kind"}),

		DepositsAccepted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "spot_deposits_accepted_total",
			Help: "Deposits credited to the balance book",
		}),

		WithdrawalsSettled: promauto.NewCounter(prometheus.CounterOpts{
			Name: "spot_withdrawals_settled_total",
			Help: "Dispatcher withdrawals settled",
		}),

		LiquidityChanges: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "spot_liquidity_changes_total",
			Help: "Executed pool liquidity additions and removals",
		}, []string{"direction"}),

		WalletExits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "spot_wallet_exits_total",
			Help: "Wallet exits initiated",
		}),

		PoolBaseReserve: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "spot_pool_base_reserve_pips",
			Help: "Current pool base reserve in pips",
		}, []string{"market"}),

		PoolQuoteReserve: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "spot_pool_quote_reserve_pips",
			Help: "Current pool quote reserve in pips",
		}, []string{"market"}),

		// Latency
		IngestToApply: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "spot_ingest_to_apply_seconds",
			Help:    "NATS receive to engine apply complete",
			Buckets: ingestBuckets,
		}, []string{"operation"}),

		NATSPullLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "spot_nats_pull_latency_seconds",
			Help:    "NATS pull request latency",
			Buckets: ingestBuckets,
		}, []string{"subject"}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "spot_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		ProjectionUpdateDur: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "spot_projection_update_duration_seconds",
			Help:    "Projection table update duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
		}, []string{"projection"}),

		// Channel & Backpressure
		ChannelSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "spot_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "spot_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "spot_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		ProjectionDrops: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "spot_projection_drops_total",
			Help: "Events dropped due to full projection channel",
		}, []string{"projection"}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "spot_publish_drops_total",
			Help: "Events dropped due to full publish channel",
		}),

		PersistBackpressure: promauto.NewCounter(prometheus.CounterOpts{
			Name: "spot_persist_backpressure_total",
			Help: "Times the engine loop blocked on the persist channel",
		}),

		// Persistence & Replay
		PersistEventsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "spot_persist_events_written_total",
			Help: "Events written to Postgres",
		}),

		PersistTransfersWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "spot_persist_transfers_written_total",
			Help: "Balance transfers written to Postgres",
		}),

		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "spot_persist_batch_size",
			Help:    "Events per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "spot_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: promauto.NewCounter(prometheus.CounterOpts{
			Name: "spot_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistLastSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "spot_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		ReplayEventsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "spot_replay_events_total",
			Help: "Events replayed on startup",
		}),

		ReplayDuration: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "spot_replay_duration_seconds",
			Help: "Total replay time",
		}),

		// Query API
		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "spot_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "spot_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),

		QueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "spot_query_errors_total",
			Help: "Query errors",
		}, []string{"endpoint", "code"}),
	}
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}
