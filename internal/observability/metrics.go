package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for PerpDesk.
type Metrics struct {
	// --- Enrichment ---
	EnrichDuration      *prometheus.HistogramVec
	EnrichedPositions   prometheus.Histogram
	UpstreamFetchErrors *prometheus.CounterVec
	DegeneratePriceFill *prometheus.CounterVec

	// --- Request cache ---
	CacheHits    prometheus.Counter
	CacheMisses  prometheus.Counter
	CacheEntries prometheus.Histogram

	// --- Validation ---
	ValidationDuration   prometheus.Histogram
	ValidationRejections *prometheus.CounterVec
	ValidatorFailures    *prometheus.CounterVec

	// --- Order builders ---
	OrdersBuilt       *prometheus.CounterVec
	OrderBuildErrors  *prometheus.CounterVec
	PreparedPublished prometheus.Counter

	// --- Prices ---
	PriceUpdates        *prometheus.CounterVec
	PriceUpdatesInvalid prometheus.Counter

	// --- Channel & Backpressure ---
	ChannelSize        *prometheus.GaugeVec
	ChannelCapacity    *prometheus.GaugeVec
	ChannelUtilization *prometheus.GaugeVec
	PublishDrops       prometheus.Counter
	HistoryDrops       prometheus.Counter

	// --- Persistence ---
	HistoryRowsWritten prometheus.Counter
	PersistBatchSize   prometheus.Histogram
	PersistBatchDur    prometheus.Histogram
	PersistErrors      *prometheus.CounterVec
	PersistRetry       prometheus.Counter

	// --- API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics on the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers on reg. Tests pass a fresh prometheus.NewRegistry().
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	upstreamBuckets := []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0}

	return &Metrics{
		// Enrichment
		EnrichDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "perpdesk_enrich_duration_seconds",
			Help:    "Time to build an enriched view (token info, positions)",
			Buckets: upstreamBuckets,
		}, []string{"kind"}),

		EnrichedPositions: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "perpdesk_enriched_positions",
			Help:    "Open positions returned per enrichment",
			Buckets: []float64{0, 1, 2, 4, 8, 16, 32},
		}),

		UpstreamFetchErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perpdesk_upstream_fetch_errors_total",
			Help: "Contract or subgraph reads that failed and were treated as missing data",
		}, []string{"source"}),

		DegeneratePriceFill: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perpdesk_degenerate_price_fill_total",
			Help: "Token prices filled from the price feed because the vault returned zero",
		}, []string{"symbol"}),

		// Request cache
		CacheHits: f.NewCounter(prometheus.CounterOpts{
			Name: "perpdesk_request_cache_hits_total",
			Help: "Request cache lookups served from memo",
		}),

		CacheMisses: f.NewCounter(prometheus.CounterOpts{
			Name: "perpdesk_request_cache_misses_total",
			Help: "Request cache lookups that computed",
		}),

		CacheEntries: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "perpdesk_request_cache_entries",
			Help:    "Entries held by a request cache when the request ends",
			Buckets: []float64{1, 2, 4, 8, 16, 32, 64},
		}),

		// Validation
		ValidationDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "perpdesk_validation_duration_seconds",
			Help:    "Time to run the full validator set",
			Buckets: upstreamBuckets,
		}),

		ValidationRejections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perpdesk_validation_rejections_total",
			Help: "Messages produced per validator",
		}, []string{"validator"}),

		ValidatorFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perpdesk_validator_failures_total",
			Help: "Validators that errored or panicked and were skipped",
		}, []string{"validator"}),

		// Order builders
		OrdersBuilt: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perpdesk_orders_built_total",
			Help: "Contract calls prepared",
		}, []string{"method"}),

		OrderBuildErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perpdesk_order_build_errors_total",
			Help: "Order builds that failed",
		}, []string{"method", "reason"}),

		PreparedPublished: f.NewCounter(prometheus.CounterOpts{
			Name: "perpdesk_prepared_orders_published_total",
			Help: "Prepared orders published to NATS",
		}),

		// Prices
		PriceUpdates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perpdesk_price_updates_total",
			Help: "Price updates applied to the price book",
		}, []string{"chain_id"}),

		PriceUpdatesInvalid: f.NewCounter(prometheus.CounterOpts{
			Name: "perpdesk_price_updates_invalid_total",
			Help: "Price updates that failed to parse",
		}),

		// Channel & Backpressure
		ChannelSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perpdesk_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perpdesk_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perpdesk_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		PublishDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "perpdesk_publish_drops_total",
			Help: "Messages dropped due to full publish channel",
		}),

		HistoryDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "perpdesk_history_drops_total",
			Help: "Trading events dropped due to full history channel",
		}),

		// Persistence
		HistoryRowsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "perpdesk_history_rows_written_total",
			Help: "Trading events written to Postgres",
		}),

		PersistBatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "perpdesk_persist_batch_size",
			Help:    "Events per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistBatchDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "perpdesk_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perpdesk_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: f.NewCounter(prometheus.CounterOpts{
			Name: "perpdesk_persist_retry_total",
			Help: "Persistence retries",
		}),

		// API
		QueryRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perpdesk_api_requests_total",
			Help: "API requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "perpdesk_api_duration_seconds",
			Help:    "API latency",
			Buckets: upstreamBuckets,
		}, []string{"endpoint"}),

		QueryErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perpdesk_api_errors_total",
			Help: "API errors",
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

// ObserveCache records a finished request cache.
func (m *Metrics) ObserveCache(hits, misses int64, entries int) {
	m.CacheHits.Add(float64(hits))
	m.CacheMisses.Add(float64(misses))
	m.CacheEntries.Observe(float64(entries))
}
