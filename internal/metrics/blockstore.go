package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BlockstoreMetrics observes blockstore activity. It satisfies
// blockstore.MetricsHook.
type BlockstoreMetrics struct {
	InsertLatency     prometheus.Histogram
	ShredsInserted    prometheus.Counter
	PurgeLatency      *prometheus.HistogramVec
	SlotsPurged       prometheus.Counter
	CompactionLatency prometheus.Histogram
	ExpiredRows       prometheus.Counter
}

// NewBlockstoreMetrics creates and registers blockstore metrics with the default registry.
func NewBlockstoreMetrics() *BlockstoreMetrics {
	return NewBlockstoreMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewBlockstoreMetricsWithRegistry creates blockstore metrics registered with reg.
func NewBlockstoreMetricsWithRegistry(reg prometheus.Registerer) *BlockstoreMetrics {
	factory := promauto.With(reg)
	return &BlockstoreMetrics{
		InsertLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ledgerd",
			Subsystem: "blockstore",
			Name:      "insert_latency_seconds",
			Help:      "Latency of shred insert batches.",
			Buckets:   prometheus.DefBuckets,
		}),
		ShredsInserted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ledgerd",
			Subsystem: "blockstore",
			Name:      "shreds_inserted_total",
			Help:      "Shreds written to the blockstore.",
		}),
		PurgeLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ledgerd",
			Subsystem: "blockstore",
			Name:      "purge_latency_seconds",
			Help:      "Latency of slot range purges by purge type.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"purge_type"}),
		SlotsPurged: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ledgerd",
			Subsystem: "blockstore",
			Name:      "slots_purged_total",
			Help:      "Slots covered by purge ranges.",
		}),
		CompactionLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ledgerd",
			Subsystem: "blockstore",
			Name:      "expiry_compaction_latency_seconds",
			Help:      "Latency of expired-row compaction passes.",
			Buckets:   prometheus.DefBuckets,
		}),
		ExpiredRows: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ledgerd",
			Subsystem: "blockstore",
			Name:      "expired_rows_total",
			Help:      "Auxiliary rows removed by expiry compaction.",
		}),
	}
}

// ObserveInsert records a shred insert batch.
func (m *BlockstoreMetrics) ObserveInsert(elapsed time.Duration, shreds int) {
	m.InsertLatency.Observe(elapsed.Seconds())
	m.ShredsInserted.Add(float64(shreds))
}

// ObservePurge records a slot range purge.
func (m *BlockstoreMetrics) ObservePurge(elapsed time.Duration, slots uint64, exact bool) {
	purgeType := "compaction_filter"
	if exact {
		purgeType = "exact"
	}
	m.PurgeLatency.WithLabelValues(purgeType).Observe(elapsed.Seconds())
	m.SlotsPurged.Add(float64(slots))
}

// ObserveCompaction records an expiry compaction pass.
func (m *BlockstoreMetrics) ObserveCompaction(elapsed time.Duration, removed int) {
	m.CompactionLatency.Observe(elapsed.Seconds())
	m.ExpiredRows.Add(float64(removed))
}
