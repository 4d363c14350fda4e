package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Cleanup cycle outcomes.
const (
	OutcomeSkipped = "skipped"
	OutcomeNoPurge = "no_purge"
	OutcomePurged  = "purged"
)

// CleanupMetrics holds metrics for the ledger cleanup service.
type CleanupMetrics struct {
	// DiskUtilizationPre is the ledger size in bytes measured before the last purge.
	DiskUtilizationPre prometheus.Gauge

	// DiskUtilizationPost is the ledger size in bytes measured after the last purge.
	DiskUtilizationPost prometheus.Gauge

	// DiskUtilizationDelta is pre minus post. Negative when the ledger grew
	// while the purge ran.
	DiskUtilizationDelta prometheus.Gauge

	// TotalShreds is the shred count seen by the last retention scan.
	TotalShreds prometheus.Gauge

	// LastPurgeSlot is the root recorded at the last purge trigger.
	LastPurgeSlot prometheus.Gauge

	// LowestCleanupSlot is the boundary of the last purge.
	LowestCleanupSlot prometheus.Gauge

	// Cycles counts cleanup cycles by outcome.
	Cycles *prometheus.CounterVec

	// ScanDuration measures retention scans in seconds.
	ScanDuration prometheus.Histogram

	// PurgeDuration measures purge jobs in seconds.
	PurgeDuration prometheus.Histogram
}

// NewCleanupMetrics creates and registers cleanup metrics with the default registry.
func NewCleanupMetrics() *CleanupMetrics {
	return NewCleanupMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewCleanupMetricsWithRegistry creates cleanup metrics registered with reg.
// Useful for testing to avoid conflicts with the default registry.
func NewCleanupMetricsWithRegistry(reg prometheus.Registerer) *CleanupMetrics {
	factory := promauto.With(reg)
	gauge := func(name, help string) prometheus.Gauge {
		return factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "ledgerd",
			Subsystem: "cleanup",
			Name:      name,
			Help:      help,
		})
	}

	return &CleanupMetrics{
		DiskUtilizationPre:   gauge("disk_utilization_pre_bytes", "Ledger size in bytes before the last purge."),
		DiskUtilizationPost:  gauge("disk_utilization_post_bytes", "Ledger size in bytes after the last purge."),
		DiskUtilizationDelta: gauge("disk_utilization_delta_bytes", "Bytes reclaimed by the last purge (pre minus post)."),
		TotalShreds:          gauge("total_shreds", "Shreds counted up to the root by the last retention scan."),
		LastPurgeSlot:        gauge("last_purge_slot", "Root recorded at the last purge trigger."),
		LowestCleanupSlot:    gauge("lowest_cleanup_slot", "Highest slot removed by the last purge."),
		Cycles: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ledgerd",
				Subsystem: "cleanup",
				Name:      "cycles_total",
				Help:      "Cleanup cycles by outcome.",
			},
			[]string{"outcome"},
		),
		ScanDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "ledgerd",
				Subsystem: "cleanup",
				Name:      "scan_duration_seconds",
				Help:      "Time spent scanning slot metadata.",
				Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
			},
		),
		PurgeDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "ledgerd",
				Subsystem: "cleanup",
				Name:      "purge_duration_seconds",
				Help:      "Time spent purging slots, including the boundary updates.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
			},
		),
	}
}

// RecordDiskUtilization updates the disk utilization gauges.
func (m *CleanupMetrics) RecordDiskUtilization(pre, post uint64, totalShreds uint64) {
	m.DiskUtilizationPre.Set(float64(pre))
	m.DiskUtilizationPost.Set(float64(post))
	m.DiskUtilizationDelta.Set(float64(int64(pre) - int64(post)))
	m.TotalShreds.Set(float64(totalShreds))
}

// RecordCycle increments the cycle counter for outcome.
func (m *CleanupMetrics) RecordCycle(outcome string) {
	m.Cycles.WithLabelValues(outcome).Inc()
}

// RecordScan observes a retention scan.
func (m *CleanupMetrics) RecordScan(elapsed time.Duration, totalShreds uint64) {
	m.ScanDuration.Observe(elapsed.Seconds())
	m.TotalShreds.Set(float64(totalShreds))
}

// RecordPurge observes a finished purge job.
func (m *CleanupMetrics) RecordPurge(elapsed time.Duration, lowestCleanupSlot uint64) {
	m.PurgeDuration.Observe(elapsed.Seconds())
	m.LowestCleanupSlot.Set(float64(lowestCleanupSlot))
}

// RecordLastPurgeSlot updates the last purge slot gauge.
func (m *CleanupMetrics) RecordLastPurgeSlot(slot uint64) {
	m.LastPurgeSlot.Set(float64(slot))
}
