package gc

import (
	"github.com/dray-io/ledgerd/internal/logging"
	"github.com/dray-io/ledgerd/internal/metrics"
)

// StorageSizer reports the on-disk size of the ledger.
type StorageSizer interface {
	StorageSize() (uint64, error)
}

// DiskUsage is the outcome of a storage size query.
type DiskUsage struct {
	Bytes uint64
	Err   error
}

// MeasureDiskUsage queries sizer, capturing any failure.
func MeasureDiskUsage(sizer StorageSizer) DiskUsage {
	bytes, err := sizer.StorageSize()
	return DiskUsage{Bytes: bytes, Err: err}
}

// OK reports whether the measurement succeeded.
func (u DiskUsage) OK() bool {
	return u.Err == nil
}

// DiskReporter emits before/after disk utilization for a cleanup cycle.
type DiskReporter struct {
	logger  *logging.Logger
	metrics *metrics.CleanupMetrics
}

// NewDiskReporter creates a reporter. m may be nil.
func NewDiskReporter(logger *logging.Logger, m *metrics.CleanupMetrics) *DiskReporter {
	if logger == nil {
		logger = logging.Global()
	}
	return &DiskReporter{logger: logger, metrics: m}
}

func (r *DiskReporter) withLogger(logger *logging.Logger) *DiskReporter {
	return &DiskReporter{logger: logger, metrics: r.metrics}
}

// Report emits pre, post, the signed delta and totalShreds. It does nothing
// unless both measurements succeeded.
func (r *DiskReporter) Report(pre, post DiskUsage, totalShreds uint64) bool {
	if !pre.OK() || !post.OK() {
		return false
	}

	r.logger.Infof("ledger_disk_utilization", map[string]any{
		"disk_utilization_pre":   int64(pre.Bytes),
		"disk_utilization_post":  int64(post.Bytes),
		"disk_utilization_delta": int64(pre.Bytes) - int64(post.Bytes),
		"total_shreds":           int64(totalShreds),
	})
	if r.metrics != nil {
		r.metrics.RecordDiskUtilization(pre.Bytes, post.Bytes, totalShreds)
	}
	return true
}
