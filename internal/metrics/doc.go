// Package metrics provides Prometheus metrics for observability.
//
// This package exposes metrics for the ledger cleanup service and the
// blockstore it trims:
//   - Disk utilization before and after each purge, and the signed delta
//   - Total shreds counted by the most recent retention scan
//   - Cleanup cycles by outcome (skipped, no_purge, purged)
//   - Retention scan and purge latency histograms
//   - Last purge slot and lowest cleanup slot
//   - Blockstore insert, purge and expiry compaction activity
//
// Metrics are exposed on /metrics of the health server in Prometheus format.
//
// Usage:
//
//	cleanupMetrics := metrics.NewCleanupMetrics()
//	service := gc.NewCleanupService(store, roots, cfg).WithMetrics(cleanupMetrics)
//
//	store, err := blockstore.Open(blockstore.Options{
//	    Path:    dir,
//	    Metrics: metrics.NewBlockstoreMetrics(),
//	})
package metrics
