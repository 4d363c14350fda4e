// Package gc keeps the ledger under a retention cap.
//
// # Cleanup Cycle
//
// The cleanup service ([CleanupService]) consumes new root notifications
// and, once the root has advanced more than PurgeInterval slots past the
// last purge, scans slot metadata from the oldest slot up to the root. If
// the scanned shreds reach MaxLedgerShreds, every slot at or below the
// computed boundary is purged:
//
//  1. LowestCleanupSlot is raised, so readers stop seeing the slots.
//  2. The primary column families are range-deleted.
//  3. MaxExpiredSlot is raised, so compaction can drop transaction status
//     and address signature rows.
//
// The purge runs on its own goroutine while the cycle keeps draining root
// notifications. Only one purge is ever in flight.
//
// # Usage
//
//	svc := gc.NewCleanupService(store, roots, gc.CleanupServiceConfig{
//	    MaxLedgerShreds: 200_000_000,
//	    PurgeInterval:   512,
//	    PollInterval:    time.Second,
//	})
//	svc.Start(ctx)
//	defer svc.Stop()
package gc
