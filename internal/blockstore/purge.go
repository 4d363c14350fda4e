package blockstore

import (
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"
)

// PurgeType selects how PurgeSlots removes data.
type PurgeType int

const (
	// PurgeExact range-deletes every family immediately.
	PurgeExact PurgeType = iota
	// PurgeCompactionFilter range-deletes the primary families and leaves
	// transaction status and address signature rows to age out through
	// MaxExpiredSlot and CompactExpired.
	PurgeCompactionFilter
)

func (t PurgeType) String() string {
	switch t {
	case PurgeExact:
		return "exact"
	case PurgeCompactionFilter:
		return "compaction_filter"
	default:
		return "unknown"
	}
}

// PurgeSlots removes slots from..to inclusive.
func (b *Blockstore) PurgeSlots(from, to Slot, purgeType PurgeType) error {
	if b.closed.Load() {
		return ErrClosed
	}
	if to < from {
		return nil
	}
	start := time.Now()

	families := primaryFamilies
	if purgeType == PurgeExact {
		families = append(append([]family(nil), primaryFamilies...), auxiliaryFamilies...)
	}

	batch := b.db.NewBatch()
	defer batch.Close()
	for _, f := range families {
		lo, hi := slotRange(f, from, to)
		if err := batch.DeleteRange(lo, hi, nil); err != nil {
			return fmt.Errorf("purge %s [%d, %d]: %w", f, from, to, err)
		}
	}
	if err := batch.Commit(b.sync); err != nil {
		return fmt.Errorf("purge [%d, %d]: %w", from, to, err)
	}

	b.metrics.ObservePurge(time.Since(start), to-from+1, purgeType == PurgeExact)
	b.logger.Debugf("purged slots", map[string]any{
		"from":      from,
		"to":        to,
		"purgeType": purgeType.String(),
		"elapsedMs": time.Since(start).Milliseconds(),
	})
	return nil
}

// CompactExpired removes auxiliary rows at or below MaxExpiredSlot and
// compacts the purged span of every family. Returns the number of auxiliary
// rows removed.
func (b *Blockstore) CompactExpired() (int, error) {
	if b.closed.Load() {
		return 0, ErrClosed
	}
	expired := b.MaxExpiredSlot()
	if expired == 0 {
		return 0, nil
	}
	start := time.Now()

	removed := 0
	for _, f := range auxiliaryFamilies {
		n, err := b.countRange(f, 0, expired)
		if err != nil {
			return removed, err
		}
		if n == 0 {
			continue
		}
		lo, hi := slotRange(f, 0, expired)
		if err := b.db.DeleteRange(lo, hi, b.sync); err != nil {
			return removed, fmt.Errorf("expire %s: %w", f, err)
		}
		removed += n
	}

	for _, f := range append(append([]family(nil), primaryFamilies...), auxiliaryFamilies...) {
		lo, hi := slotRange(f, 0, expired)
		if err := b.db.Compact(lo, hi, true); err != nil {
			return removed, fmt.Errorf("compact %s: %w", f, err)
		}
	}

	b.metrics.ObserveCompaction(time.Since(start), removed)
	return removed, nil
}

func (b *Blockstore) countRange(f family, from, to Slot) (int, error) {
	lo, hi := slotRange(f, from, to)
	iter, err := b.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return 0, err
	}
	defer iter.Close()
	n := 0
	for ok := iter.First(); ok; ok = iter.Next() {
		n++
	}
	return n, iter.Error()
}

// compactLoop runs CompactExpired on a ticker until Close.
func (b *Blockstore) compactLoop(interval time.Duration) {
	defer close(b.doneCh)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopCh:
			return
		case <-ticker.C:
			if removed, err := b.CompactExpired(); err != nil {
				b.logger.Warnf("expired data compaction failed", map[string]any{"error": err.Error()})
			} else if removed > 0 {
				b.logger.Debugf("expired auxiliary rows", map[string]any{
					"removed":        removed,
					"maxExpiredSlot": b.MaxExpiredSlot(),
				})
			}
		}
	}
}
