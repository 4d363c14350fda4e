package gc

import (
	"fmt"
	"time"

	"github.com/dray-io/ledgerd/internal/blockstore"
	"github.com/dray-io/ledgerd/internal/logging"
)

// SlotMetaSource yields slot metadata in ascending order.
type SlotMetaSource interface {
	SlotMetaIterator(start blockstore.Slot) (*blockstore.SlotMetaIterator, error)
}

// Evaluation is the result of a retention scan.
type Evaluation struct {
	// ShouldPurge is true when the scanned shreds reach the cap.
	ShouldPurge bool

	// LowestCleanupSlot is the highest slot to purge. Every slot at or below
	// it is removed. Meaningless when ShouldPurge is false.
	LowestCleanupSlot blockstore.Slot

	// TotalShreds is the shred count of every scanned slot.
	TotalShreds uint64

	// TotalSlots is the number of scanned slots.
	TotalSlots int

	// FirstSlot is the lowest slot present in the ledger.
	FirstSlot blockstore.Slot

	// ScanDuration is how long the metadata scan took.
	ScanDuration time.Duration
}

// slotShreds pairs a slot with its received shred count.
type slotShreds struct {
	slot   blockstore.Slot
	shreds uint64
}

// RetentionEvaluator decides how much of the ledger to purge so that roughly
// maxShreds of the newest shreds survive.
type RetentionEvaluator struct {
	source SlotMetaSource
	logger *logging.Logger
}

// NewRetentionEvaluator creates an evaluator over source.
func NewRetentionEvaluator(source SlotMetaSource, logger *logging.Logger) *RetentionEvaluator {
	if logger == nil {
		logger = logging.Global()
	}
	return &RetentionEvaluator{source: source, logger: logger}
}

// Evaluate scans slot metadata from slot 0 up to and including the first slot
// past root. The shred counts are an upper bound since slots with holes are
// counted as full.
func (e *RetentionEvaluator) Evaluate(root blockstore.Slot, maxShreds uint64) (Evaluation, error) {
	start := time.Now()

	it, err := e.source.SlotMetaIterator(0)
	if err != nil {
		return Evaluation{}, fmt.Errorf("gc: open slot meta iterator: %w", err)
	}
	defer it.Close()

	var (
		scanned []slotShreds
		total   uint64
	)
	for it.Next() {
		slot, meta := it.Slot(), it.Meta()
		if len(scanned) == 0 {
			e.logger.Debugf("purge: searching from slot", map[string]any{"slot": slot})
		}
		total += meta.Received
		scanned = append(scanned, slotShreds{slot: slot, shreds: meta.Received})
		if slot > root {
			break
		}
	}
	if err := it.Err(); err != nil {
		return Evaluation{}, fmt.Errorf("gc: scan slot meta: %w", err)
	}

	eval := Evaluation{
		TotalShreds:  total,
		TotalSlots:   len(scanned),
		ScanDuration: time.Since(start),
	}
	if len(scanned) > 0 {
		eval.FirstSlot = scanned[0].slot
	}

	e.logger.Infof("retention scan complete", map[string]any{
		"totalSlots":      eval.TotalSlots,
		"totalShreds":     eval.TotalShreds,
		"maxLedgerShreds": maxShreds,
		"scanMs":          eval.ScanDuration.Milliseconds(),
	})

	if len(scanned) == 0 || total < maxShreds {
		return eval, nil
	}

	eval.ShouldPurge = true
	eval.LowestCleanupSlot = lowestCleanupSlot(scanned, maxShreds)
	return eval, nil
}

// lowestCleanupSlot walks the scanned slots newest-first and returns the slot
// at which the running shred count first exceeds maxShreds. That slot is
// purged along with everything older. If the count never exceeds maxShreds
// the oldest slot is returned. scanned must be non-empty.
func lowestCleanupSlot(scanned []slotShreds, maxShreds uint64) blockstore.Slot {
	boundary := scanned[0].slot
	var kept uint64
	for i := len(scanned) - 1; i >= 0; i-- {
		kept += scanned[i].shreds
		if kept > maxShreds {
			return scanned[i].slot
		}
	}
	return boundary
}
