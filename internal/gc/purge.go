package gc

import (
	"time"

	"github.com/dray-io/ledgerd/internal/blockstore"
	"github.com/dray-io/ledgerd/internal/logging"
)

// Purger removes a prefix of the ledger and maintains its visibility
// boundaries.
type Purger interface {
	SetLowestCleanupSlot(slot blockstore.Slot)
	PurgeSlots(from, to blockstore.Slot, purgeType blockstore.PurgeType) error
	SetMaxExpiredSlot(slot blockstore.Slot)
}

// purgeJob removes slots [0, boundary] on its own goroutine. done is closed
// when the job finishes.
type purgeJob struct {
	ledger   Purger
	boundary blockstore.Slot
	logger   *logging.Logger

	done    chan struct{}
	elapsed time.Duration
	err     error
}

func startPurge(ledger Purger, boundary blockstore.Slot, logger *logging.Logger) *purgeJob {
	job := &purgeJob{
		ledger:   ledger,
		boundary: boundary,
		logger:   logger,
		done:     make(chan struct{}),
	}
	go job.run()
	return job
}

func (j *purgeJob) run() {
	defer close(j.done)
	start := time.Now()

	// Readers start failing against the new boundary before data goes away.
	j.ledger.SetLowestCleanupSlot(j.boundary)

	j.logger.Infof("purging data older than", map[string]any{"lowestCleanupSlot": j.boundary})

	// Transaction status and address signature rows are left to the
	// expiry marker under PurgeCompactionFilter.
	if err := j.ledger.PurgeSlots(0, j.boundary, blockstore.PurgeCompactionFilter); err != nil {
		j.err = err
		j.logger.Errorf("purge slots failed", map[string]any{
			"lowestCleanupSlot": j.boundary,
			"error":             err.Error(),
		})
	}

	// Only after the purge returns, so compaction never filters against a
	// boundary whose data is still live.
	j.ledger.SetMaxExpiredSlot(j.boundary)

	j.elapsed = time.Since(start)
	j.logger.Infof("purge complete", map[string]any{
		"lowestCleanupSlot": j.boundary,
		"purgeMs":           j.elapsed.Milliseconds(),
	})
}

// Done returns a channel closed when the job has finished.
func (j *purgeJob) Done() <-chan struct{} {
	return j.done
}
