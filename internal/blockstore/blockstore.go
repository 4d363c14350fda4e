// Package blockstore implements a slot-indexed ledger store on top of Pebble.
//
// Every column family is a one-byte key prefix followed by the big-endian
// slot, so a contiguous range of slots is a contiguous range of keys in each
// family. Slot metadata carries the per-slot shred counts the ledger cleanup
// service uses to approximate disk usage.
//
// Two boundaries control purge visibility:
//
//   - LowestCleanupSlot is advanced before a purge starts. Reads of shreds at
//     or below it fail with ErrSlotCleanedUp.
//   - MaxExpiredSlot is advanced after a purge returns. Auxiliary rows
//     (transaction status, address signatures) at or below it are hidden and
//     removed by the next CompactExpired pass.
package blockstore

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"

	"github.com/dray-io/ledgerd/internal/logging"
)

// Slot identifies a ledger segment.
type Slot = uint64

// Common errors returned by Blockstore operations.
var (
	// ErrClosed is returned when operations are attempted on a closed store.
	ErrClosed = errors.New("blockstore: closed")

	// ErrSlotCleanedUp is returned when a read targets a slot at or below
	// the lowest cleanup slot.
	ErrSlotCleanedUp = errors.New("blockstore: slot cleaned up")

	// ErrNotFound is returned when a key does not exist.
	ErrNotFound = errors.New("blockstore: not found")
)

// FsyncMode defines durability behavior for write operations.
type FsyncMode int

const (
	// FsyncModeInterval lets Pebble coalesce WAL syncs within FsyncInterval.
	FsyncModeInterval FsyncMode = iota
	// FsyncModeAlways syncs the WAL on every committed batch.
	FsyncModeAlways
	// FsyncModeNever never forces a WAL sync from the application.
	FsyncModeNever
)

// ParseFsyncMode converts a config string to a FsyncMode.
func ParseFsyncMode(s string) FsyncMode {
	switch s {
	case "always":
		return FsyncModeAlways
	case "never":
		return FsyncModeNever
	default:
		return FsyncModeInterval
	}
}

// MetricsHook observes store operations. Optional.
type MetricsHook interface {
	ObserveInsert(elapsed time.Duration, shreds int)
	ObservePurge(elapsed time.Duration, slots uint64, exact bool)
	ObserveCompaction(elapsed time.Duration, removed int)
}

type noopMetrics struct{}

func (noopMetrics) ObserveInsert(time.Duration, int)         {}
func (noopMetrics) ObservePurge(time.Duration, uint64, bool) {}
func (noopMetrics) ObserveCompaction(time.Duration, int)     {}

// Options configures a Blockstore.
type Options struct {
	// Path is the Pebble data directory. Required unless InMemory is set.
	Path string

	// InMemory backs the store with an in-memory filesystem.
	InMemory bool

	// Fsync determines when the WAL is synced.
	Fsync FsyncMode

	// FsyncInterval controls group commit when Fsync is FsyncModeInterval.
	// Default: 5ms
	FsyncInterval time.Duration

	// Compression encodes shred payloads at rest. Default: CompressionNone
	Compression Compression

	// CompactionInterval runs CompactExpired in the background when > 0.
	CompactionInterval time.Duration

	// Metrics observes store operations. Optional.
	Metrics MetricsHook

	// Logger for store events. Defaults to the global logger.
	Logger *logging.Logger
}

// Blockstore is a slot-indexed ledger store. It is safe for concurrent use;
// iteration and purge may run at the same time.
type Blockstore struct {
	db      *pebble.DB
	path    string
	sync    *pebble.WriteOptions
	metrics MetricsHook
	logger  *logging.Logger
	codec   *payloadCodec
	now     func() time.Time

	// insertMu serialises read-modify-write of slot metadata.
	insertMu sync.Mutex

	lowestCleanupMu   sync.RWMutex
	lowestCleanupSlot Slot

	maxExpiredSlot atomic.Uint64
	closed         atomic.Bool

	stopCh chan struct{}
	doneCh chan struct{}
}

// Open creates or opens a Blockstore.
func Open(opts Options) (*Blockstore, error) {
	if opts.Path == "" && !opts.InMemory {
		return nil, errors.New("blockstore: Options.Path is required")
	}

	po := &pebble.Options{}
	if opts.InMemory {
		po.FS = vfs.NewMem()
	}

	switch opts.Fsync {
	case FsyncModeAlways, FsyncModeNever:
	default:
		interval := opts.FsyncInterval
		if interval <= 0 {
			interval = 5 * time.Millisecond
		}
		po.WALMinSyncInterval = func() time.Duration { return interval }
	}

	codec, err := newPayloadCodec(opts.Compression)
	if err != nil {
		return nil, err
	}

	db, err := pebble.Open(opts.Path, po)
	if err != nil {
		codec.close()
		return nil, err
	}

	metrics := opts.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Global()
	}

	writeOpts := pebble.NoSync
	if opts.Fsync == FsyncModeAlways {
		writeOpts = pebble.Sync
	}

	b := &Blockstore{
		db:      db,
		path:    opts.Path,
		sync:    writeOpts,
		metrics: metrics,
		logger:  logger.WithComponent("blockstore"),
		codec:   codec,
		now:     time.Now,
	}

	if opts.CompactionInterval > 0 {
		b.stopCh = make(chan struct{})
		b.doneCh = make(chan struct{})
		go b.compactLoop(opts.CompactionInterval)
	}

	return b, nil
}

// Close stops the background compactor and closes the database.
func (b *Blockstore) Close() error {
	if b == nil || !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	if b.stopCh != nil {
		close(b.stopCh)
		<-b.doneCh
	}
	defer b.codec.close()
	return b.db.Close()
}

// Destroy removes the data directory of a closed store.
func Destroy(path string) error {
	return os.RemoveAll(path)
}

// Path returns the data directory.
func (b *Blockstore) Path() string {
	return b.path
}

// Name identifies the store in readiness reports.
func (b *Blockstore) Name() string {
	return "blockstore"
}

// CheckReady performs a point lookup to verify the store responds.
func (b *Blockstore) CheckReady(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := b.get(slotKey(familyRoot, 0))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}

// StorageSize returns the current on-disk footprint in bytes.
func (b *Blockstore) StorageSize() (uint64, error) {
	if b.closed.Load() {
		return 0, ErrClosed
	}
	return b.db.Metrics().DiskSpaceUsage(), nil
}

// LowestCleanupSlot returns the slot at or below which data is being purged.
func (b *Blockstore) LowestCleanupSlot() Slot {
	b.lowestCleanupMu.RLock()
	defer b.lowestCleanupMu.RUnlock()
	return b.lowestCleanupSlot
}

// SetLowestCleanupSlot advances the cleanup boundary. Lower values are ignored.
func (b *Blockstore) SetLowestCleanupSlot(slot Slot) {
	b.lowestCleanupMu.Lock()
	defer b.lowestCleanupMu.Unlock()
	if slot > b.lowestCleanupSlot {
		b.lowestCleanupSlot = slot
	}
}

// MaxExpiredSlot returns the expiry-visibility marker.
func (b *Blockstore) MaxExpiredSlot() Slot {
	return b.maxExpiredSlot.Load()
}

// SetMaxExpiredSlot advances the expiry-visibility marker. Lower values are ignored.
func (b *Blockstore) SetMaxExpiredSlot(slot Slot) {
	for {
		cur := b.maxExpiredSlot.Load()
		if slot <= cur || b.maxExpiredSlot.CompareAndSwap(cur, slot) {
			return
		}
	}
}

// checkLowestCleanupSlot must be called with lowestCleanupMu held for reading.
func (b *Blockstore) checkLowestCleanupSlot(slot Slot) error {
	if b.lowestCleanupSlot > 0 && slot <= b.lowestCleanupSlot {
		return ErrSlotCleanedUp
	}
	return nil
}

func (b *Blockstore) get(key []byte) ([]byte, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}
	val, closer, err := b.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer closer.Close()
	return append([]byte(nil), val...), nil
}

func (b *Blockstore) set(key, value []byte) error {
	if b.closed.Load() {
		return ErrClosed
	}
	return b.db.Set(key, value, b.sync)
}
