package blockstore

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dray-io/ledgerd/internal/logging"
)

func openTestStore(t *testing.T) *Blockstore {
	t.Helper()
	store, err := Open(Options{
		InMemory: true,
		Logger:   logging.New(logging.Config{Output: io.Discard}),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func collectSlots(t *testing.T, store *Blockstore, start Slot) []Slot {
	t.Helper()
	it, err := store.SlotMetaIterator(start)
	require.NoError(t, err)
	defer it.Close()

	var slots []Slot
	for it.Next() {
		slots = append(slots, it.Slot())
	}
	require.NoError(t, it.Err())
	return slots
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(Options{})
	assert.Error(t, err)
}

func TestInsertShredsUpdatesSlotMeta(t *testing.T) {
	store := openTestStore(t)

	n, err := store.InsertShreds(MakeManySlotShreds(3, 2, 5))
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	meta, err := store.Meta(3)
	require.NoError(t, err)
	assert.Equal(t, Slot(3), meta.Slot)
	assert.Equal(t, Slot(2), meta.ParentSlot)
	assert.Equal(t, uint64(5), meta.Received)
	assert.Equal(t, uint64(5), meta.Consumed)
	assert.True(t, meta.IsFull())
	assert.NotZero(t, meta.FirstShredTimestampMs)

	payload, err := store.DataShred(4, 2)
	require.NoError(t, err)
	assert.Len(t, payload, 16)
}

func TestInsertShredsWithHoles(t *testing.T) {
	store := openTestStore(t)

	shreds := []Shred{
		{Slot: 7, ParentSlot: 6, Index: 0, Data: true},
		{Slot: 7, ParentSlot: 6, Index: 1, Data: true},
		{Slot: 7, ParentSlot: 6, Index: 4, Data: true, LastInSlot: true},
		{Slot: 7, ParentSlot: 6, Index: 0, Data: false},
	}
	_, err := store.InsertShreds(shreds)
	require.NoError(t, err)

	meta, err := store.Meta(7)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), meta.Received, "received counts the holes")
	assert.Equal(t, uint64(2), meta.Consumed)
	assert.False(t, meta.IsFull())

	// Filling the holes in a later batch advances consumed.
	_, err = store.InsertShreds([]Shred{
		{Slot: 7, ParentSlot: 6, Index: 2, Data: true},
		{Slot: 7, ParentSlot: 6, Index: 3, Data: true},
	})
	require.NoError(t, err)

	meta, err = store.Meta(7)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), meta.Consumed)
	assert.True(t, meta.IsFull())
}

func TestSlotMetaIterator(t *testing.T) {
	store := openTestStore(t)

	assert.Empty(t, collectSlots(t, store, 0))

	_, err := store.InsertShreds(MakeManySlotShreds(0, 10, 1))
	require.NoError(t, err)

	assert.Equal(t, []Slot{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, collectSlots(t, store, 0))
	assert.Equal(t, []Slot{6, 7, 8, 9}, collectSlots(t, store, 6))
}

func TestPurgeSlotsExact(t *testing.T) {
	store := openTestStore(t)

	_, err := store.InsertShreds(MakeManySlotShreds(0, 10, 2))
	require.NoError(t, err)
	require.NoError(t, store.SetRoots(0, 1, 2, 8))
	require.NoError(t, store.MarkDead(3))
	require.NoError(t, store.WriteTransactionStatus(2, TransactionStatus{Signature: "sig-2", Fee: 5000}))

	require.NoError(t, store.PurgeSlots(0, 4, PurgeExact))

	assert.Equal(t, []Slot{5, 6, 7, 8, 9}, collectSlots(t, store, 0))

	root, err := store.IsRoot(2)
	require.NoError(t, err)
	assert.False(t, root)

	dead, err := store.IsDead(3)
	require.NoError(t, err)
	assert.False(t, dead)

	n, err := store.countRange(familyTransactionStatus, 0, 4)
	require.NoError(t, err)
	assert.Zero(t, n)

	maxRoot, ok, err := store.MaxRoot()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, Slot(8), maxRoot)
}

func TestPurgeSlotsCompactionFilterDefersAuxiliaryRows(t *testing.T) {
	store := openTestStore(t)

	_, err := store.InsertShreds(MakeManySlotShreds(0, 6, 2))
	require.NoError(t, err)
	for slot := Slot(0); slot < 6; slot++ {
		require.NoError(t, store.WriteTransactionStatus(slot, TransactionStatus{Signature: "sig", Fee: slot}))
		require.NoError(t, store.WriteAddressSignature(AddressSignature{
			Slot:      slot,
			Address:   "acct",
			Signature: "sig",
		}))
	}

	require.NoError(t, store.PurgeSlots(0, 2, PurgeCompactionFilter))
	assert.Equal(t, []Slot{3, 4, 5}, collectSlots(t, store, 0))

	// Auxiliary rows survive the purge itself.
	n, err := store.countRange(familyTransactionStatus, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	_, err = store.TransactionStatus(1, "sig")
	require.NoError(t, err)

	store.SetMaxExpiredSlot(2)

	// Hidden once the expiry marker passes them.
	_, err = store.TransactionStatus(1, "sig")
	assert.ErrorIs(t, err, ErrNotFound)
	sigs, err := store.AddressSignatures("acct")
	require.NoError(t, err)
	require.Len(t, sigs, 3)
	assert.Equal(t, Slot(3), sigs[0].Slot)

	removed, err := store.CompactExpired()
	require.NoError(t, err)
	assert.Equal(t, 6, removed)

	n, err = store.countRange(familyTransactionStatus, 0, 2)
	require.NoError(t, err)
	assert.Zero(t, n)

	status, err := store.TransactionStatus(4, "sig")
	require.NoError(t, err)
	assert.Equal(t, uint64(4), status.Fee)
}

func TestCompactExpiredNoopWithoutMarker(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.WriteTransactionStatus(1, TransactionStatus{Signature: "a"}))

	removed, err := store.CompactExpired()
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestLowestCleanupSlotIsMonotonic(t *testing.T) {
	store := openTestStore(t)

	store.SetLowestCleanupSlot(10)
	store.SetLowestCleanupSlot(4)
	assert.Equal(t, Slot(10), store.LowestCleanupSlot())

	store.SetMaxExpiredSlot(9)
	store.SetMaxExpiredSlot(3)
	assert.Equal(t, Slot(9), store.MaxExpiredSlot())
}

func TestReadsBelowLowestCleanupSlot(t *testing.T) {
	store := openTestStore(t)

	_, err := store.InsertShreds(MakeManySlotShreds(0, 5, 1))
	require.NoError(t, err)

	store.SetLowestCleanupSlot(2)

	_, err = store.DataShred(2, 0)
	assert.ErrorIs(t, err, ErrSlotCleanedUp)
	_, err = store.DataShred(3, 0)
	assert.NoError(t, err)

	// Late shreds for cleaned slots are dropped.
	n, err := store.InsertShreds(MakeManySlotShreds(1, 1, 3))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStorageSize(t *testing.T) {
	store, err := Open(Options{InMemory: true, Logger: logging.New(logging.Config{Output: io.Discard})})
	require.NoError(t, err)

	_, err = store.StorageSize()
	require.NoError(t, err)

	require.NoError(t, store.Close())
	_, err = store.StorageSize()
	assert.ErrorIs(t, err, ErrClosed)

	_, err = store.SlotMetaIterator(0)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestOpenOnDisk(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(Options{Path: dir, Fsync: FsyncModeAlways, Logger: logging.New(logging.Config{Output: io.Discard})})
	require.NoError(t, err)

	_, err = store.InsertShreds(MakeManySlotShreds(0, 3, 4))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := Open(Options{Path: dir, Logger: logging.New(logging.Config{Output: io.Discard})})
	require.NoError(t, err)
	assert.Equal(t, []Slot{0, 1, 2}, collectSlots(t, reopened, 0))
	require.NoError(t, reopened.Close())

	require.NoError(t, Destroy(dir))
}

func TestParseFsyncMode(t *testing.T) {
	assert.Equal(t, FsyncModeAlways, ParseFsyncMode("always"))
	assert.Equal(t, FsyncModeNever, ParseFsyncMode("never"))
	assert.Equal(t, FsyncModeInterval, ParseFsyncMode("interval"))
	assert.Equal(t, FsyncModeInterval, ParseFsyncMode(""))
}

func TestCheckReady(t *testing.T) {
	store, err := Open(Options{InMemory: true, Logger: logging.New(logging.Config{Output: io.Discard})})
	require.NoError(t, err)

	assert.Equal(t, "blockstore", store.Name())
	assert.NoError(t, store.CheckReady(context.Background()))

	require.NoError(t, store.Close())
	assert.ErrorIs(t, store.CheckReady(context.Background()), ErrClosed)
}

func TestShredCompression(t *testing.T) {
	for _, c := range []Compression{CompressionNone, CompressionSnappy, CompressionLZ4, CompressionZstd} {
		t.Run(c.String(), func(t *testing.T) {
			store, err := Open(Options{
				InMemory:    true,
				Compression: c,
				Logger:      logging.New(logging.Config{Output: io.Discard}),
			})
			require.NoError(t, err)
			defer store.Close()

			shreds := MakeManySlotShreds(0, 2, 3)
			shreds = append(shreds, Shred{Slot: 1, Index: 0, Payload: []byte("coding")})
			_, err = store.InsertShreds(shreds)
			require.NoError(t, err)

			got, err := store.DataShred(1, 2)
			require.NoError(t, err)
			assert.Equal(t, shreds[5].Payload, got)

			code, err := store.CodeShred(1, 0)
			require.NoError(t, err)
			assert.Equal(t, []byte("coding"), code)
		})
	}
}

func TestShredCompressionChangeKeepsOldPayloads(t *testing.T) {
	dir := t.TempDir()
	logger := logging.New(logging.Config{Output: io.Discard})

	store, err := Open(Options{Path: dir, Compression: CompressionSnappy, Logger: logger})
	require.NoError(t, err)
	_, err = store.InsertShreds(MakeManySlotShreds(0, 1, 2))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store, err = Open(Options{Path: dir, Compression: CompressionZstd, Logger: logger})
	require.NoError(t, err)
	defer store.Close()
	_, err = store.InsertShreds(MakeManySlotShreds(1, 1, 2))
	require.NoError(t, err)

	for slot := Slot(0); slot < 2; slot++ {
		payload, err := store.DataShred(slot, 1)
		require.NoError(t, err)
		assert.Len(t, payload, 16)
	}
}

func TestParseCompression(t *testing.T) {
	c, err := ParseCompression("zstd")
	require.NoError(t, err)
	assert.Equal(t, CompressionZstd, c)

	c, err = ParseCompression("")
	require.NoError(t, err)
	assert.Equal(t, CompressionNone, c)

	_, err = ParseCompression("brotli")
	assert.Error(t, err)

	_, err = Open(Options{InMemory: true, Compression: Compression(9)})
	assert.Error(t, err)
}
