package blockstore

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"
)

// SlotMeta is the per-slot bookkeeping record.
type SlotMeta struct {
	Slot       Slot `json:"slot"`
	ParentSlot Slot `json:"parentSlot"`

	// Consumed is the index of the first data shred not yet received
	// contiguously from index 0.
	Consumed uint64 `json:"consumed"`

	// Received is one past the highest data shred index seen. Slots with
	// holes count the missing shreds too.
	Received uint64 `json:"received"`

	// LastIndex is the index of the shred flagged last-in-slot.
	LastIndex    uint64 `json:"lastIndex"`
	HasLastIndex bool   `json:"hasLastIndex"`

	FirstShredTimestampMs int64 `json:"firstShredTimestampMs"`
}

// IsFull reports whether every data shred of the slot has been received.
func (m SlotMeta) IsFull() bool {
	return m.HasLastIndex && m.Consumed == m.LastIndex+1
}

// Shred is a ledger data or coding fragment.
type Shred struct {
	Slot       Slot
	ParentSlot Slot
	Index      uint64
	Data       bool
	LastInSlot bool
	Payload    []byte
}

// InsertShreds stores shreds and updates each touched slot's metadata in a
// single batch. Shreds at or below the lowest cleanup slot are dropped.
// Returns the number of shreds written.
func (b *Blockstore) InsertShreds(shreds []Shred) (int, error) {
	if b.closed.Load() {
		return 0, ErrClosed
	}
	start := time.Now()

	b.insertMu.Lock()
	defer b.insertMu.Unlock()

	b.lowestCleanupMu.RLock()
	lowest := b.lowestCleanupSlot
	b.lowestCleanupMu.RUnlock()

	batch := b.db.NewIndexedBatch()
	defer batch.Close()

	metas := make(map[Slot]*SlotMeta)
	written := 0
	for _, s := range shreds {
		if lowest > 0 && s.Slot <= lowest {
			continue
		}

		value, err := b.codec.encode(s.Payload)
		if err != nil {
			return 0, err
		}

		if !s.Data {
			if err := batch.Set(shredKey(familyCodeShred, s.Slot, s.Index), value, nil); err != nil {
				return 0, err
			}
			written++
			continue
		}

		meta, err := b.loadMeta(batch, metas, s)
		if err != nil {
			return 0, err
		}
		if err := batch.Set(shredKey(familyDataShred, s.Slot, s.Index), value, nil); err != nil {
			return 0, err
		}
		written++

		if s.Index+1 > meta.Received {
			meta.Received = s.Index + 1
		}
		if s.LastInSlot {
			meta.LastIndex = s.Index
			meta.HasLastIndex = true
		}
		for {
			_, closer, err := batch.Get(shredKey(familyDataShred, s.Slot, meta.Consumed))
			if errors.Is(err, pebble.ErrNotFound) {
				break
			}
			if err != nil {
				return 0, err
			}
			closer.Close()
			meta.Consumed++
		}
	}

	for slot, meta := range metas {
		value, err := json.Marshal(meta)
		if err != nil {
			return 0, fmt.Errorf("encode slot meta %d: %w", slot, err)
		}
		if err := batch.Set(slotKey(familyMeta, slot), value, nil); err != nil {
			return 0, err
		}
	}

	if err := batch.Commit(b.sync); err != nil {
		return 0, err
	}
	b.metrics.ObserveInsert(time.Since(start), written)
	return written, nil
}

// loadMeta returns the working copy of a slot's metadata, reading it from the
// batch on first touch.
func (b *Blockstore) loadMeta(batch *pebble.Batch, metas map[Slot]*SlotMeta, s Shred) (*SlotMeta, error) {
	if meta, ok := metas[s.Slot]; ok {
		return meta, nil
	}
	meta := &SlotMeta{
		Slot:                  s.Slot,
		ParentSlot:            s.ParentSlot,
		FirstShredTimestampMs: b.now().UnixMilli(),
	}
	val, closer, err := batch.Get(slotKey(familyMeta, s.Slot))
	switch {
	case errors.Is(err, pebble.ErrNotFound):
	case err != nil:
		return nil, err
	default:
		decodeErr := json.Unmarshal(val, meta)
		closer.Close()
		if decodeErr != nil {
			return nil, fmt.Errorf("decode slot meta %d: %w", s.Slot, decodeErr)
		}
	}
	metas[s.Slot] = meta
	return meta, nil
}

// Meta returns the metadata for a slot.
func (b *Blockstore) Meta(slot Slot) (SlotMeta, error) {
	val, err := b.get(slotKey(familyMeta, slot))
	if err != nil {
		return SlotMeta{}, err
	}
	var meta SlotMeta
	if err := json.Unmarshal(val, &meta); err != nil {
		return SlotMeta{}, fmt.Errorf("decode slot meta %d: %w", slot, err)
	}
	return meta, nil
}

// DataShred returns the payload of a data shred.
func (b *Blockstore) DataShred(slot Slot, index uint64) ([]byte, error) {
	b.lowestCleanupMu.RLock()
	defer b.lowestCleanupMu.RUnlock()
	if err := b.checkLowestCleanupSlot(slot); err != nil {
		return nil, err
	}
	return b.shred(shredKey(familyDataShred, slot, index))
}

// CodeShred returns the payload of a coding shred.
func (b *Blockstore) CodeShred(slot Slot, index uint64) ([]byte, error) {
	b.lowestCleanupMu.RLock()
	defer b.lowestCleanupMu.RUnlock()
	if err := b.checkLowestCleanupSlot(slot); err != nil {
		return nil, err
	}
	return b.shred(shredKey(familyCodeShred, slot, index))
}

func (b *Blockstore) shred(key []byte) ([]byte, error) {
	stored, err := b.get(key)
	if err != nil {
		return nil, err
	}
	return b.codec.decode(stored)
}

// MakeManySlotShreds builds numSlots consecutive slots starting at start,
// each holding shredsPerSlot data shreds with the last one flagged.
func MakeManySlotShreds(start Slot, numSlots, shredsPerSlot uint64) []Shred {
	shreds := make([]Shred, 0, numSlots*shredsPerSlot)
	for slot := start; slot < start+numSlots; slot++ {
		parent := Slot(0)
		if slot > 0 {
			parent = slot - 1
		}
		for i := uint64(0); i < shredsPerSlot; i++ {
			payload := make([]byte, 16)
			binary.BigEndian.PutUint64(payload[:8], slot)
			binary.BigEndian.PutUint64(payload[8:], i)
			shreds = append(shreds, Shred{
				Slot:       slot,
				ParentSlot: parent,
				Index:      i,
				Data:       true,
				LastInSlot: i == shredsPerSlot-1,
				Payload:    payload,
			})
		}
	}
	return shreds
}
