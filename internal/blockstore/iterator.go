package blockstore

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"
)

// SlotMetaIterator lazily yields slot metadata in ascending slot order.
//
//	it, err := store.SlotMetaIterator(0)
//	if err != nil { ... }
//	defer it.Close()
//	for it.Next() {
//	    slot, meta := it.Slot(), it.Meta()
//	}
//	if err := it.Err(); err != nil { ... }
type SlotMetaIterator struct {
	iter    *pebble.Iterator
	started bool
	slot    Slot
	meta    SlotMeta
	err     error
}

// SlotMetaIterator returns an iterator over slot metadata from start onwards.
func (b *Blockstore) SlotMetaIterator(start Slot) (*SlotMetaIterator, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}
	iter, err := b.db.NewIter(&pebble.IterOptions{
		LowerBound: slotKey(familyMeta, start),
		UpperBound: familyUpperBound(familyMeta),
	})
	if err != nil {
		return nil, fmt.Errorf("blockstore: slot meta iterator: %w", err)
	}
	return &SlotMetaIterator{iter: iter}, nil
}

// Next advances to the next slot. It returns false when the iterator is
// exhausted or an error occurred.
func (it *SlotMetaIterator) Next() bool {
	if it.err != nil {
		return false
	}
	var ok bool
	if !it.started {
		it.started = true
		ok = it.iter.First()
	} else {
		ok = it.iter.Next()
	}
	if !ok {
		it.err = it.iter.Error()
		return false
	}

	slot, valid := slotFromKey(it.iter.Key())
	if !valid {
		it.err = fmt.Errorf("blockstore: malformed slot meta key %x", it.iter.Key())
		return false
	}
	var meta SlotMeta
	if err := json.Unmarshal(it.iter.Value(), &meta); err != nil {
		it.err = fmt.Errorf("decode slot meta %d: %w", slot, err)
		return false
	}
	it.slot = slot
	it.meta = meta
	return true
}

// Slot returns the current slot.
func (it *SlotMetaIterator) Slot() Slot { return it.slot }

// Meta returns the current slot's metadata.
func (it *SlotMetaIterator) Meta() SlotMeta { return it.meta }

// Err returns the first error encountered during iteration.
func (it *SlotMetaIterator) Err() error { return it.err }

// Close releases the underlying iterator.
func (it *SlotMetaIterator) Close() error {
	return it.iter.Close()
}
