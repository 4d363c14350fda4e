package blockstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/cockroachdb/pebble"
)

// TransactionStatus is the execution record of a transaction in a slot.
type TransactionStatus struct {
	Signature string `json:"signature"`
	Fee       uint64 `json:"fee"`
	Err       string `json:"err,omitempty"`
}

// AddressSignature links an account address to a transaction signature.
type AddressSignature struct {
	Slot      Slot   `json:"slot"`
	Address   string `json:"address"`
	Signature string `json:"signature"`
	Writable  bool   `json:"writable"`
}

// SetRoots marks the given slots as rooted.
func (b *Blockstore) SetRoots(slots ...Slot) error {
	if b.closed.Load() {
		return ErrClosed
	}
	batch := b.db.NewBatch()
	defer batch.Close()
	for _, slot := range slots {
		if err := batch.Set(slotKey(familyRoot, slot), []byte{1}, nil); err != nil {
			return err
		}
	}
	return batch.Commit(b.sync)
}

// IsRoot reports whether a slot is rooted.
func (b *Blockstore) IsRoot(slot Slot) (bool, error) {
	return b.exists(slotKey(familyRoot, slot))
}

// MaxRoot returns the highest rooted slot, or false when nothing is rooted.
func (b *Blockstore) MaxRoot() (Slot, bool, error) {
	if b.closed.Load() {
		return 0, false, ErrClosed
	}
	iter, err := b.db.NewIter(&pebble.IterOptions{
		LowerBound: familyLowerBound(familyRoot),
		UpperBound: familyUpperBound(familyRoot),
	})
	if err != nil {
		return 0, false, err
	}
	defer iter.Close()
	if !iter.Last() {
		return 0, false, iter.Error()
	}
	slot, ok := slotFromKey(iter.Key())
	return slot, ok, nil
}

// MarkDead flags a slot as dead.
func (b *Blockstore) MarkDead(slot Slot) error {
	return b.set(slotKey(familyDeadSlot, slot), []byte{1})
}

// IsDead reports whether a slot has been flagged dead.
func (b *Blockstore) IsDead(slot Slot) (bool, error) {
	return b.exists(slotKey(familyDeadSlot, slot))
}

// WriteTransactionStatus stores the status of a transaction in a slot.
func (b *Blockstore) WriteTransactionStatus(slot Slot, status TransactionStatus) error {
	value, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("encode transaction status: %w", err)
	}
	return b.set(suffixKey(familyTransactionStatus, slot, []byte(status.Signature)), value)
}

// TransactionStatus returns the status of a transaction. Rows at or below
// MaxExpiredSlot are reported as not found even before they are compacted.
func (b *Blockstore) TransactionStatus(slot Slot, signature string) (TransactionStatus, error) {
	if expired := b.MaxExpiredSlot(); expired > 0 && slot <= expired {
		return TransactionStatus{}, ErrNotFound
	}
	val, err := b.get(suffixKey(familyTransactionStatus, slot, []byte(signature)))
	if err != nil {
		return TransactionStatus{}, err
	}
	var status TransactionStatus
	if err := json.Unmarshal(val, &status); err != nil {
		return TransactionStatus{}, fmt.Errorf("decode transaction status: %w", err)
	}
	return status, nil
}

// WriteAddressSignature stores an address-to-signature link.
func (b *Blockstore) WriteAddressSignature(sig AddressSignature) error {
	value, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("encode address signature: %w", err)
	}
	suffix := append([]byte(sig.Address+"/"), sig.Signature...)
	return b.set(suffixKey(familyAddressSignatures, sig.Slot, suffix), value)
}

// AddressSignatures returns the signatures recorded for an address in
// ascending slot order, skipping expired rows.
func (b *Blockstore) AddressSignatures(address string) ([]AddressSignature, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}
	expired := b.MaxExpiredSlot()
	lower := familyLowerBound(familyAddressSignatures)
	if expired == math.MaxUint64 {
		return nil, nil
	}
	if expired > 0 {
		lower = slotKey(familyAddressSignatures, expired+1)
	}
	iter, err := b.db.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: familyUpperBound(familyAddressSignatures),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var result []AddressSignature
	for ok := iter.First(); ok; ok = iter.Next() {
		var sig AddressSignature
		if err := json.Unmarshal(iter.Value(), &sig); err != nil {
			continue
		}
		if sig.Address == address {
			result = append(result, sig)
		}
	}
	return result, iter.Error()
}

func (b *Blockstore) exists(key []byte) (bool, error) {
	_, err := b.get(key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}
