package blockstore

import (
	"encoding/binary"
	"math"
)

// family is the one-byte column family prefix.
type family byte

const (
	familyMeta family = iota + 1
	familyDataShred
	familyCodeShred
	familyRoot
	familyDeadSlot
	familyTransactionStatus
	familyAddressSignatures
)

func (f family) String() string {
	switch f {
	case familyMeta:
		return "meta"
	case familyDataShred:
		return "data_shred"
	case familyCodeShred:
		return "code_shred"
	case familyRoot:
		return "root"
	case familyDeadSlot:
		return "dead_slot"
	case familyTransactionStatus:
		return "transaction_status"
	case familyAddressSignatures:
		return "address_signatures"
	default:
		return "unknown"
	}
}

// primaryFamilies are range-deleted by every purge.
var primaryFamilies = []family{
	familyMeta,
	familyDataShred,
	familyCodeShred,
	familyRoot,
	familyDeadSlot,
}

// auxiliaryFamilies are left to CompactExpired under PurgeCompactionFilter.
var auxiliaryFamilies = []family{
	familyTransactionStatus,
	familyAddressSignatures,
}

// slotKey returns <family><slot>.
func slotKey(f family, slot Slot) []byte {
	key := make([]byte, 9)
	key[0] = byte(f)
	binary.BigEndian.PutUint64(key[1:], slot)
	return key
}

// shredKey returns <family><slot><index>.
func shredKey(f family, slot Slot, index uint64) []byte {
	key := make([]byte, 17)
	key[0] = byte(f)
	binary.BigEndian.PutUint64(key[1:9], slot)
	binary.BigEndian.PutUint64(key[9:], index)
	return key
}

// suffixKey returns <family><slot><suffix>.
func suffixKey(f family, slot Slot, suffix []byte) []byte {
	key := make([]byte, 9, 9+len(suffix))
	key[0] = byte(f)
	binary.BigEndian.PutUint64(key[1:], slot)
	return append(key, suffix...)
}

// slotRange returns [start, end) keys covering slots from..to inclusive.
func slotRange(f family, from, to Slot) (start, end []byte) {
	start = slotKey(f, from)
	if to == math.MaxUint64 {
		return start, familyUpperBound(f)
	}
	return start, slotKey(f, to+1)
}

func familyLowerBound(f family) []byte {
	return []byte{byte(f)}
}

func familyUpperBound(f family) []byte {
	return []byte{byte(f) + 1}
}

// slotFromKey decodes the slot of any family key.
func slotFromKey(key []byte) (Slot, bool) {
	if len(key) < 9 {
		return 0, false
	}
	return binary.BigEndian.Uint64(key[1:9]), true
}
