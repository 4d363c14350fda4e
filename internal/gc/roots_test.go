package gc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dray-io/ledgerd/internal/blockstore"
)

func TestReceiveLatestTimesOut(t *testing.T) {
	c := NewRootCoalescer(make(chan blockstore.Slot))

	start := time.Now()
	_, err := c.ReceiveLatest(20 * time.Millisecond)
	assert.ErrorIs(t, err, ErrRootTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestReceiveLatestCoalesces(t *testing.T) {
	roots := make(chan blockstore.Slot, 8)
	for _, r := range []blockstore.Slot{3, 4, 9, 12} {
		roots <- r
	}
	c := NewRootCoalescer(roots)

	root, err := c.ReceiveLatest(time.Second)
	require.NoError(t, err)
	assert.Equal(t, blockstore.Slot(12), root)
	assert.Empty(t, roots)
}

func TestReceiveLatestSingle(t *testing.T) {
	roots := make(chan blockstore.Slot, 1)
	roots <- 7
	c := NewRootCoalescer(roots)

	root, err := c.ReceiveLatest(time.Second)
	require.NoError(t, err)
	assert.Equal(t, blockstore.Slot(7), root)
}

func TestReceiveLatestDisconnected(t *testing.T) {
	roots := make(chan blockstore.Slot)
	close(roots)
	c := NewRootCoalescer(roots)

	_, err := c.ReceiveLatest(time.Second)
	assert.ErrorIs(t, err, ErrRootsDisconnected)

	_, err = c.ReceiveLatest(time.Second)
	assert.ErrorIs(t, err, ErrRootsDisconnected)
}

func TestReceiveLatestCloseDuringDrain(t *testing.T) {
	roots := make(chan blockstore.Slot, 4)
	roots <- 1
	roots <- 2
	close(roots)
	c := NewRootCoalescer(roots)

	root, err := c.ReceiveLatest(time.Second)
	require.NoError(t, err)
	assert.Equal(t, blockstore.Slot(2), root)

	_, err = c.ReceiveLatest(time.Second)
	assert.ErrorIs(t, err, ErrRootsDisconnected)
}

func TestDrain(t *testing.T) {
	roots := make(chan blockstore.Slot, 4)
	c := NewRootCoalescer(roots)
	assert.Zero(t, c.Drain())

	roots <- 1
	roots <- 2
	roots <- 3
	assert.Equal(t, 3, c.Drain())
	assert.Empty(t, roots)
}
