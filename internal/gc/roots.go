package gc

import (
	"errors"
	"time"

	"github.com/dray-io/ledgerd/internal/blockstore"
)

var (
	// ErrRootTimeout is returned when no root arrived within the wait window.
	ErrRootTimeout = errors.New("gc: timed out waiting for root")

	// ErrRootsDisconnected is returned once the root feed is closed.
	ErrRootsDisconnected = errors.New("gc: root feed disconnected")
)

// RootCoalescer collapses bursts of root notifications into the newest one.
// It is not safe for concurrent use; the cleanup goroutine is its only caller.
type RootCoalescer struct {
	roots  <-chan blockstore.Slot
	closed bool
}

// NewRootCoalescer wraps a root notification channel.
func NewRootCoalescer(roots <-chan blockstore.Slot) *RootCoalescer {
	return &RootCoalescer{roots: roots}
}

// ReceiveLatest waits up to timeout for a root, then drains every buffered
// notification and returns the last one. Roots are non-decreasing, so the
// last is also the highest.
func (c *RootCoalescer) ReceiveLatest(timeout time.Duration) (blockstore.Slot, error) {
	if c.closed {
		return 0, ErrRootsDisconnected
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var root blockstore.Slot
	select {
	case r, ok := <-c.roots:
		if !ok {
			c.closed = true
			return 0, ErrRootsDisconnected
		}
		root = r
	case <-timer.C:
		return 0, ErrRootTimeout
	}

	if latest, n := c.drain(); n > 0 {
		root = latest
	}
	return root, nil
}

// Drain consumes every buffered notification without blocking and returns
// how many were consumed.
func (c *RootCoalescer) Drain() int {
	_, n := c.drain()
	return n
}

func (c *RootCoalescer) drain() (blockstore.Slot, int) {
	var latest blockstore.Slot
	n := 0
	for !c.closed {
		select {
		case r, ok := <-c.roots:
			if !ok {
				c.closed = true
				return latest, n
			}
			latest = r
			n++
		default:
			return latest, n
		}
	}
	return latest, n
}
