package main

import (
	"sync"
	"time"

	"github.com/dray-io/ledgerd/internal/blockstore"
	"github.com/dray-io/ledgerd/internal/logging"
)

// RootSource reports the highest rooted slot.
type RootSource interface {
	MaxRoot() (blockstore.Slot, bool, error)
}

// RootWatcher polls a RootSource and forwards each new highest root to a
// channel. The channel is closed when the watcher stops, which disconnects
// the cleanup service.
type RootWatcher struct {
	source   RootSource
	interval time.Duration
	logger   *logging.Logger
	roots    chan blockstore.Slot

	lastRoot blockstore.Slot
	seen     bool

	mu      sync.Mutex
	running bool
	started bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewRootWatcher creates a watcher polling source every interval.
func NewRootWatcher(source RootSource, interval time.Duration, logger *logging.Logger) *RootWatcher {
	if interval <= 0 {
		interval = 400 * time.Millisecond
	}
	if logger == nil {
		logger = logging.Global()
	}
	return &RootWatcher{
		source:   source,
		interval: interval,
		logger:   logger.WithComponent("root_watcher"),
		roots:    make(chan blockstore.Slot, 64),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Roots returns the notification channel.
func (w *RootWatcher) Roots() <-chan blockstore.Slot {
	return w.roots
}

// Start begins polling. A watcher can be started once.
func (w *RootWatcher) Start() {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.running = true
	w.mu.Unlock()

	go w.run()
}

// Stop halts polling, closes the root channel and waits for the loop to exit.
func (w *RootWatcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stopCh)
	w.mu.Unlock()

	<-w.doneCh
}

// Running reports whether the watcher is polling.
func (w *RootWatcher) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *RootWatcher) run() {
	defer close(w.doneCh)
	defer close(w.roots)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if !w.poll() {
			return
		}
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
		}
	}
}

// poll forwards the current max root if it advanced. It returns false if
// the watcher was stopped while blocked on a full channel.
func (w *RootWatcher) poll() bool {
	root, ok, err := w.source.MaxRoot()
	if err != nil {
		w.logger.Warnf("failed to read max root", map[string]any{"error": err.Error()})
		return true
	}
	if !ok || (w.seen && root <= w.lastRoot) {
		return true
	}

	select {
	case w.roots <- root:
		w.lastRoot = root
		w.seen = true
		return true
	case <-w.stopCh:
		return false
	}
}
