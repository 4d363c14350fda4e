package gc

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dray-io/ledgerd/internal/blockstore"
	"github.com/dray-io/ledgerd/internal/config"
	"github.com/dray-io/ledgerd/internal/logging"
	"github.com/dray-io/ledgerd/internal/metrics"
)

// Ledger is the storage surface the cleanup service drives.
type Ledger interface {
	SlotMetaSource
	Purger
	StorageSizer
}

// CleanupServiceConfig configures the cleanup service.
type CleanupServiceConfig struct {
	// MaxLedgerShreds is the approximate number of newest shreds to keep.
	// Default: 200000000
	MaxLedgerShreds uint64

	// PurgeInterval is the minimum root advance between purges, in slots.
	// Default: 512
	PurgeInterval uint64

	// PollInterval bounds each wait for a root notification.
	// Default: 1s
	PollInterval time.Duration
}

// DefaultCleanupServiceConfig returns default configuration.
func DefaultCleanupServiceConfig() CleanupServiceConfig {
	return CleanupServiceConfig{
		MaxLedgerShreds: config.DefaultMaxLedgerShreds,
		PurgeInterval:   config.DefaultPurgeInterval,
		PollInterval:    time.Second,
	}
}

// CleanupService keeps the ledger under a shred cap by purging the oldest
// slots as new roots arrive.
type CleanupService struct {
	ledger   Ledger
	roots    *RootCoalescer
	config   CleanupServiceConfig
	logger   *logging.Logger
	metrics  *metrics.CleanupMetrics
	reporter *DiskReporter

	lastPurgeSlot atomic.Uint64

	mu       sync.Mutex
	running  bool
	err      error
	stopCh   chan struct{}
	stopOnce *sync.Once
	doneCh   chan struct{}
}

// NewCleanupService creates a cleanup service consuming roots. It does not
// start the background loop.
func NewCleanupService(ledger Ledger, roots <-chan blockstore.Slot, cfg CleanupServiceConfig) *CleanupService {
	defaults := DefaultCleanupServiceConfig()
	if cfg.MaxLedgerShreds == 0 {
		cfg.MaxLedgerShreds = defaults.MaxLedgerShreds
	}
	if cfg.PurgeInterval == 0 {
		cfg.PurgeInterval = defaults.PurgeInterval
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaults.PollInterval
	}
	logger := logging.Global().WithComponent("cleanup")
	return &CleanupService{
		ledger:   ledger,
		roots:    NewRootCoalescer(roots),
		config:   cfg,
		logger:   logger,
		reporter: NewDiskReporter(logger, nil),
	}
}

// WithLogger sets the logger. Call before Start.
func (s *CleanupService) WithLogger(logger *logging.Logger) *CleanupService {
	s.logger = logger
	s.reporter = NewDiskReporter(logger, s.metrics)
	return s
}

// WithMetrics sets the metrics sink. Call before Start.
func (s *CleanupService) WithMetrics(m *metrics.CleanupMetrics) *CleanupService {
	s.metrics = m
	s.reporter = NewDiskReporter(s.logger, m)
	return s
}

// LastPurgeSlot returns the root at which the last purge evaluation ran.
func (s *CleanupService) LastPurgeSlot() blockstore.Slot {
	return s.lastPurgeSlot.Load()
}

// RunCycle waits for the next root and, if it has advanced far enough past
// the last purge, evaluates retention and purges. When a purge is started
// RunCycle returns only after it has finished. ErrRootTimeout and
// ErrRootsDisconnected are returned unwrapped.
func (s *CleanupService) RunCycle(ctx context.Context) error {
	root, err := s.roots.ReceiveLatest(s.config.PollInterval)
	if err != nil {
		return err
	}

	last := s.lastPurgeSlot.Load()
	if root <= last || root-last <= s.config.PurgeInterval {
		s.recordCycle(metrics.OutcomeSkipped)
		return nil
	}

	id := logging.NewCorrelationID()
	ctx = logging.WithCorrelationIDCtx(ctx, id)
	logger := logging.FromCtx(ctx, s.logger)

	pre := MeasureDiskUsage(s.ledger)
	if pre.OK() {
		logger.Infof("cleanup cycle started", map[string]any{
			"root":                 root,
			"lastPurgeSlot":        last,
			"disk_utilization_pre": pre.Bytes,
		})
	} else {
		logger.Warnf("failed to measure disk utilization", map[string]any{"error": pre.Err.Error()})
	}

	// Advance before evaluating so a crash mid-purge does not re-run the
	// same root.
	s.lastPurgeSlot.Store(root)
	if s.metrics != nil {
		s.metrics.RecordLastPurgeSlot(root)
	}

	eval, err := NewRetentionEvaluator(s.ledger, logger).Evaluate(root, s.config.MaxLedgerShreds)
	if err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.RecordScan(eval.ScanDuration, eval.TotalShreds)
	}

	outcome := metrics.OutcomeNoPurge
	if eval.ShouldPurge {
		outcome = metrics.OutcomePurged
		job := startPurge(s.ledger, eval.LowestCleanupSlot, logger)
		drained := s.drainWhilePurging(job, logger)
		if s.metrics != nil {
			s.metrics.RecordPurge(job.elapsed, eval.LowestCleanupSlot)
		}
		logger.Debugf("roots drained during purge", map[string]any{"count": drained})
	}

	post := MeasureDiskUsage(s.ledger)
	s.reporter.withLogger(logger).Report(pre, post, eval.TotalShreds)
	s.recordCycle(outcome)
	return nil
}

// drainWhilePurging keeps the root feed from backing up while job runs and
// returns the number of notifications discarded.
func (s *CleanupService) drainWhilePurging(job *purgeJob, logger *logging.Logger) int {
	drained := 0
	for {
		select {
		case <-job.Done():
			return drained + s.roots.Drain()
		default:
		}

		_, err := s.roots.ReceiveLatest(s.config.PollInterval)
		switch {
		case err == nil:
			drained++
		case errors.Is(err, ErrRootsDisconnected):
			logger.Debug("root feed disconnected while purging")
			select {
			case <-job.Done():
			case <-time.After(s.config.PollInterval):
			}
		}
	}
}

func (s *CleanupService) recordCycle(outcome string) {
	if s.metrics != nil {
		s.metrics.RecordCycle(outcome)
	}
}

// Start begins the cleanup loop. It is a no-op if the loop is running.
func (s *CleanupService) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.err = nil
	s.stopCh = make(chan struct{})
	s.stopOnce = &sync.Once{}
	s.doneCh = make(chan struct{})
	stopCh, doneCh := s.stopCh, s.doneCh
	s.mu.Unlock()

	go s.run(ctx, stopCh, doneCh)
}

// Stop signals the loop to exit and waits for it. A purge in flight is
// allowed to finish first.
func (s *CleanupService) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	stopCh, once, doneCh := s.stopCh, s.stopOnce, s.doneCh
	s.mu.Unlock()

	once.Do(func() { close(stopCh) })
	<-doneCh
}

// Wait blocks until the loop exits and returns the error that ended it, if
// any. It returns immediately if the loop was never started.
func (s *CleanupService) Wait() error {
	s.mu.Lock()
	doneCh := s.doneCh
	s.mu.Unlock()
	if doneCh == nil {
		return nil
	}
	<-doneCh
	return s.Err()
}

// Running reports whether the loop is running.
func (s *CleanupService) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Err returns the error that stopped the loop, if any.
func (s *CleanupService) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *CleanupService) run(ctx context.Context, stopCh, doneCh chan struct{}) {
	var exitErr error
	defer func() {
		s.mu.Lock()
		s.running = false
		s.err = exitErr
		s.mu.Unlock()
		close(doneCh)
	}()

	s.logger.Infof("cleanup service started", map[string]any{
		"maxLedgerShreds": s.config.MaxLedgerShreds,
		"purgeInterval":   s.config.PurgeInterval,
	})

	for {
		select {
		case <-stopCh:
			s.logger.Info("cleanup service stopped")
			return
		case <-ctx.Done():
			s.logger.Info("cleanup service stopped")
			return
		default:
		}

		err := s.RunCycle(ctx)
		switch {
		case err == nil, errors.Is(err, ErrRootTimeout):
		case errors.Is(err, ErrRootsDisconnected):
			s.logger.Info("root feed disconnected, cleanup service exiting")
			return
		default:
			s.logger.Errorf("cleanup cycle failed", map[string]any{"error": err.Error()})
			exitErr = err
			return
		}
	}
}
