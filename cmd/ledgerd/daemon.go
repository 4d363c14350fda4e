package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dray-io/ledgerd/internal/blockstore"
	"github.com/dray-io/ledgerd/internal/config"
	"github.com/dray-io/ledgerd/internal/gc"
	"github.com/dray-io/ledgerd/internal/logging"
	"github.com/dray-io/ledgerd/internal/metrics"
	"github.com/dray-io/ledgerd/internal/server"
)

// DaemonOptions configures a Daemon.
type DaemonOptions struct {
	Config    *config.Config
	Logger    *logging.Logger
	Version   string
	GitCommit string
	BuildTime string

	// InMemory opens the blockstore on an in-memory filesystem.
	InMemory bool
}

// Daemon owns the blockstore, the root watcher, the cleanup service and the
// health server.
type Daemon struct {
	opts         DaemonOptions
	logger       *logging.Logger
	registry     *prometheus.Registry
	store        *blockstore.Blockstore
	watcher      *RootWatcher
	cleanup      *gc.CleanupService
	healthServer *server.HealthServer

	mu        sync.Mutex
	started   bool
	stopCh    chan struct{}
	stoppedCh chan struct{}
}

// NewDaemon creates a daemon. Nothing is opened until Start.
func NewDaemon(opts DaemonOptions) (*Daemon, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("daemon: config is required")
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = logging.Global()
	}
	return &Daemon{
		opts:      opts,
		logger:    opts.Logger,
		registry:  prometheus.NewRegistry(),
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}, nil
}

// Start opens the ledger and starts every component. It blocks until
// Shutdown is called or the cleanup service exits on an error, which is
// returned.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return fmt.Errorf("daemon already started")
	}
	d.started = true
	d.mu.Unlock()
	defer close(d.stoppedCh)

	cfg := d.opts.Config

	d.logger.Infof("starting ledgerd", map[string]any{
		"version": d.opts.Version,
		"path":    cfg.Ledger.Path,
	})

	d.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	compression, err := blockstore.ParseCompression(cfg.Ledger.Compression)
	if err != nil {
		return err
	}
	store, err := blockstore.Open(blockstore.Options{
		Path:               cfg.Ledger.Path,
		InMemory:           d.opts.InMemory,
		Fsync:              blockstore.ParseFsyncMode(cfg.Ledger.Fsync),
		Compression:        compression,
		CompactionInterval: cfg.Ledger.CompactionInterval,
		Metrics:            metrics.NewBlockstoreMetricsWithRegistry(d.registry),
		Logger:             d.logger.WithComponent("blockstore"),
	})
	if err != nil {
		return fmt.Errorf("failed to open blockstore: %w", err)
	}
	d.mu.Lock()
	d.store = store
	d.mu.Unlock()

	healthServer := server.NewHealthServer(cfg.Observability.MetricsAddr, d.logger)
	healthServer.RegisterHandler("/metrics", promhttp.HandlerFor(d.registry, promhttp.HandlerOpts{}))
	healthServer.RegisterReadinessCheck(store)

	d.watcher = NewRootWatcher(store, cfg.Cleanup.RootPollInterval, d.logger)
	healthServer.RegisterWorker("root_watcher", d.watcher)

	if cfg.Cleanup.Enabled {
		d.cleanup = gc.NewCleanupService(store, d.watcher.Roots(), gc.CleanupServiceConfig{
			MaxLedgerShreds: cfg.Cleanup.MaxLedgerShreds,
			PurgeInterval:   cfg.Cleanup.PurgeInterval,
			PollInterval:    cfg.Cleanup.PollInterval,
		}).
			WithLogger(d.logger.WithComponent("cleanup")).
			WithMetrics(metrics.NewCleanupMetricsWithRegistry(d.registry))
		healthServer.RegisterWorker("cleanup", d.cleanup)
	} else {
		d.logger.Warn("ledger cleanup disabled; the ledger will grow without bound")
	}

	d.watcher.Start()
	cleanupDone := make(chan struct{})
	if d.cleanup != nil {
		d.cleanup.Start(ctx)
		go func() {
			_ = d.cleanup.Wait()
			close(cleanupDone)
		}()
	}

	if err := healthServer.Start(); err != nil {
		return fmt.Errorf("failed to start health server: %w", err)
	}
	d.mu.Lock()
	d.healthServer = healthServer
	d.mu.Unlock()

	d.logger.Info("ledgerd started")

	select {
	case <-d.stopCh:
		return nil
	case <-cleanupDone:
		return d.cleanup.Err()
	}
}

// Store returns the open blockstore, or nil before Start.
func (d *Daemon) Store() *blockstore.Blockstore {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.store
}

// HealthServerAddr returns the address the health server is listening on,
// or empty if not yet listening.
func (d *Daemon) HealthServerAddr() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.healthServer == nil {
		return ""
	}
	return d.healthServer.Addr()
}

// Shutdown stops every component and closes the ledger. An in-flight purge
// is allowed to finish unless ctx expires first.
func (d *Daemon) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return nil
	}
	healthServer, store := d.healthServer, d.store
	d.mu.Unlock()

	d.logger.Info("shutting down ledgerd")

	if healthServer != nil {
		healthServer.SetShuttingDown()
	}

	select {
	case <-d.stopCh:
	default:
		close(d.stopCh)
	}

	select {
	case <-d.stoppedCh:
	case <-ctx.Done():
		d.logger.Warn("shutdown context cancelled, forcing stop")
	}

	if d.watcher != nil {
		d.watcher.Stop()
	}
	if d.cleanup != nil {
		stopped := make(chan struct{})
		go func() {
			d.cleanup.Stop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-ctx.Done():
			return fmt.Errorf("cleanup service did not stop: %w", ctx.Err())
		}
	}

	if healthServer != nil {
		if err := healthServer.Close(); err != nil {
			d.logger.Warnf("error closing health server", map[string]any{"error": err.Error()})
		}
	}

	if store != nil {
		if err := store.Close(); err != nil {
			return fmt.Errorf("failed to close blockstore: %w", err)
		}
	}

	d.logger.Info("ledgerd shutdown complete")
	return nil
}
