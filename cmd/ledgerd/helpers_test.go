package main

import (
	"io"
	"testing"
	"time"

	"github.com/dray-io/ledgerd/internal/blockstore"
	"github.com/dray-io/ledgerd/internal/config"
	"github.com/dray-io/ledgerd/internal/logging"
)

func quietLogger() *logging.Logger {
	return logging.New(logging.Config{Level: logging.LevelError, Output: io.Discard})
}

func openMemStore(t *testing.T) *blockstore.Blockstore {
	t.Helper()
	store, err := blockstore.Open(blockstore.Options{InMemory: true, Logger: quietLogger()})
	if err != nil {
		t.Fatalf("open blockstore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// testConfig returns a config with an on-disk ledger in a temp dir and an
// ephemeral health port.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Ledger.Path = t.TempDir()
	cfg.Ledger.CompactionInterval = 0
	cfg.Observability.MetricsAddr = "127.0.0.1:0"
	cfg.Cleanup.PollInterval = 10 * time.Millisecond
	cfg.Cleanup.RootPollInterval = 10 * time.Millisecond
	return cfg
}

// waitForHealthServer waits for the daemon's health server to be listening.
func waitForHealthServer(t *testing.T, d *Daemon, errCh <-chan error) string {
	t.Helper()

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case err := <-errCh:
			t.Fatalf("daemon failed to start: %v", err)
		default:
		}

		if addr := d.HealthServerAddr(); addr != "" {
			return addr
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("timeout waiting for health server to start")
	return ""
}
