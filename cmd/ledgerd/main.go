package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dray-io/ledgerd/internal/config"
	"github.com/dray-io/ledgerd/internal/logging"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "--version" || os.Args[1] == "-version") {
		fmt.Printf("ledgerd version %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	subcommand := os.Args[1]
	switch subcommand {
	case "run":
		runDaemon(os.Args[2:])
	case "inspect":
		runInspect(os.Args[2:])
	case "ingest":
		runIngest(os.Args[2:])
	case "export":
		runExport(os.Args[2:])
	case "version":
		fmt.Printf("ledgerd version %s (built %s, commit %s)\n", version, buildTime, gitCommit)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", subcommand)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Usage: ledgerd <command> [options]

Commands:
  run         Open the ledger and run the cleanup service
  inspect     Summarize a ledger and dry-run the retention policy
  ingest      Append synthetic slots to a ledger
  export      Write slot metadata to a Parquet file
  version     Print version information

Run 'ledgerd <command> --help' for more information on a command.`)
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromPath(path)
	}
	return config.Load()
}

func runDaemon(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	ledgerPath := fs.String("ledger", "", "Override ledger directory")
	healthAddr := fs.String("health-addr", "", "Override health endpoint address (e.g., :9090)")
	maxShreds := fs.Uint64("max-ledger-shreds", 0, "Override the retention cap")
	noCleanup := fs.Bool("no-cleanup", false, "Disable the cleanup service")

	fs.Usage = func() {
		fmt.Println(`Usage: ledgerd run [options]

Open the ledger, watch for new roots and purge the oldest slots once the
ledger exceeds its shred cap.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if *ledgerPath != "" {
		cfg.Ledger.Path = *ledgerPath
	}
	if *healthAddr != "" {
		cfg.Observability.MetricsAddr = *healthAddr
	}
	if *maxShreds > 0 {
		cfg.Cleanup.MaxLedgerShreds = *maxShreds
	}
	if *noCleanup {
		cfg.Cleanup.Enabled = false
	}

	logger := logging.Configure(cfg.Observability.LogLevel, cfg.Observability.LogFormat)

	daemon, err := NewDaemon(DaemonOptions{
		Config:    cfg,
		Logger:    logger,
		Version:   version,
		GitCommit: gitCommit,
		BuildTime: buildTime,
	})
	if err != nil {
		logger.Errorf("failed to create daemon", map[string]any{"error": err.Error()})
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- daemon.Start(ctx)
	}()

	exitCode := 0
	select {
	case sig := <-sigCh:
		logger.Infof("received shutdown signal", map[string]any{"signal": sig.String()})
	case err := <-errCh:
		if err != nil {
			logger.Errorf("daemon error", map[string]any{"error": err.Error()})
			exitCode = 1
		}
	}

	logger.Info("initiating graceful shutdown")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := daemon.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("shutdown error", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}
