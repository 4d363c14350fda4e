package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/dray-io/ledgerd/internal/blockstore"
	"github.com/dray-io/ledgerd/internal/logging"
)

// IngestOptions controls synthetic ledger generation.
type IngestOptions struct {
	Slots         uint64
	ShredsPerSlot uint64
	// BatchSlots is the number of slots written per InsertShreds call.
	BatchSlots uint64
	// RootEvery roots every Nth slot. Zero roots nothing.
	RootEvery uint64
}

// IngestResult reports what was written.
type IngestResult struct {
	FirstSlot blockstore.Slot `json:"firstSlot"`
	LastSlot  blockstore.Slot `json:"lastSlot"`
	Shreds    int             `json:"shreds"`
	Roots     int             `json:"roots"`
	Elapsed   time.Duration   `json:"elapsedNs"`
}

// ingestSlots appends synthetic slots after the highest existing one.
func ingestSlots(store *blockstore.Blockstore, opts IngestOptions) (IngestResult, error) {
	var result IngestResult
	if opts.Slots == 0 || opts.ShredsPerSlot == 0 {
		return result, fmt.Errorf("slots and shreds per slot must be positive")
	}
	if opts.BatchSlots == 0 {
		opts.BatchSlots = 1
	}

	start, err := nextSlot(store)
	if err != nil {
		return result, err
	}
	result.FirstSlot = start
	result.LastSlot = start + opts.Slots - 1

	began := time.Now()
	for slot := start; slot <= result.LastSlot; slot += opts.BatchSlots {
		n := opts.BatchSlots
		if remaining := result.LastSlot - slot + 1; remaining < n {
			n = remaining
		}
		written, err := store.InsertShreds(blockstore.MakeManySlotShreds(slot, n, opts.ShredsPerSlot))
		if err != nil {
			return result, fmt.Errorf("insert slots %d..%d: %w", slot, slot+n-1, err)
		}
		result.Shreds += written

		if opts.RootEvery == 0 {
			continue
		}
		var roots []blockstore.Slot
		for s := slot; s < slot+n; s++ {
			if s%opts.RootEvery == 0 {
				roots = append(roots, s)
			}
		}
		if len(roots) > 0 {
			if err := store.SetRoots(roots...); err != nil {
				return result, fmt.Errorf("set roots: %w", err)
			}
			result.Roots += len(roots)
		}
	}
	result.Elapsed = time.Since(began)
	return result, nil
}

func nextSlot(store *blockstore.Blockstore) (blockstore.Slot, error) {
	it, err := store.SlotMetaIterator(0)
	if err != nil {
		return 0, err
	}
	defer it.Close()

	next := blockstore.Slot(0)
	for it.Next() {
		next = it.Slot() + 1
	}
	if err := it.Err(); err != nil {
		return 0, err
	}
	if lowest := store.LowestCleanupSlot(); lowest > 0 && next <= lowest {
		next = lowest + 1
	}
	return next, nil
}

func runIngest(args []string) {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	ledgerPath := fs.String("ledger", "", "Override ledger directory")
	slots := fs.Uint64("slots", 1000, "Number of slots to write")
	shredsPerSlot := fs.Uint64("shreds-per-slot", 100, "Shreds in each slot")
	batchSlots := fs.Uint64("batch-slots", 10, "Slots written per batch")
	rootEvery := fs.Uint64("root-every", 1, "Root every Nth slot (0 disables)")
	jsonOutput := fs.Bool("json", false, "Output in JSON format")

	fs.Usage = func() {
		fmt.Println(`Usage: ledgerd ingest [options]

Append synthetic slots to a ledger, for benchmarking the cleanup service.

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

	compression, err := blockstore.ParseCompression(cfg.Ledger.Compression)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid compression: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Configure(cfg.Observability.LogLevel, "text")
	store, err := blockstore.Open(blockstore.Options{
		Path:        cfg.Ledger.Path,
		Fsync:       blockstore.ParseFsyncMode(cfg.Ledger.Fsync),
		Compression: compression,
		Logger:      logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening ledger: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	result, err := ingestSlots(store, IngestOptions{
		Slots:         *slots,
		ShredsPerSlot: *shredsPerSlot,
		BatchSlots:    *batchSlots,
		RootEvery:     *rootEvery,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error ingesting: %v\n", err)
		os.Exit(1)
	}

	if *jsonOutput {
		data, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(data))
		return
	}
	rate := float64(result.Shreds) / result.Elapsed.Seconds()
	fmt.Printf("wrote slots %d..%d: %d shreds, %d roots in %s (%.0f shreds/s)\n",
		result.FirstSlot, result.LastSlot, result.Shreds, result.Roots, result.Elapsed.Round(time.Millisecond), rate)
}
