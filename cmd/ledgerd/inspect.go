package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/dray-io/ledgerd/internal/blockstore"
	"github.com/dray-io/ledgerd/internal/gc"
	"github.com/dray-io/ledgerd/internal/logging"
)

// InspectReport summarizes the contents of a ledger.
type InspectReport struct {
	Slots             int             `json:"slots"`
	FirstSlot         blockstore.Slot `json:"firstSlot"`
	LastSlot          blockstore.Slot `json:"lastSlot"`
	TotalShreds       uint64          `json:"totalShreds"`
	MaxRoot           blockstore.Slot `json:"maxRoot"`
	HasRoot           bool            `json:"hasRoot"`
	LowestCleanupSlot blockstore.Slot `json:"lowestCleanupSlot"`
	DiskBytes         uint64          `json:"diskBytes"`
	DryRun            *DryRun         `json:"dryRun,omitempty"`
}

// DryRun is the purge decision the cleanup service would make for a root.
type DryRun struct {
	Root              blockstore.Slot `json:"root"`
	MaxLedgerShreds   uint64          `json:"maxLedgerShreds"`
	ShouldPurge       bool            `json:"shouldPurge"`
	LowestCleanupSlot blockstore.Slot `json:"lowestCleanupSlot,omitempty"`
	ScannedShreds     uint64          `json:"scannedShreds"`
}

// inspectLedger scans store. If root is nil the highest rooted slot is used
// for the dry run, and the dry run is skipped when nothing is rooted.
func inspectLedger(store *blockstore.Blockstore, root *blockstore.Slot, maxShreds uint64, logger *logging.Logger) (InspectReport, error) {
	var report InspectReport

	it, err := store.SlotMetaIterator(0)
	if err != nil {
		return report, err
	}
	for it.Next() {
		if report.Slots == 0 {
			report.FirstSlot = it.Slot()
		}
		report.Slots++
		report.LastSlot = it.Slot()
		report.TotalShreds += it.Meta().Received
	}
	err = it.Err()
	it.Close()
	if err != nil {
		return report, err
	}

	report.MaxRoot, report.HasRoot, err = store.MaxRoot()
	if err != nil {
		return report, err
	}
	report.LowestCleanupSlot = store.LowestCleanupSlot()
	if report.DiskBytes, err = store.StorageSize(); err != nil {
		return report, err
	}

	if root == nil && report.HasRoot {
		r := report.MaxRoot
		root = &r
	}
	if root == nil {
		return report, nil
	}

	eval, err := gc.NewRetentionEvaluator(store, logger).Evaluate(*root, maxShreds)
	if err != nil {
		return report, err
	}
	report.DryRun = &DryRun{
		Root:            *root,
		MaxLedgerShreds: maxShreds,
		ShouldPurge:     eval.ShouldPurge,
		ScannedShreds:   eval.TotalShreds,
	}
	if eval.ShouldPurge {
		report.DryRun.LowestCleanupSlot = eval.LowestCleanupSlot
	}
	return report, nil
}

func writeInspectReport(w io.Writer, report InspectReport) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "SLOTS\t%d\n", report.Slots)
	if report.Slots > 0 {
		fmt.Fprintf(tw, "RANGE\t%d..%d\n", report.FirstSlot, report.LastSlot)
	}
	fmt.Fprintf(tw, "TOTAL_SHREDS\t%d\n", report.TotalShreds)
	if report.HasRoot {
		fmt.Fprintf(tw, "MAX_ROOT\t%d\n", report.MaxRoot)
	} else {
		fmt.Fprintln(tw, "MAX_ROOT\t-")
	}
	fmt.Fprintf(tw, "DISK_BYTES\t%d\n", report.DiskBytes)
	if dr := report.DryRun; dr != nil {
		if dr.ShouldPurge {
			fmt.Fprintf(tw, "DRY_RUN\troot=%d purge through slot %d\n", dr.Root, dr.LowestCleanupSlot)
		} else {
			fmt.Fprintf(tw, "DRY_RUN\troot=%d no purge (%d of %d shreds)\n", dr.Root, dr.ScannedShreds, dr.MaxLedgerShreds)
		}
	}
	tw.Flush()
}

func runInspect(args []string) {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	ledgerPath := fs.String("ledger", "", "Override ledger directory")
	root := fs.Int64("root", -1, "Root for the purge dry run (default: highest rooted slot)")
	maxShreds := fs.Uint64("max-ledger-shreds", 0, "Override the retention cap for the dry run")
	jsonOutput := fs.Bool("json", false, "Output in JSON format")

	fs.Usage = func() {
		fmt.Println(`Usage: ledgerd inspect [options]

Summarize a ledger and show what the cleanup service would purge.
The daemon must not be running against the same ledger.

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
	if *maxShreds > 0 {
		cfg.Cleanup.MaxLedgerShreds = *maxShreds
	}

	logger := logging.Configure("warn", "text")
	store, err := blockstore.Open(blockstore.Options{Path: cfg.Ledger.Path, Logger: logger})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening ledger: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	var rootSlot *blockstore.Slot
	if *root >= 0 {
		r := blockstore.Slot(*root)
		rootSlot = &r
	}

	report, err := inspectLedger(store, rootSlot, cfg.Cleanup.MaxLedgerShreds, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error inspecting ledger: %v\n", err)
		os.Exit(1)
	}

	if *jsonOutput {
		data, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(data))
		return
	}
	writeInspectReport(os.Stdout, report)
}
