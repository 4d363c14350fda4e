package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/parquet-go/parquet-go"

	"github.com/dray-io/ledgerd/internal/blockstore"
	"github.com/dray-io/ledgerd/internal/logging"
)

// SlotMetaRow is the Parquet row written for each slot by the export command.
type SlotMetaRow struct {
	Slot           int64 `parquet:"slot"`
	ParentSlot     int64 `parquet:"parent_slot"`
	Received       int64 `parquet:"received"`
	Consumed       int64 `parquet:"consumed"`
	Full           bool  `parquet:"full"`
	Rooted         bool  `parquet:"rooted"`
	Dead           bool  `parquet:"dead"`
	FirstShredAtMs int64 `parquet:"first_shred_at,timestamp(millisecond)"`
}

// exportBatchSize is the number of rows buffered per Write call.
const exportBatchSize = 1024

// exportSlotMetas writes one row per slot at or above start and returns the
// number of rows written.
func exportSlotMetas(store *blockstore.Blockstore, start blockstore.Slot, out io.Writer) (int, error) {
	it, err := store.SlotMetaIterator(start)
	if err != nil {
		return 0, err
	}
	defer it.Close()

	writer := parquet.NewGenericWriter[SlotMetaRow](out)
	rows := make([]SlotMetaRow, 0, exportBatchSize)
	total := 0

	flush := func() error {
		if len(rows) == 0 {
			return nil
		}
		n, err := writer.Write(rows)
		if err != nil {
			return fmt.Errorf("parquet: write rows: %w", err)
		}
		if n != len(rows) {
			return fmt.Errorf("parquet: wrote %d of %d rows", n, len(rows))
		}
		total += n
		rows = rows[:0]
		return nil
	}

	for it.Next() {
		meta := it.Meta()
		rooted, err := store.IsRoot(meta.Slot)
		if err != nil {
			return total, err
		}
		dead, err := store.IsDead(meta.Slot)
		if err != nil {
			return total, err
		}
		rows = append(rows, SlotMetaRow{
			Slot:           int64(meta.Slot),
			ParentSlot:     int64(meta.ParentSlot),
			Received:       int64(meta.Received),
			Consumed:       int64(meta.Consumed),
			Full:           meta.IsFull(),
			Rooted:         rooted,
			Dead:           dead,
			FirstShredAtMs: meta.FirstShredTimestampMs,
		})
		if len(rows) == exportBatchSize {
			if err := flush(); err != nil {
				return total, err
			}
		}
	}
	if err := it.Err(); err != nil {
		return total, err
	}
	if err := flush(); err != nil {
		return total, err
	}
	if err := writer.Close(); err != nil {
		return total, fmt.Errorf("parquet: close: %w", err)
	}
	return total, nil
}

func runExport(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	ledgerPath := fs.String("ledger", "", "Override ledger directory")
	outPath := fs.String("out", "slots.parquet", "Output Parquet file")
	start := fs.Uint64("start", 0, "First slot to export")

	fs.Usage = func() {
		fmt.Println(`Usage: ledgerd export [options]

Write per-slot metadata to a Parquet file for offline analysis.
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

	logger := logging.Configure("warn", "text")
	store, err := blockstore.Open(blockstore.Options{Path: cfg.Ledger.Path, Logger: logger})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening ledger: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	f, err := os.Create(*outPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error creating %s: %v\n", *outPath, err)
		os.Exit(1)
	}

	n, err := exportSlotMetas(store, blockstore.Slot(*start), f)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error exporting: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("exported %d slots to %s\n", n, *outPath)
}
