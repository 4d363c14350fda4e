package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/dray-io/ledgerd/internal/blockstore"
)

func TestIngestSlots(t *testing.T) {
	store := openMemStore(t)

	result, err := ingestSlots(store, IngestOptions{Slots: 25, ShredsPerSlot: 4, BatchSlots: 10, RootEvery: 5})
	if err != nil {
		t.Fatalf("ingestSlots: %v", err)
	}
	if result.FirstSlot != 0 || result.LastSlot != 24 {
		t.Errorf("expected slots 0..24, got %d..%d", result.FirstSlot, result.LastSlot)
	}
	if result.Shreds != 100 {
		t.Errorf("expected 100 shreds, got %d", result.Shreds)
	}
	if result.Roots != 5 {
		t.Errorf("expected 5 roots, got %d", result.Roots)
	}

	// A second run appends after the existing slots.
	result, err = ingestSlots(store, IngestOptions{Slots: 5, ShredsPerSlot: 4})
	if err != nil {
		t.Fatalf("ingestSlots: %v", err)
	}
	if result.FirstSlot != 25 || result.LastSlot != 29 {
		t.Errorf("expected slots 25..29, got %d..%d", result.FirstSlot, result.LastSlot)
	}
	if result.Roots != 0 {
		t.Errorf("expected no roots, got %d", result.Roots)
	}
}

func TestIngestSlotsRejectsEmpty(t *testing.T) {
	store := openMemStore(t)
	if _, err := ingestSlots(store, IngestOptions{Slots: 0, ShredsPerSlot: 4}); err == nil {
		t.Fatal("expected error for zero slots")
	}
}

func TestInspectLedger(t *testing.T) {
	store := openMemStore(t)
	if _, err := ingestSlots(store, IngestOptions{Slots: 20, ShredsPerSlot: 5, BatchSlots: 20, RootEvery: 1}); err != nil {
		t.Fatalf("ingestSlots: %v", err)
	}

	report, err := inspectLedger(store, nil, 30, quietLogger())
	if err != nil {
		t.Fatalf("inspectLedger: %v", err)
	}
	if report.Slots != 20 || report.FirstSlot != 0 || report.LastSlot != 19 {
		t.Errorf("unexpected slot summary: %+v", report)
	}
	if report.TotalShreds != 100 {
		t.Errorf("expected 100 shreds, got %d", report.TotalShreds)
	}
	if !report.HasRoot || report.MaxRoot != 19 {
		t.Errorf("expected max root 19, got %d (has=%v)", report.MaxRoot, report.HasRoot)
	}
	if report.DryRun == nil {
		t.Fatal("expected a dry run against the max root")
	}
	// Slots 19..14 hold 30 shreds; slot 13 pushes the count past the cap.
	if !report.DryRun.ShouldPurge || report.DryRun.LowestCleanupSlot != 13 {
		t.Errorf("unexpected dry run: %+v", *report.DryRun)
	}

	// Inspection never purges.
	if after, _ := inspectLedger(store, nil, 30, quietLogger()); after.Slots != 20 {
		t.Errorf("expected ledger unchanged, got %d slots", after.Slots)
	}
}

func TestInspectLedgerExplicitRoot(t *testing.T) {
	store := openMemStore(t)
	if _, err := ingestSlots(store, IngestOptions{Slots: 10, ShredsPerSlot: 5, RootEvery: 0}); err != nil {
		t.Fatalf("ingestSlots: %v", err)
	}

	report, err := inspectLedger(store, nil, 1000, quietLogger())
	if err != nil {
		t.Fatalf("inspectLedger: %v", err)
	}
	if report.HasRoot || report.DryRun != nil {
		t.Errorf("expected no dry run without roots: %+v", report)
	}

	root := blockstore.Slot(4)
	report, err = inspectLedger(store, &root, 1000, quietLogger())
	if err != nil {
		t.Fatalf("inspectLedger: %v", err)
	}
	if report.DryRun == nil || report.DryRun.ShouldPurge {
		t.Fatalf("expected a no-purge dry run, got %+v", report.DryRun)
	}
	// Scanning stops after the first slot past the root.
	if report.DryRun.ScannedShreds != 30 {
		t.Errorf("expected 30 scanned shreds, got %d", report.DryRun.ScannedShreds)
	}
}

func TestWriteInspectReport(t *testing.T) {
	var buf bytes.Buffer
	writeInspectReport(&buf, InspectReport{
		Slots:       3,
		FirstSlot:   10,
		LastSlot:    12,
		TotalShreds: 9,
		DryRun:      &DryRun{Root: 12, MaxLedgerShreds: 100, ScannedShreds: 9},
	})

	out := buf.String()
	for _, want := range []string{"RANGE", "10..12", "MAX_ROOT", "no purge (9 of 100 shreds)"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q:\n%s", want, out)
		}
	}
}
