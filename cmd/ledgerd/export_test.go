package main

import (
	"bytes"
	"io"
	"testing"

	"github.com/parquet-go/parquet-go"

	"github.com/dray-io/ledgerd/internal/blockstore"
)

func readSlotMetaRows(t *testing.T, data []byte) []SlotMetaRow {
	t.Helper()
	reader := parquet.NewGenericReader[SlotMetaRow](bytes.NewReader(data))
	defer reader.Close()

	rows := make([]SlotMetaRow, reader.NumRows())
	n, err := reader.Read(rows)
	if err != nil && err != io.EOF {
		t.Fatalf("read rows: %v", err)
	}
	return rows[:n]
}

func TestExportSlotMetas(t *testing.T) {
	store := openMemStore(t)
	if _, err := ingestSlots(store, IngestOptions{Slots: 6, ShredsPerSlot: 3, BatchSlots: 6, RootEvery: 2}); err != nil {
		t.Fatalf("ingestSlots: %v", err)
	}
	if err := store.MarkDead(5); err != nil {
		t.Fatalf("MarkDead: %v", err)
	}

	var buf bytes.Buffer
	n, err := exportSlotMetas(store, 1, &buf)
	if err != nil {
		t.Fatalf("exportSlotMetas: %v", err)
	}
	if n != 5 {
		t.Fatalf("expected 5 rows, got %d", n)
	}

	rows := readSlotMetaRows(t, buf.Bytes())
	if len(rows) != 5 {
		t.Fatalf("expected 5 rows read back, got %d", len(rows))
	}
	first := rows[0]
	if first.Slot != 1 || first.ParentSlot != 0 || first.Received != 3 || !first.Full {
		t.Errorf("unexpected first row: %+v", first)
	}
	if first.Rooted || !rows[1].Rooted {
		t.Errorf("expected only even slots rooted: %+v %+v", rows[0], rows[1])
	}
	if !rows[4].Dead || rows[4].Slot != 5 {
		t.Errorf("expected slot 5 dead: %+v", rows[4])
	}
}

func TestExportSkipsPurgedSlots(t *testing.T) {
	store := openMemStore(t)
	if _, err := ingestSlots(store, IngestOptions{Slots: 10, ShredsPerSlot: 1}); err != nil {
		t.Fatalf("ingestSlots: %v", err)
	}
	if err := store.PurgeSlots(0, 6, blockstore.PurgeCompactionFilter); err != nil {
		t.Fatalf("PurgeSlots: %v", err)
	}

	var buf bytes.Buffer
	n, err := exportSlotMetas(store, 0, &buf)
	if err != nil {
		t.Fatalf("exportSlotMetas: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 rows, got %d", n)
	}
	if rows := readSlotMetaRows(t, buf.Bytes()); rows[0].Slot != 7 {
		t.Errorf("expected first exported slot 7, got %d", rows[0].Slot)
	}
}
