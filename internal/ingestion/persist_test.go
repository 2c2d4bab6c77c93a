package ingestion

import (
	"bufio"
	"os"
	"path/filepath"
	"testing"
	"time"

	"mm-engine/internal/types"
)

func TestBatchWriter_FlushesFullBatchesAutomatically(t *testing.T) {
	dir := t.TempDir()
	w, err := NewBatchWriter(dir, 2)
	if err != nil {
		t.Fatalf("NewBatchWriter: %v", err)
	}

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	book := types.BookSnapshot{
		Bids:      []types.BookLevel{{Price: 100.00, Size: 10}},
		Asks:      []types.BookLevel{{Price: 100.02, Size: 10}},
		Timestamp: now,
	}

	if err := w.WriteBook(book, now); err != nil {
		t.Fatalf("WriteBook: %v", err)
	}
	if err := w.WriteTrade(types.TradePrint{Price: 100.01, Size: 1, AggressorSide: types.Buy, Timestamp: now}, now); err != nil {
		t.Fatalf("WriteTrade: %v", err)
	}

	if got := countLines(t, filepath.Join(dir, "batch_000000.jsonl")); got != 2 {
		t.Fatalf("expected the first batch file to hold 2 rows, got %d", got)
	}
}

func TestBatchWriter_FlushWritesPartialBatch(t *testing.T) {
	dir := t.TempDir()
	w, err := NewBatchWriter(dir, 1000)
	if err != nil {
		t.Fatalf("NewBatchWriter: %v", err)
	}

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := w.WriteTrade(types.TradePrint{Price: 1, Size: 1, AggressorSide: types.Sell, Timestamp: now}, now); err != nil {
		t.Fatalf("WriteTrade: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "batch_000000.jsonl")); !os.IsNotExist(err) {
		t.Fatalf("expected no batch file before an explicit flush")
	}

	if err := w.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if got := countLines(t, filepath.Join(dir, "batch_000000.jsonl")); got != 1 {
		t.Fatalf("expected the flushed partial batch to hold 1 row, got %d", got)
	}

	// A second flush with nothing pending must not write an empty file.
	if err := w.Flush(); err != nil {
		t.Fatalf("empty Flush: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "batch_000001.jsonl")); !os.IsNotExist(err) {
		t.Fatalf("expected no second batch file after an empty flush")
	}
}

func countLines(t *testing.T, path string) int {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()

	n := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		n++
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scan %s: %v", path, err)
	}
	return n
}
