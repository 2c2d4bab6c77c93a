package ingestion

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"mm-engine/internal/types"
)

// rawRow is one persisted line: either a book row or a trade row, tagged by
// Kind so a single append-only file can interleave both.
type rawRow struct {
	Kind      string              `json:"kind"`
	Timestamp time.Time           `json:"timestamp"`
	Book      *types.BookSnapshot `json:"book,omitempty"`
	Trade     *types.TradePrint   `json:"trade,omitempty"`
}

// BatchWriter buffers raw book and trade rows and flushes them to disk in
// numbered batches of newline-delimited JSON, writing to a temp file and
// renaming so a crash mid-flush never corrupts history.
type BatchWriter struct {
	mu        sync.Mutex
	dir       string
	batchSize int
	pending   []rawRow
	seq       int
}

// NewBatchWriter creates a writer that flushes every batchSize rows into
// dir.
func NewBatchWriter(dir string, batchSize int) (*BatchWriter, error) {
	if batchSize <= 0 {
		batchSize = 1000
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create persist dir: %w", err)
	}
	return &BatchWriter{dir: dir, batchSize: batchSize}, nil
}

// WriteBook appends a book row to the pending batch.
func (w *BatchWriter) WriteBook(book types.BookSnapshot, now time.Time) error {
	return w.write(rawRow{Kind: "book", Timestamp: now, Book: &book})
}

// WriteTrade appends a trade row to the pending batch.
func (w *BatchWriter) WriteTrade(trade types.TradePrint, now time.Time) error {
	return w.write(rawRow{Kind: "trade", Timestamp: now, Trade: &trade})
}

func (w *BatchWriter) write(row rawRow) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending = append(w.pending, row)
	if len(w.pending) < w.batchSize {
		return nil
	}
	return w.flushLocked()
}

// Flush forces any partial batch to disk.
func (w *BatchWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.pending) == 0 {
		return nil
	}
	return w.flushLocked()
}

func (w *BatchWriter) flushLocked() error {
	path := filepath.Join(w.dir, fmt.Sprintf("batch_%06d.jsonl", w.seq))
	tmp := path + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create batch file: %w", err)
	}

	bw := bufio.NewWriter(f)
	enc := json.NewEncoder(bw)
	for _, row := range w.pending {
		if err := enc.Encode(row); err != nil {
			f.Close()
			return fmt.Errorf("encode row: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("flush batch file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close batch file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename batch file: %w", err)
	}

	w.seq++
	w.pending = w.pending[:0]
	return nil
}
