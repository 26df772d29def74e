// Package ledger is the durable, asynchronous audit pipeline. Records are
// appended to a write-ahead log before queuing, shipped to the control
// plane in batches, and removed from the log only after an acknowledged
// delivery. Delivery is at-least-once; the control plane deduplicates by
// record id.
package ledger

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/wardenhq/warden/internal/domain"
)

// WAL is an append-only JSONL file of audit records awaiting delivery.
// Single writer; Replay is only safe before the writer starts appending.
type WAL struct {
	path string

	mu      sync.Mutex
	f       *os.File
	w       *bufio.Writer
	pending map[uuid.UUID]domain.AuditRecord
	order   []uuid.UUID
}

func OpenWAL(path string) (*WAL, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("ledger.OpenWAL: %w", err)
		}
	}

	w := &WAL{path: path, pending: make(map[uuid.UUID]domain.AuditRecord)}
	if err := w.replayLocked(); err != nil {
		return nil, err
	}
	if err := w.openLocked(); err != nil {
		return nil, err
	}
	return w, nil
}

// replayLocked loads unacknowledged records left by a previous run.
// Duplicate lines for the same id keep the last occurrence.
func (w *WAL) replayLocked() error {
	f, err := os.Open(w.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("ledger.WAL replay: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec domain.AuditRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			// A torn tail line from a crash mid-write is expected; skip it.
			continue
		}
		if _, seen := w.pending[rec.ID]; !seen {
			w.order = append(w.order, rec.ID)
		}
		w.pending[rec.ID] = rec
	}
	return sc.Err()
}

func (w *WAL) openLocked() error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("ledger.WAL open: %w", err)
	}
	w.f = f
	w.w = bufio.NewWriterSize(f, 64*1024)
	return nil
}

// Append durably records rec before it may be queued for delivery.
func (w *WAL) Append(rec domain.AuditRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("ledger.WAL append: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.w.Write(append(b, '\n')); err != nil {
		return fmt.Errorf("ledger.WAL append: %w", err)
	}
	if err := w.w.Flush(); err != nil {
		return fmt.Errorf("ledger.WAL append: %w", err)
	}
	// Flush only hands the bytes to the kernel; Sync pushes them to disk
	// so the record survives power loss, not just a process crash.
	if err := w.f.Sync(); err != nil {
		return fmt.Errorf("ledger.WAL append: %w", err)
	}
	if _, seen := w.pending[rec.ID]; !seen {
		w.order = append(w.order, rec.ID)
	}
	w.pending[rec.ID] = rec
	return nil
}

// Pending returns the unacknowledged records in append order.
func (w *WAL) Pending() []domain.AuditRecord {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]domain.AuditRecord, 0, len(w.pending))
	for _, id := range w.order {
		if rec, ok := w.pending[id]; ok {
			out = append(out, rec)
		}
	}
	return out
}

// Ack marks records as delivered and compacts the file down to whatever
// is still pending.
func (w *WAL) Ack(ids []uuid.UUID) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, id := range ids {
		delete(w.pending, id)
	}
	return w.compactLocked()
}

func (w *WAL) compactLocked() error {
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.f != nil {
		_ = w.f.Close()
	}

	tmp := w.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("ledger.WAL compact: %w", err)
	}
	bw := bufio.NewWriterSize(f, 64*1024)

	live := w.order[:0]
	for _, id := range w.order {
		rec, ok := w.pending[id]
		if !ok {
			continue
		}
		live = append(live, id)
		b, err := json.Marshal(rec)
		if err != nil {
			continue
		}
		if _, err := bw.Write(append(b, '\n')); err != nil {
			f.Close()
			return fmt.Errorf("ledger.WAL compact: %w", err)
		}
	}
	w.order = live

	if err := bw.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("ledger.WAL compact: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("ledger.WAL compact: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("ledger.WAL compact: %w", err)
	}
	if err := os.Rename(tmp, w.path); err != nil {
		return fmt.Errorf("ledger.WAL compact: %w", err)
	}
	return w.openLocked()
}

// Close flushes and closes the underlying file.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.f != nil {
		err := w.f.Close()
		w.f = nil
		w.w = nil
		return err
	}
	return nil
}
