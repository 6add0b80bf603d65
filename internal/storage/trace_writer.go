package storage

import (
	"context"
	"sync"

	"agent_trace/internal/models"
	"agent_trace/internal/utils"
)

// TraceWriter performs idempotent bulk inserts of canonical trace records.
// The connection is established lazily at Connect, reused across calls and
// re-established if a later call finds it dead. One writer is owned by
// exactly one worker process; the pool is never shared across processes.
type TraceWriter struct {
	cfg    Config
	logger *utils.Logger

	mu sync.Mutex
	db *DB
}

// NewTraceWriter creates a writer. No connection is made until Connect.
func NewTraceWriter(cfg Config, logger *utils.Logger) *TraceWriter {
	if logger == nil {
		logger = utils.NewLogger("trace-writer")
	}
	return &TraceWriter{cfg: cfg, logger: logger}
}

// Connect establishes (or verifies) the store connection.
func (w *TraceWriter) Connect(ctx context.Context) error {
	_, err := w.acquire(ctx)
	return err
}

// acquire returns a live DB handle, reconnecting if the cached one fails
// its ping.
func (w *TraceWriter) acquire(ctx context.Context) (*DB, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.db != nil {
		if err := w.db.Ping(ctx); err == nil {
			return w.db, nil
		}
		w.logger.Warn("store connection lost, reconnecting")
		w.db.Close()
		w.db = nil
	}

	db, err := Open(w.cfg)
	if err != nil {
		return nil, err
	}
	w.db = db
	return db, nil
}

// WriteBatch bulk-inserts records with conflict-skip semantics. If the bulk
// insert fails, records are retried one at a time so a single bad row
// cannot sink the batch; each row's outcome is tallied. A non-nil error
// means nothing could be written at all (store unreachable) and the caller
// must not acknowledge the batch.
func (w *TraceWriter) WriteBatch(ctx context.Context, recs []*models.TraceRecord) (int, int, error) {
	if len(recs) == 0 {
		return 0, 0, nil
	}

	db, err := w.acquire(ctx)
	if err != nil {
		return 0, len(recs), err
	}
	repo := NewTraceRepository(db)

	if err := repo.InsertBatch(ctx, recs); err != nil {
		w.logger.Warn("bulk insert failed, falling back to per-row inserts", "count", len(recs), "error", err)
	} else {
		return len(recs), 0, nil
	}

	written, failed := 0, 0
	var lastErr error
	for _, rec := range recs {
		if err := repo.Insert(ctx, rec); err != nil {
			failed++
			lastErr = err
			w.logger.Error("failed to insert trace", "trace_id", rec.TraceID, "error", err)
			continue
		}
		written++
	}

	if written == 0 && failed > 0 {
		// Every row failed: treat the pass as a store outage rather than
		// N independent bad rows, so the batch stays redeliverable.
		return 0, failed, lastErr
	}
	return written, failed, nil
}

// Close tears down the store connection.
func (w *TraceWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.db == nil {
		return nil
	}
	err := w.db.Close()
	w.db = nil
	return err
}
