package storage

import (
	"context"
	"fmt"
	"time"

	"agent_trace/internal/models"
)

// insertTraceQuery skips rows whose (trace_id, timestamp) identity already
// exists: redelivered events must not create duplicates or update anything.
const insertTraceQuery = `
	INSERT INTO traces (
		trace_id, workspace_id, "timestamp", agent_id, latency_ms, status,
		model, model_provider, input, output, error,
		tokens_input, tokens_output, tokens_total, cost_usd, metadata, tags
	) VALUES (
		:trace_id, :workspace_id, :timestamp, :agent_id, :latency_ms, :status,
		:model, :model_provider, :input, :output, :error,
		:tokens_input, :tokens_output, :tokens_total, :cost_usd, :metadata, :tags
	)
	ON CONFLICT (trace_id, "timestamp") DO NOTHING
`

// TraceRepository handles trace table operations.
type TraceRepository struct {
	db *DB
}

// NewTraceRepository creates a new trace repository.
func NewTraceRepository(db *DB) *TraceRepository {
	return &TraceRepository{db: db}
}

// Insert writes one record. A record whose identity already exists is
// silently skipped; that is success, not an error.
func (r *TraceRepository) Insert(ctx context.Context, rec *models.TraceRecord) error {
	if _, err := r.db.conn.NamedExecContext(ctx, insertTraceQuery, rec); err != nil {
		return fmt.Errorf("failed to insert trace %s: %w", rec.TraceID, err)
	}
	return nil
}

// InsertBatch writes all records inside a single transaction.
func (r *TraceRepository) InsertBatch(ctx context.Context, recs []*models.TraceRecord) error {
	tx, err := r.db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, rec := range recs {
		if _, err := tx.NamedExecContext(ctx, insertTraceQuery, rec); err != nil {
			return fmt.Errorf("failed to insert trace %s: %w", rec.TraceID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetByIdentity fetches one record by its persistence identity. Used by
// integration tests and operational tooling.
func (r *TraceRepository) GetByIdentity(ctx context.Context, traceID string, ts time.Time) (*models.TraceRecord, error) {
	const query = `
		SELECT trace_id, workspace_id, "timestamp", agent_id, latency_ms, status,
		       model, model_provider, input, output, error,
		       tokens_input, tokens_output, tokens_total, cost_usd, metadata, tags
		FROM traces
		WHERE trace_id = $1 AND "timestamp" = $2
	`

	var rec models.TraceRecord
	if err := r.db.conn.GetContext(ctx, &rec, query, traceID, ts); err != nil {
		return nil, fmt.Errorf("failed to get trace %s: %w", traceID, err)
	}
	return &rec, nil
}

// CountByTraceID returns how many rows exist for a trace id. Used to verify
// idempotent persistence.
func (r *TraceRepository) CountByTraceID(ctx context.Context, traceID string) (int, error) {
	var count int
	if err := r.db.conn.GetContext(ctx, &count, `SELECT COUNT(*) FROM traces WHERE trace_id = $1`, traceID); err != nil {
		return 0, fmt.Errorf("failed to count traces: %w", err)
	}
	return count, nil
}
