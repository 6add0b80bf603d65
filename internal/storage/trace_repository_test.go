package storage

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent_trace/internal/models"
	"agent_trace/migrations"
)

// testDB connects to the database named by POSTGRES_TEST_DSN and applies
// migrations, or skips the test when no database is available.
func testDB(t *testing.T) *DB {
	t.Helper()

	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set, skipping trace store integration tests")
	}

	db, err := Open(DefaultConfig(dsn))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, migrations.Apply(context.Background(), db.Conn().DB))
	return db
}

func testRecord(traceID string, ts time.Time) *models.TraceRecord {
	in, out, total := int64(100), int64(50), int64(150)
	return &models.TraceRecord{
		TraceID:      traceID,
		WorkspaceID:  "ws-1",
		Timestamp:    ts,
		AgentID:      "agent-1",
		LatencyMS:    150,
		Status:       models.StatusSuccess,
		Model:        "gpt-4o",
		TokensInput:  &in,
		TokensOutput: &out,
		TokensTotal:  &total,
		Metadata:     models.Metadata{"env": "test"},
		Tags:         []string{"a", "b"},
	}
}

func TestTraceRepository_IdempotentInsert(t *testing.T) {
	db := testDB(t)
	repo := NewTraceRepository(db)
	ctx := context.Background()

	traceID := fmt.Sprintf("idem-%s", uuid.NewString())
	ts := time.Now().UTC().Truncate(time.Microsecond)
	rec := testRecord(traceID, ts)

	require.NoError(t, repo.Insert(ctx, rec))
	require.NoError(t, repo.Insert(ctx, rec), "second insert of the same identity must succeed silently")

	count, err := repo.CountByTraceID(ctx, traceID)
	require.NoError(t, err)
	assert.Equal(t, 1, count, "exactly one row for the identity")

	// Same trace id at a different event time is a different identity.
	require.NoError(t, repo.Insert(ctx, testRecord(traceID, ts.Add(time.Second))))
	count, err = repo.CountByTraceID(ctx, traceID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestTraceRepository_Roundtrip(t *testing.T) {
	db := testDB(t)
	repo := NewTraceRepository(db)
	ctx := context.Background()

	traceID := fmt.Sprintf("rt-%s", uuid.NewString())
	ts := time.Now().UTC().Truncate(time.Microsecond)
	require.NoError(t, repo.Insert(ctx, testRecord(traceID, ts)))

	got, err := repo.GetByIdentity(ctx, traceID, ts)
	require.NoError(t, err)
	assert.Equal(t, traceID, got.TraceID)
	assert.Equal(t, models.StatusSuccess, got.Status)
	require.NotNil(t, got.TokensTotal)
	assert.Equal(t, int64(150), *got.TokensTotal)
	assert.Equal(t, models.Metadata{"env": "test"}, got.Metadata)
	assert.Equal(t, []string{"a", "b"}, []string(got.Tags))
}

func TestTraceRepository_InsertBatch(t *testing.T) {
	db := testDB(t)
	repo := NewTraceRepository(db)
	ctx := context.Background()

	prefix := uuid.NewString()
	ts := time.Now().UTC().Truncate(time.Microsecond)
	recs := make([]*models.TraceRecord, 5)
	for i := range recs {
		recs[i] = testRecord(fmt.Sprintf("batch-%s-%d", prefix, i), ts)
	}

	require.NoError(t, repo.InsertBatch(ctx, recs))
	// Replaying the whole batch must not create duplicates.
	require.NoError(t, repo.InsertBatch(ctx, recs))

	for _, rec := range recs {
		count, err := repo.CountByTraceID(ctx, rec.TraceID)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	}
}

func TestTraceWriter_WriteBatch(t *testing.T) {
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set, skipping trace store integration tests")
	}
	testDB(t) // ensure schema

	ctx := context.Background()
	w := NewTraceWriter(DefaultConfig(dsn), nil)
	t.Cleanup(func() { w.Close() })

	require.NoError(t, w.Connect(ctx))

	ts := time.Now().UTC().Truncate(time.Microsecond)
	recs := []*models.TraceRecord{
		testRecord(fmt.Sprintf("w-%s", uuid.NewString()), ts),
		testRecord(fmt.Sprintf("w-%s", uuid.NewString()), ts),
	}

	written, failed, err := w.WriteBatch(ctx, recs)
	require.NoError(t, err)
	assert.Equal(t, 2, written)
	assert.Zero(t, failed)

	// A replay of the same batch is written-as-skipped, not duplicated.
	written, failed, err = w.WriteBatch(ctx, recs)
	require.NoError(t, err)
	assert.Equal(t, 2, written)
	assert.Zero(t, failed)
}
