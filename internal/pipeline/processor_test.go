package pipeline

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent_trace/internal/eventlog"
	"agent_trace/internal/models"
)

func tracePayload(t *testing.T, rec models.RawTrace) []byte {
	t.Helper()
	data, err := json.Marshal(rec)
	require.NoError(t, err)
	return data
}

func TestProcess_RebuildsCanonicalRecord(t *testing.T) {
	proc := NewProcessor(nil)

	in, out := int64(100), int64(50)
	msg := eventlog.Message{
		ID: "1-0",
		Payload: tracePayload(t, models.RawTrace{
			TraceID:      "a",
			Timestamp:    json.RawMessage(`"2026-08-01T12:00:00Z"`),
			LatencyMS:    150,
			Status:       "success",
			TokensInput:  &in,
			TokensOutput: &out,
			Model:        "m",
		}),
	}

	rec, err := proc.Process(msg)
	require.NoError(t, err)
	assert.Equal(t, "a", rec.TraceID)
	require.NotNil(t, rec.TokensTotal)
	assert.Equal(t, int64(150), *rec.TokensTotal)
}

func TestProcess_LenientRepairs(t *testing.T) {
	proc := NewProcessor(nil)
	fixed := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)
	proc.now = func() time.Time { return fixed }

	t.Run("bad timestamp substitutes processing time", func(t *testing.T) {
		msg := eventlog.Message{ID: "1-0", Payload: tracePayload(t, models.RawTrace{
			TraceID:   "a",
			Timestamp: json.RawMessage(`"garbage"`),
			LatencyMS: 5,
			Model:     "m",
		})}

		rec, err := proc.Process(msg)
		require.NoError(t, err)
		assert.True(t, rec.Timestamp.Equal(fixed))
	})

	t.Run("bad status coerced to success", func(t *testing.T) {
		msg := eventlog.Message{ID: "2-0", Payload: tracePayload(t, models.RawTrace{
			TraceID:   "a",
			LatencyMS: 5,
			Status:    "wat",
			Model:     "m",
		})}

		rec, err := proc.Process(msg)
		require.NoError(t, err)
		assert.Equal(t, models.StatusSuccess, rec.Status)
	})
}

func TestProcess_Poison(t *testing.T) {
	proc := NewProcessor(nil)

	tests := []struct {
		name    string
		payload []byte
	}{
		{"not json", []byte("{{{")},
		{"empty payload", nil},
		{"missing identity", tracePayload(t, models.RawTrace{Model: "m", LatencyMS: 5})},
		{"non-positive latency", tracePayload(t, models.RawTrace{TraceID: "a", Model: "m"})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := proc.Process(eventlog.Message{ID: "9-0", Payload: tt.payload})
			require.Error(t, err)

			var perr *ProcessingError
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, "9-0", perr.MessageID)
		})
	}
}

func TestProcessBatch_PartitionsFailures(t *testing.T) {
	proc := NewProcessor(nil)

	msgs := []eventlog.Message{
		{ID: "1-0", Payload: tracePayload(t, models.RawTrace{TraceID: "a", Model: "m", LatencyMS: 1})},
		{ID: "2-0", Payload: []byte("not json")},
		{ID: "3-0", Payload: tracePayload(t, models.RawTrace{TraceID: "c", Model: "m", LatencyMS: 3})},
	}

	processed, failed := proc.ProcessBatch(msgs)

	require.Len(t, processed, 2)
	assert.Equal(t, "1-0", processed[0].MessageID)
	assert.Equal(t, "a", processed[0].Record.TraceID)
	assert.Equal(t, "3-0", processed[1].MessageID)

	require.Len(t, failed, 1)
	assert.Equal(t, "2-0", failed[0].Message.ID)
}
