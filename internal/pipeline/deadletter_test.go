package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent_trace/internal/eventlog"
)

func TestDeadLetter_SinkThenAck(t *testing.T) {
	ctx := context.Background()
	main := eventlog.NewMemoryLog(0)
	defer main.Close()
	sink := eventlog.NewMemoryLog(0)
	defer sink.Close()

	require.NoError(t, main.EnsureGroup(ctx, "workers"))
	_, err := main.Append(ctx, []byte("{{{"))
	require.NoError(t, err)

	msgs, err := main.ReadGroup(ctx, "workers", "w1", 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	dl := NewDeadLetter(main, sink, "workers", nil)
	require.NoError(t, dl.Sink(ctx, msgs[0].ID, msgs[0].Payload, errors.New("unparseable payload")))

	// The poison entry is captured with the original bytes intact.
	recs, err := dl.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, msgs[0].ID, recs[0].OriginalMessageID)
	assert.Equal(t, "{{{", string(recs[0].RawPayload))
	assert.Contains(t, recs[0].Error, "unparseable")
	assert.False(t, recs[0].SunkAt.IsZero())
	assert.NotEmpty(t, recs[0].ID)

	// The original is gone from the main consumption path for good.
	claimed, err := main.Claim(ctx, "workers", "w2", 0, 10)
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestDeadLetter_SinkFailureLeavesOriginalPending(t *testing.T) {
	ctx := context.Background()
	main := eventlog.NewMemoryLog(0)
	defer main.Close()
	sink := eventlog.NewMemoryLog(0)
	require.NoError(t, sink.Close())

	require.NoError(t, main.EnsureGroup(ctx, "workers"))
	_, err := main.Append(ctx, []byte("{{{"))
	require.NoError(t, err)

	msgs, err := main.ReadGroup(ctx, "workers", "w1", 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	dl := NewDeadLetter(main, sink, "workers", nil)
	require.Error(t, dl.Sink(ctx, msgs[0].ID, msgs[0].Payload, errors.New("boom")))

	// Ack never happened, so the message stays claimable.
	claimed, err := main.Claim(ctx, "workers", "w2", 0, 10)
	require.NoError(t, err)
	assert.Len(t, claimed, 1)
}
