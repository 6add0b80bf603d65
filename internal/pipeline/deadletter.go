package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"agent_trace/internal/eventlog"
	"agent_trace/internal/utils"
)

// DeadLetterRecord is what the sink appends for each poison message.
// RawPayload keeps the original bytes untouched so an operator can replay
// or inspect them out of band.
type DeadLetterRecord struct {
	ID                string    `json:"id"`
	OriginalMessageID string    `json:"original_message_id"`
	RawPayload        []byte    `json:"raw_payload"`
	Error             string    `json:"error"`
	SunkAt            time.Time `json:"sunk_at"`
}

// DeadLetter captures poison messages on a secondary, untrimmed log and
// acknowledges the original on the main log so the main consumption path is
// never blocked by poison input. Sunk messages are not retried
// automatically; recovery is an operational task.
type DeadLetter struct {
	main   eventlog.Log
	sink   eventlog.Log
	group  string
	logger *utils.Logger
	now    func() time.Time
}

// NewDeadLetter creates a dead-letter sink. main is the log the poison
// message was read from; sink is the secondary log it is written to.
func NewDeadLetter(main, sink eventlog.Log, group string, logger *utils.Logger) *DeadLetter {
	if logger == nil {
		logger = utils.NewLogger("deadletter")
	}
	return &DeadLetter{main: main, sink: sink, group: group, logger: logger, now: time.Now}
}

// Sink appends the poison record, then acks the original message id on the
// main log. Acknowledgment comes second: if the sink append fails, the
// original stays pending and will be redelivered.
func (d *DeadLetter) Sink(ctx context.Context, originalID string, rawPayload []byte, cause error) error {
	rec := DeadLetterRecord{
		ID:                uuid.NewString(),
		OriginalMessageID: originalID,
		RawPayload:        rawPayload,
		Error:             cause.Error(),
		SunkAt:            d.now().UTC(),
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter record: %w", err)
	}

	if _, err := d.sink.Append(ctx, data); err != nil {
		return fmt.Errorf("failed to append to dead letter log: %w", err)
	}

	if err := d.main.Ack(ctx, d.group, originalID); err != nil {
		return fmt.Errorf("failed to ack dead-lettered message: %w", err)
	}

	d.logger.Warn("message dead-lettered", "message_id", originalID, "error", cause)
	return nil
}

// List returns up to max dead-letter records for inspection.
func (d *DeadLetter) List(ctx context.Context, max int) ([]DeadLetterRecord, error) {
	msgs, err := d.sink.Range(ctx, max)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letter records: %w", err)
	}

	recs := make([]DeadLetterRecord, 0, len(msgs))
	for _, msg := range msgs {
		var rec DeadLetterRecord
		if err := json.Unmarshal(msg.Payload, &rec); err != nil {
			continue // skip malformed entries
		}
		recs = append(recs, rec)
	}
	return recs, nil
}
