package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"agent_trace/internal/eventlog"
	"agent_trace/internal/models"
)

// ErrLogUnavailable is returned when the event log cannot be reached. The
// record is not buffered anywhere else on this path; the caller must retry.
var ErrLogUnavailable = errors.New("event log unavailable")

// Publisher serializes canonical trace records and appends them to the
// event log. Safe for concurrent use: the log client is the only shared
// resource and is internally synchronized.
type Publisher struct {
	log eventlog.Log
}

// NewPublisher creates a publisher over the given event log.
func NewPublisher(log eventlog.Log) *Publisher {
	return &Publisher{log: log}
}

// Publish appends one record and returns the log-assigned message id.
func (p *Publisher) Publish(ctx context.Context, rec *models.TraceRecord) (string, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("failed to marshal trace record: %w", err)
	}

	id, err := p.log.Append(ctx, payload)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrLogUnavailable, err)
	}
	return id, nil
}

// PublishBatch appends all records as one pipelined operation. A failure of
// the pipelined append is surfaced as a single error for the whole batch;
// there is no partial-success contract at this call.
func (p *Publisher) PublishBatch(ctx context.Context, recs []*models.TraceRecord) ([]string, error) {
	if len(recs) == 0 {
		return nil, nil
	}

	payloads := make([][]byte, len(recs))
	for i, rec := range recs {
		data, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal trace record %d: %w", i, err)
		}
		payloads[i] = data
	}

	ids, err := p.log.AppendBatch(ctx, payloads)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLogUnavailable, err)
	}
	return ids, nil
}
