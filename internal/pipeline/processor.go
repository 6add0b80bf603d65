package pipeline

import (
	"encoding/json"
	"fmt"
	"time"

	"agent_trace/internal/eventlog"
	"agent_trace/internal/models"
	"agent_trace/internal/utils"
)

// ProcessingError marks a log message that cannot be turned into a
// canonical trace record under any retry. Such poison messages are routed
// to the dead-letter sink instead of being retried indefinitely.
type ProcessingError struct {
	MessageID string
	Err       error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("cannot process message %s: %v", e.MessageID, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }

// Processed pairs a rebuilt trace record with the log message it came from,
// so the coordinator can acknowledge the right id after persistence.
type Processed struct {
	MessageID string
	Record    *models.TraceRecord
}

// Failure pairs a poison message with the reason it could not be processed.
type Failure struct {
	Message eventlog.Message
	Err     error
}

// Processor deserializes raw log entries into canonical trace records.
// Repairable anomalies (unparseable timestamp, unrecognized status) are
// corrected with a warning; unparseable payloads and missing identity
// fields are poison.
type Processor struct {
	logger *utils.Logger
	now    func() time.Time
}

// NewProcessor creates a processor.
func NewProcessor(logger *utils.Logger) *Processor {
	if logger == nil {
		logger = utils.NewLogger("processor")
	}
	return &Processor{logger: logger, now: time.Now}
}

// Process rebuilds one trace record from a log message. A non-nil error is
// always a *ProcessingError.
func (p *Processor) Process(msg eventlog.Message) (*models.TraceRecord, error) {
	var raw models.RawTrace
	if err := json.Unmarshal(msg.Payload, &raw); err != nil {
		return nil, &ProcessingError{MessageID: msg.ID, Err: fmt.Errorf("unparseable payload: %w", err)}
	}

	rec, warnings, err := raw.Normalize(p.now())
	if err != nil {
		return nil, &ProcessingError{MessageID: msg.ID, Err: err}
	}
	for _, w := range warnings {
		p.logger.Warn("repaired trace during processing", "message_id", msg.ID, "trace_id", rec.TraceID, "warning", w)
	}
	return rec, nil
}

// ProcessBatch partitions a batch into processed records and poison
// failures. Failures never block successes in the same batch.
func (p *Processor) ProcessBatch(msgs []eventlog.Message) ([]Processed, []Failure) {
	var processed []Processed
	var failed []Failure

	for _, msg := range msgs {
		rec, err := p.Process(msg)
		if err != nil {
			failed = append(failed, Failure{Message: msg, Err: err})
			continue
		}
		processed = append(processed, Processed{MessageID: msg.ID, Record: rec})
	}
	return processed, failed
}
