package ingest

import (
	"context"
	"time"

	"agent_trace/internal/metrics"
	"agent_trace/internal/models"
	"agent_trace/internal/utils"
)

// Service is the library-level ingest API consumed by the edge: validate,
// normalize and enqueue. Everything past a successful enqueue is an
// internal reliability concern of the pipeline, not a caller-visible error.
type Service struct {
	pub     *Publisher
	logger  *utils.Logger
	metrics *metrics.PipelineMetrics
	now     func() time.Time
}

// SubmitResult reports the outcome of a single-record submission.
type SubmitResult struct {
	Accepted  bool
	MessageID string
}

// NewService creates an ingest service. metrics may be nil.
func NewService(pub *Publisher, logger *utils.Logger, m *metrics.PipelineMetrics) *Service {
	if logger == nil {
		logger = utils.NewLogger("ingest")
	}
	return &Service{pub: pub, logger: logger, metrics: m, now: time.Now}
}

// Submit validates one raw trace and appends it to the event log. A
// *models.ValidationError means the payload was rejected before enqueue;
// ErrLogUnavailable means the log could not be reached and the caller must
// retry.
func (s *Service) Submit(ctx context.Context, raw *models.RawTrace) (SubmitResult, error) {
	rec, warnings, err := raw.Normalize(s.now())
	if err != nil {
		s.metrics.RecordsRejected(1)
		return SubmitResult{}, err
	}
	for _, w := range warnings {
		s.logger.Warn("trace normalized", "trace_id", rec.TraceID, "warning", w)
	}

	id, err := s.pub.Publish(ctx, rec)
	if err != nil {
		s.metrics.PublishFailure()
		return SubmitResult{}, err
	}

	s.metrics.RecordsPublished(1)
	return SubmitResult{Accepted: true, MessageID: id}, nil
}

// SubmitBatch validates each record independently: one invalid record never
// aborts the batch. All valid records are appended in a single pipelined
// operation; if that append fails the whole call errors and nothing is
// reported accepted.
func (s *Service) SubmitBatch(ctx context.Context, raws []*models.RawTrace) (*models.BatchResult, error) {
	result := &models.BatchResult{}
	recs := make([]*models.TraceRecord, 0, len(raws))

	now := s.now()
	for i, raw := range raws {
		rec, warnings, err := raw.Normalize(now)
		if err != nil {
			result.Rejected++
			result.Errors = append(result.Errors, models.BatchError{
				Index:   i,
				TraceID: raw.TraceID,
				Error:   err.Error(),
			})
			continue
		}
		for _, w := range warnings {
			s.logger.Warn("trace normalized", "trace_id", rec.TraceID, "warning", w)
		}
		recs = append(recs, rec)
	}

	if _, err := s.pub.PublishBatch(ctx, recs); err != nil {
		s.metrics.PublishFailure()
		return nil, err
	}

	result.Accepted = len(recs)
	s.metrics.RecordsPublished(result.Accepted)
	s.metrics.RecordsRejected(result.Rejected)
	return result, nil
}
