package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics tracks ingest and pipeline statistics. A nil
// *PipelineMetrics is valid and records nothing, so library users without a
// registry pay no cost.
type PipelineMetrics struct {
	recordsPublished    prometheus.Counter
	recordsRejected     prometheus.Counter
	publishFailures     prometheus.Counter
	batchesProcessed    prometheus.Counter
	recordsPersisted    prometheus.Counter
	recordsWriteFailed  prometheus.Counter
	recordsDeadLettered prometheus.Counter
	batchDuration       prometheus.Histogram

	registerer prometheus.Registerer
	registered bool
}

func newCounter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "agent_trace",
		Subsystem: "pipeline",
		Name:      name,
		Help:      help,
	})
}

// New creates a metrics collector. registerer may be nil to use the default
// Prometheus registerer.
func New(registerer prometheus.Registerer) *PipelineMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &PipelineMetrics{
		registerer:          registerer,
		recordsPublished:    newCounter("records_published_total", "Records accepted and appended to the event log"),
		recordsRejected:     newCounter("records_rejected_total", "Records rejected by validation before enqueue"),
		publishFailures:     newCounter("publish_failures_total", "Appends that failed because the event log was unreachable"),
		batchesProcessed:    newCounter("batches_processed_total", "Consumer batches taken through the pipeline"),
		recordsPersisted:    newCounter("records_persisted_total", "Records written to the trace store"),
		recordsWriteFailed:  newCounter("records_write_failed_total", "Records that failed the per-row write fallback"),
		recordsDeadLettered: newCounter("records_dead_lettered_total", "Poison messages routed to the dead-letter stream"),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "agent_trace",
			Subsystem: "pipeline",
			Name:      "batch_duration_seconds",
			Help:      "Wall time of one read-process-write-ack cycle",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		}),
	}
}

// Register registers the collectors. Safe to call multiple times.
func (m *PipelineMetrics) Register() error {
	if m == nil || m.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		m.recordsPublished,
		m.recordsRejected,
		m.publishFailures,
		m.batchesProcessed,
		m.recordsPersisted,
		m.recordsWriteFailed,
		m.recordsDeadLettered,
		m.batchDuration,
	}
	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}

	m.registered = true
	return nil
}

func (m *PipelineMetrics) RecordsPublished(n int) {
	if m != nil {
		m.recordsPublished.Add(float64(n))
	}
}

func (m *PipelineMetrics) RecordsRejected(n int) {
	if m != nil {
		m.recordsRejected.Add(float64(n))
	}
}

func (m *PipelineMetrics) PublishFailure() {
	if m != nil {
		m.publishFailures.Inc()
	}
}

func (m *PipelineMetrics) BatchProcessed(d time.Duration) {
	if m != nil {
		m.batchesProcessed.Inc()
		m.batchDuration.Observe(d.Seconds())
	}
}

func (m *PipelineMetrics) RecordsPersisted(n int) {
	if m != nil {
		m.recordsPersisted.Add(float64(n))
	}
}

func (m *PipelineMetrics) RecordsWriteFailed(n int) {
	if m != nil {
		m.recordsWriteFailed.Add(float64(n))
	}
}

func (m *PipelineMetrics) RecordDeadLettered() {
	if m != nil {
		m.recordsDeadLettered.Inc()
	}
}
