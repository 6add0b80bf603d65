package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"agent_trace/internal/eventlog"
	"agent_trace/internal/metrics"
	"agent_trace/internal/models"
	"agent_trace/internal/utils"
)

// State is the coordinator lifecycle: STARTING -> RUNNING <-> DRAINING ->
// STOPPED.
type State int32

const (
	StateStarting State = iota
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// Writer persists canonical trace records. Connect is called once at
// coordinator startup; WriteBatch returns how many records were written and
// how many failed row-by-row. A non-nil error means the write pass as a
// whole could not run (store unreachable): nothing was persisted and the
// batch must not be acknowledged.
type Writer interface {
	Connect(ctx context.Context) error
	WriteBatch(ctx context.Context, recs []*models.TraceRecord) (written, failed int, err error)
	Close() error
}

// Config holds coordinator settings.
type Config struct {
	// Group is the consumer group name shared by all workers.
	Group string

	// Consumer is this worker's identity within the group.
	Consumer string

	// BatchSize is the maximum number of messages claimed per iteration.
	BatchSize int

	// BlockTimeout is how long a read blocks waiting for new messages.
	BlockTimeout time.Duration

	// VisibilityTimeout is how long a message may stay pending on a
	// crashed worker before another worker claims it.
	VisibilityTimeout time.Duration

	// ErrorBackoff is the pause after a transient per-batch failure.
	ErrorBackoff time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.BatchSize <= 0 {
		out.BatchSize = 100
	}
	if out.BlockTimeout <= 0 {
		out.BlockTimeout = 5 * time.Second
	}
	if out.VisibilityTimeout <= 0 {
		out.VisibilityTimeout = 30 * time.Second
	}
	if out.ErrorBackoff <= 0 {
		out.ErrorBackoff = time.Second
	}
	return out
}

// Coordinator wires reader, processor, writer and dead-letter sink into one
// continuous loop. Any number of workers may run the same loop under the
// same consumer group; the event log delivers each message to exactly one
// claimant at a time, so scale-out needs no external coordination.
type Coordinator struct {
	log     eventlog.Log
	proc    *Processor
	writer  Writer
	dlq     *DeadLetter
	cfg     Config
	logger  *utils.Logger
	metrics *metrics.PipelineMetrics

	state       atomic.Int32
	stopOnce    sync.Once
	stopChan    chan struct{}
	stoppedChan chan struct{}
}

// NewCoordinator creates a coordinator. metrics may be nil.
func NewCoordinator(log eventlog.Log, proc *Processor, writer Writer, dlq *DeadLetter, cfg Config, logger *utils.Logger, m *metrics.PipelineMetrics) *Coordinator {
	if logger == nil {
		logger = utils.NewLogger("trace-worker")
	}
	return &Coordinator{
		log:         log,
		proc:        proc,
		writer:      writer,
		dlq:         dlq,
		cfg:         cfg.withDefaults(),
		logger:      logger,
		metrics:     m,
		stopChan:    make(chan struct{}),
		stoppedChan: make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (c *Coordinator) State() State {
	return State(c.state.Load())
}

// Start establishes the store connection, registers the consumer group and
// launches the worker loop. A store or log failure here is fatal: startup
// aborts and nothing runs.
func (c *Coordinator) Start(ctx context.Context) error {
	c.state.Store(int32(StateStarting))

	if err := c.writer.Connect(ctx); err != nil {
		c.state.Store(int32(StateStopped))
		close(c.stoppedChan)
		return fmt.Errorf("store unreachable at startup: %w", err)
	}
	if err := c.log.EnsureGroup(ctx, c.cfg.Group); err != nil {
		c.writer.Close()
		c.state.Store(int32(StateStopped))
		close(c.stoppedChan)
		return fmt.Errorf("failed to register consumer group: %w", err)
	}

	c.state.Store(int32(StateRunning))
	c.logger.Info("pipeline running", "group", c.cfg.Group, "consumer", c.cfg.Consumer, "batch_size", c.cfg.BatchSize)

	go c.run(ctx)
	return nil
}

// Stop drains the coordinator: no new batches are claimed, the in-flight
// batch finishes, then the store connection is closed.
func (c *Coordinator) Stop() error {
	c.stopOnce.Do(func() {
		c.state.CompareAndSwap(int32(StateRunning), int32(StateDraining))
		close(c.stopChan)
	})
	<-c.stoppedChan
	return nil
}

func (c *Coordinator) run(ctx context.Context) {
	defer close(c.stoppedChan)
	defer c.state.Store(int32(StateStopped))
	defer func() {
		if err := c.writer.Close(); err != nil {
			c.logger.Error("failed to close store writer", "error", err)
		}
	}()

	for {
		select {
		case <-c.stopChan:
			c.logger.Info("worker drained, stopping")
			return
		case <-ctx.Done():
			c.state.CompareAndSwap(int32(StateRunning), int32(StateDraining))
			c.logger.Info("worker context cancelled")
			return
		default:
			c.runOnce(ctx)
		}
	}
}

// runOnce executes one read-process-write-ack cycle. Transient failures are
// logged and followed by a short backoff; the loop itself never exits on
// them.
func (c *Coordinator) runOnce(ctx context.Context) {
	msgs := c.claimTimedOut(ctx)
	if len(msgs) == 0 {
		var err error
		msgs, err = c.log.ReadGroup(ctx, c.cfg.Group, c.cfg.Consumer, c.cfg.BatchSize, c.cfg.BlockTimeout)
		if err != nil {
			c.logger.Error("failed to read batch", "error", err)
			c.backoff()
			return
		}
	}
	if len(msgs) == 0 {
		return // read already blocked up to its timeout
	}

	start := time.Now()
	processed, failed := c.proc.ProcessBatch(msgs)

	// Acknowledgment is always the last step per message: a crash before
	// it redelivers, and idempotent writes make redelivery harmless.
	var ackIDs []string

	if len(processed) > 0 {
		recs := make([]*models.TraceRecord, len(processed))
		for i, p := range processed {
			recs[i] = p.Record
		}

		written, rowFailures, err := c.writer.WriteBatch(ctx, recs)
		if err != nil {
			// Nothing persisted; leave the messages pending so they are
			// redelivered once the store recovers.
			c.logger.Error("write pass failed, batch stays pending", "count", len(recs), "error", err)
			c.backoff()
		} else {
			if rowFailures > 0 {
				c.logger.Warn("some rows failed individually", "written", written, "failed", rowFailures)
			}
			c.metrics.RecordsPersisted(written)
			c.metrics.RecordsWriteFailed(rowFailures)
			for _, p := range processed {
				ackIDs = append(ackIDs, p.MessageID)
			}
		}
	}

	for _, f := range failed {
		// Sink acks the original internally once the poison record is
		// durably captured.
		if err := c.dlq.Sink(ctx, f.Message.ID, f.Message.Payload, f.Err); err != nil {
			c.logger.Error("failed to dead-letter message", "message_id", f.Message.ID, "error", err)
			continue
		}
		c.metrics.RecordDeadLettered()
	}

	if len(ackIDs) > 0 {
		if err := c.log.Ack(ctx, c.cfg.Group, ackIDs...); err != nil {
			c.logger.Error("failed to ack batch", "count", len(ackIDs), "error", err)
		}
	}

	c.metrics.BatchProcessed(time.Since(start))
}

// claimTimedOut picks up messages another worker claimed but never
// acknowledged within the visibility timeout.
func (c *Coordinator) claimTimedOut(ctx context.Context) []eventlog.Message {
	msgs, err := c.log.Claim(ctx, c.cfg.Group, c.cfg.Consumer, c.cfg.VisibilityTimeout, c.cfg.BatchSize)
	if err != nil {
		c.logger.Error("failed to claim pending messages", "error", err)
		return nil
	}
	if len(msgs) > 0 {
		c.logger.Info("claimed timed-out messages", "count", len(msgs))
	}
	return msgs
}

func (c *Coordinator) backoff() {
	timer := time.NewTimer(c.cfg.ErrorBackoff)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-c.stopChan:
	}
}
