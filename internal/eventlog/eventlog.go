package eventlog

import (
	"context"
	"errors"
	"time"
)

// Package eventlog provides a durable, append-only, bounded FIFO log with
// competing-consumer (consumer group) delivery. Two backends implement the
// same interface:
//
//  1. Redis Streams (RedisLog): persistent, supports distributed workers,
//     the production backend.
//  2. In-memory (MemoryLog): no persistence, zero external dependencies,
//     for standalone deployments and tests.
//
// Delivery semantics, common to both backends:
//   - each message is delivered to exactly one consumer within a group and
//     stays pending until acknowledged;
//   - unacknowledged messages become claimable again after a minimum idle
//     time (Claim), which is what provides at-least-once delivery across
//     worker crashes;
//   - appends past the configured maximum length trim the oldest entries:
//     the log is a bounded buffer, not an archive.

// Message is one log entry as seen by a consumer: the log-assigned
// monotonic id plus the opaque payload appended by the producer.
type Message struct {
	ID      string
	Payload []byte
}

var (
	// ErrClosed is returned when operating on a closed log.
	ErrClosed = errors.New("event log is closed")

	// ErrNoGroup is returned when reading on behalf of a consumer group
	// that was never created.
	ErrNoGroup = errors.New("consumer group does not exist")
)

// Log is the event log protocol. A Log handle is bound to a single stream;
// the dead-letter sink is simply a second handle with no length bound.
type Log interface {
	// Append adds one payload to the log and returns its assigned id.
	Append(ctx context.Context, payload []byte) (string, error)

	// AppendBatch appends all payloads as a single pipelined operation.
	// Partial failure surfaces as one error for the whole batch.
	AppendBatch(ctx context.Context, payloads [][]byte) ([]string, error)

	// EnsureGroup creates the consumer group starting from the beginning
	// of the log. Idempotent: an existing group is reused as-is.
	EnsureGroup(ctx context.Context, group string) error

	// ReadGroup claims up to count undelivered messages for consumer
	// within group, blocking up to block if none are available. A timeout
	// yields an empty batch, not an error. block <= 0 means do not wait.
	ReadGroup(ctx context.Context, group, consumer string, count int, block time.Duration) ([]Message, error)

	// Claim transfers up to count messages that have been pending longer
	// than minIdle to consumer, making crashed workers' messages
	// redeliverable.
	Claim(ctx context.Context, group, consumer string, minIdle time.Duration, count int) ([]Message, error)

	// Ack marks messages as durably processed, removing them from the
	// group's pending set.
	Ack(ctx context.Context, group string, ids ...string) error

	// Range returns up to count messages from the start of the log,
	// ignoring group state. Used for out-of-band inspection.
	Range(ctx context.Context, count int) ([]Message, error)

	// Len returns the current number of entries in the log.
	Len(ctx context.Context) (int64, error)

	Close() error
}
