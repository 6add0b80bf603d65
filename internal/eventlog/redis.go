package eventlog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const payloadField = "payload"

// Config holds Redis event log settings.
type Config struct {
	// Addr is the Redis server address.
	Addr string

	// Password is the Redis password, empty for none.
	Password string

	// DB is the Redis database number.
	DB int

	// Stream is the stream key this log handle is bound to.
	Stream string

	// MaxLen bounds the stream length; appends past it trim the oldest
	// entries. 0 disables trimming (dead-letter streams).
	MaxLen int64
}

// RedisLog implements Log on a Redis Stream. The go-redis client pools
// connections internally, so a single RedisLog is safe for concurrent use
// from independent request-handling contexts.
type RedisLog struct {
	client *redis.Client
	stream string
	maxLen int64
	shared bool
}

// NewRedisLog connects to Redis and binds a log handle to cfg.Stream.
func NewRedisLog(cfg Config) (*RedisLog, error) {
	if cfg.Stream == "" {
		return nil, fmt.Errorf("stream name is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisLog{client: client, stream: cfg.Stream, maxLen: cfg.MaxLen}, nil
}

// NewRedisLogWith binds a log handle to stream on an existing client. The
// caller keeps ownership of the client; Close is then a no-op. Used for the
// dead-letter stream, which shares the main log's connection pool.
func NewRedisLogWith(client *redis.Client, stream string, maxLen int64) *RedisLog {
	return &RedisLog{client: client, stream: stream, maxLen: maxLen, shared: true}
}

// Client exposes the underlying Redis client so a second stream handle can
// share the connection pool.
func (l *RedisLog) Client() *redis.Client {
	return l.client
}

func (l *RedisLog) addArgs(payload []byte) *redis.XAddArgs {
	args := &redis.XAddArgs{
		Stream: l.stream,
		Values: map[string]any{payloadField: payload},
	}
	if l.maxLen > 0 {
		// Exact trimming: the length bound is a contract, not a hint.
		args.MaxLen = l.maxLen
	}
	return args
}

// Append adds one payload and returns the stream-assigned id.
func (l *RedisLog) Append(ctx context.Context, payload []byte) (string, error) {
	id, err := l.client.XAdd(ctx, l.addArgs(payload)).Result()
	if err != nil {
		return "", fmt.Errorf("failed to append to stream %s: %w", l.stream, err)
	}
	return id, nil
}

// AppendBatch appends all payloads in one pipelined round trip.
func (l *RedisLog) AppendBatch(ctx context.Context, payloads [][]byte) ([]string, error) {
	if len(payloads) == 0 {
		return nil, nil
	}

	pipe := l.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(payloads))
	for i, payload := range payloads {
		cmds[i] = pipe.XAdd(ctx, l.addArgs(payload))
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to append batch to stream %s: %w", l.stream, err)
	}

	ids := make([]string, len(cmds))
	for i, cmd := range cmds {
		ids[i] = cmd.Val()
	}
	return ids, nil
}

// EnsureGroup creates group from the beginning of the stream, creating the
// stream itself if it does not exist yet. Reuses an existing group.
func (l *RedisLog) EnsureGroup(ctx context.Context, group string) error {
	err := l.client.XGroupCreateMkStream(ctx, l.stream, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group %s: %w", group, err)
	}
	return nil
}

// ReadGroup claims up to count undelivered messages for consumer.
func (l *RedisLog) ReadGroup(ctx context.Context, group, consumer string, count int, block time.Duration) ([]Message, error) {
	args := &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{l.stream, ">"},
		Count:    int64(count),
		Block:    block,
	}
	if block <= 0 {
		args.Block = -1 // non-blocking; zero would block forever
	}

	streams, err := l.client.XReadGroup(ctx, args).Result()
	if err == redis.Nil {
		return nil, nil // nothing available before the block timeout
	}
	if err != nil {
		if strings.Contains(err.Error(), "NOGROUP") {
			return nil, fmt.Errorf("%w: %s on stream %s", ErrNoGroup, group, l.stream)
		}
		return nil, fmt.Errorf("failed to read from stream %s: %w", l.stream, err)
	}

	var msgs []Message
	for _, s := range streams {
		for _, xm := range s.Messages {
			msgs = append(msgs, Message{ID: xm.ID, Payload: payloadOf(xm)})
		}
	}
	return msgs, nil
}

// Claim transfers messages pending longer than minIdle to consumer.
func (l *RedisLog) Claim(ctx context.Context, group, consumer string, minIdle time.Duration, count int) ([]Message, error) {
	claimed, _, err := l.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   l.stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Start:    "0-0",
		Count:    int64(count),
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim pending messages: %w", err)
	}

	msgs := make([]Message, 0, len(claimed))
	for _, xm := range claimed {
		msgs = append(msgs, Message{ID: xm.ID, Payload: payloadOf(xm)})
	}
	return msgs, nil
}

// Ack removes ids from the group's pending set.
func (l *RedisLog) Ack(ctx context.Context, group string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := l.client.XAck(ctx, l.stream, group, ids...).Err(); err != nil {
		return fmt.Errorf("failed to ack messages: %w", err)
	}
	return nil
}

// Range returns up to count messages from the start of the stream.
func (l *RedisLog) Range(ctx context.Context, count int) ([]Message, error) {
	entries, err := l.client.XRangeN(ctx, l.stream, "-", "+", int64(count)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to range stream %s: %w", l.stream, err)
	}

	msgs := make([]Message, 0, len(entries))
	for _, xm := range entries {
		msgs = append(msgs, Message{ID: xm.ID, Payload: payloadOf(xm)})
	}
	return msgs, nil
}

// Len returns the current stream length.
func (l *RedisLog) Len(ctx context.Context) (int64, error) {
	n, err := l.client.XLen(ctx, l.stream).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get stream length: %w", err)
	}
	return n, nil
}

// Close releases the Redis client unless it is shared with another handle.
func (l *RedisLog) Close() error {
	if l.shared {
		return nil
	}
	return l.client.Close()
}

func payloadOf(xm redis.XMessage) []byte {
	switch v := xm.Values[payloadField].(type) {
	case string:
		return []byte(v)
	case []byte:
		return v
	default:
		return nil
	}
}
