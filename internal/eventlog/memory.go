package eventlog

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryLog implements Log in process memory with the same delivery
// semantics as the Redis backend. Data does not survive a restart; use it
// for standalone deployments and tests.
type MemoryLog struct {
	mu      sync.Mutex
	maxLen  int
	seq     int64
	entries []memEntry
	groups  map[string]*memGroup
	notify  chan struct{}
	closed  bool
}

type memEntry struct {
	seq     int64
	id      string
	payload []byte
}

type memGroup struct {
	// next is the lowest sequence number not yet delivered to any
	// consumer in the group.
	next    int64
	pending map[string]*memPending
}

type memPending struct {
	seq         int64
	msg         Message
	consumer    string
	deliveredAt time.Time
	deliveries  int
}

// NewMemoryLog creates an in-memory log. maxLen bounds the number of
// retained entries; 0 disables trimming.
func NewMemoryLog(maxLen int) *MemoryLog {
	return &MemoryLog{
		maxLen: maxLen,
		groups: make(map[string]*memGroup),
		notify: make(chan struct{}),
	}
}

// Append adds one payload and returns its assigned id.
func (l *MemoryLog) Append(ctx context.Context, payload []byte) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return "", ErrClosed
	}
	return l.append(payload), nil
}

// AppendBatch appends all payloads atomically.
func (l *MemoryLog) AppendBatch(ctx context.Context, payloads [][]byte) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrClosed
	}

	ids := make([]string, len(payloads))
	for i, payload := range payloads {
		ids[i] = l.append(payload)
	}
	return ids, nil
}

// append assumes l.mu is held.
func (l *MemoryLog) append(payload []byte) string {
	l.seq++
	id := fmt.Sprintf("%d-0", l.seq)
	buf := make([]byte, len(payload))
	copy(buf, payload)
	l.entries = append(l.entries, memEntry{seq: l.seq, id: id, payload: buf})

	if l.maxLen > 0 && len(l.entries) > l.maxLen {
		l.entries = l.entries[len(l.entries)-l.maxLen:]
	}

	// Wake blocked readers.
	close(l.notify)
	l.notify = make(chan struct{})
	return id
}

// EnsureGroup registers group starting from the beginning of the log.
func (l *MemoryLog) EnsureGroup(ctx context.Context, group string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	if _, ok := l.groups[group]; !ok {
		l.groups[group] = &memGroup{next: 1, pending: make(map[string]*memPending)}
	}
	return nil
}

// ReadGroup claims up to count undelivered messages for consumer, blocking
// up to block if none are available.
func (l *MemoryLog) ReadGroup(ctx context.Context, group, consumer string, count int, block time.Duration) ([]Message, error) {
	deadline := time.Now().Add(block)

	for {
		l.mu.Lock()
		if l.closed {
			l.mu.Unlock()
			return nil, ErrClosed
		}
		g, ok := l.groups[group]
		if !ok {
			l.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrNoGroup, group)
		}

		var msgs []Message
		now := time.Now()
		for _, e := range l.entries {
			if e.seq < g.next {
				continue
			}
			msg := Message{ID: e.id, Payload: e.payload}
			g.pending[e.id] = &memPending{
				seq:         e.seq,
				msg:         msg,
				consumer:    consumer,
				deliveredAt: now,
				deliveries:  1,
			}
			g.next = e.seq + 1
			msgs = append(msgs, msg)
			if len(msgs) >= count {
				break
			}
		}
		notify := l.notify
		l.mu.Unlock()

		if len(msgs) > 0 {
			return msgs, nil
		}

		wait := time.Until(deadline)
		if block <= 0 || wait <= 0 {
			return nil, nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-notify:
			timer.Stop()
		case <-timer.C:
			return nil, nil
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}
}

// Claim transfers messages pending longer than minIdle to consumer.
func (l *MemoryLog) Claim(ctx context.Context, group, consumer string, minIdle time.Duration, count int) ([]Message, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrClosed
	}
	g, ok := l.groups[group]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoGroup, group)
	}

	now := time.Now()
	var idle []*memPending
	for _, p := range g.pending {
		if now.Sub(p.deliveredAt) >= minIdle {
			idle = append(idle, p)
		}
	}
	sort.Slice(idle, func(i, j int) bool { return idle[i].seq < idle[j].seq })
	if count > 0 && len(idle) > count {
		idle = idle[:count]
	}

	msgs := make([]Message, 0, len(idle))
	for _, p := range idle {
		p.consumer = consumer
		p.deliveredAt = now
		p.deliveries++
		msgs = append(msgs, p.msg)
	}
	return msgs, nil
}

// Ack removes ids from the group's pending set.
func (l *MemoryLog) Ack(ctx context.Context, group string, ids ...string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	g, ok := l.groups[group]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoGroup, group)
	}
	for _, id := range ids {
		delete(g.pending, id)
	}
	return nil
}

// Range returns up to count messages from the start of the log.
func (l *MemoryLog) Range(ctx context.Context, count int) ([]Message, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrClosed
	}

	n := len(l.entries)
	if count > 0 && n > count {
		n = count
	}
	msgs := make([]Message, 0, n)
	for _, e := range l.entries[:n] {
		msgs = append(msgs, Message{ID: e.id, Payload: e.payload})
	}
	return msgs, nil
}

// Len returns the number of retained entries.
func (l *MemoryLog) Len(ctx context.Context) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0, ErrClosed
	}
	return int64(len(l.entries)), nil
}

// Close shuts the log down; all subsequent operations fail with ErrClosed.
func (l *MemoryLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.closed = true
		close(l.notify)
	}
	return nil
}
