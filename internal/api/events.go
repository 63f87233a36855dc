package api

import (
	"context"
	"sync"

	"github.com/ibeckermayer/unrepost/internal/bridge"
)

// DefaultEventLogSize is how many events /api/events can return.
const DefaultEventLogSize = 100

// EventLog keeps the last N messages seen on the bus.
type EventLog struct {
	mu   sync.Mutex
	buf  []bridge.Message
	next int
	full bool
}

// NewEventLog creates a ring of the given size.
func NewEventLog(size int) *EventLog {
	if size < 1 {
		size = DefaultEventLogSize
	}
	return &EventLog{buf: make([]bridge.Message, size)}
}

// Cap returns the ring size.
func (l *EventLog) Cap() int {
	return len(l.buf)
}

// Add appends msg, overwriting the oldest entry when full.
func (l *EventLog) Add(msg bridge.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf[l.next] = msg
	l.next = (l.next + 1) % len(l.buf)
	if l.next == 0 {
		l.full = true
	}
}

// Last returns up to n messages, oldest first.
func (l *EventLog) Last(n int) []bridge.Message {
	l.mu.Lock()
	defer l.mu.Unlock()

	size := l.next
	if l.full {
		size = len(l.buf)
	}
	if n > size {
		n = size
	}
	out := make([]bridge.Message, 0, n)
	for i := size - n; i < size; i++ {
		idx := i
		if l.full {
			idx = (l.next + i) % len(l.buf)
		}
		out = append(out, l.buf[idx])
	}
	return out
}

// Run records messages until the channel closes or ctx ends.
func (l *EventLog) Run(ctx context.Context, msgs <-chan bridge.Message) error {
	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			l.Add(msg)
		case <-ctx.Done():
			return nil
		}
	}
}
