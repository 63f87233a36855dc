package bridge

import (
	"sync"
	"time"
)

// Deduper drops repeats of the same message within a short window. Surfaces
// that attach several listeners would otherwise double-count events.
type Deduper struct {
	mu     sync.Mutex
	window time.Duration
	seen   map[string]time.Time
	now    func() time.Time
}

// NewDeduper returns a Deduper with the given window.
func NewDeduper(window time.Duration) *Deduper {
	return &Deduper{
		window: window,
		seen:   make(map[string]time.Time),
		now:    time.Now,
	}
}

// Key identifies a message for deduplication: the correlation ID when the
// sender set one, otherwise the sender.
func Key(m Message) string {
	if m.CorrelationID != "" {
		return m.Action + "|c:" + m.CorrelationID
	}
	return m.Action + "|s:" + m.SenderID
}

// Allow reports whether m should be processed, recording it if so.
func (d *Deduper) Allow(m Message) bool {
	if d.window <= 0 {
		return true
	}
	key := Key(m)
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	if last, ok := d.seen[key]; ok && now.Sub(last) < d.window {
		return false
	}
	d.seen[key] = now

	for k, t := range d.seen {
		if now.Sub(t) > d.window {
			delete(d.seen, k)
		}
	}
	return true
}
