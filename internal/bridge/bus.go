package bridge

import (
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Emitter publishes outbound events.
type Emitter interface {
	Emit(action string, payload map[string]any)
}

type subscription struct {
	ch   chan Message
	done chan struct{}
}

// Bus is an ordered pub/sub channel with deduplication as its first stage.
// Publish delivers to every subscriber in publish order and blocks until
// each has buffer room, so events are never reordered or silently lost.
type Bus struct {
	mu         sync.Mutex
	subs       map[int]*subscription
	next       int
	dedup      *Deduper
	buffer     int
	instanceID string
	log        *logrus.Entry
}

// NewBus creates a bus. buffer sizes each subscriber's channel.
func NewBus(dedupWindow time.Duration, buffer int) *Bus {
	if buffer < 1 {
		buffer = 1
	}
	return &Bus{
		subs:       make(map[int]*subscription),
		dedup:      NewDeduper(dedupWindow),
		buffer:     buffer,
		instanceID: uuid.NewString(),
		log:        logrus.WithField("component", "bridge"),
	}
}

// InstanceID identifies this bus as a sender.
func (b *Bus) InstanceID() string {
	return b.instanceID
}

// Emit stamps and publishes a new event from this instance.
func (b *Bus) Emit(action string, payload map[string]any) {
	b.Publish(Message{
		Action:        action,
		Payload:       payload,
		Timestamp:     time.Now(),
		CorrelationID: uuid.NewString(),
		SenderID:      b.instanceID,
	})
}

// Publish delivers msg unless it duplicates a recent message. It reports
// whether the message was delivered.
func (b *Bus) Publish(msg Message) bool {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	if !b.dedup.Allow(msg) {
		b.log.WithField("action", msg.Action).Debug("Dropped duplicate message")
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	ids := make([]int, 0, len(b.subs))
	for id := range b.subs {
		ids = append(ids, id)
	}
	slices.Sort(ids) // subscription order
	for _, id := range ids {
		sub := b.subs[id]
		select {
		case sub.ch <- msg:
		case <-sub.done:
		}
	}
	return true
}

// Subscribe returns a channel of every delivered message and a cancel func.
// Subscribers must drain the channel promptly.
func (b *Bus) Subscribe() (<-chan Message, func()) {
	sub := &subscription{
		ch:   make(chan Message, b.buffer),
		done: make(chan struct{}),
	}

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = sub
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(sub.done) // unblocks a Publish waiting on this subscriber
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(sub.ch)
		})
	}
	return sub.ch, cancel
}
