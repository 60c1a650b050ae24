// Package local is the same-machine fallback path: a broadcast bus for
// clients sharing one process, and a shared-storage slot for clients on one
// machine without a live relay connection.
//
// The bus never queues: if a subscriber's channel is full the document is
// dropped for that subscriber only. A later document supersedes it anyway.
package local

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/okdaichi/overlaysync/internal/document"
)

var (
	// ErrSubscriberExists is returned when Subscribe is called with a duplicate id.
	ErrSubscriberExists = errors.New("subscriber id already exists")

	// ErrSubscriberNotFound is returned when Unsubscribe is called with unknown id.
	ErrSubscriberNotFound = errors.New("subscriber id not found")
)

// DefaultBus is the process-wide bus, the equivalent of one named
// browser broadcast channel.
var DefaultBus = NewBus()

// Message is one broadcast document and the id of the client that posted it.
type Message struct {
	From     string
	Document document.Document
}

// BusStats is a snapshot of bus counters.
type BusStats struct {
	Posted      uint64
	Sent        uint64
	Dropped     uint64
	Subscribers int
}

// Bus fans documents out to same-process subscribers. It is safe for
// concurrent use.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]chan<- Message

	posted  atomic.Uint64
	sent    atomic.Uint64
	dropped atomic.Uint64
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[string]chan<- Message)}
}

// Subscribe registers ch under id.
func (b *Bus) Subscribe(id string, ch chan<- Message) error {
	if ch == nil {
		return errors.New("subscriber channel cannot be nil")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subscribers[id]; exists {
		return ErrSubscriberExists
	}

	b.subscribers[id] = ch
	return nil
}

// Unsubscribe removes the subscriber registered under id.
func (b *Bus) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subscribers[id]; !exists {
		return ErrSubscriberNotFound
	}

	delete(b.subscribers, id)
	return nil
}

// Post delivers doc to every subscriber except from. It never blocks.
func (b *Bus) Post(from string, doc document.Document) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	b.posted.Add(1)

	msg := Message{From: from, Document: doc}
	for id, ch := range b.subscribers {
		if id == from {
			continue
		}
		select {
		case ch <- msg:
			b.sent.Add(1)
		default:
			b.dropped.Add(1)
		}
	}
}

// Stats returns current counters.
func (b *Bus) Stats() BusStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return BusStats{
		Posted:      b.posted.Load(),
		Sent:        b.sent.Load(),
		Dropped:     b.dropped.Load(),
		Subscribers: len(b.subscribers),
	}
}
