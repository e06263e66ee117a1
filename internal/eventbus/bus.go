// Package eventbus is a small in-memory fanout used to decouple the delivery
// core from reporting (admin summaries, logs).
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by versebot.
const (
	// FanoutFinished carries a fanout.Summary.
	FanoutFinished = "fanout.finished"
	// RecipientRegistered carries the new identity string.
	RecipientRegistered = "recipient.registered"
)

// Event is a lightweight signal.
//
// Contract:
//   - Publish never blocks.
//   - Subscribers get buffered channels; a slow subscriber drops events.
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int, types ...string) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]*sub{}}
}

type sub struct {
	ch    chan Event
	types map[string]bool // empty means all
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]*sub
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Deliver under the read lock: unsubscribe takes the write lock before
	// closing, so a send never hits a closed channel.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if len(s.types) > 0 && !s.types[e.Type] {
			continue
		}
		select {
		case s.ch <- e:
		default:
		}
	}
}

func (b *memBus) Subscribe(buffer int, types ...string) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	s := &sub{ch: make(chan Event, buffer), types: map[string]bool{}}
	for _, t := range types {
		s.types[t] = true
	}
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = s
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(s.ch)
			b.mu.Unlock()
		})
	}
}
