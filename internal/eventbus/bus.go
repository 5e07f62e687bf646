package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by tickpoll.
const (
	TypePeriodFired   = "period.fired"
	TypePollerTick    = "poller.tick"
	TypeConfigApplied = "config.applied"
)

// Event is a lightweight, in-memory signal used to decouple components.
//
// Contract:
//   - Publish never blocks.
//   - Subscribers get buffered channels.
//   - Slow subscribers drop events; Dropped counts them.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// PeriodFired is the Data of a TypePeriodFired event.
type PeriodFired struct {
	Name   string
	Period time.Duration
	Delay  time.Duration
	Action string
}

// PollerTick is the Data of a TypePollerTick event.
type PollerTick struct {
	Fired   int
	Polling time.Duration
	Late    time.Duration
}

// ConfigApplied is the Data of a TypeConfigApplied event.
type ConfigApplied struct {
	Sections []string
	Periods  int
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
	Dropped() uint64
}

// New returns an in-memory fanout bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Event
	seq     atomic.Uint64
	dropped atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Sending under the read lock keeps Unsubscribe (write lock) from
	// closing a channel mid-send; sends are non-blocking so this is short.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
	return ch, unsub
}

func (b *memBus) Dropped() uint64 { return b.dropped.Load() }
