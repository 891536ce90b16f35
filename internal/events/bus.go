package events

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"time"
)

// Bus dispatches events to registered handlers and to channel subscribers.
// Handlers run synchronously in priority order; subscribers receive events
// on buffered channels and are dropped-to rather than blocked-on, so a slow
// consumer cannot stall a sync run.
type Bus struct {
	mu          sync.RWMutex
	handlers    []Handler
	subscribers map[int]chan *Event
	nextSubID   int
	errWriter   io.Writer
}

// New creates a bus. Handler errors are reported to errWriter; pass nil to
// discard them.
func New(errWriter io.Writer) *Bus {
	return &Bus{
		subscribers: make(map[int]chan *Event),
		errWriter:   errWriter,
	}
}

// Register adds a handler. Handlers are sorted by priority on each dispatch,
// so registration order does not matter.
func (b *Bus) Register(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Subscribe returns a channel receiving every subsequent event and a cancel
// function that closes it. Events are dropped when the channel buffer is
// full.
func (b *Bus) Subscribe(buffer int) (<-chan *Event, func()) {
	if buffer < 1 {
		buffer = 16
	}
	ch := make(chan *Event, buffer)

	b.mu.Lock()
	id := b.nextSubID
	b.nextSubID++
	b.subscribers[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(c)
		}
	}
	return ch, cancel
}

// Emit delivers an event to all matching handlers and subscribers. Handler
// errors are reported but never stop the chain.
func (b *Bus) Emit(event *Event) {
	if event == nil {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	b.mu.RLock()
	matching := b.matchingHandlers(event.Type)
	subs := make([]chan *Event, 0, len(b.subscribers))
	for _, ch := range b.subscribers {
		subs = append(subs, ch)
	}
	b.mu.RUnlock()

	for _, h := range matching {
		if err := h.Handle(event); err != nil && b.errWriter != nil {
			fmt.Fprintf(b.errWriter, "events: handler %q error for %s: %v\n", h.ID(), event.Type, err)
		}
	}

	for _, ch := range subs {
		select {
		case ch <- event:
		default:
		}
	}
}

// matchingHandlers returns handlers for the event type sorted by priority,
// lowest first. Caller holds at least a read lock.
func (b *Bus) matchingHandlers(eventType EventType) []Handler {
	var matched []Handler
	for _, h := range b.handlers {
		types := h.Handles()
		if len(types) == 0 {
			matched = append(matched, h)
			continue
		}
		for _, t := range types {
			if t == eventType {
				matched = append(matched, h)
				break
			}
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Priority() < matched[j].Priority()
	})
	return matched
}
