package events

import (
	"errors"
	"strings"
	"testing"
)

type recordingHandler struct {
	name     string
	types    []EventType
	priority int
	seen     []*Event
	err      error
	order    *[]string
}

func (h *recordingHandler) ID() string          { return h.name }
func (h *recordingHandler) Handles() []EventType { return h.types }
func (h *recordingHandler) Priority() int        { return h.priority }
func (h *recordingHandler) Handle(e *Event) error {
	h.seen = append(h.seen, e)
	if h.order != nil {
		*h.order = append(*h.order, h.name)
	}
	return h.err
}

func TestEmitFiltersByType(t *testing.T) {
	bus := New(nil)
	onlyFailures := &recordingHandler{name: "failures", types: []EventType{EventSyncFailed}}
	everything := &recordingHandler{name: "all"}
	bus.Register(onlyFailures)
	bus.Register(everything)

	bus.Emit(&Event{Type: EventSyncCompleted, SyncConfigID: 1})
	bus.Emit(&Event{Type: EventSyncFailed, SyncConfigID: 1})

	if len(onlyFailures.seen) != 1 || onlyFailures.seen[0].Type != EventSyncFailed {
		t.Errorf("filtered handler saw %d events", len(onlyFailures.seen))
	}
	if len(everything.seen) != 2 {
		t.Errorf("catch-all handler saw %d events, want 2", len(everything.seen))
	}
}

func TestEmitPriorityOrderAndErrorResilience(t *testing.T) {
	var order []string
	var errOut strings.Builder
	bus := New(&errOut)

	bus.Register(&recordingHandler{name: "late", priority: 50, order: &order})
	bus.Register(&recordingHandler{name: "early", priority: 1, order: &order, err: errors.New("boom")})

	bus.Emit(&Event{Type: EventSyncCompleted})

	if len(order) != 2 || order[0] != "early" || order[1] != "late" {
		t.Errorf("dispatch order = %v", order)
	}
	if !strings.Contains(errOut.String(), "boom") {
		t.Error("handler error was not reported")
	}
}

func TestSubscribeReceivesAndCancelCloses(t *testing.T) {
	bus := New(nil)
	ch, cancel := bus.Subscribe(4)

	bus.Emit(&Event{Type: EventConflictDetected, ConflictID: 9})

	select {
	case e := <-ch:
		if e.ConflictID != 9 {
			t.Errorf("ConflictID = %d", e.ConflictID)
		}
	default:
		t.Fatal("subscriber did not receive the event")
	}

	cancel()
	if _, open := <-ch; open {
		t.Error("channel still open after cancel")
	}
	// Emitting after cancel must not panic.
	bus.Emit(&Event{Type: EventSyncCompleted})
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	bus := New(nil)
	ch, cancel := bus.Subscribe(1)
	defer cancel()

	bus.Emit(&Event{Type: EventSyncCompleted})
	bus.Emit(&Event{Type: EventSyncFailed}) // buffer full: dropped

	if len(ch) != 1 {
		t.Errorf("channel holds %d events, want 1", len(ch))
	}
}

func TestEmitStampsOccurredAt(t *testing.T) {
	bus := New(nil)
	h := &recordingHandler{name: "h"}
	bus.Register(h)

	bus.Emit(&Event{Type: EventSyncCompleted})
	if h.seen[0].OccurredAt.IsZero() {
		t.Error("OccurredAt was not stamped")
	}
}
