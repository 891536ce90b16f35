// Package events dispatches sync lifecycle notifications. The core emits
// events; delivery to external sinks (webhooks, chat, mail) is whatever the
// registered handlers do with them.
package events

import (
	"time"
)

// EventType identifies an event flowing through the bus.
type EventType string

const (
	EventSyncStarted      EventType = "sync_started"
	EventSyncCompleted    EventType = "sync_completed"
	EventSyncFailed       EventType = "sync_failed"
	EventConflictDetected EventType = "conflict_detected"
	EventConflictResolved EventType = "conflict_resolved"
)

// Event is one sync lifecycle notification.
type Event struct {
	Type         EventType `json:"event_type"`
	SyncConfigID int64     `json:"sync_config_id"`
	ExecutionID  string    `json:"execution_id,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`

	// Populated on sync_completed / sync_failed.
	ItemsSynced         int    `json:"items_synced,omitempty"`
	ItemsFailed         int    `json:"items_failed,omitempty"`
	ConflictsDetected   int    `json:"conflicts_detected,omitempty"`
	ConflictsResolved   int    `json:"conflicts_resolved,omitempty"`
	ConflictsUnresolved int    `json:"conflicts_unresolved,omitempty"`
	Error               string `json:"error,omitempty"`

	// Populated on conflict events.
	ConflictID   int64  `json:"conflict_id,omitempty"`
	ConflictType string `json:"conflict_type,omitempty"`
	FieldName    string `json:"field_name,omitempty"`
}

// Handler receives events synchronously on the dispatching goroutine.
type Handler interface {
	// ID identifies the handler in logs.
	ID() string
	// Handles lists the event types this handler wants. Empty means all.
	Handles() []EventType
	// Priority orders handlers on dispatch, lowest first.
	Priority() int
	Handle(event *Event) error
}

// HandlerFunc adapts a function to the Handler interface with default
// priority and all event types.
type HandlerFunc struct {
	Name string
	Fn   func(event *Event) error
}

func (h HandlerFunc) ID() string            { return h.Name }
func (h HandlerFunc) Handles() []EventType  { return nil }
func (h HandlerFunc) Priority() int         { return 100 }
func (h HandlerFunc) Handle(e *Event) error { return h.Fn(e) }
