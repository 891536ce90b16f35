// Package connector defines the plugin interface for external issue tracker
// integrations. Each external system provides an adapter implementing
// Connector; the sync engine uses it to query, create, and update work items
// without knowing any tracker's wire format.
package connector

import (
	"context"
	"fmt"
	"time"

	"github.com/worksync/worksync/internal/types"
)

// Item is a work item from an external tracker in a generic form. Fields
// holds every field the tracker reported, keyed by the tracker's own field
// names; the mapping engine decides which of them cross the sync boundary.
type Item struct {
	ID          string
	Type        string
	Fields      types.FieldSnapshot
	Revision    int
	ChangedDate time.Time
	ChangedBy   string
	URL         string
}

// QueryOptions narrows a QueryItems call.
type QueryOptions struct {
	// Filter is the configuration's opaque query predicate, evaluated by
	// the connector (e.g. a WIQL fragment).
	Filter string

	// IDs restricts the query to an explicit work item list, for manual
	// or partial runs. Empty means no restriction.
	IDs []string

	// Since enables incremental fetch: only items changed at or after
	// this time. Nil means fetch everything matching the filter.
	Since *time.Time

	// Limit caps the number of returned items (0 = no limit).
	Limit int
}

// Connector is the capability each side of a sync provides.
type Connector interface {
	// Name returns the lowercase registry identifier (e.g. "azuredevops").
	Name() string

	// Init configures the connector from its settings map (credentials,
	// organization, project, ...). Called once before any operation.
	Init(ctx context.Context, settings map[string]string) error

	// Validate checks that the connector is configured and can connect.
	Validate(ctx context.Context) error

	// QueryItems returns the items matching the options.
	QueryItems(ctx context.Context, opts QueryOptions) ([]*Item, error)

	// GetItem returns a single item, or nil, nil when it does not exist.
	GetItem(ctx context.Context, id string) (*Item, error)

	// CreateItem creates a work item of the given type with the given
	// fields and returns it with its ID and revision populated.
	CreateItem(ctx context.Context, itemType string, fields types.FieldSnapshot) (*Item, error)

	// UpdateItem applies field changes to an existing item and returns
	// the updated item.
	UpdateItem(ctx context.Context, id string, fields types.FieldSnapshot) (*Item, error)

	// Close releases any resources held by the connector.
	Close() error
}

// Error wraps any failure from an external tracker so callers can treat
// connector I/O uniformly.
type Error struct {
	Connector string
	Op        string
	Err       error
	// Retryable marks transport-level failures worth retrying (timeouts,
	// 5xx responses). Configuration and 4xx failures are not.
	Retryable bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s connector: %s: %v", e.Connector, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ErrNotInitialized is returned when a connector is used before Init.
type ErrNotInitialized struct {
	Connector string
}

func (e *ErrNotInitialized) Error() string {
	return e.Connector + " connector not initialized; call Init() first"
}
