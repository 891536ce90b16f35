// Package storage provides shared types for the sync relational store.
//
// The concrete implementation lives in the sqlite sub-package. This package
// holds the interface and error values referenced by both the implementation
// and its consumers (engine, conflict, scheduler, cmd/ws).
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/worksync/worksync/internal/types"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConfigInactive is returned when a sync is attempted against a
// configuration whose active flag is off.
var ErrConfigInactive = errors.New("sync configuration is inactive")

// ErrDuplicateMapping is returned when inserting a TypeMapping that would
// violate the one-per-(config, source_type, target_type) invariant.
var ErrDuplicateMapping = errors.New("duplicate type mapping")

// ConfigNotFoundError wraps ErrNotFound with the configuration id for
// callers that surface it to operators.
type ConfigNotFoundError struct {
	ConfigID int64
}

func (e *ConfigNotFoundError) Error() string {
	return fmt.Sprintf("sync configuration %d not found", e.ConfigID)
}

func (e *ConfigNotFoundError) Unwrap() error { return ErrNotFound }

// ConflictFilter narrows ListConflicts results. Zero values mean "any".
type ConflictFilter struct {
	ConfigID     int64
	ExecutionID  string
	SourceItemID string
	Status       types.ConflictStatus
	Type         types.ConflictType
	Limit        int
}

// ExecutionFilter narrows ListExecutions results.
type ExecutionFilter struct {
	ConfigID int64
	Status   types.ExecutionStatus
	Limit    int
}

// ExecutionCounters holds the statistics persisted when an execution reaches
// a terminal state.
type ExecutionCounters struct {
	ItemsSynced         int
	ItemsFailed         int
	ConflictsDetected   int
	ConflictsResolved   int
	ConflictsUnresolved int
}

// Storage is the interface satisfied by *sqlite.Store. Consumers depend on
// this interface rather than the concrete type so that alternative
// implementations can be substituted in tests.
type Storage interface {
	// Sync configurations
	CreateConfig(ctx context.Context, cfg *types.SyncConfiguration) error
	GetConfig(ctx context.Context, id int64) (*types.SyncConfiguration, error)
	ListConfigs(ctx context.Context, activeOnly bool) ([]*types.SyncConfiguration, error)
	UpdateConfig(ctx context.Context, id int64, updates map[string]any) error
	// DeleteConfig cascades to mappings, versions, conflicts, executions,
	// synced items, and sync errors.
	DeleteConfig(ctx context.Context, id int64) error

	// Mappings. CreateTypeMapping inserts the type mapping and its children
	// atomically in one transaction.
	CreateTypeMapping(ctx context.Context, tm *types.TypeMapping) error
	GetMappings(ctx context.Context, configID int64) ([]*types.TypeMapping, error)
	DeleteTypeMapping(ctx context.Context, id int64) error

	// Work item versions (append-only).
	InsertVersion(ctx context.Context, v *types.WorkItemVersion) error
	LatestVersion(ctx context.Context, configID int64, side types.Side, itemID string) (*types.WorkItemVersion, error)
	// BaseVersion returns the target-side snapshot the item pair last
	// agreed on (the 3-way merge base), or ErrNotFound if the pair has
	// never reached a consistent state.
	BaseVersion(ctx context.Context, configID int64, sourceItemID string) (*types.WorkItemVersion, error)

	// Conflicts
	InsertConflicts(ctx context.Context, conflicts []*types.Conflict) error
	GetConflict(ctx context.Context, id int64) (*types.Conflict, error)
	ListConflicts(ctx context.Context, filter ConflictFilter) ([]*types.Conflict, error)
	// ResolveConflict transitions a conflict out of unresolved iff it is
	// still unresolved; returns false when the compare-and-set misses.
	ResolveConflict(ctx context.Context, id int64, status types.ConflictStatus, strategy types.ResolutionStrategy, resolvedValue any, resolvedBy string, resolvedAt time.Time) (bool, error)
	InsertResolution(ctx context.Context, res *types.ConflictResolution) error
	ListResolutions(ctx context.Context, conflictID int64) ([]*types.ConflictResolution, error)
	// MarkResolutionApplied records the outcome of pushing a resolved
	// value to the external systems on the audit row.
	MarkResolutionApplied(ctx context.Context, resolutionID int64, toSource, toTarget bool, result string) error

	// Executions
	CreateExecution(ctx context.Context, exec *types.SyncExecution) error
	GetExecution(ctx context.Context, id string) (*types.SyncExecution, error)
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*types.SyncExecution, error)
	FinishExecution(ctx context.Context, id string, status types.ExecutionStatus, counters ExecutionCounters, errMsg string, completedAt time.Time) error
	// LastCompletedAt returns the completion time of the most recent
	// execution that finished without total failure, for incremental fetch.
	LastCompletedAt(ctx context.Context, configID int64) (*time.Time, error)

	// Synced items
	GetSyncedItem(ctx context.Context, configID int64, sourceItemID string) (*types.SyncedItem, error)
	UpsertSyncedItem(ctx context.Context, configID int64, sourceItemID, targetItemID string, at time.Time) error
	// SetSyncedItemBase advances the pair's merge base to a target-side
	// version id. Callers invoke it only when the pair has no unresolved
	// conflicts.
	SetSyncedItemBase(ctx context.Context, configID int64, sourceItemID string, baseVersionID int64) error

	// Per-item errors (append-only).
	InsertSyncError(ctx context.Context, e *types.SyncError) error
	ListSyncErrors(ctx context.Context, executionID string) ([]*types.SyncError, error)

	// Key/value configuration (connector credentials, tuning knobs).
	SetConfigValue(ctx context.Context, key, value string) error
	GetConfigValue(ctx context.Context, key string) (string, error)
	GetAllConfigValues(ctx context.Context) (map[string]string, error)

	// RunInTransaction executes fn atomically. The Transaction sees and
	// mutates the same database; mutations are visible to other callers
	// only after commit.
	RunInTransaction(ctx context.Context, fn func(tx Transaction) error) error

	Close() error
}

// Transaction is the subset of Storage usable inside RunInTransaction.
type Transaction interface {
	InsertVersion(ctx context.Context, v *types.WorkItemVersion) error
	InsertConflicts(ctx context.Context, conflicts []*types.Conflict) error
	ResolveConflict(ctx context.Context, id int64, status types.ConflictStatus, strategy types.ResolutionStrategy, resolvedValue any, resolvedBy string, resolvedAt time.Time) (bool, error)
	InsertResolution(ctx context.Context, res *types.ConflictResolution) error
	UpsertSyncedItem(ctx context.Context, configID int64, sourceItemID, targetItemID string, at time.Time) error
	InsertSyncError(ctx context.Context, e *types.SyncError) error
}
