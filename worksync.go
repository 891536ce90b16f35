// Package worksync provides a minimal public API for embedding the sync
// engine in other Go programs.
//
// Most integrations should use the ws CLI; this package exports only the
// types and constructors needed to open the store, run syncs, and inspect
// conflicts programmatically.
package worksync

import (
	"context"

	"github.com/worksync/worksync/internal/connector"
	"github.com/worksync/worksync/internal/engine"
	"github.com/worksync/worksync/internal/storage"
	"github.com/worksync/worksync/internal/storage/sqlite"
	"github.com/worksync/worksync/internal/types"
)

// Core types for working with sync state.
type (
	SyncConfiguration = types.SyncConfiguration
	SyncExecution     = types.SyncExecution
	Conflict          = types.Conflict
	SyncedItem        = types.SyncedItem
	FieldSnapshot     = types.FieldSnapshot
	SyncOptions       = engine.SyncOptions
)

// Direction constants.
const (
	DirectionOneWay        = types.DirectionOneWay
	DirectionBidirectional = types.DirectionBidirectional
)

// Resolution strategy constants.
const (
	StrategyManual         = types.StrategyManual
	StrategyLastWriteWins  = types.StrategyLastWriteWins
	StrategySourcePriority = types.StrategySourcePriority
	StrategyTargetPriority = types.StrategyTargetPriority
	StrategyMerge          = types.StrategyMerge
)

// Storage is the persistence interface backing the engine.
type Storage = storage.Storage

// Orchestrator runs syncs and exposes conflict resolution.
type Orchestrator = engine.Orchestrator

// OpenStorage opens (creating if needed) a worksync SQLite database.
func OpenStorage(ctx context.Context, dbPath string) (Storage, error) {
	return sqlite.New(ctx, dbPath)
}

// NewOrchestrator builds an orchestrator using the default connector
// registry. Connector adapters register themselves at init time; the ws
// binary imports them for their side effects.
func NewOrchestrator(store Storage, opts ...engine.Option) *Orchestrator {
	return engine.New(store,
		&engine.RegistryProvider{Registry: connector.Default, Settings: store},
		opts...)
}
