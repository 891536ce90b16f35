// Package version captures immutable point-in-time snapshots of work items
// so later sync runs can detect what changed on each side.
package version

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/worksync/worksync/internal/connector"
	"github.com/worksync/worksync/internal/storage"
	"github.com/worksync/worksync/internal/types"
)

// MismatchError reports that the external system's revision token moved
// backward relative to the last captured version. Field comparison against
// such an item is unreliable, so callers flag a version_conflict instead.
type MismatchError struct {
	WorkItemID       string
	Side             types.Side
	StoredRevision   int
	ObservedRevision int
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("version mismatch for %s item %s: revision went backward (%d -> %d)",
		e.Side, e.WorkItemID, e.StoredRevision, e.ObservedRevision)
}

// VersionStore is the slice of the storage interface this package needs.
type VersionStore interface {
	InsertVersion(ctx context.Context, v *types.WorkItemVersion) error
	LatestVersion(ctx context.Context, configID int64, side types.Side, itemID string) (*types.WorkItemVersion, error)
	BaseVersion(ctx context.Context, configID int64, sourceItemID string) (*types.WorkItemVersion, error)
}

// Store wraps the persistence layer with snapshot semantics: identical
// content never produces a second row, and revision regressions surface as
// MismatchError.
type Store struct {
	db VersionStore
}

func NewStore(db VersionStore) *Store {
	return &Store{db: db}
}

// Capture records the item's current state for one side of a configuration.
// The content hash is computed over the field snapshot with sorted keys, so
// the same content always hashes the same regardless of map iteration order.
// When the hash matches the most recent stored version this is a no-op and
// the existing version is returned. executionID ties the row to the run that
// observed it; it may be empty for out-of-band captures.
func (s *Store) Capture(ctx context.Context, configID int64, side types.Side, item *connector.Item, executionID string) (*types.WorkItemVersion, error) {
	fields := item.Fields
	if fields == nil {
		fields = types.FieldSnapshot{}
	}
	hash := fields.Hash()

	latest, err := s.db.LatestVersion(ctx, configID, side, item.ID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("loading latest version for %s item %s: %w", side, item.ID, err)
	}

	next := 1
	if latest != nil {
		if latest.ContentHash == hash {
			return latest, nil
		}
		if item.Revision > 0 && latest.Revision > 0 && item.Revision < latest.Revision {
			return nil, &MismatchError{
				WorkItemID:       item.ID,
				Side:             side,
				StoredRevision:   latest.Revision,
				ObservedRevision: item.Revision,
			}
		}
		next = latest.Version + 1
	}

	v := &types.WorkItemVersion{
		ConfigID:     configID,
		Side:         side,
		WorkItemID:   item.ID,
		WorkItemType: item.Type,
		Version:      next,
		Revision:     item.Revision,
		ChangedDate:  item.ChangedDate,
		ChangedBy:    item.ChangedBy,
		Fields:       fields.Clone(),
		ContentHash:  hash,
		CapturedAt:   time.Now().UTC(),
		ExecutionID:  executionID,
	}
	if err := s.db.InsertVersion(ctx, v); err != nil {
		return nil, fmt.Errorf("inserting version %d for %s item %s: %w", next, side, item.ID, err)
	}
	return v, nil
}

// Latest returns the most recent snapshot for one side, or nil if the item
// was never captured.
func (s *Store) Latest(ctx context.Context, configID int64, side types.Side, itemID string) (*types.WorkItemVersion, error) {
	v, err := s.db.LatestVersion(ctx, configID, side, itemID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return v, err
}

// Base returns the 3-way merge base for a synced item pair: the target-side
// snapshot from the last execution that captured both sides. Nil when the
// pair has never completed a sync, which callers treat as "everything is a
// source-side change".
func (s *Store) Base(ctx context.Context, configID int64, sourceItemID string) (*types.WorkItemVersion, error) {
	v, err := s.db.BaseVersion(ctx, configID, sourceItemID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return v, err
}
