package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/worksync/worksync/internal/storage"
	"github.com/worksync/worksync/internal/types"
)

// GetSyncedItem returns the durable pairing for a source item, or
// storage.ErrNotFound if the item has never been synced.
func (s *Store) GetSyncedItem(ctx context.Context, configID int64, sourceItemID string) (*types.SyncedItem, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, config_id, source_item_id, target_item_id, sync_count, last_synced_at, base_version_id
		FROM synced_items WHERE config_id = ? AND source_item_id = ?`,
		configID, sourceItemID)

	var item types.SyncedItem
	var baseVersion sql.NullInt64
	err := row.Scan(&item.ID, &item.ConfigID, &item.SourceItemID,
		&item.TargetItemID, &item.SyncCount, &item.LastSyncedAt, &baseVersion)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get synced item: %w", err)
	}
	item.BaseVersionID = baseVersion.Int64
	return &item, nil
}

// SetSyncedItemBase advances the pair's merge base to the given target-side
// version. Called only when the pair has no outstanding unresolved
// conflicts, so the base always reflects a state both sides agreed on.
func (s *Store) SetSyncedItemBase(ctx context.Context, configID int64, sourceItemID string, baseVersionID int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE synced_items SET base_version_id = ?
		WHERE config_id = ? AND source_item_id = ?`,
		baseVersionID, configID, sourceItemID)
	if err != nil {
		return fmt.Errorf("failed to set merge base: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// UpsertSyncedItem records a successful sync of an item pair: first sync
// inserts with sync_count=1, later syncs increment the counter. The single
// statement makes the read-check-then-write atomic per item.
func (s *Store) UpsertSyncedItem(ctx context.Context, configID int64, sourceItemID, targetItemID string, at time.Time) error {
	return upsertSyncedItem(ctx, s.db, configID, sourceItemID, targetItemID, at)
}

func upsertSyncedItem(ctx context.Context, db execer, configID int64, sourceItemID, targetItemID string, at time.Time) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO synced_items (config_id, source_item_id, target_item_id, sync_count, last_synced_at)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT(config_id, source_item_id) DO UPDATE SET
			target_item_id = excluded.target_item_id,
			sync_count = sync_count + 1,
			last_synced_at = excluded.last_synced_at`,
		configID, sourceItemID, targetItemID, at)
	if err != nil {
		return fmt.Errorf("failed to upsert synced item: %w", err)
	}
	return nil
}

// InsertSyncError appends a per-item error record for an execution.
func (s *Store) InsertSyncError(ctx context.Context, e *types.SyncError) error {
	return insertSyncError(ctx, s.db, e)
}

func insertSyncError(ctx context.Context, db execer, e *types.SyncError) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	res, err := db.ExecContext(ctx, `
		INSERT INTO sync_errors (execution_id, item_id, item_type, message, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.ExecutionID, e.ItemID, e.ItemType, e.Message, e.Detail, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert sync error: %w", err)
	}
	e.ID, err = res.LastInsertId()
	return err
}

// ListSyncErrors returns the per-item errors recorded for an execution.
func (s *Store) ListSyncErrors(ctx context.Context, executionID string) ([]*types.SyncError, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, execution_id, item_id, item_type, message, detail, created_at
		FROM sync_errors WHERE execution_id = ? ORDER BY id`, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync errors: %w", err)
	}
	defer rows.Close()

	var errs []*types.SyncError
	for rows.Next() {
		var e types.SyncError
		if err := rows.Scan(&e.ID, &e.ExecutionID, &e.ItemID, &e.ItemType,
			&e.Message, &e.Detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		errs = append(errs, &e)
	}
	return errs, rows.Err()
}

// SetConfigValue stores a key/value configuration entry.
func (s *Store) SetConfigValue(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set config %q: %w", key, err)
	}
	return nil
}

// GetConfigValue returns a config value, or "" when the key is absent.
func (s *Store) GetConfigValue(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM config WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get config %q: %w", key, err)
	}
	return value, nil
}

// GetAllConfigValues returns every key/value configuration entry.
func (s *Store) GetAllConfigValues(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM config`)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		values[k] = v
	}
	return values, rows.Err()
}
