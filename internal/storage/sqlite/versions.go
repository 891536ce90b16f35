package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/worksync/worksync/internal/storage"
	"github.com/worksync/worksync/internal/types"
)

const versionColumns = `id, config_id, side, work_item_id, work_item_type, version,
	revision, changed_date, changed_by, fields, content_hash, captured_at, execution_id`

const prefixedVersionColumns = `v.id, v.config_id, v.side, v.work_item_id, v.work_item_type, v.version,
	v.revision, v.changed_date, v.changed_by, v.fields, v.content_hash, v.captured_at, v.execution_id`

// InsertVersion appends a new immutable snapshot row.
func (s *Store) InsertVersion(ctx context.Context, v *types.WorkItemVersion) error {
	return insertVersion(ctx, s.db, v)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertVersion(ctx context.Context, db execer, v *types.WorkItemVersion) error {
	if !v.Side.Valid() {
		return fmt.Errorf("invalid side %q", v.Side)
	}
	fields, err := json.Marshal(v.Fields)
	if err != nil {
		return fmt.Errorf("failed to marshal field snapshot: %w", err)
	}
	if v.CapturedAt.IsZero() {
		v.CapturedAt = time.Now().UTC()
	}

	res, err := db.ExecContext(ctx, `
		INSERT INTO work_item_versions
			(config_id, side, work_item_id, work_item_type, version, revision,
			 changed_date, changed_by, fields, content_hash, captured_at, execution_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ConfigID, string(v.Side), v.WorkItemID, v.WorkItemType, v.Version,
		v.Revision, nullTime(v.ChangedDate), v.ChangedBy, string(fields),
		v.ContentHash, v.CapturedAt, nullString(v.ExecutionID))
	if err != nil {
		return fmt.Errorf("failed to insert version: %w", err)
	}
	v.ID, err = res.LastInsertId()
	return err
}

// LatestVersion returns the most recent snapshot for one side of an item,
// or storage.ErrNotFound if the item was never captured.
func (s *Store) LatestVersion(ctx context.Context, configID int64, side types.Side, itemID string) (*types.WorkItemVersion, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+versionColumns+` FROM work_item_versions
		WHERE config_id = ? AND side = ? AND work_item_id = ?
		ORDER BY version DESC LIMIT 1`,
		configID, string(side), itemID)

	v, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	return v, err
}

// BaseVersion returns the target-side snapshot the item pair last agreed
// on, via the base pointer on the synced_items row. The target side is the
// merge base because detection runs in the target's field namespace after
// source fields are mapped. ErrNotFound when the pair is unknown or has
// never reached a consistent state.
func (s *Store) BaseVersion(ctx context.Context, configID int64, sourceItemID string) (*types.WorkItemVersion, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+prefixedVersionColumns+` FROM work_item_versions v
		JOIN synced_items si ON si.base_version_id = v.id
		WHERE si.config_id = ? AND si.source_item_id = ?`,
		configID, sourceItemID)

	v, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	return v, err
}

func scanVersion(row rowScanner) (*types.WorkItemVersion, error) {
	var v types.WorkItemVersion
	var side, fields string
	var changedDate sql.NullTime
	var execID sql.NullString
	err := row.Scan(&v.ID, &v.ConfigID, &side, &v.WorkItemID, &v.WorkItemType,
		&v.Version, &v.Revision, &changedDate, &v.ChangedBy, &fields,
		&v.ContentHash, &v.CapturedAt, &execID)
	if err != nil {
		return nil, err
	}
	v.Side = types.Side(side)
	if changedDate.Valid {
		v.ChangedDate = changedDate.Time
	}
	v.ExecutionID = execID.String
	if err := json.Unmarshal([]byte(fields), &v.Fields); err != nil {
		return nil, fmt.Errorf("failed to unmarshal field snapshot: %w", err)
	}
	return &v, nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
