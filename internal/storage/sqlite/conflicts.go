package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/worksync/worksync/internal/storage"
	"github.com/worksync/worksync/internal/types"
)

const conflictColumns = `id, config_id, execution_id, source_item_id, target_item_id,
	work_item_type, conflict_type, field_name, source_value, target_value, base_value,
	status, resolution_strategy, resolved_value, resolved_by, resolved_at, metadata, detected_at`

// InsertConflicts batch-inserts detected conflicts and populates their IDs.
func (s *Store) InsertConflicts(ctx context.Context, conflicts []*types.Conflict) error {
	return insertConflicts(ctx, s.db, conflicts)
}

func insertConflicts(ctx context.Context, db execer, conflicts []*types.Conflict) error {
	for _, c := range conflicts {
		srcVal, err := types.MarshalValue(c.SourceValue)
		if err != nil {
			return err
		}
		tgtVal, err := types.MarshalValue(c.TargetValue)
		if err != nil {
			return err
		}
		baseVal, err := types.MarshalValue(c.BaseValue)
		if err != nil {
			return err
		}
		meta := "{}"
		if len(c.Metadata) > 0 {
			data, err := json.Marshal(c.Metadata)
			if err != nil {
				return fmt.Errorf("failed to marshal conflict metadata: %w", err)
			}
			meta = string(data)
		}
		if c.Status == "" {
			c.Status = types.ConflictUnresolved
		}
		if c.DetectedAt.IsZero() {
			c.DetectedAt = time.Now().UTC()
		}

		res, err := db.ExecContext(ctx, `
			INSERT INTO conflicts
				(config_id, execution_id, source_item_id, target_item_id, work_item_type,
				 conflict_type, field_name, source_value, target_value, base_value,
				 status, metadata, detected_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ConfigID, nullString(c.ExecutionID), c.SourceItemID, c.TargetItemID,
			c.WorkItemType, string(c.Type), c.FieldName, srcVal, tgtVal, baseVal,
			string(c.Status), meta, c.DetectedAt)
		if err != nil {
			return fmt.Errorf("failed to insert conflict: %w", err)
		}
		if c.ID, err = res.LastInsertId(); err != nil {
			return err
		}
	}
	return nil
}

// GetConflict returns one conflict by id.
func (s *Store) GetConflict(ctx context.Context, id int64) (*types.Conflict, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+conflictColumns+` FROM conflicts WHERE id = ?`, id)
	c, err := scanConflict(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	return c, err
}

// ListConflicts returns conflicts matching the filter, newest first.
func (s *Store) ListConflicts(ctx context.Context, filter storage.ConflictFilter) ([]*types.Conflict, error) {
	var clauses []string
	var args []any
	if filter.ConfigID != 0 {
		clauses = append(clauses, "config_id = ?")
		args = append(args, filter.ConfigID)
	}
	if filter.ExecutionID != "" {
		clauses = append(clauses, "execution_id = ?")
		args = append(args, filter.ExecutionID)
	}
	if filter.SourceItemID != "" {
		clauses = append(clauses, "source_item_id = ?")
		args = append(args, filter.SourceItemID)
	}
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Type != "" {
		clauses = append(clauses, "conflict_type = ?")
		args = append(args, string(filter.Type))
	}

	query := `SELECT ` + conflictColumns + ` FROM conflicts`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY id DESC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list conflicts: %w", err)
	}
	defer rows.Close()

	var conflicts []*types.Conflict
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, err
		}
		conflicts = append(conflicts, c)
	}
	return conflicts, rows.Err()
}

// ResolveConflict performs the monotonic status transition
// unresolved -> {resolved, ignored} as a compare-and-set. Returns false when
// the conflict was not in unresolved state (or does not exist).
func (s *Store) ResolveConflict(ctx context.Context, id int64, status types.ConflictStatus, strategy types.ResolutionStrategy, resolvedValue any, resolvedBy string, resolvedAt time.Time) (bool, error) {
	return resolveConflict(ctx, s.db, id, status, strategy, resolvedValue, resolvedBy, resolvedAt)
}

func resolveConflict(ctx context.Context, db execer, id int64, status types.ConflictStatus, strategy types.ResolutionStrategy, resolvedValue any, resolvedBy string, resolvedAt time.Time) (bool, error) {
	if status != types.ConflictResolved && status != types.ConflictIgnored {
		return false, fmt.Errorf("invalid resolution status %q", status)
	}
	val, err := types.MarshalValue(resolvedValue)
	if err != nil {
		return false, err
	}

	res, err := db.ExecContext(ctx, `
		UPDATE conflicts
		SET status = ?, resolution_strategy = ?, resolved_value = ?,
		    resolved_by = ?, resolved_at = ?
		WHERE id = ? AND status = 'unresolved'`,
		string(status), string(strategy), val, resolvedBy, resolvedAt, id)
	if err != nil {
		return false, fmt.Errorf("failed to resolve conflict %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// InsertResolution appends an audit row for a resolution action.
func (s *Store) InsertResolution(ctx context.Context, r *types.ConflictResolution) error {
	return insertResolution(ctx, s.db, r)
}

func insertResolution(ctx context.Context, db execer, r *types.ConflictResolution) error {
	prevVal, err := types.MarshalValue(r.PreviousValue)
	if err != nil {
		return err
	}
	resVal, err := types.MarshalValue(r.ResolvedValue)
	if err != nil {
		return err
	}
	meta := "{}"
	if len(r.Metadata) > 0 {
		data, err := json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal resolution metadata: %w", err)
		}
		meta = string(data)
	}
	if r.ResolvedAt.IsZero() {
		r.ResolvedAt = time.Now().UTC()
	}

	res, err := db.ExecContext(ctx, `
		INSERT INTO conflict_resolutions
			(conflict_id, strategy, previous_value, resolved_value, rationale,
			 applied_to_source, applied_to_target, application_result,
			 resolved_by, resolved_at, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ConflictID, string(r.Strategy), prevVal, resVal, r.Rationale,
		boolToInt(r.AppliedToSource), boolToInt(r.AppliedToTarget),
		r.ApplicationResult, r.ResolvedBy, r.ResolvedAt, meta)
	if err != nil {
		return fmt.Errorf("failed to insert resolution: %w", err)
	}
	r.ID, err = res.LastInsertId()
	return err
}

// MarkResolutionApplied records the outcome of pushing a resolved value to
// the external systems on the audit row.
func (s *Store) MarkResolutionApplied(ctx context.Context, resolutionID int64, toSource, toTarget bool, result string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE conflict_resolutions
		SET applied_to_source = ?, applied_to_target = ?, application_result = ?
		WHERE id = ?`,
		boolToInt(toSource), boolToInt(toTarget), result, resolutionID)
	if err != nil {
		return fmt.Errorf("failed to mark resolution %d applied: %w", resolutionID, err)
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

// ListResolutions returns the audit trail for one conflict, oldest first.
func (s *Store) ListResolutions(ctx context.Context, conflictID int64) ([]*types.ConflictResolution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conflict_id, strategy, previous_value, resolved_value, rationale,
		       applied_to_source, applied_to_target, application_result,
		       resolved_by, resolved_at, metadata
		FROM conflict_resolutions WHERE conflict_id = ? ORDER BY id`, conflictID)
	if err != nil {
		return nil, fmt.Errorf("failed to list resolutions: %w", err)
	}
	defer rows.Close()

	var resolutions []*types.ConflictResolution
	for rows.Next() {
		var r types.ConflictResolution
		var strategy, prevVal, resVal, meta string
		var toSource, toTarget int
		if err := rows.Scan(&r.ID, &r.ConflictID, &strategy, &prevVal, &resVal,
			&r.Rationale, &toSource, &toTarget, &r.ApplicationResult,
			&r.ResolvedBy, &r.ResolvedAt, &meta); err != nil {
			return nil, err
		}
		r.Strategy = types.ResolutionStrategy(strategy)
		r.AppliedToSource = toSource != 0
		r.AppliedToTarget = toTarget != 0
		if r.PreviousValue, err = types.UnmarshalValue(prevVal); err != nil {
			return nil, err
		}
		if r.ResolvedValue, err = types.UnmarshalValue(resVal); err != nil {
			return nil, err
		}
		if meta != "{}" && meta != "" {
			if err := json.Unmarshal([]byte(meta), &r.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal resolution metadata: %w", err)
			}
		}
		resolutions = append(resolutions, &r)
	}
	return resolutions, rows.Err()
}

func scanConflict(row rowScanner) (*types.Conflict, error) {
	var c types.Conflict
	var execID sql.NullString
	var resolvedAt sql.NullTime
	var ctype, status, strategy, srcVal, tgtVal, baseVal, resVal, meta string
	err := row.Scan(&c.ID, &c.ConfigID, &execID, &c.SourceItemID, &c.TargetItemID,
		&c.WorkItemType, &ctype, &c.FieldName, &srcVal, &tgtVal, &baseVal,
		&status, &strategy, &resVal, &c.ResolvedBy, &resolvedAt, &meta, &c.DetectedAt)
	if err != nil {
		return nil, err
	}
	c.ExecutionID = execID.String
	c.Type = types.ConflictType(ctype)
	c.Status = types.ConflictStatus(status)
	c.ResolutionStrategy = types.ResolutionStrategy(strategy)
	if resolvedAt.Valid {
		t := resolvedAt.Time
		c.ResolvedAt = &t
	}
	if c.SourceValue, err = types.UnmarshalValue(srcVal); err != nil {
		return nil, err
	}
	if c.TargetValue, err = types.UnmarshalValue(tgtVal); err != nil {
		return nil, err
	}
	if c.BaseValue, err = types.UnmarshalValue(baseVal); err != nil {
		return nil, err
	}
	if c.ResolvedValue, err = types.UnmarshalValue(resVal); err != nil {
		return nil, err
	}
	if meta != "{}" && meta != "" {
		if err := json.Unmarshal([]byte(meta), &c.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal conflict metadata: %w", err)
		}
	}
	return &c, nil
}
