package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/worksync/worksync/internal/storage"
	"github.com/worksync/worksync/internal/types"
)

const executionColumns = `id, config_id, status, started_at, completed_at,
	items_synced, items_failed, conflicts_detected, conflicts_resolved,
	conflicts_unresolved, error_message`

// CreateExecution inserts a new execution row, normally in running state.
func (s *Store) CreateExecution(ctx context.Context, exec *types.SyncExecution) error {
	if exec.ID == "" {
		return fmt.Errorf("execution requires an id")
	}
	if exec.Status == "" {
		exec.Status = types.ExecutionRunning
	}
	if exec.StartedAt.IsZero() {
		exec.StartedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_executions (id, config_id, status, started_at)
		VALUES (?, ?, ?, ?)`,
		exec.ID, exec.ConfigID, string(exec.Status), exec.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to create execution: %w", err)
	}
	return nil
}

// GetExecution returns one execution by id.
func (s *Store) GetExecution(ctx context.Context, id string) (*types.SyncExecution, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+executionColumns+` FROM sync_executions WHERE id = ?`, id)
	exec, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	return exec, err
}

// ListExecutions returns executions matching the filter, newest first.
func (s *Store) ListExecutions(ctx context.Context, filter storage.ExecutionFilter) ([]*types.SyncExecution, error) {
	var clauses []string
	var args []any
	if filter.ConfigID != 0 {
		clauses = append(clauses, "config_id = ?")
		args = append(args, filter.ConfigID)
	}
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(filter.Status))
	}

	query := `SELECT ` + executionColumns + ` FROM sync_executions`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY started_at DESC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	var executions []*types.SyncExecution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		executions = append(executions, exec)
	}
	return executions, rows.Err()
}

// FinishExecution moves an execution to a terminal state and persists its
// counters. Only a running execution can be finished; finishing twice is a
// no-op error so a timed-out run cannot clobber an already-recorded result.
func (s *Store) FinishExecution(ctx context.Context, id string, status types.ExecutionStatus, counters storage.ExecutionCounters, errMsg string, completedAt time.Time) error {
	if !status.Terminal() {
		return fmt.Errorf("cannot finish execution with non-terminal status %q", status)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_executions
		SET status = ?, completed_at = ?, items_synced = ?, items_failed = ?,
		    conflicts_detected = ?, conflicts_resolved = ?, conflicts_unresolved = ?,
		    error_message = ?
		WHERE id = ? AND status = 'running'`,
		string(status), completedAt, counters.ItemsSynced, counters.ItemsFailed,
		counters.ConflictsDetected, counters.ConflictsResolved,
		counters.ConflictsUnresolved, errMsg, id)
	if err != nil {
		return fmt.Errorf("failed to finish execution %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("execution %s is not running", id)
	}
	return nil
}

// LastCompletedAt returns the completion time of the most recent execution
// that did not wholly fail, or nil if none exists.
func (s *Store) LastCompletedAt(ctx context.Context, configID int64) (*time.Time, error) {
	var completed sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT completed_at FROM sync_executions
		WHERE config_id = ? AND status IN ('completed', 'completed_with_errors')
		ORDER BY completed_at DESC LIMIT 1`, configID).Scan(&completed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find last completed execution: %w", err)
	}
	if !completed.Valid {
		return nil, nil
	}
	t := completed.Time
	return &t, nil
}

func scanExecution(row rowScanner) (*types.SyncExecution, error) {
	var exec types.SyncExecution
	var status string
	var completedAt sql.NullTime
	err := row.Scan(&exec.ID, &exec.ConfigID, &status, &exec.StartedAt, &completedAt,
		&exec.ItemsSynced, &exec.ItemsFailed, &exec.ConflictsDetected,
		&exec.ConflictsResolved, &exec.ConflictsUnresolved, &exec.ErrorMessage)
	if err != nil {
		return nil, err
	}
	exec.Status = types.ExecutionStatus(status)
	if completedAt.Valid {
		t := completedAt.Time
		exec.CompletedAt = &t
	}
	return &exec, nil
}
