package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/worksync/worksync/internal/storage"
	"github.com/worksync/worksync/internal/types"
)

const configColumns = `id, name, source_connector, target_connector, direction,
	conflict_strategy, trigger_type, cron_expr, active, filter, created_at, updated_at`

// CreateConfig inserts a new sync configuration and populates its ID.
func (s *Store) CreateConfig(ctx context.Context, cfg *types.SyncConfiguration) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	now := time.Now().UTC()
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = now
	}
	cfg.UpdatedAt = now

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_configurations
			(name, source_connector, target_connector, direction, conflict_strategy,
			 trigger_type, cron_expr, active, filter, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cfg.Name, cfg.SourceConnector, cfg.TargetConnector, string(cfg.Direction),
		string(cfg.ConflictStrategy), string(cfg.Trigger), cfg.CronExpr,
		boolToInt(cfg.Active), cfg.Filter, cfg.CreatedAt, cfg.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create configuration: %w", err)
	}
	cfg.ID, err = res.LastInsertId()
	return err
}

// GetConfig returns the configuration with the given id.
func (s *Store) GetConfig(ctx context.Context, id int64) (*types.SyncConfiguration, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+configColumns+` FROM sync_configurations WHERE id = ?`, id)
	cfg, err := scanConfig(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &storage.ConfigNotFoundError{ConfigID: id}
	}
	return cfg, err
}

// ListConfigs returns all configurations, optionally only active ones.
func (s *Store) ListConfigs(ctx context.Context, activeOnly bool) ([]*types.SyncConfiguration, error) {
	query := `SELECT ` + configColumns + ` FROM sync_configurations`
	if activeOnly {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list configurations: %w", err)
	}
	defer rows.Close()

	var configs []*types.SyncConfiguration
	for rows.Next() {
		cfg, err := scanConfig(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}
	return configs, rows.Err()
}

// configUpdateColumns whitelists the columns UpdateConfig may touch.
var configUpdateColumns = map[string]bool{
	"name": true, "source_connector": true, "target_connector": true,
	"direction": true, "conflict_strategy": true, "trigger_type": true,
	"cron_expr": true, "active": true, "filter": true,
}

// UpdateConfig applies a partial update. Keys must be column names.
func (s *Store) UpdateConfig(ctx context.Context, id int64, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}

	keys := make([]string, 0, len(updates))
	for k := range updates {
		if !configUpdateColumns[k] {
			return fmt.Errorf("unknown configuration column %q", k)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	setClauses := make([]string, 0, len(keys)+1)
	args := make([]any, 0, len(keys)+2)
	for _, k := range keys {
		setClauses = append(setClauses, k+" = ?")
		v := updates[k]
		if b, ok := v.(bool); ok {
			v = boolToInt(b)
		}
		args = append(args, v)
	}
	setClauses = append(setClauses, "updated_at = ?")
	args = append(args, time.Now().UTC(), id)

	res, err := s.db.ExecContext(ctx,
		`UPDATE sync_configurations SET `+strings.Join(setClauses, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("failed to update configuration %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &storage.ConfigNotFoundError{ConfigID: id}
	}
	return nil
}

// DeleteConfig removes a configuration and, via foreign keys, every
// dependent mapping, version, conflict, execution, and synced item.
func (s *Store) DeleteConfig(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sync_configurations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete configuration %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &storage.ConfigNotFoundError{ConfigID: id}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConfig(row rowScanner) (*types.SyncConfiguration, error) {
	var cfg types.SyncConfiguration
	var direction, strategy, trigger string
	var active int
	err := row.Scan(&cfg.ID, &cfg.Name, &cfg.SourceConnector, &cfg.TargetConnector,
		&direction, &strategy, &trigger, &cfg.CronExpr, &active, &cfg.Filter,
		&cfg.CreatedAt, &cfg.UpdatedAt)
	if err != nil {
		return nil, err
	}
	cfg.Direction = types.Direction(direction)
	cfg.ConflictStrategy = types.ResolutionStrategy(strategy)
	cfg.Trigger = types.TriggerType(trigger)
	cfg.Active = active != 0
	return &cfg, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
