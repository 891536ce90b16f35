package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/worksync/worksync/internal/storage"
	"github.com/worksync/worksync/internal/types"
)

// CreateTypeMapping inserts a type mapping together with its field and
// status mappings in one transaction. Populates the IDs on success.
func (s *Store) CreateTypeMapping(ctx context.Context, tm *types.TypeMapping) error {
	if tm.SourceType == "" || tm.TargetType == "" {
		return fmt.Errorf("type mapping requires source and target types")
	}
	for _, fm := range tm.Fields {
		if fm.TargetField == "" {
			return fmt.Errorf("field mapping requires a target field")
		}
		if fm.ConstantValue == nil && fm.SourceField == "" {
			return fmt.Errorf("field mapping for %q requires a source field or constant value", fm.TargetField)
		}
	}

	return s.withTx(ctx, func(tx execer) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO type_mappings (config_id, source_type, target_type)
			VALUES (?, ?, ?)`,
			tm.ConfigID, tm.SourceType, tm.TargetType)
		if err != nil {
			if strings.Contains(err.Error(), "UNIQUE") {
				return fmt.Errorf("%w: config %d %s -> %s",
					storage.ErrDuplicateMapping, tm.ConfigID, tm.SourceType, tm.TargetType)
			}
			return fmt.Errorf("failed to create type mapping: %w", err)
		}
		tm.ID, err = res.LastInsertId()
		if err != nil {
			return err
		}

		for _, fm := range tm.Fields {
			fm.TypeMappingID = tm.ID
			transform := fm.Transform
			if transform == "" {
				transform = types.TransformDirect
			}
			res, err := tx.ExecContext(ctx, `
				INSERT INTO field_mappings
					(type_mapping_id, source_field, target_field, transform, transform_arg, constant_value)
				VALUES (?, ?, ?, ?, ?, ?)`,
				fm.TypeMappingID, fm.SourceField, fm.TargetField,
				string(transform), fm.TransformArg, fm.ConstantValue)
			if err != nil {
				return fmt.Errorf("failed to create field mapping %q: %w", fm.TargetField, err)
			}
			if fm.ID, err = res.LastInsertId(); err != nil {
				return err
			}
		}

		for _, sm := range tm.Statuses {
			sm.TypeMappingID = tm.ID
			res, err := tx.ExecContext(ctx, `
				INSERT INTO status_mappings (type_mapping_id, source_status, target_status)
				VALUES (?, ?, ?)`,
				sm.TypeMappingID, sm.SourceStatus, sm.TargetStatus)
			if err != nil {
				return fmt.Errorf("failed to create status mapping %q: %w", sm.SourceStatus, err)
			}
			if sm.ID, err = res.LastInsertId(); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetMappings loads every type mapping for a configuration with its field
// and status mapping children populated.
func (s *Store) GetMappings(ctx context.Context, configID int64) ([]*types.TypeMapping, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, config_id, source_type, target_type
		FROM type_mappings WHERE config_id = ? ORDER BY source_type`, configID)
	if err != nil {
		return nil, fmt.Errorf("failed to load type mappings: %w", err)
	}
	defer rows.Close()

	byID := make(map[int64]*types.TypeMapping)
	var mappings []*types.TypeMapping
	for rows.Next() {
		var tm types.TypeMapping
		if err := rows.Scan(&tm.ID, &tm.ConfigID, &tm.SourceType, &tm.TargetType); err != nil {
			return nil, err
		}
		byID[tm.ID] = &tm
		mappings = append(mappings, &tm)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(mappings) == 0 {
		return nil, nil
	}

	fieldRows, err := s.db.QueryContext(ctx, `
		SELECT f.id, f.type_mapping_id, f.source_field, f.target_field,
		       f.transform, f.transform_arg, f.constant_value
		FROM field_mappings f
		JOIN type_mappings t ON t.id = f.type_mapping_id
		WHERE t.config_id = ? ORDER BY f.id`, configID)
	if err != nil {
		return nil, fmt.Errorf("failed to load field mappings: %w", err)
	}
	defer fieldRows.Close()

	for fieldRows.Next() {
		var fm types.FieldMapping
		var transform string
		if err := fieldRows.Scan(&fm.ID, &fm.TypeMappingID, &fm.SourceField,
			&fm.TargetField, &transform, &fm.TransformArg, &fm.ConstantValue); err != nil {
			return nil, err
		}
		fm.Transform = types.TransformRule(transform)
		if tm := byID[fm.TypeMappingID]; tm != nil {
			tm.Fields = append(tm.Fields, &fm)
		}
	}
	if err := fieldRows.Err(); err != nil {
		return nil, err
	}

	statusRows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.type_mapping_id, m.source_status, m.target_status
		FROM status_mappings m
		JOIN type_mappings t ON t.id = m.type_mapping_id
		WHERE t.config_id = ? ORDER BY m.id`, configID)
	if err != nil {
		return nil, fmt.Errorf("failed to load status mappings: %w", err)
	}
	defer statusRows.Close()

	for statusRows.Next() {
		var sm types.StatusMapping
		if err := statusRows.Scan(&sm.ID, &sm.TypeMappingID, &sm.SourceStatus, &sm.TargetStatus); err != nil {
			return nil, err
		}
		if tm := byID[sm.TypeMappingID]; tm != nil {
			tm.Statuses = append(tm.Statuses, &sm)
		}
	}
	return mappings, statusRows.Err()
}

// DeleteTypeMapping removes a type mapping; field and status mappings
// cascade.
func (s *Store) DeleteTypeMapping(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM type_mappings WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete type mapping %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}
