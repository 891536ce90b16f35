// Package mapping resolves how a source work item's type, fields, and status
// translate to the target system, applying per-field transformation rules
// configured on the sync configuration.
package mapping

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/worksync/worksync/internal/connector"
	"github.com/worksync/worksync/internal/storage"
	"github.com/worksync/worksync/internal/types"
)

// UnmappedTypeError is returned when a source item's type has no configured
// TypeMapping. Callers must skip the item or queue it for manual triage,
// never silently drop it.
type UnmappedTypeError struct {
	SourceType string
}

func (e *UnmappedTypeError) Error() string {
	return fmt.Sprintf("no type mapping configured for source type %q", e.SourceType)
}

// MappedItem is the result of translating one source item. Managed lists
// every target field name the mapping governs, whether or not the source
// item carried a value for it; conflict detection walks exactly this set so
// target-only fields stay out of the sync's reach.
type MappedItem struct {
	Type    string
	Fields  types.FieldSnapshot
	Managed []string
}

// Engine holds the mappings of one configuration in memory, keyed by source
// type name. Load once per sync run; MapWorkItem is then read-only and safe
// for concurrent use.
type Engine struct {
	configID int64
	byType   map[string]*types.TypeMapping
}

// MappingLoader is the slice of the storage interface the engine needs.
type MappingLoader interface {
	GetMappings(ctx context.Context, configID int64) ([]*types.TypeMapping, error)
}

// Load reads all type, field, and status mappings for a configuration into
// an in-memory lookup. A configuration with no mappings yields a
// ConfigNotFoundError; the caller decides whether that is fatal.
func Load(ctx context.Context, store MappingLoader, configID int64) (*Engine, error) {
	mappings, err := store.GetMappings(ctx, configID)
	if err != nil {
		return nil, fmt.Errorf("loading mappings for config %d: %w", configID, err)
	}
	if len(mappings) == 0 {
		return nil, &storage.ConfigNotFoundError{ConfigID: configID}
	}

	byType := make(map[string]*types.TypeMapping, len(mappings))
	for _, tm := range mappings {
		key := strings.ToLower(tm.SourceType)
		if prev, dup := byType[key]; dup {
			return nil, fmt.Errorf("configuration %d maps source type %q to both %q and %q; a source type must map to exactly one target type",
				configID, tm.SourceType, prev.TargetType, tm.TargetType)
		}
		byType[key] = tm
	}
	return &Engine{configID: configID, byType: byType}, nil
}

// TypeMappingFor returns the type mapping for a source type, or nil.
// Lookup is case-insensitive, matching how trackers report type names.
func (e *Engine) TypeMappingFor(sourceType string) *types.TypeMapping {
	return e.byType[strings.ToLower(sourceType)]
}

// MapWorkItem translates a source item into the target's type and field
// namespace. Fields with no mapping configured are dropped, not copied, so
// source-specific field sets never leak into the target.
func (e *Engine) MapWorkItem(item *connector.Item) (*MappedItem, error) {
	tm := e.TypeMappingFor(item.Type)
	if tm == nil {
		return nil, &UnmappedTypeError{SourceType: item.Type}
	}

	out := &MappedItem{
		Type:    tm.TargetType,
		Fields:  make(types.FieldSnapshot, len(tm.Fields)),
		Managed: make([]string, 0, len(tm.Fields)),
	}
	managed := make(map[string]bool, len(tm.Fields))

	for _, fm := range tm.Fields {
		if !managed[fm.TargetField] {
			managed[fm.TargetField] = true
			out.Managed = append(out.Managed, fm.TargetField)
		}
		if fm.ConstantValue != nil {
			// A constant mapping ignores the source field entirely.
			out.Fields[fm.TargetField] = *fm.ConstantValue
			continue
		}

		value, present := item.Fields[fm.SourceField]
		if !present {
			continue
		}

		transformed, err := applyTransform(fm, tm, value)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", fm.SourceField, err)
		}
		out.Fields[fm.TargetField] = transformed
	}

	return out, nil
}

// applyTransform resolves one field's transformation rule.
func applyTransform(fm *types.FieldMapping, tm *types.TypeMapping, value any) (any, error) {
	switch fm.Transform {
	case "", types.TransformDirect:
		return value, nil

	case types.TransformUppercase:
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("uppercase transform requires a string, got %T", value)
		}
		return strings.ToUpper(s), nil

	case types.TransformLowercase:
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("lowercase transform requires a string, got %T", value)
		}
		return strings.ToLower(s), nil

	case types.TransformDateFormat:
		return convertDate(value, fm.TransformArg)

	case types.TransformStatusMap:
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("status transform requires a string, got %T", value)
		}
		for _, sm := range tm.Statuses {
			if strings.EqualFold(sm.SourceStatus, s) {
				return sm.TargetStatus, nil
			}
		}
		// Unknown statuses pass through rather than invent a value;
		// the target connector rejects them if they are invalid there.
		return s, nil

	default:
		return nil, fmt.Errorf("unknown transform rule %q", fm.Transform)
	}
}

// convertDate reparses a date string using the rule argument
// "<source layout>=><target layout>" (Go reference-time layouts). An empty
// argument normalizes to RFC 3339.
func convertDate(value any, arg string) (any, error) {
	s, ok := value.(string)
	if !ok {
		return nil, fmt.Errorf("date transform requires a string, got %T", value)
	}

	srcLayout, dstLayout := time.RFC3339, time.RFC3339
	if arg != "" {
		parts := strings.SplitN(arg, "=>", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid date_format argument %q", arg)
		}
		srcLayout, dstLayout = parts[0], parts[1]
	}

	t, err := time.Parse(srcLayout, s)
	if err != nil {
		return nil, fmt.Errorf("parsing date %q: %w", s, err)
	}
	return t.Format(dstLayout), nil
}
