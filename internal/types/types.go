// Package types defines the core data model for work item synchronization:
// configurations, mappings, versions, conflicts, executions, and the
// enumerations that govern their state machines.
package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// Side identifies which end of a sync a snapshot or connector belongs to.
type Side string

const (
	SideSource Side = "source"
	SideTarget Side = "target"
)

// Valid reports whether the side is one of the two known values.
func (s Side) Valid() bool {
	return s == SideSource || s == SideTarget
}

// Direction controls whether changes flow one way or both ways.
type Direction string

const (
	DirectionOneWay        Direction = "one_way"
	DirectionBidirectional Direction = "bidirectional"
)

// TriggerType describes how a sync run is initiated.
type TriggerType string

const (
	TriggerManual    TriggerType = "manual"
	TriggerScheduled TriggerType = "scheduled"
	TriggerWebhook   TriggerType = "webhook"
)

// ResolutionStrategy is the policy used to pick a winning value for a conflict.
type ResolutionStrategy string

const (
	StrategyManual         ResolutionStrategy = "manual"
	StrategyLastWriteWins  ResolutionStrategy = "last_write_wins"
	StrategySourcePriority ResolutionStrategy = "source_priority"
	StrategyTargetPriority ResolutionStrategy = "target_priority"
	StrategyMerge          ResolutionStrategy = "merge"
	StrategyIgnored        ResolutionStrategy = "ignored"
)

// AutoStrategies lists the strategies ResolveAuto accepts.
var AutoStrategies = []ResolutionStrategy{
	StrategyLastWriteWins,
	StrategySourcePriority,
	StrategyTargetPriority,
	StrategyMerge,
}

// IsAuto reports whether the strategy can be applied without operator input.
func (s ResolutionStrategy) IsAuto() bool {
	for _, a := range AutoStrategies {
		if s == a {
			return true
		}
	}
	return false
}

// ConflictType classifies what kind of discrepancy was detected.
type ConflictType string

const (
	ConflictField    ConflictType = "field_conflict"
	ConflictVersion  ConflictType = "version_conflict"
	ConflictDeletion ConflictType = "deletion_conflict"
)

// ConflictStatus tracks the resolution lifecycle of a conflict.
// Transitions are monotonic: unresolved -> {resolved, ignored}, never back.
type ConflictStatus string

const (
	ConflictUnresolved ConflictStatus = "unresolved"
	ConflictResolved   ConflictStatus = "resolved"
	ConflictIgnored    ConflictStatus = "ignored"
)

// ExecutionStatus is the state of one orchestrator run.
// running is the only non-terminal state.
type ExecutionStatus string

const (
	ExecutionRunning             ExecutionStatus = "running"
	ExecutionCompleted           ExecutionStatus = "completed"
	ExecutionCompletedWithErrors ExecutionStatus = "completed_with_errors"
	ExecutionFailed              ExecutionStatus = "failed"
)

// Terminal reports whether the status will never change again.
func (s ExecutionStatus) Terminal() bool {
	return s != ExecutionRunning
}

// SyncConfiguration describes one source->target sync pairing, including
// how it is triggered and how conflicts are resolved by default.
type SyncConfiguration struct {
	ID               int64              `json:"id"`
	Name             string             `json:"name"`
	SourceConnector  string             `json:"source_connector"`
	TargetConnector  string             `json:"target_connector"`
	Direction        Direction          `json:"direction"`
	ConflictStrategy ResolutionStrategy `json:"conflict_strategy"`
	Trigger          TriggerType        `json:"trigger"`
	CronExpr         string             `json:"cron_expr,omitempty"`
	Active           bool               `json:"active"`
	// Filter is an opaque query string evaluated by the source connector
	// (e.g. a WIQL fragment for Azure DevOps).
	Filter    string    `json:"filter,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the invariants that must hold before a configuration
// can be persisted or executed.
func (c *SyncConfiguration) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("configuration name is required")
	}
	if c.SourceConnector == "" || c.TargetConnector == "" {
		return fmt.Errorf("source and target connectors are required")
	}
	switch c.Direction {
	case DirectionOneWay, DirectionBidirectional:
	default:
		return fmt.Errorf("invalid direction %q", c.Direction)
	}
	if c.Trigger == TriggerScheduled && c.CronExpr == "" {
		return fmt.Errorf("scheduled trigger requires a cron expression")
	}
	return nil
}

// TypeMapping maps one source work item type to one target work item type.
// At most one TypeMapping exists per (config, source_type, target_type).
type TypeMapping struct {
	ID         int64  `json:"id"`
	ConfigID   int64  `json:"config_id"`
	SourceType string `json:"source_type"`
	TargetType string `json:"target_type"`

	// Children, populated when mappings are loaded for a configuration.
	Fields   []*FieldMapping  `json:"fields,omitempty"`
	Statuses []*StatusMapping `json:"statuses,omitempty"`
}

// TransformRule names a per-field transformation applied during mapping.
type TransformRule string

const (
	TransformDirect     TransformRule = "direct"
	TransformUppercase  TransformRule = "uppercase"
	TransformLowercase  TransformRule = "lowercase"
	TransformDateFormat TransformRule = "date_format"
	// TransformStatusMap resolves the value through the type mapping's
	// StatusMappings; used for the field that governs workflow state.
	TransformStatusMap TransformRule = "status_map"
)

// FieldMapping maps one source field to one target field. When ConstantValue
// is non-nil the source field is ignored and the constant is emitted.
type FieldMapping struct {
	ID            int64         `json:"id"`
	TypeMappingID int64         `json:"type_mapping_id"`
	SourceField   string        `json:"source_field"`
	TargetField   string        `json:"target_field"`
	Transform     TransformRule `json:"transform"`
	// TransformArg carries rule parameters; for date_format it is
	// "<source layout>=><target layout>" in Go reference-time syntax.
	TransformArg  string  `json:"transform_arg,omitempty"`
	ConstantValue *string `json:"constant_value,omitempty"`
}

// StatusMapping maps one source workflow status to one target status.
type StatusMapping struct {
	ID            int64  `json:"id"`
	TypeMappingID int64  `json:"type_mapping_id"`
	SourceStatus  string `json:"source_status"`
	TargetStatus  string `json:"target_status"`
}

// WorkItemVersion is an immutable point-in-time snapshot of a work item as
// seen from one side of a sync. Superseded by inserting a new row, never
// mutated.
type WorkItemVersion struct {
	ID           int64         `json:"id"`
	ConfigID     int64         `json:"config_id"`
	Side         Side          `json:"side"`
	WorkItemID   string        `json:"work_item_id"`
	WorkItemType string        `json:"work_item_type"`
	Version      int           `json:"version"`
	Revision     int           `json:"revision"`
	ChangedDate  time.Time     `json:"changed_date"`
	ChangedBy    string        `json:"changed_by"`
	Fields       FieldSnapshot `json:"fields"`
	ContentHash  string        `json:"content_hash"`
	CapturedAt   time.Time     `json:"captured_at"`
	ExecutionID  string        `json:"execution_id,omitempty"`
}

// Conflict records a discrepancy detected between the two sides of a sync.
type Conflict struct {
	ID           int64        `json:"id"`
	ConfigID     int64        `json:"config_id"`
	ExecutionID  string       `json:"execution_id"`
	SourceItemID string       `json:"source_item_id"`
	TargetItemID string       `json:"target_item_id,omitempty"`
	WorkItemType string       `json:"work_item_type"`
	Type         ConflictType `json:"conflict_type"`
	FieldName    string       `json:"field_name,omitempty"`
	SourceValue  any          `json:"source_value,omitempty"`
	TargetValue  any          `json:"target_value,omitempty"`
	BaseValue    any          `json:"base_value,omitempty"`

	Status             ConflictStatus     `json:"status"`
	ResolutionStrategy ResolutionStrategy `json:"resolution_strategy,omitempty"`
	ResolvedValue      any                `json:"resolved_value,omitempty"`
	ResolvedBy         string             `json:"resolved_by,omitempty"`
	ResolvedAt         *time.Time         `json:"resolved_at,omitempty"`

	Metadata   map[string]any `json:"metadata,omitempty"`
	DetectedAt time.Time      `json:"detected_at"`
}

// ConflictResolution is an append-only audit row describing one resolution
// action taken on a conflict.
type ConflictResolution struct {
	ID              int64              `json:"id"`
	ConflictID      int64              `json:"conflict_id"`
	Strategy        ResolutionStrategy `json:"strategy"`
	PreviousValue   any                `json:"previous_value,omitempty"`
	ResolvedValue   any                `json:"resolved_value,omitempty"`
	Rationale       string             `json:"rationale,omitempty"`
	AppliedToSource bool               `json:"applied_to_source"`
	AppliedToTarget bool               `json:"applied_to_target"`
	// ApplicationResult records the outcome of pushing the resolved value
	// to the external systems, when that separate step has run.
	ApplicationResult string         `json:"application_result,omitempty"`
	ResolvedBy        string         `json:"resolved_by"`
	ResolvedAt        time.Time      `json:"resolved_at"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}

// SyncExecution is one orchestrator run over one configuration's item set.
type SyncExecution struct {
	ID                  string          `json:"id"`
	ConfigID            int64           `json:"config_id"`
	Status              ExecutionStatus `json:"status"`
	StartedAt           time.Time       `json:"started_at"`
	CompletedAt         *time.Time      `json:"completed_at,omitempty"`
	ItemsSynced         int             `json:"items_synced"`
	ItemsFailed         int             `json:"items_failed"`
	ConflictsDetected   int             `json:"conflicts_detected"`
	ConflictsResolved   int             `json:"conflicts_resolved"`
	ConflictsUnresolved int             `json:"conflicts_unresolved"`
	ErrorMessage        string          `json:"error_message,omitempty"`
}

// SyncedItem is the durable mapping from a source item to the target item it
// was synced to, used to decide create-vs-update on each run.
type SyncedItem struct {
	ID           int64     `json:"id"`
	ConfigID     int64     `json:"config_id"`
	SourceItemID string    `json:"source_item_id"`
	TargetItemID string    `json:"target_item_id"`
	SyncCount    int       `json:"sync_count"`
	LastSyncedAt time.Time `json:"last_synced_at"`
	// BaseVersionID points at the target-side WorkItemVersion both sides
	// last agreed on; zero when the pair never reached a consistent state.
	BaseVersionID int64 `json:"base_version_id,omitempty"`
}

// SyncError is a per-item error persisted during an execution. Per-item
// failures never abort the run; they accumulate here instead.
type SyncError struct {
	ID          int64     `json:"id"`
	ExecutionID string    `json:"execution_id"`
	ItemID      string    `json:"item_id"`
	ItemType    string    `json:"item_type,omitempty"`
	Message     string    `json:"message"`
	Detail      string    `json:"detail,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// MarshalValue renders an arbitrary field value as canonical JSON for
// storage. encoding/json sorts map keys, so equal values always produce
// equal bytes.
func MarshalValue(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshaling field value: %w", err)
	}
	return string(data), nil
}

// UnmarshalValue is the inverse of MarshalValue. Empty input yields nil.
func UnmarshalValue(s string) (any, error) {
	if s == "" {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, fmt.Errorf("unmarshaling field value: %w", err)
	}
	return v, nil
}
