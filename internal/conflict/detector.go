// Package conflict implements 3-way change detection between the two sides
// of a sync and the strategies that resolve the conflicts it finds.
package conflict

import (
	"sort"
	"time"

	"github.com/worksync/worksync/internal/types"
)

// Metadata keys recorded on detected conflicts. The resolver reads the
// changed dates back for last-write-wins without another connector round
// trip.
const (
	metaSourceChanged = "source_changed_date"
	metaTargetChanged = "target_changed_date"
)

// Input carries everything the detector needs for one synced item pair.
// Source must already be mapped into the target's field namespace so the
// three snapshots compare like for like. Base is nil when the pair has no
// prior common snapshot.
type Input struct {
	ConfigID     int64
	ExecutionID  string
	SourceItemID string
	TargetItemID string
	WorkItemType string
	Direction    types.Direction

	Base   types.FieldSnapshot
	Source types.FieldSnapshot
	Target types.FieldSnapshot

	// Managed restricts the comparison to these field names, the target
	// namespace of the configured mapping. Fields outside it belong to
	// one tracker alone and are neither propagated nor reported. Empty
	// means compare the union of source and target keys; use that only
	// when all three snapshots cover the same namespace.
	Managed []string

	SourceChanged time.Time
	TargetChanged time.Time
}

// compareFields returns the sorted field names the detector walks: the
// managed set when configured, the union of source and target keys otherwise.
func (in Input) compareFields() []string {
	var fields []string
	if len(in.Managed) > 0 {
		fields = append(fields, in.Managed...)
	} else {
		seen := make(map[string]bool, len(in.Source)+len(in.Target))
		for k := range in.Source {
			seen[k] = true
			fields = append(fields, k)
		}
		for k := range in.Target {
			if !seen[k] {
				fields = append(fields, k)
			}
		}
	}
	sort.Strings(fields)
	return fields
}

// Result separates what the orchestrator may apply immediately from what
// must wait for resolution. ApplyToSource stays empty under one-way sync.
type Result struct {
	Conflicts     []*types.Conflict
	ApplyToTarget types.FieldSnapshot
	ApplyToSource types.FieldSnapshot
}

// absent marks a field missing from a snapshot. Distinct from nil, which is
// a legitimate stored value.
type absentValue struct{}

var absent = absentValue{}

func fieldValue(snap types.FieldSnapshot, key string) any {
	if snap == nil {
		return absent
	}
	v, ok := snap[key]
	if !ok {
		return absent
	}
	return v
}

func valuesEqual(a, b any) bool {
	_, aAbsent := a.(absentValue)
	_, bAbsent := b.(absentValue)
	if aAbsent || bAbsent {
		return aAbsent == bAbsent
	}
	return types.ValueEqual(a, b)
}

// exportValue converts the absent sentinel back to nil for persistence.
func exportValue(v any) any {
	if _, ok := v.(absentValue); ok {
		return nil
	}
	return v
}

// Detect runs the 3-way comparison over the managed field set, or over
// every field present on either side when no managed set is given.
// Per field: equal on both sides means consistent; changed on exactly one
// side relative to base propagates that side's value; changed on both sides
// to different values is a field conflict.
func Detect(in Input) Result {
	res := Result{
		ApplyToTarget: types.FieldSnapshot{},
		ApplyToSource: types.FieldSnapshot{},
	}

	for _, field := range in.compareFields() {
		base := fieldValue(in.Base, field)
		src := fieldValue(in.Source, field)
		tgt := fieldValue(in.Target, field)

		switch {
		case valuesEqual(src, tgt):
			// Already consistent.

		case !valuesEqual(src, base) && valuesEqual(tgt, base):
			res.ApplyToTarget[field] = exportValue(src)

		case !valuesEqual(tgt, base) && valuesEqual(src, base):
			if in.Direction == types.DirectionBidirectional {
				res.ApplyToSource[field] = exportValue(tgt)
			}

		default:
			res.Conflicts = append(res.Conflicts, in.newConflict(types.ConflictField, field, src, tgt, base))
		}
	}

	return res
}

// DeletionConflict flags an item that vanished on one side while the other
// side still holds a previously synced version.
func DeletionConflict(in Input, missingSide types.Side) *types.Conflict {
	c := in.newConflict(types.ConflictDeletion, "", absent, absent, absent)
	c.Metadata["missing_side"] = string(missingSide)
	return c
}

// VersionConflict flags an item whose external revision token moved
// backward. Field comparison is skipped for such items.
func VersionConflict(in Input, detail string) *types.Conflict {
	c := in.newConflict(types.ConflictVersion, "", absent, absent, absent)
	c.Metadata["detail"] = detail
	return c
}

func (in Input) newConflict(kind types.ConflictType, field string, src, tgt, base any) *types.Conflict {
	meta := map[string]any{}
	if !in.SourceChanged.IsZero() {
		meta[metaSourceChanged] = in.SourceChanged.UTC().Format(time.RFC3339Nano)
	}
	if !in.TargetChanged.IsZero() {
		meta[metaTargetChanged] = in.TargetChanged.UTC().Format(time.RFC3339Nano)
	}
	return &types.Conflict{
		ConfigID:     in.ConfigID,
		ExecutionID:  in.ExecutionID,
		SourceItemID: in.SourceItemID,
		TargetItemID: in.TargetItemID,
		WorkItemType: in.WorkItemType,
		Type:         kind,
		FieldName:    field,
		SourceValue:  exportValue(src),
		TargetValue:  exportValue(tgt),
		BaseValue:    exportValue(base),
		Status:       types.ConflictUnresolved,
		Metadata:     meta,
		DetectedAt:   time.Now().UTC(),
	}
}
