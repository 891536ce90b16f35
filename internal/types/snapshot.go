package types

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// FieldSnapshot is the captured set of field values for one work item at one
// point in time. Values are JSON-compatible (string, float64, bool, []any,
// map[string]any, nil).
type FieldSnapshot map[string]any

// Clone returns a shallow copy of the snapshot.
func (s FieldSnapshot) Clone() FieldSnapshot {
	if s == nil {
		return nil
	}
	out := make(FieldSnapshot, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Keys returns the snapshot's field names, sorted.
func (s FieldSnapshot) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Hash computes a deterministic content hash over the snapshot. Keys are
// sorted before hashing so that two snapshots with identical content but
// different key order produce identical hashes. Values are canonicalized
// through encoding/json, which sorts nested map keys.
func (s FieldSnapshot) Hash() string {
	h := sha256.New()
	for _, key := range s.Keys() {
		h.Write([]byte(key))
		h.Write([]byte{0})
		if data, err := json.Marshal(s[key]); err == nil {
			h.Write(data)
		}
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ValueEqual compares two field values by their canonical JSON encoding.
// This tolerates the int/float64 and map-ordering differences that arise
// when values round-trip through JSON storage.
func ValueEqual(a, b any) bool {
	if a == nil && b == nil {
		return true
	}
	ab, errA := json.Marshal(a)
	bb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(ab) == string(bb)
}
