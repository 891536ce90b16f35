package mapping

import (
	"context"
	"errors"
	"testing"

	"github.com/worksync/worksync/internal/connector"
	"github.com/worksync/worksync/internal/storage"
	"github.com/worksync/worksync/internal/types"
)

// mockLoader returns canned mappings without a database.
type mockLoader struct {
	mappings []*types.TypeMapping
	err      error
}

func (m *mockLoader) GetMappings(_ context.Context, _ int64) ([]*types.TypeMapping, error) {
	return m.mappings, m.err
}

func strPtr(s string) *string { return &s }

func bugMapping() *types.TypeMapping {
	return &types.TypeMapping{
		ID:         1,
		ConfigID:   1,
		SourceType: "Bug",
		TargetType: "Defect",
		Fields: []*types.FieldMapping{
			{SourceField: "Title", TargetField: "Summary", Transform: types.TransformDirect},
			{SourceField: "Severity", TargetField: "Severity", Transform: types.TransformUppercase},
			{SourceField: "Owner", TargetField: "owner", Transform: types.TransformLowercase},
			{SourceField: "State", TargetField: "Status", Transform: types.TransformStatusMap},
			{SourceField: "Created", TargetField: "OpenedOn", Transform: types.TransformDateFormat,
				TransformArg: "2006-01-02=>Jan 2, 2006"},
			{TargetField: "SyncOrigin", ConstantValue: strPtr("worksync")},
		},
		Statuses: []*types.StatusMapping{
			{SourceStatus: "Active", TargetStatus: "In Progress"},
			{SourceStatus: "Closed", TargetStatus: "Done"},
		},
	}
}

func loadTestEngine(t *testing.T) *Engine {
	t.Helper()
	eng, err := Load(context.Background(), &mockLoader{mappings: []*types.TypeMapping{bugMapping()}}, 1)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return eng
}

func TestLoadEmptyMappingsIsConfigNotFound(t *testing.T) {
	_, err := Load(context.Background(), &mockLoader{}, 42)
	var notFound *storage.ConfigNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected ConfigNotFoundError, got %v", err)
	}
	if notFound.ConfigID != 42 {
		t.Errorf("ConfigID = %d, want 42", notFound.ConfigID)
	}
}

func TestMapWorkItemTransforms(t *testing.T) {
	eng := loadTestEngine(t)

	item := &connector.Item{
		ID:   "101",
		Type: "bug", // case-insensitive type lookup
		Fields: types.FieldSnapshot{
			"Title":    "Crash on save",
			"Severity": "high",
			"Owner":    "Alice@Example.COM",
			"State":    "Active",
			"Created":  "2026-08-01",
			"Internal": "do not leak", // unmapped: must be dropped
		},
	}

	mapped, err := eng.MapWorkItem(item)
	if err != nil {
		t.Fatalf("MapWorkItem: %v", err)
	}

	if mapped.Type != "Defect" {
		t.Errorf("Type = %q, want Defect", mapped.Type)
	}

	want := types.FieldSnapshot{
		"Summary":    "Crash on save",
		"Severity":   "HIGH",
		"owner":      "alice@example.com",
		"Status":     "In Progress",
		"OpenedOn":   "Aug 1, 2026",
		"SyncOrigin": "worksync",
	}
	for field, expect := range want {
		if got := mapped.Fields[field]; got != expect {
			t.Errorf("field %s = %v, want %v", field, got, expect)
		}
	}
	if _, leaked := mapped.Fields["Internal"]; leaked {
		t.Error("unmapped source field leaked into target")
	}
	if len(mapped.Fields) != len(want) {
		t.Errorf("got %d fields, want %d: %v", len(mapped.Fields), len(want), mapped.Fields)
	}
}

func TestMapWorkItemConstantIgnoresSource(t *testing.T) {
	eng := loadTestEngine(t)

	// Even when the source carries a conflicting SyncOrigin value, the
	// constant wins.
	item := &connector.Item{
		Type:   "Bug",
		Fields: types.FieldSnapshot{"SyncOrigin": "somewhere-else", "Title": "X"},
	}
	mapped, err := eng.MapWorkItem(item)
	if err != nil {
		t.Fatal(err)
	}
	if mapped.Fields["SyncOrigin"] != "worksync" {
		t.Errorf("constant mapping did not win: %v", mapped.Fields["SyncOrigin"])
	}
}

func TestMapWorkItemUnmappedType(t *testing.T) {
	eng := loadTestEngine(t)

	_, err := eng.MapWorkItem(&connector.Item{Type: "Epic"})
	var unmapped *UnmappedTypeError
	if !errors.As(err, &unmapped) {
		t.Fatalf("expected UnmappedTypeError, got %v", err)
	}
	if unmapped.SourceType != "Epic" {
		t.Errorf("SourceType = %q, want Epic", unmapped.SourceType)
	}
}

func TestMapWorkItemMissingSourceFieldDropped(t *testing.T) {
	eng := loadTestEngine(t)

	mapped, err := eng.MapWorkItem(&connector.Item{
		Type:   "Bug",
		Fields: types.FieldSnapshot{"Title": "only title"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := mapped.Fields["Severity"]; ok {
		t.Error("missing source field produced a target value")
	}
	// Constants still emit.
	if mapped.Fields["SyncOrigin"] != "worksync" {
		t.Error("constant missing from sparse item")
	}
}

func TestStatusMapUnknownStatusPassesThrough(t *testing.T) {
	eng := loadTestEngine(t)

	mapped, err := eng.MapWorkItem(&connector.Item{
		Type:   "Bug",
		Fields: types.FieldSnapshot{"State": "Triage"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if mapped.Fields["Status"] != "Triage" {
		t.Errorf("unknown status should pass through, got %v", mapped.Fields["Status"])
	}
}

func TestTransformErrors(t *testing.T) {
	eng := loadTestEngine(t)

	cases := []struct {
		name   string
		fields types.FieldSnapshot
	}{
		{"uppercase non-string", types.FieldSnapshot{"Severity": float64(3)}},
		{"bad date", types.FieldSnapshot{"Created": "not-a-date"}},
		{"status non-string", types.FieldSnapshot{"State": float64(1)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := eng.MapWorkItem(&connector.Item{Type: "Bug", Fields: tc.fields}); err == nil {
				t.Error("expected transform error")
			}
		})
	}
}

func TestSuggestFieldMappings(t *testing.T) {
	source := []string{"System.Title", "System.AssignedTo", "Priority", "StackRank"}
	target := []string{"Title", "Assigned To", "priority", "Effort"}

	suggestions := SuggestFieldMappings(source, target)

	got := make(map[string]string)
	for _, s := range suggestions {
		got[s.SourceField] = s.TargetField
	}
	if got["Priority"] != "priority" {
		t.Errorf("Priority -> %q, want priority", got["Priority"])
	}
	if got["System.Title"] != "Title" {
		t.Errorf("System.Title -> %q, want Title", got["System.Title"])
	}
	if got["System.AssignedTo"] != "Assigned To" {
		t.Errorf("System.AssignedTo -> %q, want Assigned To", got["System.AssignedTo"])
	}
	if _, ok := got["StackRank"]; ok {
		t.Error("StackRank should have no suggestion")
	}

	// Exact matches must outrank weaker ones.
	for i := 1; i < len(suggestions); i++ {
		if suggestions[i].Confidence > suggestions[i-1].Confidence {
			t.Error("suggestions not sorted by confidence")
		}
	}
}

func TestSuggestStatusMappings(t *testing.T) {
	got := SuggestStatusMappings([]string{"Active", "Closed"}, []string{"active", "Resolved"})
	if len(got) != 1 || got[0].SourceStatus != "Active" || got[0].TargetStatus != "active" {
		t.Errorf("unexpected status suggestions: %+v", got)
	}
}

func TestLoadRejectsDuplicateSourceType(t *testing.T) {
	second := bugMapping()
	second.ID = 2
	second.TargetType = "Incident"
	_, err := Load(context.Background(), &mockLoader{
		mappings: []*types.TypeMapping{bugMapping(), second},
	}, 1)
	if err == nil {
		t.Fatal("two mappings for one source type must be rejected, not silently shadowed")
	}
}

func TestMapWorkItemManagedCoversAllTargetFields(t *testing.T) {
	eng := loadTestEngine(t)

	// An item carrying only Title: the mapped snapshot is sparse, but the
	// managed set still names every configured target field.
	mapped, err := eng.MapWorkItem(&connector.Item{
		ID:     "1",
		Type:   "Bug",
		Fields: types.FieldSnapshot{"Title": "crash"},
	})
	if err != nil {
		t.Fatalf("MapWorkItem: %v", err)
	}

	want := map[string]bool{
		"Summary": true, "Severity": true, "owner": true,
		"Status": true, "OpenedOn": true, "SyncOrigin": true,
	}
	if len(mapped.Managed) != len(want) {
		t.Fatalf("managed = %v, want %d fields", mapped.Managed, len(want))
	}
	for _, f := range mapped.Managed {
		if !want[f] {
			t.Errorf("unexpected managed field %q", f)
		}
	}
}
