package version

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/worksync/worksync/internal/connector"
	"github.com/worksync/worksync/internal/storage"
	"github.com/worksync/worksync/internal/types"
)

// memStore is an in-memory VersionStore keeping insertion order.
type memStore struct {
	versions []*types.WorkItemVersion
	base     *types.WorkItemVersion
}

func (m *memStore) InsertVersion(_ context.Context, v *types.WorkItemVersion) error {
	cp := *v
	cp.ID = int64(len(m.versions) + 1)
	m.versions = append(m.versions, &cp)
	return nil
}

func (m *memStore) LatestVersion(_ context.Context, configID int64, side types.Side, itemID string) (*types.WorkItemVersion, error) {
	for i := len(m.versions) - 1; i >= 0; i-- {
		v := m.versions[i]
		if v.ConfigID == configID && v.Side == side && v.WorkItemID == itemID {
			return v, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (m *memStore) BaseVersion(_ context.Context, _ int64, _ string) (*types.WorkItemVersion, error) {
	if m.base == nil {
		return nil, storage.ErrNotFound
	}
	return m.base, nil
}

func testItem(rev int, fields types.FieldSnapshot) *connector.Item {
	return &connector.Item{
		ID:          "item-1",
		Type:        "Bug",
		Fields:      fields,
		Revision:    rev,
		ChangedDate: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		ChangedBy:   "alice",
	}
}

func TestCaptureIncrementsVersionOnChange(t *testing.T) {
	mem := &memStore{}
	s := NewStore(mem)
	ctx := context.Background()

	v1, err := s.Capture(ctx, 1, types.SideSource, testItem(1, types.FieldSnapshot{"Title": "X"}), "exec-1")
	if err != nil {
		t.Fatalf("first capture: %v", err)
	}
	if v1.Version != 1 {
		t.Errorf("first version = %d, want 1", v1.Version)
	}

	v2, err := s.Capture(ctx, 1, types.SideSource, testItem(2, types.FieldSnapshot{"Title": "Y"}), "exec-2")
	if err != nil {
		t.Fatalf("second capture: %v", err)
	}
	if v2.Version != 2 {
		t.Errorf("second version = %d, want 2", v2.Version)
	}
	if len(mem.versions) != 2 {
		t.Errorf("stored %d versions, want 2", len(mem.versions))
	}
}

func TestCaptureIdenticalContentIsNoOp(t *testing.T) {
	mem := &memStore{}
	s := NewStore(mem)
	ctx := context.Background()

	fields := types.FieldSnapshot{"Title": "X", "Priority": float64(1)}
	if _, err := s.Capture(ctx, 1, types.SideSource, testItem(1, fields), "exec-1"); err != nil {
		t.Fatal(err)
	}

	// Same content, different key construction order. The hash must match
	// and no second row may appear.
	reordered := types.FieldSnapshot{"Priority": float64(1), "Title": "X"}
	v, err := s.Capture(ctx, 1, types.SideSource, testItem(1, reordered), "exec-2")
	if err != nil {
		t.Fatal(err)
	}
	if v.Version != 1 {
		t.Errorf("no-op capture returned version %d, want 1", v.Version)
	}
	if len(mem.versions) != 1 {
		t.Errorf("stored %d versions, want exactly 1", len(mem.versions))
	}
}

func TestCaptureRevisionRegression(t *testing.T) {
	mem := &memStore{}
	s := NewStore(mem)
	ctx := context.Background()

	if _, err := s.Capture(ctx, 1, types.SideTarget, testItem(5, types.FieldSnapshot{"Title": "X"}), ""); err != nil {
		t.Fatal(err)
	}

	_, err := s.Capture(ctx, 1, types.SideTarget, testItem(3, types.FieldSnapshot{"Title": "Y"}), "")
	var mismatch *MismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected MismatchError, got %v", err)
	}
	if mismatch.StoredRevision != 5 || mismatch.ObservedRevision != 3 {
		t.Errorf("mismatch revisions = %d -> %d, want 5 -> 3", mismatch.StoredRevision, mismatch.ObservedRevision)
	}
	if len(mem.versions) != 1 {
		t.Error("regressed revision must not be stored")
	}
}

func TestCaptureSidesAreIndependent(t *testing.T) {
	mem := &memStore{}
	s := NewStore(mem)
	ctx := context.Background()

	if _, err := s.Capture(ctx, 1, types.SideSource, testItem(1, types.FieldSnapshot{"Title": "X"}), ""); err != nil {
		t.Fatal(err)
	}
	v, err := s.Capture(ctx, 1, types.SideTarget, testItem(1, types.FieldSnapshot{"Title": "X"}), "")
	if err != nil {
		t.Fatal(err)
	}
	if v.Version != 1 {
		t.Errorf("target side started at version %d, want 1", v.Version)
	}
}

func TestLatestAndBaseMapNotFoundToNil(t *testing.T) {
	s := NewStore(&memStore{})
	ctx := context.Background()

	v, err := s.Latest(ctx, 1, types.SideSource, "ghost")
	if err != nil || v != nil {
		t.Errorf("Latest on missing item = (%v, %v), want (nil, nil)", v, err)
	}
	b, err := s.Base(ctx, 1, "ghost")
	if err != nil || b != nil {
		t.Errorf("Base on missing pair = (%v, %v), want (nil, nil)", b, err)
	}
}
