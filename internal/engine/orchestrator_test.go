package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/worksync/worksync/internal/connector"
	"github.com/worksync/worksync/internal/events"
	"github.com/worksync/worksync/internal/storage"
	"github.com/worksync/worksync/internal/storage/sqlite"
	"github.com/worksync/worksync/internal/types"
)

// mockConnector is a scriptable in-memory tracker.
type mockConnector struct {
	name    string
	items   map[string]*connector.Item
	nextID  int
	created []string
	updated map[string]int
	failOps map[string]error
	onQuery func()
}

func newMockConnector(name string) *mockConnector {
	return &mockConnector{
		name:    name,
		items:   make(map[string]*connector.Item),
		updated: make(map[string]int),
		failOps: make(map[string]error),
	}
}

func (m *mockConnector) put(item *connector.Item) {
	cp := *item
	cp.Fields = item.Fields.Clone()
	m.items[item.ID] = &cp
}

func (m *mockConnector) Name() string                                  { return m.name }
func (m *mockConnector) Init(context.Context, map[string]string) error { return nil }
func (m *mockConnector) Validate(context.Context) error                { return nil }
func (m *mockConnector) Close() error                                  { return nil }

func (m *mockConnector) QueryItems(_ context.Context, opts connector.QueryOptions) ([]*connector.Item, error) {
	if err := m.failOps["query"]; err != nil {
		return nil, err
	}
	if m.onQuery != nil {
		m.onQuery()
	}
	var out []*connector.Item
	if len(opts.IDs) > 0 {
		for _, id := range opts.IDs {
			if item, ok := m.items[id]; ok {
				out = append(out, item)
			}
		}
		return out, nil
	}
	// Deterministic order: numeric-ish IDs sort acceptably for tests.
	for _, id := range sortedKeys(m.items) {
		out = append(out, m.items[id])
	}
	return out, nil
}

func (m *mockConnector) GetItem(_ context.Context, id string) (*connector.Item, error) {
	if err := m.failOps["get"]; err != nil {
		return nil, err
	}
	item, ok := m.items[id]
	if !ok {
		return nil, nil
	}
	return item, nil
}

func (m *mockConnector) CreateItem(_ context.Context, itemType string, fields types.FieldSnapshot) (*connector.Item, error) {
	if err := m.failOps["create"]; err != nil {
		return nil, err
	}
	m.nextID++
	item := &connector.Item{
		ID:          fmt.Sprintf("T%d", m.nextID),
		Type:        itemType,
		Fields:      fields.Clone(),
		Revision:    1,
		ChangedDate: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
	}
	m.items[item.ID] = item
	m.created = append(m.created, item.ID)
	return item, nil
}

func (m *mockConnector) UpdateItem(_ context.Context, id string, fields types.FieldSnapshot) (*connector.Item, error) {
	if err := m.failOps["update"]; err != nil {
		return nil, err
	}
	item, ok := m.items[id]
	if !ok {
		return nil, &connector.Error{Connector: m.name, Op: "update", Err: errors.New("item not found")}
	}
	for k, v := range fields {
		if v == nil {
			delete(item.Fields, k)
			continue
		}
		item.Fields[k] = v
	}
	item.Revision++
	item.ChangedDate = item.ChangedDate.Add(time.Hour)
	m.updated[id]++
	return item, nil
}

func sortedKeys(items map[string]*connector.Item) []string {
	keys := make([]string, 0, len(items))
	for k := range items {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j] < keys[j-1]; j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
	return keys
}

// fakeProvider hands out the prepared mocks regardless of settings.
type fakeProvider struct {
	source, target connector.Connector
}

func (p *fakeProvider) Connector(_ context.Context, _ int64, side types.Side, _ string) (connector.Connector, error) {
	if side == types.SideSource {
		return p.source, nil
	}
	return p.target, nil
}

type fixture struct {
	store  *sqlite.Store
	cfg    *types.SyncConfiguration
	source *mockConnector
	target *mockConnector
	orch   *Orchestrator
	bus    *events.Bus
}

func newFixture(t *testing.T, strategy types.ResolutionStrategy) *fixture {
	t.Helper()
	ctx := context.Background()

	store, err := sqlite.New(ctx, ":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	cfg := &types.SyncConfiguration{
		Name:             "ado-to-ado",
		SourceConnector:  "mock-src",
		TargetConnector:  "mock-tgt",
		Direction:        types.DirectionOneWay,
		ConflictStrategy: strategy,
		Trigger:          types.TriggerManual,
		Active:           true,
	}
	if err := store.CreateConfig(ctx, cfg); err != nil {
		t.Fatalf("creating config: %v", err)
	}

	tm := &types.TypeMapping{
		ConfigID:   cfg.ID,
		SourceType: "Bug",
		TargetType: "Defect",
		Fields: []*types.FieldMapping{
			{SourceField: "Title", TargetField: "Title", Transform: types.TransformDirect},
			{SourceField: "Priority", TargetField: "Priority", Transform: types.TransformDirect},
		},
	}
	if err := store.CreateTypeMapping(ctx, tm); err != nil {
		t.Fatalf("creating type mapping: %v", err)
	}

	f := &fixture{
		store:  store,
		cfg:    cfg,
		source: newMockConnector("mock-src"),
		target: newMockConnector("mock-tgt"),
		bus:    events.New(nil),
	}
	f.orch = New(store, &fakeProvider{source: f.source, target: f.target}, WithBus(f.bus))
	return f
}

func sourceBug(id string, priority float64) *connector.Item {
	return &connector.Item{
		ID:          id,
		Type:        "Bug",
		Fields:      types.FieldSnapshot{"Title": "X", "Priority": priority},
		Revision:    1,
		ChangedDate: time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestExecuteSyncCreatesMissingTarget(t *testing.T) {
	f := newFixture(t, types.StrategyManual)
	ctx := context.Background()
	f.source.put(sourceBug("1", 1))

	exec, err := f.orch.ExecuteSync(ctx, f.cfg.ID, SyncOptions{})
	if err != nil {
		t.Fatalf("ExecuteSync: %v", err)
	}
	if exec.Status != types.ExecutionCompleted {
		t.Errorf("status = %s, want completed (%s)", exec.Status, exec.ErrorMessage)
	}
	if exec.ItemsSynced != 1 || exec.ItemsFailed != 0 || exec.ConflictsDetected != 0 {
		t.Errorf("stats = %+v", exec)
	}
	if len(f.target.created) != 1 {
		t.Fatalf("target created %d items, want 1", len(f.target.created))
	}

	created := f.target.items[f.target.created[0]]
	if created.Type != "Defect" || created.Fields["Title"] != "X" {
		t.Errorf("created item = %+v", created)
	}

	synced, err := f.store.GetSyncedItem(ctx, f.cfg.ID, "1")
	if err != nil {
		t.Fatalf("GetSyncedItem: %v", err)
	}
	if synced.TargetItemID != created.ID || synced.SyncCount != 1 {
		t.Errorf("synced item = %+v", synced)
	}
}

// runOnce seeds one source bug, syncs it, and returns the target item id.
func runOnce(t *testing.T, f *fixture) string {
	t.Helper()
	f.source.put(sourceBug("1", 1))
	exec, err := f.orch.ExecuteSync(context.Background(), f.cfg.ID, SyncOptions{})
	if err != nil || exec.Status != types.ExecutionCompleted {
		t.Fatalf("seed sync failed: %v / %+v", err, exec)
	}
	return f.target.created[0]
}

func TestExecuteSyncDetectsFieldConflict(t *testing.T) {
	f := newFixture(t, types.StrategyManual)
	ctx := context.Background()
	targetID := runOnce(t, f)

	// Both sides diverge from the base Priority=1.
	src := sourceBug("1", 2)
	src.Revision = 2
	src.ChangedDate = src.ChangedDate.Add(time.Hour)
	f.source.put(src)
	f.target.items[targetID].Fields["Priority"] = float64(3)
	f.target.items[targetID].Revision = 2
	f.target.items[targetID].ChangedDate = f.target.items[targetID].ChangedDate.Add(2 * time.Hour)

	exec, err := f.orch.ExecuteSync(ctx, f.cfg.ID, SyncOptions{})
	if err != nil {
		t.Fatalf("ExecuteSync: %v", err)
	}
	if exec.ConflictsDetected != 1 || exec.ConflictsUnresolved != 1 {
		t.Errorf("conflicts = %d detected / %d unresolved, want 1/1", exec.ConflictsDetected, exec.ConflictsUnresolved)
	}
	if exec.ItemsSynced != 1 {
		t.Errorf("items_synced = %d, want 1 (non-conflicting part still syncs)", exec.ItemsSynced)
	}

	conflicts, err := f.orch.GetConflicts(ctx, storage.ConflictFilter{ConfigID: f.cfg.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(conflicts) != 1 {
		t.Fatalf("got %d conflict rows, want 1", len(conflicts))
	}
	c := conflicts[0]
	if c.Type != types.ConflictField || c.FieldName != "Priority" {
		t.Errorf("conflict = %s on %q", c.Type, c.FieldName)
	}
	if c.SourceValue != float64(2) || c.TargetValue != float64(3) || c.BaseValue != float64(1) {
		t.Errorf("values = %v/%v/%v, want 2/3/1", c.SourceValue, c.TargetValue, c.BaseValue)
	}
	if c.Status != types.ConflictUnresolved {
		t.Errorf("status = %s", c.Status)
	}

	// The conflicting field must not have been pushed.
	if f.target.items[targetID].Fields["Priority"] != float64(3) {
		t.Errorf("conflicting field was overwritten: %v", f.target.items[targetID].Fields["Priority"])
	}
}

func TestResolveDetectedConflictTargetPriority(t *testing.T) {
	f := newFixture(t, types.StrategyManual)
	ctx := context.Background()
	targetID := runOnce(t, f)

	src := sourceBug("1", 2)
	f.source.put(src)
	f.target.items[targetID].Fields["Priority"] = float64(3)

	if _, err := f.orch.ExecuteSync(ctx, f.cfg.ID, SyncOptions{}); err != nil {
		t.Fatal(err)
	}
	conflicts, _ := f.orch.GetConflicts(ctx, storage.ConflictFilter{ConfigID: f.cfg.ID})
	if len(conflicts) != 1 {
		t.Fatalf("got %d conflicts", len(conflicts))
	}

	resolved, err := f.orch.Resolver().ResolveAuto(ctx, conflicts[0].ID, types.StrategyTargetPriority)
	if err != nil {
		t.Fatalf("ResolveAuto: %v", err)
	}
	if resolved.Status != types.ConflictResolved || resolved.ResolvedValue != float64(3) {
		t.Errorf("resolved = %s / %v, want resolved / 3", resolved.Status, resolved.ResolvedValue)
	}

	audits, err := f.store.ListResolutions(ctx, conflicts[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(audits) != 1 || audits[0].Strategy != types.StrategyTargetPriority {
		t.Errorf("audit rows = %+v", audits)
	}
}

func TestExecuteSyncAutoResolvesWithConfiguredStrategy(t *testing.T) {
	f := newFixture(t, types.StrategySourcePriority)
	ctx := context.Background()
	targetID := runOnce(t, f)

	src := sourceBug("1", 2)
	f.source.put(src)
	f.target.items[targetID].Fields["Priority"] = float64(3)

	exec, err := f.orch.ExecuteSync(ctx, f.cfg.ID, SyncOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if exec.ConflictsDetected != 1 || exec.ConflictsResolved != 1 || exec.ConflictsUnresolved != 0 {
		t.Errorf("conflicts = %d/%d/%d, want 1 detected, 1 resolved, 0 unresolved",
			exec.ConflictsDetected, exec.ConflictsResolved, exec.ConflictsUnresolved)
	}
	// Source-priority pushes the source value to the target.
	if f.target.items[targetID].Fields["Priority"] != float64(2) {
		t.Errorf("target Priority = %v, want 2", f.target.items[targetID].Fields["Priority"])
	}

	// The audit row records that the resolved value reached the target.
	conflicts, err := f.orch.GetConflicts(ctx, storage.ConflictFilter{ConfigID: f.cfg.ID})
	if err != nil || len(conflicts) != 1 {
		t.Fatalf("conflicts = %v / %v", conflicts, err)
	}
	audits, err := f.store.ListResolutions(ctx, conflicts[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(audits) != 1 || !audits[0].AppliedToTarget || audits[0].ApplicationResult != "applied" {
		t.Errorf("audit = %+v, want applied_to_target with result %q", audits, "applied")
	}
}

func TestExecuteSyncUnmappedTypeRecordsFailure(t *testing.T) {
	f := newFixture(t, types.StrategyManual)
	ctx := context.Background()

	f.source.put(sourceBug("1", 1))
	epic := sourceBug("2", 1)
	epic.Type = "Epic"
	f.source.put(epic)

	exec, err := f.orch.ExecuteSync(ctx, f.cfg.ID, SyncOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if exec.Status != types.ExecutionCompletedWithErrors {
		t.Errorf("status = %s, want completed_with_errors", exec.Status)
	}
	if exec.ItemsSynced != 1 || exec.ItemsFailed != 1 {
		t.Errorf("items = %d synced / %d failed, want 1/1", exec.ItemsSynced, exec.ItemsFailed)
	}

	errs, err := f.store.ListSyncErrors(ctx, exec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(errs) != 1 || errs[0].ItemID != "2" {
		t.Fatalf("sync errors = %+v", errs)
	}
}

func TestExecuteSyncAllItemsFailedIsFailed(t *testing.T) {
	f := newFixture(t, types.StrategyManual)
	epic := sourceBug("1", 1)
	epic.Type = "Epic"
	f.source.put(epic)

	exec, err := f.orch.ExecuteSync(context.Background(), f.cfg.ID, SyncOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if exec.Status != types.ExecutionFailed {
		t.Errorf("status = %s, want failed", exec.Status)
	}
}

func TestExecuteSyncInactiveConfig(t *testing.T) {
	f := newFixture(t, types.StrategyManual)
	ctx := context.Background()
	if err := f.store.UpdateConfig(ctx, f.cfg.ID, map[string]any{"active": false}); err != nil {
		t.Fatal(err)
	}

	exec, err := f.orch.ExecuteSync(ctx, f.cfg.ID, SyncOptions{})
	if err != nil {
		t.Fatalf("inactive config must not be a caller error, got %v", err)
	}
	if exec.Status != types.ExecutionFailed {
		t.Errorf("status = %s, want failed", exec.Status)
	}
	if !errors.Is(storage.ErrConfigInactive, storage.ErrConfigInactive) || exec.ErrorMessage == "" {
		t.Error("execution must carry a descriptive error")
	}

	// The terminal row is persisted.
	stored, err := f.orch.GetExecution(ctx, exec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !stored.Status.Terminal() {
		t.Errorf("stored status = %s, not terminal", stored.Status)
	}
}

func TestExecuteSyncUnknownConfig(t *testing.T) {
	f := newFixture(t, types.StrategyManual)
	_, err := f.orch.ExecuteSync(context.Background(), 9999, SyncOptions{})
	var notFound *storage.ConfigNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected ConfigNotFoundError, got %v", err)
	}
}

func TestExecuteSyncSourceQueryFailureIsTerminalFailed(t *testing.T) {
	f := newFixture(t, types.StrategyManual)
	f.source.failOps["query"] = &connector.Error{Connector: "mock-src", Op: "query", Err: errors.New("503")}

	exec, err := f.orch.ExecuteSync(context.Background(), f.cfg.ID, SyncOptions{})
	if err != nil {
		t.Fatalf("connector failure must be owned by the orchestrator, got %v", err)
	}
	if exec.Status != types.ExecutionFailed || exec.ErrorMessage == "" {
		t.Errorf("execution = %s / %q", exec.Status, exec.ErrorMessage)
	}
}

func TestExecuteSyncDeletedTargetFlagsDeletionConflict(t *testing.T) {
	f := newFixture(t, types.StrategyManual)
	ctx := context.Background()
	targetID := runOnce(t, f)

	delete(f.target.items, targetID)

	exec, err := f.orch.ExecuteSync(ctx, f.cfg.ID, SyncOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if exec.ConflictsDetected != 1 {
		t.Errorf("conflicts_detected = %d, want 1", exec.ConflictsDetected)
	}
	conflicts, _ := f.orch.GetConflicts(ctx, storage.ConflictFilter{
		ConfigID: f.cfg.ID,
		Type:     types.ConflictDeletion,
	})
	if len(conflicts) != 1 {
		t.Fatalf("deletion conflicts = %d, want 1", len(conflicts))
	}
	if conflicts[0].WorkItemType != "Bug" {
		t.Errorf("work item type = %q, want retained Bug", conflicts[0].WorkItemType)
	}
}

func TestExecuteSyncDryRunWritesNothing(t *testing.T) {
	f := newFixture(t, types.StrategyManual)
	ctx := context.Background()
	f.source.put(sourceBug("1", 1))

	exec, err := f.orch.ExecuteSync(ctx, f.cfg.ID, SyncOptions{DryRun: true})
	if err != nil {
		t.Fatal(err)
	}
	if exec.Status != types.ExecutionCompleted || exec.ItemsSynced != 1 {
		t.Errorf("exec = %+v", exec)
	}
	if len(f.target.created) != 0 {
		t.Error("dry run created a target item")
	}
	if _, err := f.store.GetSyncedItem(ctx, f.cfg.ID, "1"); !errors.Is(err, storage.ErrNotFound) {
		t.Error("dry run persisted a synced item")
	}
}

func TestExecuteSyncEmitsLifecycleEvents(t *testing.T) {
	f := newFixture(t, types.StrategyManual)
	ch, cancel := f.bus.Subscribe(16)
	defer cancel()

	f.source.put(sourceBug("1", 1))
	if _, err := f.orch.ExecuteSync(context.Background(), f.cfg.ID, SyncOptions{}); err != nil {
		t.Fatal(err)
	}

	var seen []events.EventType
	for len(ch) > 0 {
		seen = append(seen, (<-ch).Type)
	}
	if len(seen) != 2 || seen[0] != events.EventSyncStarted || seen[1] != events.EventSyncCompleted {
		t.Errorf("events = %v, want [sync_started sync_completed]", seen)
	}
}

func TestUnresolvedConflictFreezesFieldAcrossRuns(t *testing.T) {
	f := newFixture(t, types.StrategyManual)
	ctx := context.Background()
	targetID := runOnce(t, f)

	f.source.put(sourceBug("1", 2))
	f.target.items[targetID].Fields["Priority"] = float64(3)

	if _, err := f.orch.ExecuteSync(ctx, f.cfg.ID, SyncOptions{}); err != nil {
		t.Fatal(err)
	}
	// Second run with the conflict still unresolved: no duplicate conflict
	// row, and the disputed field stays untouched.
	exec, err := f.orch.ExecuteSync(ctx, f.cfg.ID, SyncOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if exec.ConflictsDetected != 0 {
		t.Errorf("second run re-detected %d conflicts", exec.ConflictsDetected)
	}
	conflicts, _ := f.orch.GetConflicts(ctx, storage.ConflictFilter{ConfigID: f.cfg.ID})
	if len(conflicts) != 1 {
		t.Errorf("conflict rows = %d, want 1", len(conflicts))
	}
	if f.target.items[targetID].Fields["Priority"] != float64(3) {
		t.Errorf("frozen field overwritten: %v", f.target.items[targetID].Fields["Priority"])
	}
}

func TestApplyResolutionPushesValueAndAdvancesBase(t *testing.T) {
	f := newFixture(t, types.StrategyManual)
	ctx := context.Background()
	targetID := runOnce(t, f)

	f.source.put(sourceBug("1", 2))
	f.target.items[targetID].Fields["Priority"] = float64(3)
	if _, err := f.orch.ExecuteSync(ctx, f.cfg.ID, SyncOptions{}); err != nil {
		t.Fatal(err)
	}
	conflicts, _ := f.orch.GetConflicts(ctx, storage.ConflictFilter{ConfigID: f.cfg.ID})
	if len(conflicts) != 1 {
		t.Fatalf("conflicts = %d", len(conflicts))
	}

	if _, err := f.orch.Resolver().ResolveManually(ctx, conflicts[0].ID, float64(5), "split the difference", "alice"); err != nil {
		t.Fatal(err)
	}
	if err := f.orch.ApplyResolution(ctx, conflicts[0].ID); err != nil {
		t.Fatalf("ApplyResolution: %v", err)
	}

	if f.target.items[targetID].Fields["Priority"] != float64(5) {
		t.Errorf("target Priority = %v, want applied 5", f.target.items[targetID].Fields["Priority"])
	}
	audits, _ := f.store.ListResolutions(ctx, conflicts[0].ID)
	if len(audits) != 1 || !audits[0].AppliedToTarget || audits[0].ApplicationResult != "applied" {
		t.Errorf("audit = %+v", audits)
	}

	// The base now reflects the applied value.
	base, err := f.store.BaseVersion(ctx, f.cfg.ID, "1")
	if err != nil {
		t.Fatal(err)
	}
	if base.Fields["Priority"] != float64(5) {
		t.Errorf("base Priority = %v, want 5", base.Fields["Priority"])
	}
}

func TestApplyResolutionRequiresResolvedConflict(t *testing.T) {
	f := newFixture(t, types.StrategyManual)
	ctx := context.Background()
	targetID := runOnce(t, f)

	f.source.put(sourceBug("1", 2))
	f.target.items[targetID].Fields["Priority"] = float64(3)
	if _, err := f.orch.ExecuteSync(ctx, f.cfg.ID, SyncOptions{}); err != nil {
		t.Fatal(err)
	}
	conflicts, _ := f.orch.GetConflicts(ctx, storage.ConflictFilter{ConfigID: f.cfg.ID})

	if err := f.orch.ApplyResolution(ctx, conflicts[0].ID); err == nil {
		t.Error("applying an unresolved conflict must fail")
	}
}

func TestExecuteSyncExplicitItemList(t *testing.T) {
	f := newFixture(t, types.StrategyManual)
	f.source.put(sourceBug("1", 1))
	f.source.put(sourceBug("2", 1))

	exec, err := f.orch.ExecuteSync(context.Background(), f.cfg.ID, SyncOptions{WorkItemIDs: []string{"2"}})
	if err != nil {
		t.Fatal(err)
	}
	if exec.ItemsSynced != 1 {
		t.Errorf("items_synced = %d, want 1", exec.ItemsSynced)
	}
	if len(f.target.created) != 1 || f.target.items[f.target.created[0]].Fields["Title"] != "X" {
		t.Errorf("created = %v", f.target.created)
	}
}

func TestUnmappedTargetFieldSurvivesRuns(t *testing.T) {
	f := newFixture(t, types.StrategyManual)
	ctx := context.Background()
	targetID := runOnce(t, f)

	// The target grows a field no mapping governs.
	tgt := f.target.items[targetID]
	tgt.Fields["State"] = "Open"
	tgt.Revision++
	tgt.ChangedDate = tgt.ChangedDate.Add(time.Hour)

	exec, err := f.orch.ExecuteSync(ctx, f.cfg.ID, SyncOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if exec.ConflictsDetected != 0 {
		t.Errorf("unmapped target field raised %d conflicts", exec.ConflictsDetected)
	}

	// A further run with no changes anywhere must leave the field alone:
	// the base now includes State, and the source never mentions it.
	exec, err = f.orch.ExecuteSync(ctx, f.cfg.ID, SyncOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if exec.ConflictsDetected != 0 {
		t.Errorf("steady-state run raised %d conflicts", exec.ConflictsDetected)
	}
	v, ok := f.target.items[targetID].Fields["State"]
	if !ok || v != "Open" {
		t.Fatalf("unmapped target field lost across runs (present=%v, value=%v)", ok, v)
	}
	if f.target.updated[targetID] != 0 {
		t.Errorf("steady-state runs updated the target %d times", f.target.updated[targetID])
	}
}

func TestExecuteSyncBidirectionalPushesTargetChangeToSource(t *testing.T) {
	f := newFixture(t, types.StrategyManual)
	ctx := context.Background()
	if err := f.store.UpdateConfig(ctx, f.cfg.ID, map[string]any{"direction": string(types.DirectionBidirectional)}); err != nil {
		t.Fatal(err)
	}
	targetID := runOnce(t, f)

	// Target-only change to a mapped field; the source stays at base.
	tgt := f.target.items[targetID]
	tgt.Fields["Priority"] = float64(4)
	tgt.Revision++
	tgt.ChangedDate = tgt.ChangedDate.Add(time.Hour)

	exec, err := f.orch.ExecuteSync(ctx, f.cfg.ID, SyncOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if exec.ConflictsDetected != 0 {
		t.Errorf("one-sided change raised %d conflicts", exec.ConflictsDetected)
	}
	if f.source.items["1"].Fields["Priority"] != float64(4) {
		t.Errorf("source Priority = %v, want pushed-back 4", f.source.items["1"].Fields["Priority"])
	}
	if f.source.updated["1"] != 1 {
		t.Errorf("source updated %d times, want 1", f.source.updated["1"])
	}
	// The target keeps its value; nothing to write there.
	if f.target.updated[targetID] != 0 {
		t.Errorf("target updated %d times, want 0", f.target.updated[targetID])
	}
}

func TestExecuteSyncCancelledRunPersistsTerminalRow(t *testing.T) {
	f := newFixture(t, types.StrategyManual)
	f.source.put(sourceBug("1", 1))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.source.onQuery = cancel

	exec, err := f.orch.ExecuteSync(ctx, f.cfg.ID, SyncOptions{})
	if err != nil {
		t.Fatalf("a cancelled run must still return its execution, got %v", err)
	}
	if exec.Status != types.ExecutionFailed {
		t.Errorf("status = %s, want failed", exec.Status)
	}
	if exec.ItemsSynced != 0 {
		t.Errorf("items_synced = %d after mid-run cancellation", exec.ItemsSynced)
	}

	// The terminal row survives the cancelled context.
	stored, err := f.orch.GetExecution(context.Background(), exec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !stored.Status.Terminal() || stored.CompletedAt == nil {
		t.Errorf("stored execution = %s / completed_at=%v, want terminal with completion time", stored.Status, stored.CompletedAt)
	}
}
