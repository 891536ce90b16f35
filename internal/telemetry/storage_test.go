package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/worksync/worksync/internal/storage/sqlite"
	"github.com/worksync/worksync/internal/types"
)

func TestWrapStorageDisabledIsPassThrough(t *testing.T) {
	t.Setenv("WS_OTEL_ENABLED", "")
	store, err := sqlite.New(context.Background(), ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })

	wrapped := WrapStorage(store)
	if _, ok := wrapped.(*InstrumentedStorage); ok {
		t.Error("disabled telemetry must not wrap the store")
	}
}

func TestInstrumentedStorageDelegates(t *testing.T) {
	t.Setenv("WS_OTEL_ENABLED", "true")
	ctx := context.Background()
	inner, err := sqlite.New(ctx, ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = inner.Close() })

	store := WrapStorage(inner)
	if _, ok := store.(*InstrumentedStorage); !ok {
		t.Fatal("expected the instrumented wrapper when enabled")
	}

	cfg := &types.SyncConfiguration{
		Name:             "telemetry",
		SourceConnector:  "azuredevops",
		TargetConnector:  "azuredevops",
		Direction:        types.DirectionOneWay,
		ConflictStrategy: types.StrategyManual,
		Trigger:          types.TriggerManual,
		Active:           true,
	}
	if err := store.CreateConfig(ctx, cfg); err != nil {
		t.Fatalf("CreateConfig through wrapper: %v", err)
	}

	exec := &types.SyncExecution{
		ID:        "exec-tel-1",
		ConfigID:  cfg.ID,
		Status:    types.ExecutionRunning,
		StartedAt: time.Now().UTC(),
	}
	if err := store.CreateExecution(ctx, exec); err != nil {
		t.Fatalf("CreateExecution through wrapper: %v", err)
	}
	if err := store.InsertSyncError(ctx, &types.SyncError{
		ExecutionID: exec.ID,
		ItemID:      "41",
		ItemType:    "Bug",
		Message:     "mapping failed",
		CreatedAt:   time.Now().UTC(),
	}); err != nil {
		t.Fatalf("InsertSyncError through wrapper: %v", err)
	}

	errs, err := store.ListSyncErrors(ctx, exec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(errs) != 1 || errs[0].ItemID != "41" {
		t.Fatalf("sync errors = %+v, want one for item 41", errs)
	}
}
