package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/worksync/worksync/internal/storage"
	"github.com/worksync/worksync/internal/types"
)

const storageScopeName = "github.com/worksync/worksync/storage"

// InstrumentedStorage wraps storage.Storage with OTel tracing and metrics.
// Every method gets a span and is counted in ws.storage.* metrics.
// Use WrapStorage to create one; it returns the original store unchanged when
// telemetry is disabled.
type InstrumentedStorage struct {
	inner         storage.Storage
	tracer        trace.Tracer
	ops           metric.Int64Counter
	dur           metric.Float64Histogram
	errs          metric.Int64Counter
	conflictGauge metric.Int64Gauge
}

// WrapStorage returns s decorated with OTel instrumentation.
// When telemetry is disabled, s is returned as-is with zero overhead.
func WrapStorage(s storage.Storage) storage.Storage {
	if !Enabled() {
		return s
	}
	m := Meter(storageScopeName)
	ops, _ := m.Int64Counter("ws.storage.operations",
		metric.WithDescription("Total storage operations executed"),
	)
	dur, _ := m.Float64Histogram("ws.storage.operation.duration",
		metric.WithDescription("Storage operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	errs, _ := m.Int64Counter("ws.storage.errors",
		metric.WithDescription("Total storage operation errors"),
	)
	conflictGauge, _ := m.Int64Gauge("ws.conflict.count",
		metric.WithDescription("Conflicts returned by the most recent filtered list (snapshot)"),
	)
	return &InstrumentedStorage{
		inner:         s,
		tracer:        Tracer(storageScopeName),
		ops:           ops,
		dur:           dur,
		errs:          errs,
		conflictGauge: conflictGauge,
	}
}

// op starts a span and records a metric for the named storage operation.
func (s *InstrumentedStorage) op(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span, time.Time) {
	all := append([]attribute.KeyValue{attribute.String("db.operation", name)}, attrs...)
	ctx, span := s.tracer.Start(ctx, "storage."+name,
		trace.WithAttributes(all...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	s.ops.Add(ctx, 1, metric.WithAttributes(all...))
	return ctx, span, time.Now()
}

// done ends the span, records duration and optional error.
func (s *InstrumentedStorage) done(ctx context.Context, span trace.Span, start time.Time, err error, attrs ...attribute.KeyValue) {
	ms := float64(time.Since(start).Milliseconds())
	s.dur.Record(ctx, ms, metric.WithAttributes(attrs...))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.errs.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	span.End()
}

// ── Sync configurations ─────────────────────────────────────────────────────

func (s *InstrumentedStorage) CreateConfig(ctx context.Context, cfg *types.SyncConfiguration) error {
	attrs := []attribute.KeyValue{attribute.String("ws.config.name", cfg.Name)}
	ctx, span, t := s.op(ctx, "CreateConfig", attrs...)
	err := s.inner.CreateConfig(ctx, cfg)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStorage) GetConfig(ctx context.Context, id int64) (*types.SyncConfiguration, error) {
	attrs := []attribute.KeyValue{attribute.Int64("ws.config.id", id)}
	ctx, span, t := s.op(ctx, "GetConfig", attrs...)
	v, err := s.inner.GetConfig(ctx, id)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStorage) ListConfigs(ctx context.Context, activeOnly bool) ([]*types.SyncConfiguration, error) {
	attrs := []attribute.KeyValue{attribute.Bool("ws.active_only", activeOnly)}
	ctx, span, t := s.op(ctx, "ListConfigs", attrs...)
	v, err := s.inner.ListConfigs(ctx, activeOnly)
	if err == nil {
		span.SetAttributes(attribute.Int("ws.result.count", len(v)))
	}
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStorage) UpdateConfig(ctx context.Context, id int64, updates map[string]any) error {
	attrs := []attribute.KeyValue{
		attribute.Int64("ws.config.id", id),
		attribute.Int("ws.update.count", len(updates)),
	}
	ctx, span, t := s.op(ctx, "UpdateConfig", attrs...)
	err := s.inner.UpdateConfig(ctx, id, updates)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStorage) DeleteConfig(ctx context.Context, id int64) error {
	attrs := []attribute.KeyValue{attribute.Int64("ws.config.id", id)}
	ctx, span, t := s.op(ctx, "DeleteConfig", attrs...)
	err := s.inner.DeleteConfig(ctx, id)
	s.done(ctx, span, t, err, attrs...)
	return err
}

// ── Mappings ────────────────────────────────────────────────────────────────

func (s *InstrumentedStorage) CreateTypeMapping(ctx context.Context, tm *types.TypeMapping) error {
	attrs := []attribute.KeyValue{
		attribute.Int64("ws.config.id", tm.ConfigID),
		attribute.String("ws.mapping.source_type", tm.SourceType),
		attribute.String("ws.mapping.target_type", tm.TargetType),
	}
	ctx, span, t := s.op(ctx, "CreateTypeMapping", attrs...)
	err := s.inner.CreateTypeMapping(ctx, tm)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStorage) GetMappings(ctx context.Context, configID int64) ([]*types.TypeMapping, error) {
	attrs := []attribute.KeyValue{attribute.Int64("ws.config.id", configID)}
	ctx, span, t := s.op(ctx, "GetMappings", attrs...)
	v, err := s.inner.GetMappings(ctx, configID)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStorage) DeleteTypeMapping(ctx context.Context, id int64) error {
	attrs := []attribute.KeyValue{attribute.Int64("ws.mapping.id", id)}
	ctx, span, t := s.op(ctx, "DeleteTypeMapping", attrs...)
	err := s.inner.DeleteTypeMapping(ctx, id)
	s.done(ctx, span, t, err, attrs...)
	return err
}

// ── Versions ────────────────────────────────────────────────────────────────

func (s *InstrumentedStorage) InsertVersion(ctx context.Context, v *types.WorkItemVersion) error {
	attrs := []attribute.KeyValue{
		attribute.Int64("ws.config.id", v.ConfigID),
		attribute.String("ws.side", string(v.Side)),
		attribute.String("ws.item.id", v.WorkItemID),
	}
	ctx, span, t := s.op(ctx, "InsertVersion", attrs...)
	err := s.inner.InsertVersion(ctx, v)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStorage) LatestVersion(ctx context.Context, configID int64, side types.Side, itemID string) (*types.WorkItemVersion, error) {
	attrs := []attribute.KeyValue{
		attribute.Int64("ws.config.id", configID),
		attribute.String("ws.side", string(side)),
		attribute.String("ws.item.id", itemID),
	}
	ctx, span, t := s.op(ctx, "LatestVersion", attrs...)
	v, err := s.inner.LatestVersion(ctx, configID, side, itemID)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStorage) BaseVersion(ctx context.Context, configID int64, sourceItemID string) (*types.WorkItemVersion, error) {
	attrs := []attribute.KeyValue{
		attribute.Int64("ws.config.id", configID),
		attribute.String("ws.item.id", sourceItemID),
	}
	ctx, span, t := s.op(ctx, "BaseVersion", attrs...)
	v, err := s.inner.BaseVersion(ctx, configID, sourceItemID)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

// ── Conflicts ───────────────────────────────────────────────────────────────

func (s *InstrumentedStorage) InsertConflicts(ctx context.Context, conflicts []*types.Conflict) error {
	attrs := []attribute.KeyValue{attribute.Int("ws.conflict.count", len(conflicts))}
	ctx, span, t := s.op(ctx, "InsertConflicts", attrs...)
	err := s.inner.InsertConflicts(ctx, conflicts)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStorage) GetConflict(ctx context.Context, id int64) (*types.Conflict, error) {
	attrs := []attribute.KeyValue{attribute.Int64("ws.conflict.id", id)}
	ctx, span, t := s.op(ctx, "GetConflict", attrs...)
	v, err := s.inner.GetConflict(ctx, id)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStorage) ListConflicts(ctx context.Context, filter storage.ConflictFilter) ([]*types.Conflict, error) {
	ctx, span, t := s.op(ctx, "ListConflicts")
	v, err := s.inner.ListConflicts(ctx, filter)
	if err == nil {
		span.SetAttributes(attribute.Int("ws.result.count", len(v)))
		if filter.Status != "" {
			// Snapshot count per status, mainly useful for unresolved backlog.
			s.conflictGauge.Record(ctx, int64(len(v)),
				metric.WithAttributes(attribute.String("status", string(filter.Status))))
		}
	}
	s.done(ctx, span, t, err)
	return v, err
}

func (s *InstrumentedStorage) ResolveConflict(ctx context.Context, id int64, status types.ConflictStatus, strategy types.ResolutionStrategy, resolvedValue any, resolvedBy string, resolvedAt time.Time) (bool, error) {
	attrs := []attribute.KeyValue{
		attribute.Int64("ws.conflict.id", id),
		attribute.String("ws.resolution.strategy", string(strategy)),
	}
	ctx, span, t := s.op(ctx, "ResolveConflict", attrs...)
	ok, err := s.inner.ResolveConflict(ctx, id, status, strategy, resolvedValue, resolvedBy, resolvedAt)
	span.SetAttributes(attribute.Bool("ws.resolution.applied", ok))
	s.done(ctx, span, t, err, attrs...)
	return ok, err
}

func (s *InstrumentedStorage) InsertResolution(ctx context.Context, res *types.ConflictResolution) error {
	attrs := []attribute.KeyValue{attribute.Int64("ws.conflict.id", res.ConflictID)}
	ctx, span, t := s.op(ctx, "InsertResolution", attrs...)
	err := s.inner.InsertResolution(ctx, res)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStorage) ListResolutions(ctx context.Context, conflictID int64) ([]*types.ConflictResolution, error) {
	attrs := []attribute.KeyValue{attribute.Int64("ws.conflict.id", conflictID)}
	ctx, span, t := s.op(ctx, "ListResolutions", attrs...)
	v, err := s.inner.ListResolutions(ctx, conflictID)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStorage) MarkResolutionApplied(ctx context.Context, resolutionID int64, toSource, toTarget bool, result string) error {
	attrs := []attribute.KeyValue{attribute.Int64("ws.resolution.id", resolutionID)}
	ctx, span, t := s.op(ctx, "MarkResolutionApplied", attrs...)
	err := s.inner.MarkResolutionApplied(ctx, resolutionID, toSource, toTarget, result)
	s.done(ctx, span, t, err, attrs...)
	return err
}

// ── Executions ──────────────────────────────────────────────────────────────

func (s *InstrumentedStorage) CreateExecution(ctx context.Context, exec *types.SyncExecution) error {
	attrs := []attribute.KeyValue{
		attribute.String("ws.execution.id", exec.ID),
		attribute.Int64("ws.config.id", exec.ConfigID),
	}
	ctx, span, t := s.op(ctx, "CreateExecution", attrs...)
	err := s.inner.CreateExecution(ctx, exec)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStorage) GetExecution(ctx context.Context, id string) (*types.SyncExecution, error) {
	attrs := []attribute.KeyValue{attribute.String("ws.execution.id", id)}
	ctx, span, t := s.op(ctx, "GetExecution", attrs...)
	v, err := s.inner.GetExecution(ctx, id)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStorage) ListExecutions(ctx context.Context, filter storage.ExecutionFilter) ([]*types.SyncExecution, error) {
	ctx, span, t := s.op(ctx, "ListExecutions")
	v, err := s.inner.ListExecutions(ctx, filter)
	if err == nil {
		span.SetAttributes(attribute.Int("ws.result.count", len(v)))
	}
	s.done(ctx, span, t, err)
	return v, err
}

func (s *InstrumentedStorage) FinishExecution(ctx context.Context, id string, status types.ExecutionStatus, counters storage.ExecutionCounters, errMsg string, completedAt time.Time) error {
	attrs := []attribute.KeyValue{
		attribute.String("ws.execution.id", id),
		attribute.String("ws.execution.status", string(status)),
	}
	ctx, span, t := s.op(ctx, "FinishExecution", attrs...)
	err := s.inner.FinishExecution(ctx, id, status, counters, errMsg, completedAt)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStorage) LastCompletedAt(ctx context.Context, configID int64) (*time.Time, error) {
	attrs := []attribute.KeyValue{attribute.Int64("ws.config.id", configID)}
	ctx, span, t := s.op(ctx, "LastCompletedAt", attrs...)
	v, err := s.inner.LastCompletedAt(ctx, configID)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

// ── Synced items ────────────────────────────────────────────────────────────

func (s *InstrumentedStorage) GetSyncedItem(ctx context.Context, configID int64, sourceItemID string) (*types.SyncedItem, error) {
	attrs := []attribute.KeyValue{
		attribute.Int64("ws.config.id", configID),
		attribute.String("ws.item.id", sourceItemID),
	}
	ctx, span, t := s.op(ctx, "GetSyncedItem", attrs...)
	v, err := s.inner.GetSyncedItem(ctx, configID, sourceItemID)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStorage) UpsertSyncedItem(ctx context.Context, configID int64, sourceItemID, targetItemID string, at time.Time) error {
	attrs := []attribute.KeyValue{
		attribute.Int64("ws.config.id", configID),
		attribute.String("ws.item.id", sourceItemID),
	}
	ctx, span, t := s.op(ctx, "UpsertSyncedItem", attrs...)
	err := s.inner.UpsertSyncedItem(ctx, configID, sourceItemID, targetItemID, at)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStorage) SetSyncedItemBase(ctx context.Context, configID int64, sourceItemID string, baseVersionID int64) error {
	attrs := []attribute.KeyValue{
		attribute.Int64("ws.config.id", configID),
		attribute.String("ws.item.id", sourceItemID),
	}
	ctx, span, t := s.op(ctx, "SetSyncedItemBase", attrs...)
	err := s.inner.SetSyncedItemBase(ctx, configID, sourceItemID, baseVersionID)
	s.done(ctx, span, t, err, attrs...)
	return err
}

// ── Sync errors ─────────────────────────────────────────────────────────────

func (s *InstrumentedStorage) InsertSyncError(ctx context.Context, e *types.SyncError) error {
	attrs := []attribute.KeyValue{
		attribute.String("ws.execution.id", e.ExecutionID),
		attribute.String("ws.item.id", e.ItemID),
	}
	ctx, span, t := s.op(ctx, "InsertSyncError", attrs...)
	err := s.inner.InsertSyncError(ctx, e)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStorage) ListSyncErrors(ctx context.Context, executionID string) ([]*types.SyncError, error) {
	attrs := []attribute.KeyValue{attribute.String("ws.execution.id", executionID)}
	ctx, span, t := s.op(ctx, "ListSyncErrors", attrs...)
	v, err := s.inner.ListSyncErrors(ctx, executionID)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

// ── Key/value configuration ─────────────────────────────────────────────────

func (s *InstrumentedStorage) SetConfigValue(ctx context.Context, key, value string) error {
	attrs := []attribute.KeyValue{attribute.String("ws.config.key", key)}
	ctx, span, t := s.op(ctx, "SetConfigValue", attrs...)
	err := s.inner.SetConfigValue(ctx, key, value)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStorage) GetConfigValue(ctx context.Context, key string) (string, error) {
	attrs := []attribute.KeyValue{attribute.String("ws.config.key", key)}
	ctx, span, t := s.op(ctx, "GetConfigValue", attrs...)
	v, err := s.inner.GetConfigValue(ctx, key)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStorage) GetAllConfigValues(ctx context.Context) (map[string]string, error) {
	ctx, span, t := s.op(ctx, "GetAllConfigValues")
	v, err := s.inner.GetAllConfigValues(ctx)
	s.done(ctx, span, t, err)
	return v, err
}

// ── Transactions ────────────────────────────────────────────────────────────

func (s *InstrumentedStorage) RunInTransaction(ctx context.Context, fn func(tx storage.Transaction) error) error {
	ctx, span, t := s.op(ctx, "RunInTransaction")
	err := s.inner.RunInTransaction(ctx, fn)
	s.done(ctx, span, t, err)
	return err
}

// ── Lifecycle ───────────────────────────────────────────────────────────────

func (s *InstrumentedStorage) Close() error {
	return s.inner.Close()
}
