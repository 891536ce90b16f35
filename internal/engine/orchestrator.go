// Package engine drives sync executions: it queries source items, maps them
// into the target's namespace, detects conflicts against the last common
// base, applies non-conflicting changes, and records execution statistics.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/worksync/worksync/internal/conflict"
	"github.com/worksync/worksync/internal/connector"
	"github.com/worksync/worksync/internal/events"
	"github.com/worksync/worksync/internal/mapping"
	"github.com/worksync/worksync/internal/storage"
	"github.com/worksync/worksync/internal/types"
	"github.com/worksync/worksync/internal/version"
)

// ConnectorProvider builds ready-to-use connectors by registry name. The
// production provider pulls settings from the key/value store; tests inject
// fakes.
type ConnectorProvider interface {
	Connector(ctx context.Context, configID int64, side types.Side, name string) (connector.Connector, error)
}

// RegistryProvider is the production ConnectorProvider: it instantiates a
// connector from the registry and initializes it with settings stored under
// "conn.<configID>.<side>.*", falling back to environment variables.
type RegistryProvider struct {
	Registry *connector.Registry
	Settings connector.SettingsStore
}

func (p *RegistryProvider) Connector(ctx context.Context, configID int64, side types.Side, name string) (connector.Connector, error) {
	conn, err := p.Registry.New(name)
	if err != nil {
		return nil, err
	}
	prefix := fmt.Sprintf("conn.%d.%s", configID, side)
	settings, err := connector.LoadSettings(ctx, p.Settings, prefix, name)
	if err != nil {
		return nil, err
	}
	if err := conn.Init(ctx, settings); err != nil {
		return nil, fmt.Errorf("initializing %s connector %q: %w", side, name, err)
	}
	return conn, nil
}

// SyncOptions tunes one execution.
type SyncOptions struct {
	// WorkItemIDs narrows the run to an explicit item list (manual or
	// partial runs). Empty means everything matching the config's filter.
	WorkItemIDs []string

	// DryRun maps and detects but writes nothing to the external systems
	// and persists no versions, synced items, or conflicts. The execution
	// row itself is still recorded.
	DryRun bool

	// Incremental restricts the source query to items changed since the
	// last completed execution.
	Incremental bool
}

// Orchestrator owns the execute-sync state machine. Construct one per
// process and share it; all state lives in the store or on the stack of a
// single run.
type Orchestrator struct {
	store    storage.Storage
	provider ConnectorProvider
	versions *version.Store
	resolver *conflict.Resolver
	bus      *events.Bus
	timeout  time.Duration

	// Callbacks for UI feedback (optional).
	OnMessage func(msg string)
	OnWarning func(msg string)
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithTimeout caps each execution's wall-clock time. Zero means no cap.
func WithTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.timeout = d }
}

// WithBus attaches an event bus for lifecycle notifications.
func WithBus(bus *events.Bus) Option {
	return func(o *Orchestrator) { o.bus = bus }
}

func New(store storage.Storage, provider ConnectorProvider, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:    store,
		provider: provider,
		versions: version.NewStore(store),
		resolver: conflict.NewResolver(store),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Resolver exposes the conflict resolver sharing this orchestrator's store.
func (o *Orchestrator) Resolver() *conflict.Resolver { return o.resolver }

// GetConflicts lists conflicts matching the filter.
func (o *Orchestrator) GetConflicts(ctx context.Context, filter storage.ConflictFilter) ([]*types.Conflict, error) {
	return o.store.ListConflicts(ctx, filter)
}

// GetExecution returns the status of one execution.
func (o *Orchestrator) GetExecution(ctx context.Context, executionID string) (*types.SyncExecution, error) {
	return o.store.GetExecution(ctx, executionID)
}

// run carries the per-execution state so the item loop stays readable.
type run struct {
	cfg    *types.SyncConfiguration
	exec   *types.SyncExecution
	mapper *mapping.Engine
	source connector.Connector
	target connector.Connector
	opts   SyncOptions
	stats  storage.ExecutionCounters
}

// ExecuteSync performs one sync run for a configuration. The returned
// execution is always persisted in a terminal state, whatever happens:
// configuration-level failures come back as a failed execution with a nil
// error, since the orchestrator owns those failures.
func (o *Orchestrator) ExecuteSync(ctx context.Context, configID int64, opts SyncOptions) (*types.SyncExecution, error) {
	cfg, err := o.store.GetConfig(ctx, configID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, &storage.ConfigNotFoundError{ConfigID: configID}
		}
		return nil, fmt.Errorf("loading configuration %d: %w", configID, err)
	}

	exec := &types.SyncExecution{
		ID:        uuid.NewString(),
		ConfigID:  configID,
		Status:    types.ExecutionRunning,
		StartedAt: time.Now().UTC(),
	}
	if err := o.store.CreateExecution(ctx, exec); err != nil {
		return nil, fmt.Errorf("creating execution record: %w", err)
	}
	o.emit(&events.Event{Type: events.EventSyncStarted, SyncConfigID: configID, ExecutionID: exec.ID})

	if !cfg.Active {
		return o.finish(ctx, exec, storage.ExecutionCounters{},
			fmt.Errorf("configuration %d (%s): %w", configID, cfg.Name, storage.ErrConfigInactive))
	}

	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	r := &run{cfg: cfg, exec: exec, opts: opts}
	runErr := o.execute(ctx, r)
	return o.finish(ctx, exec, r.stats, runErr)
}

// execute performs steps 3-5 of the run. Any returned error is a
// configuration-level failure; per-item errors are absorbed into the stats.
func (o *Orchestrator) execute(ctx context.Context, r *run) error {
	mapper, err := mapping.Load(ctx, o.store, r.cfg.ID)
	if err != nil {
		return err
	}
	r.mapper = mapper

	source, err := o.provider.Connector(ctx, r.cfg.ID, types.SideSource, r.cfg.SourceConnector)
	if err != nil {
		return err
	}
	defer source.Close()
	r.source = source

	target, err := o.provider.Connector(ctx, r.cfg.ID, types.SideTarget, r.cfg.TargetConnector)
	if err != nil {
		return err
	}
	defer target.Close()
	r.target = target

	query := connector.QueryOptions{Filter: r.cfg.Filter, IDs: r.opts.WorkItemIDs}
	if r.opts.Incremental && len(r.opts.WorkItemIDs) == 0 {
		since, err := o.store.LastCompletedAt(ctx, r.cfg.ID)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("determining incremental window: %w", err)
		}
		query.Since = since
	}

	items, err := source.QueryItems(ctx, query)
	if err != nil {
		return fmt.Errorf("querying source items: %w", err)
	}
	o.msg("processing %d source items for %s", len(items), r.cfg.Name)

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("execution interrupted: %w", err)
		}
		if err := o.syncItem(ctx, r, item); err != nil {
			r.stats.ItemsFailed++
			o.warn("item %s: %v", item.ID, err)
			o.recordItemError(ctx, r, item, err)
		}
	}
	return nil
}

// syncItem processes one source item end to end. A returned error counts
// the item as failed without touching the rest of the batch.
func (o *Orchestrator) syncItem(ctx context.Context, r *run, item *connector.Item) error {
	mapped, err := r.mapper.MapWorkItem(item)
	if err != nil {
		return err
	}

	if !r.opts.DryRun {
		var mismatch *version.MismatchError
		if _, err := o.versions.Capture(ctx, r.cfg.ID, types.SideSource, item, r.exec.ID); err != nil {
			if errors.As(err, &mismatch) {
				return o.flagVersionConflict(ctx, r, item, mismatch)
			}
			return err
		}
	}

	synced, err := o.store.GetSyncedItem(ctx, r.cfg.ID, item.ID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("looking up synced item: %w", err)
	}

	if synced == nil {
		return o.createTarget(ctx, r, item, mapped)
	}
	return o.updateTarget(ctx, r, item, mapped, synced)
}

// createTarget handles a source item never synced before.
func (o *Orchestrator) createTarget(ctx context.Context, r *run, item *connector.Item, mapped *mapping.MappedItem) error {
	if r.opts.DryRun {
		o.msg("dry run: would create %s item for source %s", mapped.Type, item.ID)
		r.stats.ItemsSynced++
		return nil
	}

	created, err := r.target.CreateItem(ctx, mapped.Type, mapped.Fields)
	if err != nil {
		return fmt.Errorf("creating target item: %w", err)
	}
	if err := o.store.UpsertSyncedItem(ctx, r.cfg.ID, item.ID, created.ID, time.Now().UTC()); err != nil {
		return fmt.Errorf("recording synced item: %w", err)
	}
	v, err := o.versions.Capture(ctx, r.cfg.ID, types.SideTarget, created, r.exec.ID)
	if err != nil {
		return fmt.Errorf("capturing created target version: %w", err)
	}
	// A fresh create is by definition a state both sides agree on.
	if err := o.store.SetSyncedItemBase(ctx, r.cfg.ID, item.ID, v.ID); err != nil {
		return fmt.Errorf("setting merge base: %w", err)
	}
	r.stats.ItemsSynced++
	return nil
}

// updateTarget handles a previously synced pair: capture the target's
// current state, run 3-way detection, apply what is safe, and defer the
// rest as conflicts.
func (o *Orchestrator) updateTarget(ctx context.Context, r *run, item *connector.Item, mapped *mapping.MappedItem, synced *types.SyncedItem) error {
	tgtItem, err := r.target.GetItem(ctx, synced.TargetItemID)
	if err != nil {
		return fmt.Errorf("reading target item %s: %w", synced.TargetItemID, err)
	}
	if tgtItem == nil {
		return o.flagDeletion(ctx, r, item, synced)
	}

	if !r.opts.DryRun {
		var mismatch *version.MismatchError
		if _, err := o.versions.Capture(ctx, r.cfg.ID, types.SideTarget, tgtItem, r.exec.ID); err != nil {
			if errors.As(err, &mismatch) {
				return o.flagVersionConflict(ctx, r, item, mismatch)
			}
			return err
		}
	}

	base, err := o.versions.Base(ctx, r.cfg.ID, item.ID)
	if err != nil {
		return fmt.Errorf("loading base version: %w", err)
	}

	// Fields with an outstanding unresolved conflict stay frozen: they are
	// neither overwritten nor re-reported until the operator acts.
	pending, err := o.store.ListConflicts(ctx, storage.ConflictFilter{
		ConfigID:     r.cfg.ID,
		SourceItemID: item.ID,
		Status:       types.ConflictUnresolved,
	})
	if err != nil {
		return fmt.Errorf("loading pending conflicts: %w", err)
	}
	frozen := make(map[string]bool, len(pending))
	for _, c := range pending {
		if c.Type == types.ConflictField {
			frozen[c.FieldName] = true
		}
	}

	in := conflict.Input{
		ConfigID:      r.cfg.ID,
		ExecutionID:   r.exec.ID,
		SourceItemID:  item.ID,
		TargetItemID:  tgtItem.ID,
		WorkItemType:  mapped.Type,
		Direction:     r.cfg.Direction,
		Source:        mapped.Fields,
		Target:        tgtItem.Fields,
		Managed:       mapped.Managed,
		SourceChanged: item.ChangedDate,
		TargetChanged: tgtItem.ChangedDate,
	}
	if base != nil {
		in.Base = base.Fields
	}
	res := conflict.Detect(in)

	var newConflicts []*types.Conflict
	for _, c := range res.Conflicts {
		if !frozen[c.FieldName] {
			newConflicts = append(newConflicts, c)
		}
	}
	r.stats.ConflictsDetected += len(newConflicts)

	applyToTarget := make(types.FieldSnapshot, len(res.ApplyToTarget))
	for field, value := range res.ApplyToTarget {
		if !frozen[field] {
			applyToTarget[field] = value
		}
	}

	unresolvedHere := len(pending)
	resolvedCount := 0
	var autoResolved []int64
	if len(newConflicts) > 0 && !r.opts.DryRun {
		if err := o.store.InsertConflicts(ctx, newConflicts); err != nil {
			return fmt.Errorf("recording conflicts: %w", err)
		}
		for _, c := range newConflicts {
			o.emit(&events.Event{
				Type:         events.EventConflictDetected,
				SyncConfigID: r.cfg.ID,
				ExecutionID:  r.exec.ID,
				ConflictID:   c.ID,
				ConflictType: string(c.Type),
				FieldName:    c.FieldName,
			})
		}
		resolved, resolvedIDs := o.autoResolve(ctx, r, newConflicts)
		resolvedCount = len(resolvedIDs)
		autoResolved = resolvedIDs
		for field, value := range resolved {
			applyToTarget[field] = value
		}
	}
	unresolvedHere += len(newConflicts) - resolvedCount
	r.stats.ConflictsUnresolved += len(newConflicts) - resolvedCount

	currentVersion := int64(0)
	if !r.opts.DryRun {
		if v, err := o.versions.Latest(ctx, r.cfg.ID, types.SideTarget, tgtItem.ID); err == nil && v != nil {
			currentVersion = v.ID
		}
	}

	if len(applyToTarget) > 0 && !r.opts.DryRun {
		updated, err := r.target.UpdateItem(ctx, tgtItem.ID, applyToTarget)
		if err != nil {
			return fmt.Errorf("updating target item %s: %w", tgtItem.ID, err)
		}
		v, err := o.versions.Capture(ctx, r.cfg.ID, types.SideTarget, updated, r.exec.ID)
		if err != nil {
			return fmt.Errorf("capturing updated target version: %w", err)
		}
		currentVersion = v.ID
		o.markResolutionsApplied(ctx, autoResolved)
	}

	// Bidirectional sync writes target-only changes back to the source.
	if r.cfg.Direction == types.DirectionBidirectional && !r.opts.DryRun {
		applyToSource := make(types.FieldSnapshot, len(res.ApplyToSource))
		for field, value := range res.ApplyToSource {
			if !frozen[field] {
				applyToSource[field] = value
			}
		}
		if len(applyToSource) > 0 {
			// Source fields travel in the target namespace here; the
			// source connector receives them as-is. Reverse mapping is a
			// per-deployment concern handled by the connector's own
			// field configuration.
			updated, err := r.source.UpdateItem(ctx, item.ID, applyToSource)
			if err != nil {
				return fmt.Errorf("updating source item %s: %w", item.ID, err)
			}
			if _, err := o.versions.Capture(ctx, r.cfg.ID, types.SideSource, updated, r.exec.ID); err != nil {
				return fmt.Errorf("capturing updated source version: %w", err)
			}
		}
	}

	if !r.opts.DryRun {
		if err := o.store.UpsertSyncedItem(ctx, r.cfg.ID, item.ID, tgtItem.ID, time.Now().UTC()); err != nil {
			return fmt.Errorf("recording synced item: %w", err)
		}
		// Advance the merge base only when nothing about this pair is in
		// dispute; a frozen base keeps unresolved fields detectable.
		if unresolvedHere == 0 && currentVersion != 0 {
			if err := o.store.SetSyncedItemBase(ctx, r.cfg.ID, item.ID, currentVersion); err != nil {
				return fmt.Errorf("advancing merge base: %w", err)
			}
		}
	}
	r.stats.ItemsSynced++
	return nil
}

// autoResolve applies the configuration's automatic strategy to freshly
// detected field conflicts. Failures (unmergeable fields, strategies that
// need data we lack) leave the conflict unresolved for the operator.
// Returns resolved field values to fold into the target update, plus the
// ids of the conflicts resolved so their audit rows can be marked applied
// once the update lands.
func (o *Orchestrator) autoResolve(ctx context.Context, r *run, conflicts []*types.Conflict) (types.FieldSnapshot, []int64) {
	if !r.cfg.ConflictStrategy.IsAuto() {
		return nil, nil
	}

	resolved := types.FieldSnapshot{}
	var resolvedIDs []int64
	for _, c := range conflicts {
		if c.Type != types.ConflictField {
			continue
		}
		rc, err := o.resolver.ResolveAuto(ctx, c.ID, r.cfg.ConflictStrategy)
		if err != nil {
			o.warn("auto-resolution of conflict %d (%s) failed: %v", c.ID, c.FieldName, err)
			continue
		}
		r.stats.ConflictsResolved++
		resolved[rc.FieldName] = rc.ResolvedValue
		resolvedIDs = append(resolvedIDs, rc.ID)
		o.emit(&events.Event{
			Type:         events.EventConflictResolved,
			SyncConfigID: r.cfg.ID,
			ExecutionID:  r.exec.ID,
			ConflictID:   rc.ID,
			ConflictType: string(rc.Type),
			FieldName:    rc.FieldName,
		})
	}
	return resolved, resolvedIDs
}

// markResolutionsApplied flags the audit rows of auto-resolved conflicts
// whose values were just pushed to the target. Best-effort, same as the
// explicit apply path's bookkeeping.
func (o *Orchestrator) markResolutionsApplied(ctx context.Context, conflictIDs []int64) {
	for _, id := range conflictIDs {
		audits, err := o.store.ListResolutions(ctx, id)
		if err != nil || len(audits) == 0 {
			continue
		}
		last := audits[len(audits)-1]
		if err := o.store.MarkResolutionApplied(ctx, last.ID, false, true, "applied"); err != nil {
			o.warn("failed to record application result for conflict %d: %v", id, err)
		}
	}
}

// flagDeletion records a deletion conflict for a pair whose target item
// vanished. The item is neither synced nor failed; it waits for resolution.
func (o *Orchestrator) flagDeletion(ctx context.Context, r *run, item *connector.Item, synced *types.SyncedItem) error {
	o.warn("target item %s for source %s no longer exists", synced.TargetItemID, item.ID)
	in := conflict.Input{
		ConfigID:      r.cfg.ID,
		ExecutionID:   r.exec.ID,
		SourceItemID:  item.ID,
		TargetItemID:  synced.TargetItemID,
		WorkItemType:  item.Type,
		SourceChanged: item.ChangedDate,
	}
	c := conflict.DeletionConflict(in, types.SideTarget)
	r.stats.ConflictsDetected++
	r.stats.ConflictsUnresolved++
	if r.opts.DryRun {
		return nil
	}
	if err := o.store.InsertConflicts(ctx, []*types.Conflict{c}); err != nil {
		return fmt.Errorf("recording deletion conflict: %w", err)
	}
	o.emit(&events.Event{
		Type:         events.EventConflictDetected,
		SyncConfigID: r.cfg.ID,
		ExecutionID:  r.exec.ID,
		ConflictID:   c.ID,
		ConflictType: string(types.ConflictDeletion),
	})
	return nil
}

// flagVersionConflict records a version conflict for an item whose external
// revision moved backward. Field comparison is skipped for such items.
func (o *Orchestrator) flagVersionConflict(ctx context.Context, r *run, item *connector.Item, mismatch *version.MismatchError) error {
	o.warn("%v", mismatch)
	in := conflict.Input{
		ConfigID:      r.cfg.ID,
		ExecutionID:   r.exec.ID,
		SourceItemID:  item.ID,
		WorkItemType:  item.Type,
		SourceChanged: item.ChangedDate,
	}
	c := conflict.VersionConflict(in, mismatch.Error())
	r.stats.ConflictsDetected++
	r.stats.ConflictsUnresolved++
	if r.opts.DryRun {
		return nil
	}
	if err := o.store.InsertConflicts(ctx, []*types.Conflict{c}); err != nil {
		return fmt.Errorf("recording version conflict: %w", err)
	}
	o.emit(&events.Event{
		Type:         events.EventConflictDetected,
		SyncConfigID: r.cfg.ID,
		ExecutionID:  r.exec.ID,
		ConflictID:   c.ID,
		ConflictType: string(types.ConflictVersion),
	})
	return nil
}

// ApplyResolution pushes a resolved conflict's value to the target system.
// This is the explicit second step after resolution; nothing is pushed
// automatically when an operator resolves a conflict. Once applied, and if
// no other conflicts remain for the pair, the merge base advances so later
// runs treat the applied value as agreed.
func (o *Orchestrator) ApplyResolution(ctx context.Context, conflictID int64) error {
	c, err := o.store.GetConflict(ctx, conflictID)
	if err != nil {
		return fmt.Errorf("loading conflict %d: %w", conflictID, err)
	}
	if c.Status != types.ConflictResolved {
		return fmt.Errorf("conflict %d is %s; only resolved conflicts can be applied", conflictID, c.Status)
	}
	if c.Type != types.ConflictField {
		return fmt.Errorf("conflict %d is a %s; only field conflicts have a value to apply", conflictID, c.Type)
	}

	cfg, err := o.store.GetConfig(ctx, c.ConfigID)
	if err != nil {
		return fmt.Errorf("loading configuration %d: %w", c.ConfigID, err)
	}
	synced, err := o.store.GetSyncedItem(ctx, c.ConfigID, c.SourceItemID)
	if err != nil {
		return fmt.Errorf("looking up synced item for conflict %d: %w", conflictID, err)
	}

	target, err := o.provider.Connector(ctx, cfg.ID, types.SideTarget, cfg.TargetConnector)
	if err != nil {
		return err
	}
	defer target.Close()

	updated, err := target.UpdateItem(ctx, synced.TargetItemID, types.FieldSnapshot{c.FieldName: c.ResolvedValue})
	result := "applied"
	if err != nil {
		result = fmt.Sprintf("failed: %v", err)
	}

	// Record the outcome on the latest audit row either way.
	if audits, aerr := o.store.ListResolutions(ctx, conflictID); aerr == nil && len(audits) > 0 {
		last := audits[len(audits)-1]
		if merr := o.store.MarkResolutionApplied(ctx, last.ID, false, err == nil, result); merr != nil {
			o.warn("failed to record application result for conflict %d: %v", conflictID, merr)
		}
	}
	if err != nil {
		return fmt.Errorf("applying resolution of conflict %d: %w", conflictID, err)
	}

	v, err := o.versions.Capture(ctx, c.ConfigID, types.SideTarget, updated, "")
	if err != nil {
		return fmt.Errorf("capturing applied target version: %w", err)
	}

	remaining, err := o.store.ListConflicts(ctx, storage.ConflictFilter{
		ConfigID:     c.ConfigID,
		SourceItemID: c.SourceItemID,
		Status:       types.ConflictUnresolved,
	})
	if err != nil {
		return fmt.Errorf("checking remaining conflicts: %w", err)
	}
	if len(remaining) == 0 {
		if err := o.store.SetSyncedItemBase(ctx, c.ConfigID, c.SourceItemID, v.ID); err != nil {
			return fmt.Errorf("advancing merge base: %w", err)
		}
	}
	return nil
}

// recordItemError persists one per-item failure. Errors here are reported
// but never escalate; the error record is best-effort.
func (o *Orchestrator) recordItemError(ctx context.Context, r *run, item *connector.Item, itemErr error) {
	rec := &types.SyncError{
		ExecutionID: r.exec.ID,
		ItemID:      item.ID,
		ItemType:    item.Type,
		Message:     itemErr.Error(),
		CreatedAt:   time.Now().UTC(),
	}
	var connErr *connector.Error
	if errors.As(itemErr, &connErr) {
		rec.Detail = fmt.Sprintf("connector=%s op=%s retryable=%v", connErr.Connector, connErr.Op, connErr.Retryable)
	}
	if err := o.store.InsertSyncError(ctx, rec); err != nil {
		o.warn("failed to record item error for %s: %v", item.ID, err)
	}
}

// finish moves the execution to its terminal state and emits the lifecycle
// event. It uses a background-derived context so a cancelled run still gets
// its terminal row.
func (o *Orchestrator) finish(ctx context.Context, exec *types.SyncExecution, stats storage.ExecutionCounters, runErr error) (*types.SyncExecution, error) {
	status := types.ExecutionCompleted
	errMsg := ""
	switch {
	case runErr != nil:
		status = types.ExecutionFailed
		errMsg = runErr.Error()
	case stats.ItemsFailed > 0 && stats.ItemsSynced == 0:
		status = types.ExecutionFailed
		errMsg = fmt.Sprintf("all %d items failed", stats.ItemsFailed)
	case stats.ItemsFailed > 0:
		status = types.ExecutionCompletedWithErrors
	}

	finishCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		finishCtx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
	}

	completedAt := time.Now().UTC()
	if err := o.store.FinishExecution(finishCtx, exec.ID, status, stats, errMsg, completedAt); err != nil {
		return exec, fmt.Errorf("finalizing execution %s: %w", exec.ID, err)
	}

	exec.Status = status
	exec.CompletedAt = &completedAt
	exec.ItemsSynced = stats.ItemsSynced
	exec.ItemsFailed = stats.ItemsFailed
	exec.ConflictsDetected = stats.ConflictsDetected
	exec.ConflictsResolved = stats.ConflictsResolved
	exec.ConflictsUnresolved = stats.ConflictsUnresolved
	exec.ErrorMessage = errMsg

	evType := events.EventSyncCompleted
	if status == types.ExecutionFailed {
		evType = events.EventSyncFailed
	}
	o.emit(&events.Event{
		Type:                evType,
		SyncConfigID:        exec.ConfigID,
		ExecutionID:         exec.ID,
		ItemsSynced:         stats.ItemsSynced,
		ItemsFailed:         stats.ItemsFailed,
		ConflictsDetected:   stats.ConflictsDetected,
		ConflictsResolved:   stats.ConflictsResolved,
		ConflictsUnresolved: stats.ConflictsUnresolved,
		Error:               errMsg,
	})
	return exec, nil
}

func (o *Orchestrator) emit(e *events.Event) {
	if o.bus != nil {
		o.bus.Emit(e)
	}
}

func (o *Orchestrator) msg(format string, args ...any) {
	if o.OnMessage != nil {
		o.OnMessage(fmt.Sprintf(format, args...))
	}
}

func (o *Orchestrator) warn(format string, args ...any) {
	if o.OnWarning != nil {
		o.OnWarning(fmt.Sprintf(format, args...))
	}
}
