package conflict

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/worksync/worksync/internal/storage"
	"github.com/worksync/worksync/internal/types"
)

// AlreadyResolvedError reports a resolution attempt on a conflict that has
// already left the unresolved state. The first resolution stands.
type AlreadyResolvedError struct {
	ConflictID int64
	Status     types.ConflictStatus
}

func (e *AlreadyResolvedError) Error() string {
	return fmt.Sprintf("conflict %d is already %s", e.ConflictID, e.Status)
}

// UnmergeableFieldError reports that the merge strategy has no structural
// merge for the conflicting values; the caller must fall back to manual
// resolution.
type UnmergeableFieldError struct {
	ConflictID int64
	FieldName  string
}

func (e *UnmergeableFieldError) Error() string {
	return fmt.Sprintf("conflict %d: field %q cannot be merged automatically", e.ConflictID, e.FieldName)
}

// ResolverStore is the slice of the storage interface the resolver needs.
// ResolveConflict must be a compare-and-set on status=unresolved so the
// monotonic transition is enforced at the database, not just in this code.
type ResolverStore interface {
	GetConflict(ctx context.Context, id int64) (*types.Conflict, error)
	ResolveConflict(ctx context.Context, id int64, status types.ConflictStatus, strategy types.ResolutionStrategy, resolvedValue any, resolvedBy string, resolvedAt time.Time) (bool, error)
	InsertResolution(ctx context.Context, res *types.ConflictResolution) error
	LatestVersion(ctx context.Context, configID int64, side types.Side, itemID string) (*types.WorkItemVersion, error)
}

// Resolver applies resolution strategies to unresolved conflicts and keeps
// the audit trail. It never pushes values to the external systems; that is
// a separate, explicit caller step recorded later on the audit row.
type Resolver struct {
	db ResolverStore
}

func NewResolver(db ResolverStore) *Resolver {
	return &Resolver{db: db}
}

// ResolveManually resolves a conflict with an operator-chosen value.
func (r *Resolver) ResolveManually(ctx context.Context, conflictID int64, value any, rationale, resolvedBy string) (*types.Conflict, error) {
	c, err := r.unresolved(ctx, conflictID)
	if err != nil {
		return nil, err
	}
	return r.apply(ctx, c, types.StrategyManual, types.ConflictResolved, value, rationale, resolvedBy)
}

// ResolveAuto resolves a conflict with one of the automatic strategies.
func (r *Resolver) ResolveAuto(ctx context.Context, conflictID int64, strategy types.ResolutionStrategy) (*types.Conflict, error) {
	if !strategy.IsAuto() {
		return nil, fmt.Errorf("strategy %q is not an automatic resolution strategy", strategy)
	}

	c, err := r.unresolved(ctx, conflictID)
	if err != nil {
		return nil, err
	}

	var value any
	switch strategy {
	case types.StrategySourcePriority:
		value = c.SourceValue
	case types.StrategyTargetPriority:
		value = c.TargetValue
	case types.StrategyLastWriteWins:
		value, err = r.lastWriteWins(ctx, c)
	case types.StrategyMerge:
		value, err = mergeValues(c)
	}
	if err != nil {
		return nil, err
	}

	return r.apply(ctx, c, strategy, types.ConflictResolved, value, "", "system")
}

// Ignore marks a conflict as deliberately unactioned. No resolved value is
// recorded, but the audit trail still gets a row.
func (r *Resolver) Ignore(ctx context.Context, conflictID int64, resolvedBy string) (*types.Conflict, error) {
	c, err := r.unresolved(ctx, conflictID)
	if err != nil {
		return nil, err
	}
	return r.apply(ctx, c, types.StrategyIgnored, types.ConflictIgnored, nil, "", resolvedBy)
}

func (r *Resolver) unresolved(ctx context.Context, conflictID int64) (*types.Conflict, error) {
	c, err := r.db.GetConflict(ctx, conflictID)
	if err != nil {
		return nil, fmt.Errorf("loading conflict %d: %w", conflictID, err)
	}
	if c.Status != types.ConflictUnresolved {
		return nil, &AlreadyResolvedError{ConflictID: conflictID, Status: c.Status}
	}
	return c, nil
}

// apply performs the compare-and-set transition and appends the audit row.
// A false CAS result means another caller resolved the conflict between our
// read and write; that surfaces as AlreadyResolvedError, same as a stale
// read would.
func (r *Resolver) apply(ctx context.Context, c *types.Conflict, strategy types.ResolutionStrategy, status types.ConflictStatus, value any, rationale, resolvedBy string) (*types.Conflict, error) {
	now := time.Now().UTC()

	ok, err := r.db.ResolveConflict(ctx, c.ID, status, strategy, value, resolvedBy, now)
	if err != nil {
		return nil, fmt.Errorf("resolving conflict %d: %w", c.ID, err)
	}
	if !ok {
		// Lost the race; report the status the conflict actually has now.
		cur, gerr := r.db.GetConflict(ctx, c.ID)
		if gerr != nil {
			return nil, fmt.Errorf("conflict %d resolved concurrently; rereading it: %w", c.ID, gerr)
		}
		return nil, &AlreadyResolvedError{ConflictID: c.ID, Status: cur.Status}
	}

	audit := &types.ConflictResolution{
		ConflictID:    c.ID,
		Strategy:      strategy,
		PreviousValue: c.TargetValue,
		ResolvedValue: value,
		Rationale:     rationale,
		ResolvedBy:    resolvedBy,
		ResolvedAt:    now,
	}
	if err := r.db.InsertResolution(ctx, audit); err != nil {
		return nil, fmt.Errorf("recording resolution for conflict %d: %w", c.ID, err)
	}

	c.Status = status
	c.ResolutionStrategy = strategy
	c.ResolvedValue = value
	c.ResolvedBy = resolvedBy
	c.ResolvedAt = &now
	return c, nil
}

// lastWriteWins picks the value from whichever side changed strictly later.
// Ties resolve to the source value. Changed dates come from the conflict's
// metadata recorded at detection time, with the version store as fallback
// for conflicts detected before that metadata existed.
func (r *Resolver) lastWriteWins(ctx context.Context, c *types.Conflict) (any, error) {
	srcChanged, srcErr := r.changedDate(ctx, c, types.SideSource, metaSourceChanged, c.SourceItemID)
	tgtChanged, tgtErr := r.changedDate(ctx, c, types.SideTarget, metaTargetChanged, c.TargetItemID)
	if srcErr != nil {
		return nil, srcErr
	}
	if tgtErr != nil {
		return nil, tgtErr
	}

	if tgtChanged.After(srcChanged) {
		return c.TargetValue, nil
	}
	return c.SourceValue, nil
}

func (r *Resolver) changedDate(ctx context.Context, c *types.Conflict, side types.Side, metaKey, itemID string) (time.Time, error) {
	if raw, ok := c.Metadata[metaKey].(string); ok && raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err == nil {
			return t, nil
		}
	}
	if itemID == "" {
		return time.Time{}, nil
	}
	v, err := r.db.LatestVersion(ctx, c.ConfigID, side, itemID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("loading %s version for conflict %d: %w", side, c.ID, err)
	}
	return v.ChangedDate, nil
}

// mergeValues attempts a structural merge. Lists merge as an ordered union
// of elements; strings merge by concatenation with a separator when both
// sides carry distinct non-empty text. Everything else is unmergeable.
func mergeValues(c *types.Conflict) (any, error) {
	srcList, srcIsList := c.SourceValue.([]any)
	tgtList, tgtIsList := c.TargetValue.([]any)
	if srcIsList && tgtIsList {
		return unionLists(srcList, tgtList), nil
	}

	srcStr, srcIsStr := c.SourceValue.(string)
	tgtStr, tgtIsStr := c.TargetValue.(string)
	if srcIsStr && tgtIsStr {
		switch {
		case srcStr == "":
			return tgtStr, nil
		case tgtStr == "" || srcStr == tgtStr:
			return srcStr, nil
		default:
			return srcStr + "\n---\n" + tgtStr, nil
		}
	}

	return nil, &UnmergeableFieldError{ConflictID: c.ID, FieldName: c.FieldName}
}

// unionLists keeps source order, then appends target elements not already
// present. Element identity uses canonical JSON so equal maps dedupe.
func unionLists(src, tgt []any) []any {
	seen := make(map[string]bool, len(src)+len(tgt))
	out := make([]any, 0, len(src)+len(tgt))
	add := func(v any) {
		key, err := types.MarshalValue(v)
		if err != nil {
			key = fmt.Sprintf("%v", v)
		}
		if !seen[key] {
			seen[key] = true
			out = append(out, v)
		}
	}
	for _, v := range src {
		add(v)
	}
	for _, v := range tgt {
		add(v)
	}
	return out
}

// Summarize groups conflicts by field name for reporting, most frequent
// first.
func Summarize(conflicts []*types.Conflict) []string {
	counts := make(map[string]int)
	for _, c := range conflicts {
		name := c.FieldName
		if name == "" {
			name = string(c.Type)
		}
		counts[name]++
	}
	names := make([]string, 0, len(counts))
	for n := range counts {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool {
		if counts[names[i]] != counts[names[j]] {
			return counts[names[i]] > counts[names[j]]
		}
		return names[i] < names[j]
	})
	for i, n := range names {
		names[i] = fmt.Sprintf("%s (%d)", n, counts[n])
	}
	return names
}
