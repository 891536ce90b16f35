// Package scheduler triggers sync runs on cron schedules or on demand,
// enforcing a global concurrency cap and a per-configuration run lock.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/semaphore"

	"github.com/worksync/worksync/internal/engine"
	"github.com/worksync/worksync/internal/types"
)

// DefaultConcurrency is the worker pool size when none is configured.
const DefaultConcurrency = 3

// ErrRunInProgress is returned when a run is requested for a configuration
// that already has one executing. Concurrent runs for the same
// configuration would race on synced items and versions, so the second
// request is rejected rather than queued.
var ErrRunInProgress = errors.New("a sync run is already in progress for this configuration")

// Runner executes one sync run. Satisfied by *engine.Orchestrator.
type Runner interface {
	ExecuteSync(ctx context.Context, configID int64, opts engine.SyncOptions) (*types.SyncExecution, error)
}

// ConfigLister is the slice of the storage interface the scheduler needs.
type ConfigLister interface {
	ListConfigs(ctx context.Context, activeOnly bool) ([]*types.SyncConfiguration, error)
}

// Scheduler owns the cron table and the worker pool. Construct one per
// process; it holds no global state, so tests run isolated instances.
type Scheduler struct {
	store  ConfigLister
	runner Runner
	cron   *cron.Cron
	sem    *semaphore.Weighted

	mu      sync.Mutex
	running map[int64]bool
	entries map[int64]cron.EntryID

	wg sync.WaitGroup

	// Callbacks for UI feedback (optional).
	OnMessage func(msg string)
	OnWarning func(msg string)
}

// New creates a scheduler with the given worker pool size. Zero or negative
// concurrency falls back to DefaultConcurrency.
func New(store ConfigLister, runner Runner, concurrency int64) *Scheduler {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Scheduler{
		store:   store,
		runner:  runner,
		cron:    cron.New(),
		sem:     semaphore.NewWeighted(concurrency),
		running: make(map[int64]bool),
		entries: make(map[int64]cron.EntryID),
	}
}

// Start loads every active scheduled configuration, registers its cron
// entry, and starts the cron loop. ctx bounds the lifetime of scheduled
// runs: when it is cancelled, in-flight runs see the cancellation.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.Reload(ctx); err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Reload re-reads the configurations and rebuilds the cron table. Call it
// after schedules change; running syncs are unaffected.
func (s *Scheduler) Reload(ctx context.Context) error {
	configs, err := s.store.ListConfigs(ctx, true)
	if err != nil {
		return fmt.Errorf("loading configurations: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, entry := range s.entries {
		s.cron.Remove(entry)
		delete(s.entries, id)
	}

	for _, cfg := range configs {
		if cfg.Trigger != types.TriggerScheduled || cfg.CronExpr == "" {
			continue
		}
		configID := cfg.ID
		entry, err := s.cron.AddFunc(cfg.CronExpr, func() {
			s.scheduledRun(ctx, configID)
		})
		if err != nil {
			s.warn("configuration %d (%s): invalid cron expression %q: %v", cfg.ID, cfg.Name, cfg.CronExpr, err)
			continue
		}
		s.entries[cfg.ID] = entry
		s.msg("scheduled %s (config %d) at %q", cfg.Name, cfg.ID, cfg.CronExpr)
	}
	return nil
}

// Stop halts the cron loop and waits for in-flight runs to finish, up to
// ctx's deadline.
func (s *Scheduler) Stop(ctx context.Context) error {
	cronCtx := s.cron.Stop()
	done := make(chan struct{})
	go func() {
		<-cronCtx.Done()
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown interrupted with runs still in flight: %w", ctx.Err())
	}
}

// RunNow executes a sync immediately, subject to the same concurrency
// discipline as scheduled runs. Blocks until the run finishes. Returns
// ErrRunInProgress when the configuration is busy.
func (s *Scheduler) RunNow(ctx context.Context, configID int64, opts engine.SyncOptions) (*types.SyncExecution, error) {
	if !s.tryLock(configID) {
		return nil, fmt.Errorf("configuration %d: %w", configID, ErrRunInProgress)
	}
	defer s.unlock(configID)

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("waiting for a worker slot: %w", err)
	}
	defer s.sem.Release(1)

	s.wg.Add(1)
	defer s.wg.Done()
	return s.runner.ExecuteSync(ctx, configID, opts)
}

// Busy reports whether a run is currently executing for the configuration.
func (s *Scheduler) Busy(configID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running[configID]
}

// Entries returns the configuration ids with registered cron entries.
func (s *Scheduler) Entries() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int64, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	return ids
}

// scheduledRun is the cron callback: skip when the configuration is busy,
// otherwise run on a worker slot.
func (s *Scheduler) scheduledRun(ctx context.Context, configID int64) {
	if !s.tryLock(configID) {
		s.warn("configuration %d: previous run still in progress, skipping this tick", configID)
		return
	}
	defer s.unlock(configID)

	if err := s.sem.Acquire(ctx, 1); err != nil {
		s.warn("configuration %d: %v", configID, err)
		return
	}
	defer s.sem.Release(1)

	s.wg.Add(1)
	defer s.wg.Done()

	exec, err := s.runner.ExecuteSync(ctx, configID, engine.SyncOptions{Incremental: true})
	if err != nil {
		s.warn("scheduled run for configuration %d failed: %v", configID, err)
		return
	}
	s.msg("scheduled run %s for configuration %d finished: %s", exec.ID, configID, exec.Status)
}

func (s *Scheduler) tryLock(configID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[configID] {
		return false
	}
	s.running[configID] = true
	return true
}

func (s *Scheduler) unlock(configID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, configID)
}

func (s *Scheduler) msg(format string, args ...any) {
	if s.OnMessage != nil {
		s.OnMessage(fmt.Sprintf(format, args...))
	}
}

func (s *Scheduler) warn(format string, args ...any) {
	if s.OnWarning != nil {
		s.OnWarning(fmt.Sprintf(format, args...))
	}
}
