package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/worksync/worksync/internal/engine"
	"github.com/worksync/worksync/internal/types"
)

type stubRunner struct {
	mu       sync.Mutex
	calls    []int64
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	block    chan struct{}
	err      error
}

func (r *stubRunner) ExecuteSync(_ context.Context, configID int64, _ engine.SyncOptions) (*types.SyncExecution, error) {
	n := r.inFlight.Add(1)
	for {
		max := r.maxSeen.Load()
		if n <= max || r.maxSeen.CompareAndSwap(max, n) {
			break
		}
	}
	defer r.inFlight.Add(-1)

	r.mu.Lock()
	r.calls = append(r.calls, configID)
	r.mu.Unlock()

	if r.block != nil {
		<-r.block
	}
	if r.err != nil {
		return nil, r.err
	}
	return &types.SyncExecution{ID: "exec", ConfigID: configID, Status: types.ExecutionCompleted}, nil
}

type stubLister struct {
	configs []*types.SyncConfiguration
}

func (l *stubLister) ListConfigs(context.Context, bool) ([]*types.SyncConfiguration, error) {
	return l.configs, nil
}

func TestRunNowExecutes(t *testing.T) {
	runner := &stubRunner{}
	s := New(&stubLister{}, runner, 2)

	exec, err := s.RunNow(context.Background(), 7, engine.SyncOptions{})
	if err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	if exec.ConfigID != 7 || exec.Status != types.ExecutionCompleted {
		t.Errorf("exec = %+v", exec)
	}
	if len(runner.calls) != 1 || runner.calls[0] != 7 {
		t.Errorf("calls = %v", runner.calls)
	}
}

func TestRunNowRejectsConcurrentSameConfig(t *testing.T) {
	runner := &stubRunner{block: make(chan struct{})}
	s := New(&stubLister{}, runner, 4)

	errs := make(chan error, 1)
	go func() {
		_, err := s.RunNow(context.Background(), 1, engine.SyncOptions{})
		errs <- err
	}()

	// Wait for the first run to take the lock.
	deadline := time.After(2 * time.Second)
	for !s.Busy(1) {
		select {
		case <-deadline:
			t.Fatal("first run never started")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	if _, err := s.RunNow(context.Background(), 1, engine.SyncOptions{}); !errors.Is(err, ErrRunInProgress) {
		t.Errorf("second run error = %v, want ErrRunInProgress", err)
	}

	close(runner.block)
	if err := <-errs; err != nil {
		t.Fatalf("first run: %v", err)
	}
	if s.Busy(1) {
		t.Error("lock not released after run")
	}

	// The configuration is runnable again.
	runner.block = nil
	if _, err := s.RunNow(context.Background(), 1, engine.SyncOptions{}); err != nil {
		t.Errorf("rerun after completion: %v", err)
	}
}

func TestConcurrencyCapAcrossConfigs(t *testing.T) {
	runner := &stubRunner{block: make(chan struct{})}
	s := New(&stubLister{}, runner, 2)
	ctx := context.Background()

	var wg sync.WaitGroup
	for id := int64(1); id <= 4; id++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_, _ = s.RunNow(ctx, id, engine.SyncOptions{})
		}(id)
	}

	// Let the pool saturate, then release everyone.
	time.Sleep(50 * time.Millisecond)
	close(runner.block)
	wg.Wait()

	if max := runner.maxSeen.Load(); max > 2 {
		t.Errorf("observed %d concurrent runs, cap is 2", max)
	}
	if len(runner.calls) != 4 {
		t.Errorf("ran %d syncs, want 4", len(runner.calls))
	}
}

func TestReloadRegistersOnlyScheduledConfigs(t *testing.T) {
	lister := &stubLister{configs: []*types.SyncConfiguration{
		{ID: 1, Name: "manual", Trigger: types.TriggerManual, Active: true},
		{ID: 2, Name: "nightly", Trigger: types.TriggerScheduled, CronExpr: "0 2 * * *", Active: true},
		{ID: 3, Name: "bad-cron", Trigger: types.TriggerScheduled, CronExpr: "not a cron", Active: true},
		{ID: 4, Name: "hourly", Trigger: types.TriggerScheduled, CronExpr: "@hourly", Active: true},
	}}
	var warnings []string
	s := New(lister, &stubRunner{}, 1)
	s.OnWarning = func(msg string) { warnings = append(warnings, msg) }

	if err := s.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	entries := s.Entries()
	seen := map[int64]bool{}
	for _, id := range entries {
		seen[id] = true
	}
	if len(entries) != 2 || !seen[2] || !seen[4] {
		t.Errorf("entries = %v, want configs 2 and 4", entries)
	}
	if len(warnings) != 1 {
		t.Errorf("warnings = %v, want one for the invalid expression", warnings)
	}
}

func TestReloadReplacesEntries(t *testing.T) {
	lister := &stubLister{configs: []*types.SyncConfiguration{
		{ID: 2, Name: "nightly", Trigger: types.TriggerScheduled, CronExpr: "0 2 * * *", Active: true},
	}}
	s := New(lister, &stubRunner{}, 1)
	if err := s.Reload(context.Background()); err != nil {
		t.Fatal(err)
	}

	lister.configs = nil
	if err := s.Reload(context.Background()); err != nil {
		t.Fatal(err)
	}
	if entries := s.Entries(); len(entries) != 0 {
		t.Errorf("entries = %v after removing all configs", entries)
	}
}

func TestStopWaitsForInFlight(t *testing.T) {
	runner := &stubRunner{block: make(chan struct{})}
	s := New(&stubLister{}, runner, 1)

	done := make(chan struct{})
	go func() {
		_, _ = s.RunNow(context.Background(), 1, engine.SyncOptions{})
		close(done)
	}()
	for !s.Busy(1) {
		time.Sleep(time.Millisecond)
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := s.Stop(stopCtx); err == nil {
		t.Error("Stop should report the in-flight run on timeout")
	}

	close(runner.block)
	<-done
	if err := s.Stop(context.Background()); err != nil {
		t.Errorf("Stop after drain: %v", err)
	}
}
