package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/worksync/worksync/internal/events"
	"github.com/worksync/worksync/internal/scheduler"
)

var daemonStopTimeout time.Duration

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the sync scheduler in the foreground",
	Long: `Run scheduled syncs until interrupted. Every active configuration with a
scheduled trigger gets a cron entry; at most sync.concurrency runs execute at
once, and a configuration never overlaps itself. Logs go to log.file (rotated)
when configured, stderr otherwise.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := log.New(app.LogWriter(os.Stderr), "ws ", log.LstdFlags|log.LUTC)

		// Mirror sync lifecycle events into the daemon log.
		bus.Register(events.HandlerFunc{
			Name: "daemon-log",
			Fn: func(e *events.Event) error {
				switch e.Type {
				case events.EventSyncCompleted:
					logger.Printf("config %d execution %s: synced=%d failed=%d conflicts=%d",
						e.SyncConfigID, e.ExecutionID, e.ItemsSynced, e.ItemsFailed, e.ConflictsDetected)
				case events.EventSyncFailed:
					logger.Printf("config %d execution %s FAILED: %s", e.SyncConfigID, e.ExecutionID, e.Error)
				case events.EventConflictDetected:
					logger.Printf("config %d conflict %d on %s (%s)",
						e.SyncConfigID, e.ConflictID, e.FieldName, e.ConflictType)
				}
				return nil
			},
		})

		sched := scheduler.New(store, orch, int64(app.SyncConcurrency))
		sched.OnMessage = func(msg string) { logger.Print(msg) }
		sched.OnWarning = func(msg string) { logger.Print("warning: " + msg) }

		ctx := cmd.Context()
		if err := sched.Start(ctx); err != nil {
			return err
		}
		logger.Printf("daemon started: %d scheduled configuration(s), concurrency %d",
			len(sched.Entries()), app.SyncConcurrency)

		<-ctx.Done()
		logger.Print("shutting down")

		stopCtx, cancel := context.WithTimeout(context.Background(), daemonStopTimeout)
		defer cancel()
		if err := sched.Stop(stopCtx); err != nil {
			return fmt.Errorf("stopping scheduler: %w", err)
		}
		logger.Print("daemon stopped")
		return nil
	},
}

func init() {
	daemonCmd.Flags().DurationVar(&daemonStopTimeout, "stop-timeout", 30*time.Second,
		"how long to wait for in-flight runs on shutdown")
	rootCmd.AddCommand(daemonCmd)
}
