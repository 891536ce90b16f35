// ws is the work item synchronization CLI. It manages sync configurations
// between external issue trackers, runs syncs manually or on a schedule, and
// surfaces conflicts for resolution.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/worksync/worksync/internal/config"
	"github.com/worksync/worksync/internal/connector"
	_ "github.com/worksync/worksync/internal/connector/azuredevops"
	"github.com/worksync/worksync/internal/engine"
	"github.com/worksync/worksync/internal/events"
	"github.com/worksync/worksync/internal/storage"
	"github.com/worksync/worksync/internal/storage/sqlite"
	"github.com/worksync/worksync/internal/telemetry"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var (
	cfgFile    string
	dbPath     string
	jsonOutput bool
	quietFlag  bool

	app   *config.App
	store storage.Storage
	bus   *events.Bus
	orch  *engine.Orchestrator

	rootCtx    context.Context
	rootCancel context.CancelFunc
)

var rootCmd = &cobra.Command{
	Use:           "ws",
	Short:         "Synchronize work items between external issue trackers",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		app, err = config.Load(cfgFile)
		if err != nil {
			return err
		}
		if dbPath == "" {
			dbPath = app.DBPath
		}

		if err := telemetry.Init(rootCtx, "ws", Version); err != nil {
			return err
		}

		s, err := sqlite.New(rootCtx, dbPath)
		if err != nil {
			return fmt.Errorf("opening database %s: %w", dbPath, err)
		}
		store = telemetry.WrapStorage(s)

		bus = events.New(os.Stderr)
		orch = engine.New(store,
			&engine.RegistryProvider{Registry: connector.Default, Settings: store},
			engine.WithTimeout(app.SyncTimeout),
			engine.WithBus(bus),
		)
		if !quietFlag {
			orch.OnMessage = func(msg string) { fmt.Println(msg) }
		}
		orch.OnWarning = func(msg string) { fmt.Fprintln(os.Stderr, "warning: "+msg) }
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if store != nil {
			_ = store.Close()
		}
		telemetry.Shutdown(rootCtx)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./ws.yaml, ~/.worksync/ws.yaml)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "database path (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output JSON")
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "suppress progress output")
}

// outputJSON prints v as indented JSON on stdout.
func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "error encoding JSON: %v\n", err)
	}
}

func main() {
	rootCtx, rootCancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer rootCancel()

	if err := rootCmd.ExecuteContext(rootCtx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
