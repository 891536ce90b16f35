package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/worksync/worksync/internal/storage"
	"github.com/worksync/worksync/internal/types"
)

var executionsCmd = &cobra.Command{
	Use:   "executions",
	Short: "Inspect sync run history",
}

var (
	executionsConfig int64
	executionsStatus string
	executionsLimit  int
)

var executionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List executions, most recent first",
	RunE: func(cmd *cobra.Command, args []string) error {
		execs, err := store.ListExecutions(cmd.Context(), storage.ExecutionFilter{
			ConfigID: executionsConfig,
			Status:   types.ExecutionStatus(executionsStatus),
			Limit:    executionsLimit,
		})
		if err != nil {
			return err
		}

		if jsonOutput {
			outputJSON(execs)
			return nil
		}

		if len(execs) == 0 {
			fmt.Println("No executions.")
			return nil
		}
		for _, e := range execs {
			fmt.Printf("%-36s cfg %-4d %-22s %s  synced=%d failed=%d conflicts=%d\n",
				e.ID, e.ConfigID, e.Status, e.StartedAt.Format("2006-01-02 15:04:05"),
				e.ItemsSynced, e.ItemsFailed, e.ConflictsDetected)
		}
		return nil
	},
}

var executionsShowCmd = &cobra.Command{
	Use:   "show <execution-id>",
	Short: "Show one execution with its per-item errors",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		exec, err := store.GetExecution(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		syncErrors, err := store.ListSyncErrors(cmd.Context(), exec.ID)
		if err != nil {
			return err
		}

		if jsonOutput {
			outputJSON(map[string]any{"execution": exec, "errors": syncErrors})
			return nil
		}

		fmt.Printf("Execution %s (config %d)\n", exec.ID, exec.ConfigID)
		fmt.Printf("  status:      %s\n", exec.Status)
		fmt.Printf("  started:     %s\n", exec.StartedAt.Format("2006-01-02 15:04:05"))
		if exec.CompletedAt != nil {
			fmt.Printf("  completed:   %s (%s)\n",
				exec.CompletedAt.Format("2006-01-02 15:04:05"),
				exec.CompletedAt.Sub(exec.StartedAt).Round(time.Millisecond))
		}
		fmt.Printf("  items:       %d synced, %d failed\n", exec.ItemsSynced, exec.ItemsFailed)
		fmt.Printf("  conflicts:   %d detected, %d resolved, %d unresolved\n",
			exec.ConflictsDetected, exec.ConflictsResolved, exec.ConflictsUnresolved)
		if exec.ErrorMessage != "" {
			fmt.Printf("  error:       %s\n", exec.ErrorMessage)
		}
		for _, se := range syncErrors {
			fmt.Printf("  item %-10s %s\n", se.ItemID, se.Message)
		}
		return nil
	},
}

func init() {
	executionsListCmd.Flags().Int64Var(&executionsConfig, "config", 0, "filter by configuration ID")
	executionsListCmd.Flags().StringVar(&executionsStatus, "status", "", "filter by status")
	executionsListCmd.Flags().IntVar(&executionsLimit, "limit", 20, "limit results")

	executionsCmd.AddCommand(executionsListCmd, executionsShowCmd)
	rootCmd.AddCommand(executionsCmd)
}
