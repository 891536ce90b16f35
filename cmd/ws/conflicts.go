package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/worksync/worksync/internal/conflict"
	"github.com/worksync/worksync/internal/storage"
	"github.com/worksync/worksync/internal/types"
)

var conflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "Inspect and resolve sync conflicts",
}

var (
	conflictsConfig    int64
	conflictsExecution string
	conflictsStatus    string
	conflictsLimit     int
)

var conflictsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List conflicts",
	RunE: func(cmd *cobra.Command, args []string) error {
		conflicts, err := orch.GetConflicts(cmd.Context(), storage.ConflictFilter{
			ConfigID:    conflictsConfig,
			ExecutionID: conflictsExecution,
			Status:      types.ConflictStatus(conflictsStatus),
			Limit:       conflictsLimit,
		})
		if err != nil {
			return err
		}

		if jsonOutput {
			outputJSON(conflicts)
			return nil
		}

		if len(conflicts) == 0 {
			fmt.Println("No conflicts.")
			return nil
		}
		for _, c := range conflicts {
			label := string(c.Type)
			if c.FieldName != "" {
				label = c.FieldName
			}
			fmt.Printf("%-6d %-12s item %-10s %-24s %s\n",
				c.ID, c.Status, c.SourceItemID, label, c.DetectedAt.Format("2006-01-02 15:04"))
		}
		fmt.Println()
		for _, line := range conflict.Summarize(conflicts) {
			fmt.Println("  " + line)
		}
		return nil
	},
}

var conflictsShowCmd = &cobra.Command{
	Use:   "show <conflict-id>",
	Short: "Show one conflict with its resolution history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseConflictID(args[0])
		if err != nil {
			return err
		}
		c, err := store.GetConflict(cmd.Context(), id)
		if err != nil {
			return err
		}
		resolutions, err := store.ListResolutions(cmd.Context(), id)
		if err != nil {
			return err
		}

		if jsonOutput {
			outputJSON(map[string]any{"conflict": c, "resolutions": resolutions})
			return nil
		}

		fmt.Printf("Conflict %d (%s, %s)\n", c.ID, c.Type, c.Status)
		fmt.Printf("  config:     %d, execution %s\n", c.ConfigID, c.ExecutionID)
		fmt.Printf("  item:       %s -> %s (%s)\n", c.SourceItemID, c.TargetItemID, c.WorkItemType)
		if c.FieldName != "" {
			fmt.Printf("  field:      %s\n", c.FieldName)
			fmt.Printf("  base:       %v\n", c.BaseValue)
			fmt.Printf("  source:     %v\n", c.SourceValue)
			fmt.Printf("  target:     %v\n", c.TargetValue)
		}
		if c.Status != types.ConflictUnresolved {
			fmt.Printf("  resolved:   %v by %s (%s)\n", c.ResolvedValue, c.ResolvedBy, c.ResolutionStrategy)
		}
		for _, r := range resolutions {
			applied := ""
			if r.AppliedToTarget || r.AppliedToSource {
				applied = " [applied]"
			}
			fmt.Printf("  history:    %s %s -> %v by %s%s\n",
				r.ResolvedAt.Format("2006-01-02 15:04"), r.Strategy, r.ResolvedValue, r.ResolvedBy, applied)
		}
		return nil
	},
}

var (
	resolveStrategy  string
	resolveValue     string
	resolveRationale string
	resolveBy        string
)

var conflictsResolveCmd = &cobra.Command{
	Use:   "resolve <conflict-id>",
	Short: "Resolve a conflict",
	Long: `Resolve a conflict manually (--value) or with an automatic strategy
(--strategy last_write_wins|source_priority|target_priority|merge).
Resolution only records the winning value; run 'ws conflicts apply' to push
it to the external systems.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseConflictID(args[0])
		if err != nil {
			return err
		}

		var resolved *types.Conflict
		strategy := types.ResolutionStrategy(resolveStrategy)
		switch {
		case strategy.IsAuto():
			resolved, err = orch.Resolver().ResolveAuto(cmd.Context(), id, strategy)
		case resolveStrategy == "" || strategy == types.StrategyManual:
			if !cmd.Flags().Changed("value") {
				return fmt.Errorf("manual resolution requires --value (JSON)")
			}
			value, perr := types.UnmarshalValue(resolveValue)
			if perr != nil {
				return fmt.Errorf("parsing --value as JSON: %w", perr)
			}
			resolved, err = orch.Resolver().ResolveManually(cmd.Context(), id, value, resolveRationale, resolveBy)
		default:
			return fmt.Errorf("unknown strategy %q", resolveStrategy)
		}
		if err != nil {
			return err
		}

		if jsonOutput {
			outputJSON(resolved)
			return nil
		}
		fmt.Printf("Conflict %d resolved (%s): %v\n", resolved.ID, resolved.ResolutionStrategy, resolved.ResolvedValue)
		fmt.Printf("Run 'ws conflicts apply %d' to push the value to the external systems.\n", resolved.ID)
		return nil
	},
}

var conflictsIgnoreCmd = &cobra.Command{
	Use:   "ignore <conflict-id>",
	Short: "Mark a conflict as ignored",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseConflictID(args[0])
		if err != nil {
			return err
		}
		c, err := orch.Resolver().Ignore(cmd.Context(), id, resolveBy)
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(c)
			return nil
		}
		fmt.Printf("Conflict %d ignored.\n", c.ID)
		return nil
	},
}

var conflictsApplyCmd = &cobra.Command{
	Use:   "apply <conflict-id>",
	Short: "Push a resolved conflict's value to the external systems",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseConflictID(args[0])
		if err != nil {
			return err
		}
		if err := orch.ApplyResolution(cmd.Context(), id); err != nil {
			return err
		}
		fmt.Printf("Conflict %d applied.\n", id)
		return nil
	},
}

func parseConflictID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid conflict ID %q", arg)
	}
	return id, nil
}

func init() {
	conflictsListCmd.Flags().Int64Var(&conflictsConfig, "config", 0, "filter by configuration ID")
	conflictsListCmd.Flags().StringVar(&conflictsExecution, "execution", "", "filter by execution ID")
	conflictsListCmd.Flags().StringVar(&conflictsStatus, "status", "", "filter by status (unresolved, resolved, ignored)")
	conflictsListCmd.Flags().IntVar(&conflictsLimit, "limit", 0, "limit results")

	conflictsResolveCmd.Flags().StringVar(&resolveStrategy, "strategy", "", "resolution strategy (default manual)")
	conflictsResolveCmd.Flags().StringVar(&resolveValue, "value", "", "winning value as JSON (manual resolution)")
	conflictsResolveCmd.Flags().StringVar(&resolveRationale, "rationale", "", "why this value wins")
	conflictsResolveCmd.Flags().StringVar(&resolveBy, "by", "", "who is resolving")
	conflictsIgnoreCmd.Flags().StringVar(&resolveBy, "by", "", "who is ignoring")

	conflictsCmd.AddCommand(conflictsListCmd, conflictsShowCmd, conflictsResolveCmd, conflictsIgnoreCmd, conflictsApplyCmd)
	rootCmd.AddCommand(conflictsCmd)
}
