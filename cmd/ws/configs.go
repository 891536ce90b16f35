package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/worksync/worksync/internal/types"
)

var configsCmd = &cobra.Command{
	Use:   "configs",
	Short: "Manage sync configurations",
}

var configsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sync configurations",
	RunE: func(cmd *cobra.Command, args []string) error {
		configs, err := store.ListConfigs(cmd.Context(), false)
		if err != nil {
			return err
		}

		if jsonOutput {
			outputJSON(configs)
			return nil
		}
		if len(configs) == 0 {
			fmt.Println("No configurations. Run 'ws configs create' to add one.")
			return nil
		}
		for _, c := range configs {
			state := "inactive"
			if c.Active {
				state = "active"
			}
			schedule := string(c.Trigger)
			if c.Trigger == types.TriggerScheduled {
				schedule = fmt.Sprintf("scheduled (%s)", c.CronExpr)
			}
			fmt.Printf("%-4d %-24s %s -> %s  %-13s %-10s %s\n",
				c.ID, c.Name, c.SourceConnector, c.TargetConnector, c.Direction, state, schedule)
		}
		return nil
	},
}

var (
	createName      string
	createSource    string
	createTarget    string
	createDirection string
	createStrategy  string
	createTrigger   string
	createCron      string
	createFilter    string
)

var configsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a sync configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := &types.SyncConfiguration{
			Name:             createName,
			SourceConnector:  createSource,
			TargetConnector:  createTarget,
			Direction:        types.Direction(createDirection),
			ConflictStrategy: types.ResolutionStrategy(createStrategy),
			Trigger:          types.TriggerType(createTrigger),
			CronExpr:         createCron,
			Filter:           createFilter,
			Active:           true,
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		if err := store.CreateConfig(cmd.Context(), cfg); err != nil {
			return err
		}

		if jsonOutput {
			outputJSON(cfg)
			return nil
		}
		fmt.Printf("Created configuration %d (%s)\n", cfg.ID, cfg.Name)
		fmt.Printf("Set connector credentials with 'ws config set conn.%d.source.<key> <value>'\n", cfg.ID)
		return nil
	},
}

var configsShowCmd = &cobra.Command{
	Use:   "show <config-id>",
	Short: "Show one configuration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseConfigID(args[0])
		if err != nil {
			return err
		}
		cfg, err := store.GetConfig(cmd.Context(), id)
		if err != nil {
			return err
		}
		outputJSON(cfg)
		return nil
	},
}

func setConfigActive(active bool) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		id, err := parseConfigID(args[0])
		if err != nil {
			return err
		}
		if err := store.UpdateConfig(cmd.Context(), id, map[string]any{"active": active}); err != nil {
			return err
		}
		state := "disabled"
		if active {
			state = "enabled"
		}
		fmt.Printf("Configuration %d %s.\n", id, state)
		return nil
	}
}

var configsEnableCmd = &cobra.Command{
	Use:   "enable <config-id>",
	Short: "Activate a configuration",
	Args:  cobra.ExactArgs(1),
	RunE:  setConfigActive(true),
}

var configsDisableCmd = &cobra.Command{
	Use:   "disable <config-id>",
	Short: "Deactivate a configuration",
	Args:  cobra.ExactArgs(1),
	RunE:  setConfigActive(false),
}

var configsDeleteCmd = &cobra.Command{
	Use:   "delete <config-id>",
	Short: "Delete a configuration and all its sync state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseConfigID(args[0])
		if err != nil {
			return err
		}
		if err := store.DeleteConfig(cmd.Context(), id); err != nil {
			return err
		}
		fmt.Printf("Configuration %d deleted.\n", id)
		return nil
	},
}

func parseConfigID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid config ID %q", arg)
	}
	return id, nil
}

func init() {
	configsCreateCmd.Flags().StringVar(&createName, "name", "", "configuration name")
	configsCreateCmd.Flags().StringVar(&createSource, "source", "", "source connector name")
	configsCreateCmd.Flags().StringVar(&createTarget, "target", "", "target connector name")
	configsCreateCmd.Flags().StringVar(&createDirection, "direction", string(types.DirectionOneWay), "one_way or bidirectional")
	configsCreateCmd.Flags().StringVar(&createStrategy, "strategy", string(types.StrategyManual), "default conflict strategy")
	configsCreateCmd.Flags().StringVar(&createTrigger, "trigger", string(types.TriggerManual), "manual, scheduled, or webhook")
	configsCreateCmd.Flags().StringVar(&createCron, "cron", "", "cron expression (scheduled trigger)")
	configsCreateCmd.Flags().StringVar(&createFilter, "filter", "", "source query filter")
	_ = configsCreateCmd.MarkFlagRequired("name")
	_ = configsCreateCmd.MarkFlagRequired("source")
	_ = configsCreateCmd.MarkFlagRequired("target")

	configsCmd.AddCommand(configsListCmd, configsCreateCmd, configsShowCmd,
		configsEnableCmd, configsDisableCmd, configsDeleteCmd)
	rootCmd.AddCommand(configsCmd)
}
