package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage stored settings (connector credentials, tuning knobs)",
	Long: `Manage the key/value settings stored in the database. Connector
settings for a configuration live under conn.<config-id>.<side>.<key>, e.g.

  ws config set conn.3.source.organization myorg
  ws config set conn.3.source.project MyProject
  ws config set conn.3.source.pat <token>`,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a setting",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := store.SetConfigValue(cmd.Context(), args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("%s = %s\n", args[0], maskSecret(args[0], args[1]))
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a setting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		value, err := store.GetConfigValue(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Println(value)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all settings (secrets masked)",
	RunE: func(cmd *cobra.Command, args []string) error {
		all, err := store.GetAllConfigValues(cmd.Context())
		if err != nil {
			return err
		}

		keys := make([]string, 0, len(all))
		for k := range all {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		if jsonOutput {
			masked := make(map[string]string, len(all))
			for _, k := range keys {
				masked[k] = maskSecret(k, all[k])
			}
			outputJSON(masked)
			return nil
		}
		for _, k := range keys {
			fmt.Printf("%s = %s\n", k, maskSecret(k, all[k]))
		}
		return nil
	},
}

// maskSecret hides values whose keys look like credentials.
func maskSecret(key, value string) string {
	lower := strings.ToLower(key)
	for _, marker := range []string{"pat", "token", "secret", "password"} {
		if strings.HasSuffix(lower, marker) {
			if len(value) <= 4 {
				return "****"
			}
			return "****" + value[len(value)-4:]
		}
	}
	return value
}

func init() {
	configCmd.AddCommand(configSetCmd, configGetCmd, configListCmd)
	rootCmd.AddCommand(configCmd)
}
