package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/worksync/worksync/internal/connector"
	"github.com/worksync/worksync/internal/types"
)

var connectorsCmd = &cobra.Command{
	Use:   "connectors",
	Short: "List and validate tracker connectors",
}

var connectorsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered connector plugins",
	RunE: func(cmd *cobra.Command, args []string) error {
		names := connector.Default.List()
		if jsonOutput {
			outputJSON(names)
			return nil
		}
		for _, name := range names {
			fmt.Println(name)
		}
		return nil
	},
}

var validateSide string

var connectorsValidateCmd = &cobra.Command{
	Use:   "validate <config-id>",
	Short: "Check a configuration's connector settings and connectivity",
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

		sides := map[types.Side]string{
			types.SideSource: cfg.SourceConnector,
			types.SideTarget: cfg.TargetConnector,
		}
		if validateSide != "" {
			side := types.Side(validateSide)
			if !side.Valid() {
				return fmt.Errorf("invalid side %q (source or target)", validateSide)
			}
			sides = map[types.Side]string{side: sides[side]}
		}

		failed := false
		for _, side := range []types.Side{types.SideSource, types.SideTarget} {
			name, ok := sides[side]
			if !ok {
				continue
			}
			conn, err := newSideConnector(cmd, id, side, name)
			if err != nil {
				fmt.Printf("%-7s %-14s FAIL: %v\n", side, name, err)
				failed = true
				continue
			}
			err = conn.Validate(cmd.Context())
			_ = conn.Close()
			if err != nil {
				fmt.Printf("%-7s %-14s FAIL: %v\n", side, name, err)
				failed = true
				continue
			}
			fmt.Printf("%-7s %-14s ok\n", side, name)
		}
		if failed {
			return fmt.Errorf("validation failed")
		}
		return nil
	},
}

func newSideConnector(cmd *cobra.Command, configID int64, side types.Side, name string) (connector.Connector, error) {
	conn, err := connector.Default.New(name)
	if err != nil {
		return nil, err
	}
	prefix := fmt.Sprintf("conn.%d.%s", configID, side)
	settings, err := connector.LoadSettings(cmd.Context(), store, prefix, name)
	if err != nil {
		return nil, err
	}
	if err := conn.Init(cmd.Context(), settings); err != nil {
		return nil, err
	}
	return conn, nil
}

func init() {
	connectorsValidateCmd.Flags().StringVar(&validateSide, "side", "", "validate only one side (source or target)")
	connectorsCmd.AddCommand(connectorsListCmd, connectorsValidateCmd)
	rootCmd.AddCommand(connectorsCmd)
}
