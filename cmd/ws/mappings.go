package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/worksync/worksync/internal/mapping"
)

var mappingsCmd = &cobra.Command{
	Use:   "mappings",
	Short: "Inspect and bootstrap field mappings",
}

var mappingsListCmd = &cobra.Command{
	Use:   "list <config-id>",
	Short: "List a configuration's type and field mappings",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		configID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid config ID %q", args[0])
		}
		mappings, err := store.GetMappings(cmd.Context(), configID)
		if err != nil {
			return err
		}

		if jsonOutput {
			outputJSON(mappings)
			return nil
		}
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		defer func() { _ = enc.Close() }()
		return enc.Encode(mappings)
	},
}

var (
	suggestSourceFields   []string
	suggestTargetFields   []string
	suggestSourceStatuses []string
	suggestTargetStatuses []string
)

var mappingsSuggestCmd = &cobra.Command{
	Use:   "suggest",
	Short: "Suggest field and status mappings from two field lists",
	Long: `Suggest mappings by name similarity. Pass the field (and optionally
status) names of both trackers; the output is YAML you can review, edit, and
load into a configuration.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(suggestSourceFields) == 0 || len(suggestTargetFields) == 0 {
			return fmt.Errorf("--source-fields and --target-fields are required")
		}

		out := struct {
			Fields   []mapping.Suggestion `yaml:"fields"`
			Statuses []statusPair         `yaml:"statuses,omitempty"`
		}{
			Fields: mapping.SuggestFieldMappings(suggestSourceFields, suggestTargetFields),
		}
		for _, sm := range mapping.SuggestStatusMappings(suggestSourceStatuses, suggestTargetStatuses) {
			out.Statuses = append(out.Statuses, statusPair{Source: sm.SourceStatus, Target: sm.TargetStatus})
		}

		if jsonOutput {
			outputJSON(out)
			return nil
		}
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		defer func() { _ = enc.Close() }()
		return enc.Encode(out)
	},
}

type statusPair struct {
	Source string `yaml:"source" json:"source"`
	Target string `yaml:"target" json:"target"`
}

func init() {
	mappingsSuggestCmd.Flags().StringSliceVar(&suggestSourceFields, "source-fields", nil, "source tracker field names")
	mappingsSuggestCmd.Flags().StringSliceVar(&suggestTargetFields, "target-fields", nil, "target tracker field names")
	mappingsSuggestCmd.Flags().StringSliceVar(&suggestSourceStatuses, "source-statuses", nil, "source workflow statuses")
	mappingsSuggestCmd.Flags().StringSliceVar(&suggestTargetStatuses, "target-statuses", nil, "target workflow statuses")

	mappingsCmd.AddCommand(mappingsListCmd, mappingsSuggestCmd)
	rootCmd.AddCommand(mappingsCmd)
}
