package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/contentgraph/crsync/internal/config"
	"github.com/contentgraph/crsync/internal/driver"
)

func newMappingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mapping",
		Short: "Show the index mapping computed from the configuration",
		Long: `Print the field mapping derived from the configured node types,
as it would be applied to a freshly created index.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			mapping := driver.Mapping(cfg.NodeTypes)
			data, err := json.MarshalIndent(mapping, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to encode mapping: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}
