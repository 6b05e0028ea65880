package cmd

import (
	"fmt"

	"github.com/grovetools/claims/cli"
	"github.com/grovetools/claims/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the claims configuration",
	}
	cmd.AddCommand(newConfigShowCmd(), newConfigSchemaCmd(), NewPathsCmd())
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the merged configuration with defaults applied",
		Long: `Shows the configuration after merging layers:
1. Global config (claims.yml in the grove config directory)
2. Project config (nearest claims.yml)
3. Override files (claims.override.yml)
With --config only that file is read.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := cli.GetOptions(cmd)
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if cfg.SourcePath != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "# Source: %s\n", cfg.SourcePath)
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("failed to marshal config: %w", err)
			}
			fmt.Fprint(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}

func newConfigSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON schema for claims.yml",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := config.GenerateSchema()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}
