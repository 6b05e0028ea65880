package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/grovetools/claims/cli"
	"github.com/grovetools/claims/config"
	"github.com/grovetools/claims/pkg/paths"
	"github.com/spf13/cobra"
)

// PathsOutput lists the files and directories the claims tool uses.
type PathsOutput struct {
	GlobalConfig  string `json:"global_config"`
	ProjectConfig string `json:"project_config,omitempty"`
	StateDir      string `json:"state_dir"`
	Database      string `json:"database"`
	LogDir        string `json:"log_dir"`
}

func NewPathsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config, database and log locations",
		Long: `Prints where configuration is read from and where state is kept.
The output is JSON, so scripts can read it directly.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			project, err := cli.InitConfig(cli.GetOptions(cmd).ConfigFile)
			if err != nil {
				return err
			}
			output := PathsOutput{
				GlobalConfig:  config.GlobalConfigPath(),
				ProjectConfig: project,
				StateDir:      paths.ClaimsStateDir(),
				Database:      paths.DefaultDatabasePath(),
				LogDir:        paths.LogDir(),
			}

			jsonData, err := json.MarshalIndent(output, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to marshal paths to JSON: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(jsonData))
			return nil
		},
	}
}
