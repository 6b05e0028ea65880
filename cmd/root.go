// Package cmd holds the claims command tree.
package cmd

import (
	"github.com/grovetools/claims/cli"
	"github.com/grovetools/claims/pkg/profiling"
	"github.com/grovetools/claims/version"
	"github.com/spf13/cobra"
)

// NewRootCmd assembles the claims command tree.
func NewRootCmd() *cobra.Command {
	root := cli.NewStandardCommand(
		"claims",
		"Claim health triangulation and ghost self-healing for agent sessions",
	)
	info := version.GetInfo()
	cli.SetVersionTemplate(root, info)

	prof := &profiling.Flags{}
	prof.AddFlags(root)
	root.PersistentPreRunE = prof.PreRun
	root.PersistentPostRun = prof.PostRun

	root.AddCommand(
		NewTriangulateCmd(),
		NewHealCmd(),
		NewGuardCmd(),
		NewRegisterCmd(),
		NewReleaseCmd(),
		NewWatchCmd(),
		NewConfigCmd(),
		cli.NewVersionCommand(info),
	)
	return root
}
