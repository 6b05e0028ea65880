package cmd

import (
	"github.com/grovetools/claims/internal/guard"
	"github.com/grovetools/claims/internal/heal"
	"github.com/grovetools/claims/internal/registry"
	"github.com/grovetools/claims/internal/report"
	"github.com/grovetools/claims/pkg/models"
	"github.com/grovetools/claims/pkg/profiling"
	"github.com/spf13/cobra"
)

func NewTriangulateCmd() *cobra.Command {
	var workKey string
	cmd := &cobra.Command{
		Use:   "triangulate",
		Short: "Classify every claim as healthy, ghost, orphaned or discrepant",
		Long: `Cross-checks session rows, work item flags, worktree directories and
process liveness for each work key and reports which claims are healthy,
which are ghosts (stale and dead), which are orphaned (work evidence without
a claim) and which disagree in other ways. Nothing is modified.`,
		Example: `  # All work keys
  claims triangulate

  # One work key, as JSON
  claims triangulate --sd SD-42 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			tri, err := rt.triangulator()
			if err != nil {
				return err
			}
			span := profiling.Start("triangulate")
			result := tri.Triangulate(cmd.Context(), workKey)
			span.Stop()
			return rt.emit(result, func(f *report.Formatter) { f.RenderTriangulation(result) })
		},
	}
	cmd.Flags().StringVar(&workKey, "sd", "", "Restrict the report to one work key")
	return cmd
}

func NewHealCmd() *cobra.Command {
	var (
		sessionID string
		dryRun    bool
	)
	cmd := &cobra.Command{
		Use:   "heal",
		Short: "Run one self-heal pass on behalf of a session",
		Long: `Finds claims on this host whose heartbeat is stale and whose process is
gone, and releases them. The calling session is never released. Stale
claims held on other hosts are listed as orphans and left alone.`,
		Example: `  claims heal --session sess_3f2a_4242 --dry-run`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			span := profiling.Start("heal")
			result, err := rt.healer().SelfHeal(cmd.Context(), sessionID, heal.Options{
				DryRun: dryRun || rt.cfg.Heal.DryRun,
			})
			span.Stop()
			if err != nil {
				return err
			}
			return rt.emit(result, func(f *report.Formatter) { f.RenderHeal(result) })
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "Session id of the caller (never released)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report ghosts without releasing them")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}

func NewGuardCmd() *cobra.Command {
	var terminalID string
	cmd := &cobra.Command{
		Use:   "guard",
		Short: "Show whether a terminal's session row may be reused",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			existing, err := rt.store.FindSessionByTerminal(cmd.Context(), terminalID)
			if err != nil {
				return err
			}
			decision := guard.ShouldCreateNewSession(existing)
			return rt.emit(decision, func(f *report.Formatter) { f.RenderDecision(decision) })
		},
	}
	cmd.Flags().StringVar(&terminalID, "terminal", "", "Terminal identity the session registers under")
	_ = cmd.MarkFlagRequired("terminal")
	return cmd
}

func NewRegisterCmd() *cobra.Command {
	var req registry.RegisterRequest
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a session for a terminal, optionally claiming a work key",
		Long: `Registers the calling process. The session row already recorded for the
terminal is reused unless it still holds a claim, in which case a new
session is created and the old claim is left for self-heal to judge.`,
		Example: `  claims register --terminal win-cc-1 --sd SD-42`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			if req.Hostname == "" {
				req.Hostname = rt.hostname
			}
			if req.PID == 0 {
				req.PID = defaultPID()
			}
			reg, err := registry.New(rt.store, rt.logger.WithField("component", "registry")).Register(cmd.Context(), req)
			if err != nil {
				return err
			}
			return rt.emit(reg, func(f *report.Formatter) { f.RenderRegistration(reg) })
		},
	}
	cmd.Flags().StringVar(&req.TerminalID, "terminal", "", "Terminal identity")
	cmd.Flags().StringVar(&req.WorkKey, "sd", "", "Work key to claim")
	cmd.Flags().IntVar(&req.PID, "pid", 0, "Process id of the session (default: parent process)")
	_ = cmd.MarkFlagRequired("terminal")
	return cmd
}

func NewReleaseCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "release SESSION_ID",
		Short: "Release a session's claim (safe to repeat)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			outcome, err := rt.store.ReleaseSession(cmd.Context(), args[0], reason)
			if err != nil {
				return err
			}
			payload := map[string]string{"sessionId": args[0], "outcome": string(outcome)}
			return rt.emit(payload, func(f *report.Formatter) { f.RenderRelease(args[0], outcome) })
		},
	}
	cmd.Flags().StringVar(&reason, "reason", models.ReleaseReasonManual, "Release reason recorded on the session")
	return cmd
}
