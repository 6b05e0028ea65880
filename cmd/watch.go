package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/grovetools/claims/errors"
	"github.com/grovetools/claims/internal/daemon/pidfile"
	"github.com/grovetools/claims/internal/heartbeat"
	"github.com/grovetools/claims/internal/report"
	"github.com/grovetools/claims/logging"
	"github.com/grovetools/claims/pkg/paths"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func NewWatchCmd() *cobra.Command {
	var (
		sessionID string
		interval  time.Duration
		dryRun    bool
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Heartbeat a session and self-heal on every tick",
		Long: `Runs the heartbeat loop for a session until interrupted: each tick writes
the session heartbeat and then runs one self-heal pass. Only one watcher
per session runs on a host. Changes to claims.yml are picked up without a
restart. The loop ends when the session is released.`,
		Example: `  claims watch --session sess_3f2a_4242`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := newRuntime(ctx, cmd)
			if err != nil {
				return err
			}
			defer rt.Close()
			log := rt.logger.WithField("component", "watch")

			lock := pidfile.New(paths.WatcherPidPath(sessionID), probe)
			if err := lock.Acquire(); err != nil {
				return err
			}
			defer func() {
				if err := lock.Release(); err != nil {
					log.WithError(err).Warn("Failed to remove pid file")
				}
			}()

			pretty := logging.NewPrettyLogger().WithWriter(rt.out)
			if !report.ColorEnabled(rt.out, rt.opts.NoColor) {
				pretty.WithStyles(logging.PlainPrettyStyles())
			}

			every := rt.cfg.Heal.HeartbeatInterval.Std()
			if interval > 0 {
				every = interval
			}
			loop, err := heartbeat.NewLoop(heartbeat.Config{
				SessionID: sessionID,
				Interval:  every,
				DryRun:    dryRun || rt.cfg.Heal.DryRun,
				Beater:    rt.store,
				Healer:    rt.healer(),
				Logger:    log,
				OnTick: func(t heartbeat.Tick) {
					if rt.opts.JSONOutput {
						return
					}
					if t.HeartbeatErr != nil {
						pretty.ErrorPretty(t.At.Format(time.RFC3339)+" heartbeat failed", t.HeartbeatErr)
					}
					if t.Heal == nil {
						return
					}
					for _, c := range t.Heal.Released {
						pretty.Success(fmt.Sprintf("%s released ghost %s (%s)", t.At.Format(time.RFC3339), c.SessionID, c.WorkKey))
					}
					for _, a := range t.Heal.Advisories {
						pretty.WarnPretty(t.At.Format(time.RFC3339) + " " + a)
					}
				},
			})
			if err != nil {
				return err
			}

			startConfigWatch(ctx, rt, loop, interval > 0, log)

			err = loop.Run(ctx)
			if errors.Is(err, errors.ErrCodeSessionNotFound) {
				pretty.InfoPretty(fmt.Sprintf("session %s is released; watcher exiting", sessionID))
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "Session id to heartbeat")
	cmd.Flags().DurationVar(&interval, "interval", 0, "Tick interval (default: heal.heartbeat_interval)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report ghosts without releasing them")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}

// startConfigWatch reloads config on change and hands the loop a new healer
// and, unless pinned by --interval, a new interval.
func startConfigWatch(ctx context.Context, rt *runtime, loop *heartbeat.Loop, pinned bool, log *logrus.Entry) {
	dirs := []string{paths.ConfigDir()}
	if rt.cfg.SourcePath != "" {
		dirs = append(dirs, filepath.Dir(rt.cfg.SourcePath))
	}

	watcher, err := heartbeat.NewConfigWatcher(dirs, 250*time.Millisecond, func(string) {
		cfg, err := loadConfig(rt.opts)
		if err != nil {
			log.WithError(err).Warn("Ignoring invalid config change")
			return
		}
		var every time.Duration
		if !pinned {
			every = cfg.Heal.HeartbeatInterval.Std()
		}
		loop.Reconfigure(every, healerFor(cfg, rt.store, rt.hostname, rt.logger))
	}, log)
	if err != nil {
		log.WithError(err).Debug("Config reload disabled")
		return
	}
	go watcher.Start(ctx)
}
