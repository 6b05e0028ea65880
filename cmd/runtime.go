package cmd

import (
	"context"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/grovetools/claims/cli"
	"github.com/grovetools/claims/config"
	"github.com/grovetools/claims/errors"
	"github.com/grovetools/claims/internal/heal"
	"github.com/grovetools/claims/internal/report"
	"github.com/grovetools/claims/internal/signals"
	"github.com/grovetools/claims/internal/store"
	"github.com/grovetools/claims/internal/triangulate"
	"github.com/grovetools/claims/pkg/paths"
	"github.com/grovetools/claims/pkg/process"
	"github.com/grovetools/claims/pkg/profiling"
	"github.com/grovetools/claims/util/pathutil"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// probe is the liveness probe commands use; tests replace it.
var probe process.Probe = process.Local

// runtime carries what a command needs once config is loaded and the store
// is open.
type runtime struct {
	opts     cli.CommandOptions
	cfg      *config.Config
	store    *store.Store
	hostname string
	logger   *logrus.Entry
	out      io.Writer
}

// loadConfig reads --config if given, otherwise the layered default config.
func loadConfig(opts cli.CommandOptions) (*config.Config, error) {
	path, err := cli.InitConfig(opts.ConfigFile)
	if err != nil {
		return nil, err
	}
	if opts.ConfigFile != "" {
		return config.Load(path)
	}
	return config.LoadDefault()
}

// storeConfig maps the store section onto store.Config. A relative sqlite
// path resolves against the config file's directory; no DSN means the
// database in the claims state directory.
func storeConfig(cfg *config.Config) (store.Config, error) {
	sc := cfg.Store
	dsn := sc.DSN
	if sc.Driver == store.DriverSQLite {
		if dsn == "" {
			dsn = paths.DefaultDatabasePath()
		} else if dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") {
			expanded, err := pathutil.Expand(dsn, cfg.BaseDir())
			if err != nil {
				return store.Config{}, errors.Wrap(err, errors.ErrCodeConfigInvalid, "invalid sqlite path")
			}
			dsn = expanded
		}
	}
	autoMigrate := true
	if sc.AutoMigrate != nil {
		autoMigrate = *sc.AutoMigrate
	}
	return store.Config{
		Driver:         sc.Driver,
		DSN:            dsn,
		SessionsTable:  sc.SessionsTable,
		WorkItemsTable: sc.WorkItemsTable,
		QueryTimeout:   sc.QueryTimeout.Std(),
		MaxRows:        sc.MaxRows,
		AutoMigrate:    autoMigrate,
	}, nil
}

func newRuntime(ctx context.Context, cmd *cobra.Command) (*runtime, error) {
	opts := cli.GetOptions(cmd)
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	logger := cli.GetLogger(cmd, "claims", cfg)

	sc, err := storeConfig(cfg)
	if err != nil {
		return nil, err
	}
	span := profiling.Start("store.open")
	st, err := store.Open(ctx, sc, store.WithLogger(logger.WithField("component", "store")))
	span.Stop()
	if err != nil {
		return nil, err
	}

	hostname := cfg.Heal.Hostname
	if hostname == "" {
		if hostname, err = os.Hostname(); err != nil {
			logger.WithError(err).Warn("Hostname unavailable; no claim is treated as local and self-heal releases nothing")
			hostname = ""
		}
	}

	return &runtime{
		opts:     opts,
		cfg:      cfg,
		store:    st,
		hostname: hostname,
		logger:   logger,
		out:      cmd.OutOrStdout(),
	}, nil
}

func (r *runtime) Close() {
	if err := r.store.Close(); err != nil {
		r.logger.WithError(err).Debug("Closing store")
	}
}

func (r *runtime) triangulator() (*triangulate.Triangulator, error) {
	t := r.cfg.Triangulation
	pattern, err := regexp.Compile(t.WorkKeyPattern)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "invalid work_key_pattern")
	}
	root, err := pathutil.Expand(t.WorktreeRoot, r.cfg.BaseDir())
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "invalid worktree_root")
	}
	return triangulate.New(triangulate.Options{
		Sessions: r.store,
		Flags:    r.store,
		Worktrees: signals.WorktreeOptions{
			Root:         root,
			Pattern:      pattern,
			ChangeWindow: t.ChangeWindow.Std(),
			MaxEntries:   t.MaxWorktrees,
		},
		Probe:          probe,
		Hostname:       r.hostname,
		StaleThreshold: t.StaleThreshold.Std(),
		Logger:         r.logger.WithField("component", "triangulate"),
	}), nil
}

func healerFor(cfg *config.Config, st *store.Store, hostname string, logger *logrus.Entry) *heal.Healer {
	return heal.New(heal.Config{
		Sessions:       st,
		Releaser:       st,
		Probe:          probe,
		Hostname:       hostname,
		StaleThreshold: cfg.Triangulation.StaleThreshold.Std(),
		Budget:         cfg.Heal.Budget.Std(),
		Logger:         logger.WithField("component", "heal"),
	})
}

func (r *runtime) healer() *heal.Healer {
	return healerFor(r.cfg, r.store, r.hostname, r.logger)
}

// emit writes v as JSON under --json, otherwise calls human.
func (r *runtime) emit(v interface{}, human func(*report.Formatter)) error {
	return emit(r.out, r.opts, v, human)
}

func emit(out io.Writer, opts cli.CommandOptions, v interface{}, human func(*report.Formatter)) error {
	if opts.JSONOutput {
		return report.WriteJSON(out, v)
	}
	human(report.New(out, report.ColorEnabled(out, opts.NoColor)))
	return nil
}

// defaultPID is the process a registering session stands for: the agent
// that invoked this command.
func defaultPID() int {
	return os.Getppid()
}
