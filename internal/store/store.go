// Package store provides the shared session store: the session table and
// the work item table that claims are recorded in. It speaks to sqlite
// (modernc.org/sqlite) and MySQL-compatible servers through database/sql.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/grovetools/claims/errors"
	"github.com/grovetools/claims/logging"
	"github.com/sirupsen/logrus"

	"github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
)

const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"

	defaultQueryTimeout = 5 * time.Second
	defaultMaxRows      = 1000
)

var identifierRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Config describes how to reach the store.
type Config struct {
	Driver         string
	DSN            string
	SessionsTable  string
	WorkItemsTable string
	QueryTimeout   time.Duration
	MaxRows        int
	// AutoMigrate creates missing tables on Open.
	AutoMigrate bool
}

func (c *Config) setDefaults() {
	if c.Driver == "" {
		c.Driver = DriverSQLite
	}
	if c.SessionsTable == "" {
		c.SessionsTable = "claude_sessions"
	}
	if c.WorkItemsTable == "" {
		c.WorkItemsTable = "strategic_directives_v2"
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = defaultQueryTimeout
	}
	if c.MaxRows <= 0 {
		c.MaxRows = defaultMaxRows
	}
}

// Store is the SQL-backed session store. It is safe for concurrent use.
type Store struct {
	db        *sql.DB
	driver    string
	sessions  string
	workItems string
	timeout   time.Duration
	maxRows   int
	now       func() time.Time
	logger    *logrus.Entry
}

// Option customizes a Store.
type Option func(*Store)

// WithClock replaces the wall clock used for release and heartbeat stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the store logger.
func WithLogger(logger *logrus.Entry) Option {
	return func(s *Store) { s.logger = logger }
}

// Open connects to the store described by cfg, verifies the connection and,
// when cfg.AutoMigrate is set, creates the tables.
func Open(ctx context.Context, cfg Config, opts ...Option) (*Store, error) {
	cfg.setDefaults()

	var dsn string
	switch cfg.Driver {
	case DriverSQLite:
		var err error
		if dsn, err = sqliteDSN(cfg.DSN); err != nil {
			return nil, errors.StoreUnavailable(cfg.Driver, err)
		}
	case DriverMySQL:
		if cfg.DSN == "" {
			return nil, errors.ConfigInvalid("mysql store requires a dsn")
		}
		var err error
		if dsn, err = mysqlDSN(cfg.DSN); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "invalid mysql dsn")
		}
	default:
		return nil, errors.ConfigInvalid(fmt.Sprintf("unsupported store driver '%s'", cfg.Driver))
	}

	db, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, errors.StoreUnavailable(cfg.Driver, err)
	}
	if cfg.Driver == DriverSQLite && isMemoryDSN(cfg.DSN) {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	s, err := New(db, cfg, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}

	pingCtx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, errors.StoreUnavailable(cfg.Driver, err)
	}

	if cfg.AutoMigrate {
		if err := s.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, err
		}
	}

	s.logger.WithFields(logrus.Fields{
		"driver":   cfg.Driver,
		"sessions": s.sessions,
	}).Debug("Session store ready")
	return s, nil
}

// New wraps an existing database handle. Table names must be plain identifiers.
func New(db *sql.DB, cfg Config, opts ...Option) (*Store, error) {
	cfg.setDefaults()
	for _, table := range []string{cfg.SessionsTable, cfg.WorkItemsTable} {
		if !identifierRegex.MatchString(table) {
			return nil, errors.ConfigInvalid(fmt.Sprintf("table name %q is not a plain identifier", table))
		}
	}

	s := &Store{
		db:        db,
		driver:    cfg.Driver,
		sessions:  cfg.SessionsTable,
		workItems: cfg.WorkItemsTable,
		timeout:   cfg.QueryTimeout,
		maxRows:   cfg.MaxRows,
		now:       time.Now,
		logger:    logging.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// MaxRows is the cap applied to every list query.
func (s *Store) MaxRows() int {
	return s.maxRows
}

// Driver returns the driver name the store was opened with.
func (s *Store) Driver() string {
	return s.driver
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Store) limit(n int) int {
	if n <= 0 || n > s.maxRows {
		return s.maxRows
	}
	return n
}

func isMemoryDSN(dsn string) bool {
	return dsn == ":memory:" || strings.HasPrefix(dsn, "file::memory:")
}

// sqliteDSN turns a file path into a modernc DSN with a busy timeout and WAL.
// DSNs that already carry parameters are passed through.
func sqliteDSN(path string) (string, error) {
	if isMemoryDSN(path) || strings.Contains(path, "?") {
		return path, nil
	}
	if path == "" {
		return "", fmt.Errorf("sqlite store requires a database path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("create database directory: %w", err)
	}
	return "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", nil
}

// mysqlDSN makes UPDATE report matched rather than changed rows, so a
// heartbeat landing in the same millisecond still counts as a hit.
func mysqlDSN(raw string) (string, error) {
	cfg, err := mysql.ParseDSN(raw)
	if err != nil {
		return "", err
	}
	cfg.ClientFoundRows = true
	return cfg.FormatDSN(), nil
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
