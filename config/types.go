package config

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that reads and writes as a Go duration
// string ("300s", "1h"). A bare integer is taken as seconds.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := parseDuration(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// UnmarshalYAML accepts both quoted and bare scalar durations.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", node.Line)
	}
	return d.UnmarshalText([]byte(node.Value))
}

// JSONSchema describes Duration as a duration string.
func (Duration) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:        "string",
		Pattern:     `^([0-9]+(\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$`,
		Description: "Go duration string, e.g. 300s or 1h",
	}
}

func parseDuration(s string) (Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Duration(time.Duration(secs) * time.Second), nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return Duration(parsed), nil
}

// Defaults applied by SetDefaults.
const (
	DefaultDriver            = "sqlite"
	DefaultSessionsTable     = "claude_sessions"
	DefaultWorkItemsTable    = "strategic_directives_v2"
	DefaultQueryTimeout      = 5 * time.Second
	DefaultMaxRows           = 1000
	DefaultStaleThreshold    = 300 * time.Second
	DefaultWorktreeRoot      = ".worktrees"
	DefaultWorkKeyPattern    = `^SD-[A-Z0-9]+(-[A-Z0-9]+)*`
	DefaultChangeWindow      = time.Hour
	DefaultMaxWorktrees      = 500
	DefaultHealBudget        = 2 * time.Second
	DefaultHeartbeatInterval = 60 * time.Second
)

// StoreConfig selects and tunes the shared session store.
type StoreConfig struct {
	Driver         string   `yaml:"driver,omitempty" toml:"driver,omitempty" json:"driver,omitempty" jsonschema:"enum=sqlite,enum=mysql,description=Database driver for the session store"`
	DSN            string   `yaml:"dsn,omitempty" toml:"dsn,omitempty" json:"dsn,omitempty" jsonschema:"description=Data source name; a file path for sqlite"`
	SessionsTable  string   `yaml:"sessions_table,omitempty" toml:"sessions_table,omitempty" json:"sessions_table,omitempty" jsonschema:"description=Table holding session rows"`
	WorkItemsTable string   `yaml:"work_items_table,omitempty" toml:"work_items_table,omitempty" json:"work_items_table,omitempty" jsonschema:"description=Table holding work item rows"`
	QueryTimeout   Duration `yaml:"query_timeout,omitempty" toml:"query_timeout,omitempty" json:"query_timeout,omitempty" jsonschema:"description=Per-query timeout"`
	MaxRows        int      `yaml:"max_rows,omitempty" toml:"max_rows,omitempty" json:"max_rows,omitempty" jsonschema:"minimum=0,description=Row limit applied to every list query"`
	AutoMigrate    *bool    `yaml:"auto_migrate,omitempty" toml:"auto_migrate,omitempty" json:"auto_migrate,omitempty" jsonschema:"description=Create missing tables on open (default: true)"`
}

// TriangulationConfig tunes signal collection and classification.
type TriangulationConfig struct {
	StaleThreshold Duration `yaml:"stale_threshold,omitempty" toml:"stale_threshold,omitempty" json:"stale_threshold,omitempty" jsonschema:"description=Heartbeat age after which a session is stale"`
	WorktreeRoot   string   `yaml:"worktree_root,omitempty" toml:"worktree_root,omitempty" json:"worktree_root,omitempty" jsonschema:"description=Directory holding one worktree per work key"`
	WorkKeyPattern string   `yaml:"work_key_pattern,omitempty" toml:"work_key_pattern,omitempty" json:"work_key_pattern,omitempty" jsonschema:"description=Regular expression extracting a work key from a worktree directory name"`
	ChangeWindow   Duration `yaml:"change_window,omitempty" toml:"change_window,omitempty" json:"change_window,omitempty" jsonschema:"description=Index modification window treated as recent changes"`
	MaxWorktrees   int      `yaml:"max_worktrees,omitempty" toml:"max_worktrees,omitempty" json:"max_worktrees,omitempty" jsonschema:"minimum=0,description=Maximum worktree directories scanned"`
}

// HealConfig tunes the self-healer and the heartbeat watcher.
type HealConfig struct {
	Budget            Duration `yaml:"budget,omitempty" toml:"budget,omitempty" json:"budget,omitempty" jsonschema:"description=Soft time budget for one self-heal pass"`
	DryRun            bool     `yaml:"dry_run,omitempty" toml:"dry_run,omitempty" json:"dry_run,omitempty" jsonschema:"description=Report ghost releases without performing them"`
	Hostname          string   `yaml:"hostname,omitempty" toml:"hostname,omitempty" json:"hostname,omitempty" jsonschema:"description=Hostname override for same-host checks"`
	HeartbeatInterval Duration `yaml:"heartbeat_interval,omitempty" toml:"heartbeat_interval,omitempty" json:"heartbeat_interval,omitempty" jsonschema:"description=Interval between heartbeat ticks in claims watch"`
}

// Config is the claims tool configuration.
type Config struct {
	Version       string              `yaml:"version,omitempty" toml:"version,omitempty" json:"version,omitempty" jsonschema:"description=Configuration version (e.g. 1.0)"`
	Store         StoreConfig         `yaml:"store,omitempty" toml:"store,omitempty" json:"store" jsonschema:"description=Session store connection"`
	Triangulation TriangulationConfig `yaml:"triangulation,omitempty" toml:"triangulation,omitempty" json:"triangulation" jsonschema:"description=Signal collection and classification"`
	Heal          HealConfig          `yaml:"heal,omitempty" toml:"heal,omitempty" json:"heal" jsonschema:"description=Self-heal and heartbeat settings"`

	// Extensions captures all other top-level keys for extensibility.
	Extensions map[string]interface{} `yaml:",inline" toml:"-" json:"-" jsonschema:"-"`

	// SourcePath is the project file the config was loaded from, if any.
	SourcePath string `yaml:"-" toml:"-" json:"-" jsonschema:"-"`
}

// knownKeys are the top-level keys decoded into Config fields.
var knownKeys = map[string]bool{
	"version":       true,
	"store":         true,
	"triangulation": true,
	"heal":          true,
}

// SetDefaults fills every unset field.
func (c *Config) SetDefaults() {
	if c.Version == "" {
		c.Version = "1.0"
	}

	s := &c.Store
	if s.Driver == "" {
		s.Driver = DefaultDriver
	}
	if s.SessionsTable == "" {
		s.SessionsTable = DefaultSessionsTable
	}
	if s.WorkItemsTable == "" {
		s.WorkItemsTable = DefaultWorkItemsTable
	}
	if s.QueryTimeout == 0 {
		s.QueryTimeout = Duration(DefaultQueryTimeout)
	}
	if s.MaxRows == 0 {
		s.MaxRows = DefaultMaxRows
	}
	if s.AutoMigrate == nil {
		enabled := true
		s.AutoMigrate = &enabled
	}

	t := &c.Triangulation
	if t.StaleThreshold == 0 {
		t.StaleThreshold = Duration(DefaultStaleThreshold)
	}
	if t.WorktreeRoot == "" {
		t.WorktreeRoot = DefaultWorktreeRoot
	}
	if t.WorkKeyPattern == "" {
		t.WorkKeyPattern = DefaultWorkKeyPattern
	}
	if t.ChangeWindow == 0 {
		t.ChangeWindow = Duration(DefaultChangeWindow)
	}
	if t.MaxWorktrees == 0 {
		t.MaxWorktrees = DefaultMaxWorktrees
	}

	h := &c.Heal
	if h.Budget == 0 {
		h.Budget = Duration(DefaultHealBudget)
	}
	if h.HeartbeatInterval == 0 {
		h.HeartbeatInterval = Duration(DefaultHeartbeatInterval)
	}
}

// BaseDir is the directory relative paths in the config resolve against.
// Empty means the working directory.
func (c *Config) BaseDir() string {
	if c.SourcePath == "" {
		return ""
	}
	return filepath.Dir(c.SourcePath)
}

// UnmarshalExtension decodes a specific extension's configuration from the
// loaded claims.yml into the provided target struct. The target must be a pointer.
//
// Example:
//
//	var logCfg logging.Config
//	err := cfg.UnmarshalExtension("logging", &logCfg)
func (c *Config) UnmarshalExtension(key string, target interface{}) error {
	extensionConfig, ok := c.Extensions[key]
	if !ok {
		// A missing key leaves target zero-valued.
		return nil
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		TagName:          "yaml",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("failed to create mapstructure decoder: %w", err)
	}

	if err := decoder.Decode(extensionConfig); err != nil {
		return fmt.Errorf("failed to decode extension config for '%s': %w", key, err)
	}

	return nil
}
