package config

import (
	"fmt"
	"regexp"

	"github.com/grovetools/claims/errors"
)

// identifierRegex guards table names, which are interpolated into SQL.
var identifierRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := validateStore(&c.Store); err != nil {
		return err
	}
	if err := validateTriangulation(&c.Triangulation); err != nil {
		return err
	}
	return validateHeal(&c.Heal)
}

func validateStore(s *StoreConfig) error {
	switch s.Driver {
	case "sqlite":
	case "mysql":
		if s.DSN == "" {
			return errors.New(errors.ErrCodeConfigValidation, "store.dsn is required for the mysql driver")
		}
	default:
		return errors.New(errors.ErrCodeConfigValidation, fmt.Sprintf("unsupported store.driver '%s'", s.Driver)).
			WithDetail("driver", s.Driver)
	}

	for field, table := range map[string]string{
		"store.sessions_table":   s.SessionsTable,
		"store.work_items_table": s.WorkItemsTable,
	} {
		if !identifierRegex.MatchString(table) {
			return errors.New(errors.ErrCodeConfigValidation, fmt.Sprintf("%s must be a plain SQL identifier", field)).
				WithDetail(field, table)
		}
	}

	if s.QueryTimeout <= 0 {
		return errors.New(errors.ErrCodeConfigValidation, "store.query_timeout must be positive")
	}
	if s.MaxRows < 0 {
		return errors.New(errors.ErrCodeConfigValidation, "store.max_rows cannot be negative")
	}
	return nil
}

func validateTriangulation(t *TriangulationConfig) error {
	if t.StaleThreshold <= 0 {
		return errors.New(errors.ErrCodeConfigValidation, "triangulation.stale_threshold must be positive")
	}
	if _, err := regexp.Compile(t.WorkKeyPattern); err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigValidation, "triangulation.work_key_pattern is not a valid regular expression").
			WithDetail("pattern", t.WorkKeyPattern)
	}
	if t.ChangeWindow < 0 {
		return errors.New(errors.ErrCodeConfigValidation, "triangulation.change_window cannot be negative")
	}
	if t.MaxWorktrees < 0 {
		return errors.New(errors.ErrCodeConfigValidation, "triangulation.max_worktrees cannot be negative")
	}
	return nil
}

func validateHeal(h *HealConfig) error {
	if h.Budget < 0 {
		return errors.New(errors.ErrCodeConfigValidation, "heal.budget cannot be negative")
	}
	if h.HeartbeatInterval <= 0 {
		return errors.New(errors.ErrCodeConfigValidation, "heal.heartbeat_interval must be positive")
	}
	return nil
}
