package store

import (
	"context"
	"fmt"

	"github.com/grovetools/claims/errors"
)

const currentSchemaVersion = 1

// schemaStatements returns the DDL for the current schema. Timestamps are
// epoch milliseconds so both dialects share one representation.
func (s *Store) schemaStatements() []string {
	sessionIndex := "INDEX idx_%[1]s_claim (status, sd_id)"
	if s.driver == DriverSQLite {
		sessionIndex = ""
	}
	sessions := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	session_id VARCHAR(191) NOT NULL PRIMARY KEY,
	sd_id VARCHAR(191) NULL,
	status VARCHAR(32) NOT NULL DEFAULT 'active',
	heartbeat_at BIGINT NOT NULL DEFAULT 0,
	pid INTEGER NULL,
	hostname VARCHAR(255) NOT NULL DEFAULT '',
	terminal_id VARCHAR(255) NOT NULL DEFAULT '',
	created_at BIGINT NOT NULL DEFAULT 0,
	released_at BIGINT NULL,
	release_reason VARCHAR(64) NULL`, s.sessions)
	if sessionIndex != "" {
		sessions += ",\n\t" + fmt.Sprintf(sessionIndex, s.sessions)
	}
	sessions += "\n)"

	workItems := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	sd_key VARCHAR(191) NOT NULL PRIMARY KEY,
	is_working_on BOOLEAN NOT NULL DEFAULT 0,
	active_session_id VARCHAR(191) NULL,
	status VARCHAR(32) NOT NULL DEFAULT 'draft'
)`, s.workItems)

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS claims_schema_version (
	version INTEGER NOT NULL PRIMARY KEY,
	applied_at BIGINT NOT NULL
)`,
		sessions,
		workItems,
	}
	if s.driver == DriverSQLite {
		stmts = append(stmts,
			fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%[1]s_claim ON %[1]s (status, sd_id)", s.sessions),
			fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%[1]s_terminal ON %[1]s (terminal_id)", s.sessions),
		)
	}
	return stmts
}

// EnsureSchema creates the session and work item tables if they are missing
// and records the schema version. It is idempotent. Statements run one at a
// time since the MySQL driver rejects multi-statement Exec by default.
func (s *Store) EnsureSchema(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	for _, stmt := range s.schemaStatements() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, errors.ErrCodeStoreUnavailable, "failed to create schema").
				WithDetail("statement", stmt)
		}
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM claims_schema_version").Scan(&version); err != nil {
		return errors.QueryFailed("schema_version", err)
	}
	if version < currentSchemaVersion {
		if _, err := s.db.ExecContext(ctx,
			"INSERT INTO claims_schema_version (version, applied_at) VALUES (?, ?)",
			currentSchemaVersion, millis(s.now())); err != nil {
			return errors.Wrap(err, errors.ErrCodeStoreUnavailable, "failed to record schema version")
		}
	}
	return nil
}

// SchemaVersion returns the recorded schema version, 0 when none.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var version int
	err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM claims_schema_version").Scan(&version)
	if err != nil {
		return 0, errors.QueryFailed("schema_version", err)
	}
	return version, nil
}
