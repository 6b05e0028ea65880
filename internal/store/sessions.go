package store

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/grovetools/claims/errors"
	"github.com/grovetools/claims/pkg/models"
)

const sessionColumns = "session_id, sd_id, status, heartbeat_at, pid, hostname, terminal_id, created_at, released_at, release_reason"

// SessionQuery filters ListClaimedSessions.
type SessionQuery struct {
	// WorkKey restricts results to one claimed work key.
	WorkKey string
	// StaleBefore, when set, keeps only sessions whose heartbeat is older.
	StaleBefore time.Time
	// Limit caps the result; zero or above the store maximum uses the maximum.
	Limit int
	// FreshestFirst orders by most recent heartbeat, so a capped result
	// drops the oldest rows instead of the live ones.
	FreshestFirst bool
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (models.SessionRecord, error) {
	var (
		rec                  models.SessionRecord
		status               string
		workKey, reason      sql.NullString
		pid, releasedAt      sql.NullInt64
		heartbeat, createdAt int64
	)
	if err := row.Scan(&rec.SessionID, &workKey, &status, &heartbeat, &pid,
		&rec.Hostname, &rec.TerminalID, &createdAt, &releasedAt, &reason); err != nil {
		return rec, err
	}
	rec.WorkKey = workKey.String
	rec.Status = models.SessionStatus(status)
	rec.HeartbeatAt = fromMillis(heartbeat)
	rec.PID = int(pid.Int64)
	rec.CreatedAt = fromMillis(createdAt)
	rec.ReleaseReason = reason.String
	if releasedAt.Valid {
		t := fromMillis(releasedAt.Int64)
		rec.ReleasedAt = &t
	}
	return rec, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullPID(pid int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(pid), Valid: pid > 0}
}

// ListClaimedSessions returns sessions in a claim-holding status with a work
// key set, oldest heartbeat first unless q.FreshestFirst.
func (s *Store) ListClaimedSessions(ctx context.Context, q SessionQuery) ([]models.SessionRecord, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s WHERE status IN (?, ?) AND sd_id IS NOT NULL", sessionColumns, s.sessions)
	args := []interface{}{string(models.StatusActive), string(models.StatusIdle)}
	if q.WorkKey != "" {
		b.WriteString(" AND sd_id = ?")
		args = append(args, q.WorkKey)
	}
	if !q.StaleBefore.IsZero() {
		b.WriteString(" AND heartbeat_at < ?")
		args = append(args, millis(q.StaleBefore))
	}
	if q.FreshestFirst {
		b.WriteString(" ORDER BY heartbeat_at DESC, session_id ASC LIMIT ?")
	} else {
		b.WriteString(" ORDER BY heartbeat_at ASC, session_id ASC LIMIT ?")
	}
	args = append(args, s.limit(q.Limit))

	rows, err := s.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, errors.QueryFailed("sessions", err)
	}
	defer rows.Close()

	var out []models.SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, errors.QueryFailed("sessions", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.QueryFailed("sessions", err)
	}
	return out, nil
}

// GetSession returns one session by id.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*models.SessionRecord, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM %s WHERE session_id = ?", sessionColumns, s.sessions), sessionID)
	rec, err := scanSession(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.SessionNotFound(sessionID)
	}
	if err != nil {
		return nil, errors.QueryFailed("sessions", err)
	}
	return &rec, nil
}

// FindSessionByTerminal returns the most recently heartbeated, unreleased
// session registered for a terminal. It returns nil, nil when there is none.
func (s *Store) FindSessionByTerminal(ctx context.Context, terminalID string) (*models.SessionRecord, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	row := s.db.QueryRowContext(ctx, fmt.Sprintf(
		"SELECT %s FROM %s WHERE terminal_id = ? AND status <> ? ORDER BY heartbeat_at DESC LIMIT 1",
		sessionColumns, s.sessions), terminalID, string(models.StatusReleased))
	rec, err := scanSession(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.QueryFailed("sessions", err)
	}
	return &rec, nil
}

// CreateSession inserts a new session row. Zero timestamps are stamped with
// the store clock.
func (s *Store) CreateSession(ctx context.Context, rec models.SessionRecord) error {
	if rec.SessionID == "" {
		return errors.InvalidInput("session id is required")
	}
	now := s.now()
	if rec.Status == "" {
		rec.Status = models.StatusActive
	}
	if rec.HeartbeatAt.IsZero() {
		rec.HeartbeatAt = now
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(
		"INSERT INTO %s (session_id, sd_id, status, heartbeat_at, pid, hostname, terminal_id, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		s.sessions),
		rec.SessionID, nullString(rec.WorkKey), string(rec.Status), millis(rec.HeartbeatAt),
		nullPID(rec.PID), rec.Hostname, rec.TerminalID, millis(rec.CreatedAt))
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeQueryFailed, "failed to create session").
			WithDetail("sessionId", rec.SessionID)
	}
	return nil
}

// ReuseSession rebinds an existing unreleased session to a new process and
// refreshes its heartbeat.
func (s *Store) ReuseSession(ctx context.Context, sessionID string, pid int, hostname string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, fmt.Sprintf(
		"UPDATE %s SET pid = ?, hostname = ?, heartbeat_at = ?, status = ? WHERE session_id = ? AND status <> ?",
		s.sessions),
		nullPID(pid), hostname, millis(s.now()), string(models.StatusActive), sessionID, string(models.StatusReleased))
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeQueryFailed, "failed to reuse session").
			WithDetail("sessionId", sessionID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.SessionNotFound(sessionID)
	}
	return nil
}

// Heartbeat refreshes the heartbeat of an unreleased session.
func (s *Store) Heartbeat(ctx context.Context, sessionID string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, fmt.Sprintf(
		"UPDATE %s SET heartbeat_at = ? WHERE session_id = ? AND status <> ?", s.sessions),
		millis(s.now()), sessionID, string(models.StatusReleased))
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeQueryFailed, "failed to write heartbeat").
			WithDetail("sessionId", sessionID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.SessionNotFound(sessionID)
	}
	return nil
}
