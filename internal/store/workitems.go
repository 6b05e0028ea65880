package store

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/grovetools/claims/errors"
	"github.com/grovetools/claims/pkg/models"
)

// ListWorkingFlags returns work items whose working flag is set, optionally
// restricted to one work key.
func (s *Store) ListWorkingFlags(ctx context.Context, workKey string) ([]models.WorkItemFlag, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT sd_key, is_working_on, active_session_id, status FROM %s WHERE is_working_on = ?", s.workItems)
	args := []interface{}{true}
	if workKey != "" {
		b.WriteString(" AND sd_key = ?")
		args = append(args, workKey)
	}
	b.WriteString(" ORDER BY sd_key LIMIT ?")
	args = append(args, s.maxRows)

	rows, err := s.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, errors.QueryFailed("work_flags", err)
	}
	defer rows.Close()

	var out []models.WorkItemFlag
	for rows.Next() {
		var (
			flag      models.WorkItemFlag
			sessionID sql.NullString
		)
		if err := rows.Scan(&flag.WorkKey, &flag.IsWorkingOn, &sessionID, &flag.Status); err != nil {
			return nil, errors.QueryFailed("work_flags", err)
		}
		flag.ActiveSessionID = sessionID.String
		out = append(out, flag)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.QueryFailed("work_flags", err)
	}
	return out, nil
}

// PutWorkItem inserts or replaces the working flag of a work item.
func (s *Store) PutWorkItem(ctx context.Context, flag models.WorkItemFlag) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.QueryFailed("work_items", err)
	}
	defer tx.Rollback()

	if err := s.upsertWorkItem(ctx, tx, flag); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.QueryFailed("work_items", err)
	}
	return nil
}

func (s *Store) upsertWorkItem(ctx context.Context, tx *sql.Tx, flag models.WorkItemFlag) error {
	status := flag.Status
	if status == "" {
		status = "in_progress"
	}
	res, err := tx.ExecContext(ctx, fmt.Sprintf(
		"UPDATE %s SET is_working_on = ?, active_session_id = ?, status = ? WHERE sd_key = ?", s.workItems),
		flag.IsWorkingOn, nullString(flag.ActiveSessionID), status, flag.WorkKey)
	if err != nil {
		return errors.QueryFailed("work_items", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	_, err = tx.ExecContext(ctx, fmt.Sprintf(
		"INSERT INTO %s (sd_key, is_working_on, active_session_id, status) VALUES (?, ?, ?, ?)", s.workItems),
		flag.WorkKey, flag.IsWorkingOn, nullString(flag.ActiveSessionID), status)
	if err != nil {
		return errors.QueryFailed("work_items", err)
	}
	return nil
}

// ClaimWorkItem records that sessionID is working on workKey: the session's
// work key is set and the work item's working flag points at the session.
// A claim already held by another unreleased session is a conflict.
func (s *Store) ClaimWorkItem(ctx context.Context, sessionID, workKey string) error {
	if sessionID == "" || workKey == "" {
		return errors.InvalidInput("session id and work key are required")
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.QueryFailed("claims", err)
	}
	defer tx.Rollback()

	var holder string
	err = tx.QueryRowContext(ctx, fmt.Sprintf(
		"SELECT session_id FROM %s WHERE sd_id = ? AND status IN (?, ?) AND session_id <> ? LIMIT 1", s.sessions),
		workKey, string(models.StatusActive), string(models.StatusIdle), sessionID).Scan(&holder)
	switch {
	case err == nil:
		return errors.ClaimConflict(workKey, holder)
	case !stderrors.Is(err, sql.ErrNoRows):
		return errors.QueryFailed("claims", err)
	}

	res, err := tx.ExecContext(ctx, fmt.Sprintf(
		"UPDATE %s SET sd_id = ?, heartbeat_at = ? WHERE session_id = ? AND status IN (?, ?)", s.sessions),
		workKey, millis(s.now()), sessionID, string(models.StatusActive), string(models.StatusIdle))
	if err != nil {
		return errors.QueryFailed("claims", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.SessionNotFound(sessionID)
	}

	if err := s.upsertWorkItem(ctx, tx, models.WorkItemFlag{
		WorkKey:         workKey,
		IsWorkingOn:     true,
		ActiveSessionID: sessionID,
	}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.QueryFailed("claims", err)
	}
	return nil
}
