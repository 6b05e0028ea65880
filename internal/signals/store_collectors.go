package signals

import (
	"context"

	"github.com/grovetools/claims/internal/store"
	"github.com/grovetools/claims/pkg/models"
	"github.com/sirupsen/logrus"
)

// SessionSource lists sessions that currently hold a claim.
type SessionSource interface {
	ListClaimedSessions(ctx context.Context, q store.SessionQuery) ([]models.SessionRecord, error)
}

// WorkFlagSource lists work items with the working flag set.
type WorkFlagSource interface {
	ListWorkingFlags(ctx context.Context, workKey string) ([]models.WorkItemFlag, error)
}

// rowLimiter is implemented by sources that cap list queries.
type rowLimiter interface {
	MaxRows() int
}

// atCap reports whether n rows from source may have been cut off by its cap.
func atCap(source interface{}, n int) bool {
	l, ok := source.(rowLimiter)
	return ok && l.MaxRows() > 0 && n >= l.MaxRows()
}

// SessionCollector reads claimed sessions from the session table.
type SessionCollector struct {
	source SessionSource
	logger *logrus.Entry
}

// NewSessionCollector creates a collector over source.
func NewSessionCollector(source SessionSource, logger *logrus.Entry) *SessionCollector {
	return &SessionCollector{source: source, logger: logger}
}

// Name implements Collector.
func (c *SessionCollector) Name() string { return string(KindSessions) }

// Collect implements Collector. When two sessions claim the same key the
// one with the most recent heartbeat wins. Rows are requested freshest
// first so a capped result keeps the live claims.
func (c *SessionCollector) Collect(ctx context.Context, scope Scope) (Update, error) {
	rows, err := c.source.ListClaimedSessions(ctx, store.SessionQuery{WorkKey: scope.WorkKey, FreshestFirst: true})
	if err != nil {
		return Update{}, err
	}

	byKey := make(map[string]models.SessionRecord, len(rows))
	for _, rec := range rows {
		if !rec.HasClaim() || !scope.Matches(rec.WorkKey) {
			continue
		}
		if prev, dup := byKey[rec.WorkKey]; dup {
			kept, dropped := rec, prev
			if prev.HeartbeatAt.After(rec.HeartbeatAt) {
				kept, dropped = prev, rec
			}
			c.logger.WithFields(logrus.Fields{
				"work_key": rec.WorkKey,
				"kept":     kept.SessionID,
				"dropped":  dropped.SessionID,
			}).Warn("Multiple sessions claim one work key")
			byKey[rec.WorkKey] = kept
			continue
		}
		byKey[rec.WorkKey] = rec
	}

	truncated := atCap(c.source, len(rows))
	if truncated {
		c.logger.WithField("rows", len(rows)).Warn("Session query hit the row cap; older claims are missing")
	}
	return Update{Kind: KindSessions, Source: c.Name(), Scanned: len(rows), Truncated: truncated, Payload: byKey}, nil
}

// WorkFlagCollector reads working flags from the work item table.
type WorkFlagCollector struct {
	source WorkFlagSource
}

// NewWorkFlagCollector creates a collector over source.
func NewWorkFlagCollector(source WorkFlagSource) *WorkFlagCollector {
	return &WorkFlagCollector{source: source}
}

// Name implements Collector.
func (c *WorkFlagCollector) Name() string { return string(KindWorkFlags) }

// Collect implements Collector.
func (c *WorkFlagCollector) Collect(ctx context.Context, scope Scope) (Update, error) {
	rows, err := c.source.ListWorkingFlags(ctx, scope.WorkKey)
	if err != nil {
		return Update{}, err
	}

	byKey := make(map[string]models.WorkItemFlag, len(rows))
	for _, flag := range rows {
		if flag.IsWorkingOn && scope.Matches(flag.WorkKey) {
			byKey[flag.WorkKey] = flag
		}
	}
	return Update{Kind: KindWorkFlags, Source: c.Name(), Scanned: len(rows), Truncated: atCap(c.source, len(rows)), Payload: byKey}, nil
}
