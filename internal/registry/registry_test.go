package registry

import (
	"context"
	"testing"
	"time"

	"github.com/grovetools/claims/errors"
	"github.com/grovetools/claims/internal/guard"
	"github.com/grovetools/claims/internal/store"
	"github.com/grovetools/claims/pkg/models"
	"github.com/grovetools/claims/pkg/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newRegistry(t *testing.T) (*Registry, *store.Store) {
	t.Helper()
	st, err := store.Open(context.Background(), store.Config{
		Driver: store.DriverSQLite, DSN: ":memory:", AutoMigrate: true,
	}, store.WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return New(st, nil), st
}

func TestNewSessionIDCarriesPID(t *testing.T) {
	id := NewSessionID(4242)
	pid, ok := process.PIDFromSessionID(id)
	require.True(t, ok)
	assert.Equal(t, 4242, pid)
	assert.NotEqual(t, id, NewSessionID(4242))

	_, ok = process.PIDFromSessionID(NewSessionID(0))
	assert.False(t, ok)
}

func TestRegisterNewTerminal(t *testing.T) {
	reg, _ := newRegistry(t)

	got, err := reg.Register(context.Background(), RegisterRequest{
		TerminalID: "win-cc-1", Hostname: "devbox", PID: 501, WorkKey: "SD-1",
	})
	require.NoError(t, err)
	assert.Equal(t, guard.ReasonNoExistingSession, got.Decision.Reason)
	assert.False(t, got.Reused)
	assert.Equal(t, "SD-1", got.Session.WorkKey)
	assert.Equal(t, 501, got.Session.PID)
	assert.Equal(t, "win-cc-1", got.Session.TerminalID)
}

func TestRegisterReusesUnclaimedSession(t *testing.T) {
	reg, st := newRegistry(t)
	ctx := context.Background()
	require.NoError(t, st.CreateSession(ctx, models.SessionRecord{
		SessionID: "sess_old_100", TerminalID: "win-cc-2", PID: 100, Hostname: "devbox",
	}))

	got, err := reg.Register(ctx, RegisterRequest{TerminalID: "win-cc-2", Hostname: "devbox", PID: 200})
	require.NoError(t, err)
	assert.True(t, got.Reused)
	assert.Equal(t, guard.ReasonNoActiveClaim, got.Decision.Reason)
	assert.Equal(t, "sess_old_100", got.Session.SessionID)
	assert.Equal(t, 200, got.Session.PID)
}

func TestRegisterNeverReusesClaimedSession(t *testing.T) {
	reg, st := newRegistry(t)
	ctx := context.Background()
	require.NoError(t, st.CreateSession(ctx, models.SessionRecord{
		SessionID: "sess_old_100", TerminalID: "win-cc-3", PID: 100, Hostname: "devbox", WorkKey: "SD-5",
	}))

	got, err := reg.Register(ctx, RegisterRequest{TerminalID: "win-cc-3", Hostname: "devbox", PID: 300})
	require.NoError(t, err)
	assert.False(t, got.Reused)
	assert.True(t, got.Decision.ShouldCreateNew)
	assert.Equal(t, "SD-5", got.Decision.ClaimedSD)
	assert.Equal(t, "sess_old_100", got.Decision.ExistingSessionID)
	assert.NotEqual(t, "sess_old_100", got.Session.SessionID)

	old, err := st.GetSession(ctx, "sess_old_100")
	require.NoError(t, err)
	assert.Equal(t, "SD-5", old.WorkKey)
	assert.Equal(t, 100, old.PID)
}

func TestRegisterConflictingClaim(t *testing.T) {
	reg, st := newRegistry(t)
	ctx := context.Background()
	require.NoError(t, st.CreateSession(ctx, models.SessionRecord{
		SessionID: "sess_other_100", TerminalID: "win-cc-4", WorkKey: "SD-6",
	}))

	reg.newID = func(int) string { return "sess_new_400" }
	_, err := reg.Register(ctx, RegisterRequest{TerminalID: "win-cc-5", PID: 400, WorkKey: "SD-6"})
	assert.True(t, errors.Is(err, errors.ErrCodeClaimConflict))

	created, err := st.GetSession(ctx, "sess_new_400")
	require.NoError(t, err)
	assert.Equal(t, models.StatusReleased, created.Status)
	assert.Equal(t, models.ReleaseReasonRegistrationFailed, created.ReleaseReason)

	live, err := st.FindSessionByTerminal(ctx, "win-cc-5")
	require.NoError(t, err)
	assert.Nil(t, live, "no session left behind for the terminal")
}

func TestRegisterKeepsReusedRowWhenClaimFails(t *testing.T) {
	reg, st := newRegistry(t)
	ctx := context.Background()
	require.NoError(t, st.CreateSession(ctx, models.SessionRecord{
		SessionID: "sess_other_100", TerminalID: "win-cc-6", WorkKey: "SD-6",
	}))
	require.NoError(t, st.CreateSession(ctx, models.SessionRecord{
		SessionID: "sess_mine_200", TerminalID: "win-cc-7", PID: 200,
	}))

	_, err := reg.Register(ctx, RegisterRequest{TerminalID: "win-cc-7", PID: 201, WorkKey: "SD-6"})
	assert.True(t, errors.Is(err, errors.ErrCodeClaimConflict))

	mine, err := st.GetSession(ctx, "sess_mine_200")
	require.NoError(t, err)
	assert.NotEqual(t, models.StatusReleased, mine.Status)
}

func TestRegisterRequiresTerminal(t *testing.T) {
	reg, _ := newRegistry(t)
	_, err := reg.Register(context.Background(), RegisterRequest{PID: 1})
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))
}
