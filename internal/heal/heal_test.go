package heal

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/grovetools/claims/errors"
	"github.com/grovetools/claims/internal/store"
	"github.com/grovetools/claims/pkg/models"
	"github.com/grovetools/claims/pkg/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

const host = "devbox"

func deadProbe(dead ...int) process.Probe {
	set := make(map[int]bool, len(dead))
	for _, pid := range dead {
		set[pid] = true
	}
	return process.ProbeFunc(func(pid int) bool { return !set[pid] })
}

func newStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(context.Background(), store.Config{
		Driver: store.DriverSQLite, DSN: ":memory:", AutoMigrate: true,
	}, store.WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func seed(t *testing.T, st *store.Store, recs ...models.SessionRecord) {
	t.Helper()
	for _, rec := range recs {
		if rec.Hostname == "" {
			rec.Hostname = host
		}
		require.NoError(t, st.CreateSession(context.Background(), rec))
	}
}

func healerFor(st *store.Store, probe process.Probe) *Healer {
	return New(Config{
		Sessions:       st,
		Releaser:       st,
		Probe:          probe,
		Hostname:       host,
		StaleThreshold: 300 * time.Second,
		Now:            func() time.Time { return now },
	})
}

type listerFunc func(ctx context.Context, q store.SessionQuery) ([]models.SessionRecord, error)

func (f listerFunc) ListClaimedSessions(ctx context.Context, q store.SessionQuery) ([]models.SessionRecord, error) {
	return f(ctx, q)
}

func staticLister(recs ...models.SessionRecord) SessionLister {
	return listerFunc(func(context.Context, store.SessionQuery) ([]models.SessionRecord, error) {
		return recs, nil
	})
}

type mockReleaser struct {
	mock.Mock
}

func (m *mockReleaser) ReleaseSession(ctx context.Context, sessionID, reason string) (store.ReleaseOutcome, error) {
	args := m.Called(ctx, sessionID, reason)
	return args.Get(0).(store.ReleaseOutcome), args.Error(1)
}

func ghost(id, key string, pid int) models.SessionRecord {
	return models.SessionRecord{
		SessionID: id, WorkKey: key, Status: models.StatusActive, PID: pid,
		Hostname: host, HeartbeatAt: now.Add(-400 * time.Second),
	}
}

func TestSelfHealReleasesGhost(t *testing.T) {
	st := newStore(t)
	seed(t, st, ghost("sess_a_4001", "SD-1", 4001))
	ctx := context.Background()

	result, err := healerFor(st, deadProbe(4001)).SelfHeal(ctx, "sess_me_9000", Options{})
	require.NoError(t, err)
	require.Len(t, result.Released, 1)
	assert.Equal(t, "sess_a_4001", result.Released[0].SessionID)
	assert.Equal(t, 4001, result.Released[0].PID)
	assert.Equal(t, int64(400), result.Released[0].HeartbeatAgeSeconds)
	assert.Empty(t, result.Errors)

	rec, err := st.GetSession(ctx, "sess_a_4001")
	require.NoError(t, err)
	assert.Equal(t, models.StatusReleased, rec.Status)
	assert.Empty(t, rec.WorkKey)
	assert.Equal(t, models.ReleaseReasonGhostHeal, rec.ReleaseReason)
}

func TestSelfHealIsIdempotent(t *testing.T) {
	st := newStore(t)
	seed(t, st, ghost("sess_a_4001", "SD-1", 4001), ghost("sess_b_4002", "SD-2", 4002))
	h := healerFor(st, deadProbe(4001, 4002))
	ctx := context.Background()

	first, err := h.SelfHeal(ctx, "sess_me_9000", Options{})
	require.NoError(t, err)
	assert.Len(t, first.Released, 2)

	second, err := h.SelfHeal(ctx, "sess_me_9000", Options{})
	require.NoError(t, err)
	assert.Empty(t, second.Released)
	assert.Empty(t, second.Errors)
}

func TestSelfHealLeavesLiveProcess(t *testing.T) {
	st := newStore(t)
	seed(t, st, ghost("sess_a_4001", "SD-1", 4001))

	result, err := healerFor(st, deadProbe()).SelfHeal(context.Background(), "sess_me_9000", Options{})
	require.NoError(t, err)
	assert.Empty(t, result.Released)
	require.Len(t, result.Skipped, 1)
	assert.Equal(t, SkipAlive, result.Skipped[0].Reason)

	rec, err := st.GetSession(context.Background(), "sess_a_4001")
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, rec.Status)
}

func TestSelfHealNeverReleasesCaller(t *testing.T) {
	st := newStore(t)
	seed(t, st, ghost("sess_me_4100", "SD-7", 4100))

	result, err := healerFor(st, deadProbe(4100)).SelfHeal(context.Background(), "sess_me_4100", Options{})
	require.NoError(t, err)
	assert.Empty(t, result.Released)
	require.Len(t, result.Skipped, 1)
	assert.Equal(t, SkipSelf, result.Skipped[0].Reason)

	rec, err := st.GetSession(context.Background(), "sess_me_4100")
	require.NoError(t, err)
	assert.Equal(t, "SD-7", rec.WorkKey)
}

func TestSelfHealSkipsOtherHostsAndUnresolvablePIDs(t *testing.T) {
	st := newStore(t)
	remote := ghost("sess_r_4200", "SD-8", 4200)
	remote.Hostname = "build-02"
	nopid := ghost("legacy-session", "SD-9", 0)
	seed(t, st, remote, nopid)

	probed := false
	h := healerFor(st, process.ProbeFunc(func(int) bool { probed = true; return false }))
	result, err := h.SelfHeal(context.Background(), "sess_me_9000", Options{})
	require.NoError(t, err)

	assert.Empty(t, result.Released)
	require.Len(t, result.Orphans, 1)
	assert.Equal(t, "sess_r_4200", result.Orphans[0].SessionID)
	require.Len(t, result.Skipped, 1)
	assert.Equal(t, SkipPIDUnresolved, result.Skipped[0].Reason)
	assert.False(t, probed)
}

func TestSelfHealUnknownHostnameNeverReleases(t *testing.T) {
	blankRow := ghost("sess_u_4300", "SD-5", 4300)
	blankRow.Hostname = ""
	remoteRow := ghost("sess_r_4301", "SD-6", 4301)
	remoteRow.Hostname = "other-host"

	tests := []struct {
		name      string
		localHost string
		row       models.SessionRecord
	}{
		{"local hostname unknown", "", remoteRow},
		{"local hostname unknown, row on this host", "", ghost("sess_l_4302", "SD-7", 4302)},
		{"row hostname blank", host, blankRow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			releaser := &mockReleaser{}
			probed := false
			h := New(Config{
				Sessions:       staticLister(tt.row),
				Releaser:       releaser,
				Probe:          process.ProbeFunc(func(int) bool { probed = true; return false }),
				Hostname:       tt.localHost,
				StaleThreshold: 300 * time.Second,
				Now:            func() time.Time { return now },
			})

			result, err := h.SelfHeal(context.Background(), "sess_me_9000", Options{})
			require.NoError(t, err)
			assert.Empty(t, result.Released)
			require.Len(t, result.Orphans, 1)
			assert.Equal(t, tt.row.SessionID, result.Orphans[0].SessionID)
			assert.False(t, probed)
			releaser.AssertNotCalled(t, "ReleaseSession", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestSelfHealIgnoresFreshSessions(t *testing.T) {
	st := newStore(t)
	fresh := ghost("sess_f_4300", "SD-10", 4300)
	fresh.HeartbeatAt = now.Add(-time.Minute)
	seed(t, st, fresh)

	result, err := healerFor(st, deadProbe(4300)).SelfHeal(context.Background(), "sess_me_9000", Options{})
	require.NoError(t, err)
	assert.Empty(t, result.Released)
	assert.Empty(t, result.Skipped)
}

func TestSelfHealDryRun(t *testing.T) {
	st := newStore(t)
	seed(t, st, ghost("sess_a_4001", "SD-1", 4001))

	result, err := healerFor(st, deadProbe(4001)).SelfHeal(context.Background(), "sess_me_9000", Options{DryRun: true})
	require.NoError(t, err)
	assert.True(t, result.DryRun)
	assert.Empty(t, result.Released)
	require.Len(t, result.Advisories, 1)
	assert.Contains(t, result.Advisories[0], "would release sess_a_4001")

	rec, err := st.GetSession(context.Background(), "sess_a_4001")
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, rec.Status)
}

func TestSelfHealPartialFailure(t *testing.T) {
	releaser := &mockReleaser{}
	releaser.On("ReleaseSession", mock.Anything, "sess_a_4001", models.ReleaseReasonGhostHeal).
		Return(store.ReleaseOutcome(""), stderrors.New("lock wait timeout")).Once()
	releaser.On("ReleaseSession", mock.Anything, "sess_b_4002", models.ReleaseReasonGhostHeal).
		Return(store.OutcomeReleased, nil).Once()
	releaser.On("ReleaseSession", mock.Anything, "sess_c_4003", models.ReleaseReasonGhostHeal).
		Return(store.OutcomeAlreadyReleased, nil).Once()

	h := New(Config{
		Sessions: staticLister(
			ghost("sess_a_4001", "SD-1", 4001),
			ghost("sess_b_4002", "SD-2", 4002),
			ghost("sess_c_4003", "SD-3", 4003),
		),
		Releaser:       releaser,
		Probe:          deadProbe(4001, 4002, 4003),
		Hostname:       host,
		StaleThreshold: 300 * time.Second,
		Now:            func() time.Time { return now },
	})

	result, err := h.SelfHeal(context.Background(), "sess_me_9000", Options{})
	require.NoError(t, err)
	releaser.AssertExpectations(t)

	require.Len(t, result.Errors, 1)
	assert.Equal(t, "sess_a_4001", result.Errors[0].SessionID)
	assert.Contains(t, result.Errors[0].Error, "lock wait timeout")
	require.Len(t, result.Released, 1)
	assert.Equal(t, "sess_b_4002", result.Released[0].SessionID)
	require.Len(t, result.Skipped, 1)
	assert.Equal(t, SkipAlreadyReleased, result.Skipped[0].Reason)
}

func TestSelfHealBudgetDefersRemaining(t *testing.T) {
	tick := now
	clock := func() time.Time {
		current := tick
		tick = tick.Add(time.Second)
		return current
	}
	releaser := &mockReleaser{}
	releaser.On("ReleaseSession", mock.Anything, "sess_a_4001", mock.Anything).Return(store.OutcomeReleased, nil).Once()

	h := New(Config{
		Sessions: staticLister(
			ghost("sess_a_4001", "SD-1", 4001),
			ghost("sess_b_4002", "SD-2", 4002),
			ghost("sess_c_4003", "SD-3", 4003),
		),
		Releaser:       releaser,
		Probe:          deadProbe(4001, 4002, 4003),
		Hostname:       host,
		StaleThreshold: 300 * time.Second,
		Budget:         1500 * time.Millisecond,
		Now:            clock,
	})

	result, err := h.SelfHeal(context.Background(), "sess_me_9000", Options{})
	require.NoError(t, err)
	releaser.AssertExpectations(t)

	assert.Len(t, result.Released, 1)
	require.Len(t, result.Deferred, 2)
	assert.Equal(t, "sess_b_4002", result.Deferred[0].SessionID)
	assert.Equal(t, "sess_c_4003", result.Deferred[1].SessionID)
}

func TestSelfHealQueryFailureIsReported(t *testing.T) {
	h := New(Config{
		Sessions: listerFunc(func(context.Context, store.SessionQuery) ([]models.SessionRecord, error) {
			return nil, errors.QueryFailed("sessions", stderrors.New("connection refused"))
		}),
		Releaser: &mockReleaser{},
		Now:      func() time.Time { return now },
	})

	result, err := h.SelfHeal(context.Background(), "sess_me_9000", Options{})
	require.NoError(t, err)
	require.Len(t, result.Errors, 1)
	assert.Empty(t, result.Errors[0].SessionID)
	assert.Contains(t, result.Errors[0].Error, "connection refused")
}

func TestSelfHealRequiresCaller(t *testing.T) {
	_, err := New(Config{}).SelfHeal(context.Background(), "", Options{})
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))
}

func TestSelfHealQueriesStaleCutoff(t *testing.T) {
	var got store.SessionQuery
	h := New(Config{
		Sessions: listerFunc(func(_ context.Context, q store.SessionQuery) ([]models.SessionRecord, error) {
			got = q
			return nil, nil
		}),
		StaleThreshold: 300 * time.Second,
		Now:            func() time.Time { return now },
	})
	_, err := h.SelfHeal(context.Background(), "sess_me_9000", Options{})
	require.NoError(t, err)
	assert.Equal(t, now.Add(-300*time.Second), got.StaleBefore)
	assert.Empty(t, got.WorkKey)
}
