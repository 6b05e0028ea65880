package signals

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/grovetools/claims/internal/store"
	"github.com/grovetools/claims/logging"
	"github.com/grovetools/claims/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type stubCollector struct {
	name   string
	update Update
	err    error
	panics bool
}

func (s stubCollector) Name() string { return s.name }

func (s stubCollector) Collect(ctx context.Context, scope Scope) (Update, error) {
	if s.panics {
		panic("boom")
	}
	return s.update, s.err
}

func TestGatherIsolatesFailures(t *testing.T) {
	good := stubCollector{name: "work_flags", update: Update{
		Kind:    KindWorkFlags,
		Payload: map[string]models.WorkItemFlag{"SD-1": {WorkKey: "SD-1", IsWorkingOn: true}},
	}}
	failing := stubCollector{name: "sessions", err: errors.New("db down")}
	panicking := stubCollector{name: "worktrees", panics: true}

	snap := Gather(context.Background(), logging.Nop(), Scope{}, now, good, failing, panicking)

	assert.Equal(t, []string{"sessions", "worktrees"}, snap.Failed)
	assert.True(t, snap.Degraded())
	assert.Contains(t, snap.WorkFlags, "SD-1")
	assert.Empty(t, snap.Sessions)
	assert.Equal(t, now, snap.CollectedAt)
	assert.Equal(t, []string{"SD-1"}, snap.Keys())
}

type fakeSessions struct {
	rows []models.SessionRecord
	got  store.SessionQuery
}

func (f *fakeSessions) ListClaimedSessions(ctx context.Context, q store.SessionQuery) ([]models.SessionRecord, error) {
	f.got = q
	return f.rows, nil
}

func TestSessionCollectorKeepsFreshestDuplicate(t *testing.T) {
	src := &fakeSessions{rows: []models.SessionRecord{
		{SessionID: "old", WorkKey: "SD-1", Status: models.StatusActive, HeartbeatAt: now.Add(-time.Hour)},
		{SessionID: "new", WorkKey: "SD-1", Status: models.StatusActive, HeartbeatAt: now},
		{SessionID: "other", WorkKey: "SD-2", Status: models.StatusIdle, HeartbeatAt: now},
		{SessionID: "released", WorkKey: "SD-3", Status: models.StatusReleased},
	}}
	c := NewSessionCollector(src, logging.Nop())

	u, err := c.Collect(context.Background(), Scope{})
	require.NoError(t, err)
	byKey := u.Payload.(map[string]models.SessionRecord)
	assert.Len(t, byKey, 2)
	assert.Equal(t, "new", byKey["SD-1"].SessionID)
	assert.Equal(t, 4, u.Scanned)

	_, err = c.Collect(context.Background(), Scope{WorkKey: "SD-2"})
	require.NoError(t, err)
	assert.Equal(t, "SD-2", src.got.WorkKey)
}

type cappedSessions struct {
	fakeSessions
	max int
}

func (c *cappedSessions) MaxRows() int { return c.max }

func TestSessionCollectorFlagsRowCap(t *testing.T) {
	rows := []models.SessionRecord{
		{SessionID: "a", WorkKey: "SD-1", Status: models.StatusActive, HeartbeatAt: now},
		{SessionID: "b", WorkKey: "SD-2", Status: models.StatusActive, HeartbeatAt: now},
	}

	capped := &cappedSessions{fakeSessions: fakeSessions{rows: rows}, max: 2}
	u, err := NewSessionCollector(capped, logging.Nop()).Collect(context.Background(), Scope{})
	require.NoError(t, err)
	assert.True(t, u.Truncated)
	assert.True(t, capped.got.FreshestFirst)

	roomy := &cappedSessions{fakeSessions: fakeSessions{rows: rows}, max: 10}
	u, err = NewSessionCollector(roomy, logging.Nop()).Collect(context.Background(), Scope{})
	require.NoError(t, err)
	assert.False(t, u.Truncated)
}

func TestGatherRecordsTruncatedSources(t *testing.T) {
	capped := stubCollector{name: "sessions", update: Update{Kind: KindSessions, Truncated: true}}
	full := stubCollector{name: "work_flags", update: Update{Kind: KindWorkFlags}}

	snap := Gather(context.Background(), logging.Nop(), Scope{}, now, capped, full)
	assert.Equal(t, []string{"sessions"}, snap.Truncated)
	assert.False(t, snap.Degraded())
}

type fakeFlags struct{ rows []models.WorkItemFlag }

func (f fakeFlags) ListWorkingFlags(ctx context.Context, workKey string) ([]models.WorkItemFlag, error) {
	return f.rows, nil
}

func TestWorkFlagCollectorDropsClearedFlags(t *testing.T) {
	c := NewWorkFlagCollector(fakeFlags{rows: []models.WorkItemFlag{
		{WorkKey: "SD-1", IsWorkingOn: true},
		{WorkKey: "SD-2", IsWorkingOn: false},
	}})
	u, err := c.Collect(context.Background(), Scope{})
	require.NoError(t, err)
	byKey := u.Payload.(map[string]models.WorkItemFlag)
	assert.Len(t, byKey, 1)
	assert.Contains(t, byKey, "SD-1")
}

func mkdir(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(path, 0755))
}

func touch(t *testing.T, path string, mtime time.Time) {
	t.Helper()
	mkdir(t, filepath.Dir(path))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func TestWorktreeCollector(t *testing.T) {
	root := t.TempDir()
	gitStore := t.TempDir()

	// Linked worktree, index written recently.
	linked := filepath.Join(root, "SD-LEO-001-fix-login")
	mkdir(t, linked)
	privateGit := filepath.Join(gitStore, "worktrees", "SD-LEO-001")
	touch(t, filepath.Join(privateGit, "index"), now.Add(-5*time.Minute))
	require.NoError(t, os.WriteFile(filepath.Join(linked, ".git"), []byte("gitdir: "+privateGit+"\n"), 0644))

	// Regular checkout, index untouched for a day.
	plain := filepath.Join(root, "SD-2")
	touch(t, filepath.Join(plain, ".git", "index"), now.Add(-24*time.Hour))

	// No .git at all still counts as evidence.
	mkdir(t, filepath.Join(root, "SD-3"))

	// Ignored: name does not match, and a plain file.
	mkdir(t, filepath.Join(root, "scratch"))
	require.NoError(t, os.WriteFile(filepath.Join(root, "SD-4"), nil, 0644))

	c := NewWorktreeCollector(WorktreeOptions{
		Root:         root,
		Pattern:      regexp.MustCompile(`^SD-[A-Z0-9]+(-[A-Z0-9]+)*`),
		ChangeWindow: time.Hour,
		Now:          func() time.Time { return now },
	}, logging.Nop())

	u, err := c.Collect(context.Background(), Scope{})
	require.NoError(t, err)
	found := u.Payload.(map[string]models.WorktreeEvidence)

	require.Len(t, found, 3)
	assert.True(t, found["SD-LEO-001"].HasChanges)
	assert.Equal(t, filepath.Join(privateGit, "index"), found["SD-LEO-001"].IndexPath)
	assert.False(t, found["SD-2"].HasChanges)
	assert.Equal(t, filepath.Join(plain, ".git", "index"), found["SD-2"].IndexPath)
	assert.False(t, found["SD-3"].HasChanges)
	assert.Equal(t, filepath.Join(root, "SD-3"), found["SD-3"].Path)

	scoped, err := c.Collect(context.Background(), Scope{WorkKey: "SD-2"})
	require.NoError(t, err)
	assert.Len(t, scoped.Payload.(map[string]models.WorktreeEvidence), 1)
}

func TestWorktreeCollectorMissingRoot(t *testing.T) {
	c := NewWorktreeCollector(WorktreeOptions{
		Root:    filepath.Join(t.TempDir(), "absent"),
		Pattern: regexp.MustCompile(`^SD-\d+`),
	}, logging.Nop())
	u, err := c.Collect(context.Background(), Scope{})
	require.NoError(t, err)
	assert.Empty(t, u.Payload.(map[string]models.WorktreeEvidence))
}

func TestGitIndexPathRelativeGitdir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".git"), []byte("gitdir: ../main/.git/worktrees/x\n"), 0644))
	path, ok := gitIndexPath(dir)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "..", "main", ".git", "worktrees", "x", "index"), path)
}
