package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/grovetools/claims/config"
	"github.com/grovetools/claims/internal/store"
	"github.com/grovetools/claims/pkg/models"
	"github.com/grovetools/claims/pkg/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type env struct {
	dir    string
	config string
	db     string
}

func setup(t *testing.T, dead ...int) *env {
	t.Helper()
	t.Setenv("GROVE_HOME", t.TempDir())
	t.Setenv("NO_COLOR", "1")

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "claims.yml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`store:
  driver: sqlite
  dsn: state/claims.db
triangulation:
  worktree_root: worktrees
  stale_threshold: 300s
heal:
  hostname: devbox
logging:
  file:
    disabled: true
`), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "worktrees", "SD-7-docs"), 0755))

	deadSet := map[int]bool{}
	for _, pid := range dead {
		deadSet[pid] = true
	}
	prev := probe
	probe = process.ProbeFunc(func(pid int) bool { return !deadSet[pid] })
	t.Cleanup(func() { probe = prev })

	return &env{dir: dir, config: cfgPath, db: filepath.Join(dir, "state", "claims.db")}
}

func (e *env) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--config", e.config}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

// seedGhost writes a session whose heartbeat is 400s old.
func (e *env) seedGhost(t *testing.T, id, key string, pid int) {
	t.Helper()
	st, err := store.Open(context.Background(), store.Config{Driver: store.DriverSQLite, DSN: e.db, AutoMigrate: true})
	require.NoError(t, err)
	defer st.Close()
	require.NoError(t, st.CreateSession(context.Background(), models.SessionRecord{
		SessionID: id, WorkKey: key, PID: pid, Hostname: "devbox",
		HeartbeatAt: time.Now().Add(-400 * time.Second),
	}))
}

func TestRegisterTriangulateHealRelease(t *testing.T) {
	e := setup(t, 4001)

	out, err := e.run(t, "register", "--terminal", "win-cc-1", "--sd", "SD-1", "--pid", "5001", "--json")
	require.NoError(t, err)
	var reg struct {
		Session  models.SessionRecord `json:"session"`
		Decision struct {
			Reason string `json:"reason"`
		} `json:"decision"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &reg))
	assert.Equal(t, "no_existing_session", reg.Decision.Reason)
	assert.Equal(t, "SD-1", reg.Session.WorkKey)
	me := reg.Session.SessionID

	e.seedGhost(t, "sess_ghost_4001", "SD-9", 4001)

	out, err = e.run(t, "triangulate", "--json")
	require.NoError(t, err)
	var tri struct {
		Healthy  []struct{ WorkKey string } `json:"healthy"`
		Ghost    []struct{ WorkKey string } `json:"ghost"`
		Orphaned []struct{ WorkKey string } `json:"orphaned"`
		Summary  struct{ Total int }        `json:"summary"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &tri))
	require.Len(t, tri.Healthy, 1)
	assert.Equal(t, "SD-1", tri.Healthy[0].WorkKey)
	require.Len(t, tri.Ghost, 1)
	assert.Equal(t, "SD-9", tri.Ghost[0].WorkKey)
	require.Len(t, tri.Orphaned, 1)
	assert.Equal(t, "SD-7", tri.Orphaned[0].WorkKey)
	assert.Equal(t, 3, tri.Summary.Total)

	out, err = e.run(t, "heal", "--session", me, "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "would release sess_ghost_4001")

	out, err = e.run(t, "heal", "--session", me, "--json")
	require.NoError(t, err)
	var healed struct {
		Released []struct{ SessionID string } `json:"released"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &healed))
	require.Len(t, healed.Released, 1)
	assert.Equal(t, "sess_ghost_4001", healed.Released[0].SessionID)

	out, err = e.run(t, "triangulate")
	require.NoError(t, err)
	assert.Contains(t, out, "GHOST (0)")
	assert.Contains(t, out, "Summary: total=2 healthy=1 orphaned=1 ghost=0 discrepancy=0")

	out, err = e.run(t, "release", me)
	require.NoError(t, err)
	assert.Contains(t, out, "released "+me)
	out, err = e.run(t, "release", me)
	require.NoError(t, err)
	assert.Contains(t, out, "was already released")
}

func TestGuardCommand(t *testing.T) {
	e := setup(t)

	_, err := e.run(t, "register", "--terminal", "win-cc-2", "--sd", "SD-2", "--pid", "6001")
	require.NoError(t, err)

	out, err := e.run(t, "guard", "--terminal", "win-cc-2", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"reason": "existing_session_has_claim"`)
	assert.Contains(t, out, `"claimedSd": "SD-2"`)

	out, err = e.run(t, "guard", "--terminal", "win-cc-unknown")
	require.NoError(t, err)
	assert.Contains(t, out, "reason: no_existing_session")
}

func TestHealRequiresSession(t *testing.T) {
	e := setup(t)
	_, err := e.run(t, "heal")
	assert.Error(t, err)
}

func TestConfigCommands(t *testing.T) {
	e := setup(t)

	out, err := e.run(t, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "# Source: "+e.config)
	assert.Contains(t, out, "stale_threshold: 5m0s")

	out, err = e.run(t, "config", "schema")
	require.NoError(t, err)
	assert.Contains(t, out, "heartbeat_interval")

	out, err = e.run(t, "config", "path")
	require.NoError(t, err)
	assert.Contains(t, out, `"project_config": "`+e.config+`"`)
}

func TestStoreConfigResolvesRelativeDSN(t *testing.T) {
	e := setup(t)
	cfg, err := config.Load(e.config)
	require.NoError(t, err)

	sc, err := storeConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, e.db, sc.DSN)
	assert.True(t, sc.AutoMigrate)
}

func TestTimingSummary(t *testing.T) {
	e := setup(t)

	out, err := e.run(t, "--timing", "triangulate")
	require.NoError(t, err)
	assert.Contains(t, out, "--- timing ---")
	assert.Contains(t, out, "- store.open (")
	assert.Contains(t, out, "- triangulate (")
}

func TestWatchExitsWhenSessionReleased(t *testing.T) {
	e := setup(t, 4001)

	out, err := e.run(t, "register", "--terminal", "win-cc-2", "--sd", "SD-2", "--pid", "5002", "--json")
	require.NoError(t, err)
	var reg struct {
		Session models.SessionRecord `json:"session"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &reg))
	me := reg.Session.SessionID

	e.seedGhost(t, "sess_ghost_4001", "SD-9", 4001)
	_, err = e.run(t, "release", me)
	require.NoError(t, err)

	out, err = e.run(t, "watch", "--session", me, "--interval", "10ms")
	require.NoError(t, err)
	assert.Contains(t, out, "heartbeat failed")
	assert.Contains(t, out, "released ghost sess_ghost_4001 (SD-9)")
	assert.Contains(t, out, "session "+me+" is released; watcher exiting")

	_, statErr := os.Stat(filepath.Join(os.Getenv("GROVE_HOME"), "state", "grove", "claims", "watch", me+".pid"))
	assert.True(t, os.IsNotExist(statErr))
}
