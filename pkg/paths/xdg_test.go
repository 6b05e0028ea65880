package paths

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGroveHomeTakesPrecedence(t *testing.T) {
	home := t.TempDir()
	t.Setenv("GROVE_HOME", home)
	t.Setenv("XDG_STATE_HOME", "/should/not/be/used")

	assert.Equal(t, filepath.Join(home, "config", "grove"), ConfigDir())
	assert.Equal(t, filepath.Join(home, "state", "grove"), StateDir())
	assert.Equal(t, filepath.Join(home, "state", "grove", "claims", "claims.db"), DefaultDatabasePath())
}

func TestXDGFallback(t *testing.T) {
	t.Setenv("GROVE_HOME", "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg/config")
	t.Setenv("XDG_STATE_HOME", "/xdg/state")

	assert.Equal(t, filepath.Join("/xdg/config", "grove"), ConfigDir())
	assert.Equal(t, filepath.Join("/xdg/state", "grove", "claims", "logs"), LogDir())
}

func TestWatcherPidPathSanitizesSessionID(t *testing.T) {
	t.Setenv("GROVE_HOME", "/gh")
	path := WatcherPidPath("sess/../x y_42")
	assert.Equal(t, "sess_.._x_y_42.pid", filepath.Base(path))
	assert.Equal(t, filepath.Join("/gh", "state", "grove", "claims", "watch"), filepath.Dir(path))
}
