package heartbeat

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// ConfigWatcher calls OnChange when a config file in one of the watched
// directories is written or created. Bursts of writes are debounced.
type ConfigWatcher struct {
	watcher  *fsnotify.Watcher
	debounce time.Duration
	onChange func(file string)
	logger   *logrus.Entry
	now      func() time.Time

	mu         sync.Mutex
	lastChange time.Time
}

// NewConfigWatcher watches dirs. Missing directories are skipped with a
// debug log; at least one must be watchable.
func NewConfigWatcher(dirs []string, debounce time.Duration, onChange func(string), logger *logrus.Entry) (*ConfigWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	watched := 0
	seen := make(map[string]bool, len(dirs))
	for _, dir := range dirs {
		if dir == "" || seen[dir] {
			continue
		}
		seen[dir] = true
		if err := watcher.Add(dir); err != nil {
			logger.WithError(err).WithField("dir", dir).Debug("Not watching config directory")
			continue
		}
		watched++
	}
	if watched == 0 {
		watcher.Close()
		return nil, fmt.Errorf("none of %v could be watched", dirs)
	}

	if debounce <= 0 {
		debounce = 100 * time.Millisecond
	}
	return &ConfigWatcher{
		watcher:  watcher,
		debounce: debounce,
		onChange: onChange,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Start processes events until ctx is cancelled, then closes the watcher.
func (w *ConfigWatcher) Start(ctx context.Context) {
	defer w.watcher.Close()
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 && isConfigFile(event.Name) {
				w.handleChange(event.Name)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.WithError(err).Warn("Config watcher error")
		case <-ctx.Done():
			return
		}
	}
}

func (w *ConfigWatcher) handleChange(file string) {
	w.mu.Lock()
	now := w.now()
	if !w.lastChange.IsZero() && now.Sub(w.lastChange) < w.debounce {
		w.mu.Unlock()
		return
	}
	w.lastChange = now
	w.mu.Unlock()

	w.logger.WithField("file", filepath.Base(file)).Info("Config changed")
	if w.onChange != nil {
		w.onChange(file)
	}
}

func isConfigFile(name string) bool {
	base := filepath.Base(name)
	if !strings.HasPrefix(base, "claims") {
		return false
	}
	switch filepath.Ext(base) {
	case ".yml", ".yaml", ".toml":
		return true
	}
	return false
}
