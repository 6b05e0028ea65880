package signals

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/grovetools/claims/pkg/models"
	"github.com/sirupsen/logrus"
)

// WorktreeOptions configures a WorktreeCollector.
type WorktreeOptions struct {
	// Root is the directory holding one worktree per work key.
	Root string
	// Pattern extracts the work key from a directory name; the leftmost
	// match is the key.
	Pattern *regexp.Regexp
	// ChangeWindow is how recent an index write must be to count as changes.
	ChangeWindow time.Duration
	// MaxEntries caps the directories examined; zero means no cap.
	MaxEntries int
	// Now is the clock used for the change window.
	Now func() time.Time
}

// WorktreeCollector scans a worktree root for per-work-key directories.
type WorktreeCollector struct {
	opts   WorktreeOptions
	logger *logrus.Entry
}

// NewWorktreeCollector creates a collector from opts.
func NewWorktreeCollector(opts WorktreeOptions, logger *logrus.Entry) *WorktreeCollector {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &WorktreeCollector{opts: opts, logger: logger}
}

// Name implements Collector.
func (c *WorktreeCollector) Name() string { return string(KindWorktrees) }

// Collect implements Collector. A missing root yields an empty update.
// HasChanges comes from the git index modification time; a worktree without
// a readable index still counts as evidence.
func (c *WorktreeCollector) Collect(ctx context.Context, scope Scope) (Update, error) {
	update := Update{Kind: KindWorktrees, Source: c.Name()}
	found := make(map[string]models.WorktreeEvidence)
	update.Payload = found

	if c.opts.Root == "" || c.opts.Pattern == nil {
		return update, nil
	}

	entries, err := os.ReadDir(c.opts.Root)
	if err != nil {
		if os.IsNotExist(err) {
			return update, nil
		}
		return Update{}, fmt.Errorf("read worktree root %s: %w", c.opts.Root, err)
	}

	now := c.opts.Now()
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return Update{}, err
		}
		if c.opts.MaxEntries > 0 && update.Scanned >= c.opts.MaxEntries {
			c.logger.WithField("max_entries", c.opts.MaxEntries).Warn("Worktree scan truncated")
			update.Truncated = true
			break
		}
		if !entry.IsDir() {
			continue
		}
		update.Scanned++

		key := c.opts.Pattern.FindString(entry.Name())
		if key == "" || !scope.Matches(key) {
			continue
		}

		dir := filepath.Join(c.opts.Root, entry.Name())
		evidence := models.WorktreeEvidence{WorkKey: key, Path: dir}
		if indexPath, ok := gitIndexPath(dir); ok {
			evidence.IndexPath = indexPath
			if info, err := os.Stat(indexPath); err == nil {
				evidence.ModTime = info.ModTime()
				evidence.HasChanges = now.Sub(info.ModTime()) < c.opts.ChangeWindow
			} else {
				c.logger.WithField("path", indexPath).Debug("Worktree index unreadable")
			}
		}

		if prev, dup := found[key]; dup && prev.ModTime.After(evidence.ModTime) {
			continue
		}
		found[key] = evidence
	}

	return update, nil
}

// gitIndexPath locates the index of the repository at dir. A linked worktree
// has a .git file whose "gitdir:" line points at its private git directory;
// a regular checkout has a .git directory.
func gitIndexPath(dir string) (string, bool) {
	gitPath := filepath.Join(dir, ".git")
	info, err := os.Stat(gitPath)
	if err != nil {
		return "", false
	}
	if info.IsDir() {
		return filepath.Join(gitPath, "index"), true
	}

	f, err := os.Open(gitPath)
	if err != nil {
		return "", false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "gitdir:") {
			continue
		}
		gitDir := strings.TrimSpace(strings.TrimPrefix(line, "gitdir:"))
		if gitDir == "" {
			return "", false
		}
		if !filepath.IsAbs(gitDir) {
			gitDir = filepath.Join(dir, gitDir)
		}
		return filepath.Join(gitDir, "index"), true
	}
	return "", false
}
