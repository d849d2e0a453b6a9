package gitops

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/opensprint/opensprint/internal/errors"
)

// Lock files whose presence means another git process is mid-operation in
// the workspace.
var gitLockFiles = []string{"index.lock", "HEAD.lock", "shallow.lock"}

// readyPollInterval is the fallback poll cadence while waiting on lock files.
// Some platforms drop fsnotify events for fast create/delete pairs.
const readyPollInterval = 250 * time.Millisecond

// WaitForGitReady blocks until no git lock file is present in the workspace,
// so a following commit or rebase does not race another git process. It
// returns immediately on a quiet workspace, and watches the git directory
// with fsnotify otherwise. Cancellation via ctx returns an error matching
// errors.ErrWorkspaceNotReady.
func (m *Manager) WaitForGitReady(ctx context.Context, path string) error {
	gitDir, err := m.gitDir(path)
	if err != nil {
		return err
	}

	if !anyLockPresent(gitDir) {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.NewGitError("failed to create watcher", err).WithWorkspace(path)
	}
	defer watcher.Close()

	if err := watcher.Add(gitDir); err != nil {
		return errors.NewGitError("failed to watch git directory", err).
			WithWorkspace(path)
	}

	// Re-check after arming the watcher: the lock may have vanished between
	// the first check and watcher.Add.
	if !anyLockPresent(gitDir) {
		return nil
	}

	ticker := time.NewTicker(readyPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return errors.NewGitError("gave up waiting for workspace", errors.ErrWorkspaceNotReady).
				WithWorkspace(path)
		case event := <-watcher.Events:
			if event.Op&(fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if !anyLockPresent(gitDir) {
				return nil
			}
		case <-ticker.C:
			if !anyLockPresent(gitDir) {
				return nil
			}
		case err := <-watcher.Errors:
			if err != nil && !anyLockPresent(gitDir) {
				return nil
			}
		}
	}
}

// gitDir resolves the workspace's git directory. Worktrees keep a .git file
// pointing at the shared repository, so rev-parse does the resolution.
func (m *Manager) gitDir(path string) (string, error) {
	output, err := m.executor.Run(path, "git", "rev-parse", "--git-dir")
	if err != nil {
		return "", errors.NewGitError("failed to resolve git directory", errors.ErrNotGitRepository).
			WithWorkspace(path).
			WithGitOutput(string(output))
	}
	dir := strings.TrimSpace(string(output))
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(path, dir)
	}
	return dir, nil
}

// anyLockPresent reports whether any known git lock file exists in gitDir.
func anyLockPresent(gitDir string) bool {
	for _, name := range gitLockFiles {
		if _, err := os.Stat(filepath.Join(gitDir, name)); err == nil {
			return true
		}
	}
	return false
}
