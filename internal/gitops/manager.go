package gitops

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/opensprint/opensprint/internal/errors"
)

// Manager implements the branch and workspace operations the merge
// coordinator depends on, using git CLI commands. Methods take explicit
// repository or workspace paths; in worktree mode a task's workspace is a
// dedicated worktree, in branch mode it is the main checkout itself.
type Manager struct {
	executor     CommandExecutor
	branchPrefix string
	worktreeDir  string // base dir for task worktrees; empty = <repo>/.opensprint/worktrees
}

// Option configures a Manager.
type Option func(*Manager)

// WithExecutor sets a custom command executor. This is primarily useful
// for testing.
func WithExecutor(executor CommandExecutor) Option {
	return func(m *Manager) {
		m.executor = executor
	}
}

// WithBranchPrefix sets the task branch prefix (default: "opensprint").
func WithBranchPrefix(prefix string) Option {
	return func(m *Manager) {
		m.branchPrefix = prefix
	}
}

// WithWorktreeDir sets the base directory for task worktrees.
func WithWorktreeDir(dir string) Option {
	return func(m *Manager) {
		m.worktreeDir = dir
	}
}

// NewManager creates a Manager with the CLI executor.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		executor:     NewCLICommandExecutor(),
		branchPrefix: "opensprint",
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// BranchForTask returns the deterministic branch name for a task.
func (m *Manager) BranchForTask(taskID string) string {
	return m.branchPrefix + "/" + taskID
}

// WorktreePathForTask returns the path of a task's dedicated worktree.
func (m *Manager) WorktreePathForTask(repoPath, taskID string) string {
	if m.worktreeDir != "" {
		return filepath.Join(m.worktreeDir, taskID)
	}
	return filepath.Join(repoPath, ".opensprint", "worktrees", taskID)
}

// FindMainBranch returns the name of the main branch (main or master).
func (m *Manager) FindMainBranch(repoPath string) string {
	err := m.executor.RunQuiet(repoPath, "git", "rev-parse", "--verify", "main")
	if err == nil {
		return "main"
	}
	return "master"
}

// CommitWip stages and commits all outstanding changes in the workspace so
// the integration step sees a fully-committed tree.
// Returns nil if there is nothing to commit.
func (m *Manager) CommitWip(path string) error {
	output, err := m.executor.Run(path, "git", "add", "-A")
	if err != nil {
		return errors.NewGitError("failed to stage changes", err).
			WithWorkspace(path).
			WithGitOutput(string(output))
	}

	output, err = m.executor.Run(path, "git", "commit", "-m", "wip: checkpoint before merge")
	if err != nil {
		if strings.Contains(string(output), "nothing to commit") {
			return nil
		}
		return errors.NewGitError("failed to commit work in progress", err).
			WithWorkspace(path).
			WithGitOutput(string(output))
	}

	return nil
}

// HasUncommittedChanges returns true if the workspace has uncommitted changes.
func (m *Manager) HasUncommittedChanges(path string) (bool, error) {
	output, err := m.executor.Run(path, "git", "status", "--porcelain")
	if err != nil {
		return false, errors.NewGitError("failed to check git status", err).
			WithWorkspace(path).
			WithGitOutput(string(output))
	}
	return len(strings.TrimSpace(string(output))) > 0, nil
}

// UpdateMainFromOrigin brings the local main branch up to date with the
// remote before integration. Fast-forward only: local main is never rewritten.
func (m *Manager) UpdateMainFromOrigin(repoPath string) error {
	mainBranch := m.FindMainBranch(repoPath)

	output, err := m.executor.Run(repoPath, "git", "fetch", "origin", mainBranch)
	if err != nil {
		return errors.NewGitError("failed to fetch origin/"+mainBranch, err).
			WithRepository(repoPath).
			WithBranch(mainBranch).
			WithGitOutput(string(output)).
			WithRetryable(true)
	}

	output, err = m.executor.Run(repoPath, "git", "checkout", mainBranch)
	if err != nil {
		return errors.NewGitError("failed to checkout "+mainBranch, err).
			WithRepository(repoPath).
			WithBranch(mainBranch).
			WithGitOutput(string(output))
	}

	output, err = m.executor.Run(repoPath, "git", "merge", "--ff-only", "origin/"+mainBranch)
	if err != nil {
		return errors.NewGitError("failed to fast-forward "+mainBranch, err).
			WithRepository(repoPath).
			WithBranch(mainBranch).
			WithGitOutput(string(output))
	}

	return nil
}

// RebaseOntoMain replays the task branch's commits onto the local main
// branch. The branch is named explicitly so the rebase targets it no matter
// what the workspace has checked out: in branch mode the workspace is the
// main checkout itself, where a bare `git rebase main` would be a no-op
// against main. On textual conflicts it returns a *RebaseConflictError
// carrying the conflicted file list and leaves the rebase in progress for
// the caller to resolve or abort. All other failures abort nothing and
// surface as GitError.
func (m *Manager) RebaseOntoMain(workspacePath, branch string) error {
	mainBranch := m.FindMainBranch(workspacePath)

	output, err := m.executor.Run(workspacePath, "git", "rebase", mainBranch, branch)
	if err != nil {
		outputStr := string(output)
		if isConflictOutput(outputStr) {
			files, filesErr := m.conflictingFiles(workspacePath)
			if filesErr != nil {
				files = nil
			}
			return &RebaseConflictError{
				Workspace: workspacePath,
				Files:     files,
				Output:    outputStr,
			}
		}
		return errors.NewGitError("failed to rebase "+branch+" onto "+mainBranch, err).
			WithWorkspace(workspacePath).
			WithBranch(branch).
			WithGitOutput(outputStr)
	}

	return nil
}

// RebaseAbort aborts an in-progress rebase, restoring the workspace to its
// pre-rebase state.
func (m *Manager) RebaseAbort(path string) error {
	output, err := m.executor.Run(path, "git", "rebase", "--abort")
	if err != nil {
		return errors.NewGitError("failed to abort rebase", err).
			WithWorkspace(path).
			WithGitOutput(string(output))
	}
	return nil
}

// RebaseContinue continues a rebase after conflict resolution.
// Staged resolutions are committed with the original commit message.
func (m *Manager) RebaseContinue(path string) error {
	output, err := m.executor.Run(path, "git", "-c", "core.editor=true", "rebase", "--continue")
	if err != nil {
		return errors.NewGitError("failed to continue rebase", err).
			WithWorkspace(path).
			WithGitOutput(string(output))
	}
	return nil
}

// IsRebaseInProgress returns true if a rebase is in progress in the workspace.
func (m *Manager) IsRebaseInProgress(path string) bool {
	return m.gitPathExists(path, "rebase-merge") || m.gitPathExists(path, "rebase-apply")
}

// IsMergeInProgress returns true if a merge is in progress in the workspace.
func (m *Manager) IsMergeInProgress(path string) bool {
	return m.gitPathExists(path, "MERGE_HEAD")
}

// MergeAbort aborts an in-progress merge.
func (m *Manager) MergeAbort(path string) error {
	output, err := m.executor.Run(path, "git", "merge", "--abort")
	if err != nil {
		return errors.NewGitError("failed to abort merge", err).
			WithWorkspace(path).
			WithGitOutput(string(output))
	}
	return nil
}

// MergeContinue continues a merge after conflict resolution.
func (m *Manager) MergeContinue(path string) error {
	output, err := m.executor.Run(path, "git", "-c", "core.editor=true", "merge", "--continue")
	if err != nil {
		return errors.NewGitError("failed to continue merge", err).
			WithWorkspace(path).
			WithGitOutput(string(output))
	}
	return nil
}

// MergeBranchIntoMain fast-forwards main to the tip of the given branch.
// The branch must have been rebased onto main first, so the merge is always
// a fast-forward; anything else indicates main moved underneath us.
func (m *Manager) MergeBranchIntoMain(repoPath, branch string) error {
	mainBranch := m.FindMainBranch(repoPath)

	output, err := m.executor.Run(repoPath, "git", "checkout", mainBranch)
	if err != nil {
		return errors.NewGitError("failed to checkout "+mainBranch, err).
			WithRepository(repoPath).
			WithBranch(mainBranch).
			WithGitOutput(string(output))
	}

	output, err = m.executor.Run(repoPath, "git", "merge", "--ff-only", branch)
	if err != nil {
		return errors.NewGitError("failed to fast-forward "+mainBranch+" to "+branch, err).
			WithRepository(repoPath).
			WithBranch(branch).
			WithGitOutput(string(output)).
			WithRetryable(true)
	}

	return nil
}

// PushMainToOrigin pushes the local main branch to the remote.
// A rejected push (another writer won the race) is classified retryable and
// matches errors.ErrPushRejected.
func (m *Manager) PushMainToOrigin(repoPath string) error {
	mainBranch := m.FindMainBranch(repoPath)

	output, err := m.executor.Run(repoPath, "git", "push", "origin", mainBranch)
	if err != nil {
		outputStr := string(output)
		if strings.Contains(outputStr, "rejected") || strings.Contains(outputStr, "non-fast-forward") {
			return errors.NewGitError("push of "+mainBranch+" rejected", errors.ErrPushRejected).
				WithRepository(repoPath).
				WithBranch(mainBranch).
				WithGitOutput(outputStr).
				WithRetryable(true)
		}
		return errors.NewGitError("failed to push "+mainBranch, err).
			WithRepository(repoPath).
			WithBranch(mainBranch).
			WithGitOutput(outputStr)
	}

	return nil
}

// GetChangedFiles returns the file paths the workspace changed compared to
// main, using three-dot syntax to show changes since divergence.
func (m *Manager) GetChangedFiles(path string) ([]string, error) {
	mainBranch := m.FindMainBranch(path)

	output, err := m.executor.Run(path, "git", "diff", "--name-only", mainBranch+"...HEAD")
	if err != nil {
		return nil, errors.NewGitError("failed to get changed files", err).
			WithWorkspace(path).
			WithBranch(mainBranch).
			WithGitOutput(string(output))
	}

	files := strings.Split(strings.TrimSpace(string(output)), "\n")
	if len(files) == 1 && files[0] == "" {
		return []string{}, nil
	}

	return files, nil
}

// AddTaskWorktree creates a dedicated worktree and branch for a task.
func (m *Manager) AddTaskWorktree(repoPath, taskID string) (string, error) {
	path := m.WorktreePathForTask(repoPath, taskID)
	branch := m.BranchForTask(taskID)

	output, err := m.executor.Run(repoPath, "git", "worktree", "add", "-b", branch, path)
	if err != nil {
		return "", errors.NewGitError("failed to create worktree", err).
			WithRepository(repoPath).
			WithWorkspace(path).
			WithBranch(branch).
			WithGitOutput(string(output))
	}
	return path, nil
}

// RemoveTaskWorktree removes a task's dedicated worktree.
func (m *Manager) RemoveTaskWorktree(repoPath, taskID string) error {
	path := m.WorktreePathForTask(repoPath, taskID)

	output, err := m.executor.Run(repoPath, "git", "worktree", "remove", "--force", path)
	if err != nil {
		// Try to clean up manually, then prune stale references.
		_ = os.RemoveAll(path)
		_, _ = m.executor.Run(repoPath, "git", "worktree", "prune")

		return errors.NewGitError("failed to remove worktree cleanly", err).
			WithRepository(repoPath).
			WithWorkspace(path).
			WithGitOutput(string(output))
	}
	return nil
}

// DeleteBranch deletes a branch by name (force delete).
func (m *Manager) DeleteBranch(repoPath, branch string) error {
	output, err := m.executor.Run(repoPath, "git", "branch", "-D", branch)
	if err != nil {
		if strings.Contains(string(output), "not found") {
			return errors.NewGitError("branch not found", errors.ErrBranchNotFound).
				WithRepository(repoPath).
				WithBranch(branch).
				WithGitOutput(string(output))
		}
		return errors.NewGitError("failed to delete branch", err).
			WithRepository(repoPath).
			WithBranch(branch).
			WithGitOutput(string(output))
	}
	return nil
}

// conflictingFiles returns files with unresolved conflicts in a workspace.
func (m *Manager) conflictingFiles(path string) ([]string, error) {
	output, err := m.executor.Run(path, "git", "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, errors.NewGitError("failed to get conflicting files", err).
			WithWorkspace(path).
			WithGitOutput(string(output))
	}

	lines := strings.TrimSpace(string(output))
	if lines == "" {
		return []string{}, nil
	}

	return strings.Split(lines, "\n"), nil
}

// ConflictingFiles returns files with unresolved conflicts in a workspace.
func (m *Manager) ConflictingFiles(path string) ([]string, error) {
	return m.conflictingFiles(path)
}

// gitPathExists checks whether a path exists inside the workspace's git dir.
// Worktrees have a .git file pointing at the real git dir, so the path is
// resolved through rev-parse rather than joined naively.
func (m *Manager) gitPathExists(workspace, name string) bool {
	output, err := m.executor.Run(workspace, "git", "rev-parse", "--git-path", name)
	if err != nil {
		return false
	}
	resolved := strings.TrimSpace(string(output))
	if resolved == "" {
		return false
	}
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(workspace, resolved)
	}
	_, statErr := os.Stat(resolved)
	return statErr == nil
}

// String implements fmt.Stringer for debug logging.
func (m *Manager) String() string {
	return fmt.Sprintf("gitops.Manager(prefix=%s)", m.branchPrefix)
}
