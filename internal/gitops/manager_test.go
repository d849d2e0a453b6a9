package gitops

import (
	"strings"
	"sync"
	"testing"

	"github.com/opensprint/opensprint/internal/errors"
)

// fakeExecutor scripts git command output for tests and records every
// invocation in order.
type fakeExecutor struct {
	mu    sync.Mutex
	calls []string
	// handle receives the joined command line (without "git") and the dir.
	handle func(dir, cmdline string) ([]byte, error)
}

func newFakeExecutor(handle func(dir, cmdline string) ([]byte, error)) *fakeExecutor {
	if handle == nil {
		handle = func(string, string) ([]byte, error) { return nil, nil }
	}
	return &fakeExecutor{handle: handle}
}

func (f *fakeExecutor) Run(dir string, name string, args ...string) ([]byte, error) {
	cmdline := name + " " + strings.Join(args, " ")
	f.mu.Lock()
	f.calls = append(f.calls, cmdline)
	f.mu.Unlock()
	return f.handle(dir, cmdline)
}

func (f *fakeExecutor) RunQuiet(dir string, name string, args ...string) error {
	_, err := f.Run(dir, name, args...)
	return err
}

func (f *fakeExecutor) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeExecutor) calledWith(substr string) bool {
	for _, call := range f.callLog() {
		if strings.Contains(call, substr) {
			return true
		}
	}
	return false
}

func TestBranchForTask(t *testing.T) {
	m := NewManager()
	if got := m.BranchForTask("os-abc1"); got != "opensprint/os-abc1" {
		t.Errorf("BranchForTask = %q, want opensprint/os-abc1", got)
	}

	custom := NewManager(WithBranchPrefix("agent"))
	if got := custom.BranchForTask("os-abc1"); got != "agent/os-abc1" {
		t.Errorf("BranchForTask with prefix = %q, want agent/os-abc1", got)
	}
}

func TestWorktreePathForTask(t *testing.T) {
	m := NewManager()
	if got := m.WorktreePathForTask("/tmp/repo", "os-abc1"); got != "/tmp/repo/.opensprint/worktrees/os-abc1" {
		t.Errorf("WorktreePathForTask = %q", got)
	}

	custom := NewManager(WithWorktreeDir("/var/worktrees"))
	if got := custom.WorktreePathForTask("/tmp/repo", "os-abc1"); got != "/var/worktrees/os-abc1" {
		t.Errorf("WorktreePathForTask with dir = %q", got)
	}
}

func TestCommitWipNothingToCommit(t *testing.T) {
	exec := newFakeExecutor(func(_, cmdline string) ([]byte, error) {
		if strings.HasPrefix(cmdline, "git commit") {
			return []byte("nothing to commit, working tree clean"), errors.New("exit status 1")
		}
		return nil, nil
	})
	m := NewManager(WithExecutor(exec))

	if err := m.CommitWip("/tmp/worktree"); err != nil {
		t.Errorf("CommitWip should tolerate nothing to commit: %v", err)
	}
	if !exec.calledWith("git add -A") {
		t.Error("expected all changes to be staged")
	}
}

func TestCommitWipFailure(t *testing.T) {
	exec := newFakeExecutor(func(_, cmdline string) ([]byte, error) {
		if strings.HasPrefix(cmdline, "git commit") {
			return []byte("fatal: unable to write index"), errors.New("exit status 128")
		}
		return nil, nil
	})
	m := NewManager(WithExecutor(exec))

	err := m.CommitWip("/tmp/worktree")
	var gitErr *errors.GitError
	if !errors.As(err, &gitErr) {
		t.Fatalf("expected *GitError, got %v", err)
	}
	if gitErr.Workspace != "/tmp/worktree" {
		t.Errorf("Workspace = %q", gitErr.Workspace)
	}
}

func TestUpdateMainFromOriginSequence(t *testing.T) {
	exec := newFakeExecutor(nil)
	m := NewManager(WithExecutor(exec))

	if err := m.UpdateMainFromOrigin("/tmp/repo"); err != nil {
		t.Fatalf("UpdateMainFromOrigin: %v", err)
	}

	calls := exec.callLog()
	var sequence []string
	for _, call := range calls {
		switch {
		case strings.HasPrefix(call, "git fetch origin"):
			sequence = append(sequence, "fetch")
		case strings.HasPrefix(call, "git checkout"):
			sequence = append(sequence, "checkout")
		case strings.HasPrefix(call, "git merge --ff-only"):
			sequence = append(sequence, "ff")
		}
	}
	want := []string{"fetch", "checkout", "ff"}
	if len(sequence) != len(want) {
		t.Fatalf("sequence = %v, want %v (calls: %v)", sequence, want, calls)
	}
	for i := range want {
		if sequence[i] != want[i] {
			t.Errorf("sequence[%d] = %s, want %s", i, sequence[i], want[i])
		}
	}
}

func TestRebaseOntoMainConflict(t *testing.T) {
	exec := newFakeExecutor(func(_, cmdline string) ([]byte, error) {
		switch {
		case strings.HasPrefix(cmdline, "git rebase"):
			return []byte("CONFLICT (content): Merge conflict in cmd/main.go"), errors.New("exit status 1")
		case strings.Contains(cmdline, "--diff-filter=U"):
			return []byte("cmd/main.go\ninternal/server.go\n"), nil
		}
		return nil, nil
	})
	m := NewManager(WithExecutor(exec))

	err := m.RebaseOntoMain("/tmp/worktree", "opensprint/os-1")

	var conflict *RebaseConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected *RebaseConflictError, got %v", err)
	}
	if len(conflict.Files) != 2 || conflict.Files[0] != "cmd/main.go" {
		t.Errorf("Files = %v", conflict.Files)
	}
	if !errors.Is(err, errors.ErrMergeConflict) {
		t.Error("conflict should match ErrMergeConflict sentinel")
	}
	if exec.calledWith("rebase --abort") {
		t.Error("RebaseOntoMain must not abort; the caller decides")
	}
}

func TestRebaseOntoMainGenericFailure(t *testing.T) {
	exec := newFakeExecutor(func(_, cmdline string) ([]byte, error) {
		if strings.HasPrefix(cmdline, "git rebase") {
			return []byte("fatal: unable to access remote"), errors.New("exit status 128")
		}
		return nil, nil
	})
	m := NewManager(WithExecutor(exec))

	err := m.RebaseOntoMain("/tmp/worktree", "opensprint/os-1")

	var conflict *RebaseConflictError
	if errors.As(err, &conflict) {
		t.Fatal("generic failures must not be classified as conflicts")
	}
	var gitErr *errors.GitError
	if !errors.As(err, &gitErr) {
		t.Fatalf("expected *GitError, got %v", err)
	}
}

func TestRebaseOntoMainTargetsNamedBranch(t *testing.T) {
	exec := newFakeExecutor(nil)
	m := NewManager(WithExecutor(exec))

	if err := m.RebaseOntoMain("/tmp/repo", "opensprint/os-1"); err != nil {
		t.Fatalf("RebaseOntoMain: %v", err)
	}
	// A bare `git rebase main` rebases whatever is checked out, which in
	// branch mode is main itself. The branch must be named.
	if !exec.calledWith("git rebase main opensprint/os-1") {
		t.Errorf("rebase did not name the branch: %v", exec.callLog())
	}
}

func TestPushMainToOriginRejected(t *testing.T) {
	exec := newFakeExecutor(func(_, cmdline string) ([]byte, error) {
		if strings.HasPrefix(cmdline, "git push") {
			return []byte("! [rejected] main -> main (non-fast-forward)"), errors.New("exit status 1")
		}
		return nil, nil
	})
	m := NewManager(WithExecutor(exec))

	err := m.PushMainToOrigin("/tmp/repo")
	if !errors.Is(err, errors.ErrPushRejected) {
		t.Errorf("expected ErrPushRejected, got %v", err)
	}
	if !errors.IsRetryable(err) {
		t.Error("rejected pushes are retryable")
	}
}

func TestGetChangedFiles(t *testing.T) {
	exec := newFakeExecutor(func(_, cmdline string) ([]byte, error) {
		if strings.Contains(cmdline, "diff --name-only") {
			return []byte("a.go\nb/c.go\n"), nil
		}
		return nil, nil
	})
	m := NewManager(WithExecutor(exec))

	files, err := m.GetChangedFiles("/tmp/worktree")
	if err != nil {
		t.Fatalf("GetChangedFiles: %v", err)
	}
	if len(files) != 2 || files[1] != "b/c.go" {
		t.Errorf("files = %v", files)
	}
}

func TestGetChangedFilesEmpty(t *testing.T) {
	exec := newFakeExecutor(nil)
	m := NewManager(WithExecutor(exec))

	files, err := m.GetChangedFiles("/tmp/worktree")
	if err != nil {
		t.Fatalf("GetChangedFiles: %v", err)
	}
	if len(files) != 0 {
		t.Errorf("files = %v, want empty", files)
	}
}

func TestDeleteBranchNotFound(t *testing.T) {
	exec := newFakeExecutor(func(_, cmdline string) ([]byte, error) {
		if strings.HasPrefix(cmdline, "git branch -D") {
			return []byte("error: branch 'opensprint/os-abc1' not found"), errors.New("exit status 1")
		}
		return nil, nil
	})
	m := NewManager(WithExecutor(exec))

	err := m.DeleteBranch("/tmp/repo", "opensprint/os-abc1")
	if !errors.Is(err, errors.ErrBranchNotFound) {
		t.Errorf("expected ErrBranchNotFound, got %v", err)
	}
}

func TestRemoveTaskWorktree(t *testing.T) {
	exec := newFakeExecutor(nil)
	m := NewManager(WithExecutor(exec), WithWorktreeDir("/var/worktrees"))

	if err := m.RemoveTaskWorktree("/tmp/repo", "os-abc1"); err != nil {
		t.Fatalf("RemoveTaskWorktree: %v", err)
	}
	if !exec.calledWith("git worktree remove --force /var/worktrees/os-abc1") {
		t.Errorf("unexpected calls: %v", exec.callLog())
	}
}

func TestMergeBranchIntoMainIsFastForwardOnly(t *testing.T) {
	exec := newFakeExecutor(nil)
	m := NewManager(WithExecutor(exec))

	if err := m.MergeBranchIntoMain("/tmp/repo", "opensprint/os-abc1"); err != nil {
		t.Fatalf("MergeBranchIntoMain: %v", err)
	}
	if !exec.calledWith("git merge --ff-only opensprint/os-abc1") {
		t.Errorf("expected ff-only merge, calls: %v", exec.callLog())
	}
}

func TestRebaseConflictErrorMessage(t *testing.T) {
	err := &RebaseConflictError{Workspace: "/tmp/wt", Files: []string{"a.go", "b.go"}}
	if got := err.Error(); !strings.Contains(got, "a.go, b.go") {
		t.Errorf("Error() = %q", got)
	}

	empty := &RebaseConflictError{Workspace: "/tmp/wt"}
	if got := empty.Error(); !strings.Contains(got, "/tmp/wt") {
		t.Errorf("Error() = %q", got)
	}
}
