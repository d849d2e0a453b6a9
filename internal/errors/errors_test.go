package errors

import (
	"fmt"
	"strings"
	"testing"
)

func TestGitErrorFormatting(t *testing.T) {
	err := NewGitError("failed to rebase onto main", ErrMergeConflict).
		WithBranch("opensprint/os-abc1").
		WithWorkspace("/tmp/worktree").
		WithGitOutput("CONFLICT (content): merge conflict in main.go")

	msg := err.Error()
	for _, want := range []string{
		"git error",
		"branch=opensprint/os-abc1",
		"workspace=/tmp/worktree",
		"merge conflict",
		"git output:",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("error message missing %q: %s", want, msg)
		}
	}
}

func TestGitErrorIs(t *testing.T) {
	err := NewGitError("push failed", ErrPushRejected).WithRepository("/tmp/repo")

	if !Is(err, ErrPushRejected) {
		t.Error("expected Is(err, ErrPushRejected) to be true")
	}
	if Is(err, ErrBranchNotFound) {
		t.Error("expected Is(err, ErrBranchNotFound) to be false")
	}

	var gitErr *GitError
	if !As(err, &gitErr) {
		t.Fatal("expected As to extract *GitError")
	}
	if gitErr.Repository != "/tmp/repo" {
		t.Errorf("Repository = %q, want /tmp/repo", gitErr.Repository)
	}
}

func TestGitErrorWrapped(t *testing.T) {
	inner := NewGitError("push failed", ErrPushRejected)
	wrapped := fmt.Errorf("merge operation: %w", inner)

	if !Is(wrapped, ErrPushRejected) {
		t.Error("sentinel should survive wrapping")
	}
	var gitErr *GitError
	if !As(wrapped, &gitErr) {
		t.Error("type should survive wrapping")
	}
}

func TestCoordinatorErrorFormatting(t *testing.T) {
	err := NewCoordinatorError("merge enqueue failed", ErrQueueClosed).
		WithTaskID("os-abc1").
		WithAttempt(2).
		WithPhase("merging")

	msg := err.Error()
	for _, want := range []string{"task=os-abc1", "attempt=2", "phase=merging"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error message missing %q: %s", want, msg)
		}
	}
}

func TestCoordinatorErrorAttemptUnset(t *testing.T) {
	err := NewCoordinatorError("boom", nil).WithTaskID("t1")
	if strings.Contains(err.Error(), "attempt=") {
		t.Errorf("unset attempt should not be formatted: %s", err.Error())
	}
}

func TestNotFoundError(t *testing.T) {
	err := NewNotFoundError("task", "os-abc1")
	if got, want := err.Error(), "task 'os-abc1' not found"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	withCause := NewNotFoundError("task", "os-abc1").WithCause(ErrTaskNotFound)
	if !Is(withCause, ErrTaskNotFound) {
		t.Error("expected cause to match via Is")
	}
}

func TestValidationError(t *testing.T) {
	err := NewValidationError("git_working_mode", "must be worktree or branches")
	if !strings.Contains(err.Error(), "field=git_working_mode") {
		t.Errorf("missing field context: %s", err.Error())
	}
	if !Is(err, ErrInvalidInput) {
		t.Error("validation errors should match ErrInvalidInput")
	}
}

func TestIsRetryable(t *testing.T) {
	retryable := NewGitError("push rejected", ErrPushRejected).WithRetryable(true)
	if !IsRetryable(retryable) {
		t.Error("expected retryable error")
	}

	plain := NewGitError("corrupt ref", nil)
	if IsRetryable(plain) {
		t.Error("expected non-retryable by default")
	}

	if IsRetryable(New("bare error")) {
		t.Error("bare errors are never retryable")
	}
}

func TestSeverityOf(t *testing.T) {
	if got := SeverityOf(NewNotFoundError("task", "x")); got != SeverityWarning {
		t.Errorf("SeverityOf(NotFoundError) = %v, want warning", got)
	}
	if got := SeverityOf(New("bare")); got != SeverityError {
		t.Errorf("SeverityOf(bare) = %v, want error", got)
	}
}

func TestSeverityString(t *testing.T) {
	cases := map[Severity]string{
		SeverityDebug:    "debug",
		SeverityInfo:     "info",
		SeverityWarning:  "warning",
		SeverityError:    "error",
		SeverityCritical: "critical",
		Severity(99):     "unknown",
	}
	for sev, want := range cases {
		if got := sev.String(); got != want {
			t.Errorf("Severity(%d).String() = %q, want %q", sev, got, want)
		}
	}
}
