package gitops

import (
	"fmt"
	"strings"

	"github.com/opensprint/opensprint/internal/errors"
)

// RebaseConflictError is returned by RebaseOntoMain when replaying a task
// branch onto main hits textual conflicts. It carries the conflicted file
// paths so the coordinator can hand them to the merger agent; every other
// rebase failure surfaces as a plain *errors.GitError.
//
// The workspace is left mid-rebase on purpose: the caller decides whether to
// abort or to resolve and continue.
type RebaseConflictError struct {
	Workspace string
	Files     []string
	Output    string // Captured git rebase output
}

// Error returns the formatted error message.
func (e *RebaseConflictError) Error() string {
	if len(e.Files) == 0 {
		return fmt.Sprintf("rebase conflict in %s", e.Workspace)
	}
	return fmt.Sprintf("rebase conflict in %s: %s", e.Workspace, strings.Join(e.Files, ", "))
}

// Is reports a match against the ErrMergeConflict sentinel so callers can use
// errors.Is without knowing the concrete type.
func (e *RebaseConflictError) Is(target error) bool {
	return target == errors.ErrMergeConflict
}

// isConflictOutput reports whether git output indicates a textual conflict.
func isConflictOutput(output string) bool {
	return strings.Contains(output, "CONFLICT") || strings.Contains(output, "could not apply")
}
