package coordinator

import (
	"context"
	"time"

	"github.com/opensprint/opensprint/internal/config"
	"github.com/opensprint/opensprint/internal/sessions"
)

// The coordinator depends on its collaborators through narrow interfaces,
// one per concern, injected at construction. Production wiring satisfies
// them with gitops.Manager, mergequeue.Queue and the store packages.

// BranchManager is the subset of git operations coordination needs.
type BranchManager interface {
	WaitForGitReady(ctx context.Context, path string) error
	CommitWip(path string) error
	UpdateMainFromOrigin(repoPath string) error
	RebaseOntoMain(workspacePath, branch string) error
	RebaseAbort(path string) error
	RebaseContinue(path string) error
	MergeBranchIntoMain(repoPath, branch string) error
	PushMainToOrigin(repoPath string) error
	GetChangedFiles(path string) ([]string, error)
	RemoveTaskWorktree(repoPath, taskID string) error
	DeleteBranch(repoPath, branch string) error
}

// MergeQueue serializes main-branch mutations across the orchestrator.
type MergeQueue interface {
	EnqueueAndWait(ctx context.Context, op func(context.Context) error) error
	Drain(ctx context.Context) error
	Len() int
}

// ConflictRunner resolves rebase conflicts with a secondary agent.
type ConflictRunner interface {
	RunMergerAgentAndWait(ctx context.Context, projectID, workspacePath string) (bool, error)
}

// TaskStore is the subset of task persistence coordination needs. Only
// Close and Reopen transition status; everything else is bookkeeping.
type TaskStore interface {
	Close(projectID, taskID, comment string) error
	Reopen(projectID, taskID, comment string) error
	Comment(projectID, taskID, text string) error
	IncrementAttempts(projectID, taskID string) (int, error)
}

// SessionArchiver records the agent session on the success path.
type SessionArchiver interface {
	CreateSession(projectID, taskID string, attempt int, startedAt time.Time) sessions.Session
	ArchiveSession(session sessions.Session, lines []string) error
}

// ScopeRecorder records which files a merged task actually touched.
type ScopeRecorder interface {
	RecordActual(projectID, taskID string, files []string) error
}

// FeedbackChecker auto-resolves feedback items linked to a merged task.
type FeedbackChecker interface {
	CheckAutoResolveOnTaskDone(projectID, taskID string) (int, error)
}

// SettingsProvider resolves per-project settings once per coordination.
type SettingsProvider = config.SettingsProvider

// Host receives slot transitions and owns counter persistence and the
// scheduler nudge.
type Host interface {
	Transition(taskID string, phase Phase)
	PersistCounters(counters Counters) error
	Nudge()
}
