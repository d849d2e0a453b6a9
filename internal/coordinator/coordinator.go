package coordinator

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/opensprint/opensprint/internal/config"
	"github.com/opensprint/opensprint/internal/errors"
	"github.com/opensprint/opensprint/internal/gitops"
	"github.com/opensprint/opensprint/internal/logging"
)

// Coordinator integrates finished slots into main. Safe for concurrent use:
// many slots coordinate at once, and only the merge step is serialized
// through the queue.
type Coordinator struct {
	branches BranchManager
	queue    MergeQueue
	conflict ConflictRunner
	tasks    TaskStore
	sessions SessionArchiver
	scope    ScopeRecorder
	feedback FeedbackChecker
	settings SettingsProvider
	host     Host
	registry *Registry
	logger   *logging.Logger

	countersMu sync.Mutex
	counters   Counters
}

// Deps bundles the collaborators injected at construction. All fields are
// required except Logger.
type Deps struct {
	Branches BranchManager
	Queue    MergeQueue
	Conflict ConflictRunner
	Tasks    TaskStore
	Sessions SessionArchiver
	Scope    ScopeRecorder
	Feedback FeedbackChecker
	Settings SettingsProvider
	Host     Host
	Registry *Registry
	Logger   *logging.Logger
}

// New creates a Coordinator.
func New(deps Deps) (*Coordinator, error) {
	switch {
	case deps.Branches == nil:
		return nil, errors.NewValidationError("Branches", "branch manager is required")
	case deps.Queue == nil:
		return nil, errors.NewValidationError("Queue", "merge queue is required")
	case deps.Conflict == nil:
		return nil, errors.NewValidationError("Conflict", "conflict runner is required")
	case deps.Tasks == nil:
		return nil, errors.NewValidationError("Tasks", "task store is required")
	case deps.Sessions == nil:
		return nil, errors.NewValidationError("Sessions", "session archiver is required")
	case deps.Scope == nil:
		return nil, errors.NewValidationError("Scope", "scope recorder is required")
	case deps.Feedback == nil:
		return nil, errors.NewValidationError("Feedback", "feedback checker is required")
	case deps.Settings == nil:
		return nil, errors.NewValidationError("Settings", "settings provider is required")
	case deps.Host == nil:
		return nil, errors.NewValidationError("Host", "host is required")
	case deps.Registry == nil:
		return nil, errors.NewValidationError("Registry", "slot registry is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Coordinator{
		branches: deps.Branches,
		queue:    deps.Queue,
		conflict: deps.Conflict,
		tasks:    deps.Tasks,
		sessions: deps.Sessions,
		scope:    deps.Scope,
		feedback: deps.Feedback,
		settings: deps.Settings,
		host:     deps.Host,
		registry: deps.Registry,
		logger:   logger,
	}, nil
}

// Counters returns a snapshot of the derived orchestration counters.
func (c *Coordinator) Counters() Counters {
	c.countersMu.Lock()
	defer c.countersMu.Unlock()
	counters := c.counters
	counters.QueueDepth = c.queue.Len()
	return counters
}

// Coordinate drives one slot to a terminal disposition. It always returns a
// Result; the task ends up closed or reopened, never in between. Once a
// sequence starts it runs to a terminal state, so the ctx only bounds the
// individual blocking operations, not the sequence as a whole.
func (c *Coordinator) Coordinate(ctx context.Context, req Request) Result {
	slot := req.Slot
	log := c.logger.WithProject(req.ProjectID).WithTask(slot.TaskID)

	settings, err := c.settings.GetSettings(req.ProjectID)
	if err != nil {
		return c.fatal(req, log, errors.NewCoordinatorError("failed to resolve project settings", err).
			WithTaskID(slot.TaskID))
	}

	// Preparing: resolve the workspace, wait out other git processes, and
	// commit whatever the agent left uncommitted.
	c.host.Transition(slot.TaskID, PhasePreparing)
	workspace := slot.WorkspacePath
	if workspace == "" {
		workspace = req.RepoPath
	}
	log = log.WithPhase(string(PhasePreparing))
	log.Info("starting coordination", "workspace", workspace, "branch", slot.BranchName, "attempt", slot.Attempt)

	// Stale queued work from a previous cycle must not interleave with
	// this sequence.
	if err := c.queue.Drain(ctx); err != nil {
		return c.requeue(req, workspace, nil, log, errors.NewCoordinatorError("merge queue did not drain", err).
			WithTaskID(slot.TaskID).WithPhase(string(PhasePreparing)))
	}

	if err := c.branches.WaitForGitReady(ctx, workspace); err != nil {
		return c.requeue(req, workspace, nil, log, err)
	}
	if err := c.branches.CommitWip(workspace); err != nil {
		return c.requeue(req, workspace, nil, log, err)
	}

	// Sync main before rebasing. Integrating against a stale main can
	// silently drop work another slot merged while this agent ran.
	if err := c.branches.UpdateMainFromOrigin(req.RepoPath); err != nil {
		return c.requeue(req, workspace, nil, log, err)
	}

	// Rebasing: replay the slot's commits onto the fresh main.
	c.host.Transition(slot.TaskID, PhaseRebasing)
	log = log.WithPhase(string(PhaseRebasing))

	// The branch is named explicitly: in branch mode the workspace is the
	// main checkout, where a bare rebase of HEAD would silently do nothing.
	var conflictFiles []string
	if err := c.branches.RebaseOntoMain(workspace, slot.BranchName); err != nil {
		var conflict *gitops.RebaseConflictError
		if !errors.As(err, &conflict) {
			// Not a conflict: nothing an agent can fix. Restore the
			// workspace and requeue without touching the queue.
			c.abortRebase(workspace, log)
			return c.requeue(req, workspace, nil, log, err)
		}

		conflictFiles = conflict.Files
		c.host.Transition(slot.TaskID, PhaseConflictResolving)
		log = log.WithPhase(string(PhaseConflictResolving))
		log.Info("rebase conflict, invoking merger agent", "files", conflictFiles)

		resolved, runErr := c.conflict.RunMergerAgentAndWait(ctx, req.ProjectID, workspace)
		if runErr != nil || !resolved {
			c.abortRebase(workspace, log)
			cause := runErr
			if cause == nil {
				cause = errors.ErrConflictUnresolved
			}
			return c.requeue(req, workspace, conflictFiles, log,
				errors.NewCoordinatorError("merger agent could not resolve conflict", cause).
					WithTaskID(slot.TaskID).WithPhase(string(PhaseConflictResolving)))
		}
		if err := c.branches.RebaseContinue(workspace); err != nil {
			c.abortRebase(workspace, log)
			return c.requeue(req, workspace, conflictFiles, log, err)
		}
	}

	// The changed-file set must be read before the merge; afterwards the
	// branch no longer differs from main.
	changedFiles, err := c.branches.GetChangedFiles(workspace)
	if err != nil {
		log.Warn("failed to compute changed files", "error", err)
		changedFiles = nil
	}

	// Merging: the only step serialized across the whole orchestrator.
	c.host.Transition(slot.TaskID, PhaseMerging)
	log = log.WithPhase(string(PhaseMerging))

	mergeErr := c.queue.EnqueueAndWait(ctx, func(context.Context) error {
		if err := c.branches.MergeBranchIntoMain(req.RepoPath, slot.BranchName); err != nil {
			return err
		}
		return c.branches.PushMainToOrigin(req.RepoPath)
	})
	if mergeErr != nil {
		// The rebase succeeded, so the branch keeps its rebased commits
		// for the next attempt. Requeue rather than retry here: a push
		// rejection means main moved again, and the next attempt will
		// re-sync before rebasing.
		return c.requeue(req, workspace, conflictFiles, log, mergeErr)
	}

	return c.closeOut(req, settings, workspace, conflictFiles, changedFiles, log)
}

// closeOut runs the success-path side effects and workspace teardown.
func (c *Coordinator) closeOut(req Request, settings config.ProjectSettings, workspace string, conflictFiles, changedFiles []string, log *logging.Logger) Result {
	slot := req.Slot

	comment := "merged into main"
	if slot.PhaseResult.Summary != "" {
		comment = "merged into main: " + slot.PhaseResult.Summary
	}
	if err := c.tasks.Close(req.ProjectID, slot.TaskID, comment); err != nil {
		// The merge already happened; a store failure must not undo it.
		log.Error("merged but failed to close task", "error", err)
	}

	session := c.sessions.CreateSession(req.ProjectID, slot.TaskID, slot.Attempt, slot.AgentMeta.StartedAt)
	if err := c.sessions.ArchiveSession(session, slot.AgentMeta.OutputLines); err != nil {
		log.Warn("failed to archive session", "error", err)
	}
	if err := c.scope.RecordActual(req.ProjectID, slot.TaskID, changedFiles); err != nil {
		log.Warn("failed to record file scope", "error", err)
	}
	if resolved, err := c.feedback.CheckAutoResolveOnTaskDone(req.ProjectID, slot.TaskID); err != nil {
		log.Warn("feedback auto-resolve check failed", "error", err)
	} else if resolved > 0 {
		log.Info("auto-resolved feedback items", "count", resolved)
	}

	// Branch mode has no dedicated worktree; every other mode, including
	// an absent setting, tears the workspace down.
	if settings.WorkingMode() != config.ModeBranches {
		if err := c.branches.RemoveTaskWorktree(req.RepoPath, slot.TaskID); err != nil {
			log.Warn("failed to remove task worktree", "error", err)
		}
	}
	if err := c.branches.DeleteBranch(req.RepoPath, slot.BranchName); err != nil {
		log.Warn("failed to delete merged branch", "error", err)
	}

	log.Info("task merged and closed")
	c.finish(slot.TaskID, PhaseClosed)
	return Result{
		Disposition:   DispositionClosed,
		WorkspacePath: workspace,
		ConflictFiles: conflictFiles,
	}
}

// requeue reopens the task for a future attempt. The workspace and branch
// are left in place for reuse; only a successful merge tears them down.
func (c *Coordinator) requeue(req Request, workspace string, conflictFiles []string, log *logging.Logger, cause error) Result {
	slot := req.Slot
	log.Warn("requeuing task", "error", cause)

	comment := fmt.Sprintf("attempt %d requeued: %v", slot.Attempt, cause)
	if len(conflictFiles) > 0 {
		comment += " (conflicts: " + strings.Join(conflictFiles, ", ") + ")"
	}
	if err := c.tasks.Reopen(req.ProjectID, slot.TaskID, comment); err != nil {
		return c.fatal(req, log, errors.NewCoordinatorError("failed to reopen task after requeue", errors.Join(cause, err)).
			WithTaskID(slot.TaskID).WithAttempt(slot.Attempt))
	}
	if _, err := c.tasks.IncrementAttempts(req.ProjectID, slot.TaskID); err != nil {
		log.Warn("failed to bump attempt count", "error", err)
	}

	c.finish(slot.TaskID, PhaseRequeued)
	return Result{
		Disposition:   DispositionRequeued,
		WorkspacePath: workspace,
		ConflictFiles: conflictFiles,
		Err:           cause,
	}
}

// fatal is reserved for failures that prevent even recording a requeue. The
// slot is still released so the orchestrator does not wedge.
func (c *Coordinator) fatal(req Request, log *logging.Logger, cause error) Result {
	log.Error("coordination failed fatally", "error", cause)
	c.finish(req.Slot.TaskID, PhaseFatal)
	return Result{
		Disposition: DispositionFatal,
		Err:         cause,
	}
}

// finish releases the slot, persists counters, and nudges the scheduler.
// Every terminal path funnels through here.
func (c *Coordinator) finish(taskID string, phase Phase) {
	c.registry.Remove(taskID)

	c.countersMu.Lock()
	switch phase {
	case PhaseClosed:
		c.counters.Done++
	case PhaseRequeued:
		c.counters.Requeued++
	}
	c.counters.QueueDepth = c.queue.Len()
	counters := c.counters
	c.countersMu.Unlock()

	c.host.Transition(taskID, phase)
	if err := c.host.PersistCounters(counters); err != nil {
		c.logger.Warn("failed to persist counters", "error", err)
	}
	c.host.Nudge()
}

// abortRebase restores a workspace to its pre-rebase state. Failure to
// abort is logged, not propagated: the requeue must still happen.
func (c *Coordinator) abortRebase(workspace string, log *logging.Logger) {
	if err := c.branches.RebaseAbort(workspace); err != nil {
		log.Error("failed to abort rebase", "error", err)
	}
}
