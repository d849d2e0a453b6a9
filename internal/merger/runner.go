// Package merger runs the secondary conflict-resolution agent inside a
// conflicted workspace. The agent is expected to resolve every conflicted
// path and stage the result, leaving the rebase ready to continue.
package merger

import (
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/opensprint/opensprint/internal/errors"
	"github.com/opensprint/opensprint/internal/gitops"
	"github.com/opensprint/opensprint/internal/logging"
)

// Runner runs a conflict-resolution agent to completion.
//
// The boolean result reports whether the agent resolved every conflict. A
// false result with a nil error means the agent ran but left conflicts
// behind; the caller decides what happens to the task.
type Runner interface {
	RunMergerAgentAndWait(ctx context.Context, projectID, workspacePath string) (bool, error)
}

// CLIRunner executes the configured merger agent command in the workspace.
type CLIRunner struct {
	command  string
	args     []string
	timeout  time.Duration
	executor gitops.CommandExecutor
	logger   *logging.Logger
}

// Compile-time check that CLIRunner implements Runner.
var _ Runner = (*CLIRunner)(nil)

// Options configures a CLIRunner.
type Options struct {
	// Command is the agent executable. Required.
	Command string
	// Args are passed to the agent after the command.
	Args []string
	// Timeout bounds a single resolution attempt. Zero means no timeout.
	Timeout time.Duration
	// Executor runs the post-agent conflict check. Defaults to the CLI
	// executor.
	Executor gitops.CommandExecutor
	// Logger defaults to a no-op logger.
	Logger *logging.Logger
}

// NewCLIRunner creates a CLIRunner.
func NewCLIRunner(opts Options) (*CLIRunner, error) {
	if opts.Command == "" {
		return nil, errors.NewValidationError("command", "merger agent command must not be empty")
	}
	executor := opts.Executor
	if executor == nil {
		executor = gitops.NewCLICommandExecutor()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &CLIRunner{
		command:  opts.Command,
		args:     opts.Args,
		timeout:  opts.Timeout,
		executor: executor,
		logger:   logger,
	}, nil
}

// RunMergerAgentAndWait runs the agent inside the workspace and waits for it
// to exit. Success requires both a zero exit status and an empty set of
// unresolved paths; an agent that exits cleanly but leaves conflicts has not
// resolved the rebase.
func (r *CLIRunner) RunMergerAgentAndWait(ctx context.Context, projectID, workspacePath string) (bool, error) {
	runCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	log := r.logger.WithProject(projectID)
	log.Info("starting merger agent", "command", r.command, "workspace", workspacePath)

	cmd := exec.CommandContext(runCtx, r.command, r.args...)
	cmd.Dir = workspacePath
	output, err := cmd.CombinedOutput()
	if err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return false, errors.NewGitError("merger agent timed out", errors.ErrTimeout).
				WithWorkspace(workspacePath).
				WithGitOutput(string(output))
		}
		if runCtx.Err() == context.Canceled {
			return false, errors.NewGitError("merger agent canceled", errors.ErrCanceled).
				WithWorkspace(workspacePath)
		}
		log.Warn("merger agent exited with error", "error", err)
		return false, nil
	}

	unresolved, err := r.unresolvedPaths(workspacePath)
	if err != nil {
		return false, err
	}
	if len(unresolved) > 0 {
		log.Warn("merger agent left unresolved paths", "paths", unresolved)
		return false, nil
	}

	log.Info("merger agent resolved all conflicts")
	return true, nil
}

// unresolvedPaths lists paths still in a conflicted state in the workspace.
func (r *CLIRunner) unresolvedPaths(workspacePath string) ([]string, error) {
	output, err := r.executor.Run(workspacePath, "git", "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, errors.NewGitError("failed to check for unresolved paths", err).
			WithWorkspace(workspacePath).
			WithGitOutput(string(output))
	}

	var paths []string
	for _, line := range strings.Split(strings.TrimSpace(string(output)), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			paths = append(paths, line)
		}
	}
	return paths, nil
}
