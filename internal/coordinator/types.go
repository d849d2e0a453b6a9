// Package coordinator drives a finished task slot to a terminal disposition:
// the agent's branch is integrated into main, or the task is requeued for
// another attempt. It is the only component allowed to decide a task's fate
// after an agent finishes.
package coordinator

import (
	"time"
)

// Phase is a stage of the integration state machine. The host receives every
// transition so the orchestrator can surface slot progress.
type Phase string

const (
	PhasePreparing         Phase = "preparing"
	PhaseRebasing          Phase = "rebasing"
	PhaseConflictResolving Phase = "conflict_resolving"
	PhaseMerging           Phase = "merging"
	PhaseClosed            Phase = "closed"
	PhaseRequeued          Phase = "requeued"
	PhaseFatal             Phase = "fatal"
)

// Disposition is the terminal outcome of one coordination.
type Disposition string

const (
	// DispositionClosed means the branch merged and the task is closed.
	DispositionClosed Disposition = "closed"
	// DispositionRequeued means the task went back to the ready pool.
	DispositionRequeued Disposition = "requeued"
	// DispositionFatal means coordination could not even reach a requeue.
	DispositionFatal Disposition = "fatal"
)

// TestResults holds the structured test outcome reported by the agent.
type TestResults struct {
	Passed    int    `json:"passed"`
	Failed    int    `json:"failed"`
	Skipped   int    `json:"skipped"`
	Total     int    `json:"total"`
	RawOutput string `json:"raw_output,omitempty"`
}

// PhaseResult is what the agent produced for the task.
type PhaseResult struct {
	Diff    string       `json:"diff"`
	Summary string       `json:"summary"`
	Tests   *TestResults `json:"tests,omitempty"`
}

// AgentMeta carries the agent's output log and timing for session archival.
type AgentMeta struct {
	OutputLines []string  `json:"output_lines"`
	StartedAt   time.Time `json:"started_at"`
}

// Slot is one agent's finished attempt on one task, pending integration.
// WorkspacePath is empty when the project runs agents directly on named
// branches instead of dedicated worktrees.
type Slot struct {
	TaskID        string      `json:"task_id"`
	Attempt       int         `json:"attempt"`
	WorkspacePath string      `json:"workspace_path,omitempty"`
	BranchName    string      `json:"branch_name"`
	PhaseResult   PhaseResult `json:"phase_result"`
	AgentMeta     AgentMeta   `json:"agent_meta"`
}

// Request asks for one coordination run.
type Request struct {
	ProjectID string
	RepoPath  string
	Slot      Slot
}

// Result is the terminal outcome of one coordination run.
type Result struct {
	Disposition Disposition
	// WorkspacePath is the path the sequence actually operated on: the
	// slot's worktree, or the repository itself in branch mode.
	WorkspacePath string
	// ConflictFiles is set when a rebase conflict was encountered, whether
	// or not it was resolved.
	ConflictFiles []string
	// Err is the causal error for requeued and fatal dispositions.
	Err error
}

// Counters is the derived orchestration state persisted after every
// disposition.
type Counters struct {
	Done       int `json:"done"`
	Requeued   int `json:"requeued"`
	QueueDepth int `json:"queue_depth"`
}
