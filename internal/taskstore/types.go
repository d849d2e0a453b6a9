// Package taskstore provides the durable record of tasks. Task status
// transitions are the only side effect of merge coordination that survives
// orchestrator restarts, so writes are atomic and never speculative.
package taskstore

import (
	"time"
)

// Status is the lifecycle status of a task.
type Status string

const (
	// StatusOpen means the task is eligible for (re-)execution.
	StatusOpen Status = "open"
	// StatusInProgress means an agent is currently working the task.
	StatusInProgress Status = "in_progress"
	// StatusClosed means the task's work has been merged into main.
	StatusClosed Status = "closed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusClosed:
		return true
	}
	return false
}

// Comment is one entry in a task's history trail.
type Comment struct {
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Task is the durable record of one unit of work.
//
// The merge coordinator only ever transitions Status between open (requeued)
// and closed (merged); priority, assignee and the other fields are owned by
// other subsystems and treated as read-only here.
type Task struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Status      Status    `json:"status"`
	Priority    int       `json:"priority"`
	Type        string    `json:"type,omitempty"`
	Labels      []string  `json:"labels,omitempty"`
	Assignee    string    `json:"assignee,omitempty"`
	BlockReason string    `json:"block_reason,omitempty"`
	Attempts    int       `json:"attempts"`
	Comments    []Comment `json:"comments,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
}

// Clone returns a deep copy so callers cannot mutate store state through
// returned pointers.
func (t *Task) Clone() *Task {
	cp := *t
	if t.Labels != nil {
		cp.Labels = append([]string(nil), t.Labels...)
	}
	if t.Comments != nil {
		cp.Comments = append([]Comment(nil), t.Comments...)
	}
	if t.ClosedAt != nil {
		closedAt := *t.ClosedAt
		cp.ClosedAt = &closedAt
	}
	return &cp
}

// Patch describes a partial task update. Nil fields are left unchanged.
type Patch struct {
	Title       *string  `json:"title,omitempty"`
	Status      *Status  `json:"status,omitempty"`
	Priority    *int     `json:"priority,omitempty"`
	Type        *string  `json:"type,omitempty"`
	Labels      []string `json:"labels,omitempty"`
	Assignee    *string  `json:"assignee,omitempty"`
	BlockReason *string  `json:"block_reason,omitempty"`
}
