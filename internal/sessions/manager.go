// Package sessions records agent sessions and archives their output once a
// slot reaches a terminal state. Archives are the audit trail for merge
// decisions, so writes are atomic.
package sessions

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/opensprint/opensprint/internal/errors"
	"github.com/opensprint/opensprint/internal/fsutil"
)

// Session identifies one agent run against one task.
type Session struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	TaskID    string    `json:"task_id"`
	Attempt   int       `json:"attempt"`
	StartedAt time.Time `json:"started_at"`
}

// Archive is the timing metadata written alongside the output log.
type Archive struct {
	Session
	ArchivedAt time.Time     `json:"archived_at"`
	Duration   time.Duration `json:"duration"`
	LineCount  int           `json:"line_count"`
}

// Manager creates sessions and archives their output under the project's
// archive directory.
type Manager struct {
	archiveDir string
	clock      func() time.Time
	newID      func() string
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock sets the time source.
func WithClock(clock func() time.Time) Option {
	return func(m *Manager) {
		m.clock = clock
	}
}

// NewManager creates a Manager rooted at the given archive directory.
func NewManager(archiveDir string, opts ...Option) (*Manager, error) {
	if err := os.MkdirAll(archiveDir, 0755); err != nil {
		return nil, errors.NewStoreError("failed to create archive directory", err)
	}
	m := &Manager{
		archiveDir: archiveDir,
		clock:      time.Now,
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// CreateSession returns a new uuid-identified session for a task attempt.
func (m *Manager) CreateSession(projectID, taskID string, attempt int, startedAt time.Time) Session {
	return Session{
		ID:        m.newID(),
		ProjectID: projectID,
		TaskID:    taskID,
		Attempt:   attempt,
		StartedAt: startedAt,
	}
}

// ArchiveSession writes the session's ordered output log and its timing
// metadata under the project archive directory. Both files land atomically
// so a crash mid-archive never leaves a truncated log behind.
func (m *Manager) ArchiveSession(session Session, lines []string) error {
	dir := filepath.Join(m.archiveDir, session.ProjectID, session.TaskID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.NewStoreError("failed to create session archive directory", err).
			WithProjectID(session.ProjectID)
	}

	log := strings.Join(lines, "\n")
	if len(lines) > 0 {
		log += "\n"
	}
	logPath := filepath.Join(dir, session.ID+".log")
	if err := fsutil.AtomicWriteFile(logPath, []byte(log), 0644); err != nil {
		return errors.NewStoreError("failed to write session log", err).
			WithProjectID(session.ProjectID).
			WithKey(session.ID)
	}

	now := m.clock()
	meta := Archive{
		Session:    session,
		ArchivedAt: now,
		Duration:   now.Sub(session.StartedAt),
		LineCount:  len(lines),
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return errors.NewStoreError("failed to encode session metadata", err).
			WithProjectID(session.ProjectID).
			WithKey(session.ID)
	}
	metaPath := filepath.Join(dir, session.ID+".json")
	if err := fsutil.AtomicWriteFile(metaPath, data, 0644); err != nil {
		return errors.NewStoreError("failed to write session metadata", err).
			WithProjectID(session.ProjectID).
			WithKey(session.ID)
	}
	return nil
}
