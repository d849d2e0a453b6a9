package taskstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/opensprint/opensprint/internal/errors"
	"github.com/opensprint/opensprint/internal/fsutil"
)

// Store is the durable task record consumed by the merge coordinator.
type Store interface {
	// Show returns a copy of a task.
	Show(projectID, taskID string) (*Task, error)
	// ListAll returns copies of all tasks in a project, ordered by ID.
	ListAll(projectID string) ([]*Task, error)
	// Create adds a new task record.
	Create(projectID string, task *Task) error
	// Update applies a partial update.
	Update(projectID, taskID string, patch Patch) error
	// Close marks a task closed with a completion comment.
	Close(projectID, taskID, comment string) error
	// Reopen returns a task to the open status with an explanatory comment.
	Reopen(projectID, taskID, comment string) error
	// Comment appends to the task's history trail.
	Comment(projectID, taskID, text string) error
	// Attempts returns the task's attempt count.
	Attempts(projectID, taskID string) (int, error)
	// SetAttempts sets the task's attempt count.
	SetAttempts(projectID, taskID string, n int) error
	// IncrementAttempts bumps the attempt count and returns the new value.
	IncrementAttempts(projectID, taskID string) (int, error)
}

// FileStore is a file-backed Store. Each project's tasks live in one JSON
// file under the data directory, written atomically on every mutation.
type FileStore struct {
	dataDir string
	mu      sync.Mutex
	clock   func() time.Time
}

// Compile-time check that FileStore implements Store.
var _ Store = (*FileStore)(nil)

// FileStoreOption configures a FileStore.
type FileStoreOption func(*FileStore)

// WithClock sets the time source. This is primarily useful for testing.
func WithClock(clock func() time.Time) FileStoreOption {
	return func(s *FileStore) {
		s.clock = clock
	}
}

// NewFileStore creates a FileStore rooted at the given data directory.
func NewFileStore(dataDir string, opts ...FileStoreOption) (*FileStore, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, errors.NewStoreError("failed to create data directory", err)
	}
	s := &FileStore{
		dataDir: dataDir,
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Show returns a copy of a task.
func (s *FileStore) Show(projectID, taskID string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks, err := s.load(projectID)
	if err != nil {
		return nil, err
	}
	task, ok := tasks[taskID]
	if !ok {
		return nil, errors.NewNotFoundError("task", taskID).WithCause(errors.ErrTaskNotFound)
	}
	return task.Clone(), nil
}

// ListAll returns copies of all tasks in a project, ordered by ID.
func (s *FileStore) ListAll(projectID string) ([]*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks, err := s.load(projectID)
	if err != nil {
		return nil, err
	}

	out := make([]*Task, 0, len(tasks))
	for _, task := range tasks {
		out = append(out, task.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Create adds a new task record.
func (s *FileStore) Create(projectID string, task *Task) error {
	if task.ID == "" {
		return errors.NewValidationError("id", "task id must not be empty")
	}
	if task.Status == "" {
		task.Status = StatusOpen
	}
	if !task.Status.Valid() {
		return errors.NewValidationError("status", "unknown status "+string(task.Status))
	}

	return s.mutate(projectID, func(tasks map[string]*Task) error {
		if _, exists := tasks[task.ID]; exists {
			return errors.NewStoreError("task already exists", nil).
				WithProjectID(projectID).
				WithKey(task.ID)
		}
		cp := task.Clone()
		now := s.clock()
		cp.CreatedAt = now
		cp.UpdatedAt = now
		tasks[task.ID] = cp
		return nil
	})
}

// Update applies a partial update.
func (s *FileStore) Update(projectID, taskID string, patch Patch) error {
	if patch.Status != nil && !patch.Status.Valid() {
		return errors.NewValidationError("status", "unknown status "+string(*patch.Status))
	}

	return s.withTask(projectID, taskID, func(task *Task) error {
		if patch.Title != nil {
			task.Title = *patch.Title
		}
		if patch.Status != nil {
			task.Status = *patch.Status
			if *patch.Status != StatusClosed {
				task.ClosedAt = nil
			}
		}
		if patch.Priority != nil {
			task.Priority = *patch.Priority
		}
		if patch.Type != nil {
			task.Type = *patch.Type
		}
		if patch.Labels != nil {
			task.Labels = append([]string(nil), patch.Labels...)
		}
		if patch.Assignee != nil {
			task.Assignee = *patch.Assignee
		}
		if patch.BlockReason != nil {
			task.BlockReason = *patch.BlockReason
		}
		return nil
	})
}

// Close marks a task closed with a completion comment.
func (s *FileStore) Close(projectID, taskID, comment string) error {
	return s.withTask(projectID, taskID, func(task *Task) error {
		task.Status = StatusClosed
		closedAt := s.clock()
		task.ClosedAt = &closedAt
		if comment != "" {
			task.Comments = append(task.Comments, Comment{Text: comment, CreatedAt: closedAt})
		}
		return nil
	})
}

// Reopen returns a task to the open status with an explanatory comment.
func (s *FileStore) Reopen(projectID, taskID, comment string) error {
	return s.withTask(projectID, taskID, func(task *Task) error {
		task.Status = StatusOpen
		task.ClosedAt = nil
		if comment != "" {
			task.Comments = append(task.Comments, Comment{Text: comment, CreatedAt: s.clock()})
		}
		return nil
	})
}

// Comment appends to the task's history trail.
func (s *FileStore) Comment(projectID, taskID, text string) error {
	return s.withTask(projectID, taskID, func(task *Task) error {
		task.Comments = append(task.Comments, Comment{Text: text, CreatedAt: s.clock()})
		return nil
	})
}

// Attempts returns the task's attempt count.
func (s *FileStore) Attempts(projectID, taskID string) (int, error) {
	task, err := s.Show(projectID, taskID)
	if err != nil {
		return 0, err
	}
	return task.Attempts, nil
}

// SetAttempts sets the task's attempt count.
func (s *FileStore) SetAttempts(projectID, taskID string, n int) error {
	return s.withTask(projectID, taskID, func(task *Task) error {
		task.Attempts = n
		return nil
	})
}

// IncrementAttempts bumps the attempt count and returns the new value.
func (s *FileStore) IncrementAttempts(projectID, taskID string) (int, error) {
	var attempts int
	err := s.withTask(projectID, taskID, func(task *Task) error {
		task.Attempts++
		attempts = task.Attempts
		return nil
	})
	return attempts, err
}

// withTask runs fn against a task and persists the result.
func (s *FileStore) withTask(projectID, taskID string, fn func(*Task) error) error {
	return s.mutate(projectID, func(tasks map[string]*Task) error {
		task, ok := tasks[taskID]
		if !ok {
			return errors.NewNotFoundError("task", taskID).WithCause(errors.ErrTaskNotFound)
		}
		if err := fn(task); err != nil {
			return err
		}
		task.UpdatedAt = s.clock()
		return nil
	})
}

// mutate loads a project's tasks, applies fn, and writes the result
// atomically while holding the store lock.
func (s *FileStore) mutate(projectID string, fn func(map[string]*Task) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks, err := s.load(projectID)
	if err != nil {
		return err
	}
	if err := fn(tasks); err != nil {
		return err
	}
	return s.save(projectID, tasks)
}

// load reads a project's task file. A missing file is an empty project.
func (s *FileStore) load(projectID string) (map[string]*Task, error) {
	data, err := os.ReadFile(s.path(projectID))
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]*Task), nil
		}
		return nil, errors.NewStoreError("failed to read task file", err).
			WithProjectID(projectID)
	}

	var tasks map[string]*Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		return nil, errors.NewStoreError("task file corrupted", err).
			WithProjectID(projectID)
	}
	if tasks == nil {
		tasks = make(map[string]*Task)
	}
	return tasks, nil
}

// save writes a project's task file atomically.
func (s *FileStore) save(projectID string, tasks map[string]*Task) error {
	dir := filepath.Dir(s.path(projectID))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.NewStoreError("failed to create project directory", err).
			WithProjectID(projectID)
	}

	data, err := json.MarshalIndent(tasks, "", "  ")
	if err != nil {
		return errors.NewStoreError("failed to encode tasks", err).
			WithProjectID(projectID)
	}
	if err := fsutil.AtomicWriteFile(s.path(projectID), data, 0644); err != nil {
		return errors.NewStoreError("failed to write task file", err).
			WithProjectID(projectID)
	}
	return nil
}

// path returns the task file path for a project.
func (s *FileStore) path(projectID string) string {
	return filepath.Join(s.dataDir, "projects", projectID, "tasks.json")
}
