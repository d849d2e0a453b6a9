// Package feedback stores user feedback items. Items can name a task that
// resolves them; when that task merges, the linked items auto-resolve.
package feedback

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opensprint/opensprint/internal/errors"
	"github.com/opensprint/opensprint/internal/fsutil"
)

// ItemStatus is the lifecycle status of a feedback item.
type ItemStatus string

const (
	StatusOpen     ItemStatus = "open"
	StatusResolved ItemStatus = "resolved"
)

// Item is one piece of user feedback.
type Item struct {
	ID             string     `json:"id"`
	Text           string     `json:"text"`
	Status         ItemStatus `json:"status"`
	ResolvingTask  string     `json:"resolving_task,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	ResolvedReason string     `json:"resolved_reason,omitempty"`
}

// Service is the file-backed feedback store.
type Service struct {
	dataDir string
	mu      sync.Mutex
	clock   func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock sets the time source.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		s.clock = clock
	}
}

// NewService creates a Service rooted at the given data directory.
func NewService(dataDir string, opts ...Option) (*Service, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, errors.NewStoreError("failed to create feedback directory", err)
	}
	s := &Service{
		dataDir: dataDir,
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Add records a new feedback item, optionally linked to a resolving task.
func (s *Service) Add(projectID, text, resolvingTask string) (*Item, error) {
	if text == "" {
		return nil, errors.NewValidationError("text", "feedback text must not be empty")
	}

	item := &Item{
		ID:            uuid.NewString(),
		Text:          text,
		Status:        StatusOpen,
		ResolvingTask: resolvingTask,
		CreatedAt:     s.clock(),
	}
	err := s.mutate(projectID, func(items map[string]*Item) error {
		items[item.ID] = item
		return nil
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// List returns all feedback items for a project, oldest first.
func (s *Service) List(projectID string) ([]*Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.load(projectID)
	if err != nil {
		return nil, err
	}
	out := make([]*Item, 0, len(items))
	for _, item := range items {
		cp := *item
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// CheckAutoResolveOnTaskDone marks every open item linked to the completed
// task as resolved and returns how many items were resolved.
func (s *Service) CheckAutoResolveOnTaskDone(projectID, taskID string) (int, error) {
	resolved := 0
	err := s.mutate(projectID, func(items map[string]*Item) error {
		now := s.clock()
		for _, item := range items {
			if item.Status != StatusOpen || item.ResolvingTask != taskID {
				continue
			}
			item.Status = StatusResolved
			resolvedAt := now
			item.ResolvedAt = &resolvedAt
			item.ResolvedReason = "resolving task " + taskID + " merged"
			resolved++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return resolved, nil
}

func (s *Service) mutate(projectID string, fn func(map[string]*Item) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.load(projectID)
	if err != nil {
		return err
	}
	if err := fn(items); err != nil {
		return err
	}
	return s.save(projectID, items)
}

func (s *Service) load(projectID string) (map[string]*Item, error) {
	data, err := os.ReadFile(s.path(projectID))
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]*Item), nil
		}
		return nil, errors.NewStoreError("failed to read feedback file", err).
			WithProjectID(projectID)
	}

	var items map[string]*Item
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, errors.NewStoreError("feedback file corrupted", err).
			WithProjectID(projectID)
	}
	if items == nil {
		items = make(map[string]*Item)
	}
	return items, nil
}

func (s *Service) save(projectID string, items map[string]*Item) error {
	if err := os.MkdirAll(filepath.Dir(s.path(projectID)), 0755); err != nil {
		return errors.NewStoreError("failed to create project directory", err).
			WithProjectID(projectID)
	}
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return errors.NewStoreError("failed to encode feedback items", err).
			WithProjectID(projectID)
	}
	if err := fsutil.AtomicWriteFile(s.path(projectID), data, 0644); err != nil {
		return errors.NewStoreError("failed to write feedback file", err).
			WithProjectID(projectID)
	}
	return nil
}

func (s *Service) path(projectID string) string {
	return filepath.Join(s.dataDir, "projects", projectID, "feedback.json")
}
