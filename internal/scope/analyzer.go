// Package scope tracks which files each task actually touched. The index
// feeds scheduling heuristics: tasks touching overlapping files are more
// likely to conflict when run concurrently.
package scope

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/opensprint/opensprint/internal/errors"
	"github.com/opensprint/opensprint/internal/fsutil"
)

// Analyzer maintains the per-project file-to-tasks scope index.
type Analyzer struct {
	dataDir string
	mu      sync.Mutex
}

// index maps file path to the sorted set of task ids that touched it.
type index map[string][]string

// NewAnalyzer creates an Analyzer rooted at the given data directory.
func NewAnalyzer(dataDir string) (*Analyzer, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, errors.NewStoreError("failed to create scope directory", err)
	}
	return &Analyzer{dataDir: dataDir}, nil
}

// RecordActual merges the files a task touched into the project's scope
// index. Recording the same file twice for a task is a no-op.
func (a *Analyzer) RecordActual(projectID, taskID string, files []string) error {
	if taskID == "" {
		return errors.NewValidationError("taskID", "task id must not be empty")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	idx, err := a.load(projectID)
	if err != nil {
		return err
	}
	for _, file := range files {
		if file == "" {
			continue
		}
		idx[file] = insertSorted(idx[file], taskID)
	}
	return a.save(projectID, idx)
}

// TasksTouching returns the ids of tasks that touched the given file,
// sorted. An unknown file yields an empty slice.
func (a *Analyzer) TasksTouching(projectID, file string) ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	idx, err := a.load(projectID)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), idx[file]...), nil
}

// FilesTouchedBy returns the files a task touched, sorted.
func (a *Analyzer) FilesTouchedBy(projectID, taskID string) ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	idx, err := a.load(projectID)
	if err != nil {
		return nil, err
	}

	var files []string
	for file, tasks := range idx {
		for _, id := range tasks {
			if id == taskID {
				files = append(files, file)
				break
			}
		}
	}
	sort.Strings(files)
	return files, nil
}

func insertSorted(ids []string, id string) []string {
	i := sort.SearchStrings(ids, id)
	if i < len(ids) && ids[i] == id {
		return ids
	}
	ids = append(ids, "")
	copy(ids[i+1:], ids[i:])
	ids[i] = id
	return ids
}

func (a *Analyzer) load(projectID string) (index, error) {
	data, err := os.ReadFile(a.path(projectID))
	if err != nil {
		if os.IsNotExist(err) {
			return make(index), nil
		}
		return nil, errors.NewStoreError("failed to read scope index", err).
			WithProjectID(projectID)
	}

	var idx index
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, errors.NewStoreError("scope index corrupted", err).
			WithProjectID(projectID)
	}
	if idx == nil {
		idx = make(index)
	}
	return idx, nil
}

func (a *Analyzer) save(projectID string, idx index) error {
	if err := os.MkdirAll(filepath.Dir(a.path(projectID)), 0755); err != nil {
		return errors.NewStoreError("failed to create project directory", err).
			WithProjectID(projectID)
	}
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return errors.NewStoreError("failed to encode scope index", err).
			WithProjectID(projectID)
	}
	if err := fsutil.AtomicWriteFile(a.path(projectID), data, 0644); err != nil {
		return errors.NewStoreError("failed to write scope index", err).
			WithProjectID(projectID)
	}
	return nil
}

func (a *Analyzer) path(projectID string) string {
	return filepath.Join(a.dataDir, "projects", projectID, "scope.json")
}
