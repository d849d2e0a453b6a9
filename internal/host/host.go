// Package host is the composition root for merge coordination. It owns the
// slot registry, the git mutation queue, and the counters file, runs one
// coordination per finished slot, and exposes the nudge channel the
// scheduler listens on.
package host

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/opensprint/opensprint/internal/coordinator"
	"github.com/opensprint/opensprint/internal/errors"
	"github.com/opensprint/opensprint/internal/fsutil"
	"github.com/opensprint/opensprint/internal/logging"
	"github.com/opensprint/opensprint/internal/mergequeue"
)

// defaultNudgeBuffer bounds pending scheduler wakeups. One pending nudge is
// enough to wake the scheduler; extra capacity only absorbs bursts.
const defaultNudgeBuffer = 16

// Host runs coordinations and implements coordinator.Host.
type Host struct {
	coord    *coordinator.Coordinator
	registry *coordinator.Registry
	queue    *mergequeue.Queue

	countersPath string
	nudgeCh      chan struct{}
	group        errgroup.Group
	logger       *logging.Logger

	mu     sync.RWMutex
	phases map[string]coordinator.Phase
}

// Compile-time check that Host satisfies the coordinator's callback surface.
var _ coordinator.Host = (*Host)(nil)

// Options configures a Host. The collaborator fields mirror
// coordinator.Deps minus the pieces the host owns itself.
type Options struct {
	Branches coordinator.BranchManager
	Conflict coordinator.ConflictRunner
	Tasks    coordinator.TaskStore
	Sessions coordinator.SessionArchiver
	Scope    coordinator.ScopeRecorder
	Feedback coordinator.FeedbackChecker
	Settings coordinator.SettingsProvider

	// CountersPath is where orchestration counters are persisted.
	CountersPath string
	// Logger defaults to a no-op logger.
	Logger *logging.Logger
}

// New creates a Host and the Coordinator it drives.
func New(opts Options) (*Host, error) {
	if opts.CountersPath == "" {
		return nil, errors.NewValidationError("CountersPath", "counters path is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}

	h := &Host{
		registry:     coordinator.NewRegistry(),
		queue:        mergequeue.New(),
		countersPath: opts.CountersPath,
		nudgeCh:      make(chan struct{}, defaultNudgeBuffer),
		logger:       logger,
		phases:       make(map[string]coordinator.Phase),
	}

	coord, err := coordinator.New(coordinator.Deps{
		Branches: opts.Branches,
		Queue:    h.queue,
		Conflict: opts.Conflict,
		Tasks:    opts.Tasks,
		Sessions: opts.Sessions,
		Scope:    opts.Scope,
		Feedback: opts.Feedback,
		Settings: opts.Settings,
		Host:     h,
		Registry: h.registry,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}
	h.coord = coord
	return h, nil
}

// Registry returns the in-flight slot registry.
func (h *Host) Registry() *coordinator.Registry {
	return h.registry
}

// Counters returns the coordinator's current counters snapshot.
func (h *Host) Counters() coordinator.Counters {
	return h.coord.Counters()
}

// CompleteSlot registers a finished slot and starts its coordination. The
// call returns as soon as the coordination is running; Wait joins them all.
func (h *Host) CompleteSlot(ctx context.Context, projectID, repoPath string, slot coordinator.Slot) error {
	s := slot
	if err := h.registry.Register(&s); err != nil {
		return err
	}

	h.group.Go(func() error {
		result := h.coord.Coordinate(ctx, coordinator.Request{
			ProjectID: projectID,
			RepoPath:  repoPath,
			Slot:      s,
		})
		if result.Disposition == coordinator.DispositionFatal {
			return result.Err
		}
		return nil
	})
	return nil
}

// Wait joins all in-flight coordinations and returns the first fatal error.
func (h *Host) Wait() error {
	return h.group.Wait()
}

// Close waits for the queue to empty and shuts it down.
func (h *Host) Close() {
	h.queue.Close()
}

// NudgeCh is the channel the scheduler selects on for wakeups.
func (h *Host) NudgeCh() <-chan struct{} {
	return h.nudgeCh
}

// Phase returns a task's last observed coordination phase.
func (h *Host) Phase(taskID string) (coordinator.Phase, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	phase, ok := h.phases[taskID]
	return phase, ok
}

// Transition records a slot's phase change. Terminal phases stay visible
// until the next coordination of the same task overwrites them.
func (h *Host) Transition(taskID string, phase coordinator.Phase) {
	h.mu.Lock()
	h.phases[taskID] = phase
	h.mu.Unlock()
	h.logger.WithTask(taskID).Debug("slot transition", "phase", string(phase))
}

// PersistCounters writes the counters file atomically.
func (h *Host) PersistCounters(counters coordinator.Counters) error {
	if err := os.MkdirAll(filepath.Dir(h.countersPath), 0755); err != nil {
		return errors.NewStoreError("failed to create counters directory", err)
	}
	data, err := json.MarshalIndent(counters, "", "  ")
	if err != nil {
		return errors.NewStoreError("failed to encode counters", err)
	}
	if err := fsutil.AtomicWriteFile(h.countersPath, data, 0644); err != nil {
		return errors.NewStoreError("failed to write counters file", err)
	}
	return nil
}

// Nudge wakes the scheduler without blocking. A full buffer means a wakeup
// is already pending, which is all the scheduler needs.
func (h *Host) Nudge() {
	select {
	case h.nudgeCh <- struct{}{}:
	default:
	}
}

// LoadCounters reads a previously persisted counters file. A missing file
// yields zero counters.
func LoadCounters(path string) (coordinator.Counters, error) {
	var counters coordinator.Counters
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return counters, nil
		}
		return counters, errors.NewStoreError("failed to read counters file", err)
	}
	if err := json.Unmarshal(data, &counters); err != nil {
		return counters, errors.NewStoreError("counters file corrupted", err)
	}
	return counters, nil
}
