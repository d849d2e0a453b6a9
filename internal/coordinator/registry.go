package coordinator

import (
	"sort"
	"sync"

	"github.com/opensprint/opensprint/internal/errors"
)

// Registry tracks in-flight slots by task id. It is owned by the host and
// handed to the coordinator; a slot lives here from agent completion until
// coordination reaches a terminal disposition.
type Registry struct {
	mu    sync.RWMutex
	slots map[string]*Slot
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{slots: make(map[string]*Slot)}
}

// Register adds a slot. Registering a task that already has an in-flight
// slot is an error; an agent cannot finish the same task twice concurrently.
func (r *Registry) Register(slot *Slot) error {
	if slot.TaskID == "" {
		return errors.NewValidationError("taskID", "slot task id must not be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.slots[slot.TaskID]; exists {
		return errors.NewValidationError("taskID", "slot already registered for task "+slot.TaskID)
	}
	r.slots[slot.TaskID] = slot
	return nil
}

// Get returns the in-flight slot for a task.
func (r *Registry) Get(taskID string) (*Slot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	slot, ok := r.slots[taskID]
	if !ok {
		return nil, errors.NewNotFoundError("slot", taskID).WithCause(errors.ErrSlotNotFound)
	}
	return slot, nil
}

// Remove drops a task's slot. Removing an absent slot is a no-op so terminal
// paths can call it unconditionally.
func (r *Registry) Remove(taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.slots, taskID)
}

// Len reports how many slots are in flight.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.slots)
}

// TaskIDs returns the in-flight task ids, sorted.
func (r *Registry) TaskIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.slots))
	for id := range r.slots {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
