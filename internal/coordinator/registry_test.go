package coordinator

import (
	"reflect"
	"testing"

	"github.com/opensprint/opensprint/internal/errors"
)

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()

	slot := &Slot{TaskID: "os-1", BranchName: "opensprint/os-1"}
	if err := r.Register(slot); err != nil {
		t.Fatalf("Register: %v", err)
	}

	got, err := r.Get("os-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != slot {
		t.Error("Get returned a different slot")
	}
	if r.Len() != 1 {
		t.Errorf("Len = %d", r.Len())
	}
}

func TestRegistryRejectsDuplicateTask(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&Slot{TaskID: "os-1"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(&Slot{TaskID: "os-1"}); err == nil {
		t.Error("expected error registering a duplicate slot")
	}
}

func TestRegistryRejectsEmptyTaskID(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&Slot{}); err == nil {
		t.Error("expected error for empty task id")
	}
}

func TestRegistryGetUnknown(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Get("os-missing"); !errors.Is(err, errors.ErrSlotNotFound) {
		t.Errorf("error = %v, want ErrSlotNotFound", err)
	}
}

func TestRegistryRemoveIsIdempotent(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&Slot{TaskID: "os-1"}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	r.Remove("os-1")
	r.Remove("os-1")
	if r.Len() != 0 {
		t.Errorf("Len = %d after remove", r.Len())
	}
}

func TestRegistryTaskIDsSorted(t *testing.T) {
	r := NewRegistry()
	for _, id := range []string{"os-3", "os-1", "os-2"} {
		if err := r.Register(&Slot{TaskID: id}); err != nil {
			t.Fatalf("Register(%s): %v", id, err)
		}
	}

	if got := r.TaskIDs(); !reflect.DeepEqual(got, []string{"os-1", "os-2", "os-3"}) {
		t.Errorf("TaskIDs = %v", got)
	}
}
