package taskstore

import (
	"testing"
	"time"

	"github.com/opensprint/opensprint/internal/errors"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return s
}

func mustCreate(t *testing.T, s *FileStore, projectID string, task *Task) {
	t.Helper()
	if err := s.Create(projectID, task); err != nil {
		t.Fatalf("Create(%s): %v", task.ID, err)
	}
}

func TestCreateAndShow(t *testing.T) {
	s := newTestStore(t)
	mustCreate(t, s, "demo", &Task{ID: "os-1", Title: "add parser", Priority: 2})

	task, err := s.Show("demo", "os-1")
	if err != nil {
		t.Fatalf("Show: %v", err)
	}
	if task.Title != "add parser" {
		t.Errorf("title = %q", task.Title)
	}
	if task.Status != StatusOpen {
		t.Errorf("status = %q, want open by default", task.Status)
	}
	if task.CreatedAt.IsZero() || task.UpdatedAt.IsZero() {
		t.Error("timestamps not set on create")
	}
}

func TestShowUnknownTask(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Show("demo", "os-missing")
	if !errors.Is(err, errors.ErrTaskNotFound) {
		t.Errorf("error = %v, want ErrTaskNotFound", err)
	}
}

func TestCreateDuplicateFails(t *testing.T) {
	s := newTestStore(t)
	mustCreate(t, s, "demo", &Task{ID: "os-1"})
	if err := s.Create("demo", &Task{ID: "os-1"}); err == nil {
		t.Error("expected error creating duplicate task")
	}
}

func TestCloseReopenRoundTrip(t *testing.T) {
	s := newTestStore(t)
	mustCreate(t, s, "demo", &Task{ID: "os-1", Status: StatusInProgress})

	if err := s.Close("demo", "os-1", "merged into main"); err != nil {
		t.Fatalf("Close: %v", err)
	}
	task, err := s.Show("demo", "os-1")
	if err != nil {
		t.Fatalf("Show: %v", err)
	}
	if task.Status != StatusClosed {
		t.Errorf("status = %q, want closed", task.Status)
	}
	if task.ClosedAt == nil {
		t.Error("ClosedAt not set")
	}
	if len(task.Comments) != 1 || task.Comments[0].Text != "merged into main" {
		t.Errorf("comments = %+v", task.Comments)
	}

	if err := s.Reopen("demo", "os-1", "rebase failed, requeued"); err != nil {
		t.Fatalf("Reopen: %v", err)
	}
	task, err = s.Show("demo", "os-1")
	if err != nil {
		t.Fatalf("Show: %v", err)
	}
	if task.Status != StatusOpen {
		t.Errorf("status = %q, want open", task.Status)
	}
	if task.ClosedAt != nil {
		t.Error("ClosedAt should be cleared on reopen")
	}
	// Both the close comment and the reopen comment survive.
	if len(task.Comments) != 2 {
		t.Errorf("comments = %+v, want both comments retained", task.Comments)
	}
}

func TestUpdateAppliesOnlySetFields(t *testing.T) {
	s := newTestStore(t)
	mustCreate(t, s, "demo", &Task{ID: "os-1", Title: "original", Priority: 1, Assignee: "coder"})

	title := "renamed"
	if err := s.Update("demo", "os-1", Patch{Title: &title}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	task, _ := s.Show("demo", "os-1")
	if task.Title != "renamed" {
		t.Errorf("title = %q", task.Title)
	}
	if task.Priority != 1 || task.Assignee != "coder" {
		t.Error("unset patch fields were modified")
	}
}

func TestUpdateRejectsUnknownStatus(t *testing.T) {
	s := newTestStore(t)
	mustCreate(t, s, "demo", &Task{ID: "os-1"})

	bad := Status("paused")
	if err := s.Update("demo", "os-1", Patch{Status: &bad}); err == nil {
		t.Error("expected validation error for unknown status")
	}
}

func TestAttemptCounting(t *testing.T) {
	s := newTestStore(t)
	mustCreate(t, s, "demo", &Task{ID: "os-1"})

	n, err := s.IncrementAttempts("demo", "os-1")
	if err != nil {
		t.Fatalf("IncrementAttempts: %v", err)
	}
	if n != 1 {
		t.Errorf("attempts = %d, want 1", n)
	}
	n, _ = s.IncrementAttempts("demo", "os-1")
	if n != 2 {
		t.Errorf("attempts = %d, want 2", n)
	}

	if err := s.SetAttempts("demo", "os-1", 0); err != nil {
		t.Fatalf("SetAttempts: %v", err)
	}
	n, err = s.Attempts("demo", "os-1")
	if err != nil {
		t.Fatalf("Attempts: %v", err)
	}
	if n != 0 {
		t.Errorf("attempts = %d, want 0 after reset", n)
	}
}

func TestPersistsAcrossStoreInstances(t *testing.T) {
	dir := t.TempDir()
	s1, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	mustCreate(t, s1, "demo", &Task{ID: "os-1", Title: "durable"})
	if err := s1.Comment("demo", "os-1", "first attempt"); err != nil {
		t.Fatalf("Comment: %v", err)
	}

	s2, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore (reopen): %v", err)
	}
	task, err := s2.Show("demo", "os-1")
	if err != nil {
		t.Fatalf("Show after reopen: %v", err)
	}
	if task.Title != "durable" || len(task.Comments) != 1 {
		t.Errorf("task = %+v, want state persisted", task)
	}
}

func TestProjectsAreIsolated(t *testing.T) {
	s := newTestStore(t)
	mustCreate(t, s, "alpha", &Task{ID: "os-1"})

	if _, err := s.Show("beta", "os-1"); !errors.Is(err, errors.ErrTaskNotFound) {
		t.Errorf("error = %v, want ErrTaskNotFound in other project", err)
	}
}

func TestListAllOrdersByID(t *testing.T) {
	s := newTestStore(t)
	mustCreate(t, s, "demo", &Task{ID: "os-3"})
	mustCreate(t, s, "demo", &Task{ID: "os-1"})
	mustCreate(t, s, "demo", &Task{ID: "os-2"})

	tasks, err := s.ListAll("demo")
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(tasks) != 3 {
		t.Fatalf("len = %d", len(tasks))
	}
	for i, want := range []string{"os-1", "os-2", "os-3"} {
		if tasks[i].ID != want {
			t.Errorf("tasks[%d].ID = %q, want %q", i, tasks[i].ID, want)
		}
	}
}

func TestReturnedTasksAreCopies(t *testing.T) {
	s := newTestStore(t)
	mustCreate(t, s, "demo", &Task{ID: "os-1", Labels: []string{"merge"}})

	task, _ := s.Show("demo", "os-1")
	task.Labels[0] = "mutated"
	task.Title = "mutated"

	fresh, _ := s.Show("demo", "os-1")
	if fresh.Labels[0] != "merge" || fresh.Title != "" {
		t.Error("mutating a returned task leaked into the store")
	}
}

func TestClockInjection(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s, err := NewFileStore(t.TempDir(), WithClock(func() time.Time { return fixed }))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	mustCreate(t, s, "demo", &Task{ID: "os-1"})

	task, _ := s.Show("demo", "os-1")
	if !task.CreatedAt.Equal(fixed) {
		t.Errorf("CreatedAt = %v, want %v", task.CreatedAt, fixed)
	}
}
