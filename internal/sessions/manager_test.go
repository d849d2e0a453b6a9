package sessions

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestCreateSessionAssignsUniqueIDs(t *testing.T) {
	m, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	started := time.Now()
	s1 := m.CreateSession("demo", "os-1", 1, started)
	s2 := m.CreateSession("demo", "os-1", 2, started)

	if s1.ID == "" || s2.ID == "" {
		t.Fatal("session id not assigned")
	}
	if s1.ID == s2.ID {
		t.Error("sessions share an id")
	}
	if s1.ProjectID != "demo" || s1.TaskID != "os-1" || s1.Attempt != 1 {
		t.Errorf("session = %+v", s1)
	}
	if !s1.StartedAt.Equal(started) {
		t.Errorf("StartedAt = %v, want %v", s1.StartedAt, started)
	}
}

func TestArchiveSessionWritesLogAndMetadata(t *testing.T) {
	dir := t.TempDir()
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	archived := started.Add(90 * time.Second)
	m, err := NewManager(dir, WithClock(func() time.Time { return archived }))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	session := m.CreateSession("demo", "os-1", 1, started)
	lines := []string{"resolving conflict in main.go", "rebase continued", "done"}
	if err := m.ArchiveSession(session, lines); err != nil {
		t.Fatalf("ArchiveSession: %v", err)
	}

	logPath := filepath.Join(dir, "demo", "os-1", session.ID+".log")
	log, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("reading log: %v", err)
	}
	want := "resolving conflict in main.go\nrebase continued\ndone\n"
	if string(log) != want {
		t.Errorf("log = %q, want %q", log, want)
	}

	metaPath := filepath.Join(dir, "demo", "os-1", session.ID+".json")
	data, err := os.ReadFile(metaPath)
	if err != nil {
		t.Fatalf("reading metadata: %v", err)
	}
	var meta Archive
	if err := json.Unmarshal(data, &meta); err != nil {
		t.Fatalf("decoding metadata: %v", err)
	}
	if meta.ID != session.ID || meta.LineCount != 3 {
		t.Errorf("meta = %+v", meta)
	}
	if meta.Duration != 90*time.Second {
		t.Errorf("duration = %v, want 90s", meta.Duration)
	}
}

func TestArchiveSessionEmptyOutput(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	session := m.CreateSession("demo", "os-1", 1, time.Now())
	if err := m.ArchiveSession(session, nil); err != nil {
		t.Fatalf("ArchiveSession: %v", err)
	}

	log, err := os.ReadFile(filepath.Join(dir, "demo", "os-1", session.ID+".log"))
	if err != nil {
		t.Fatalf("reading log: %v", err)
	}
	if len(log) != 0 {
		t.Errorf("log = %q, want empty", log)
	}
}
