package daemon

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// setupTodoFile creates a todo.txt with content in a fresh directory.
func setupTodoFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "todo.txt")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write todo file: %v", err)
	}
	return path
}

// expectNoEvent fails if fw emits an event within wait.
func expectNoEvent(t *testing.T, fw *FileWatcher, wait time.Duration) {
	t.Helper()

	select {
	case event := <-fw.Events():
		t.Fatalf("Unexpected event: %s %s", event.Op, event.Path)
	case <-time.After(wait):
	}
}

// TestNewFileWatcher verifies that creating a new FileWatcher succeeds.
func TestNewFileWatcher(t *testing.T) {
	fw, err := NewFileWatcher(quietLogger())
	if err != nil {
		t.Fatalf("NewFileWatcher() failed: %v", err)
	}
	defer fw.Stop()

	if fw.IsRunning() {
		t.Error("Newly created watcher should not be running")
	}
}

// TestFileWatcher_StartStop verifies that the watcher can start and stop cleanly.
func TestFileWatcher_StartStop(t *testing.T) {
	path := setupTodoFile(t, "Buy milk\n")

	fw, err := NewFileWatcher(quietLogger())
	if err != nil {
		t.Fatalf("NewFileWatcher() failed: %v", err)
	}
	if err := fw.Watch(path); err != nil {
		t.Fatalf("Watch() failed: %v", err)
	}

	if err := fw.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if !fw.IsRunning() {
		t.Error("Watcher should be running after Start()")
	}

	if err := fw.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if fw.IsRunning() {
		t.Error("Watcher should not be running after Stop()")
	}

	// Stop is idempotent
	if err := fw.Stop(); err != nil {
		t.Errorf("Second Stop() failed: %v", err)
	}
	if err := fw.Watch(path); err == nil {
		t.Error("Watch() after Stop() should fail")
	}
}

// TestFileWatcher_StartAlreadyRunning verifies that starting an already running watcher fails.
func TestFileWatcher_StartAlreadyRunning(t *testing.T) {
	fw, err := NewFileWatcher(quietLogger())
	if err != nil {
		t.Fatalf("NewFileWatcher() failed: %v", err)
	}
	defer fw.Stop()

	if err := fw.Start(); err != nil {
		t.Fatalf("First Start() failed: %v", err)
	}
	if err := fw.Start(); err == nil {
		t.Error("Second Start() should fail when watcher is already running")
	}
}

// TestFileWatcher_ExternalModify verifies that an outside write to a
// watched file triggers an event.
func TestFileWatcher_ExternalModify(t *testing.T) {
	path := setupTodoFile(t, "Buy milk\n")

	fw, err := NewFileWatcher(quietLogger())
	if err != nil {
		t.Fatalf("NewFileWatcher() failed: %v", err)
	}
	defer fw.Stop()

	if err := fw.Watch(path); err != nil {
		t.Fatalf("Watch() failed: %v", err)
	}
	if err := fw.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	if err := os.WriteFile(path, []byte("Buy milk\nCall Bob\n"), 0644); err != nil {
		t.Fatalf("Failed to modify todo file: %v", err)
	}

	select {
	case event := <-fw.Events():
		if event.Op != OpModify && event.Op != OpCreate {
			t.Errorf("Expected OpModify, got %v", event.Op)
		}
		if event.Path != path {
			t.Errorf("Expected %s, got %s", path, event.Path)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout waiting for modify event")
	}
}

// TestFileWatcher_RenameOver verifies that a writer replacing the file by
// renaming a temporary file over it is still noticed.
func TestFileWatcher_RenameOver(t *testing.T) {
	path := setupTodoFile(t, "Buy milk\n")

	fw, err := NewFileWatcher(quietLogger())
	if err != nil {
		t.Fatalf("NewFileWatcher() failed: %v", err)
	}
	defer fw.Stop()

	if err := fw.Watch(path); err != nil {
		t.Fatalf("Watch() failed: %v", err)
	}
	if err := fw.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	tmp := filepath.Join(filepath.Dir(path), "todo.txt.swp")
	if err := os.WriteFile(tmp, []byte("Walk dog\nBuy milk\n"), 0644); err != nil {
		t.Fatalf("Failed to write replacement: %v", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatalf("Failed to rename replacement: %v", err)
	}

	select {
	case event := <-fw.Events():
		if event.Path != path {
			t.Errorf("Expected %s, got %s", path, event.Path)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout waiting for rename event")
	}
}

// TestFileWatcher_SuppressedWrite verifies that a write bracketed by
// Unwatch and Watch produces no event, even though fsnotify reports it
// after the watch has been restored.
func TestFileWatcher_SuppressedWrite(t *testing.T) {
	path := setupTodoFile(t, "Buy milk\n")

	fw, err := NewFileWatcher(quietLogger())
	if err != nil {
		t.Fatalf("NewFileWatcher() failed: %v", err)
	}
	defer fw.Stop()

	if err := fw.Watch(path); err != nil {
		t.Fatalf("Watch() failed: %v", err)
	}
	if err := fw.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	if err := fw.Unwatch(path); err != nil {
		t.Fatalf("Unwatch() failed: %v", err)
	}
	if fw.IsWatched(path) {
		t.Error("Path should not be watched after Unwatch()")
	}
	if err := os.WriteFile(path, []byte("Buy milk\nPay rent\n"), 0644); err != nil {
		t.Fatalf("Failed to write todo file: %v", err)
	}
	if err := fw.Watch(path); err != nil {
		t.Fatalf("Watch() failed: %v", err)
	}

	expectNoEvent(t, fw, 300*time.Millisecond)

	// A later outside edit is still reported.
	if err := os.WriteFile(path, []byte("Pay rent\n"), 0644); err != nil {
		t.Fatalf("Failed to write todo file: %v", err)
	}
	select {
	case <-fw.Events():
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout waiting for event after rewatch")
	}
}

// TestFileWatcher_IgnoresOtherFiles verifies that files sharing the
// directory but never watched produce no events.
func TestFileWatcher_IgnoresOtherFiles(t *testing.T) {
	path := setupTodoFile(t, "Buy milk\n")

	fw, err := NewFileWatcher(quietLogger())
	if err != nil {
		t.Fatalf("NewFileWatcher() failed: %v", err)
	}
	defer fw.Stop()

	if err := fw.Watch(path); err != nil {
		t.Fatalf("Watch() failed: %v", err)
	}
	if err := fw.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	other := filepath.Join(filepath.Dir(path), "done.txt")
	if err := os.WriteFile(other, []byte("x Old task\n"), 0644); err != nil {
		t.Fatalf("Failed to write other file: %v", err)
	}

	expectNoEvent(t, fw, 300*time.Millisecond)
}

// TestFileWatcher_WatchIdempotent verifies that watching twice keeps the
// original baseline and a single registration.
func TestFileWatcher_WatchIdempotent(t *testing.T) {
	path := setupTodoFile(t, "Buy milk\n")

	fw, err := NewFileWatcher(quietLogger())
	if err != nil {
		t.Fatalf("NewFileWatcher() failed: %v", err)
	}
	defer fw.Stop()

	for i := 0; i < 2; i++ {
		if err := fw.Watch(path); err != nil {
			t.Fatalf("Watch() #%d failed: %v", i+1, err)
		}
	}
	if !fw.IsWatched(path) {
		t.Error("Path should be watched")
	}
	if len(fw.dirs) != 1 {
		t.Errorf("Expected 1 watched directory, got %d", len(fw.dirs))
	}

	// Unwatch of a path never watched is harmless.
	if err := fw.Unwatch(filepath.Join(filepath.Dir(path), "missing.txt")); err != nil {
		t.Errorf("Unwatch() of unknown path failed: %v", err)
	}
}

func TestEventOpString(t *testing.T) {
	tests := []struct {
		op   EventOp
		want string
	}{
		{OpCreate, "create"},
		{OpModify, "modify"},
		{OpDelete, "delete"},
		{EventOp(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.op.String(); got != tt.want {
			t.Errorf("EventOp(%d).String() = %q, want %q", tt.op, got, tt.want)
		}
	}
}
