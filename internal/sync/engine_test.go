package sync

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	gosync "sync"
	"testing"

	"github.com/mschirtzinger/todosync/internal/identity"
	"github.com/mschirtzinger/todosync/internal/schema"
)

// fakeWatcher records Watch/Unwatch calls in order.
type fakeWatcher struct {
	mu    gosync.Mutex
	calls []string
}

func (w *fakeWatcher) Watch(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls = append(w.calls, "watch "+filepath.Base(path))
	return nil
}

func (w *fakeWatcher) Unwatch(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls = append(w.calls, "unwatch "+filepath.Base(path))
	return nil
}

func (w *fakeWatcher) reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls = nil
}

// recordingHost captures everything the engine emits.
type recordingHost struct {
	collections []*schema.Collection
	scans       [][]*schema.Item
	retrieved   []*schema.Item
	changes     []schema.Change
	errors      []string
	statuses    []Status
}

func (h *recordingHost) CollectionsRetrieved(c []*schema.Collection) {
	h.collections = append(h.collections, c...)
}

func (h *recordingHost) ItemsRetrieved(_ *schema.Collection, items []*schema.Item) {
	h.scans = append(h.scans, items)
}

func (h *recordingHost) ItemRetrieved(item *schema.Item) { h.retrieved = append(h.retrieved, item) }

func (h *recordingHost) ChangeCommitted(c schema.Change) { h.changes = append(h.changes, c) }

func (h *recordingHost) Error(msg string) { h.errors = append(h.errors, msg) }

func (h *recordingHost) Status(s Status, _ string) { h.statuses = append(h.statuses, s) }

func quietConfig(scheme identity.Scheme) *Config {
	return &Config{Scheme: scheme, Logger: log.New(io.Discard, "", 0)}
}

// setupEngine writes lines to a todo file and returns a registered engine.
func setupEngine(t *testing.T, scheme identity.Scheme, lines ...string) (*Engine, *fakeWatcher, *recordingHost, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "todo.txt")
	content := ""
	if len(lines) > 0 {
		content = strings.Join(lines, "\n") + "\n"
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write todo file: %v", err)
	}

	w := &fakeWatcher{}
	h := &recordingHost{}
	e := New(w, h, quietConfig(scheme))
	if _, err := e.Register(path); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}
	w.reset()
	return e, w, h, path
}

func fileLines(t *testing.T, path string) []string {
	t.Helper()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read %s: %v", path, err)
	}
	s := strings.TrimSuffix(string(data), "\n")
	if s == "" {
		return []string{}
	}
	return strings.Split(s, "\n")
}

func todo(summary string) *schema.Item {
	return &schema.Item{Payload: &schema.Todo{Summary: summary}}
}

func TestRegister(t *testing.T) {
	path := filepath.Join(t.TempDir(), "todo.txt")
	w := &fakeWatcher{}
	h := &recordingHost{}
	e := New(w, h, quietConfig(identity.ContentHash))

	col, err := e.Register(path)
	if err != nil {
		t.Fatalf("Register() failed: %v", err)
	}
	if col.Path != path {
		t.Errorf("Path = %q, want %q", col.Path, path)
	}
	if len(h.collections) != 1 || h.collections[0] != col {
		t.Errorf("host saw collections %v", h.collections)
	}
	if !reflect.DeepEqual(w.calls, []string{"watch todo.txt"}) {
		t.Errorf("watcher calls = %v", w.calls)
	}
}

func TestScan_ContentHashRoundTrip(t *testing.T) {
	lines := []string{"Buy milk", "Call Bob", "(A) Pay rent +home @phone"}
	e, _, h, path := setupEngine(t, identity.ContentHash, lines...)

	items, err := e.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan() failed: %v", err)
	}
	if len(items) != len(lines) {
		t.Fatalf("Scan() returned %d items, want %d", len(items), len(lines))
	}
	for i, item := range items {
		if item.Summary() != lines[i] {
			t.Errorf("item %d summary = %q, want %q", i, item.Summary(), lines[i])
		}
		want := schema.FormatRemoteID(path, identity.Hash(item.Summary()))
		if item.RemoteID != want {
			t.Errorf("item %d RemoteID = %q, want %q", i, item.RemoteID, want)
		}
		if item.CollectionKey != path {
			t.Errorf("item %d CollectionKey = %q", i, item.CollectionKey)
		}
	}
	if len(h.scans) != 1 {
		t.Errorf("host received %d scans, want 1", len(h.scans))
	}
	if e.State() != StateIdle {
		t.Errorf("State() = %v after scan, want idle", e.State())
	}
}

func TestScan_Idempotent(t *testing.T) {
	for _, scheme := range []identity.Scheme{identity.ContentHash, identity.Positional} {
		t.Run(scheme.String(), func(t *testing.T) {
			e, _, _, _ := setupEngine(t, scheme, "a", "b", "a", "")

			first, err := e.Scan(context.Background())
			if err != nil {
				t.Fatalf("first Scan() failed: %v", err)
			}
			second, err := e.Scan(context.Background())
			if err != nil {
				t.Fatalf("second Scan() failed: %v", err)
			}
			if !reflect.DeepEqual(first, second) {
				t.Errorf("rescan differs:\n first=%+v\nsecond=%+v", first, second)
			}
		})
	}
}

func TestScan_MissingFile(t *testing.T) {
	e, _, h, path := setupEngine(t, identity.ContentHash)
	if err := os.Remove(path); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}

	_, err := e.Scan(context.Background())
	if !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("Scan() error = %v, want ErrStorageUnavailable", err)
	}
	if len(h.errors) != 1 {
		t.Errorf("host errors = %v, want one", h.errors)
	}
	if len(h.statuses) != 1 || h.statuses[0] != StatusBroken {
		t.Errorf("statuses = %v, want [broken]", h.statuses)
	}

	// The collection stays usable and recovers once the file is back.
	if err := os.WriteFile(path, []byte("back\n"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if _, err := e.Scan(context.Background()); err != nil {
		t.Fatalf("Scan() after recovery failed: %v", err)
	}
	if last := h.statuses[len(h.statuses)-1]; last != StatusIdle {
		t.Errorf("final status = %v, want idle", last)
	}
}

func TestScan_NotRegistered(t *testing.T) {
	e := New(nil, nil, quietConfig(identity.ContentHash))
	if _, err := e.Scan(context.Background()); !errors.Is(err, ErrNotRegistered) {
		t.Errorf("Scan() error = %v, want ErrNotRegistered", err)
	}
}

func TestCreate_Positional(t *testing.T) {
	e, w, h, path := setupEngine(t, identity.Positional, "Buy milk", "Call Bob", "Water plants")

	created, err := e.Create(context.Background(), nil, todo("Pay rent"))
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if created.Identifier() != "3" {
		t.Errorf("Identifier() = %q, want 3", created.Identifier())
	}
	if !reflect.DeepEqual(w.calls, []string{"unwatch todo.txt", "watch todo.txt"}) {
		t.Errorf("watcher calls = %v", w.calls)
	}
	if len(h.changes) != 1 || h.changes[0].Kind != schema.ChangeCreated {
		t.Fatalf("changes = %+v", h.changes)
	}

	items, err := e.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan() failed: %v", err)
	}
	if len(items) != 4 {
		t.Fatalf("Scan() returned %d items, want 4", len(items))
	}
	if items[3].RemoteID != created.RemoteID || items[3].Summary() != "Pay rent" {
		t.Errorf("rescanned item = %+v, want remote id %s", items[3], created.RemoteID)
	}
	if got := fileLines(t, path); len(got) != 4 {
		t.Errorf("file has %d lines, want 4", len(got))
	}
}

func TestCreate_ContentHash(t *testing.T) {
	e, _, _, path := setupEngine(t, identity.ContentHash, "Buy milk")

	created, err := e.Create(context.Background(), nil, todo("Call Bob"))
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if want := schema.FormatRemoteID(path, identity.Hash("Call Bob")); created.RemoteID != want {
		t.Errorf("RemoteID = %q, want %q", created.RemoteID, want)
	}
	if created.Position != 1 {
		t.Errorf("Position = %d, want 1", created.Position)
	}
}

func TestCreate_MissingPayload(t *testing.T) {
	e, w, h, path := setupEngine(t, identity.ContentHash, "a")

	_, err := e.Create(context.Background(), nil, &schema.Item{})
	if !errors.Is(err, ErrMissingPayload) {
		t.Fatalf("Create() error = %v, want ErrMissingPayload", err)
	}
	if len(h.changes) != 0 {
		t.Errorf("change committed despite failure: %+v", h.changes)
	}
	if len(w.calls) != 0 {
		t.Errorf("watcher touched for rejected request: %v", w.calls)
	}
	if got := fileLines(t, path); !reflect.DeepEqual(got, []string{"a"}) {
		t.Errorf("file = %q", got)
	}
}

func TestCreate_StorageUnavailable(t *testing.T) {
	w := &fakeWatcher{}
	h := &recordingHost{}
	e := New(w, h, quietConfig(identity.ContentHash))
	path := filepath.Join(t.TempDir(), "no-such-dir", "todo.txt")
	if _, err := e.Register(path); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}
	w.reset()

	_, err := e.Create(context.Background(), nil, todo("x"))
	if !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("Create() error = %v, want ErrStorageUnavailable", err)
	}
	if len(h.changes) != 0 {
		t.Errorf("change committed despite failure")
	}
	// The watch is restored even though the write failed.
	if !reflect.DeepEqual(w.calls, []string{"unwatch todo.txt", "watch todo.txt"}) {
		t.Errorf("watcher calls = %v", w.calls)
	}
	if len(h.statuses) == 0 || h.statuses[len(h.statuses)-1] != StatusBroken {
		t.Errorf("statuses = %v, want broken", h.statuses)
	}
}

func TestUpdate_ContentHash(t *testing.T) {
	e, w, h, path := setupEngine(t, identity.ContentHash, "one", "two", "three")

	items, err := e.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan() failed: %v", err)
	}
	target := items[1]
	target.Payload = &schema.Todo{Summary: "TWO"}

	updated, err := e.Update(context.Background(), target)
	if err != nil {
		t.Fatalf("Update() failed: %v", err)
	}

	if got := fileLines(t, path); !reflect.DeepEqual(got, []string{"one", "TWO", "three"}) {
		t.Errorf("file = %q", got)
	}
	if want := schema.FormatRemoteID(path, identity.Hash("TWO")); updated.RemoteID != want {
		t.Errorf("RemoteID = %q, want %q", updated.RemoteID, want)
	}
	if updated.Position != 1 {
		t.Errorf("Position = %d, want 1", updated.Position)
	}
	if !reflect.DeepEqual(w.calls, []string{"unwatch todo.txt", "watch todo.txt"}) {
		t.Errorf("watcher calls = %v", w.calls)
	}
	last := h.changes[len(h.changes)-1]
	if last.Kind != schema.ChangeUpdated || last.Previous != target || last.Item.RemoteID != updated.RemoteID {
		t.Errorf("committed change = %+v", last)
	}
}

func TestUpdate_PositionalKeepsIdentifier(t *testing.T) {
	e, _, _, path := setupEngine(t, identity.Positional, "one", "two", "three")

	item := &schema.Item{
		RemoteID: schema.FormatRemoteID(path, "2"),
		Payload:  &schema.Todo{Summary: "THREE"},
	}
	updated, err := e.Update(context.Background(), item)
	if err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
	if updated.RemoteID != item.RemoteID {
		t.Errorf("RemoteID = %q, want %q", updated.RemoteID, item.RemoteID)
	}
	if got := fileLines(t, path); !reflect.DeepEqual(got, []string{"one", "two", "THREE"}) {
		t.Errorf("file = %q", got)
	}
}

func TestUpdate_NoMatchStillCommits(t *testing.T) {
	e, _, h, path := setupEngine(t, identity.ContentHash, "one")

	item := &schema.Item{
		RemoteID: schema.FormatRemoteID(path, identity.Hash("gone")),
		Payload:  &schema.Todo{Summary: "new"},
	}
	if _, err := e.Update(context.Background(), item); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
	if got := fileLines(t, path); !reflect.DeepEqual(got, []string{"one"}) {
		t.Errorf("file = %q", got)
	}
	if len(h.changes) != 1 {
		t.Errorf("changes = %d, want 1", len(h.changes))
	}
}

func TestMalformedIdentifier_LeavesFileUnchanged(t *testing.T) {
	tests := []struct {
		name     string
		scheme   identity.Scheme
		remoteID func(path string) string
	}{
		{"no separator", identity.ContentHash, func(string) string { return "no-separator-here" }},
		{"no separator positional", identity.Positional, func(string) string { return "3" }},
		{"positional not integer", identity.Positional, func(p string) string { return p + "/abc" }},
		{"positional negative", identity.Positional, func(p string) string { return p + "/-1" }},
		{"foreign collection", identity.ContentHash, func(string) string { return "/elsewhere/todo.txt/abc" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, w, h, path := setupEngine(t, tt.scheme, "Buy milk", "Call Bob")
			before, _ := os.ReadFile(path)

			item := &schema.Item{RemoteID: tt.remoteID(path), Payload: &schema.Todo{Summary: "x"}}

			if _, err := e.Update(context.Background(), item); !errors.Is(err, ErrMalformedIdentifier) {
				t.Errorf("Update() error = %v, want ErrMalformedIdentifier", err)
			}
			if err := e.Delete(context.Background(), item); !errors.Is(err, ErrMalformedIdentifier) {
				t.Errorf("Delete() error = %v, want ErrMalformedIdentifier", err)
			}

			after, _ := os.ReadFile(path)
			if string(before) != string(after) {
				t.Errorf("file changed: %q -> %q", before, after)
			}
			if len(w.calls) != 0 {
				t.Errorf("watcher touched: %v", w.calls)
			}
			if len(h.changes) != 0 {
				t.Errorf("changes committed: %+v", h.changes)
			}
			if len(h.errors) != 2 {
				t.Errorf("host errors = %d, want 2", len(h.errors))
			}
		})
	}
}

func TestUpdate_MissingPayload(t *testing.T) {
	e, _, _, path := setupEngine(t, identity.ContentHash, "a")

	item := &schema.Item{RemoteID: schema.FormatRemoteID(path, identity.Hash("a"))}
	if _, err := e.Update(context.Background(), item); !errors.Is(err, ErrMissingPayload) {
		t.Errorf("Update() error = %v, want ErrMissingPayload", err)
	}
}

func TestDelete_DuplicateContentFirstMatch(t *testing.T) {
	e, w, h, path := setupEngine(t, identity.ContentHash, "Buy milk", "Call Bob", "Buy milk")

	item := &schema.Item{RemoteID: schema.FormatRemoteID(path, identity.Hash("Buy milk"))}
	if err := e.Delete(context.Background(), item); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}

	if got := fileLines(t, path); !reflect.DeepEqual(got, []string{"Call Bob", "Buy milk"}) {
		t.Errorf("file = %q, want [Call Bob Buy milk]", got)
	}
	if !reflect.DeepEqual(w.calls, []string{"unwatch todo.txt", "watch todo.txt"}) {
		t.Errorf("watcher calls = %v", w.calls)
	}
	if len(h.changes) != 1 || h.changes[0].Kind != schema.ChangeDeleted || h.changes[0].Item != nil {
		t.Errorf("changes = %+v", h.changes)
	}
}

func TestDelete_PositionalPreservesOrder(t *testing.T) {
	e, _, _, path := setupEngine(t, identity.Positional, "l0", "l1", "l2", "l3")

	item := &schema.Item{RemoteID: schema.FormatRemoteID(path, "1")}
	if err := e.Delete(context.Background(), item); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if got := fileLines(t, path); !reflect.DeepEqual(got, []string{"l0", "l2", "l3"}) {
		t.Errorf("file = %q", got)
	}
}

func TestDelete_MissingFile(t *testing.T) {
	e, w, _, path := setupEngine(t, identity.ContentHash, "a")
	if err := os.Remove(path); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}

	item := &schema.Item{RemoteID: schema.FormatRemoteID(path, identity.Hash("a"))}
	if err := e.Delete(context.Background(), item); !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("Delete() error = %v, want ErrStorageUnavailable", err)
	}
	if !reflect.DeepEqual(w.calls, []string{"unwatch todo.txt", "watch todo.txt"}) {
		t.Errorf("watcher calls = %v", w.calls)
	}
}

func TestRetrieveItem(t *testing.T) {
	e, _, h, _ := setupEngine(t, identity.ContentHash, "a")

	items, err := e.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan() failed: %v", err)
	}
	got, err := e.RetrieveItem(context.Background(), items[0])
	if err != nil {
		t.Fatalf("RetrieveItem() failed: %v", err)
	}
	if got != items[0] || len(h.retrieved) != 1 {
		t.Errorf("RetrieveItem() = %+v, host saw %d", got, len(h.retrieved))
	}
}

func TestHandleExternalChange(t *testing.T) {
	e, _, h, path := setupEngine(t, identity.ContentHash, "a")

	ran, err := e.HandleExternalChange(context.Background(), path)
	if err != nil || !ran {
		t.Fatalf("HandleExternalChange() = (%v, %v), want (true, nil)", ran, err)
	}
	if len(h.scans) != 1 {
		t.Errorf("scans = %d, want 1", len(h.scans))
	}

	ran, _ = e.HandleExternalChange(context.Background(), filepath.Join(filepath.Dir(path), "other.txt"))
	if ran {
		t.Error("scan ran for unrelated path")
	}
}

func TestHandleExternalChange_DroppedWhileBusy(t *testing.T) {
	e, _, h, path := setupEngine(t, identity.ContentHash, "a")

	e.mu.Lock()
	ran, err := e.HandleExternalChange(context.Background(), path)
	e.mu.Unlock()

	if ran || err != nil {
		t.Errorf("HandleExternalChange() = (%v, %v) while busy, want (false, nil)", ran, err)
	}
	if len(h.scans) != 0 {
		t.Errorf("scan ran while busy")
	}
}

func TestReconfigure(t *testing.T) {
	e, w, h, oldPath := setupEngine(t, identity.ContentHash, "old")

	newPath := filepath.Join(t.TempDir(), "work.txt")
	if err := os.WriteFile(newPath, []byte("new 1\nnew 2\n"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	if err := e.Reconfigure(context.Background(), newPath); err != nil {
		t.Fatalf("Reconfigure() failed: %v", err)
	}
	if !reflect.DeepEqual(w.calls, []string{"unwatch todo.txt", "watch work.txt"}) {
		t.Errorf("watcher calls = %v", w.calls)
	}
	if e.Collection().Path != newPath {
		t.Errorf("collection path = %q, want %q", e.Collection().Path, newPath)
	}
	if len(h.scans) != 1 || len(h.scans[0]) != 2 {
		t.Errorf("scans = %v", h.scans)
	}

	w.reset()
	if err := e.Reconfigure(context.Background(), newPath); err != nil {
		t.Fatalf("Reconfigure() to same path failed: %v", err)
	}
	if len(w.calls) != 0 {
		t.Errorf("same-path reconfigure touched watcher: %v", w.calls)
	}
	_ = oldPath
}

func TestCancelledContext(t *testing.T) {
	e, _, h, _ := setupEngine(t, identity.ContentHash, "a")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := e.Create(ctx, nil, todo("x")); !errors.Is(err, context.Canceled) {
		t.Errorf("Create() error = %v, want context.Canceled", err)
	}
	if len(h.statuses) != 0 {
		t.Errorf("cancellation reported as status change: %v", h.statuses)
	}
}

func TestIsRequestError(t *testing.T) {
	if !IsRequestError(ErrMissingPayload) || !IsRequestError(ErrMalformedIdentifier) {
		t.Error("request errors not recognized")
	}
	if IsRequestError(ErrStorageUnavailable) {
		t.Error("storage error classified as request error")
	}
}

func BenchmarkScan(b *testing.B) {
	path := filepath.Join(b.TempDir(), "todo.txt")
	var sb strings.Builder
	for i := 0; i < 1000; i++ {
		sb.WriteString("(B) task number ")
		sb.WriteString(strings.Repeat("x", i%40))
		sb.WriteByte('\n')
	}
	if err := os.WriteFile(path, []byte(sb.String()), 0644); err != nil {
		b.Fatalf("WriteFile failed: %v", err)
	}

	e := New(nil, nil, quietConfig(identity.ContentHash))
	if _, err := e.Register(path); err != nil {
		b.Fatalf("Register() failed: %v", err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := e.Scan(context.Background()); err != nil {
			b.Fatal(err)
		}
	}
}
