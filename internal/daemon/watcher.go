// Package daemon provides file watching and the serialized event loop for
// the todo.txt sync daemon.
package daemon

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// EventOp represents the type of file system operation.
type EventOp int

const (
	// OpCreate indicates the file was (re)created.
	OpCreate EventOp = iota
	// OpModify indicates the file was written.
	OpModify
	// OpDelete indicates the file was removed or renamed away.
	OpDelete
)

// String returns a human-readable representation of the operation.
func (op EventOp) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// FileEvent is a change signal for a watched file.
type FileEvent struct {
	// Path is the absolute path of the file that changed.
	Path string
	// Op is the operation that occurred.
	Op EventOp
}

// fingerprint is what a file looked like when last seen by the watcher.
type fingerprint struct {
	exists  bool
	size    int64
	modTime int64
	mode    os.FileMode
}

func stat(path string) fingerprint {
	info, err := os.Stat(path)
	if err != nil {
		return fingerprint{}
	}
	return fingerprint{
		exists:  true,
		size:    info.Size(),
		modTime: info.ModTime().UnixNano(),
		mode:    info.Mode(),
	}
}

// FileWatcher watches individual files for external modification.
//
// fsnotify watches the parent directory, so the watch survives editors and
// writers that replace the file by renaming over it. Each watched file has
// a baseline fingerprint taken when Watch is called; events that leave the
// file identical to its baseline are dropped. Together with Unwatch this
// keeps a writer's own changes from being reported back to it.
type FileWatcher struct {
	watcher *fsnotify.Watcher
	events  chan FileEvent
	errors  chan error
	done    chan struct{}
	wg      sync.WaitGroup
	logger  *log.Logger

	mu      sync.Mutex
	running bool
	stopped bool
	files   map[string]fingerprint // watched file -> baseline
	dirs    map[string]bool        // directories added to fsnotify
}

// NewFileWatcher creates a new FileWatcher instance.
// Paths may be registered before Start; events flow only after Start.
func NewFileWatcher(logger *log.Logger) (*FileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[watcher] ", log.LstdFlags)
	}

	return &FileWatcher{
		watcher: watcher,
		events:  make(chan FileEvent, 100),
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
		logger:  logger,
		files:   make(map[string]fingerprint),
		dirs:    make(map[string]bool),
	}, nil
}

// Watch registers path. Registering a watched path again is a no-op.
func (fw *FileWatcher) Watch(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", path, err)
	}

	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.stopped {
		return fmt.Errorf("watcher stopped")
	}
	if _, ok := fw.files[abs]; ok {
		return nil
	}

	dir := filepath.Dir(abs)
	if !fw.dirs[dir] {
		if err := fw.watcher.Add(dir); err != nil {
			return fmt.Errorf("failed to watch directory %s: %w", dir, err)
		}
		fw.dirs[dir] = true
		fw.logger.Printf("Watching directory %s", dir)
	}

	fw.files[abs] = stat(abs)
	return nil
}

// Unwatch removes the registration for path. Events for the file are
// dropped until it is watched again.
func (fw *FileWatcher) Unwatch(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", path, err)
	}

	fw.mu.Lock()
	defer fw.mu.Unlock()

	// The directory watch stays: the engine rewatches right after writing
	// and re-adding it would open a window where a real edit is missed.
	delete(fw.files, abs)
	return nil
}

// IsWatched reports whether path is currently registered.
func (fw *FileWatcher) IsWatched(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	fw.mu.Lock()
	defer fw.mu.Unlock()
	_, ok := fw.files[abs]
	return ok
}

// Start begins delivering events.
func (fw *FileWatcher) Start() error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.running {
		return fmt.Errorf("watcher already running")
	}
	if fw.stopped {
		return fmt.Errorf("watcher stopped")
	}

	fw.running = true
	fw.wg.Add(1)
	go fw.processEvents()

	return nil
}

// Stop stops watching and closes the Events and Errors channels.
// It blocks until the event processing goroutine has exited.
func (fw *FileWatcher) Stop() error {
	fw.mu.Lock()
	if fw.stopped {
		fw.mu.Unlock()
		return nil
	}
	fw.stopped = true
	fw.running = false
	fw.mu.Unlock()

	// Signal shutdown
	close(fw.done)

	// Close the underlying watcher (this will unblock the event loop)
	if err := fw.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	fw.wg.Wait()

	close(fw.events)
	close(fw.errors)

	return nil
}

// Events returns the channel that emits FileEvent notifications.
func (fw *FileWatcher) Events() <-chan FileEvent {
	return fw.events
}

// Errors returns the channel that emits watcher errors.
func (fw *FileWatcher) Errors() <-chan error {
	return fw.errors
}

// IsRunning returns true if the watcher is currently running.
func (fw *FileWatcher) IsRunning() bool {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return fw.running
}

// processEvents converts fsnotify events into FileEvent notifications.
func (fw *FileWatcher) processEvents() {
	defer fw.wg.Done()

	for {
		select {
		case <-fw.done:
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}

			if fileEvent, ok := fw.convertEvent(event); ok {
				select {
				case fw.events <- fileEvent:
				case <-fw.done:
					return
				}
			}

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}

			select {
			case fw.errors <- err:
			case <-fw.done:
				return
			}
		}
	}
}

// convertEvent returns (FileEvent, true) for events on a watched file that
// actually changed it, or (FileEvent{}, false) for everything else.
func (fw *FileWatcher) convertEvent(event fsnotify.Event) (FileEvent, bool) {
	var op EventOp
	switch {
	case event.Has(fsnotify.Create):
		op = OpCreate
	case event.Has(fsnotify.Write):
		op = OpModify
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		op = OpDelete
	default:
		// chmod
		return FileEvent{}, false
	}

	abs, err := filepath.Abs(event.Name)
	if err != nil {
		return FileEvent{}, false
	}

	fw.mu.Lock()
	defer fw.mu.Unlock()

	baseline, ok := fw.files[abs]
	if !ok {
		return FileEvent{}, false
	}

	current := stat(abs)
	if current == baseline {
		return FileEvent{}, false
	}
	fw.files[abs] = current

	return FileEvent{Path: abs, Op: op}, true
}
