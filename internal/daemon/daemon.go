package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mschirtzinger/todosync/internal/schema"
	todosync "github.com/mschirtzinger/todosync/internal/sync"
)

// ErrStopped is returned by Submit once the daemon has shut down.
var ErrStopped = errors.New("daemon stopped")

// Config holds configuration for the daemon.
type Config struct {
	// DebounceInterval is how long a file must stay quiet before a change
	// signal triggers a rescan. This batches rapid writes together.
	DebounceInterval time.Duration

	// RescanInterval forces a periodic full scan. Zero disables it.
	RescanInterval time.Duration

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DebounceInterval: 100 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// RequestKind selects what a submitted request does.
type RequestKind int

const (
	// RequestScan performs a full scan.
	RequestScan RequestKind = iota
	// RequestRetrieve re-emits a single item.
	RequestRetrieve
	// RequestCreate appends an item.
	RequestCreate
	// RequestUpdate replaces an item's line.
	RequestUpdate
	// RequestDelete removes an item's line.
	RequestDelete
	// RequestReconfigure points the collection at another file.
	RequestReconfigure
)

// String returns a human-readable representation of the request kind.
func (k RequestKind) String() string {
	switch k {
	case RequestScan:
		return "scan"
	case RequestRetrieve:
		return "retrieve"
	case RequestCreate:
		return "create"
	case RequestUpdate:
		return "update"
	case RequestDelete:
		return "delete"
	case RequestReconfigure:
		return "reconfigure"
	default:
		return "unknown"
	}
}

// Request is a unit of work for the event loop.
type Request struct {
	Kind RequestKind

	// Item is the subject of retrieve, create, update and delete.
	Item *schema.Item

	// Path is the new file for RequestReconfigure.
	Path string
}

// Result is what a request produced.
type Result struct {
	// ID identifies the request in the daemon log.
	ID string

	// Item is set for retrieve, create and update.
	Item *schema.Item

	// Items is set for scan.
	Items []*schema.Item
}

type envelope struct {
	id   string
	req  Request
	done chan outcome
}

type outcome struct {
	result *Result
	err    error
}

// Daemon runs the engine behind a single event loop.
//
// Mutation requests and debounced change signals are handled by the same
// goroutine, so no two operations ever run against the file at once.
type Daemon struct {
	engine  *todosync.Engine
	watcher *FileWatcher
	path    string
	config  *Config

	requests chan *envelope
	pending  map[string]time.Time // path -> last change signal

	ready     chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	stopOnce  sync.Once
	stopErr   error
	scanCount int
	countMu   sync.Mutex
}

// New creates a daemon for the todo file at path.
//
// The engine must have been created with watcher as its Watcher, so that
// the engine's unwatch/rewatch bracketing applies to the events this
// daemon consumes.
func New(engine *todosync.Engine, watcher *FileWatcher, path string) (*Daemon, error) {
	return NewWithConfig(engine, watcher, path, DefaultConfig())
}

// NewWithConfig creates a daemon with custom configuration.
func NewWithConfig(engine *todosync.Engine, watcher *FileWatcher, path string, config *Config) (*Daemon, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if watcher == nil {
		return nil, fmt.Errorf("watcher cannot be nil")
	}
	if path == "" {
		return nil, fmt.Errorf("path cannot be empty")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = DefaultConfig().Logger
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = DefaultConfig().DebounceInterval
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		engine:   engine,
		watcher:  watcher,
		path:     path,
		config:   config,
		requests: make(chan *envelope),
		pending:  make(map[string]time.Time),
		ready:    make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Start registers the collection, performs the initial full scan and then
// serves requests and change signals.
//
// This blocks until ctx is cancelled or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	if _, err := d.engine.Register(d.path); err != nil {
		return fmt.Errorf("failed to register %s: %w", d.path, err)
	}

	// A failed initial scan leaves the collection registered and broken;
	// the next change signal or request retries.
	if _, err := d.engine.Scan(ctx); err != nil {
		d.config.Logger.Printf("Warning: initial scan failed: %v", err)
	}

	if err := d.watcher.Start(); err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}

	d.config.Logger.Printf("Watching: %s", d.path)

	d.wg.Add(1)
	go d.loop()
	close(d.ready)

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Ready is closed once the event loop is serving requests.
func (d *Daemon) Ready() <-chan struct{} {
	return d.ready
}

// Stop gracefully shuts down the daemon. It is safe to call more than once.
func (d *Daemon) Stop() error {
	d.stopOnce.Do(func() {
		d.config.Logger.Println("Stopping daemon")

		d.cancel()

		if err := d.watcher.Stop(); err != nil {
			d.config.Logger.Printf("Error closing watcher: %v", err)
			d.stopErr = err
		}

		d.wg.Wait()
		d.config.Logger.Println("Daemon stopped")
	})
	return d.stopErr
}

// Submit hands a request to the event loop and waits for its result.
func (d *Daemon) Submit(ctx context.Context, req Request) (*Result, error) {
	env := &envelope{
		id:   uuid.NewString(),
		req:  req,
		done: make(chan outcome, 1),
	}

	select {
	case d.requests <- env:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-d.ctx.Done():
		return nil, ErrStopped
	}

	select {
	case out := <-env.done:
		return out.result, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ScanCount returns how many change-triggered rescans have run.
func (d *Daemon) ScanCount() int {
	d.countMu.Lock()
	defer d.countMu.Unlock()
	return d.scanCount
}

// loop is the single goroutine that touches the engine after startup.
func (d *Daemon) loop() {
	defer d.wg.Done()

	debounce := time.NewTicker(d.config.DebounceInterval)
	defer debounce.Stop()

	var rescan <-chan time.Time
	if d.config.RescanInterval > 0 {
		t := time.NewTicker(d.config.RescanInterval)
		defer t.Stop()
		rescan = t.C
	}

	events := d.watcher.Events()
	errs := d.watcher.Errors()

	for {
		select {
		case <-d.ctx.Done():
			return

		case env := <-d.requests:
			result, err := d.handle(env)
			env.done <- outcome{result: result, err: err}

		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			d.config.Logger.Printf("File event: %s %s", event.Op, event.Path)
			d.pending[event.Path] = time.Now()

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			d.config.Logger.Printf("Watcher error: %v", err)

		case <-debounce.C:
			d.processPendingChanges()

		case <-rescan:
			if _, err := d.engine.Scan(d.ctx); err != nil {
				d.config.Logger.Printf("Periodic rescan failed: %v", err)
			}
		}
	}
}

// processPendingChanges rescans for files that have been quiet for at
// least the debounce interval.
func (d *Daemon) processPendingChanges() {
	now := time.Now()
	for path, queuedAt := range d.pending {
		if now.Sub(queuedAt) < d.config.DebounceInterval {
			continue
		}
		delete(d.pending, path)

		ran, err := d.engine.HandleExternalChange(d.ctx, path)
		if err != nil {
			d.config.Logger.Printf("Error resynchronizing %s: %v", path, err)
		}
		if ran {
			d.countMu.Lock()
			d.scanCount++
			d.countMu.Unlock()
		}
	}
}

func (d *Daemon) handle(env *envelope) (*Result, error) {
	req := env.req
	res := &Result{ID: env.id}
	d.config.Logger.Printf("Request %s: %s", env.id, req.Kind)

	var err error
	switch req.Kind {
	case RequestScan:
		res.Items, err = d.engine.Scan(d.ctx)
	case RequestRetrieve:
		res.Item, err = d.engine.RetrieveItem(d.ctx, req.Item)
	case RequestCreate:
		res.Item, err = d.engine.Create(d.ctx, nil, req.Item)
	case RequestUpdate:
		res.Item, err = d.engine.Update(d.ctx, req.Item)
	case RequestDelete:
		err = d.engine.Delete(d.ctx, req.Item)
	case RequestReconfigure:
		err = d.engine.Reconfigure(d.ctx, req.Path)
		if err == nil {
			d.path = req.Path
		}
	default:
		err = fmt.Errorf("unknown request kind %d", req.Kind)
	}

	if err != nil {
		d.config.Logger.Printf("Request %s failed: %v", env.id, err)
		return nil, err
	}
	return res, nil
}
