package sync

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	gosync "sync"

	"github.com/mschirtzinger/todosync/internal/identity"
	"github.com/mschirtzinger/todosync/internal/linestore"
	"github.com/mschirtzinger/todosync/internal/schema"
)

// State is the engine's position in its state machine.
type State int

const (
	// StateIdle accepts any operation.
	StateIdle State = iota
	// StateScanning is a full file-to-items enumeration.
	StateScanning
	// StateMutating is a create, update or delete.
	StateMutating
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScanning:
		return "scanning"
	case StateMutating:
		return "mutating"
	default:
		return "unknown"
	}
}

// Config holds configuration for the engine.
type Config struct {
	// Scheme is the identity scheme used for scans and mutations alike.
	Scheme identity.Scheme

	// Name is the collection display name (default: file base name).
	Name string

	// Logger for engine activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Scheme: identity.ContentHash,
		Logger: log.New(os.Stderr, "[sync] ", log.LstdFlags),
	}
}

// Engine reconciles one todo.txt file with an item collection.
//
// Operations are serialized: at most one scan or mutation runs at a time.
// The engine keeps no copy of the file's contents; every operation
// re-reads the file and re-derives identifiers from scratch.
type Engine struct {
	scheme  identity.Scheme
	name    string
	watcher Watcher
	host    Host
	logger  *log.Logger

	// mu serializes operations.
	mu         gosync.Mutex
	collection *schema.Collection
	broken     bool

	stateMu gosync.Mutex
	state   State
}

// New creates an engine. A nil watcher disables change detection and a nil
// host discards emitted items.
func New(watcher Watcher, host Host, config *Config) *Engine {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	if watcher == nil {
		watcher = NopWatcher{}
	}
	if host == nil {
		host = NopHost{}
	}

	return &Engine{
		scheme:  config.Scheme,
		name:    config.Name,
		watcher: watcher,
		host:    host,
		logger:  config.Logger,
	}
}

// Scheme returns the identity scheme in use.
func (e *Engine) Scheme() identity.Scheme {
	return e.scheme
}

// State returns the current state.
func (e *Engine) State() State {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.stateMu.Lock()
	e.state = s
	e.stateMu.Unlock()
}

// Collection returns the registered collection, or nil.
func (e *Engine) Collection() *schema.Collection {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.collection
}

// Register builds the collection for path, starts watching it and
// announces it to the host.
func (e *Engine) Register(path string) (*schema.Collection, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.registerLocked(path)
}

func (e *Engine) registerLocked(path string) (*schema.Collection, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, e.fail("register collection", fmt.Errorf("failed to resolve %s: %w", path, err))
	}

	col := schema.NewCollection(abs, e.name)
	if err := e.watcher.Watch(abs); err != nil {
		// The collection still works; only external edits go unnoticed.
		e.logger.Printf("Warning: failed to watch %s: %v", abs, err)
	}
	e.collection = col

	e.logger.Printf("Registered collection %s (%s scheme)", abs, e.scheme)
	e.host.CollectionsRetrieved([]*schema.Collection{col})
	return col, nil
}

// Reconfigure points the engine at a new file: the old path is unwatched,
// the new one registered and scanned. An unchanged path is a no-op.
func (e *Engine) Reconfigure(ctx context.Context, path string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	abs, err := filepath.Abs(path)
	if err != nil {
		return e.fail("reconfigure", fmt.Errorf("failed to resolve %s: %w", path, err))
	}
	if e.collection != nil {
		if e.collection.Path == abs {
			return nil
		}
		if err := e.watcher.Unwatch(e.collection.Path); err != nil {
			e.logger.Printf("Warning: failed to unwatch %s: %v", e.collection.Path, err)
		}
	}

	if _, err := e.registerLocked(abs); err != nil {
		return err
	}
	_, err = e.scanLocked(ctx)
	return err
}

// Scan reads the whole file and emits its items as the authoritative
// state of the collection.
func (e *Engine) Scan(ctx context.Context) ([]*schema.Item, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.scanLocked(ctx)
}

func (e *Engine) scanLocked(ctx context.Context) ([]*schema.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	col := e.collection
	if col == nil {
		return nil, e.fail("scan", ErrNotRegistered)
	}

	e.setState(StateScanning)
	defer e.setState(StateIdle)

	lines, err := linestore.New(col.Path).ReadAll()
	if err != nil {
		return nil, e.fail("scan", err)
	}

	items := make([]*schema.Item, 0, len(lines))
	for _, line := range lines {
		items = append(items, schema.NewItem(col.Path, line, e.scheme.Identify(line)))
	}

	e.logger.Printf("Scanned %d items from %s", len(items), col.Path)
	e.host.ItemsRetrieved(col, items)
	e.recovered()
	return items, nil
}

// HandleExternalChange reacts to a change signal for path by rescanning.
// Signals for other paths, or arriving while an operation is in flight,
// are dropped; it reports whether a scan ran.
func (e *Engine) HandleExternalChange(ctx context.Context, path string) (bool, error) {
	if !e.mu.TryLock() {
		e.logger.Printf("Ignoring change signal for %s: engine is %s", path, e.State())
		return false, nil
	}
	defer e.mu.Unlock()

	if e.collection == nil || !samePath(e.collection.Path, path) {
		return false, nil
	}

	e.logger.Printf("Change in %s detected, resynchronizing", path)
	_, err := e.scanLocked(ctx)
	return err == nil, err
}

// RetrieveItem re-emits an item already materialized by a scan.
func (e *Engine) RetrieveItem(ctx context.Context, item *schema.Item) (*schema.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if item == nil {
		return nil, fmt.Errorf("retrieve item: nil item")
	}
	e.host.ItemRetrieved(item)
	return item, nil
}

// Create appends item's summary to the collection file and returns the new
// item with its remote id. A nil collection means the registered one.
func (e *Engine) Create(ctx context.Context, col *schema.Collection, item *schema.Item) (*schema.Item, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if col == nil {
		col = e.collection
	}
	if col == nil {
		return nil, e.fail("create item", ErrNotRegistered)
	}
	if !item.HasPayload() {
		return nil, e.fail("create item", fmt.Errorf("%w: nothing to add", ErrMissingPayload))
	}

	e.setState(StateMutating)
	defer e.setState(StateIdle)

	summary := item.Payload.Summary
	var pos int
	err := e.withSuppressed(col.Path, func() error {
		var err error
		pos, err = linestore.New(col.Path).Append(summary)
		return err
	})
	if err != nil {
		return nil, e.fail("create item", err)
	}

	line := schema.LineRecord{Position: pos, Content: summary}
	created := withLine(item, col.Path, line, e.scheme.Identify(line))

	e.logger.Printf("Created %s", created.RemoteID)
	e.host.ChangeCommitted(schema.Change{Kind: schema.ChangeCreated, Item: created})
	e.recovered()
	return created, nil
}

// Update replaces the line addressed by item.RemoteID with item's summary
// and returns the item under its new remote id.
func (e *Engine) Update(ctx context.Context, item *schema.Item) (*schema.Item, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if item == nil || !item.HasPayload() {
		return nil, e.fail("update item", fmt.Errorf("%w: nothing to change", ErrMissingPayload))
	}

	path, id, match, err := e.target(item)
	if err != nil {
		return nil, e.fail("update item", err)
	}

	e.setState(StateMutating)
	defer e.setState(StateIdle)

	summary := item.Payload.Summary
	pos := linestore.NoMatch
	err = e.withSuppressed(path, func() error {
		var err error
		pos, err = linestore.New(path).ReplaceLine(match, summary)
		return err
	})
	if err != nil {
		return nil, e.fail("update item", err)
	}

	newID := id
	line := schema.LineRecord{Position: item.Position, Content: summary}
	if pos == linestore.NoMatch {
		e.logger.Printf("Warning: no line matches %s, file left unchanged", item.RemoteID)
		if e.scheme == identity.ContentHash {
			newID = e.scheme.Identify(line)
		}
	} else {
		line.Position = pos
		newID = e.scheme.Identify(line)
	}

	updated := withLine(item, path, line, newID)
	e.logger.Printf("Updated %s -> %s", item.RemoteID, updated.RemoteID)
	e.host.ChangeCommitted(schema.Change{Kind: schema.ChangeUpdated, Previous: item, Item: updated})
	e.recovered()
	return updated, nil
}

// Delete removes the line addressed by item.RemoteID.
func (e *Engine) Delete(ctx context.Context, item *schema.Item) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if item == nil {
		return e.fail("delete item", fmt.Errorf("%w: nil item", ErrMalformedIdentifier))
	}

	path, _, match, err := e.target(item)
	if err != nil {
		return e.fail("delete item", err)
	}

	e.setState(StateMutating)
	defer e.setState(StateIdle)

	pos := linestore.NoMatch
	err = e.withSuppressed(path, func() error {
		var err error
		pos, err = linestore.New(path).DeleteLine(match)
		return err
	})
	if err != nil {
		return e.fail("delete item", err)
	}
	if pos == linestore.NoMatch {
		e.logger.Printf("Warning: no line matches %s, file left unchanged", item.RemoteID)
	}

	e.logger.Printf("Deleted %s", item.RemoteID)
	e.host.ChangeCommitted(schema.Change{Kind: schema.ChangeDeleted, Previous: item})
	e.recovered()
	return nil
}

// target parses a remote id into the file path, identifier and matcher.
func (e *Engine) target(item *schema.Item) (string, string, linestore.Matcher, error) {
	if e.collection == nil {
		return "", "", nil, ErrNotRegistered
	}

	path, id, err := schema.ParseRemoteID(item.RemoteID)
	if err != nil {
		return "", "", nil, fmt.Errorf("%w: %w", ErrMalformedIdentifier, err)
	}
	if !samePath(path, e.collection.Path) {
		return "", "", nil, fmt.Errorf("%w: remote id %q does not belong to %s",
			ErrMalformedIdentifier, item.RemoteID, e.collection.Path)
	}

	match, err := e.scheme.Matcher(id)
	if err != nil {
		return "", "", nil, err
	}
	return e.collection.Path, id, match, nil
}

// withSuppressed runs write with change notifications for path switched
// off. The watch is restored on every exit path.
func (e *Engine) withSuppressed(path string, write func() error) error {
	if err := e.watcher.Unwatch(path); err != nil {
		e.logger.Printf("Warning: failed to unwatch %s: %v", path, err)
	}
	defer func() {
		if err := e.watcher.Watch(path); err != nil {
			e.logger.Printf("Warning: failed to rewatch %s: %v", path, err)
		}
	}()
	return write()
}

// fail reports err to the host and returns it.
func (e *Engine) fail(op string, err error) error {
	message := fmt.Sprintf("%s: %v", op, err)
	e.logger.Printf("Error: %s", message)
	e.host.Error(message)
	if IsBroken(err) {
		e.broken = true
		e.host.Status(StatusBroken, message)
	}
	return err
}

// recovered clears a previous broken status after a successful operation.
func (e *Engine) recovered() {
	if e.broken {
		e.broken = false
		e.host.Status(StatusIdle, "Ready")
	}
}

func withLine(item *schema.Item, path string, line schema.LineRecord, id string) *schema.Item {
	out := *item
	out.CollectionKey = path
	out.RemoteID = schema.FormatRemoteID(path, id)
	out.MimeType = schema.TodoMimeType
	out.Payload = &schema.Todo{Summary: line.Content}
	out.Position = line.Position
	return &out
}

func samePath(a, b string) bool {
	return filepath.Clean(a) == filepath.Clean(b)
}
