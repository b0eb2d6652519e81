package sync

import "github.com/mschirtzinger/todosync/internal/schema"

// Status is the health of a collection as reported to hosts.
type Status int

const (
	// StatusIdle means the last operation succeeded.
	StatusIdle Status = iota
	// StatusRunning means an operation is in progress.
	StatusRunning
	// StatusBroken means the last operation failed. The collection stays
	// registered and accepts further requests.
	StatusBroken
)

// String returns a human-readable representation of the status.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusRunning:
		return "running"
	case StatusBroken:
		return "broken"
	default:
		return "unknown"
	}
}

// Host receives everything the engine emits.
//
// A host is the item-collection side of the synchronization: it owns the
// caller's view of the items and reconciles it against what the engine
// reports.
type Host interface {
	// CollectionsRetrieved announces the collection after registration.
	CollectionsRetrieved(collections []*schema.Collection)

	// ItemsRetrieved delivers the complete item set of a collection.
	//
	// This is a replace-by-full-enumeration protocol: the host is expected
	// to add items it has not seen, drop items missing from the set and
	// keep the rest. No incremental diff is sent.
	ItemsRetrieved(collection *schema.Collection, items []*schema.Item)

	// ItemRetrieved re-emits a single item already known to the host.
	ItemRetrieved(item *schema.Item)

	// ChangeCommitted acknowledges a create, update or delete.
	ChangeCommitted(change schema.Change)

	// Error reports a failed operation with a human-readable message.
	Error(message string)

	// Status reports the collection's health.
	Status(status Status, message string)
}

// Watcher observes the backing file for external modification.
//
// The engine unwatches a path before each of its own writes and watches it
// again afterwards, so self-initiated writes never come back as change
// signals.
type Watcher interface {
	// Watch registers path. Registering the same path twice must not
	// duplicate notifications.
	Watch(path string) error

	// Unwatch removes the registration for path.
	Unwatch(path string) error
}

// MultiHost fans every call out to several hosts in order.
type MultiHost []Host

func (m MultiHost) CollectionsRetrieved(collections []*schema.Collection) {
	for _, h := range m {
		h.CollectionsRetrieved(collections)
	}
}

func (m MultiHost) ItemsRetrieved(collection *schema.Collection, items []*schema.Item) {
	for _, h := range m {
		h.ItemsRetrieved(collection, items)
	}
}

func (m MultiHost) ItemRetrieved(item *schema.Item) {
	for _, h := range m {
		h.ItemRetrieved(item)
	}
}

func (m MultiHost) ChangeCommitted(change schema.Change) {
	for _, h := range m {
		h.ChangeCommitted(change)
	}
}

func (m MultiHost) Error(message string) {
	for _, h := range m {
		h.Error(message)
	}
}

func (m MultiHost) Status(status Status, message string) {
	for _, h := range m {
		h.Status(status, message)
	}
}

// NopHost discards everything.
type NopHost struct{}

func (NopHost) CollectionsRetrieved([]*schema.Collection)          {}
func (NopHost) ItemsRetrieved(*schema.Collection, []*schema.Item) {}
func (NopHost) ItemRetrieved(*schema.Item)                        {}
func (NopHost) ChangeCommitted(schema.Change)                     {}
func (NopHost) Error(string)                                      {}
func (NopHost) Status(Status, string)                             {}

// NopWatcher never reports changes. One-shot commands use it.
type NopWatcher struct{}

func (NopWatcher) Watch(string) error   { return nil }
func (NopWatcher) Unwatch(string) error { return nil }
