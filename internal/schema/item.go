// Package schema provides the record types shared by the todo.txt line store,
// the sync engine and the item-collection hosts.
package schema

import (
	"fmt"
	"path/filepath"
	"strings"
)

// TodoMimeType identifies an item as a task-like payload.
const TodoMimeType = "application/x-vnd.akonadi.calendar.todo"

// CollectionMimeType is the content type advertised by a collection.
const CollectionMimeType = "text/calendar"

// RemoteIDSeparator joins the collection path and the line identifier.
const RemoteIDSeparator = "/"

// LineRecord is one physical line of the backing file at scan time.
// It is only valid for the duration of the operation that produced it.
type LineRecord struct {
	Position int
	Content  string
}

// Todo is the payload carried by an item. Only the summary survives a
// round trip through the backing file.
type Todo struct {
	Summary string `json:"summary" yaml:"summary"`
}

// Item is the externally visible unit of state.
type Item struct {
	// CollectionKey is the backing file's path.
	CollectionKey string `json:"collection" yaml:"collection"`

	// RemoteID is CollectionKey + "/" + identifier.
	RemoteID string `json:"remote_id" yaml:"remote_id"`

	MimeType string `json:"mime_type" yaml:"mime_type"`

	// Payload is nil when a request arrives without task data.
	Payload *Todo `json:"payload,omitempty" yaml:"payload,omitempty"`

	// Position is the line ordinal observed when the item was produced.
	Position int `json:"position" yaml:"position"`
}

// NewItem builds the item for a line of the collection file.
func NewItem(collection string, line LineRecord, identifier string) *Item {
	return &Item{
		CollectionKey: collection,
		RemoteID:      FormatRemoteID(collection, identifier),
		MimeType:      TodoMimeType,
		Payload:       &Todo{Summary: line.Content},
		Position:      line.Position,
	}
}

// Summary returns the payload summary, or "" when there is no payload.
func (i *Item) Summary() string {
	if i == nil || i.Payload == nil {
		return ""
	}
	return i.Payload.Summary
}

// HasPayload reports whether the item carries task data.
func (i *Item) HasPayload() bool {
	return i != nil && i.Payload != nil
}

// Identifier returns the identifier part of the remote id, or "" if the
// remote id is malformed.
func (i *Item) Identifier() string {
	_, id, err := ParseRemoteID(i.RemoteID)
	if err != nil {
		return ""
	}
	return id
}

// FormatRemoteID composes a remote id from a collection path and identifier.
func FormatRemoteID(collection, identifier string) string {
	return collection + RemoteIDSeparator + identifier
}

// ParseRemoteID splits a remote id at its last separator.
// It fails when the separator is missing.
func ParseRemoteID(remoteID string) (collection, identifier string, err error) {
	idx := strings.LastIndex(remoteID, RemoteIDSeparator)
	if idx < 0 {
		return "", "", fmt.Errorf("remote id %q has no %q separator", remoteID, RemoteIDSeparator)
	}
	return remoteID[:idx], remoteID[idx+1:], nil
}

// Collection represents the watched file as a whole.
type Collection struct {
	Path             string   `json:"path" yaml:"path"`
	DisplayName      string   `json:"display_name" yaml:"display_name"`
	ContentMimeTypes []string `json:"content_mime_types" yaml:"content_mime_types"`
}

// NewCollection builds the collection record for a todo.txt file.
// An empty name falls back to the file's base name.
func NewCollection(path, name string) *Collection {
	if name == "" {
		name = filepath.Base(path)
	}
	return &Collection{
		Path:             path,
		DisplayName:      name,
		ContentMimeTypes: []string{CollectionMimeType},
	}
}

// ChangeKind classifies a committed item change.
type ChangeKind int

const (
	// ChangeCreated indicates a line was appended.
	ChangeCreated ChangeKind = iota
	// ChangeUpdated indicates a line was replaced in place.
	ChangeUpdated
	// ChangeDeleted indicates a line was removed.
	ChangeDeleted
)

// String returns a human-readable representation of the change kind.
func (k ChangeKind) String() string {
	switch k {
	case ChangeCreated:
		return "created"
	case ChangeUpdated:
		return "updated"
	case ChangeDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Change is the acknowledgment emitted when a mutation has been committed.
type Change struct {
	Kind ChangeKind

	// Previous is the item as the caller addressed it. Nil for creates.
	Previous *Item

	// Item is the resulting item. Nil for deletes.
	Item *Item
}
