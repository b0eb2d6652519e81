package dashboard

import (
	"log"
	"os"
	"sync"

	"github.com/mschirtzinger/todosync/internal/schema"
	todosync "github.com/mschirtzinger/todosync/internal/sync"
)

// ItemUpdateData contains item change information
type ItemUpdateData struct {
	RemoteID         string `json:"remote_id"`
	PreviousRemoteID string `json:"previous_remote_id,omitempty"`
	Action           string `json:"action"` // created, updated, deleted, retrieved
	Summary          string `json:"summary,omitempty"`
	Position         int    `json:"position"`
}

// SyncCompleteData contains full-scan information
type SyncCompleteData struct {
	Collection string `json:"collection"`
	Items      int    `json:"items"`
	Added      int    `json:"added"`
	Removed    int    `json:"removed"`
	Unchanged  int    `json:"unchanged"`
}

// StatusData contains the collection's health
type StatusData struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// ErrorData contains an operation failure
type ErrorData struct {
	Message string `json:"message"`
}

// StatsData contains item statistics
type StatsData struct {
	Collection string `json:"collection"`
	Total      int    `json:"total"`
	Scans      int    `json:"scans"`
	Created    int    `json:"created"`
	Updated    int    `json:"updated"`
	Deleted    int    `json:"deleted"`
	Errors     int    `json:"errors"`
	Status     string `json:"status"`
}

// Handler turns engine callbacks into dashboard messages.
// It implements sync.Host so it can sit next to the cache in a MultiHost.
type Handler struct {
	server *Server
	logger *log.Logger

	mu    sync.Mutex
	stats StatsData
	known map[string]int // remote id -> occurrences in the last scan
}

var _ todosync.Host = (*Handler)(nil)

// NewHandler creates a new event handler connected to a dashboard server.
// New clients are greeted with the handler's current stats.
func NewHandler(server *Server, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.New(os.Stderr, "[dashboard] ", log.LstdFlags)
	}

	h := &Handler{
		server: server,
		logger: logger,
		stats:  StatsData{Status: todosync.StatusIdle.String()},
		known:  make(map[string]int),
	}
	server.OnConnect(h.statsMessage)
	return h
}

// CollectionsRetrieved implements sync.Host.
func (h *Handler) CollectionsRetrieved(collections []*schema.Collection) {
	if len(collections) == 0 {
		return
	}
	h.mu.Lock()
	h.stats.Collection = collections[0].Path
	h.known = make(map[string]int)
	h.mu.Unlock()

	h.logger.Printf("Collection registered: %s", collections[0].Path)
	h.broadcastStats()
}

// ItemsRetrieved implements sync.Host.
func (h *Handler) ItemsRetrieved(col *schema.Collection, items []*schema.Item) {
	current := make(map[string]int, len(items))
	for _, item := range items {
		current[item.RemoteID]++
	}

	data := SyncCompleteData{Collection: col.Path, Items: len(items)}

	h.mu.Lock()
	for id, n := range current {
		before := h.known[id]
		data.Unchanged += min(n, before)
		if n > before {
			data.Added += n - before
		}
	}
	for id, before := range h.known {
		if n := current[id]; before > n {
			data.Removed += before - n
		}
	}
	h.known = current
	h.stats.Collection = col.Path
	h.stats.Total = len(items)
	h.stats.Scans++
	h.mu.Unlock()

	h.logger.Printf("Sync complete: %d items (%d added, %d removed)", data.Items, data.Added, data.Removed)
	h.send(MessageTypeSyncComplete, data)
	h.broadcastStats()
}

// ItemRetrieved implements sync.Host.
func (h *Handler) ItemRetrieved(item *schema.Item) {
	h.send(MessageTypeItemUpdate, ItemUpdateData{
		RemoteID: item.RemoteID,
		Action:   "retrieved",
		Summary:  item.Summary(),
		Position: item.Position,
	})
}

// ChangeCommitted implements sync.Host.
func (h *Handler) ChangeCommitted(change schema.Change) {
	data := ItemUpdateData{Action: change.Kind.String()}
	if change.Item != nil {
		data.RemoteID = change.Item.RemoteID
		data.Summary = change.Item.Summary()
		data.Position = change.Item.Position
	}
	if change.Previous != nil {
		data.PreviousRemoteID = change.Previous.RemoteID
		if data.RemoteID == "" {
			data.RemoteID = change.Previous.RemoteID
			data.Position = change.Previous.Position
		}
	}

	h.mu.Lock()
	switch change.Kind {
	case schema.ChangeCreated:
		h.stats.Created++
		h.stats.Total++
		h.known[data.RemoteID]++
	case schema.ChangeUpdated:
		h.stats.Updated++
		h.forget(data.PreviousRemoteID)
		h.known[data.RemoteID]++
	case schema.ChangeDeleted:
		h.stats.Deleted++
		if h.stats.Total > 0 {
			h.stats.Total--
		}
		h.forget(data.PreviousRemoteID)
	}
	h.mu.Unlock()

	h.logger.Printf("Item %s: %s", data.Action, data.RemoteID)
	h.send(MessageTypeItemUpdate, data)
	h.broadcastStats()
}

// forget drops one occurrence of id. Callers hold h.mu.
func (h *Handler) forget(id string) {
	if h.known[id] <= 1 {
		delete(h.known, id)
		return
	}
	h.known[id]--
}

// Error implements sync.Host.
func (h *Handler) Error(message string) {
	h.mu.Lock()
	h.stats.Errors++
	h.mu.Unlock()

	h.send(MessageTypeError, ErrorData{Message: message})
}

// Status implements sync.Host.
func (h *Handler) Status(status todosync.Status, message string) {
	h.mu.Lock()
	h.stats.Status = status.String()
	h.mu.Unlock()

	h.logger.Printf("Status: %s (%s)", status, message)
	h.send(MessageTypeStatus, StatusData{Status: status.String(), Message: message})
	h.broadcastStats()
}

// GetStats returns the current statistics
func (h *Handler) GetStats() StatsData {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stats
}

func (h *Handler) statsMessage() Message {
	msg, err := NewMessage(MessageTypeStats, h.GetStats())
	if err != nil {
		h.logger.Printf("Failed to build stats message: %v", err)
	}
	return msg
}

// broadcastStats sends current statistics to all clients
func (h *Handler) broadcastStats() {
	h.server.Broadcast(h.statsMessage())
}

func (h *Handler) send(typ MessageType, data any) {
	msg, err := NewMessage(typ, data)
	if err != nil {
		h.logger.Printf("Failed to build message: %v", err)
		return
	}
	h.server.Broadcast(msg)
}
