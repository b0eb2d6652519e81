package cache

import (
	"context"

	"github.com/mschirtzinger/todosync/internal/schema"
	todosync "github.com/mschirtzinger/todosync/internal/sync"
)

// The sync.Host callbacks cannot fail, so database errors are logged.

// CollectionsRetrieved implements sync.Host.
func (db *DB) CollectionsRetrieved(collections []*schema.Collection) {
	for _, col := range collections {
		if err := db.UpsertCollection(context.Background(), col); err != nil {
			db.logger.Printf("Error: %v", err)
		}
	}
}

// ItemsRetrieved implements sync.Host by reconciling the enumeration.
func (db *DB) ItemsRetrieved(col *schema.Collection, items []*schema.Item) {
	result, err := db.Reconcile(context.Background(), col, items)
	if err != nil {
		db.logger.Printf("Error reconciling %s: %v", col.Path, err)
		return
	}
	db.logger.Printf("Reconciled %s: %d added, %d removed, %d unchanged",
		col.Path, result.Added, result.Removed, result.Unchanged)
}

// ItemRetrieved implements sync.Host. Unknown items are added.
func (db *DB) ItemRetrieved(item *schema.Item) {
	if _, err := db.GetItem(context.Background(), item.RemoteID); err == nil {
		return
	}
	change := schema.Change{Kind: schema.ChangeCreated, Item: item}
	if err := db.ApplyChange(context.Background(), change); err != nil {
		db.logger.Printf("Error caching %s: %v", item.RemoteID, err)
	}
}

// ChangeCommitted implements sync.Host.
func (db *DB) ChangeCommitted(change schema.Change) {
	if err := db.ApplyChange(context.Background(), change); err != nil {
		db.logger.Printf("Error applying %s change: %v", change.Kind, err)
	}
}

// Error implements sync.Host.
func (db *DB) Error(message string) {
	if err := db.SetLastError(context.Background(), message); err != nil {
		db.logger.Printf("Error: %v", err)
	}
}

// Status implements sync.Host.
func (db *DB) Status(status todosync.Status, message string) {
	if err := db.SetStatus(context.Background(), status, message); err != nil {
		db.logger.Printf("Error: %v", err)
	}
}
