// Package sync keeps a todo.txt file and an item collection in step.
//
// Overview
//
// Every line of the backing file is one task item. The engine reads the
// file, gives each line an identifier under the configured identity scheme
// and reports the result to a Host. Creates, updates and deletes coming
// from the host are written back to the file.
//
// Architecture
//
//	todo.txt ──► linestore ──► Engine ──► Host (cache, dashboard, ...)
//	    ▲                        │
//	    └──── Watcher ◄──────────┘ (unwatch/watch around own writes)
//
// Identity Schemes
//
// content-hash: the identifier is the SHA-1 of the line text. Editing a
// line gives it a new identifier; moving it does not. Two identical lines
// share an identifier and operations address the first one.
//
// positional: the identifier is the zero-based line number. Any insert or
// delete above a line changes its identifier.
//
// Usage
//
//	engine := sync.New(watcher, host, &sync.Config{Scheme: identity.ContentHash})
//	if _, err := engine.Register("/home/me/todo.txt"); err != nil {
//	    return err
//	}
//	items, err := engine.Scan(ctx)
//
// Full rescans are the only way external edits reach the host. The host
// receives the complete item set and reconciles it against what it holds.
//
// Thread Safety
//
// All Engine methods are safe for concurrent use. Operations are serialized
// by an internal mutex. HandleExternalChange never blocks behind a running
// operation; it reports that it was skipped instead.
package sync
