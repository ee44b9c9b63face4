// Package persist implements the persistent object store.
//
// Ordinary objects of registered classes get durable identity, transactional
// rollback and automatic reclamation, behind plain attribute reads and writes.
//
// ARCHITECTURE:
//
// Schema: classes are registered by name before a Database is opened. A
// Class constructs objects inside a Transaction and may declare computed
// properties that bypass transaction bookkeeping.
//
// Transaction: the unit of change. Exactly one Transaction is active per
// Database; Begin fails fast with NESTED_TRANSACTION instead of waiting.
// Every mutation takes the Transaction explicitly:
//
//	tx, err := db.Begin()
//	doc, err := docClass.New(tx, map[string]any{"title": "draft"})
//	err = db.Root().Set(tx, "current", doc)
//	err = tx.Commit()
//
// Commit writes all changed objects and root items through one SQLite
// transaction. Abort replays the last persisted value of every changed
// attribute and invalidates objects created in the transaction.
//
// Storage engine: objects are stored as msgpack attribute dictionaries.
// A reference to another object is an extension value carrying its oid, and
// the engine keeps a count of incoming references per oid. An object whose
// count drops to zero during a commit is deleted, cascading to what it
// referenced, and its in-memory instance becomes invalid. This is reference
// counting, not tracing: unreachable cycles are never reclaimed.
//
// Identity: each oid has at most one live *Object. The identity cache holds
// weak pointers, so objects nobody references can be garbage collected and
// are reloaded on demand. Objects materialized from storage are lazy: the
// first attribute read decodes the row, once.
//
// Observers: WillChange and DidChange fire around every attribute change,
// including rollback restores and invalidation (key ValidityKey). Install a
// Database-wide observer with WithObserver and per-class ones with
// WithClassObserver.
//
// Objects and transactions are meant to be used from one goroutine at a time.
package persist
