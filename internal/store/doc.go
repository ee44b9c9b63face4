// Package store provides the SQLite backing store for persistent objects.
//
// The store owns three tables:
//   - globals: layout version, serialized reference count table, class names
//   - root: named root items (key blob → value blob)
//   - objects: object rows (oid → class index, data blob)
//
// The store does not interpret blobs; encoding lives in internal/codec and
// reference counting in internal/persist. All writes of one commit go
// through a single Tx so they apply as one indivisible unit.
//
// # Database Configuration
//
//   - WAL mode with synchronous=FULL by default: a commit is durable once Commit returns
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - one open connection: SQLite has a single writer and so does the object store
package store
