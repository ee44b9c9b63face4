package store

import (
	"context"
	"database/sql"
	"fmt"
	"math"
)

// Tx is a write transaction over the backing store. Every mutation of one
// object-store commit goes through a single Tx.
type Tx struct {
	tx *sql.Tx
}

// Commit commits the transaction.
func (t *Tx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Rollback aborts the transaction. It is a no-op after Commit.
func (t *Tx) Rollback() error {
	err := t.tx.Rollback()
	if err != nil && err != sql.ErrTxDone {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

// Globals reads the globals row inside the transaction.
func (t *Tx) Globals(ctx context.Context) (Globals, error) {
	return readGlobals(ctx, t.tx)
}

// ObjectData returns the data blob of an object row inside the transaction.
func (t *Tx) ObjectData(ctx context.Context, oid int64) ([]byte, bool, error) {
	return readObjectData(ctx, t.tx, oid)
}

// RootValue returns a root value inside the transaction.
func (t *Tx) RootValue(ctx context.Context, key []byte) ([]byte, bool, error) {
	return readRootValue(ctx, t.tx, key)
}

// InsertObject allocates a new object row of the given class with no data
// and returns its oid. Object ids must fit in 32 bits because references
// carry them as 4 bytes.
func (t *Tx) InsertObject(ctx context.Context, class int) (int64, error) {
	result, err := t.tx.ExecContext(ctx, `INSERT INTO objects (oid, class, data) VALUES (NULL, ?, NULL)`, class)
	if err != nil {
		return 0, fmt.Errorf("insert object: %w", err)
	}
	oid, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert object: last insert id: %w", err)
	}
	if oid > math.MaxUint32 {
		return 0, fmt.Errorf("insert object: oid %d exceeds 32 bits", oid)
	}
	return oid, nil
}

// SetObjectData replaces the data blob of an existing row.
func (t *Tx) SetObjectData(ctx context.Context, oid int64, data []byte) error {
	result, err := t.tx.ExecContext(ctx, `UPDATE objects SET data = ? WHERE oid = ?`, data, oid)
	if err != nil {
		return fmt.Errorf("update object %d: %w", oid, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update object %d: rows affected: %w", oid, err)
	}
	if n == 0 {
		return fmt.Errorf("update object %d: no such row", oid)
	}
	return nil
}

// DeleteObject removes an object row. Deleting a missing row is not an error.
func (t *Tx) DeleteObject(ctx context.Context, oid int64) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM objects WHERE oid = ?`, oid); err != nil {
		return fmt.Errorf("delete object %d: %w", oid, err)
	}
	return nil
}

// PutRoot inserts or replaces a root item.
func (t *Tx) PutRoot(ctx context.Context, key, value []byte) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO root (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("put root item: %w", err)
	}
	return nil
}

// DeleteRoot removes a root item. Deleting a missing key is not an error.
func (t *Tx) DeleteRoot(ctx context.Context, key []byte) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM root WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete root item: %w", err)
	}
	return nil
}

// SetRefcounts stores the serialized reference count table. A nil blob
// stores NULL.
func (t *Tx) SetRefcounts(ctx context.Context, data []byte) error {
	if _, err := t.tx.ExecContext(ctx, `UPDATE globals SET refcounts = ?`, data); err != nil {
		return fmt.Errorf("write refcounts: %w", err)
	}
	return nil
}

// SetClassNames stores the serialized class name list.
func (t *Tx) SetClassNames(ctx context.Context, data []byte) error {
	if _, err := t.tx.ExecContext(ctx, `UPDATE globals SET classnames = ?`, data); err != nil {
		return fmt.Errorf("write class names: %w", err)
	}
	return nil
}
