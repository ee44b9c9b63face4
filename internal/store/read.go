package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Globals is the single row of the globals table.
type Globals struct {
	Version    string
	Refcounts  []byte
	ClassNames []byte
}

// ObjectRow is one row of the objects table.
type ObjectRow struct {
	OID   int64
	Class int
	Data  []byte
}

// RootRow is one row of the root table.
type RootRow struct {
	Key   []byte
	Value []byte
}

// Globals reads the globals row.
func (s *Store) Globals(ctx context.Context) (Globals, error) {
	return readGlobals(ctx, s.db)
}

// ObjectData returns the data blob of an object row.
// ok is false if no such row exists.
func (s *Store) ObjectData(ctx context.Context, oid int64) (data []byte, ok bool, err error) {
	return readObjectData(ctx, s.db, oid)
}

// ObjectClass returns the class index of an object row.
// ok is false if no such row exists.
func (s *Store) ObjectClass(ctx context.Context, oid int64) (class int, ok bool, err error) {
	err = s.db.QueryRowContext(ctx, `SELECT class FROM objects WHERE oid = ?`, oid).Scan(&class)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read object class %d: %w", oid, err)
	}
	return class, true, nil
}

// OIDsByClass returns the ids of all rows of a class in ascending order.
//
// Returns an empty slice (not nil) if there are none.
func (s *Store) OIDsByClass(ctx context.Context, class int) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT oid FROM objects WHERE class = ? ORDER BY oid ASC`, class)
	if err != nil {
		return nil, fmt.Errorf("query objects by class: %w", err)
	}
	defer rows.Close()

	oids := []int64{}
	for rows.Next() {
		var oid int64
		if err := rows.Scan(&oid); err != nil {
			return nil, fmt.Errorf("scan oid: %w", err)
		}
		oids = append(oids, oid)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate objects by class: %w", err)
	}
	return oids, nil
}

// RootValue returns the value blob stored under an encoded root key.
// ok is false if the key is absent.
func (s *Store) RootValue(ctx context.Context, key []byte) (value []byte, ok bool, err error) {
	return readRootValue(ctx, s.db, key)
}

// Objects returns every object row ordered by oid.
func (s *Store) Objects(ctx context.Context) ([]ObjectRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT oid, class, data FROM objects ORDER BY oid ASC`)
	if err != nil {
		return nil, fmt.Errorf("query objects: %w", err)
	}
	defer rows.Close()

	out := []ObjectRow{}
	for rows.Next() {
		var r ObjectRow
		if err := rows.Scan(&r.OID, &r.Class, &r.Data); err != nil {
			return nil, fmt.Errorf("scan object: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate objects: %w", err)
	}
	return out, nil
}

// RootItems returns every root row ordered by key bytes.
func (s *Store) RootItems(ctx context.Context) ([]RootRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM root ORDER BY key ASC`)
	if err != nil {
		return nil, fmt.Errorf("query root: %w", err)
	}
	defer rows.Close()

	out := []RootRow{}
	for rows.Next() {
		var r RootRow
		if err := rows.Scan(&r.Key, &r.Value); err != nil {
			return nil, fmt.Errorf("scan root: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate root: %w", err)
	}
	return out, nil
}

func readGlobals(ctx context.Context, q querier) (Globals, error) {
	var g Globals
	err := q.QueryRowContext(ctx, `SELECT version, refcounts, classnames FROM globals LIMIT 1`).
		Scan(&g.Version, &g.Refcounts, &g.ClassNames)
	if err != nil {
		return Globals{}, fmt.Errorf("read globals: %w", err)
	}
	return g, nil
}

func readObjectData(ctx context.Context, q querier, oid int64) ([]byte, bool, error) {
	var data []byte
	err := q.QueryRowContext(ctx, `SELECT data FROM objects WHERE oid = ?`, oid).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read object %d: %w", oid, err)
	}
	return data, true, nil
}

func readRootValue(ctx context.Context, q querier, key []byte) ([]byte, bool, error) {
	var value []byte
	err := q.QueryRowContext(ctx, `SELECT value FROM root WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read root item: %w", err)
	}
	return value, true, nil
}
