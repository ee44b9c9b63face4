package persist_test

import (
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/pstore/internal/persist"
	"github.com/roach88/pstore/internal/testutil"
)

// fixture is an open database with two registered classes and a recorder
// observing every change.
type fixture struct {
	path   string
	schema *persist.Schema
	doc    *persist.Class
	node   *persist.Class
	rec    *testutil.Recorder
	db     *persist.Database
}

func newSchema() (*persist.Schema, *persist.Class, *persist.Class) {
	s := persist.NewSchema()
	doc := s.MustRegister("Document")
	node := s.MustRegister("Node")
	return s, doc, node
}

func setupFixture(t *testing.T) *fixture {
	t.Helper()
	s, doc, node := newSchema()
	f := &fixture{
		path:   filepath.Join(t.TempDir(), "test.db"),
		schema: s,
		doc:    doc,
		node:   node,
		rec:    testutil.NewRecorder(),
	}
	f.db = openDatabase(t, f.path, s, f.rec)
	return f
}

func openDatabase(t *testing.T, path string, s *persist.Schema, obs persist.Observer) *persist.Database {
	t.Helper()
	opts := []persist.Option{persist.WithLogger(slog.New(slog.DiscardHandler))}
	if obs != nil {
		opts = append(opts, persist.WithObserver(obs))
	}
	db, err := persist.Open(path, s, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// reopen closes the fixture's database and opens the file again with a
// fresh recorder.
func (f *fixture) reopen(t *testing.T) {
	t.Helper()
	require.NoError(t, f.db.Close())
	f.rec = testutil.NewRecorder()
	f.db = openDatabase(t, f.path, f.schema, f.rec)
}

// update runs fn in a transaction and requires it to commit.
func (f *fixture) update(t *testing.T, fn func(tx *persist.Transaction) error) {
	t.Helper()
	require.NoError(t, f.db.Update(fn))
}

// rootObject returns the root item key as an object.
func (f *fixture) rootObject(t *testing.T, key string) *persist.Object {
	t.Helper()
	v, err := f.db.Root().Get(key)
	require.NoError(t, err)
	obj, ok := v.(*persist.Object)
	require.True(t, ok, "root %q is %T, not an object", key, v)
	return obj
}

func mustGet(t *testing.T, obj *persist.Object, attr string) any {
	t.Helper()
	v, err := obj.Get(attr)
	require.NoError(t, err)
	return v
}

func mustRefCount(t *testing.T, db *persist.Database, obj *persist.Object) int64 {
	t.Helper()
	n, err := db.RefCount(obj)
	require.NoError(t, err)
	return n
}
