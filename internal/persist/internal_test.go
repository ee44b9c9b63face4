package persist

import (
	"log/slog"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openInternal(t *testing.T, opts ...Option) (*Database, *Class) {
	t.Helper()
	s := NewSchema()
	node := s.MustRegister("Node")
	opts = append([]Option{WithLogger(slog.New(slog.DiscardHandler))}, opts...)
	db, err := Open(filepath.Join(t.TempDir(), "internal.db"), s, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, node
}

// injectActive registers a second active transaction, bypassing the
// single-writer check in Begin.
func injectActive(t *testing.T, db *Database) *Transaction {
	t.Helper()
	tx, err := newTransaction(db)
	require.NoError(t, err)
	db.mu.Lock()
	db.active[tx] = struct{}{}
	db.mu.Unlock()
	return tx
}

func TestConflict_SameAttributeInTwoTransactions(t *testing.T) {
	db, node := openInternal(t)

	tx1, err := db.Begin()
	require.NoError(t, err)
	obj, err := node.New(tx1, nil)
	require.NoError(t, err)
	require.NoError(t, tx1.Set(obj, "x", 1))

	tx2 := injectActive(t, db)

	err = tx2.Set(obj, "x", 2)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConcurrentModification)
	assert.True(t, IsConflict(err))
	_, tracked := tx2.changes[obj]
	assert.False(t, tracked)

	v, err := obj.Get("x")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	require.NoError(t, tx2.Set(obj, "y", 2))

	// Changing the same attribute again in the owning transaction is fine.
	require.NoError(t, tx1.Set(obj, "x", 3))

	tx2.Abort()
	tx1.Abort()
}

func TestConflict_RootFirstWriterWins(t *testing.T) {
	db, _ := openInternal(t)

	tx1, err := db.Begin()
	require.NoError(t, err)
	require.NoError(t, tx1.SetRoot("k", "first"))

	tx2 := injectActive(t, db)
	err = tx2.SetRoot("k", "second")
	assert.ErrorIs(t, err, ErrConcurrentModification)
	assert.ErrorIs(t, tx2.DeleteRoot("k"), ErrConcurrentModification)
	require.NoError(t, tx2.SetRoot("other", 1))

	v, err := db.Root().Get("k")
	require.NoError(t, err)
	assert.Equal(t, "first", v)

	tx2.Abort()
	require.NoError(t, tx1.Commit())

	v, err = db.Root().Get("k")
	require.NoError(t, err)
	assert.Equal(t, "first", v)
	v, err = db.Root().Get("other")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestCommit_DanglingReference(t *testing.T) {
	db, node := openInternal(t)

	var durable *Object
	require.NoError(t, db.Update(func(tx *Transaction) error {
		var err error
		if durable, err = node.New(tx, nil); err != nil {
			return err
		}
		return tx.SetRoot("d", durable)
	}))

	tx, err := db.Begin()
	require.NoError(t, err)
	stray := &Object{db: db, class: node, state: stateLoaded, attrs: map[string]any{}}
	require.NoError(t, tx.Set(durable, "ref", stray))

	err = tx.Commit()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDanglingObject)
	assert.False(t, tx.Active())

	_, ok, err := durable.Lookup("ref")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCommit_FailureLeavesStoreUntouched(t *testing.T) {
	db, node := openInternal(t)

	var a *Object
	require.NoError(t, db.Update(func(tx *Transaction) error {
		var err error
		if a, err = node.New(tx, map[string]any{"name": "a"}); err != nil {
			return err
		}
		return tx.SetRoot("keep", a)
	}))

	// Drop the refcount table so the next incref of a durable object fails.
	_, err := db.store.DB().Exec(`UPDATE globals SET refcounts = NULL`)
	require.NoError(t, err)

	tx, err := db.Begin()
	require.NoError(t, err)
	fresh, err := node.New(tx, map[string]any{"name": "fresh"})
	require.NoError(t, err)
	require.NoError(t, tx.SetRoot("a", fresh))
	require.NoError(t, tx.SetRoot("y", a))
	require.NoError(t, tx.Set(a, "touched", true))

	err = tx.Commit()
	require.Error(t, err)
	assert.False(t, tx.Active())
	assert.Nil(t, db.Active())

	assert.False(t, fresh.Valid())
	_, ok := fresh.OID()
	assert.False(t, ok)

	_, ok, err = a.Lookup("touched")
	require.NoError(t, err)
	assert.False(t, ok)

	for _, key := range []string{"a", "y"} {
		v, err := db.Root().Get(key)
		require.NoError(t, err)
		assert.Nil(t, v, "root %q", key)
	}

	objs, err := db.ObjectsByClass(node)
	require.NoError(t, err)
	assert.Equal(t, []*Object{a}, objs)

	keys, err := db.Root().Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{"keep"}, keys)
}

func TestIdentityCache_ReleasesCollectedObjects(t *testing.T) {
	c := newIdentityCache()

	obj := &Object{oid: 7}
	c.insert(7, obj)
	assert.Same(t, obj, c.lookup(7))
	assert.Equal(t, 1, c.len())

	obj = nil
	require.Eventually(t, func() bool {
		runtime.GC()
		c.mu.Lock()
		defer c.mu.Unlock()
		return len(c.entries) == 0
	}, 5*time.Second, 10*time.Millisecond)
	assert.Nil(t, c.lookup(7))
}

func TestIdentityCache_RemoveOnlyMatchingObject(t *testing.T) {
	c := newIdentityCache()
	a := &Object{oid: 1}
	b := &Object{oid: 1}

	c.insert(1, a)
	c.remove(1, b)
	assert.Same(t, a, c.lookup(1))

	c.remove(1, a)
	assert.Nil(t, c.lookup(1))

	c.insert(1, b)
	c.forget(1)
	assert.Nil(t, c.lookup(1))
	runtime.KeepAlive(a)
	runtime.KeepAlive(b)
}

func TestIdentityCache_GetOrCreate(t *testing.T) {
	c := newIdentityCache()
	calls := 0
	create := func() (*Object, error) {
		calls++
		return &Object{oid: 3}, nil
	}

	first, err := c.getOrCreate(3, create)
	require.NoError(t, err)
	second, err := c.getOrCreate(3, create)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, calls)
}

func TestRowCache_SmallCacheStaysCorrect(t *testing.T) {
	db, node := openInternal(t, WithRowCacheSize(1))

	var objs []any
	require.NoError(t, db.Update(func(tx *Transaction) error {
		for i := 0; i < 5; i++ {
			obj, err := node.New(tx, map[string]any{"i": i})
			if err != nil {
				return err
			}
			objs = append(objs, obj)
		}
		return tx.SetRoot("all", objs)
	}))
	assert.LessOrEqual(t, db.engine.rows.Len(), 1)

	require.NoError(t, db.Update(func(tx *Transaction) error {
		for i, o := range objs {
			if err := tx.Set(o.(*Object), "i", i*10); err != nil {
				return err
			}
		}
		return nil
	}))

	for i, o := range objs {
		persisted, ok, err := db.engine.persisted(o.(*Object).oid)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, int64(i*10), persisted["i"])
	}
}
