package persist

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/roach88/pstore/internal/metrics"
	"github.com/roach88/pstore/internal/store"
)

// rootSlot is a root item claimed by an active transaction.
type rootSlot struct {
	owner   *Transaction
	value   any
	deleted bool
}

// Database is an open persistent object store.
type Database struct {
	schema   *Schema
	store    *store.Store
	engine   *engine
	objects  *identityCache
	observer Observer
	logger   *slog.Logger

	mu     sync.Mutex
	active map[*Transaction]struct{}
	roots  map[string]*rootSlot
	closed bool
}

// Open opens or creates the database file at path. Every class stored in
// the file must be registered in schema before its objects are read.
func Open(path string, schema *Schema, opts ...Option) (*Database, error) {
	if schema == nil {
		return nil, fmt.Errorf("open %s: nil schema", path)
	}
	o := buildOptions(opts)
	if o.registerer != nil {
		if err := metrics.Register(o.registerer); err != nil {
			return nil, fmt.Errorf("open %s: register metrics: %w", path, err)
		}
	}

	st, err := store.Open(path, o.storeOpts)
	if err != nil {
		return nil, err
	}

	db := &Database{
		schema:   schema,
		store:    st,
		objects:  newIdentityCache(),
		observer: o.observer,
		logger:   o.logger,
		active:   make(map[*Transaction]struct{}),
		roots:    make(map[string]*rootSlot),
	}
	db.engine, err = newEngine(db, st, schema, o.rowCacheSize, o.logger)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	db.logger.Debug("database opened", "path", path, "classes", len(db.engine.classes))
	return db, nil
}

// Schema returns the schema the database was opened with.
func (db *Database) Schema() *Schema {
	return db.schema
}

// Begin starts a transaction. It fails with NESTED_TRANSACTION while
// another transaction is active.
func (db *Database) Begin() (*Transaction, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return nil, ErrClosed
	}
	for other := range db.active {
		return nil, &Error{
			Code:    CodeNestedTransaction,
			Message: fmt.Sprintf("transaction %s is still active", other.id),
		}
	}
	tx, err := newTransaction(db)
	if err != nil {
		return nil, err
	}
	db.active[tx] = struct{}{}
	db.logger.Debug("transaction started", "txn", tx.id.String())
	return tx, nil
}

// Update runs fn in a new transaction. The transaction commits if fn
// returns nil and aborts if fn returns an error or panics.
func (db *Database) Update(fn func(tx *Transaction) error) (err error) {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Abort()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		tx.Abort()
		return err
	}
	return tx.Commit()
}

// Active returns the active transaction, or nil.
func (db *Database) Active() *Transaction {
	db.mu.Lock()
	defer db.mu.Unlock()
	for tx := range db.active {
		return tx
	}
	return nil
}

// Root returns the root item accessor.
func (db *Database) Root() Root {
	return Root{db: db}
}

// ObjectsByClass returns the objects of the given classes: first those
// changed by active transactions, then those stored, each once.
func (db *Database) ObjectsByClass(classes ...*Class) ([]*Object, error) {
	if db.isClosed() {
		return nil, ErrClosed
	}
	want := make(map[*Class]bool, len(classes))
	for _, c := range classes {
		want[c] = true
	}

	seen := make(map[*Object]bool)
	var out []*Object
	add := func(obj *Object) {
		if !seen[obj] && obj.state != stateInvalid && want[obj.class] {
			seen[obj] = true
			out = append(out, obj)
		}
	}

	for _, tx := range db.activeTransactions() {
		for _, obj := range tx.order {
			add(obj)
		}
	}
	for _, c := range classes {
		stored, err := db.engine.objectsByClass(c)
		if err != nil {
			return nil, fmt.Errorf("objects of %s: %w", c.name, err)
		}
		for _, obj := range stored {
			add(obj)
		}
	}
	return out, nil
}

// RefCount returns the committed reference count of obj. Objects without
// an oid have count 0.
func (db *Database) RefCount(obj *Object) (int64, error) {
	if db.isClosed() {
		return 0, ErrClosed
	}
	if obj.oid == 0 {
		return 0, nil
	}
	rc, err := db.engine.refcounts()
	if err != nil {
		return 0, err
	}
	return rc[uint32(obj.oid)], nil
}

// IsPersistent reports whether obj has a committed row.
func (db *Database) IsPersistent(obj *Object) bool {
	return obj.db == db && obj.oid != 0 && obj.state != stateInvalid
}

// Close aborts the active transaction, if any, and closes the store.
func (db *Database) Close() error {
	if tx := db.Active(); tx != nil {
		tx.Abort()
	}

	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return nil
	}
	db.closed = true
	db.mu.Unlock()

	db.logger.Debug("database closed")
	return db.store.Close()
}

func (db *Database) isClosed() bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.closed
}

func (db *Database) activeTransactions() []*Transaction {
	db.mu.Lock()
	defer db.mu.Unlock()
	out := make([]*Transaction, 0, len(db.active))
	for tx := range db.active {
		out = append(out, tx)
	}
	return out
}

// otherWriter returns an active transaction other than tx that already
// changed attr on obj.
func (db *Database) otherWriter(tx *Transaction, obj *Object, attr string) *Transaction {
	for _, other := range db.activeTransactions() {
		if other == tx {
			continue
		}
		if ch, ok := other.changes[obj]; ok && ch.has(attr) {
			return other
		}
	}
	return nil
}

// claimRoot records a pending root change for tx. The first transaction to
// write a key owns it until it finishes.
func (db *Database) claimRoot(tx *Transaction, key string, value any, deleted bool) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	slot, ok := db.roots[key]
	if ok && slot.owner != tx {
		return &Error{
			Code:    CodeConcurrentModification,
			Message: fmt.Sprintf("root item claimed by transaction %s", slot.owner.id),
			Attr:    key,
		}
	}
	if !ok {
		slot = &rootSlot{owner: tx}
		db.roots[key] = slot
		tx.rootKeys = append(tx.rootKeys, key)
	}
	slot.value = value
	slot.deleted = deleted
	return nil
}

// pendingRoot returns the uncommitted root change for key, if any.
func (db *Database) pendingRoot(key string) (*rootSlot, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	slot, ok := db.roots[key]
	return slot, ok
}

// pendingRoots returns tx's root changes sorted by key.
func (db *Database) pendingRoots(tx *Transaction) []rootChange {
	db.mu.Lock()
	defer db.mu.Unlock()

	keys := make([]string, len(tx.rootKeys))
	copy(keys, tx.rootKeys)
	sort.Strings(keys)

	out := make([]rootChange, 0, len(keys))
	for _, k := range keys {
		slot := db.roots[k]
		out = append(out, rootChange{key: k, value: slot.value, deleted: slot.deleted})
	}
	return out
}

// finish ends tx and releases everything it holds.
func (db *Database) finish(tx *Transaction, state txState) {
	db.mu.Lock()
	defer db.mu.Unlock()

	delete(db.active, tx)
	for _, k := range tx.rootKeys {
		if slot, ok := db.roots[k]; ok && slot.owner == tx {
			delete(db.roots, k)
		}
	}
	tx.state = state
	tx.order = nil
	tx.changes = nil
}

// invalidate makes obj permanently unusable and drops it from the identity
// cache. Observers see a ValidityKey change from true to false.
func (db *Database) invalidate(obj *Object) {
	if obj.state == stateInvalid {
		return
	}
	c := Change{Key: ValidityKey, Old: true, New: false}
	db.guard("will invalidate", obj, func() { db.willChange(obj, c) })

	if obj.oid != 0 {
		db.objects.remove(obj.oid, obj)
	}
	obj.state = stateInvalid
	obj.attrs = nil
	obj.oid = 0

	db.guard("did invalidate", obj, func() { db.didChange(obj, c) })
	db.logger.Debug("object invalidated", "class", obj.class.name)
}
