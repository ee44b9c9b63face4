package persist

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/pstore/internal/codec"
	"github.com/roach88/pstore/internal/metrics"
)

type txState uint8

const (
	txActive txState = iota
	txCommitted
	txAborted
)

func (s txState) String() string {
	switch s {
	case txActive:
		return "active"
	case txCommitted:
		return "committed"
	case txAborted:
		return "aborted"
	default:
		return fmt.Sprintf("txState(%d)", uint8(s))
	}
}

// changedAttrs records the attributes a transaction changed on one object,
// in first-change order.
type changedAttrs struct {
	names []string
	seen  map[string]struct{}
}

func (c *changedAttrs) add(attr string) bool {
	if _, ok := c.seen[attr]; ok {
		return false
	}
	c.seen[attr] = struct{}{}
	c.names = append(c.names, attr)
	return true
}

func (c *changedAttrs) has(attr string) bool {
	_, ok := c.seen[attr]
	return ok
}

// Transaction is the unit of change. It buffers attribute edits in the
// objects themselves and remembers which attributes changed, so Commit can
// write them and Abort can restore them.
//
// A Transaction is finished after Commit or Abort; every later call fails
// with INVALID_TRANSACTION.
type Transaction struct {
	id    uuid.UUID
	db    *Database
	state txState

	order    []*Object
	changes  map[*Object]*changedAttrs
	rootKeys []string

	rollingBack bool
}

func newTransaction(db *Database) (*Transaction, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("transaction id: %w", err)
	}
	return &Transaction{
		id:      id,
		db:      db,
		state:   txActive,
		changes: make(map[*Object]*changedAttrs),
	}, nil
}

// ID returns the transaction's id, used in logs.
func (tx *Transaction) ID() uuid.UUID {
	return tx.id
}

// Active reports whether the transaction can still be used.
func (tx *Transaction) Active() bool {
	return tx.state == txActive
}

func (tx *Transaction) check() error {
	if tx.state != txActive {
		return invalidTransactionError(tx)
	}
	return nil
}

// track records obj as changed by this transaction.
func (tx *Transaction) track(obj *Object) *changedAttrs {
	ch, ok := tx.changes[obj]
	if !ok {
		ch = &changedAttrs{seen: make(map[string]struct{})}
		tx.changes[obj] = ch
		tx.order = append(tx.order, obj)
	}
	return ch
}

// New constructs an object of class. It has no oid until a commit makes it
// reachable.
func (tx *Transaction) New(class *Class) (*Object, error) {
	if err := tx.check(); err != nil {
		return nil, err
	}
	if class == nil {
		return nil, fmt.Errorf("new object: nil class")
	}
	if class.schema != tx.db.schema {
		return nil, unknownClassError(class.name)
	}
	obj := &Object{
		db:    tx.db,
		class: class,
		state: stateLoaded,
		attrs: make(map[string]any),
	}
	tx.track(obj)
	return obj, nil
}

// Set changes attr on obj to value.
func (tx *Transaction) Set(obj *Object, attr string, value any) error {
	if err := tx.check(); err != nil {
		return err
	}
	if tx.rollingBack {
		return nil
	}
	if err := tx.usable(obj, attr); err != nil {
		return err
	}
	if p, ok := obj.class.property(attr); ok {
		if p.Set == nil {
			return fmt.Errorf("%w: %s.%s", ErrReadOnlyProperty, obj.class.name, attr)
		}
		return p.Set(tx, obj, value)
	}

	v, err := tx.db.normalize(value)
	if err != nil {
		return fmt.Errorf("set %s.%s: %w", obj.class.name, attr, err)
	}
	return tx.change(obj, attr, v)
}

// Delete removes attr from obj. For a computed property the setter is
// called with NoValue.
func (tx *Transaction) Delete(obj *Object, attr string) error {
	if err := tx.check(); err != nil {
		return err
	}
	if tx.rollingBack {
		return nil
	}
	if err := tx.usable(obj, attr); err != nil {
		return err
	}
	if p, ok := obj.class.property(attr); ok {
		if p.Set == nil {
			return fmt.Errorf("%w: %s.%s", ErrReadOnlyProperty, obj.class.name, attr)
		}
		return p.Set(tx, obj, NoValue)
	}
	if err := tx.db.engine.hydrate(obj); err != nil {
		return err
	}
	if _, ok := obj.attrs[attr]; !ok {
		return fmt.Errorf("%w: %s.%s", ErrAttributeNotFound, obj.class.name, attr)
	}
	return tx.change(obj, attr, NoValue)
}

func (tx *Transaction) usable(obj *Object, attr string) error {
	if obj == nil {
		return fmt.Errorf("set %s: nil object", attr)
	}
	if obj.db != tx.db {
		return fmt.Errorf("%w: %s", ErrForeignObject, obj)
	}
	if obj.state == stateInvalid {
		return invalidObjectError(obj, attr)
	}
	return nil
}

// change applies one attribute change with notifications. value NoValue
// deletes the attribute.
func (tx *Transaction) change(obj *Object, attr string, value any) error {
	if err := tx.db.engine.hydrate(obj); err != nil {
		return err
	}

	if ch, ok := tx.changes[obj]; !ok || !ch.has(attr) {
		if other := tx.db.otherWriter(tx, obj, attr); other != nil {
			return &Error{
				Code:    CodeConcurrentModification,
				Message: fmt.Sprintf("already changed by transaction %s", other.id),
				Class:   obj.class.name,
				OID:     obj.oid,
				Attr:    attr,
			}
		}
	}
	tx.track(obj).add(attr)

	old, ok := obj.attrs[attr]
	if !ok {
		old = NoValue
	}
	c := Change{Key: attr, Old: old, New: value}
	tx.db.willChange(obj, c)
	if value == NoValue {
		delete(obj.attrs, attr)
	} else {
		obj.attrs[attr] = value
	}
	tx.db.didChange(obj, c)
	return nil
}

// SetRoot sets the root item key. A nil value deletes it.
func (tx *Transaction) SetRoot(key string, value any) error {
	if err := tx.check(); err != nil {
		return err
	}
	if value == nil {
		return tx.DeleteRoot(key)
	}
	v, err := tx.db.normalize(value)
	if err != nil {
		return fmt.Errorf("set root %q: %w", key, err)
	}
	return tx.db.claimRoot(tx, norm.NFC.String(key), v, false)
}

// DeleteRoot removes the root item key.
func (tx *Transaction) DeleteRoot(key string) error {
	if err := tx.check(); err != nil {
		return err
	}
	return tx.db.claimRoot(tx, norm.NFC.String(key), nil, true)
}

// Commit writes the transaction durably. If writing fails the transaction
// is aborted before the error is returned.
func (tx *Transaction) Commit() error {
	if err := tx.check(); err != nil {
		return err
	}
	db := tx.db
	log := db.logger.With("txn", tx.id.String())

	cs := &changeSet{objects: make([]objectChange, 0, len(tx.order))}
	for _, obj := range tx.order {
		if obj.state == stateInvalid {
			continue
		}
		cs.objects = append(cs.objects, objectChange{obj: obj, attrs: tx.changes[obj].names})
	}
	cs.roots = db.pendingRoots(tx)

	res, err := db.engine.commit(cs)
	if err != nil {
		metrics.CommitsTotal.WithLabelValues(metrics.Fail).Inc()
		log.Warn("commit failed", "error", err)
		tx.Abort()
		return fmt.Errorf("commit: %w", err)
	}
	metrics.CommitsTotal.WithLabelValues(metrics.Ok).Inc()

	for _, oid := range res.collected {
		if obj := db.objects.lookup(oid); obj != nil {
			db.invalidate(obj)
		}
		db.objects.forget(oid)
	}
	for _, obj := range tx.order {
		if obj.oid == 0 && obj.state != stateInvalid {
			db.invalidate(obj)
		}
	}

	log.Info("transaction committed",
		"objects", len(cs.objects),
		"roots", len(cs.roots),
		"created", len(res.created),
		"collected", len(res.collected),
	)
	db.finish(tx, txCommitted)
	return nil
}

// Abort restores every changed attribute to its last committed value and
// invalidates objects created in the transaction. Pending root changes are
// dropped. Abort on a finished transaction is a no-op.
//
// Observer panics during restoration are logged, not propagated.
func (tx *Transaction) Abort() {
	if tx.state != txActive {
		return
	}
	db := tx.db
	log := db.logger.With("txn", tx.id.String())

	tx.rollingBack = true
	for _, obj := range tx.order {
		if obj.state == stateInvalid {
			continue
		}
		if obj.oid == 0 {
			db.invalidate(obj)
			continue
		}
		tx.restore(obj, tx.changes[obj].names)
	}
	tx.rollingBack = false

	log.Info("transaction aborted", "objects", len(tx.order))
	metrics.AbortsTotal.Inc()
	db.finish(tx, txAborted)
}

func (tx *Transaction) restore(obj *Object, attrs []string) {
	db := tx.db
	persisted, ok, err := db.engine.persisted(obj.oid)
	if err != nil || !ok {
		db.logger.Error("rollback cannot read persisted state",
			"txn", tx.id.String(), "object", obj.String(), "error", err)
		db.invalidate(obj)
		return
	}

	db.guard("will rollback", obj, func() { db.willRollback(obj) })
	for _, attr := range attrs {
		prev, had := persisted[attr]
		cur, has := obj.attrs[attr]
		c := Change{Key: attr, Old: NoValue, New: NoValue}
		if has {
			c.Old = cur
		}
		if had {
			c.New = prev
		}
		db.guard("will change", obj, func() { db.willChange(obj, c) })
		if had {
			obj.attrs[attr] = prev
		} else {
			delete(obj.attrs, attr)
		}
		db.guard("did change", obj, func() { db.didChange(obj, c) })
	}
	db.guard("did rollback", obj, func() { db.didRollback(obj) })
}

// Objects returns the objects changed by the transaction in first-change
// order.
func (tx *Transaction) Objects() []*Object {
	out := make([]*Object, len(tx.order))
	copy(out, tx.order)
	return out
}

// RootKeys returns the root keys changed by the transaction, sorted.
func (tx *Transaction) RootKeys() []string {
	out := make([]string, len(tx.rootKeys))
	copy(out, tx.rootKeys)
	sort.Strings(out)
	return out
}

// normalize validates an attribute or root value. Objects of this database
// are kept as references; everything else must be in the codec's domain.
func (db *Database) normalize(value any) (any, error) {
	return codec.Map(value, func(v any) (any, error) {
		if obj, ok := v.(*Object); ok {
			if obj == nil {
				return nil, nil
			}
			if obj.db != db {
				return nil, fmt.Errorf("%w: %s", ErrForeignObject, obj)
			}
			if obj.state == stateInvalid {
				return nil, invalidObjectError(obj, "")
			}
			return obj, nil
		}
		if _, ok := v.(*codec.Ref); ok {
			return nil, fmt.Errorf("%w: raw reference", ErrUnsupportedValue)
		}
		return codec.Primitive(v)
	})
}
