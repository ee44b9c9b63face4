package persist

import "runtime/debug"

// ValidityKey is the Change.Key reported when an object becomes invalid.
// Old is true and New is false.
const ValidityKey = "$valid"

type noValue struct{}

func (noValue) String() string { return "NoValue" }

// NoValue stands for an absent attribute in a Change: Old when the attribute
// did not exist, New when it is being deleted.
var NoValue any = noValue{}

// Change describes one attribute change.
type Change struct {
	Key string
	Old any
	New any
}

// Observer receives notifications around every attribute change.
type Observer interface {
	WillChange(obj *Object, ch Change)
	DidChange(obj *Object, ch Change)
}

// LoadObserver is implemented by observers that want to know when a lazy
// object finished loading.
type LoadObserver interface {
	Loaded(obj *Object)
}

// RollbackObserver is implemented by observers that want to bracket the
// restoration of an object during Abort.
type RollbackObserver interface {
	WillRollback(obj *Object)
	DidRollback(obj *Object)
}

// Hooks adapts plain functions to Observer, LoadObserver and
// RollbackObserver. Nil fields are skipped.
type Hooks struct {
	OnWillChange   func(obj *Object, ch Change)
	OnDidChange    func(obj *Object, ch Change)
	OnLoaded       func(obj *Object)
	OnWillRollback func(obj *Object)
	OnDidRollback  func(obj *Object)
}

func (h Hooks) WillChange(obj *Object, ch Change) {
	if h.OnWillChange != nil {
		h.OnWillChange(obj, ch)
	}
}

func (h Hooks) DidChange(obj *Object, ch Change) {
	if h.OnDidChange != nil {
		h.OnDidChange(obj, ch)
	}
}

func (h Hooks) Loaded(obj *Object) {
	if h.OnLoaded != nil {
		h.OnLoaded(obj)
	}
}

func (h Hooks) WillRollback(obj *Object) {
	if h.OnWillRollback != nil {
		h.OnWillRollback(obj)
	}
}

func (h Hooks) DidRollback(obj *Object) {
	if h.OnDidRollback != nil {
		h.OnDidRollback(obj)
	}
}

// observers returns the class observer followed by the database observer.
func (db *Database) observers(obj *Object) []Observer {
	var out []Observer
	if obj.class.observer != nil {
		out = append(out, obj.class.observer)
	}
	if db.observer != nil {
		out = append(out, db.observer)
	}
	return out
}

func (db *Database) willChange(obj *Object, ch Change) {
	for _, o := range db.observers(obj) {
		o.WillChange(obj, ch)
	}
}

func (db *Database) didChange(obj *Object, ch Change) {
	for _, o := range db.observers(obj) {
		o.DidChange(obj, ch)
	}
}

func (db *Database) loaded(obj *Object) {
	for _, o := range db.observers(obj) {
		if lo, ok := o.(LoadObserver); ok {
			lo.Loaded(obj)
		}
	}
}

func (db *Database) willRollback(obj *Object) {
	for _, o := range db.observers(obj) {
		if ro, ok := o.(RollbackObserver); ok {
			ro.WillRollback(obj)
		}
	}
}

func (db *Database) didRollback(obj *Object) {
	for _, o := range db.observers(obj) {
		if ro, ok := o.(RollbackObserver); ok {
			ro.DidRollback(obj)
		}
	}
}

// guard runs fn and logs instead of propagating a panic. Rollback uses it so
// a failing hook cannot stop the transaction from reaching Aborted.
func (db *Database) guard(what string, obj *Object, fn func()) {
	defer func() {
		if p := recover(); p != nil {
			db.logger.Error("observer panicked",
				"during", what,
				"object", obj.String(),
				"panic", p,
				"stack", string(debug.Stack()),
			)
		}
	}()
	fn()
}
