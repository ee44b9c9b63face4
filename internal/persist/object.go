package persist

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/roach88/pstore/internal/codec"
)

// OID is the durable identity of a persisted object, assigned on first commit.
type OID uint32

type objectState uint8

const (
	// stateUnloaded: durable, attribute data not read yet.
	stateUnloaded objectState = iota
	stateLoaded
	stateInvalid
)

func (s objectState) String() string {
	switch s {
	case stateUnloaded:
		return "unloaded"
	case stateLoaded:
		return "loaded"
	case stateInvalid:
		return "invalid"
	default:
		return fmt.Sprintf("objectState(%d)", uint8(s))
	}
}

// Object is an instance of a persistent class. The pointer is the object's
// identity: a Database never hands out two *Object for the same oid.
//
// Reads need no transaction. Writes take the Transaction explicitly.
type Object struct {
	db    *Database
	class *Class
	oid   OID
	state objectState
	attrs map[string]any
}

// Class returns the object's class.
func (o *Object) Class() *Class {
	return o.class
}

// OID returns the object's durable id. ok is false until the object has
// been committed, and again once it becomes invalid.
func (o *Object) OID() (oid OID, ok bool) {
	return o.oid, o.oid != 0
}

// Valid reports whether the object can still be used.
func (o *Object) Valid() bool {
	return o.state != stateInvalid
}

// Loaded reports whether the object's attribute data is in memory.
func (o *Object) Loaded() bool {
	return o.state == stateLoaded
}

// Lookup returns the value of attr. ok is false if the attribute is not set.
// Lazy objects are loaded on first access. Lists and maps are returned as
// copies; change them through Set.
func (o *Object) Lookup(attr string) (value any, ok bool, err error) {
	if o.state == stateInvalid {
		return nil, false, invalidObjectError(o, attr)
	}
	if p, isProp := o.class.property(attr); isProp && p.Get != nil {
		v, err := p.Get(o)
		if err != nil {
			return nil, false, err
		}
		return v, true, nil
	}
	if err := o.db.engine.hydrate(o); err != nil {
		return nil, false, err
	}
	value, ok = o.attrs[attr]
	return detach(value), ok, nil
}

// detach copies the lists and maps inside v so that callers cannot change
// stored data without a transaction.
func detach(v any) any {
	out, _ := codec.Map(v, func(leaf any) (any, error) {
		if b, ok := leaf.([]byte); ok {
			return bytes.Clone(b), nil
		}
		return leaf, nil
	})
	return out
}

// Get returns the value of attr, or an error wrapping ErrAttributeNotFound.
func (o *Object) Get(attr string) (any, error) {
	v, ok, err := o.Lookup(attr)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrAttributeNotFound, o.class.name, attr)
	}
	return v, nil
}

// Keys returns the names of the stored attributes in sorted order.
func (o *Object) Keys() ([]string, error) {
	if o.state == stateInvalid {
		return nil, invalidObjectError(o, "")
	}
	if err := o.db.engine.hydrate(o); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(o.attrs))
	for k := range o.attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Set changes attr in tx. Computed properties are written through their
// setter; everything else is recorded by the transaction.
func (o *Object) Set(tx *Transaction, attr string, value any) error {
	if tx == nil {
		return noActiveTransactionError("setting " + o.class.name + "." + attr)
	}
	return tx.Set(o, attr, value)
}

// Delete removes attr in tx.
func (o *Object) Delete(tx *Transaction, attr string) error {
	if tx == nil {
		return noActiveTransactionError("deleting " + o.class.name + "." + attr)
	}
	return tx.Delete(o, attr)
}

func (o *Object) String() string {
	if o.oid != 0 {
		return fmt.Sprintf("%s#%d", o.class.name, o.oid)
	}
	return fmt.Sprintf("%s@%p", o.class.name, o)
}
