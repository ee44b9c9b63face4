package persist

import (
	"fmt"
	"sort"
	"sync"
)

// Property is a computed attribute. Reads of its name call Get instead of
// looking at stored data; writes call Set directly, without transaction
// bookkeeping or change notifications. Deleting the attribute calls Set with
// NoValue. A Property without Set is read-only.
type Property struct {
	Get func(obj *Object) (any, error)
	Set func(tx *Transaction, obj *Object, value any) error
}

// ClassOption configures a Class at registration.
type ClassOption func(*Class)

// WithProperty declares a computed attribute on the class.
func WithProperty(name string, p Property) ClassOption {
	return func(c *Class) {
		c.props[name] = p
	}
}

// WithClassObserver installs an observer notified for every object of the
// class, before the database-wide observer.
func WithClassObserver(o Observer) ClassOption {
	return func(c *Class) {
		c.observer = o
	}
}

// Class is a registered persistent class. Its name is what the store
// records, so renaming a class orphans its rows.
type Class struct {
	schema   *Schema
	name     string
	props    map[string]Property
	observer Observer
}

// Name returns the registered class name.
func (c *Class) Name() string {
	return c.name
}

func (c *Class) String() string {
	return c.name
}

// New constructs an object of the class in tx and sets the given initial
// attributes through the transaction, in key order.
func (c *Class) New(tx *Transaction, attrs map[string]any) (*Object, error) {
	if tx == nil {
		return nil, noActiveTransactionError("constructing " + c.name)
	}
	obj, err := tx.New(c)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := obj.Set(tx, k, attrs[k]); err != nil {
			return nil, fmt.Errorf("new %s: %w", c.name, err)
		}
	}
	return obj, nil
}

func (c *Class) property(name string) (Property, bool) {
	p, ok := c.props[name]
	return p, ok
}

// Schema is the set of persistent classes a Database can store.
type Schema struct {
	mu      sync.RWMutex
	classes map[string]*Class
}

// NewSchema returns an empty schema.
func NewSchema() *Schema {
	return &Schema{classes: make(map[string]*Class)}
}

// Register declares a persistent class.
func (s *Schema) Register(name string, opts ...ClassOption) (*Class, error) {
	if name == "" {
		return nil, fmt.Errorf("register class: empty name")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.classes[name]; ok {
		return nil, fmt.Errorf("register class: %q already registered", name)
	}

	c := &Class{schema: s, name: name, props: make(map[string]Property)}
	for _, opt := range opts {
		opt(c)
	}
	s.classes[name] = c
	return c, nil
}

// MustRegister is like Register but panics on error.
func (s *Schema) MustRegister(name string, opts ...ClassOption) *Class {
	c, err := s.Register(name, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// Class returns the class registered under name.
func (s *Schema) Class(name string) (*Class, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.classes[name]
	return c, ok
}

// Classes returns all registered classes sorted by name.
func (s *Schema) Classes() []*Class {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Class, 0, len(s.classes))
	for _, c := range s.classes {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}
