package persist

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	lru "github.com/hashicorp/golang-lru"

	"github.com/roach88/pstore/internal/codec"
	"github.com/roach88/pstore/internal/metrics"
	"github.com/roach88/pstore/internal/store"
)

// engine bridges the codec and the backing store. It resolves oids to
// objects, owns the class name list and caches decoded rows.
//
// Rows in the cache are raw: references are *codec.Ref, not *Object. The
// cache only ever reflects committed state.
type engine struct {
	db      *Database
	store   *store.Store
	schema  *Schema
	classes []string
	rows    *lru.Cache
	logger  *slog.Logger
}

func newEngine(db *Database, st *store.Store, schema *Schema, cacheSize int, logger *slog.Logger) (*engine, error) {
	g, err := st.Globals(context.Background())
	if err != nil {
		return nil, fmt.Errorf("load globals: %w", err)
	}
	classes, err := codec.UnmarshalClassNames(g.ClassNames)
	if err != nil {
		return nil, fmt.Errorf("decode class names: %w", err)
	}
	rows, err := lru.New(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("row cache: %w", err)
	}
	return &engine{
		db:      db,
		store:   st,
		schema:  schema,
		classes: classes,
		rows:    rows,
		logger:  logger,
	}, nil
}

// rawRow returns the committed, undecoded-reference attribute dictionary of
// oid. ok is false if the row does not exist. Callers must not mutate it.
func (e *engine) rawRow(oid OID) (map[string]any, bool, error) {
	if v, ok := e.rows.Get(oid); ok {
		return v.(map[string]any), true, nil
	}
	data, ok, err := e.store.ObjectData(context.Background(), int64(oid))
	if err != nil || !ok {
		return nil, ok, err
	}
	attrs, err := codec.UnmarshalAttrs(data)
	if err != nil {
		return nil, false, fmt.Errorf("decode object %d: %w", oid, err)
	}
	e.rows.Add(oid, attrs)
	return attrs, true, nil
}

// resolve turns a decoded reference into the live object for its oid.
func (e *engine) resolve(v any) (any, error) {
	if r, ok := v.(*codec.Ref); ok {
		return e.objectFor(OID(r.OID()))
	}
	return v, nil
}

// persisted returns the committed attributes of oid with references
// resolved to objects. The result is a fresh copy.
func (e *engine) persisted(oid OID) (map[string]any, bool, error) {
	raw, ok, err := e.rawRow(oid)
	if err != nil || !ok {
		return nil, ok, err
	}
	attrs, err := codec.MapAttrs(raw, e.resolve)
	if err != nil {
		return nil, false, fmt.Errorf("object %d: %w", oid, err)
	}
	return attrs, true, nil
}

// hydrate loads the data of a lazy object. It is a no-op for loaded ones.
func (e *engine) hydrate(obj *Object) error {
	if obj.state != stateUnloaded {
		return nil
	}
	attrs, ok, err := e.persisted(obj.oid)
	if err != nil {
		return fmt.Errorf("load %s: %w", obj, err)
	}
	if !ok {
		return &Error{
			Code:    CodeInvalidObject,
			Message: "object row is missing",
			Class:   obj.class.name,
			OID:     obj.oid,
		}
	}
	obj.attrs = attrs
	obj.state = stateLoaded
	metrics.ObjectLoadsTotal.Inc()
	e.logger.Debug("object loaded", "object", obj.String(), "attrs", len(attrs))
	e.db.loaded(obj)
	return nil
}

// objectFor returns the single live object for oid, creating a lazy one
// from the row's class if none is resident.
func (e *engine) objectFor(oid OID) (*Object, error) {
	return e.db.objects.getOrCreate(oid, func() (*Object, error) {
		idx, ok, err := e.store.ObjectClass(context.Background(), int64(oid))
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("reference to missing object %d", oid)
		}
		class, err := e.classAt(idx)
		if err != nil {
			return nil, err
		}
		return &Object{db: e.db, class: class, oid: oid, state: stateUnloaded}, nil
	})
}

func (e *engine) classAt(idx int) (*Class, error) {
	if idx < 0 || idx >= len(e.classes) {
		return nil, unknownClassError(fmt.Sprintf("#%d", idx))
	}
	name := e.classes[idx]
	class, ok := e.schema.Class(name)
	if !ok {
		return nil, unknownClassError(name)
	}
	return class, nil
}

// classIndex returns the stored index of name, or -1.
func (e *engine) classIndex(name string) int {
	for i, n := range e.classes {
		if n == name {
			return i
		}
	}
	return -1
}

// rootValue returns the committed value of a root item with references
// resolved.
func (e *engine) rootValue(key string) (any, bool, error) {
	kb, err := codec.MarshalKey(key)
	if err != nil {
		return nil, false, err
	}
	data, ok, err := e.store.RootValue(context.Background(), kb)
	if err != nil || !ok {
		return nil, ok, err
	}
	raw, err := codec.Unmarshal(data)
	if err != nil {
		return nil, false, fmt.Errorf("decode root %q: %w", key, err)
	}
	v, err := codec.Map(raw, e.resolve)
	if err != nil {
		return nil, false, fmt.Errorf("root %q: %w", key, err)
	}
	return v, true, nil
}

// rootKeys returns the committed root keys in sorted order.
func (e *engine) rootKeys() ([]string, error) {
	items, err := e.store.RootItems(context.Background())
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(items))
	for _, it := range items {
		k, err := codec.UnmarshalKey(it.Key)
		if err != nil {
			return nil, fmt.Errorf("decode root key: %w", err)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// objectsByClass returns the live objects for every stored row of class.
func (e *engine) objectsByClass(class *Class) ([]*Object, error) {
	idx := e.classIndex(class.name)
	if idx < 0 {
		return nil, nil
	}
	oids, err := e.store.OIDsByClass(context.Background(), idx)
	if err != nil {
		return nil, err
	}
	out := make([]*Object, 0, len(oids))
	for _, oid := range oids {
		obj, err := e.objectFor(OID(oid))
		if err != nil {
			return nil, err
		}
		out = append(out, obj)
	}
	return out, nil
}

// refcounts loads the committed reference count table.
func (e *engine) refcounts() (map[uint32]int64, error) {
	g, err := e.store.Globals(context.Background())
	if err != nil {
		return nil, err
	}
	return codec.UnmarshalRefcounts(g.Refcounts)
}
