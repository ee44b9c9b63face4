package inspect

import (
	"context"
	"fmt"
	"sort"

	"github.com/roach88/pstore/internal/codec"
	"github.com/roach88/pstore/internal/store"
)

// RefKey is the key of the map a reference renders as.
const RefKey = "$ref"

// Dump is the decoded content of a store.
type Dump struct {
	Version   string     `json:"version"`
	Classes   []string   `json:"classes"`
	Refcounts []Refcount `json:"refcounts"`
	Roots     []RootItem `json:"roots"`
	Objects   []Object   `json:"objects"`
}

// Refcount is one entry of the reference count table.
type Refcount struct {
	OID   uint32 `json:"oid"`
	Count int64  `json:"count"`
}

// RootItem is one decoded root row.
type RootItem struct {
	Key   string `json:"key"`
	Value any    `json:"value"`

	refs []uint32
	size int
}

// Object is one decoded object row.
type Object struct {
	OID   int64          `json:"oid"`
	Class string         `json:"class"`
	Data  map[string]any `json:"data"`

	refs []uint32
	size int
}

// Snapshot reads and decodes the whole store.
func Snapshot(ctx context.Context, st *store.Store) (*Dump, error) {
	g, err := st.Globals(ctx)
	if err != nil {
		return nil, err
	}
	classes, err := codec.UnmarshalClassNames(g.ClassNames)
	if err != nil {
		return nil, fmt.Errorf("decode class names: %w", err)
	}
	counts, err := codec.UnmarshalRefcounts(g.Refcounts)
	if err != nil {
		return nil, fmt.Errorf("decode refcounts: %w", err)
	}

	d := &Dump{
		Version:   g.Version,
		Classes:   append([]string{}, classes...),
		Refcounts: make([]Refcount, 0, len(counts)),
		Roots:     []RootItem{},
		Objects:   []Object{},
	}
	for oid, n := range counts {
		d.Refcounts = append(d.Refcounts, Refcount{OID: oid, Count: n})
	}
	sort.Slice(d.Refcounts, func(i, j int) bool { return d.Refcounts[i].OID < d.Refcounts[j].OID })

	roots, err := st.RootItems(ctx)
	if err != nil {
		return nil, err
	}
	for _, r := range roots {
		key, err := codec.UnmarshalKey(r.Key)
		if err != nil {
			return nil, fmt.Errorf("decode root key: %w", err)
		}
		raw, err := codec.Unmarshal(r.Value)
		if err != nil {
			return nil, fmt.Errorf("decode root %q: %w", key, err)
		}
		value, err := render(raw)
		if err != nil {
			return nil, fmt.Errorf("root %q: %w", key, err)
		}
		d.Roots = append(d.Roots, RootItem{Key: key, Value: value, refs: codec.Refs(raw), size: len(r.Value)})
	}
	sort.Slice(d.Roots, func(i, j int) bool { return d.Roots[i].Key < d.Roots[j].Key })

	rows, err := st.Objects(ctx)
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		raw, err := codec.UnmarshalAttrs(r.Data)
		if err != nil {
			return nil, fmt.Errorf("decode object %d: %w", r.OID, err)
		}
		data, err := render(raw)
		if err != nil {
			return nil, fmt.Errorf("object %d: %w", r.OID, err)
		}
		d.Objects = append(d.Objects, Object{
			OID:   r.OID,
			Class: className(classes, r.Class),
			Data:  data.(map[string]any),
			refs:  codec.Refs(raw),
			size:  len(r.Data),
		})
	}
	return d, nil
}

// render replaces references with {"$ref": oid} maps.
func render(v any) (any, error) {
	return codec.Map(v, func(leaf any) (any, error) {
		if r, ok := leaf.(*codec.Ref); ok {
			return map[string]any{RefKey: r.OID()}, nil
		}
		return leaf, nil
	})
}

func className(classes []string, idx int) string {
	if idx >= 0 && idx < len(classes) {
		return classes[idx]
	}
	return fmt.Sprintf("#%d", idx)
}
