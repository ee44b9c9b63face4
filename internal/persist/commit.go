package persist

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/roach88/pstore/internal/codec"
	"github.com/roach88/pstore/internal/metrics"
	"github.com/roach88/pstore/internal/store"
)

// objectChange is one changed object and its changed attributes, in order.
type objectChange struct {
	obj   *Object
	attrs []string
}

// rootChange is one changed root item. deleted means the key is removed.
type rootChange struct {
	key     string
	value   any
	deleted bool
}

// changeSet is what a Transaction hands to the engine at commit.
type changeSet struct {
	objects []objectChange
	roots   []rootChange
}

// commitResult reports what a successful commit did.
type commitResult struct {
	created   []*Object
	collected []OID
}

// committer runs one commit inside one store transaction.
type committer struct {
	e   *engine
	ctx context.Context
	tx  *store.Tx
	cs  *changeSet

	rc        map[uint32]int64
	queue     []uint32
	queued    map[uint32]bool
	members   map[*Object]bool
	committed map[*Object]bool
	created   []*Object
	staged    map[OID]map[string]any
	collected []OID
	classes   []string
}

// commit writes cs durably. On error nothing is written, oids assigned
// during the attempt are reverted, and the engine state is unchanged.
func (e *engine) commit(cs *changeSet) (*commitResult, error) {
	start := time.Now()
	ctx := context.Background()

	tx, err := e.store.Begin(ctx)
	if err != nil {
		return nil, err
	}

	c := &committer{
		e:         e,
		ctx:       ctx,
		tx:        tx,
		cs:        cs,
		queued:    make(map[uint32]bool),
		members:   make(map[*Object]bool, len(cs.objects)),
		committed: make(map[*Object]bool),
		staged:    make(map[OID]map[string]any),
		classes:   slices.Clone(e.classes),
	}
	for _, ch := range cs.objects {
		c.members[ch.obj] = true
	}

	if err := c.run(); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			e.logger.Error("rollback failed", "error", rbErr)
		}
		for _, obj := range c.created {
			obj.oid = 0
		}
		return nil, err
	}

	for oid, raw := range c.staged {
		e.rows.Add(oid, raw)
	}
	for _, oid := range c.collected {
		e.rows.Remove(oid)
	}
	for _, obj := range c.created {
		e.db.objects.insert(obj.oid, obj)
	}
	e.classes = c.classes

	metrics.CommitDurationSeconds.Observe(time.Since(start).Seconds())
	metrics.ObjectsCreatedTotal.Add(float64(len(c.created)))
	metrics.ObjectsCollectedTotal.Add(float64(len(c.collected)))

	return &commitResult{created: c.created, collected: c.collected}, nil
}

func (c *committer) run() error {
	g, err := c.tx.Globals(c.ctx)
	if err != nil {
		return err
	}
	if c.rc, err = codec.UnmarshalRefcounts(g.Refcounts); err != nil {
		return fmt.Errorf("decode refcounts: %w", err)
	}

	for _, ch := range c.cs.objects {
		obj := ch.obj
		if obj.oid == 0 || c.committed[obj] {
			continue
		}
		if err := c.update(ch); err != nil {
			return err
		}
	}

	for _, rch := range c.cs.roots {
		if err := c.updateRoot(rch); err != nil {
			return err
		}
	}

	if err := c.collect(); err != nil {
		return err
	}

	rc, err := codec.MarshalRefcounts(c.rc)
	if err != nil {
		return fmt.Errorf("encode refcounts: %w", err)
	}
	if err := c.tx.SetRefcounts(c.ctx, rc); err != nil {
		return err
	}
	names, err := codec.MarshalClassNames(c.classes)
	if err != nil {
		return fmt.Errorf("encode class names: %w", err)
	}
	if err := c.tx.SetClassNames(c.ctx, names); err != nil {
		return err
	}
	return c.tx.Commit()
}

// update rewrites the row of a durable changed object.
func (c *committer) update(ch objectChange) error {
	obj := ch.obj
	c.committed[obj] = true

	old, ok, err := c.row(obj.oid)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("commit %s: row is missing", obj)
	}
	if err := c.decrefAll(codec.Refs(old)); err != nil {
		return err
	}

	data := make(map[string]any, len(old))
	for k, v := range old {
		data[k] = v
	}
	for _, attr := range ch.attrs {
		if v, ok := obj.attrs[attr]; ok {
			data[attr] = v
		} else {
			delete(data, attr)
		}
	}
	return c.write(obj, data)
}

// write encodes data as the row of obj.
func (c *committer) write(obj *Object, data map[string]any) error {
	raw, err := codec.MapAttrs(data, c.encodeLeaf)
	if err != nil {
		return fmt.Errorf("encode %s: %w", obj, err)
	}
	blob, err := codec.MarshalAttrs(raw)
	if err != nil {
		return fmt.Errorf("encode %s: %w", obj, err)
	}
	if err := c.tx.SetObjectData(c.ctx, int64(obj.oid), blob); err != nil {
		return err
	}
	c.staged[obj.oid] = raw
	return nil
}

// encodeLeaf turns object references into counted *codec.Ref values.
func (c *committer) encodeLeaf(v any) (any, error) {
	switch t := v.(type) {
	case *Object:
		oid, err := c.reference(t)
		if err != nil {
			return nil, err
		}
		return codec.NewRef(int64(oid))
	case *codec.Ref:
		if err := c.incref(t.OID()); err != nil {
			return nil, err
		}
		return t, nil
	default:
		return v, nil
	}
}

// reference counts one more edge to obj, allocating its row if it has none.
func (c *committer) reference(obj *Object) (OID, error) {
	if obj.db != c.e.db {
		return 0, danglingObjectError(obj, "object belongs to another database")
	}
	if obj.state == stateInvalid {
		return 0, danglingObjectError(obj, "object is no longer valid")
	}
	if obj.oid != 0 {
		return obj.oid, c.incref(uint32(obj.oid))
	}
	if !c.members[obj] {
		return 0, danglingObjectError(obj, "object was not created in this transaction")
	}
	if err := c.allocate(obj); err != nil {
		return 0, err
	}
	return obj.oid, nil
}

// allocate gives a new object its row and writes its data.
func (c *committer) allocate(obj *Object) error {
	idx := slices.Index(c.classes, obj.class.name)
	if idx < 0 {
		c.classes = append(c.classes, obj.class.name)
		idx = len(c.classes) - 1
	}
	id, err := c.tx.InsertObject(c.ctx, idx)
	if err != nil {
		return err
	}
	obj.oid = OID(id)
	c.committed[obj] = true
	c.created = append(c.created, obj)
	c.rc[uint32(obj.oid)] = 1
	return c.write(obj, obj.attrs)
}

func (c *committer) updateRoot(rch rootChange) error {
	kb, err := codec.MarshalKey(rch.key)
	if err != nil {
		return err
	}
	old, ok, err := c.tx.RootValue(c.ctx, kb)
	if err != nil {
		return err
	}
	if ok {
		v, err := codec.Unmarshal(old)
		if err != nil {
			return fmt.Errorf("decode root %q: %w", rch.key, err)
		}
		if err := c.decrefAll(codec.Refs(v)); err != nil {
			return err
		}
	}
	if rch.deleted {
		return c.tx.DeleteRoot(c.ctx, kb)
	}
	raw, err := codec.Map(rch.value, c.encodeLeaf)
	if err != nil {
		return fmt.Errorf("encode root %q: %w", rch.key, err)
	}
	blob, err := codec.Marshal(raw)
	if err != nil {
		return fmt.Errorf("encode root %q: %w", rch.key, err)
	}
	return c.tx.PutRoot(c.ctx, kb, blob)
}

// collect deletes every queued row whose count is still zero, cascading
// to the rows it referenced.
func (c *committer) collect() error {
	for len(c.queue) > 0 {
		oid := c.queue[0]
		c.queue = c.queue[1:]
		if !c.queued[oid] {
			continue
		}
		delete(c.queued, oid)

		data, ok, err := c.row(OID(oid))
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("collect object %d: row is missing", oid)
		}
		if err := c.tx.DeleteObject(c.ctx, int64(oid)); err != nil {
			return err
		}
		delete(c.rc, oid)
		delete(c.staged, OID(oid))
		c.collected = append(c.collected, OID(oid))
		if err := c.decrefAll(codec.Refs(data)); err != nil {
			return err
		}
	}
	return nil
}

func (c *committer) incref(oid uint32) error {
	n, ok := c.rc[oid]
	if !ok {
		return fmt.Errorf("incref object %d: no reference count", oid)
	}
	c.rc[oid] = n + 1
	delete(c.queued, oid)
	return nil
}

func (c *committer) decrefAll(oids []uint32) error {
	for _, oid := range oids {
		n, ok := c.rc[oid]
		if !ok {
			return fmt.Errorf("decref object %d: no reference count", oid)
		}
		n--
		c.rc[oid] = n
		if n <= 0 && !c.queued[oid] {
			c.queued[oid] = true
			c.queue = append(c.queue, oid)
		}
	}
	return nil
}

// row returns the current raw data of oid within this commit.
func (c *committer) row(oid OID) (map[string]any, bool, error) {
	if raw, ok := c.staged[oid]; ok {
		return raw, true, nil
	}
	if v, ok := c.e.rows.Get(oid); ok {
		return v.(map[string]any), true, nil
	}
	data, ok, err := c.tx.ObjectData(c.ctx, int64(oid))
	if err != nil || !ok {
		return nil, ok, err
	}
	attrs, err := codec.UnmarshalAttrs(data)
	if err != nil {
		return nil, false, fmt.Errorf("decode object %d: %w", oid, err)
	}
	return attrs, true, nil
}
