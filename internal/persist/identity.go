package persist

import (
	"runtime"
	"sync"
	"weak"
)

// identityCache maps oids to their single live *Object. It holds weak
// pointers only; an entry disappears once its object is garbage collected.
//
// Cleanups run on the runtime's cleanup goroutine, hence the mutex.
type identityCache struct {
	mu      sync.Mutex
	entries map[OID]weak.Pointer[Object]
}

type cacheEntry struct {
	oid OID
	ptr weak.Pointer[Object]
}

func newIdentityCache() *identityCache {
	return &identityCache{entries: make(map[OID]weak.Pointer[Object])}
}

// lookup returns the live object for oid, or nil.
func (c *identityCache) lookup(oid OID) *Object {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.entries[oid]; ok {
		return p.Value()
	}
	return nil
}

// getOrCreate returns the live object for oid, calling create and caching
// the result if there is none.
func (c *identityCache) getOrCreate(oid OID, create func() (*Object, error)) (*Object, error) {
	if obj := c.lookup(oid); obj != nil {
		return obj, nil
	}
	obj, err := create()
	if err != nil {
		return nil, err
	}
	c.insert(oid, obj)
	return obj, nil
}

func (c *identityCache) insert(oid OID, obj *Object) {
	p := weak.Make(obj)

	c.mu.Lock()
	c.entries[oid] = p
	c.mu.Unlock()

	runtime.AddCleanup(obj, c.release, cacheEntry{oid: oid, ptr: p})
}

// remove drops the entry for oid if it still refers to obj.
func (c *identityCache) remove(oid OID, obj *Object) {
	c.release(cacheEntry{oid: oid, ptr: weak.Make(obj)})
}

// forget drops the entry for oid unconditionally.
func (c *identityCache) forget(oid OID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, oid)
}

func (c *identityCache) release(e cacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.entries[e.oid]; ok && cur == e.ptr {
		delete(c.entries, e.oid)
	}
}

// len returns the number of live entries.
func (c *identityCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, p := range c.entries {
		if p.Value() != nil {
			n++
		}
	}
	return n
}
