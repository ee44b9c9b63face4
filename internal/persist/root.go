package persist

import (
	"sort"

	"golang.org/x/text/unicode/norm"
)

// Root accesses the named top-level slots of a Database. Values stored in
// the root are always reachable. Pending changes of the active transaction
// are visible to reads.
type Root struct {
	db *Database
}

// Lookup returns the root item key. ok is false if it does not exist.
// Lists and maps are returned as copies.
func (r Root) Lookup(key string) (value any, ok bool, err error) {
	if r.db.isClosed() {
		return nil, false, ErrClosed
	}
	key = norm.NFC.String(key)
	if slot, pending := r.db.pendingRoot(key); pending {
		if slot.deleted {
			return nil, false, nil
		}
		return detach(slot.value), true, nil
	}
	return r.db.engine.rootValue(key)
}

// Get returns the root item key, or nil if it does not exist.
func (r Root) Get(key string) (any, error) {
	v, _, err := r.Lookup(key)
	return v, err
}

// Set stores value under key in tx. A nil value deletes the item.
func (r Root) Set(tx *Transaction, key string, value any) error {
	if tx == nil {
		return noActiveTransactionError("setting root item " + key)
	}
	return tx.SetRoot(key, value)
}

// Delete removes key in tx.
func (r Root) Delete(tx *Transaction, key string) error {
	if tx == nil {
		return noActiveTransactionError("deleting root item " + key)
	}
	return tx.DeleteRoot(key)
}

// Keys returns the existing root keys, sorted, including pending changes.
func (r Root) Keys() ([]string, error) {
	if r.db.isClosed() {
		return nil, ErrClosed
	}
	stored, err := r.db.engine.rootKeys()
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(stored))
	for _, k := range stored {
		set[k] = true
	}

	r.db.mu.Lock()
	for k, slot := range r.db.roots {
		set[k] = !slot.deleted
	}
	r.db.mu.Unlock()

	keys := make([]string, 0, len(set))
	for k, live := range set {
		if live {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}
