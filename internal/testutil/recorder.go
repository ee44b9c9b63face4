// Package testutil provides helpers shared by tests.
package testutil

import (
	"sync"

	"github.com/roach88/pstore/internal/persist"
)

// Event kinds recorded by Recorder.
const (
	WillChange   = "will-change"
	DidChange    = "did-change"
	Loaded       = "loaded"
	WillRollback = "will-rollback"
	DidRollback  = "did-rollback"
)

// Event is one observer notification.
type Event struct {
	Kind   string
	Object *persist.Object
	Key    string
	Old    any
	New    any
}

// Recorder is a persist observer that records every notification in order.
//
// It implements persist.Observer, persist.LoadObserver and
// persist.RollbackObserver.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) add(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *Recorder) WillChange(obj *persist.Object, ch persist.Change) {
	r.add(Event{Kind: WillChange, Object: obj, Key: ch.Key, Old: ch.Old, New: ch.New})
}

func (r *Recorder) DidChange(obj *persist.Object, ch persist.Change) {
	r.add(Event{Kind: DidChange, Object: obj, Key: ch.Key, Old: ch.Old, New: ch.New})
}

func (r *Recorder) Loaded(obj *persist.Object) {
	r.add(Event{Kind: Loaded, Object: obj})
}

func (r *Recorder) WillRollback(obj *persist.Object) {
	r.add(Event{Kind: WillRollback, Object: obj})
}

func (r *Recorder) DidRollback(obj *persist.Object) {
	r.add(Event{Kind: DidRollback, Object: obj})
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Filter returns the recorded events of the given kind.
func (r *Recorder) Filter(kind string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// Count returns how many events of kind were recorded for obj. A nil obj
// counts events for every object.
func (r *Recorder) Count(kind string, obj *persist.Object) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Kind == kind && (obj == nil || e.Object == obj) {
			n++
		}
	}
	return n
}

// Reset forgets all recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
