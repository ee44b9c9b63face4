package inspect

import (
	"fmt"
	"sort"
)

// Problem kinds reported by Verify.
const (
	// KindCountMismatch: stored count differs from the number of incoming references.
	KindCountMismatch = "count-mismatch"
	// KindMissingTarget: a reference points at an oid without a row.
	KindMissingTarget = "missing-target"
	// KindMissingRefcount: an object row has no refcount entry.
	KindMissingRefcount = "missing-refcount"
	// KindOrphanRefcount: a refcount entry has no object row.
	KindOrphanRefcount = "orphan-refcount"
	// KindUnreachable: an object row cannot be reached from any root item.
	KindUnreachable = "unreachable"
)

// Problem is one inconsistency found by Verify.
type Problem struct {
	Kind    string `json:"kind"`
	OID     int64  `json:"oid"`
	Message string `json:"message"`
}

func (p Problem) String() string {
	return fmt.Sprintf("%s #%d: %s", p.Kind, p.OID, p.Message)
}

// Verify checks the reference count table of d against the references
// actually stored. Unreachable rows are cycles that reference counting
// keeps alive; they are reported, not repaired.
func Verify(d *Dump) []Problem {
	rows := make(map[int64]*Object, len(d.Objects))
	for i := range d.Objects {
		rows[d.Objects[i].OID] = &d.Objects[i]
	}
	stored := make(map[int64]int64, len(d.Refcounts))
	for _, rc := range d.Refcounts {
		stored[int64(rc.OID)] = rc.Count
	}

	var problems []Problem
	incoming := make(map[int64]int64)
	count := func(from string, refs []uint32) {
		for _, r := range refs {
			oid := int64(r)
			incoming[oid]++
			if _, ok := rows[oid]; !ok {
				problems = append(problems, Problem{
					Kind:    KindMissingTarget,
					OID:     oid,
					Message: fmt.Sprintf("referenced by %s but has no row", from),
				})
			}
		}
	}
	for _, r := range d.Roots {
		count(fmt.Sprintf("root %q", r.Key), r.refs)
	}
	for _, o := range d.Objects {
		count(fmt.Sprintf("#%d", o.OID), o.refs)
	}

	for _, o := range d.Objects {
		n, ok := stored[o.OID]
		switch {
		case !ok:
			problems = append(problems, Problem{
				Kind:    KindMissingRefcount,
				OID:     o.OID,
				Message: fmt.Sprintf("%d incoming references, no refcount entry", incoming[o.OID]),
			})
		case n != incoming[o.OID]:
			problems = append(problems, Problem{
				Kind:    KindCountMismatch,
				OID:     o.OID,
				Message: fmt.Sprintf("stored count %d, %d incoming references", n, incoming[o.OID]),
			})
		}
	}
	for oid, n := range stored {
		if _, ok := rows[oid]; !ok {
			problems = append(problems, Problem{
				Kind:    KindOrphanRefcount,
				OID:     oid,
				Message: fmt.Sprintf("count %d for a missing row", n),
			})
		}
	}

	reached := make(map[int64]bool)
	var queue []int64
	for _, r := range d.Roots {
		for _, ref := range r.refs {
			queue = append(queue, int64(ref))
		}
	}
	for len(queue) > 0 {
		oid := queue[0]
		queue = queue[1:]
		if reached[oid] {
			continue
		}
		reached[oid] = true
		if o, ok := rows[oid]; ok {
			for _, ref := range o.refs {
				queue = append(queue, int64(ref))
			}
		}
	}
	for _, o := range d.Objects {
		if !reached[o.OID] {
			problems = append(problems, Problem{
				Kind:    KindUnreachable,
				OID:     o.OID,
				Message: fmt.Sprintf("%s is not reachable from the root", o.Class),
			})
		}
	}

	sort.SliceStable(problems, func(i, j int) bool {
		if problems[i].OID != problems[j].OID {
			return problems[i].OID < problems[j].OID
		}
		return problems[i].Kind < problems[j].Kind
	})
	return problems
}
