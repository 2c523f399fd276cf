package journal

import "github.com/liveclone/gldb/pkg/wire"

// fuseOperations combines a preceding operation with its causal
// successor from the same source into one operation covering the
// combined tick range, reifying both sides so their origin TIDs are
// preserved.
func fuseOperations(prev, next *wire.Operation) *wire.Operation {
	prevTID := prev.TID()
	nextTID := next.TID()

	deletes := make([]wire.ReifiedTriple, 0, len(prev.Deletes)+len(next.Deletes))
	deletes = append(deletes, prev.Deletes...)
	deletes = append(deletes, next.Deletes...)

	reified := make([]wire.ReifiedTriple, 0)
	if prev.Inserts.Fused {
		reified = append(reified, prev.Inserts.Reified...)
	} else {
		reified = append(reified, wire.ReifySubjects(prev.Inserts.Subjects, prevTID)...)
	}
	if next.Inserts.Fused {
		reified = append(reified, next.Inserts.Reified...)
	} else {
		reified = append(reified, wire.ReifySubjects(next.Inserts.Subjects, nextTID)...)
	}

	return &wire.Operation{
		Version: next.Version,
		From:    prev.From,
		Time:    next.Time,
		Deletes: deletes,
		Inserts: wire.Inserts{Fused: true, Reified: reified},
		Proof:   next.Proof,
	}
}

// contiguous reports whether next is the immediate causal successor of
// prev from the same source: no intervening fork (same source key) and
// no gap in ticks.
func contiguous(prev, next *wire.Operation) bool {
	return prev.Time.SameSource(next.Time) && next.From == prev.Time.Ticks()+1
}
