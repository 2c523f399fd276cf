// Package dataset implements a set-union replicated graph store:
// triples reified by the TIDs that asserted them, insert/delete via
// patches, a constraints framework, snapshot production/consumption,
// and stale-cut handling for fused remote operations.
package dataset

import (
	"context"
	"sync"

	"github.com/liveclone/gldb/pkg/clerrors"
	"github.com/liveclone/gldb/pkg/clock"
	"github.com/liveclone/gldb/pkg/wire"
)

// Patch is a local write request: delete concrete triples currently
// held, resolved against the current graph, then insert the given
// subject graph.
type Patch struct {
	Delete []wire.Triple
	Insert []wire.Subject
	// Proof, if set, is forwarded to constraints (e.g. Statutory) as
	// interim.Proof.
	Proof []byte
}

// ApplyResult reports the effect of applying a remote operation.
type ApplyResult struct {
	Changed bool
	// LocalTick is the clock value this clone ticked to when it admitted
	// op, distinct from op's own (remote) time. Set whenever Changed.
	LocalTick clock.Clock
	// Correction is a constraint-emitted follow-up operation (e.g.
	// single-valued enforcement), carrying its own fresh TID, that the
	// caller must journal and publish separately.
	Correction *wire.Operation
}

// Dataset is the in-process SU-Set index for one clone.
type Dataset struct {
	mu               sync.RWMutex
	triples          map[string]*assertion
	bySubject        map[string]map[string]bool // subject IRI -> set of triple keys touching it
	seen             map[clock.TID]bool         // every insert TID ever applied, for stale-cut + dedup
	constraints      []Constraint
	maxOperationSize int
}

// New returns an empty dataset with the given constraints and
// per-operation size cap (0 = unbounded).
func New(maxOperationSize int, constraints ...Constraint) *Dataset {
	return &Dataset{
		triples:          make(map[string]*assertion),
		bySubject:        make(map[string]map[string]bool),
		seen:             make(map[clock.TID]bool),
		constraints:      constraints,
		maxOperationSize: maxOperationSize,
	}
}

func (d *Dataset) indexLocked(key string, tr wire.Triple) *assertion {
	a, ok := d.triples[key]
	if !ok {
		a = newAssertion(tr)
		d.triples[key] = a
	}
	set, ok := d.bySubject[tr.S]
	if !ok {
		set = make(map[string]bool)
		d.bySubject[tr.S] = set
	}
	set[key] = true
	return a
}

func (d *Dataset) insertLocked(tr wire.Triple, tid clock.TID) {
	if tid == "" {
		return
	}
	key := tripleKey(tr.S, tr.P, tr.O)
	a := d.indexLocked(key, tr)
	a.tids[tid] = struct{}{}
	d.seen[tid] = true
}

func (d *Dataset) withdrawLocked(tr wire.Triple, tid clock.TID) {
	key := tripleKey(tr.S, tr.P, tr.O)
	a, ok := d.triples[key]
	if !ok {
		return
	}
	delete(a.tids, tid)
	if len(a.tids) == 0 {
		delete(d.triples, key)
		if set := d.bySubject[tr.S]; set != nil {
			delete(set, key)
			if len(set) == 0 {
				delete(d.bySubject, tr.S)
			}
		}
	}
}

func (d *Dataset) tidsForLocked(tr wire.Triple) []clock.TID {
	a, ok := d.triples[tripleKey(tr.S, tr.P, tr.O)]
	if !ok {
		return nil
	}
	out := make([]clock.TID, 0, len(a.tids))
	for tid := range a.tids {
		out = append(out, tid)
	}
	return out
}

// Describe returns the compacted subject graph for iri, or ok=false if
// the subject has no live triples.
func (d *Dataset) Describe(iri string) (wire.Subject, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.describeLocked(iri)
}

func (d *Dataset) describeLocked(iri string) (wire.Subject, bool) {
	keys := d.bySubject[iri]
	if len(keys) == 0 {
		return nil, false
	}
	triples := make([]wire.Triple, 0, len(keys))
	for key := range keys {
		triples = append(triples, d.triples[key].triple)
	}
	subjects := subjectsFromTriples(triples)
	if len(subjects) == 0 {
		return nil, false
	}
	return subjects[0], true
}

// ObjectsOf returns the current objects held for subject/predicate,
// satisfying the ReadState interface constraints consume.
func (d *Dataset) ObjectsOf(subject, predicate string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.objectsOfLocked(subject, predicate)
}

func (d *Dataset) objectsOfLocked(subject, predicate string) []string {
	var out []string
	for key := range d.bySubject[subject] {
		a := d.triples[key]
		if a.triple.P == predicate {
			out = append(out, a.triple.O)
		}
	}
	return out
}

var _ ReadState = (*Dataset)(nil)

// readStateLocked is the ReadState a constraint sees while Write or
// Apply already hold d.mu: it reads through the *Locked helpers
// directly instead of *Dataset's public Describe/ObjectsOf, which
// would re-acquire the (non-reentrant) lock and deadlock.
type readStateLocked struct {
	d *Dataset
}

func (r readStateLocked) Describe(iri string) (wire.Subject, bool) {
	return r.d.describeLocked(iri)
}

func (r readStateLocked) ObjectsOf(subject, predicate string) []string {
	return r.d.objectsOfLocked(subject, predicate)
}

var _ ReadState = readStateLocked{}

// Write performs a local transaction: it resolves patch.Delete against
// the current graph, runs constraints over the proposed effect, mints a
// fresh TID via nextTick, and applies the result. It returns (nil, nil)
// if the patch has no effect once constraints run (no tick is
// consumed).
func (d *Dataset) Write(ctx context.Context, nextTick func() clock.Clock, patch Patch) (*wire.Operation, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	interim := &Interim{Proof: patch.Proof}
	for _, del := range patch.Delete {
		if len(d.tidsForLocked(del)) > 0 {
			interim.Delete = append(interim.Delete, del)
		}
	}
	for _, subj := range patch.Insert {
		interim.Insert = append(interim.Insert, subjectTriples(subj)...)
	}

	state := readStateLocked{d}
	for _, c := range d.constraints {
		if err := c.Check(ctx, state, interim); err != nil {
			return nil, err
		}
	}
	for _, c := range d.constraints {
		if err := c.Apply(ctx, state, interim); err != nil {
			return nil, err
		}
	}

	if len(interim.Insert) == 0 && len(interim.Delete) == 0 {
		return nil, nil
	}

	t := nextTick()
	tid := t.Hash()

	deletes := make([]wire.ReifiedTriple, 0, len(interim.Delete))
	for _, tr := range interim.Delete {
		for _, existing := range d.tidsForLocked(tr) {
			deletes = append(deletes, wire.ReifiedTriple{TID: existing, Triple: tr})
		}
	}

	op := &wire.Operation{
		Version: wire.ProtocolVersion,
		From:    t.Ticks(),
		Time:    t,
		Deletes: deletes,
		Inserts: wire.Inserts{Subjects: subjectsFromTriples(interim.Insert)},
		Proof:   interim.Proof,
	}

	size, err := wire.Size(op)
	if err != nil {
		return nil, err
	}
	if d.maxOperationSize > 0 && size > d.maxOperationSize {
		return nil, clerrors.OperationSizeExceeded(size, d.maxOperationSize)
	}

	for _, rt := range deletes {
		d.withdrawLocked(rt.Triple, rt.TID)
	}
	for _, tr := range interim.Insert {
		d.insertLocked(tr, tid)
	}
	return op, nil
}

func reifiedInsertsOf(op *wire.Operation) []wire.ReifiedTriple {
	if op.Inserts.Fused {
		return op.Inserts.Reified
	}
	return wire.ReifySubjects(op.Inserts.Subjects, op.TID())
}

// Apply admits a remote operation: withdraws its deletes, adds its
// inserts (skipping any insert TID already seen — this covers both
// duplicate-operation rejection and stale-cut fusion, since a TID once
// seen is never re-admitted even if the triple it asserted has since
// been deleted), ticks the local clock once for the admission itself,
// then runs each constraint's Apply against the new state to produce
// an optional correction operation with its own fresh TID (consuming a
// second tick).
func (d *Dataset) Apply(ctx context.Context, op *wire.Operation, localTick func() clock.Clock) (ApplyResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	inserts := reifiedInsertsOf(op)
	freshInserts := make([]wire.ReifiedTriple, 0, len(inserts))
	for _, rt := range inserts {
		if !d.seen[rt.TID] {
			freshInserts = append(freshInserts, rt)
		}
	}

	if len(op.Deletes) == 0 && len(freshInserts) == 0 {
		return ApplyResult{Changed: false}, nil
	}

	for _, rt := range op.Deletes {
		d.withdrawLocked(rt.Triple, rt.TID)
	}
	for _, rt := range freshInserts {
		d.insertLocked(rt.Triple, rt.TID)
	}

	// The causal join with op.Time already happened in the delivery
	// service before Apply was invoked; this is the local tick for the
	// admission itself.
	result := ApplyResult{Changed: true, LocalTick: localTick()}
	state := readStateLocked{d}
	for _, c := range d.constraints {
		interim := &Interim{}
		if err := c.Apply(ctx, state, interim); err != nil {
			return ApplyResult{}, err
		}
		if len(interim.Insert) == 0 && len(interim.Delete) == 0 {
			continue
		}
		t := localTick()
		tid := t.Hash()

		reifiedDeletes := make([]wire.ReifiedTriple, 0, len(interim.Delete))
		for _, tr := range interim.Delete {
			for _, existing := range d.tidsForLocked(tr) {
				reifiedDeletes = append(reifiedDeletes, wire.ReifiedTriple{TID: existing, Triple: tr})
			}
		}
		for _, rt := range reifiedDeletes {
			d.withdrawLocked(rt.Triple, rt.TID)
		}
		for _, tr := range interim.Insert {
			d.insertLocked(tr, tid)
		}

		result.Correction = &wire.Operation{
			Version: wire.ProtocolVersion,
			From:    t.Ticks(),
			Time:    t,
			Deletes: reifiedDeletes,
			Inserts: wire.Inserts{Subjects: subjectsFromTriples(interim.Insert)},
		}
	}

	return result, nil
}
