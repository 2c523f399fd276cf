// Package journal implements the durable operation log for a clone:
// entries keyed by tick, operations keyed by TID, causal fusion of
// contiguous same-source entries, and garbage collection of operations
// no longer referenced by any entry or by the GWC.
//
// It persists through pkg/kvstore.Store, a generic interface fronting a
// concrete SQL engine with key-prefixed get/put/scan helpers.
package journal

import (
	"context"
	"strconv"
	"sync"

	"github.com/liveclone/gldb/pkg/clerrors"
	"github.com/liveclone/gldb/pkg/clock"
	"github.com/liveclone/gldb/pkg/kvstore"
	"github.com/liveclone/gldb/pkg/wire"
)

// Journal is the append-mostly operation log for one clone. All
// history-spanning operations (commit, causal reduce, GC) serialise on
// a single lock.
type Journal struct {
	store kvstore.Store

	mu    sync.RWMutex
	state State
}

// Exists reports whether store already holds journal state, letting a
// caller distinguish a brand-new store from one being reopened before
// calling Open.
func Exists(ctx context.Context, store kvstore.Store) (bool, error) {
	_, ok, err := store.Get(ctx, stateKey)
	if err != nil {
		return false, clerrors.Wrap(err, "check journal state")
	}
	return ok, nil
}

// Open loads a journal previously persisted in store, or initialises a
// fresh one at floor/initial if none exists yet — the case for a
// brand-new genesis clone, or one seeded from a snapshot (floor is the
// snapshot's GWC, initial is the snapshot's time).
func Open(ctx context.Context, store kvstore.Store, floor clock.GWC, initial clock.Clock) (*Journal, error) {
	raw, ok, err := store.Get(ctx, stateKey)
	if err != nil {
		return nil, clerrors.Wrap(err, "load journal state")
	}
	if ok {
		st, err := decodeState(raw)
		if err != nil {
			return nil, err
		}
		return &Journal{store: store, state: st}, nil
	}

	st := State{
		TailTick: 0,
		Time:     initial,
		GWC:      floor.Update(initial),
		Floor:    floor,
		Sources:  make(map[string]sourceTail),
	}
	j := &Journal{store: store, state: st}
	if err := j.persistState(ctx); err != nil {
		return nil, err
	}
	return j, nil
}

func (j *Journal) persistState(ctx context.Context) error {
	b, err := encodeState(j.state)
	if err != nil {
		return err
	}
	return j.store.Put(ctx, stateKey, b)
}

// State returns the journal's current bookkeeping snapshot.
func (j *Journal) State() State {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.state
}

func (j *Journal) loadEntry(ctx context.Context, tick uint64) (Entry, bool, error) {
	raw, ok, err := j.store.Get(ctx, tickKey(tick))
	if err != nil || !ok {
		return Entry{}, ok, err
	}
	e, err := decodeEntry(raw)
	return e, true, err
}

// Operation fetches a previously committed operation by TID.
func (j *Journal) Operation(ctx context.Context, tid clock.TID) (*wire.Operation, bool, error) {
	raw, ok, err := j.store.Get(ctx, opKey(string(tid)))
	if err != nil || !ok {
		return nil, ok, err
	}
	op, err := wire.Unmarshal(raw)
	if err != nil {
		return nil, false, err
	}
	return op, true, nil
}

// EntryAfter returns the next journal entry strictly after tick, an
// iteration primitive for walking the log forward.
func (j *Journal) EntryAfter(ctx context.Context, tick uint64) (Entry, bool, error) {
	var found Entry
	var ok bool
	var scanErr error
	err := j.store.ScanRange(ctx, tickKey(tick+1), tickPrefix+"~", func(_ string, v []byte) bool {
		e, err := decodeEntry(v)
		if err != nil {
			scanErr = err
			return false
		}
		found, ok = e, true
		return false
	})
	if err != nil {
		return Entry{}, false, err
	}
	if scanErr != nil {
		return Entry{}, false, scanErr
	}
	return found, ok, nil
}

// tickForTID resolves the local tick a TID's journal entry is stored
// at. Unlike op.Time.Ticks(), this tick is this clone's own append
// sequence, unique across every source that has ever committed here.
func (j *Journal) tickForTID(ctx context.Context, tid clock.TID) (uint64, bool, error) {
	raw, ok, err := j.store.Get(ctx, tidTickKey(string(tid)))
	if err != nil || !ok {
		return 0, ok, err
	}
	tick, err := strconv.ParseUint(string(raw), 36, 64)
	if err != nil {
		return 0, false, clerrors.Wrap(err, "decode tid tick index")
	}
	return tick, true, nil
}

// EntryPrev returns the (prevTick, prevTID) recorded on the entry for
// tid.
func (j *Journal) EntryPrev(ctx context.Context, tid clock.TID) (prevTick uint64, prevTID clock.TID, ok bool, err error) {
	tick, ok, err := j.tickForTID(ctx, tid)
	if err != nil || !ok {
		return 0, "", ok, err
	}
	entry, ok, err := j.loadEntry(ctx, tick)
	if err != nil || !ok {
		return 0, "", ok, err
	}
	return entry.PrevTick, entry.PrevTID, true, nil
}

// AdvanceLocal folds a local clock advance not tied to any stored
// operation — the mandatory tick on admitting a remote operation, once
// the causal join with its time has already happened — into the
// journal's bookkeeping clock and GWC, so Status.Ticks reflects it.
func (j *Journal) AdvanceLocal(ctx context.Context, t clock.Clock) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.state.Time = j.state.Time.Update(t)
	j.state.GWC = j.state.GWC.Update(t)
	return j.persistState(ctx)
}

// CommitEntry appends op to the journal, fusing it with the preceding
// entry from the same source when the two are causally contiguous.
// It returns the entry actually stored — the fused entry when fusion
// occurred.
func (j *Journal) CommitEntry(ctx context.Context, op *wire.Operation) (Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	sourceKey := op.Time.SourceKey()
	tail, hasTail := j.state.Sources[sourceKey]

	// entry.Tick is this journal's own append sequence, not op.Time.Ticks():
	// that is the source's own path-relative tick and routinely collides
	// across sources (two clones can each reach Ticks()==1 independently).
	entry := Entry{
		Tick: j.state.TailTick + 1,
		Time: op.Time,
		TID:  op.TID(),
	}
	stored := op
	var deleteTick uint64
	var deleteTID clock.TID
	fusing := false

	if hasTail {
		prevOp, ok, err := j.Operation(ctx, tail.TID)
		if err != nil {
			return Entry{}, err
		}
		if ok && contiguous(prevOp, op) {
			prevEntry, ok, err := j.loadEntry(ctx, tail.Tick)
			if err != nil {
				return Entry{}, err
			}
			if ok {
				fusing = true
				deleteTick, deleteTID = tail.Tick, tail.TID
				stored = fuseOperations(prevOp, op)
				entry.PrevTick, entry.PrevTID = prevEntry.PrevTick, prevEntry.PrevTID
			}
		}
	}
	if !fusing && hasTail {
		entry.PrevTick, entry.PrevTID = tail.Tick, tail.TID
	}

	opBytes, err := wire.Marshal(stored)
	if err != nil {
		return Entry{}, err
	}
	entryBytes, err := encodeEntry(entry)
	if err != nil {
		return Entry{}, err
	}

	if err := j.store.Batch(ctx, func(b kvstore.Batch) error {
		if fusing {
			b.Delete(tickKey(deleteTick))
			b.Delete(opKey(string(deleteTID)))
			b.Delete(tidTickKey(string(deleteTID)))
		}
		b.Put(tickKey(entry.Tick), entryBytes)
		b.Put(opKey(string(entry.TID)), opBytes)
		b.Put(tidTickKey(string(entry.TID)), []byte(strconv.FormatUint(entry.Tick, 36)))
		return nil
	}); err != nil {
		return Entry{}, clerrors.Wrap(err, "commit journal entry")
	}

	j.state.TailTick = entry.Tick
	j.state.Time = j.state.Time.Update(op.Time)
	j.state.GWC = j.state.GWC.Update(op.Time)
	if j.state.Sources == nil {
		j.state.Sources = make(map[string]sourceTail)
	}
	j.state.Sources[sourceKey] = sourceTail{Tick: entry.Tick, TID: entry.TID}
	if err := j.persistState(ctx); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// CausalReduce walks backward from op along prev links while contiguous
// and no earlier than minFrom, then folds the walked operations forward
// into one fused operation. OperationsSince does not call it: rev-up
// replies carry each stored entry's operation as it is.
func (j *Journal) CausalReduce(ctx context.Context, op *wire.Operation, minFrom uint64) (*wire.Operation, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	chain := []*wire.Operation{op}
	cur := op
	for {
		tick, ok, err := j.tickForTID(ctx, cur.TID())
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		entry, ok, err := j.loadEntry(ctx, tick)
		if err != nil {
			return nil, err
		}
		if !ok || entry.PrevTID == "" || entry.PrevTick < minFrom {
			break
		}
		prevOp, ok, err := j.Operation(ctx, entry.PrevTID)
		if err != nil {
			return nil, err
		}
		if !ok || !contiguous(prevOp, cur) {
			break
		}
		chain = append([]*wire.Operation{prevOp}, chain...)
		cur = prevOp
	}

	fused := chain[0]
	for _, next := range chain[1:] {
		fused = fuseOperations(fused, next)
	}
	return fused, nil
}

// OperationsSince returns every journal entry's operation after time
// that time does not already dominate, or ok=false if time predates
// this journal's floor and the caller must fall back to a snapshot.
func (j *Journal) OperationsSince(ctx context.Context, since clock.Clock) ([]*wire.Operation, bool, error) {
	j.mu.RLock()
	floor := j.state.Floor
	j.mu.RUnlock()

	if !floor.DominatedBy(since) {
		return nil, false, nil
	}

	var ops []*wire.Operation
	var scanErr error
	err := j.store.ScanRange(ctx, tickPrefix, tickPrefix+"~", func(_ string, v []byte) bool {
		entry, err := decodeEntry(v)
		if err != nil {
			scanErr = err
			return false
		}
		if !entry.Time.AnyGt(since) {
			return true
		}
		op, ok, err := j.Operation(ctx, entry.TID)
		if err != nil {
			scanErr = err
			return false
		}
		if ok {
			ops = append(ops, op)
		}
		return true
	})
	if err != nil {
		return nil, false, err
	}
	if scanErr != nil {
		return nil, false, scanErr
	}
	return ops, true, nil
}

// GC deletes operations that no longer have a journal entry pointing at
// them and are not reflected by gwc.
func (j *Journal) GC(ctx context.Context, gwc clock.GWC) (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	referenced := make(map[string]bool)
	var scanErr error
	if err := j.store.ScanRange(ctx, tickPrefix, tickPrefix+"~", func(_ string, v []byte) bool {
		entry, err := decodeEntry(v)
		if err != nil {
			scanErr = err
			return false
		}
		referenced[string(entry.TID)] = true
		return true
	}); err != nil {
		return 0, err
	}
	if scanErr != nil {
		return 0, scanErr
	}

	var disposable []string
	if err := j.store.ScanPrefix(ctx, opPrefix, func(k string, v []byte) bool {
		tid := k[len(opPrefix):]
		if referenced[tid] {
			return true
		}
		op, err := wire.Unmarshal(v)
		if err != nil {
			scanErr = err
			return false
		}
		if !gwc.Reflects(op.Time) {
			disposable = append(disposable, k)
		}
		return true
	}); err != nil {
		return 0, err
	}
	if scanErr != nil {
		return 0, scanErr
	}
	if len(disposable) == 0 {
		return 0, nil
	}
	if err := j.store.Batch(ctx, func(b kvstore.Batch) error {
		for _, k := range disposable {
			b.Delete(k)
		}
		return nil
	}); err != nil {
		return 0, clerrors.Wrap(err, "gc journal")
	}
	return len(disposable), nil
}
