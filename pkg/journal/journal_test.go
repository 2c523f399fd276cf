package journal

import (
	"context"
	"testing"

	"github.com/liveclone/gldb/pkg/clock"
	"github.com/liveclone/gldb/pkg/kvstore/memkv"
	"github.com/liveclone/gldb/pkg/wire"
)

func newTestJournal(t *testing.T) (*Journal, clock.Clock) {
	t.Helper()
	genesis := clock.Genesis()
	j, err := Open(context.Background(), memkv.New(), clock.NewGWC(), genesis)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return j, genesis
}

func insertOp(t clock.Clock, id string) *wire.Operation {
	tick := t.Ticked()
	return &wire.Operation{
		Version: wire.ProtocolVersion,
		From:    tick.Ticks(),
		Time:    tick,
		Inserts: wire.Inserts{Subjects: []wire.Subject{{"@id": id, "name": id}}},
	}
}

func TestCommitEntryAppendsAndAdvancesState(t *testing.T) {
	ctx := context.Background()
	j, genesis := newTestJournal(t)

	op1 := insertOp(genesis, "fred")
	entry1, err := j.CommitEntry(ctx, op1)
	if err != nil {
		t.Fatalf("commit 1: %v", err)
	}
	if entry1.Tick != 1 {
		t.Fatalf("expected tick 1, got %d", entry1.Tick)
	}

	st := j.State()
	if st.TailTick != 1 {
		t.Fatalf("expected tailTick 1, got %d", st.TailTick)
	}

	got, ok, err := j.Operation(ctx, op1.TID())
	if err != nil || !ok {
		t.Fatalf("Operation lookup: ok=%v err=%v", ok, err)
	}
	if got.Time.Ticks() != 1 {
		t.Fatalf("unexpected roundtrip ticks: %d", got.Time.Ticks())
	}
}

func TestCommitEntryFusesContiguousSameSource(t *testing.T) {
	ctx := context.Background()
	j, genesis := newTestJournal(t)

	op1 := insertOp(genesis, "fred")
	if _, err := j.CommitEntry(ctx, op1); err != nil {
		t.Fatalf("commit 1: %v", err)
	}
	op2 := insertOp(op1.Time, "wilma")
	entry2, err := j.CommitEntry(ctx, op2)
	if err != nil {
		t.Fatalf("commit 2: %v", err)
	}

	// op1's entry/operation must have been superseded by the fusion.
	if _, ok, err := j.Operation(ctx, op1.TID()); err != nil {
		t.Fatalf("lookup op1: %v", err)
	} else if ok {
		t.Fatalf("expected op1 to be fused away")
	}

	fused, ok, err := j.Operation(ctx, entry2.TID)
	if err != nil || !ok {
		t.Fatalf("lookup fused op: ok=%v err=%v", ok, err)
	}
	if !fused.Inserts.Fused {
		t.Fatalf("expected fused operation to carry reified inserts")
	}
	if len(fused.Inserts.Reified) != 2 {
		t.Fatalf("expected 2 reified inserts (name predicate for fred+wilma), got %d", len(fused.Inserts.Reified))
	}
	if fused.From != op1.From {
		t.Fatalf("expected fused.From == op1.From (%d), got %d", op1.From, fused.From)
	}
}

func TestOperationsSinceReturnsUndominatedEntries(t *testing.T) {
	ctx := context.Background()
	j, genesis := newTestJournal(t)

	op1 := insertOp(genesis, "fred")
	if _, err := j.CommitEntry(ctx, op1); err != nil {
		t.Fatalf("commit 1: %v", err)
	}
	op2 := insertOp(op1.Time, "wilma")
	if _, err := j.CommitEntry(ctx, op2); err != nil {
		t.Fatalf("commit 2: %v", err)
	}

	ops, ok, err := j.OperationsSince(ctx, genesis)
	if err != nil {
		t.Fatalf("OperationsSince: %v", err)
	}
	if !ok {
		t.Fatalf("expected ok=true for a time at journal floor")
	}
	if len(ops) != 1 {
		t.Fatalf("expected the single fused entry, got %d ops", len(ops))
	}
}

func TestCommitEntryDoesNotCollideAcrossSourcesWithEqualTicks(t *testing.T) {
	ctx := context.Background()
	j, genesis := newTestJournal(t)

	local := insertOp(genesis, "fred")
	if _, err := j.CommitEntry(ctx, local); err != nil {
		t.Fatalf("commit local: %v", err)
	}

	_, forked := genesis.Forked()
	remote := insertOp(forked, "wilma")
	if local.Time.Ticks() != remote.Time.Ticks() {
		t.Fatalf("expected both sources to reach the same Ticks() value, got %d and %d", local.Time.Ticks(), remote.Time.Ticks())
	}
	if _, err := j.CommitEntry(ctx, remote); err != nil {
		t.Fatalf("commit remote: %v", err)
	}

	if _, ok, err := j.Operation(ctx, local.TID()); err != nil || !ok {
		t.Fatalf("expected local op to survive the remote commit: ok=%v err=%v", ok, err)
	}
	if _, ok, err := j.Operation(ctx, remote.TID()); err != nil || !ok {
		t.Fatalf("expected remote op to be stored: ok=%v err=%v", ok, err)
	}

	ops, ok, err := j.OperationsSince(ctx, genesis)
	if err != nil || !ok {
		t.Fatalf("OperationsSince: ok=%v err=%v", ok, err)
	}
	if len(ops) != 2 {
		t.Fatalf("expected both same-tick operations from different sources to survive, got %d", len(ops))
	}
}

func TestGCDisposesUnreferencedOperations(t *testing.T) {
	ctx := context.Background()
	j, genesis := newTestJournal(t)

	op1 := insertOp(genesis, "fred")
	if _, err := j.CommitEntry(ctx, op1); err != nil {
		t.Fatalf("commit: %v", err)
	}
	// Nothing is orphaned yet: the sole operation is still referenced.
	n, err := j.GC(ctx, j.State().GWC)
	if err != nil {
		t.Fatalf("GC: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 disposed, got %d", n)
	}
}
