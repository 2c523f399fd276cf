package dataset

import (
	"context"
	"testing"

	"github.com/liveclone/gldb/pkg/clock"
	"github.com/liveclone/gldb/pkg/wire"
)

func tickerFrom(c clock.Clock) func() clock.Clock {
	cur := c
	return func() clock.Clock {
		cur = cur.Ticked()
		return cur
	}
}

func TestWriteThenDescribe(t *testing.T) {
	ds := New(0)
	genesis := clock.Genesis()
	op, err := ds.Write(context.Background(), tickerFrom(genesis), Patch{
		Insert: []wire.Subject{{"@id": "fred", "name": "Fred"}},
	})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if op.Time.Ticks() != 1 {
		t.Fatalf("expected ticks 0->1, got %d", op.Time.Ticks())
	}

	subj, ok := ds.Describe("fred")
	if !ok {
		t.Fatalf("expected fred to be described")
	}
	if subj["name"] != "Fred" {
		t.Fatalf("unexpected subject: %#v", subj)
	}
}

func TestApplyInsert(t *testing.T) {
	ds := New(0)
	genesis := clock.Genesis()
	_, remote := genesis.Forked()
	remoteTick := remote.Ticked()

	op := &wire.Operation{
		Version: wire.ProtocolVersion,
		From:    remoteTick.Ticks(),
		Time:    remoteTick,
		Inserts: wire.Inserts{Subjects: []wire.Subject{{"@id": "fred", "name": "Fred"}}},
	}

	result, err := ds.Apply(context.Background(), op, tickerFrom(genesis))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !result.Changed {
		t.Fatalf("expected apply to report a change")
	}
	subj, ok := ds.Describe("fred")
	if !ok || subj["name"] != "Fred" {
		t.Fatalf("describe after apply: ok=%v subj=%#v", ok, subj)
	}
}

func TestNoOpApply(t *testing.T) {
	ds := New(0)
	genesis := clock.Genesis()
	op := &wire.Operation{Version: wire.ProtocolVersion, From: 0, Time: genesis}
	if !op.IsEmpty() {
		t.Fatalf("expected an operation with no deletes/inserts to be empty")
	}
	result, err := ds.Apply(context.Background(), op, tickerFrom(genesis))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if result.Changed {
		t.Fatalf("expected no-op apply to report no change")
	}
}

func TestDeleteByTID(t *testing.T) {
	ds := New(0)
	genesis := clock.Genesis()
	tick := tickerFrom(genesis)

	insertOp, err := ds.Write(context.Background(), tick, Patch{
		Insert: []wire.Subject{{"@id": "fred", "name": "Fred"}},
	})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	t1 := insertOp.Time.Hash()

	del := &wire.Operation{
		Version: wire.ProtocolVersion,
		Deletes: []wire.ReifiedTriple{{TID: t1, Triple: wire.Triple{S: "fred", P: "name", O: "Fred"}}},
	}
	if _, err := ds.Apply(context.Background(), del, tick); err != nil {
		t.Fatalf("apply delete: %v", err)
	}
	if _, ok := ds.Describe("fred"); ok {
		t.Fatalf("expected fred to be gone after delete-by-tid")
	}
}

func TestStaleCutFusion(t *testing.T) {
	ds := New(0)
	genesis := clock.Genesis()
	_, remote := genesis.Forked()

	w1 := remote.Ticked()
	insertWilma := &wire.Operation{
		Version: wire.ProtocolVersion,
		From:    w1.Ticks(),
		Time:    w1,
		Inserts: wire.Inserts{Subjects: []wire.Subject{{"@id": "wilma", "name": "Wilma"}}},
	}
	local := tickerFrom(genesis)
	if _, err := ds.Apply(context.Background(), insertWilma, local); err != nil {
		t.Fatalf("apply insert: %v", err)
	}

	w1TID := w1.Hash()
	deleteWilma := &wire.Operation{
		Version: wire.ProtocolVersion,
		Deletes: []wire.ReifiedTriple{{TID: w1TID, Triple: wire.Triple{S: "wilma", P: "name", O: "Wilma"}}},
	}
	if _, err := ds.Apply(context.Background(), deleteWilma, local); err != nil {
		t.Fatalf("apply delete: %v", err)
	}
	if _, ok := ds.Describe("wilma"); ok {
		t.Fatalf("expected wilma withdrawn before fusion arrives")
	}

	w2 := w1.Ticked()
	fusion := &wire.Operation{
		Version: wire.ProtocolVersion,
		From:    w1.Ticks(),
		Time:    w2,
		Inserts: wire.Inserts{
			Fused: true,
			Reified: []wire.ReifiedTriple{
				{TID: w1TID, Triple: wire.Triple{S: "wilma", P: "name", O: "Wilma"}},
				{TID: w2.Hash(), Triple: wire.Triple{S: "barney", P: "name", O: "Barney"}},
			},
		},
	}
	if _, err := ds.Apply(context.Background(), fusion, local); err != nil {
		t.Fatalf("apply fusion: %v", err)
	}
	if _, ok := ds.Describe("wilma"); ok {
		t.Fatalf("expected wilma to remain withdrawn after stale-cut")
	}
	subj, ok := ds.Describe("barney")
	if !ok || subj["name"] != "Barney" {
		t.Fatalf("expected barney inserted by fusion, got ok=%v subj=%#v", ok, subj)
	}
}

func TestSingleValuedConstraintWithdrawsOldValue(t *testing.T) {
	ds := New(0, &SingleValued{Predicates: map[string]bool{"email": true}})
	genesis := clock.Genesis()
	tick := tickerFrom(genesis)

	if _, err := ds.Write(context.Background(), tick, Patch{
		Insert: []wire.Subject{{"@id": "fred", "email": "fred@bedrock"}},
	}); err != nil {
		t.Fatalf("write 1: %v", err)
	}
	if _, err := ds.Write(context.Background(), tick, Patch{
		Insert: []wire.Subject{{"@id": "fred", "email": "fred@quarry"}},
	}); err != nil {
		t.Fatalf("write 2: %v", err)
	}

	objs := ds.ObjectsOf("fred", "email")
	if len(objs) != 1 || objs[0] != "fred@quarry" {
		t.Fatalf("expected single-valued email to be fred@quarry, got %v", objs)
	}
}
