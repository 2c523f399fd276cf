package message

import (
	"context"
	"testing"

	"github.com/liveclone/gldb/pkg/clock"
	"github.com/liveclone/gldb/pkg/dataset"
	"github.com/liveclone/gldb/pkg/wire"
)

func opAt(t clock.Clock) *wire.Operation {
	return &wire.Operation{Version: wire.ProtocolVersion, From: t.Ticks(), Time: t}
}

func TestReceiveDeliversInOrderSuccessor(t *testing.T) {
	genesis := clock.Genesis()
	svc := New(genesis, 0)

	t1 := genesis.Ticked()
	var delivered []uint64
	if err := svc.Receive(Message{From: t1.Ticks(), Time: t1, Op: opAt(t1)}, func(m Message) {
		delivered = append(delivered, m.Time.Ticks())
	}); err != nil {
		t.Fatalf("receive: %v", err)
	}
	if len(delivered) != 1 || delivered[0] != 1 {
		t.Fatalf("expected immediate delivery of tick 1, got %v", delivered)
	}
}

func TestReceiveBuffersOutOfOrderThenDrains(t *testing.T) {
	genesis := clock.Genesis()
	svc := New(genesis, 0)

	t1 := genesis.Ticked()
	t2 := t1.Ticked()

	var delivered []uint64
	accept := func(m Message) { delivered = append(delivered, m.Time.Ticks()) }

	// t2 arrives first: not yet a successor (nothing known about tick 1).
	if err := svc.Receive(Message{From: t2.Ticks(), Time: t2, Op: opAt(t2)}, accept); err != nil {
		t.Fatalf("receive t2: %v", err)
	}
	if len(delivered) != 0 {
		t.Fatalf("expected t2 to be buffered, not delivered: %v", delivered)
	}

	// t1 arrives: delivers t1, then drains t2 from the buffer.
	if err := svc.Receive(Message{From: t1.Ticks(), Time: t1, Op: opAt(t1)}, accept); err != nil {
		t.Fatalf("receive t1: %v", err)
	}
	if len(delivered) != 2 || delivered[0] != 1 || delivered[1] != 2 {
		t.Fatalf("expected [1 2] delivered in order, got %v", delivered)
	}
	if svc.BufferLen() != 0 {
		t.Fatalf("expected empty buffer after drain, got %d", svc.BufferLen())
	}
}

// TestApplyingAReceivedOperationTicksTheLocalClock exercises Receive
// feeding directly into Dataset.Apply, the path a clone drives when it
// admits a remote operation: the clock should advance by one join (to
// the remote's time) plus one local tick for the admission itself.
func TestApplyingAReceivedOperationTicksTheLocalClock(t *testing.T) {
	genesis := clock.Genesis()
	svc := New(genesis, 0)
	ds := dataset.New(0)

	_, remote := genesis.Forked()
	remoteTick := remote.Ticked()
	if remoteTick.Ticks() != 1 {
		t.Fatalf("expected the forked source's first tick to be 1, got %d", remoteTick.Ticks())
	}

	op := &wire.Operation{
		Version: wire.ProtocolVersion,
		From:    remoteTick.Ticks(),
		Time:    remoteTick,
		Inserts: wire.Inserts{Subjects: []wire.Subject{{"@id": "fred", "name": "Fred"}}},
	}

	msg := Message{From: op.From, Time: op.Time, Op: op}
	var applyErr error
	if err := svc.Receive(msg, func(m Message) {
		_, applyErr = ds.Apply(context.Background(), m.Op, svc.Send)
	}); err != nil {
		t.Fatalf("receive: %v", err)
	}
	if applyErr != nil {
		t.Fatalf("apply: %v", applyErr)
	}

	if got := svc.Peek().Ticks(); got != 2 {
		t.Fatalf("expected 1 join + 1 local tick == 2, got %d", got)
	}
}

func TestReceiveOverflowsAtCapacity(t *testing.T) {
	genesis := clock.Genesis()
	svc := New(genesis, 1)

	t2 := genesis.Ticked().Ticked()
	noop := func(Message) {}
	if err := svc.Receive(Message{From: t2.Ticks(), Time: t2, Op: opAt(t2)}, noop); err != nil {
		t.Fatalf("receive 1: %v", err)
	}

	t3 := t2.Ticked()
	if err := svc.Receive(Message{From: t3.Ticks(), Time: t3, Op: opAt(t3)}, noop); err == nil {
		t.Fatalf("expected overflow error at buffer capacity")
	}
}
