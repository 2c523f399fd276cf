// Package remotes implements the abstract peer-communication contract
// the clone engine consumes: a hot stream of inbound operations, a
// live/silo signal, and three request/reply primitives (newClock,
// snapshot, revupFrom). PubsubRemotes implements the contract's
// bookkeeping — presence aggregation, request/reply correlation,
// timeouts — on top of a pluggable Transport; concrete transports live
// in the libp2pr and wsr subpackages.
package remotes

import (
	"context"

	"github.com/liveclone/gldb/pkg/clock"
	"github.com/liveclone/gldb/pkg/wire"
)

// Transport is the minimal pub/sub primitive a wire binding must
// supply. Topics are opaque strings; PubsubRemotes namespaces them
// per-domain.
type Transport interface {
	Publish(ctx context.Context, topic string, data []byte) error
	Subscribe(ctx context.Context, topic string, h func(data []byte)) error
	Unsubscribe(ctx context.Context, topic string) error
	Close() error
}

// OperationMessage is one inbound operation broadcast on the domain's
// updates channel.
type OperationMessage struct {
	Op *wire.Operation
}

// Recovery is the answer to a revupFrom request: the operations needed
// to bring the requester from its stated time to the peer's current
// time.
type Recovery struct {
	Ops []*wire.Operation
}

// Snapshot is the answer to a snapshot request: a GWC/time header plus
// a channel of reified triple batches, closed at the stream's end
// marker or ctx cancellation.
type Snapshot struct {
	GWC  clock.GWC
	Time clock.Clock
	Data <-chan []wire.ReifiedTriple
}

// LocalClone is the callback surface Remotes uses to serve inbound
// requests from peers once a local clone has been attached via
// SetLocal.
type LocalClone interface {
	// HandleOperation admits a remote operation into the local engine.
	HandleOperation(OperationMessage)
	// HandleNewClock returns a freshly forked clock for a peer bootstrapping
	// off this clone.
	HandleNewClock(ctx context.Context) (clock.Clock, error)
	// HandleSnapshot produces a snapshot of the local dataset.
	HandleSnapshot(ctx context.Context) (Snapshot, error)
	// HandleRevupFrom returns the operations needed to bring a peer from
	// since to the local clone's current time, or ok=false if this clone
	// cannot serve that range (the requester must fall back to a snapshot).
	HandleRevupFrom(ctx context.Context, since clock.Clock) (recovery Recovery, ok bool, err error)
	// HandleIdentityCollision is invoked when a presence announcement
	// bearing this clone's own id arrives from the network — a second
	// live process on the domain claiming the same identity.
	HandleIdentityCollision()
}

// Remotes is the contract the clone engine drives. Implementations must
// be safe for concurrent use.
type Remotes interface {
	// Updates is a hot stream of operations published by other clones on
	// this domain.
	Updates() <-chan OperationMessage

	// LiveNow reports the current liveness: nil if unknown (e.g.
	// disconnected), else whether at least one other clone is present.
	LiveNow() *bool
	// LiveChanges streams liveness transitions, mirroring LiveNow's
	// initial value as its first send.
	LiveChanges() <-chan *bool

	// SetLocal attaches the local clone so inbound requests and
	// publications can be served; nil detaches it.
	SetLocal(LocalClone)

	// NewClock asks any live peer to fork its clock for us. Fails with
	// clerrors.NoPeer if none is live.
	NewClock(ctx context.Context) (clock.Clock, error)
	// RequestSnapshot asks any live peer for a full snapshot.
	RequestSnapshot(ctx context.Context) (Snapshot, error)
	// RevupFrom asks any live peer to bring us from since to now. ok is
	// false if the peer cannot serve that range.
	RevupFrom(ctx context.Context, since clock.Clock) (recovery Recovery, ok bool, err error)

	// Publish broadcasts a locally committed operation to the domain.
	Publish(ctx context.Context, op *wire.Operation) error

	// Close leaves the domain's presence channel and releases the
	// transport.
	Close() error
}
