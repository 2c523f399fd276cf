// Package wire implements the canonical wire format for operations:
// version, from, time, deletes and inserts (plus an optional proof),
// carried as a msgpack map keyed by field rather than as a positional
// tuple, including the JSON-vs-gzip+msgpack encoding threshold.
package wire

import (
	"github.com/liveclone/gldb/pkg/clock"
)

// ProtocolVersion is the only version this engine emits.
const ProtocolVersion = 2

// Triple is a minimal RDF triple: subject, predicate, object, each an
// opaque string (compacted IRI or literal). The query surface that
// interprets these values is out of scope for the core engine.
type Triple struct {
	S string `json:"s" msgpack:"s"`
	P string `json:"p" msgpack:"p"`
	O string `json:"o" msgpack:"o"`
}

// ReifiedTriple is a triple annotated with the single TID that asserted
// or withdrew it. A triple touched by several TIDs (e.g. a fused range)
// is represented by several ReifiedTriple values, one per TID.
type ReifiedTriple struct {
	TID clock.TID `json:"tid" msgpack:"tid"`
	Triple
}

// Subject is a compacted JSON-LD subject: at minimum an "@id" key plus
// arbitrary predicate/value pairs.
type Subject map[string]any

// Inserts is either a plain subject graph, or — when an operation is a
// fusion across TIDs — a reified triple list carrying each insert's
// origin TID.
type Inserts struct {
	Fused    bool            `json:"fused,omitempty" msgpack:"fused,omitempty"`
	Subjects []Subject       `json:"subjects,omitempty" msgpack:"subjects,omitempty"`
	Reified  []ReifiedTriple `json:"reified,omitempty" msgpack:"reified,omitempty"`
}

// Operation is the in-memory form of a committed transaction.
type Operation struct {
	Version int
	From    uint64
	Time    clock.Clock
	Deletes []ReifiedTriple
	Inserts Inserts
	// Proof carries a statutory agreement's signature, when the write
	// touches a statutory shape. Empty otherwise.
	Proof []byte
}

// TID is the operation's transaction identifier.
func (op *Operation) TID() clock.TID {
	return op.Time.Hash()
}

// IsFusion reports whether this operation covers more than one tick,
// i.e. is a causal fusion of contiguous single-tick operations.
func (op *Operation) IsFusion() bool {
	return op.From < op.Time.Ticks()
}

// IsEmpty reports whether the operation has no effect: an empty
// operation is a no-op and must not be journalled or published.
func (op *Operation) IsEmpty() bool {
	return len(op.Deletes) == 0 && len(op.Inserts.Subjects) == 0 && len(op.Inserts.Reified) == 0
}
