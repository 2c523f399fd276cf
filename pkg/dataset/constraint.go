package dataset

import (
	"context"

	"github.com/liveclone/gldb/pkg/wire"
)

// ReadState is the read-only view of the dataset a constraint sees.
// Implemented by *Dataset and by the lock-free view Write and Apply
// hand to constraints while they hold the dataset lock; constraints
// never mutate storage directly, only through the Interim they are
// handed.
type ReadState interface {
	Describe(iri string) (wire.Subject, bool)
	ObjectsOf(subject, predicate string) []string
}

// Interim accumulates the triple-level effect of an in-progress write
// (local or a remote operation's constraint pass). Constraints may
// append further inserts/deletes or reject the whole write by
// returning an error from Check.
type Interim struct {
	Insert []wire.Triple
	Delete []wire.Triple
	Proof  []byte
}

// Constraint is a pluggable write-time capability: check(state, interim)
// -> Result, apply(state, interim) -> Result.
type Constraint interface {
	// Check may reject the write outright; it must not mutate interim
	// in a way that changes what other constraints see, beyond what a
	// rejection implies.
	Check(ctx context.Context, state ReadState, interim *Interim) error
	// Apply may append corrective inserts/deletes to interim.
	Apply(ctx context.Context, state ReadState, interim *Interim) error
}
