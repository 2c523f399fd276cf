package dataset

import (
	"context"

	"github.com/liveclone/gldb/pkg/wire"
)

// SingleValued enforces last-writer-wins for the given predicates:
// inserting a new object for a subject/predicate pair withdraws any
// other object currently held for that pair.
type SingleValued struct {
	Predicates map[string]bool
}

func (sv *SingleValued) Check(ctx context.Context, state ReadState, interim *Interim) error {
	return nil
}

func (sv *SingleValued) Apply(ctx context.Context, state ReadState, interim *Interim) error {
	for _, tr := range interim.Insert {
		if !sv.Predicates[tr.P] {
			continue
		}
		for _, existing := range state.ObjectsOf(tr.S, tr.P) {
			if existing != tr.O {
				interim.Delete = append(interim.Delete, wire.Triple{S: tr.S, P: tr.P, O: existing})
			}
		}
	}
	return nil
}

var _ Constraint = (*SingleValued)(nil)
