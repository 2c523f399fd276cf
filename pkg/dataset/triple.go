package dataset

import (
	"strings"

	"github.com/liveclone/gldb/pkg/clock"
	"github.com/liveclone/gldb/pkg/wire"
)

const keySep = "\x1f"

func tripleKey(s, p, o string) string {
	var b strings.Builder
	b.Grow(len(s) + len(p) + len(o) + 2)
	b.WriteString(s)
	b.WriteString(keySep)
	b.WriteString(p)
	b.WriteString(keySep)
	b.WriteString(o)
	return b.String()
}

// assertion is one live triple: the set of TIDs currently asserting it.
// A triple is visible iff this set is non-empty.
type assertion struct {
	triple wire.Triple
	tids   map[clock.TID]struct{}
}

func newAssertion(tr wire.Triple) *assertion {
	return &assertion{triple: tr, tids: make(map[clock.TID]struct{})}
}

func subjectTriples(subj wire.Subject) []wire.Triple {
	reified := wire.ReifySubjects([]wire.Subject{subj}, "")
	out := make([]wire.Triple, len(reified))
	for i, rt := range reified {
		out[i] = rt.Triple
	}
	return out
}

func subjectsFromTriples(triples []wire.Triple) []wire.Subject {
	reified := make([]wire.ReifiedTriple, len(triples))
	for i, tr := range triples {
		reified[i] = wire.ReifiedTriple{Triple: tr}
	}
	return wire.GroupBySubject(reified)
}
