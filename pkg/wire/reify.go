package wire

import (
	"fmt"

	"github.com/liveclone/gldb/pkg/clock"
)

// ReifySubjects flattens a plain JSON-LD subject graph into reified
// triples all attributed to tid. Used when an operation carrying plain
// subjects is folded into a fusion, which can only be represented as
// reified triples: once fused across TIDs, inserts must be reified like
// deletes.
func ReifySubjects(subjects []Subject, tid clock.TID) []ReifiedTriple {
	var out []ReifiedTriple
	for _, subj := range subjects {
		id, _ := subj["@id"].(string)
		for p, v := range subj {
			if p == "@id" {
				continue
			}
			for _, o := range flattenValue(v) {
				out = append(out, ReifiedTriple{TID: tid, Triple: Triple{S: id, P: p, O: o}})
			}
		}
	}
	return out
}

func flattenValue(v any) []string {
	switch t := v.(type) {
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			out = append(out, fmt.Sprint(e))
		}
		return out
	default:
		return []string{fmt.Sprint(t)}
	}
}

// GroupBySubject collapses reified triples back into compacted subjects,
// dropping TID attribution. Used by describe queries and when building
// an operation's plain insert subjects, which only care about current
// state, not provenance.
func GroupBySubject(reified []ReifiedTriple) []Subject {
	order := make([]string, 0)
	bySubject := make(map[string]Subject)
	for _, rt := range reified {
		subj, ok := bySubject[rt.S]
		if !ok {
			subj = Subject{"@id": rt.S}
			bySubject[rt.S] = subj
			order = append(order, rt.S)
		}
		existing, has := subj[rt.P]
		if !has {
			subj[rt.P] = rt.O
			continue
		}
		switch cur := existing.(type) {
		case []any:
			subj[rt.P] = append(cur, rt.O)
		default:
			subj[rt.P] = []any{cur, rt.O}
		}
	}
	out := make([]Subject, 0, len(order))
	for _, id := range order {
		out = append(out, bySubject[id])
	}
	return out
}
