package dataset

import (
	"context"

	"github.com/golang-jwt/jwt/v5"

	"github.com/liveclone/gldb/pkg/clerrors"
)

// Statutory gates writes to a shape of graph data behind a signed
// agreement: a subject that requires proof of agreement to change.
// Subjects is the set of IRIs the agreement covers; a write that inserts
// or deletes a triple whose subject is one of them must carry a proof
// naming it in the token's "subjects" claim. A triple that only has one
// of them as its object is not gated.
type Statutory struct {
	Subjects map[string]bool
	Keyfunc  jwt.Keyfunc
}

func (s *Statutory) touched(interim *Interim) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(iri string) {
		if s.Subjects[iri] && !seen[iri] {
			seen[iri] = true
			out = append(out, iri)
		}
	}
	for _, tr := range interim.Insert {
		add(tr.S)
	}
	for _, tr := range interim.Delete {
		add(tr.S)
	}
	return out
}

func (s *Statutory) Check(ctx context.Context, state ReadState, interim *Interim) error {
	touched := s.touched(interim)
	if len(touched) == 0 {
		return nil
	}
	if len(interim.Proof) == 0 {
		return clerrors.Unauthorised("statutory write missing proof")
	}
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(string(interim.Proof), claims, s.Keyfunc)
	if err != nil || !token.Valid {
		return clerrors.Unauthorised("statutory proof invalid")
	}
	covered := make(map[string]bool)
	if raw, ok := claims["subjects"].([]any); ok {
		for _, v := range raw {
			if iri, ok := v.(string); ok {
				covered[iri] = true
			}
		}
	}
	for _, iri := range touched {
		if !covered[iri] {
			return clerrors.Unauthorised("statutory proof does not cover " + iri)
		}
	}
	return nil
}

func (s *Statutory) Apply(ctx context.Context, state ReadState, interim *Interim) error {
	return nil
}

var _ Constraint = (*Statutory)(nil)
