package clock

import (
	"encoding/json"

	"github.com/liveclone/gldb/pkg/clerrors"
)

// wireNode is the canonical JSON shape of a clock node: an object with
// the tick ("t"), an explicit id marker ("i", omitted when false) and
// the left/right subtrees ("l"/"r", omitted on a leaf).
type wireNode struct {
	Tick  uint64      `json:"t"`
	ID    bool        `json:"i,omitempty"`
	Left  *wireNode   `json:"l,omitempty"`
	Right *wireNode   `json:"r,omitempty"`
}

func toWire(n *node) *wireNode {
	if n == nil {
		return nil
	}
	return &wireNode{
		Tick:  n.tick,
		ID:    n.id,
		Left:  toWire(n.left),
		Right: toWire(n.right),
	}
}

func fromWire(w *wireNode) *node {
	if w == nil {
		return nil
	}
	return &node{
		tick:  w.Tick,
		id:    w.ID,
		left:  fromWire(w.Left),
		right: fromWire(w.Right),
	}
}

// ToJSON renders the canonical form of the clock.
func (c Clock) ToJSON() ([]byte, error) {
	b, err := json.Marshal(toWire(c.root))
	if err != nil {
		return nil, clerrors.BadClock(err)
	}
	return b, nil
}

// FromJSON is the inverse of ToJSON and is total over valid inputs,
// failing with clerrors.BadClock otherwise.
func FromJSON(b []byte) (Clock, error) {
	var w wireNode
	if err := json.Unmarshal(b, &w); err != nil {
		return Clock{}, clerrors.BadClock(err)
	}
	n := fromWire(&w)
	if err := validateShape(n); err != nil {
		return Clock{}, clerrors.BadClock(err)
	}
	return Clock{root: n}, nil
}

func validateShape(n *node) error {
	if n == nil {
		return errMalformedClock
	}
	if (n.left == nil) != (n.right == nil) {
		return errMalformedClock
	}
	if n.isLeaf() {
		return nil
	}
	if err := validateShape(n.left); err != nil {
		return err
	}
	return validateShape(n.right)
}
