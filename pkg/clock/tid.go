package clock

import (
	"crypto/sha1"
	"encoding/hex"
)

// tidBytes is the number of hash bytes retained for a TID: enough to make
// collisions practically impossible within one domain's lifetime while
// keeping wire operations compact.
const tidBytes = 12

// TID is a transaction identifier: the content hash of a clock value at
// the moment of a transaction. Two clocks with equal value always hash to
// the same TID, regardless of which process produced them.
type TID string

// Hash returns the TID for this clock value.
func (c Clock) Hash() TID {
	canonical, err := c.ToJSON()
	if err != nil {
		// ToJSON only fails on encoder bugs; a clock built through this
		// package's constructors is always representable.
		panic(err)
	}
	sum := sha1.Sum(canonical)
	return TID(hex.EncodeToString(sum[:tidBytes]))
}

// String implements fmt.Stringer.
func (t TID) String() string {
	return string(t)
}
