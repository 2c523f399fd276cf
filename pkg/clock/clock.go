package clock

// Clock is an immutable tree-structured logical clock. The zero value is
// not valid; use Genesis or Fork to obtain one.
type Clock struct {
	root *node
}

// Genesis returns the single-node clock (0, id=root) that bootstraps a new
// domain. The genesis clock's owner is always the first live process.
func Genesis() Clock {
	return Clock{root: leaf(0, true)}
}

// Ticked returns a new clock with the id-leaf incremented by one. All
// other counters are unchanged.
func (c Clock) Ticked() Clock {
	root := c.root.clone()
	findIDLeaf(root).tick++
	return Clock{root: root}
}

// Forked splits the id-leaf into two sub-leaves. The caller retains the
// left leaf as its own identity; the right leaf becomes a new
// participant's identity in the clock returned as theirs. All other
// counters are preserved, and both new leaves start at zero — they are
// "forked, never ticked" until their owner calls Ticked.
func (c Clock) Forked() (mine, theirs Clock) {
	path := idPath(c.root)

	mineRoot := c.root.clone()
	m := nodeAt(mineRoot, path)
	m.left = leaf(0, true)
	m.right = leaf(0, false)

	theirsRoot := c.root.clone()
	t := nodeAt(theirsRoot, path)
	t.left = leaf(0, false)
	t.right = leaf(0, true)

	return Clock{root: mineRoot}, Clock{root: theirsRoot}
}

// Update takes the component-wise maximum of self and other at every
// shared position, growing whichever side has less structure. The id
// stays the caller's own.
func (c Clock) Update(other Clock) Clock {
	a, b := align(c.root, other.root)
	return Clock{root: mergeAligned(a, b)}
}

// Ticks is the sum of counters along the path from root to the id-leaf.
func (c Clock) Ticks() uint64 {
	return sumToID(c.root)
}

// IsZeroID reports whether the id-leaf's own counter is zero: this clock
// was forked (or is genesis) and has never ticked.
func (c Clock) IsZeroID() bool {
	return findIDLeaf(c.root).tick == 0
}

// AnyLt reports whether some component of c is strictly less than the
// corresponding component of other.
func (c Clock) AnyLt(other Clock) bool {
	a, b := align(c.root, other.root)
	return anyCompare(a, b, true)
}

// AnyGt reports whether some component of c is strictly greater than the
// corresponding component of other.
func (c Clock) AnyGt(other Clock) bool {
	a, b := align(c.root, other.root)
	return anyCompare(a, b, false)
}

// Equal reports structural identity: same tree shape, same counters, same
// id path.
func (c Clock) Equal(other Clock) bool {
	return c.root.equal(other.root)
}

// TicksAlong returns the greatest tick known for the process identified
// by other's id path, as recorded in c. Used by the message service to
// test whether a message is its source's next tick, and by Dominates.
func (c Clock) TicksAlong(other Clock) uint64 {
	return sumAlongPath(c.root, idPath(other.root))
}

// Dominates reports whether c already reflects everything other's owner
// has done, i.e. c's knowledge of other's process is at least other's
// own tick count.
func (c Clock) Dominates(other Clock) bool {
	return c.TicksAlong(other) >= other.Ticks()
}

// SameSource reports whether c and other identify the same owning
// process, i.e. their id-leaves sit at the same path in the tree. Used
// by the journal to decide whether two consecutive operations came from
// one process (a fusion candidate) or were separated by a fork.
func (c Clock) SameSource(other Clock) bool {
	pa, pb := idPath(c.root), idPath(other.root)
	if len(pa) != len(pb) {
		return false
	}
	for i := range pa {
		if pa[i] != pb[i] {
			return false
		}
	}
	return true
}

// SourceKey returns a stable string identifying the process that owns
// c's id-leaf, suitable for use as a map key. Two clocks return equal
// keys iff SameSource reports true for them.
func (c Clock) SourceKey() string {
	path := idPath(c.root)
	b := make([]byte, len(path))
	for i, d := range path {
		if d == dirLeft {
			b[i] = 'L'
		} else {
			b[i] = 'R'
		}
	}
	return string(b)
}
