package clock

// GWC ("global wall clock") is a merged view of the latest known tick per
// process, produced by joining every operation time this clone has
// observed. It answers two questions: what is the previous tick for a
// given source (fusion checks), and have we already applied a given TID
// (duplicate detection).
type GWC struct {
	merged *node
}

// NewGWC returns an empty GWC.
func NewGWC() GWC {
	return GWC{merged: leaf(0, false)}
}

// Update folds a newly observed clock value into the GWC.
func (g GWC) Update(t Clock) GWC {
	a, b := align(g.merged, t.root)
	return GWC{merged: mergeAligned(a, b)}
}

// TicksFor returns the greatest tick this GWC has recorded for the
// process identified by t's id path.
func (g GWC) TicksFor(t Clock) uint64 {
	return sumAlongPath(g.merged, idPath(t.root))
}

// Reflects reports whether the GWC already accounts for everything up to
// and including t — i.e. whether t's TID is already known.
func (g GWC) Reflects(t Clock) bool {
	return g.TicksFor(t) >= t.Ticks()
}

// AsClock exposes the GWC's merged tree as a Clock value for callers that
// need to persist or transmit it (it carries no meaningful id-leaf).
func (g GWC) AsClock() Clock {
	return Clock{root: g.merged}
}

// GWCFromClock rebuilds a GWC from a previously persisted Clock value.
func GWCFromClock(c Clock) GWC {
	return GWC{merged: c.root.clone()}
}

// DominatedBy reports whether every position this GWC has recorded a
// tick for is matched or exceeded by t's corresponding position, i.e.
// t's knowledge already covers everything this GWC reflects. Used to
// decide whether a journal can answer operationsSince(t) or whether the
// requester must fall back to a snapshot.
func (g GWC) DominatedBy(t Clock) bool {
	a, b := align(g.merged, t.root)
	return !anyCompare(a, b, false)
}
