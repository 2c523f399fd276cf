package dataset

import (
	"context"

	"github.com/liveclone/gldb/pkg/clock"
	"github.com/liveclone/gldb/pkg/wire"
)

// Snapshot is the header paired with a lazy data stream: takeSnapshot
// emits (gwc, data_stream). GWC and Time are supplied by the caller
// (the engine owns clock/GWC bookkeeping via pkg/journal) at the moment
// the snapshot's read transaction opens.
type Snapshot struct {
	GWC  clock.GWC
	Time clock.Clock
}

// TakeSnapshot returns the snapshot header and a channel of reified
// triple batches. The channel is closed when the read is complete or
// ctx is cancelled; a consumer MUST drain it or cancel ctx to release
// the reader.
func (d *Dataset) TakeSnapshot(ctx context.Context, gwc clock.GWC, time clock.Clock, batchSize int) (Snapshot, <-chan []wire.ReifiedTriple) {
	if batchSize <= 0 {
		batchSize = 256
	}
	d.mu.RLock()
	all := make([]wire.ReifiedTriple, 0, len(d.triples))
	for _, a := range d.triples {
		for tid := range a.tids {
			all = append(all, wire.ReifiedTriple{TID: tid, Triple: a.triple})
		}
	}
	d.mu.RUnlock()

	ch := make(chan []wire.ReifiedTriple)
	go func() {
		defer close(ch)
		for i := 0; i < len(all); i += batchSize {
			end := i + batchSize
			if end > len(all) {
				end = len(all)
			}
			select {
			case ch <- all[i:end]:
			case <-ctx.Done():
				return
			}
		}
	}()

	return Snapshot{GWC: gwc, Time: time}, ch
}

// ApplySnapshot replaces the local graph with the contents of batches,
// seeding the seen-TID set so subsequently received rev-up operations
// stale-cut correctly.
func (d *Dataset) ApplySnapshot(ctx context.Context, batches <-chan []wire.ReifiedTriple) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.triples = make(map[string]*assertion)
	d.bySubject = make(map[string]map[string]bool)
	d.seen = make(map[clock.TID]bool)

	for {
		select {
		case batch, ok := <-batches:
			if !ok {
				return nil
			}
			for _, rt := range batch {
				d.insertLocked(rt.Triple, rt.TID)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
