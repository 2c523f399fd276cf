package journal

import (
	"github.com/vmihailenco/msgpack/v5"

	"github.com/liveclone/gldb/pkg/clerrors"
	"github.com/liveclone/gldb/pkg/clock"
)

// Entry is one journal record: the operation's own time, and a prev
// pointer into the preceding entry from the same source (not
// necessarily the entry immediately before it in the whole journal).
type Entry struct {
	Tick     uint64
	Time     clock.Clock
	PrevTick uint64
	PrevTID  clock.TID
	TID      clock.TID
}

// State is the journal's own bookkeeping: the greatest tick with an
// entry, the engine's current clock, and the current GWC.
type State struct {
	TailTick uint64
	Time     clock.Clock
	GWC      clock.GWC
	// Floor is the GWC snapshot this journal started from: entries
	// before it were never recorded here, so operationsSince cannot
	// answer requests for a time that predates it.
	Floor clock.GWC
	// Sources tracks, per owning process, the tick and TID of that
	// process's most recent entry in this journal — the prev-link head
	// used by CommitEntry and fusion.
	Sources map[string]sourceTail
}

type sourceTail struct {
	Tick uint64
	TID  clock.TID
}

type persistedEntry struct {
	Tick     uint64 `msgpack:"tick"`
	Time     []byte `msgpack:"time"`
	PrevTick uint64 `msgpack:"prev_tick"`
	PrevTID  string `msgpack:"prev_tid"`
	TID      string `msgpack:"tid"`
}

func encodeEntry(e Entry) ([]byte, error) {
	timeJSON, err := e.Time.ToJSON()
	if err != nil {
		return nil, err
	}
	b, err := msgpack.Marshal(persistedEntry{
		Tick:     e.Tick,
		Time:     timeJSON,
		PrevTick: e.PrevTick,
		PrevTID:  string(e.PrevTID),
		TID:      string(e.TID),
	})
	if err != nil {
		return nil, clerrors.Wrap(err, "encode journal entry")
	}
	return b, nil
}

func decodeEntry(b []byte) (Entry, error) {
	var p persistedEntry
	if err := msgpack.Unmarshal(b, &p); err != nil {
		return Entry{}, clerrors.Wrap(err, "decode journal entry")
	}
	t, err := clock.FromJSON(p.Time)
	if err != nil {
		return Entry{}, err
	}
	return Entry{
		Tick:     p.Tick,
		Time:     t,
		PrevTick: p.PrevTick,
		PrevTID:  clock.TID(p.PrevTID),
		TID:      clock.TID(p.TID),
	}, nil
}

type persistedSourceTail struct {
	Tick uint64 `msgpack:"tick"`
	TID  string `msgpack:"tid"`
}

type persistedState struct {
	TailTick uint64                         `msgpack:"tail_tick"`
	Time     []byte                         `msgpack:"time"`
	GWC      []byte                         `msgpack:"gwc"`
	Floor    []byte                         `msgpack:"floor"`
	Sources  map[string]persistedSourceTail `msgpack:"sources"`
}

func encodeState(s State) ([]byte, error) {
	timeJSON, err := s.Time.ToJSON()
	if err != nil {
		return nil, err
	}
	gwcJSON, err := s.GWC.AsClock().ToJSON()
	if err != nil {
		return nil, err
	}
	floorJSON, err := s.Floor.AsClock().ToJSON()
	if err != nil {
		return nil, err
	}
	sources := make(map[string]persistedSourceTail, len(s.Sources))
	for k, v := range s.Sources {
		sources[k] = persistedSourceTail{Tick: v.Tick, TID: string(v.TID)}
	}
	b, err := msgpack.Marshal(persistedState{
		TailTick: s.TailTick,
		Time:     timeJSON,
		GWC:      gwcJSON,
		Floor:    floorJSON,
		Sources:  sources,
	})
	if err != nil {
		return nil, clerrors.Wrap(err, "encode journal state")
	}
	return b, nil
}

func decodeState(b []byte) (State, error) {
	var p persistedState
	if err := msgpack.Unmarshal(b, &p); err != nil {
		return State{}, clerrors.Wrap(err, "decode journal state")
	}
	t, err := clock.FromJSON(p.Time)
	if err != nil {
		return State{}, err
	}
	gwcClock, err := clock.FromJSON(p.GWC)
	if err != nil {
		return State{}, err
	}
	floorClock, err := clock.FromJSON(p.Floor)
	if err != nil {
		return State{}, err
	}
	sources := make(map[string]sourceTail, len(p.Sources))
	for k, v := range p.Sources {
		sources[k] = sourceTail{Tick: v.Tick, TID: clock.TID(v.TID)}
	}
	return State{
		TailTick: p.TailTick,
		Time:     t,
		GWC:      clock.GWCFromClock(gwcClock),
		Floor:    clock.GWCFromClock(floorClock),
		Sources:  sources,
	}, nil
}
