// Package message implements the causal delivery service: peek/send/
// receive/deliver/fork over a tree clock, with a bounded reorder buffer
// for messages that arrive before their causal predecessor.
package message

import (
	"sort"
	"sync"

	"github.com/liveclone/gldb/pkg/clerrors"
	"github.com/liveclone/gldb/pkg/clock"
	"github.com/liveclone/gldb/pkg/wire"
)

// DefaultMaxBuffer is the recommended reorder buffer cap.
const DefaultMaxBuffer = 1024

// Message is one inbound operation awaiting causal delivery.
type Message struct {
	From uint64
	Time clock.Clock
	Op   *wire.Operation
}

// Accept is invoked, in an order consistent with happened-before, once
// per message that becomes causally deliverable.
type Accept func(Message)

// Service holds the current tree clock for one clone and the reorder
// buffer of not-yet-deliverable messages.
type Service struct {
	mu        sync.Mutex
	clock     clock.Clock
	buffer    []Message
	maxBuffer int
}

// New returns a Service seeded at initial, capping its reorder buffer
// at maxBuffer messages (DefaultMaxBuffer if maxBuffer <= 0).
func New(initial clock.Clock, maxBuffer int) *Service {
	if maxBuffer <= 0 {
		maxBuffer = DefaultMaxBuffer
	}
	return &Service{clock: initial, maxBuffer: maxBuffer}
}

// Peek returns the current clock without advancing it.
func (s *Service) Peek() clock.Clock {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clock
}

// Send ticks the clock and returns the new value for stamping an
// outgoing operation.
func (s *Service) Send() clock.Clock {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = s.clock.Ticked()
	return s.clock
}

// Fork splits the local id-leaf: the caller keeps one half, the
// returned clock is handed to the newly forked peer.
func (s *Service) Fork() clock.Clock {
	s.mu.Lock()
	defer s.mu.Unlock()
	mine, theirs := s.clock.Forked()
	s.clock = mine
	return theirs
}

func (s *Service) isSuccessorLocked(msg Message) bool {
	return s.clock.TicksAlong(msg.Time) == msg.From-1
}

// Receive tests whether msg is the causal successor of the current
// clock w.r.t. its source: if so, the clock joins msg.Time and msg plus
// anything the join now makes deliverable from the buffer are handed to
// accept, in causal order, after the lock is released (accept may itself
// call back into the service, e.g. to stamp a correction). Otherwise msg
// is pushed into the buffer, ordered by causal precedence; if the buffer
// is already at the configured cap, msg is not buffered and Receive
// returns clerrors.Overflow.
func (s *Service) Receive(msg Message, accept Accept) error {
	s.mu.Lock()
	if !s.isSuccessorLocked(msg) {
		if len(s.buffer) >= s.maxBuffer {
			s.mu.Unlock()
			return clerrors.Overflow(len(s.buffer))
		}
		s.insertBufferLocked(msg)
		s.mu.Unlock()
		return nil
	}
	s.clock = s.clock.Update(msg.Time)
	deliverable := append([]Message{msg}, s.drainLocked()...)
	s.mu.Unlock()

	for _, m := range deliverable {
		accept(m)
	}
	return nil
}

// Deliver forcibly delivers msg regardless of causal order (used when
// ingesting a snapshot), then drains the buffer. As with Receive, accept
// runs after the lock is released.
func (s *Service) Deliver(msg Message, accept Accept) {
	s.mu.Lock()
	s.clock = s.clock.Update(msg.Time)
	deliverable := append([]Message{msg}, s.drainLocked()...)
	s.mu.Unlock()

	for _, m := range deliverable {
		accept(m)
	}
}

// drainLocked removes and returns, in causal order, every buffered
// message the current clock now covers. Callers must hold s.mu and must
// invoke accept only after releasing it.
func (s *Service) drainLocked() []Message {
	var out []Message
	for {
		progressed := false
		for i, m := range s.buffer {
			if !s.isSuccessorLocked(m) {
				continue
			}
			s.clock = s.clock.Update(m.Time)
			out = append(out, m)
			s.buffer = append(s.buffer[:i:i], s.buffer[i+1:]...)
			progressed = true
			break
		}
		if !progressed {
			return out
		}
	}
}

func (s *Service) insertBufferLocked(msg Message) {
	i := sort.Search(len(s.buffer), func(i int) bool {
		return !less(s.buffer[i], msg)
	})
	s.buffer = append(s.buffer, Message{})
	copy(s.buffer[i+1:], s.buffer[i:])
	s.buffer[i] = msg
}

// less orders two buffered messages by causal precedence, falling back
// to TID order for concurrent (incomparable) messages so the buffer has
// a total, deterministic order.
func less(a, b Message) bool {
	if a.Time.AnyLt(b.Time) && !a.Time.AnyGt(b.Time) {
		return true
	}
	if b.Time.AnyLt(a.Time) && !b.Time.AnyGt(a.Time) {
		return false
	}
	return a.Time.Hash() < b.Time.Hash()
}

// BufferLen reports the current reorder buffer depth, for status/metrics.
func (s *Service) BufferLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffer)
}
