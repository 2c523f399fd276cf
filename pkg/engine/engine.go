// Package engine drives one clone's state machine: initialisation
// against a possibly-empty store, admission of local writes and remote
// operations through a single serialised task queue, and the
// live/outdated/silo status the rest of the system observes.
package engine

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/liveclone/gldb/pkg/clerrors"
	"github.com/liveclone/gldb/pkg/config"
	"github.com/liveclone/gldb/pkg/dataset"
	"github.com/liveclone/gldb/pkg/journal"
	"github.com/liveclone/gldb/pkg/kvstore"
	"github.com/liveclone/gldb/pkg/logging"
	"github.com/liveclone/gldb/pkg/message"
	"github.com/liveclone/gldb/pkg/remotes"
	"github.com/liveclone/gldb/pkg/wire"
)

// State names one point in the clone lifecycle.
type State string

const (
	StateUninitialised State = "uninitialised"
	StateInitialising  State = "initialising"
	StateRevvingUp     State = "revving-up"
	StateLive          State = "live"
	StateClosing       State = "closing"
	StateClosed        State = "closed"
)

// Status is the clone's externally observable health.
type Status struct {
	Online   bool
	Outdated bool
	Silo     bool
	Ticks    uint64
}

// Clone is one running replica: a dataset, its journal, the causal
// delivery service that admits remote operations in order, and the
// remotes binding that connects it to the rest of the domain.
type Clone struct {
	cfg     *config.Config
	log     *logging.ColoredLogger
	store   kvstore.Store
	remotes remotes.Remotes

	journal     *journal.Journal
	dataset     *dataset.Dataset
	msg         *message.Service
	constraints []dataset.Constraint

	mu       sync.RWMutex
	state    State
	online   bool
	outdated bool
	silo     bool

	cmds      chan func()
	stop      chan struct{}
	stopOnce  sync.Once
	liveWatch chan struct{}
}

// Open brings up a clone against store: if the store is empty it
// bootstraps (genesis or via a peer), otherwise it loads existing state
// and revs up to catch up on operations it missed while offline. It
// returns once the clone has reached the live state.
func Open(ctx context.Context, cfg *config.Config, store kvstore.Store, rem remotes.Remotes, log *logging.ColoredLogger) (*Clone, error) {
	c := &Clone{
		cfg:       cfg,
		log:       log,
		store:     store,
		remotes:   rem,
		state:     StateUninitialised,
		cmds:      make(chan func(), 256),
		stop:      make(chan struct{}),
		liveWatch: make(chan struct{}),
	}

	go c.actorLoop()

	c.setState(StateInitialising)
	if err := c.initialise(ctx); err != nil {
		c.forceClose()
		return nil, err
	}

	rem.SetLocal(c)
	c.setState(StateLive)
	c.log.ComponentInfo(logging.ComponentEngine, "clone is live",
		zap.Uint64("ticks", c.journal.State().Time.Ticks()))

	go c.watchLiveness()
	return c, nil
}

// Write performs a local transaction and, if it produced an operation,
// commits it to the journal and publishes it to the domain.
func (c *Clone) Write(ctx context.Context, patch dataset.Patch) (*wire.Operation, error) {
	if c.State() == StateClosing || c.State() == StateClosed {
		return nil, clerrors.Closed()
	}
	var op *wire.Operation
	err := c.exec(ctx, func() error {
		var werr error
		op, werr = c.dataset.Write(ctx, c.msg.Send, patch)
		if werr != nil || op == nil {
			return werr
		}
		if _, cerr := c.journal.CommitEntry(ctx, op); cerr != nil {
			return cerr
		}
		return c.remotes.Publish(ctx, op)
	})
	return op, err
}

// Describe returns the current compacted subject graph for iri.
func (c *Clone) Describe(iri string) (wire.Subject, bool) {
	return c.dataset.Describe(iri)
}

// Status reports the clone's current health.
func (c *Clone) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ticks := uint64(0)
	if c.journal != nil {
		ticks = c.journal.State().Time.Ticks()
	}
	return Status{Online: c.online, Outdated: c.outdated, Silo: c.silo, Ticks: ticks}
}

// State returns the clone's current lifecycle state.
func (c *Clone) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Clone) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Close closes remotes, stops the actor loop and transitions to closed.
// Callers still waiting on the actor loop get clerrors.Closed unless their
// command has already finished. Remotes requests already in flight are not cancelled:
// they end on their own reply, network timeout or context.
func (c *Clone) Close() error {
	c.setState(StateClosing)
	err := c.remotes.Close()
	c.forceClose()
	c.setState(StateClosed)
	return err
}

func (c *Clone) forceClose() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// exec submits fn to the actor queue and waits for it to run, so every
// mutation of the dataset/journal/message state happens on the single
// serialised loop regardless of which goroutine called in.
func (c *Clone) exec(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	select {
	case c.cmds <- func() { done <- fn() }:
	case <-c.stop:
		return clerrors.Closed()
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-c.stop:
		return clerrors.Closed()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Clone) actorLoop() {
	for {
		select {
		case fn := <-c.cmds:
			fn()
		case <-c.stop:
			return
		}
	}
}
