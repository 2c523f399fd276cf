package engine

import (
	"context"

	"github.com/liveclone/gldb/pkg/clerrors"
	"github.com/liveclone/gldb/pkg/clock"
	"github.com/liveclone/gldb/pkg/dataset"
	"github.com/liveclone/gldb/pkg/journal"
	"github.com/liveclone/gldb/pkg/logging"
	"github.com/liveclone/gldb/pkg/message"
	"github.com/liveclone/gldb/pkg/remotes"
	"github.com/liveclone/gldb/pkg/wire"
)

// initialise brings the journal, dataset and message service up
// according to whether the store is empty and whether this clone is
// configured as genesis.
func (c *Clone) initialise(ctx context.Context) error {
	constraints, err := buildConstraints(c.cfg)
	if err != nil {
		return err
	}
	c.constraints = constraints

	exists, err := journal.Exists(ctx, c.store)
	if err != nil {
		return err
	}
	if !exists {
		return c.initialiseEmpty(ctx)
	}
	return c.initialiseExisting(ctx)
}

func (c *Clone) initialiseEmpty(ctx context.Context) error {
	if c.cfg.Genesis {
		c.log.ComponentInfo(logging.ComponentEngine, "bootstrapping as genesis")
		j, err := journal.Open(ctx, c.store, clock.NewGWC(), clock.Genesis())
		if err != nil {
			return err
		}
		c.journal = j
		c.dataset = dataset.New(c.cfg.MaxOperationSize, c.constraints...)
		c.msg = message.New(j.State().Time, message.DefaultMaxBuffer)
		return nil
	}

	c.log.ComponentInfo(logging.ComponentEngine, "waiting for a live peer to bootstrap from")
	if err := c.awaitLive(ctx); err != nil {
		return err
	}

	forked, err := c.remotes.NewClock(ctx)
	if err != nil {
		return clerrors.Wrap(err, "request new clock")
	}

	snap, err := c.remotes.RequestSnapshot(ctx)
	if err != nil {
		return clerrors.Wrap(err, "request snapshot")
	}

	j, err := journal.Open(ctx, c.store, snap.GWC, forked)
	if err != nil {
		return err
	}
	c.journal = j
	c.dataset = dataset.New(c.cfg.MaxOperationSize, c.constraints...)
	c.msg = message.New(forked, message.DefaultMaxBuffer)

	return c.dataset.ApplySnapshot(ctx, snap.Data)
}

func (c *Clone) initialiseExisting(ctx context.Context) error {
	if c.cfg.Genesis {
		return clerrors.IsGenesis()
	}

	j, err := journal.Open(ctx, c.store, clock.GWC{}, clock.Clock{})
	if err != nil {
		return err
	}
	c.journal = j
	c.dataset = dataset.New(c.cfg.MaxOperationSize, c.constraints...)
	c.msg = message.New(j.State().Time, message.DefaultMaxBuffer)

	c.log.ComponentInfo(logging.ComponentEngine, "waiting for a live peer to catch up from")
	if err := c.awaitLive(ctx); err != nil {
		return err
	}

	return c.revUp(ctx)
}

// awaitLive blocks until remotes reports at least one live peer, or ctx
// is cancelled.
func (c *Clone) awaitLive(ctx context.Context) error {
	if live := c.remotes.LiveNow(); live != nil && *live {
		return nil
	}
	changes := c.remotes.LiveChanges()
	for {
		select {
		case v := <-changes:
			if v != nil && *v {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// revUp attempts revupFrom against a live peer, retrying on timeout and
// escalating to a full snapshot if the peer reports it cannot serve the
// requested range. While revving up, outdated is true.
func (c *Clone) revUp(ctx context.Context) error {
	c.setState(StateRevvingUp)
	c.setOutdated(true)
	defer c.setState(StateLive)

	const maxRetries = 3
	for attempt := 0; attempt < maxRetries; attempt++ {
		recovery, ok, err := c.remotes.RevupFrom(ctx, c.journal.State().Time)
		if err != nil {
			if clerrors.Is(err, clerrors.CodeTimeout) {
				continue
			}
			return clerrors.Wrap(err, "revup")
		}
		if !ok {
			c.log.ComponentInfo(logging.ComponentEngine, "peer cannot serve revup, escalating to snapshot")
			return c.resyncFromSnapshot(ctx)
		}

		for _, op := range recovery.Ops {
			if err := c.applyRecoveredOp(ctx, op); err != nil {
				return err
			}
		}
		c.setOutdated(false)
		return nil
	}
	return c.resyncFromSnapshot(ctx)
}

func (c *Clone) applyRecoveredOp(ctx context.Context, op *wire.Operation) error {
	return c.exec(ctx, func() error {
		result, err := c.dataset.Apply(ctx, op, c.msg.Send)
		if err != nil {
			return err
		}
		if !result.Changed {
			return nil
		}
		if err := c.journal.AdvanceLocal(ctx, result.LocalTick); err != nil {
			return err
		}
		if _, err := c.journal.CommitEntry(ctx, op); err != nil {
			return err
		}
		if result.Correction != nil {
			if _, err := c.journal.CommitEntry(ctx, result.Correction); err != nil {
				return err
			}
			return c.remotes.Publish(ctx, result.Correction)
		}
		return nil
	})
}

// resyncFromSnapshot replaces the local dataset and clock wholesale from
// a peer snapshot, used both to escalate a failed revup and to recover
// from a reorder buffer overflow.
func (c *Clone) resyncFromSnapshot(ctx context.Context) error {
	c.setState(StateRevvingUp)
	c.setOutdated(true)
	defer c.setState(StateLive)

	snap, err := c.remotes.RequestSnapshot(ctx)
	if err != nil {
		return clerrors.Wrap(err, "request snapshot")
	}
	return c.applySnapshot(ctx, snap)
}

func (c *Clone) applySnapshot(ctx context.Context, snap remotes.Snapshot) error {
	err := c.exec(ctx, func() error {
		if err := c.dataset.ApplySnapshot(ctx, snap.Data); err != nil {
			return err
		}
		c.msg = message.New(snap.Time, message.DefaultMaxBuffer)
		return nil
	})
	if err != nil {
		return err
	}
	c.setOutdated(false)
	return nil
}

func (c *Clone) setOutdated(v bool) {
	c.mu.Lock()
	c.outdated = v
	c.mu.Unlock()
}
