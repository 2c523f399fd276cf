package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/liveclone/gldb/pkg/clerrors"
	"github.com/liveclone/gldb/pkg/clock"
	"github.com/liveclone/gldb/pkg/logging"
	"github.com/liveclone/gldb/pkg/message"
	"github.com/liveclone/gldb/pkg/remotes"
	"github.com/liveclone/gldb/pkg/wire"
)

var _ remotes.LocalClone = (*Clone)(nil)

// HandleOperation admits a remote operation into the causal delivery
// service on the actor loop. Out-of-order arrivals buffer there; an
// overflow triggers a resync from a fresh snapshot.
func (c *Clone) HandleOperation(m remotes.OperationMessage) {
	select {
	case c.cmds <- func() { c.admitRemote(m.Op) }:
	case <-c.stop:
	}
}

func (c *Clone) admitRemote(op *wire.Operation) {
	msg := message.Message{From: op.From, Time: op.Time, Op: op}
	err := c.msg.Receive(msg, c.applyAdmitted)
	if err == nil {
		return
	}
	if clerrors.Is(err, clerrors.CodeOverflow) {
		c.log.ComponentWarn(logging.ComponentEngine, "reorder buffer overflow, resyncing from snapshot")
		go func() {
			if err := c.resyncFromSnapshot(context.Background()); err != nil {
				c.log.ComponentError(logging.ComponentEngine, "resync after overflow failed", zap.Error(err))
			}
		}()
		return
	}
	c.log.ComponentWarn(logging.ComponentEngine, "dropped undeliverable operation", zap.Error(err))
}

// applyAdmitted runs on the actor loop (invoked synchronously from
// admitRemote, itself only ever called there) and applies one causally
// deliverable operation to the dataset and journal.
func (c *Clone) applyAdmitted(m message.Message) {
	ctx := context.Background()
	result, err := c.dataset.Apply(ctx, m.Op, c.msg.Send)
	if err != nil {
		c.log.ComponentWarn(logging.ComponentEngine, "rejected remote operation", zap.Error(err))
		return
	}
	if !result.Changed {
		return
	}
	if err := c.journal.AdvanceLocal(ctx, result.LocalTick); err != nil {
		c.log.ComponentError(logging.ComponentEngine, "failed to record local tick", zap.Error(err))
		return
	}
	if _, err := c.journal.CommitEntry(ctx, m.Op); err != nil {
		c.log.ComponentError(logging.ComponentEngine, "failed to journal remote operation", zap.Error(err))
		return
	}
	if result.Correction == nil {
		return
	}
	if _, err := c.journal.CommitEntry(ctx, result.Correction); err != nil {
		c.log.ComponentError(logging.ComponentEngine, "failed to journal correction", zap.Error(err))
		return
	}
	if err := c.remotes.Publish(ctx, result.Correction); err != nil {
		c.log.ComponentWarn(logging.ComponentEngine, "failed to publish correction", zap.Error(err))
	}
}

// HandleNewClock forks the local clock for a bootstrapping peer.
func (c *Clone) HandleNewClock(ctx context.Context) (clock.Clock, error) {
	var forked clock.Clock
	err := c.exec(ctx, func() error {
		forked = c.msg.Fork()
		return nil
	})
	return forked, err
}

// HandleSnapshot takes a snapshot of the current dataset. It does not
// go through the actor queue: TakeSnapshot opens its own read lock and
// streams lazily, so serialising it would stall local writes for the
// duration of the transfer.
func (c *Clone) HandleSnapshot(ctx context.Context) (remotes.Snapshot, error) {
	st := c.journal.State()
	snap, data := c.dataset.TakeSnapshot(ctx, st.GWC, st.Time, 256)
	return remotes.Snapshot{GWC: snap.GWC, Time: snap.Time, Data: data}, nil
}

// HandleRevupFrom answers a peer's rev-up request from the journal.
func (c *Clone) HandleRevupFrom(ctx context.Context, since clock.Clock) (remotes.Recovery, bool, error) {
	ops, ok, err := c.journal.OperationsSince(ctx, since)
	if err != nil || !ok {
		return remotes.Recovery{}, ok, err
	}
	return remotes.Recovery{Ops: ops}, true, nil
}

// HandleIdentityCollision closes this clone: a non-genesis clone that
// learns of another live clone claiming its identity must not continue
// writing under that identity.
func (c *Clone) HandleIdentityCollision() {
	if c.State() == StateClosed || c.State() == StateClosing {
		return
	}
	c.log.ComponentError(logging.ComponentEngine, "identity collision detected, closing")
	go c.Close()
}
