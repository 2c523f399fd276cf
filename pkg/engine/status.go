package engine

import (
	"go.uber.org/zap"

	"github.com/liveclone/gldb/pkg/logging"
)

// watchLiveness mirrors remotes' liveness signal into online/silo for as
// long as the clone runs. Silo means we were live and remotes went
// not-live under us: writes keep being accepted and journalled. Each
// write is published once, when it is made; operations written while
// siloed are not re-published when a peer reappears.
func (c *Clone) watchLiveness() {
	c.setOnline(c.remotes.LiveNow())

	changes := c.remotes.LiveChanges()
	for {
		select {
		case live, ok := <-changes:
			if !ok {
				return
			}
			c.setOnline(live)
		case <-c.stop:
			return
		}
	}
}

func (c *Clone) setOnline(live *bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	online := live != nil && *live
	if c.online && !online {
		c.silo = true
		c.log.ComponentWarn(logging.ComponentEngine, "remotes went silent, entering silo",
			zap.Uint64("ticks", c.ticksLocked()))
	} else if online {
		c.silo = false
	}
	c.online = online
}

func (c *Clone) ticksLocked() uint64 {
	if c.journal == nil {
		return 0
	}
	return c.journal.State().Time.Ticks()
}
