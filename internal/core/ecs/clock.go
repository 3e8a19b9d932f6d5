package ecs

import "sync/atomic"

// Tick counts runner ticks. The first tick is 1.
type Tick uint64

// Clock holds the world tick and the global change sequence. The sequence is
// atomic because stores owned by different systems are stamped concurrently.
type Clock struct {
	tick atomic.Uint64
	seq  atomic.Uint64
}

func (c *Clock) nextSeq() uint64 { return c.seq.Add(1) }

// Seq returns the last issued change stamp.
func (c *Clock) Seq() uint64 { return c.seq.Load() }

// Tick returns the current tick.
func (c *Clock) Tick() Tick { return Tick(c.tick.Load()) }

// Advance starts the next tick and returns it.
func (c *Clock) Advance() Tick { return Tick(c.tick.Add(1)) }
