/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package router

import "sync"

// Phase orders handlers within a chain (spec.md §4 "Instance").
type Phase int

const (
	PreCond Phase = iota
	Cond
	PreDeliver
	Deliver
	numPhases
)

// Result is the sum type a Handler returns (spec.md §3 "Handler result").
// DESIGN NOTES §9: a sum type rather than the four-code enum, so the
// Unreg case carries no hidden chain-mutation side effect beyond "don't
// call me again".
type Result int

const (
	// Pass tries the next handler.
	Pass Result = iota
	// Done means the packet was consumed; the handler took ownership.
	Done
	// Err bounces the packet with a delivery-failure error to its sender.
	Err
	// Unreg removes this handler from the chain and continues as Pass.
	Unreg
)

type entry struct {
	id    uint64
	phase Phase
	fn    Handler
}

// Handler processes a Packet and reports what happened.
type Handler func(pkt *Packet) Result

// Chain is an instance's ordered handler list, evaluated in phase order
// and, within a phase, in registration order (spec.md §4 "Instance").
type Chain struct {
	mu      sync.Mutex
	nextID  uint64
	entries []entry
}

// NewChain returns an empty handler chain.
func NewChain() *Chain { return &Chain{} }

// Register appends fn to the chain under phase.
func (c *Chain) Register(phase Phase, fn Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	c.entries = append(c.entries, entry{id: c.nextID, phase: phase, fn: fn})
}

// Invoke runs the chain against pkt, stopping at the first Done or Err,
// removing Unreg handlers as it goes, and returning the terminal Result.
// Removing a handler never aborts an invocation already executing it
// (spec.md §4.2): removal only takes effect for subsequent Invoke calls.
func (c *Chain) Invoke(pkt *Packet) Result {
	c.mu.Lock()
	snapshot := make([]entry, len(c.entries))
	copy(snapshot, c.entries)
	c.mu.Unlock()

	var toRemove []uint64
	result := Pass
outer:
	for phase := Phase(0); phase < numPhases; phase++ {
		for _, e := range snapshot {
			if e.phase != phase {
				continue
			}
			switch r := e.fn(pkt); r {
			case Pass:
				continue
			case Unreg:
				toRemove = append(toRemove, e.id)
				continue
			default: // Done or Err
				result = r
				break outer
			}
		}
	}
	if len(toRemove) > 0 {
		c.remove(toRemove)
	}
	return result
}

func (c *Chain) remove(ids []uint64) {
	drop := make(map[uint64]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	filtered := c.entries[:0]
	for _, e := range c.entries {
		if _, ok := drop[e.id]; ok {
			continue
		}
		filtered = append(filtered, e)
	}
	c.entries = filtered
}

// Len reports the number of registered handlers.
func (c *Chain) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
