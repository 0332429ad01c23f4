package listener

import (
	"sync"

	"github.com/roach88/gpucep/internal/ir"
)

// Collector records delivered events in delivery order.
//
// Thread-safety: Collector is safe for concurrent use.
type Collector struct {
	mu     sync.Mutex
	events []*ir.PubPkt
}

// NewCollector creates an empty Collector.
func NewCollector() *Collector {
	return &Collector{}
}

// Deliver implements engine.ResultListener.
func (c *Collector) Deliver(ev *ir.PubPkt) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

// Events returns a copy of the delivered events.
func (c *Collector) Events() []*ir.PubPkt {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*ir.PubPkt, len(c.events))
	copy(out, c.events)
	return out
}

// Count returns the number of delivered events.
func (c *Collector) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

// ByType counts delivered events per type.
func (c *Collector) ByType() map[ir.EventType]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[ir.EventType]int)
	for _, ev := range c.events {
		out[ev.Type]++
	}
	return out
}

// Reset drops every recorded event.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = nil
}
