// Package memory provides the reference Memory Manager for published events.
//
// The manager owns reference lifetime for events: holders Retain an event
// while they need it and Release it when done. The engine and the processor
// pool never free an event themselves.
package memory

import (
	"log/slog"
	"sync"

	"github.com/roach88/gpucep/internal/ir"
)

// Manager is the allocate/retain/release contract the engine consumes.
type Manager interface {
	Retain(ev *ir.PubPkt)
	Release(ev *ir.PubPkt)
}

// entry tracks one live event.
type entry struct {
	ev   *ir.PubPkt
	refs int
}

// Pool is an in-process Manager keyed by event ID.
//
// Events with identical content share an ID and therefore a counter; holds
// from different holders simply add up.
//
// Thread-safety: all methods are safe for concurrent use.
type Pool struct {
	mu      sync.Mutex
	entries map[string]*entry
	freed   int64
}

// NewPool creates an empty pool.
func NewPool() *Pool {
	return &Pool{entries: make(map[string]*entry)}
}

// Retain adds a hold on ev.
func (p *Pool) Retain(ev *ir.PubPkt) {
	if ev == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries[ev.ID]
	if !ok {
		e = &entry{ev: ev}
		p.entries[ev.ID] = e
	}
	e.refs++
}

// Release drops a hold on ev. The event is freed once no holds remain.
// Releasing an event that holds no references is logged and ignored.
func (p *Pool) Release(ev *ir.PubPkt) {
	if ev == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries[ev.ID]
	if !ok {
		slog.Warn("release of unreferenced event", "event_id", ev.ID, "type", ev.Type)
		return
	}
	e.refs--
	if e.refs <= 0 {
		delete(p.entries, ev.ID)
		p.freed++
	}
}

// Get returns the live event with the given ID.
func (p *Pool) Get(id string) (*ir.PubPkt, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries[id]
	if !ok {
		return nil, false
	}
	return e.ev, true
}

// RefCount returns the number of holds on the event with the given ID.
func (p *Pool) RefCount(id string) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	if e, ok := p.entries[id]; ok {
		return e.refs
	}
	return 0
}

// Live returns the number of events with at least one hold.
func (p *Pool) Live() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Freed returns how many events have been released to zero.
func (p *Pool) Freed() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.freed
}

// Noop is a Manager that tracks nothing.
type Noop struct{}

// Retain implements Manager.
func (Noop) Retain(*ir.PubPkt) {}

// Release implements Manager.
func (Noop) Release(*ir.PubPkt) {}
