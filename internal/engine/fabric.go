package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/gpucep/internal/ir"
	"github.com/roach88/gpucep/internal/processor"
)

// DefaultDispatchTimeout bounds how long the engine waits for the units of
// one dispatch to report completion.
const DefaultDispatchTimeout = 30 * time.Second

// result is one derivation collected by a dispatch, with its identity.
type result struct {
	id         string
	derivation ir.Derivation
}

// resultSet aggregates the derivations of one dispatch.
//
// Units insert into their own slot; merged output follows slot order then
// emission order, so it does not depend on which unit finished first.
// Duplicate identities collapse to the first occurrence in that order.
//
// resultSet is not safe for concurrent use on its own: dispatchContext
// guards it with the result mutex.
type resultSet struct {
	parentID string
	slots    [][]result
}

func newResultSet(parentID string, units int) *resultSet {
	return &resultSet{
		parentID: parentID,
		slots:    make([][]result, units),
	}
}

// add appends derivations to a unit's slot.
func (rs *resultSet) add(slot int, ds []ir.Derivation) error {
	for _, d := range ds {
		id, err := ir.DerivationID(rs.parentID, d)
		if err != nil {
			return fmt.Errorf("rule %s: %w", d.RuleID, err)
		}
		rs.slots[slot] = append(rs.slots[slot], result{id: id, derivation: d})
	}
	return nil
}

// list merges the slots, dropping duplicate identities.
func (rs *resultSet) list() []result {
	seen := make(map[string]struct{})
	var out []result
	for _, slot := range rs.slots {
		for _, r := range slot {
			if _, dup := seen[r.id]; dup {
				continue
			}
			seen[r.id] = struct{}{}
			out = append(out, r)
		}
	}
	return out
}

// unitError records a unit's failed evaluation.
type unitError struct {
	unit int
	err  error
}

// dispatchContext is the state shared between the engine and the units for
// one dispatch. It is created per dispatch and retired when the engine has
// read the results.
type dispatchContext struct {
	ctx    context.Context // cancelled on timeout and on retire
	cancel context.CancelFunc
	event  *ir.PubPkt
	ranges []ruleRange // per unit; empty ranges are not scheduled

	mu              sync.Mutex // result mutex: guards everything below
	stillProcessing int
	results         *resultSet
	errs            []unitError
	panicked        error
	done            chan struct{} // closed when stillProcessing reaches zero
}

func newDispatchContext(ctx context.Context, ev *ir.PubPkt, ranges []ruleRange) *dispatchContext {
	scheduled := 0
	for _, r := range ranges {
		if !r.empty() {
			scheduled++
		}
	}
	ctx, cancel := context.WithCancel(ctx)
	dc := &dispatchContext{
		ctx:             ctx,
		cancel:          cancel,
		event:           ev,
		ranges:          ranges,
		stillProcessing: scheduled,
		results:         newResultSet(ev.ID, len(ranges)),
		done:            make(chan struct{}),
	}
	if scheduled == 0 {
		close(dc.done)
	}
	return dc
}

// retire ends the dispatch's context once the engine is done with it.
func (dc *dispatchContext) retire() {
	dc.cancel()
}

// complete records one unit's output and counts it down.
func (dc *dispatchContext) complete(slot int, ds []ir.Derivation, err error) {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	if err != nil {
		dc.errs = append(dc.errs, unitError{unit: slot, err: err})
	}
	if addErr := dc.results.add(slot, ds); addErr != nil {
		dc.errs = append(dc.errs, unitError{unit: slot, err: addErr})
	}

	dc.stillProcessing--
	if dc.stillProcessing == 0 {
		close(dc.done)
	}
}

// fail records a unit panic and counts it down.
func (dc *dispatchContext) fail(slot int, err error) {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	if dc.panicked == nil {
		dc.panicked = err
	}
	dc.stillProcessing--
	if dc.stillProcessing == 0 {
		close(dc.done)
	}
}

// pending returns the number of units that have not reported.
func (dc *dispatchContext) pending() int {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	return dc.stillProcessing
}

// fabric runs one goroutine per processor unit.
//
// Each unit waits on its own job channel (buffer 1). The engine hands a
// dispatchContext to every scheduled unit and waits on the context's done
// channel. At most one dispatch is in flight, so a unit's channel never
// holds more than one job.
type fabric struct {
	units  []processor.Processor
	jobs   []chan *dispatchContext
	busy   []atomic.Bool // set from hand-off until Evaluate returns
	finish chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

// newFabric starts the unit goroutines.
func newFabric(units []processor.Processor) *fabric {
	f := &fabric{
		units:  units,
		jobs:   make([]chan *dispatchContext, len(units)),
		busy:   make([]atomic.Bool, len(units)),
		finish: make(chan struct{}),
	}
	for i := range units {
		f.jobs[i] = make(chan *dispatchContext, 1)
		f.wg.Add(1)
		go f.loop(i)
	}
	return f
}

func (f *fabric) loop(slot int) {
	defer f.wg.Done()
	for {
		select {
		case <-f.finish:
			return
		case dc := <-f.jobs[slot]:
			f.work(slot, dc)
		}
	}
}

// work evaluates the unit's range. A panic is recovered and reported as
// completion so the countdown still reaches zero.
func (f *fabric) work(slot int, dc *dispatchContext) {
	defer f.busy[slot].Store(false)
	defer func() {
		if r := recover(); r != nil {
			err := NewWorkerPanicError(slot, r)
			slog.Error("unit panicked",
				"unit", slot,
				"event_id", dc.event.ID,
				"panic", r,
			)
			dc.fail(slot, err)
		}
	}()

	rg := dc.ranges[slot]
	ds, err := f.units[slot].Evaluate(dc.ctx, rg.lower, rg.upper, dc.event)
	dc.complete(slot, ds, err)
}

// run hands dc to its scheduled units and waits for all of them.
//
// Context cancellation does not abandon the dispatch: units observe a context
// derived from ctx and the wait continues until they report, bounded by
// timeout. On timeout the units' context is cancelled.
func (f *fabric) run(ctx context.Context, dc *dispatchContext, timeout time.Duration) error {
	for i, rg := range dc.ranges {
		if rg.empty() {
			continue
		}
		f.busy[i].Store(true)
		f.jobs[i] <- dc
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-dc.done:
	case <-ctx.Done():
		select {
		case <-dc.done:
		case <-timer.C:
			return f.timeout(dc, timeout)
		}
		return ctx.Err()
	case <-timer.C:
		return f.timeout(dc, timeout)
	}

	if dc.panicked != nil {
		return dc.panicked
	}
	return ctx.Err()
}

// timeout cancels the units still evaluating dc and reports them.
func (f *fabric) timeout(dc *dispatchContext, timeout time.Duration) error {
	dc.cancel()
	return &DispatchTimeoutError{
		EventID: dc.event.ID,
		Timeout: timeout,
		Pending: dc.pending(),
	}
}

// evaluating reports whether the unit at slot has not returned from its
// last Evaluate.
func (f *fabric) evaluating(slot int) bool {
	return f.busy[slot].Load()
}

// stop sets finish and, if wait is set, blocks until every unit loop has
// exited. The caller must not stop the fabric while a dispatch is in flight;
// after a timeout a unit may never return, so the engine stops without
// waiting.
func (f *fabric) stop(wait bool) {
	f.once.Do(func() {
		close(f.finish)
	})
	if wait {
		f.wg.Wait()
	}
}
