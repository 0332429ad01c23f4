package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/gpucep/internal/compiler"
	"github.com/roach88/gpucep/internal/ir"
	"github.com/roach88/gpucep/internal/memory"
	"github.com/roach88/gpucep/internal/processor"
)

// ResultListener receives every event derived by the engine.
//
// Deliver is called synchronously from the dispatching goroutine, in Seq
// order. Implementations must be comparable (they are kept in a set) and
// must not call ProcessPublishedEvent from inside Deliver.
type ResultListener interface {
	Deliver(ev *ir.PubPkt)
}

// Stats is a snapshot of engine counters.
type Stats struct {
	Received        int64 // External events submitted
	Dropped         int64 // External events no rule consumes
	Dispatches      int64 // Dispatches run (top-level and recursive)
	Derived         int64 // Derived events produced
	Deliveries      int64 // Listener deliveries
	Truncated       int64 // Derived events cut off by the depth bound or quota
	WorkerErrors    int64 // Unit evaluations that returned an error
	MaxDepth        int   // Deepest derived event delivered
	Rules           int   // Installed rules
	RecursionNeeded bool
}

// Engine is the facade of the rule-matching core.
//
// Concurrency model:
//   - ProcessRule runs in the configuration-exclusive section: it waits for
//     the active dispatch to retire and no dispatch starts until it returns.
//   - ProcessPublishedEvent may be called from any goroutine; dispatches are
//     serialized, so at most one dispatch context is in flight.
//   - Listener registration may change at any time and takes effect for
//     subsequent dispatches; a dispatch's aggregated results all go to the
//     listeners registered when its delivery began.
//
// INVARIANTS:
//   - inputEvents, outputEvents, the recursion snapshot and the partition
//     change only inside ProcessRule
//   - rule indexes are assigned in install order and never reused
type Engine struct {
	units  []processor.Processor
	fabric *fabric
	mm     memory.Manager
	clock  *Clock
	gen    LineageGenerator

	maxDepth         int
	dispatchTimeout  time.Duration
	maxLineageEvents int
	metrics          *Metrics

	// Configuration state, guarded by cfgMu.
	cfgMu        sync.RWMutex
	rules        []*ir.RulePkt
	ruleIndex    map[string]int
	inputEvents  map[ir.EventType]int // type -> number of consuming rules
	outputEvents map[ir.EventType]int // type -> number of emitting rules
	recursion    RecursionController
	ranges       []ruleRange

	// dispatchMu serializes dispatches.
	dispatchMu sync.Mutex

	listenersMu sync.RWMutex
	listeners   map[ResultListener]struct{}

	stateMu sync.Mutex
	fatal   error
	closed  bool

	queue *eventQueue
	stats counters
}

type counters struct {
	received     atomic.Int64
	dropped      atomic.Int64
	dispatches   atomic.Int64
	derived      atomic.Int64
	deliveries   atomic.Int64
	truncated    atomic.Int64
	workerErrors atomic.Int64
	maxDepth     atomic.Int64
}

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Engine)

// WithMaxRecursionDepth sets how deep a lineage may re-enter matching.
//
// Default: DefaultMaxRecursionDepth. Zero disables re-dispatch of
// derived events beyond the first level.
func WithMaxRecursionDepth(depth int) EngineOption {
	return func(e *Engine) {
		e.maxDepth = depth
	}
}

// WithDispatchTimeout bounds the wait for one dispatch.
// Default: DefaultDispatchTimeout.
func WithDispatchTimeout(d time.Duration) EngineOption {
	return func(e *Engine) {
		e.dispatchTimeout = d
	}
}

// WithMemoryManager sets the manager the engine retains events through.
// The processors should be built with the same manager.
func WithMemoryManager(mm memory.Manager) EngineOption {
	return func(e *Engine) {
		e.mm = mm
	}
}

// WithMetrics records engine activity on m.
func WithMetrics(m *Metrics) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithLineageGenerator sets the lineage token source.
// Default: UUIDv7Generator.
func WithLineageGenerator(g LineageGenerator) EngineOption {
	return func(e *Engine) {
		e.gen = g
	}
}

// WithMaxLineageEvents caps the derived events of one submission.
// Default: unlimited.
func WithMaxLineageEvents(n int) EngineOption {
	return func(e *Engine) {
		e.maxLineageEvents = n
	}
}

// WithClock sets the logical clock used to stamp derived events.
// Used to continue the sequence of an existing event log.
func WithClock(c *Clock) EngineOption {
	return func(e *Engine) {
		e.clock = c
	}
}

// New creates an Engine over the given processor units and starts one
// fabric goroutine per unit.
//
// The units slice is copied; its order fixes the partition order.
func New(units []processor.Processor, opts ...EngineOption) (*Engine, error) {
	if len(units) == 0 {
		return nil, errors.New("engine requires at least one processor")
	}
	unitsCopy := make([]processor.Processor, len(units))
	copy(unitsCopy, units)

	e := &Engine{
		units:           unitsCopy,
		mm:              memory.Noop{},
		clock:           NewClock(),
		gen:             UUIDv7Generator{},
		maxDepth:        DefaultMaxRecursionDepth,
		dispatchTimeout: DefaultDispatchTimeout,
		ruleIndex:       make(map[string]int),
		inputEvents:     make(map[ir.EventType]int),
		outputEvents:    make(map[ir.EventType]int),
		listeners:       make(map[ResultListener]struct{}),
		queue:           newEventQueue(),
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.maxDepth < 0 {
		return nil, fmt.Errorf("max recursion depth must not be negative, got %d", e.maxDepth)
	}
	if e.dispatchTimeout <= 0 {
		return nil, fmt.Errorf("dispatch timeout must be positive, got %s", e.dispatchTimeout)
	}

	e.recursion = newRecursionController(false, nil, e.maxDepth)
	e.ranges = partition(0, len(e.units))
	e.fabric = newFabric(e.units)

	slog.Debug("engine created",
		"processors", len(e.units),
		"max_recursion_depth", e.maxDepth,
		"dispatch_timeout", e.dispatchTimeout,
	)
	return e, nil
}

// ProcessRule installs a rule on every unit and repartitions the rule
// indexes.
//
// The rule is validated first; invalid or duplicate rules are rejected and
// leave the engine unchanged. Rules whose outputs feed other rules are
// accepted (recursion is bounded by depth), but rule-graph cycles are
// logged.
func (e *Engine) ProcessRule(rule *ir.RulePkt) error {
	if err := e.usable(); err != nil {
		return err
	}
	if rule == nil {
		return NewInvalidRuleError("", errors.New("nil rule"))
	}
	if err := rule.Validate(); err != nil {
		return NewInvalidRuleError(rule.ID, err)
	}

	e.cfgMu.Lock()
	defer e.cfgMu.Unlock()

	if idx, ok := e.ruleIndex[rule.ID]; ok {
		return NewDuplicateRuleError(rule.ID, idx)
	}

	idx := len(e.rules)
	for i, u := range e.units {
		if err := u.Install(idx, rule); err != nil {
			slog.Warn("rule install failed",
				"rule_id", rule.ID,
				"unit", i,
				"error", err,
			)
			return NewInvalidRuleError(rule.ID, fmt.Errorf("unit %d: %w", i, err))
		}
	}

	e.rules = append(e.rules, rule)
	e.ruleIndex[rule.ID] = idx
	for _, t := range rule.InputTypes() {
		e.inputEvents[t]++
	}
	for _, t := range rule.OutputTypes() {
		e.outputEvents[t]++
	}

	needed := false
	for t := range e.outputEvents {
		if e.inputEvents[t] > 0 {
			needed = true
			break
		}
	}
	e.recursion = newRecursionController(needed, e.inputEvents, e.maxDepth)
	e.ranges = partition(len(e.rules), len(e.units))
	e.metrics.setRules(len(e.rules))

	if needed {
		for _, w := range compiler.AnalyzeCycles(e.rules) {
			if slices.Contains(w.Rules, rule.ID) {
				slog.Warn("rule cycle bounded by recursion depth",
					"path", w.Path,
					"max_recursion_depth", e.maxDepth,
				)
			}
		}
	}

	slog.Info("rule installed",
		"rule_id", rule.ID,
		"index", idx,
		"inputs", rule.InputTypes(),
		"output", rule.Emit.Type,
		"recursion_needed", needed,
	)
	return nil
}

// Rules returns the installed rules in install order.
func (e *Engine) Rules() []*ir.RulePkt {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()

	out := make([]*ir.RulePkt, len(e.rules))
	copy(out, e.rules)
	return out
}

// RecursionNeeded reports whether some rule output feeds some rule input.
func (e *Engine) RecursionNeeded() bool {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.recursion.Needed()
}

// AddResultListener registers l for subsequent dispatches.
// Adding a registered listener is a no-op.
func (e *Engine) AddResultListener(l ResultListener) {
	e.listenersMu.Lock()
	defer e.listenersMu.Unlock()
	e.listeners[l] = struct{}{}
}

// RemoveResultListener unregisters l for subsequent dispatches. Results of a
// dispatch already being delivered still reach l. Removing an unknown
// listener is a no-op.
func (e *Engine) RemoveResultListener(l ResultListener) {
	e.listenersMu.Lock()
	defer e.listenersMu.Unlock()
	delete(e.listeners, l)
}

// ProcessPublishedEvent runs one external event through the installed rules,
// including every recursive dispatch of its derived events, and delivers
// each derived event to the registered listeners before returning.
//
// An event of a type no rule consumes is dropped without effect. Per-event
// issues (unit evaluation errors, truncated lineages) are logged and
// counted, not returned. The returned error is non-nil only for context
// cancellation or when the engine is closed or failed.
func (e *Engine) ProcessPublishedEvent(ctx context.Context, ev *ir.PubPkt) error {
	if err := e.usable(); err != nil {
		return err
	}
	if ev == nil {
		return errors.New("process published event: nil event")
	}

	e.stats.received.Add(1)
	e.metrics.event(OutcomeReceived)

	e.cfgMu.RLock()
	_, routable := e.inputEvents[ev.Type]
	e.cfgMu.RUnlock()
	if !routable {
		e.stats.dropped.Add(1)
		e.metrics.event(OutcomeDropped)
		slog.Debug("event dropped: no rule consumes type",
			"event_id", ev.ID,
			"type", ev.Type,
		)
		return nil
	}

	e.dispatchMu.Lock()
	defer e.dispatchMu.Unlock()

	// Close may have completed while we waited for the previous dispatch.
	if err := e.usable(); err != nil {
		return err
	}

	lineage := e.gen.Generate()
	quota := NewLineageQuota(e.maxLineageEvents)

	var work workList
	e.mm.Retain(ev)
	work.push(workItem{event: ev, depth: 0})

	for {
		it, ok := work.pop()
		if !ok {
			return nil
		}
		err := e.step(ctx, it, lineage, quota, &work)
		e.mm.Release(it.event)
		if err == nil {
			continue
		}

		e.discard(&work)
		if IsLineageQuotaError(err) {
			e.stats.truncated.Add(1)
			e.metrics.event(OutcomeTruncated)
			slog.Warn("lineage truncated",
				"lineage", lineage,
				"event_id", ev.ID,
				"max_events", quota.Max(),
				"error", err,
			)
			return nil
		}
		return err
	}
}

// step dispatches one work item, delivers its derived events and queues the
// ones that re-enter matching.
func (e *Engine) step(ctx context.Context, it workItem, lineage string, quota *LineageQuota, work *workList) error {
	derived, redispatch, err := e.dispatch(ctx, it, lineage)
	if err != nil {
		return err
	}

	listeners := e.snapshotListeners()
	for i, d := range derived {
		if err := quota.Check(lineage); err != nil {
			return err
		}
		e.mm.Retain(d)
		e.deliver(d, listeners)
		if redispatch[i] {
			// The hold passes to the work list.
			work.push(workItem{event: d, depth: d.Depth})
			continue
		}
		e.mm.Release(d)
	}
	return nil
}

// dispatch runs one event through the fabric in the configuration-shared
// section and turns the results into derived events.
func (e *Engine) dispatch(ctx context.Context, it workItem, lineage string) ([]*ir.PubPkt, []bool, error) {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()

	ranges := e.schedule(it.event.Type)
	dc := newDispatchContext(ctx, it.event, ranges)
	defer dc.retire()

	start := time.Now()
	e.stats.dispatches.Add(1)
	err := e.fabric.run(ctx, dc, e.dispatchTimeout)
	e.metrics.dispatched(time.Since(start))
	if err != nil {
		if errors.Is(err, ctx.Err()) {
			return nil, nil, err
		}
		return nil, nil, e.fail(err)
	}

	for _, ue := range dc.errs {
		e.stats.workerErrors.Add(1)
		e.metrics.workerError()
		slog.Error("unit evaluation failed",
			"unit", ue.unit,
			"event_id", it.event.ID,
			"lineage", lineage,
			"error", ue.err,
		)
	}

	results := dc.results.list()
	derived := make([]*ir.PubPkt, 0, len(results))
	redispatch := make([]bool, 0, len(results))
	depth := it.depth + 1
	for _, r := range results {
		d := ir.NewDerived(r.id, r.derivation, ir.Lineage{
			Token:  lineage,
			Parent: it.event,
			Depth:  depth,
			Seq:    e.clock.Next(),
		})
		e.stats.derived.Add(1)
		e.metrics.event(OutcomeDerived)

		again := e.recursion.ShouldRedispatch(d, depth)
		if e.recursion.Truncates(d, depth) {
			e.stats.truncated.Add(1)
			e.metrics.event(OutcomeTruncated)
			slog.Debug("recursion depth reached",
				"event_id", d.ID,
				"type", d.Type,
				"depth", depth,
				"max_depth", e.recursion.MaxDepth(),
				"lineage", lineage,
			)
		}
		derived = append(derived, d)
		redispatch = append(redispatch, again)
	}

	slog.Debug("dispatch complete",
		"event_id", it.event.ID,
		"type", it.event.Type,
		"depth", it.depth,
		"derived", len(derived),
		"lineage", lineage,
	)
	return derived, redispatch, nil
}

// schedule returns per-unit ranges for an event type. Units whose range
// holds no rule consuming the type get an empty range and are skipped.
// Caller holds cfgMu.
func (e *Engine) schedule(t ir.EventType) []ruleRange {
	out := make([]ruleRange, len(e.ranges))
	for i, rg := range e.ranges {
		for j := rg.lower; j < rg.upper; j++ {
			if e.rules[j].Consumes(t) {
				out[i] = rg
				break
			}
		}
	}
	return out
}

// snapshotListeners copies the listener set for one dispatch's delivery.
func (e *Engine) snapshotListeners() []ResultListener {
	e.listenersMu.RLock()
	defer e.listenersMu.RUnlock()
	out := make([]ResultListener, 0, len(e.listeners))
	for l := range e.listeners {
		out = append(out, l)
	}
	return out
}

// deliver hands ev to the listeners of the current dispatch.
func (e *Engine) deliver(ev *ir.PubPkt, listeners []ResultListener) {
	for _, l := range listeners {
		l.Deliver(ev)
		e.stats.deliveries.Add(1)
	}
	e.metrics.delivered(ev.Depth)

	for {
		cur := e.stats.maxDepth.Load()
		if int64(ev.Depth) <= cur || e.stats.maxDepth.CompareAndSwap(cur, int64(ev.Depth)) {
			break
		}
	}
}

// discard releases the holds of work items that will not run.
func (e *Engine) discard(work *workList) {
	for {
		it, ok := work.pop()
		if !ok {
			return
		}
		e.mm.Release(it.event)
	}
}

// fail marks the engine unusable and returns the wrapped fault.
func (e *Engine) fail(cause error) error {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()

	if e.fatal == nil {
		e.fatal = fmt.Errorf("%w: %w", ErrEngineFailed, cause)
		slog.Error("engine failed", "error", cause)
	}
	return e.fatal
}

// usable returns the error every call reports once the engine is closed or
// failed.
func (e *Engine) usable() error {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()

	if e.fatal != nil {
		return e.fatal
	}
	if e.closed {
		return ErrEngineClosed
	}
	return nil
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() Stats {
	e.cfgMu.RLock()
	rules := len(e.rules)
	needed := e.recursion.Needed()
	e.cfgMu.RUnlock()

	return Stats{
		Received:        e.stats.received.Load(),
		Dropped:         e.stats.dropped.Load(),
		Dispatches:      e.stats.dispatches.Load(),
		Derived:         e.stats.derived.Load(),
		Deliveries:      e.stats.deliveries.Load(),
		Truncated:       e.stats.truncated.Load(),
		WorkerErrors:    e.stats.workerErrors.Load(),
		MaxDepth:        int(e.stats.maxDepth.Load()),
		Rules:           rules,
		RecursionNeeded: needed,
	}
}

// Close waits for the active dispatch to retire, stops the fabric and closes
// every processor. A unit stuck in Evaluate after a dispatch timeout is
// left open. Later calls return ErrEngineClosed (or the fatal error
// of a failed engine). Close is idempotent.
func (e *Engine) Close() error {
	e.queue.Close()

	e.dispatchMu.Lock()
	defer e.dispatchMu.Unlock()

	e.stateMu.Lock()
	if e.closed {
		e.stateMu.Unlock()
		return nil
	}
	e.closed = true
	failed := e.fatal != nil
	e.stateMu.Unlock()

	// A timed-out unit may never return; do not wait for it.
	e.fabric.stop(!failed)

	var errs []error
	for i, u := range e.units {
		// Close must not race a unit that never returned from Evaluate.
		if e.fabric.evaluating(i) {
			slog.Warn("unit still evaluating; left open", "unit", i)
			continue
		}
		if err := u.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close unit %d: %w", i, err))
		}
	}

	slog.Info("engine closed", "rules", len(e.Rules()))
	return errors.Join(errs...)
}

// Enqueue submits an event for the Run loop.
// Thread-safe: may be called from any goroutine.
//
// Returns false if the engine has been stopped.
func (e *Engine) Enqueue(ev *ir.PubPkt) bool {
	return e.queue.Enqueue(ev)
}

// Run consumes the ingress queue, passing each event to
// ProcessPublishedEvent. Blocks until the context is cancelled, Stop is
// called, or the engine fails.
//
// ERROR HANDLING: per-event errors are logged and processing continues.
// A fatal engine error ends the loop and is returned.
func (e *Engine) Run(ctx context.Context) error {
	slog.Info("engine starting")

	for {
		ev, ok := e.queue.TryDequeue()
		if ok {
			if err := e.ProcessPublishedEvent(ctx, ev); err != nil {
				if IsFatal(err) || errors.Is(err, ErrEngineClosed) {
					return err
				}
				if ctx.Err() != nil {
					e.queue.Close()
					return ctx.Err()
				}
				slog.Error("event processing failed",
					"event_id", ev.ID,
					"type", ev.Type,
					"error", err,
				)
			}
			continue
		}

		select {
		case <-ctx.Done():
			slog.Info("engine stopping: context cancelled")
			e.queue.Close()
			return ctx.Err()

		case <-e.queue.Wait():
			if e.queue.Len() == 0 && e.queue.Closed() {
				slog.Info("engine stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop closes the ingress queue. Run returns once the queue is drained.
func (e *Engine) Stop() {
	e.queue.Close()
}
