// Package engine implements the gpucep rule-matching core.
//
// The engine receives published events, evaluates the installed rules
// against them on a pool of processor units, and delivers every derived
// event to the registered result listeners. Derived events that can feed an
// installed rule are dispatched again, up to a recursion depth bound.
//
// ARCHITECTURE:
//
// Facade:
// ProcessRule installs rules and recomputes the engine-wide type sets,
// the RecursionNeeded flag and the partition of rule indexes over the
// units. ProcessPublishedEvent drives one lineage to completion.
//
// Synchronization fabric:
// One goroutine per unit waits on its own job channel. For each dispatch
// the engine builds a dispatch context (event, per-unit ranges, countdown,
// result set), hands it to every unit whose range holds a rule consuming
// the event's type, and waits for the countdown to reach zero, bounded by
// the dispatch timeout. Results are read only after the countdown closes
// the context's done channel.
//
// Recursion:
// A lineage is processed breadth-first from a work list rather than by
// recursive calls. Each derived event carries its depth; the
// RecursionController re-dispatches it iff RecursionNeeded holds, its type
// is consumed by some rule, and its depth does not exceed the bound.
//
// Ordering:
// Results of one dispatch are ordered by unit then emission order, and every
// derived event is stamped from the logical Clock, so deliveries are
// deterministic for a given rule set and input regardless of unit
// scheduling or pool size.
//
// Failure:
// A unit that never reports (timeout) or panics makes the engine fatal;
// every later call returns an error wrapping ErrEngineFailed.
package engine
