// Package processor defines the contract of one processor-pool unit and
// provides a reference CPU implementation.
//
// A unit is a black box to the engine: given a contiguous range of installed
// rule indexes and one event, it evaluates each rule's matching state and
// reports the events the rules derive. Device-side matching (GPU kernels,
// rule state layout) lives behind this interface.
//
// The CPU pool keeps rule state in a table shared by all its units. The
// engine hands disjoint index ranges to concurrently running units, so each
// rule's state is touched by at most one unit per dispatch.
package processor

import (
	"context"

	"github.com/roach88/gpucep/internal/ir"
)

// Processor is one evaluation unit of the pool.
//
// Thread-safety contract:
//   - Evaluate may run concurrently with Evaluate on other units, provided
//     the ranges are disjoint
//   - Install and Close are never called concurrently with Evaluate; a unit
//     still in Evaluate when its dispatch times out is never closed
type Processor interface {
	// Install uploads rule to the unit at the given index. The engine calls
	// Install on every unit for every rule, in index order. Re-installing
	// an identical rule at the same index is a no-op.
	Install(index int, rule *ir.RulePkt) error

	// Evaluate matches the rules in [lower, upper) against ev.
	// A non-nil error may accompany derivations; the derivations are still
	// valid. Evaluate must not block on anything but its own work, and
	// should return once ctx is cancelled.
	Evaluate(ctx context.Context, lower, upper int, ev *ir.PubPkt) ([]ir.Derivation, error)

	// Close releases unit resources.
	Close() error
}
