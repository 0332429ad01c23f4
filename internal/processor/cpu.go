package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/roach88/gpucep/internal/ir"
	"github.com/roach88/gpucep/internal/memory"
)

// DefaultMaxBuffered bounds the events a rule keeps per predicate.
const DefaultMaxBuffered = 1024

// ErrClosed is returned by Evaluate after Close.
var ErrClosed = errors.New("processor closed")

// Option configures a CPU pool.
type Option func(*table)

// WithMemoryManager makes rule state retain buffered events through mm.
func WithMemoryManager(mm memory.Manager) Option {
	return func(t *table) {
		t.mm = mm
	}
}

// WithMaxBuffered sets the per-predicate buffer bound (0 = unbounded).
func WithMaxBuffered(n int) Option {
	return func(t *table) {
		t.maxBuffered = n
	}
}

// table holds the compiled rules shared by all units of one CPU pool.
type table struct {
	mu          sync.RWMutex // guards rules slice; rule state is partitioned by range
	rules       []*compiledRule
	mm          memory.Manager
	maxBuffered int
	open        atomic.Int32 // units not yet closed
}

// CPU is one unit of the reference CPU pool.
type CPU struct {
	id     int
	table  *table
	closed atomic.Bool
}

// NewCPUPool creates n units sharing one rule table.
func NewCPUPool(n int, opts ...Option) []Processor {
	t := &table{
		mm:          memory.Noop{},
		maxBuffered: DefaultMaxBuffered,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.open.Store(int32(n))

	units := make([]Processor, n)
	for i := range units {
		units[i] = &CPU{id: i, table: t}
	}
	return units
}

// Install compiles rule into slot index of the shared table.
//
// Installing an identical rule twice keeps the existing state. A different
// rule at an occupied index replaces it (the engine is the only authority on
// index assignment, so this only happens after a failed install).
func (c *CPU) Install(index int, rule *ir.RulePkt) error {
	if c.closed.Load() {
		return ErrClosed
	}

	t := c.table
	t.mu.Lock()
	defer t.mu.Unlock()

	if index < 0 || index > len(t.rules) {
		return fmt.Errorf("install rule %s: index %d out of range [0, %d]", rule.ID, index, len(t.rules))
	}

	if index < len(t.rules) {
		existing := t.rules[index]
		hash, err := ir.RuleHash(rule)
		if err != nil {
			return err
		}
		if existing.hash == hash {
			return nil
		}
		cr, err := compileRule(rule, t.maxBuffered)
		if err != nil {
			return err
		}
		existing.reset(t.mm)
		t.rules[index] = cr
		slog.Debug("rule replaced", "unit", c.id, "index", index, "rule_id", rule.ID)
		return nil
	}

	cr, err := compileRule(rule, t.maxBuffered)
	if err != nil {
		return err
	}
	t.rules = append(t.rules, cr)
	slog.Debug("rule installed", "unit", c.id, "index", index, "rule_id", rule.ID)
	return nil
}

// Evaluate runs ev through rules [lower, upper).
// Per-rule failures are joined into the returned error; matches from other
// rules are still returned.
func (c *CPU) Evaluate(ctx context.Context, lower, upper int, ev *ir.PubPkt) ([]ir.Derivation, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}

	t := c.table
	t.mu.RLock()
	defer t.mu.RUnlock()

	if lower < 0 || upper > len(t.rules) || lower > upper {
		return nil, fmt.Errorf("unit %d: range [%d, %d) out of bounds (%d rules)", c.id, lower, upper, len(t.rules))
	}

	var (
		out  []ir.Derivation
		errs []error
	)
	for i := lower; i < upper; i++ {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		derived, err := t.rules[i].process(ev, t.mm)
		if err != nil {
			errs = append(errs, err)
		}
		out = append(out, derived...)
	}

	return out, errors.Join(errs...)
}

// Close marks the unit closed. The last unit of a pool to close releases
// all buffered rule state.
func (c *CPU) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	t := c.table
	if t.open.Add(-1) > 0 {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, cr := range t.rules {
		cr.reset(t.mm)
	}
	return nil
}

// Buffered reports the number of events rule index holds for predicate pred.
// Used for diagnostics and tests.
func (c *CPU) Buffered(index, pred int) int {
	t := c.table
	t.mu.RLock()
	defer t.mu.RUnlock()

	if index < 0 || index >= len(t.rules) {
		return 0
	}
	cr := t.rules[index]
	if pred < 0 || pred >= len(cr.buffers) {
		return 0
	}
	return cr.buffered(pred)
}
