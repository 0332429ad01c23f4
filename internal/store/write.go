package store

import (
	"context"
	"fmt"

	"github.com/roach88/gpucep/internal/ir"
)

// WriteRule records an installed rule at its install index.
//
// Re-installing a rule ID overwrites the stored definition: a store may be
// reused across runs whose rule sets differ.
func (s *Store) WriteRule(ctx context.Context, idx int, r *ir.RulePkt) error {
	def, err := marshalRule(r)
	if err != nil {
		return fmt.Errorf("write rule: %w", err)
	}
	hash, err := ir.RuleHash(r)
	if err != nil {
		return fmt.Errorf("write rule: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO rules (id, idx, hash, definition)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			idx = excluded.idx,
			hash = excluded.hash,
			definition = excluded.definition
	`, r.ID, idx, hash, def)
	if err != nil {
		return fmt.Errorf("write rule: %w", err)
	}
	return nil
}

// WriteEvent appends a derived event to the log.
// Uses ON CONFLICT(lineage, id) DO NOTHING for idempotency - writing the same
// event of the same lineage twice is silently ignored.
//
// Attributes are serialized to canonical JSON.
func (s *Store) WriteEvent(ctx context.Context, ev *ir.PubPkt) error {
	attrs, err := marshalAttributes(ev.Attributes)
	if err != nil {
		return fmt.Errorf("write event: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO events
		(id, lineage, seq, type, ts, depth, rule_id, parent_id, attributes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(lineage, id) DO NOTHING
	`,
		ev.ID,
		ev.Lineage,
		ev.Seq,
		int(ev.Type),
		ev.Timestamp,
		ev.Depth,
		ev.RuleID,
		ev.ParentID,
		attrs,
	)
	if err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}
