package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/gpucep/internal/ir"
)

const eventColumns = `id, lineage, seq, type, ts, depth, rule_id, parent_id, attributes`

// ReadRules returns the stored rules in install order.
// Returns an empty slice (not nil) if none are stored.
func (s *Store) ReadRules(ctx context.Context) ([]*ir.RulePkt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT definition FROM rules
		ORDER BY idx ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer rows.Close()

	rules := []*ir.RulePkt{}
	for rows.Next() {
		var def string
		if err := rows.Scan(&def); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		r, err := unmarshalRule(def)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rules: %w", err)
	}
	return rules, nil
}

// ReadEvents returns every logged event.
// Results are ordered deterministically: ORDER BY seq ASC, id ASC COLLATE BINARY.
func (s *Store) ReadEvents(ctx context.Context) ([]*ir.PubPkt, error) {
	return s.QueryEvents(ctx, nil)
}

// ReadLineage returns the events derived from one external submission,
// in delivery order.
//
// Returns an empty slice (not nil) if the lineage is unknown.
func (s *Store) ReadLineage(ctx context.Context, lineage string) ([]*ir.PubPkt, error) {
	events, err := s.QueryEvents(ctx, ByLineage(lineage))
	if err != nil {
		return nil, fmt.Errorf("lineage %s: %w", lineage, err)
	}
	return events, nil
}

// Lineages returns the distinct lineage tokens, ordered by their first event.
func (s *Store) Lineages(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT lineage FROM events
		GROUP BY lineage
		ORDER BY MIN(seq) ASC, lineage COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query lineages: %w", err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var lin string
		if err := rows.Scan(&lin); err != nil {
			return nil, fmt.Errorf("scan lineage: %w", err)
		}
		out = append(out, lin)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate lineages: %w", err)
	}
	return out, nil
}

// MaxSeq returns the highest logged seq, or 0 for an empty log.
// A new engine continues the log with engine.NewClockAt(MaxSeq).
func (s *Store) MaxSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM events`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("query max seq: %w", err)
	}
	return seq.Int64, nil
}

// collectEvents scans and closes rows.
func collectEvents(rows *sql.Rows) ([]*ir.PubPkt, error) {
	defer rows.Close()

	events := []*ir.PubPkt{}
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// scanEvent scans a row into a PubPkt.
func scanEvent(rows *sql.Rows) (*ir.PubPkt, error) {
	var (
		ev    ir.PubPkt
		typ   int
		attrs string
	)
	if err := rows.Scan(
		&ev.ID, &ev.Lineage, &ev.Seq, &typ, &ev.Timestamp,
		&ev.Depth, &ev.RuleID, &ev.ParentID, &attrs,
	); err != nil {
		return nil, fmt.Errorf("scan event: %w", err)
	}
	ev.Type = ir.EventType(typ)

	obj, err := unmarshalAttributes(attrs)
	if err != nil {
		return nil, fmt.Errorf("event %s: %w", ev.ID, err)
	}
	ev.Attributes = obj
	return &ev, nil
}
