package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/gpucep/internal/ir"
)

// Filter selects logged events.
//
// This is a sealed interface: only Equals, AtLeast and And implement it,
// so the compiler below can switch over every case. A nil Filter matches
// every event.
type Filter interface {
	filterNode()
}

// Equals matches events whose column equals Value.
type Equals struct {
	Field string
	Value ir.IRValue
}

// AtLeast matches events whose integer column is >= Value.
type AtLeast struct {
	Field string
	Value int64
}

// And matches events that satisfy every filter. An empty And matches all.
type And struct {
	Filters []Filter
}

func (Equals) filterNode()  {}
func (AtLeast) filterNode() {}
func (And) filterNode()     {}

// filterColumns are the event columns a filter may name, with whether the
// column holds integers.
var filterColumns = map[string]bool{
	"id":        false,
	"lineage":   false,
	"rule_id":   false,
	"parent_id": false,
	"seq":       true,
	"type":      true,
	"ts":        true,
	"depth":     true,
}

// ByLineage matches the events of one lineage.
func ByLineage(lineage string) Filter {
	return Equals{Field: "lineage", Value: ir.IRString(lineage)}
}

// ByType matches events of one type.
func ByType(typ ir.EventType) Filter {
	return Equals{Field: "type", Value: ir.IRInt(typ)}
}

// ByRule matches events derived by one rule.
func ByRule(ruleID string) Filter {
	return Equals{Field: "rule_id", Value: ir.IRString(ruleID)}
}

// QueryEvents returns the logged events matching f, in delivery order.
// Returns an empty slice (not nil) if nothing matches.
func (s *Store) QueryEvents(ctx context.Context, f Filter) ([]*ir.PubPkt, error) {
	query, params, err := compileEventQuery(f)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	return collectEvents(rows)
}

// compileEventQuery builds a parameterized SELECT over the events table.
// Values are always bound as parameters, and every query ends with the
// deterministic seq/id ordering.
func compileEventQuery(f Filter) (string, []any, error) {
	var b strings.Builder
	b.WriteString("SELECT " + eventColumns + " FROM events")

	var params []any
	if f != nil {
		where, p, err := compileFilter(f)
		if err != nil {
			return "", nil, fmt.Errorf("compile filter: %w", err)
		}
		b.WriteString(" WHERE " + where)
		params = p
	}

	b.WriteString(" ORDER BY seq ASC, id COLLATE BINARY ASC")
	return b.String(), params, nil
}

func compileFilter(f Filter) (string, []any, error) {
	switch f := f.(type) {
	case Equals:
		return compileEquals(f)
	case *Equals:
		return compileEquals(*f)
	case AtLeast:
		return compileAtLeast(f)
	case *AtLeast:
		return compileAtLeast(*f)
	case And:
		return compileAnd(f)
	case *And:
		return compileAnd(*f)
	case nil:
		return "1 = 1", nil, nil
	default:
		return "", nil, fmt.Errorf("unsupported filter type: %T", f)
	}
}

func compileEquals(eq Equals) (string, []any, error) {
	integer, ok := filterColumns[eq.Field]
	if !ok {
		return "", nil, fmt.Errorf("unknown event column %q", eq.Field)
	}

	var param any
	switch v := eq.Value.(type) {
	case ir.IRInt:
		if !integer {
			return "", nil, fmt.Errorf("column %s holds text, got integer %d", eq.Field, v)
		}
		param = int64(v)
	case ir.IRString:
		if integer {
			return "", nil, fmt.Errorf("column %s holds integers, got %q", eq.Field, string(v))
		}
		param = string(v)
	default:
		return "", nil, fmt.Errorf("column %s cannot be compared with %T", eq.Field, eq.Value)
	}
	return eq.Field + " = ?", []any{param}, nil
}

func compileAtLeast(al AtLeast) (string, []any, error) {
	integer, ok := filterColumns[al.Field]
	if !ok {
		return "", nil, fmt.Errorf("unknown event column %q", al.Field)
	}
	if !integer {
		return "", nil, fmt.Errorf("column %s holds text and has no order", al.Field)
	}
	return al.Field + " >= ?", []any{al.Value}, nil
}

func compileAnd(and And) (string, []any, error) {
	if len(and.Filters) == 0 {
		return "1 = 1", nil, nil
	}

	parts := make([]string, 0, len(and.Filters))
	var params []any
	for _, f := range and.Filters {
		sql, p, err := compileFilter(f)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, "("+sql+")")
		params = append(params, p...)
	}
	return strings.Join(parts, " AND "), params, nil
}
