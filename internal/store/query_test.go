package store

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"github.com/roach88/gpucep/internal/ir"
)

func TestCompileEventQuery(t *testing.T) {
	tests := []struct {
		name       string
		filter     Filter
		wantWhere  string
		wantParams []any
	}{
		{"nil filter", nil, "", nil},
		{"lineage", ByLineage("lin-1"), " WHERE lineage = ?", []any{"lin-1"}},
		{"type", ByType(3), " WHERE type = ?", []any{int64(3)}},
		{"pointer", &AtLeast{Field: "depth", Value: 2}, " WHERE depth >= ?", []any{int64(2)}},
		{"empty and", And{}, " WHERE 1 = 1", nil},
		{
			"conjunction",
			And{Filters: []Filter{ByLineage("lin-1"), ByRule("fire"), AtLeast{Field: "depth", Value: 1}}},
			" WHERE (lineage = ?) AND (rule_id = ?) AND (depth >= ?)",
			[]any{"lin-1", "fire", int64(1)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, params, err := compileEventQuery(tt.filter)
			if err != nil {
				t.Fatalf("compileEventQuery() failed: %v", err)
			}
			want := "SELECT " + eventColumns + " FROM events" + tt.wantWhere + " ORDER BY seq ASC, id COLLATE BINARY ASC"
			if query != want {
				t.Errorf("query = %q\nwant    %q", query, want)
			}
			if !reflect.DeepEqual(params, tt.wantParams) {
				t.Errorf("params = %#v, want %#v", params, tt.wantParams)
			}
		})
	}
}

func TestCompileEventQuery_ValuesAreNeverInlined(t *testing.T) {
	hostile := "x'; DROP TABLE events; --"
	query, params, err := compileEventQuery(ByRule(hostile))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(query, "DROP") {
		t.Errorf("value leaked into SQL: %s", query)
	}
	if len(params) != 1 || params[0] != hostile {
		t.Errorf("params = %#v", params)
	}
}

func TestCompileEventQuery_Errors(t *testing.T) {
	tests := []struct {
		name    string
		filter  Filter
		wantErr string
	}{
		{"unknown column", Equals{Field: "attributes", Value: ir.IRString("x")}, "unknown event column"},
		{"injected column", Equals{Field: "type; --", Value: ir.IRInt(1)}, "unknown event column"},
		{"int on text column", Equals{Field: "lineage", Value: ir.IRInt(1)}, "holds text"},
		{"string on int column", Equals{Field: "depth", Value: ir.IRString("2")}, "holds integers"},
		{"bool value", Equals{Field: "type", Value: ir.IRBool(true)}, "cannot be compared"},
		{"ordered text", AtLeast{Field: "rule_id", Value: 1}, "has no order"},
		{"nested error", And{Filters: []Filter{ByType(1), AtLeast{Field: "nope"}}}, "unknown event column"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := compileEventQuery(tt.filter)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestQueryEvents(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	// createTestEvent sets type = depth + 1 and rule_id = "rule-" + id.
	for _, ev := range []*ir.PubPkt{
		createTestEvent("a", "lin-1", 1, 1),
		createTestEvent("b", "lin-1", 2, 2),
		createTestEvent("c", "lin-2", 3, 1),
		createTestEvent("d", "lin-1", 4, 3),
	} {
		if err := s.WriteEvent(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"all", nil, []string{"a", "b", "c", "d"}},
		{"lineage", ByLineage("lin-1"), []string{"a", "b", "d"}},
		{"type", ByType(2), []string{"a", "c"}},
		{"rule", ByRule("rule-b"), []string{"b"}},
		{"deep in lineage", And{Filters: []Filter{ByLineage("lin-1"), AtLeast{Field: "depth", Value: 2}}}, []string{"b", "d"}},
		{"no match", ByLineage("lin-9"), []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, err := s.QueryEvents(ctx, tt.filter)
			if err != nil {
				t.Fatalf("QueryEvents() failed: %v", err)
			}
			ids := []string{}
			for _, ev := range events {
				ids = append(ids, ev.ID)
			}
			if !reflect.DeepEqual(ids, tt.want) {
				t.Errorf("ids = %v, want %v", ids, tt.want)
			}
		})
	}

	if _, err := s.QueryEvents(ctx, Equals{Field: "bogus", Value: ir.IRInt(1)}); err == nil {
		t.Error("expected error for unknown column")
	}
}
