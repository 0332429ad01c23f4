package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/gpucep/internal/ir"
)

// createTestStore creates a new temp-dir store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestEvent creates a derived event with minimal lineage fields.
func createTestEvent(id, lineage string, seq int64, depth int) *ir.PubPkt {
	return &ir.PubPkt{
		ID:         id,
		Type:       ir.EventType(depth + 1),
		Timestamp:  seq * 10,
		Attributes: ir.IRObject{"n": ir.IRInt(seq)},
		Seq:        seq,
		Depth:      depth,
		RuleID:     "rule-" + id,
		ParentID:   "parent-" + id,
		Lineage:    lineage,
	}
}

// createTestRule creates a two-predicate rule.
func createTestRule(id string) *ir.RulePkt {
	return &ir.RulePkt{
		ID: id,
		Predicates: []ir.Predicate{
			{Type: 1, Alias: "smoke"},
			{Type: 2, Alias: "temp", Where: "value > 45 && area != \"<lab>\""},
		},
		Within: 300,
		Emit: ir.Emit{
			Type:       3,
			Attributes: map[string]string{"area": "temp.area"},
		},
	}
}
