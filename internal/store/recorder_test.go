package store

import (
	"context"
	"testing"
)

func TestRecorder_Deliver(t *testing.T) {
	s := createTestStore(t)
	rec := NewRecorder(s)

	rec.Deliver(createTestEvent("a", "lin", 1, 1))
	rec.Deliver(createTestEvent("b", "lin", 2, 2))
	rec.Deliver(createTestEvent("a", "lin", 1, 1))

	events, err := s.ReadLineage(context.Background(), "lin")
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Errorf("got %d events, want 2", len(events))
	}
	if rec.Failed() != 0 {
		t.Errorf("Failed() = %d, want 0", rec.Failed())
	}
}

func TestRecorder_CountsFailures(t *testing.T) {
	s := createTestStore(t)
	rec := NewRecorder(s)
	s.Close()

	rec.Deliver(createTestEvent("a", "lin", 1, 1))
	if rec.Failed() != 1 {
		t.Errorf("Failed() = %d, want 1", rec.Failed())
	}
}
