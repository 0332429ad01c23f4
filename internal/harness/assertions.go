package harness

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/roach88/gpucep/internal/ir"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s type=%d depth=%d rule=%s %v\n",
				ev.Seq, ev.Lineage, ev.Type, ev.Depth, ev.RuleID, ev.Attributes)
		}
	}

	return buf.String()
}

// assertDeliveredCount checks the total number of delivered derived events.
func assertDeliveredCount(trace []TraceEvent, a Assertion) error {
	if len(trace) != *a.Count {
		return &AssertionError{
			Type:     AssertDeliveredCount,
			Expected: fmt.Sprintf("%d delivered events", *a.Count),
			Actual:   fmt.Sprintf("%d delivered events", len(trace)),
			Trace:    trace,
		}
	}
	return nil
}

// assertDeliveredTypeCount checks how many delivered events have the type.
func assertDeliveredTypeCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, ev := range trace {
		if ev.Type == *a.EventType {
			count++
		}
	}

	if count != *a.Count {
		return &AssertionError{
			Type:     AssertDeliveredTypeCount,
			Expected: fmt.Sprintf("%d events of type %d", *a.Count, *a.EventType),
			Actual:   fmt.Sprintf("%d events", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertContains checks that some delivered event of the type carries the
// expected attributes (subset match).
func assertContains(trace []TraceEvent, a Assertion) error {
	expected, err := convertAttrs(a.Attrs)
	if err != nil {
		return fmt.Errorf("contains: %w", err)
	}

	for _, ev := range trace {
		if ev.Type == *a.EventType && matchAttrs(ev.Attributes, expected) {
			return nil
		}
	}

	return &AssertionError{
		Type:     AssertContains,
		Expected: fmt.Sprintf("event of type %d with attrs %v", *a.EventType, a.Attrs),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertOrder checks that the first delivered event of each listed type
// appears in the listed order. Intervening events are allowed.
func assertOrder(trace []TraceEvent, a Assertion) error {
	// First position of each expected type, 1-indexed for readability
	positions := make(map[int]int)
	for i, ev := range trace {
		if positions[ev.Type] == 0 {
			positions[ev.Type] = i + 1
		}
	}

	for _, typ := range a.Types {
		if positions[typ] == 0 {
			return &AssertionError{
				Type:     AssertOrder,
				Expected: fmt.Sprintf("all types present: %v", a.Types),
				Actual:   fmt.Sprintf("missing type: %d", typ),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(a.Types); i++ {
		prev, curr := a.Types[i-1], a.Types[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertOrder,
				Expected: fmt.Sprintf("types in order: %v", a.Types),
				Actual: fmt.Sprintf("%d (pos %d) should be before %d (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

func assertMaxDepth(result *Result, a Assertion) error {
	if result.Summary.MaxDepth != *a.Depth {
		return &AssertionError{
			Type:     AssertMaxDepth,
			Expected: fmt.Sprintf("max depth %d", *a.Depth),
			Actual:   fmt.Sprintf("max depth %d", result.Summary.MaxDepth),
			Trace:    result.Trace,
		}
	}
	return nil
}

func assertRecursionNeeded(result *Result, a Assertion) error {
	if result.Summary.RecursionNeeded != *a.Value {
		return &AssertionError{
			Type:     AssertRecursionNeeded,
			Expected: fmt.Sprintf("recursion needed = %t", *a.Value),
			Actual:   fmt.Sprintf("recursion needed = %t", result.Summary.RecursionNeeded),
		}
	}
	return nil
}

func assertTruncated(result *Result, a Assertion) error {
	if result.Summary.Truncated != int64(*a.Count) {
		return &AssertionError{
			Type:     AssertTruncated,
			Expected: fmt.Sprintf("%d truncated events", *a.Count),
			Actual:   fmt.Sprintf("%d truncated events", result.Summary.Truncated),
			Trace:    result.Trace,
		}
	}
	return nil
}

// matchAttrs checks if actual contains all expected attributes (subset match).
// Extra keys in actual are ignored.
func matchAttrs(actual, expected ir.IRObject) bool {
	for key, want := range expected {
		got, ok := actual[key]
		if !ok {
			return false
		}
		if !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertDeliveredCount:
			err = assertDeliveredCount(result.Trace, assertion)
		case AssertDeliveredTypeCount:
			err = assertDeliveredTypeCount(result.Trace, assertion)
		case AssertContains:
			err = assertContains(result.Trace, assertion)
		case AssertOrder:
			err = assertOrder(result.Trace, assertion)
		case AssertMaxDepth:
			err = assertMaxDepth(result, assertion)
		case AssertRecursionNeeded:
			err = assertRecursionNeeded(result, assertion)
		case AssertTruncated:
			err = assertTruncated(result, assertion)
		default:
			err = fmt.Errorf("unknown assertion type: %s", assertion.Type)
		}

		if err != nil {
			errors = append(errors, fmt.Sprintf("assertion %d (%s): %v", i, assertion.Type, err))
		}
	}

	return errors
}
