package testutil

import "github.com/roach88/gpucep/internal/ir"

// Relay builds a single-predicate rule consuming in and emitting out.
// The derived event copies the "src" attribute of its input.
func Relay(id string, in, out ir.EventType) *ir.RulePkt {
	return &ir.RulePkt{
		ID:         id,
		Predicates: []ir.Predicate{{Type: in, Alias: "e"}},
		Emit: ir.Emit{
			Type:       out,
			Attributes: map[string]string{"src": "e.src"},
		},
	}
}

// Event builds an external event with a "src" attribute.
func Event(typ ir.EventType, ts int64, src string) *ir.PubPkt {
	return ir.MustPubPkt(typ, ts, ir.IRObject{"src": ir.IRString(src)})
}

// Types returns the types of events, in order.
func Types(events []*ir.PubPkt) []ir.EventType {
	out := make([]ir.EventType, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}
