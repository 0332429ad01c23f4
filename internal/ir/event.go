package ir

import "fmt"

// EventType identifies the kind of an event. Rules consume and emit types;
// the engine routes on them.
type EventType int

// PubPkt is a published event: either submitted from outside the engine or
// derived by a rule match.
//
// A PubPkt is immutable after construction. Lineage fields are zero for
// externally published events and filled in by NewDerived for events the
// engine creates.
type PubPkt struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	Timestamp  int64     `json:"timestamp"`
	Attributes IRObject  `json:"attributes"`

	Seq      int64  `json:"seq,omitempty"`       // Engine logical clock, derived events only
	Depth    int    `json:"depth"`               // Recursion hops since the external event
	RuleID   string `json:"rule_id,omitempty"`   // Rule that derived this event
	ParentID string `json:"parent_id,omitempty"` // Event whose dispatch derived this one
	Lineage  string `json:"lineage,omitempty"`   // Token shared by one external submission
}

// NewPubPkt creates an externally published event with a content-addressed ID.
// The attribute map is copied.
func NewPubPkt(typ EventType, timestamp int64, attrs IRObject) (*PubPkt, error) {
	attrs = attrs.Clone()
	if attrs == nil {
		attrs = IRObject{}
	}
	id, err := EventID(typ, timestamp, attrs)
	if err != nil {
		return nil, fmt.Errorf("new event of type %d: %w", typ, err)
	}
	return &PubPkt{
		ID:         id,
		Type:       typ,
		Timestamp:  timestamp,
		Attributes: attrs,
	}, nil
}

// MustPubPkt is like NewPubPkt but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustPubPkt(typ EventType, timestamp int64, attrs IRObject) *PubPkt {
	ev, err := NewPubPkt(typ, timestamp, attrs)
	if err != nil {
		panic(err)
	}
	return ev
}

// Derivation is what a processor reports for one rule match: the event a
// rule would emit. The engine turns derivations into PubPkts.
type Derivation struct {
	RuleID     string    `json:"rule_id"`
	Type       EventType `json:"type"`
	Timestamp  int64     `json:"timestamp"`
	Attributes IRObject  `json:"attributes"`
}

// Lineage carries the bookkeeping the engine attaches to a derived event.
type Lineage struct {
	Token  string
	Parent *PubPkt
	Depth  int
	Seq    int64
}

// NewDerived materializes a derivation as an immutable event.
// id must be the derivation's identity (see DerivationID).
func NewDerived(id string, d Derivation, lin Lineage) *PubPkt {
	ev := &PubPkt{
		ID:         id,
		Type:       d.Type,
		Timestamp:  d.Timestamp,
		Attributes: d.Attributes.Clone(),
		Seq:        lin.Seq,
		Depth:      lin.Depth,
		RuleID:     d.RuleID,
		Lineage:    lin.Token,
	}
	if ev.Attributes == nil {
		ev.Attributes = IRObject{}
	}
	if lin.Parent != nil {
		ev.ParentID = lin.Parent.ID
	}
	return ev
}

// IsDerived reports whether the event was produced by a rule.
func (p *PubPkt) IsDerived() bool {
	return p.RuleID != ""
}

// String returns a short human-readable form for logs.
func (p *PubPkt) String() string {
	id := p.ID
	if len(id) > 12 {
		id = id[:12]
	}
	return fmt.Sprintf("event(type=%d ts=%d id=%s depth=%d)", p.Type, p.Timestamp, id, p.Depth)
}
