package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainEvent      = "gpucep/event/v1"
	DomainDerivation = "gpucep/derivation/v1"
	DomainRule       = "gpucep/rule/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null byte separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// EventID computes the content-addressed ID of an externally published event.
// Two publications with the same type, timestamp and attributes share an ID.
func EventID(typ EventType, timestamp int64, attrs IRObject) (string, error) {
	if attrs == nil {
		attrs = IRObject{}
	}
	canonical, err := MarshalCanonical(IRObject{
		"type":       IRInt(typ),
		"timestamp":  IRInt(timestamp),
		"attributes": attrs,
	})
	if err != nil {
		return "", fmt.Errorf("EventID: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainEvent, canonical), nil
}

// DerivationID computes the identity of a derivation produced while
// processing the event identified by parentID.
//
// The identity deliberately excludes the engine sequence number: the same
// rule deriving the same payload from the same parent is the same result,
// which is what the per-dispatch result set deduplicates on.
func DerivationID(parentID string, d Derivation) (string, error) {
	attrs := d.Attributes
	if attrs == nil {
		attrs = IRObject{}
	}
	canonical, err := MarshalCanonical(IRObject{
		"parent_id":  IRString(parentID),
		"rule_id":    IRString(d.RuleID),
		"type":       IRInt(d.Type),
		"timestamp":  IRInt(d.Timestamp),
		"attributes": attrs,
	})
	if err != nil {
		return "", fmt.Errorf("DerivationID: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainDerivation, canonical), nil
}

// RuleHash computes a digest over a rule definition. Used to detect a rule
// re-installed under an existing ID with a different body.
func RuleHash(r *RulePkt) (string, error) {
	preds := make(IRArray, len(r.Predicates))
	for i, p := range r.Predicates {
		preds[i] = IRObject{
			"type":  IRInt(p.Type),
			"as":    IRString(p.Alias),
			"where": IRString(p.Where),
		}
	}
	emitAttrs := make(IRObject, len(r.Emit.Attributes))
	for k, v := range r.Emit.Attributes {
		emitAttrs[k] = IRString(v)
	}
	canonical, err := MarshalCanonical(IRObject{
		"id":     IRString(r.ID),
		"within": IRInt(r.Within),
		"when":   preds,
		"emit": IRObject{
			"type":  IRInt(r.Emit.Type),
			"attrs": emitAttrs,
		},
	})
	if err != nil {
		return "", fmt.Errorf("RuleHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainRule, canonical), nil
}

// MustEventID is like EventID but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustEventID(typ EventType, timestamp int64, attrs IRObject) string {
	id, err := EventID(typ, timestamp, attrs)
	if err != nil {
		panic(err)
	}
	return id
}
