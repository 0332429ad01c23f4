package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roach88/gpucep/internal/ir"
)

// marshalAttributes converts IRObject to canonical JSON TEXT for storage.
// Uses RFC 8785 canonical JSON so identical events store identical text.
func marshalAttributes(attrs ir.IRObject) (string, error) {
	if attrs == nil {
		attrs = ir.IRObject{}
	}
	data, err := ir.MarshalCanonical(attrs)
	if err != nil {
		return "", fmt.Errorf("marshal attributes: %w", err)
	}
	return string(data), nil
}

// unmarshalAttributes parses canonical JSON TEXT to IRObject.
// ir.IRObject.UnmarshalJSON decodes numbers via json.Number, so integers
// above 2^53 survive the round trip.
func unmarshalAttributes(data string) (ir.IRObject, error) {
	if data == "" || data == "{}" {
		return ir.IRObject{}, nil
	}
	var obj ir.IRObject
	if err := json.Unmarshal([]byte(data), &obj); err != nil {
		return nil, fmt.Errorf("unmarshal attributes: %w", err)
	}
	return obj, nil
}

// marshalRule converts a rule definition to JSON TEXT.
// RulePkt is a struct (not IRValue), so it goes through json.Encoder with
// HTML escaping disabled: where clauses routinely contain < and >.
func marshalRule(r *ir.RulePkt) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(r); err != nil {
		return "", fmt.Errorf("marshal rule %s: %w", r.ID, err)
	}
	// Encoder adds a trailing newline, remove it
	return strings.TrimSpace(buf.String()), nil
}

// unmarshalRule parses a stored rule definition.
func unmarshalRule(data string) (*ir.RulePkt, error) {
	var r ir.RulePkt
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		return nil, fmt.Errorf("unmarshal rule: %w", err)
	}
	return &r, nil
}
