package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventIDDeterminism(t *testing.T) {
	attrs := IRObject{"value": IRInt(50), "area": IRString("north")}

	id1, err := EventID(2, 10, attrs)
	require.NoError(t, err)
	id2, err := EventID(2, 10, IRObject{"area": IRString("north"), "value": IRInt(50)})
	require.NoError(t, err)

	assert.Equal(t, id1, id2, "EventID must not depend on map order")
	assert.Len(t, id1, 64, "SHA-256 hex is 64 characters")
}

func TestEventIDChangesWithInput(t *testing.T) {
	attrs := IRObject{"value": IRInt(50)}

	base := MustEventID(2, 10, attrs)
	assert.NotEqual(t, base, MustEventID(3, 10, attrs), "type")
	assert.NotEqual(t, base, MustEventID(2, 11, attrs), "timestamp")
	assert.NotEqual(t, base, MustEventID(2, 10, IRObject{"value": IRInt(51)}), "attributes")
}

func TestDerivationID(t *testing.T) {
	d := Derivation{RuleID: "fire", Type: 3, Timestamp: 10, Attributes: IRObject{"area": IRString("n")}}

	id1, err := DerivationID("parent-a", d)
	require.NoError(t, err)
	id2, err := DerivationID("parent-a", d)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	other, err := DerivationID("parent-b", d)
	require.NoError(t, err)
	assert.NotEqual(t, id1, other, "parent is part of identity")

	d2 := d
	d2.RuleID = "smoke"
	byRule, err := DerivationID("parent-a", d2)
	require.NoError(t, err)
	assert.NotEqual(t, id1, byRule, "rule is part of identity")
}

func TestDomainSeparation(t *testing.T) {
	// Same payload hashed under different domains must differ.
	data := []byte(`{}`)
	assert.NotEqual(t, hashWithDomain(DomainEvent, data), hashWithDomain(DomainDerivation, data))
}

func TestRuleHash(t *testing.T) {
	r := &RulePkt{
		ID:         "fire",
		Predicates: []Predicate{{Type: 1, Alias: "smoke"}, {Type: 2, Alias: "temp", Where: "value > 45"}},
		Within:     300,
		Emit:       Emit{Type: 3, Attributes: map[string]string{"area": "temp.area"}},
	}
	h1, err := RuleHash(r)
	require.NoError(t, err)

	r2 := *r
	r2.Within = 301
	h2, err := RuleHash(&r2)
	require.NoError(t, err)

	assert.NotEqual(t, h1, h2)
}
