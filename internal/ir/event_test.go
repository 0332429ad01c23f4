package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPubPkt(t *testing.T) {
	attrs := IRObject{"area": IRString("north")}
	ev, err := NewPubPkt(10, 5, attrs)
	require.NoError(t, err)

	assert.Equal(t, EventType(10), ev.Type)
	assert.Equal(t, int64(5), ev.Timestamp)
	assert.Len(t, ev.ID, 64)
	assert.False(t, ev.IsDerived())
	assert.Zero(t, ev.Depth)

	// Attributes are copied at construction.
	attrs["area"] = IRString("south")
	assert.Equal(t, IRString("north"), ev.Attributes["area"])
}

func TestNewPubPkt_NilAttributes(t *testing.T) {
	ev, err := NewPubPkt(1, 0, nil)
	require.NoError(t, err)
	assert.NotNil(t, ev.Attributes)
	assert.Equal(t, MustEventID(1, 0, IRObject{}), ev.ID)
}

func TestNewPubPkt_RejectsNull(t *testing.T) {
	_, err := NewPubPkt(1, 0, IRObject{"x": IRNull{}})
	assert.Error(t, err)
}

func TestNewDerived(t *testing.T) {
	parent := MustPubPkt(1, 100, IRObject{"v": IRInt(1)})
	d := Derivation{RuleID: "r1", Type: 2, Timestamp: 100, Attributes: IRObject{"v": IRInt(1)}}
	id, err := DerivationID(parent.ID, d)
	require.NoError(t, err)

	ev := NewDerived(id, d, Lineage{Token: "lin-1", Parent: parent, Depth: 1, Seq: 7})

	assert.Equal(t, id, ev.ID)
	assert.Equal(t, EventType(2), ev.Type)
	assert.Equal(t, parent.ID, ev.ParentID)
	assert.Equal(t, "r1", ev.RuleID)
	assert.Equal(t, "lin-1", ev.Lineage)
	assert.Equal(t, 1, ev.Depth)
	assert.Equal(t, int64(7), ev.Seq)
	assert.True(t, ev.IsDerived())
	assert.Contains(t, ev.String(), "type=2")
}
