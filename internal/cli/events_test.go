package cli

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/gpucep/internal/ir"
)

func TestReadEvents(t *testing.T) {
	events, err := ReadEvents(strings.NewReader(alertEvents))
	require.NoError(t, err)
	require.Len(t, events, 3)

	assert.Equal(t, ir.EventType(1), events[0].Type)
	assert.Equal(t, int64(10), events[0].Timestamp)
	assert.Equal(t, ir.IRInt(50), events[0].Attributes["v"])
	assert.NotEmpty(t, events[0].ID)
	assert.Empty(t, events[2].Attributes)
}

func TestReadEventsJSONArray(t *testing.T) {
	events, err := ReadEvents(strings.NewReader(`[{"type": 4, "ts": 1, "attrs": {"tags": ["a", "b"], "ok": true}}]`))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, ir.IRArray{ir.IRString("a"), ir.IRString("b")}, events[0].Attributes["tags"])
	assert.Equal(t, ir.IRBool(true), events[0].Attributes["ok"])
}

func TestReadEventsEmpty(t *testing.T) {
	events, err := ReadEvents(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestReadEventsSameContentSameID(t *testing.T) {
	events, err := ReadEvents(strings.NewReader("- {type: 1, ts: 5, attrs: {a: 1}}\n- {type: 1, ts: 5, attrs: {a: 1}}\n"))
	require.NoError(t, err)
	assert.Equal(t, events[0].ID, events[1].ID)
}

func TestReadEventsErrors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr string
	}{
		{"not a list", "type: 1", "failed to parse events"},
		{"unknown field", "- {type: 1, attributes: {}}", "failed to parse events"},
		{"negative type", "- {type: -2}", "events[0]: event type must be positive"},
		{"null attribute", "- {type: 1}\n- {type: 1, attrs: {a: null}}", "events[1]"},
		{"float attribute", "- {type: 1, attrs: {a: 0.5}}", "floats are forbidden"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadEvents(strings.NewReader(tt.input))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestReadEventsFileStdin(t *testing.T) {
	events, err := readEventsFile("-", strings.NewReader("- {type: 2}"))
	require.NoError(t, err)
	assert.Len(t, events, 1)

	_, err = readEventsFile("/nonexistent/events.yaml", nil)
	assert.ErrorContains(t, err, "failed to open events file")
}
