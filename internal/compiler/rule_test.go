package compiler

import (
	"testing"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/gpucep/internal/ir"
)

func compileOne(t *testing.T, src, label string) (*ir.RulePkt, error) {
	t.Helper()
	ctx := cuecontext.New()
	v := ctx.CompileString(src)
	require.NoError(t, v.Err())
	return CompileRule(v.LookupPath(cue.ParsePath(`rule."` + label + `"`)))
}

func TestCompileRuleBasic(t *testing.T) {
	rule, err := compileOne(t, `
		rule: "fire": {
			within: 300
			when: [
				{type: 1, as: "smoke"},
				{type: 2, as: "temp", where: "value > 45"},
			]
			emit: {
				type: 3
				attrs: {area: "temp.area", level: "temp.value"}
			}
		}
	`, "fire")

	require.NoError(t, err)
	assert.Equal(t, &ir.RulePkt{
		ID:     "fire",
		Within: 300,
		Predicates: []ir.Predicate{
			{Type: 1, Alias: "smoke"},
			{Type: 2, Alias: "temp", Where: "value > 45"},
		},
		Emit: ir.Emit{
			Type:       3,
			Attributes: map[string]string{"area": "temp.area", "level": "temp.value"},
		},
	}, rule)
	assert.NoError(t, rule.Validate())
}

func TestCompileRuleDefaults(t *testing.T) {
	rule, err := compileOne(t, `
		rule: relay: {
			when: [{type: 4, as: "e"}]
			emit: type: 5
		}
	`, "relay")

	require.NoError(t, err)
	assert.Equal(t, "relay", rule.ID)
	assert.Zero(t, rule.Within)
	assert.Nil(t, rule.Emit.Attributes)
}

func TestCompileRuleErrors(t *testing.T) {
	tests := []struct {
		name  string
		src   string
		field string
	}{
		{
			name:  "missing when",
			src:   `rule: r: {emit: type: 1}`,
			field: "when",
		},
		{
			name:  "when not a list",
			src:   `rule: r: {when: {type: 1}, emit: type: 2}`,
			field: "when",
		},
		{
			name:  "empty when",
			src:   `rule: r: {when: [], emit: type: 2}`,
			field: "when",
		},
		{
			name:  "predicate without type",
			src:   `rule: r: {when: [{as: "a"}], emit: type: 2}`,
			field: "when[0].type",
		},
		{
			name:  "predicate type not int",
			src:   `rule: r: {when: [{type: "x", as: "a"}], emit: type: 2}`,
			field: "when[0].type",
		},
		{
			name:  "predicate without alias",
			src:   `rule: r: {when: [{type: 1}], emit: type: 2}`,
			field: "when[0].as",
		},
		{
			name:  "where not a string",
			src:   `rule: r: {when: [{type: 1, as: "a", where: 3}], emit: type: 2}`,
			field: "when[0].where",
		},
		{
			name:  "missing emit",
			src:   `rule: r: {when: [{type: 1, as: "a"}]}`,
			field: "emit",
		},
		{
			name:  "emit without type",
			src:   `rule: r: {when: [{type: 1, as: "a"}], emit: attrs: {}}`,
			field: "emit.type",
		},
		{
			name:  "attribute not a string",
			src:   `rule: r: {when: [{type: 1, as: "a"}], emit: {type: 2, attrs: {x: 1}}}`,
			field: "emit.attrs.x",
		},
		{
			name:  "within not an int",
			src:   `rule: r: {within: "soon", when: [{type: 1, as: "a"}], emit: type: 2}`,
			field: "within",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := compileOne(t, tt.src, "r")
			require.Error(t, err)

			var ce *CompileError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.field, ce.Field)
		})
	}
}

func TestCompileErrorFormat(t *testing.T) {
	err := &CompileError{Field: "when", Message: "when list is required"}
	assert.Equal(t, "when: when list is required", err.Error())
}
