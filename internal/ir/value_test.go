package ir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIRObjectSortedKeys(t *testing.T) {
	obj := IRObject{
		"zebra":  IRString("z"),
		"apple":  IRString("a"),
		"banana": IRString("b"),
	}
	assert.Equal(t, []string{"apple", "banana", "zebra"}, obj.SortedKeys())
}

func TestIRObjectSortedKeys_UTF16Order(t *testing.T) {
	// U+FB01 (BMP) sorts after U+1F600 (surrogate pair 0xD83D...) in UTF-16,
	// but before it in UTF-8 byte order.
	obj := IRObject{
		"\uFB01":     IRInt(1),
		"\U0001F600": IRInt(2),
	}
	assert.Equal(t, []string{"\U0001F600", "\uFB01"}, obj.SortedKeys())
}

func TestIRObjectClone_IsDeep(t *testing.T) {
	orig := IRObject{
		"nested": IRObject{"n": IRInt(1)},
		"list":   IRArray{IRString("a")},
	}
	clone := orig.Clone()
	clone["nested"].(IRObject)["n"] = IRInt(2)
	clone["list"].(IRArray)[0] = IRString("b")

	assert.Equal(t, IRInt(1), orig["nested"].(IRObject)["n"])
	assert.Equal(t, IRString("a"), orig["list"].(IRArray)[0])
	assert.Nil(t, IRObject(nil).Clone())
}

func TestFromNative(t *testing.T) {
	tests := []struct {
		name    string
		in      any
		want    IRValue
		wantErr bool
	}{
		{"string", "x", IRString("x"), false},
		{"int", 7, IRInt(7), false},
		{"int64", int64(-3), IRInt(-3), false},
		{"bool", true, IRBool(true), false},
		{"integral float", float64(42), IRInt(42), false},
		{"fractional float", 1.5, nil, true},
		{"nil", nil, nil, true},
		{"list", []any{1, "a"}, IRArray{IRInt(1), IRString("a")}, false},
		{"map", map[string]any{"k": 1}, IRObject{"k": IRInt(1)}, false},
		{"unsupported", struct{}{}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromNative(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNative_RoundTrip(t *testing.T) {
	obj := IRObject{
		"s": IRString("x"),
		"n": IRInt(3),
		"b": IRBool(false),
		"a": IRArray{IRInt(1)},
		"o": IRObject{"k": IRString("v")},
	}

	native := obj.Native()
	assert.Equal(t, int64(3), native["n"])
	assert.Equal(t, []any{int64(1)}, native["a"])

	back, err := ObjectFromNative(native)
	require.NoError(t, err)
	assert.Equal(t, obj, back)
}

func TestIRObjectJSON_RejectsFloats(t *testing.T) {
	var obj IRObject
	err := json.Unmarshal([]byte(`{"temp": 21.5}`), &obj)
	assert.Error(t, err)
}

func TestIRObjectJSON_Decodes(t *testing.T) {
	var obj IRObject
	require.NoError(t, json.Unmarshal([]byte(`{"area":"north","value":50,"ok":true,"tags":["a"],"none":null}`), &obj))

	assert.Equal(t, IRString("north"), obj["area"])
	assert.Equal(t, IRInt(50), obj["value"])
	assert.Equal(t, IRBool(true), obj["ok"])
	assert.Equal(t, IRArray{IRString("a")}, obj["tags"])
	assert.Equal(t, IRNull{}, obj["none"])

	data, err := json.Marshal(obj)
	require.NoError(t, err)
	assert.JSONEq(t, `{"area":"north","value":50,"ok":true,"tags":["a"],"none":null}`, string(data))
}

func TestMarshalCanonical(t *testing.T) {
	got, err := MarshalCanonical(IRObject{
		"b": IRInt(2),
		"a": IRString("<&>"),
		"c": IRArray{IRBool(true), IRString("x\ny")},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"a":"<&>","b":2,"c":[true,"x\ny"]}`, string(got))
}

func TestMarshalCanonical_NFC(t *testing.T) {
	// "e" + combining acute accent normalizes to precomposed U+00E9.
	decomposed, err := MarshalCanonical(IRString("e\u0301"))
	require.NoError(t, err)
	precomposed, err := MarshalCanonical(IRString("\u00e9"))
	require.NoError(t, err)
	assert.Equal(t, precomposed, decomposed)
}

func TestMarshalCanonical_LineSeparatorsLiteral(t *testing.T) {
	got, err := MarshalCanonical(IRString("a\u2028b"))
	require.NoError(t, err)
	assert.Equal(t, "\"a\u2028b\"", string(got))
}

func TestMarshalCanonical_Rejects(t *testing.T) {
	_, err := MarshalCanonical(IRNull{})
	assert.Error(t, err)

	_, err = MarshalCanonical(IRObject{"f": nil})
	assert.Error(t, err)

	_, err = MarshalCanonical(3.14)
	assert.Error(t, err)
}
