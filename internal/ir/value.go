package ir

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"
	"strconv"
	"strings"
	"unicode/utf16"
)

// IRValue is an event attribute value. The set of implementations is
// closed: IRNull, IRString, IRInt, IRBool, IRArray and IRObject. Floats are
// left out so that attribute payloads hash the same on every host.
type IRValue interface {
	irValue()
}

// IRNull only comes out of decoding stored JSON; publishers cannot send it.
type IRNull struct{}

type (
	IRString string
	IRInt    int64
	IRBool   bool
	IRArray  []IRValue
	IRObject map[string]IRValue
)

func (IRNull) irValue()   {}
func (IRString) irValue() {}
func (IRInt) irValue()    {}
func (IRBool) irValue()   {}
func (IRArray) irValue()  {}
func (IRObject) irValue() {}

func (IRNull) MarshalJSON() ([]byte, error) { return []byte("null"), nil }

var errNull = errors.New("null is forbidden in attributes")

// SortedKeys orders keys by UTF-16 code units (RFC 8785). Plain string
// comparison works on UTF-8 bytes and disagrees outside the BMP.
func (obj IRObject) SortedKeys() []string {
	return slices.SortedFunc(maps.Keys(obj), func(a, b string) int {
		return slices.Compare(utf16.Encode([]rune(a)), utf16.Encode([]rune(b)))
	})
}

// Clone deep-copies obj so a derived event never shares nested arrays or
// objects with its trigger.
func (obj IRObject) Clone() IRObject {
	if obj == nil {
		return nil
	}
	out := make(IRObject, len(obj))
	for k, v := range obj {
		out[k] = deepCopy(v)
	}
	return out
}

func deepCopy(v IRValue) IRValue {
	switch val := v.(type) {
	case IRObject:
		return val.Clone()
	case IRArray:
		out := make(IRArray, len(val))
		for i := range val {
			out[i] = deepCopy(val[i])
		}
		return out
	}
	return v
}

// Native returns obj as plain Go values, the form expr environments take.
func (obj IRObject) Native() map[string]any {
	out := make(map[string]any, len(obj))
	for k, v := range obj {
		out[k] = ToNative(v)
	}
	return out
}

// ToNative maps IRString, IRInt and IRBool to string, int64 and bool, and
// the containers to []any and map[string]any. IRNull becomes nil.
func ToNative(v IRValue) any {
	switch val := v.(type) {
	case IRString:
		return string(val)
	case IRInt:
		return int64(val)
	case IRBool:
		return bool(val)
	case IRObject:
		return val.Native()
	case IRArray:
		out := make([]any, len(val))
		for i := range val {
			out[i] = ToNative(val[i])
		}
		return out
	}
	return nil
}

// FromNative converts an expression result or decoded YAML value into an
// IRValue. nil is rejected. Floats are accepted only when integral, since
// both expr and YAML decoding hand back float64 for whole numbers.
func FromNative(v any) (IRValue, error) {
	return fromAny(v, false)
}

// ObjectFromNative converts every entry of m with FromNative.
func ObjectFromNative(m map[string]any) (IRObject, error) {
	obj := make(IRObject, len(m))
	for k, elem := range m {
		val, err := fromAny(elem, false)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", k, err)
		}
		obj[k] = val
	}
	return obj, nil
}

// fromAny backs both FromNative and JSON decoding. Decoded JSON may carry
// null (as IRNull) and json.Number; native values may not carry null.
func fromAny(v any, decoded bool) (IRValue, error) {
	switch val := v.(type) {
	case nil:
		if decoded {
			return IRNull{}, nil
		}
		return nil, errNull
	case IRValue:
		return val, nil
	case string:
		return IRString(val), nil
	case bool:
		return IRBool(val), nil
	case int:
		return IRInt(val), nil
	case int32:
		return IRInt(val), nil
	case int64:
		return IRInt(val), nil
	case uint:
		return fromUint(uint64(val))
	case uint64:
		return fromUint(val)
	case float32:
		return fromFloat(float64(val))
	case float64:
		return fromFloat(val)
	case json.Number:
		if strings.ContainsAny(string(val), ".eE") {
			return nil, fmt.Errorf("floats are forbidden in attributes: %s", val)
		}
		n, err := val.Int64()
		if err != nil {
			return nil, fmt.Errorf("number out of int64 range: %s", val)
		}
		return IRInt(n), nil
	case []any:
		arr := make(IRArray, len(val))
		for i, elem := range val {
			item, err := fromAny(elem, decoded)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			arr[i] = item
		}
		return arr, nil
	case map[string]any:
		obj := make(IRObject, len(val))
		for k, elem := range val {
			item, err := fromAny(elem, decoded)
			if err != nil {
				return nil, fmt.Errorf("%q: %w", k, err)
			}
			obj[k] = item
		}
		return obj, nil
	}
	return nil, fmt.Errorf("unsupported attribute type: %T", v)
}

func fromUint(n uint64) (IRValue, error) {
	if n > math.MaxInt64 {
		return nil, fmt.Errorf("integer out of range: %d", n)
	}
	return IRInt(n), nil
}

func fromFloat(f float64) (IRValue, error) {
	if math.IsInf(f, 0) || f != math.Trunc(f) || f > math.MaxInt64 || f < math.MinInt64 {
		return nil, fmt.Errorf("floats are forbidden in attributes: %v", f)
	}
	return IRInt(int64(f)), nil
}

// MarshalJSON writes keys in SortedKeys order. Stored and printed events
// use it; content identity uses MarshalCanonical.
func (obj IRObject) MarshalJSON() ([]byte, error) {
	return appendJSON(nil, obj)
}

// MarshalIRValue encodes a single value the way IRObject.MarshalJSON does.
func MarshalIRValue(v IRValue) ([]byte, error) {
	return appendJSON(nil, v)
}

func appendJSON(dst []byte, v IRValue) ([]byte, error) {
	var err error
	switch val := v.(type) {
	case IRNull:
		return append(dst, "null"...), nil
	case IRString:
		b, _ := json.Marshal(string(val))
		return append(dst, b...), nil
	case IRInt:
		return strconv.AppendInt(dst, int64(val), 10), nil
	case IRBool:
		return strconv.AppendBool(dst, bool(val)), nil
	case IRArray:
		dst = append(dst, '[')
		for i, elem := range val {
			if i > 0 {
				dst = append(dst, ',')
			}
			if dst, err = appendJSON(dst, elem); err != nil {
				return nil, fmt.Errorf("array[%d]: %w", i, err)
			}
		}
		return append(dst, ']'), nil
	case IRObject:
		dst = append(dst, '{')
		for i, k := range val.SortedKeys() {
			if i > 0 {
				dst = append(dst, ',')
			}
			key, _ := json.Marshal(k)
			dst = append(append(dst, key...), ':')
			if dst, err = appendJSON(dst, val[k]); err != nil {
				return nil, fmt.Errorf("value for key %q: %w", k, err)
			}
		}
		return append(dst, '}'), nil
	}
	return nil, fmt.Errorf("unknown IRValue type: %T", v)
}

// UnmarshalJSON decodes numbers exactly and rejects floats. null becomes
// IRNull.
func (obj *IRObject) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	out := make(IRObject, len(raw))
	for k, v := range raw {
		val, err := fromAny(v, true)
		if err != nil {
			return fmt.Errorf("IRObject key %q: %w", k, err)
		}
		out[k] = val
	}
	*obj = out
	return nil
}
