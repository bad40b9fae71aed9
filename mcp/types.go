package mcp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/cockroachdb/errors"
)

// Value is a single tool argument as received from the client.
// It is one of String, Number, Bool, Null, Object or Array.
type Value interface {
	// Interface returns the plain Go representation used for JSON encoding.
	Interface() any
	isValue()
}

type (
	// String is a JSON string argument.
	String string
	// Number is a JSON number argument, kept in its textual form so large
	// identifiers survive decoding without loss.
	Number json.Number
	// Bool is a JSON boolean argument.
	Bool bool
	// Null is an explicit JSON null.
	Null struct{}
	// Object is a JSON object argument.
	Object map[string]Value
	// Array is a JSON array argument.
	Array []Value
)

func (String) isValue() {}
func (Number) isValue() {}
func (Bool) isValue()   {}
func (Null) isValue()   {}
func (Object) isValue() {}
func (Array) isValue()  {}

func (s String) Interface() any { return string(s) }
func (n Number) Interface() any { return json.Number(n) }
func (b Bool) Interface() any   { return bool(b) }
func (Null) Interface() any     { return nil }

func (o Object) Interface() any {
	m := make(map[string]any, len(o))
	for k, v := range o {
		m[k] = v.Interface()
	}
	return m
}

func (a Array) Interface() any {
	s := make([]any, len(a))
	for i, v := range a {
		s[i] = v.Interface()
	}
	return s
}

// Int64 returns the number as an integer if it has no fractional part.
func (n Number) Int64() (int64, bool) {
	if i, err := json.Number(n).Int64(); err == nil {
		return i, true
	}
	f, err := json.Number(n).Float64()
	if err != nil {
		return 0, false
	}
	return floatToInt64(f)
}

// floatToInt64 converts f when it is integral and within int64 range.
func floatToInt64(f float64) (int64, bool) {
	if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

// ValueOf converts a decoded JSON value into a Value.
func ValueOf(v any) Value {
	switch v := v.(type) {
	case nil:
		return Null{}
	case Value:
		return v
	case string:
		return String(v)
	case json.Number:
		return Number(v)
	case float64:
		return Number(strconv.FormatFloat(v, 'f', -1, 64))
	case float32:
		return Number(strconv.FormatFloat(float64(v), 'f', -1, 32))
	case int:
		return Number(strconv.Itoa(v))
	case int64:
		return Number(strconv.FormatInt(v, 10))
	case bool:
		return Bool(v)
	case map[string]any:
		o := make(Object, len(v))
		for k, e := range v {
			o[k] = ValueOf(e)
		}
		return o
	case []any:
		a := make(Array, len(v))
		for i, e := range v {
			a[i] = ValueOf(e)
		}
		return a
	case []string:
		a := make(Array, len(v))
		for i, e := range v {
			a[i] = String(e)
		}
		return a
	default:
		return String(fmt.Sprint(v))
	}
}

// Text renders a scalar value the way it is sent on the wire.
func Text(v Value) string {
	switch v := v.(type) {
	case String:
		return string(v)
	case Number:
		return string(v)
	case Bool:
		return strconv.FormatBool(bool(v))
	case Null, nil:
		return ""
	default:
		data, _ := json.Marshal(v.Interface())
		return string(data)
	}
}

// Arguments maps parameter names to values.
type Arguments map[string]Value

// DecodeArguments parses the raw arguments of a tool call.
// An empty payload or a JSON null yields no arguments.
func DecodeArguments(raw json.RawMessage) (Arguments, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return Arguments{}, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, errors.Wrap(err, "decoding arguments")
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, errors.New("arguments must be a JSON object")
	}

	args := make(Arguments, len(m))
	for k, e := range m {
		args[k] = ValueOf(e)
	}
	return args, nil
}

// Has reports whether name is present with a non-null value.
func (a Arguments) Has(name string) bool {
	v, ok := a[name]
	if !ok {
		return false
	}
	_, null := v.(Null)
	return !null
}

// String returns the wire text of a scalar argument, or "" when absent.
func (a Arguments) String(name string) string {
	if !a.Has(name) {
		return ""
	}
	return Text(a[name])
}

// Strings returns the wire text of each item of an array argument.
func (a Arguments) Strings(name string) []string {
	arr, ok := a[name].(Array)
	if !ok {
		if a.Has(name) {
			return []string{a.String(name)}
		}
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, v := range arr {
		out = append(out, Text(v))
	}
	return out
}

// Names returns the argument names in sorted order.
func (a Arguments) Names() []string {
	names := make([]string, 0, len(a))
	for k := range a {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Interface returns the arguments as plain JSON values.
func (a Arguments) Interface() map[string]any {
	m := make(map[string]any, len(a))
	for k, v := range a {
		m[k] = v.Interface()
	}
	return m
}
