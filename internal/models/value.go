package models

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// ValueType tags the scalar kind carried by a Value. The tags are persisted
// next to the encoded bytes; never reorder or reuse them.
type ValueType string

const (
	ValueInt    ValueType = "int"
	ValueFloat  ValueType = "float"
	ValueBool   ValueType = "bool"
	ValueString ValueType = "string"
	ValueJSON   ValueType = "json"
)

// Value is a tagged scalar: exactly one representation is active, selected
// by Type. It is immutable once attached to a point.
type Value struct {
	Type ValueType
	Int  int64
	Flt  float64
	Bool bool
	Str  string
	JSON json.RawMessage
}

func IntValue(v int64) Value     { return Value{Type: ValueInt, Int: v} }
func FloatValue(v float64) Value { return Value{Type: ValueFloat, Flt: v} }
func BoolValue(v bool) Value     { return Value{Type: ValueBool, Bool: v} }
func StringValue(v string) Value { return Value{Type: ValueString, Str: v} }
func JSONValue(raw []byte) Value { return Value{Type: ValueJSON, JSON: json.RawMessage(raw)} }

// Encode serializes the scalar to its on-disk text form.
func (v Value) Encode() ([]byte, error) {
	switch v.Type {
	case ValueInt:
		return []byte(strconv.FormatInt(v.Int, 10)), nil
	case ValueFloat:
		return []byte(strconv.FormatFloat(v.Flt, 'g', -1, 64)), nil
	case ValueBool:
		return []byte(strconv.FormatBool(v.Bool)), nil
	case ValueString:
		return []byte(v.Str), nil
	case ValueJSON:
		if !json.Valid(v.JSON) {
			return nil, fmt.Errorf("invalid json value")
		}
		return []byte(v.JSON), nil
	}
	return nil, fmt.Errorf("unknown value type %q", v.Type)
}

// DecodeValue reconstructs a Value from its persisted tag and bytes.
func DecodeValue(tag ValueType, data []byte) (Value, error) {
	switch tag {
	case ValueInt:
		n, err := strconv.ParseInt(string(data), 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("decode int value: %w", err)
		}
		return IntValue(n), nil
	case ValueFloat:
		f, err := strconv.ParseFloat(string(data), 64)
		if err != nil {
			return Value{}, fmt.Errorf("decode float value: %w", err)
		}
		return FloatValue(f), nil
	case ValueBool:
		b, err := strconv.ParseBool(string(data))
		if err != nil {
			return Value{}, fmt.Errorf("decode bool value: %w", err)
		}
		return BoolValue(b), nil
	case ValueString:
		return StringValue(string(data)), nil
	case ValueJSON:
		if !json.Valid(data) {
			return Value{}, fmt.Errorf("decode json value: invalid payload")
		}
		raw := make([]byte, len(data))
		copy(raw, data)
		return JSONValue(raw), nil
	}
	return Value{}, fmt.Errorf("unknown value tag %q", tag)
}

// Numeric returns the scalar as a float64 when it has a numeric reading.
// Bools map to 0/1; strings are parsed when they look like numbers.
func (v Value) Numeric() (float64, bool) {
	switch v.Type {
	case ValueInt:
		return float64(v.Int), true
	case ValueFloat:
		return v.Flt, true
	case ValueBool:
		if v.Bool {
			return 1, true
		}
		return 0, true
	case ValueString:
		if f, err := strconv.ParseFloat(v.Str, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

// String renders the scalar for display and substring matching.
func (v Value) String() string {
	b, err := v.Encode()
	if err != nil {
		return ""
	}
	return string(b)
}

// Equal compares two values by tag and content.
func (v Value) Equal(o Value) bool {
	if v.Type != o.Type {
		return false
	}
	switch v.Type {
	case ValueInt:
		return v.Int == o.Int
	case ValueFloat:
		return v.Flt == o.Flt
	case ValueBool:
		return v.Bool == o.Bool
	case ValueString:
		return v.Str == o.Str
	case ValueJSON:
		return string(v.JSON) == string(o.JSON)
	}
	return false
}
