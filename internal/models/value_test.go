package models

import (
	"testing"
)

func TestValueEncodeDecodeRoundTrip(t *testing.T) {
	cases := []struct {
		name  string
		value Value
	}{
		{"int", IntValue(-42)},
		{"float", FloatValue(3.25)},
		{"bool", BoolValue(true)},
		{"string", StringValue("healthy")},
		{"json", JSONValue([]byte(`{"rssi":-61.5,"band":"5GHz"}`))},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := tc.value.Encode()
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			got, err := DecodeValue(tc.value.Type, data)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if !got.Equal(tc.value) {
				t.Fatalf("round trip mismatch: got %v want %v", got, tc.value)
			}
		})
	}
}

func TestDecodeValueRejectsGarbage(t *testing.T) {
	if _, err := DecodeValue(ValueInt, []byte("not a number")); err == nil {
		t.Fatal("expected error decoding garbage int")
	}
	if _, err := DecodeValue(ValueFloat, []byte("")); err == nil {
		t.Fatal("expected error decoding empty float")
	}
	if _, err := DecodeValue(ValueType("unknown"), []byte("x")); err == nil {
		t.Fatal("expected error for unknown value type")
	}
}

func TestNumeric(t *testing.T) {
	if v, ok := IntValue(7).Numeric(); !ok || v != 7 {
		t.Fatalf("int numeric = %v, %v", v, ok)
	}
	if v, ok := FloatValue(1.5).Numeric(); !ok || v != 1.5 {
		t.Fatalf("float numeric = %v, %v", v, ok)
	}
	if v, ok := BoolValue(true).Numeric(); !ok || v != 1 {
		t.Fatalf("true should be 1, got %v, %v", v, ok)
	}
	if v, ok := BoolValue(false).Numeric(); !ok || v != 0 {
		t.Fatalf("false should be 0, got %v, %v", v, ok)
	}
	if v, ok := StringValue("42.5").Numeric(); !ok || v != 42.5 {
		t.Fatalf("numeric string should parse, got %v, %v", v, ok)
	}
	if _, ok := StringValue("degraded").Numeric(); ok {
		t.Fatal("non-numeric string must not be numeric")
	}
	if _, ok := JSONValue([]byte(`{"a":1}`)).Numeric(); ok {
		t.Fatal("json value must not be numeric")
	}
}

func TestFamilyEnabled(t *testing.T) {
	d := Device{ID: "d1", Kind: DeviceGeneric}
	if !d.FamilyEnabled(FamilySecurity) {
		t.Fatal("empty family set must enable everything")
	}

	d.Families = map[MetricFamily]bool{FamilyConnectivity: true}
	if !d.FamilyEnabled(FamilyConnectivity) {
		t.Fatal("listed family must be enabled")
	}
	if d.FamilyEnabled(FamilyDocsis) {
		t.Fatal("unlisted family must be disabled")
	}
}
