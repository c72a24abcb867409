package bser

import (
	"bufio"
	"bytes"
	"reflect"
	"testing"
)

func roundTrip(t *testing.T, value interface{}) interface{} {
	t.Helper()

	encoded, err := Encode(value)
	if err != nil {
		t.Fatal("Encode failed:", err)
	}

	decoded, err := Decode(bufio.NewReader(bytes.NewReader(encoded)))
	if err != nil {
		t.Fatal("Decode failed:", err)
	}
	return decoded
}

func TestRoundTripScalars(t *testing.T) {
	cases := []struct {
		name     string
		value    interface{}
		expected interface{}
	}{
		{"nil", nil, nil},
		{"true", true, true},
		{"false", false, false},
		{"string", "hello world", "hello world"},
		{"emptyString", "", ""},
		{"real", 3.25, 3.25},
		{"smallInt", 7, int64(7)},
		{"negativeInt", -100, int64(-100)},
		{"int16Range", 30000, int64(30000)},
		{"int32Range", 100000, int64(100000)},
		{"int64Range", int64(1) << 40, int64(1) << 40},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := roundTrip(t, c.value)
			if !reflect.DeepEqual(got, c.expected) {
				t.Errorf("round trip mismatch: got %#v, want %#v", got, c.expected)
			}
		})
	}
}

func TestRoundTripArray(t *testing.T) {
	value := []interface{}{"watch", "/some/path", int64(1)}
	got := roundTrip(t, value)

	array, ok := got.([]interface{})
	if !ok {
		t.Fatalf("expected []interface{}, got %T", got)
	}
	if len(array) != 3 || array[0] != "watch" || array[1] != "/some/path" || array[2] != int64(1) {
		t.Errorf("array contents mismatch: %#v", array)
	}
}

func TestRoundTripObject(t *testing.T) {
	value := map[string]interface{}{
		"expression": []interface{}{"true"},
		"fields":     []interface{}{"name", "exists"},
	}
	got := roundTrip(t, value)

	fields, ok := got.(map[string]interface{})
	if !ok {
		t.Fatalf("expected map[string]interface{}, got %T", got)
	}
	if len(fields) != 2 {
		t.Fatalf("expected 2 keys, got %d", len(fields))
	}
	expr, ok := fields["expression"].([]interface{})
	if !ok || len(expr) != 1 || expr[0] != "true" {
		t.Errorf("expression field mismatch: %#v", fields["expression"])
	}
}

func TestRoundTripStringSliceConvenience(t *testing.T) {
	got := roundTrip(t, []string{"a", "b", "c"})
	array, ok := got.([]interface{})
	if !ok || len(array) != 3 {
		t.Fatalf("expected a 3-element array, got %#v", got)
	}
	for i, want := range []string{"a", "b", "c"} {
		if array[i] != want {
			t.Errorf("element %d mismatch: got %v, want %v", i, array[i], want)
		}
	}
}

func TestDecodeInvalidMagic(t *testing.T) {
	_, err := Decode(bufio.NewReader(bytes.NewReader([]byte{0xff, 0xff, 0x00})))
	if err == nil {
		t.Fatal("expected an error for an invalid PDU header")
	}
}

func TestEncodeUnsupportedType(t *testing.T) {
	_, err := Encode(struct{ X int }{X: 1})
	if err == nil {
		t.Fatal("expected an error encoding an unsupported type")
	}
}

// TestDecodeTemplateArray exercises Watchman's compressed "array of
// templated objects" form, which Encode never produces but the daemon
// sends for subscription push payloads.
func TestDecodeTemplateArray(t *testing.T) {
	var body []byte
	body = append(body, typeTemplate)

	keys, err := appendValue(nil, []interface{}{"name", "exists"})
	if err != nil {
		t.Fatal(err)
	}
	body = append(body, keys...)

	body = appendInt(body, 2) // row count

	row1, err := appendValue(nil, "a.txt")
	if err != nil {
		t.Fatal(err)
	}
	body = append(body, row1...)
	row1b, err := appendValue(nil, true)
	if err != nil {
		t.Fatal(err)
	}
	body = append(body, row1b...)

	body = append(body, typeSkip)
	row2b, err := appendValue(nil, false)
	if err != nil {
		t.Fatal(err)
	}
	body = append(body, row2b...)

	var pdu []byte
	pdu = append(pdu, headerMagicByte0, headerMagicByte1)
	pdu = append(pdu, appendInt(nil, int64(len(body)))...)
	pdu = append(pdu, body...)

	decoded, err := Decode(bufio.NewReader(bytes.NewReader(pdu)))
	if err != nil {
		t.Fatal("Decode failed:", err)
	}

	rows, ok := decoded.([]interface{})
	if !ok || len(rows) != 2 {
		t.Fatalf("expected a 2-row array, got %#v", decoded)
	}

	first, ok := rows[0].(map[string]interface{})
	if !ok || first["name"] != "a.txt" || first["exists"] != true {
		t.Errorf("first row mismatch: %#v", rows[0])
	}

	second, ok := rows[1].(map[string]interface{})
	if !ok {
		t.Fatalf("second row is not a map: %#v", rows[1])
	}
	if _, hasName := second["name"]; hasName {
		t.Error("a skipped field should not appear in the decoded row")
	}
	if second["exists"] != false {
		t.Errorf("second row exists field mismatch: %#v", second["exists"])
	}
}
