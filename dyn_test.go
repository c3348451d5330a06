package wisp

import "testing"

func TestDyn_EqualNumericVsStructural(t *testing.T) {
	cases := []struct {
		name string
		a, b Dyn
		want bool
	}{
		{"numeric equal with different formatting", FromString("1"), FromString("1.0"), true},
		{"non-numeric strings differ", FromString("1"), FromString("one"), false},
		{"identical text", FromString("hi"), FromString("hi"), true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.a.Equal(c.b); got != c.want {
				t.Errorf("Equal(%q, %q) = %v, want %v", c.a, c.b, got, c.want)
			}
		})
	}
}

func TestDyn_EqualOpaqueStructural(t *testing.T) {
	a, err := FromJSON(map[string]any{"x": 1, "y": "z"})
	if err != nil {
		t.Fatalf("FromJSON a: %v", err)
	}
	b, err := FromJSON(map[string]any{"y": "z", "x": 1})
	if err != nil {
		t.Fatalf("FromJSON b: %v", err)
	}
	if !a.Equal(b) {
		t.Errorf("expected structurally-equal JSON objects to compare equal regardless of key order")
	}
	c, err := FromJSON(map[string]any{"x": 2})
	if err != nil {
		t.Fatalf("FromJSON c: %v", err)
	}
	if a.Equal(c) {
		t.Errorf("expected differing JSON objects to compare unequal")
	}
}

func TestDyn_AsDuration(t *testing.T) {
	cases := []struct {
		in   string
		want int64 // nanoseconds
	}{
		{"500ms", int64(500 * 1e6)},
		{"2s", int64(2 * 1e9)},
		{"3m", int64(3 * 60 * 1e9)},
		{"1h", int64(3600 * 1e9)},
	}
	for _, c := range cases {
		d := FromString(c.in)
		dur, err := d.AsDuration()
		if err != nil {
			t.Fatalf("AsDuration(%q): %v", c.in, err)
		}
		if int64(dur) != c.want {
			t.Errorf("AsDuration(%q) = %d, want %d", c.in, int64(dur), c.want)
		}
	}
}

func TestDyn_AsDurationInvalidSuffix(t *testing.T) {
	_, err := FromString("5x").AsDuration()
	if err == nil {
		t.Fatalf("expected an error for an unrecognized duration suffix")
	}
}

func TestDyn_AsFloat64AndInt32(t *testing.T) {
	f, err := FromString("3.75").AsFloat64()
	if err != nil {
		t.Fatalf("AsFloat64: %v", err)
	}
	if f != 3.75 {
		t.Errorf("AsFloat64 = %v, want 3.75", f)
	}
	i, err := FromString("3.75").AsInt32()
	if err != nil {
		t.Fatalf("AsInt32: %v", err)
	}
	if i != 3 {
		t.Errorf("AsInt32 = %v, want 3 (truncated)", i)
	}
}

func TestDyn_AsBool(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"true", true},
		{"FALSE", false},
		{"1", true},
		{"0", false},
	}
	for _, c := range cases {
		b, err := FromString(c.in).AsBool()
		if err != nil {
			t.Fatalf("AsBool(%q): %v", c.in, err)
		}
		if b != c.want {
			t.Errorf("AsBool(%q) = %v, want %v", c.in, b, c.want)
		}
	}
	if _, err := FromString("banana").AsBool(); err == nil {
		t.Errorf("expected an error for a non-boolean, non-numeric value")
	}
}

func TestDyn_AsJSONValueQuotesBareText(t *testing.T) {
	v, err := FromString("hello").AsJSONValue()
	if err != nil {
		t.Fatalf("AsJSONValue: %v", err)
	}
	s, ok := v.(string)
	if !ok || s != "hello" {
		t.Errorf("AsJSONValue(%q) = %#v, want the bare string", "hello", v)
	}
}
