package wisp

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// VarName and AttrName are distinct identifier types so that a variable name
// and an attribute name can never be mixed up at a call site, even though
// both are plain strings underneath.
type VarName string

type AttrName string

// Span is a half-open byte range into the source text an expression or value
// came from, used purely for diagnostics. The zero Span is DummySpan.
type Span struct {
	Start, End int
}

// DummySpan is used for values that were never parsed from source text, such
// as programmatically constructed literals.
var DummySpan = Span{}

// Dyn is the universal runtime value. It is either textual (the common case:
// everything written in a config file is text until something asks for a
// typed view of it) or opaque, an arbitrary JSON value produced by a script
// variable or a JSON-literal expression.
//
// Only one of the two forms is active at a time; Opaque is nil for textual
// values and Text is the empty string for opaque ones (callers should not
// rely on that and should always check IsOpaque first).
type Dyn struct {
	Text   string
	Opaque json.RawMessage
	Span   Span
}

// FromString builds a textual Dyn with no span information.
func FromString(s string) Dyn {
	return Dyn{Text: s}
}

// FromBool builds a textual Dyn representing a boolean.
func FromBool(b bool) Dyn {
	return Dyn{Text: strconv.FormatBool(b)}
}

// FromFloat builds a textual Dyn representing a number, trimming trailing
// zeroes so whole numbers print without a fractional part.
func FromFloat(f float64) Dyn {
	return Dyn{Text: strconv.FormatFloat(f, 'f', -1, 64)}
}

// FromJSON marshals v to JSON and wraps the encoding as an opaque Dyn.
func FromJSON(v any) (Dyn, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return Dyn{}, fmt.Errorf("wisp: marshalling opaque value: %w", err)
	}
	return Dyn{Opaque: raw}, nil
}

// At returns a copy of the value tagged with the given span, used when an
// expression evaluates a sub-expression and wants the result attributed to
// the enclosing node for error reporting.
func (d Dyn) At(span Span) Dyn {
	d.Span = span
	return d
}

// IsOpaque reports whether the value is a JSON payload rather than text.
func (d Dyn) IsOpaque() bool {
	return d.Opaque != nil
}

// AsString returns the textual representation: the literal text for textual
// values, or the compact JSON encoding for opaque ones.
func (d Dyn) AsString() (string, error) {
	if d.IsOpaque() {
		return string(d.Opaque), nil
	}
	return d.Text, nil
}

// String implements fmt.Stringer for diagnostics and logging.
func (d Dyn) String() string {
	s, _ := d.AsString()
	return s
}

// ConversionError is returned by Dyn's typed-view accessors when the
// underlying text cannot be interpreted as the requested type.
type ConversionError struct {
	Value  string
	Target string
	Span   Span
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("cannot convert %q to %s", e.Value, e.Target)
}

// AsFloat64 parses the textual value as a float64. Opaque values that hold a
// bare JSON number also convert.
func (d Dyn) AsFloat64() (float64, error) {
	if d.IsOpaque() {
		var f float64
		if err := json.Unmarshal(d.Opaque, &f); err == nil {
			return f, nil
		}
		return 0, &ConversionError{Value: string(d.Opaque), Target: "f64", Span: d.Span}
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(d.Text), 64)
	if err != nil {
		return 0, &ConversionError{Value: d.Text, Target: "f64", Span: d.Span}
	}
	return f, nil
}

// AsInt32 truncates AsFloat64 to an int32, matching the original
// implementation's "numbers are floats until someone needs an index" model.
func (d Dyn) AsInt32() (int32, error) {
	f, err := d.AsFloat64()
	if err != nil {
		return 0, &ConversionError{Value: d.Text, Target: "i32", Span: d.Span}
	}
	return int32(f), nil
}

// AsBool interprets "true"/"false" (case-insensitive); any other value that
// parses as a non-zero number is also considered true, matching common
// config-language leniency.
func (d Dyn) AsBool() (bool, error) {
	s := strings.TrimSpace(d.Text)
	if !d.IsOpaque() {
		switch strings.ToLower(s) {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
	}
	if f, err := d.AsFloat64(); err == nil {
		return f != 0, nil
	}
	return false, &ConversionError{Value: d.Text, Target: "bool", Span: d.Span}
}

// AsDuration parses a numeric prefix followed by one of the suffixes ms, s,
// m, h. Any other suffix, or a missing one, is an error.
func (d Dyn) AsDuration() (time.Duration, error) {
	s := strings.TrimSpace(d.Text)
	for _, suf := range []struct {
		suffix string
		unit   time.Duration
	}{
		{"ms", time.Millisecond},
		{"s", time.Second},
		{"m", time.Minute},
		{"h", time.Hour},
	} {
		if strings.HasSuffix(s, suf.suffix) {
			numPart := strings.TrimSuffix(s, suf.suffix)
			n, err := strconv.ParseFloat(numPart, 64)
			if err != nil {
				return 0, &ConversionError{Value: d.Text, Target: "duration", Span: d.Span}
			}
			return time.Duration(n * float64(suf.unit)), nil
		}
	}
	return 0, &ConversionError{Value: d.Text, Target: "duration", Span: d.Span}
}

// AsJSONValue decodes the value as an arbitrary JSON value, quoting textual
// values as JSON strings first if they don't already parse as JSON.
func (d Dyn) AsJSONValue() (any, error) {
	var v any
	raw := d.Opaque
	if raw == nil {
		raw = json.RawMessage(d.Text)
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		// Fall back to treating the text as a bare JSON string literal.
		quoted, mErr := json.Marshal(d.Text)
		if mErr != nil {
			return nil, &ConversionError{Value: d.Text, Target: "json", Span: d.Span}
		}
		if err := json.Unmarshal(quoted, &v); err != nil {
			return nil, &ConversionError{Value: d.Text, Target: "json", Span: d.Span}
		}
	}
	return v, nil
}

// Equal compares two Dyn values: numerically if both parse as f64, otherwise
// structurally (opaque JSON equality falls back to comparing canonicalized
// encodings; textual values compare as strings).
func (d Dyn) Equal(other Dyn) bool {
	if af, aerr := d.AsFloat64(); aerr == nil {
		if bf, berr := other.AsFloat64(); berr == nil {
			return af == bf
		}
	}
	if d.IsOpaque() || other.IsOpaque() {
		av, aerr := d.AsJSONValue()
		bv, berr := other.AsJSONValue()
		if aerr != nil || berr != nil {
			return d.String() == other.String()
		}
		aCanon, _ := json.Marshal(av)
		bCanon, _ := json.Marshal(bv)
		return string(aCanon) == string(bCanon)
	}
	return d.Text == other.Text
}
