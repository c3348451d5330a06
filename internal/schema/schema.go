// Package schema provides small composable validators: a Schema is
// anything with a Validate(value any) (any, error) method, and concrete
// schemas compose rather than branching on ad hoc if-chains.
package schema

import (
	"fmt"
	"sort"
	"strings"
)

// ValidationError is returned by a failing Validate call. Path records the
// nesting (e.g. the field name), built up by callers that embed one schema
// inside another.
type ValidationError struct {
	Message string
	Path    []string
}

func (e *ValidationError) Error() string {
	if len(e.Path) > 0 {
		return fmt.Sprintf("%s at path %v", e.Message, e.Path)
	}
	return e.Message
}

// Schema validates a value, optionally normalizing it.
type Schema interface {
	Validate(value any) (any, error)
}

// StringSchema validates a string value's length and, if OneOf is set,
// membership in a fixed vocabulary — used by config.go for enum-shaped
// config fields (window stacking mode, geometry anchor) instead of a
// hand-rolled switch per field.
type StringSchema struct {
	MinLength int
	MaxLength int
	OneOf     []string
}

func (s *StringSchema) Validate(value any) (any, error) {
	str, ok := value.(string)
	if !ok {
		return nil, &ValidationError{Message: "value is not a string"}
	}
	if s.MinLength > 0 && len(str) < s.MinLength {
		return nil, &ValidationError{Message: fmt.Sprintf("string length %d is less than minimum length %d", len(str), s.MinLength)}
	}
	if s.MaxLength > 0 && len(str) > s.MaxLength {
		return nil, &ValidationError{Message: fmt.Sprintf("string length %d is greater than maximum length %d", len(str), s.MaxLength)}
	}
	if len(s.OneOf) > 0 {
		for _, candidate := range s.OneOf {
			if candidate == str {
				return str, nil
			}
		}
		sorted := append([]string(nil), s.OneOf...)
		sort.Strings(sorted)
		return nil, &ValidationError{Message: fmt.Sprintf("%q is not one of [%s]", str, strings.Join(sorted, ", "))}
	}
	return str, nil
}

// NumberSchema validates a float64-convertible value's range.
type NumberSchema struct {
	Min, Max       float64
	HasMin, HasMax bool
	Integer        bool
}

func (s *NumberSchema) Validate(value any) (any, error) {
	var num float64
	switch v := value.(type) {
	case int:
		num = float64(v)
	case int32:
		num = float64(v)
	case int64:
		num = float64(v)
	case float32:
		num = float64(v)
	case float64:
		num = v
	default:
		return nil, &ValidationError{Message: "value is not a number"}
	}
	if s.HasMin && num < s.Min {
		return nil, &ValidationError{Message: fmt.Sprintf("number %v is less than minimum %v", num, s.Min)}
	}
	if s.HasMax && num > s.Max {
		return nil, &ValidationError{Message: fmt.Sprintf("number %v is greater than maximum %v", num, s.Max)}
	}
	if s.Integer && float64(int64(num)) != num {
		return nil, &ValidationError{Message: "number must be an integer"}
	}
	return num, nil
}

// SetSchema validates that every element of a []string is unique, used for
// checking a widget definition's parameter list has no duplicate names.
type SetSchema struct{}

func (s *SetSchema) Validate(value any) (any, error) {
	names, ok := value.([]string)
	if !ok {
		return nil, &ValidationError{Message: "value is not a []string"}
	}
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if seen[n] {
			return nil, &ValidationError{Message: fmt.Sprintf("duplicate name %q", n)}
		}
		seen[n] = true
	}
	return names, nil
}

// String builds a StringSchema.
func String() *StringSchema { return &StringSchema{} }

// OneOf builds a StringSchema restricted to the given vocabulary.
func OneOf(values ...string) *StringSchema { return &StringSchema{OneOf: values} }

// Number builds a NumberSchema.
func Number() *NumberSchema { return &NumberSchema{} }

// UniqueStrings builds a SetSchema.
func UniqueStrings() *SetSchema { return &SetSchema{} }
