package config

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
)

// ErrInvalid is matched by every validation error.
var ErrInvalid = errors.New("invalid configuration")

// FieldError describes a rejected key.
type FieldError struct {
	Key    string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Key, e.Reason)
}

func (e *FieldError) Unwrap() error { return ErrInvalid }

// Kind is the value type of a field.
type Kind uint8

const (
	KindInt Kind = iota + 1
	KindFloat
	KindString
	KindBool
	KindFloats
	// KindAny accepts any non-nil value; Field.Check does the validation.
	KindAny
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "integer"
	case KindFloat:
		return "number"
	case KindString:
		return "string"
	case KindBool:
		return "boolean"
	case KindFloats:
		return "number sequence"
	case KindAny:
		return "value"
	}
	return "unknown"
}

// Field describes one recognized key. Fields are built with the
// constructors below and refined with the chaining methods, each of which
// returns a modified copy.
type Field struct {
	Name     string
	Kind     Kind
	required bool
	def      any
	enum     []string
	min, max float64
	bounded  bool
	check    func(any) error
}

func Int(name string) Field    { return Field{Name: name, Kind: KindInt} }
func Float(name string) Field  { return Field{Name: name, Kind: KindFloat} }
func String(name string) Field { return Field{Name: name, Kind: KindString} }
func Bool(name string) Field   { return Field{Name: name, Kind: KindBool} }
func Floats(name string) Field { return Field{Name: name, Kind: KindFloats} }
func Any(name string) Field    { return Field{Name: name, Kind: KindAny} }

// Required marks the field as mandatory.
func (f Field) Required() Field {
	f.required = true
	return f
}

// Default sets the value used when the key is absent.
func (f Field) Default(v any) Field {
	f.def = v
	return f
}

// OneOf restricts a string field to the given values.
func (f Field) OneOf(values ...string) Field {
	f.enum = values
	return f
}

// Range restricts numeric fields (and every element of a sequence) to
// [lo, hi].
func (f Field) Range(lo, hi float64) Field {
	f.min, f.max, f.bounded = lo, hi, true
	return f
}

// Min restricts a numeric field to values >= lo.
func (f Field) Min(lo float64) Field {
	return f.Range(lo, math.Inf(1))
}

// Check adds a custom validation run after the type check.
func (f Field) Check(fn func(any) error) Field {
	f.check = fn
	return f
}

// Schema lists the fields recognized by a layer type.
type Schema []Field

// Field returns the field named key.
func (s Schema) Field(key string) (Field, bool) {
	for _, f := range s {
		if f.Name == key {
			return f, true
		}
	}
	return Field{}, false
}

// Validate checks r and returns a normalized copy with defaults applied and
// values converted to their canonical Go types (int, float64, string, bool,
// []float64). All problems are reported, joined.
func (s Schema) Validate(r Record) (Record, error) {
	var errs []error
	for _, key := range r.Keys() {
		if _, ok := s.Field(key); !ok {
			errs = append(errs, &FieldError{Key: key, Reason: "unknown key"})
		}
	}

	out := make(Record, len(s))
	for _, f := range s {
		raw, present := r[f.Name]
		if !present || raw == nil {
			if f.required {
				errs = append(errs, &FieldError{Key: f.Name, Reason: "required"})
			} else if f.def != nil {
				out[f.Name] = f.def
			}
			continue
		}
		v, err := f.normalize(raw)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out[f.Name] = v
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

func (f Field) normalize(raw any) (any, error) {
	fail := func(format string, args ...any) error {
		return &FieldError{Key: f.Name, Reason: fmt.Sprintf(format, args...)}
	}

	var v any
	switch f.Kind {
	case KindInt:
		n, ok := toInt(raw)
		if !ok {
			return nil, fail("expected %s, got %T", f.Kind, raw)
		}
		if f.bounded && (float64(n) < f.min || float64(n) > f.max) {
			return nil, fail("%d out of range %s", n, f.rangeText())
		}
		v = n
	case KindFloat:
		n, ok := toFloat(raw)
		if !ok || math.IsNaN(n) {
			return nil, fail("expected %s, got %v", f.Kind, raw)
		}
		if f.bounded && (n < f.min || n > f.max) {
			return nil, fail("%g out of range %s", n, f.rangeText())
		}
		v = n
	case KindString:
		s, ok := raw.(string)
		if !ok {
			return nil, fail("expected %s, got %T", f.Kind, raw)
		}
		if len(f.enum) > 0 && !slices.Contains(f.enum, s) {
			return nil, fail("%q is not one of %s", s, strings.Join(f.enum, ", "))
		}
		v = s
	case KindBool:
		b, ok := raw.(bool)
		if !ok {
			return nil, fail("expected %s, got %T", f.Kind, raw)
		}
		v = b
	case KindFloats:
		s, ok := toFloats(raw)
		if !ok {
			return nil, fail("expected %s, got %T", f.Kind, raw)
		}
		s = slices.Clone(s)
		for _, x := range s {
			if math.IsNaN(x) || (f.bounded && (x < f.min || x > f.max)) {
				return nil, fail("element %g out of range %s", x, f.rangeText())
			}
		}
		v = s
	case KindAny:
		v = raw
	default:
		return nil, fail("unsupported field kind")
	}

	if f.check != nil {
		if err := f.check(v); err != nil {
			return nil, fail("%v", err)
		}
	}
	return v, nil
}

func (f Field) rangeText() string {
	if math.IsInf(f.max, 1) {
		return fmt.Sprintf("[%g, inf)", f.min)
	}
	return fmt.Sprintf("[%g, %g]", f.min, f.max)
}
