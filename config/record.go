package config

import (
	"maps"
	"slices"
)

// Record is a layer configuration record.
type Record map[string]any

// Clone returns a copy of r. Float slices are copied, other values are shared.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		if f, ok := v.([]float64); ok {
			v = slices.Clone(f)
		}
		out[k] = v
	}
	return out
}

// Keys returns the sorted keys of r.
func (r Record) Keys() []string {
	return slices.Sorted(maps.Keys(r))
}

// Has reports whether key is set.
func (r Record) Has(key string) bool {
	_, ok := r[key]
	return ok
}

// Value returns the raw value for key.
func (r Record) Value(key string) any { return r[key] }

// Int returns an integer value, or 0 if missing.
func (r Record) Int(key string) int {
	v, _ := toInt(r[key])
	return v
}

// Float returns a float value, or 0 if missing.
func (r Record) Float(key string) float64 {
	v, _ := toFloat(r[key])
	return v
}

// String returns a string value, or "" if missing.
func (r Record) String(key string) string {
	v, _ := r[key].(string)
	return v
}

// Bool returns a boolean value, or false if missing.
func (r Record) Bool(key string) bool {
	v, _ := r[key].(bool)
	return v
}

// Floats returns a float sequence, or nil if missing.
func (r Record) Floats(key string) []float64 {
	v, _ := toFloats(r[key])
	return v
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint:
		return int(n), true
	case uint64:
		return int(n), true
	case float64:
		if n == float64(int(n)) {
			return int(n), true
		}
	case float32:
		if n == float32(int(n)) {
			return int(n), true
		}
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

func toFloats(v any) ([]float64, bool) {
	switch s := v.(type) {
	case []float64:
		return s, true
	case []int:
		out := make([]float64, len(s))
		for i, x := range s {
			out[i] = float64(x)
		}
		return out, true
	case []any:
		out := make([]float64, len(s))
		for i, x := range s {
			f, ok := toFloat(x)
			if !ok {
				return nil, false
			}
			out[i] = f
		}
		return out, true
	}
	return nil, false
}
