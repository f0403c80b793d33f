package blobtable

import (
	"fmt"

	"github.com/hupe1980/vistream/storage"
)

// Helpers over the untyped column payloads. All payloads are one of the
// slice types listed by storage.Column.Kind.

func subslice(data any, lo, hi int) any {
	switch v := data.(type) {
	case []float64:
		return v[lo:hi]
	case []float32:
		return v[lo:hi]
	case []int32:
		return v[lo:hi]
	case []bool:
		return v[lo:hi]
	case []complex64:
		return v[lo:hi]
	}
	return nil
}

func concat(col storage.Column, parts []any) (any, error) {
	switch col.Kind() {
	case "[]float64":
		return concatTyped[float64](parts)
	case "[]float32":
		return concatTyped[float32](parts)
	case "[]int32":
		return concatTyped[int32](parts)
	case "[]bool":
		return concatTyped[bool](parts)
	case "[]complex64":
		return concatTyped[complex64](parts)
	}
	return nil, fmt.Errorf("%w: unknown column %q", storage.ErrColumnType, col)
}

func concatTyped[T any](parts []any) ([]T, error) {
	n := 0
	for _, p := range parts {
		s, ok := p.([]T)
		if !ok {
			return nil, fmt.Errorf("%w: block payload %T", storage.ErrCorrupt, p)
		}
		n += len(s)
	}
	out := make([]T, 0, n)
	for _, p := range parts {
		out = append(out, p.([]T)...)
	}
	return out, nil
}

// patch copies src into dst starting at element lo.
func patch(dst any, lo int, src any) error {
	switch d := dst.(type) {
	case []float64:
		return patchTyped(d, lo, src)
	case []float32:
		return patchTyped(d, lo, src)
	case []int32:
		return patchTyped(d, lo, src)
	case []bool:
		return patchTyped(d, lo, src)
	case []complex64:
		return patchTyped(d, lo, src)
	}
	return fmt.Errorf("%w: %T", storage.ErrColumnType, dst)
}

func patchTyped[T any](dst []T, lo int, src any) error {
	s, ok := src.([]T)
	if !ok {
		return fmt.Errorf("%w: payload %T does not match %T", storage.ErrColumnType, src, dst)
	}
	if lo < 0 || lo+len(s) > len(dst) {
		return fmt.Errorf("%w: patch [%d,%d) exceeds block of %d", storage.ErrCorrupt, lo, lo+len(s), len(dst))
	}
	copy(dst[lo:], s)
	return nil
}
