package storage

import (
	"fmt"
)

// Column names a stored column.
type Column string

const (
	ColTime           Column = "TIME"
	ColInterval       Column = "INTERVAL"
	ColAntenna1       Column = "ANTENNA1"
	ColAntenna2       Column = "ANTENNA2"
	ColFieldID        Column = "FIELD_ID"
	ColSpectralWindow Column = "SPECTRAL_WINDOW"
	ColUVW            Column = "UVW"
	ColWeight         Column = "WEIGHT"
	ColFlagRow        Column = "FLAG_ROW"
	ColData           Column = "DATA"
	ColFlag           Column = "FLAG"
)

// AllColumns lists every column in storage order.
var AllColumns = []Column{
	ColTime, ColInterval, ColAntenna1, ColAntenna2, ColFieldID, ColSpectralWindow,
	ColUVW, ColWeight, ColFlagRow, ColData, ColFlag,
}

// KeyColumns are the columns needed to determine chunk boundaries.
var KeyColumns = []Column{ColTime, ColFieldID, ColSpectralWindow}

// Shape classifies how many values a column stores per row.
type Shape uint8

const (
	// Scalar columns store one value per row.
	Scalar Shape = iota
	// Triple columns store three values per row (UVW).
	Triple
	// PerPol columns store one value per polarization (WEIGHT).
	PerPol
	// Cube columns store P*C values per row (DATA, FLAG).
	Cube
)

// Shape returns the per-row layout of the column.
func (c Column) Shape() Shape {
	switch c {
	case ColUVW:
		return Triple
	case ColWeight:
		return PerPol
	case ColData, ColFlag:
		return Cube
	default:
		return Scalar
	}
}

// Kind returns a short name of the Go slice type carried by the column.
func (c Column) Kind() string {
	switch c {
	case ColTime, ColInterval, ColUVW:
		return "[]float64"
	case ColAntenna1, ColAntenna2, ColFieldID, ColSpectralWindow:
		return "[]int32"
	case ColWeight:
		return "[]float32"
	case ColFlagRow, ColFlag:
		return "[]bool"
	case ColData:
		return "[]complex64"
	default:
		return "unknown"
	}
}

// Valid reports whether c is a known column.
func (c Column) Valid() bool { return c.Kind() != "unknown" }

// Columns carries column data for a contiguous range of rows. Columns that
// were not requested are nil.
type Columns struct {
	Rows RowRange

	Time           []float64
	Interval       []float64
	Antenna1       []int32
	Antenna2       []int32
	FieldID        []int32
	SpectralWindow []int32
	UVW            []float64
	Weight         []float32
	FlagRow        []bool
	Data           []complex64
	Flag           []bool
}

// Len returns the number of rows carried. When Rows is unset the length of
// the TIME column is used.
func (c *Columns) Len() int {
	if n := c.Rows.Len(); n > 0 {
		return n
	}
	return len(c.Time)
}

// Get returns the column payload as an untyped slice.
func (c *Columns) Get(col Column) any {
	switch col {
	case ColTime:
		return c.Time
	case ColInterval:
		return c.Interval
	case ColAntenna1:
		return c.Antenna1
	case ColAntenna2:
		return c.Antenna2
	case ColFieldID:
		return c.FieldID
	case ColSpectralWindow:
		return c.SpectralWindow
	case ColUVW:
		return c.UVW
	case ColWeight:
		return c.Weight
	case ColFlagRow:
		return c.FlagRow
	case ColData:
		return c.Data
	case ColFlag:
		return c.Flag
	}
	return nil
}

// Set stores an untyped payload, checking its Go type.
func (c *Columns) Set(col Column, data any) error {
	ok := true
	switch col {
	case ColTime:
		c.Time, ok = data.([]float64)
	case ColInterval:
		c.Interval, ok = data.([]float64)
	case ColAntenna1:
		c.Antenna1, ok = data.([]int32)
	case ColAntenna2:
		c.Antenna2, ok = data.([]int32)
	case ColFieldID:
		c.FieldID, ok = data.([]int32)
	case ColSpectralWindow:
		c.SpectralWindow, ok = data.([]int32)
	case ColUVW:
		c.UVW, ok = data.([]float64)
	case ColWeight:
		c.Weight, ok = data.([]float32)
	case ColFlagRow:
		c.FlagRow, ok = data.([]bool)
	case ColData:
		c.Data, ok = data.([]complex64)
	case ColFlag:
		c.Flag, ok = data.([]bool)
	default:
		return fmt.Errorf("%w: unknown column %q", ErrColumnType, col)
	}
	if !ok {
		return fmt.Errorf("%w: column %s expects %s, got %T", ErrColumnType, col, col.Kind(), data)
	}
	return nil
}

// PayloadLen returns the length of an untyped column payload.
func PayloadLen(data any) (int, bool) {
	switch v := data.(type) {
	case []float64:
		return len(v), true
	case []float32:
		return len(v), true
	case []int32:
		return len(v), true
	case []bool:
		return len(v), true
	case []complex64:
		return len(v), true
	}
	return 0, false
}

// ExpectedLen returns the payload length of col for rows whose spectral
// windows are spws.
func (s Schema) ExpectedLen(col Column, spws []int32) (int, error) {
	n := len(spws)
	switch col.Shape() {
	case Triple:
		return 3 * n, nil
	case PerPol:
		return s.NumPol * n, nil
	case Cube:
		total := 0
		for _, spw := range spws {
			l, err := s.CubeLen(spw)
			if err != nil {
				return 0, err
			}
			total += l
		}
		return total, nil
	}
	return n, nil
}

// CheckLen validates the length of a typed payload for col.
func (s Schema) CheckLen(col Column, data any, spws []int32) error {
	got, ok := PayloadLen(data)
	if !ok {
		return fmt.Errorf("%w: unsupported payload type %T", ErrColumnType, data)
	}
	want, err := s.ExpectedLen(col, spws)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("%w: column %s has %d values, want %d", ErrColumnType, col, got, want)
	}
	return nil
}

// Validate checks that every populated column of c matches the schema.
// SpectralWindow must be present when a cube column is.
func (c *Columns) Validate(s Schema) error {
	n := c.Len()
	for _, col := range AllColumns {
		data := c.Get(col)
		l, _ := PayloadLen(data)
		if isNil(data) {
			continue
		}
		if col.Shape() == Cube {
			if len(c.SpectralWindow) != n {
				return fmt.Errorf("%w: column %s present without SPECTRAL_WINDOW", ErrColumnType, col)
			}
			if err := s.CheckLen(col, data, c.SpectralWindow); err != nil {
				return err
			}
			continue
		}
		want, _ := s.ExpectedLen(col, make([]int32, n))
		if l != want {
			return fmt.Errorf("%w: column %s has %d values, want %d", ErrColumnType, col, l, want)
		}
	}
	return nil
}

func isNil(data any) bool {
	switch v := data.(type) {
	case nil:
		return true
	case []float64:
		return v == nil
	case []float32:
		return v == nil
	case []int32:
		return v == nil
	case []bool:
		return v == nil
	case []complex64:
		return v == nil
	}
	return true
}
